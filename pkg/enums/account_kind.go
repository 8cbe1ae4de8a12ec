package enums

import "fmt"

// AccountKind distinguishes credentialed accounts from guest identities
// auto-provisioned during checkout.
type AccountKind string

const (
	AccountKindCredentialed AccountKind = "credentialed"
	AccountKindGuest        AccountKind = "guest"
	AccountKindAdmin        AccountKind = "admin"
)

var validAccountKinds = []AccountKind{
	AccountKindCredentialed,
	AccountKindGuest,
	AccountKindAdmin,
}

// String implements fmt.Stringer.
func (a AccountKind) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AccountKind.
func (a AccountKind) IsValid() bool {
	for _, candidate := range validAccountKinds {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAccountKind converts raw input into an AccountKind.
func ParseAccountKind(value string) (AccountKind, error) {
	for _, candidate := range validAccountKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid account kind %q", value)
}
