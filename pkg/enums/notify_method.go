package enums

import "fmt"

// NotifyMethod names the transport used to reach a supplier.
type NotifyMethod string

const (
	NotifyMethodHTTP   NotifyMethod = "http"
	NotifyMethodPubSub NotifyMethod = "pubsub"
)

var validNotifyMethods = []NotifyMethod{
	NotifyMethodHTTP,
	NotifyMethodPubSub,
}

// String implements fmt.Stringer.
func (n NotifyMethod) String() string {
	return string(n)
}

// IsValid reports whether the value is a known NotifyMethod.
func (n NotifyMethod) IsValid() bool {
	for _, candidate := range validNotifyMethods {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotifyMethod converts raw input into a NotifyMethod.
func ParseNotifyMethod(value string) (NotifyMethod, error) {
	for _, candidate := range validNotifyMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notify method %q", value)
}
