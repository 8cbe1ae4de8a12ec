package types

import (
	"fmt"
	"strings"
)

// Address is the delivery address snapshot stored on each order.
type Address struct {
	Line1      string  `json:"line1" validate:"required"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city" validate:"required"`
	State      string  `json:"state" validate:"required"`
	PostalCode string  `json:"postal_code" validate:"required"`
	Country    string  `json:"country,omitempty"`
}

// Validate checks required address fields outside of struct-tag validation,
// for callers that build addresses programmatically.
func (a Address) Validate() error {
	if strings.TrimSpace(a.Line1) == "" {
		return fmt.Errorf("address: missing line1")
	}
	if strings.TrimSpace(a.City) == "" {
		return fmt.Errorf("address: missing city")
	}
	if strings.TrimSpace(a.State) == "" {
		return fmt.Errorf("address: missing state")
	}
	if strings.TrimSpace(a.PostalCode) == "" {
		return fmt.Errorf("address: missing postal_code")
	}
	return nil
}

// Normalized returns the address with a default country applied.
func (a Address) Normalized() Address {
	out := a
	if strings.TrimSpace(out.Country) == "" {
		out.Country = "BR"
	}
	return out
}
