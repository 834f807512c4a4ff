package types

import "strings"

// Address is the immutable address snapshot stored on orders as jsonb.
// Orders keep their own copy so later edits to a customer's address book
// never rewrite history.
type Address struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Validate reports the first missing required field, or "".
func (a Address) Validate() string {
	switch {
	case strings.TrimSpace(a.Name) == "":
		return "name"
	case strings.TrimSpace(a.Phone) == "":
		return "phone"
	case strings.TrimSpace(a.Line1) == "":
		return "line1"
	case strings.TrimSpace(a.City) == "":
		return "city"
	case strings.TrimSpace(a.State) == "":
		return "state"
	case strings.TrimSpace(a.PostalCode) == "":
		return "postal_code"
	}
	return ""
}
