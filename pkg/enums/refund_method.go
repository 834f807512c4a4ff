package enums

import "fmt"

// RefundMethod identifies how a return is paid back to the customer.
type RefundMethod string

const (
	RefundMethodOriginalPayment RefundMethod = "ORIGINAL_PAYMENT"
	RefundMethodBankTransfer    RefundMethod = "BANK_TRANSFER"
)

var validRefundMethods = []RefundMethod{
	RefundMethodOriginalPayment,
	RefundMethodBankTransfer,
}

// String implements fmt.Stringer.
func (r RefundMethod) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundMethod.
func (r RefundMethod) IsValid() bool {
	for _, candidate := range validRefundMethods {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRefundMethod converts raw input into a RefundMethod.
func ParseRefundMethod(value string) (RefundMethod, error) {
	for _, candidate := range validRefundMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund method %q", value)
}
