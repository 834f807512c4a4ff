package enums

import "fmt"

// StockReason explains why a stock adjustment was recorded.
type StockReason string

const (
	StockReasonOrderReserved  StockReason = "ORDER_RESERVED"
	StockReasonOrderCancelled StockReason = "ORDER_CANCELLED"
	StockReasonReturnReceived StockReason = "RETURN_RECEIVED"
	StockReasonManual         StockReason = "MANUAL"
	StockReasonRestock        StockReason = "RESTOCK"
)

var validStockReasons = []StockReason{
	StockReasonOrderReserved,
	StockReasonOrderCancelled,
	StockReasonReturnReceived,
	StockReasonManual,
	StockReasonRestock,
}

// String implements fmt.Stringer.
func (s StockReason) String() string {
	return string(s)
}

// IsValid reports whether the value is a known StockReason.
func (s StockReason) IsValid() bool {
	for _, candidate := range validStockReasons {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseStockReason converts raw input into a StockReason.
func ParseStockReason(value string) (StockReason, error) {
	for _, candidate := range validStockReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stock reason %q", value)
}
