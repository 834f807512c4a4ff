package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder    OutboxAggregateType = "order"
	AggregatePayment  OutboxAggregateType = "payment"
	AggregateShipment OutboxAggregateType = "shipment"
	AggregateReturn   OutboxAggregateType = "return"
	AggregateStock    OutboxAggregateType = "stock"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePayment,
	AggregateShipment,
	AggregateReturn,
	AggregateStock,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated      OutboxEventType = "order_created"
	EventOrderPaid         OutboxEventType = "order_paid"
	EventPaymentFailed     OutboxEventType = "payment_failed"
	EventOrderShipped      OutboxEventType = "order_shipped"
	EventOrderDelivered    OutboxEventType = "order_delivered"
	EventOrderCancelled    OutboxEventType = "order_cancelled"
	EventRefundRecorded    OutboxEventType = "refund_recorded"
	EventReturnRequested   OutboxEventType = "return_requested"
	EventReturnReceived    OutboxEventType = "return_received"
	EventReturnRefunded    OutboxEventType = "return_refunded"
	EventStockLowWatermark OutboxEventType = "stock_low_watermark"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventPaymentFailed,
	EventOrderShipped,
	EventOrderDelivered,
	EventOrderCancelled,
	EventRefundRecorded,
	EventReturnRequested,
	EventReturnReceived,
	EventReturnRefunded,
	EventStockLowWatermark,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
