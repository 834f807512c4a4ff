package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/mehtakaran/shopline-backend/pkg/enums"
)

// OrderCreatedEvent signals a checkout that reserved stock and is awaiting payment.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID           `json:"order_id"`
	OrderNumber string              `json:"order_number"`
	CustomerID  uuid.UUID           `json:"customer_id"`
	Method      enums.PaymentMethod `json:"method"`
	TotalPaise  int                 `json:"total_paise"`
}

// OrderPaidEvent is emitted exactly once when a payment is captured for an order.
type OrderPaidEvent struct {
	OrderID          uuid.UUID `json:"order_id"`
	OrderNumber      string    `json:"order_number"`
	CustomerID       uuid.UUID `json:"customer_id"`
	PaymentID        uuid.UUID `json:"payment_id"`
	GatewayPaymentID string    `json:"gateway_payment_id"`
	AmountPaise      int       `json:"amount_paise"`
}

// PaymentFailedEvent reports a failed gateway attempt against an order.
type PaymentFailedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	CustomerID  uuid.UUID `json:"customer_id"`
	PaymentID   uuid.UUID `json:"payment_id"`
	Description string    `json:"description,omitempty"`
}

// OrderShippedEvent is emitted when the carrier confirms a shipment left the warehouse.
type OrderShippedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	CustomerID  uuid.UUID `json:"customer_id"`
	Waybill     string    `json:"waybill"`
	CourierName string    `json:"courier_name,omitempty"`
}

// OrderDeliveredEvent is emitted when the carrier reports delivery.
type OrderDeliveredEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	CustomerID  uuid.UUID `json:"customer_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// OrderCancelledEvent carries the cancellation outcome for downstream consumers.
type OrderCancelledEvent struct {
	OrderID          uuid.UUID `json:"order_id"`
	OrderNumber      string    `json:"order_number"`
	CustomerID       uuid.UUID `json:"customer_id"`
	CancelledAt      time.Time `json:"cancelled_at"`
	Reason           string    `json:"reason,omitempty"`
	CarrierCancelled bool      `json:"carrier_cancelled"`
	RefundProcessed  bool      `json:"refund_processed"`
}

// RefundRecordedEvent reports a refund applied against a captured payment.
type RefundRecordedEvent struct {
	OrderID         uuid.UUID `json:"order_id"`
	PaymentID       uuid.UUID `json:"payment_id"`
	CustomerID      uuid.UUID `json:"customer_id"`
	AmountPaise     int       `json:"amount_paise"`
	GatewayRefundID string    `json:"gateway_refund_id,omitempty"`
}

// ReturnRequestedEvent signals a new return awaiting review.
type ReturnRequestedEvent struct {
	ReturnID          uuid.UUID `json:"return_id"`
	OrderID           uuid.UUID `json:"order_id"`
	CustomerID        uuid.UUID `json:"customer_id"`
	RefundAmountPaise int       `json:"refund_amount_paise"`
	Reason            string    `json:"reason,omitempty"`
}

// ReturnReceivedEvent is emitted once returned goods are checked back into stock.
type ReturnReceivedEvent struct {
	ReturnID   uuid.UUID `json:"return_id"`
	OrderID    uuid.UUID `json:"order_id"`
	CustomerID uuid.UUID `json:"customer_id"`
}

// ReturnRefundedEvent closes a return saga after the refund settles.
type ReturnRefundedEvent struct {
	ReturnID          uuid.UUID          `json:"return_id"`
	OrderID           uuid.UUID          `json:"order_id"`
	CustomerID        uuid.UUID          `json:"customer_id"`
	RefundAmountPaise int                `json:"refund_amount_paise"`
	RefundMethod      enums.RefundMethod `json:"refund_method"`
}

// StockLowWatermarkEvent fires when an adjustment leaves quantity at or below threshold.
type StockLowWatermarkEvent struct {
	StockID     uuid.UUID  `json:"stock_id"`
	ProductID   uuid.UUID  `json:"product_id"`
	VariantID   *uuid.UUID `json:"variant_id,omitempty"`
	WarehouseID uuid.UUID  `json:"warehouse_id"`
	Quantity    int        `json:"quantity"`
	Threshold   int        `json:"threshold"`
}
