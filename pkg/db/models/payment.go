package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mehtakaran/shopline-backend/pkg/enums"
)

// Payment tracks gateway progress for an order. One row per order, created
// when checkout opens a gateway intent; mutated only by signature-verified
// webhooks or the coordinator's own verification call.
type Payment struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	GatewayOrderID    string              `gorm:"column:gateway_order_id;type:text;not null;index"`
	GatewayPaymentID  *string             `gorm:"column:gateway_payment_id;type:text;index"`
	GatewayRefundID   *string             `gorm:"column:gateway_refund_id;type:text"`
	Method            enums.PaymentMethod `gorm:"column:method;type:text;not null"`
	Status            enums.PaymentStatus `gorm:"column:status;type:text;not null;default:'PENDING'"`
	AmountPaise       int                 `gorm:"column:amount_paise;not null"`
	RefundAmountPaise int                 `gorm:"column:refund_amount_paise;not null;default:0"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
