package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mehtakaran/shopline-backend/pkg/enums"
)

// Return is the saga row layered on a delivered order. The item set and
// refund amount are fixed at creation; only the status moves.
type Return struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	CustomerID        uuid.UUID          `gorm:"column:customer_id;type:uuid;not null;index"`
	Status            enums.ReturnStatus `gorm:"column:status;type:text;not null;default:'PENDING'"`
	RefundMethod      enums.RefundMethod `gorm:"column:refund_method;type:text;not null"`
	RefundAmountPaise int                `gorm:"column:refund_amount_paise;not null"`
	Reason            string             `gorm:"column:reason;type:text;not null"`
	Items             []ReturnItem       `gorm:"foreignKey:ReturnID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// ReturnItem points back at the purchased line it reverses.
type ReturnItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ReturnID       uuid.UUID `gorm:"column:return_id;type:uuid;not null;index"`
	OrderItemID    uuid.UUID `gorm:"column:order_item_id;type:uuid;not null;index"`
	Qty            int       `gorm:"column:qty;not null"`
	UnitPricePaise int       `gorm:"column:unit_price_paise;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
