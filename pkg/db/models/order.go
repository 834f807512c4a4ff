package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mehtakaran/shopline-backend/pkg/enums"
	"github.com/mehtakaran/shopline-backend/pkg/types"
)

// Order is the canonical order row. Status moves only through the state
// machine in internal/orders; rows are never deleted so invoices and audits
// can always resolve them.
type Order struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber     string            `gorm:"column:order_number;type:text;not null;uniqueIndex"`
	CustomerID      uuid.UUID         `gorm:"column:customer_id;type:uuid;not null;index"`
	Status          enums.OrderStatus `gorm:"column:status;type:text;not null;default:'PENDING'"`
	SubtotalPaise   int               `gorm:"column:subtotal_paise;not null"`
	DiscountPaise   int               `gorm:"column:discount_paise;not null;default:0"`
	ShippingPaise   int               `gorm:"column:shipping_paise;not null;default:0"`
	TotalPaise      int               `gorm:"column:total_paise;not null"`
	CouponCode      *string           `gorm:"column:coupon_code;type:text"`
	ShippingAddress types.Address     `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	BillingAddress  types.Address     `gorm:"column:billing_address;type:jsonb;serializer:json"`
	Items           []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payment         *Payment          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Shipment        *Shipment         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderItem captures a purchased line with the unit price frozen at order
// time; it is never recomputed from the live catalog.
type OrderItem struct {
	ID             uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID  `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID      uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	VariantID      *uuid.UUID `gorm:"column:variant_id;type:uuid"`
	WarehouseID    uuid.UUID  `gorm:"column:warehouse_id;type:uuid;not null"`
	Name           string     `gorm:"column:name;type:text;not null"`
	Qty            int        `gorm:"column:qty;not null"`
	UnitPricePaise int        `gorm:"column:unit_price_paise;not null"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// LineTotalPaise returns the captured line total.
func (i OrderItem) LineTotalPaise() int {
	return i.UnitPricePaise * i.Qty
}
