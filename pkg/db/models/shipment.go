package models

import (
	"time"

	"github.com/google/uuid"
)

// Shipment links an order to its carrier order. Created by the shipment
// coordinator; carrier webhooks stamp the status timestamps.
type Shipment struct {
	ID                uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID  `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	CarrierOrderID    string     `gorm:"column:carrier_order_id;type:text;not null;index"`
	CarrierShipmentID string     `gorm:"column:carrier_shipment_id;type:text;not null;index"`
	Waybill           *string    `gorm:"column:waybill;type:text;index"`
	CourierID         *int       `gorm:"column:courier_id"`
	CourierName       *string    `gorm:"column:courier_name;type:text"`
	PickupScheduled   bool       `gorm:"column:pickup_scheduled;not null;default:false"`
	ShippedAt         *time.Time `gorm:"column:shipped_at"`
	DeliveredAt       *time.Time `gorm:"column:delivered_at"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
