package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mehtakaran/shopline-backend/pkg/enums"
)

// Stock is the materialized counter per (product, variant, warehouse).
// The adjustment log is the source of truth; the counter is a cache of the
// running sum, clamped at zero.
type Stock struct {
	ID                uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	ProductID         uuid.UUID  `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_stock_key"`
	VariantID         *uuid.UUID `gorm:"column:variant_id;type:uuid;uniqueIndex:ux_stock_key"`
	WarehouseID       uuid.UUID  `gorm:"column:warehouse_id;type:uuid;not null;uniqueIndex:ux_stock_key"`
	Quantity          int        `gorm:"column:quantity;not null;default:0"`
	LowStockThreshold int        `gorm:"column:low_stock_threshold;not null;default:5"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// StockAdjustment is the append-only ledger entry. Delta records the
// requested change verbatim even when the counter clamps at zero. The
// unique (stock_id, reference_id, reason) triple makes a retried adjustment
// for the same logical event a no-op.
type StockAdjustment struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	StockID     uuid.UUID         `gorm:"column:stock_id;type:uuid;not null;uniqueIndex:ux_stock_adjustments_ref_reason"`
	Delta       int               `gorm:"column:delta;not null"`
	Reason      enums.StockReason `gorm:"column:reason;type:text;not null;uniqueIndex:ux_stock_adjustments_ref_reason"`
	ReferenceID uuid.UUID         `gorm:"column:reference_id;type:uuid;not null;uniqueIndex:ux_stock_adjustments_ref_reason"`
	Actor       string            `gorm:"column:actor;type:text;not null"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
}
