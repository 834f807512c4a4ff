package stock

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mehtakaran/shopline-backend/pkg/db/models"
	"github.com/mehtakaran/shopline-backend/pkg/enums"
)

// Repository defines persistence operations for stock rows and their ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByKey(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID, warehouseID uuid.UUID) (*models.Stock, error)
	Create(ctx context.Context, stock *models.Stock) error
	ApplyDelta(ctx context.Context, stockID uuid.UUID, delta int) (int, error)
	InsertAdjustment(ctx context.Context, adjustment *models.StockAdjustment) error
	AdjustmentExists(ctx context.Context, stockID, referenceID uuid.UUID, reason enums.StockReason) (bool, error)
	ListAdjustments(ctx context.Context, stockID uuid.UUID) ([]models.StockAdjustment, error)
	ListBelowThreshold(ctx context.Context) ([]models.Stock, error)
}
