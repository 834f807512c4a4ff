package stock

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mehtakaran/shopline-backend/pkg/db/models"
	"github.com/mehtakaran/shopline-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a stock repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByKey(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID, warehouseID uuid.UUID) (*models.Stock, error) {
	query := r.db.WithContext(ctx).
		Where("product_id = ? AND warehouse_id = ?", productID, warehouseID)
	if variantID != nil {
		query = query.Where("variant_id = ?", *variantID)
	} else {
		query = query.Where("variant_id IS NULL")
	}

	var stock models.Stock
	if err := query.First(&stock).Error; err != nil {
		return nil, err
	}
	return &stock, nil
}

func (r *repository) Create(ctx context.Context, stock *models.Stock) error {
	return r.db.WithContext(ctx).Create(stock).Error
}

// ApplyDelta moves the on-hand quantity relative to its current value so
// concurrent adjustments on the same row never overwrite each other, then
// clamps at zero. Returns the quantity after the move.
func (r *repository) ApplyDelta(ctx context.Context, stockID uuid.UUID, delta int) (int, error) {
	db := r.db.WithContext(ctx)
	if err := db.Model(&models.Stock{}).
		Where("id = ?", stockID).
		Update("quantity", gorm.Expr("quantity + ?", delta)).Error; err != nil {
		return 0, err
	}
	if err := db.Model(&models.Stock{}).
		Where("id = ? AND quantity < 0", stockID).
		Update("quantity", 0).Error; err != nil {
		return 0, err
	}
	var quantity int
	err := db.Model(&models.Stock{}).
		Select("quantity").
		Where("id = ?", stockID).
		Scan(&quantity).Error
	return quantity, err
}

func (r *repository) InsertAdjustment(ctx context.Context, adjustment *models.StockAdjustment) error {
	return r.db.WithContext(ctx).Create(adjustment).Error
}

func (r *repository) AdjustmentExists(ctx context.Context, stockID, referenceID uuid.UUID, reason enums.StockReason) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.StockAdjustment{}).
		Where("stock_id = ? AND reference_id = ? AND reason = ?", stockID, referenceID, reason).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) ListAdjustments(ctx context.Context, stockID uuid.UUID) ([]models.StockAdjustment, error) {
	var rows []models.StockAdjustment
	err := r.db.WithContext(ctx).
		Where("stock_id = ?", stockID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListBelowThreshold(ctx context.Context) ([]models.Stock, error) {
	var rows []models.Stock
	err := r.db.WithContext(ctx).
		Where("quantity <= low_stock_threshold").
		Order("quantity ASC").
		Find(&rows).Error
	return rows, err
}
