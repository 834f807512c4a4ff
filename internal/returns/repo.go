package returns

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mehtakaran/shopline-backend/pkg/db/models"
	"github.com/mehtakaran/shopline-backend/pkg/enums"
)

// Repository defines persistence operations for return sagas.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, ret *models.Return) error
	CreateItems(ctx context.Context, items []models.ReturnItem) error
	FindByID(ctx context.Context, returnID uuid.UUID) (*models.Return, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Return, error)
	UpdateStatus(ctx context.Context, returnID uuid.UUID, status enums.ReturnStatus) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a returns repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, ret *models.Return) error {
	return r.db.WithContext(ctx).Omit("Items").Create(ret).Error
}

func (r *repository) CreateItems(ctx context.Context, items []models.ReturnItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) FindByID(ctx context.Context, returnID uuid.UUID) (*models.Return, error) {
	var ret models.Return
	if err := r.db.WithContext(ctx).Preload("Items").First(&ret, "id = ?", returnID).Error; err != nil {
		return nil, err
	}
	return &ret, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Return, error) {
	var rows []models.Return
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) UpdateStatus(ctx context.Context, returnID uuid.UUID, status enums.ReturnStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Return{}).
		Where("id = ?", returnID).
		Update("status", status).Error
}
