package payments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mehtakaran/shopline-backend/pkg/db/models"
)

// Repository defines persistence operations for payment rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error)
	FindByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.Payment, error)
	Update(ctx context.Context, paymentID uuid.UUID, updates map[string]any) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payment repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "order_id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "gateway_order_id = ?", gatewayOrderID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "gateway_payment_id = ?", gatewayPaymentID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) Update(ctx context.Context, paymentID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", paymentID).
		Updates(updates).Error
}
