package shipping

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mehtakaran/shopline-backend/pkg/db/models"
	"github.com/mehtakaran/shopline-backend/pkg/enums"
)

// Repository defines persistence operations for shipment rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, shipment *models.Shipment) error
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error)
	FindByWaybill(ctx context.Context, waybill string) (*models.Shipment, error)
	FindByCarrierOrderID(ctx context.Context, carrierOrderID string) (*models.Shipment, error)
	Update(ctx context.Context, shipmentID uuid.UUID, updates map[string]any) error
	ListAwaitingWaybill(ctx context.Context, limit int) ([]models.Shipment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a shipment repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, shipment *models.Shipment) error {
	return r.db.WithContext(ctx).Create(shipment).Error
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	var shipment models.Shipment
	if err := r.db.WithContext(ctx).First(&shipment, "order_id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (r *repository) FindByWaybill(ctx context.Context, waybill string) (*models.Shipment, error) {
	var shipment models.Shipment
	if err := r.db.WithContext(ctx).First(&shipment, "waybill = ?", waybill).Error; err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (r *repository) FindByCarrierOrderID(ctx context.Context, carrierOrderID string) (*models.Shipment, error) {
	var shipment models.Shipment
	if err := r.db.WithContext(ctx).First(&shipment, "carrier_order_id = ?", carrierOrderID).Error; err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (r *repository) Update(ctx context.Context, shipmentID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Shipment{}).
		Where("id = ?", shipmentID).
		Updates(updates).Error
}

// ListAwaitingWaybill returns a bounded batch of shipments for paid orders
// that have a carrier shipment and a chosen courier but no waybill yet,
// oldest first.
func (r *repository) ListAwaitingWaybill(ctx context.Context, limit int) ([]models.Shipment, error) {
	var rows []models.Shipment
	err := r.db.WithContext(ctx).
		Joins("JOIN orders ON orders.id = shipments.order_id").
		Where("orders.status = ?", enums.OrderStatusProcessing).
		Where("shipments.waybill IS NULL").
		Where("shipments.courier_id IS NOT NULL").
		Where("shipments.carrier_shipment_id <> ''").
		Order("shipments.created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
