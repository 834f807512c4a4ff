package stock

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/mehtakaran/shopline-backend/pkg/db"
	"github.com/mehtakaran/shopline-backend/pkg/db/models"
	"github.com/mehtakaran/shopline-backend/pkg/enums"
	pkgerrors "github.com/mehtakaran/shopline-backend/pkg/errors"
	"github.com/mehtakaran/shopline-backend/pkg/outbox"
	"github.com/mehtakaran/shopline-backend/pkg/outbox/payloads"
)

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ItemKey identifies one stock row.
type ItemKey struct {
	ProductID   uuid.UUID
	VariantID   *uuid.UUID
	WarehouseID uuid.UUID
}

// AdjustInput captures one ledger movement.
type AdjustInput struct {
	Key         ItemKey
	Delta       int
	Reason      enums.StockReason
	ReferenceID uuid.UUID
	Actor       string
}

// Line is one product/quantity pair handled by the order-level wrappers.
type Line struct {
	Key ItemKey
	Qty int
}

// Service defines stock ledger operations.
type Service interface {
	Adjust(ctx context.Context, tx *gorm.DB, input AdjustInput) (*models.Stock, error)
	Available(ctx context.Context, key ItemKey, qty int) (bool, error)
	ReserveForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) error
	ReleaseForCancelledOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) error
	RestoreForReturn(ctx context.Context, tx *gorm.DB, returnID uuid.UUID, lines []Line) error
	LowStock(ctx context.Context) ([]models.Stock, error)
}

type service struct {
	repo   Repository
	outbox outboxPublisher
}

// NewService wires a stock service. The outbox publisher is optional; when nil
// no low-stock events are emitted.
func NewService(repo Repository, publisher outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	return &service{repo: repo, outbox: publisher}, nil
}

// Adjust appends a ledger entry and moves the on-hand quantity. The entry keeps
// the requested delta verbatim while the quantity never drops below zero. A
// duplicate (stock, reference, reason) insert is a replayed request and leaves
// the quantity untouched.
func (s *service) Adjust(ctx context.Context, tx *gorm.DB, input AdjustInput) (*models.Stock, error) {
	if input.Key.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if input.Key.WarehouseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "warehouse id required")
	}
	if input.Delta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delta must be non-zero")
	}
	if !input.Reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid stock reason %q", input.Reason))
	}
	if input.ReferenceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference id required")
	}

	repo := s.repo.WithTx(tx)

	stock, err := repo.FindByKey(ctx, input.Key.ProductID, input.Key.VariantID, input.Key.WarehouseID)
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock")
		}
		stock = &models.Stock{
			ID:          uuid.New(),
			ProductID:   input.Key.ProductID,
			VariantID:   input.Key.VariantID,
			WarehouseID: input.Key.WarehouseID,
			Quantity:    0,
		}
		if createErr := repo.Create(ctx, stock); createErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, createErr, "create stock")
		}
	}

	applied, err := repo.AdjustmentExists(ctx, stock.ID, input.ReferenceID, input.Reason)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check stock adjustment")
	}
	if applied {
		return stock, nil
	}

	adjustment := &models.StockAdjustment{
		ID:          uuid.New(),
		StockID:     stock.ID,
		Reason:      input.Reason,
		ReferenceID: input.ReferenceID,
		Delta:       input.Delta,
		Actor:       input.Actor,
	}
	if err := repo.InsertAdjustment(ctx, adjustment); err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_stock_adjustments_ref_reason") {
			return stock, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append stock adjustment")
	}

	quantity, err := repo.ApplyDelta(ctx, stock.ID, input.Delta)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update stock quantity")
	}
	stock.Quantity = quantity

	if s.outbox != nil && tx != nil && quantity <= stock.LowStockThreshold {
		event := outbox.DomainEvent{
			EventType:     enums.EventStockLowWatermark,
			AggregateType: enums.AggregateStock,
			AggregateID:   stock.ID,
			Version:       1,
			Data: payloads.StockLowWatermarkEvent{
				StockID:     stock.ID,
				ProductID:   stock.ProductID,
				VariantID:   stock.VariantID,
				WarehouseID: stock.WarehouseID,
				Quantity:    quantity,
				Threshold:   stock.LowStockThreshold,
			},
		}
		if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
			return nil, err
		}
	}

	return stock, nil
}

// Available reports whether the row holds at least qty units.
func (s *service) Available(ctx context.Context, key ItemKey, qty int) (bool, error) {
	if qty <= 0 {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	stock, err := s.repo.FindByKey(ctx, key.ProductID, key.VariantID, key.WarehouseID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock")
	}
	return stock.Quantity >= qty, nil
}

// ReserveForOrder decrements stock for every line or none of them. The caller
// supplies the surrounding transaction so a later failure rolls everything back.
func (s *service) ReserveForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if len(lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one line required")
	}

	repo := s.repo.WithTx(tx)
	for _, line := range lines {
		if line.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "line quantity must be positive")
		}
		stock, err := repo.FindByKey(ctx, line.Key.ProductID, line.Key.VariantID, line.Key.WarehouseID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeStateConflict,
					fmt.Sprintf("insufficient stock for product %s", line.Key.ProductID))
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock")
		}
		if stock.Quantity < line.Qty {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("insufficient stock for product %s", line.Key.ProductID))
		}
	}

	for _, line := range lines {
		if _, err := s.Adjust(ctx, tx, AdjustInput{
			Key:         line.Key,
			Delta:       -line.Qty,
			Reason:      enums.StockReasonOrderReserved,
			ReferenceID: orderID,
			Actor:       "system",
		}); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseForCancelledOrder puts reserved stock back after a cancellation.
func (s *service) ReleaseForCancelledOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) error {
	return s.applyPositive(ctx, tx, orderID, lines, enums.StockReasonOrderCancelled)
}

// RestoreForReturn checks returned goods back into stock.
func (s *service) RestoreForReturn(ctx context.Context, tx *gorm.DB, returnID uuid.UUID, lines []Line) error {
	return s.applyPositive(ctx, tx, returnID, lines, enums.StockReasonReturnReceived)
}

func (s *service) applyPositive(ctx context.Context, tx *gorm.DB, referenceID uuid.UUID, lines []Line, reason enums.StockReason) error {
	if referenceID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "reference id required")
	}
	if len(lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one line required")
	}
	for _, line := range lines {
		if line.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "line quantity must be positive")
		}
		if _, err := s.Adjust(ctx, tx, AdjustInput{
			Key:         line.Key,
			Delta:       line.Qty,
			Reason:      reason,
			ReferenceID: referenceID,
			Actor:       "system",
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) LowStock(ctx context.Context) ([]models.Stock, error) {
	return s.repo.ListBelowThreshold(ctx)
}
