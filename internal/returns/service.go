package returns

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mehtakaran/shopline-backend/internal/orders"
	"github.com/mehtakaran/shopline-backend/internal/stock"
	"github.com/mehtakaran/shopline-backend/pkg/db/models"
	"github.com/mehtakaran/shopline-backend/pkg/enums"
	pkgerrors "github.com/mehtakaran/shopline-backend/pkg/errors"
	"github.com/mehtakaran/shopline-backend/pkg/logger"
	"github.com/mehtakaran/shopline-backend/pkg/outbox"
	"github.com/mehtakaran/shopline-backend/pkg/outbox/payloads"
	"github.com/mehtakaran/shopline-backend/pkg/razorpay"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// GatewayRefunder refunds captured payments at the gateway.
type GatewayRefunder interface {
	CreateRefund(ctx context.Context, paymentID string, amountPaise int) (*razorpay.Refund, error)
}

// StockRestorer checks returned goods back into stock.
type StockRestorer interface {
	RestoreForReturn(ctx context.Context, tx *gorm.DB, returnID uuid.UUID, lines []stock.Line) error
}

// ItemInput is one order line the customer sends back.
type ItemInput struct {
	OrderItemID uuid.UUID
	Qty         int
}

// CreateInput opens a return saga against a delivered order.
type CreateInput struct {
	OrderID      uuid.UUID
	CustomerID   uuid.UUID
	Items        []ItemInput
	RefundMethod enums.RefundMethod
	Reason       string
}

// Service runs the return and refund saga.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Return, error)
	Get(ctx context.Context, returnID, customerID uuid.UUID) (*models.Return, error)
	Approve(ctx context.Context, returnID uuid.UUID) (*models.Return, error)
	Reject(ctx context.Context, returnID uuid.UUID) (*models.Return, error)
	MarkPickupScheduled(ctx context.Context, returnID uuid.UUID) (*models.Return, error)
	MarkPickedUp(ctx context.Context, returnID uuid.UUID) (*models.Return, error)
	MarkReceived(ctx context.Context, returnID uuid.UUID) (*models.Return, error)
	ProcessRefund(ctx context.Context, returnID uuid.UUID) (*models.Return, error)
	MarkRefundCompleted(ctx context.Context, returnID uuid.UUID) (*models.Return, error)
}

// Params carries the service dependencies.
type Params struct {
	Returns    Repository
	Orders     orders.Repository
	Tx         txRunner
	Outbox     outboxPublisher
	Gateway    GatewayRefunder
	Stock      StockRestorer
	Logger     *logger.Logger
	WindowDays int
	Now        func() time.Time
}

type service struct {
	returns    Repository
	orders     orders.Repository
	tx         txRunner
	outbox     outboxPublisher
	gateway    GatewayRefunder
	stock      StockRestorer
	logg       *logger.Logger
	windowDays int
	now        func() time.Time
}

// NewService builds the returns service with the required dependencies.
func NewService(params Params) (Service, error) {
	if params.Returns == nil {
		return nil, fmt.Errorf("returns repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway refunder required")
	}
	if params.Stock == nil {
		return nil, fmt.Errorf("stock restorer required")
	}
	if params.WindowDays <= 0 {
		params.WindowDays = 7
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &service{
		returns:    params.Returns,
		orders:     params.Orders,
		tx:         params.Tx,
		outbox:     params.Outbox,
		gateway:    params.Gateway,
		stock:      params.Stock,
		logg:       params.Logger,
		windowDays: params.WindowDays,
		now:        params.Now,
	}, nil
}

// Create validates the entry guard and opens the saga. The item set and the
// refund amount are fixed here and never recomputed.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.Return, error) {
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing")
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item required")
	}
	if !input.RefundMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid refund method %q", input.RefundMethod))
	}

	order, err := s.orders.FindByID(ctx, input.OrderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.CustomerID != input.CustomerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to customer")
	}
	if order.Status != enums.OrderStatusDelivered {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only delivered orders can be returned")
	}
	if order.Shipment == nil || order.Shipment.DeliveredAt == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no recorded delivery")
	}

	window := time.Duration(s.windowDays) * 24 * time.Hour
	if s.now().Sub(*order.Shipment.DeliveredAt) > window {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("return window of %d days has passed", s.windowDays))
	}

	existing, err := s.returns.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list returns")
	}
	for _, ret := range existing {
		if ret.Status.IsActive() {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order already has an active return")
		}
	}

	itemsByID := make(map[uuid.UUID]models.OrderItem, len(order.Items))
	for _, item := range order.Items {
		itemsByID[item.ID] = item
	}

	refundAmount := 0
	returnID := uuid.New()
	returnItems := make([]models.ReturnItem, 0, len(input.Items))
	for _, item := range input.Items {
		orderItem, ok := itemsByID[item.OrderItemID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("item %s does not belong to order", item.OrderItemID))
		}
		if item.Qty <= 0 || item.Qty > orderItem.Qty {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("invalid return quantity for item %s", item.OrderItemID))
		}
		refundAmount += orderItem.UnitPricePaise * item.Qty
		returnItems = append(returnItems, models.ReturnItem{
			ID:             uuid.New(),
			ReturnID:       returnID,
			OrderItemID:    item.OrderItemID,
			Qty:            item.Qty,
			UnitPricePaise: orderItem.UnitPricePaise,
		})
	}

	ret := &models.Return{
		ID:                returnID,
		OrderID:           order.ID,
		CustomerID:        order.CustomerID,
		Status:            enums.ReturnStatusPending,
		RefundMethod:      input.RefundMethod,
		RefundAmountPaise: refundAmount,
		Reason:            input.Reason,
	}

	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.returns.WithTx(tx)
		if err := repo.Create(ctx, ret); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create return")
		}
		if err := repo.CreateItems(ctx, returnItems); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create return items")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReturnRequested,
			AggregateType: enums.AggregateReturn,
			AggregateID:   returnID,
			Version:       1,
			Actor:         &outbox.ActorRef{CustomerID: input.CustomerID, Role: "customer"},
			Data: payloads.ReturnRequestedEvent{
				ReturnID:          returnID,
				OrderID:           order.ID,
				CustomerID:        order.CustomerID,
				RefundAmountPaise: refundAmount,
				Reason:            input.Reason,
			},
		})
	})
	if txErr != nil {
		return nil, txErr
	}

	ret.Items = returnItems
	return ret, nil
}

func (s *service) Get(ctx context.Context, returnID, customerID uuid.UUID) (*models.Return, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing")
	}
	ret, err := s.load(ctx, returnID)
	if err != nil {
		return nil, err
	}
	if ret.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "return does not belong to customer")
	}
	return ret, nil
}

func (s *service) Approve(ctx context.Context, returnID uuid.UUID) (*models.Return, error) {
	return s.move(ctx, returnID, enums.ReturnStatusApproved)
}

func (s *service) Reject(ctx context.Context, returnID uuid.UUID) (*models.Return, error) {
	return s.move(ctx, returnID, enums.ReturnStatusRejected)
}

func (s *service) MarkPickupScheduled(ctx context.Context, returnID uuid.UUID) (*models.Return, error) {
	return s.move(ctx, returnID, enums.ReturnStatusPickupScheduled)
}

func (s *service) MarkPickedUp(ctx context.Context, returnID uuid.UUID) (*models.Return, error) {
	return s.move(ctx, returnID, enums.ReturnStatusPickedUp)
}

// MarkReceived confirms the goods arrived back and restores stock in the same
// transaction. The ledger's replay guard keeps a repeated confirmation from
// double-counting.
func (s *service) MarkReceived(ctx context.Context, returnID uuid.UUID) (*models.Return, error) {
	ret, err := s.load(ctx, returnID)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.FindByID(ctx, ret.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	lines, err := stockLines(ret, order)
	if err != nil {
		return nil, err
	}

	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.returns.WithTx(tx)
		current, err := repo.FindByID(ctx, returnID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload return")
		}
		changed, err := Transition(current.Status, enums.ReturnStatusReceived)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		if err := repo.UpdateStatus(ctx, returnID, enums.ReturnStatusReceived); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark return received")
		}
		if err := s.stock.RestoreForReturn(ctx, tx, returnID, lines); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReturnReceived,
			AggregateType: enums.AggregateReturn,
			AggregateID:   returnID,
			Version:       1,
			Data: payloads.ReturnReceivedEvent{
				ReturnID:   returnID,
				OrderID:    ret.OrderID,
				CustomerID: ret.CustomerID,
			},
		})
	})
	if txErr != nil {
		return nil, txErr
	}
	ret.Status = enums.ReturnStatusReceived
	return ret, nil
}

// ProcessRefund settles the refund for a received return. Original-payment
// refunds go through the gateway and complete immediately; manual methods
// move to REFUND_INITIATED and finish via MarkRefundCompleted once the
// transfer clears.
func (s *service) ProcessRefund(ctx context.Context, returnID uuid.UUID) (*models.Return, error) {
	ret, err := s.load(ctx, returnID)
	if err != nil {
		return nil, err
	}
	if ret.Status != enums.ReturnStatusReceived {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("refund requires a received return, current status %s", ret.Status))
	}

	if ret.RefundMethod != enums.RefundMethodOriginalPayment {
		if err := s.returns.UpdateStatus(ctx, returnID, enums.ReturnStatusRefundInitiated); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark refund initiated")
		}
		ret.Status = enums.ReturnStatusRefundInitiated
		return ret, nil
	}

	order, err := s.orders.FindByID(ctx, ret.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	payment := order.Payment
	if payment == nil || payment.GatewayPaymentID == nil || payment.Status == enums.PaymentStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no captured payment to refund")
	}

	amount := ret.RefundAmountPaise
	if remaining := payment.AmountPaise - payment.RefundAmountPaise; amount > remaining {
		amount = remaining
	}
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is already fully refunded")
	}

	refund, err := s.gateway.CreateRefund(ctx, *payment.GatewayPaymentID, amount)
	if err != nil {
		return nil, err
	}

	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ordRepo := s.orders.WithTx(tx)
		newTotal := payment.RefundAmountPaise + refund.AmountPaise
		if newTotal > payment.AmountPaise {
			newTotal = payment.AmountPaise
		}
		updates := map[string]any{
			"refund_amount_paise": newTotal,
			"gateway_refund_id":   refund.ID,
		}
		if newTotal >= payment.AmountPaise {
			updates["status"] = enums.PaymentStatusRefunded
		}
		if err := ordRepo.UpdatePayment(ctx, payment.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
		}
		if err := s.returns.WithTx(tx).UpdateStatus(ctx, returnID, enums.ReturnStatusRefundCompleted); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark refund completed")
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReturnRefunded,
			AggregateType: enums.AggregateReturn,
			AggregateID:   returnID,
			Version:       1,
			Data: payloads.ReturnRefundedEvent{
				ReturnID:          returnID,
				OrderID:           ret.OrderID,
				CustomerID:        ret.CustomerID,
				RefundAmountPaise: refund.AmountPaise,
				RefundMethod:      ret.RefundMethod,
			},
		})
	})
	if txErr != nil {
		return nil, txErr
	}
	ret.Status = enums.ReturnStatusRefundCompleted
	return ret, nil
}

// MarkRefundCompleted closes a manual refund once the transfer settles.
func (s *service) MarkRefundCompleted(ctx context.Context, returnID uuid.UUID) (*models.Return, error) {
	ret, err := s.load(ctx, returnID)
	if err != nil {
		return nil, err
	}
	changed, err := Transition(ret.Status, enums.ReturnStatusRefundCompleted)
	if err != nil {
		return nil, err
	}
	if !changed {
		return ret, nil
	}

	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.returns.WithTx(tx).UpdateStatus(ctx, returnID, enums.ReturnStatusRefundCompleted); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark refund completed")
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReturnRefunded,
			AggregateType: enums.AggregateReturn,
			AggregateID:   returnID,
			Version:       1,
			Data: payloads.ReturnRefundedEvent{
				ReturnID:          returnID,
				OrderID:           ret.OrderID,
				CustomerID:        ret.CustomerID,
				RefundAmountPaise: ret.RefundAmountPaise,
				RefundMethod:      ret.RefundMethod,
			},
		})
	})
	if txErr != nil {
		return nil, txErr
	}
	ret.Status = enums.ReturnStatusRefundCompleted
	return ret, nil
}

func (s *service) move(ctx context.Context, returnID uuid.UUID, target enums.ReturnStatus) (*models.Return, error) {
	ret, err := s.load(ctx, returnID)
	if err != nil {
		return nil, err
	}
	changed, err := Transition(ret.Status, target)
	if err != nil {
		return nil, err
	}
	if !changed {
		return ret, nil
	}
	if err := s.returns.UpdateStatus(ctx, returnID, target); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update return status")
	}
	ret.Status = target
	return ret, nil
}

func (s *service) load(ctx context.Context, returnID uuid.UUID) (*models.Return, error) {
	if returnID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "return id required")
	}
	ret, err := s.returns.FindByID(ctx, returnID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "return not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load return")
	}
	return ret, nil
}

// stockLines rebuilds warehouse-level stock keys for the returned quantities.
func stockLines(ret *models.Return, order *models.Order) ([]stock.Line, error) {
	itemsByID := make(map[uuid.UUID]models.OrderItem, len(order.Items))
	for _, item := range order.Items {
		itemsByID[item.ID] = item
	}
	lines := make([]stock.Line, 0, len(ret.Items))
	for _, item := range ret.Items {
		orderItem, ok := itemsByID[item.OrderItemID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeInternal,
				fmt.Sprintf("return item %s has no matching order item", item.ID))
		}
		lines = append(lines, stock.Line{
			Key: stock.ItemKey{
				ProductID:   orderItem.ProductID,
				VariantID:   orderItem.VariantID,
				WarehouseID: orderItem.WarehouseID,
			},
			Qty: item.Qty,
		})
	}
	return lines, nil
}
