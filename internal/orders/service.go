package orders

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

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

// CarrierCanceller cancels carrier orders that have not been handed over yet.
type CarrierCanceller interface {
	CancelOrders(ctx context.Context, carrierOrderIDs ...int64) error
}

// GatewayRefunder refunds captured payments at the gateway.
type GatewayRefunder interface {
	CreateRefund(ctx context.Context, paymentID string, amountPaise int) (*razorpay.Refund, error)
}

// StockReleaser puts reserved stock back when an order is cancelled.
type StockReleaser interface {
	ReleaseForCancelledOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []stock.Line) error
}

// Service defines order aggregate operations.
type Service interface {
	Get(ctx context.Context, orderID, customerID uuid.UUID) (*models.Order, error)
	ListForCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Order, error)
	CanCancel(ctx context.Context, orderID, customerID uuid.UUID) (*CancelCheck, error)
	Cancel(ctx context.Context, input CancelInput) (*CancelResult, error)
}

// Params carries the service dependencies.
type Params struct {
	Repo               Repository
	Tx                 txRunner
	Outbox             outboxPublisher
	Carrier            CarrierCanceller
	Gateway            GatewayRefunder
	Stock              StockReleaser
	Logger             *logger.Logger
	CancellationWindow time.Duration
	Now                func() time.Time
}

type service struct {
	repo         Repository
	tx           txRunner
	outbox       outboxPublisher
	carrier      CarrierCanceller
	gateway      GatewayRefunder
	stock        StockReleaser
	logg         *logger.Logger
	cancelWindow time.Duration
	now          func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(params Params) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Carrier == nil {
		return nil, fmt.Errorf("carrier canceller required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway refunder required")
	}
	if params.Stock == nil {
		return nil, fmt.Errorf("stock releaser required")
	}
	if params.CancellationWindow <= 0 {
		params.CancellationWindow = 24 * time.Hour
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &service{
		repo:         params.Repo,
		tx:           params.Tx,
		outbox:       params.Outbox,
		carrier:      params.Carrier,
		gateway:      params.Gateway,
		stock:        params.Stock,
		logg:         params.Logger,
		cancelWindow: params.CancellationWindow,
		now:          params.Now,
	}, nil
}

func (s *service) Get(ctx context.Context, orderID, customerID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.loadOwnedOrder(ctx, s.repo, orderID, customerID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) ListForCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Order, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing")
	}
	return s.repo.ListByCustomer(ctx, customerID)
}

// CanCancel exposes the cancellation guard without mutating state.
func (s *service) CanCancel(ctx context.Context, orderID, customerID uuid.UUID) (*CancelCheck, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.loadOwnedOrder(ctx, s.repo, orderID, customerID)
	if err != nil {
		return nil, err
	}
	if guardErr := CancellationGuard(order.Status, order.CreatedAt, s.now(), s.cancelWindow); guardErr != nil {
		check := &CancelCheck{Allowed: false}
		if domainErr := pkgerrors.As(guardErr); domainErr != nil {
			check.Reason = domainErr.Message()
		} else {
			check.Reason = guardErr.Error()
		}
		return check, nil
	}
	return &CancelCheck{Allowed: true}, nil
}

// Cancel runs the cancellation saga. The status write is the one blocking
// step; carrier cancel, refund, and the notification event are best-effort
// and surface in the per-step outcomes.
func (s *service) Cancel(ctx context.Context, input CancelInput) (*CancelResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := s.loadOwnedOrder(ctx, s.repo, input.OrderID, input.CustomerID)
	if err != nil {
		return nil, err
	}
	if guardErr := CancellationGuard(order.Status, order.CreatedAt, s.now(), s.cancelWindow); guardErr != nil {
		return nil, guardErr
	}

	result := &CancelResult{}
	addStep := func(name string, outcome StepOutcome, stepErr error) {
		step := StepResult{Name: name, Outcome: outcome}
		if stepErr != nil {
			step.Error = stepErr.Error()
		}
		result.Steps = append(result.Steps, step)
	}

	// Carrier cancel first so the parcel never leaves if we can stop it.
	switch {
	case order.Shipment == nil || order.Shipment.CarrierOrderID == "":
		addStep("carrier_cancel", StepSkipped, nil)
	default:
		carrierOrderID, parseErr := strconv.ParseInt(order.Shipment.CarrierOrderID, 10, 64)
		if parseErr != nil {
			s.logError(ctx, order.ID, "carrier order id unparseable", parseErr)
			addStep("carrier_cancel", StepFailedNonBlocking, parseErr)
			break
		}
		if cancelErr := s.carrier.CancelOrders(ctx, carrierOrderID); cancelErr != nil {
			s.logError(ctx, order.ID, "carrier cancel failed", cancelErr)
			addStep("carrier_cancel", StepFailedNonBlocking, cancelErr)
			break
		}
		result.CarrierCancelled = true
		addStep("carrier_cancel", StepOK, nil)
	}

	// Status write plus stock release, atomically. Guard re-checked inside the
	// transaction because a webhook may have moved the order meanwhile.
	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByID(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		if guardErr := CancellationGuard(current.Status, current.CreatedAt, s.now(), s.cancelWindow); guardErr != nil {
			return guardErr
		}
		if err := repo.UpdateStatus(ctx, order.ID, enums.OrderStatusCancelled); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order cancelled")
		}
		return s.stock.ReleaseForCancelledOrder(ctx, tx, order.ID, LinesFromItems(current.Items))
	})
	if txErr != nil {
		return nil, txErr
	}
	order.Status = enums.OrderStatusCancelled
	addStep("cancel_order", StepOK, nil)

	// Refund, when a capture exists. On failure the payment drops back to
	// PENDING so the owed refund is visible for retry.
	payment := order.Payment
	switch {
	case payment == nil || payment.Status != enums.PaymentStatusSuccess || payment.GatewayPaymentID == nil:
		addStep("refund", StepSkipped, nil)
	default:
		owed := payment.AmountPaise - payment.RefundAmountPaise
		refund, refundErr := s.gateway.CreateRefund(ctx, *payment.GatewayPaymentID, owed)
		if refundErr != nil {
			s.logError(ctx, order.ID, "refund failed, payment reverted to pending", refundErr)
			if revertErr := s.repo.UpdatePayment(ctx, payment.ID, map[string]any{
				"status": enums.PaymentStatusPending,
			}); revertErr != nil {
				s.logError(ctx, order.ID, "payment revert failed", revertErr)
			}
			addStep("refund", StepFailedNonBlocking, refundErr)
			break
		}
		if err := s.repo.UpdatePayment(ctx, payment.ID, map[string]any{
			"status":              enums.PaymentStatusRefunded,
			"refund_amount_paise": payment.RefundAmountPaise + refund.AmountPaise,
		}); err != nil {
			addStep("refund", StepFailedNonBlocking, err)
			break
		}
		emitErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventRefundRecorded,
				AggregateType: enums.AggregatePayment,
				AggregateID:   payment.ID,
				Version:       1,
				Actor:         &outbox.ActorRef{CustomerID: input.CustomerID, Role: "customer"},
				Data: payloads.RefundRecordedEvent{
					OrderID:         order.ID,
					PaymentID:       payment.ID,
					CustomerID:      order.CustomerID,
					AmountPaise:     refund.AmountPaise,
					GatewayRefundID: refund.ID,
				},
			})
		})
		if emitErr != nil {
			s.logError(ctx, order.ID, "refund event emit failed", emitErr)
		}
		result.RefundProcessed = true
		addStep("refund", StepOK, nil)
	}

	// Notification event carries the final flags; failure never unwinds the
	// cancellation.
	notifyErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{CustomerID: input.CustomerID, Role: "customer"},
			Data: payloads.OrderCancelledEvent{
				OrderID:          order.ID,
				OrderNumber:      order.OrderNumber,
				CustomerID:       order.CustomerID,
				CancelledAt:      s.now(),
				Reason:           input.Reason,
				CarrierCancelled: result.CarrierCancelled,
				RefundProcessed:  result.RefundProcessed,
			},
		})
	})
	if notifyErr != nil {
		s.logError(ctx, order.ID, "cancellation event emit failed", notifyErr)
		addStep("notification", StepFailedNonBlocking, notifyErr)
	} else {
		addStep("notification", StepOK, nil)
	}

	result.Order = order
	return result, nil
}

func (s *service) loadOwnedOrder(ctx context.Context, repo Repository, orderID, customerID uuid.UUID) (*models.Order, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing")
	}
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to customer")
	}
	return order, nil
}

func (s *service) logError(ctx context.Context, orderID uuid.UUID, msg string, err error) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())
	s.logg.Error(ctx, msg, err)
}

// LinesFromItems folds order items into stock lines, merging duplicate keys so
// one ledger entry covers all copies of a product in the order.
func LinesFromItems(items []models.OrderItem) []stock.Line {
	merged := make([]stock.Line, 0, len(items))
	for _, item := range items {
		key := stock.ItemKey{ProductID: item.ProductID, VariantID: item.VariantID, WarehouseID: item.WarehouseID}
		found := false
		for i := range merged {
			if sameKey(merged[i].Key, key) {
				merged[i].Qty += item.Qty
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, stock.Line{Key: key, Qty: item.Qty})
		}
	}
	return merged
}

func sameKey(a, b stock.ItemKey) bool {
	if a.ProductID != b.ProductID || a.WarehouseID != b.WarehouseID {
		return false
	}
	if (a.VariantID == nil) != (b.VariantID == nil) {
		return false
	}
	return a.VariantID == nil || *a.VariantID == *b.VariantID
}
