package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mehtakaran/shopline-backend/internal/orders"
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
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// SignatureVerifier checks gateway signatures on client callbacks.
type SignatureVerifier interface {
	VerifyPaymentSignature(gatewayOrderID, gatewayPaymentID, signature string) bool
}

// VerifyInput is the client-side payment confirmation handed back after the
// gateway widget completes.
type VerifyInput struct {
	OrderID          uuid.UUID
	CustomerID       uuid.UUID
	GatewayPaymentID string
	Signature        string
}

// Service reconciles gateway activity onto payment and order rows.
type Service interface {
	VerifyAndCapture(ctx context.Context, input VerifyInput) (*models.Payment, error)
	HandleWebhook(ctx context.Context, event *razorpay.WebhookEvent) error
}

// Params carries the service dependencies.
type Params struct {
	Payments Repository
	Orders   orders.Repository
	Tx       txRunner
	Outbox   outboxPublisher
	Verifier SignatureVerifier
	Logger   *logger.Logger
}

type service struct {
	payments Repository
	orders   orders.Repository
	tx       txRunner
	outbox   outboxPublisher
	verifier SignatureVerifier
	logg     *logger.Logger
}

// NewService builds the payment reconciliation service.
func NewService(params Params) (Service, error) {
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repository required")
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
	if params.Verifier == nil {
		return nil, fmt.Errorf("signature verifier required")
	}
	return &service{
		payments: params.Payments,
		orders:   params.Orders,
		tx:       params.Tx,
		outbox:   params.Outbox,
		verifier: params.Verifier,
		logg:     params.Logger,
	}, nil
}

// VerifyAndCapture validates the client callback signature and marks the
// payment captured. A forged or stale signature is rejected before any row is
// touched; replays of a valid callback are no-ops.
func (s *service) VerifyAndCapture(ctx context.Context, input VerifyInput) (*models.Payment, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing")
	}
	if input.GatewayPaymentID == "" || input.Signature == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway payment id and signature required")
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
	if order.Payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no payment intent")
	}

	if !s.verifier.VerifyPaymentSignature(order.Payment.GatewayOrderID, input.GatewayPaymentID, input.Signature) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "payment signature mismatch")
	}

	if err := s.capture(ctx, order.ID, input.GatewayPaymentID); err != nil {
		return nil, err
	}
	return s.payments.FindByOrderID(ctx, order.ID)
}

// HandleWebhook dispatches a verified gateway event. Events for entities we
// do not recognize are logged and acked so the gateway stops retrying.
func (s *service) HandleWebhook(ctx context.Context, event *razorpay.WebhookEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event required")
	}

	switch event.Event {
	case razorpay.EventPaymentAuthorized:
		if event.Payload.Payment == nil {
			s.logWarn(ctx, "payment webhook without payment entity", map[string]any{"event": event.Event})
			return nil
		}
		return s.handleAuthorized(ctx, event.Payload.Payment.Entity)
	case razorpay.EventPaymentCaptured:
		if event.Payload.Payment == nil {
			s.logWarn(ctx, "payment webhook without payment entity", map[string]any{"event": event.Event})
			return nil
		}
		return s.handleCaptured(ctx, event.Payload.Payment.Entity)
	case razorpay.EventPaymentFailed:
		if event.Payload.Payment == nil {
			s.logWarn(ctx, "payment webhook without payment entity", map[string]any{"event": event.Event})
			return nil
		}
		return s.handleFailed(ctx, event.Payload.Payment.Entity)
	case razorpay.EventRefundCreated, razorpay.EventRefundProcessed:
		if event.Payload.Refund == nil {
			s.logWarn(ctx, "refund webhook without refund entity", map[string]any{"event": event.Event})
			return nil
		}
		return s.handleRefund(ctx, event.Payload.Refund.Entity)
	default:
		s.logWarn(ctx, "unhandled gateway event", map[string]any{"event": event.Event})
		return nil
	}
}

// handleAuthorized records the gateway payment id for traceability. The order
// moves to PROCESSING only on capture; an authorization holds funds without
// settling them.
func (s *service) handleAuthorized(ctx context.Context, entity razorpay.PaymentEntity) error {
	payment, err := s.payments.FindByGatewayOrderID(ctx, entity.OrderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			s.logWarn(ctx, "authorization for unknown gateway order", map[string]any{"gateway_order_id": entity.OrderID})
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.Status != enums.PaymentStatusPending || entity.ID == "" {
		return nil
	}
	if err := s.payments.Update(ctx, payment.ID, map[string]any{
		"gateway_payment_id": entity.ID,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record authorized payment id")
	}
	return nil
}

func (s *service) handleCaptured(ctx context.Context, entity razorpay.PaymentEntity) error {
	payment, err := s.payments.FindByGatewayOrderID(ctx, entity.OrderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			s.logWarn(ctx, "capture for unknown gateway order", map[string]any{"gateway_order_id": entity.OrderID})
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return s.capture(ctx, payment.OrderID, entity.ID)
}

// capture marks the payment SUCCESS and moves the order into PROCESSING in one
// transaction. Safe to replay: a captured payment short-circuits and the paid
// event is deduplicated by the outbox.
func (s *service) capture(ctx context.Context, orderID uuid.UUID, gatewayPaymentID string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		payRepo := s.payments.WithTx(tx)
		ordRepo := s.orders.WithTx(tx)

		payment, err := payRepo.FindByOrderID(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		order, err := ordRepo.FindByID(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		if payment.Status != enums.PaymentStatusSuccess {
			if err := payRepo.Update(ctx, payment.ID, map[string]any{
				"status":             enums.PaymentStatusSuccess,
				"gateway_payment_id": gatewayPaymentID,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment captured")
			}
		}

		changed, transitionErr := orders.Transition(order.Status, enums.OrderStatusProcessing)
		if transitionErr != nil {
			// The money is captured either way; a cancelled order keeps its
			// status and the refund path settles the payment later.
			s.logWarn(ctx, "captured payment for order outside pending", map[string]any{
				"order_id": orderID,
				"status":   order.Status,
			})
		} else if changed {
			if err := ordRepo.UpdateStatus(ctx, orderID, enums.OrderStatusProcessing); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advance order to processing")
			}
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Version:       1,
			Data: payloads.OrderPaidEvent{
				OrderID:          orderID,
				OrderNumber:      order.OrderNumber,
				CustomerID:       order.CustomerID,
				PaymentID:        payment.ID,
				GatewayPaymentID: gatewayPaymentID,
				AmountPaise:      payment.AmountPaise,
			},
		})
	})
}

func (s *service) handleFailed(ctx context.Context, entity razorpay.PaymentEntity) error {
	payment, err := s.payments.FindByGatewayOrderID(ctx, entity.OrderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			s.logWarn(ctx, "failure for unknown gateway order", map[string]any{"gateway_order_id": entity.OrderID})
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		payRepo := s.payments.WithTx(tx)
		current, err := payRepo.FindByOrderID(ctx, payment.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		// A late failure event after a successful capture carries no signal.
		if current.Status != enums.PaymentStatusPending {
			return nil
		}
		if err := payRepo.Update(ctx, current.ID, map[string]any{
			"status": enums.PaymentStatusFailed,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment failed")
		}

		order, err := s.orders.WithTx(tx).FindByID(ctx, current.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   current.ID,
			Version:       1,
			Data: payloads.PaymentFailedEvent{
				OrderID:     current.OrderID,
				CustomerID:  order.CustomerID,
				PaymentID:   current.ID,
				Description: entity.ErrorDescription,
			},
		})
	})
}

// handleRefund applies a refund entity onto the payment. The running refund
// total never decreases and never exceeds the captured amount; a replayed
// delivery of the same refund id is a no-op.
func (s *service) handleRefund(ctx context.Context, entity razorpay.RefundEntity) error {
	payment, err := s.payments.FindByGatewayPaymentID(ctx, entity.PaymentID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			s.logWarn(ctx, "refund for unknown gateway payment", map[string]any{"gateway_payment_id": entity.PaymentID})
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		payRepo := s.payments.WithTx(tx)
		current, err := payRepo.FindByOrderID(ctx, payment.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		if current.GatewayRefundID != nil && *current.GatewayRefundID == entity.ID {
			return nil
		}

		total := current.RefundAmountPaise + entity.AmountPaise
		if total > current.AmountPaise {
			total = current.AmountPaise
		}
		if total < current.RefundAmountPaise {
			total = current.RefundAmountPaise
		}

		updates := map[string]any{
			"refund_amount_paise": total,
			"gateway_refund_id":   entity.ID,
		}
		if total >= current.AmountPaise {
			updates["status"] = enums.PaymentStatusRefunded
		}
		if err := payRepo.Update(ctx, current.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
		}

		order, err := s.orders.WithTx(tx).FindByID(ctx, current.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundRecorded,
			AggregateType: enums.AggregatePayment,
			AggregateID:   current.ID,
			Version:       1,
			Data: payloads.RefundRecordedEvent{
				OrderID:         current.OrderID,
				PaymentID:       current.ID,
				CustomerID:      order.CustomerID,
				AmountPaise:     entity.AmountPaise,
				GatewayRefundID: entity.ID,
			},
		})
	})
}

func (s *service) logWarn(ctx context.Context, msg string, fields map[string]any) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithFields(ctx, fields)
	s.logg.Warn(ctx, msg)
}
