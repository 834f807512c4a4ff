package payments

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mehtakaran/shopline-backend/internal/orders"
	"github.com/mehtakaran/shopline-backend/pkg/db/models"
	"github.com/mehtakaran/shopline-backend/pkg/enums"
	pkgerrors "github.com/mehtakaran/shopline-backend/pkg/errors"
	"github.com/mehtakaran/shopline-backend/pkg/outbox"
	"github.com/mehtakaran/shopline-backend/pkg/razorpay"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type stubVerifier struct {
	ok bool
}

func (s stubVerifier) VerifyPaymentSignature(gatewayOrderID, gatewayPaymentID, signature string) bool {
	return s.ok
}

type fixture struct {
	db       *gorm.DB
	svc      Service
	verifier *stubVerifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Order{}, &models.OrderItem{}, &models.Payment{}, &models.Shipment{}, &models.OutboxEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	verifier := &stubVerifier{ok: true}
	svc, err := NewService(Params{
		Payments: NewRepository(db),
		Orders:   orders.NewRepository(db),
		Tx:       gormTxRunner{db: db},
		Outbox:   outbox.NewService(outbox.NewRepository(db), nil),
		Verifier: verifier,
	})
	if err != nil {
		t.Fatalf("payments service: %v", err)
	}

	return &fixture{db: db, svc: svc, verifier: verifier}
}

type seeded struct {
	order   models.Order
	payment models.Payment
}

func (f *fixture) seedPendingOrder(t *testing.T) seeded {
	t.Helper()
	order := models.Order{
		ID:            uuid.New(),
		OrderNumber:   "SL-" + uuid.NewString()[:8],
		CustomerID:    uuid.New(),
		Status:        enums.OrderStatusPending,
		SubtotalPaise: 120000,
		TotalPaise:    120000,
	}
	if err := f.db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	payment := models.Payment{
		ID:             uuid.New(),
		OrderID:        order.ID,
		GatewayOrderID: "order_" + uuid.NewString()[:8],
		Method:         enums.PaymentMethodRazorpay,
		Status:         enums.PaymentStatusPending,
		AmountPaise:    120000,
	}
	if err := f.db.Create(&payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return seeded{order: order, payment: payment}
}

func capturedEvent(gatewayOrderID, gatewayPaymentID string) *razorpay.WebhookEvent {
	return &razorpay.WebhookEvent{
		Event: razorpay.EventPaymentCaptured,
		Payload: razorpay.WebhookPayload{
			Payment: &struct {
				Entity razorpay.PaymentEntity `json:"entity"`
			}{Entity: razorpay.PaymentEntity{
				ID:          gatewayPaymentID,
				OrderID:     gatewayOrderID,
				AmountPaise: 120000,
				Status:      "captured",
			}},
		},
	}
}

func refundEvent(gatewayPaymentID, refundID string, amountPaise int) *razorpay.WebhookEvent {
	return &razorpay.WebhookEvent{
		Event: razorpay.EventRefundProcessed,
		Payload: razorpay.WebhookPayload{
			Refund: &struct {
				Entity razorpay.RefundEntity `json:"entity"`
			}{Entity: razorpay.RefundEntity{
				ID:          refundID,
				PaymentID:   gatewayPaymentID,
				AmountPaise: amountPaise,
				Status:      "processed",
			}},
		},
	}
}

func TestVerifyAndCaptureAdvancesOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	s := f.seedPendingOrder(t)

	payment, err := f.svc.VerifyAndCapture(ctx, VerifyInput{
		OrderID:          s.order.ID,
		CustomerID:       s.order.CustomerID,
		GatewayPaymentID: "pay_abc123",
		Signature:        "sig",
	})
	if err != nil {
		t.Fatalf("verify and capture: %v", err)
	}
	if payment.Status != enums.PaymentStatusSuccess {
		t.Fatalf("expected SUCCESS, got %s", payment.Status)
	}
	if payment.GatewayPaymentID == nil || *payment.GatewayPaymentID != "pay_abc123" {
		t.Fatalf("expected gateway payment id recorded, got %v", payment.GatewayPaymentID)
	}

	var order models.Order
	if err := f.db.First(&order, "id = ?", s.order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if order.Status != enums.OrderStatusProcessing {
		t.Fatalf("expected PROCESSING, got %s", order.Status)
	}
}

func TestVerifyAndCaptureRejectsBadSignature(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	s := f.seedPendingOrder(t)
	f.verifier.ok = false

	_, err := f.svc.VerifyAndCapture(ctx, VerifyInput{
		OrderID:          s.order.ID,
		CustomerID:       s.order.CustomerID,
		GatewayPaymentID: "pay_abc123",
		Signature:        "forged",
	})
	if err == nil {
		t.Fatal("expected signature rejection")
	}
	if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	var payment models.Payment
	if err := f.db.First(&payment, "id = ?", s.payment.ID).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	if payment.Status != enums.PaymentStatusPending {
		t.Fatalf("expected payment untouched, got %s", payment.Status)
	}
}

func TestDuplicateCaptureEmitsOnePaidEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	s := f.seedPendingOrder(t)

	event := capturedEvent(s.payment.GatewayOrderID, "pay_abc123")
	if err := f.svc.HandleWebhook(ctx, event); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := f.svc.HandleWebhook(ctx, event); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	var eventCount int64
	if err := f.db.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventOrderPaid, s.order.ID).
		Count(&eventCount).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventCount != 1 {
		t.Fatalf("expected one order_paid event, got %d", eventCount)
	}

	var order models.Order
	if err := f.db.First(&order, "id = ?", s.order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if order.Status != enums.OrderStatusProcessing {
		t.Fatalf("expected PROCESSING, got %s", order.Status)
	}
}

func TestFailureAfterCaptureIsIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	s := f.seedPendingOrder(t)

	if err := f.svc.HandleWebhook(ctx, capturedEvent(s.payment.GatewayOrderID, "pay_abc123")); err != nil {
		t.Fatalf("capture: %v", err)
	}

	failed := &razorpay.WebhookEvent{
		Event: razorpay.EventPaymentFailed,
		Payload: razorpay.WebhookPayload{
			Payment: &struct {
				Entity razorpay.PaymentEntity `json:"entity"`
			}{Entity: razorpay.PaymentEntity{
				OrderID:          s.payment.GatewayOrderID,
				Status:           "failed",
				ErrorDescription: "card declined",
			}},
		},
	}
	if err := f.svc.HandleWebhook(ctx, failed); err != nil {
		t.Fatalf("failed event: %v", err)
	}

	var payment models.Payment
	if err := f.db.First(&payment, "id = ?", s.payment.ID).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	if payment.Status != enums.PaymentStatusSuccess {
		t.Fatalf("expected capture to stand, got %s", payment.Status)
	}
}

func TestPaymentFailedMarksPendingPayment(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	s := f.seedPendingOrder(t)

	failed := &razorpay.WebhookEvent{
		Event: razorpay.EventPaymentFailed,
		Payload: razorpay.WebhookPayload{
			Payment: &struct {
				Entity razorpay.PaymentEntity `json:"entity"`
			}{Entity: razorpay.PaymentEntity{
				OrderID:          s.payment.GatewayOrderID,
				Status:           "failed",
				ErrorDescription: "card declined",
			}},
		},
	}
	if err := f.svc.HandleWebhook(ctx, failed); err != nil {
		t.Fatalf("failed event: %v", err)
	}
	if err := f.svc.HandleWebhook(ctx, failed); err != nil {
		t.Fatalf("replayed failed event: %v", err)
	}

	var payment models.Payment
	if err := f.db.First(&payment, "id = ?", s.payment.ID).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	if payment.Status != enums.PaymentStatusFailed {
		t.Fatalf("expected FAILED, got %s", payment.Status)
	}

	var eventCount int64
	if err := f.db.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventPaymentFailed, s.payment.ID).
		Count(&eventCount).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventCount != 1 {
		t.Fatalf("expected one payment_failed event, got %d", eventCount)
	}
}

func TestRefundTotalIsMonotoneAndReplaySafe(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	s := f.seedPendingOrder(t)

	if err := f.svc.HandleWebhook(ctx, capturedEvent(s.payment.GatewayOrderID, "pay_abc123")); err != nil {
		t.Fatalf("capture: %v", err)
	}

	if err := f.svc.HandleWebhook(ctx, refundEvent("pay_abc123", "rfnd_1", 40000)); err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	// Replayed delivery of the same refund must not double count.
	if err := f.svc.HandleWebhook(ctx, refundEvent("pay_abc123", "rfnd_1", 40000)); err != nil {
		t.Fatalf("replayed refund: %v", err)
	}

	var payment models.Payment
	if err := f.db.First(&payment, "id = ?", s.payment.ID).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	if payment.RefundAmountPaise != 40000 {
		t.Fatalf("expected refund total 40000, got %d", payment.RefundAmountPaise)
	}
	if payment.Status != enums.PaymentStatusSuccess {
		t.Fatalf("expected partial refund to keep SUCCESS, got %s", payment.Status)
	}

	// The remainder, inflated past the captured amount, must clamp.
	if err := f.svc.HandleWebhook(ctx, refundEvent("pay_abc123", "rfnd_2", 90000)); err != nil {
		t.Fatalf("second refund: %v", err)
	}
	var settled models.Payment
	if err := f.db.First(&settled, "id = ?", s.payment.ID).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	if settled.RefundAmountPaise != 120000 {
		t.Fatalf("expected refund capped at 120000, got %d", settled.RefundAmountPaise)
	}
	if settled.Status != enums.PaymentStatusRefunded {
		t.Fatalf("expected REFUNDED, got %s", settled.Status)
	}
}

func TestUnknownEntitiesAreAcked(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.HandleWebhook(ctx, capturedEvent("order_missing", "pay_x")); err != nil {
		t.Fatalf("expected unknown order to be acked, got %v", err)
	}
	if err := f.svc.HandleWebhook(ctx, refundEvent("pay_missing", "rfnd_x", 100)); err != nil {
		t.Fatalf("expected unknown payment to be acked, got %v", err)
	}
	if err := f.svc.HandleWebhook(ctx, &razorpay.WebhookEvent{Event: "invoice.paid"}); err != nil {
		t.Fatalf("expected unhandled event to be acked, got %v", err)
	}
}

func TestAuthorizedRecordsPaymentIDWithoutAdvancingOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	s := f.seedPendingOrder(t)

	event := capturedEvent(s.payment.GatewayOrderID, "pay_auth001")
	event.Event = razorpay.EventPaymentAuthorized

	if err := f.svc.HandleWebhook(ctx, event); err != nil {
		t.Fatalf("authorized webhook: %v", err)
	}

	var payment models.Payment
	if err := f.db.First(&payment, "id = ?", s.payment.ID).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	if payment.Status != enums.PaymentStatusPending {
		t.Fatalf("expected payment to stay PENDING on authorization, got %s", payment.Status)
	}
	if payment.GatewayPaymentID == nil || *payment.GatewayPaymentID != "pay_auth001" {
		t.Fatalf("expected authorized payment id recorded, got %v", payment.GatewayPaymentID)
	}

	var order models.Order
	if err := f.db.First(&order, "id = ?", s.order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if order.Status != enums.OrderStatusPending {
		t.Fatalf("expected order to stay PENDING until capture, got %s", order.Status)
	}

	// Capture settles the funds and only then advances the order.
	if err := f.svc.HandleWebhook(ctx, capturedEvent(s.payment.GatewayOrderID, "pay_auth001")); err != nil {
		t.Fatalf("captured webhook: %v", err)
	}
	if err := f.db.First(&order, "id = ?", s.order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if order.Status != enums.OrderStatusProcessing {
		t.Fatalf("expected PROCESSING after capture, got %s", order.Status)
	}
}
