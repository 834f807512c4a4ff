package returns

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mehtakaran/shopline-backend/internal/orders"
	"github.com/mehtakaran/shopline-backend/internal/stock"
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

type stubGateway struct {
	refunds []int
	err     error
}

func (s *stubGateway) CreateRefund(ctx context.Context, paymentID string, amountPaise int) (*razorpay.Refund, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.refunds = append(s.refunds, amountPaise)
	return &razorpay.Refund{ID: "rfnd_ret", PaymentID: paymentID, AmountPaise: amountPaise, Status: "processed"}, nil
}

type fixture struct {
	db      *gorm.DB
	svc     Service
	gateway *stubGateway
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:returns_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Order{}, &models.OrderItem{}, &models.Payment{}, &models.Shipment{},
		&models.Return{}, &models.ReturnItem{},
		&models.Stock{}, &models.StockAdjustment{}, &models.OutboxEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	publisher := outbox.NewService(outbox.NewRepository(db), nil)
	stockSvc, err := stock.NewService(stock.NewRepository(db), publisher)
	if err != nil {
		t.Fatalf("stock service: %v", err)
	}

	gateway := &stubGateway{}
	now := time.Now()
	svc, err := NewService(Params{
		Returns:    NewRepository(db),
		Orders:     orders.NewRepository(db),
		Tx:         gormTxRunner{db: db},
		Outbox:     publisher,
		Gateway:    gateway,
		Stock:      stockSvc,
		WindowDays: 7,
		Now:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("returns service: %v", err)
	}

	return &fixture{db: db, svc: svc, gateway: gateway, now: now}
}

type seeded struct {
	order   models.Order
	item    models.OrderItem
	payment models.Payment
	stock   models.Stock
}

func (f *fixture) seedDeliveredOrder(t *testing.T, deliveredAgo time.Duration) seeded {
	t.Helper()

	stockRow := models.Stock{
		ID:          uuid.New(),
		ProductID:   uuid.New(),
		WarehouseID: uuid.New(),
		Quantity:    5,
	}
	if err := f.db.Create(&stockRow).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	order := models.Order{
		ID:            uuid.New(),
		OrderNumber:   "SL-" + uuid.NewString()[:8],
		CustomerID:    uuid.New(),
		Status:        enums.OrderStatusDelivered,
		SubtotalPaise: 120000,
		TotalPaise:    120000,
	}
	if err := f.db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	item := models.OrderItem{
		ID:             uuid.New(),
		OrderID:        order.ID,
		ProductID:      stockRow.ProductID,
		WarehouseID:    stockRow.WarehouseID,
		Name:           "Steel Bottle",
		Qty:            2,
		UnitPricePaise: 60000,
	}
	if err := f.db.Create(&item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}

	gatewayPaymentID := "pay_" + uuid.NewString()[:8]
	payment := models.Payment{
		ID:               uuid.New(),
		OrderID:          order.ID,
		GatewayOrderID:   "order_" + uuid.NewString()[:8],
		GatewayPaymentID: &gatewayPaymentID,
		Method:           enums.PaymentMethodRazorpay,
		Status:           enums.PaymentStatusSuccess,
		AmountPaise:      120000,
	}
	if err := f.db.Create(&payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	deliveredAt := f.now.Add(-deliveredAgo)
	shippedAt := deliveredAt.Add(-48 * time.Hour)
	shipment := models.Shipment{
		ID:                uuid.New(),
		OrderID:           order.ID,
		CarrierOrderID:    "4242",
		CarrierShipmentID: "8484",
		ShippedAt:         &shippedAt,
		DeliveredAt:       &deliveredAt,
	}
	if err := f.db.Create(&shipment).Error; err != nil {
		t.Fatalf("seed shipment: %v", err)
	}

	return seeded{order: order, item: item, payment: payment, stock: stockRow}
}

func (f *fixture) createReturn(t *testing.T, s seeded, method enums.RefundMethod) *models.Return {
	t.Helper()
	ret, err := f.svc.Create(context.Background(), CreateInput{
		OrderID:      s.order.ID,
		CustomerID:   s.order.CustomerID,
		Items:        []ItemInput{{OrderItemID: s.item.ID, Qty: 1}},
		RefundMethod: method,
		Reason:       "wrong size",
	})
	if err != nil {
		t.Fatalf("create return: %v", err)
	}
	return ret
}

func TestCreateWithinWindowCapturesRefundAmount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.seedDeliveredOrder(t, 6*24*time.Hour)

	ret := f.createReturn(t, s, enums.RefundMethodOriginalPayment)
	if ret.Status != enums.ReturnStatusPending {
		t.Fatalf("expected PENDING, got %s", ret.Status)
	}
	if ret.RefundAmountPaise != 60000 {
		t.Fatalf("expected refund amount 60000, got %d", ret.RefundAmountPaise)
	}
	if len(ret.Items) != 1 || ret.Items[0].Qty != 1 {
		t.Fatalf("unexpected return items %+v", ret.Items)
	}

	var eventCount int64
	if err := f.db.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventReturnRequested, ret.ID).
		Count(&eventCount).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventCount != 1 {
		t.Fatalf("expected one return_requested event, got %d", eventCount)
	}
}

func TestCreateRejectedOutsideWindow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.seedDeliveredOrder(t, 8*24*time.Hour)

	_, err := f.svc.Create(context.Background(), CreateInput{
		OrderID:      s.order.ID,
		CustomerID:   s.order.CustomerID,
		Items:        []ItemInput{{OrderItemID: s.item.ID, Qty: 1}},
		RefundMethod: enums.RefundMethodOriginalPayment,
	})
	if err == nil {
		t.Fatal("expected return outside window to be rejected")
	}
	if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestCreateGuards(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	s := f.seedDeliveredOrder(t, 24*time.Hour)

	// Foreign order item.
	_, err := f.svc.Create(ctx, CreateInput{
		OrderID:      s.order.ID,
		CustomerID:   s.order.CustomerID,
		Items:        []ItemInput{{OrderItemID: uuid.New(), Qty: 1}},
		RefundMethod: enums.RefundMethodOriginalPayment,
	})
	if err == nil {
		t.Fatal("expected foreign item to be rejected")
	}

	// More units than purchased.
	_, err = f.svc.Create(ctx, CreateInput{
		OrderID:      s.order.ID,
		CustomerID:   s.order.CustomerID,
		Items:        []ItemInput{{OrderItemID: s.item.ID, Qty: 3}},
		RefundMethod: enums.RefundMethodOriginalPayment,
	})
	if err == nil {
		t.Fatal("expected excess quantity to be rejected")
	}

	// Second active return for the order.
	f.createReturn(t, s, enums.RefundMethodOriginalPayment)
	_, err = f.svc.Create(ctx, CreateInput{
		OrderID:      s.order.ID,
		CustomerID:   s.order.CustomerID,
		Items:        []ItemInput{{OrderItemID: s.item.ID, Qty: 1}},
		RefundMethod: enums.RefundMethodOriginalPayment,
	})
	if err == nil {
		t.Fatal("expected active return to block a second return")
	}
	if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestRejectedReturnFreesOrderForNewReturn(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	s := f.seedDeliveredOrder(t, 24*time.Hour)

	first := f.createReturn(t, s, enums.RefundMethodOriginalPayment)
	if _, err := f.svc.Reject(ctx, first.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}

	if _, err := f.svc.Create(ctx, CreateInput{
		OrderID:      s.order.ID,
		CustomerID:   s.order.CustomerID,
		Items:        []ItemInput{{OrderItemID: s.item.ID, Qty: 1}},
		RefundMethod: enums.RefundMethodOriginalPayment,
	}); err != nil {
		t.Fatalf("expected new return after rejection, got %v", err)
	}
}

func TestMarkReceivedRestoresStock(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	s := f.seedDeliveredOrder(t, 24*time.Hour)

	ret := f.createReturn(t, s, enums.RefundMethodOriginalPayment)
	if _, err := f.svc.Approve(ctx, ret.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.svc.MarkReceived(ctx, ret.ID); err != nil {
		t.Fatalf("receive: %v", err)
	}

	var reloadedStock models.Stock
	if err := f.db.First(&reloadedStock, "id = ?", s.stock.ID).Error; err != nil {
		t.Fatalf("reload stock: %v", err)
	}
	if reloadedStock.Quantity != 6 {
		t.Fatalf("expected stock restored to 6, got %d", reloadedStock.Quantity)
	}

	var adjustment models.StockAdjustment
	if err := f.db.First(&adjustment, "reference_id = ?", ret.ID).Error; err != nil {
		t.Fatalf("load adjustment: %v", err)
	}
	if adjustment.Reason != enums.StockReasonReturnReceived {
		t.Fatalf("expected RETURN_RECEIVED adjustment, got %s", adjustment.Reason)
	}
}

func TestProcessRefundRequiresReceivedReturn(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	s := f.seedDeliveredOrder(t, 24*time.Hour)

	ret := f.createReturn(t, s, enums.RefundMethodOriginalPayment)
	if _, err := f.svc.Approve(ctx, ret.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	_, err := f.svc.ProcessRefund(ctx, ret.ID)
	if err == nil {
		t.Fatal("expected refund before receipt to be rejected")
	}
	if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if len(f.gateway.refunds) != 0 {
		t.Fatal("expected no gateway refund")
	}
}

func TestProcessRefundViaGatewayCompletesSaga(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	s := f.seedDeliveredOrder(t, 24*time.Hour)

	ret := f.createReturn(t, s, enums.RefundMethodOriginalPayment)
	if _, err := f.svc.Approve(ctx, ret.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.svc.MarkReceived(ctx, ret.ID); err != nil {
		t.Fatalf("receive: %v", err)
	}

	refunded, err := f.svc.ProcessRefund(ctx, ret.ID)
	if err != nil {
		t.Fatalf("process refund: %v", err)
	}
	if refunded.Status != enums.ReturnStatusRefundCompleted {
		t.Fatalf("expected REFUND_COMPLETED, got %s", refunded.Status)
	}
	if len(f.gateway.refunds) != 1 || f.gateway.refunds[0] != 60000 {
		t.Fatalf("expected one refund of 60000, got %v", f.gateway.refunds)
	}

	var payment models.Payment
	if err := f.db.First(&payment, "id = ?", s.payment.ID).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	if payment.RefundAmountPaise != 60000 {
		t.Fatalf("expected refund total 60000, got %d", payment.RefundAmountPaise)
	}
	if payment.Status != enums.PaymentStatusSuccess {
		t.Fatalf("expected partial refund to keep SUCCESS, got %s", payment.Status)
	}

	var eventCount int64
	if err := f.db.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventReturnRefunded, ret.ID).
		Count(&eventCount).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventCount != 1 {
		t.Fatalf("expected one return_refunded event, got %d", eventCount)
	}
}

func TestManualRefundInitiatesThenCompletes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	s := f.seedDeliveredOrder(t, 24*time.Hour)

	ret := f.createReturn(t, s, enums.RefundMethodBankTransfer)
	if _, err := f.svc.Approve(ctx, ret.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.svc.MarkReceived(ctx, ret.ID); err != nil {
		t.Fatalf("receive: %v", err)
	}

	initiated, err := f.svc.ProcessRefund(ctx, ret.ID)
	if err != nil {
		t.Fatalf("process refund: %v", err)
	}
	if initiated.Status != enums.ReturnStatusRefundInitiated {
		t.Fatalf("expected REFUND_INITIATED, got %s", initiated.Status)
	}
	if len(f.gateway.refunds) != 0 {
		t.Fatal("expected no gateway refund for manual method")
	}

	completed, err := f.svc.MarkRefundCompleted(ctx, ret.ID)
	if err != nil {
		t.Fatalf("complete refund: %v", err)
	}
	if completed.Status != enums.ReturnStatusRefundCompleted {
		t.Fatalf("expected REFUND_COMPLETED, got %s", completed.Status)
	}
}
