package checkout

import (
	"context"
	"errors"
	"testing"

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
	"github.com/mehtakaran/shopline-backend/pkg/types"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type stubGateway struct {
	calls []razorpay.OrderCreateParams
	err   error
}

func (s *stubGateway) CreateOrder(ctx context.Context, params razorpay.OrderCreateParams) (*razorpay.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.calls = append(s.calls, params)
	return &razorpay.Order{
		ID:          "order_stub",
		AmountPaise: params.AmountPaise,
		Currency:    params.Currency,
		Receipt:     params.Receipt,
		Status:      "created",
	}, nil
}

func (s *stubGateway) KeyID() string {
	return "rzp_test_key"
}

type fixture struct {
	db      *gorm.DB
	svc     Service
	gateway *stubGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:checkout_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Order{}, &models.OrderItem{}, &models.Payment{}, &models.Shipment{},
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
	svc, err := NewService(Params{
		Orders:  orders.NewRepository(db),
		Tx:      gormTxRunner{db: db},
		Outbox:  publisher,
		Gateway: gateway,
		Stock:   stockSvc,
		Pricing: Pricing{FreeShippingMinPaise: 100000, FlatShippingPaise: 5000},
	})
	if err != nil {
		t.Fatalf("checkout service: %v", err)
	}

	return &fixture{db: db, svc: svc, gateway: gateway}
}

func (f *fixture) seedStock(t *testing.T, qty int) models.Stock {
	t.Helper()
	row := models.Stock{
		ID:                uuid.New(),
		ProductID:         uuid.New(),
		WarehouseID:       uuid.New(),
		Quantity:          qty,
		LowStockThreshold: 2,
	}
	if err := f.db.Create(&row).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	return row
}

func testAddress() types.Address {
	return types.Address{
		Name:       "Asha Rao",
		Phone:      "9876543210",
		Line1:      "14 MG Road",
		City:       "Bengaluru",
		State:      "Karnataka",
		PostalCode: "560001",
		Country:    "IN",
	}
}

func TestCheckoutFreeShippingOverThreshold(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	stockRow := f.seedStock(t, 10)

	result, err := f.svc.Checkout(ctx, Input{
		CustomerID: uuid.New(),
		Items: []LineInput{{
			ProductID:      stockRow.ProductID,
			WarehouseID:    stockRow.WarehouseID,
			Name:           "Steel Bottle",
			Qty:            2,
			UnitPricePaise: 60000,
		}},
		Method:          enums.PaymentMethodRazorpay,
		ShippingAddress: testAddress(),
		BillingAddress:  testAddress(),
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if result.Order.SubtotalPaise != 120000 {
		t.Fatalf("expected subtotal 120000, got %d", result.Order.SubtotalPaise)
	}
	if result.Order.ShippingPaise != 0 {
		t.Fatalf("expected free shipping, got %d", result.Order.ShippingPaise)
	}
	if result.AmountPaise != 120000 {
		t.Fatalf("expected total 120000, got %d", result.AmountPaise)
	}
	if result.GatewayOrderID != "order_stub" {
		t.Fatalf("unexpected gateway order id %q", result.GatewayOrderID)
	}
	if result.GatewayKeyID != "rzp_test_key" {
		t.Fatalf("unexpected gateway key %q", result.GatewayKeyID)
	}

	var reloadedStock models.Stock
	if err := f.db.First(&reloadedStock, "id = ?", stockRow.ID).Error; err != nil {
		t.Fatalf("reload stock: %v", err)
	}
	if reloadedStock.Quantity != 8 {
		t.Fatalf("expected stock reserved down to 8, got %d", reloadedStock.Quantity)
	}

	var payment models.Payment
	if err := f.db.First(&payment, "order_id = ?", result.Order.ID).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if payment.Status != enums.PaymentStatusPending {
		t.Fatalf("expected pending payment, got %s", payment.Status)
	}
	if payment.GatewayOrderID != "order_stub" {
		t.Fatalf("expected gateway order id on payment, got %q", payment.GatewayOrderID)
	}

	var eventCount int64
	if err := f.db.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventOrderCreated, result.Order.ID).
		Count(&eventCount).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventCount != 1 {
		t.Fatalf("expected one order_created event, got %d", eventCount)
	}
}

func TestCheckoutFlatShippingUnderThreshold(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	stockRow := f.seedStock(t, 10)

	result, err := f.svc.Checkout(ctx, Input{
		CustomerID: uuid.New(),
		Items: []LineInput{{
			ProductID:      stockRow.ProductID,
			WarehouseID:    stockRow.WarehouseID,
			Name:           "Notebook",
			Qty:            1,
			UnitPricePaise: 50000,
		}},
		Method:          enums.PaymentMethodRazorpay,
		ShippingAddress: testAddress(),
		BillingAddress:  testAddress(),
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if result.Order.ShippingPaise != 5000 {
		t.Fatalf("expected flat shipping 5000, got %d", result.Order.ShippingPaise)
	}
	if result.AmountPaise != 55000 {
		t.Fatalf("expected total 55000, got %d", result.AmountPaise)
	}
	if len(f.gateway.calls) != 1 || f.gateway.calls[0].AmountPaise != 55000 {
		t.Fatalf("expected gateway intent for 55000, got %+v", f.gateway.calls)
	}
}

func TestCheckoutInsufficientStockRejectedBeforeGateway(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	stockRow := f.seedStock(t, 1)

	_, err := f.svc.Checkout(ctx, Input{
		CustomerID: uuid.New(),
		Items: []LineInput{{
			ProductID:      stockRow.ProductID,
			WarehouseID:    stockRow.WarehouseID,
			Name:           "Steel Bottle",
			Qty:            3,
			UnitPricePaise: 60000,
		}},
		Method:          enums.PaymentMethodRazorpay,
		ShippingAddress: testAddress(),
		BillingAddress:  testAddress(),
	})
	if err == nil {
		t.Fatal("expected insufficient stock to reject checkout")
	}
	if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if len(f.gateway.calls) != 0 {
		t.Fatal("expected no gateway call")
	}

	var orderCount int64
	if err := f.db.Model(&models.Order{}).Count(&orderCount).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orderCount != 0 {
		t.Fatal("expected no order persisted")
	}
}

func TestCheckoutMergesDuplicateLines(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	stockRow := f.seedStock(t, 10)

	line := LineInput{
		ProductID:      stockRow.ProductID,
		WarehouseID:    stockRow.WarehouseID,
		Name:           "Steel Bottle",
		Qty:            1,
		UnitPricePaise: 60000,
	}
	result, err := f.svc.Checkout(ctx, Input{
		CustomerID:      uuid.New(),
		Items:           []LineInput{line, line},
		Method:          enums.PaymentMethodRazorpay,
		ShippingAddress: testAddress(),
		BillingAddress:  testAddress(),
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	var items []models.OrderItem
	if err := f.db.Where("order_id = ?", result.Order.ID).Find(&items).Error; err != nil {
		t.Fatalf("load items: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected merged single item, got %d", len(items))
	}
	if items[0].Qty != 2 {
		t.Fatalf("expected merged qty 2, got %d", items[0].Qty)
	}

	var adjustments int64
	if err := f.db.Model(&models.StockAdjustment{}).
		Where("stock_id = ?", stockRow.ID).
		Count(&adjustments).Error; err != nil {
		t.Fatalf("count adjustments: %v", err)
	}
	if adjustments != 1 {
		t.Fatalf("expected one ledger entry, got %d", adjustments)
	}
}

func TestCheckoutGatewayFailureLeavesNothingBehind(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	stockRow := f.seedStock(t, 10)
	f.gateway.err = errors.New("gateway down")

	_, err := f.svc.Checkout(ctx, Input{
		CustomerID: uuid.New(),
		Items: []LineInput{{
			ProductID:      stockRow.ProductID,
			WarehouseID:    stockRow.WarehouseID,
			Name:           "Steel Bottle",
			Qty:            1,
			UnitPricePaise: 60000,
		}},
		Method:          enums.PaymentMethodRazorpay,
		ShippingAddress: testAddress(),
		BillingAddress:  testAddress(),
	})
	if err == nil {
		t.Fatal("expected gateway failure to surface")
	}

	var orderCount int64
	if err := f.db.Model(&models.Order{}).Count(&orderCount).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orderCount != 0 {
		t.Fatal("expected no order persisted")
	}

	var reloadedStock models.Stock
	if err := f.db.First(&reloadedStock, "id = ?", stockRow.ID).Error; err != nil {
		t.Fatalf("reload stock: %v", err)
	}
	if reloadedStock.Quantity != 10 {
		t.Fatalf("expected stock untouched, got %d", reloadedStock.Quantity)
	}
}

func TestCheckoutRejectsDiscountOverSubtotal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	stockRow := f.seedStock(t, 10)

	_, err := f.svc.Checkout(ctx, Input{
		CustomerID: uuid.New(),
		Items: []LineInput{{
			ProductID:      stockRow.ProductID,
			WarehouseID:    stockRow.WarehouseID,
			Name:           "Notebook",
			Qty:            1,
			UnitPricePaise: 10000,
		}},
		DiscountPaise:   20000,
		Method:          enums.PaymentMethodRazorpay,
		ShippingAddress: testAddress(),
		BillingAddress:  testAddress(),
	})
	if err == nil {
		t.Fatal("expected discount over subtotal to be rejected")
	}
	if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
