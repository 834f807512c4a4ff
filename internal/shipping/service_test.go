package shipping

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mehtakaran/shopline-backend/internal/orders"
	"github.com/mehtakaran/shopline-backend/pkg/db/models"
	"github.com/mehtakaran/shopline-backend/pkg/enums"
	pkgerrors "github.com/mehtakaran/shopline-backend/pkg/errors"
	"github.com/mehtakaran/shopline-backend/pkg/outbox"
	"github.com/mehtakaran/shopline-backend/pkg/shiprocket"
	"github.com/mehtakaran/shopline-backend/pkg/types"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type stubCarrier struct {
	createResult *shiprocket.OrderCreateResult
	createParams []shiprocket.OrderCreateParams
	createErr    error

	awbErrFor   map[int64]error
	awbCalls    []int64
	awbCouriers []int

	pickupErr   error
	pickupCalls []int64
}

func (s *stubCarrier) CreateOrder(ctx context.Context, params shiprocket.OrderCreateParams) (*shiprocket.OrderCreateResult, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.createParams = append(s.createParams, params)
	if s.createResult != nil {
		return s.createResult, nil
	}
	return &shiprocket.OrderCreateResult{OrderID: 4242, ShipmentID: 8484, Status: "NEW"}, nil
}

func (s *stubCarrier) GetAvailableCouriers(ctx context.Context, deliveryPincode string, weightKg decimal.Decimal, cod bool) ([]shiprocket.Courier, error) {
	return []shiprocket.Courier{{ID: 7, Name: "Bluedart", Rate: decimal.NewFromInt(80)}}, nil
}

func (s *stubCarrier) AssignAWB(ctx context.Context, shipmentID int64, courierID int) (*shiprocket.AWBAssignment, error) {
	s.awbCalls = append(s.awbCalls, shipmentID)
	s.awbCouriers = append(s.awbCouriers, courierID)
	if err := s.awbErrFor[shipmentID]; err != nil {
		return nil, err
	}
	return &shiprocket.AWBAssignment{Waybill: "AWB123456", CourierID: 7, CourierName: "Bluedart"}, nil
}

func (s *stubCarrier) SchedulePickup(ctx context.Context, shipmentID int64) error {
	if s.pickupErr != nil {
		return s.pickupErr
	}
	s.pickupCalls = append(s.pickupCalls, shipmentID)
	return nil
}

type fixture struct {
	db      *gorm.DB
	svc     Service
	carrier *stubCarrier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:shipping_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Order{}, &models.OrderItem{}, &models.Payment{}, &models.Shipment{}, &models.OutboxEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	carrier := &stubCarrier{awbErrFor: map[int64]error{}}
	svc, err := NewService(Params{
		Shipments: NewRepository(db),
		Orders:    orders.NewRepository(db),
		Tx:        gormTxRunner{db: db},
		Outbox:    outbox.NewService(outbox.NewRepository(db), nil),
		Carrier:   carrier,
	})
	if err != nil {
		t.Fatalf("shipping service: %v", err)
	}

	return &fixture{db: db, svc: svc, carrier: carrier}
}

func (f *fixture) seedOrder(t *testing.T, status enums.OrderStatus, method enums.PaymentMethod) models.Order {
	t.Helper()
	order := models.Order{
		ID:            uuid.New(),
		OrderNumber:   "SL-" + uuid.NewString()[:8],
		CustomerID:    uuid.New(),
		Status:        status,
		SubtotalPaise: 120000,
		TotalPaise:    120000,
		ShippingAddress: types.Address{
			Name:       "Asha Rao",
			Phone:      "9876543210",
			Line1:      "14 MG Road",
			City:       "Bengaluru",
			State:      "Karnataka",
			PostalCode: "560001",
			Country:    "IN",
		},
	}
	if err := f.db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	item := models.OrderItem{
		ID:             uuid.New(),
		OrderID:        order.ID,
		ProductID:      uuid.New(),
		WarehouseID:    uuid.New(),
		Name:           "Steel Bottle",
		Qty:            2,
		UnitPricePaise: 60000,
	}
	if err := f.db.Create(&item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	payment := models.Payment{
		ID:             uuid.New(),
		OrderID:        order.ID,
		GatewayOrderID: "order_" + uuid.NewString()[:8],
		Method:         method,
		Status:         enums.PaymentStatusSuccess,
		AmountPaise:    120000,
	}
	if err := f.db.Create(&payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return order
}

func (f *fixture) seedShipment(t *testing.T, orderID uuid.UUID, carrierShipmentID string) models.Shipment {
	t.Helper()
	courierID := 7
	shipment := models.Shipment{
		ID:                uuid.New(),
		OrderID:           orderID,
		CarrierOrderID:    "4242",
		CarrierShipmentID: carrierShipmentID,
		CourierID:         &courierID,
	}
	if err := f.db.Create(&shipment).Error; err != nil {
		t.Fatalf("seed shipment: %v", err)
	}
	return shipment
}

func TestCreateShipmentRegistersCarrierOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusProcessing, enums.PaymentMethodCOD)

	shipment, err := f.svc.CreateShipment(ctx, order.ID)
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}
	if shipment.CarrierOrderID != "4242" || shipment.CarrierShipmentID != "8484" {
		t.Fatalf("unexpected carrier ids %s/%s", shipment.CarrierOrderID, shipment.CarrierShipmentID)
	}

	if len(f.carrier.createParams) != 1 {
		t.Fatalf("expected one carrier call, got %d", len(f.carrier.createParams))
	}
	params := f.carrier.createParams[0]
	if params.PaymentMethod != "COD" {
		t.Fatalf("expected COD payment method, got %q", params.PaymentMethod)
	}
	if params.SubTotalRupees.StringFixed(2) != "1200.00" {
		t.Fatalf("expected subtotal 1200.00 rupees, got %s", params.SubTotalRupees.StringFixed(2))
	}
	if params.BillingPincode != "560001" {
		t.Fatalf("expected destination pincode, got %q", params.BillingPincode)
	}
}

func TestCreateShipmentGuards(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	pending := f.seedOrder(t, enums.OrderStatusPending, enums.PaymentMethodRazorpay)
	if _, err := f.svc.CreateShipment(ctx, pending.ID); err == nil {
		t.Fatal("expected unpaid order to be rejected")
	}

	processing := f.seedOrder(t, enums.OrderStatusProcessing, enums.PaymentMethodRazorpay)
	f.seedShipment(t, processing.ID, "8484")
	_, err := f.svc.CreateShipment(ctx, processing.ID)
	if err == nil {
		t.Fatal("expected existing shipment to be rejected")
	}
	if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestSweepIsolatesFailingOrders(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	okOrder := f.seedOrder(t, enums.OrderStatusProcessing, enums.PaymentMethodRazorpay)
	okShipment := f.seedShipment(t, okOrder.ID, "1001")
	badOrder := f.seedOrder(t, enums.OrderStatusProcessing, enums.PaymentMethodRazorpay)
	badShipment := f.seedShipment(t, badOrder.ID, "1002")
	f.carrier.awbErrFor[1002] = errors.New("no courier serviceable")

	report, err := f.svc.SweepPendingWaybills(ctx, 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Scanned != 2 {
		t.Fatalf("expected 2 scanned, got %d", report.Scanned)
	}
	if report.WaybillsAssigned != 1 || report.Failures != 1 {
		t.Fatalf("expected 1 assigned and 1 failure, got %+v", report)
	}

	var reloaded models.Shipment
	if err := f.db.First(&reloaded, "id = ?", okShipment.ID).Error; err != nil {
		t.Fatalf("reload shipment: %v", err)
	}
	if reloaded.Waybill == nil || *reloaded.Waybill != "AWB123456" {
		t.Fatalf("expected waybill assigned, got %v", reloaded.Waybill)
	}
	if !reloaded.PickupScheduled {
		t.Fatal("expected pickup scheduled")
	}

	var failed models.Shipment
	if err := f.db.First(&failed, "id = ?", badShipment.ID).Error; err != nil {
		t.Fatalf("reload failed shipment: %v", err)
	}
	if failed.Waybill != nil {
		t.Fatal("expected failed shipment to keep no waybill")
	}

	var order models.Order
	if err := f.db.First(&order, "id = ?", badOrder.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if order.Status != enums.OrderStatusProcessing {
		t.Fatalf("expected failed order to stay PROCESSING, got %s", order.Status)
	}
}

func TestSweepPickupFailureKeepsWaybill(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	order := f.seedOrder(t, enums.OrderStatusProcessing, enums.PaymentMethodRazorpay)
	shipment := f.seedShipment(t, order.ID, "1001")
	f.carrier.pickupErr = errors.New("pickup slot unavailable")

	report, err := f.svc.SweepPendingWaybills(ctx, 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.WaybillsAssigned != 1 || report.PickupsScheduled != 0 {
		t.Fatalf("expected waybill without pickup, got %+v", report)
	}

	var reloaded models.Shipment
	if err := f.db.First(&reloaded, "id = ?", shipment.ID).Error; err != nil {
		t.Fatalf("reload shipment: %v", err)
	}
	if reloaded.Waybill == nil || *reloaded.Waybill != "AWB123456" {
		t.Fatalf("expected waybill kept, got %v", reloaded.Waybill)
	}
	if reloaded.PickupScheduled {
		t.Fatal("expected pickup not scheduled")
	}

	var reloadedOrder models.Order
	if err := f.db.First(&reloadedOrder, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if reloadedOrder.Status != enums.OrderStatusProcessing {
		t.Fatalf("expected order to stay PROCESSING, got %s", reloadedOrder.Status)
	}
}

func TestWebhookNormalizesAndAdvancesOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	order := f.seedOrder(t, enums.OrderStatusProcessing, enums.PaymentMethodRazorpay)
	shipment := f.seedShipment(t, order.ID, "1001")
	waybill := "AWB123456"
	if err := f.db.Model(&models.Shipment{}).Where("id = ?", shipment.ID).
		Update("waybill", waybill).Error; err != nil {
		t.Fatalf("set waybill: %v", err)
	}

	if err := f.svc.HandleWebhook(ctx, CarrierWebhook{AWB: waybill, CurrentStatus: "Picked Up"}); err != nil {
		t.Fatalf("shipped update: %v", err)
	}
	if err := f.svc.HandleWebhook(ctx, CarrierWebhook{AWB: waybill, CurrentStatus: "out-for-delivery"}); err != nil {
		t.Fatalf("ofd update: %v", err)
	}
	if err := f.svc.HandleWebhook(ctx, CarrierWebhook{AWB: waybill, CurrentStatus: "DELIVERED"}); err != nil {
		t.Fatalf("delivered update: %v", err)
	}
	// Replayed final scan must change nothing.
	if err := f.svc.HandleWebhook(ctx, CarrierWebhook{AWB: waybill, CurrentStatus: "DELIVERED"}); err != nil {
		t.Fatalf("replayed delivered update: %v", err)
	}

	var reloadedOrder models.Order
	if err := f.db.First(&reloadedOrder, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if reloadedOrder.Status != enums.OrderStatusDelivered {
		t.Fatalf("expected DELIVERED, got %s", reloadedOrder.Status)
	}

	var reloadedShipment models.Shipment
	if err := f.db.First(&reloadedShipment, "id = ?", shipment.ID).Error; err != nil {
		t.Fatalf("reload shipment: %v", err)
	}
	if reloadedShipment.ShippedAt == nil {
		t.Fatal("expected shipped_at stamped")
	}
	if reloadedShipment.DeliveredAt == nil {
		t.Fatal("expected delivered_at stamped")
	}

	var shippedEvents, deliveredEvents int64
	if err := f.db.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventOrderShipped, order.ID).
		Count(&shippedEvents).Error; err != nil {
		t.Fatalf("count shipped events: %v", err)
	}
	if err := f.db.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventOrderDelivered, order.ID).
		Count(&deliveredEvents).Error; err != nil {
		t.Fatalf("count delivered events: %v", err)
	}
	if shippedEvents != 1 || deliveredEvents != 1 {
		t.Fatalf("expected one shipped and one delivered event, got %d/%d", shippedEvents, deliveredEvents)
	}
}

func TestWebhookUnknownStatusAndShipmentAreAcked(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.HandleWebhook(ctx, CarrierWebhook{AWB: "AWBX", CurrentStatus: "Label Generated"}); err != nil {
		t.Fatalf("expected unknown status to be acked, got %v", err)
	}
	if err := f.svc.HandleWebhook(ctx, CarrierWebhook{AWB: "AWBX", CurrentStatus: "DELIVERED"}); err != nil {
		t.Fatalf("expected unknown shipment to be acked, got %v", err)
	}
}

func TestSweepPinsStoredCourierAndSkipsUnchosen(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	chosenOrder := f.seedOrder(t, enums.OrderStatusProcessing, enums.PaymentMethodRazorpay)
	f.seedShipment(t, chosenOrder.ID, "1001")

	// No courier selected yet; courier assignment owns this shipment, the
	// sweep must leave it alone.
	unchosenOrder := f.seedOrder(t, enums.OrderStatusProcessing, enums.PaymentMethodRazorpay)
	unchosen := models.Shipment{
		ID:                uuid.New(),
		OrderID:           unchosenOrder.ID,
		CarrierOrderID:    "4242",
		CarrierShipmentID: "1002",
	}
	if err := f.db.Create(&unchosen).Error; err != nil {
		t.Fatalf("seed shipment: %v", err)
	}

	report, err := f.svc.SweepPendingWaybills(ctx, 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Scanned != 1 {
		t.Fatalf("expected only the chosen-courier shipment scanned, got %d", report.Scanned)
	}
	if len(f.carrier.awbCouriers) != 1 || f.carrier.awbCouriers[0] != 7 {
		t.Fatalf("expected AWB request pinned to courier 7, got %v", f.carrier.awbCouriers)
	}

	var untouched models.Shipment
	if err := f.db.First(&untouched, "id = ?", unchosen.ID).Error; err != nil {
		t.Fatalf("reload shipment: %v", err)
	}
	if untouched.Waybill != nil {
		t.Fatal("expected shipment without a courier to keep no waybill")
	}
}
