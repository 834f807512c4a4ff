package shipping

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mehtakaran/shopline-backend/internal/orders"
	"github.com/mehtakaran/shopline-backend/pkg/db/models"
	"github.com/mehtakaran/shopline-backend/pkg/enums"
	pkgerrors "github.com/mehtakaran/shopline-backend/pkg/errors"
	"github.com/mehtakaran/shopline-backend/pkg/logger"
	"github.com/mehtakaran/shopline-backend/pkg/outbox"
	"github.com/mehtakaran/shopline-backend/pkg/shiprocket"
)

// Default parcel dimensions used when the catalog carries no measurements.
var (
	defaultItemWeightKg = decimal.NewFromFloat(0.5)
	defaultParcelCm     = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Carrier is the slice of the carrier API the coordinator drives.
type Carrier interface {
	CreateOrder(ctx context.Context, params shiprocket.OrderCreateParams) (*shiprocket.OrderCreateResult, error)
	GetAvailableCouriers(ctx context.Context, deliveryPincode string, weightKg decimal.Decimal, cod bool) ([]shiprocket.Courier, error)
	AssignAWB(ctx context.Context, shipmentID int64, courierID int) (*shiprocket.AWBAssignment, error)
	SchedulePickup(ctx context.Context, shipmentID int64) error
}

// SweepReport summarizes one waybill sweep pass.
type SweepReport struct {
	Scanned          int
	WaybillsAssigned int
	PickupsScheduled int
	Failures         int
}

// Service coordinates carrier-side shipment state.
type Service interface {
	CreateShipment(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error)
	AssignCourier(ctx context.Context, orderID uuid.UUID, courierID int) (*models.Shipment, error)
	CourierOptions(ctx context.Context, orderID uuid.UUID) ([]shiprocket.Courier, error)
	SweepPendingWaybills(ctx context.Context, batchSize int) (*SweepReport, error)
	HandleWebhook(ctx context.Context, payload CarrierWebhook) error
}

// Params carries the service dependencies.
type Params struct {
	Shipments Repository
	Orders    orders.Repository
	Tx        txRunner
	Outbox    outboxPublisher
	Carrier   Carrier
	Logger    *logger.Logger
	Now       func() time.Time
}

type service struct {
	shipments Repository
	orders    orders.Repository
	tx        txRunner
	outbox    outboxPublisher
	carrier   Carrier
	logg      *logger.Logger
	now       func() time.Time
}

// NewService builds the shipment coordinator.
func NewService(params Params) (Service, error) {
	if params.Shipments == nil {
		return nil, fmt.Errorf("shipments repository required")
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
	if params.Carrier == nil {
		return nil, fmt.Errorf("carrier client required")
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &service{
		shipments: params.Shipments,
		orders:    params.Orders,
		tx:        params.Tx,
		outbox:    params.Outbox,
		carrier:   params.Carrier,
		logg:      params.Logger,
		now:       params.Now,
	}, nil
}

// CreateShipment registers the order with the carrier and persists the
// returned identifiers. Only paid orders without an existing shipment qualify.
func (s *service) CreateShipment(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.Status != enums.OrderStatusProcessing {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order in %s cannot be shipped", order.Status))
	}
	if order.Shipment != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order already has a shipment")
	}
	if len(order.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no items to ship")
	}

	result, err := s.carrier.CreateOrder(ctx, carrierOrderParams(order, s.now()))
	if err != nil {
		return nil, err
	}

	shipment := &models.Shipment{
		ID:                uuid.New(),
		OrderID:           order.ID,
		CarrierOrderID:    strconv.FormatInt(result.OrderID, 10),
		CarrierShipmentID: strconv.FormatInt(result.ShipmentID, 10),
	}
	if err := s.shipments.Create(ctx, shipment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create shipment")
	}
	return shipment, nil
}

// CourierOptions quotes serviceable couriers for the order's destination.
func (s *service) CourierOptions(ctx context.Context, orderID uuid.UUID) ([]shiprocket.Courier, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	cod := order.Payment != nil && order.Payment.Method == enums.PaymentMethodCOD
	return s.carrier.GetAvailableCouriers(ctx, order.ShippingAddress.PostalCode, orderWeightKg(order.Items), cod)
}

// AssignCourier requests a waybill, optionally pinning a courier, and books
// the pickup. A pickup failure keeps the assigned waybill so the sweep or a
// retry can book it later.
func (s *service) AssignCourier(ctx context.Context, orderID uuid.UUID, courierID int) (*models.Shipment, error) {
	shipment, err := s.shipments.FindByOrderID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
	}

	if shipment.Waybill == nil {
		carrierShipmentID, err := strconv.ParseInt(shipment.CarrierShipmentID, 10, 64)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "carrier shipment id unparseable")
		}
		assignment, err := s.carrier.AssignAWB(ctx, carrierShipmentID, courierID)
		if err != nil {
			return nil, err
		}
		if err := s.shipments.Update(ctx, shipment.ID, map[string]any{
			"waybill":      assignment.Waybill,
			"courier_id":   assignment.CourierID,
			"courier_name": assignment.CourierName,
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record waybill")
		}
		shipment.Waybill = &assignment.Waybill
		shipment.CourierID = &assignment.CourierID
		shipment.CourierName = &assignment.CourierName
	}

	if !shipment.PickupScheduled {
		if err := s.schedulePickup(ctx, shipment); err != nil {
			s.logWarn(ctx, "pickup scheduling failed, waybill kept", map[string]any{
				"shipment_id": shipment.ID,
				"error":       err.Error(),
			})
		}
	}
	return shipment, nil
}

// SweepPendingWaybills assigns waybills to paid orders the carrier accepted
// but never got one, then books pickups. One pass over a bounded batch; a
// failing order never blocks the rest of the batch.
func (s *service) SweepPendingWaybills(ctx context.Context, batchSize int) (*SweepReport, error) {
	if batchSize <= 0 {
		batchSize = 25
	}

	pending, err := s.shipments.ListAwaitingWaybill(ctx, batchSize)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shipments awaiting waybill")
	}

	report := &SweepReport{Scanned: len(pending)}
	for i := range pending {
		shipment := pending[i]

		carrierShipmentID, parseErr := strconv.ParseInt(shipment.CarrierShipmentID, 10, 64)
		if parseErr != nil {
			report.Failures++
			s.logWarn(ctx, "sweep skipped unparseable carrier shipment id", map[string]any{
				"shipment_id": shipment.ID,
			})
			continue
		}
		if shipment.CourierID == nil {
			report.Failures++
			s.logWarn(ctx, "sweep skipped shipment without a chosen courier", map[string]any{
				"shipment_id": shipment.ID,
			})
			continue
		}

		assignment, awbErr := s.carrier.AssignAWB(ctx, carrierShipmentID, *shipment.CourierID)
		if awbErr != nil {
			report.Failures++
			s.logWarn(ctx, "sweep waybill assignment failed", map[string]any{
				"shipment_id": shipment.ID,
				"error":       awbErr.Error(),
			})
			continue
		}
		if err := s.shipments.Update(ctx, shipment.ID, map[string]any{
			"waybill":      assignment.Waybill,
			"courier_id":   assignment.CourierID,
			"courier_name": assignment.CourierName,
		}); err != nil {
			report.Failures++
			s.logWarn(ctx, "sweep waybill persist failed", map[string]any{
				"shipment_id": shipment.ID,
				"error":       err.Error(),
			})
			continue
		}
		report.WaybillsAssigned++
		shipment.Waybill = &assignment.Waybill

		// Pickup is best-effort; the waybill survives a failure and the next
		// pickup attempt happens through AssignCourier or manually.
		if err := s.schedulePickup(ctx, &shipment); err != nil {
			s.logWarn(ctx, "sweep pickup scheduling failed, waybill kept", map[string]any{
				"shipment_id": shipment.ID,
				"error":       err.Error(),
			})
			continue
		}
		report.PickupsScheduled++
	}
	return report, nil
}

func (s *service) schedulePickup(ctx context.Context, shipment *models.Shipment) error {
	carrierShipmentID, err := strconv.ParseInt(shipment.CarrierShipmentID, 10, 64)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "carrier shipment id unparseable")
	}
	if err := s.carrier.SchedulePickup(ctx, carrierShipmentID); err != nil {
		return err
	}
	if err := s.shipments.Update(ctx, shipment.ID, map[string]any{"pickup_scheduled": true}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record pickup")
	}
	shipment.PickupScheduled = true
	return nil
}

func (s *service) logWarn(ctx context.Context, msg string, fields map[string]any) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithFields(ctx, fields)
	s.logg.Warn(ctx, msg)
}

func carrierOrderParams(order *models.Order, now time.Time) shiprocket.OrderCreateParams {
	items := make([]shiprocket.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, shiprocket.OrderItem{
			Name:         item.Name,
			SKU:          item.ProductID.String(),
			Units:        item.Qty,
			SellingPrice: paiseToRupees(item.UnitPricePaise).StringFixed(2),
		})
	}

	method := "Prepaid"
	if order.Payment != nil && order.Payment.Method == enums.PaymentMethodCOD {
		method = "COD"
	}

	addr := order.ShippingAddress
	street := addr.Line1
	if strings.TrimSpace(addr.Line2) != "" {
		street += ", " + addr.Line2
	}

	return shiprocket.OrderCreateParams{
		OrderNumber:    order.OrderNumber,
		OrderDate:      now,
		BillingName:    addr.Name,
		BillingPhone:   addr.Phone,
		BillingAddress: street,
		BillingCity:    addr.City,
		BillingState:   addr.State,
		BillingPincode: addr.PostalCode,
		BillingCountry: addr.Country,
		Items:          items,
		PaymentMethod:  method,
		SubTotalRupees: paiseToRupees(order.TotalPaise),
		WeightKg:       orderWeightKg(order.Items),
		LengthCm:       defaultParcelCm,
		BreadthCm:      defaultParcelCm,
		HeightCm:       defaultParcelCm,
	}
}

func paiseToRupees(paise int) decimal.Decimal {
	return decimal.NewFromInt(int64(paise)).Div(decimal.NewFromInt(100))
}

func orderWeightKg(items []models.OrderItem) decimal.Decimal {
	units := 0
	for _, item := range items {
		units += item.Qty
	}
	if units == 0 {
		units = 1
	}
	return defaultItemWeightKg.Mul(decimal.NewFromInt(int64(units)))
}
