package checkout

import (
	"context"
	"fmt"
	"strings"
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
	"github.com/mehtakaran/shopline-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// GatewayIntentCreator opens the collection order at the payment gateway.
type GatewayIntentCreator interface {
	CreateOrder(ctx context.Context, params razorpay.OrderCreateParams) (*razorpay.Order, error)
	KeyID() string
}

// StockReserver checks availability and reserves stock for an order.
type StockReserver interface {
	Available(ctx context.Context, key stock.ItemKey, qty int) (bool, error)
	ReserveForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []stock.Line) error
}

// Pricing carries the shipping rules applied at checkout.
type Pricing struct {
	FreeShippingMinPaise int
	FlatShippingPaise    int
}

// LineInput is one requested product at checkout. The unit price comes from
// the caller's catalog lookup and is frozen onto the order item.
type LineInput struct {
	ProductID      uuid.UUID
	VariantID      *uuid.UUID
	WarehouseID    uuid.UUID
	Name           string
	Qty            int
	UnitPricePaise int
}

// Input is the full checkout request.
type Input struct {
	CustomerID      uuid.UUID
	Items           []LineInput
	DiscountPaise   int
	CouponCode      *string
	Method          enums.PaymentMethod
	ShippingAddress types.Address
	BillingAddress  types.Address
}

// Result returns everything the client needs to open the gateway widget.
type Result struct {
	Order          *models.Order
	GatewayOrderID string
	GatewayKeyID   string
	AmountPaise    int
	Currency       string
}

// Service runs the checkout orchestration.
type Service interface {
	Checkout(ctx context.Context, input Input) (*Result, error)
}

// Params carries the service dependencies.
type Params struct {
	Orders  orders.Repository
	Tx      txRunner
	Outbox  outboxPublisher
	Gateway GatewayIntentCreator
	Stock   StockReserver
	Logger  *logger.Logger
	Pricing Pricing
	Now     func() time.Time
}

type service struct {
	orders  orders.Repository
	tx      txRunner
	outbox  outboxPublisher
	gateway GatewayIntentCreator
	stock   StockReserver
	logg    *logger.Logger
	pricing Pricing
	now     func() time.Time
}

// NewService builds the checkout service with the required dependencies.
func NewService(params Params) (Service, error) {
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
		return nil, fmt.Errorf("gateway client required")
	}
	if params.Stock == nil {
		return nil, fmt.Errorf("stock service required")
	}
	if params.Pricing.FlatShippingPaise <= 0 {
		params.Pricing.FlatShippingPaise = 5000
	}
	if params.Pricing.FreeShippingMinPaise <= 0 {
		params.Pricing.FreeShippingMinPaise = 100000
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &service{
		orders:  params.Orders,
		tx:      params.Tx,
		outbox:  params.Outbox,
		gateway: params.Gateway,
		stock:   params.Stock,
		logg:    params.Logger,
		pricing: params.Pricing,
		now:     params.Now,
	}, nil
}

// Checkout validates the cart, checks availability, opens the gateway intent,
// then persists order, items, payment, and the stock reservation in one
// transaction. A failed transaction leaves only an unpaid gateway order
// behind, which the gateway expires on its own.
func (s *service) Checkout(ctx context.Context, input Input) (*Result, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}

	items := mergeLines(input.Items)

	for _, item := range items {
		key := stock.ItemKey{ProductID: item.ProductID, VariantID: item.VariantID, WarehouseID: item.WarehouseID}
		ok, err := s.stock.Available(ctx, key, item.Qty)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("insufficient stock for product %s", item.ProductID))
		}
	}

	subtotal := 0
	for _, item := range items {
		subtotal += item.UnitPricePaise * item.Qty
	}
	if input.DiscountPaise > subtotal {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount exceeds subtotal")
	}
	shipping := s.shippingFee(subtotal - input.DiscountPaise)
	total := subtotal - input.DiscountPaise + shipping

	orderID := uuid.New()
	orderNumber := s.newOrderNumber()

	gatewayOrder, err := s.gateway.CreateOrder(ctx, razorpay.OrderCreateParams{
		AmountPaise: total,
		Currency:    "INR",
		Receipt:     orderNumber,
		Notes:       map[string]string{"order_id": orderID.String()},
	})
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:              orderID,
		OrderNumber:     orderNumber,
		CustomerID:      input.CustomerID,
		Status:          enums.OrderStatusPending,
		SubtotalPaise:   subtotal,
		DiscountPaise:   input.DiscountPaise,
		ShippingPaise:   shipping,
		TotalPaise:      total,
		CouponCode:      input.CouponCode,
		ShippingAddress: input.ShippingAddress,
		BillingAddress:  input.BillingAddress,
	}

	orderItems := make([]models.OrderItem, 0, len(items))
	lines := make([]stock.Line, 0, len(items))
	for _, item := range items {
		orderItems = append(orderItems, models.OrderItem{
			ID:             uuid.New(),
			OrderID:        orderID,
			ProductID:      item.ProductID,
			VariantID:      item.VariantID,
			WarehouseID:    item.WarehouseID,
			Name:           item.Name,
			Qty:            item.Qty,
			UnitPricePaise: item.UnitPricePaise,
		})
		lines = append(lines, stock.Line{
			Key: stock.ItemKey{ProductID: item.ProductID, VariantID: item.VariantID, WarehouseID: item.WarehouseID},
			Qty: item.Qty,
		})
	}

	payment := &models.Payment{
		ID:             uuid.New(),
		OrderID:        orderID,
		GatewayOrderID: gatewayOrder.ID,
		Method:         input.Method,
		Status:         enums.PaymentStatusPending,
		AmountPaise:    total,
	}

	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		if err := repo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if err := repo.CreateItems(ctx, orderItems); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order items")
		}
		if err := tx.WithContext(ctx).Create(payment).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}
		if err := s.stock.ReserveForOrder(ctx, tx, orderID, lines); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Version:       1,
			Actor:         &outbox.ActorRef{CustomerID: input.CustomerID, Role: "customer"},
			Data: payloads.OrderCreatedEvent{
				OrderID:     orderID,
				OrderNumber: orderNumber,
				CustomerID:  input.CustomerID,
				Method:      input.Method,
				TotalPaise:  total,
			},
		})
	})
	if txErr != nil {
		return nil, txErr
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, orderID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"order_number":     orderNumber,
			"total_paise":      total,
			"shipping_paise":   shipping,
			"gateway_order_id": gatewayOrder.ID,
		})
		s.logg.Info(logCtx, "checkout complete")
	}

	order.Items = orderItems
	order.Payment = payment
	return &Result{
		Order:          order,
		GatewayOrderID: gatewayOrder.ID,
		GatewayKeyID:   s.gateway.KeyID(),
		AmountPaise:    total,
		Currency:       "INR",
	}, nil
}

func (s *service) validate(input Input) error {
	if input.CustomerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing")
	}
	if len(input.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one item required")
	}
	for _, item := range input.Items {
		if item.ProductID == uuid.Nil || item.WarehouseID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "item product and warehouse ids required")
		}
		if item.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be positive")
		}
		if item.UnitPricePaise < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "item price must not be negative")
		}
		if strings.TrimSpace(item.Name) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "item name required")
		}
	}
	if input.DiscountPaise < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "discount must not be negative")
	}
	if !input.Method.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment method %q", input.Method))
	}
	if field := input.ShippingAddress.Validate(); field != "" {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("shipping address missing %s", field))
	}
	if field := input.BillingAddress.Validate(); field != "" {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("billing address missing %s", field))
	}
	return nil
}

func (s *service) shippingFee(payablePaise int) int {
	if payablePaise >= s.pricing.FreeShippingMinPaise {
		return 0
	}
	return s.pricing.FlatShippingPaise
}

func (s *service) newOrderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("SL-%s-%s", s.now().Format("20060102"), suffix)
}

// mergeLines folds duplicate product keys into one line so the stock ledger
// records a single reservation per key and order.
func mergeLines(items []LineInput) []LineInput {
	merged := make([]LineInput, 0, len(items))
	for _, item := range items {
		found := false
		for i := range merged {
			if sameLineKey(merged[i], item) {
				merged[i].Qty += item.Qty
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, item)
		}
	}
	return merged
}

func sameLineKey(a, b LineInput) bool {
	if a.ProductID != b.ProductID || a.WarehouseID != b.WarehouseID {
		return false
	}
	if (a.VariantID == nil) != (b.VariantID == nil) {
		return false
	}
	return a.VariantID == nil || *a.VariantID == *b.VariantID
}
