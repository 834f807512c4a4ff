package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mehtakaran/shopline-backend/api/middleware"
	"github.com/mehtakaran/shopline-backend/api/responses"
	"github.com/mehtakaran/shopline-backend/api/validators"
	checkoutsvc "github.com/mehtakaran/shopline-backend/internal/checkout"
	"github.com/mehtakaran/shopline-backend/pkg/db/models"
	"github.com/mehtakaran/shopline-backend/pkg/enums"
	pkgerrors "github.com/mehtakaran/shopline-backend/pkg/errors"
	"github.com/mehtakaran/shopline-backend/pkg/logger"
	"github.com/mehtakaran/shopline-backend/pkg/types"
)

// Checkout places an order for the authenticated customer and opens a
// gateway payment intent.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		customerID, err := customerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]checkoutsvc.LineInput, 0, len(payload.Items))
		for _, item := range payload.Items {
			items = append(items, checkoutsvc.LineInput{
				ProductID:      item.ProductID,
				VariantID:      item.VariantID,
				WarehouseID:    item.WarehouseID,
				Name:           validators.SanitizeString(item.Name, 200),
				Qty:            item.Qty,
				UnitPricePaise: item.UnitPricePaise,
			})
		}

		result, err := svc.Checkout(r.Context(), checkoutsvc.Input{
			CustomerID:      customerID,
			Items:           items,
			DiscountPaise:   payload.DiscountPaise,
			CouponCode:      payload.CouponCode,
			Method:          enums.PaymentMethod(payload.Method),
			ShippingAddress: payload.ShippingAddress,
			BillingAddress:  payload.BillingAddress,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newCheckoutResponse(result))
	}
}

type checkoutLineRequest struct {
	ProductID      uuid.UUID  `json:"product_id" validate:"required"`
	VariantID      *uuid.UUID `json:"variant_id,omitempty"`
	WarehouseID    uuid.UUID  `json:"warehouse_id" validate:"required"`
	Name           string     `json:"name" validate:"required"`
	Qty            int        `json:"qty" validate:"required,min=1"`
	UnitPricePaise int        `json:"unit_price_paise" validate:"min=0"`
}

type checkoutRequest struct {
	Items           []checkoutLineRequest `json:"items" validate:"required,min=1,dive"`
	DiscountPaise   int                   `json:"discount_paise" validate:"min=0"`
	CouponCode      *string               `json:"coupon_code,omitempty"`
	Method          string                `json:"method" validate:"required"`
	ShippingAddress types.Address         `json:"shipping_address"`
	BillingAddress  types.Address         `json:"billing_address"`
}

type checkoutResponse struct {
	Order          orderResponse `json:"order"`
	GatewayOrderID string        `json:"gateway_order_id,omitempty"`
	GatewayKeyID   string        `json:"gateway_key_id,omitempty"`
	AmountPaise    int           `json:"amount_paise"`
	Currency       string        `json:"currency"`
}

func newCheckoutResponse(result *checkoutsvc.Result) checkoutResponse {
	if result == nil {
		return checkoutResponse{}
	}
	return checkoutResponse{
		Order:          newOrderResponse(result.Order),
		GatewayOrderID: result.GatewayOrderID,
		GatewayKeyID:   result.GatewayKeyID,
		AmountPaise:    result.AmountPaise,
		Currency:       result.Currency,
	}
}

type orderResponse struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	Status        string              `json:"status"`
	SubtotalPaise int                 `json:"subtotal_paise"`
	DiscountPaise int                 `json:"discount_paise"`
	ShippingPaise int                 `json:"shipping_paise"`
	TotalPaise    int                 `json:"total_paise"`
	Items         []orderItemResponse `json:"items,omitempty"`
	Payment       *paymentResponse    `json:"payment,omitempty"`
	Shipment      *shipmentResponse   `json:"shipment,omitempty"`
	CreatedAt     string              `json:"created_at"`
}

type orderItemResponse struct {
	ItemID         uuid.UUID  `json:"item_id"`
	ProductID      uuid.UUID  `json:"product_id"`
	VariantID      *uuid.UUID `json:"variant_id,omitempty"`
	Name           string     `json:"name"`
	Qty            int        `json:"qty"`
	UnitPricePaise int        `json:"unit_price_paise"`
	LineTotalPaise int        `json:"line_total_paise"`
}

type paymentResponse struct {
	Status            string `json:"status"`
	Method            string `json:"method"`
	AmountPaise       int    `json:"amount_paise"`
	RefundAmountPaise int    `json:"refund_amount_paise"`
}

type shipmentResponse struct {
	Waybill     *string `json:"waybill,omitempty"`
	CourierName *string `json:"courier_name,omitempty"`
	ShippedAt   *string `json:"shipped_at,omitempty"`
	DeliveredAt *string `json:"delivered_at,omitempty"`
}

func newOrderResponse(order *models.Order) orderResponse {
	if order == nil {
		return orderResponse{}
	}
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ItemID:         item.ID,
			ProductID:      item.ProductID,
			VariantID:      item.VariantID,
			Name:           item.Name,
			Qty:            item.Qty,
			UnitPricePaise: item.UnitPricePaise,
			LineTotalPaise: item.LineTotalPaise(),
		})
	}
	resp := orderResponse{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		SubtotalPaise: order.SubtotalPaise,
		DiscountPaise: order.DiscountPaise,
		ShippingPaise: order.ShippingPaise,
		TotalPaise:    order.TotalPaise,
		Items:         items,
		CreatedAt:     order.CreatedAt.UTC().Format(time.RFC3339),
	}
	if order.Payment != nil {
		resp.Payment = &paymentResponse{
			Status:            string(order.Payment.Status),
			Method:            string(order.Payment.Method),
			AmountPaise:       order.Payment.AmountPaise,
			RefundAmountPaise: order.Payment.RefundAmountPaise,
		}
	}
	if order.Shipment != nil {
		shipment := &shipmentResponse{
			Waybill:     order.Shipment.Waybill,
			CourierName: order.Shipment.CourierName,
		}
		if order.Shipment.ShippedAt != nil {
			v := order.Shipment.ShippedAt.UTC().Format(time.RFC3339)
			shipment.ShippedAt = &v
		}
		if order.Shipment.DeliveredAt != nil {
			v := order.Shipment.DeliveredAt.UTC().Format(time.RFC3339)
			shipment.DeliveredAt = &v
		}
		resp.Shipment = shipment
	}
	return resp
}

func customerIDFromContext(r *http.Request) (uuid.UUID, error) {
	raw := middleware.CustomerIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid customer id")
	}
	return id, nil
}
