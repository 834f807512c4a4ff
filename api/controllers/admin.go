package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/mehtakaran/shopline-backend/api/responses"
	"github.com/mehtakaran/shopline-backend/api/validators"
	shippingsvc "github.com/mehtakaran/shopline-backend/internal/shipping"
	stocksvc "github.com/mehtakaran/shopline-backend/internal/stock"
	"github.com/mehtakaran/shopline-backend/pkg/db/models"
	pkgerrors "github.com/mehtakaran/shopline-backend/pkg/errors"
	"github.com/mehtakaran/shopline-backend/pkg/logger"
)

// AdminLowStock lists stock rows at or below their threshold.
func AdminLowStock(svc stocksvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}

		rows, err := svc.LowStock(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]lowStockResponse, 0, len(rows))
		for _, row := range rows {
			items = append(items, newLowStockResponse(row))
		}
		responses.WriteSuccess(w, map[string]any{"items": items})
	}
}

// AdminShipOrder registers the order with the carrier and returns the
// shipment row.
func AdminShipOrder(svc shippingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipping service unavailable"))
			return
		}

		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		shipment, err := svc.CreateShipment(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newAdminShipmentResponse(shipment))
	}
}

// AdminCourierOptions lists couriers serving the order's destination.
func AdminCourierOptions(svc shippingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipping service unavailable"))
			return
		}

		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		couriers, err := svc.CourierOptions(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"couriers": couriers})
	}
}

type assignCourierRequest struct {
	CourierID int `json:"courier_id" validate:"required,min=1"`
}

// AdminAssignCourier allocates a waybill with the chosen courier and books
// the pickup.
func AdminAssignCourier(svc shippingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipping service unavailable"))
			return
		}

		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload assignCourierRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		shipment, err := svc.AssignCourier(r.Context(), orderID, payload.CourierID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newAdminShipmentResponse(shipment))
	}
}

type lowStockResponse struct {
	StockID     uuid.UUID  `json:"stock_id"`
	ProductID   uuid.UUID  `json:"product_id"`
	VariantID   *uuid.UUID `json:"variant_id,omitempty"`
	WarehouseID uuid.UUID  `json:"warehouse_id"`
	Quantity    int        `json:"quantity"`
	Threshold   int        `json:"threshold"`
}

func newLowStockResponse(row models.Stock) lowStockResponse {
	return lowStockResponse{
		StockID:     row.ID,
		ProductID:   row.ProductID,
		VariantID:   row.VariantID,
		WarehouseID: row.WarehouseID,
		Quantity:    row.Quantity,
		Threshold:   row.LowStockThreshold,
	}
}

type adminShipmentResponse struct {
	ShipmentID        uuid.UUID `json:"shipment_id"`
	OrderID           uuid.UUID `json:"order_id"`
	CarrierOrderID    string    `json:"carrier_order_id"`
	CarrierShipmentID string    `json:"carrier_shipment_id"`
	Waybill           *string   `json:"waybill,omitempty"`
	CourierID         *int      `json:"courier_id,omitempty"`
	CourierName       *string   `json:"courier_name,omitempty"`
	PickupScheduled   bool      `json:"pickup_scheduled"`
}

func newAdminShipmentResponse(shipment *models.Shipment) adminShipmentResponse {
	if shipment == nil {
		return adminShipmentResponse{}
	}
	return adminShipmentResponse{
		ShipmentID:        shipment.ID,
		OrderID:           shipment.OrderID,
		CarrierOrderID:    shipment.CarrierOrderID,
		CarrierShipmentID: shipment.CarrierShipmentID,
		Waybill:           shipment.Waybill,
		CourierID:         shipment.CourierID,
		CourierName:       shipment.CourierName,
		PickupScheduled:   shipment.PickupScheduled,
	}
}
