package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mehtakaran/shopline-backend/api/responses"
	"github.com/mehtakaran/shopline-backend/api/validators"
	returnsvc "github.com/mehtakaran/shopline-backend/internal/returns"
	"github.com/mehtakaran/shopline-backend/pkg/db/models"
	"github.com/mehtakaran/shopline-backend/pkg/enums"
	pkgerrors "github.com/mehtakaran/shopline-backend/pkg/errors"
	"github.com/mehtakaran/shopline-backend/pkg/logger"
)

type returnItemRequest struct {
	OrderItemID uuid.UUID `json:"order_item_id" validate:"required"`
	Qty         int       `json:"qty" validate:"required,min=1"`
}

type createReturnRequest struct {
	OrderID      uuid.UUID           `json:"order_id" validate:"required"`
	Items        []returnItemRequest `json:"items" validate:"required,min=1,dive"`
	RefundMethod string              `json:"refund_method" validate:"required"`
	Reason       string              `json:"reason" validate:"required,max=500"`
}

// CreateReturn opens a return against one of the customer's delivered orders.
func CreateReturn(svc returnsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "returns service unavailable"))
			return
		}

		customerID, err := customerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createReturnRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]returnsvc.ItemInput, 0, len(payload.Items))
		for _, item := range payload.Items {
			items = append(items, returnsvc.ItemInput{OrderItemID: item.OrderItemID, Qty: item.Qty})
		}

		ret, err := svc.Create(r.Context(), returnsvc.CreateInput{
			OrderID:      payload.OrderID,
			CustomerID:   customerID,
			Items:        items,
			RefundMethod: enums.RefundMethod(payload.RefundMethod),
			Reason:       validators.SanitizeString(payload.Reason, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newReturnResponse(ret))
	}
}

// ReturnDetail returns one of the customer's returns with its items.
func ReturnDetail(svc returnsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "returns service unavailable"))
			return
		}

		customerID, err := customerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		returnID, err := pathUUID(r, "returnId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ret, err := svc.Get(r.Context(), returnID, customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newReturnResponse(ret))
	}
}

// adminReturnAction factors the shared shape of the admin return transitions.
func adminReturnAction(logg *logger.Logger, action func(r *http.Request, returnID uuid.UUID) (*models.Return, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		returnID, err := pathUUID(r, "returnId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ret, err := action(r, returnID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newReturnResponse(ret))
	}
}

// AdminApproveReturn moves a pending return to APPROVED.
func AdminApproveReturn(svc returnsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return adminReturnAction(logg, func(r *http.Request, returnID uuid.UUID) (*models.Return, error) {
		return svc.Approve(r.Context(), returnID)
	})
}

// AdminRejectReturn closes a return without a refund.
func AdminRejectReturn(svc returnsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return adminReturnAction(logg, func(r *http.Request, returnID uuid.UUID) (*models.Return, error) {
		return svc.Reject(r.Context(), returnID)
	})
}

// AdminMarkReturnPickupScheduled records that the reverse pickup is booked.
func AdminMarkReturnPickupScheduled(svc returnsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return adminReturnAction(logg, func(r *http.Request, returnID uuid.UUID) (*models.Return, error) {
		return svc.MarkPickupScheduled(r.Context(), returnID)
	})
}

// AdminMarkReturnPickedUp records that the courier collected the parcel.
func AdminMarkReturnPickedUp(svc returnsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return adminReturnAction(logg, func(r *http.Request, returnID uuid.UUID) (*models.Return, error) {
		return svc.MarkPickedUp(r.Context(), returnID)
	})
}

// AdminMarkReturnReceived books the goods back into stock.
func AdminMarkReturnReceived(svc returnsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return adminReturnAction(logg, func(r *http.Request, returnID uuid.UUID) (*models.Return, error) {
		return svc.MarkReceived(r.Context(), returnID)
	})
}

// AdminProcessReturnRefund pushes the refund to the gateway or hands it to
// the manual queue depending on the refund method.
func AdminProcessReturnRefund(svc returnsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return adminReturnAction(logg, func(r *http.Request, returnID uuid.UUID) (*models.Return, error) {
		return svc.ProcessRefund(r.Context(), returnID)
	})
}

// AdminMarkReturnRefundCompleted closes a manual refund.
func AdminMarkReturnRefundCompleted(svc returnsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return adminReturnAction(logg, func(r *http.Request, returnID uuid.UUID) (*models.Return, error) {
		return svc.MarkRefundCompleted(r.Context(), returnID)
	})
}

type returnResponse struct {
	ReturnID          uuid.UUID            `json:"return_id"`
	OrderID           uuid.UUID            `json:"order_id"`
	Status            string               `json:"status"`
	RefundMethod      string               `json:"refund_method"`
	RefundAmountPaise int                  `json:"refund_amount_paise"`
	Reason            string               `json:"reason"`
	Items             []returnItemResponse `json:"items,omitempty"`
	CreatedAt         string               `json:"created_at"`
}

type returnItemResponse struct {
	OrderItemID    uuid.UUID `json:"order_item_id"`
	Qty            int       `json:"qty"`
	UnitPricePaise int       `json:"unit_price_paise"`
}

func newReturnResponse(ret *models.Return) returnResponse {
	if ret == nil {
		return returnResponse{}
	}
	items := make([]returnItemResponse, 0, len(ret.Items))
	for _, item := range ret.Items {
		items = append(items, returnItemResponse{
			OrderItemID:    item.OrderItemID,
			Qty:            item.Qty,
			UnitPricePaise: item.UnitPricePaise,
		})
	}
	return returnResponse{
		ReturnID:          ret.ID,
		OrderID:           ret.OrderID,
		Status:            string(ret.Status),
		RefundMethod:      string(ret.RefundMethod),
		RefundAmountPaise: ret.RefundAmountPaise,
		Reason:            ret.Reason,
		Items:             items,
		CreatedAt:         ret.CreatedAt.UTC().Format(time.RFC3339),
	}
}
