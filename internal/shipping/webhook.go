package shipping

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/mehtakaran/shopline-backend/internal/orders"
	"github.com/mehtakaran/shopline-backend/pkg/db/models"
	"github.com/mehtakaran/shopline-backend/pkg/enums"
	pkgerrors "github.com/mehtakaran/shopline-backend/pkg/errors"
	"github.com/mehtakaran/shopline-backend/pkg/outbox"
	"github.com/mehtakaran/shopline-backend/pkg/outbox/payloads"
)

// CarrierWebhook is the tracking update the carrier posts on every scan.
type CarrierWebhook struct {
	AWB           string `json:"awb"`
	CurrentStatus string `json:"current_status"`
	OrderID       string `json:"order_id"`
	ShipmentID    int64  `json:"shipment_id,omitempty"`
}

// carrierStatusMap folds normalized carrier statuses onto our order states.
// RTO and lost parcels land on CANCELLED so the stock and refund flows can
// settle them.
var carrierStatusMap = map[string]enums.OrderStatus{
	"SHIPPED":          enums.OrderStatusShipped,
	"PICKED_UP":        enums.OrderStatusShipped,
	"IN_TRANSIT":       enums.OrderStatusShipped,
	"OUT_FOR_DELIVERY": enums.OrderStatusOutForDelivery,
	"DELIVERED":        enums.OrderStatusDelivered,
	"CANCELLED":        enums.OrderStatusCancelled,
	"CANCELED":         enums.OrderStatusCancelled,
	"RTO_INITIATED":    enums.OrderStatusCancelled,
	"RTO_DELIVERED":    enums.OrderStatusCancelled,
	"LOST":             enums.OrderStatusCancelled,
}

// normalizeCarrierStatus uppercases and collapses separators so "Out For
// Delivery", "out-for-delivery", and "OUT_FOR_DELIVERY" all match.
func normalizeCarrierStatus(raw string) string {
	status := strings.ToUpper(strings.TrimSpace(raw))
	status = strings.ReplaceAll(status, "-", "_")
	return strings.Join(strings.Fields(status), "_")
}

// HandleWebhook applies one carrier tracking update. Unknown statuses and
// unknown shipments are logged and acked; replays are no-ops through the
// state machine's repeat rule.
func (s *service) HandleWebhook(ctx context.Context, payload CarrierWebhook) error {
	status := normalizeCarrierStatus(payload.CurrentStatus)
	target, known := carrierStatusMap[status]
	if !known {
		s.logWarn(ctx, "unhandled carrier status", map[string]any{
			"status": payload.CurrentStatus,
			"awb":    payload.AWB,
		})
		return nil
	}

	shipment, err := s.lookupShipment(ctx, payload)
	if err != nil {
		return err
	}
	if shipment == nil {
		s.logWarn(ctx, "tracking update for unknown shipment", map[string]any{
			"awb":      payload.AWB,
			"order_id": payload.OrderID,
		})
		return nil
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ordRepo := s.orders.WithTx(tx)
		order, err := ordRepo.FindByID(ctx, shipment.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		changed, transitionErr := orders.Transition(order.Status, target)
		if transitionErr != nil {
			// Late or out-of-order scan; the order has moved past it.
			s.logWarn(ctx, "carrier status ignored by state machine", map[string]any{
				"order_id": order.ID,
				"from":     order.Status,
				"to":       target,
			})
			return nil
		}
		if !changed {
			return nil
		}
		if err := ordRepo.UpdateStatus(ctx, order.ID, target); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}

		shipRepo := s.shipments.WithTx(tx)
		switch target {
		case enums.OrderStatusShipped:
			now := s.now()
			if shipment.ShippedAt == nil {
				if err := shipRepo.Update(ctx, shipment.ID, map[string]any{"shipped_at": now}); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stamp shipped time")
				}
			}
			waybill := payload.AWB
			if shipment.Waybill != nil {
				waybill = *shipment.Waybill
			}
			courierName := ""
			if shipment.CourierName != nil {
				courierName = *shipment.CourierName
			}
			return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderShipped,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Version:       1,
				Data: payloads.OrderShippedEvent{
					OrderID:     order.ID,
					OrderNumber: order.OrderNumber,
					CustomerID:  order.CustomerID,
					Waybill:     waybill,
					CourierName: courierName,
				},
			})
		case enums.OrderStatusDelivered:
			now := s.now()
			if err := shipRepo.Update(ctx, shipment.ID, map[string]any{"delivered_at": now}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stamp delivery time")
			}
			return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderDelivered,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Version:       1,
				Data: payloads.OrderDeliveredEvent{
					OrderID:     order.ID,
					OrderNumber: order.OrderNumber,
					CustomerID:  order.CustomerID,
					DeliveredAt: now,
				},
			})
		}
		return nil
	})
}

func (s *service) lookupShipment(ctx context.Context, payload CarrierWebhook) (*models.Shipment, error) {
	if awb := strings.TrimSpace(payload.AWB); awb != "" {
		shipment, err := s.shipments.FindByWaybill(ctx, awb)
		if err == nil {
			return shipment, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
		}
	}
	if carrierOrderID := strings.TrimSpace(payload.OrderID); carrierOrderID != "" {
		shipment, err := s.shipments.FindByCarrierOrderID(ctx, carrierOrderID)
		if err == nil {
			return shipment, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
		}
	}
	return nil, nil
}
