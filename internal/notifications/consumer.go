package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/mehtakaran/shopline-backend/pkg/db/models"
	"github.com/mehtakaran/shopline-backend/pkg/enums"
	"github.com/mehtakaran/shopline-backend/pkg/logger"
	"github.com/mehtakaran/shopline-backend/pkg/outbox"
	"github.com/mehtakaran/shopline-backend/pkg/outbox/idempotency"
	"github.com/mehtakaran/shopline-backend/pkg/outbox/payloads"
)

const orderNotificationConsumer = "order-notifications"

type repository interface {
	Create(ctx context.Context, notification *models.Notification) error
}

// Consumer watches domain events and turns order lifecycle transitions into
// customer notifications.
type Consumer struct {
	repo         repository
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds an order notification consumer.
func NewConsumer(repo repository, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": string(eventType),
	})

	if !notifiableEvent(eventType) {
		c.logg.Info(logCtx, "skipping event without a customer notification")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, orderNotificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	notification, err := c.buildNotification(eventType, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		_ = c.idempotency.Delete(ctx, orderNotificationConsumer, eventID)
		return processResult{nack: true}
	}

	if err := c.repo.Create(ctx, notification); err != nil {
		c.logg.Error(logCtx, "notification persist failed", err)
		_ = c.idempotency.Delete(ctx, orderNotificationConsumer, eventID)
		return processResult{nack: true}
	}

	c.logg.Info(c.logg.WithField(logCtx, "customer_id", notification.CustomerID.String()), "customer notified")
	return processResult{ack: true}
}

func notifiableEvent(eventType enums.OutboxEventType) bool {
	switch eventType {
	case enums.EventOrderPaid,
		enums.EventOrderShipped,
		enums.EventOrderDelivered,
		enums.EventOrderCancelled,
		enums.EventReturnRequested,
		enums.EventReturnRefunded:
		return true
	default:
		return false
	}
}

func (c *Consumer) buildNotification(eventType enums.OutboxEventType, data json.RawMessage) (*models.Notification, error) {
	switch eventType {
	case enums.EventOrderPaid:
		var payload payloads.OrderPaidEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		if payload.CustomerID == uuid.Nil {
			return nil, fmt.Errorf("customer id missing")
		}
		return &models.Notification{
			CustomerID: payload.CustomerID,
			Type:       enums.NotificationTypeOrderConfirmed,
			Title:      "Order confirmed",
			Message:    fmt.Sprintf("Payment received for order %s. We are preparing your shipment.", payload.OrderNumber),
		}, nil
	case enums.EventOrderShipped:
		var payload payloads.OrderShippedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		if payload.CustomerID == uuid.Nil {
			return nil, fmt.Errorf("customer id missing")
		}
		message := fmt.Sprintf("Order %s has shipped. Track it with waybill %s.", payload.OrderNumber, payload.Waybill)
		if payload.CourierName != "" {
			message = fmt.Sprintf("Order %s has shipped via %s. Track it with waybill %s.", payload.OrderNumber, payload.CourierName, payload.Waybill)
		}
		return &models.Notification{
			CustomerID: payload.CustomerID,
			Type:       enums.NotificationTypeOrderShipped,
			Title:      "Order shipped",
			Message:    message,
		}, nil
	case enums.EventOrderDelivered:
		var payload payloads.OrderDeliveredEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		if payload.CustomerID == uuid.Nil {
			return nil, fmt.Errorf("customer id missing")
		}
		return &models.Notification{
			CustomerID: payload.CustomerID,
			Type:       enums.NotificationTypeOrderDelivered,
			Title:      "Order delivered",
			Message:    fmt.Sprintf("Order %s was delivered. Returns stay open for a limited window.", payload.OrderNumber),
		}, nil
	case enums.EventOrderCancelled:
		var payload payloads.OrderCancelledEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		if payload.CustomerID == uuid.Nil {
			return nil, fmt.Errorf("customer id missing")
		}
		message := fmt.Sprintf("Order %s was cancelled.", payload.OrderNumber)
		if payload.RefundProcessed {
			message = fmt.Sprintf("Order %s was cancelled. Your refund is on its way.", payload.OrderNumber)
		}
		return &models.Notification{
			CustomerID: payload.CustomerID,
			Type:       enums.NotificationTypeOrderCancelled,
			Title:      "Order cancelled",
			Message:    message,
		}, nil
	case enums.EventReturnRequested:
		var payload payloads.ReturnRequestedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		if payload.CustomerID == uuid.Nil {
			return nil, fmt.Errorf("customer id missing")
		}
		return &models.Notification{
			CustomerID: payload.CustomerID,
			Type:       enums.NotificationTypeReturnRequested,
			Title:      "Return requested",
			Message:    "We received your return request. You will hear from us once it is reviewed.",
		}, nil
	case enums.EventReturnRefunded:
		var payload payloads.ReturnRefundedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		if payload.CustomerID == uuid.Nil {
			return nil, fmt.Errorf("customer id missing")
		}
		return &models.Notification{
			CustomerID: payload.CustomerID,
			Type:       enums.NotificationTypeReturnRefunded,
			Title:      "Refund processed",
			Message:    fmt.Sprintf("Your return was refunded for %s.", formatPaise(payload.RefundAmountPaise)),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported event type %q", eventType)
	}
}

func formatPaise(amount int) string {
	rupees := amount / 100
	paise := amount % 100
	if paise < 0 {
		paise = -paise
	}
	return fmt.Sprintf("₹%d.%02d", rupees, paise)
}
