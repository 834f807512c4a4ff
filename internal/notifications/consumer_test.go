package notifications

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/mehtakaran/shopline-backend/pkg/enums"
	"github.com/mehtakaran/shopline-backend/pkg/outbox/payloads"
)

func TestBuildNotificationOrderPaid(t *testing.T) {
	c := &Consumer{}
	customerID := uuid.New()
	data, err := json.Marshal(payloads.OrderPaidEvent{
		OrderID:     uuid.New(),
		OrderNumber: "SL-20260820-ABCD1234",
		CustomerID:  customerID,
		AmountPaise: 120000,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	notification, err := c.buildNotification(enums.EventOrderPaid, data)
	if err != nil {
		t.Fatalf("buildNotification: %v", err)
	}
	if notification.CustomerID != customerID {
		t.Fatalf("expected customer %s, got %s", customerID, notification.CustomerID)
	}
	if notification.Type != enums.NotificationTypeOrderConfirmed {
		t.Fatalf("expected order_confirmed type, got %s", notification.Type)
	}
	if !strings.Contains(notification.Message, "SL-20260820-ABCD1234") {
		t.Fatalf("expected order number in message, got %q", notification.Message)
	}
}

func TestBuildNotificationShippedIncludesCourier(t *testing.T) {
	c := &Consumer{}
	data, err := json.Marshal(payloads.OrderShippedEvent{
		OrderID:     uuid.New(),
		OrderNumber: "SL-20260820-ABCD1234",
		CustomerID:  uuid.New(),
		Waybill:     "AWB123456",
		CourierName: "Bluedart",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	notification, err := c.buildNotification(enums.EventOrderShipped, data)
	if err != nil {
		t.Fatalf("buildNotification: %v", err)
	}
	if !strings.Contains(notification.Message, "Bluedart") {
		t.Fatalf("expected courier name in message, got %q", notification.Message)
	}
	if !strings.Contains(notification.Message, "AWB123456") {
		t.Fatalf("expected waybill in message, got %q", notification.Message)
	}
}

func TestBuildNotificationRefundFormatsAmount(t *testing.T) {
	c := &Consumer{}
	data, err := json.Marshal(payloads.ReturnRefundedEvent{
		ReturnID:          uuid.New(),
		OrderID:           uuid.New(),
		CustomerID:        uuid.New(),
		RefundAmountPaise: 60050,
		RefundMethod:      enums.RefundMethodOriginalPayment,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	notification, err := c.buildNotification(enums.EventReturnRefunded, data)
	if err != nil {
		t.Fatalf("buildNotification: %v", err)
	}
	if !strings.Contains(notification.Message, "₹600.50") {
		t.Fatalf("expected formatted amount in message, got %q", notification.Message)
	}
}

func TestBuildNotificationMissingCustomerRejected(t *testing.T) {
	c := &Consumer{}
	data, err := json.Marshal(payloads.OrderDeliveredEvent{OrderID: uuid.New(), OrderNumber: "SL-1"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	if _, err := c.buildNotification(enums.EventOrderDelivered, data); err == nil {
		t.Fatal("expected error for missing customer id")
	}
}

func TestNotifiableEventFilters(t *testing.T) {
	if notifiableEvent(enums.EventStockLowWatermark) {
		t.Fatal("stock low watermark should not notify customers")
	}
	if !notifiableEvent(enums.EventOrderCancelled) {
		t.Fatal("order cancelled should notify customers")
	}
}
