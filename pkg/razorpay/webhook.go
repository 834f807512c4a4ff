package razorpay

import (
	"encoding/json"

	pkgerrors "github.com/mehtakaran/shopline-backend/pkg/errors"
)

// Webhook event names delivered by the gateway.
const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventRefundCreated     = "refund.created"
	EventRefundProcessed   = "refund.processed"
)

// WebhookEvent is the outer envelope Razorpay posts to our endpoint.
type WebhookEvent struct {
	Event   string         `json:"event"`
	Payload WebhookPayload `json:"payload"`
}

// WebhookPayload holds the entity wrappers; only the one matching the
// event name is populated.
type WebhookPayload struct {
	Payment *struct {
		Entity PaymentEntity `json:"entity"`
	} `json:"payment,omitempty"`
	Refund *struct {
		Entity RefundEntity `json:"entity"`
	} `json:"refund,omitempty"`
}

// PaymentEntity is the payment snapshot inside a webhook delivery.
type PaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	AmountPaise      int    `json:"amount"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	ErrorCode        string `json:"error_code,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// RefundEntity is the refund snapshot inside a webhook delivery.
type RefundEntity struct {
	ID          string `json:"id"`
	PaymentID   string `json:"payment_id"`
	AmountPaise int    `json:"amount"`
	Status      string `json:"status"`
}

// ParseWebhook decodes a webhook body into its typed envelope.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode razorpay webhook")
	}
	if event.Event == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "razorpay webhook missing event name")
	}
	return &event, nil
}
