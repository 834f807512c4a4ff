package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mehtakaran/shopline-backend/pkg/config"
	pkgerrors "github.com/mehtakaran/shopline-backend/pkg/errors"
	"github.com/mehtakaran/shopline-backend/pkg/logger"
)

const (
	defaultBaseURL              = "https://api.razorpay.com/v1"
	responseBodyReadLimit int64 = 2048
)

var (
	errKeyIDRequired         = errors.New("razorpay key id is required")
	errKeySecretRequired     = errors.New("razorpay key secret is required")
	errWebhookSecretRequired = errors.New("razorpay webhook secret is required")
)

// Client wraps the Razorpay REST API used for prepaid collection and refunds.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
	logger        *logger.Logger
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient validates the credentials and builds the Razorpay wrapper.
func NewClient(cfg config.RazorpayConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	if keyID == "" {
		return nil, errKeyIDRequired
	}
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keySecret == "" {
		return nil, errKeySecretRequired
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := &Client{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       defaultBaseURL,
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		logger:        logg,
	}
	if trimmed := strings.TrimSpace(cfg.BaseURL); trimmed != "" {
		client.baseURL = trimmed
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// KeyID returns the public key identifier handed to the checkout frontend.
func (c *Client) KeyID() string {
	if c == nil {
		return ""
	}
	return c.keyID
}

// Order is a gateway-side collection order tied to one of ours via the receipt.
type Order struct {
	ID          string `json:"id"`
	AmountPaise int    `json:"amount"`
	Currency    string `json:"currency"`
	Receipt     string `json:"receipt"`
	Status      string `json:"status"`
}

// OrderCreateParams describes a new gateway order.
type OrderCreateParams struct {
	AmountPaise int
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// CreateOrder registers a collection order with the gateway before checkout completes.
func (c *Client) CreateOrder(ctx context.Context, params OrderCreateParams) (*Order, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "razorpay client not configured")
	}
	if params.AmountPaise <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order amount must be positive")
	}
	currency := strings.TrimSpace(params.Currency)
	if currency == "" {
		currency = "INR"
	}

	body := map[string]any{
		"amount":   params.AmountPaise,
		"currency": currency,
		"receipt":  params.Receipt,
	}
	if len(params.Notes) > 0 {
		body["notes"] = params.Notes
	}

	var order Order
	if err := c.do(ctx, http.MethodPost, "/orders", body, &order); err != nil {
		return nil, err
	}
	c.log(ctx, "order created", map[string]any{
		"gateway_order_id": order.ID,
		"amount_paise":     order.AmountPaise,
		"receipt":          order.Receipt,
	})
	return &order, nil
}

// Payment mirrors the gateway payment entity fields we read back.
type Payment struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	AmountPaise int    `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	Method      string `json:"method"`
	Captured    bool   `json:"captured"`
}

// FetchPayment reads a payment entity back from the gateway.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "razorpay client not configured")
	}
	trimmed := strings.TrimSpace(paymentID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	var payment Payment
	if err := c.do(ctx, http.MethodGet, "/payments/"+trimmed, nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// Refund is the gateway refund entity.
type Refund struct {
	ID          string `json:"id"`
	PaymentID   string `json:"payment_id"`
	AmountPaise int    `json:"amount"`
	Status      string `json:"status"`
}

// CreateRefund refunds the given amount against a captured payment.
func (c *Client) CreateRefund(ctx context.Context, paymentID string, amountPaise int) (*Refund, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "razorpay client not configured")
	}
	trimmed := strings.TrimSpace(paymentID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	if amountPaise <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}

	body := map[string]any{"amount": amountPaise}
	var refund Refund
	if err := c.do(ctx, http.MethodPost, "/payments/"+trimmed+"/refund", body, &refund); err != nil {
		return nil, err
	}
	c.log(ctx, "refund created", map[string]any{
		"gateway_payment_id": trimmed,
		"gateway_refund_id":  refund.ID,
		"amount_paise":       refund.AmountPaise,
	})
	return &refund, nil
}

// VerifyPaymentSignature checks the checkout callback signature computed over
// "<orderId>|<paymentId>" with the key secret.
func (c *Client) VerifyPaymentSignature(gatewayOrderID, gatewayPaymentID, signature string) bool {
	if c == nil {
		return false
	}
	payload := gatewayOrderID + "|" + gatewayPaymentID
	return verifyHMAC([]byte(payload), signature, c.keySecret)
}

// VerifyWebhookSignature checks the X-Razorpay-Signature header against the raw body.
func (c *Client) VerifyWebhookSignature(body []byte, signature string) bool {
	if c == nil {
		return false
	}
	return verifyHMAC(body, signature, c.webhookSecret)
}

func verifyHMAC(payload []byte, signature, secret string) bool {
	provided := strings.TrimSpace(signature)
	if provided == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(provided))
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	url := strings.TrimRight(c.baseURL, "/") + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal razorpay request")
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build razorpay request")
	}
	httpReq.SetBasicAuth(c.keyID, c.keySecret)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute razorpay request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		code := pkgerrors.CodeDependency
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			code = pkgerrors.CodeUnauthorized
		case http.StatusBadRequest:
			code = pkgerrors.CodeValidation
		case http.StatusNotFound:
			code = pkgerrors.CodeNotFound
		}
		return pkgerrors.Wrap(code, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "razorpay request failed")
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode razorpay response")
	}
	return nil
}

func (c *Client) log(ctx context.Context, msg string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	ctx = c.logger.WithFields(ctx, fields)
	c.logger.Info(ctx, "razorpay "+msg)
}
