package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/mehtakaran/shopline-backend/pkg/config"
)

func testConfig() config.RazorpayConfig {
	return config.RazorpayConfig{
		KeyID:         "rzp_test_key",
		KeySecret:     "key-secret",
		WebhookSecret: "webhook-secret",
	}
}

func TestClientCreateOrderRequest(t *testing.T) {
	const expectedURL = "http://gateway.test/v1/orders"
	respBody := `{"id":"order_ABC123","amount":125000,"currency":"INR","receipt":"SL-1001","status":"created"}`

	var capturedURL string
	var capturedAuthUser string

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		capturedAuthUser, _, _ = req.BasicAuth()

		bodyBytes, err := io.ReadAll(req.Body)
		if err != nil {
			t.Fatalf("read request body: %v", err)
		}
		var payload map[string]any
		if err := json.Unmarshal(bodyBytes, &payload); err != nil {
			t.Fatalf("unmarshal request body: %v", err)
		}
		if payload["amount"] != float64(125000) {
			t.Fatalf("unexpected amount %v", payload["amount"])
		}
		if payload["receipt"] != "SL-1001" {
			t.Fatalf("unexpected receipt %v", payload["receipt"])
		}

		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	client, err := NewClient(testConfig(), nil,
		WithBaseURL("http://gateway.test/v1"),
		WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	order, err := client.CreateOrder(context.Background(), OrderCreateParams{
		AmountPaise: 125000,
		Receipt:     "SL-1001",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if capturedURL != expectedURL {
		t.Fatalf("unexpected URL %q", capturedURL)
	}
	if capturedAuthUser != "rzp_test_key" {
		t.Fatalf("basic auth user %q", capturedAuthUser)
	}
	if order.ID != "order_ABC123" || order.AmountPaise != 125000 {
		t.Fatalf("unexpected order %+v", order)
	}
}

func TestClientCreateOrderRejectsNonPositiveAmount(t *testing.T) {
	client, err := NewClient(testConfig(), nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.CreateOrder(context.Background(), OrderCreateParams{AmountPaise: 0}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestClientCreateRefundRequest(t *testing.T) {
	const expectedURL = "http://gateway.test/v1/payments/pay_XYZ/refund"
	respBody := `{"id":"rfnd_1","payment_id":"pay_XYZ","amount":50000,"status":"processed"}`

	var capturedURL string
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	client, err := NewClient(testConfig(), nil,
		WithBaseURL("http://gateway.test/v1"),
		WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	refund, err := client.CreateRefund(context.Background(), "pay_XYZ", 50000)
	if err != nil {
		t.Fatalf("create refund: %v", err)
	}
	if capturedURL != expectedURL {
		t.Fatalf("unexpected URL %q", capturedURL)
	}
	if refund.ID != "rfnd_1" || refund.AmountPaise != 50000 {
		t.Fatalf("unexpected refund %+v", refund)
	}
}

func TestVerifyPaymentSignature(t *testing.T) {
	client, err := NewClient(testConfig(), nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	mac := hmac.New(sha256.New, []byte("key-secret"))
	mac.Write([]byte("order_ABC|pay_XYZ"))
	valid := hex.EncodeToString(mac.Sum(nil))

	if !client.VerifyPaymentSignature("order_ABC", "pay_XYZ", valid) {
		t.Fatal("expected valid signature to verify")
	}
	if client.VerifyPaymentSignature("order_ABC", "pay_XYZ", "deadbeef") {
		t.Fatal("expected forged signature to fail")
	}
	if client.VerifyPaymentSignature("order_ABC", "pay_other", valid) {
		t.Fatal("expected signature over different payment to fail")
	}
	if client.VerifyPaymentSignature("order_ABC", "pay_XYZ", "") {
		t.Fatal("expected empty signature to fail")
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	client, err := NewClient(testConfig(), nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	body := []byte(`{"event":"payment.captured"}`)
	mac := hmac.New(sha256.New, []byte("webhook-secret"))
	mac.Write(body)
	valid := hex.EncodeToString(mac.Sum(nil))

	if !client.VerifyWebhookSignature(body, valid) {
		t.Fatal("expected valid webhook signature to verify")
	}
	if client.VerifyWebhookSignature([]byte(`{"event":"tampered"}`), valid) {
		t.Fatal("expected tampered body to fail")
	}
}

func TestParseWebhook(t *testing.T) {
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","amount":99900,"status":"captured"}}}}`)
	event, err := ParseWebhook(body)
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if event.Event != EventPaymentCaptured {
		t.Fatalf("unexpected event %q", event.Event)
	}
	if event.Payload.Payment == nil || event.Payload.Payment.Entity.ID != "pay_1" {
		t.Fatalf("unexpected payload %+v", event.Payload)
	}

	if _, err := ParseWebhook([]byte(`{"payload":{}}`)); err == nil {
		t.Fatal("expected error for missing event name")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
