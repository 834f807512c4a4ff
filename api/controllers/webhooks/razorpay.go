package webhooks

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/mehtakaran/shopline-backend/api/responses"
	paymentsvc "github.com/mehtakaran/shopline-backend/internal/payments"
	pkgerrors "github.com/mehtakaran/shopline-backend/pkg/errors"
	"github.com/mehtakaran/shopline-backend/pkg/logger"
	"github.com/mehtakaran/shopline-backend/pkg/metrics"
	"github.com/mehtakaran/shopline-backend/pkg/razorpay"
)

const (
	sourceRazorpay          = "razorpay"
	razorpaySignatureHeader = "X-Razorpay-Signature"
	razorpayEventIDHeader   = "X-Razorpay-Event-Id"
)

type signatureChecker interface {
	VerifyWebhookSignature(body []byte, signature string) bool
}

// ReplayStore marks webhook deliveries so redelivered events short-circuit.
type ReplayStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	WebhookDeliveryKey(source, deliveryID string) string
}

// RazorpayWebhook verifies, deduplicates, and dispatches gateway events.
func RazorpayWebhook(svc paymentsvc.Service, gateway signatureChecker, store ReplayStore, guardTTL time.Duration, wm *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		if gateway == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "gateway client unavailable"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := r.Header.Get(razorpaySignatureHeader)
		if signature == "" {
			wm.IncRejected(sourceRazorpay, "missing_signature")
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature missing"))
			return
		}
		if !gateway.VerifyWebhookSignature(body, signature) {
			wm.IncRejected(sourceRazorpay, "bad_signature")
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature mismatch"))
			return
		}

		deliveryID := r.Header.Get(razorpayEventIDHeader)
		var guardKey string
		if store != nil && deliveryID != "" {
			guardKey = store.WebhookDeliveryKey(sourceRazorpay, deliveryID)
			fresh, err := store.SetNX(ctx, guardKey, time.Now().UTC().Unix(), guardTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replay guard"))
				return
			}
			if !fresh {
				wm.IncReplayed(sourceRazorpay)
				responses.WriteSuccess(w, nil)
				return
			}
		}

		event, err := razorpay.ParseWebhook(body)
		if err != nil {
			wm.IncRejected(sourceRazorpay, "malformed")
			responses.WriteError(ctx, logg, w, err)
			return
		}
		wm.IncReceived(sourceRazorpay, event.Event)

		if err := svc.HandleWebhook(ctx, event); err != nil {
			// Release the guard so the gateway's redelivery gets another shot.
			if store != nil && guardKey != "" {
				_ = store.Del(ctx, guardKey)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}
