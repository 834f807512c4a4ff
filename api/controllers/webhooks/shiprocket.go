package webhooks

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mehtakaran/shopline-backend/api/responses"
	shippingsvc "github.com/mehtakaran/shopline-backend/internal/shipping"
	pkgerrors "github.com/mehtakaran/shopline-backend/pkg/errors"
	"github.com/mehtakaran/shopline-backend/pkg/logger"
	"github.com/mehtakaran/shopline-backend/pkg/metrics"
)

const sourceShiprocket = "shiprocket"

// ShiprocketWebhook ingests carrier tracking updates. The service itself is
// replay safe, so the redis guard only trims redundant work.
func ShiprocketWebhook(svc shippingsvc.Service, store ReplayStore, guardTTL time.Duration, wm *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipping service unavailable"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		// Carrier payloads carry dozens of fields we do not track, so decode
		// leniently instead of through the strict body validator.
		var payload shippingsvc.CarrierWebhook
		if err := json.Unmarshal(body, &payload); err != nil {
			wm.IncRejected(sourceShiprocket, "malformed")
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode carrier webhook"))
			return
		}
		if payload.AWB == "" && payload.OrderID == "" {
			wm.IncRejected(sourceShiprocket, "missing_reference")
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "webhook missing awb and order reference"))
			return
		}

		wm.IncReceived(sourceShiprocket, payload.CurrentStatus)

		var guardKey string
		if store != nil && payload.AWB != "" {
			deliveryID := fmt.Sprintf("%s:%s", payload.AWB, payload.CurrentStatus)
			guardKey = store.WebhookDeliveryKey(sourceShiprocket, deliveryID)
			fresh, err := store.SetNX(ctx, guardKey, time.Now().UTC().Unix(), guardTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replay guard"))
				return
			}
			if !fresh {
				wm.IncReplayed(sourceShiprocket)
				responses.WriteSuccess(w, nil)
				return
			}
		}

		if err := svc.HandleWebhook(ctx, payload); err != nil {
			if store != nil && guardKey != "" {
				_ = store.Del(ctx, guardKey)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}
