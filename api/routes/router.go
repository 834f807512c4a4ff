package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mehtakaran/shopline-backend/api/controllers"
	webhookcontrollers "github.com/mehtakaran/shopline-backend/api/controllers/webhooks"
	"github.com/mehtakaran/shopline-backend/api/middleware"
	checkoutsvc "github.com/mehtakaran/shopline-backend/internal/checkout"
	"github.com/mehtakaran/shopline-backend/internal/notifications"
	ordersvc "github.com/mehtakaran/shopline-backend/internal/orders"
	paymentsvc "github.com/mehtakaran/shopline-backend/internal/payments"
	returnsvc "github.com/mehtakaran/shopline-backend/internal/returns"
	shippingsvc "github.com/mehtakaran/shopline-backend/internal/shipping"
	stocksvc "github.com/mehtakaran/shopline-backend/internal/stock"
	"github.com/mehtakaran/shopline-backend/pkg/config"
	"github.com/mehtakaran/shopline-backend/pkg/enums"
	"github.com/mehtakaran/shopline-backend/pkg/logger"
	"github.com/mehtakaran/shopline-backend/pkg/metrics"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type gatewayWebhookVerifier interface {
	VerifyWebhookSignature(body []byte, signature string) bool
}

// Params bundles everything the router needs so cmd/api stays a thin shell.
type Params struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             pinger
	Redis          pinger
	ReplayStore    webhookcontrollers.ReplayStore
	Gateway        gatewayWebhookVerifier
	Checkout       checkoutsvc.Service
	Orders         ordersvc.Service
	Payments       paymentsvc.Service
	Shipping       shippingsvc.Service
	Returns        returnsvc.Service
	Stock          stocksvc.Service
	Notifications  notifications.Service
	Webhooks       *metrics.WebhookMetrics
	MetricsHandler http.Handler
}

// NewRouter assembles the HTTP surface: public health and webhooks, the
// authenticated customer API, and the admin API.
func NewRouter(params Params) http.Handler {
	cfg := params.Config
	logg := params.Logger

	guardTTL := 72 * time.Hour
	if cfg != nil && cfg.Webhooks.ReplayGuardTTL > 0 {
		guardTTL = cfg.Webhooks.ReplayGuardTTL
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.DB, params.Redis))
	})

	if params.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", params.MetricsHandler)
	} else {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/razorpay", webhookcontrollers.RazorpayWebhook(params.Payments, params.Gateway, params.ReplayStore, guardTTL, params.Webhooks, logg))
		r.Post("/shiprocket", webhookcontrollers.ShiprocketWebhook(params.Shipping, params.ReplayStore, guardTTL, params.Webhooks, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Post("/checkout", controllers.Checkout(params.Checkout, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.ListOrders(params.Orders, logg))
			r.Get("/{orderId}", controllers.OrderDetail(params.Orders, logg))
			r.Get("/{orderId}/can-cancel", controllers.CanCancelOrder(params.Orders, logg))
			r.Post("/{orderId}/cancel", controllers.CancelOrder(params.Orders, logg))
			r.Post("/{orderId}/verify-payment", controllers.VerifyPayment(params.Payments, logg))
		})

		r.Route("/returns", func(r chi.Router) {
			r.Post("/", controllers.CreateReturn(params.Returns, logg))
			r.Get("/{returnId}", controllers.ReturnDetail(params.Returns, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(params.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(params.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(params.Notifications, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(string(enums.ActorRoleAdmin), logg))

		r.Get("/stock/low", controllers.AdminLowStock(params.Stock, logg))

		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.Post("/ship", controllers.AdminShipOrder(params.Shipping, logg))
			r.Get("/couriers", controllers.AdminCourierOptions(params.Shipping, logg))
			r.Post("/assign-courier", controllers.AdminAssignCourier(params.Shipping, logg))
		})

		r.Route("/returns/{returnId}", func(r chi.Router) {
			r.Post("/approve", controllers.AdminApproveReturn(params.Returns, logg))
			r.Post("/reject", controllers.AdminRejectReturn(params.Returns, logg))
			r.Post("/pickup-scheduled", controllers.AdminMarkReturnPickupScheduled(params.Returns, logg))
			r.Post("/picked-up", controllers.AdminMarkReturnPickedUp(params.Returns, logg))
			r.Post("/received", controllers.AdminMarkReturnReceived(params.Returns, logg))
			r.Post("/refund", controllers.AdminProcessReturnRefund(params.Returns, logg))
			r.Post("/refund-completed", controllers.AdminMarkReturnRefundCompleted(params.Returns, logg))
		})
	})

	return r
}
