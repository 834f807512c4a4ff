package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mehtakaran/shopline-backend/api/routes"
	"github.com/mehtakaran/shopline-backend/internal/checkout"
	"github.com/mehtakaran/shopline-backend/internal/notifications"
	"github.com/mehtakaran/shopline-backend/internal/orders"
	"github.com/mehtakaran/shopline-backend/internal/payments"
	"github.com/mehtakaran/shopline-backend/internal/returns"
	"github.com/mehtakaran/shopline-backend/internal/shipping"
	"github.com/mehtakaran/shopline-backend/internal/stock"
	"github.com/mehtakaran/shopline-backend/pkg/config"
	"github.com/mehtakaran/shopline-backend/pkg/db"
	"github.com/mehtakaran/shopline-backend/pkg/logger"
	"github.com/mehtakaran/shopline-backend/pkg/metrics"
	"github.com/mehtakaran/shopline-backend/pkg/migrate"
	"github.com/mehtakaran/shopline-backend/pkg/outbox"
	"github.com/mehtakaran/shopline-backend/pkg/razorpay"
	"github.com/mehtakaran/shopline-backend/pkg/redis"
	"github.com/mehtakaran/shopline-backend/pkg/shiprocket"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gateway, err := razorpay.NewClient(cfg.Razorpay, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create razorpay client", err)
		os.Exit(1)
	}

	carrier, err := shiprocket.NewClient(cfg.Shiprocket, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create shiprocket client", err)
		os.Exit(1)
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	stockService, err := stock.NewService(stock.NewRepository(dbClient.DB()), outboxService)
	if err != nil {
		logg.Error(context.Background(), "failed to create stock service", err)
		os.Exit(1)
	}

	ordersRepo := orders.NewRepository(dbClient.DB())

	checkoutService, err := checkout.NewService(checkout.Params{
		Orders:  ordersRepo,
		Tx:      dbClient,
		Outbox:  outboxService,
		Gateway: gateway,
		Stock:   stockService,
		Logger:  logg,
		Pricing: checkout.Pricing{
			FreeShippingMinPaise: cfg.Orders.FreeShippingMinPaise,
			FlatShippingPaise:    cfg.Orders.FlatShippingPaise,
		},
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(orders.Params{
		Repo:               ordersRepo,
		Tx:                 dbClient,
		Outbox:             outboxService,
		Carrier:            carrier,
		Gateway:            gateway,
		Stock:              stockService,
		Logger:             logg,
		CancellationWindow: cfg.Orders.CancellationWindow,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(payments.Params{
		Payments: payments.NewRepository(dbClient.DB()),
		Orders:   ordersRepo,
		Tx:       dbClient,
		Outbox:   outboxService,
		Verifier: gateway,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	shippingService, err := shipping.NewService(shipping.Params{
		Shipments: shipping.NewRepository(dbClient.DB()),
		Orders:    ordersRepo,
		Tx:        dbClient,
		Outbox:    outboxService,
		Carrier:   carrier,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create shipping service", err)
		os.Exit(1)
	}

	returnsService, err := returns.NewService(returns.Params{
		Returns:    returns.NewRepository(dbClient.DB()),
		Orders:     ordersRepo,
		Tx:         dbClient,
		Outbox:     outboxService,
		Gateway:    gateway,
		Stock:      stockService,
		Logger:     logg,
		WindowDays: cfg.Returns.WindowDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create returns service", err)
		os.Exit(1)
	}

	notificationsService, err := notifications.NewService(notifications.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	webhookMetrics := metrics.NewWebhookMetrics(registry)

	handler := routes.NewRouter(routes.Params{
		Config:         cfg,
		Logger:         logg,
		DB:             dbClient,
		Redis:          redisClient,
		ReplayStore:    redisClient,
		Gateway:        gateway,
		Checkout:       checkoutService,
		Orders:         ordersService,
		Payments:       paymentsService,
		Shipping:       shippingService,
		Returns:        returnsService,
		Stock:          stockService,
		Notifications:  notificationsService,
		Webhooks:       webhookMetrics,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
			os.Exit(1)
		}
	}

	logg.Info(ctx, "api server shutting down gracefully")
}
