package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/mehtakaran/shopline-backend/api/responses"
	"github.com/mehtakaran/shopline-backend/pkg/config"
	pkgerrors "github.com/mehtakaran/shopline-backend/pkg/errors"
	"github.com/mehtakaran/shopline-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Shopline-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the hard dependencies so the load balancer only routes to
// instances that can serve traffic.
func HealthReady(cfg *config.Config, logg *logger.Logger, db, redisClient pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Shopline-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := map[string]string{}
		healthy := true

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				checks["db"] = "down"
				healthy = false
			} else {
				checks["db"] = "ok"
			}
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx); err != nil {
				checks["redis"] = "down"
				healthy = false
			} else {
				checks["redis"] = "ok"
			}
		}

		if !healthy {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
