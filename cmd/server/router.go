package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpmetrics "relay/internal/platform/metrics"
	"relay/pkg/platform/httputil"
	"relay/pkg/platform/middleware/request"
	"relay/pkg/platform/middleware/requesttime"
)

type healthChecker interface {
	Health(ctx context.Context) error
}

type routeRegistrar interface {
	Register(r chi.Router)
}

type routerDeps struct {
	logger         *slog.Logger
	relay          routeRegistrar
	httpMetrics    *httpmetrics.Metrics
	health         healthChecker
	requestTimeout time.Duration
}

func newRouter(deps routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(request.Recovery(deps.logger))
	r.Use(request.Logger(deps.logger))
	r.Use(deps.httpMetrics.Middleware)

	r.Get("/healthz", healthHandler(deps.health))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if deps.requestTimeout > 0 {
			r.Use(chimw.Timeout(deps.requestTimeout))
		}
		deps.relay.Register(r)
	})
	return r
}

func healthHandler(health healthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health.Health(r.Context()); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
