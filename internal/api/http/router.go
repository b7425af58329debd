// Package http serves the admin endpoints: Prometheus metrics and a
// health check backed by the remote store.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dtroode/staffsync/internal/logger"
	"github.com/dtroode/staffsync/internal/model"
)

// HealthTimeout bounds a single /healthz store ping.
const HealthTimeout = 2 * time.Second

// Router builds the admin HTTP handler.
type Router struct {
	gatherer prometheus.Gatherer
	pinger   model.Pinger
	logger   *logger.Logger
}

// NewRouter creates a Router. pinger may be nil for stores that cannot
// report connectivity.
func NewRouter(gatherer prometheus.Gatherer, pinger model.Pinger, logger *logger.Logger) *Router {
	return &Router{gatherer: gatherer, pinger: pinger, logger: logger}
}

// Register returns the admin handler.
func (rt *Router) Register() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", rt.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(rt.gatherer, promhttp.HandlerOpts{}))

	return r
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (rt *Router) health(w http.ResponseWriter, r *http.Request) {
	if rt.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), HealthTimeout)
		defer cancel()

		if err := rt.pinger.Ping(ctx); err != nil {
			rt.logger.Warn("Health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
			return
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
