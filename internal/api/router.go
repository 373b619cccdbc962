package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"histclean/internal/middleware"
)

// RouterConfig holds the cross-cutting settings of the HTTP API.
type RouterConfig struct {
	Validator      middleware.TokenValidator // nil disables authentication
	RateLimit      middleware.RateLimitConfig
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer // nil uses the default registry
}

// NewRouter wires the handler into a chi router. ctx stops background
// housekeeping of the middleware.
func NewRouter(ctx context.Context, h *Handler, cfg RouterConfig, logger *slog.Logger) http.Handler {
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	// Public endpoints, no auth required
	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.AccessLog(logger))
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
		r.Use(middleware.RateLimiter(ctx, cfg.RateLimit))
		r.Use(middleware.Auth(cfg.Validator))

		r.Get("/runs", h.ListRuns)
		r.Post("/runs", h.TriggerRun)
		r.Get("/runs/{runID}", h.GetRun)
	})

	return r
}
