package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/taxinput/internal/common"
	"github.com/noah-isme/taxinput/internal/health"
	"github.com/noah-isme/taxinput/internal/obs"
	"github.com/noah-isme/taxinput/internal/ratelimit"
	"github.com/noah-isme/taxinput/internal/security"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Handler        *Handler
	Health         health.Handler
	Logger         zerolog.Logger
	Metrics        *obs.HTTPMetrics
	Gatherer       prometheus.Gatherer
	Limiter        ratelimit.Allower
	AllowedOrigins []string
	Tracing        bool
	MaxBodyBytes   int64
	HSTS           bool
}

// NewRouter builds the chi router serving the tax API, health probes and metrics.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: cfg.Metrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: cfg.Logger}.Middleware)
	r.Use(security.Headers{HSTS: cfg.HSTS}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg.AllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/health/live", cfg.Health.Live)
	r.Get("/health/ready", cfg.Health.Ready)

	h := cfg.Handler
	if h == nil {
		h = NewHandler(HandlerConfig{Logger: cfg.Logger})
	}
	r.Route("/api/v1", func(v chi.Router) {
		v.Use(ratelimit.Handler{
			Limiter: cfg.Limiter,
			Key:     common.ClientIP,
			OnError: func(err error) { cfg.Logger.Error().Err(err).Msg("rate limiter") },
		}.Middleware)
		v.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)
		v.Post("/tax/compute", h.Compute)
		v.Get("/tax/brackets", h.Brackets)
		v.Get("/records", h.Records)
	})
	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
