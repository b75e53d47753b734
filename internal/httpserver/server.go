// Package httpserver exposes the escrow lifecycle over HTTP.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/KeelPay/escrow/internal/apikey"
	"github.com/KeelPay/escrow/internal/config"
	"github.com/KeelPay/escrow/internal/escrow"
	"github.com/KeelPay/escrow/internal/idempotency"
	"github.com/KeelPay/escrow/internal/logger"
	"github.com/KeelPay/escrow/internal/metrics"
	"github.com/KeelPay/escrow/internal/ratelimit"
)

var serverStartTime = time.Now()

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg     *config.Config
	escrow  *escrow.Service
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New builds the HTTP server with a configured router.
func New(cfg *config.Config, svc *escrow.Service, idempotencyStore idempotency.Store, metricsCollector *metrics.Metrics, registry *prometheus.Registry, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:     cfg,
			escrow:  svc,
			metrics: metricsCollector,
			logger:  appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	s.configureRouter(router, idempotencyStore, registry)
	return s
}

func (s *Server) configureRouter(router chi.Router, idempotencyStore idempotency.Store, registry *prometheus.Registry) {
	cfg := s.cfg

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(s.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(s.metricsMiddleware)

	router.Use(apikey.Middleware(apikey.FromStringMap(cfg.APIKey.Enabled, cfg.APIKey.Keys)))

	router.Use(ratelimit.Middleware(ratelimit.Config{
		Enabled:    cfg.RateLimit.Enabled,
		Limit:      cfg.RateLimit.Limit,
		Window:     cfg.RateLimit.Window.Duration,
		PerIPLimit: cfg.RateLimit.PerIPLimit,
	}))

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints with a short timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/healthz", s.health)
		if registry != nil {
			r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).
				Handle(prefix+"/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		}
	})

	idempotencyMW := passthrough
	if cfg.Idempotency.Enabled && idempotencyStore != nil {
		idempotencyMW = idempotency.Middleware(idempotencyStore, cfg.Idempotency.TTL.Duration)
	}

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.With(idempotencyMW).Post(prefix+"/escrow/v1/charge", s.charge)
		r.With(idempotencyMW).Post(prefix+"/escrow/v1/authorize", s.authorize)
		r.With(idempotencyMW).Post(prefix+"/escrow/v1/capture", s.capture)
		r.With(idempotencyMW).Post(prefix+"/escrow/v1/void", s.void)
		r.With(idempotencyMW).Post(prefix+"/escrow/v1/reclaim", s.reclaim)
		r.With(idempotencyMW).Post(prefix+"/escrow/v1/refund", s.refund)

		r.Post(prefix+"/escrow/v1/hash", s.hashTerms)
		r.Get(prefix+"/escrow/v1/payments/{hash}", s.paymentState)
		r.Get(prefix+"/escrow/v1/token-stores/{operator}", s.tokenStore)
		r.Get(prefix+"/escrow/v1/events", s.listEvents)
	})
}

func passthrough(next http.Handler) http.Handler { return next }

// Handler exposes the configured router for embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
