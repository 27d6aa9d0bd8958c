// Package server sets up the HTTP server, router, and all route definitions.
//
// This is the wiring layer: it decides which URL maps to which handler, which
// middleware runs where, and how the server stops. The dependencies
// themselves (sandbox, store, token service) are built by the caller and
// passed in through Config.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/code-sandbox/internal/auth"
	"github.com/sakif/code-sandbox/internal/executor"
	"github.com/sakif/code-sandbox/internal/handler"
	"github.com/sakif/code-sandbox/internal/metrics"
	"github.com/sakif/code-sandbox/internal/middleware"
	"github.com/sakif/code-sandbox/internal/service"
)

const defaultShutdownTimeout = 10 * time.Second

// Config holds the server settings and its dependencies.
type Config struct {
	Port            int
	ShutdownTimeout time.Duration

	// RateLimitRPS is the per-address request rate on the execute routes;
	// zero disables rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	Service *service.ExecutionService
	Stats   func() executor.Stats

	// Tokens guards the history routes. With nil the history is open.
	Tokens *auth.TokenService

	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
}

// Server represents the HTTP server and all its dependencies.
type Server struct {
	router  *chi.Mux
	config  Config
	logger  *slog.Logger
	limiter *middleware.RateLimiter
}

// New creates a Server and registers its routes.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("server: execution service is required")
	}
	if cfg.Stats == nil {
		cfg.Stats = func() executor.Stats { return executor.Stats{} }
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	if cfg.RateLimitRPS > 0 {
		var hits prometheus.Counter
		if cfg.Metrics != nil {
			hits = cfg.Metrics.RateLimitHits
		}
		s.limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, hits)
	}

	s.setupRoutes()
	return s, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTES:
// POST /api/python-execute     → run code (editor contract)
// POST /api/execute            → same
// GET  /api/executions         → history list        (bearer auth if configured)
// GET  /api/executions/{id}    → one history record  (bearer auth if configured)
// GET  /healthz                → liveness + load
// GET  /metrics                → Prometheus exposition
//
// MIDDLEWARE ORDER MATTERS:
// RequestID and RealIP come first so the logger and the rate limiter see the
// request id and the client address. CORS answers preflights before routing.
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.CORS)

	executeHandler := handler.NewExecuteHandler(s.config.Service, s.logger)
	executionsHandler := handler.NewExecutionsHandler(s.config.Service, s.logger)
	healthHandler := handler.NewHealthHandler(s.config.Stats)

	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.config.Registry, promhttp.HandlerOpts{}))

	s.router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.Middleware)
			}
			r.Post("/python-execute", executeHandler.HandleExecute)
			r.Post("/execute", executeHandler.HandleExecute)
		})

		r.Group(func(r chi.Router) {
			if s.config.Tokens != nil {
				r.Use(auth.RequireBearer(s.config.Tokens))
			} else {
				s.logger.Warn("no auth secret configured, execution history is readable without a token")
			}
			r.Get("/executions", executionsHandler.HandleList)
			r.Get("/executions/{id}", executionsHandler.HandleGetByID)
		})
	})
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait up to ShutdownTimeout for in-flight requests (running cells) to finish
//
// Closing the sandbox and the store is left to the caller, after Run returns.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Long enough for a cell that waited in the queue and then ran to its limit.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	if s.limiter != nil {
		stop := make(chan struct{})
		defer close(stop)
		s.limiter.StartSweeper(time.Minute, stop)
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
