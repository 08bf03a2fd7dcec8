package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/deploygw/internal/config"
	"github.com/mattjoyce/deploygw/internal/deploy"
	"github.com/mattjoyce/deploygw/internal/events"
	"github.com/mattjoyce/deploygw/internal/metrics"
)

// DeployLister returns recently recorded deploy events, newest first.
type DeployLister interface {
	Recent(ctx context.Context, limit int) ([]deploy.Record, error)
}

// CircuitReporter exposes a circuit breaker state for health checks.
type CircuitReporter interface {
	State() string
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the admin bearer token (all scopes).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens  []TokenConfig
	Version string
}

// FromGlobalConfig converts the api section of the service config.
func FromGlobalConfig(ac config.APIConfig, version string) Config {
	c := Config{
		Listen:  ac.Listen,
		APIKey:  ac.Auth.APIKey,
		Version: version,
	}
	for _, t := range ac.Auth.Tokens {
		c.Tokens = append(c.Tokens, TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return c
}

// Server represents the operations HTTP API.
type Server struct {
	config    Config
	events    *events.Hub
	history   DeployLister
	circuit   CircuitReporter
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. history and circuit may be nil.
func New(config Config, hub *events.Hub, history DeployLister, circuit CircuitReporter, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Server{
		config:    config,
		events:    hub,
		history:   history,
		circuit:   circuit,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /events is a long-lived stream.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	// Run server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the HTTP handler with all API routes mounted.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScope(ScopeDeploysRead)).Get("/deploys", s.handleListDeploys)
		r.With(s.requireScope(ScopeEventsRead)).Get("/events", s.handleEvents)
		r.With(s.requireScope(ScopeMetricsRead)).Method(http.MethodGet, "/metrics", metrics.Handler())
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
