package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/deploygw/internal/deploy"
	"github.com/mattjoyce/deploygw/internal/metrics"
)

// Server represents the webhook HTTP server.
type Server struct {
	config     Config
	dispatcher Dispatcher
	history    DeployLister
	logger     *slog.Logger
	server     *http.Server
	now        func() time.Time
}

// New creates a new webhook server instance. history may be nil, in which
// case the status endpoint reports no deployments.
func New(config Config, dispatcher Dispatcher, history DeployLister, logger *slog.Logger) *Server {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.SignatureHeader == "" {
		config.SignatureHeader = DefaultSignatureHeader
	}
	if config.EventHeader == "" {
		config.EventHeader = DefaultEventHeader
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}

	return &Server{
		config:     config,
		dispatcher: dispatcher,
		history:    history,
		logger:     logger,
		now:        time.Now,
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "path", s.config.Path, "deploy_hooks", s.config.DeployHooks)

	// Run server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the HTTP handler with all webhook routes mounted.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(metrics.Middleware)
	r.Use(middleware.Recoverer)

	r.Post(s.config.Path, s.handleWebhook)
	r.Get(s.config.Path+"/status", s.handleStatus)

	if s.config.DeployHooks {
		r.Post(s.config.Path+"/deploy-success", s.handleDeployHook(deploy.EventSucceeded, "Deploy success hook processed"))
		r.Post(s.config.Path+"/deploy-failure", s.handleDeployHook(deploy.EventFailed, "Deploy failure hook processed"))
	}

	return r
}

// loggingMiddleware logs HTTP requests (excludes payloads and signatures).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleWebhook authenticates, parses and dispatches a deploy notification.
// Each step is terminal on failure; the body is not inspected before the
// signature has been verified.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := s.logger.With("request_id", middleware.GetReqID(ctx))

	if s.config.Secret == "" {
		logger.Error("webhook secret is not configured; rejecting notification")
		metrics.WebhookRequest(metrics.OutcomeNotConfigured)
		s.respondError(w, http.StatusInternalServerError, msgSecretNotConfigured)
		return
	}

	signature := r.Header.Get(s.config.SignatureHeader)
	if signature == "" {
		logger.Warn("webhook signature missing", "header", s.config.SignatureHeader)
		metrics.WebhookRequest(metrics.OutcomeMissingHeader)
		s.respondError(w, http.StatusBadRequest, msgMissingSignature)
		return
	}

	label := r.Header.Get(s.config.EventHeader)
	if label == "" {
		logger.Warn("webhook event header missing", "header", s.config.EventHeader)
		metrics.WebhookRequest(metrics.OutcomeMissingHeader)
		s.respondError(w, http.StatusBadRequest, msgMissingEvent)
		return
	}

	body, ok := s.readBody(w, r, logger)
	if !ok {
		return
	}

	if !Verify(body, signature, s.config.Secret) {
		logger.Warn("webhook signature verification failed", "event", label)
		metrics.WebhookRequest(metrics.OutcomeUnauthorized)
		s.respondError(w, http.StatusUnauthorized, msgInvalidSignature)
		return
	}

	ev, err := Parse(label, body)
	if err != nil {
		logger.Warn("webhook payload rejected", "event", label, "error", err)
		metrics.WebhookRequest(metrics.OutcomeMalformedJSON)
		s.respondError(w, http.StatusBadRequest, msgInvalidPayload)
		return
	}

	metrics.WebhookRequest(metrics.OutcomeAccepted)
	s.dispatchAndRespond(w, r, ev, "")
}

// handleDeployHook serves the unsigned post-deploy hooks, whose body is the
// deploy object itself.
func (s *Server) handleDeployHook(t deploy.EventType, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := s.logger.With("request_id", middleware.GetReqID(r.Context()), "hook", t.String())

		body, ok := s.readBody(w, r, logger)
		if !ok {
			return
		}

		ev, err := ParseDeployHook(t, body)
		if err != nil {
			logger.Warn("deploy hook payload rejected", "error", err)
			metrics.WebhookRequest(metrics.OutcomeMalformedJSON)
			s.respondError(w, http.StatusBadRequest, msgInvalidPayload)
			return
		}

		metrics.WebhookRequest(metrics.OutcomeAccepted)
		s.dispatchAndRespond(w, r, ev, message)
	}
}

// readBody reads the raw request body, enforcing the size limit. On failure
// it writes the error response and returns false.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request, logger *slog.Logger) ([]byte, bool) {
	limitedReader := io.LimitReader(r.Body, s.config.MaxBodySize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		logger.Error("failed to read webhook body", "error", err)
		metrics.WebhookRequest(metrics.OutcomeReadFailed)
		s.respondError(w, http.StatusBadRequest, msgReadFailed)
		return nil, false
	}

	if int64(len(body)) > s.config.MaxBodySize {
		logger.Warn("webhook body too large", "limit", s.config.MaxBodySize)
		metrics.WebhookRequest(metrics.OutcomeTooLarge)
		s.respondError(w, http.StatusRequestEntityTooLarge, msgPayloadTooLarge)
		return nil, false
	}

	return body, true
}

// dispatchAndRespond hands ev to the dispatcher and acknowledges with 200.
// The dispatch result only shapes the body; a handled deploy_failed event
// is still a successful webhook call. A non-empty message overrides the
// dispatcher's.
func (s *Server) dispatchAndRespond(w http.ResponseWriter, r *http.Request, ev deploy.Event, message string) {
	result := s.dispatcher.Dispatch(r.Context(), ev)
	metrics.EventDispatched(ev.Type.String())

	if message == "" {
		message = result.Message
	}

	s.respondJSON(w, http.StatusOK, Response{
		Success:   result.Success,
		Message:   message,
		Timestamp: s.timestamp(),
	})
}

// handleStatus reports that the webhook is configured and lists recent deploys.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:      "active",
		Message:     "Netlify webhooks are configured and ready to receive events",
		Timestamp:   s.timestamp(),
		Endpoints:   map[string]string{"main": s.config.Path, "status": s.config.Path + "/status"},
		Deployments: []Deployment{},
	}
	if s.config.DeployHooks {
		resp.Endpoints["deploySuccess"] = s.config.Path + "/deploy-success"
		resp.Endpoints["deployFailure"] = s.config.Path + "/deploy-failure"
	}

	if s.history != nil {
		records, err := s.history.Recent(r.Context(), statusDeploymentsLimit)
		if err != nil {
			s.logger.Error("failed to load deploy history", "error", err)
			s.respondError(w, http.StatusInternalServerError, msgStatusFailed)
			return
		}
		for _, rec := range records {
			resp.Deployments = append(resp.Deployments, Deployment{
				ID:         rec.ID,
				DeployID:   rec.DeployID,
				SiteName:   rec.SiteName,
				Event:      rec.Event,
				URL:        rec.DeployURL,
				Branch:     rec.Branch,
				Error:      rec.ErrorMessage,
				ReceivedAt: rec.ReceivedAt.UTC().Format(time.RFC3339),
			})
		}
	}

	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
