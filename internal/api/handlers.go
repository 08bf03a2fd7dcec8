package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultDeployLimit = 20
	maxDeployLimit     = 500
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:           "ok",
		Version:          s.config.Version,
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		EventSubscribers: s.events.Subscribers(),
		HistoryEnabled:   s.history != nil,
	}
	if s.circuit != nil {
		resp.NotifierCircuit = s.circuit.State()
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleListDeploys handles GET /deploys?limit=N.
func (s *Server) handleListDeploys(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "deploy history is disabled")
		return
	}

	limit := defaultDeployLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxDeployLimit)
	}

	records, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list deploys", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list deploys")
		return
	}

	resp := DeployListResponse{Deploys: make([]DeploySummary, 0, len(records))}
	for _, rec := range records {
		resp.Deploys = append(resp.Deploys, DeploySummary{
			ID:           rec.ID,
			DeployID:     rec.DeployID,
			SiteID:       rec.SiteID,
			SiteName:     rec.SiteName,
			Event:        rec.Event,
			DeployURL:    rec.DeployURL,
			Branch:       rec.Branch,
			ErrorMessage: rec.ErrorMessage,
			ReceivedAt:   rec.ReceivedAt.UTC().Format(time.RFC3339),
		})
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.config.Version))
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
