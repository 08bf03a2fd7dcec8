package api

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version,omitempty"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	EventSubscribers int    `json:"event_subscribers"`
	HistoryEnabled   bool   `json:"history_enabled"`
	// NotifierCircuit is the alert notifier's breaker state, when one is configured.
	NotifierCircuit string `json:"notifier_circuit,omitempty"`
}

// DeployListResponse is returned by GET /deploys.
type DeployListResponse struct {
	Deploys []DeploySummary `json:"deploys"`
}

// DeploySummary is one recorded deploy event.
type DeploySummary struct {
	ID           string `json:"id"`
	DeployID     string `json:"deploy_id"`
	SiteID       string `json:"site_id,omitempty"`
	SiteName     string `json:"site_name,omitempty"`
	Event        string `json:"event"`
	DeployURL    string `json:"deploy_url,omitempty"`
	Branch       string `json:"branch,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ReceivedAt   string `json:"received_at"`
}
