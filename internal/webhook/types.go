package webhook

import (
	"context"

	"github.com/mattjoyce/deploygw/internal/deploy"
)

// Dispatcher routes a verified, parsed event to its handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev deploy.Event) deploy.Result
}

// DeployLister returns recently recorded deploy events, newest first.
type DeployLister interface {
	Recent(ctx context.Context, limit int) ([]deploy.Record, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen string `yaml:"listen"`

	// Path is the URL path of the notification endpoint (e.g., "/api/webhooks/netlify").
	// The status and post-deploy hook routes are mounted below it.
	Path string `yaml:"path"`

	// Secret is the HMAC secret for signature verification
	Secret string `yaml:"secret,omitempty"`

	// SignatureHeader is the HTTP header containing the hex HMAC signature
	SignatureHeader string `yaml:"signature_header"`

	// EventHeader is the HTTP header naming the deploy event
	EventHeader string `yaml:"event_header"`

	// MaxBodySize is the maximum allowed request body size in bytes (default: 1MB)
	MaxBodySize int64 `yaml:"max_body_size,omitempty"`

	// DeployHooks enables the unsigned post-deploy success/failure hooks.
	DeployHooks bool `yaml:"deploy_hooks"`
}

// Response is the JSON acknowledgment for handled notifications.
type Response struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is returned by GET <path>/status.
type StatusResponse struct {
	Status      string            `json:"status"`
	Message     string            `json:"message"`
	Timestamp   string            `json:"timestamp"`
	Endpoints   map[string]string `json:"endpoints"`
	Deployments []Deployment      `json:"deployments"`
}

// Deployment summarizes a recorded deploy event.
type Deployment struct {
	ID         string `json:"id"`
	DeployID   string `json:"deploy_id"`
	SiteName   string `json:"site_name,omitempty"`
	Event      string `json:"event"`
	URL        string `json:"url,omitempty"`
	Branch     string `json:"branch,omitempty"`
	Error      string `json:"error,omitempty"`
	ReceivedAt string `json:"received_at"`
}

// Default values
const (
	DefaultPath            = "/api/webhooks/netlify"
	DefaultSignatureHeader = "X-Webhook-Signature"
	DefaultEventHeader     = "X-Netlify-Event"
	DefaultMaxBodySize     = 1048576 // 1 MB
	statusDeploymentsLimit = 10
)

// Messages returned to callers. They never carry request-derived detail.
const (
	msgSecretNotConfigured = "webhook secret is not configured"
	msgMissingSignature    = "missing signature header"
	msgMissingEvent        = "missing event header"
	msgInvalidSignature    = "invalid signature"
	msgInvalidPayload      = "invalid JSON payload"
	msgPayloadTooLarge     = "payload too large"
	msgReadFailed          = "failed to read request body"
	msgStatusFailed        = "error retrieving webhook status"
)
