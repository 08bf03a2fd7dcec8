package config

import "time"

// Config represents the complete deploygw configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	State   StateConfig   `yaml:"state"`
	Webhook WebhookConfig `yaml:"webhook"`
	API     APIConfig     `yaml:"api,omitempty"`
	Notify  *NotifyConfig `yaml:"notify,omitempty"`

	// SourcePath is the absolute path of the file the config was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines deploy history storage settings.
// An empty Path disables the history.
type StateConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention,omitempty"`
}

// WebhookConfig defines the deploy notification listener.
type WebhookConfig struct {
	Listen          string `yaml:"listen"`
	Path            string `yaml:"path"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	EventHeader     string `yaml:"event_header"`
	MaxBodySize     string `yaml:"max_body_size"`
	DeployHooks     bool   `yaml:"deploy_hooks"`
}

// APIConfig defines the operations API (health, events, metrics).
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the admin bearer token (all scopes).
	APIKey string `yaml:"api_key"`
	// Tokens are optional bearer tokens restricted to the listed scopes.
	Tokens []APITokenConfig `yaml:"tokens,omitempty"`
}

// APITokenConfig is a scoped bearer token, e.g. scopes [events:ro].
type APITokenConfig struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// NotifyConfig defines the downstream alert notifier.
type NotifyConfig struct {
	URL            string                `yaml:"url"`
	Events         []string              `yaml:"events,omitempty"`
	Timeout        time.Duration         `yaml:"timeout,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker,omitempty"`
}

// CircuitBreakerConfig defines circuit breaker settings.
type CircuitBreakerConfig struct {
	Threshold  int           `yaml:"threshold"`
	ResetAfter time.Duration `yaml:"reset_after"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "deploygw",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path:      "./data/deploys.db",
			Retention: 30 * 24 * time.Hour,
		},
		Webhook: WebhookConfig{
			Listen:          "127.0.0.1:8081",
			Path:            "/api/webhooks/netlify",
			Secret:          "${NETLIFY_WEBHOOK_SECRET}",
			SignatureHeader: "X-Webhook-Signature",
			EventHeader:     "X-Netlify-Event",
			MaxBodySize:     "1MB",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}

// DefaultNotifyConf returns notifier defaults merged under a configured notify block.
func DefaultNotifyConf() NotifyConfig {
	return NotifyConfig{
		Events:  []string{"deploy_failed"},
		Timeout: 5 * time.Second,
		CircuitBreaker: &CircuitBreakerConfig{
			Threshold:  3,
			ResetAfter: 5 * time.Minute,
		},
	}
}
