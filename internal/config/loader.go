package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ConfigFileName is the file looked up when a directory is given.
const ConfigFileName = "config.yaml"

// Load reads, verifies and validates configuration from a file or from
// config.yaml inside a directory.
func Load(configPath string) (*Config, error) {
	cfg, err := Read(configPath)
	if err != nil {
		return nil, err
	}

	// Hash-verify the config file when a .checksums manifest exists next to it
	if err := VerifyConfigHash(cfg.SourcePath); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Read parses the configuration with defaults and environment interpolation
// applied, without validating it.
func Read(configPath string) (*Config, error) {
	absPath, err := ResolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", absPath, err)
	}
	cfg.SourcePath = absPath

	return applyConfigDefaults(cfg), nil
}

// ResolveConfigFile turns a file or directory argument into the absolute
// path of the config file.
func ResolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, ConfigFileName)
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but %s not found: %s", ConfigFileName, absPath)
		}
	}

	return absPath, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $DEPLOYGW_CONFIG, ~/.config/deploygw, /etc/deploygw, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("DEPLOYGW_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	var candidates []string
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "deploygw", ConfigFileName))
	}
	candidates = append(candidates,
		filepath.Join("/etc", "deploygw", ConfigFileName),
		ConfigFileName,
	)

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	return "", fmt.Errorf("no configuration found (checked $DEPLOYGW_CONFIG, %s)", strings.Join(candidates, ", "))
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)
	cfg.Service.LogFormat = strings.ToLower(cfg.Service.LogFormat)

	if cfg.Webhook.Path == "" {
		cfg.Webhook.Path = defaults.Webhook.Path
	}
	if cfg.Webhook.SignatureHeader == "" {
		cfg.Webhook.SignatureHeader = defaults.Webhook.SignatureHeader
	}
	if cfg.Webhook.EventHeader == "" {
		cfg.Webhook.EventHeader = defaults.Webhook.EventHeader
	}
	if cfg.Webhook.MaxBodySize == "" {
		cfg.Webhook.MaxBodySize = defaults.Webhook.MaxBodySize
	}

	// The default secret is a placeholder that never passed through the
	// file interpolation.
	cfg.Webhook.Secret = interpolateEnv(cfg.Webhook.Secret)

	if cfg.Notify != nil {
		merged := mergeNotifyDefaults(*cfg.Notify)
		cfg.Notify = &merged
	}

	return cfg
}

func mergeNotifyDefaults(n NotifyConfig) NotifyConfig {
	defaults := DefaultNotifyConf()

	if len(n.Events) == 0 {
		n.Events = defaults.Events
	}
	if n.Timeout == 0 {
		n.Timeout = defaults.Timeout
	}
	if n.CircuitBreaker == nil {
		n.CircuitBreaker = defaults.CircuitBreaker
	} else {
		if n.CircuitBreaker.Threshold == 0 {
			n.CircuitBreaker.Threshold = defaults.CircuitBreaker.Threshold
		}
		if n.CircuitBreaker.ResetAfter == 0 {
			n.CircuitBreaker.ResetAfter = defaults.CircuitBreaker.ResetAfter
		}
	}

	return n
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract variable name from ${VAR}
		varName := envVarPattern.FindStringSubmatch(match)[1]

		// Look up environment variable
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}

		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

// UnresolvedEnvVar returns the name of the first ${VAR} placeholder left in
// value, or "" if there is none.
func UnresolvedEnvVar(value string) string {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return m[1]
	}
	return ""
}

var validEventLabels = map[string]bool{
	"deploy_succeeded": true,
	"deploy_failed":    true,
	"deploy_locked":    true,
	"deploy_unlocked":  true,
	"unknown":          true,
	"*":                true,
}

// Validate performs basic validation on the configuration.
func Validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	// Webhook validation
	if cfg.Webhook.Listen == "" {
		return fmt.Errorf("webhook.listen is required")
	}
	if !strings.HasPrefix(cfg.Webhook.Path, "/") {
		return fmt.Errorf("webhook.path must start with / (got %q)", cfg.Webhook.Path)
	}
	if name := UnresolvedEnvVar(cfg.Webhook.Secret); name != "" {
		return fmt.Errorf("webhook.secret: environment variable ${%s} is not set", name)
	}
	if strings.TrimSpace(cfg.Webhook.Secret) == "" {
		return fmt.Errorf("webhook.secret is required")
	}
	if _, err := ParseSize(cfg.Webhook.MaxBodySize); err != nil {
		return fmt.Errorf("webhook.max_body_size: %w", err)
	}

	if cfg.State.Retention < 0 {
		return fmt.Errorf("state.retention must not be negative")
	}

	// API validation
	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api is enabled")
		}
		if name := UnresolvedEnvVar(cfg.API.Auth.APIKey); name != "" {
			return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", name)
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth.api_key or api.auth.tokens is required when api is enabled")
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if name := UnresolvedEnvVar(tok.Token); name != "" {
				return fmt.Errorf("api.auth.tokens[%d]: environment variable ${%s} is not set", i, name)
			}
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must not be empty", i)
			}
		}
	}

	// Notifier validation
	if n := cfg.Notify; n != nil {
		if name := UnresolvedEnvVar(n.URL); name != "" {
			return fmt.Errorf("notify.url: environment variable ${%s} is not set", name)
		}
		u, err := url.Parse(n.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("notify.url must be an absolute http(s) URL (got %q)", n.URL)
		}
		for i, ev := range n.Events {
			if !validEventLabels[ev] {
				return fmt.Errorf("notify.events[%d]: unknown event %q", i, ev)
			}
		}
		if n.Timeout < 0 {
			return fmt.Errorf("notify.timeout must be positive")
		}
		if cb := n.CircuitBreaker; cb != nil && (cb.Threshold < 0 || cb.ResetAfter < 0) {
			return fmt.Errorf("notify.circuit_breaker values must be positive")
		}
	}

	return nil
}

// ParseSize parses size strings like "1MB", "512KB" or "1048576" to bytes.
// Returns the 1MB default if empty.
func ParseSize(size string) (int64, error) {
	if size == "" {
		return 1 << 20, nil
	}

	// Handle unit suffixes (KB, MB, GB)
	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1 << 10
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1 << 20
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1 << 30
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value %q", size)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value { // overflow
		return 0, fmt.Errorf("size too large")
	}

	return result, nil
}
