// Package doctor validates deploygw configuration beyond what loading it
// requires, reporting errors and advisory warnings.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/deploygw/internal/config"
	"github.com/mattjoyce/deploygw/internal/deploy"
)

// minSecretLength is the shortest webhook secret accepted without a warning.
const minSecretLength = 16

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a configuration read with config.Read.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateWebhook(r)
	d.validateAPI(r)
	d.validateTokenScopes(r)
	d.validateNotify(r)
	d.warnState(r)
	d.warnIntegrity(r)
	d.warnDeprecatedSyntax(r)

	// Anything the loader would still reject is an error here too.
	if len(r.Errors) == 0 {
		if err := config.Validate(d.cfg); err != nil {
			d.addError(r, "config", "", err.Error())
		}
	}

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateWebhook checks the notification listener.
func (d *Doctor) validateWebhook(r *Result) {
	wh := d.cfg.Webhook

	if name := config.UnresolvedEnvVar(wh.Secret); name != "" {
		d.addError(r, "webhook", "webhook.secret", fmt.Sprintf("environment variable ${%s} not set", name))
	} else if wh.Secret == "" {
		d.addError(r, "webhook", "webhook.secret", "secret is empty; every notification would be rejected")
	} else if len(wh.Secret) < minSecretLength {
		d.addWarning(r, "webhook", "webhook.secret",
			fmt.Sprintf("secret is shorter than %d characters", minSecretLength))
	}

	if wh.Listen == "" {
		d.addError(r, "webhook", "webhook.listen", "listen address is required")
	}
	if !strings.HasPrefix(wh.Path, "/") {
		d.addError(r, "webhook", "webhook.path", fmt.Sprintf("path %q must start with /", wh.Path))
	}
	if strings.EqualFold(wh.SignatureHeader, wh.EventHeader) {
		d.addError(r, "webhook", "webhook.event_header", "signature and event headers must differ")
	}
	if _, err := config.ParseSize(wh.MaxBodySize); err != nil {
		d.addError(r, "webhook", "webhook.max_body_size", err.Error())
	}
	if wh.DeployHooks {
		d.addWarning(r, "webhook", "webhook.deploy_hooks",
			"post-deploy hooks are unsigned; expose them only behind a trusted proxy")
	}
}

// validateAPI checks the ops API settings.
func (d *Doctor) validateAPI(r *Result) {
	api := d.cfg.API
	if !api.Enabled {
		return
	}
	if api.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	} else if sameListenAddr(api.Listen, d.cfg.Webhook.Listen) {
		d.addError(r, "api", "api.listen", fmt.Sprintf("api and webhook both listen on %s", api.Listen))
	}
	if api.Auth.APIKey == "" && len(api.Auth.Tokens) == 0 {
		d.addError(r, "api", "api.auth", "API enabled but no authentication configured")
	}
}

// validateTokenScopes checks that scoped tokens name known scopes.
func (d *Doctor) validateTokenScopes(r *Result) {
	known := map[string]bool{"*": true}
	for _, resource := range []string{"events", "deploys", "metrics"} {
		known[resource+":ro"] = true
		known[resource+":rw"] = true
	}

	for i, token := range d.cfg.API.Auth.Tokens {
		if token.Token == "" {
			d.addWarning(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].token", i),
				"token value is empty (possibly unresolved environment variable)")
		}
		for j, scope := range token.Scopes {
			if !known[strings.TrimSpace(scope)] {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q", scope))
			}
		}
	}
}

// validateNotify checks the alert notifier target and event selection.
func (d *Doctor) validateNotify(r *Result) {
	n := d.cfg.Notify
	if n == nil {
		return
	}

	if name := config.UnresolvedEnvVar(n.URL); name != "" {
		d.addError(r, "notify", "notify.url", fmt.Sprintf("environment variable ${%s} not set", name))
	} else if u, err := url.Parse(n.URL); err != nil || u.Host == "" {
		d.addError(r, "notify", "notify.url", fmt.Sprintf("invalid URL %q", n.URL))
	} else if u.Scheme == "http" && !isLoopbackHost(u.Hostname()) {
		d.addWarning(r, "notify", "notify.url", "alerts are sent over plain http")
	}

	known := map[string]bool{"*": true}
	for _, t := range deploy.EventTypes() {
		known[t.String()] = true
	}
	wildcard := false
	for i, e := range n.Events {
		if e == "*" {
			wildcard = true
		}
		if !known[e] {
			d.addError(r, "notify", fmt.Sprintf("notify.events[%d]", i), fmt.Sprintf("unknown event type %q", e))
		}
	}
	if wildcard && len(n.Events) > 1 {
		d.addWarning(r, "notify", "notify.events", `"*" already selects every event`)
	}
}

// warnState flags history settings that disable features.
func (d *Doctor) warnState(r *Result) {
	if d.cfg.State.Path == "" {
		d.addWarning(r, "state", "state.path", "deploy history disabled; status endpoint lists no deployments")
		return
	}
	if d.cfg.State.Retention == 0 {
		d.addWarning(r, "state", "state.retention", "retention is 0; deploy history is never pruned")
	}
}

// warnIntegrity verifies the .checksums lock when present.
func (d *Doctor) warnIntegrity(r *Result) {
	if d.cfg.SourcePath == "" {
		return
	}
	if _, err := config.LoadChecksums(filepath.Dir(d.cfg.SourcePath)); errors.Is(err, config.ErrNoChecksums) {
		d.addWarning(r, "integrity", config.ChecksumFileName, "config is not locked (run 'deploygw config lock')")
		return
	}
	if err := config.VerifyConfigHash(d.cfg.SourcePath); err != nil {
		d.addError(r, "integrity", config.ChecksumFileName, firstLine(err.Error()))
	}
}

// warnDeprecatedSyntax warns about legacy config patterns.
func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
}

func sameListenAddr(a, b string) bool {
	ah, ap, err1 := net.SplitHostPort(a)
	bh, bp, err2 := net.SplitHostPort(b)
	if err1 != nil || err2 != nil {
		return a == b
	}
	if ap != bp {
		return false
	}
	return ah == bh || ah == "" || bh == "" || ah == "0.0.0.0" || bh == "0.0.0.0"
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
