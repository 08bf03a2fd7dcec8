package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mattjoyce/deploygw/internal/config"
	"github.com/mattjoyce/deploygw/internal/deploy"
	"github.com/mattjoyce/deploygw/internal/log"
)

// AllEvents in Config.Events selects every event type.
const AllEvents = "*"

// Config configures the HTTP alert notifier.
type Config struct {
	URL        string
	Events     []string
	Timeout    time.Duration
	Threshold  int
	ResetAfter time.Duration
}

// FromGlobalConfig converts the notify section of the service config.
func FromGlobalConfig(nc config.NotifyConfig) Config {
	c := Config{
		URL:     nc.URL,
		Events:  nc.Events,
		Timeout: nc.Timeout,
	}
	if nc.CircuitBreaker != nil {
		c.Threshold = nc.CircuitBreaker.Threshold
		c.ResetAfter = nc.CircuitBreaker.ResetAfter
	}
	return c
}

// Alert is the JSON body posted to the alert URL.
type Alert struct {
	Event        string `json:"event"`
	Text         string `json:"text"`
	DeployID     string `json:"deploy_id"`
	SiteID       string `json:"site_id,omitempty"`
	SiteName     string `json:"site_name,omitempty"`
	DeployURL    string `json:"deploy_url,omitempty"`
	Branch       string `json:"branch,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CommitRef    string `json:"commit_ref,omitempty"`
	CommitURL    string `json:"commit_url,omitempty"`
	Committer    string `json:"committer,omitempty"`
}

// HTTP posts alerts for selected deploy events.
type HTTP struct {
	url     string
	events  map[string]struct{}
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewHTTP creates an HTTP notifier. Unset timeout and breaker settings fall
// back to config.DefaultNotifyConf.
func NewHTTP(cfg Config) *HTTP {
	defaults := config.DefaultNotifyConf()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaults.CircuitBreaker.Threshold
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = defaults.CircuitBreaker.ResetAfter
	}
	if len(cfg.Events) == 0 {
		cfg.Events = defaults.Events
	}

	events := make(map[string]struct{}, len(cfg.Events))
	for _, e := range cfg.Events {
		events[e] = struct{}{}
	}

	logger := log.WithComponent("notify")
	threshold := uint32(cfg.Threshold)

	return &HTTP{
		url:    cfg.URL,
		events: events,
		client: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "notify",
			MaxRequests: 1,
			Timeout:     cfg.ResetAfter,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("notifier circuit state changed", "from", from.String(), "to", to.String())
			},
		}),
		logger: logger,
	}
}

// Wants reports whether ev is one of the selected event types.
func (n *HTTP) Wants(ev deploy.Event) bool {
	if _, ok := n.events[AllEvents]; ok {
		return true
	}
	_, ok := n.events[ev.Label]
	return ok
}

// State returns the circuit breaker state ("closed", "half-open" or "open").
func (n *HTTP) State() string {
	return n.breaker.State().String()
}

// Notify posts an alert for ev if it is selected. While the circuit is open
// it fails fast with gobreaker.ErrOpenState.
func (n *HTTP) Notify(ctx context.Context, ev deploy.Event) error {
	if !n.Wants(ev) {
		return nil
	}

	body, err := json.Marshal(NewAlert(ev))
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	_, err = n.breaker.Execute(func() (interface{}, error) {
		return nil, n.post(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("notify %s: %w", ev.Label, err)
	}
	n.logger.Debug("alert delivered", "deploy_id", ev.DeployID, "event", ev.Label)
	return nil
}

func (n *HTTP) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "deploygw")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("alert receiver returned %s", resp.Status)
	}
	return nil
}

// NewAlert summarizes ev for the alert receiver.
func NewAlert(ev deploy.Event) Alert {
	return Alert{
		Event:        ev.Label,
		Text:         alertText(ev),
		DeployID:     ev.DeployID,
		SiteID:       ev.SiteID,
		SiteName:     ev.SiteName,
		DeployURL:    ev.DeployURL,
		Branch:       ev.Branch,
		ErrorMessage: ev.ErrorMessage,
		CommitRef:    ev.CommitRef,
		CommitURL:    ev.CommitURL,
		Committer:    ev.Committer,
	}
}

func alertText(ev deploy.Event) string {
	site := ev.SiteName
	if site == "" {
		site = "site"
	}

	switch ev.Type {
	case deploy.EventSucceeded:
		if ev.DeployURL != "" {
			return fmt.Sprintf("Deploy %s of %s succeeded: %s", ev.DeployID, site, ev.DeployURL)
		}
		return fmt.Sprintf("Deploy %s of %s succeeded", ev.DeployID, site)
	case deploy.EventFailed:
		msg := ev.ErrorMessage
		if msg == "" {
			msg = "Unknown error"
		}
		return fmt.Sprintf("Deploy %s of %s failed: %s", ev.DeployID, site, msg)
	case deploy.EventLocked:
		return fmt.Sprintf("Deploy %s of %s locked", ev.DeployID, site)
	case deploy.EventUnlocked:
		return fmt.Sprintf("Deploy %s of %s unlocked", ev.DeployID, site)
	default:
		return fmt.Sprintf("Event %s for deploy %s of %s", ev.Label, ev.DeployID, site)
	}
}
