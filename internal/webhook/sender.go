package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SampleSite is the site name used in generated test notifications.
const SampleSite = "trek-snout"

// SamplePayload builds a notification body shaped like Netlify's for the
// given event label. deploy_failed payloads carry an error message.
func SamplePayload(label string, now time.Time) ([]byte, error) {
	deployID := fmt.Sprintf("test-deploy-%d", now.UnixMilli())
	siteURL := "https://main--" + SampleSite + ".netlify.app"

	payload := map[string]any{
		"site_id":   "test-site-id",
		"site_name": SampleSite,
		"deploy_id": deployID,
		"deploy": map[string]any{
			"id":           deployID,
			"url":          siteURL,
			"ssl_url":      siteURL,
			"admin_url":    "https://app.netlify.com/sites/" + SampleSite + "/deploys/" + deployID,
			"deploy_url":   siteURL,
			"branch":       "main",
			"commit_ref":   "test-commit-ref",
			"commit_url":   "https://github.com/example/" + SampleSite + "/commit/test-commit",
			"committer":    "Test User",
			"published_at": now.UTC().Format(time.RFC3339Nano),
		},
		"event":     label,
		"timestamp": now.UnixMilli(),
	}
	if label == "deploy_failed" {
		payload["error_message"] = "This is a test error message"
	}

	return json.Marshal(payload)
}

// Sender posts signed notifications, as the deploy platform would.
type Sender struct {
	URL             string
	Secret          string
	SignatureHeader string
	EventHeader     string
	Client          *http.Client
}

// SendResult is the gateway's reply to a sent notification.
type SendResult struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx reply.
func (r *SendResult) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Send signs body with the sender's secret and posts it with label in the
// event header. A non-2xx reply is returned as a result, not an error.
func (s *Sender) Send(ctx context.Context, label string, body []byte) (*SendResult, error) {
	sigHeader := s.SignatureHeader
	if sigHeader == "" {
		sigHeader = DefaultSignatureHeader
	}
	eventHeader := s.EventHeader
	if eventHeader == "" {
		eventHeader = DefaultEventHeader
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "deploygw webhook send")
	req.Header.Set(sigHeader, Sign(body, s.Secret))
	req.Header.Set(eventHeader, label)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &SendResult{StatusCode: resp.StatusCode, Body: respBody}, nil
}
