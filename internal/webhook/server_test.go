package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/deploygw/internal/deploy"
	"github.com/mattjoyce/deploygw/internal/dispatch"
)

const testSecret = "s3cr3t"

const trekSnoutBody = `{"deploy_id":"d1","site_name":"trek-snout","event":"deploy_succeeded","deploy":{"ssl_url":"https://x.test"}}`

// recordingDispatcher wraps the real dispatcher and remembers what it saw.
type recordingDispatcher struct {
	mu     sync.Mutex
	inner  *dispatch.Dispatcher
	events []deploy.Event
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, ev deploy.Event) deploy.Result {
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
	return d.inner.Dispatch(ctx, ev)
}

func (d *recordingDispatcher) seen() []deploy.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]deploy.Event(nil), d.events...)
}

type fakeLister struct {
	records []deploy.Record
	err     error
}

func (f fakeLister) Recent(_ context.Context, limit int) ([]deploy.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.records) > limit {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(config Config, history DeployLister) (*Server, *recordingDispatcher) {
	d := &recordingDispatcher{inner: dispatch.New(nil, 0)}
	s := New(config, d, history, testLogger())
	s.now = func() time.Time { return time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC) }
	return s, d
}

func signedRequest(body, label, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, DefaultPath, strings.NewReader(body))
	if signature != "" {
		req.Header.Set(DefaultSignatureHeader, signature)
	}
	if label != "" {
		req.Header.Set(DefaultEventHeader, label)
	}
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp.Error
}

func TestHandleWebhook_DeploySucceeded(t *testing.T) {
	server, d := newTestServer(Config{Secret: testSecret}, nil)

	rec := serve(server, signedRequest(trekSnoutBody, "deploy_succeeded", Sign([]byte(trekSnoutBody), testSecret)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	resp := decodeResponse(t, rec)
	if !resp.Success {
		t.Error("Success = false, want true")
	}
	if resp.Message != "Deploy succeeded event processed" {
		t.Errorf("Message = %q", resp.Message)
	}
	if resp.Timestamp != "2026-10-17T09:30:00Z" {
		t.Errorf("Timestamp = %q", resp.Timestamp)
	}

	events := d.seen()
	if len(events) != 1 {
		t.Fatalf("dispatched %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != deploy.EventSucceeded || ev.DeployID != "d1" || ev.SiteName != "trek-snout" || ev.DeployURL != "https://x.test" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestHandleWebhook_TimestampIsRFC3339(t *testing.T) {
	server, _ := newTestServer(Config{Secret: testSecret}, nil)
	server.now = time.Now

	rec := serve(server, signedRequest(trekSnoutBody, "deploy_succeeded", Sign([]byte(trekSnoutBody), testSecret)))
	resp := decodeResponse(t, rec)

	ts, err := time.Parse(time.RFC3339Nano, resp.Timestamp)
	if err != nil {
		t.Fatalf("timestamp %q is not RFC 3339: %v", resp.Timestamp, err)
	}
	if ts.Location() != time.UTC {
		t.Errorf("timestamp %q is not UTC", resp.Timestamp)
	}
}

func TestHandleWebhook_SignatureVariantsRejected(t *testing.T) {
	sig := Sign([]byte(trekSnoutBody), testSecret)

	tests := []struct {
		name      string
		signature string
	}{
		{name: "uppercase hex", signature: strings.ToUpper(sig)},
		{name: "sha256 prefix", signature: "sha256=" + sig},
		{name: "trailing space", signature: sig + " "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, d := newTestServer(Config{Secret: testSecret}, nil)
			rec := serve(server, signedRequest(trekSnoutBody, "deploy_succeeded", tt.signature))
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
			if n := len(d.seen()); n != 0 {
				t.Errorf("dispatched %d events, want 0", n)
			}
		})
	}
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	server, d := newTestServer(Config{Secret: testSecret}, nil)

	rec := serve(server, signedRequest(trekSnoutBody, "deploy_succeeded", "deadbeef"))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if msg := decodeError(t, rec); msg != "invalid signature" {
		t.Errorf("error = %q, want %q", msg, "invalid signature")
	}
	if n := len(d.seen()); n != 0 {
		t.Errorf("dispatcher called %d times, want 0", n)
	}
}

func TestHandleWebhook_TamperedBody(t *testing.T) {
	server, d := newTestServer(Config{Secret: testSecret}, nil)

	// Signed over the compact form, delivered reformatted.
	sig := Sign([]byte(trekSnoutBody), testSecret)
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, []byte(trekSnoutBody), "", "  "); err != nil {
		t.Fatal(err)
	}

	rec := serve(server, signedRequest(pretty.String(), "deploy_succeeded", sig))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if n := len(d.seen()); n != 0 {
		t.Errorf("dispatcher called %d times, want 0", n)
	}
}

func TestHandleWebhook_DeployFailed(t *testing.T) {
	server, d := newTestServer(Config{Secret: testSecret}, nil)

	body := `{"deploy_id":"d2","error_message":"build timeout"}`
	rec := serve(server, signedRequest(body, "deploy_failed", Sign([]byte(body), testSecret)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	resp := decodeResponse(t, rec)
	if !resp.Success || resp.Message != "Deploy failed event processed" {
		t.Errorf("unexpected response: %+v", resp)
	}

	events := d.seen()
	if len(events) != 1 || events[0].ErrorMessage != "build timeout" {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestHandleWebhook_UnknownEvent(t *testing.T) {
	server, d := newTestServer(Config{Secret: testSecret}, nil)

	body := `{}`
	rec := serve(server, signedRequest(body, "some_future_event", Sign([]byte(body), testSecret)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	resp := decodeResponse(t, rec)
	if resp.Message != "Event some_future_event received but not processed" {
		t.Errorf("Message = %q", resp.Message)
	}

	events := d.seen()
	if len(events) != 1 || events[0].Type != deploy.EventUnknown || events[0].DeployID != "unknown" {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestHandleWebhook_SecretNotConfigured(t *testing.T) {
	server, d := newTestServer(Config{}, nil)

	rec := serve(server, signedRequest(trekSnoutBody, "deploy_succeeded", "deadbeef"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if msg := decodeError(t, rec); msg != "webhook secret is not configured" {
		t.Errorf("error = %q", msg)
	}
	if n := len(d.seen()); n != 0 {
		t.Errorf("dispatcher called %d times, want 0", n)
	}
}

func TestHandleWebhook_MissingHeaders(t *testing.T) {
	sig := Sign([]byte(trekSnoutBody), testSecret)

	tests := []struct {
		name      string
		signature string
		label     string
		wantError string
	}{
		{name: "missing signature", label: "deploy_succeeded", wantError: "missing signature header"},
		{name: "missing event", signature: sig, wantError: "missing event header"},
		{name: "missing both", wantError: "missing signature header"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, d := newTestServer(Config{Secret: testSecret}, nil)
			rec := serve(server, signedRequest(trekSnoutBody, tt.label, tt.signature))

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if msg := decodeError(t, rec); msg != tt.wantError {
				t.Errorf("error = %q, want %q", msg, tt.wantError)
			}
			if n := len(d.seen()); n != 0 {
				t.Errorf("dispatcher called %d times, want 0", n)
			}
		})
	}
}

func TestHandleWebhook_MalformedJSON(t *testing.T) {
	server, d := newTestServer(Config{Secret: testSecret}, nil)

	body := `{"deploy_id":`
	rec := serve(server, signedRequest(body, "deploy_succeeded", Sign([]byte(body), testSecret)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if msg := decodeError(t, rec); msg != "invalid JSON payload" {
		t.Errorf("error = %q, want generic message", msg)
	}
	if n := len(d.seen()); n != 0 {
		t.Errorf("dispatcher called %d times, want 0", n)
	}
}

func TestHandleWebhook_NonObjectJSONAccepted(t *testing.T) {
	server, d := newTestServer(Config{Secret: testSecret}, nil)

	body := `[1,2,3]`
	rec := serve(server, signedRequest(body, "deploy_locked", Sign([]byte(body), testSecret)))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	events := d.seen()
	if len(events) != 1 || events[0].DeployID != "unknown" {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestHandleWebhook_BodyTooLarge(t *testing.T) {
	server, d := newTestServer(Config{Secret: testSecret, MaxBodySize: 16}, nil)

	body := strings.Repeat("x", 17)
	rec := serve(server, signedRequest(body, "deploy_succeeded", Sign([]byte(body), testSecret)))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
	if n := len(d.seen()); n != 0 {
		t.Errorf("dispatcher called %d times, want 0", n)
	}
}

func TestHandleWebhook_BodyAtLimit(t *testing.T) {
	body := `{"deploy_id":"d1"}`
	server, _ := newTestServer(Config{Secret: testSecret, MaxBodySize: int64(len(body))}, nil)

	rec := serve(server, signedRequest(body, "deploy_succeeded", Sign([]byte(body), testSecret)))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleWebhook_CustomHeaders(t *testing.T) {
	server, _ := newTestServer(Config{
		Path:            "/hooks/deploy",
		Secret:          testSecret,
		SignatureHeader: "X-Sig",
		EventHeader:     "X-Event",
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/hooks/deploy", strings.NewReader(trekSnoutBody))
	req.Header.Set("X-Sig", Sign([]byte(trekSnoutBody), testSecret))
	req.Header.Set("X-Event", "deploy_succeeded")

	rec := serve(server, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleWebhook_UnknownPath(t *testing.T) {
	server, _ := newTestServer(Config{Secret: testSecret}, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhook/unknown", strings.NewReader(`{}`))
	rec := serve(server, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleWebhook_NotifierFailureDoesNotChangeResponse(t *testing.T) {
	failing := dispatch.New(notifierFunc(func(context.Context, deploy.Event) error {
		return errors.New("downstream unavailable")
	}), time.Second)
	server := New(Config{Secret: testSecret}, failing, nil, testLogger())

	rec := serve(server, signedRequest(trekSnoutBody, "deploy_succeeded", Sign([]byte(trekSnoutBody), testSecret)))
	failing.Wait()

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

type notifierFunc func(ctx context.Context, ev deploy.Event) error

func (f notifierFunc) Notify(ctx context.Context, ev deploy.Event) error { return f(ctx, ev) }

func TestHandleStatus(t *testing.T) {
	received := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	history := fakeLister{records: []deploy.Record{
		{ID: "r1", DeployID: "d1", SiteName: "trek-snout", Event: "deploy_succeeded", DeployURL: "https://x.test", ReceivedAt: received},
	}}
	server, _ := newTestServer(Config{Secret: testSecret, DeployHooks: true}, history)

	rec := serve(server, httptest.NewRequest(http.MethodGet, DefaultPath+"/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "active" {
		t.Errorf("Status = %q, want active", resp.Status)
	}
	if resp.Endpoints["main"] != DefaultPath || resp.Endpoints["deploySuccess"] != DefaultPath+"/deploy-success" {
		t.Errorf("unexpected endpoints: %v", resp.Endpoints)
	}
	if len(resp.Deployments) != 1 {
		t.Fatalf("deployments = %d, want 1", len(resp.Deployments))
	}
	got := resp.Deployments[0]
	if got.DeployID != "d1" || got.URL != "https://x.test" || got.ReceivedAt != "2026-10-16T08:00:00Z" {
		t.Errorf("unexpected deployment: %+v", got)
	}
}

func TestHandleStatus_NoHistory(t *testing.T) {
	server, _ := newTestServer(Config{Secret: testSecret}, nil)

	rec := serve(server, httptest.NewRequest(http.MethodGet, DefaultPath+"/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Deployments == nil || len(resp.Deployments) != 0 {
		t.Errorf("Deployments = %v, want empty list", resp.Deployments)
	}
	if _, ok := resp.Endpoints["deploySuccess"]; ok {
		t.Error("deploySuccess endpoint listed while hooks are disabled")
	}
}

func TestHandleStatus_HistoryError(t *testing.T) {
	server, _ := newTestServer(Config{Secret: testSecret}, fakeLister{err: errors.New("disk I/O error")})

	rec := serve(server, httptest.NewRequest(http.MethodGet, DefaultPath+"/status", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if msg := decodeError(t, rec); msg != "error retrieving webhook status" {
		t.Errorf("error = %q", msg)
	}
}

func TestDeployHooks(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		body        string
		wantStatus  int
		wantMessage string
		wantType    deploy.EventType
	}{
		{
			name:        "success hook",
			path:        "/deploy-success",
			body:        `{"id":"d5","name":"trek-snout","ssl_url":"https://x.test"}`,
			wantStatus:  http.StatusOK,
			wantMessage: "Deploy success hook processed",
			wantType:    deploy.EventSucceeded,
		},
		{
			name:        "failure hook",
			path:        "/deploy-failure",
			body:        `{"id":"d6","error_message":"boom"}`,
			wantStatus:  http.StatusOK,
			wantMessage: "Deploy failure hook processed",
			wantType:    deploy.EventFailed,
		},
		{
			name:       "malformed",
			path:       "/deploy-success",
			body:       `{"id":`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, d := newTestServer(Config{Secret: testSecret, DeployHooks: true}, nil)

			rec := serve(server, httptest.NewRequest(http.MethodPost, DefaultPath+tt.path, strings.NewReader(tt.body)))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			if tt.wantStatus != http.StatusOK {
				if msg := decodeError(t, rec); msg != "invalid JSON payload" {
					t.Errorf("error = %q", msg)
				}
				if n := len(d.seen()); n != 0 {
					t.Errorf("dispatcher called %d times, want 0", n)
				}
				return
			}

			resp := decodeResponse(t, rec)
			if !resp.Success || resp.Message != tt.wantMessage {
				t.Errorf("unexpected response: %+v", resp)
			}
			events := d.seen()
			if len(events) != 1 || events[0].Type != tt.wantType {
				t.Errorf("unexpected events: %+v", events)
			}
		})
	}
}

func TestDeployHooks_Disabled(t *testing.T) {
	server, _ := newTestServer(Config{Secret: testSecret}, nil)

	rec := serve(server, httptest.NewRequest(http.MethodPost, DefaultPath+"/deploy-success", strings.NewReader(`{}`)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	server := New(Config{Secret: testSecret}, &recordingDispatcher{inner: dispatch.New(nil, 0)}, nil, testLogger())

	if server.config.Path != DefaultPath {
		t.Errorf("Path = %q, want %q", server.config.Path, DefaultPath)
	}
	if server.config.SignatureHeader != DefaultSignatureHeader {
		t.Errorf("SignatureHeader = %q", server.config.SignatureHeader)
	}
	if server.config.EventHeader != DefaultEventHeader {
		t.Errorf("EventHeader = %q", server.config.EventHeader)
	}
	if server.config.MaxBodySize != DefaultMaxBodySize {
		t.Errorf("MaxBodySize = %d, want %d", server.config.MaxBodySize, DefaultMaxBodySize)
	}
}
