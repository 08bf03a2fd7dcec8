package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattjoyce/deploygw/internal/deploy"
)

// ErrMalformedJSON is reported when a webhook body is not valid JSON.
var ErrMalformedJSON = errors.New("malformed JSON")

// ParseError wraps a payload decoding failure. Its message is safe to log
// but must not be returned to callers.
type ParseError struct {
	Kind error
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("parse webhook payload: %v", e.Kind)
	}
	return fmt.Sprintf("parse webhook payload: %v: %v", e.Kind, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// DefaultDeployID is used when a payload carries no deploy identifier.
const DefaultDeployID = "unknown"

// looseString decodes a JSON string and ignores every other JSON type, so
// a field of the wrong type reads as absent rather than failing the payload.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err == nil {
		*s = looseString(v)
	}
	return nil
}

type deployFields struct {
	ID           looseString `json:"id"`
	Name         looseString `json:"name"`
	SiteID       looseString `json:"site_id"`
	URL          looseString `json:"url"`
	SSLURL       looseString `json:"ssl_url"`
	Branch       looseString `json:"branch"`
	ErrorMessage looseString `json:"error_message"`
	CommitRef    looseString `json:"commit_ref"`
	CommitURL    looseString `json:"commit_url"`
	Committer    looseString `json:"committer"`
	PublishedAt  looseString `json:"published_at"`
}

// looseDeploy decodes the nested deploy object; non-objects read as empty.
type looseDeploy struct {
	deployFields
}

func (d *looseDeploy) UnmarshalJSON(data []byte) error {
	if !isObject(data) {
		return nil
	}
	return json.Unmarshal(data, &d.deployFields)
}

type notificationPayload struct {
	DeployID     looseString `json:"deploy_id"`
	SiteID       looseString `json:"site_id"`
	SiteName     looseString `json:"site_name"`
	ErrorMessage looseString `json:"error_message"`
	Deploy       looseDeploy `json:"deploy"`
}

// Parse decodes a deploy notification body. The event type is taken from
// label (the event header), never from the body; unrecognized labels yield
// deploy.EventUnknown. Parse only fails when body is not valid JSON.
func Parse(label string, body []byte) (deploy.Event, error) {
	if !json.Valid(body) {
		return deploy.Event{}, &ParseError{Kind: ErrMalformedJSON}
	}

	var p notificationPayload
	if isObject(body) {
		if err := json.Unmarshal(body, &p); err != nil {
			return deploy.Event{}, &ParseError{Kind: ErrMalformedJSON, Err: err}
		}
	}

	ev := deploy.Event{
		Type:         deploy.ParseEventType(label),
		Label:        label,
		DeployID:     firstNonEmpty(string(p.DeployID), DefaultDeployID),
		SiteID:       firstNonEmpty(string(p.SiteID), string(p.Deploy.SiteID)),
		SiteName:     string(p.SiteName),
		DeployURL:    firstNonEmpty(string(p.Deploy.SSLURL), string(p.Deploy.URL)),
		Branch:       string(p.Deploy.Branch),
		ErrorMessage: firstNonEmpty(string(p.ErrorMessage), string(p.Deploy.ErrorMessage)),
		CommitRef:    string(p.Deploy.CommitRef),
		CommitURL:    string(p.Deploy.CommitURL),
		Committer:    string(p.Deploy.Committer),
		PublishedAt:  string(p.Deploy.PublishedAt),
	}
	return ev, nil
}

// ParseDeployHook decodes the body of a post-deploy hook, where the payload
// is the deploy object itself rather than a notification envelope.
func ParseDeployHook(t deploy.EventType, body []byte) (deploy.Event, error) {
	if !json.Valid(body) {
		return deploy.Event{}, &ParseError{Kind: ErrMalformedJSON}
	}

	var d looseDeploy
	if err := json.Unmarshal(body, &d); err != nil {
		return deploy.Event{}, &ParseError{Kind: ErrMalformedJSON, Err: err}
	}

	return deploy.Event{
		Type:         t,
		Label:        t.String(),
		DeployID:     firstNonEmpty(string(d.ID), DefaultDeployID),
		SiteID:       string(d.SiteID),
		SiteName:     firstNonEmpty(string(d.Name), DefaultDeployID),
		DeployURL:    firstNonEmpty(string(d.SSLURL), string(d.URL)),
		Branch:       string(d.Branch),
		ErrorMessage: string(d.ErrorMessage),
		CommitRef:    string(d.CommitRef),
		CommitURL:    string(d.CommitURL),
		Committer:    string(d.Committer),
		PublishedAt:  string(d.PublishedAt),
	}, nil
}

func isObject(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
