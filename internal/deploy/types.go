// Package deploy defines the deploy lifecycle events reported by the hosting
// platform and the result of handling one.
package deploy

import "time"

// EventType is the closed set of deploy events the gateway understands.
type EventType int

const (
	EventUnknown EventType = iota
	EventSucceeded
	EventFailed
	EventLocked
	EventUnlocked
)

var eventLabels = map[EventType]string{
	EventUnknown:   "unknown",
	EventSucceeded: "deploy_succeeded",
	EventFailed:    "deploy_failed",
	EventLocked:    "deploy_locked",
	EventUnlocked:  "deploy_unlocked",
}

// EventTypes lists every recognized type, EventUnknown included.
func EventTypes() []EventType {
	return []EventType{EventSucceeded, EventFailed, EventLocked, EventUnlocked, EventUnknown}
}

// ParseEventType maps a header label to an EventType. Unrecognized labels
// map to EventUnknown.
func ParseEventType(label string) EventType {
	for t, l := range eventLabels {
		if t != EventUnknown && l == label {
			return t
		}
	}
	return EventUnknown
}

func (t EventType) String() string {
	if l, ok := eventLabels[t]; ok {
		return l
	}
	return eventLabels[EventUnknown]
}

// Event is a decoded deploy notification. It is built once per request and
// not modified afterwards.
type Event struct {
	Type EventType
	// Label is the event header value as received; it differs from
	// Type.String() only for EventUnknown.
	Label string

	DeployID     string
	SiteID       string
	SiteName     string
	DeployURL    string
	Branch       string
	ErrorMessage string
	CommitRef    string
	CommitURL    string
	Committer    string
	PublishedAt  string
}

// Result is the outcome of dispatching an Event. Success reports whether the
// notification was handled, not whether the deploy itself succeeded.
type Result struct {
	Success bool
	Message string
	Detail  map[string]string
}

// Record is a dispatched event as kept in the deploy history.
type Record struct {
	ID           string    `json:"id"`
	DeployID     string    `json:"deploy_id"`
	SiteID       string    `json:"site_id,omitempty"`
	SiteName     string    `json:"site_name,omitempty"`
	Event        string    `json:"event"`
	DeployURL    string    `json:"deploy_url,omitempty"`
	Branch       string    `json:"branch,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ReceivedAt   time.Time `json:"received_at"`
}

// NewRecord builds a history record for ev received at the given time.
func NewRecord(id string, ev Event, receivedAt time.Time) Record {
	return Record{
		ID:           id,
		DeployID:     ev.DeployID,
		SiteID:       ev.SiteID,
		SiteName:     ev.SiteName,
		Event:        ev.Label,
		DeployURL:    ev.DeployURL,
		Branch:       ev.Branch,
		ErrorMessage: ev.ErrorMessage,
		ReceivedAt:   receivedAt.UTC(),
	}
}
