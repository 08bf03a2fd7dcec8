package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/deploygw/internal/deploy"
)

// Event is one entry of the live stream.
type Event struct {
	ID       int64     `json:"id"`
	Delivery string    `json:"delivery"`
	Type     string    `json:"type"`
	At       time.Time `json:"at"`
	Data     []byte    `json:"data"` // JSON payload
}

// DeployPayload is the data published for a dispatched deploy event.
type DeployPayload struct {
	DeployID     string `json:"deploy_id"`
	SiteID       string `json:"site_id,omitempty"`
	SiteName     string `json:"site_name,omitempty"`
	DeployURL    string `json:"deploy_url,omitempty"`
	Branch       string `json:"branch,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CommitRef    string `json:"commit_ref,omitempty"`
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// Notify publishes a dispatched deploy event under its raw label, so the
// stream also carries event types the dispatcher does not recognize.
func (h *Hub) Notify(_ context.Context, ev deploy.Event) error {
	eventType := ev.Label
	if eventType == "" {
		eventType = ev.Type.String()
	}
	h.Publish(eventType, DeployPayload{
		DeployID:     ev.DeployID,
		SiteID:       ev.SiteID,
		SiteName:     ev.SiteName,
		DeployURL:    ev.DeployURL,
		Branch:       ev.Branch,
		ErrorMessage: ev.ErrorMessage,
		CommitRef:    ev.CommitRef,
	})
	return nil
}

func (h *Hub) Publish(eventType string, data any) Event {
	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// IDs are assigned under the lock so the ring stays ordered.
	ev := Event{
		ID:       h.nextID.Add(1),
		Delivery: uuid.NewString(),
		Type:     eventType,
		At:       time.Now().UTC(),
		Data:     payload,
	}

	h.pushLocked(ev)
	for _, ch := range h.subs {
		// Don't let slow clients block producers.
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 32)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// Subscribers reports the number of connected stream clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
// If lastID is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if capacity == 0 {
		return
	}

	if h.size < capacity {
		idx := (h.start + h.size) % capacity
		h.ring[idx] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
