package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types published on the live stream.
const (
	TypeScanStart    = "scan_start"
	TypeScanProgress = "scan_progress"
	TypeScanComplete = "scan_complete"
	TypeScanError    = "scan_error"

	TypeReinjectStart    = "reinject_start"
	TypeReinjectComplete = "reinject_complete"
	TypeReinjectError    = "reinject_error"

	TypeSymlinkScanStart     = "symlink_scan_start"
	TypeSymlinkScanComplete  = "symlink_scan_complete"
	TypeSymlinkMatchStart    = "symlink_match_start"
	TypeSymlinkMatchComplete = "symlink_match_complete"
)

type Event struct {
	ID        string
	Type      string
	Timestamp string
	Data      map[string]any
}

// MarshalJSON flattens the payload into the frame, so clients read
// `{type, timestamp, ...payload}` rather than a nested data object.
func (e Event) MarshalJSON() ([]byte, error) {
	frame := make(map[string]any, len(e.Data)+3)
	for k, v := range e.Data {
		frame[k] = v
	}
	frame["id"] = e.ID
	frame["type"] = e.Type
	frame["timestamp"] = e.Timestamp
	return json.Marshal(frame)
}

// subscriber buffers are small; a stalled client loses events instead of
// stalling the publishers.
const subscriberBuffer = 16

type subscriber struct {
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Hub fans pipeline events out to SSE clients.
type Hub struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	logger  zerolog.Logger
	dropped uint64
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subs:   make(map[*subscriber]struct{}),
		logger: logger,
	}
}

// Publish emits one event to every connected client. Never blocks.
func (h *Hub) Publish(eventType string, data map[string]any) {
	ev := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			h.dropped++
		}
	}
}

// ClientCount returns the number of connected stream clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many events were discarded because a client's
// buffer was full.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Hub) subscribe() *subscriber {
	s := &subscriber{
		ch:   make(chan Event, subscriberBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	s.close()
}

// ServeHTTP streams events as server-sent events until the client goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := h.subscribe()
	defer h.unsubscribe(sub)

	// confirm the subscription before any real event
	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.done:
			return
		case ev := <-sub.ch:
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error().Err(err).Msg("marshaling event failed")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// Shutdown disconnects every client.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
}
