package server

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/jarvis/internal/assistant"
)

// Event types sent on the event feed.
const (
	EventTranscript  = "transcript"
	EventStatus      = "status"
	EventInputLevel  = "input_level"
	EventOutputLevel = "output_level"
)

// subscriberBuffer is the number of events queued per subscriber before new
// events are dropped for it.
const subscriberBuffer = 256

// Event is one message on the /api/events feed.
type Event struct {
	Type        string    `json:"type"`
	SessionID   string    `json:"session_id,omitempty"`
	Text        string    `json:"text,omitempty"`
	State       string    `json:"state,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`
	Level       *float64  `json:"level,omitempty"`
}

// Hub fans session output out to event feed subscribers. It implements
// [assistant.Sink]; publishing never blocks, and a subscriber whose buffer is
// full misses events.
type Hub struct {
	log *slog.Logger

	mu        sync.Mutex
	subs      map[*subscriber]struct{}
	sessionID string
	last      Event

	dropped atomic.Int64
}

type subscriber struct {
	ch chan Event
}

// NewHub returns an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:  log,
		subs: make(map[*subscriber]struct{}),
		last: Event{Type: EventStatus, State: assistant.StateDisconnected.String()},
	}
}

var _ assistant.Sink = (*Hub)(nil)

// Subscribe registers a new subscriber. The channel first receives the latest
// status event. Call the returned function to unsubscribe; it closes the
// channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	s.ch <- h.last
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			h.mu.Unlock()
			close(s.ch)
		})
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns the number of events dropped for slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Transcript implements [assistant.Sink].
func (h *Hub) Transcript(text string) {
	h.publish(Event{Type: EventTranscript, Text: text})
}

// Status implements [assistant.Sink].
func (h *Hub) Status(st assistant.Status) {
	h.publish(Event{
		Type:        EventStatus,
		SessionID:   st.SessionID,
		State:       st.State.String(),
		ConnectedAt: st.ConnectedAt,
	})
}

// InputLevel implements [assistant.Sink].
func (h *Hub) InputLevel(level float64) {
	h.publish(Event{Type: EventInputLevel, Level: &level})
}

// OutputLevel implements [assistant.Sink].
func (h *Hub) OutputLevel(level float64) {
	h.publish(Event{Type: EventOutputLevel, Level: &level})
}

func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.Type == EventStatus {
		h.sessionID = ev.SessionID
		h.last = ev
	} else {
		ev.SessionID = h.sessionID
	}

	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			if h.dropped.Add(1)%100 == 1 {
				h.log.Warn("server: event subscriber too slow, dropping events", "type", ev.Type)
			}
		}
	}
}
