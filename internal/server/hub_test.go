package server

import (
	"testing"
	"time"

	"github.com/MrWong99/jarvis/internal/assistant"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestHub_SubscribeReceivesLatestStatus(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	ch, unsubscribe := h.Subscribe()
	defer unsubscribe()

	ev := recv(t, ch)
	if ev.Type != EventStatus || ev.State != "disconnected" {
		t.Errorf("initial event = %+v; want disconnected status", ev)
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h.Status(assistant.Status{State: assistant.StateConnected, SessionID: "s1", ConnectedAt: at})
	_ = recv(t, ch)

	late, unsubscribeLate := h.Subscribe()
	defer unsubscribeLate()
	ev = recv(t, late)
	if ev.State != "connected" || ev.SessionID != "s1" || !ev.ConnectedAt.Equal(at) {
		t.Errorf("late subscriber initial event = %+v", ev)
	}
}

func TestHub_EventsCarrySessionID(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	ch, unsubscribe := h.Subscribe()
	defer unsubscribe()
	_ = recv(t, ch)

	h.Status(assistant.Status{State: assistant.StateConnecting, SessionID: "abc"})
	h.Transcript("Good evening.")
	h.InputLevel(0.25)
	h.OutputLevel(0)

	tests := []struct {
		typ   string
		text  string
		level float64
	}{
		{EventStatus, "", 0},
		{EventTranscript, "Good evening.", 0},
		{EventInputLevel, "", 0.25},
		{EventOutputLevel, "", 0},
	}
	for _, tt := range tests {
		ev := recv(t, ch)
		if ev.Type != tt.typ {
			t.Fatalf("event type = %q; want %q", ev.Type, tt.typ)
		}
		if ev.SessionID != "abc" {
			t.Errorf("%s session_id = %q; want abc", ev.Type, ev.SessionID)
		}
		if ev.Text != tt.text {
			t.Errorf("%s text = %q; want %q", ev.Type, ev.Text, tt.text)
		}
		if tt.typ == EventInputLevel || tt.typ == EventOutputLevel {
			if ev.Level == nil || *ev.Level != tt.level {
				t.Errorf("%s level = %v; want %v", ev.Type, ev.Level, tt.level)
			}
		}
	}
}

func TestHub_SlowSubscriberDropsWithoutBlocking(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	_, unsubscribe := h.Subscribe() // never read
	defer unsubscribe()
	fast, unsubscribeFast := h.Subscribe()
	defer unsubscribeFast()

	_ = recv(t, fast)
	for i := range subscriberBuffer * 2 {
		h.InputLevel(0.5)
		select {
		case <-fast:
		case <-time.After(time.Second):
			t.Fatalf("fast subscriber missed event %d", i)
		}
	}

	if h.Dropped() == 0 {
		t.Error("expected events to be dropped for the slow subscriber")
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	ch, unsubscribe := h.Subscribe()
	if h.Subscribers() != 1 {
		t.Fatalf("Subscribers = %d; want 1", h.Subscribers())
	}
	unsubscribe()
	unsubscribe()

	<-ch // initial status
	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
	if h.Subscribers() != 0 {
		t.Errorf("Subscribers = %d; want 0", h.Subscribers())
	}
	h.Transcript("after")
}

func TestHub_ImplementsMultiSinkMember(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	ch, unsubscribe := h.Subscribe()
	defer unsubscribe()
	_ = recv(t, ch)

	var sink assistant.Sink = assistant.MultiSink{assistant.NopSink{}, h}
	sink.Transcript("via multi")
	if ev := recv(t, ch); ev.Text != "via multi" {
		t.Errorf("event = %+v", ev)
	}
}
