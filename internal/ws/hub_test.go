package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type memorySubscriber struct {
	mu       sync.Mutex
	messages [][]byte
	sendErr  error
	closed   bool
}

func (m *memorySubscriber) Send(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.messages = append(m.messages, payload)
	return nil
}

func (m *memorySubscriber) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *memorySubscriber) received() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestHubBroadcastsToProjectSubscribers(t *testing.T) {
	hub := NewHub()
	sub := &memorySubscriber{}
	other := &memorySubscriber{}

	hub.Register("proj-1", sub)
	hub.Register("proj-2", other)
	hub.Broadcast("proj-1", []byte("hello"))

	waitFor(t, func() bool { return sub.received() == 1 })
	if other.received() != 0 {
		t.Fatalf("unrelated project must not receive broadcasts")
	}
}

func TestHubUnregisterStopsDelivery(t *testing.T) {
	hub := NewHub()
	sub := &memorySubscriber{}

	hub.Register("proj-1", sub)
	hub.Broadcast("proj-1", []byte("one"))
	waitFor(t, func() bool { return sub.received() == 1 })

	hub.Unregister("proj-1", sub)
	hub.Broadcast("proj-1", []byte("two"))

	// The second broadcast is processed after the unregister on the same
	// goroutine, so one message is the settled state.
	time.Sleep(20 * time.Millisecond)
	if sub.received() != 1 {
		t.Fatalf("expected delivery to stop after unregister, got %d", sub.received())
	}
}

func TestHubDropsFailingSubscriber(t *testing.T) {
	hub := NewHub()
	failing := &memorySubscriber{sendErr: errors.New("connection reset")}
	healthy := &memorySubscriber{}

	hub.Register("proj-1", failing)
	hub.Register("proj-1", healthy)
	hub.Broadcast("proj-1", []byte("frame"))

	waitFor(t, func() bool { return healthy.received() == 1 })
	waitFor(t, func() bool {
		failing.mu.Lock()
		defer failing.mu.Unlock()
		return failing.closed
	})
}

func TestFrameEncode(t *testing.T) {
	frame := Frame{ProjectID: "proj-1", Type: FrameLog, Stream: StreamBuild, Message: "Step 1/3"}
	payload := frame.Encode()
	if payload == nil {
		t.Fatalf("expected payload")
	}
	var decoded map[string]string
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["projectId"] != "proj-1" || decoded["type"] != FrameLog || decoded["stream"] != StreamBuild {
		t.Fatalf("unexpected frame json: %v", decoded)
	}
}

func TestFrameOmitsEmptyStream(t *testing.T) {
	payload := Frame{ProjectID: "proj-1", Type: FrameConnected, Message: "subscribed"}.Encode()
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, present := decoded["stream"]; present {
		t.Fatalf("empty stream must be omitted")
	}
}
