package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrAlaminH/voice-agent-launchpad/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(id string) domain.CallEvent {
	return domain.CallEvent{
		EventType:   domain.EventCallEnded,
		CallID:      id,
		Direction:   domain.DirectionInbound,
		PhoneNumber: "+14155550123",
		Status:      domain.CallStatusEnded,
		Timestamp:   time.Now().UTC(),
	}
}

func TestDispatcherDelivers(t *testing.T) {
	var mu sync.Mutex
	var received []domain.CallEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev domain.CallEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
	}))
	defer srv.Close()

	d := NewDispatcher(Config{URL: srv.URL, BaseBackoff: time.Millisecond})
	d.Start(context.Background(), 1)
	d.Dispatch(testEvent("inbound_20250314_090000_14155550123"))
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, domain.EventCallEnded, received[0].EventType)
	assert.Equal(t, "inbound_20250314_090000_14155550123", received[0].CallID)
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	d := NewDispatcher(Config{URL: srv.URL, MaxAttempts: 3, BaseBackoff: time.Millisecond})
	d.Start(context.Background(), 1)
	d.Dispatch(testEvent("call_retry"))
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDispatcher(Config{URL: srv.URL, MaxAttempts: 3, BaseBackoff: time.Millisecond})
	d.Start(context.Background(), 1)
	d.Dispatch(testEvent("call_doomed"))
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestDispatcherDisabledWithoutURL(t *testing.T) {
	d := NewDispatcher(Config{})
	d.Start(context.Background(), 1)
	d.Dispatch(testEvent("call_nowhere"))
	d.Close()
	// Nothing queued when no downstream is configured.
	assert.Empty(t, d.queue)
}

func TestDispatcherQueueFullDropsWithoutBlocking(t *testing.T) {
	d := NewDispatcher(Config{URL: "http://127.0.0.1:0/webhook", QueueSize: 1})
	// No workers started, so the queue never drains.
	d.Dispatch(testEvent("call_1"))

	done := make(chan struct{})
	go func() {
		d.Dispatch(testEvent("call_2"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}
	assert.Len(t, d.queue, 1)
}
