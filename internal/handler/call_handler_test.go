package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrAlaminH/voice-agent-launchpad/internal/config"
	"github.com/MrAlaminH/voice-agent-launchpad/internal/core/task"
	"github.com/MrAlaminH/voice-agent-launchpad/internal/domain"
	"github.com/MrAlaminH/voice-agent-launchpad/internal/services/call"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	mu        sync.Mutex
	published []task.CallTask
}

func (b *fakeBus) Publish(_ context.Context, t task.CallTask) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, t)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, func(task.CallTask)) error { return nil }

type callAPIFixture struct {
	router  *mux.Router
	service *call.TelephonyService
	events  *capturedEvents
	bus     *fakeBus
}

func newCallAPIFixture(t *testing.T) *callAPIFixture {
	t.Helper()

	cfg := &config.TelephonyConfig{AgentRoomPrefix: "agent_call"}
	events := &capturedEvents{}
	service := call.NewTelephonyService(cfg, call.NewTracker()).WithNotifier(events)
	bus := &fakeBus{}

	router := mux.NewRouter()
	NewCallHandler(service, bus).SetupCallRoutes(router.PathPrefix("/api").Subrouter())

	return &callAPIFixture{router: router, service: service, events: events, bus: bus}
}

func (f *callAPIFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestPlaceCallCreatesOutboundRecord(t *testing.T) {
	f := newCallAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/api/calls", map[string]interface{}{
		"phone_number": "+14155550123",
		"metadata":     map[string]interface{}{"campaign": "renewal"},
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var rec domain.CallRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.True(t, strings.HasPrefix(rec.CallID, "outbound_"))
	assert.Equal(t, domain.DirectionOutbound, rec.Direction)
	assert.Equal(t, "renewal", rec.Metadata["campaign"])

	require.Len(t, f.events.byType(domain.EventCallInitiated), 1)
}

func TestPlaceCallRequiresPhoneNumber(t *testing.T) {
	f := newCallAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/api/calls", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPlaceCallQueuedPublishesTask(t *testing.T) {
	f := newCallAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/api/calls", map[string]interface{}{
		"phone_number": "+14155550123",
		"queued":       true,
	})
	require.Equal(t, http.StatusAccepted, rr.Code)

	require.Len(t, f.bus.published, 1)
	assert.Equal(t, task.TaskTypeOutboundCall, f.bus.published[0].Type)

	// Nothing dialed inline.
	assert.Empty(t, f.service.ListActiveCalls())
}

func TestGetCallNotFound(t *testing.T) {
	f := newCallAPIFixture(t)

	rr := f.do(t, http.MethodGet, "/api/calls/no-such-call", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListCalls(t *testing.T) {
	f := newCallAPIFixture(t)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/calls", map[string]interface{}{
		"phone_number": "+14155550123",
	}).Code)

	rr := f.do(t, http.MethodGet, "/api/calls", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Count int                  `json:"count"`
		Calls []*domain.CallRecord `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Calls, 1)
}

func TestEndCallViaAPI(t *testing.T) {
	f := newCallAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/api/calls", map[string]interface{}{
		"phone_number": "+14155550123",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var rec domain.CallRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))

	rr = f.do(t, http.MethodPost, "/api/calls/"+rec.CallID+"/end", map[string]interface{}{
		"status": "failed",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	got, err := f.service.GetCall(t.Context(), rec.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusFailed, got.Status)

	require.Len(t, f.events.byType(domain.EventCallEnded), 1)
}

func TestEndCallRejectsNonTerminalStatus(t *testing.T) {
	f := newCallAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/api/calls", map[string]interface{}{
		"phone_number": "+14155550123",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var rec domain.CallRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))

	rr = f.do(t, http.MethodPost, "/api/calls/"+rec.CallID+"/end", map[string]interface{}{
		"status": "ringing",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAppendTranscriptViaAPI(t *testing.T) {
	f := newCallAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/api/calls", map[string]interface{}{
		"phone_number": "+14155550123",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var rec domain.CallRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))

	rr = f.do(t, http.MethodPost, "/api/calls/"+rec.CallID+"/transcript", map[string]interface{}{
		"role": "agent",
		"text": "Hello, how can I help?",
	})
	require.Equal(t, http.StatusNoContent, rr.Code)

	got, err := f.service.GetCall(t.Context(), rec.CallID)
	require.NoError(t, err)
	require.Len(t, got.Transcript, 1)
	assert.Equal(t, "agent", got.Transcript[0].Role)
}

func TestAppendTranscriptUnknownCall(t *testing.T) {
	f := newCallAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/api/calls/no-such-call/transcript", map[string]interface{}{
		"role": "agent",
		"text": "hello",
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
