package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrAlaminH/voice-agent-launchpad/internal/config"
	"github.com/MrAlaminH/voice-agent-launchpad/internal/domain"
	"github.com/MrAlaminH/voice-agent-launchpad/internal/services/call"
	"github.com/gorilla/mux"
	"github.com/livekit/protocol/livekit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type livekitFixture struct {
	router  *mux.Router
	tracker *call.Tracker
	service *call.TelephonyService
	events  *capturedEvents
}

func newLiveKitFixture(t *testing.T) *livekitFixture {
	t.Helper()

	cfg := &config.TelephonyConfig{AgentRoomPrefix: "agent_call"}
	tracker := call.NewTracker()
	events := &capturedEvents{}
	service := call.NewTelephonyService(cfg, tracker).WithNotifier(events)

	router := mux.NewRouter()
	webhookRouter := router.PathPrefix("/webhook").Subrouter()
	NewLiveKitWebhookHandler(service).SetupLiveKitWebhookRoutes(webhookRouter)

	return &livekitFixture{router: router, tracker: tracker, service: service, events: events}
}

func (f *livekitFixture) postEvent(t *testing.T, event *livekit.WebhookEvent) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook/livekit/events", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func (f *livekitFixture) newCall(t *testing.T, roomName string) *domain.CallRecord {
	t.Helper()
	rec, err := f.tracker.Create(domain.DirectionInbound, "+14155550123", roomName)
	require.NoError(t, err)
	return rec
}

func TestLiveKitParticipantJoinedConnectsCall(t *testing.T) {
	f := newLiveKitFixture(t)
	rec := f.newCall(t, "agent_call_room_a")

	rr := f.postEvent(t, &livekit.WebhookEvent{
		Event:       "participant_joined",
		Room:        &livekit.Room{Name: "agent_call_room_a"},
		Participant: &livekit.ParticipantInfo{Identity: "sip_" + rec.CallID},
	})
	assert.Equal(t, http.StatusOK, rr.Code)

	got, err := f.tracker.Get(rec.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusConnected, got.Status)
}

func TestLiveKitParticipantJoinedIgnoresAgentLeg(t *testing.T) {
	f := newLiveKitFixture(t)
	rec := f.newCall(t, "agent_call_room_a")

	rr := f.postEvent(t, &livekit.WebhookEvent{
		Event:       "participant_joined",
		Room:        &livekit.Room{Name: "agent_call_room_a"},
		Participant: &livekit.ParticipantInfo{Identity: "agent_worker_1"},
	})
	assert.Equal(t, http.StatusOK, rr.Code)

	got, err := f.tracker.Get(rec.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, got.Status)
}

func TestLiveKitParticipantLeftEndsCall(t *testing.T) {
	f := newLiveKitFixture(t)
	rec := f.newCall(t, "agent_call_room_a")

	rr := f.postEvent(t, &livekit.WebhookEvent{
		Event:       "participant_left",
		Room:        &livekit.Room{Name: "agent_call_room_a"},
		Participant: &livekit.ParticipantInfo{Identity: "sip_" + rec.CallID},
	})
	assert.Equal(t, http.StatusOK, rr.Code)

	got, err := f.tracker.Get(rec.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, got.Status)
	assert.Len(t, f.events.byType(domain.EventCallEnded), 1)
}

func TestLiveKitRoomFinishedEndsCall(t *testing.T) {
	f := newLiveKitFixture(t)
	rec := f.newCall(t, "agent_call_room_a")

	rr := f.postEvent(t, &livekit.WebhookEvent{
		Event: "room_finished",
		Room:  &livekit.Room{Name: "agent_call_room_a"},
	})
	assert.Equal(t, http.StatusOK, rr.Code)

	got, err := f.tracker.Get(rec.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, got.Status)
	assert.Len(t, f.events.byType(domain.EventCallEnded), 1)
}

func TestLiveKitRoomFinishedUnknownRoomAcknowledged(t *testing.T) {
	f := newLiveKitFixture(t)

	rr := f.postEvent(t, &livekit.WebhookEvent{
		Event: "room_finished",
		Room:  &livekit.Room{Name: "agent_call_nobody_here"},
	})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, f.events.byType(domain.EventCallEnded))
}

func TestLiveKitEgressEndedAttachesRecording(t *testing.T) {
	f := newLiveKitFixture(t)
	rec := f.newCall(t, "agent_call_room_a")
	require.NoError(t, f.tracker.MergeMetadata(rec.CallID, domain.JSONB{"egress_id": "EG_1"}))

	rr := f.postEvent(t, &livekit.WebhookEvent{
		Event: "egress_ended",
		EgressInfo: &livekit.EgressInfo{
			EgressId: "EG_1",
			RoomName: "agent_call_room_a",
			FileResults: []*livekit.FileInfo{
				{Filename: "room_a.ogg", Location: "https://storage.googleapis.com/media/room_a.ogg"},
			},
		},
	})
	assert.Equal(t, http.StatusOK, rr.Code)

	got, err := f.tracker.Get(rec.CallID)
	require.NoError(t, err)
	assert.Equal(t, "https://storage.googleapis.com/media/room_a.ogg", got.RecordingURL)
}

func TestLiveKitEgressEndedAttachesAfterCallEnded(t *testing.T) {
	// room_finished arrives before egress_ended and releases the room
	// binding; the file location must still land on the record.
	f := newLiveKitFixture(t)
	rec := f.newCall(t, "agent_call_room_a")
	require.NoError(t, f.tracker.MergeMetadata(rec.CallID, domain.JSONB{"egress_id": "EG_1"}))

	rr := f.postEvent(t, &livekit.WebhookEvent{
		Event: "room_finished",
		Room:  &livekit.Room{Name: "agent_call_room_a"},
	})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = f.postEvent(t, &livekit.WebhookEvent{
		Event: "egress_ended",
		EgressInfo: &livekit.EgressInfo{
			EgressId: "EG_1",
			RoomName: "agent_call_room_a",
			FileResults: []*livekit.FileInfo{
				{Filename: "room_a.ogg", Location: "https://storage.googleapis.com/media/room_a.ogg"},
			},
		},
	})
	assert.Equal(t, http.StatusOK, rr.Code)

	got, err := f.tracker.Get(rec.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, got.Status)
	assert.Equal(t, "https://storage.googleapis.com/media/room_a.ogg", got.RecordingURL)
}

func TestLiveKitEgressFailureAttachesNothing(t *testing.T) {
	f := newLiveKitFixture(t)
	rec := f.newCall(t, "agent_call_room_a")
	require.NoError(t, f.tracker.MergeMetadata(rec.CallID, domain.JSONB{"egress_id": "EG_1"}))

	rr := f.postEvent(t, &livekit.WebhookEvent{
		Event: "egress_ended",
		EgressInfo: &livekit.EgressInfo{
			EgressId: "EG_1",
			RoomName: "agent_call_room_a",
			Error:    "upload failed",
		},
	})
	assert.Equal(t, http.StatusOK, rr.Code)

	got, err := f.tracker.Get(rec.CallID)
	require.NoError(t, err)
	assert.Empty(t, got.RecordingURL)
}

func TestLiveKitMalformedBodyAcknowledged(t *testing.T) {
	f := newLiveKitFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook/livekit/events", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)

	// LiveKit retries non-2xx responses; a bad payload is dropped, not bounced.
	assert.Equal(t, http.StatusOK, rr.Code)
}
