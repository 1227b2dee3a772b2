package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/MrAlaminH/voice-agent-launchpad/internal/domain"
	"github.com/MrAlaminH/voice-agent-launchpad/internal/services/call"
	"github.com/MrAlaminH/voice-agent-launchpad/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/livekit/protocol/livekit"
	"go.uber.org/zap"
)

// LiveKitWebhookHandler maps LiveKit server events onto call state: the SIP
// participant joining means the call is connected, the room finishing means
// it is over, egress completion carries the recording file.
type LiveKitWebhookHandler struct {
	service *call.TelephonyService
}

// NewLiveKitWebhookHandler creates a new LiveKit webhook handler
func NewLiveKitWebhookHandler(service *call.TelephonyService) *LiveKitWebhookHandler {
	return &LiveKitWebhookHandler{service: service}
}

// SetupLiveKitWebhookRoutes registers the LiveKit event endpoint. The router
// is expected to carry the /webhook path prefix.
func (h *LiveKitWebhookHandler) SetupLiveKitWebhookRoutes(router *mux.Router) {
	router.HandleFunc("/livekit/events", h.HandleLiveKitWebhook).Methods("POST")
	logger.Base().Info("livekit webhook routes registered")
}

// HandleLiveKitWebhook processes LiveKit webhook events
func (h *LiveKitWebhookHandler) HandleLiveKitWebhook(w http.ResponseWriter, r *http.Request) {
	logger.Base().Debug("received LiveKit webhook")

	var event livekit.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		logger.Base().Error("failed to decode LiveKit webhook", zap.Error(err))
		// Return 200 OK anyway to avoid LiveKit retries
		w.WriteHeader(http.StatusOK)
		return
	}

	roomName := ""
	if event.Room != nil {
		roomName = event.Room.Name
	}
	logger.Base().Info("LiveKit webhook", zap.String("event", event.Event), zap.String("room", roomName))

	switch event.Event {
	case "participant_joined":
		h.handleParticipantJoined(&event, roomName)
	case "participant_left":
		h.handleParticipantLeft(r.Context(), &event, roomName)
	case "room_finished":
		h.handleRoomFinished(r.Context(), roomName)
	case "egress_ended":
		h.handleEgressEnded(&event, roomName)
	default:
		logger.Base().Debug("unhandled LiveKit event", zap.String("event", event.Event))
	}

	w.WriteHeader(http.StatusOK)
}

// handleParticipantJoined marks the call connected when the telephony leg
// lands in the room.
func (h *LiveKitWebhookHandler) handleParticipantJoined(event *livekit.WebhookEvent, roomName string) {
	if event.Participant == nil || !strings.HasPrefix(event.Participant.Identity, "sip_") {
		return
	}

	rec, err := h.service.Tracker().GetByRoom(roomName)
	if err != nil {
		logger.Base().Debug("participant joined unknown room", zap.String("room", roomName))
		return
	}
	if _, err := h.service.MarkConnected(rec.CallID, time.Now()); err != nil {
		logger.Base().Warn("could not mark call connected",
			zap.String("call_id", rec.CallID), zap.Error(err))
	}
}

// handleParticipantLeft ends the call when the telephony leg hangs up.
func (h *LiveKitWebhookHandler) handleParticipantLeft(ctx context.Context, event *livekit.WebhookEvent, roomName string) {
	if event.Participant == nil || !strings.HasPrefix(event.Participant.Identity, "sip_") {
		return
	}

	rec, err := h.service.Tracker().GetByRoom(roomName)
	if err != nil {
		return
	}
	if _, err := h.service.EndCall(ctx, rec.CallID, domain.CallStatusEnded); err != nil {
		logger.Base().Warn("could not end call on participant leave",
			zap.String("call_id", rec.CallID), zap.Error(err))
	}
}

// handleRoomFinished ends whatever call was bound to the room.
func (h *LiveKitWebhookHandler) handleRoomFinished(ctx context.Context, roomName string) {
	rec, err := h.service.Tracker().GetByRoom(roomName)
	if err != nil {
		return
	}
	if _, err := h.service.EndCall(ctx, rec.CallID, domain.CallStatusEnded); err != nil {
		logger.Base().Warn("could not end call on room finish",
			zap.String("call_id", rec.CallID), zap.Error(err))
	}
}

// handleEgressEnded attaches the final recording file to the call.
func (h *LiveKitWebhookHandler) handleEgressEnded(event *livekit.WebhookEvent, roomName string) {
	if event.EgressInfo == nil {
		return
	}
	logger.Base().Info("egress ended",
		zap.String("egress_id", event.EgressInfo.EgressId),
		zap.String("status", event.EgressInfo.Status.String()))

	if event.EgressInfo.Error != "" {
		logger.Base().Error("egress failed", zap.String("error", event.EgressInfo.Error))
		return
	}

	if roomName == "" {
		roomName = event.EgressInfo.RoomName
	}
	// The call has usually already ended by the time egress_ended arrives,
	// which releases the room binding. Resolve by egress id first.
	rec, err := h.service.Tracker().GetByEgress(event.EgressInfo.EgressId)
	if err != nil {
		rec, err = h.service.Tracker().GetByRoom(roomName)
	}
	if err != nil {
		logger.Base().Warn("egress ended for unknown call",
			zap.String("egress_id", event.EgressInfo.EgressId),
			zap.String("room", roomName))
		return
	}

	for _, result := range event.EgressInfo.FileResults {
		logger.Base().Info("egress file result",
			zap.String("filename", result.Filename),
			zap.Int64("size", result.Size))
		if result.Location != "" {
			if err := h.service.Tracker().AttachRecording(rec.CallID, result.Location); err != nil {
				logger.Base().Warn("could not attach recording",
					zap.String("call_id", rec.CallID), zap.Error(err))
			}
		}
	}
}
