package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MrAlaminH/voice-agent-launchpad/internal/core/task"
	"github.com/MrAlaminH/voice-agent-launchpad/internal/domain"
	"github.com/MrAlaminH/voice-agent-launchpad/internal/services/call"
	"github.com/MrAlaminH/voice-agent-launchpad/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// CallHandler exposes the management API for placing, inspecting and
// ending calls. When a task bus is available, queued placements are
// distributed over it so any instance can pick them up.
type CallHandler struct {
	service *call.TelephonyService
	taskBus task.Bus
}

// NewCallHandler creates a new call management handler
func NewCallHandler(service *call.TelephonyService, taskBus task.Bus) *CallHandler {
	return &CallHandler{service: service, taskBus: taskBus}
}

// SetupCallRoutes registers the management endpoints on the given router.
func (h *CallHandler) SetupCallRoutes(router *mux.Router) {
	router.HandleFunc("/calls", h.HandlePlaceCall).Methods("POST")
	router.HandleFunc("/calls", h.HandleListCalls).Methods("GET")
	router.HandleFunc("/calls/{call_id}", h.HandleGetCall).Methods("GET")
	router.HandleFunc("/calls/{call_id}/end", h.HandleEndCall).Methods("POST")
	router.HandleFunc("/calls/{call_id}/transcript", h.HandleAppendTranscript).Methods("POST")

	logger.Base().Info("call management routes registered")
}

func (h *CallHandler) sendJSON(w http.ResponseWriter, status int, body interface{}) {
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Base().Error("failed to encode response", zap.Error(err))
	}
}

// sendServiceError maps service errors onto status codes. The management and
// webhook handlers share it so a rejected transition never comes back as a
// retryable 5xx.
func sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "call not found"})
	case errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrRoomInUse):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// PlaceCallRequest asks the gateway to dial a number. Queued placements are
// published to the task bus instead of dialing inline.
type PlaceCallRequest struct {
	PhoneNumber string       `json:"phone_number"`
	Metadata    domain.JSONB `json:"metadata"`
	Queued      bool         `json:"queued"`
}

// HandlePlaceCall places an outbound call.
func (h *CallHandler) HandlePlaceCall(w http.ResponseWriter, r *http.Request) {
	var req PlaceCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PhoneNumber == "" {
		http.Error(w, "phone_number is required", http.StatusBadRequest)
		return
	}

	if req.Queued && h.taskBus != nil {
		payload, err := json.Marshal(req)
		if err != nil {
			sendServiceError(w, err)
			return
		}
		if err := h.taskBus.Publish(r.Context(), task.CallTask{
			Type:    task.TaskTypeOutboundCall,
			Payload: payload,
		}); err != nil {
			logger.Base().Error("failed to queue call",
				zap.String("phone_number", req.PhoneNumber), zap.Error(err))
			sendServiceError(w, err)
			return
		}
		h.sendJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	rec, err := h.service.MakeOutboundCall(r.Context(), req.PhoneNumber, req.Metadata)
	if err != nil {
		logger.Base().Error("failed to place call",
			zap.String("phone_number", req.PhoneNumber), zap.Error(err))
		sendServiceError(w, err)
		return
	}

	h.sendJSON(w, http.StatusCreated, rec)
}

// HandleListCalls returns all active calls.
func (h *CallHandler) HandleListCalls(w http.ResponseWriter, r *http.Request) {
	active := h.service.ListActiveCalls()
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(active),
		"calls": active,
	})
}

// HandleGetCall returns one call by id, falling back to snapshots and the
// archive for calls no longer tracked in memory.
func (h *CallHandler) HandleGetCall(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["call_id"]

	rec, err := h.service.GetCall(r.Context(), callID)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, rec)
}

// EndCallRequest optionally overrides the terminal status.
type EndCallRequest struct {
	Status string `json:"status"`
}

// HandleEndCall tears a call down.
func (h *CallHandler) HandleEndCall(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["call_id"]

	status := domain.CallStatusEnded
	if r.Body != nil && r.ContentLength != 0 {
		var req EndCallRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Status != "" {
			status = domain.CallStatus(req.Status)
		}
	}

	rec, err := h.service.EndCall(r.Context(), callID, status)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, rec)
}

// TranscriptRequest appends one utterance to a call transcript.
type TranscriptRequest struct {
	Role      string     `json:"role"`
	Text      string     `json:"text"`
	Timestamp *time.Time `json:"timestamp"`
}

// HandleAppendTranscript appends an utterance to the call transcript.
func (h *CallHandler) HandleAppendTranscript(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["call_id"]

	var req TranscriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Role == "" || req.Text == "" {
		http.Error(w, "role and text are required", http.StatusBadRequest)
		return
	}

	u := domain.Utterance{Role: req.Role, Text: req.Text}
	if req.Timestamp != nil {
		u.Timestamp = *req.Timestamp
	}

	if err := h.service.AppendTranscript(callID, u); err != nil {
		sendServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
