package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrAlaminH/voice-agent-launchpad/internal/domain"
	"github.com/MrAlaminH/voice-agent-launchpad/internal/services/call"
	"github.com/MrAlaminH/voice-agent-launchpad/pkg/logger"
	twiliopkg "github.com/MrAlaminH/voice-agent-launchpad/pkg/twilio"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// WebhookHandler receives provider call events and agent status updates.
type WebhookHandler struct {
	service   *call.TelephonyService
	twilioSvc *twiliopkg.TwilioService
	// publicBaseURL is the externally visible URL of this server, used to
	// reconstruct the signed URL for Twilio signature validation.
	publicBaseURL string
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(service *call.TelephonyService, twilioSvc *twiliopkg.TwilioService, publicBaseURL string) *WebhookHandler {
	return &WebhookHandler{
		service:       service,
		twilioSvc:     twilioSvc,
		publicBaseURL: publicBaseURL,
	}
}

// SetupWebhookRoutes registers the provider-facing webhook endpoints.
// The router is expected to carry the /webhook path prefix.
func (h *WebhookHandler) SetupWebhookRoutes(router *mux.Router) {
	router.HandleFunc("/twilio/inbound", h.HandleTwilioInbound).Methods("POST")
	router.HandleFunc("/generic/inbound", h.HandleGenericInbound).Methods("POST")
	router.HandleFunc("/call/completion", h.HandleCallCompletion).Methods("POST")
	router.HandleFunc("/agent/status", h.HandleAgentStatus).Methods("POST")

	logger.Base().Info("webhook routes registered")
}

func (h *WebhookHandler) sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Base().Error("failed to encode response", zap.Error(err))
	}
}

func (h *WebhookHandler) sendOKResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}

// HandleTwilioInbound processes Twilio's form-encoded incoming-call webhook.
// A valid call creates the record, prepares the agent room and bridges the
// SIP leg.
func (h *WebhookHandler) HandleTwilioInbound(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		logger.Base().Warn("malformed twilio webhook", zap.Error(err))
		http.Error(w, "Invalid form body", http.StatusBadRequest)
		return
	}

	if h.twilioSvc != nil && h.twilioSvc.IsEnabled() {
		signedURL := h.publicBaseURL + r.URL.RequestURI()
		if !h.twilioSvc.ValidateWebhook(r, signedURL, r.PostForm) {
			logger.Base().Warn("twilio signature validation failed",
				zap.String("remote_addr", r.RemoteAddr))
			http.Error(w, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	from := r.PostFormValue("From")
	if from == "" {
		http.Error(w, "From is required", http.StatusBadRequest)
		return
	}

	meta := domain.JSONB{}
	if callSID := r.PostFormValue("CallSid"); callSID != "" {
		meta["twilio_call_sid"] = callSID
	}
	if to := r.PostFormValue("To"); to != "" {
		meta["to_number"] = to
	}
	if callStatus := r.PostFormValue("CallStatus"); callStatus != "" {
		meta["provider_status"] = callStatus
	}

	rec, err := h.service.HandleInboundCall(r.Context(), from, meta)
	if err != nil {
		logger.Base().Error("failed to handle inbound call",
			zap.String("from", from), zap.Error(err))
		sendServiceError(w, err)
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"call_id":   rec.CallID,
		"room_name": rec.RoomName,
		"status":    rec.Status,
	})
}

// GenericInboundRequest is the normalized JSON inbound event shape.
type GenericInboundRequest struct {
	CallID      string       `json:"call_id"`
	Status      string       `json:"status"`
	From        string       `json:"from"`
	PhoneNumber string       `json:"phone_number"`
	Metadata    domain.JSONB `json:"metadata"`
}

// HandleGenericInbound processes a provider-agnostic JSON call event. With
// a caller-supplied call_id the event creates or advances that record; with
// none, a full inbound call is set up.
func (h *WebhookHandler) HandleGenericInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req GenericInboundRequest
	if err := json.Unmarshal(body, &req); err != nil {
		logger.Base().Warn("malformed generic inbound webhook", zap.Error(err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	phone := req.From
	if phone == "" {
		phone = req.PhoneNumber
	}
	if req.CallID == "" && phone == "" {
		http.Error(w, "call_id or from is required", http.StatusBadRequest)
		return
	}

	status := domain.CallStatusRinging
	if req.Status != "" {
		status = domain.CallStatus(req.Status)
		if !status.Valid() {
			http.Error(w, fmt.Sprintf("unknown status %q", req.Status), http.StatusBadRequest)
			return
		}
	}

	var rec *domain.CallRecord
	if req.CallID != "" {
		rec, err = h.service.HandleProviderEvent(r.Context(), req.CallID, status, phone, req.Metadata)
	} else {
		rec, err = h.service.HandleInboundCall(r.Context(), phone, req.Metadata)
	}
	if err != nil {
		logger.Base().Error("failed to handle inbound event",
			zap.String("call_id", req.CallID), zap.Error(err))
		sendServiceError(w, err)
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"call_id":   rec.CallID,
		"room_name": rec.RoomName,
		"status":    rec.Status,
	})
}

// CallCompletionRequest is the provider's end-of-call report.
type CallCompletionRequest struct {
	CallID       string       `json:"call_id"`
	Status       string       `json:"status"`
	Duration     *int         `json:"duration"`
	RecordingURL string       `json:"recording_url"`
	PhoneNumber  string       `json:"phone_number"`
	Metadata     domain.JSONB `json:"metadata"`
}

// HandleCallCompletion finalizes a call from the provider's completion
// event. Unknown call identifiers produce a synthetic record rather than an
// error, tolerating out-of-order delivery.
func (h *WebhookHandler) HandleCallCompletion(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req CallCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		logger.Base().Warn("malformed completion webhook", zap.Error(err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.CallID == "" {
		http.Error(w, "call_id is required", http.StatusBadRequest)
		return
	}

	status := domain.CallStatusEnded
	if req.Status != "" {
		status = domain.CallStatus(req.Status)
		if !status.Valid() {
			http.Error(w, fmt.Sprintf("unknown status %q", req.Status), http.StatusBadRequest)
			return
		}
	}

	duration := -1
	if req.Duration != nil {
		duration = *req.Duration
	}

	rec, err := h.service.HandleCompletion(r.Context(), req.CallID, call.CompletionUpdate{
		Status:          status,
		DurationSeconds: duration,
		RecordingURL:    req.RecordingURL,
		PhoneNumber:     req.PhoneNumber,
		Metadata:        req.Metadata,
	})
	if err != nil {
		logger.Base().Error("failed to handle completion",
			zap.String("call_id", req.CallID), zap.Error(err))
		sendServiceError(w, err)
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"call_id":          rec.CallID,
		"status":           rec.Status,
		"duration_seconds": rec.DurationSeconds,
	})
}

// AgentStatusRequest is the agent runtime's status callback.
type AgentStatusRequest struct {
	CallID    string `json:"call_id"`
	SessionID string `json:"session_id"`
	RoomName  string `json:"room_name"`
	Status    string `json:"status"`
	Detail    string `json:"detail"`
}

// HandleAgentStatus records the agent runtime's view of a session. Statuses
// that map to call outcomes move the record; everything else is only logged.
func (h *WebhookHandler) HandleAgentStatus(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req AgentStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		logger.Base().Warn("malformed agent status webhook", zap.Error(err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Status == "" {
		http.Error(w, "status is required", http.StatusBadRequest)
		return
	}

	callID := h.resolveCallID(&req)
	logger.Base().Info("agent status received",
		zap.String("call_id", callID),
		zap.String("session_id", req.SessionID),
		zap.String("status", req.Status),
		zap.String("detail", req.Detail))

	if callID == "" {
		// Nothing to update; the status is still logged and acknowledged.
		h.sendOKResponse(w)
		return
	}

	switch req.Status {
	case "connected", "active", "in_progress":
		if _, err := h.service.MarkConnected(callID, time.Now()); err != nil {
			logger.Base().Warn("agent status could not be applied",
				zap.String("call_id", callID), zap.Error(err))
		}
	case "ended", "completed", "disconnected":
		if _, err := h.service.EndCall(r.Context(), callID, domain.CallStatusEnded); err != nil {
			logger.Base().Warn("agent status could not end call",
				zap.String("call_id", callID), zap.Error(err))
		}
	case "failed", "error":
		if _, err := h.service.EndCall(r.Context(), callID, domain.CallStatusFailed); err != nil {
			logger.Base().Warn("agent status could not fail call",
				zap.String("call_id", callID), zap.Error(err))
		}
	}

	h.sendOKResponse(w)
}

// resolveCallID finds the call a status update refers to: explicit call_id
// first, then the active call bound to the reported room.
func (h *WebhookHandler) resolveCallID(req *AgentStatusRequest) string {
	if req.CallID != "" {
		return req.CallID
	}
	roomName := req.RoomName
	if roomName == "" {
		roomName = req.SessionID
	}
	if roomName == "" {
		return ""
	}
	rec, err := h.service.Tracker().GetByRoom(roomName)
	if err != nil {
		return ""
	}
	return rec.CallID
}

// HandleHealth reports liveness and the number of active calls.
func (h *WebhookHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"active_calls": len(h.service.ListActiveCalls()),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
