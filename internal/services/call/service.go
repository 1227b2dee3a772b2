package call

import (
	"context"
	"fmt"
	"time"

	"github.com/MrAlaminH/voice-agent-launchpad/internal/adapters/livekit"
	"github.com/MrAlaminH/voice-agent-launchpad/internal/config"
	"github.com/MrAlaminH/voice-agent-launchpad/internal/domain"
	"github.com/MrAlaminH/voice-agent-launchpad/pkg/logger"
	"github.com/MrAlaminH/voice-agent-launchpad/pkg/pubsub"
	lkpb "github.com/livekit/protocol/livekit"
	"go.uber.org/zap"
)

// RoomService is the slice of the LiveKit room manager the call flow needs.
type RoomService interface {
	EnsureRoom(ctx context.Context, roomName string) error
	DialInbound(ctx context.Context, roomName, phoneNumber, identity string) (*lkpb.SIPParticipantInfo, error)
	DialOutbound(ctx context.Context, roomName, phoneNumber, identity string) (*lkpb.SIPParticipantInfo, error)
	RemoveParticipant(ctx context.Context, roomName, identity string) error
	DeleteRoom(ctx context.Context, roomName string) error
}

// RecordingService starts and stops per-call recordings.
type RecordingService interface {
	StartCallRecording(ctx context.Context, roomName string, startedAt time.Time) (*livekit.RecordingInfo, error)
	StopCallRecording(ctx context.Context, egressID string) (bool, error)
}

// Notifier delivers call lifecycle events downstream.
type Notifier interface {
	Dispatch(ev domain.CallEvent)
}

// Archiver persists finished call records.
type Archiver interface {
	Archive(ctx context.Context, rec *domain.CallRecord) error
	GetByCallID(ctx context.Context, callID string) (*domain.CallRecord, error)
}

// MetricsPublisher emits per-call metrics when a call finishes.
type MetricsPublisher interface {
	PublishCallMetricsEvent(ctx context.Context, metrics pubsub.CallMetricsEvent) error
}

// Reporter renders and uploads end-of-call reports.
type Reporter interface {
	Enabled() bool
	GenerateAndUpload(ctx context.Context, rec *domain.CallRecord) (string, error)
}

// ProviderControl hangs up the provider-side leg of a call.
type ProviderControl interface {
	CompleteCall(callSID string) error
}

// SnapshotStore keeps evicted call records queryable after the tracker
// drops them.
type SnapshotStore interface {
	StoreCallSnapshot(ctx context.Context, rec domain.CallRecord, ttl time.Duration) error
	GetCallSnapshot(ctx context.Context, callID string) (*domain.CallRecord, error)
}

// TelephonyService orchestrates the full call lifecycle: agent rooms, SIP
// legs, recordings, state transitions and downstream notifications. Every
// collaborator except the tracker is optional; a nil field disables that
// concern without touching the call flow.
type TelephonyService struct {
	cfg      *config.TelephonyConfig
	tracker  *Tracker
	rooms    RoomService
	recorder RecordingService
	notifier Notifier
	archive  Archiver
	metrics  MetricsPublisher
	reports  Reporter
	provider ProviderControl
	snaps    SnapshotStore

	now func() time.Time
}

// NewTelephonyService wires the call orchestrator.
func NewTelephonyService(cfg *config.TelephonyConfig, tracker *Tracker) *TelephonyService {
	return &TelephonyService{
		cfg:     cfg,
		tracker: tracker,
		now:     time.Now,
	}
}

func (s *TelephonyService) WithRooms(r RoomService) *TelephonyService        { s.rooms = r; return s }
func (s *TelephonyService) WithRecorder(r RecordingService) *TelephonyService { s.recorder = r; return s }
func (s *TelephonyService) WithNotifier(n Notifier) *TelephonyService        { s.notifier = n; return s }
func (s *TelephonyService) WithArchive(a Archiver) *TelephonyService         { s.archive = a; return s }
func (s *TelephonyService) WithMetrics(m MetricsPublisher) *TelephonyService { s.metrics = m; return s }
func (s *TelephonyService) WithReports(r Reporter) *TelephonyService         { s.reports = r; return s }
func (s *TelephonyService) WithProvider(p ProviderControl) *TelephonyService { s.provider = p; return s }
func (s *TelephonyService) WithSnapshots(st SnapshotStore) *TelephonyService { s.snaps = st; return s }

// Tracker exposes the underlying call tracker.
func (s *TelephonyService) Tracker() *Tracker {
	return s.tracker
}

// sipIdentity is the participant identity used for the telephony leg.
func sipIdentity(callID string) string {
	return "sip_" + callID
}

// HandleInboundCall registers an arriving carrier call, prepares the agent
// room, bridges the SIP leg into it and announces call_started. The record
// is created first so the call is observable even when bridging fails.
func (s *TelephonyService) HandleInboundCall(ctx context.Context, phoneNumber string, meta domain.JSONB) (*domain.CallRecord, error) {
	if phoneNumber == "" {
		return nil, fmt.Errorf("phone number is required: %w", domain.ErrValidation)
	}

	roomName := domain.RoomName(s.cfg.AgentRoomPrefix, phoneNumber, s.now().UTC())
	rec, err := s.tracker.Create(domain.DirectionInbound, phoneNumber, roomName)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := s.tracker.MergeMetadata(rec.CallID, meta); err != nil {
			logger.Base().Warn("failed to store call metadata",
				zap.String("call_id", rec.CallID), zap.Error(err))
		}
	}

	logger.Base().Info("inbound call received",
		zap.String("call_id", rec.CallID),
		zap.String("phone_number", phoneNumber),
		zap.String("room_name", roomName))

	if err := s.bridge(ctx, rec, true); err != nil {
		s.failCall(ctx, rec.CallID, err)
		return nil, err
	}

	rec, _ = s.tracker.Get(rec.CallID)
	s.dispatch(domain.EventCallStarted, rec)
	return rec, nil
}

// MakeOutboundCall places a call through the outbound trunk and announces
// call_initiated.
func (s *TelephonyService) MakeOutboundCall(ctx context.Context, phoneNumber string, meta domain.JSONB) (*domain.CallRecord, error) {
	if phoneNumber == "" {
		return nil, fmt.Errorf("phone number is required: %w", domain.ErrValidation)
	}

	roomName := domain.RoomName(s.cfg.AgentRoomPrefix, phoneNumber, s.now().UTC())
	rec, err := s.tracker.Create(domain.DirectionOutbound, phoneNumber, roomName)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := s.tracker.MergeMetadata(rec.CallID, meta); err != nil {
			logger.Base().Warn("failed to store call metadata",
				zap.String("call_id", rec.CallID), zap.Error(err))
		}
	}

	logger.Base().Info("placing outbound call",
		zap.String("call_id", rec.CallID),
		zap.String("phone_number", phoneNumber),
		zap.String("room_name", roomName))

	if err := s.bridge(ctx, rec, false); err != nil {
		s.failCall(ctx, rec.CallID, err)
		return nil, err
	}

	rec, _ = s.tracker.Get(rec.CallID)
	s.dispatch(domain.EventCallInitiated, rec)
	return rec, nil
}

// bridge creates the agent room, dials the SIP leg and starts recording.
func (s *TelephonyService) bridge(ctx context.Context, rec *domain.CallRecord, inbound bool) error {
	if s.rooms == nil {
		return nil
	}

	if err := s.rooms.EnsureRoom(ctx, rec.RoomName); err != nil {
		return fmt.Errorf("room setup failed: %w", err)
	}

	dial := s.rooms.DialOutbound
	if inbound {
		dial = s.rooms.DialInbound
	}
	info, err := dial(ctx, rec.RoomName, rec.PhoneNumber, sipIdentity(rec.CallID))
	if err != nil {
		return fmt.Errorf("SIP bridge failed: %w", err)
	}
	if err := s.tracker.SetSIPParticipant(rec.CallID, info.ParticipantId); err != nil {
		logger.Base().Warn("failed to store SIP participant",
			zap.String("call_id", rec.CallID), zap.Error(err))
	}

	s.startRecording(ctx, rec)
	return nil
}

// startRecording begins the room egress and attaches the known recording
// URL up front. Recording failures never fail the call.
func (s *TelephonyService) startRecording(ctx context.Context, rec *domain.CallRecord) {
	if s.recorder == nil {
		return
	}

	info, err := s.recorder.StartCallRecording(ctx, rec.RoomName, s.now().UTC())
	if err != nil {
		logger.Base().Warn("recording could not be started",
			zap.String("call_id", rec.CallID), zap.Error(err))
		return
	}

	_ = s.tracker.MergeMetadata(rec.CallID, domain.JSONB{"egress_id": info.EgressID})
	if err := s.tracker.AttachRecording(rec.CallID, info.URL); err != nil {
		logger.Base().Warn("failed to attach recording URL",
			zap.String("call_id", rec.CallID), zap.Error(err))
	}
}

// MarkConnected moves a ringing call to connected, typically on the agent's
// status callback when the media session is up.
func (s *TelephonyService) MarkConnected(callID string, at time.Time) (*domain.CallRecord, error) {
	rec, changed, err := s.tracker.UpdateStatus(callID, domain.CallStatusConnected, at)
	if err != nil {
		return nil, err
	}
	if changed {
		logger.Base().Info("call connected", zap.String("call_id", callID))
	}
	return rec, nil
}

// AppendTranscript adds an utterance to the call transcript.
func (s *TelephonyService) AppendTranscript(callID string, u domain.Utterance) error {
	return s.tracker.AppendTranscript(callID, u)
}

// EndCall tears the call down: drops the SIP leg, stops the recording,
// hangs up the provider leg and finalizes the record. Ending an already
// terminal call is a no-op.
func (s *TelephonyService) EndCall(ctx context.Context, callID string, status domain.CallStatus) (*domain.CallRecord, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("status %q is not terminal: %w", status, domain.ErrValidation)
	}

	rec, err := s.tracker.Get(callID)
	if err != nil {
		return nil, err
	}

	s.teardown(ctx, rec)

	rec, changed, err := s.tracker.UpdateStatus(callID, status, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if changed {
		s.finalize(ctx, rec)
	}
	return rec, nil
}

// teardown releases the live resources of a call. Each step is best-effort.
func (s *TelephonyService) teardown(ctx context.Context, rec *domain.CallRecord) {
	if rec.Status.IsTerminal() {
		return
	}

	if s.recorder != nil {
		if egressID, ok := rec.Metadata["egress_id"].(string); ok && egressID != "" {
			if _, err := s.recorder.StopCallRecording(ctx, egressID); err != nil {
				logger.Base().Warn("failed to stop recording",
					zap.String("call_id", rec.CallID), zap.Error(err))
			}
		}
	}

	if s.rooms != nil {
		if err := s.rooms.RemoveParticipant(ctx, rec.RoomName, sipIdentity(rec.CallID)); err != nil {
			logger.Base().Warn("failed to remove SIP participant",
				zap.String("call_id", rec.CallID), zap.Error(err))
		}
		if err := s.rooms.DeleteRoom(ctx, rec.RoomName); err != nil {
			logger.Base().Warn("failed to delete room",
				zap.String("call_id", rec.CallID), zap.Error(err))
		}
	}

	if s.provider != nil {
		if callSID, ok := rec.Metadata["twilio_call_sid"].(string); ok && callSID != "" {
			if err := s.provider.CompleteCall(callSID); err != nil {
				logger.Base().Warn("failed to hang up provider leg",
					zap.String("call_id", rec.CallID), zap.Error(err))
			}
		}
	}
}

// CompletionUpdate carries what a provider completion event reports about a
// finished call. DurationSeconds below zero means the provider did not
// report one.
type CompletionUpdate struct {
	Status          domain.CallStatus
	DurationSeconds int
	RecordingURL    string
	PhoneNumber     string
	Metadata        domain.JSONB
}

// HandleCompletion finalizes a call from a provider completion event. An
// unknown call_id yields a synthetic record so late or out-of-order events
// are still captured. Duplicate completions finalize exactly once.
func (s *TelephonyService) HandleCompletion(ctx context.Context, callID string, upd CompletionUpdate) (*domain.CallRecord, error) {
	status := upd.Status
	if !status.IsTerminal() {
		status = domain.CallStatusEnded
	}

	rec, created, err := s.tracker.GetOrCreate(callID, domain.DirectionInbound, upd.PhoneNumber, "")
	if err != nil {
		return nil, err
	}
	if created {
		logger.Base().Warn("completion for unknown call, synthetic record created",
			zap.String("call_id", callID))
	}
	if len(upd.Metadata) > 0 {
		_ = s.tracker.MergeMetadata(callID, upd.Metadata)
	}

	if !created {
		s.teardown(ctx, rec)
	}

	rec, changed, err := s.tracker.UpdateStatus(callID, status, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if upd.DurationSeconds >= 0 {
		_ = s.tracker.SetReportedDuration(callID, upd.DurationSeconds)
	}
	if upd.RecordingURL != "" {
		_ = s.tracker.AttachRecording(callID, upd.RecordingURL)
	}

	rec, err = s.tracker.Get(callID)
	if err != nil {
		return nil, err
	}
	if changed {
		s.finalize(ctx, rec)
	}
	return rec, nil
}

// HandleProviderEvent processes a normalized inbound event that carries its
// own call identifier, as generic providers send them. The first event for a
// call creates the record and requests the agent room; later events only
// move status forward. Terminal statuses are routed through completion
// handling.
func (s *TelephonyService) HandleProviderEvent(ctx context.Context, callID string, status domain.CallStatus, phoneNumber string, meta domain.JSONB) (*domain.CallRecord, error) {
	if status.IsTerminal() {
		return s.HandleCompletion(ctx, callID, CompletionUpdate{
			Status:          status,
			DurationSeconds: -1,
			PhoneNumber:     phoneNumber,
			Metadata:        meta,
		})
	}

	roomName := domain.RoomName(s.cfg.AgentRoomPrefix, phoneNumber, s.now().UTC())
	rec, created, err := s.tracker.GetOrCreate(callID, domain.DirectionInbound, phoneNumber, roomName)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		_ = s.tracker.MergeMetadata(callID, meta)
	}

	if created {
		logger.Base().Info("call registered from provider event",
			zap.String("call_id", callID),
			zap.String("room_name", rec.RoomName))
		// The provider already owns the media leg; we only request the
		// agent room so the runtime can join.
		if s.rooms != nil {
			if err := s.rooms.EnsureRoom(ctx, rec.RoomName); err != nil {
				logger.Base().Warn("failed to prepare agent room",
					zap.String("call_id", callID), zap.Error(err))
			}
		}
		s.dispatch(domain.EventCallStarted, rec)
	}

	if status == domain.CallStatusConnected {
		rec, _, err = s.tracker.UpdateStatus(callID, status, s.now().UTC())
		if err != nil {
			return nil, err
		}
	} else {
		rec, err = s.tracker.Get(callID)
		if err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// failCall marks a call failed after a setup error and finalizes it.
func (s *TelephonyService) failCall(ctx context.Context, callID string, cause error) {
	logger.Base().Error("call setup failed",
		zap.String("call_id", callID), zap.Error(cause))

	rec, changed, err := s.tracker.UpdateStatus(callID, domain.CallStatusFailed, s.now().UTC())
	if err != nil {
		logger.Base().Error("failed to mark call as failed",
			zap.String("call_id", callID), zap.Error(err))
		return
	}
	if changed {
		s.finalize(ctx, rec)
	}
}

// finalize runs the terminal-state side effects: call_ended notification,
// archive, metrics and the end-of-call report. The status transition that
// got us here happens exactly once, so these do too.
func (s *TelephonyService) finalize(ctx context.Context, rec *domain.CallRecord) {
	s.dispatch(domain.EventCallEnded, rec)

	if s.reports != nil && s.reports.Enabled() {
		if url, err := s.reports.GenerateAndUpload(ctx, rec); err != nil {
			logger.Base().Warn("failed to upload call report",
				zap.String("call_id", rec.CallID), zap.Error(err))
		} else {
			_ = s.tracker.MergeMetadata(rec.CallID, domain.JSONB{"report_url": url})
		}
	}

	if s.archive != nil {
		if err := s.archive.Archive(ctx, rec); err != nil {
			logger.Base().Warn("failed to archive call record",
				zap.String("call_id", rec.CallID), zap.Error(err))
		}
	}

	if s.metrics != nil {
		ev := pubsub.CallMetricsEvent{
			CallID:       rec.CallID,
			Direction:    string(rec.Direction),
			PhoneNumber:  rec.PhoneNumber,
			RoomName:     rec.RoomName,
			Status:       string(rec.Status),
			StartAt:      rec.StartTime,
			EndAt:        rec.EndTime,
			Duration:     rec.DurationSeconds,
			TurnCount:    len(rec.Transcript),
			RecordingURL: rec.RecordingURL,
			CreatedAt:    s.now().UTC(),
		}
		if err := s.metrics.PublishCallMetricsEvent(ctx, ev); err != nil {
			logger.Base().Warn("failed to publish call metrics",
				zap.String("call_id", rec.CallID), zap.Error(err))
		}
	}
}

// dispatch sends a lifecycle event if a notifier is wired.
func (s *TelephonyService) dispatch(eventType domain.CallEventType, rec *domain.CallRecord) {
	if s.notifier == nil || rec == nil {
		return
	}
	s.notifier.Dispatch(domain.NewCallEvent(eventType, rec))
}

// HandleEvictedRecord persists a record leaving the tracker so it stays
// queryable: a snapshot in Redis for fast lookup, and the archive row if
// one was somehow missed.
func (s *TelephonyService) HandleEvictedRecord(rec domain.CallRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.snaps != nil {
		ttl := 24 * time.Hour
		if err := s.snaps.StoreCallSnapshot(ctx, rec, ttl); err != nil {
			logger.Base().Warn("failed to store evicted call snapshot",
				zap.String("call_id", rec.CallID), zap.Error(err))
		}
	}
	if s.archive != nil {
		if err := s.archive.Archive(ctx, &rec); err != nil {
			logger.Base().Warn("failed to archive evicted call",
				zap.String("call_id", rec.CallID), zap.Error(err))
		}
	}
}

// GetCall looks a call up in the tracker, then the snapshot store, then the
// archive.
func (s *TelephonyService) GetCall(ctx context.Context, callID string) (*domain.CallRecord, error) {
	rec, err := s.tracker.Get(callID)
	if err == nil {
		return rec, nil
	}

	if s.snaps != nil {
		snap, serr := s.snaps.GetCallSnapshot(ctx, callID)
		if serr == nil && snap != nil {
			return snap, nil
		}
	}
	if s.archive != nil {
		arch, aerr := s.archive.GetByCallID(ctx, callID)
		if aerr == nil && arch != nil {
			return arch, nil
		}
	}
	return nil, err
}

// ListActiveCalls returns all non-terminal calls.
func (s *TelephonyService) ListActiveCalls() []*domain.CallRecord {
	return s.tracker.ListActive()
}
