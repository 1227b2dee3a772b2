package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrAlaminH/voice-agent-launchpad/internal/domain"
	"github.com/MrAlaminH/voice-agent-launchpad/pkg/logger"
	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

// trackedCall pairs a record with its own lock so mutations are serialized
// per call_id while unrelated calls proceed concurrently.
type trackedCall struct {
	mu  sync.Mutex
	rec *domain.CallRecord
}

// Tracker is the authoritative in-process store of call records. It is
// constructed at process start and injected wherever call state is needed;
// there is no package-level instance.
type Tracker struct {
	mu    sync.RWMutex
	calls map[string]*trackedCall
	rooms map[string]string // room_name -> call_id, active calls only

	// onEvict, when set, receives a snapshot of each terminal record as it
	// leaves the tracker after the retention window.
	onEvict func(domain.CallRecord)

	now func() time.Time
}

// NewTracker creates an empty call tracker.
func NewTracker() *Tracker {
	return &Tracker{
		calls: make(map[string]*trackedCall),
		rooms: make(map[string]string),
		now:   time.Now,
	}
}

// SetEvictionHook registers a callback invoked with a snapshot of every
// record evicted by the cleanup routine. Must be called before the routine
// starts.
func (t *Tracker) SetEvictionHook(fn func(domain.CallRecord)) {
	t.onEvict = fn
}

// Create inserts a new ringing record with a generated call_id. It fails
// with ErrRoomInUse if roomName is already bound to an active call.
func (t *Tracker) Create(direction domain.CallDirection, phoneNumber, roomName string) (*domain.CallRecord, error) {
	now := t.now().UTC()
	callID := domain.NewCallID(direction, phoneNumber, now)

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, bound := t.rooms[roomName]; bound {
		return nil, fmt.Errorf("room %q bound to call %s: %w", roomName, existing, domain.ErrRoomInUse)
	}
	// Two calls from the same number within one second collide on the
	// timestamp-based id; disambiguate with a counter suffix.
	for i := 2; ; i++ {
		if _, exists := t.calls[callID]; !exists {
			break
		}
		callID = fmt.Sprintf("%s_%d", domain.NewCallID(direction, phoneNumber, now), i)
	}

	rec := t.insertLocked(callID, direction, phoneNumber, roomName, now)
	return snapshot(rec), nil
}

// GetOrCreate returns the record for callID, creating a ringing record when
// none exists (webhook-supplied identifiers, out-of-order completion events).
// The second return value reports whether a record was created.
func (t *Tracker) GetOrCreate(callID string, direction domain.CallDirection, phoneNumber, roomName string) (*domain.CallRecord, bool, error) {
	if callID == "" {
		return nil, false, fmt.Errorf("empty call_id: %w", domain.ErrValidation)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if tc, ok := t.calls[callID]; ok {
		tc.mu.Lock()
		defer tc.mu.Unlock()
		return snapshot(tc.rec), false, nil
	}
	if existing, bound := t.rooms[roomName]; bound && roomName != "" {
		return nil, false, fmt.Errorf("room %q bound to call %s: %w", roomName, existing, domain.ErrRoomInUse)
	}

	rec := t.insertLocked(callID, direction, phoneNumber, roomName, t.now().UTC())
	return snapshot(rec), true, nil
}

func (t *Tracker) insertLocked(callID string, direction domain.CallDirection, phoneNumber, roomName string, now time.Time) *domain.CallRecord {
	start := now
	rec := &domain.CallRecord{
		CallID:      callID,
		Direction:   direction,
		PhoneNumber: phoneNumber,
		RoomName:    roomName,
		Status:      domain.CallStatusRinging,
		StartTime:   &start,
		Metadata:    domain.JSONB{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.calls[callID] = &trackedCall{rec: rec}
	if roomName != "" {
		t.rooms[roomName] = callID
	}
	return rec
}

// UpdateStatus applies a monotonic status transition. It returns the updated
// snapshot and whether the record actually changed: a same-status update is
// an idempotent no-op (changed=false), a regression fails with
// ErrInvalidTransition and leaves the record untouched.
func (t *Tracker) UpdateStatus(callID string, next domain.CallStatus, at time.Time) (*domain.CallRecord, bool, error) {
	if !next.Valid() {
		return nil, false, fmt.Errorf("unknown status %q: %w", next, domain.ErrValidation)
	}

	tc, err := t.lookup(callID)
	if err != nil {
		return nil, false, err
	}

	tc.mu.Lock()

	cur := tc.rec.Status
	if cur == next {
		out := snapshot(tc.rec)
		tc.mu.Unlock()
		return out, false, nil
	}
	if !cur.CanTransitionTo(next) {
		tc.mu.Unlock()
		return nil, false, fmt.Errorf("%s -> %s: %w", cur, next, domain.ErrInvalidTransition)
	}

	tc.rec.Status = next
	tc.rec.UpdatedAt = t.now().UTC()
	var releaseRoom string
	switch {
	case next == domain.CallStatusConnected:
		if tc.rec.StartTime == nil {
			ts := at.UTC()
			tc.rec.StartTime = &ts
		}
	case next.IsTerminal():
		if tc.rec.EndTime == nil {
			ts := at.UTC()
			if tc.rec.StartTime != nil && ts.Before(*tc.rec.StartTime) {
				ts = *tc.rec.StartTime
			}
			tc.rec.EndTime = &ts
		}
		tc.rec.RecomputeDuration()
		releaseRoom = tc.rec.RoomName
	}

	out := snapshot(tc.rec)
	tc.mu.Unlock()

	// The room binding lives in the tracker map; release it outside the
	// record lock to keep lock ordering consistent with eviction.
	if releaseRoom != "" {
		t.mu.Lock()
		t.unbindRoom(releaseRoom, callID)
		t.mu.Unlock()
	}

	return out, true, nil
}

// SetReportedDuration overrides the derived duration with a provider-reported
// value. Negative values are ignored.
func (t *Tracker) SetReportedDuration(callID string, seconds int) error {
	if seconds < 0 {
		return nil
	}
	tc, err := t.lookup(callID)
	if err != nil {
		return err
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.rec.DurationSeconds = seconds
	tc.rec.UpdatedAt = t.now().UTC()
	return nil
}

// AttachRecording sets the recording URL on an existing record. It fails
// with ErrNotFound and never creates a record.
func (t *Tracker) AttachRecording(callID, url string) error {
	tc, err := t.lookup(callID)
	if err != nil {
		return err
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.rec.RecordingURL = url
	tc.rec.UpdatedAt = t.now().UTC()
	return nil
}

// AppendTranscript appends an utterance. The transcript is append-only;
// duplicates are accepted.
func (t *Tracker) AppendTranscript(callID string, u domain.Utterance) error {
	tc, err := t.lookup(callID)
	if err != nil {
		return err
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = t.now().UTC()
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.rec.Transcript = append(tc.rec.Transcript, u)
	tc.rec.UpdatedAt = t.now().UTC()
	return nil
}

// MergeMetadata merges key/value pairs into the record metadata.
func (t *Tracker) MergeMetadata(callID string, meta domain.JSONB) error {
	tc, err := t.lookup(callID)
	if err != nil {
		return err
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.rec.Metadata == nil {
		tc.rec.Metadata = domain.JSONB{}
	}
	for k, v := range meta {
		tc.rec.Metadata[k] = v
	}
	tc.rec.UpdatedAt = t.now().UTC()
	return nil
}

// SetSIPParticipant records the telephony leg participant id.
func (t *Tracker) SetSIPParticipant(callID, participantID string) error {
	tc, err := t.lookup(callID)
	if err != nil {
		return err
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.rec.SIPParticipantID = participantID
	tc.rec.UpdatedAt = t.now().UTC()
	return nil
}

// Get returns a snapshot of the record for callID.
func (t *Tracker) Get(callID string) (*domain.CallRecord, error) {
	tc, err := t.lookup(callID)
	if err != nil {
		return nil, err
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return snapshot(tc.rec), nil
}

// GetByRoom returns the active record bound to roomName.
func (t *Tracker) GetByRoom(roomName string) (*domain.CallRecord, error) {
	t.mu.RLock()
	callID, ok := t.rooms[roomName]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("room %q: %w", roomName, domain.ErrNotFound)
	}
	return t.Get(callID)
}

// GetByEgress returns the record whose recording egress has the given id.
// The room binding is released on the terminal transition, but egress
// completion usually arrives after the call ends; the egress id stays in the
// record metadata until eviction, so late file results can still land.
func (t *Tracker) GetByEgress(egressID string) (*domain.CallRecord, error) {
	if egressID == "" {
		return nil, fmt.Errorf("empty egress id: %w", domain.ErrNotFound)
	}

	t.mu.RLock()
	tracked := make([]*trackedCall, 0, len(t.calls))
	for _, tc := range t.calls {
		tracked = append(tracked, tc)
	}
	t.mu.RUnlock()

	for _, tc := range tracked {
		tc.mu.Lock()
		id, _ := tc.rec.Metadata["egress_id"].(string)
		if id == egressID {
			out := snapshot(tc.rec)
			tc.mu.Unlock()
			return out, nil
		}
		tc.mu.Unlock()
	}
	return nil, fmt.Errorf("egress %q: %w", egressID, domain.ErrNotFound)
}

// ListActive returns snapshots of all records in a non-terminal state.
func (t *Tracker) ListActive() []*domain.CallRecord {
	t.mu.RLock()
	tracked := make([]*trackedCall, 0, len(t.calls))
	for _, tc := range t.calls {
		tracked = append(tracked, tc)
	}
	t.mu.RUnlock()

	active := make([]*domain.CallRecord, 0, len(tracked))
	for _, tc := range tracked {
		tc.mu.Lock()
		if !tc.rec.Status.IsTerminal() {
			active = append(active, snapshot(tc.rec))
		}
		tc.mu.Unlock()
	}
	return active
}

// CountActive returns the number of non-terminal records.
func (t *Tracker) CountActive() int {
	return len(t.ListActive())
}

// StartCleanupRoutine evicts terminal records that have been idle past the
// retention window, handing each to the eviction hook. It runs until ctx is
// cancelled.
func (t *Tracker) StartCleanupRoutine(ctx context.Context, checkInterval, retention time.Duration) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	logger.Base().Info("call tracker cleanup routine started",
		zap.Duration("check_interval", checkInterval),
		zap.Duration("retention", retention))

	for {
		select {
		case <-ctx.Done():
			logger.Base().Info("call tracker cleanup routine stopped")
			return
		case <-ticker.C:
			for _, rec := range t.evictExpired(retention) {
				logger.Base().Info("call record evicted after retention",
					zap.String("call_id", rec.CallID),
					zap.String("status", string(rec.Status)))
				if t.onEvict != nil {
					t.onEvict(rec)
				}
			}
		}
	}
}

// evictExpired removes terminal records idle longer than retention and
// returns their snapshots.
func (t *Tracker) evictExpired(retention time.Duration) []domain.CallRecord {
	cutoff := t.now().UTC().Add(-retention)

	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []domain.CallRecord
	for id, tc := range t.calls {
		tc.mu.Lock()
		if tc.rec.Status.IsTerminal() && tc.rec.UpdatedAt.Before(cutoff) {
			evicted = append(evicted, *snapshot(tc.rec))
			delete(t.calls, id)
			t.unbindRoom(tc.rec.RoomName, id)
		}
		tc.mu.Unlock()
	}
	return evicted
}

func (t *Tracker) lookup(callID string) (*trackedCall, error) {
	t.mu.RLock()
	tc, ok := t.calls[callID]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("call %q: %w", callID, domain.ErrNotFound)
	}
	return tc, nil
}

// unbindRoom releases the room binding if it still points at callID.
// Callers must hold the tracker lock.
func (t *Tracker) unbindRoom(roomName, callID string) {
	if roomName == "" {
		return
	}
	if bound, ok := t.rooms[roomName]; ok && bound == callID {
		delete(t.rooms, roomName)
	}
}

// snapshot deep-copies a record so callers can never mutate tracked state.
func snapshot(rec *domain.CallRecord) *domain.CallRecord {
	var out domain.CallRecord
	_ = copier.CopyWithOption(&out, rec, copier.Option{DeepCopy: true})
	return &out
}
