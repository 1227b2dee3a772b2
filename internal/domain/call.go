package domain

import (
	"fmt"
	"strings"
	"time"
)

// CallDirection says whether a call was received or placed by the gateway.
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

// CallStatus is the lifecycle state of a call. Transitions are monotonic:
// ringing -> connected -> ended, with failed reachable from any non-terminal
// state. A record never leaves a terminal state.
type CallStatus string

const (
	CallStatusRinging   CallStatus = "ringing"
	CallStatusConnected CallStatus = "connected"
	CallStatusEnded     CallStatus = "ended"
	CallStatusFailed    CallStatus = "failed"
)

// statusRank orders statuses for the monotonic transition rule. Terminal
// states share the highest rank so neither can replace the other.
var statusRank = map[CallStatus]int{
	CallStatusRinging:   0,
	CallStatusConnected: 1,
	CallStatusEnded:     2,
	CallStatusFailed:    2,
}

// IsTerminal reports whether s is a final state.
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusEnded || s == CallStatusFailed
}

// Valid reports whether s is a known status value.
func (s CallStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next respects the
// monotonic ordering. A same-status transition is allowed (callers treat it
// as an idempotent no-op).
func (s CallStatus) CanTransitionTo(next CallStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	return statusRank[next] > statusRank[s]
}

// Utterance is a single transcript entry. The transcript is append-only;
// de-duplication is the caller's responsibility.
type Utterance struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// CallRecord is the tracked state of one phone call from creation to
// termination.
type CallRecord struct {
	CallID      string        `json:"call_id" gorm:"column:call_id;primaryKey"`
	Direction   CallDirection `json:"direction" gorm:"column:direction"`
	PhoneNumber string        `json:"phone_number" gorm:"column:phone_number"`
	RoomName    string        `json:"room_name" gorm:"column:room_name;index"`
	Status      CallStatus    `json:"status" gorm:"column:status"`

	// SIPParticipantID identifies the telephony leg inside the room, when one
	// was dialed through the session service.
	SIPParticipantID string `json:"sip_participant_id,omitempty" gorm:"column:sip_participant_id"`

	StartTime *time.Time `json:"start_time,omitempty" gorm:"column:start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" gorm:"column:end_time"`

	// DurationSeconds is derived from StartTime/EndTime once EndTime is set,
	// unless a provider-reported duration was accepted instead.
	DurationSeconds int `json:"duration_seconds" gorm:"column:duration_seconds"`

	RecordingURL string `json:"recording_url,omitempty" gorm:"column:recording_url"`

	Transcript TranscriptJSON `json:"transcript" gorm:"column:transcript;type:jsonb"`
	Metadata   JSONB          `json:"metadata" gorm:"column:metadata;type:jsonb"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (CallRecord) TableName() string {
	return "call_records"
}

// RecomputeDuration derives DurationSeconds from the start/end timestamps.
// It is a no-op until EndTime is known.
func (r *CallRecord) RecomputeDuration() {
	if r.StartTime == nil || r.EndTime == nil {
		return
	}
	d := int(r.EndTime.Sub(*r.StartTime).Seconds())
	if d < 0 {
		d = 0
	}
	r.DurationSeconds = d
}

// NewCallID builds the canonical call identifier:
// <direction>_<YYYYMMDD_HHMMSS>_<phone-digits>.
func NewCallID(direction CallDirection, phoneNumber string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s", direction, at.Format("20060102_150405"), PhoneDigits(phoneNumber))
}

// RoomName builds a room name for a call: <prefix>_<YYYYMMDD_HHMMSS>_<digits>.
func RoomName(prefix, phoneNumber string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s", prefix, at.Format("20060102_150405"), PhoneDigits(phoneNumber))
}

// PhoneDigits strips everything but digits from a phone number, so E.164
// numbers become identifier-safe.
func PhoneDigits(phoneNumber string) string {
	var b strings.Builder
	for _, r := range phoneNumber {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
