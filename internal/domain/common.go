package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB is a string-keyed map of JSON-serializable values, stored as a
// PostgreSQL JSONB column when a record is archived.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}

// TranscriptJSON stores the ordered utterance list as a JSONB column.
type TranscriptJSON []Utterance

func (t TranscriptJSON) Value() (driver.Value, error) {
	if t == nil {
		return nil, nil
	}
	return json.Marshal(t)
}

func (t *TranscriptJSON) Scan(value interface{}) error {
	if value == nil {
		*t = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into TranscriptJSON", value)
	}

	return json.Unmarshal(bytes, t)
}

// CallEventType names the normalized events re-emitted to the downstream
// webhook consumer.
type CallEventType string

const (
	EventCallInitiated CallEventType = "call_initiated"
	EventCallStarted   CallEventType = "call_started"
	EventCallEnded     CallEventType = "call_ended"
)

// CallEvent is the normalized payload delivered to the downstream webhook
// and, when configured, published to the metrics topic.
type CallEvent struct {
	EventType       CallEventType `json:"event_type"`
	CallID          string        `json:"call_id"`
	Direction       CallDirection `json:"direction"`
	PhoneNumber     string        `json:"phone_number"`
	RoomName        string        `json:"room_name"`
	Status          CallStatus    `json:"status"`
	StartTime       *time.Time    `json:"start_time,omitempty"`
	EndTime         *time.Time    `json:"end_time,omitempty"`
	DurationSeconds int           `json:"duration_seconds"`
	RecordingURL    string        `json:"recording_url,omitempty"`
	Transcript      []Utterance   `json:"transcript,omitempty"`
	Metadata        JSONB         `json:"metadata,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}

// NewCallEvent snapshots a record into a normalized event.
func NewCallEvent(eventType CallEventType, rec *CallRecord) CallEvent {
	return CallEvent{
		EventType:       eventType,
		CallID:          rec.CallID,
		Direction:       rec.Direction,
		PhoneNumber:     rec.PhoneNumber,
		RoomName:        rec.RoomName,
		Status:          rec.Status,
		StartTime:       rec.StartTime,
		EndTime:         rec.EndTime,
		DurationSeconds: rec.DurationSeconds,
		RecordingURL:    rec.RecordingURL,
		Transcript:      rec.Transcript,
		Metadata:        rec.Metadata,
		Timestamp:       time.Now().UTC(),
	}
}
