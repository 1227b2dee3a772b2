package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCallID(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	assert.Equal(t, "inbound_20250314_092653_14155550123", NewCallID(DirectionInbound, "+14155550123", at))
	assert.Equal(t, "outbound_20250314_092653_442071234567", NewCallID(DirectionOutbound, "+44 20 7123 4567", at))
}

func TestRoomName(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	assert.Equal(t, "agent_call_20250314_092653_14155550123", RoomName("agent_call", "+14155550123", at))
}

func TestPhoneDigits(t *testing.T) {
	assert.Equal(t, "14155550123", PhoneDigits("+1 (415) 555-0123"))
	assert.Equal(t, "", PhoneDigits("anonymous"))
}

func TestCanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to CallStatus
		want     bool
	}{
		{CallStatusRinging, CallStatusConnected, true},
		{CallStatusRinging, CallStatusEnded, true},
		{CallStatusRinging, CallStatusFailed, true},
		{CallStatusConnected, CallStatusEnded, true},
		{CallStatusConnected, CallStatusFailed, true},
		{CallStatusConnected, CallStatusRinging, false},
		{CallStatusEnded, CallStatusConnected, false},
		{CallStatusEnded, CallStatusFailed, false},
		{CallStatusFailed, CallStatusEnded, false},
		{CallStatusRinging, CallStatusRinging, true},
		{CallStatusEnded, CallStatusEnded, true},
		{CallStatusRinging, CallStatus("levitating"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, CallStatusRinging.IsTerminal())
	assert.False(t, CallStatusConnected.IsTerminal())
	assert.True(t, CallStatusEnded.IsTerminal())
	assert.True(t, CallStatusFailed.IsTerminal())
}

func TestRecomputeDuration(t *testing.T) {
	start := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	end := start.Add(42 * time.Second)

	rec := &CallRecord{StartTime: &start, EndTime: &end}
	rec.RecomputeDuration()
	assert.Equal(t, 42, rec.DurationSeconds)

	// No-op until both timestamps are set.
	rec = &CallRecord{StartTime: &start, DurationSeconds: 7}
	rec.RecomputeDuration()
	assert.Equal(t, 7, rec.DurationSeconds)

	// Clock skew never yields a negative duration.
	before := start.Add(-time.Minute)
	rec = &CallRecord{StartTime: &start, EndTime: &before}
	rec.RecomputeDuration()
	assert.Equal(t, 0, rec.DurationSeconds)
}

func TestJSONBRoundTrip(t *testing.T) {
	src := JSONB{"campaign": "renewal", "attempt": float64(2)}

	v, err := src.Value()
	require.NoError(t, err)

	var dst JSONB
	require.NoError(t, dst.Scan(v))
	assert.Equal(t, src, dst)

	var nilDst JSONB
	require.NoError(t, nilDst.Scan(nil))
	assert.Nil(t, nilDst)
}

func TestNewCallEventSnapshotsRecord(t *testing.T) {
	start := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	end := start.Add(42 * time.Second)
	rec := &CallRecord{
		CallID:          "c1",
		Direction:       DirectionInbound,
		PhoneNumber:     "+14155550123",
		RoomName:        "agent_call_20250314_090000_14155550123",
		Status:          CallStatusEnded,
		StartTime:       &start,
		EndTime:         &end,
		DurationSeconds: 42,
		RecordingURL:    "https://storage.googleapis.com/recordings/c1.ogg",
	}

	ev := NewCallEvent(EventCallEnded, rec)
	assert.Equal(t, EventCallEnded, ev.EventType)
	assert.Equal(t, "c1", ev.CallID)
	assert.Equal(t, 42, ev.DurationSeconds)
	assert.Equal(t, rec.RecordingURL, ev.RecordingURL)
	assert.False(t, ev.Timestamp.IsZero())
}
