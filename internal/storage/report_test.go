package storage

import (
	"bytes"
	"testing"
	"time"

	"github.com/MrAlaminH/voice-agent-launchpad/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *domain.CallRecord {
	start := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	end := start.Add(95 * time.Second)
	return &domain.CallRecord{
		CallID:          "inbound_20250314_092653_14155550123",
		Direction:       domain.DirectionInbound,
		PhoneNumber:     "+14155550123",
		RoomName:        "call_20250314_092653_14155550123",
		Status:          domain.CallStatusEnded,
		StartTime:       &start,
		EndTime:         &end,
		DurationSeconds: 95,
		RecordingURL:    "https://storage.googleapis.com/media/recordings/a.ogg",
		Transcript: domain.TranscriptJSON{
			{Role: "user", Text: "hello", Timestamp: start},
			{Role: "agent", Text: "hi, how can I help?", Timestamp: start.Add(2 * time.Second)},
		},
	}
}

func TestSummaryLines(t *testing.T) {
	lines := SummaryLines(sampleRecord())

	assert.Contains(t, lines, "Call ID: inbound_20250314_092653_14155550123")
	assert.Contains(t, lines, "Direction: inbound")
	assert.Contains(t, lines, "Status: ended")
	assert.Contains(t, lines, "Duration: 1m35s")
	assert.Contains(t, lines, "Utterances: 2")
	assert.Contains(t, lines, "Recording: https://storage.googleapis.com/media/recordings/a.ogg")
}

func TestSummaryLinesOmitsMissingFields(t *testing.T) {
	rec := sampleRecord()
	rec.EndTime = nil
	rec.RecordingURL = ""

	for _, line := range SummaryLines(rec) {
		assert.NotContains(t, line, "Ended:")
		assert.NotContains(t, line, "Recording:")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "0s"},
		{42, "42s"},
		{95, "1m35s"},
		{3661, "1h1m1s"},
		{-5, "0s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.seconds), "seconds=%d", tt.seconds)
	}
}

func TestRenderCallReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderCallReport(sampleRecord(), &buf))
	// PDF magic header.
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
}

func TestReportGeneratorDisabledWithoutBucket(t *testing.T) {
	g := NewReportGenerator("")
	assert.False(t, g.Enabled())

	var nilGen *ReportGenerator
	assert.False(t, nilGen.Enabled())
}
