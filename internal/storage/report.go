package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrAlaminH/voice-agent-launchpad/internal/domain"
	"github.com/MrAlaminH/voice-agent-launchpad/pkg/gcs"
	"github.com/MrAlaminH/voice-agent-launchpad/pkg/logger"
	"github.com/jung-kurt/gofpdf/v2"
	"go.uber.org/zap"
)

// ReportGenerator renders end-of-call PDF reports and uploads them to the
// configured bucket. A nil *ReportGenerator or empty bucket disables
// reporting without touching the call flow.
type ReportGenerator struct {
	bucketName string
}

// NewReportGenerator creates a report generator targeting bucketName.
func NewReportGenerator(bucketName string) *ReportGenerator {
	return &ReportGenerator{bucketName: bucketName}
}

// Enabled reports whether an upload bucket is configured.
func (g *ReportGenerator) Enabled() bool {
	return g != nil && g.bucketName != ""
}

// GenerateAndUpload renders the report for a finished call and uploads it,
// returning the public URL of the PDF.
func (g *ReportGenerator) GenerateAndUpload(ctx context.Context, rec *domain.CallRecord) (string, error) {
	if !g.Enabled() {
		return "", fmt.Errorf("report bucket not configured")
	}

	var buf bytes.Buffer
	if err := RenderCallReport(rec, &buf); err != nil {
		return "", err
	}

	objectPath := fmt.Sprintf("reports/%s.pdf", rec.CallID)
	gcsClient, err := gcs.NewGCSClient(ctx, g.bucketName)
	if err != nil {
		return "", fmt.Errorf("failed to create GCS client: %w", err)
	}
	defer gcsClient.Close()

	url, err := gcsClient.Upload(ctx, objectPath, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to upload report: %w", err)
	}

	logger.Base().Info("call report uploaded",
		zap.String("call_id", rec.CallID),
		zap.String("url", url))
	return url, nil
}

// RenderCallReport writes the PDF for a finished call to w.
func RenderCallReport(rec *domain.CallRecord, w *bytes.Buffer) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Times", "B", 16)
	pdf.CellFormat(0, 10, "Call Report", "", 1, "", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Times", "", 12)
	for _, line := range SummaryLines(rec) {
		pdf.CellFormat(0, 7, line, "", 1, "", false, 0, "")
	}

	if len(rec.Transcript) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Times", "B", 13)
		pdf.CellFormat(0, 8, "Transcript", "", 1, "", false, 0, "")
		pdf.SetFont("Times", "", 11)
		for _, u := range rec.Transcript {
			pdf.MultiCell(0, 6, fmt.Sprintf("[%s] %s: %s",
				u.Timestamp.UTC().Format("15:04:05"), u.Role, u.Text), "", "", false)
		}
	}

	pdf.SetFont("Arial", "I", 8)
	pdf.SetY(-15)
	pdf.SetX(0)
	pdf.CellFormat(0, 10, fmt.Sprintf("Generated on %s", time.Now().Format("2006-01-02 15:04:05")), "", 0, "C", false, 0, "")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render PDF: %w", err)
	}
	return nil
}

// SummaryLines builds the header block of the report.
func SummaryLines(rec *domain.CallRecord) []string {
	lines := []string{
		fmt.Sprintf("Call ID: %s", rec.CallID),
		fmt.Sprintf("Direction: %s", rec.Direction),
		fmt.Sprintf("Phone number: %s", rec.PhoneNumber),
		fmt.Sprintf("Room: %s", rec.RoomName),
		fmt.Sprintf("Status: %s", rec.Status),
	}
	if rec.StartTime != nil {
		lines = append(lines, fmt.Sprintf("Started: %s", rec.StartTime.UTC().Format(time.RFC3339)))
	}
	if rec.EndTime != nil {
		lines = append(lines, fmt.Sprintf("Ended: %s", rec.EndTime.UTC().Format(time.RFC3339)))
	}
	lines = append(lines, fmt.Sprintf("Duration: %s", formatDuration(rec.DurationSeconds)))
	if rec.RecordingURL != "" {
		lines = append(lines, fmt.Sprintf("Recording: %s", rec.RecordingURL))
	}
	lines = append(lines, fmt.Sprintf("Utterances: %d", len(rec.Transcript)))
	return lines
}

func formatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds) * time.Second
	parts := []string{}
	if h := int(d.Hours()); h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m := int(d.Minutes()) % 60; m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	parts = append(parts, fmt.Sprintf("%ds", seconds%60))
	return strings.Join(parts, "")
}
