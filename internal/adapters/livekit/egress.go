package livekit

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/MrAlaminH/voice-agent-launchpad/pkg/gcs"
	"github.com/MrAlaminH/voice-agent-launchpad/pkg/logger"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"go.uber.org/zap"
)

// Recorder drives audio-only room composite egress for call recordings.
type Recorder struct {
	config       *LiveKitConfig
	egressClient *lksdk.EgressClient

	// FilepathTemplate describes the recording object path; {room_name}
	// and {time} placeholders are expanded when the egress starts.
	FilepathTemplate string
	// BaseURL overrides the computed download URL when the bucket sits
	// behind a CDN. Empty uses the GCS public URL.
	BaseURL string
}

// RecordingInfo describes a started egress and where its file will land.
type RecordingInfo struct {
	EgressID   string
	ObjectPath string
	URL        string
}

// NewRecorder creates a recording controller for the configured server.
func NewRecorder(config *LiveKitConfig, filepathTemplate, baseURL string) *Recorder {
	return &Recorder{
		config:           config,
		egressClient:     lksdk.NewEgressClient(config.ServerURL, config.APIKey, config.APISecret),
		FilepathTemplate: filepathTemplate,
		BaseURL:          baseURL,
	}
}

// StartCallRecording starts an audio-only composite egress for roomName.
// The object path and the returned URL are built from the same timestamp,
// captured once, so the URL always matches the file egress writes.
func (r *Recorder) StartCallRecording(ctx context.Context, roomName string, startedAt time.Time) (*RecordingInfo, error) {
	logger.Base().Info("starting audio egress for room", zap.String("room_name", roomName))

	objectPath := r.buildObjectPath(roomName, startedAt)

	fileOutput := &livekit.EncodedFileOutput{
		FileType: fileTypeFor(objectPath),
		Filepath: objectPath,
	}

	// Egress uploads straight to GCS when a bucket is configured; the
	// credentials come in base64 so they survive env-var plumbing.
	if r.config.GCSBucket != "" {
		credentialsBase64 := os.Getenv("GOOGLE_STORAGE_LIVEKIT_CLOUD_ACCOUNT_JSON_BASE64")
		if credentialsBase64 == "" {
			return nil, fmt.Errorf("GCS credentials not configured")
		}
		credentialsJSON, err := base64.StdEncoding.DecodeString(credentialsBase64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode credentials: %w", err)
		}
		fileOutput.Output = &livekit.EncodedFileOutput_Gcp{
			Gcp: &livekit.GCPUpload{
				Bucket:      r.config.GCSBucket,
				Credentials: string(credentialsJSON),
			},
		}
	}

	req := &livekit.RoomCompositeEgressRequest{
		RoomName:    roomName,
		AudioOnly:   true,
		FileOutputs: []*livekit.EncodedFileOutput{fileOutput},
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	info, err := r.egressClient.StartRoomCompositeEgress(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to start egress: %w", err)
	}

	logger.Base().Info("egress started",
		zap.String("egress_id", info.EgressId),
		zap.String("room_name", info.RoomName),
		zap.String("status", info.Status.String()),
		zap.String("filepath", objectPath))
	if info.Error != "" {
		logger.Base().Error("egress reported error", zap.String("error", info.Error))
	}

	return &RecordingInfo{
		EgressID:   info.EgressId,
		ObjectPath: objectPath,
		URL:        r.recordingURL(objectPath),
	}, nil
}

// StopCallRecording stops the egress and reports whether the recording
// completed cleanly.
func (r *Recorder) StopCallRecording(ctx context.Context, egressID string) (bool, error) {
	logger.Base().Info("stopping egress", zap.String("egress_id", egressID))

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	info, err := r.egressClient.StopEgress(ctx, &livekit.StopEgressRequest{EgressId: egressID})
	if err != nil {
		return false, fmt.Errorf("failed to stop egress: %w", err)
	}

	complete := info.Status == livekit.EgressStatus_EGRESS_COMPLETE ||
		info.Status == livekit.EgressStatus_EGRESS_ENDING
	logger.Base().Info("egress stopped",
		zap.String("egress_id", egressID),
		zap.String("status", info.Status.String()))
	return complete, nil
}

// buildObjectPath expands the filepath template. The timestamp is passed in
// rather than read from the clock so the caller controls consistency
// between the path and the URL handed downstream.
func (r *Recorder) buildObjectPath(roomName string, at time.Time) string {
	p := r.FilepathTemplate
	if p == "" {
		p = "recordings/{room_name}-{time}.ogg"
	}
	stamp := at.UTC().Format("20060102_150405")
	p = strings.ReplaceAll(p, "{room_name}", roomName)
	p = strings.ReplaceAll(p, "{time}", stamp)
	return p
}

// recordingURL builds the download URL for an object path.
func (r *Recorder) recordingURL(objectPath string) string {
	if r.BaseURL != "" {
		return strings.TrimSuffix(r.BaseURL, "/") + "/" + objectPath
	}
	if r.config.GCSBucket != "" {
		return gcs.PublicURL(r.config.GCSBucket, objectPath)
	}
	return objectPath
}

func fileTypeFor(objectPath string) livekit.EncodedFileType {
	switch path.Ext(objectPath) {
	case ".mp4":
		return livekit.EncodedFileType_MP4
	default:
		return livekit.EncodedFileType_OGG
	}
}
