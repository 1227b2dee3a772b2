package livekit

import (
	"errors"

	"github.com/MrAlaminH/voice-agent-launchpad/pkg/logger"
	"go.uber.org/zap"
)

// LiveKitConfig holds LiveKit server and SIP trunk configuration
type LiveKitConfig struct {
	ServerURL       string // LiveKit server WebSocket URL
	APIKey          string // LiveKit API key
	APISecret       string // LiveKit API secret
	InboundTrunkID  string // SIP trunk for calls arriving from the carrier
	OutboundTrunkID string // SIP trunk for calls the gateway places
	OutboundNumber  string // Caller ID for outbound calls
	RoomPrefix      string // Room name prefix for agent rooms
	GCSBucket       string // GCS bucket name for egress recordings
	Enabled         bool   // Whether LiveKit integration is enabled
}

// NewLiveKitConfig creates a new LiveKit configuration with validation
func NewLiveKitConfig(serverURL, apiKey, apiSecret string) (*LiveKitConfig, error) {
	if serverURL == "" {
		return nil, errors.New("LiveKit server URL is required")
	}
	if apiKey == "" {
		return nil, errors.New("LiveKit API key is required")
	}
	if apiSecret == "" {
		return nil, errors.New("LiveKit API secret is required")
	}

	config := &LiveKitConfig{
		ServerURL:  serverURL,
		APIKey:     apiKey,
		APISecret:  apiSecret,
		RoomPrefix: "call",
		Enabled:    true,
	}

	logger.Base().Info("LiveKit configuration initialized", zap.String("serverurl", serverURL))
	return config, nil
}

// Validate validates the LiveKit configuration
func (c *LiveKitConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("LiveKit server URL is required")
	}
	if c.APIKey == "" {
		return errors.New("LiveKit API key is required")
	}
	if c.APISecret == "" {
		return errors.New("LiveKit API secret is required")
	}
	return nil
}

// IsEnabled returns whether LiveKit is enabled
func (c *LiveKitConfig) IsEnabled() bool {
	return c.Enabled && c.ServerURL != "" && c.APIKey != "" && c.APISecret != ""
}
