package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// TelephonyConfig holds the gateway configuration, loaded from environment
// variables. A .env file is loaded in main for local development.
type TelephonyConfig struct {
	Host string
	Port string

	// LiveKit session service
	LiveKitServerURL string
	LiveKitAPIKey    string
	LiveKitAPISecret string

	// SIP trunks configured in the provider console
	SIPInboundTrunkID  string
	SIPOutboundTrunkID string
	SIPOutboundNumber  string

	// Twilio credentials, used for webhook signature validation and
	// provider-side hangup
	TwilioAccountSID string
	TwilioAuthToken  string

	// Downstream webhook consumer for normalized call events
	CallWebhookURL string

	// Room naming
	AgentRoomPrefix string

	// Retention window for terminal records before they are archived and
	// evicted from the in-memory tracker
	CallRetention time.Duration

	// Outbound notification retry policy (defaults, not contracts)
	DispatchMaxAttempts int
	DispatchBaseBackoff time.Duration

	// Recording egress
	RecordingEnabled  bool
	RecordingBucket   string
	RecordingBaseURL  string
	RecordingFilepath string

	// Externally reachable base URL, used for Twilio signature validation
	PublicBaseURL string

	// Redis, used for call snapshots and the distributed task bus
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Optional call-metrics publishing
	PubSubProjectID string
	PubSubTopic     string

	// Optional end-of-call PDF reports
	ReportBucket string

	// Webhook ingestion rate limit (requests/second, 0 disables)
	WebhookRateLimit int

	// Management API key secret; empty disables auth (development)
	SecretKey string

	// Instance identifier for multi-pod logging
	InstanceID string
}

// LoadFromEnv loads the gateway configuration from environment variables.
func LoadFromEnv() *TelephonyConfig {
	return &TelephonyConfig{
		Host: getEnvOrDefault("WEBHOOK_HOST", "0.0.0.0"),
		Port: getEnvOrDefault("WEBHOOK_PORT", "8080"),

		LiveKitServerURL: getEnvOrDefault("LIVEKIT_SERVER_URL", ""),
		LiveKitAPIKey:    getEnvOrDefault("LIVEKIT_API_KEY", ""),
		LiveKitAPISecret: getEnvOrDefault("LIVEKIT_API_SECRET", ""),

		SIPInboundTrunkID:  getEnvOrDefault("SIP_INBOUND_TRUNK_ID", ""),
		SIPOutboundTrunkID: getEnvOrDefault("SIP_OUTBOUND_TRUNK_ID", ""),
		SIPOutboundNumber:  getEnvOrDefault("SIP_OUTBOUND_NUMBER", ""),

		TwilioAccountSID: getEnvOrDefault("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnvOrDefault("TWILIO_AUTH_TOKEN", ""),

		CallWebhookURL: getEnvOrDefault("CALL_WEBHOOK_URL", ""),

		AgentRoomPrefix: getEnvOrDefault("AGENT_ROOM_PREFIX", "agent_call"),

		CallRetention: time.Duration(getEnvAsIntOrDefault("CALL_RETENTION_MINUTES", 30)) * time.Minute,

		DispatchMaxAttempts: getEnvAsIntOrDefault("DISPATCH_MAX_ATTEMPTS", 3),
		DispatchBaseBackoff: time.Duration(getEnvAsIntOrDefault("DISPATCH_BASE_BACKOFF_MS", 500)) * time.Millisecond,

		RecordingEnabled:  getEnvAsBoolOrDefault("RECORDING_ENABLED", false),
		RecordingBucket:   getEnvOrDefault("RECORDING_BUCKET", ""),
		RecordingBaseURL:  getEnvOrDefault("RECORDING_BASE_URL", ""),
		RecordingFilepath: getEnvOrDefault("RECORDING_FILEPATH", "recordings/{room_name}-{time}.mp4"),

		PublicBaseURL: getEnvOrDefault("PUBLIC_BASE_URL", ""),

		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsIntOrDefault("REDIS_DB", 0),

		PubSubProjectID: getEnvOrDefault("PUBSUB_PROJECT_ID", ""),
		PubSubTopic:     getEnvOrDefault("PUBSUB_TOPIC", "call-metrics"),

		ReportBucket: getEnvOrDefault("REPORT_BUCKET", ""),

		WebhookRateLimit: getEnvAsIntOrDefault("WEBHOOK_RATE_LIMIT", 0),

		SecretKey: getEnvOrDefault("SECRET_KEY", ""),

		InstanceID: getDynamicInstanceID(),
	}
}

// Addr returns the listen address.
func (c *TelephonyConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getDynamicInstanceID generates a unique identifier for this service
// instance: the system hostname (pod name in K8s) when available, otherwise
// a timestamp-based fallback.
func getDynamicInstanceID() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return fmt.Sprintf("voice-launchpad-%d", time.Now().UnixNano())
}
