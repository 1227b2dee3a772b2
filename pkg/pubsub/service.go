package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/MrAlaminH/voice-agent-launchpad/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
	PubID     string `mapstructure:"pub_id"`
	// MetricsPrefix aligns message names with subscription filters
	// (e.g., "", "beta", "qa", "stage"). Falls back to PubID when empty.
	MetricsPrefix string `mapstructure:"metrics_prefix"`
}

type PubSubService struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	config *PubSubConfig
}

// CallMetricsEvent is the per-call metrics payload published when a call
// reaches a terminal state.
type CallMetricsEvent struct {
	ID           string     `json:"id"`
	CallID       string     `json:"call_id"`
	Direction    string     `json:"direction"`
	PhoneNumber  string     `json:"phone_number"`
	RoomName     string     `json:"room_name"`
	Status       string     `json:"status"`
	StartAt      *time.Time `json:"start_at,omitempty"`
	EndAt        *time.Time `json:"end_at,omitempty"`
	Duration     int        `json:"duration"`
	TurnCount    int        `json:"turn_count"`
	RecordingURL string     `json:"recording_url,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func NewPubSubService(ctx context.Context, cfg *PubSubConfig) (*PubSubService, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PubSub project ID is required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create PubSub client: %w", err)
	}

	topic := client.Topic(cfg.TopicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check if topic exists: %w", err)
	}

	if !exists {
		logger.Base().Info("topic does not exist, creating", zap.String("topicname", cfg.TopicName))
		topic, err = client.CreateTopic(ctx, cfg.TopicName)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create topic %s: %w", cfg.TopicName, err)
		}
		logger.Base().Info("topic created successfully", zap.String("topicname", cfg.TopicName))
	}

	return &PubSubService{
		client: client,
		topic:  topic,
		config: cfg,
	}, nil
}

// PublishCallMetricsEvent publishes aggregated per-call metrics to Pub/Sub.
func (p *PubSubService) PublishCallMetricsEvent(ctx context.Context, metrics CallMetricsEvent) error {
	if metrics.ID == "" {
		metrics.ID = uuid.New().String()
	}
	data, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal call metrics event: %w", err)
	}

	taskID := uuid.New().String()

	// Use configurable prefix to align with subscription filters.
	// Expected patterns: "call:metrics", "beta:call:metrics", etc.
	prefixSource := strings.TrimSuffix(p.config.MetricsPrefix, ":")
	if prefixSource == "" {
		prefixSource = strings.TrimSuffix(p.config.PubID, ":")
	}

	namePrefix := prefixSource
	if namePrefix != "" {
		namePrefix += ":"
	}

	message := &pubsub.Message{
		Attributes: map[string]string{
			"name": fmt.Sprintf("%s%s", namePrefix, taskID),
		},
		Data: data,
	}

	result := p.topic.Publish(ctx, message)
	if _, err := result.Get(ctx); err != nil {
		logger.Base().Error("failed to publish call metrics",
			zap.String("call_id", metrics.CallID),
			zap.String("task_id", taskID),
			zap.Error(err))
		return fmt.Errorf("failed to publish call metrics message: %w", err)
	}

	logger.Base().Info("published call metrics",
		zap.String("id", metrics.ID),
		zap.String("call_id", metrics.CallID),
		zap.String("status", metrics.Status),
		zap.Int("duration", metrics.Duration),
		zap.String("task_id", taskID))

	return nil
}

func (p *PubSubService) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
