package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MrAlaminH/voice-agent-launchpad/internal/adapters/livekit"
	"github.com/MrAlaminH/voice-agent-launchpad/internal/config"
	"github.com/MrAlaminH/voice-agent-launchpad/internal/core/task"
	"github.com/MrAlaminH/voice-agent-launchpad/internal/domain"
	"github.com/MrAlaminH/voice-agent-launchpad/internal/repository"
	"github.com/MrAlaminH/voice-agent-launchpad/internal/services/call"
	"github.com/MrAlaminH/voice-agent-launchpad/internal/services/notify"
	"github.com/MrAlaminH/voice-agent-launchpad/internal/storage"
	"github.com/MrAlaminH/voice-agent-launchpad/pkg/logger"
	"github.com/MrAlaminH/voice-agent-launchpad/pkg/pubsub"
	"github.com/MrAlaminH/voice-agent-launchpad/pkg/redis"
	twiliopkg "github.com/MrAlaminH/voice-agent-launchpad/pkg/twilio"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	glogger "gorm.io/gorm/logger"
)

// HandlerManager owns the services behind the HTTP surface and wires them
// into routes.
type HandlerManager struct {
	config     *config.TelephonyConfig
	service    *call.TelephonyService
	tracker    *call.Tracker
	dispatcher *notify.Dispatcher
	twilioSvc  *twiliopkg.TwilioService
	taskBus    task.Bus
}

// NewHandlerManager creates and initializes all services and handlers.
func NewHandlerManager(ctx context.Context, cfg *config.TelephonyConfig) (*HandlerManager, error) {
	tracker := call.NewTracker()
	service := call.NewTelephonyService(cfg, tracker)

	// Outbound notification dispatcher. Fire-and-forget by design; call
	// handling never waits on the downstream consumer.
	dispatcher := notify.NewDispatcher(notify.Config{
		URL:         cfg.CallWebhookURL,
		MaxAttempts: cfg.DispatchMaxAttempts,
		BaseBackoff: cfg.DispatchBaseBackoff,
	})
	dispatcher.Start(ctx, 2)
	service.WithNotifier(dispatcher)

	// Twilio client for webhook signature validation and provider-side
	// hangups. Runs in disabled mode without credentials.
	twilioSvc := twiliopkg.NewTwilioService(cfg.TwilioAccountSID, cfg.TwilioAuthToken)
	service.WithProvider(twilioSvc)

	// LiveKit integration: agent rooms, SIP bridging and recordings.
	if cfg.LiveKitServerURL != "" {
		lkConfig, err := livekit.NewLiveKitConfig(cfg.LiveKitServerURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)
		if err != nil {
			logger.Base().Warn("livekit disabled", zap.Error(err))
		} else {
			lkConfig.InboundTrunkID = cfg.SIPInboundTrunkID
			lkConfig.OutboundTrunkID = cfg.SIPOutboundTrunkID
			lkConfig.OutboundNumber = cfg.SIPOutboundNumber
			lkConfig.RoomPrefix = cfg.AgentRoomPrefix
			lkConfig.GCSBucket = cfg.RecordingBucket

			roomManager, err := livekit.NewRoomManager(lkConfig)
			if err != nil {
				logger.Base().Warn("failed to initialize livekit room manager, disabled", zap.Error(err))
			} else {
				service.WithRooms(roomManager)
				if cfg.RecordingEnabled && cfg.RecordingBucket != "" {
					service.WithRecorder(livekit.NewRecorder(lkConfig, cfg.RecordingFilepath, cfg.RecordingBaseURL))
				}
				logger.Base().Info("livekit integration initialized",
					zap.Bool("recording_enabled", cfg.RecordingEnabled))
			}
		}
	} else {
		logger.Base().Info("livekit integration disabled")
	}

	// Redis: call snapshots after eviction plus the distributed task bus.
	var taskBus task.Bus
	redisSvc, err := redis.NewRedisService(&redis.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Base().Warn("failed to initialize redis service, running without snapshots and task bus", zap.Error(err))
	} else {
		service.WithSnapshots(redisSvc)
		taskBus = task.NewRedisBus(redisSvc)
		logger.Base().Info("redis snapshots and task bus initialized",
			zap.String("instance_id", cfg.InstanceID))
	}

	// Optional durable archive for finished calls.
	if repository.IsConfigured() {
		archive, err := repository.NewCallArchive(glogger.New(logger.GORMWriter{}, glogger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      glogger.Warn,
		}))
		if err != nil {
			logger.Base().Warn("failed to connect call archive, running in-memory only", zap.Error(err))
		} else {
			service.WithArchive(archive)
			logger.Base().Info("call archive initialized")
		}
	}

	// Optional per-call metrics via Pub/Sub.
	if cfg.PubSubProjectID != "" {
		pubsubSvc, err := pubsub.NewPubSubService(ctx, &pubsub.PubSubConfig{
			ProjectID: cfg.PubSubProjectID,
			TopicName: cfg.PubSubTopic,
			PubID:     cfg.InstanceID,
		})
		if err != nil {
			logger.Base().Warn("failed to initialize pubsub metrics", zap.Error(err))
		} else {
			service.WithMetrics(pubsubSvc)
			logger.Base().Info("call metrics publisher initialized")
		}
	}

	// End-of-call PDF reports.
	if cfg.ReportBucket != "" {
		service.WithReports(storage.NewReportGenerator(cfg.ReportBucket))
		logger.Base().Info("call reports enabled", zap.String("bucket", cfg.ReportBucket))
	}

	// Evicted records stay queryable via Redis snapshot and archive.
	tracker.SetEvictionHook(service.HandleEvictedRecord)
	go tracker.StartCleanupRoutine(ctx, 5*time.Minute, cfg.CallRetention)

	hm := &HandlerManager{
		config:     cfg,
		service:    service,
		tracker:    tracker,
		dispatcher: dispatcher,
		twilioSvc:  twilioSvc,
		taskBus:    taskBus,
	}

	if taskBus != nil {
		if err := hm.startTaskProcessor(ctx); err != nil {
			logger.Base().Error("failed to start task processor", zap.Error(err))
		}
	}

	return hm, nil
}

// SetupAllRoutes sets up all routes with middleware
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	router.Use(CORSMiddleware)
	router.Use(GlobalLoggingMiddleware)

	webhookHandler := NewWebhookHandler(hm.service, hm.twilioSvc, hm.config.PublicBaseURL)
	router.HandleFunc("/health", webhookHandler.HandleHealth).Methods("GET")

	// Provider-facing webhooks, rate limited per client IP.
	webhookRouter := router.PathPrefix("/webhook").Subrouter()
	webhookRouter.Use(RateLimitMiddleware(float64(hm.config.WebhookRateLimit), 0))
	webhookHandler.SetupWebhookRoutes(webhookRouter)

	livekitWebhookHandler := NewLiveKitWebhookHandler(hm.service)
	livekitWebhookHandler.SetupLiveKitWebhookRoutes(webhookRouter)

	// Management API behind the API key.
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(ValidationMiddleware)
	apiRouter.Use(APIKeyMiddleware(hm.config.SecretKey))
	callHandler := NewCallHandler(hm.service, hm.taskBus)
	callHandler.SetupCallRoutes(apiRouter)

	logger.Base().Info("all application routes registered")
}

// startTaskProcessor consumes distributed call tasks from the bus, letting
// any instance pick up queued outbound calls and completion events.
func (hm *HandlerManager) startTaskProcessor(ctx context.Context) error {
	return hm.taskBus.Subscribe(ctx, func(t task.CallTask) {
		switch t.Type {
		case task.TaskTypeOutboundCall:
			var req struct {
				PhoneNumber string       `json:"phone_number"`
				Metadata    domain.JSONB `json:"metadata"`
			}
			if err := json.Unmarshal(t.Payload, &req); err != nil {
				logger.Base().Error("invalid outbound call task", zap.Error(err))
				return
			}
			if _, err := hm.service.MakeOutboundCall(ctx, req.PhoneNumber, req.Metadata); err != nil {
				logger.Base().Error("queued outbound call failed",
					zap.String("phone_number", req.PhoneNumber), zap.Error(err))
			}
		case task.TaskTypeCallCompletion:
			var upd call.CompletionUpdate
			if err := json.Unmarshal(t.Payload, &upd); err != nil {
				logger.Base().Error("invalid completion task", zap.Error(err))
				return
			}
			if _, err := hm.service.HandleCompletion(ctx, t.CallID, upd); err != nil {
				logger.Base().Error("queued completion failed",
					zap.String("call_id", t.CallID), zap.Error(err))
			}
		default:
			logger.Base().Debug("unhandled task type", zap.String("type", string(t.Type)))
		}
	})
}

// GetService returns the telephony service
func (hm *HandlerManager) GetService() *call.TelephonyService {
	return hm.service
}

// TaskBus returns the distributed task bus, nil when Redis is unavailable.
func (hm *HandlerManager) TaskBus() task.Bus {
	return hm.taskBus
}

// Shutdown drains the notification dispatcher.
func (hm *HandlerManager) Shutdown() {
	hm.dispatcher.Close()
}
