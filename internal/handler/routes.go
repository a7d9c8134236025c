package handler

import (
	"context"
	"strings"

	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/adapters/realtime"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/config"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/broadcast"
	corecall "github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/call"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/event"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/retry"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/session"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/task"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/core/tool"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/repository"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/services/call"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/internal/services/summary"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/gcs"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/pubsub"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/redis"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/registration"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/supabase"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/twilio"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HandlerManager manages all handlers and their initialization
type HandlerManager struct {
	config   *config.CallerConfig
	service  *call.CallService
	registry *corecall.Registry
	hub      *broadcast.Hub
	voice    *twilio.VoiceClient
	retry    *retry.Scheduler
	bus      *event.DefaultEventBus
	queue    *task.Queue

	// optional collaborators, nil when not configured
	redisSvc       *redis.RedisService
	sessionManager *session.Manager
	repoManager    repository.RepositoryManager
	pubsubService  *pubsub.PubSubService
	gcsClient      *gcs.GCSClient
}

// NewHandlerManager creates and initializes all handlers and services.
// Optional backends that fail to initialize are logged and skipped.
func NewHandlerManager(ctx context.Context, cfg *config.CallerConfig) (*HandlerManager, error) {
	hm := &HandlerManager{config: cfg}

	hm.queue = task.NewQueue(cfg.TaskQueueWorkers, cfg.TaskQueueCapacity, cfg.TaskTimeout)
	hm.bus = event.NewEventBus()
	hm.bus.Use(event.LoggingMiddleware)
	hm.bus.Use(event.ValidationMiddleware)

	var pending session.PendingStore = session.NewMemoryPendingStore()
	var counters retry.CounterStore = retry.NewMemoryCounterStore()
	if cfg.RedisHost != "" {
		redisSvc, err := redis.NewRedisService(&redis.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			logger.Base().Warn("failed to initialize redis service, running single-pod", zap.Error(err))
		} else {
			hm.redisSvc = redisSvc
			pending = session.NewRedisPendingStore(redisSvc)
			counters = retry.NewRedisCounterStore(redisSvc, session.SessionTTL)
			hm.sessionManager = session.NewManager(redisSvc, cfg.InstanceID)
			if err := hm.sessionManager.Attach(hm.bus); err != nil {
				return nil, err
			}
			logger.Base().Info("session manager initialized", zap.String("pod_id", cfg.InstanceID))
		}
	}

	hm.voice = twilio.NewVoiceClient(twilio.VoiceConfig{
		AccountSID:        cfg.TwilioAccountSID,
		AuthToken:         cfg.TwilioAuthToken,
		FromNumber:        cfg.TwilioFromNumber,
		HumanAgentNumber:  cfg.HumanAgentNumber,
		MediaStreamURL:    cfg.MediaStreamURL(),
		StatusCallbackURL: cfg.StatusCallbackURL(),
	})
	var controller corecall.CallController
	if hm.voice.Enabled() {
		controller = hm.voice
	} else {
		logger.Base().Warn("twilio credentials missing, transfer and hang-up are disabled")
	}
	hm.retry = retry.NewScheduler(counters, hm.voice, cfg.RetryDelay, cfg.RetryMaxAttempts)

	var registrar *registration.Client
	if cfg.RegistrationBaseURL != "" {
		registrar = registration.NewClient(cfg.RegistrationBaseURL, cfg.RegistrationUsername, cfg.RegistrationPassword)
	}
	tools := tool.NewToolManager(nil)
	if registrar != nil {
		tools = tool.NewToolManager(registrar)
	}

	hubOpts := []broadcast.HubOption{broadcast.WithSubmitter(hm.queue)}
	if writer := hm.transcriptWriter(cfg); writer != nil {
		hubOpts = append(hubOpts, broadcast.WithTranscriptWriter(writer))
	}
	if registrar != nil {
		hubOpts = append(hubOpts, broadcast.WithRegistrar(registrar))
	}
	hm.hub = broadcast.NewHub(hubOpts...)

	hm.registry = corecall.NewRegistry(corecall.Deps{
		Broadcaster: hm.hub,
		Controller:  controller,
		Tools:       tools,
		Events:      hm.bus,
		Timing:      cfg.Timing,
		Session: corecall.SessionConfig{
			Instructions: cfg.SystemInstructions,
			Voice:        cfg.Voice,
			AudioFormat:  config.DefaultAudioFormat,
		},
	})
	hm.hub.SetSessions(hm.registry)

	dialer := call.RealtimeDialer{Config: realtime.Config{
		URL:    cfg.RealtimeURL,
		Model:  cfg.Model,
		APIKey: cfg.OpenAIAPIKey,
	}}
	hm.service = call.NewCallService(hm.registry, pending, dialer, hm.hub)

	hm.setupSummaryExport(ctx, cfg)

	return hm, nil
}

// transcriptWriter picks the persistence driver.
func (hm *HandlerManager) transcriptWriter(cfg *config.CallerConfig) broadcast.TranscriptWriter {
	switch cfg.PersistenceDriver {
	case config.PersistenceDriverPostgres:
		repoManager, err := repository.NewRepositoryManager()
		if err != nil {
			logger.Base().Error("failed to connect to database, transcripts will not be stored", zap.Error(err))
			return nil
		}
		hm.repoManager = repoManager
		return repoManager.Transcripts()
	case config.PersistenceDriverSupabase:
		store, err := supabase.New(supabase.Config{URL: cfg.SupabaseURL, APIKey: cfg.SupabaseKey})
		if err != nil {
			logger.Base().Error("failed to create supabase client, transcripts will not be stored", zap.Error(err))
			return nil
		}
		return store
	default:
		logger.Base().Info("transcript persistence disabled", zap.String("driver", cfg.PersistenceDriver))
		return nil
	}
}

func (hm *HandlerManager) setupSummaryExport(ctx context.Context, cfg *config.CallerConfig) {
	var publisher summary.Publisher
	var uploader summary.Uploader

	if cfg.PubSubProjectID != "" {
		svc, err := pubsub.NewPubSubService(ctx, &pubsub.PubSubConfig{
			ProjectID: cfg.PubSubProjectID,
			TopicName: cfg.PubSubTopic,
		})
		if err != nil {
			logger.Base().Warn("failed to initialize pubsub, summaries will not be published", zap.Error(err))
		} else {
			hm.pubsubService = svc
			publisher = svc
		}
	}
	if cfg.TranscriptBucket != "" {
		client, err := gcs.NewGCSClient(ctx, cfg.TranscriptBucket)
		if err != nil {
			logger.Base().Warn("failed to initialize gcs, transcripts will not be archived", zap.Error(err))
		} else {
			hm.gcsClient = client
			uploader = client
		}
	}
	if publisher == nil && uploader == nil {
		return
	}

	exporter := summary.NewExporter(publisher, uploader, hm.queue)
	if err := exporter.Attach(hm.bus); err != nil {
		logger.Base().Warn("failed to attach summary exporter", zap.Error(err))
	}
}

// SetupAllRoutes sets up all routes with middleware
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	if hm.config.EnableCORS {
		router.Use(CORSMiddleware)
	}
	router.Use(GlobalLoggingMiddleware)

	var placer CallPlacer = hm.voice
	NewVoiceHandler(hm.service, hm.retry, placer, hm.config.MediaStreamURL(), hm.config.TwilioAuthToken, hm.publicBaseURL()).
		SetupVoiceRoutes(router)
	NewMediaStreamHandler(hm.service).SetupMediaStreamRoutes(router)
	NewObserverHandler(hm.hub, hm.config.ObserverJWTSecret, hm.config.ObserverMessageRate).SetupObserverRoutes(router)

	var notifier HangupNotifier
	if hm.sessionManager != nil {
		notifier = hm.sessionManager
	}
	NewSessionHandler(hm.registry, hm.service, notifier, hm.config.InstanceID).
		WithEventStats(hm.bus).
		SetupSessionRoutes(router)

	logger.Base().Info("all application routes registered")
}

func (hm *HandlerManager) publicBaseURL() string {
	host := hm.config.PublicHost
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	return "https://" + host
}

// StartBackground subscribes to cross-pod hang-up requests until ctx ends.
func (hm *HandlerManager) StartBackground(ctx context.Context) {
	if hm.sessionManager == nil {
		return
	}
	go func() {
		err := hm.sessionManager.SubscribeToHangup(ctx, func(streamSID string) {
			if hm.service.HangupLocal(streamSID) {
				logger.Base().Info("Ended call on hang-up request", zap.String("stream_sid", streamSID))
			}
		})
		if err != nil && ctx.Err() == nil {
			logger.Base().Error("hang-up subscription stopped", zap.Error(err))
		}
	}()
}

// Shutdown ends live calls, then drains side-effect work and closes backends.
func (hm *HandlerManager) Shutdown() {
	hm.service.Shutdown()
	hm.retry.Stop()
	// bus handlers enqueue exports, so the bus drains before the queue
	_ = hm.bus.Close()
	hm.queue.Close()

	if hm.pubsubService != nil {
		_ = hm.pubsubService.Close()
	}
	if hm.gcsClient != nil {
		_ = hm.gcsClient.Close()
	}
	if hm.repoManager != nil {
		_ = hm.repoManager.Close()
	}
	if hm.redisSvc != nil {
		_ = hm.redisSvc.Close()
	}
}

func (hm *HandlerManager) GetService() *call.CallService {
	return hm.service
}
