package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"liveroom/internal/core/domain"
	"liveroom/internal/core/ports"
	"liveroom/internal/core/services"
	httphandlers "liveroom/internal/handlers/http"
	"liveroom/internal/infrastructure/backend"
	redischan "liveroom/internal/infrastructure/channels/redis"
	"liveroom/internal/infrastructure/middleware"
	"liveroom/internal/infrastructure/monitoring"
	"liveroom/internal/infrastructure/notify"
	"liveroom/internal/infrastructure/transport/pion"
	"liveroom/pkg/circuitbreaker"
	"liveroom/pkg/config"
	"liveroom/pkg/logger"
	"liveroom/pkg/retry"
	"liveroom/pkg/tracing"
	"liveroom/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

func main() {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/liveroom/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	ctxLog := logger.NewContextLogger(zapLogger)

	if cfg.Tracing.Enabled {
		tp, err := tracing.Init(tracing.Config{
			ServiceName: cfg.Tracing.ServiceName,
			JaegerURL:   cfg.Tracing.JaegerURL,
			SampleRate:  cfg.Tracing.SampleRate,
			Enabled:     true,
		})
		if err != nil {
			log.Fatalw("failed to initialize tracing", "error", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				log.Errorw("error shutting down tracer", "error", err)
			}
		}()
	}

	redisClient, err := redischan.NewClient(
		cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log,
	)
	if err != nil {
		log.Fatalw("failed to connect to redis", "error", err)
	}
	defer redischan.CloseClient(redisClient)

	signalChannel := redischan.NewSignalChannel(redisClient, log)
	notificationChannel := redischan.NewNotificationChannel(redisClient, log)

	tokens := services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.RoomTokenTTL)

	backendClient := backend.NewClient(backend.Config{
		BaseURL:    cfg.Backend.BaseURL,
		APIKey:     cfg.Backend.APIKey,
		GatewayURL: cfg.Backend.GatewayURL,
		Timeout:    cfg.Backend.RequestTimeout,
		Retry: retry.Config{
			MaxAttempts:  cfg.Backend.MaxRetries,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
		},
		Breaker: circuitbreaker.DefaultConfig(),
	}, tokens, log)
	defer backendClient.Close()

	transportConfig := pion.Config{}
	for _, s := range cfg.Transport.ICEServers {
		transportConfig.ICEServers = append(transportConfig.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(transportConfig.ICEServers) == 0 {
		transportConfig.ICEServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}
	transportConfig.PortRange.Min = cfg.Transport.PortRangeMin
	transportConfig.PortRange.Max = cfg.Transport.PortRangeMax
	transport := pion.NewRoomTransport(transportConfig, log)

	var metrics services.Metrics = services.NopMetrics()
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector()
	}

	stream := notify.NewWebSocketStream(notificationChannel, log)

	registry := httphandlers.NewCoordinatorRegistry(func(identity domain.Identity) *services.SessionLifecycleCoordinator {
		return services.NewSessionLifecycleCoordinator(
			backendClient, transport, signalChannel, notificationChannel, metrics, log, identity,
			services.CoordinatorConfig{
				CallRingTimeout:      cfg.Session.CallRingTimeout,
				HostGracePeriod:      cfg.Session.HostGracePeriod,
				QualityThreshold:     cfg.Session.QualityThreshold,
				MessagesPerSecond:    cfg.Session.MessagesPerSecond,
				MessageBurst:         cfg.Session.MessageBurst,
				NoiseFilterAvailable: cfg.Session.NoiseFilterEnabled,
			},
			coordinatorCallbacks(stream, identity, log),
		)
	})
	defer registry.Close()

	health := monitoring.NewHealthChecker()
	health.AddCheck("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}, 2*time.Second)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(ctxLog))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	httphandlers.NewAuthHandler(tokens).SetupRoutes(router)

	auth := middleware.AuthMiddleware(tokens)
	api := router.Group("/api/v1", auth)
	httphandlers.NewSessionHandler(registry).SetupRoutes(api)
	httphandlers.NewCallHandler(registry).SetupRoutes(api)
	httphandlers.NewGuestHandler(registry).SetupRoutes(api)

	httphandlers.NewSystemHandler(health, stream).SetupRoutes(router, auth, cfg.Monitoring.PrometheusEnabled)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("starting liveroom server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	stream.Shutdown(shutdownCtx)
	log.Info("liveroom server stopped")
}

// coordinatorCallbacks forwards server-local coordinator events to the
// user's notification stream so connected clients see host presence and
// session teardown without polling.
func coordinatorCallbacks(stream *notify.WebSocketStream, identity domain.Identity, log *zap.SugaredLogger) services.CoordinatorCallbacks {
	push := func(kind ports.NotificationKind, payload interface{}) {
		var raw json.RawMessage
		if payload != nil {
			raw, _ = json.Marshal(payload)
		}
		if err := stream.Push(identity.ID, ports.Notification{Kind: kind, Payload: raw}); err != nil {
			log.Warnw("failed to push notification", "user_id", identity.ID, "kind", kind, "error", err)
		}
	}

	return services.CoordinatorCallbacks{
		Call: services.CallCallbacks{
			OnCallEnded: func(reason domain.CallEndReason, duration time.Duration) {
				log.Infow("call ended", "user_id", identity.ID,
					"reason", reason, "duration", utils.FormatDuration(duration))
				push(ports.NotifyCallStatus, map[string]string{
					"status":   "ended",
					"reason":   string(reason),
					"duration": utils.FormatDuration(duration),
				})
			},
		},
		OnHostCountdown: func(remainingSeconds int) {
			push(ports.NotifyHostDisconnected, map[string]int{"remaining_seconds": remainingSeconds})
		},
		OnHostBack: func() {
			push(ports.NotifyHostReconnected, nil)
		},
		OnSessionTerminated: func() {
			push(ports.NotifySessionEnded, nil)
		},
	}
}
