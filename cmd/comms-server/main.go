package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"forum-comms/internal/api"
	"forum-comms/internal/chat"
	"forum-comms/internal/common/auth"
	awsclient "forum-comms/internal/common/aws"
	"forum-comms/internal/common/config"
	"forum-comms/internal/common/crypto"
	"forum-comms/internal/common/database"
	"forum-comms/internal/common/logger"
	"forum-comms/internal/common/observability"
	"forum-comms/internal/common/validation"
	"forum-comms/internal/directory"
	"forum-comms/internal/hub"
	"forum-comms/internal/notification"
	"forum-comms/internal/workers/notification/dispatch"
	"forum-comms/pkg/registry"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync() //nolint:errcheck
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting comms server...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.Observability.ServiceName, cfg.Observability.JaegerEndpoint, zapLog)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Stores ---
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		zapLog.Fatal("postgres init failed", zap.Error(err))
	}
	defer pg.Close()
	err = retryWithBackoff(func() error {
		return pg.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Postgres connection")
	if err != nil {
		zapLog.Fatal("postgres unavailable", zap.Error(err))
	}
	if err := database.Migrate(ctx, pg.DB); err != nil {
		zapLog.Fatal("schema migration failed", zap.Error(err))
	}

	rdb, err := database.NewRedis(cfg.Database.Redis)
	if err != nil {
		zapLog.Fatal("redis init failed", zap.Error(err))
	}
	defer rdb.Close()
	err = retryWithBackoff(func() error {
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis unavailable", zap.Error(err))
	}

	bdb, err := database.NewBadger(cfg.Database.Badger)
	if err != nil {
		zapLog.Fatal("badger open failed", zap.Error(err))
	}
	defer bdb.Close()

	key, err := cfg.Crypto.Key()
	if err != nil {
		zapLog.Fatal("message key invalid", zap.Error(err))
	}
	cipher, err := crypto.NewCipher(key)
	if err != nil {
		zapLog.Fatal("message cipher init failed", zap.Error(err))
	}
	chatStore, err := chat.NewBadgerStore(bdb, cipher, log)
	if err != nil {
		zapLog.Fatal("chat store init failed", zap.Error(err))
	}
	defer chatStore.Close()

	// --- Directories and notification services ---
	users := directory.NewUserDirectory(pg.DB, rdb.Client, log)
	profiles := directory.NewProfileDirectory(pg.DB)

	policy, err := registry.LoadPolicy(cfg.Notifications.PolicyPath)
	if err != nil {
		zapLog.Fatal("notification policy load failed", zap.Error(err))
	}
	notifStore := notification.NewStore(pg.DB)
	notifService := notification.NewService(notifStore, profiles, cfg.App.SiteURL, log)
	resolver := notification.NewResolver(policy, notifStore, profiles, users, chatStore, log)

	// --- Live hub ---
	liveHub := hub.NewHub(rdb.Client, cfg.Hub.RelayChannel, log)
	go func() {
		if err := liveHub.Run(ctx); err != nil {
			zapLog.Error("hub relay stopped", zap.Error(err))
		}
	}()

	// --- Dispatch worker pool ---
	dispatchCfg := dispatch.LoadConfig(cfg)
	deps := dispatch.Deps{
		Notifications: notifService,
		Records:       notifStore,
		Resolver:      resolver,
		Profiles:      profiles,
		Users:         users,
		Messages:      chatStore,
		Hub:           liveHub,
		Redis:         rdb.Client,
		Observability: obs,
	}
	if dispatchCfg.EmailEnabled {
		sesClient, err := awsclient.NewSESClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("ses client init failed", zap.Error(err))
		}
		deps.SES = sesClient
	}
	if dispatchCfg.SNSEnabled {
		snsClient, err := awsclient.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client init failed", zap.Error(err))
		}
		deps.SNS = snsClient
	}
	pool := dispatch.NewPool(dispatchCfg, dispatch.NewHandler(dispatchCfg, deps, log), log)
	// Workers outlive the signal context so Stop can drain the queue.
	pool.Start(context.Background())

	// --- Chat commands ---
	createMessage := chat.NewCreateMessageCommand(chatStore, users, chat.EmitterNotifier{Emitter: pool}, log)
	roomQuery := chat.NewChatRoomQuery(chatStore)

	frames, err := validation.NewChatFrameValidator()
	if err != nil {
		zapLog.Fatal("chat frame schema invalid", zap.Error(err))
	}
	validator := auth.NewTokenValidator(cfg.Auth.JWT.Secret, cfg.Auth.JWT.Issuer)
	ws := hub.NewHandler(liveHub, validator, roomQuery, createMessage, frames,
		hub.LoadConnConfig(cfg.Hub), cfg.HTTP.AllowedOrigins, log)

	server := api.NewServer(api.Deps{
		Auth:          validator,
		CreateRoom:    chat.NewCreateChatCommand(chatStore, log),
		Rooms:         roomQuery,
		UserRooms:     chat.NewUserRoomsQuery(chatStore),
		Messages:      chat.NewMessageQuery(chatStore),
		SendMessage:   createMessage,
		MarkRead:      chat.NewMarkMessageReadCommand(chatStore),
		Live:          liveHub,
		Notifications: notifService,
		Preferences:   notifStore,
		Users:         users,
		Policy:        policy,
		Emitter:       pool,
		WebSockets:    ws,
		Checks: map[string]api.Checker{
			"postgres": pg,
			"redis":    rdb,
		},
		Version: cfg.App.Version,
	}, log)

	httpServer := &http.Server{
		Addr:        cfg.HTTP.Address,
		Handler:     server.Router(cfg.HTTP.AllowedOrigins),
		ReadTimeout: config.GetDuration(cfg.HTTP.ReadTimeout),
		IdleTimeout: config.GetDuration(cfg.HTTP.IdleTimeout),
		// No WriteTimeout: it would cut long-lived websocket connections.
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.HTTP.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, draining...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		zapLog.Error("dispatch pool did not drain", zap.Error(err))
	}

	zapLog.Info("Comms server stopped gracefully")
}
