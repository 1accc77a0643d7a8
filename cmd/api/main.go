package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/avatharam/backend/internal/config"
	"github.com/zhouzirui/avatharam/backend/internal/handler"
	"github.com/zhouzirui/avatharam/backend/internal/httpclient"
	"github.com/zhouzirui/avatharam/backend/internal/logging"
	avatarModel "github.com/zhouzirui/avatharam/backend/internal/model/avatar"
	"github.com/zhouzirui/avatharam/backend/internal/service/ai"
	"github.com/zhouzirui/avatharam/backend/internal/service/audio"
	"github.com/zhouzirui/avatharam/backend/internal/service/avatar"
	"github.com/zhouzirui/avatharam/backend/internal/service/conversation"
	"github.com/zhouzirui/avatharam/backend/internal/service/speech"
	"github.com/zhouzirui/avatharam/backend/internal/viewer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	secretsPath := os.Getenv("SECRETS_FILE")
	if secretsPath == "" {
		secretsPath = "secrets.toml"
	}
	applied, err := config.LoadSecrets(secretsPath)
	if err != nil {
		log.Fatalf("failed to load secrets: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		if errors.Is(err, config.ErrMissingAvatarKey) {
			log.Fatalf("missing avatar credentials: %v", err)
		}
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	defer func() { _ = logger.Sync() }()
	if applied > 0 {
		logger.Info("secrets file applied", zap.String("path", secretsPath), zap.Int("keys", applied))
	}

	// Avatar vendor client shared by every conversation's session manager
	vendor := avatar.NewClient(httpclient.New(cfg.Avatar.Timeout), cfg.Avatar.BaseURL, cfg.Avatar.APIKey)
	newManager := func() *avatar.Manager {
		return avatar.NewManager(vendor, avatar.Options{
			Warmup:         cfg.Avatar.Warmup,
			SupersedeDelay: cfg.Avatar.SupersedeDelay,
			Logger:         logger.With(zap.String("component", "avatar")),
		})
	}

	// Speech-to-text bridge
	backends := speech.BuildBackends(cfg.Speech, logger)
	bridge := speech.NewBridge(backends, cfg.Speech.Timeout, logger.With(zap.String("component", "speech")))
	if len(backends) == 0 {
		logger.Warn("no speech backend configured, dictation will always report no speech")
	} else {
		logger.Info("speech backends ready", zap.Strings("backends", bridge.Backends()))
	}

	normalizer := audio.NewNormalizer(audio.FFmpeg{Path: cfg.Audio.FFmpegPath}, logger)

	// Chat is optional; without credentials the feature answers with a notice.
	var replier ai.Replier
	chatModel, err := ai.NewChatModel(ctx, cfg.Chat)
	switch {
	case errors.Is(err, ai.ErrChatDisabled):
		logger.Info("chat credentials not configured, chat disabled", zap.String("provider", cfg.Chat.Provider))
	case err != nil:
		logger.Error("failed to initialize chat model, chat disabled", err, zap.String("provider", cfg.Chat.Provider))
	default:
		svc, err := ai.NewService(ctx, chatModel, cfg.Chat.SystemPrompt, logger.With(zap.String("component", "chat")))
		if err != nil {
			logger.Error("failed to build chat chain, chat disabled", err)
		} else {
			replier = svc
			logger.Info("chat enabled", zap.String("provider", cfg.Chat.Provider))
		}
	}

	renderer, err := viewer.Load(cfg.Viewer.TemplatePath)
	if err != nil {
		logger.Error("failed to load viewer template", err)
		os.Exit(1)
	}

	avatars := avatarModel.NewMemoryStore(avatarModel.Seed())
	store := conversation.NewStore(avatars, newManager, conversation.Defaults{
		AvatarID: cfg.Avatar.AvatarID,
		VoiceID:  cfg.Avatar.VoiceID,
	}, logger)
	orchestrator := conversation.NewOrchestrator(conversation.Options{
		Chat:        replier,
		Speech:      bridge,
		Normalizer:  normalizer,
		ChatTimeout: cfg.Chat.Timeout,
		Logger:      logger,
	})

	router := handler.NewRouter(handler.Deps{
		Avatars:        avatars,
		Conversations:  store,
		Orchestrator:   orchestrator,
		Viewer:         renderer,
		SpeechBackends: bridge.Backends(),
		Logger:         logger,
	})

	if err := startServer(ctx, cfg.Server, router, logger); err != nil {
		logger.Error("server error", err)
	}

	// 进程退出前停止所有存活的数字人会话。
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Avatar.Timeout)
	defer cancel()
	stopped := store.Shutdown(shutdownCtx)
	logger.Info("avatar sessions stopped", zap.Int("count", stopped))
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger logging.Logger) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("avatharam backend listening", zap.String("addr", addr))
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
