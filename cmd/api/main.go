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

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/emochat/backend/internal/config"
	"github.com/zhouzirui/emochat/backend/internal/handler"
	"github.com/zhouzirui/emochat/backend/internal/logging"
	"github.com/zhouzirui/emochat/backend/internal/relay"
	"github.com/zhouzirui/emochat/backend/internal/service/account"
	"github.com/zhouzirui/emochat/backend/internal/service/avatar"
	"github.com/zhouzirui/emochat/backend/internal/service/chat"
	emotionservice "github.com/zhouzirui/emochat/backend/internal/service/emotion"
	"github.com/zhouzirui/emochat/backend/internal/service/history"
	"github.com/zhouzirui/emochat/backend/internal/storage"
	"github.com/zhouzirui/emochat/backend/internal/storage/memory"
	"github.com/zhouzirui/emochat/backend/internal/storage/sqlite"
)

// memoryStorePath selects the in-process store instead of a database file.
const memoryStorePath = "memory"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(logging.Config{
		Environment: cfg.Log.Environment,
		Level:       cfg.Log.Level,
		Service:     "emochat",
	})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if envErr != nil {
		logger.Warn("no .env file loaded, continuing with system environment", zap.Error(envErr))
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		logger.Fatal("failed to open storage", zap.String("path", cfg.Storage.Path), zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage", zap.Error(err))
		}
	}()

	var chatModel model.ChatModel
	if cfg.AI.Enabled() {
		chatModel, err = cfg.AI.NewChatModel(ctx)
		if err != nil {
			logger.Warn("failed to initialize Ark chat model, emotions default to neutral", zap.Error(err))
			chatModel = nil
		}
	} else {
		logger.Info("Ark credentials not configured, emotions default to neutral")
	}

	emotionSvc, err := emotionservice.NewService(ctx, chatModel, emotionservice.Config{
		ReasoningBudget: cfg.AI.ReasoningBudget,
		BreakerTimeout:  cfg.AI.BreakerTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize emotion classifier", zap.Error(err))
	}
	if emotionSvc.Enabled() {
		logger.Info("emotion classifier enabled", zap.String("model", cfg.AI.Model))
	}

	hub := relay.NewHub(logger)
	defer hub.Close()

	avatars := avatar.NewResolver(store, cfg.AI.DefaultAvatar, logger)

	pipeline, err := chat.NewService(chat.Dependencies{
		History:    history.NewProvider(store),
		Classifier: emotionSvc,
		Persister:  store,
		Avatars:    avatars,
		Users:      store,
		Hub:        hub,
	}, cfg.AI.HistoryLimit, logger)
	if err != nil {
		logger.Fatal("failed to assemble chat pipeline", zap.Error(err))
	}

	router := handler.NewRouter(handler.Services{
		Hub:      hub,
		Pipeline: pipeline,
		Store:    store,
		Accounts: account.NewService(store, logger),
		Avatars:  avatars,
	}, handler.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StaticDir:      cfg.Storage.StaticDir,
		Logger:         logger,
	})

	if err := startServer(ctx, cfg.Server, router, logger); err != nil {
		logger.Error("server error", zap.Error(err))
	}
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	if cfg.Path == memoryStorePath {
		return memory.NewStore(), nil
	}
	return sqlite.Open(cfg.Path)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("emochat backend listening", zap.String("addr", serverCfg.Addr))
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
