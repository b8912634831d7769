package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-gateway/internal/ai"
	"github.com/suPer8Hu/chat-gateway/internal/chat"
	"github.com/suPer8Hu/chat-gateway/internal/config"
	"github.com/suPer8Hu/chat-gateway/internal/conversation"
	"github.com/suPer8Hu/chat-gateway/internal/db"
	"github.com/suPer8Hu/chat-gateway/internal/httpapi"
	"github.com/suPer8Hu/chat-gateway/internal/logger"
	"github.com/suPer8Hu/chat-gateway/internal/store/rabbitmq"
	"github.com/suPer8Hu/chat-gateway/internal/usage"
	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()

	log, err := logger.Setup(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var gdb *gorm.DB
	if cfg.DBDSN != "" {
		gdb, err = db.Open(cfg.DBDSN)
		if err != nil {
			log.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		if err := usage.Migrate(gdb); err != nil {
			log.Error("usage migration failed", "error", err)
			os.Exit(1)
		}
		log.Info("database connected")
	}

	newStore, err := storeFactory(ctx, cfg, gdb, log)
	if err != nil {
		log.Error("conversation store init failed", "store", cfg.ConversationStore, "error", err)
		os.Exit(1)
	}

	recorder, closeRecorder := usageRecorder(cfg, gdb, log)
	defer closeRecorder()

	reg := ai.DefaultRegistry(
		ai.OpenAISettings{
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.OpenAIModel,
			MaxTokens:   cfg.OpenAIMaxTokens,
			Temperature: cfg.OpenAITemperature,
			BaseURL:     cfg.OpenAIBaseURL,
		},
		ai.GitHubModelsSettings{
			Token:       cfg.GitHubToken,
			Model:       cfg.GitHubModelsModel,
			MaxTokens:   cfg.GitHubModelsMaxTokens,
			Temperature: cfg.GitHubModelsTemperature,
			TopP:        cfg.GitHubModelsTopP,
			Endpoint:    cfg.GitHubModelsEndpoint,
		},
	)

	deps := httpapi.Deps{
		DiagnosticsEnabled: cfg.DiagnosticsEnabled,
		DiagnosticsSecret:  cfg.DiagnosticsSecret,
	}
	if gdb != nil {
		deps.Usage = usage.NewRepo(gdb)
	}
	if cfg.DiagnosticsEnabled && cfg.DiagnosticsSecret == "" {
		log.Warn("DIAGNOSTICS_ENABLED is set without DIAGNOSTICS_SECRET, testMessage stays unmounted")
	}

	for _, name := range reg.Names() {
		provider, err := reg.Get(ctx, name, "")
		if err != nil {
			// the group is still mounted, in the disabled state
			log.Error("provider disabled", "provider", name, "error", err)
			continue
		}

		store := newStore(name)
		if p, ok := store.(conversation.Pinger); ok {
			deps.Pingers = append(deps.Pingers, p)
		}

		opts := []chat.Option{
			chat.WithContextWindow(cfg.ChatContextWindowSize),
			chat.WithCallTimeout(cfg.ProviderTimeout),
			chat.WithLogger(log),
		}
		if recorder != nil {
			opts = append(opts, chat.WithUsageRecorder(recorder))
		}
		svc := chat.NewService(store, provider, opts...)

		switch name {
		case "openai":
			deps.OpenAI = svc
		case "githubmodels":
			deps.GitHubModels = svc
		}
		log.Info("provider ready", "provider", name, "model", provider.Model())
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout(cfg.ProviderTimeout),
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	}()

	log.Info("chat gateway listening", "addr", cfg.HTTPAddr, "store", cfg.ConversationStore)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

// writeTimeout leaves room for a full provider call. Without a provider
// deadline the server imposes none either.
func writeTimeout(provider time.Duration) time.Duration {
	if provider <= 0 {
		return 0
	}
	return provider + 15*time.Second
}

// storeFactory returns a constructor for per-provider conversation stores.
// Each provider gets its own namespace.
func storeFactory(ctx context.Context, cfg config.Config, gdb *gorm.DB, log *slog.Logger) (func(namespace string) conversation.Store, error) {
	switch cfg.ConversationStore {
	case "", "memory":
		return func(namespace string) conversation.Store {
			s := conversation.NewMemoryStore(
				conversation.WithMaxMessages(cfg.ConversationMaxMessages),
				conversation.WithIdleTTL(cfg.ConversationTTL),
			)
			go s.Run(ctx)
			return s
		}, nil

	case "redis":
		rdb, err := db.OpenRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		go func() {
			<-ctx.Done()
			_ = rdb.Close()
		}()
		log.Info("redis connected")
		return func(namespace string) conversation.Store {
			return conversation.NewRedisStore(rdb, namespace,
				conversation.WithRedisTTL(cfg.ConversationTTL),
				conversation.WithRedisMaxMessages(cfg.ConversationMaxMessages),
			)
		}, nil

	case "sql":
		if gdb == nil {
			return nil, errors.New("CONVERSATION_STORE=sql requires DB_DSN")
		}
		if err := conversation.Migrate(gdb); err != nil {
			return nil, err
		}
		return func(namespace string) conversation.Store {
			return conversation.NewSQLStore(gdb, namespace, cfg.ConversationMaxMessages)
		}, nil

	default:
		return nil, fmt.Errorf("unknown conversation store %q", cfg.ConversationStore)
	}
}

// usageRecorder prefers the RabbitMQ publisher and falls back to writing the
// ledger directly. Without either, usage is not recorded.
func usageRecorder(cfg config.Config, gdb *gorm.DB, log *slog.Logger) (chat.UsageRecorder, func()) {
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err == nil {
			log.Info("usage events go to rabbitmq", "queue", cfg.RabbitQueue)
			return pub, func() { _ = pub.Close() }
		}
		log.Warn("rabbitmq unavailable, falling back", "error", err)
	}
	if gdb != nil {
		log.Info("usage events go to the database")
		return usage.NewRepo(gdb), func() {}
	}
	log.Info("usage recording disabled")
	return nil, func() {}
}
