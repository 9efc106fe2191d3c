// Package main is the entry point for the messaging API server.
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

	"github.com/lostfound/messaging/internal/cache"
	"github.com/lostfound/messaging/internal/config"
	"github.com/lostfound/messaging/internal/handler"
	natsclient "github.com/lostfound/messaging/internal/nats"
	"github.com/lostfound/messaging/internal/profile"
	"github.com/lostfound/messaging/internal/realtime"
	"github.com/lostfound/messaging/internal/service"
	"github.com/lostfound/messaging/internal/store"
	"github.com/lostfound/messaging/internal/store/memory"
	"github.com/lostfound/messaging/internal/store/postgres"
	"github.com/lostfound/messaging/pkg/logger"
	"github.com/lostfound/messaging/pkg/tracing"
)

const serviceName = "lostfound-messaging"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Load()
	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	if cfg.IsDevelopment() {
		return logger.NewDevelopment()
	}
	return logger.New(cfg.LogLevel)
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx := context.Background()

	log.Info("starting API server",
		zap.String("store", cfg.StoreDriver),
		zap.String("feed", cfg.FeedDriver),
	)

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	checks := map[string]handler.CheckFunc{}

	// Storage
	var (
		conversations store.ConversationStore
		messages      store.MessageStore
		profiles      profile.Provider
		memMessages   *memory.MessageStore
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		if cfg.RunMigrations {
			if err := postgres.Migrate(ctx, pool); err != nil {
				return err
			}
		}

		conversations = postgres.NewConversationStore(pool)
		messages = postgres.NewMessageStore(pool)
		profiles = profile.NewPostgresProvider(pool)
		checks["postgres"] = pool.Ping
	default:
		convs := memory.NewConversationStore()
		memMessages = memory.NewMessageStore(convs)
		conversations = convs
		messages = memMessages
		profiles = profile.NewStaticProvider()
		log.Warn("using in-memory storage; data is lost on restart")
	}

	// Profile cache
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rc.Close()
		profiles = profile.NewCached(profiles, rc, cfg.ProfileCacheTTL, log)
		checks["redis"] = rc.Ping
	}

	// Realtime feed
	var source realtime.Source
	switch cfg.FeedDriver {
	case config.DriverNATS:
		nc, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			Name:     serviceName,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return err
		}
		defer nc.Close()

		streams := natsclient.NewStreamManager(nc)
		if err := streams.EnsureStream(ctx); err != nil {
			return err
		}
		messages = natsclient.NewPublishingMessageStore(messages, streams, log)
		source = streams
		checks["nats"] = nc.Ping
	default:
		source = memMessages
	}

	// Services
	conversationSvc := service.NewConversationService(conversations, messages, profiles, log)
	messageSvc := service.NewMessageService(conversations, messages, log)
	rt := realtime.NewManager(source, log, realtime.DefaultOptions())

	router := handler.NewRouter(handler.RouterConfig{
		JWTSecret:       cfg.JWTSecret,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimit:       cfg.RateLimitRequests,
		RateLimitWindow: cfg.RateLimitWindow,
		RequestTimeout:  cfg.RequestTimeout,
	}, handler.Handlers{
		Health:        handler.NewHealthHandler(checks),
		Conversations: handler.NewConversationHandler(conversationSvc, log),
		Messages:      handler.NewMessageHandler(messageSvc, log),
		Stream:        handler.NewStreamHandler(messageSvc, conversationSvc, rt, log),
		Socket:        handler.NewSocketHandler(conversationSvc, messageSvc, rt, cfg.AllowedOrigins, log),
	}, log)

	// WriteTimeout stays zero by default so SSE and websocket sessions
	// are not cut off; per-request timeouts come from the router.
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ServerReadTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}
