package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/AustinEral/agent-reach/internal/api"
	"github.com/AustinEral/agent-reach/internal/api/middleware"
	"github.com/AustinEral/agent-reach/internal/config"
	"github.com/AustinEral/agent-reach/internal/handlers"
	"github.com/AustinEral/agent-reach/internal/mailbox"
	"github.com/AustinEral/agent-reach/internal/registry"
	"github.com/AustinEral/agent-reach/internal/router"
	"github.com/AustinEral/agent-reach/internal/session"
	"github.com/AustinEral/agent-reach/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Select the KV backend: Postgres in production, SQLite otherwise
	var kv store.KV
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		kv = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		kv = sqliteStore
		logger.Info().Msg("using SQLite store")
	}
	defer kv.Close()
	kv = store.Instrument(kv)

	// Optional Redis (rate limiting)
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Wire the relay core
	reg := registry.New(kv, logger)
	if err := reg.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("registry load failed")
	}

	mbox := mailbox.New(kv, logger, cfg.MailboxTTL, cfg.MailboxMaxDepth)
	if err := mbox.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("mailbox load failed")
	}
	mbox.StartSweeper(ctx, cfg.SweepInterval)

	sessions := session.NewManager(reg, mbox, logger, cfg.HeartbeatInterval)
	rtr := router.New(reg, mbox, sessions, logger, cfg.PushWait)

	// Create router
	h := handlers.NewHandler(reg, mbox, rtr, sessions, kv, redisStore)
	mux := api.NewRouter(logger, h, redisStore, middleware.RateLimiterConfig{
		Whitelist:        cfg.RateLimitWhitelist,
		AutoBlockEnabled: cfg.AutoBlockEnabled,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting agent-reach relay")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down relay...")

	// Close agent sessions first so in-flight messages revert cleanly
	sessions.CloseAll("server shutting down")
	stop()

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("relay stopped")
}
