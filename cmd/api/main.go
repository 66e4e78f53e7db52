// Package main is the HTTP API of the LifeQuest progression hub.
//
// The API serves the computed XP, level and rank to the website, runs profile
// syncs on demand and accepts record-changed hooks from whatever writes the
// content collections.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/lifequest/lifequest-hub/config"
	"github.com/lifequest/lifequest-hub/internal/app"
	"github.com/lifequest/lifequest-hub/internal/application/eventhandler"
	"github.com/lifequest/lifequest-hub/internal/infrastructure/messaging"
	"github.com/lifequest/lifequest-hub/internal/interface/http"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := app.NewLogger(cfg)
	log.Info("starting LifeQuest API",
		"version", cfg.App.Version,
		"store", string(cfg.Store.Driver),
		"redis", cfg.RedisEnabled(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. BACKEND
	// ─────────────────────────────────────────────────────────────────────────
	backend, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing backend...")
		if err := backend.Close(); err != nil {
			log.Error("failed to close backend", "error", err)
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. RECORD-CHANGED SYNC
	// With Redis fan-out the worker owns write-triggered syncs; otherwise the
	// events never leave this process and the API runs them itself.
	// ─────────────────────────────────────────────────────────────────────────
	var onRecordChanged *eventhandler.OnRecordChangedHandler
	if !backend.Fanout && cfg.Features.IsEnabled(config.FeatureSyncOnRecordChange) {
		recordCfg := eventhandler.DefaultRecordChangedConfig()
		recordCfg.Debounce = cfg.Progression.SyncDebounce
		recordCfg.SyncTimeout = cfg.Progression.SyncTimeout
		onRecordChanged = eventhandler.NewOnRecordChangedHandler(backend.Syncer, log, recordCfg)
		handler := messaging.Chain(onRecordChanged.Handle, messaging.LoggingMiddleware(log))
		if err := messaging.SubscribeRecordEvents(backend.Bus, handler); err != nil {
			return fmt.Errorf("failed to subscribe record events: %w", err)
		}
		log.Info("record-changed sync enabled in process", "debounce", cfg.Progression.SyncDebounce)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	serverCfg := http.DefaultConfig()
	serverCfg.Host = cfg.Server.Host
	serverCfg.Port = cfg.Server.Port
	serverCfg.ReadTimeout = cfg.Server.ReadTimeout
	serverCfg.WriteTimeout = cfg.Server.WriteTimeout
	serverCfg.RequestTimeout = cfg.Server.RequestTimeout
	serverCfg.AllowedOrigins = cfg.Server.AllowedOrigins
	serverCfg.RateLimitPerMinute = cfg.Server.RateLimitPerMinute
	serverCfg.ShutdownTimeout = cfg.App.ShutdownTimeout
	serverCfg.Version = cfg.App.Version

	deps := http.Dependencies{
		Calculator:    backend.Calculator,
		Syncer:        backend.Syncer,
		Publisher:     backend.Bus,
		Logger:        app.NewRequestLogger(cfg),
		HealthChecker: backend.Health,
	}
	if backend.Progression != nil {
		deps.Progression = backend.Progression
	}

	server := http.NewServer(serverCfg, deps)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. SERVE UNTIL SIGNALLED
	// ─────────────────────────────────────────────────────────────────────────
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(sigCtx); err != nil {
		return err
	}

	log.Info("draining background syncs...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if onRecordChanged != nil {
		if err := onRecordChanged.Close(shutdownCtx); err != nil {
			log.Warn("pending syncs abandoned", "error", err, "pending", onRecordChanged.Pending())
		}
	}

	stats := backend.Bus.Stats()
	log.Info("event bus totals",
		"published", stats.Published,
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"success_rate", stats.SuccessRate(),
	)

	log.Info("shutdown completed", slog.Duration("uptime", server.Uptime()))
	return nil
}
