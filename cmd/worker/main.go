// Package main is the background worker of the LifeQuest progression hub.
//
// The worker consumes record-changed events fanned out over Redis and runs a
// profile sync for each burst of them, and it periodically resyncs every
// profile row so a lost trigger never leaves a stale level behind.
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
	"github.com/lifequest/lifequest-hub/internal/domain/shared"
	"github.com/lifequest/lifequest-hub/internal/infrastructure/messaging"
	"github.com/lifequest/lifequest-hub/internal/infrastructure/scheduler"
	"github.com/lifequest/lifequest-hub/internal/infrastructure/scheduler/jobs"
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

	log := app.NewLogger(cfg).With("process", "worker")
	log.Info("starting LifeQuest worker",
		"version", cfg.App.Version,
		"store", string(cfg.Store.Driver),
		"timezone", cfg.App.Timezone,
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
	// 3. RECORD-CHANGED SYNC (Redis fan-out only)
	// ─────────────────────────────────────────────────────────────────────────
	var onRecordChanged *eventhandler.OnRecordChangedHandler
	switch {
	case !backend.Fanout:
		log.Info("no Redis fan-out; record-changed syncs run in the API process")
	case !cfg.Features.IsEnabled(config.FeatureSyncOnRecordChange):
		log.Info("record-changed sync disabled by feature flag")
	default:
		recordCfg := eventhandler.DefaultRecordChangedConfig()
		recordCfg.Debounce = cfg.Progression.SyncDebounce
		recordCfg.SyncTimeout = cfg.Progression.SyncTimeout
		onRecordChanged = eventhandler.NewOnRecordChangedHandler(backend.Syncer, log, recordCfg)
		handler := messaging.Chain(onRecordChanged.Handle,
			messaging.LoggingMiddleware(log),
			messaging.FilterMiddleware(func(shared.Event) bool {
				return cfg.Features.IsEnabled(config.FeatureSyncOnRecordChange)
			}),
		)
		if err := messaging.SubscribeRecordEvents(backend.Bus, handler); err != nil {
			return fmt.Errorf("failed to subscribe record events: %w", err)
		}
		log.Info("consuming record-changed events", "channel", cfg.Redis.EventsChannel)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	stopStartupResync := func() {}
	if cfg.Scheduler.Enabled {
		schedule, err := cfg.Scheduler.Schedule()
		if err != nil {
			return fmt.Errorf("invalid resync schedule: %w", err)
		}

		sched = scheduler.NewScheduler(scheduler.SchedulerConfig{
			Logger:   log,
			Timezone: cfg.App.Location,
		})

		resync := jobs.NewResyncProfilesJob(backend.Store, backend.Syncer, log, jobs.ResyncProfilesConfig{
			Concurrency: cfg.Scheduler.ResyncConcurrency,
			Timeout:     cfg.Scheduler.JobTimeout,
		})
		if err := sched.Register(&flaggedJob{Job: resync, flags: cfg.Features, flag: config.FeatureScheduledResync, log: log}, schedule); err != nil {
			return fmt.Errorf("failed to register resync job: %w", err)
		}

		sched.OnJobComplete(func(result scheduler.JobResult) {
			if !result.Success {
				log.Warn("job failed", "job", result.JobName, "error", result.Error, "duration", result.Duration)
			}
		})

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		if cfg.Scheduler.RunOnStart {
			startupCtx, cancelStartup := context.WithCancel(ctx)
			startupDone := make(chan struct{})
			go func() {
				defer close(startupDone)
				_, err := sched.RunNow(startupCtx, resync.Name())
				if err != nil && !errors.Is(err, scheduler.ErrJobRunning) {
					log.Warn("startup resync failed", "error", err)
				}
			}()
			stopStartupResync = func() {
				cancelStartup()
				<-startupDone
			}
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("LifeQuest worker is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	stopStartupResync()
	if sched != nil {
		if err := sched.Stop(); err != nil {
			log.Error("scheduler stop failed", "error", err)
		}
	}

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

	log.Info("shutdown completed successfully")
	return nil
}

// flaggedJob skips runs while its feature flag is off, so the resync can be
// paused or windowed without a restart.
type flaggedJob struct {
	scheduler.Job
	flags *config.FeatureFlags
	flag  string
	log   *slog.Logger
}

func (j *flaggedJob) Run(ctx context.Context) error {
	if !j.flags.IsEnabled(j.flag) {
		j.log.Debug("job skipped by feature flag", "job", j.Name(), "flag", j.flag)
		return nil
	}
	return j.Job.Run(ctx)
}
