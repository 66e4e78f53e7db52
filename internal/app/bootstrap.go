// Package app wires the record store, the progression handlers and the
// optional Redis side into a Backend shared by every binary.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lifequest/lifequest-hub/config"
	"github.com/lifequest/lifequest-hub/internal/application/command"
	"github.com/lifequest/lifequest-hub/internal/application/query"
	"github.com/lifequest/lifequest-hub/internal/domain/content"
	"github.com/lifequest/lifequest-hub/internal/domain/shared"
	"github.com/lifequest/lifequest-hub/internal/infrastructure/messaging"
	"github.com/lifequest/lifequest-hub/internal/infrastructure/persistence/memory"
	"github.com/lifequest/lifequest-hub/internal/infrastructure/persistence/postgres"
	"github.com/lifequest/lifequest-hub/internal/infrastructure/persistence/redis"
	"github.com/lifequest/lifequest-hub/internal/infrastructure/persistence/resilient"
	"github.com/lifequest/lifequest-hub/internal/infrastructure/persistence/sqlite"
	"github.com/lifequest/lifequest-hub/internal/interface/http/handlers"
	"github.com/lifequest/lifequest-hub/pkg/circuitbreaker"
	"github.com/lifequest/lifequest-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BACKEND
// ══════════════════════════════════════════════════════════════════════════════

// EventBus is a closable publish/subscribe bus that counts its traffic.
type EventBus interface {
	shared.EventBus
	Stats() messaging.Stats
	Close() error
}

// Backend is everything a process needs to compute and sync progression.
type Backend struct {
	Store      content.RecordStore
	Calculator *query.ComputeTotalXPHandler
	Syncer     *command.SyncProfileHandler
	Bus        EventBus

	// Progression is nil when Redis is off or the cache flag is disabled.
	Progression *redis.ProgressionCache

	// Migrator is nil unless the store is postgres.
	Migrator *postgres.Migrator

	// Fanout is true when events travel between processes over Redis.
	Fanout bool

	Health *handlers.CompositeHealthChecker

	closers []func() error
}

// Open builds a Backend from cfg. On error everything opened so far is closed.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *Backend, err error) {
	if log == nil {
		log = slog.Default()
	}

	b := &Backend{Health: handlers.NewCompositeHealthChecker(cfg.App.Version)}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// Record store
	// ─────────────────────────────────────────────────────────────────────────
	store, err := b.openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	if cfg.Store.BreakerEnabled {
		guarded := resilient.NewRecordStore(store, nil, log)
		b.Health.AddOptionalCheck("store_breaker", func(context.Context) error {
			snap := guarded.Breaker().Snapshot()
			if snap.State == circuitbreaker.StateClosed {
				return nil
			}
			return fmt.Errorf("circuit %s since %s", snap.State, snap.OpenedAt.Format(time.RFC3339))
		})
		store = guarded
	}
	b.Store = store

	// ─────────────────────────────────────────────────────────────────────────
	// Redis: progression cache and event fan-out
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.RedisEnabled() {
		b.openRedis(ctx, cfg, log)
	}
	if b.Bus == nil {
		busConfig := messaging.DefaultInMemoryEventBusConfig()
		busConfig.Logger = log
		b.Bus = messaging.NewInMemoryEventBus(busConfig)
		b.closers = append(b.closers, b.Bus.Close)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Handlers
	// ─────────────────────────────────────────────────────────────────────────
	b.Calculator = query.NewComputeTotalXPHandler(b.Store, query.ComputeTotalXPConfig{
		FetchTimeout: cfg.Progression.FetchTimeout,
		Logger:       log,
	})

	syncConfig := command.SyncProfileHandlerConfig{Logger: log}
	if b.Progression != nil {
		syncConfig.Cache = b.Progression
	}
	b.Syncer = command.NewSyncProfileHandler(b.Store, b.Calculator, b.Bus, syncConfig)

	return b, nil
}

func (b *Backend) openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (content.RecordStore, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		conn, err := postgres.NewConnection(ctx, postgres.Config{
			URL:               cfg.Database.URL,
			MaxConns:          int32(cfg.Database.MaxConns),
			MinConns:          int32(cfg.Database.MinConns),
			MaxConnLifetime:   cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime:   cfg.Database.ConnMaxIdleTime,
			HealthCheckPeriod: time.Minute,
			ConnectTimeout:    cfg.Database.ConnectTimeout,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		b.closers = append(b.closers, func() error { conn.Close(); return nil })
		b.Health.AddCheck("postgres", handlers.NewPingCheck(conn))

		b.Migrator = postgres.NewMigrator(conn)
		if cfg.Database.AutoMigrate {
			n, err := b.Migrator.Migrate(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("database schema is up to date", "applied", n)
		}
		return postgres.NewRecordStore(conn), nil

	case config.StoreSQLite:
		db, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		if err := db.ApplySchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
		}
		b.Health.AddCheck("sqlite", handlers.NewPingCheck(db))
		return db, nil

	case config.StoreMemory:
		log.Warn("using the in-memory record store; nothing is persisted")
		store := memory.NewRecordStore()
		for _, collection := range []string{
			content.CollectionProfile, content.CollectionSkills, content.CollectionProjects,
			content.CollectionCertifications, content.CollectionExperiences,
			content.CollectionAchievements, content.CollectionCourses, content.CollectionHabits,
		} {
			store.CreateCollection(collection)
		}
		return store, nil
	}

	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// openRedis degrades to "no Redis" on any failure: the cache and the fan-out
// are both optional.
func (b *Backend) openRedis(ctx context.Context, cfg *config.Config, log *slog.Logger) {
	cache, err := redis.NewCache(ctx, redis.Config{
		URL:          cfg.Redis.URL,
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	}, log)
	if err != nil {
		log.Warn("failed to connect to Redis, continuing without it", "error", err)
		return
	}
	b.closers = append(b.closers, cache.Close)
	b.Health.AddOptionalCheck("redis", handlers.NewPingCheck(cache))

	if cfg.Features.IsEnabled(config.FeatureProgressionCache) {
		b.Progression = redis.NewProgressionCache(cache, redis.ProgressionCacheConfig{
			TTL:    cfg.Redis.ProgressionTTL,
			Logger: log,
		})
	}

	if cfg.Features.IsEnabled(config.FeatureRedisFanout) {
		pubsub := redis.NewPubSubClient(cache.Client())
		bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         pubsub,
			ChannelName:    cfg.Redis.EventsChannel,
			LocalBusConfig: messaging.DefaultInMemoryEventBusConfig(),
			Logger:         log,
		})
		if err != nil {
			log.Warn("failed to start Redis event fan-out, using in-process events", "error", err)
			return
		}
		b.Bus = bus
		b.Fanout = true
		b.closers = append(b.closers, bus.Close)
	}
}

// Close releases everything Open acquired, newest first.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGGING
// ══════════════════════════════════════════════════════════════════════════════

// NewLogger builds the process slog logger and installs it as the default.
func NewLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Observability.LogLevel)}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler).With("app", cfg.App.Name, "env", string(cfg.App.Environment))
	slog.SetDefault(log)
	return log
}

// NewRequestLogger builds the HTTP access logger with the same level and format.
func NewRequestLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Format = logger.Format(cfg.Observability.LogFormat)
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	return logger.New(opts)
}

func slogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
