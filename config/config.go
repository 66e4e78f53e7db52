// Package config loads the LifeQuest configuration from environment variables.
// A .env file, when present, is applied by the binaries before Load.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/lifequest/lifequest-hub/internal/infrastructure/scheduler"
)

// Environment is the deployment stage.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// StoreDriver selects the record store backend.
type StoreDriver string

const (
	// StorePostgres is the hosted (Supabase) database.
	StorePostgres StoreDriver = "postgres"

	// StoreSQLite is a local single-file database for offline use.
	StoreSQLite StoreDriver = "sqlite"

	// StoreMemory keeps everything in process. Development only.
	StoreMemory StoreDriver = "memory"
)

// Config is the whole runtime configuration.
type Config struct {
	App           AppConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Store         StoreConfig
	Progression   ProgressionConfig
	Server        ServerConfig
	Scheduler     SchedulerConfig
	Features      *FeatureFlags
	Observability ObservabilityConfig
}

type AppConfig struct {
	Name        string
	Environment Environment
	Debug       bool
	Version     string

	// Timezone names the zone cron schedules are evaluated in.
	Timezone string
	Location *time.Location

	ShutdownTimeout time.Duration
}

// DatabaseConfig is the Postgres pool. URL is built from DB_HOST and friends
// when DATABASE_URL is unset.
type DatabaseConfig struct {
	URL string

	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration

	AutoMigrate bool
}

// RedisConfig configures the progression cache and the event fan-out.
// URL takes precedence over Host/Port.
type RedisConfig struct {
	URL      string
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Disabled runs with in-process events and no cache.
	Disabled bool

	EventsChannel  string
	ProgressionTTL time.Duration
}

type StoreConfig struct {
	Driver         StoreDriver
	SQLitePath     string
	BreakerEnabled bool
}

// ProgressionConfig tunes the aggregator and the write-triggered sync.
type ProgressionConfig struct {
	// FetchTimeout bounds each collection read.
	FetchTimeout time.Duration

	// SyncDebounce coalesces bursts of record changes into one sync.
	SyncDebounce time.Duration

	SyncTimeout time.Duration

	// ProfileID targets a specific profile row; empty uses the singleton.
	ProfileID string
}

type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	RequestTimeout     time.Duration
	AllowedOrigins     []string
	RateLimitPerMinute int
}

type SchedulerConfig struct {
	Enabled bool

	// ResyncSchedule is a duration ("15m"), "@every 15m" or a 5-field cron expression.
	ResyncSchedule string

	// ResyncConcurrency bounds concurrent profile syncs inside one run.
	ResyncConcurrency int

	// RunOnStart makes the worker resync once at boot instead of waiting for
	// the first due time.
	RunOnStart bool

	JobTimeout time.Duration
}

// Schedule parses ResyncSchedule.
func (s SchedulerConfig) Schedule() (scheduler.Schedule, error) {
	return scheduler.ParseSchedule(s.ResyncSchedule)
}

type ObservabilityConfig struct {
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text
}

// Load reads the environment. Malformed values and inconsistent settings are
// reported together in one error.
func Load() (*Config, error) {
	var env envReader

	appEnv := Environment(strings.ToLower(env.str("APP_ENV", string(EnvDevelopment))))
	tz := env.str("APP_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		env.fail("APP_TIMEZONE", tz, err)
		loc = time.UTC
	}

	cfg := &Config{
		App: AppConfig{
			Name:            env.str("APP_NAME", "lifequest-hub"),
			Environment:     appEnv,
			Debug:           env.bool("APP_DEBUG", appEnv == EnvDevelopment),
			Version:         env.str("APP_VERSION", "0.1.0"),
			Timezone:        tz,
			Location:        loc,
			ShutdownTimeout: env.duration("APP_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:             databaseURL(&env),
			MaxConns:        env.int("DB_MAX_CONNS", 10),
			MinConns:        env.int("DB_MIN_CONNS", 1),
			ConnMaxLifetime: env.duration("DB_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime: env.duration("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
			ConnectTimeout:  env.duration("DB_CONNECT_TIMEOUT", 10*time.Second),
			AutoMigrate:     env.bool("DB_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			URL:            env.str("REDIS_URL", ""),
			Host:           env.str("REDIS_HOST", "localhost"),
			Port:           env.int("REDIS_PORT", 6379),
			Password:       env.str("REDIS_PASSWORD", ""),
			DB:             env.int("REDIS_DB", 0),
			PoolSize:       env.int("REDIS_POOL_SIZE", 10),
			MinIdleConns:   env.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:    env.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:    env.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:   env.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			Disabled:       env.bool("REDIS_DISABLED", false),
			EventsChannel:  env.str("REDIS_EVENTS_CHANNEL", "lifequest:events"),
			ProgressionTTL: env.duration("REDIS_PROGRESSION_TTL", 24*time.Hour),
		},
		Store: StoreConfig{
			Driver:         StoreDriver(strings.ToLower(env.str("STORE_DRIVER", string(StorePostgres)))),
			SQLitePath:     env.str("SQLITE_PATH", "lifequest.db"),
			BreakerEnabled: env.bool("STORE_BREAKER_ENABLED", true),
		},
		Progression: ProgressionConfig{
			FetchTimeout: env.duration("PROGRESSION_FETCH_TIMEOUT", 10*time.Second),
			SyncDebounce: env.duration("PROGRESSION_SYNC_DEBOUNCE", 500*time.Millisecond),
			SyncTimeout:  env.duration("PROGRESSION_SYNC_TIMEOUT", 30*time.Second),
			ProfileID:    env.str("PROGRESSION_PROFILE_ID", ""),
		},
		Server: ServerConfig{
			Host:               env.str("SERVER_HOST", "0.0.0.0"),
			Port:               env.int("SERVER_PORT", 8080),
			ReadTimeout:        env.duration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:       env.duration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			RequestTimeout:     env.duration("SERVER_REQUEST_TIMEOUT", 25*time.Second),
			AllowedOrigins:     env.list("SERVER_ALLOWED_ORIGINS", []string{"*"}),
			RateLimitPerMinute: env.int("SERVER_RATE_LIMIT", 120),
		},
		Scheduler: SchedulerConfig{
			Enabled:           env.bool("SCHEDULER_ENABLED", true),
			ResyncSchedule:    env.str("SCHEDULER_RESYNC_INTERVAL", "15m"),
			ResyncConcurrency: env.int("SCHEDULER_RESYNC_CONCURRENCY", 4),
			RunOnStart:        env.bool("SCHEDULER_RUN_ON_START", true),
			JobTimeout:        env.duration("SCHEDULER_JOB_TIMEOUT", 5*time.Minute),
		},
		Features: loadFeatureFlags(&env),
		Observability: ObservabilityConfig{
			LogLevel:  strings.ToLower(env.str("LOG_LEVEL", "info")),
			LogFormat: strings.ToLower(env.str("LOG_FORMAT", "json")),
		},
	}

	problems := append(env.problems, cfg.problems()...)
	if len(problems) > 0 {
		return nil, fmt.Errorf("config validation: %w", joinProblems(problems))
	}
	return cfg, nil
}

// databaseURL assembles a Supabase-style URL from parts when DATABASE_URL is
// unset. Both DB_HOST and DB_USER are needed.
func databaseURL(env *envReader) string {
	if u := env.str("DATABASE_URL", ""); u != "" {
		return u
	}
	host, user := env.str("DB_HOST", ""), env.str("DB_USER", "")
	if host == "" || user == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, env.str("DB_PASSWORD", "")),
		Host:     net.JoinHostPort(host, env.str("DB_PORT", "5432")),
		Path:     "/" + env.str("DB_NAME", "postgres"),
		RawQuery: "sslmode=" + env.str("DB_SSLMODE", "require"),
	}
	return u.String()
}

// Validate re-checks a Config assembled by hand, e.g. in tests.
func (c *Config) Validate() error {
	if p := c.problems(); len(p) > 0 {
		return joinProblems(p)
	}
	return nil
}

func (c *Config) problems() []string {
	var out []string
	add := func(format string, args ...any) { out = append(out, fmt.Sprintf(format, args...)) }

	switch c.Store.Driver {
	case StorePostgres:
		if c.Database.URL == "" {
			add("DATABASE_URL (or DB_HOST and DB_USER) is required for STORE_DRIVER=postgres")
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			add("SQLITE_PATH is required for STORE_DRIVER=sqlite")
		}
	case StoreMemory:
		if c.App.Environment == EnvProduction {
			add("STORE_DRIVER=memory is not allowed in production")
		}
	default:
		add("STORE_DRIVER must be postgres, sqlite or memory, got %q", c.Store.Driver)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("SERVER_PORT must be 1-65535")
	}
	if c.Progression.SyncDebounce < 0 {
		add("PROGRESSION_SYNC_DEBOUNCE must not be negative")
	}
	if c.Scheduler.Enabled {
		if _, err := c.Scheduler.Schedule(); err != nil {
			add("SCHEDULER_RESYNC_INTERVAL: %v", err)
		}
		if c.Scheduler.ResyncConcurrency < 1 {
			add("SCHEDULER_RESYNC_CONCURRENCY must be at least 1")
		}
	}
	if f := c.Observability.LogFormat; f != "json" && f != "text" {
		add("LOG_FORMAT must be json or text")
	}
	return out
}

func joinProblems(p []string) error {
	return errors.New("configuration errors:\n  - " + strings.Join(p, "\n  - "))
}

// RedisEnabled reports whether Redis should be dialled at all.
func (c *Config) RedisEnabled() bool {
	return !c.Redis.Disabled && (c.Redis.URL != "" || c.Redis.Host != "")
}
