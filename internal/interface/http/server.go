// Package http implements the LifeQuest REST API: progression reads for the
// website, manual profile syncs and the record-changed hook the CRUD layer
// calls after every write.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/lifequest/lifequest-hub/internal/application/command"
	"github.com/lifequest/lifequest-hub/internal/application/query"
	"github.com/lifequest/lifequest-hub/internal/domain/shared"
	"github.com/lifequest/lifequest-hub/internal/infrastructure/persistence/redis"
	"github.com/lifequest/lifequest-hub/internal/interface/http/handlers"
	"github.com/lifequest/lifequest-hub/pkg/logger"
)

// Config is the listener and request policy. Zero limits disable the
// corresponding middleware.
type Config struct {
	Host string
	Port int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	MaxBodyBytes       int64
	AllowedOrigins     []string
	RateLimitPerMinute int

	// Version is reported by /health.
	Version string
}

func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        60 * time.Second,
		RequestTimeout:     25 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		MaxBodyBytes:       64 << 10,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 120,
		Version:            "dev",
	}
}

func (c Config) addr() string { return net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) }

// XPCalculator computes a fresh XP breakdown.
type XPCalculator interface {
	Handle(ctx context.Context, q query.ComputeTotalXPQuery) (*query.ComputeTotalXPResult, error)
}

// ProfileSyncer runs a profile sync.
type ProfileSyncer interface {
	Handle(ctx context.Context, cmd command.SyncProfileCommand) (*command.SyncProfileResult, error)
}

// ProgressionReader reads the last synced progression of a profile.
type ProgressionReader interface {
	GetProgression(ctx context.Context, profileID string) (*redis.ProgressionSnapshot, error)
}

// Dependencies are the application services behind the routes. Calculator
// and Syncer are required.
type Dependencies struct {
	Calculator XPCalculator
	Syncer     ProfileSyncer

	// Progression is optional; without it profile reads always compute.
	Progression ProgressionReader

	// Publisher receives RecordChangedEvents from the record-changed hook.
	Publisher shared.EventPublisher

	Logger        *logger.Logger
	HealthChecker handlers.HealthChecker
}

// Server is the API. Build it with NewServer and drive it with Run, or mount
// Handler elsewhere.
type Server struct {
	config   Config
	deps     Dependencies
	logger   *logger.Logger
	validate *requestValidator
	handler  http.Handler
	started  time.Time
}

func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}
	if deps.Publisher == nil {
		deps.Publisher = shared.NoopPublisher{}
	}
	if deps.HealthChecker == nil {
		deps.HealthChecker = handlers.NewCompositeHealthChecker(config.Version)
	}

	s := &Server{
		config:   config,
		deps:     deps,
		logger:   deps.Logger.With(logger.Component("http")),
		validate: newValidator(),
		started:  time.Now(),
	}
	s.handler = handlers.Wrap(s.routes(), s.middleware()...)
	return s
}

// Handler is the routed and wrapped API.
func (s *Server) Handler() http.Handler { return s.handler }

// Uptime is the time since NewServer.
func (s *Server) Uptime() time.Duration { return time.Since(s.started) }

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /live", s.handleLive)

	mux.HandleFunc("GET /api/v1/progression", s.handleGetProgression)
	mux.HandleFunc("GET /api/v1/progression/tiers", s.handleGetTiers)
	mux.HandleFunc("GET /api/v1/profiles/{id}/progression", s.handleGetProfileProgression)
	mux.HandleFunc("POST /api/v1/profiles/{id}/sync", s.handleSyncProfile)
	mux.HandleFunc("POST /api/v1/records/changed", s.handleRecordChanged)
	return mux
}

// middleware is outermost first: panics are recovered once the request ID and
// access log are in place, and limits apply before any handler runs.
func (s *Server) middleware() []handlers.Middleware {
	var limiter *handlers.RateLimiter
	if s.config.RateLimitPerMinute > 0 {
		limiter = handlers.NewRateLimiter(s.config.RateLimitPerMinute, time.Minute)
	}
	return []handlers.Middleware{
		handlers.WithRequestID(s.logger),
		handlers.Recover(s.logger, writeJSONError),
		handlers.AccessLog,
		handlers.APIHeaders,
		handlers.CORS(s.config.AllowedOrigins),
		limiter.Middleware(writeJSONError),
		handlers.BodyLimit(s.config.MaxBodyBytes, writeJSONError),
		handlers.Deadline(s.config.RequestTimeout),
	}
}

// Run serves until ctx is cancelled, then lets in-flight requests finish for
// up to ShutdownTimeout. A failure to bind is returned at once.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	s.logger.Info("HTTP server listening", logger.String("address", ln.Addr().String()))

	select {
	case err := <-served:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	grace := s.config.ShutdownTimeout
	if grace <= 0 {
		grace = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	s.logger.Info("shutting down HTTP server", logger.Duration("grace", grace))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-served; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
