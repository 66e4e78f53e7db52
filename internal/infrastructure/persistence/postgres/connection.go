// Package postgres implements the PostgreSQL record store.
// The hosted database is Supabase Postgres; a plain Postgres works the same way.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lifequest/lifequest-hub/pkg/retry"
)

// ErrConnectionClosed is returned by every call after Close.
var ErrConnectionClosed = errors.New("postgres: connection pool is closed")

// Config holds the pool settings. Zero values keep the pgxpool defaults.
type Config struct {
	// URL is a libpq connection string or postgres:// URL, e.g. the Supabase
	// pooler URL with sslmode=require.
	URL string

	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

func (c Config) poolConfig() (*pgxpool.Config, error) {
	if c.URL == "" {
		return nil, errors.New("postgres: DATABASE_URL is empty")
	}
	pc, err := pgxpool.ParseConfig(c.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid connection string: %w", err)
	}

	setIfPositive(&pc.MaxConns, c.MaxConns)
	setIfPositive(&pc.MinConns, c.MinConns)
	setIfPositive(&pc.MaxConnLifetime, c.MaxConnLifetime)
	setIfPositive(&pc.MaxConnIdleTime, c.MaxConnIdleTime)
	setIfPositive(&pc.HealthCheckPeriod, c.HealthCheckPeriod)
	setIfPositive(&pc.ConnConfig.ConnectTimeout, c.ConnectTimeout)
	return pc, nil
}

func setIfPositive[T int32 | time.Duration](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

// Querier is satisfied by *Connection, *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connection is the shared pool. Calls after Close fail with
// ErrConnectionClosed instead of panicking inside pgx.
type Connection struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// NewConnection opens the pool and waits for the database to answer a ping.
// A Supabase pooler that is still waking up refuses the first attempts.
func NewConnection(ctx context.Context, cfg Config, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pc, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create connection pool: %w", err)
	}

	ping := retry.Connect(func(attempt int, err error, delay time.Duration) {
		logger.Warn("postgres ping failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	})
	if err := ping.Do(ctx, func(ctx context.Context) error { return pingError(pool.Ping(ctx)) }); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	logger.Info("postgres connected", "max_conns", pc.MaxConns)
	return &Connection{pool: pool}, nil
}

// Close releases the pool. Safe to call more than once.
func (c *Connection) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.pool.Close()
	}
}

// Ping is used by the readiness check.
func (c *Connection) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.pool.Ping(ctx)
}

func (c *Connection) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if c.closed.Load() {
		return pgconn.CommandTag{}, ErrConnectionClosed
	}
	return c.pool.Exec(ctx, sql, args...)
}

func (c *Connection) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	return c.pool.Query(ctx, sql, args...)
}

func (c *Connection) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if c.closed.Load() {
		return errRow{ErrConnectionClosed}
	}
	return c.pool.QueryRow(ctx, sql, args...)
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

// InTx runs fn on a single connection inside a transaction and commits when
// fn returns nil. pgx.BeginFunc rolls back on error or panic.
func (c *Connection) InTx(ctx context.Context, fn func(pgx.Tx) error) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return pgx.BeginFunc(ctx, c.pool, fn)
}

// WithConn runs fn on one dedicated pool connection, for session state such as
// advisory locks.
func (c *Connection) WithConn(ctx context.Context, fn func(*pgxpool.Conn) error) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("postgres: acquire connection: %w", err)
	}
	defer conn.Release()
	return fn(conn)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR CLASSES
// ══════════════════════════════════════════════════════════════════════════════

// errorClass groups the SQLSTATE codes the record store reacts to.
type errorClass int

const (
	classOther errorClass = iota
	// the table or column behind a collection is not provisioned
	classMissingSchema
	// a value cannot be parsed for its column, e.g. a non-uuid id
	classBadValue
	classNoRows
	// the server refused the login or the database does not exist
	classRejected
)

var sqlStateClasses = map[string]errorClass{
	"42P01": classMissingSchema, // undefined_table
	"42703": classMissingSchema, // undefined_column
	"22P02": classBadValue,      // invalid_text_representation
	"28000": classRejected,      // invalid_authorization_specification
	"28P01": classRejected,      // invalid_password
	"3D000": classRejected,      // invalid_catalog_name
}

func classify(err error) errorClass {
	if errors.Is(err, pgx.ErrNoRows) {
		return classNoRows
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return sqlStateClasses[pgErr.Code]
	}
	return classOther
}

// pingError marks a failed ping for retry unless the server rejected us.
func pingError(err error) error {
	if err == nil || classify(err) == classRejected {
		return err
	}
	return retry.Transient(err)
}
