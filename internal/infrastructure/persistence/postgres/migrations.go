package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrMigrationFailed wraps any failure to apply or revert a schema version.
var ErrMigrationFailed = errors.New("postgres: migration failed")

// Migration is one schema version as reported by Status.
type Migration struct {
	Version   int       `json:"version" yaml:"version"`
	Name      string    `json:"name" yaml:"name"`
	AppliedAt time.Time `json:"applied_at,omitempty" yaml:"applied_at,omitempty"`
	IsApplied bool      `json:"is_applied" yaml:"is_applied"`

	up, down string
}

var migrations = []Migration{
	{Version: 1, Name: "create_profile", up: migration001Up, down: migration001Down},
	{Version: 2, Name: "create_content_collections", up: migration002Up, down: migration002Down},
	{Version: 3, Name: "create_experiences", up: migration003Up, down: migration003Down},
}

// migrationLockID keys the advisory lock that keeps the api and the worker
// from migrating at the same time.
const migrationLockID int64 = 0x4c51_6d69_6772 // "LQmigr"

const (
	createVersionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
)`
	selectVersions = `SELECT version, applied_at FROM schema_migrations`
	insertVersion  = `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`
	deleteVersion  = `DELETE FROM schema_migrations WHERE version = $1`
)

// Migrator applies the embedded schema versions in order.
type Migrator struct {
	conn *Connection
}

// NewMigrator creates a migrator over conn.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn}
}

// Migrate applies every pending version, each in its own transaction, and
// returns how many were applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	applied := 0
	err := m.locked(ctx, func(done map[int]time.Time) error {
		for _, mig := range migrations {
			if _, ok := done[mig.Version]; ok {
				continue
			}
			if err := m.step(ctx, mig.Version, mig.up, insertVersion, mig.Version, mig.Name); err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	return applied, err
}

// Rollback reverts the newest applied version and returns it, or 0 when
// nothing is applied.
func (m *Migrator) Rollback(ctx context.Context) (int, error) {
	reverted := 0
	err := m.locked(ctx, func(done map[int]time.Time) error {
		for _, mig := range slices.Backward(migrations) {
			if _, ok := done[mig.Version]; !ok {
				continue
			}
			if err := m.step(ctx, mig.Version, mig.down, deleteVersion, mig.Version); err != nil {
				return err
			}
			reverted = mig.Version
			return nil
		}
		return nil
	})
	return reverted, err
}

// Status lists every known version with its applied time.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	var out []Migration
	err := m.locked(ctx, func(done map[int]time.Time) error {
		out = make([]Migration, len(migrations))
		for i, mig := range migrations {
			out[i] = Migration{Version: mig.Version, Name: mig.Name}
			if at, ok := done[mig.Version]; ok {
				out[i].IsApplied, out[i].AppliedAt = true, at
			}
		}
		return nil
	})
	return out, err
}

// locked holds the migration advisory lock on one session while fn runs, and
// hands fn the applied versions.
func (m *Migrator) locked(ctx context.Context, fn func(done map[int]time.Time) error) error {
	return m.conn.WithConn(ctx, func(c *pgxpool.Conn) error {
		if _, err := c.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
			return fmt.Errorf("%w: lock: %v", ErrMigrationFailed, err)
		}
		defer func() {
			_, _ = c.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID)
		}()

		if _, err := c.Exec(ctx, createVersionTable); err != nil {
			return fmt.Errorf("%w: create schema_migrations: %v", ErrMigrationFailed, err)
		}
		rows, err := c.Query(ctx, selectVersions)
		if err != nil {
			return fmt.Errorf("%w: read schema_migrations: %v", ErrMigrationFailed, err)
		}
		done := make(map[int]time.Time)
		var (
			version int
			at      time.Time
		)
		if _, err := pgx.ForEachRow(rows, []any{&version, &at}, func() error {
			done[version] = at
			return nil
		}); err != nil {
			return fmt.Errorf("%w: read schema_migrations: %v", ErrMigrationFailed, err)
		}
		return fn(done)
	})
}

// step runs one version's script and its bookkeeping statement atomically.
func (m *Migrator) step(ctx context.Context, version int, script, record string, args ...any) error {
	err := m.conn.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, script); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, record, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, version, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE PROFILE
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS profile (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    level INTEGER NOT NULL DEFAULT 1,
    xp INTEGER NOT NULL DEFAULT 0,
    rank VARCHAR(1) NOT NULL DEFAULT 'E',
    total_xp INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    archived_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_level CHECK (level BETWEEN 1 AND 100),
    CONSTRAINT valid_xp CHECK (xp >= 0 AND total_xp >= 0),
    CONSTRAINT valid_rank CHECK (rank IN ('E', 'D', 'C', 'B', 'A', 'S'))
);
`

const migration001Down = `
DROP TABLE IF EXISTS profile;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE CONTENT COLLECTIONS
// Only the columns the progression reads, plus keys and soft-delete flags.
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS skills (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    level INTEGER NOT NULL DEFAULT 0 CHECK (level BETWEEN 0 AND 100),
    archived_at TIMESTAMP WITH TIME ZONE
);

CREATE TABLE IF NOT EXISTS projects (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    is_featured BOOLEAN NOT NULL DEFAULT FALSE,
    archived_at TIMESTAMP WITH TIME ZONE
);

CREATE TABLE IF NOT EXISTS certifications (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    archived_at TIMESTAMP WITH TIME ZONE
);

CREATE TABLE IF NOT EXISTS achievements (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    is_published BOOLEAN NOT NULL DEFAULT TRUE,
    archived_at TIMESTAMP WITH TIME ZONE
);

CREATE TABLE IF NOT EXISTS courses (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    progress NUMERIC(5,2) NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
    archived_at TIMESTAMP WITH TIME ZONE
);

CREATE TABLE IF NOT EXISTS habits (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    streak INTEGER NOT NULL DEFAULT 0 CHECK (streak >= 0),
    archived_at TIMESTAMP WITH TIME ZONE
);

CREATE INDEX IF NOT EXISTS idx_achievements_visible ON achievements(id)
    WHERE archived_at IS NULL AND is_published = TRUE;
`

const migration002Down = `
DROP TABLE IF EXISTS habits;
DROP TABLE IF EXISTS courses;
DROP TABLE IF EXISTS achievements;
DROP TABLE IF EXISTS certifications;
DROP TABLE IF EXISTS projects;
DROP TABLE IF EXISTS skills;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE EXPERIENCES
// Optional collection; roll this one back to run without it.
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS experiences (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    archived_at TIMESTAMP WITH TIME ZONE
);
`

const migration003Down = `
DROP TABLE IF EXISTS experiences;
`
