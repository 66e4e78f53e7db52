package postgres

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifequest/lifequest-hub/internal/domain/content"
	"github.com/lifequest/lifequest-hub/pkg/retry"
)

func TestMapError(t *testing.T) {
	assert.ErrorIs(t, mapError("skills", &pgconn.PgError{Code: "42P01"}), content.ErrCollectionMissing)
	assert.ErrorIs(t, mapError("achievements", &pgconn.PgError{Code: "42703"}), content.ErrCollectionMissing)
	assert.ErrorIs(t, mapError("profile", &pgconn.PgError{Code: "22P02"}), content.ErrNotFound)

	boom := errors.New("connection reset")
	err := mapError("skills", boom)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, content.ErrCollectionMissing)
}

func TestPingError(t *testing.T) {
	assert.NoError(t, pingError(nil))

	refused := errors.New("dial tcp: connection refused")
	assert.True(t, retry.IsTransient(pingError(refused)))
	assert.ErrorIs(t, pingError(refused), refused)

	for _, code := range []string{"28P01", "28000", "3D000"} {
		err := pingError(&pgconn.PgError{Code: code})
		assert.False(t, retry.IsTransient(err), code)
	}
}

func TestNormalize(t *testing.T) {
	id := uuid.MustParse("7f0c2b8e-4b7a-4c1e-9d55-0a1f3e2d4c5b")
	rec := normalize(map[string]any{
		"id":       [16]byte(id),
		"progress": pgtype.Numeric{Int: big.NewInt(4050), Exp: -2, Valid: true},
		"empty":    pgtype.Numeric{},
		"streak":   int32(4),
	})

	assert.Equal(t, id.String(), rec.ID())
	assert.InDelta(t, 40.5, rec.Float("progress"), 1e-9)
	assert.Nil(t, rec["empty"])
	assert.Equal(t, 4, rec.Int("streak"))
}

func TestConfig_PoolSettings(t *testing.T) {
	pc, err := Config{
		URL:            "postgres://u:p@localhost:5432/app?sslmode=disable",
		MaxConns:       7,
		ConnectTimeout: 3 * time.Second,
	}.poolConfig()
	require.NoError(t, err)
	assert.EqualValues(t, 7, pc.MaxConns)
	assert.Equal(t, 3*time.Second, pc.ConnConfig.ConnectTimeout)
	assert.Equal(t, "app", pc.ConnConfig.Database)

	_, err = Config{}.poolConfig()
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestClosedConnection(t *testing.T) {
	c := &Connection{}
	c.closed.Store(true)

	assert.ErrorIs(t, c.Ping(context.Background()), ErrConnectionClosed)
	assert.ErrorIs(t, c.QueryRow(context.Background(), "SELECT 1").Scan(), ErrConnectionClosed)
	assert.ErrorIs(t, NewRecordStore(c).UpdateRecord(context.Background(), "profile", "x", map[string]any{"level": 2}), ErrConnectionClosed)
}

func TestMigrations_Ordered(t *testing.T) {
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.up)
		assert.NotEmpty(t, m.down)
	}
}
