package resilient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifequest/lifequest-hub/internal/domain/content"
	"github.com/lifequest/lifequest-hub/internal/domain/shared"
	"github.com/lifequest/lifequest-hub/internal/infrastructure/persistence/memory"
	"github.com/lifequest/lifequest-hub/pkg/circuitbreaker"
)

func TestRecordStore_PassesThrough(t *testing.T) {
	mem := memory.NewRecordStore()
	mem.Seed(content.CollectionProfile, content.Record{"id": "p1"})
	s := NewRecordStore(mem, nil, nil)

	rec, err := s.ReadByID(context.Background(), content.CollectionProfile, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.ID())

	require.NoError(t, s.UpdateRecord(context.Background(), content.CollectionProfile, "p1", map[string]any{"level": 2}))
	assert.Equal(t, 1, mem.Writes())
}

func TestRecordStore_HealthyAnswersDoNotTrip(t *testing.T) {
	s := NewRecordStore(memory.NewRecordStore(), nil, nil)

	for i := 0; i < 10; i++ {
		_, err := s.QueryCollection(context.Background(), content.CollectionSkills, content.Query{})
		assert.ErrorIs(t, err, content.ErrCollectionMissing)
	}
	assert.True(t, s.Breaker().IsClosed())
	assert.Zero(t, s.Breaker().Snapshot().ConsecutiveFailures)
}

func TestRecordStore_OpensOnOutage(t *testing.T) {
	mem := memory.NewRecordStore()
	mem.CreateCollection(content.CollectionSkills)
	mem.FailCollection(content.CollectionSkills, errors.New("connection refused"))

	breaker := circuitbreaker.New("test",
		circuitbreaker.WithFailureThreshold(2),
		circuitbreaker.WithTimeout(time.Hour),
		circuitbreaker.WithIsFailure(IsStoreFailure),
	)
	s := NewRecordStore(mem, breaker, nil)

	for i := 0; i < 2; i++ {
		_, err := s.QueryCollection(context.Background(), content.CollectionSkills, content.Query{})
		require.Error(t, err)
	}

	_, err := s.QueryCollection(context.Background(), content.CollectionSkills, content.Query{})
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}

func TestIsStoreFailure(t *testing.T) {
	assert.False(t, IsStoreFailure(nil))
	assert.False(t, IsStoreFailure(content.ErrNotFound))
	assert.False(t, IsStoreFailure(context.Canceled))
	assert.True(t, IsStoreFailure(context.DeadlineExceeded))
	assert.True(t, IsStoreFailure(errors.New("boom")))
}
