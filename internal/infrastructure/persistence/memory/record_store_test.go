package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifequest/lifequest-hub/internal/domain/content"
)

func TestRecordStore_MissingCollection(t *testing.T) {
	s := NewRecordStore()

	_, err := s.QueryCollection(context.Background(), content.CollectionSkills, content.Query{})
	assert.ErrorIs(t, err, content.ErrCollectionMissing)

	_, err = s.ReadSingleton(context.Background(), content.CollectionProfile)
	assert.ErrorIs(t, err, content.ErrCollectionMissing)
}

func TestRecordStore_QueryFiltersAndOrder(t *testing.T) {
	s := NewRecordStore()
	s.Seed(content.CollectionAchievements,
		content.Record{"id": "a", "is_published": true, "archived_at": nil, "points": 3},
		content.Record{"id": "b", "is_published": false},
		content.Record{"id": "c", "is_published": true, "archived_at": "2024-01-01"},
		content.Record{"id": "d", "is_published": true, "points": 9},
	)

	rows, err := s.QueryCollection(context.Background(), content.CollectionAchievements, content.AchievementsQuery())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows, err = s.QueryCollection(context.Background(), content.CollectionAchievements, content.Query{
		Filters: content.AchievementsQuery().Filters,
		OrderBy: []content.Order{{Field: "points", Descending: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, "d", rows[0].ID())
	assert.Equal(t, "a", rows[1].ID())
}

func TestRecordStore_RejectsUnsafeField(t *testing.T) {
	s := NewRecordStore()
	s.CreateCollection(content.CollectionSkills)

	_, err := s.QueryCollection(context.Background(), content.CollectionSkills, content.Query{
		Filters: []content.Filter{content.Eq("level; drop table", 1)},
	})
	assert.ErrorIs(t, err, content.ErrInvalidField)
}

func TestRecordStore_ReadAndUpdate(t *testing.T) {
	s := NewRecordStore()
	s.Seed(content.CollectionProfile, content.Record{"id": "p1", "level": 1})
	ctx := context.Background()

	rec, err := s.ReadSingleton(ctx, content.CollectionProfile)
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.ID())

	require.NoError(t, s.UpdateRecord(ctx, content.CollectionProfile, "p1", map[string]any{"level": 7}))
	assert.Equal(t, 1, s.Writes())

	rec, err = s.ReadByID(ctx, content.CollectionProfile, "p1")
	require.NoError(t, err)
	assert.Equal(t, 7, rec.Int("level"))

	// Returned rows are copies.
	rec["level"] = 99
	rec, _ = s.ReadByID(ctx, content.CollectionProfile, "p1")
	assert.Equal(t, 7, rec.Int("level"))

	err = s.UpdateRecord(ctx, content.CollectionProfile, "nope", map[string]any{"level": 1})
	assert.ErrorIs(t, err, content.ErrNotFound)
}

func TestRecordStore_EmptySingleton(t *testing.T) {
	s := NewRecordStore()
	s.CreateCollection(content.CollectionProfile)

	_, err := s.ReadSingleton(context.Background(), content.CollectionProfile)
	assert.ErrorIs(t, err, content.ErrNotFound)
}

func TestRecordStore_FailureInjection(t *testing.T) {
	s := NewRecordStore()
	s.CreateCollection(content.CollectionHabits)
	boom := errors.New("boom")

	s.FailCollection(content.CollectionHabits, boom)
	_, err := s.QueryCollection(context.Background(), content.CollectionHabits, content.Query{})
	assert.ErrorIs(t, err, boom)

	s.FailCollection(content.CollectionHabits, nil)
	_, err = s.QueryCollection(context.Background(), content.CollectionHabits, content.Query{})
	assert.NoError(t, err)
}

func TestRecordStore_CancelledContext(t *testing.T) {
	s := NewRecordStore()
	s.CreateCollection(content.CollectionHabits)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.QueryCollection(ctx, content.CollectionHabits, content.Query{})
	assert.ErrorIs(t, err, context.Canceled)
}
