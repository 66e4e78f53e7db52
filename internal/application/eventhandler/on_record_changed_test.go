package eventhandler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifequest/lifequest-hub/internal/application/command"
	"github.com/lifequest/lifequest-hub/internal/domain/content"
	"github.com/lifequest/lifequest-hub/internal/domain/progression"
	"github.com/lifequest/lifequest-hub/internal/domain/shared"
	"github.com/lifequest/lifequest-hub/pkg/retry"
)

type fakeSyncer struct {
	mu    sync.Mutex
	calls []command.SyncProfileCommand
	err   error

	// failFirst limits err to the first n calls; 0 fails every call.
	failFirst int
}

func (f *fakeSyncer) Handle(_ context.Context, cmd command.SyncProfileCommand) (*command.SyncProfileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)

	err := f.err
	if f.failFirst > 0 && len(f.calls) > f.failFirst {
		err = nil
	}
	return &command.SyncProfileResult{ProfileID: cmd.ProfileID, State: progression.Resolve(0)}, err
}

func (f *fakeSyncer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func changed(profileID, collection string) shared.Event {
	return shared.NewRecordChangedEvent(shared.EventRecordUpdated, profileID, collection, "r1")
}

func TestOnRecordChanged_CoalescesBurst(t *testing.T) {
	syncer := &fakeSyncer{}
	h := NewOnRecordChangedHandler(syncer, nil, RecordChangedConfig{Debounce: 50 * time.Millisecond})

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Handle(changed("p1", content.CollectionSkills)))
	}
	assert.Equal(t, 1, h.Pending())

	assert.Eventually(t, func() bool { return syncer.count() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.Close(context.Background()))
	assert.Equal(t, 1, syncer.count())
	assert.Equal(t, "p1", syncer.calls[0].ProfileID)
	assert.Equal(t, "record_changed", syncer.calls[0].Reason)
}

func TestOnRecordChanged_SeparateProfiles(t *testing.T) {
	syncer := &fakeSyncer{}
	h := NewOnRecordChangedHandler(syncer, nil, RecordChangedConfig{Debounce: 10 * time.Millisecond})

	require.NoError(t, h.Handle(changed("p1", content.CollectionHabits)))
	require.NoError(t, h.Handle(changed("p2", content.CollectionHabits)))

	assert.Eventually(t, func() bool { return syncer.count() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.Close(context.Background()))
}

func TestOnRecordChanged_IgnoresOtherEvents(t *testing.T) {
	syncer := &fakeSyncer{}
	h := NewOnRecordChangedHandler(syncer, nil, RecordChangedConfig{})

	require.NoError(t, h.Handle(shared.NewProfileSyncedEvent("p1", 1, 0, "E", 0)))
	require.NoError(t, h.Handle(changed("p1", content.CollectionProfile)))
	require.NoError(t, h.Handle(changed("p1", "passwords")))

	require.NoError(t, h.Close(context.Background()))
	assert.Equal(t, 0, syncer.count())
}

func TestOnRecordChanged_ErrorsAreSwallowed(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("store down")}
	h := NewOnRecordChangedHandler(syncer, nil, RecordChangedConfig{})

	assert.NoError(t, h.Handle(changed("p1", content.CollectionCourses)))
	require.NoError(t, h.Close(context.Background()))
	assert.Equal(t, 1, syncer.count())
}

func TestOnRecordChanged_RetriesFailedWrite(t *testing.T) {
	writeFailed := shared.WrapError("profile", "Update", shared.ErrProfileWriteFailed, "failed to persist progression", errors.New("conn reset"))
	syncer := &fakeSyncer{err: writeFailed, failFirst: 2}

	cfg := DefaultRecordChangedConfig()
	cfg.Debounce = 0
	cfg.Retry.Initial = time.Millisecond
	cfg.Retry.Max = time.Millisecond
	h := NewOnRecordChangedHandler(syncer, nil, cfg)

	require.NoError(t, h.Handle(changed("p1", content.CollectionSkills)))
	require.NoError(t, h.Close(context.Background()))
	assert.Equal(t, 3, syncer.count())
}

func TestOnRecordChanged_ZeroConfigRetriesWriteFailure(t *testing.T) {
	writeFailed := shared.WrapError("profile", "Update", shared.ErrProfileWriteFailed, "failed to persist progression", errors.New("conn reset"))
	syncer := &fakeSyncer{err: writeFailed, failFirst: 1}

	h := NewOnRecordChangedHandler(syncer, nil, RecordChangedConfig{})
	assert.Equal(t, DefaultRecordChangedConfig().Retry.Attempts, h.config.Retry.Attempts)

	require.NoError(t, h.Handle(changed("p1", content.CollectionSkills)))
	require.NoError(t, h.Close(context.Background()))
	assert.Equal(t, 2, syncer.count())
}

func TestOnRecordChanged_SingleAttempt(t *testing.T) {
	writeFailed := shared.WrapError("profile", "Update", shared.ErrProfileWriteFailed, "failed to persist progression", errors.New("conn reset"))
	syncer := &fakeSyncer{err: writeFailed}

	h := NewOnRecordChangedHandler(syncer, nil, RecordChangedConfig{Retry: retry.Policy{Attempts: 1}})

	require.NoError(t, h.Handle(changed("p1", content.CollectionSkills)))
	require.NoError(t, h.Close(context.Background()))
	assert.Equal(t, 1, syncer.count())
}

func TestOnRecordChanged_MissingProfileIsNotRetried(t *testing.T) {
	syncer := &fakeSyncer{err: shared.ErrProfileNotFound}

	cfg := DefaultRecordChangedConfig()
	cfg.Debounce = 0
	cfg.Retry.Initial = time.Millisecond
	h := NewOnRecordChangedHandler(syncer, nil, cfg)

	require.NoError(t, h.Handle(changed("p1", content.CollectionSkills)))
	require.NoError(t, h.Close(context.Background()))
	assert.Equal(t, 1, syncer.count())
}

func TestOnRecordChanged_CloseFlushesPending(t *testing.T) {
	syncer := &fakeSyncer{}
	h := NewOnRecordChangedHandler(syncer, nil, RecordChangedConfig{Debounce: time.Hour})

	require.NoError(t, h.Handle(changed("p1", content.CollectionProjects)))
	assert.Equal(t, 0, syncer.count())

	require.NoError(t, h.Close(context.Background()))
	assert.Equal(t, 1, syncer.count())

	// Closed handlers drop new events.
	require.NoError(t, h.Handle(changed("p1", content.CollectionProjects)))
	assert.Equal(t, 0, h.Pending())
}
