// Package jobs contains the scheduled jobs run by the LifeQuest worker.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lifequest/lifequest-hub/internal/application/command"
	"github.com/lifequest/lifequest-hub/internal/domain/content"
	"github.com/lifequest/lifequest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESYNC PROFILES JOB
// ══════════════════════════════════════════════════════════════════════════════

// ProfileSyncer runs a profile sync.
type ProfileSyncer interface {
	Handle(ctx context.Context, cmd command.SyncProfileCommand) (*command.SyncProfileResult, error)
}

// ResyncProfilesJob recomputes and persists the progression of every profile
// row. Record-change syncs are fire-and-forget; this job is what eventually
// corrects a profile whose trigger was lost.
type ResyncProfilesJob struct {
	store  content.RecordStore
	syncer ProfileSyncer
	logger *slog.Logger
	config ResyncProfilesConfig

	lastStats atomic.Pointer[ResyncStats]
}

// ResyncProfilesConfig contains configuration for the job.
type ResyncProfilesConfig struct {
	// Concurrency is the number of profiles synced in parallel.
	Concurrency int

	// Timeout bounds a whole run.
	Timeout time.Duration
}

// DefaultResyncProfilesConfig returns sensible defaults.
func DefaultResyncProfilesConfig() ResyncProfilesConfig {
	return ResyncProfilesConfig{
		Concurrency: 4,
		Timeout:     5 * time.Minute,
	}
}

// ResyncStats summarises one run.
type ResyncStats struct {
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Profiles     int           `json:"profiles"`
	Synced       int           `json:"synced"`
	LevelChanges int           `json:"level_changes"`
	Degraded     int           `json:"degraded"`
	Failed       int           `json:"failed"`
}

// NewResyncProfilesJob creates the job.
func NewResyncProfilesJob(store content.RecordStore, syncer ProfileSyncer, logger *slog.Logger, config ResyncProfilesConfig) *ResyncProfilesJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}

	return &ResyncProfilesJob{
		store:  store,
		syncer: syncer,
		logger: logger.With("job", "resync_profiles"),
		config: config,
	}
}

// Name returns the job name.
func (j *ResyncProfilesJob) Name() string {
	return "resync_profiles"
}

// Description returns a human-readable description.
func (j *ResyncProfilesJob) Description() string {
	return "Recomputes XP, level and rank for every profile"
}

// Run executes the job. Individual sync failures are counted, not returned;
// Run fails only when the profiles cannot be listed or every sync failed.
func (j *ResyncProfilesJob) Run(ctx context.Context) error {
	stats := &ResyncStats{StartedAt: time.Now()}
	defer func() {
		stats.Duration = time.Since(stats.StartedAt)
		j.lastStats.Store(stats)
	}()

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	ids, err := j.profileIDs(ctx)
	if err != nil {
		if errors.Is(err, content.ErrCollectionMissing) {
			j.logger.Info("profile collection not provisioned, nothing to resync")
			return nil
		}
		return fmt.Errorf("list profiles: %w", err)
	}
	stats.Profiles = len(ids)

	runID := uuid.NewString()
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			res, err := j.syncer.Handle(gctx, command.SyncProfileCommand{
				ProfileID:     id,
				Reason:        "scheduled_resync",
				CorrelationID: runID,
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil && !errors.Is(err, shared.ErrProfileNotFound):
				stats.Failed++
				j.logger.Warn("profile resync failed", "profile_id", id, "error", err)
			case err == nil:
				stats.Synced++
				if res.LevelChanged {
					stats.LevelChanges++
				}
				if len(res.Failures) > 0 {
					stats.Degraded++
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	j.logger.Info("resync finished",
		"profiles", stats.Profiles,
		"synced", stats.Synced,
		"level_changes", stats.LevelChanges,
		"degraded", stats.Degraded,
		"failed", stats.Failed,
	)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("resync interrupted: %w", err)
	}
	if stats.Failed > 0 && stats.Synced == 0 {
		return fmt.Errorf("all %d profile syncs failed", stats.Failed)
	}
	return nil
}

// LastStats returns the stats of the most recent run, or nil.
func (j *ResyncProfilesJob) LastStats() *ResyncStats {
	return j.lastStats.Load()
}

func (j *ResyncProfilesJob) profileIDs(ctx context.Context) ([]string, error) {
	rows, err := j.store.QueryCollection(ctx, content.CollectionProfile, content.Query{})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if id := r.ID(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
