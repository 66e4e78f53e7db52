// Package command contains write operations (CQRS - Commands).
// Commands are responsible for changing the state of the system.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lifequest/lifequest-hub/internal/application/query"
	"github.com/lifequest/lifequest-hub/internal/domain/content"
	"github.com/lifequest/lifequest-hub/internal/domain/progression"
	"github.com/lifequest/lifequest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC PROFILE COMMAND
// Recomputes the progression from the content collections and writes
// {level, xp, rank, total_xp} onto the profile row.
// ══════════════════════════════════════════════════════════════════════════════

// SyncProfileCommand contains the data needed to sync a profile.
type SyncProfileCommand struct {
	// ProfileID is the id of the profile row to update.
	// If empty, the only profile row in the store is used.
	ProfileID string

	// Reason is a free-form label for logs ("record_changed", "scheduled", "manual").
	Reason string

	// CorrelationID for tracing across services.
	CorrelationID string
}

// Validate validates the command.
func (c SyncProfileCommand) Validate() error {
	if c.ProfileID == "" {
		return nil
	}
	if _, err := uuid.Parse(c.ProfileID); err != nil {
		return shared.WrapError("profile", "Validate", shared.ErrInvalidProfileID, "profile id must be a uuid", err)
	}
	return nil
}

// SyncProfileResult contains the result of synchronization.
// It is returned even when the profile could not be found or written, so callers
// can still display the computed values.
type SyncProfileResult struct {
	// ProfileID is the id of the profile that was targeted ("" if none was found).
	ProfileID string

	// State is the freshly resolved progression.
	State progression.State

	// Breakdown is the per-source XP.
	Breakdown progression.Breakdown

	// Failures lists the sources that defaulted to zero.
	Failures []query.SourceFailure

	// Previous is the profile as it was before the write (nil if not found).
	Previous *content.Profile

	// Persisted indicates the write succeeded.
	Persisted bool

	// LevelChanged indicates the persisted level moved.
	LevelChanged bool

	// RankChanged indicates the persisted rank letter moved.
	RankChanged bool

	// SyncedAt is when the sync was performed.
	SyncedAt time.Time

	// Events contains domain events generated during sync.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// XPAggregator computes the current XP total.
type XPAggregator interface {
	Handle(ctx context.Context, q query.ComputeTotalXPQuery) (*query.ComputeTotalXPResult, error)
}

// ProgressionCache receives the last synced snapshot for display. Optional.
// An empty profile id addresses the singleton snapshot.
type ProgressionCache interface {
	SetProgression(ctx context.Context, profileID string, state progression.State) error
	Invalidate(ctx context.Context, profileID string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SyncProfileHandlerConfig contains configuration for the handler.
type SyncProfileHandlerConfig struct {
	// Cache receives the synced state after a successful write (nil = disabled).
	Cache ProgressionCache

	// Logger for structured logging.
	Logger *slog.Logger
}

// SyncProfileHandler handles the SyncProfileCommand.
type SyncProfileHandler struct {
	store          content.RecordStore
	aggregator     XPAggregator
	eventPublisher shared.EventPublisher
	cache          ProgressionCache
	logger         *slog.Logger
	now            func() time.Time
}

// NewSyncProfileHandler creates a new SyncProfileHandler.
func NewSyncProfileHandler(
	store content.RecordStore,
	aggregator XPAggregator,
	eventPublisher shared.EventPublisher,
	config SyncProfileHandlerConfig,
) *SyncProfileHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NoopPublisher{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &SyncProfileHandler{
		store:          store,
		aggregator:     aggregator,
		eventPublisher: eventPublisher,
		cache:          config.Cache,
		logger:         config.Logger.With("handler", "sync_profile"),
		now:            time.Now,
	}
}

// Handle executes the sync profile command.
//
// On ErrProfileNotFound and ErrProfileWriteFailed the result is non-nil and carries
// the computed values. Any other error comes with a nil result.
func (h *SyncProfileHandler) Handle(ctx context.Context, cmd SyncProfileCommand) (*SyncProfileResult, error) {
	// Validate command
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("sync_profile: validation failed: %w", err)
	}

	// Aggregate and resolve
	total, err := h.aggregator.Handle(ctx, query.ComputeTotalXPQuery{CorrelationID: cmd.CorrelationID})
	if err != nil {
		return nil, fmt.Errorf("sync_profile: failed to compute xp: %w", err)
	}
	if total.Degraded() {
		h.logger.Warn("syncing with sources missing",
			"failed_sources", len(total.Failures),
			"total_xp", total.TotalXP,
			"correlation_id", cmd.CorrelationID,
		)
	}

	result := &SyncProfileResult{
		ProfileID: cmd.ProfileID,
		State:     total.State(),
		Breakdown: total.Breakdown,
		Failures:  total.Failures,
		SyncedAt:  h.now().UTC(),
		Events:    make([]shared.Event, 0, 3),
	}

	// Find the profile
	record, err := h.findProfile(ctx, cmd.ProfileID)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) || errors.Is(err, content.ErrCollectionMissing) {
			h.logger.Info("no profile to sync, skipping write",
				"profile_id", cmd.ProfileID,
				"total_xp", result.State.TotalXP,
				"reason", cmd.Reason,
				"correlation_id", cmd.CorrelationID,
			)
			h.dropSnapshot(ctx, cmd.ProfileID)
			return result, shared.ErrProfileNotFound
		}
		return result, shared.WrapError("profile", "Find", shared.ErrExternalService, "failed to read profile", err)
	}

	previous := content.DecodeProfile(record)
	result.Previous = &previous
	result.ProfileID = previous.ID

	// Persist
	fields := content.ProfileFields(result.State, result.SyncedAt)
	if err := h.store.UpdateRecord(ctx, content.CollectionProfile, previous.ID, fields); err != nil {
		h.logger.Warn("failed to persist progression",
			"profile_id", previous.ID,
			"error", err,
			"correlation_id", cmd.CorrelationID,
		)
		return result, shared.WrapError("profile", "Update", shared.ErrProfileWriteFailed, "failed to persist progression", err)
	}
	result.Persisted = true

	h.collectEvents(result, previous, cmd.CorrelationID)

	h.logger.Info("profile synced",
		"profile_id", result.ProfileID,
		"level", result.State.Level,
		"xp", result.State.CurrentXP,
		"rank", result.State.Rank,
		"total_xp", result.State.TotalXP,
		"reason", cmd.Reason,
		"correlation_id", cmd.CorrelationID,
	)

	// Publish domain events
	for _, event := range result.Events {
		if err := h.eventPublisher.Publish(event); err != nil {
			h.logger.Warn("failed to publish event",
				"event_type", event.EventType(),
				"error", err,
			)
		}
	}

	h.storeSnapshot(ctx, cmd.ProfileID, result)

	return result, nil
}

// storeSnapshot caches the synced state under the row id and, for a singleton
// sync, under the singleton key readers use.
func (h *SyncProfileHandler) storeSnapshot(ctx context.Context, requested string, result *SyncProfileResult) {
	if h.cache == nil {
		return
	}
	keys := []string{result.ProfileID}
	if requested == "" && result.ProfileID != "" {
		keys = append(keys, "")
	}
	for _, id := range keys {
		if err := h.cache.SetProgression(ctx, id, result.State); err != nil {
			h.logger.Debug("failed to cache progression", "profile_id", id, "error", err)
		}
	}
}

// dropSnapshot removes a snapshot left by a profile that no longer exists.
func (h *SyncProfileHandler) dropSnapshot(ctx context.Context, profileID string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(ctx, profileID); err != nil {
		h.logger.Debug("failed to invalidate progression", "profile_id", profileID, "error", err)
	}
}

// findProfile reads the profile by id, or the singleton row when no id is given.
func (h *SyncProfileHandler) findProfile(ctx context.Context, profileID string) (content.Record, error) {
	if profileID != "" {
		return h.store.ReadByID(ctx, content.CollectionProfile, profileID)
	}
	return h.store.ReadSingleton(ctx, content.CollectionProfile)
}

func (h *SyncProfileHandler) collectEvents(result *SyncProfileResult, previous content.Profile, correlationID string) {
	state := result.State

	synced := shared.NewProfileSyncedEvent(result.ProfileID, state.Level, state.CurrentXP, string(state.Rank), state.TotalXP)
	synced.Correlate(correlationID)
	result.Events = append(result.Events, synced)

	if previous.Level != state.Level {
		result.LevelChanged = true
		levelEvent := shared.NewLevelChangedEvent(result.ProfileID, previous.Level, state.Level)
		levelEvent.Correlate(correlationID)
		result.Events = append(result.Events, levelEvent)
	}

	if previous.Rank != state.Rank {
		result.RankChanged = true
		rankEvent := shared.NewRankChangedEvent(result.ProfileID, string(previous.Rank), string(state.Rank))
		rankEvent.Correlate(correlationID)
		result.Events = append(result.Events, rankEvent)
	}
}
