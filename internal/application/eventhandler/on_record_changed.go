// Package eventhandler contains domain event handlers.
// Handlers are the reactive part of the system: they run side effects such as
// recomputing the progression after content changes.
package eventhandler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lifequest/lifequest-hub/internal/application/command"
	"github.com/lifequest/lifequest-hub/internal/domain/content"
	"github.com/lifequest/lifequest-hub/internal/domain/shared"
	"github.com/lifequest/lifequest-hub/pkg/retry"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON RECORD CHANGED HANDLER
// Runs Profile Sync after any create/update/archive/delete of an XP-contributing
// record. The sync is detached from the publisher: failures are logged and
// never reach whoever changed the record.
// ═══════════════════════════════════════════════════════════════════════════

// ProfileSyncer runs a profile sync.
type ProfileSyncer interface {
	Handle(ctx context.Context, cmd command.SyncProfileCommand) (*command.SyncProfileResult, error)
}

// RecordChangedConfig contains handler configuration.
type RecordChangedConfig struct {
	// Debounce coalesces bursts of changes for the same profile into one sync.
	// Zero runs a sync per event.
	Debounce time.Duration

	// SyncTimeout bounds a single sync run, retries included.
	SyncTimeout time.Duration

	// Retry re-runs a sync whose store read or write failed. A policy without
	// Attempts gets retry.Sync; set Attempts to 1 for a single try.
	Retry retry.Policy
}

// DefaultRecordChangedConfig returns default configuration.
func DefaultRecordChangedConfig() RecordChangedConfig {
	return RecordChangedConfig{
		Debounce:    500 * time.Millisecond,
		SyncTimeout: 30 * time.Second,
		Retry:       retry.Sync(shared.IsExternalService),
	}
}

type pendingSync struct {
	timer         *time.Timer
	correlationID string
	coalesced     int
}

// OnRecordChangedHandler schedules a profile sync for every record change.
type OnRecordChangedHandler struct {
	syncer ProfileSyncer
	logger *slog.Logger
	config RecordChangedConfig

	mu      sync.Mutex
	pending map[string]*pendingSync
	closed  bool
	wg      sync.WaitGroup
}

// NewOnRecordChangedHandler creates a new handler.
func NewOnRecordChangedHandler(
	syncer ProfileSyncer,
	logger *slog.Logger,
	config RecordChangedConfig,
) *OnRecordChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = DefaultRecordChangedConfig().SyncTimeout
	}
	if config.Retry.Attempts <= 0 {
		config.Retry = DefaultRecordChangedConfig().Retry
	}
	if config.Retry.ShouldRetry == nil {
		config.Retry.ShouldRetry = shared.IsExternalService
	}

	return &OnRecordChangedHandler{
		syncer:  syncer,
		logger:  logger.With("handler", "on_record_changed"),
		config:  config,
		pending: make(map[string]*pendingSync),
	}
}

// Handle schedules a sync and returns immediately.
// Implements shared.EventHandler.
func (h *OnRecordChangedHandler) Handle(event shared.Event) error {
	changed, ok := event.(shared.RecordChangedEvent)
	if !ok {
		h.logger.Warn("received non-RecordChangedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	// Profile writes come from the sync itself.
	if changed.Collection == content.CollectionProfile || !content.IsKnownCollection(changed.Collection) {
		h.logger.Debug("ignoring change outside xp collections",
			"collection", changed.Collection,
		)
		return nil
	}

	h.logger.Debug("record changed",
		"event_type", changed.EventType(),
		"profile_id", changed.AggregateID(),
		"collection", changed.Collection,
		"record_id", changed.RecordID,
	)

	h.schedule(changed.AggregateID(), changed.CorrelationID)
	return nil
}

// Pending returns the number of profiles waiting for a debounced sync.
func (h *OnRecordChangedHandler) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// Close stops accepting events, runs every pending sync now and waits for
// in-flight syncs until ctx is done.
func (h *OnRecordChangedHandler) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for _, p := range h.pending {
		if p.timer.Stop() {
			p.timer.Reset(0)
		}
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *OnRecordChangedHandler) schedule(profileID, correlationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		h.logger.Warn("handler closed, dropping sync", "profile_id", profileID)
		return
	}

	if p, ok := h.pending[profileID]; ok && p.timer.Stop() {
		p.coalesced++
		if correlationID != "" {
			p.correlationID = correlationID
		}
		p.timer.Reset(h.config.Debounce)
		return
	}

	p := &pendingSync{correlationID: correlationID, coalesced: 1}
	h.pending[profileID] = p
	h.wg.Add(1)
	p.timer = time.AfterFunc(h.config.Debounce, func() {
		defer h.wg.Done()
		h.fire(profileID, p)
	})
}

func (h *OnRecordChangedHandler) fire(profileID string, p *pendingSync) {
	h.mu.Lock()
	if h.pending[profileID] == p {
		delete(h.pending, profileID)
	}
	correlationID, coalesced := p.correlationID, p.coalesced
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.SyncTimeout)
	defer cancel()

	policy := h.config.Retry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		h.logger.Warn("profile sync failed, retrying",
			"profile_id", profileID,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}

	var result *command.SyncProfileResult
	err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = h.syncer.Handle(ctx, command.SyncProfileCommand{
			ProfileID:     profileID,
			Reason:        "record_changed",
			CorrelationID: correlationID,
		})
		return err
	})
	switch {
	case errors.Is(err, shared.ErrProfileNotFound):
		h.logger.Info("no profile to sync",
			"profile_id", profileID,
		)
	case err != nil:
		h.logger.Error("background profile sync failed",
			"profile_id", profileID,
			"coalesced_events", coalesced,
			"error", err,
		)
	default:
		h.logger.Debug("background profile sync done",
			"profile_id", result.ProfileID,
			"level", result.State.Level,
			"rank", result.State.Rank,
			"coalesced_events", coalesced,
		)
	}
}
