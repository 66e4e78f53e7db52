package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lifequest/lifequest-hub/internal/domain/progression"
	"github.com/lifequest/lifequest-hub/pkg/circuitbreaker"
)

// KeyValueStore is the subset of Cache the progression cache needs.
type KeyValueStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string, dest any) error
	Delete(ctx context.Context, keys ...string) error
}

// ProgressionSnapshot is what the website reads between syncs.
type ProgressionSnapshot struct {
	ProfileID string            `json:"profile_id"`
	State     progression.State `json:"state"`
	SyncedAt  time.Time         `json:"synced_at"`
}

// ProgressionCache stores the last synced progression of each profile. It is a
// display cache only; a miss means "compute it".
type ProgressionCache struct {
	store   KeyValueStore
	breaker *circuitbreaker.CircuitBreaker
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// ProgressionCacheConfig configures ProgressionCache.
type ProgressionCacheConfig struct {
	TTL     time.Duration
	Breaker *circuitbreaker.CircuitBreaker
	Logger  *slog.Logger
}

// NewProgressionCache creates a ProgressionCache. A nil breaker gets the
// default cache breaker.
func NewProgressionCache(store KeyValueStore, cfg ProgressionCacheConfig) *ProgressionCache {
	if cfg.TTL <= 0 {
		cfg.TTL = TTLProgression
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "progression_cache")
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.CacheBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		})
	}

	return &ProgressionCache{
		store:   store,
		breaker: cfg.Breaker,
		ttl:     cfg.TTL,
		logger:  logger,
		now:     time.Now,
	}
}

// SetProgression stores the state for a profile.
func (c *ProgressionCache) SetProgression(ctx context.Context, profileID string, state progression.State) error {
	snap := ProgressionSnapshot{
		ProfileID: profileID,
		State:     state,
		SyncedAt:  c.now().UTC(),
	}
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.store.Set(ctx, ProgressionKey(profileID), snap, c.ttl)
	})
}

// GetProgression returns the cached snapshot or ErrCacheMiss.
func (c *ProgressionCache) GetProgression(ctx context.Context, profileID string) (*ProgressionSnapshot, error) {
	var snap ProgressionSnapshot
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		err := c.store.Get(ctx, ProgressionKey(profileID), &snap)
		if errors.Is(err, ErrCacheMiss) {
			// A miss is an answer, not a failure of the cache.
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if snap.SyncedAt.IsZero() {
		return nil, ErrCacheMiss
	}
	return &snap, nil
}

// Invalidate drops a profile's snapshot.
func (c *ProgressionCache) Invalidate(ctx context.Context, profileID string) error {
	return c.store.Delete(ctx, ProgressionKey(profileID))
}
