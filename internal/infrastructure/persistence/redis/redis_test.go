package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifequest/lifequest-hub/internal/domain/progression"
	"github.com/lifequest/lifequest-hub/pkg/circuitbreaker"
)

// memoryKV round-trips values through JSON like the Redis-backed Cache.
type memoryKV struct {
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memoryKV) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if m.err != nil {
		return m.err
	}
	if err := checkSet(key, value, ttl); err != nil {
		return err
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = b
	m.ttls[key] = ttl
	return nil
}

func (m *memoryKV) Get(_ context.Context, key string, dest any) error {
	if m.err != nil {
		return m.err
	}
	b, ok := m.data[key]
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(b, dest)
}

func (m *memoryKV) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func TestProgressionKey(t *testing.T) {
	assert.Equal(t, "lifequest:progression:default", ProgressionKey(""))
	assert.Equal(t, "lifequest:progression:p1", ProgressionKey("p1"))
}

func TestConfigOptions(t *testing.T) {
	opts, err := Config{}.options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)

	opts, err = Config{Host: "cache", Port: 6380, PoolSize: 7, ReadTimeout: 2 * time.Second}.options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, 2*time.Second, opts.ReadTimeout)

	opts, err = Config{URL: "redis://:secret@cache.internal:6380/2", Host: "ignored"}.options()
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	_, err = Config{URL: "http://nope"}.options()
	assert.ErrorIs(t, err, ErrCacheConnection)
}

func TestCheckSet(t *testing.T) {
	assert.ErrorIs(t, checkSet("", 1, 0), ErrCacheKeyEmpty)
	assert.ErrorIs(t, checkSet("k", nil, 0), ErrCacheNilValue)
	assert.ErrorIs(t, checkSet("k", 1, -time.Second), ErrCacheInvalidTTL)
	assert.NoError(t, checkSet("k", 1, time.Minute))
}

func TestProgressionCache_RoundTrip(t *testing.T) {
	kv := newMemoryKV()
	cache := NewProgressionCache(kv, ProgressionCacheConfig{})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cache.now = func() time.Time { return fixed }
	ctx := context.Background()

	_, err := cache.GetProgression(ctx, "p1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	state := progression.Resolve(640)
	require.NoError(t, cache.SetProgression(ctx, "p1", state))
	assert.Equal(t, TTLProgression, kv.ttls["lifequest:progression:p1"])

	snap, err := cache.GetProgression(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", snap.ProfileID)
	assert.Equal(t, state, snap.State)
	assert.Equal(t, fixed, snap.SyncedAt)

	require.NoError(t, cache.Invalidate(ctx, "p1"))
	_, err = cache.GetProgression(ctx, "p1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestProgressionCache_BreakerOpens(t *testing.T) {
	kv := newMemoryKV()
	kv.err = errors.New("connection refused")
	breaker := circuitbreaker.New("test", circuitbreaker.WithFailureThreshold(2), circuitbreaker.WithTimeout(time.Hour))
	cache := NewProgressionCache(kv, ProgressionCacheConfig{Breaker: breaker})
	ctx := context.Background()

	assert.Error(t, cache.SetProgression(ctx, "p1", progression.Resolve(0)))
	assert.Error(t, cache.SetProgression(ctx, "p1", progression.Resolve(0)))

	_, err := cache.GetProgression(ctx, "p1")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}
