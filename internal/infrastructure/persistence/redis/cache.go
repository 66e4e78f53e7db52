// Package redis implements the Redis side of LifeQuest: the progression display
// cache and the Pub/Sub transport for cross-process record-change events.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lifequest/lifequest-hub/pkg/retry"
)

var (
	// ErrCacheMiss is returned by Get for an absent or expired key.
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrCacheConnection is returned when Redis cannot be reached or configured.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheSerialization wraps JSON encode and decode failures.
	ErrCacheSerialization = errors.New("cache: serialization failed")

	ErrCacheKeyEmpty   = errors.New("cache: key cannot be empty")
	ErrCacheNilValue   = errors.New("cache: value cannot be nil")
	ErrCacheInvalidTTL = errors.New("cache: invalid TTL")
)

// Key layout. The profile singleton is stored under "default".
const (
	PrefixProgression = "lifequest:progression:"
	SingletonKey      = "default"

	// TTLProgression bounds how stale a displayed snapshot may get when syncs
	// stop arriving.
	TTLProgression = 24 * time.Hour
)

// ProgressionKey is the key of a profile's progression snapshot.
func ProgressionKey(profileID string) string {
	if profileID == "" {
		profileID = SingletonKey
	}
	return PrefixProgression + profileID
}

// Config selects the Redis server. URL wins over Host/Port/Password/DB.
// Zero pool and timeout values keep the go-redis defaults.
type Config struct {
	URL      string
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c Config) options() (*redis.Options, error) {
	var opts *redis.Options
	if c.URL != "" {
		parsed, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid url: %v", ErrCacheConnection, err)
		}
		opts = parsed
	} else {
		host, port := c.Host, c.Port
		if host == "" {
			host = "localhost"
		}
		if port == 0 {
			port = 6379
		}
		opts = &redis.Options{
			Addr:     net.JoinHostPort(host, strconv.Itoa(port)),
			Password: c.Password,
			DB:       c.DB,
		}
	}

	for dst, v := range map[*int]int{
		&opts.PoolSize:     c.PoolSize,
		&opts.MinIdleConns: c.MinIdleConns,
		&opts.MaxRetries:   c.MaxRetries,
	} {
		if v > 0 {
			*dst = v
		}
	}
	for dst, v := range map[*time.Duration]time.Duration{
		&opts.DialTimeout:  c.DialTimeout,
		&opts.ReadTimeout:  c.ReadTimeout,
		&opts.WriteTimeout: c.WriteTimeout,
	} {
		if v > 0 {
			*dst = v
		}
	}
	return opts, nil
}

// Cache stores JSON values in Redis.
type Cache struct {
	client *redis.Client
}

// NewCache connects and waits briefly for a ping; Redis is optional, so the
// caller is expected to carry on without it on error.
func NewCache(ctx context.Context, cfg Config, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ping := retry.CachePing(func(attempt int, err error, delay time.Duration) {
		logger.Warn("redis ping failed, retrying", "addr", opts.Addr, "attempt", attempt, "delay", delay, "error", err)
	})
	if err := ping.Do(ctx, func(ctx context.Context) error { return client.Ping(ctx).Err() }); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheConnection, opts.Addr, err)
	}
	return &Cache{client: client}, nil
}

// Client exposes the connection for Pub/Sub.
func (c *Cache) Client() *redis.Client { return c.client }

func (c *Cache) Close() error { return c.client.Close() }

func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// Set stores value as JSON. A zero ttl keeps the key until it is deleted.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := checkSet(key, value, ttl); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Get decodes the JSON stored under key into dest.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCacheSerialization, key, err)
	}
	return nil
}

// Delete removes keys; absent keys are not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func checkSet(key string, value any, ttl time.Duration) error {
	switch {
	case key == "":
		return ErrCacheKeyEmpty
	case value == nil:
		return ErrCacheNilValue
	case ttl < 0:
		return ErrCacheInvalidTTL
	}
	return nil
}
