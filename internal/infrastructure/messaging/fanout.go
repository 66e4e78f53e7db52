package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lifequest/lifequest-hub/internal/domain/shared"
)

// ErrEventNotSupported is returned for event types the Redis bus cannot rebuild.
var ErrEventNotSupported = errors.New("event type not supported")

// RedisClient is the Pub/Sub surface the fan-out bus needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message any) error
	Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error)
	Close() error
}

// RedisMessage is one Pub/Sub delivery, or a subscription error.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBusConfig configures NewRedisEventBus.
type RedisEventBusConfig struct {
	Client RedisClient

	// ChannelName defaults to "lifequest:events".
	ChannelName string

	// InstanceID tags outgoing envelopes so a process skips its own echo.
	// Defaults to a random UUID.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig
	Logger         *slog.Logger
}

// RedisEventBus delivers every event to local handlers and to the handlers of
// every other process subscribed to the same channel.
type RedisEventBus struct {
	client   RedisClient
	local    *InMemoryEventBus
	channel  string
	instance string
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	loop   sync.WaitGroup
	once   sync.Once
}

// NewRedisEventBus subscribes to the channel and starts relaying remote events.
// The bus owns the client and closes it on Close.
func NewRedisEventBus(cfg RedisEventBusConfig) (*RedisEventBus, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.ChannelName == "" {
		cfg.ChannelName = "lifequest:events"
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LocalBusConfig.Logger == nil {
		cfg.LocalBusConfig.Logger = cfg.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := cfg.Client.Subscribe(ctx, cfg.ChannelName)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.ChannelName, err)
	}

	b := &RedisEventBus{
		client:   cfg.Client,
		local:    NewInMemoryEventBus(cfg.LocalBusConfig),
		channel:  cfg.ChannelName,
		instance: cfg.InstanceID,
		logger:   cfg.Logger.With("component", "redis_event_bus", "instance", cfg.InstanceID),
		ctx:      ctx,
		cancel:   cancel,
	}
	b.loop.Add(1)
	go b.relay(messages)
	return b, nil
}

func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.local.SubscribeAll(handler)
}

// Publish delivers locally and to Redis. A failed Redis publish is logged;
// local handlers still run.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}
	if b.ctx.Err() != nil {
		return ErrEventBusClosed
	}

	data, err := json.Marshal(wrap(b.instance, event))
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.EventType(), err)
	}
	if err := b.client.Publish(b.ctx, b.channel, string(data)); err != nil {
		b.logger.Error("failed to publish to redis", "event_type", event.EventType(), "error", err)
	}
	return b.local.Publish(event)
}

func (b *RedisEventBus) relay(messages <-chan RedisMessage) {
	defer b.loop.Done()
	for {
		var msg RedisMessage
		var ok bool
		select {
		case <-b.ctx.Done():
			return
		case msg, ok = <-messages:
			if !ok {
				return
			}
		}

		if msg.Err != nil {
			b.logger.Error("redis subscription error", "error", msg.Err)
			continue
		}
		event, err := b.unwrap(msg.Payload)
		if err != nil {
			b.logger.Warn("dropping remote event", "error", err)
			continue
		}
		if event == nil {
			continue
		}
		if err := b.local.Publish(event); err != nil {
			b.logger.Error("failed to process remote event", "event_type", event.EventType(), "error", err)
		}
	}
}

// unwrap returns nil without error for this instance's own echo.
func (b *RedisEventBus) unwrap(payload string) (shared.Event, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.InstanceID == b.instance {
		return nil, nil
	}
	return env.decode()
}

// Close stops the relay, drains local handlers and closes the client.
func (b *RedisEventBus) Close() error {
	var err error
	b.once.Do(func() {
		b.cancel()
		b.loop.Wait()
		err = errors.Join(b.local.Close(), b.client.Close())
		b.logger.Info("redis event bus closed")
	})
	return err
}

// Stats returns the local bus counters; remote deliveries count as published.
func (b *RedisEventBus) Stats() Stats { return b.local.Stats() }

var _ shared.EventBus = (*RedisEventBus)(nil)

// ══════════════════════════════════════════════════════════════════════════════
// ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// envelope is the JSON form of an event on the Redis channel.
type envelope struct {
	InstanceID    string           `json:"instance_id"`
	EventType     shared.EventType `json:"event_type"`
	AggregateID   string           `json:"aggregate_id"`
	CorrelationID string           `json:"correlation_id,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
	Payload       payload          `json:"payload"`
}

func wrap(instance string, event shared.Event) envelope {
	env := envelope{
		InstanceID:  instance,
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	}
	if c, ok := event.(interface{ Correlation() string }); ok {
		env.CorrelationID = c.Correlation()
	}
	return env
}

// payload reads values back out of a decoded JSON object.
type payload map[string]any

func (p payload) str(key string) string {
	s, _ := p[key].(string)
	return s
}

// num reads a JSON number, which decodes as float64.
func (p payload) num(key string) int {
	f, _ := p[key].(float64)
	return int(f)
}

// decoders rebuild the typed event so remote handlers can type-assert it as if
// it had been published in this process.
var decoders = map[shared.EventType]func(shared.BaseEvent, payload) shared.Event{
	shared.EventProfileSynced: func(base shared.BaseEvent, p payload) shared.Event {
		return shared.ProfileSyncedEvent{BaseEvent: base, Level: p.num("level"), XP: p.num("xp"), Rank: p.str("rank"), TotalXP: p.num("total_xp")}
	},
	shared.EventLevelChanged: func(base shared.BaseEvent, p payload) shared.Event {
		return shared.LevelChangedEvent{BaseEvent: base, OldLevel: p.num("old_level"), NewLevel: p.num("new_level")}
	},
	shared.EventRankChanged: func(base shared.BaseEvent, p payload) shared.Event {
		return shared.RankChangedEvent{BaseEvent: base, OldRank: p.str("old_rank"), NewRank: p.str("new_rank")}
	},
}

func init() {
	for _, t := range shared.RecordEventTypes() {
		decoders[t] = func(base shared.BaseEvent, p payload) shared.Event {
			return shared.RecordChangedEvent{BaseEvent: base, Collection: p.str("collection"), RecordID: p.str("record_id")}
		}
	}
}

func (e envelope) decode() (shared.Event, error) {
	decode, ok := decoders[e.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEventNotSupported, e.EventType)
	}
	return decode(shared.BaseEvent{
		Type:          e.EventType,
		At:            e.OccurredAt,
		ProfileID:     e.AggregateID,
		Version:       1,
		CorrelationID: e.CorrelationID,
	}, e.Payload), nil
}
