package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/lifequest/lifequest-hub/internal/infrastructure/messaging"
)

// PubSubClient adapts a go-redis client to messaging.RedisClient.
type PubSubClient struct {
	client *redis.Client

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewPubSubClient wraps an existing client. Closing the adapter closes its
// subscriptions, not the client.
func NewPubSubClient(client *redis.Client) *PubSubClient {
	return &PubSubClient{client: client}
}

// Publish implements messaging.RedisClient.
func (p *PubSubClient) Publish(ctx context.Context, channel string, message any) error {
	return p.client.Publish(ctx, channel, message).Err()
}

// Subscribe implements messaging.RedisClient. The returned channel closes when
// ctx is done or the subscription is closed.
func (p *PubSubClient) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	sub := p.client.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	out := make(chan messaging.RedisMessage)
	go func() {
		defer close(out)
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- toMessage(msg):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close implements messaging.RedisClient.
func (p *PubSubClient) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, sub := range p.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.subs = nil
	return firstErr
}

func toMessage(msg *redis.Message) messaging.RedisMessage {
	return messaging.RedisMessage{
		Channel: msg.Channel,
		Payload: msg.Payload,
	}
}

var _ messaging.RedisClient = (*PubSubClient)(nil)
