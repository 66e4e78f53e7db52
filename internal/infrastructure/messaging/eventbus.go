// Package messaging implements the event buses that carry record changes to the
// profile sync: an in-memory bus for a single process and a Redis Pub/Sub bus
// for the API and worker running as separate processes.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/lifequest/lifequest-hub/internal/domain/shared"
)

var (
	// ErrEventBusClosed is returned by Publish and Subscribe after Close.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("handler panicked")

	errNilHandler = errors.New("handler cannot be nil")
	errNilEvent   = errors.New("event cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// Stats counts bus traffic since start.
type Stats struct {
	Published int64 `json:"published"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}

// SuccessRate is the share of deliveries whose handler returned nil; 1 before
// any delivery.
func (s Stats) SuccessRate() float64 {
	if s.Delivered == 0 {
		return 1
	}
	return float64(s.Delivered-s.Failed) / float64(s.Delivered)
}

type counters struct {
	published, delivered, failed atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{Published: c.published.Load(), Delivered: c.delivered.Load(), Failed: c.failed.Load()}
}

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig configures NewInMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on goroutines and returns from Publish at once.
	AsyncMode bool

	// Workers bounds concurrently running async handlers.
	Workers int64

	Logger *slog.Logger
}

// DefaultInMemoryEventBusConfig runs up to four handlers concurrently.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{AsyncMode: true, Workers: 4}
}

// InMemoryEventBus delivers events to handlers in the same process.
type InMemoryEventBus struct {
	async  bool
	slots  *semaphore.Weighted
	logger *slog.Logger
	stats  counters

	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	wildcard []shared.EventHandler
	closed   bool

	// stop cancels handlers still waiting for a slot when the bus closes.
	stopCtx context.Context
	stop    context.CancelFunc
	running sync.WaitGroup
}

// NewInMemoryEventBus creates a bus.
func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryEventBus{
		async:   cfg.AsyncMode,
		slots:   semaphore.NewWeighted(cfg.Workers),
		logger:  cfg.Logger.With("component", "event_bus"),
		byType:  make(map[shared.EventType][]shared.EventHandler),
		stopCtx: ctx,
		stop:    cancel,
	}
}

// Subscribe registers handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.register(handler, func() { b.byType[eventType] = append(b.byType[eventType], handler) })
}

// SubscribeAll registers handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.register(handler, func() { b.wildcard = append(b.wildcard, handler) })
}

func (b *InMemoryEventBus) register(handler shared.EventHandler, add func()) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	add()
	return nil
}

// Publish delivers event to the handlers of its type, then to the wildcard
// handlers. Handler failures are logged and counted, never returned.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	targets := append(append([]shared.EventHandler(nil), b.byType[event.EventType()]...), b.wildcard...)
	if b.async {
		// Added under the read lock so Close cannot start waiting in between.
		b.running.Add(len(targets))
	}
	b.mu.RUnlock()

	b.stats.published.Add(1)

	for _, h := range targets {
		if !b.async {
			b.deliver(event, h)
			continue
		}
		go func() {
			defer b.running.Done()
			if err := b.slots.Acquire(b.stopCtx, 1); err != nil {
				return
			}
			defer b.slots.Release(1)
			b.deliver(event, h)
		}()
	}
	return nil
}

func (b *InMemoryEventBus) deliver(event shared.Event, handler shared.EventHandler) {
	stack, err := runHandler(event, handler)
	b.stats.delivered.Add(1)
	if err == nil {
		return
	}
	b.stats.failed.Add(1)

	attrs := []any{"event_type", event.EventType(), "aggregate_id", event.AggregateID(), "error", err}
	if stack != nil {
		attrs = append(attrs, "stack", string(stack))
	}
	b.logger.Error("event handler failed", attrs...)
}

// runHandler turns a panic into ErrHandlerPanic and returns the panic's stack.
func runHandler(event shared.Event, handler shared.EventHandler) (stack []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack, err = debug.Stack(), fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return nil, handler(event)
}

// Close stops accepting events, drops handlers still waiting for a slot and
// waits for running ones.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.stop()
	b.running.Wait()
	b.logger.Info("event bus closed", "published", b.stats.published.Load())
	return nil
}

// Stats returns the traffic counters.
func (b *InMemoryEventBus) Stats() Stats { return b.stats.snapshot() }

var _ shared.EventBus = (*InMemoryEventBus)(nil)
