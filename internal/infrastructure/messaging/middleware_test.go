package messaging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifequest/lifequest-hub/internal/domain/shared"
)

func TestChain_Order(t *testing.T) {
	var trace []string
	tag := func(name string) Middleware {
		return func(next shared.EventHandler) shared.EventHandler {
			return func(e shared.Event) error {
				trace = append(trace, name)
				return next(e)
			}
		}
	}

	h := Chain(func(shared.Event) error {
		trace = append(trace, "handler")
		return nil
	}, tag("outer"), tag("inner"))

	require.NoError(t, h(shared.NewLevelChangedEvent("p1", 1, 2)))
	assert.Equal(t, []string{"outer", "inner", "handler"}, trace)
}

func TestFilterMiddleware(t *testing.T) {
	calls := 0
	h := Chain(func(shared.Event) error {
		calls++
		return errors.New("boom")
	}, FilterMiddleware(func(e shared.Event) bool { return e.AggregateID() == "p1" }))

	assert.NoError(t, h(shared.NewLevelChangedEvent("p2", 1, 2)))
	assert.Error(t, h(shared.NewLevelChangedEvent("p1", 1, 2)))
	assert.Equal(t, 1, calls)
}

func TestSubscribeRecordEvents(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	calls := 0
	require.NoError(t, SubscribeRecordEvents(bus, func(shared.Event) error {
		calls++
		return nil
	}))

	for _, et := range shared.RecordEventTypes() {
		require.NoError(t, bus.Publish(shared.NewRecordChangedEvent(et, "", "skills", "s1")))
	}
	require.NoError(t, bus.Publish(shared.NewLevelChangedEvent("", 1, 2)))
	assert.Equal(t, 4, calls)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	event := shared.NewRecordChangedEvent(shared.EventRecordDeleted, "p1", "skills", "s1")
	event.Correlate("req-7")

	h := LoggingMiddleware(log)(func(shared.Event) error { return nil })
	require.NoError(t, h(event))
	assert.Contains(t, buf.String(), "handler completed")
	assert.Contains(t, buf.String(), "correlation_id=req-7")

	buf.Reset()
	h = LoggingMiddleware(log)(func(shared.Event) error { return errors.New("store down") })
	assert.EqualError(t, h(shared.NewLevelChangedEvent("p1", 1, 2)), "store down")
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), `error="store down"`)
	assert.NotContains(t, buf.String(), "correlation_id")
}
