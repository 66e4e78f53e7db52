package messaging

import (
	"errors"
	"log/slog"
	"time"

	"github.com/lifequest/lifequest-hub/internal/domain/shared"
)

// Middleware decorates an event handler.
type Middleware func(shared.EventHandler) shared.EventHandler

// Chain wraps handler so that middlewares[0] runs first.
func Chain(handler shared.EventHandler, middlewares ...Middleware) shared.EventHandler {
	for i := range middlewares {
		handler = middlewares[len(middlewares)-1-i](handler)
	}
	return handler
}

// LoggingMiddleware logs every handled event: failures at error level, the
// rest at debug.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)

			attrs := []any{"event_type", event.EventType(), "profile_id", event.AggregateID(), "duration", time.Since(start)}
			if c, ok := event.(interface{ Correlation() string }); ok && c.Correlation() != "" {
				attrs = append(attrs, "correlation_id", c.Correlation())
			}
			if err != nil {
				logger.Error("handler failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("handler completed", attrs...)
			}
			return err
		}
	}
}

// FilterMiddleware drops events the predicate rejects without calling next.
func FilterMiddleware(keep func(shared.Event) bool) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			if keep(event) {
				return next(event)
			}
			return nil
		}
	}
}

// SubscribeRecordEvents registers handler for every content record event.
func SubscribeRecordEvents(bus shared.EventSubscriber, handler shared.EventHandler) error {
	var errs []error
	for _, t := range shared.RecordEventTypes() {
		errs = append(errs, bus.Subscribe(t, handler))
	}
	return errors.Join(errs...)
}
