// Package resilient decorates a RecordStore with a circuit breaker.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lifequest/lifequest-hub/internal/domain/content"
	"github.com/lifequest/lifequest-hub/internal/domain/shared"
	"github.com/lifequest/lifequest-hub/pkg/circuitbreaker"
)

// RecordStore forwards every call through a circuit breaker. While the circuit
// is open calls fail fast with an error matching shared.ErrServiceUnavailable.
type RecordStore struct {
	next    content.RecordStore
	breaker *circuitbreaker.CircuitBreaker
}

// NewRecordStore wraps next. A nil breaker gets circuitbreaker.RecordStoreBreaker
// with state changes logged to logger.
func NewRecordStore(next content.RecordStore, breaker *circuitbreaker.CircuitBreaker, logger *slog.Logger) *RecordStore {
	if logger == nil {
		logger = slog.Default()
	}
	if breaker == nil {
		breaker = circuitbreaker.RecordStoreBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		}, IsStoreFailure)
	}
	return &RecordStore{next: next, breaker: breaker}
}

// IsStoreFailure reports whether err says something about the store's health.
// Answers from a healthy store (missing table, missing row, rejected input) and
// caller cancellations do not count.
func IsStoreFailure(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, content.ErrNotFound),
		errors.Is(err, content.ErrCollectionMissing),
		errors.Is(err, content.ErrUnknownCollection),
		errors.Is(err, content.ErrInvalidField),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Breaker exposes the breaker for health reporting.
func (s *RecordStore) Breaker() *circuitbreaker.CircuitBreaker {
	return s.breaker
}

// QueryCollection implements content.RecordStore.
func (s *RecordStore) QueryCollection(ctx context.Context, collection string, q content.Query) ([]content.Record, error) {
	var out []content.Record
	err := s.execute(ctx, "QueryCollection", func(ctx context.Context) error {
		var err error
		out, err = s.next.QueryCollection(ctx, collection, q)
		return err
	})
	return out, err
}

// ReadSingleton implements content.RecordStore.
func (s *RecordStore) ReadSingleton(ctx context.Context, collection string) (content.Record, error) {
	var out content.Record
	err := s.execute(ctx, "ReadSingleton", func(ctx context.Context) error {
		var err error
		out, err = s.next.ReadSingleton(ctx, collection)
		return err
	})
	return out, err
}

// ReadByID implements content.RecordStore.
func (s *RecordStore) ReadByID(ctx context.Context, collection, id string) (content.Record, error) {
	var out content.Record
	err := s.execute(ctx, "ReadByID", func(ctx context.Context) error {
		var err error
		out, err = s.next.ReadByID(ctx, collection, id)
		return err
	})
	return out, err
}

// UpdateRecord implements content.RecordStore.
func (s *RecordStore) UpdateRecord(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.execute(ctx, "UpdateRecord", func(ctx context.Context) error {
		return s.next.UpdateRecord(ctx, collection, id, fields)
	})
}

func (s *RecordStore) execute(ctx context.Context, op string, fn func(context.Context) error) error {
	err := s.breaker.Execute(ctx, fn)
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return shared.WrapError("content", op, shared.ErrServiceUnavailable, "record store unavailable", err)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Compile-time check.
var _ content.RecordStore = (*RecordStore)(nil)
