// Package retry re-runs operations that failed for a transient reason, with
// doubling delays and jitter. Connection pings to the record store and the
// cache use it, and so does the background profile sync.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRANSIENT ERRORS
// ══════════════════════════════════════════════════════════════════════════════

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as worth another attempt under a policy without a
// ShouldRetry function.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// Always retries every error.
func Always(error) bool { return true }

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

// Policy describes how many attempts are made and how far apart.
// The delay before retry n is Initial * 2^(n-1), capped at Max, then moved by
// up to ±Jitter of itself.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	Jitter   float64

	// ShouldRetry decides whether an error is transient. Nil means IsTransient.
	ShouldRetry func(error) bool

	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Do runs op until it succeeds, returns a non-transient error, the attempts
// run out or ctx is done. The last error from op is returned unwrapped from
// its Transient marker; a context error is returned only if op never ran.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}

	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		last = unmark(err)

		if attempt >= attempts || !shouldRetry(err) {
			return last
		}

		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, last, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last
		case <-timer.C:
		}
	}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	delay := p.Initial
	for i := 1; i < attempt && (p.Max <= 0 || delay < p.Max); i++ {
		delay *= 2
	}
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}

	if p.Jitter > 0 {
		spread := float64(delay) * min(p.Jitter, 1)
		delay += time.Duration(spread * (rand.Float64()*2 - 1))
	}
	return max(delay, 0)
}

func unmark(err error) error {
	if t, ok := err.(*transientError); ok {
		return t.err
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// Connect is the policy for the initial database ping. A freshly started
// Postgres, or the Supabase pooler, often refuses the first connections.
// Only errors marked with Transient are retried.
func Connect(onRetry func(attempt int, err error, delay time.Duration)) Policy {
	return Policy{
		Attempts: 5,
		Initial:  200 * time.Millisecond,
		Max:      5 * time.Second,
		Jitter:   0.1,
		OnRetry:  onRetry,
	}
}

// CachePing is the policy for the initial Redis ping. Redis is optional, so
// it gives up quickly.
func CachePing(onRetry func(attempt int, err error, delay time.Duration)) Policy {
	return Policy{
		Attempts:    3,
		Initial:     100 * time.Millisecond,
		Max:         time.Second,
		Jitter:      0.05,
		ShouldRetry: Always,
		OnRetry:     onRetry,
	}
}

// Sync is the policy for a background profile sync whose write failed.
func Sync(shouldRetry func(error) bool) Policy {
	return Policy{
		Attempts:    3,
		Initial:     250 * time.Millisecond,
		Max:         2 * time.Second,
		Jitter:      0.2,
		ShouldRetry: shouldRetry,
	}
}
