// Package circuitbreaker stops calls to a record store or cache that keeps
// failing, so a struggling backend is not hammered by every sync and page view
// while it recovers.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the position of the breaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the timeout passes.
	StateOpen
	// StateHalfOpen lets a few trial calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

var (
	// ErrCircuitOpen is returned without calling through while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned when every half-open trial slot is taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// ══════════════════════════════════════════════════════════════════════════════
// OPTIONS
// ══════════════════════════════════════════════════════════════════════════════

type settings struct {
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	halfOpenSlots    int
	onStateChange    func(name string, from, to State)
	isFailure        func(error) bool
	now              func() time.Time
}

// Option configures a breaker.
type Option func(*settings)

// WithFailureThreshold opens the breaker after n consecutive failures (default 5).
func WithFailureThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.failureThreshold = n
		}
	}
}

// WithSuccessThreshold closes a half-open breaker after n consecutive
// successes (default 2).
func WithSuccessThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.successThreshold = n
		}
	}
}

// WithTimeout sets how long the breaker stays open (default 30s).
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxHalfOpenRequests sets the number of concurrent trial calls (default 1).
func WithMaxHalfOpenRequests(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.halfOpenSlots = n
		}
	}
}

// WithOnStateChange registers a transition callback. It runs under the
// breaker's lock and must not call back into the breaker.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(s *settings) { s.onStateChange = fn }
}

// WithIsFailure decides which errors count against the backend. Errors it
// rejects are recorded as successes. Nil counts every error.
func WithIsFailure(fn func(error) bool) Option {
	return func(s *settings) { s.isFailure = fn }
}

// ══════════════════════════════════════════════════════════════════════════════
// BREAKER
// ══════════════════════════════════════════════════════════════════════════════

// CircuitBreaker guards calls to one backend. Safe for concurrent use.
type CircuitBreaker struct {
	name string
	cfg  settings

	mu        sync.Mutex
	state     State
	failures  int // consecutive, while closed
	successes int // consecutive, while half-open
	inFlight  int // trial calls, while half-open
	openedAt  time.Time
}

// Snapshot is a point-in-time view of a breaker for health reporting.
type Snapshot struct {
	Name                string
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// New creates a closed breaker.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := settings{
		failureThreshold: 5,
		successThreshold: 2,
		timeout:          30 * time.Second,
		halfOpenSlots:    1,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{name: name, cfg: cfg}
}

// Execute calls fn unless the breaker rejects the call, and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	halfOpen, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	cb.record(halfOpen, err)
	return err
}

func (cb *CircuitBreaker) admit() (halfOpen bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.now().Sub(cb.openedAt) < cb.cfg.timeout {
			return false, ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
	}

	if cb.state == StateHalfOpen {
		if cb.inFlight >= cb.cfg.halfOpenSlots {
			return false, ErrTooManyRequests
		}
		cb.inFlight++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) record(halfOpen bool, err error) {
	failed := err != nil
	if failed && cb.cfg.isFailure != nil {
		failed = cb.cfg.isFailure(err)
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if halfOpen && cb.inFlight > 0 {
		cb.inFlight--
	}

	switch cb.state {
	case StateClosed:
		if !failed {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.cfg.failureThreshold {
			cb.open()
		}

	case StateHalfOpen:
		if failed {
			cb.open()
			return
		}
		cb.successes++
		if cb.successes >= cb.cfg.successThreshold {
			cb.transition(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.cfg.now()
	cb.transition(StateOpen)
}

// transition resets the per-state counters. Callers hold mu.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.failures, cb.successes, cb.inFlight = 0, 0, 0

	if cb.cfg.onStateChange != nil {
		cb.cfg.onStateChange(cb.name, from, to)
	}
}

// State returns the current state. An open breaker whose timeout has passed
// still reports open until the next call moves it to half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsOpen reports whether calls are currently rejected.
func (cb *CircuitBreaker) IsOpen() bool { return cb.State() == StateOpen }

// IsClosed reports whether the breaker is in its normal state.
func (cb *CircuitBreaker) IsClosed() bool { return cb.State() == StateClosed }

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Snapshot returns the breaker state for health reporting.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Snapshot{Name: cb.name, State: cb.state, ConsecutiveFailures: cb.failures}
	if cb.state != StateClosed {
		s.OpenedAt = cb.openedAt
	}
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// RecordStoreBreaker guards the record store. isFailure should reject answers
// from a healthy store, such as a missing row or an unprovisioned table.
func RecordStoreBreaker(onStateChange func(name string, from, to State), isFailure func(error) bool) *CircuitBreaker {
	return New("record-store",
		WithFailureThreshold(3),
		WithSuccessThreshold(1),
		WithTimeout(10*time.Second),
		WithOnStateChange(onStateChange),
		WithIsFailure(isFailure),
	)
}

// CacheBreaker guards the progression cache.
func CacheBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("progression-cache",
		WithFailureThreshold(5),
		WithSuccessThreshold(1),
		WithTimeout(30*time.Second),
		WithMaxHalfOpenRequests(2),
		WithOnStateChange(onStateChange),
	)
}
