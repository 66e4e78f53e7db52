// Package handlers contains the reusable pieces of the HTTP layer: health
// checking and request middleware.
package handlers

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthChecker reports whether the service and its backing stores are usable.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc probes one dependency; a non-nil error marks it down.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the body of /health and /ready.
//
// Healthy drops only when a critical dependency is down, so liveness probes do
// not restart the API because Redis went away. Ready drops on any failure.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Ready     bool                   `json:"ready"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type probe struct {
	fn       HealthCheckFunc
	critical bool
}

// CompositeHealthChecker fans out to every registered probe with a per-probe
// deadline. The record store is registered as critical; the cache, fan-out and
// breaker state are optional.
type CompositeHealthChecker struct {
	started time.Time
	version string

	mu      sync.RWMutex
	probes  map[string]probe
	timeout time.Duration
}

func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		started: time.Now(),
		version: version,
		probes:  make(map[string]probe),
		timeout: 3 * time.Second,
	}
}

// SetTimeout bounds each probe.
func (c *CompositeHealthChecker) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// AddCheck registers a critical probe, replacing any probe of the same name.
func (c *CompositeHealthChecker) AddCheck(name string, fn HealthCheckFunc) {
	c.set(name, probe{fn: fn, critical: true})
}

// AddOptionalCheck registers a probe whose failure only affects readiness.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, fn HealthCheckFunc) {
	c.set(name, probe{fn: fn})
}

func (c *CompositeHealthChecker) RemoveCheck(name string) {
	c.mu.Lock()
	delete(c.probes, name)
	c.mu.Unlock()
}

func (c *CompositeHealthChecker) set(name string, p probe) {
	c.mu.Lock()
	c.probes[name] = p
	c.mu.Unlock()
}

// Check runs all probes concurrently and aggregates them.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	probes := maps.Clone(c.probes)
	timeout := c.timeout
	c.mu.RUnlock()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
	if len(probes) == 0 {
		status.Message = "No health checks registered"
		return status
	}

	var mu sync.Mutex
	results := make(map[string]CheckResult, len(probes))

	// Probes report through results, never through the group error, so one
	// failure does not cancel the others.
	var g errgroup.Group
	for name, p := range probes {
		g.Go(func() error {
			res := p.run(ctx, timeout)
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status.Checks = results
	var down []string
	for _, name := range slices.Sorted(maps.Keys(results)) {
		res := results[name]
		if res.Healthy {
			continue
		}
		down = append(down, name)
		status.Ready = false
		status.Healthy = status.Healthy && !res.Critical
	}
	if len(down) == 0 {
		status.Message = "All checks passed"
	} else {
		status.Message = "Some checks failed: " + strings.Join(down, ", ")
	}
	return status
}

func (p probe) run(ctx context.Context, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := p.fn(ctx)
	res := CheckResult{
		Healthy:  err == nil,
		Critical: p.critical,
		Message:  "OK",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}

// Pinger is implemented by the record stores and the redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingCheck adapts a Pinger.
func NewPingCheck(p Pinger) HealthCheckFunc { return p.Ping }
