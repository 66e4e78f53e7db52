// Package scheduler runs LifeQuest background jobs, such as the periodic profile
// resync that heals syncs lost by the fire-and-forget trigger.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Job is a unit of background work. Run's context is cancelled on Stop.
type Job interface {
	Name() string
	Description() string
	Run(ctx context.Context) error
}

// Schedule yields the run times of a job.
type Schedule interface {
	// Next returns the first run time strictly after t.
	Next(t time.Time) time.Time
	String() string
}

// JobResult describes one run.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
	Manual      bool
}

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrJobRunning              = errors.New("job is already running")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// SchedulerConfig configures NewScheduler.
type SchedulerConfig struct {
	Logger *slog.Logger

	// Timezone is the zone schedules are evaluated in (default UTC), so a
	// "0 3 * * *" cron fires at 03:00 local time.
	Timezone *time.Location
}

// DefaultSchedulerConfig evaluates schedules in UTC.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Logger: slog.Default(), Timezone: time.UTC}
}

// Scheduler runs each registered job on its own timer. A job never overlaps
// itself: a due time that finds it running (e.g. a manual run) is skipped.
type Scheduler struct {
	logger *slog.Logger
	loc    *time.Location

	mu         sync.Mutex
	jobs       map[string]*entry
	onComplete func(JobResult)
	ctx        context.Context
	cancel     context.CancelFunc
	startedAt  time.Time
	loops      sync.WaitGroup
}

type entry struct {
	job      Job
	schedule Schedule

	// guarded by Scheduler.mu
	running   bool
	nextRun   time.Time
	lastRun   time.Time
	runs      int64
	failures  int64
	lastState *JobResult
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	return &Scheduler{
		logger: cfg.Logger.With("component", "scheduler"),
		loc:    cfg.Timezone,
		jobs:   make(map[string]*entry),
	}
}

// Register adds a job. Jobs registered after Start begin at once.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	e := &entry{job: job, schedule: schedule, nextRun: schedule.Next(s.now())}
	s.jobs[name] = e
	s.logger.Info("job registered", "job", name, "schedule", schedule.String(), "next_run", e.nextRun.Format(time.RFC3339))

	if s.ctx != nil {
		s.spawn(e)
	}
	return nil
}

// OnJobComplete sets a callback invoked after every run, scheduled or manual.
func (s *Scheduler) OnJobComplete(fn func(JobResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = fn
}

func (s *Scheduler) now() time.Time { return time.Now().In(s.loc) }

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start launches one loop per job. ctx bounds every run.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return ErrSchedulerAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.startedAt = time.Now()
	for _, e := range s.jobs {
		s.spawn(e)
	}
	s.logger.Info("scheduler started", "jobs_count", len(s.jobs))
	return nil
}

// Stop cancels running jobs and waits for every loop to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.cancel()
	s.ctx, s.cancel = nil, nil
	s.mu.Unlock()

	s.loops.Wait()
	s.logger.Info("scheduler stopped", "uptime", time.Since(s.startedAt).String())
	return nil
}

// IsRunning reports whether Start was called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx != nil
}

// spawn starts e's loop. Callers hold mu.
func (s *Scheduler) spawn(e *entry) {
	ctx := s.ctx
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		s.loop(ctx, e)
	}()
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	for {
		s.mu.Lock()
		wait := time.Until(e.nextRun)
		s.mu.Unlock()

		timer := time.NewTimer(max(wait, 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		now := s.now()
		s.mu.Lock()
		e.nextRun = e.schedule.Next(now)
		busy := e.running
		if !busy {
			e.running = true
			e.lastRun = now
		}
		s.mu.Unlock()

		if busy {
			s.logger.Warn("job still running, skipping run", "job", e.job.Name())
			continue
		}
		s.execute(ctx, e, false)
	}
}

// RunNow runs a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*JobResult, error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	switch {
	case !ok:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	case e.running:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	e.running = true
	e.lastRun = s.now()
	s.mu.Unlock()

	result := s.execute(ctx, e, true)
	return &result, result.Error
}

// execute runs e, which the caller has marked running.
func (s *Scheduler) execute(ctx context.Context, e *entry, manual bool) JobResult {
	log := s.logger.With("job", e.job.Name(), "manual", manual)
	log.Info("job started")

	start := time.Now()
	err := e.job.Run(ctx)
	end := time.Now()
	result := JobResult{
		JobName:     e.job.Name(),
		StartedAt:   start,
		CompletedAt: end,
		Duration:    end.Sub(start),
		Success:     err == nil,
		Error:       err,
		Manual:      manual,
	}

	s.mu.Lock()
	e.running = false
	e.runs++
	if err != nil {
		e.failures++
	}
	e.lastState = &result
	hook := s.onComplete
	s.mu.Unlock()

	if err != nil {
		log.Error("job failed", "duration", result.Duration.String(), "error", err)
	} else {
		log.Info("job completed", "duration", result.Duration.String())
	}
	if hook != nil {
		hook(result)
	}
	return result
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo is the status of a registered job.
type JobInfo struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Schedule    string     `json:"schedule"`
	Running     bool       `json:"running"`
	LastRun     time.Time  `json:"last_run"`
	NextRun     time.Time  `json:"next_run"`
	RunCount    int64      `json:"run_count"`
	FailCount   int64      `json:"fail_count"`
	LastResult  *JobResult `json:"-"`
}

// ListJobs returns every job, sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		out = append(out, JobInfo{
			Name:        name,
			Description: e.job.Description(),
			Schedule:    e.schedule.String(),
			Running:     e.running,
			LastRun:     e.lastRun,
			NextRun:     e.nextRun,
			RunCount:    e.runs,
			FailCount:   e.failures,
			LastResult:  e.lastState,
		})
	}
	slices.SortFunc(out, func(a, b JobInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}
