package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	err   error
	block chan struct{}
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "test job" }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

func TestScheduler_Register(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	job := &countingJob{name: "a"}

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(job, nil), ErrNilSchedule)
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Minute)), ErrJobAlreadyExists)

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "@every 1m0s", jobs[0].Schedule)
}

func TestScheduler_RunNow(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	failing := &countingJob{name: "fail", err: errors.New("boom")}
	require.NoError(t, s.Register(failing, NewIntervalSchedule(time.Hour)))

	var completed []JobResult
	s.OnJobComplete(func(r JobResult) { completed = append(completed, r) })

	res, err := s.RunNow(context.Background(), "fail")
	assert.EqualError(t, err, "boom")
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.True(t, res.Manual)
	require.Len(t, completed, 1)

	info := s.ListJobs()[0]
	assert.Equal(t, int64(1), info.RunCount)
	assert.Equal(t, int64(1), info.FailCount)
	require.NotNil(t, info.LastResult)
	assert.Equal(t, "fail", info.LastResult.JobName)
	assert.False(t, info.Running)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_RunsDueJobsWithoutOverlap(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())

	job := &countingJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Millisecond)))
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), job.runs.Load())

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobRunning)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}

func TestScheduler_RegisterAfterStart(t *testing.T) {
	s := NewScheduler(SchedulerConfig{Timezone: time.FixedZone("ALMT", 5*60*60)})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	var done atomic.Int32
	s.OnJobComplete(func(JobResult) { done.Add(1) })

	job := &countingJob{name: "late"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Millisecond)))

	require.Eventually(t, func() bool { return done.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, s.ListJobs()[0].RunCount, int64(2))
}

func TestParseSchedule(t *testing.T) {
	sch, err := ParseSchedule("15m")
	require.NoError(t, err)
	assert.Equal(t, "@every 15m0s", sch.String())

	sch, err = ParseSchedule("@every 1h")
	require.NoError(t, err)
	assert.IsType(t, &IntervalSchedule{}, sch)

	sch, err = ParseSchedule("*/15 * * * *")
	require.NoError(t, err)
	assert.IsType(t, &CronExpression{}, sch)

	_, err = ParseSchedule("-5m")
	assert.Error(t, err)
	_, err = ParseSchedule("not a schedule")
	assert.Error(t, err)
}

func TestCronExpression_Next(t *testing.T) {
	base := time.Date(2026, 3, 10, 14, 7, 30, 0, time.UTC) // Tuesday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"*/15 * * * *", time.Date(2026, 3, 10, 14, 15, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC)},
		{"30 9 * * 1-5", time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"8,20 14 * * *", time.Date(2026, 3, 10, 14, 8, 0, 0, time.UTC)},
		{"5/20 * * * *", time.Date(2026, 3, 10, 14, 25, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			ce, err := ParseCronExpression(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ce.Next(base))
		})
	}
}

func TestParseCronExpression_Invalid(t *testing.T) {
	for _, expr := range []string{
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
	} {
		_, err := ParseCronExpression(expr)
		assert.Error(t, err, expr)
	}
}
