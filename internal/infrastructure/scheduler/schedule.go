package scheduler

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// IntervalSchedule runs a job at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return "@every " + s.Interval.String()
}

// CronExpression is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week.
//
//	"*/15 * * * *" every 15 minutes
//	"0 3 * * *"    every day at 03:00
type CronExpression struct {
	raw    string
	fields [5][]int
}

var cronBounds = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
	{"weekday", 0, 6},
}

// ParseCronExpression parses a cron expression.
// Each field supports *, n, n-m, */s, n-m/s and comma lists of those.
func ParseCronExpression(expr string) (*CronExpression, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("invalid cron expression: expected 5 fields, got %d", len(parts))
	}

	ce := &CronExpression{raw: expr}
	for i, part := range parts {
		b := cronBounds[i]
		values, err := parseCronField(part, b.min, b.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", b.name, err)
		}
		ce.fields[i] = values
	}
	return ce, nil
}

func parseCronField(field string, min, max int) ([]int, error) {
	var out []int
	for _, term := range strings.Split(field, ",") {
		rng, stepText, hasStep := strings.Cut(term, "/")

		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepText)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid step %q", stepText)
			}
			step = n
		}

		lo, hi := min, max
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err error
			if lo, err = strconv.Atoi(a); err != nil {
				return nil, fmt.Errorf("invalid range start %q", a)
			}
			if hi, err = strconv.Atoi(b); err != nil {
				return nil, fmt.Errorf("invalid range end %q", b)
			}
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q", rng)
			}
			lo = v
			if !hasStep {
				hi = v
			}
		}

		if lo < min || hi > max || lo > hi {
			return nil, fmt.Errorf("%q out of range [%d-%d]", term, min, max)
		}
		for v := lo; v <= hi; v += step {
			out = append(out, v)
		}
	}

	slices.Sort(out)
	return slices.Compact(out), nil
}

// String returns the original cron expression.
func (ce *CronExpression) String() string {
	return ce.raw
}

// Next returns the first matching minute strictly after the given time, or the
// zero time when nothing matches within a year.
func (ce *CronExpression) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)

	const horizon = 366 * 24 * 60
	for i := 0; i < horizon; i++ {
		if ce.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

func (ce *CronExpression) matches(t time.Time) bool {
	values := [5]int{t.Minute(), t.Hour(), t.Day(), int(t.Month()), int(t.Weekday())}
	for i, v := range values {
		if _, ok := slices.BinarySearch(ce.fields[i], v); !ok {
			return false
		}
	}
	return true
}

// ParseSchedule accepts a Go duration ("15m"), "@every <duration>" or a cron
// expression.
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	text := strings.TrimPrefix(spec, "@every ")
	if d, err := time.ParseDuration(text); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("invalid schedule %q: interval must be positive", spec)
		}
		return NewIntervalSchedule(d), nil
	}
	return ParseCronExpression(spec)
}
