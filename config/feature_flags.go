package config

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"
)

// Flag names. The progression itself is never behind a flag.
const (
	// FeatureSyncOnRecordChange runs a profile sync after every record write.
	FeatureSyncOnRecordChange = "sync.on_record_change"

	// FeatureScheduledResync runs the periodic resync job in the worker.
	FeatureScheduledResync = "sync.scheduled_resync"

	// FeatureProgressionCache writes synced snapshots to Redis for display.
	FeatureProgressionCache = "progression.cache"

	// FeatureRedisFanout carries record-change events between instances over Redis.
	FeatureRedisFanout = "events.redis_fanout"
)

var ErrFeatureNotFound = errors.New("feature not found")

// catalog lists every known flag; all default to on.
var catalog = []Feature{
	{Name: FeatureSyncOnRecordChange, Description: "Sync the profile after every record write"},
	{Name: FeatureScheduledResync, Description: "Periodically resync every profile"},
	{Name: FeatureProgressionCache, Description: "Cache synced progression in Redis"},
	{Name: FeatureRedisFanout, Description: "Fan record-change events out over Redis pub/sub"},
}

// Feature is one toggle. A zero From or Until leaves that side of the window open.
type Feature struct {
	Name        string
	Description string
	Enabled     bool
	From        time.Time
	Until       time.Time
}

func (f Feature) activeAt(t time.Time) bool {
	return f.Enabled &&
		(f.From.IsZero() || !t.Before(f.From)) &&
		(f.Until.IsZero() || !t.After(f.Until))
}

// EnvKey is the variable overriding the flag, e.g. FEATURE_SYNC_ON_RECORD_CHANGE.
func (f Feature) EnvKey() string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(f.Name, ".", "_"))
}

// FeatureFlags holds runtime toggles for the optional parts of the system.
type FeatureFlags struct {
	mu    sync.RWMutex
	flags map[string]Feature
	now   func() time.Time
}

// NewFeatureFlags returns the catalog with every flag on.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{flags: make(map[string]Feature, len(catalog)), now: time.Now}
	for _, f := range catalog {
		f.Enabled = true
		ff.flags[f.Name] = f
	}
	return ff
}

// LoadFeatureFlags applies FEATURE_* overrides. Unparsable values are ignored.
func LoadFeatureFlags() *FeatureFlags {
	return loadFeatureFlags(&envReader{})
}

func loadFeatureFlags(env *envReader) *FeatureFlags {
	ff := NewFeatureFlags()
	for name, f := range ff.flags {
		f.Enabled = env.bool(f.EnvKey(), f.Enabled)
		ff.flags[name] = f
	}
	return ff
}

// IsEnabled reports whether the flag is on now. Unknown flags are off.
func (ff *FeatureFlags) IsEnabled(name string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	f, ok := ff.flags[name]
	return ok && f.activeAt(ff.now())
}

func (ff *FeatureFlags) SetEnabled(name string, enabled bool) error {
	return ff.update(name, func(f *Feature) { f.Enabled = enabled })
}

// SetWindow limits a flag to [from, until].
func (ff *FeatureFlags) SetWindow(name string, from, until time.Time) error {
	return ff.update(name, func(f *Feature) { f.From, f.Until = from, until })
}

func (ff *FeatureFlags) update(name string, fn func(*Feature)) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	f, ok := ff.flags[name]
	if !ok {
		return ErrFeatureNotFound
	}
	fn(&f)
	ff.flags[name] = f
	return nil
}

// List returns every flag sorted by name.
func (ff *FeatureFlags) List() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	out := make([]Feature, 0, len(ff.flags))
	for _, f := range ff.flags {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b Feature) int { return strings.Compare(a.Name, b.Name) })
	return out
}
