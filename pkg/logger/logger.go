// Package logger is the structured request logger of the LifeQuest HTTP API.
// Entries are written as one JSON object per line, or as key=value text for
// local runs.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level is the severity of an entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel reads LOG_LEVEL values. Anything unrecognised is info.
func ParseLevel(s string) Level {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "WARNING" {
		return LevelWarn
	}
	for i, name := range levelNames {
		if name == s {
			return Level(i)
		}
	}
	return LevelInfo
}

// Format selects the output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIELDS
// ══════════════════════════════════════════════════════════════════════════════

// Field is one key/value pair of an entry.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field  { return Field{key, value} }
func Int(key string, value int) Field { return Field{key, value} }
func Any(key string, value any) Field { return Field{key, value} }

// Duration renders d with time.Duration.String.
func Duration(key string, d time.Duration) Field { return Field{key, d.String()} }

// Err is the "error" field; a nil error is logged as null.
func Err(err error) Field {
	if err == nil {
		return Field{"error", nil}
	}
	return Field{"error", err.Error()}
}

// RequestIDKey is the field set by WithRequestID.
const RequestIDKey = "request_id"

func ProfileID(id string) Field     { return String("profile_id", id) }
func Collection(name string) Field  { return String("collection", name) }
func RecordID(id string) Field      { return String("record_id", id) }
func XPAmount(xp int) Field         { return Int("xp_amount", xp) }
func CharacterLevel(n int) Field    { return Int("level", n) }
func RankLetter(rank string) Field  { return String("rank", rank) }
func Component(name string) Field   { return String("component", name) }
func Latency(d time.Duration) Field { return Duration("latency", d) }

// ══════════════════════════════════════════════════════════════════════════════
// LOGGER
// ══════════════════════════════════════════════════════════════════════════════

// LogEntry is the JSON shape of one line.
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Caller    string         `json:"caller,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Options configures New.
type Options struct {
	Output    io.Writer
	Format    Format
	Level     Level
	AddCaller bool
}

// DefaultOptions writes JSON at info level to stdout with caller info.
func DefaultOptions() Options {
	return Options{Output: os.Stdout, Format: FormatJSON, Level: LevelInfo, AddCaller: true}
}

// sink is shared by a logger and everything derived from it.
type sink struct {
	mu        sync.Mutex
	out       io.Writer
	text      bool
	min       Level
	addCaller bool
}

// Logger writes entries carrying its bound fields. Safe for concurrent use.
type Logger struct {
	sink   *sink
	fields []Field
}

// New creates a logger. A nil output is stdout; an unknown format is JSON.
func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	return &Logger{sink: &sink{
		out:       out,
		text:      opts.Format == FormatText,
		min:       opts.Level,
		addCaller: opts.AddCaller,
	}}
}

// Default is New(DefaultOptions()).
func Default() *Logger { return New(DefaultOptions()) }

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields ...Field) *Logger {
	bound := make([]Field, 0, len(l.fields)+len(fields))
	bound = append(append(bound, l.fields...), fields...)
	return &Logger{sink: l.sink, fields: bound}
}

// WithRequestID binds the request_id field.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.With(String(RequestIDKey, requestID))
}

func (l *Logger) Debug(msg string, fields ...Field) { l.write(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.write(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.write(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.write(LevelError, msg, fields) }

// write must be called directly from a level method for the caller to be right.
func (l *Logger) write(level Level, msg string, fields []Field) {
	s := l.sink
	if level < s.min {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   msg,
	}
	if s.addCaller {
		if _, file, line, ok := runtime.Caller(2); ok {
			entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
		}
	}

	all := append(append(make([]Field, 0, len(l.fields)+len(fields)), l.fields...), fields...)

	var line []byte
	if s.text {
		line = []byte(textLine(entry, all))
	} else {
		if len(all) > 0 {
			entry.Fields = make(map[string]any, len(all))
			for _, f := range all {
				entry.Fields[f.Key] = f.Value
			}
		}
		var err error
		if line, err = json.Marshal(entry); err != nil {
			line = []byte(fmt.Sprintf(`{"timestamp":%q,"level":%q,"message":%q}`, entry.Timestamp, entry.Level, msg))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.out.Write(append(line, '\n'))
}

// textLine renders "time LEVEL message key=value ...", fields in the order
// they were bound. A later field with the same key wins.
func textLine(e LogEntry, fields []Field) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s", e.Timestamp, e.Level, e.Message)

	seen := make(map[string]int, len(fields))
	var keys []string
	var values []any
	for _, f := range fields {
		if i, ok := seen[f.Key]; ok {
			values[i] = f.Value
			continue
		}
		seen[f.Key] = len(keys)
		keys = append(keys, f.Key)
		values = append(values, f.Value)
	}
	for i, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, values[i])
	}
	if e.Caller != "" {
		b.WriteString(" caller=" + e.Caller)
	}
	return b.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT
// ══════════════════════════════════════════════════════════════════════════════

type ctxKey struct{}

// WithContext attaches l to ctx.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or Default.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}
