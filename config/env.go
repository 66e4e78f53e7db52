package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// envReader reads typed variables. A set but unparsable variable keeps the
// default and is recorded as a problem rather than silently ignored.
type envReader struct {
	problems []string
}

func (e *envReader) fail(key, raw string, err error) {
	e.problems = append(e.problems, fmt.Sprintf("%s=%q: %v", key, raw, err))
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// parse applies fn to the variable when it is set.
func parse[T any](e *envReader, key string, def T, fn func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := fn(raw)
	if err != nil {
		e.fail(key, raw, err)
		return def
	}
	return v
}

func (e *envReader) bool(key string, def bool) bool {
	return parse(e, key, def, strconv.ParseBool)
}

func (e *envReader) int(key string, def int) int {
	return parse(e, key, def, strconv.Atoi)
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	return parse(e, key, def, time.ParseDuration)
}

// list splits a comma-separated variable, dropping empty items.
func (e *envReader) list(key string, def []string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
