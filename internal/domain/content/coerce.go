package content

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIELD COERCION
// Rows are untyped; every numeric read goes through these helpers so that
// missing, null or non-numeric values become zero instead of poisoning a sum.
// ══════════════════════════════════════════════════════════════════════════════

// Float reads a numeric field. Missing, null, non-numeric, NaN and infinite values
// yield 0.
func (r Record) Float(field string) float64 {
	return toFloat(r[field])
}

// Int reads a numeric field truncated towards zero, with the same coercion as Float.
func (r Record) Int(field string) int {
	f := r.Float(field)
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	if f < math.MinInt32 {
		return math.MinInt32
	}
	return int(f)
}

// Bool reads a flag field. Booleans are used as is; numbers are true when non-zero;
// strings are parsed with strconv.ParseBool. Anything else is false.
func (r Record) Bool(field string) bool {
	switch v := r[field].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	case nil:
		return false
	default:
		return toFloat(v) != 0
	}
}

// Text reads a text field ("" when absent or not a string).
func (r Record) Text(field string) string {
	if s, ok := r[field].(string); ok {
		return s
	}
	return ""
}

// Missing reports whether a field is absent or null.
func (r Record) Missing(field string) bool {
	v, ok := r[field]
	return !ok || v == nil
}

func toFloat(v any) float64 {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		f = parsed
	case []byte:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(string(n)), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
