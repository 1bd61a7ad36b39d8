package jsonutil

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// String converts a decoded JSON value to a string. Integral numbers are
// rendered without a decimal point so platform ids survive float64 decoding.
func String(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return String(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Float converts a decoded JSON value to float64. Strings are parsed after
// stripping a leading currency sign. Returns false when no number is present
// or the number is NaN or infinite.
func Float(v any) (float64, bool) {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "$"))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// FloatOr returns the converted value or def when v is not numeric.
func FloatOr(v any, def float64) float64 {
	if f, ok := Float(v); ok {
		return f
	}
	return def
}

// Int converts a decoded JSON value to int, truncating fractions.
func Int(v any) (int, bool) {
	f, ok := Float(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// IntOr returns the converted value or def when v is not numeric.
func IntOr(v any, def int) int {
	if i, ok := Int(v); ok {
		return i
	}
	return def
}

// Bool converts a decoded JSON value to bool. Returns false when v is not a bool
// or a recognizable boolean string.
func Bool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	default:
		return false, false
	}
}
