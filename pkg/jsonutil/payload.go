package jsonutil

// Map returns v as an object, or nil.
func Map(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// List returns v as an array, accepting typed object slices as well.
func List(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	default:
		return nil
	}
}

// Path walks nested objects by key and returns the value found, or nil.
func Path(m map[string]any, keys ...string) any {
	var cur any = m
	for _, k := range keys {
		obj := Map(cur)
		if obj == nil {
			return nil
		}
		cur = obj[k]
	}
	return cur
}

// FirstString returns the first non-empty string form among keys.
func FirstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := String(m[k]); s != "" {
			return s
		}
	}
	return ""
}

// FirstFloat returns the first non-zero number among keys.
// Zero is treated as absent so a zero primary field falls through to its alias.
func FirstFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if f, ok := Float(m[k]); ok && f != 0 {
			return f, true
		}
	}
	return 0, false
}

// Objects returns the object elements of an array, skipping anything else.
func Objects(v any) []map[string]any {
	items := List(v)
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m := Map(item); m != nil {
			out = append(out, m)
		}
	}
	return out
}

// ExtractList finds the item array in a platform response. A bare array is
// returned as is; otherwise the first key holding an array wins.
func ExtractList(data any, keys ...string) []map[string]any {
	if items := List(data); items != nil {
		return Objects(items)
	}
	m := Map(data)
	if m == nil {
		return nil
	}
	for _, k := range keys {
		if items := List(m[k]); items != nil {
			return Objects(items)
		}
	}
	return nil
}

// Bid reads a bid that may be a scalar, {"value": x} or
// {"monetaryBid": {"value": x}}.
func Bid(v any) (float64, bool) {
	if f, ok := Float(v); ok {
		return f, true
	}
	m := Map(v)
	if m == nil {
		return 0, false
	}
	if f, ok := Float(m["value"]); ok && f != 0 {
		return f, true
	}
	return Float(Path(m, "monetaryBid", "value"))
}
