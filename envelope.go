package skillswap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// Envelope shapes
// ============================================================================

// listKeys are the envelope keys a list response may be wrapped in, in the
// order they are tried after the bare-array shape.
var listKeys = []string{"results", "data", "messages"}

// decodeRaw parses a JSON document keeping numbers as json.Number so large
// ids survive unchanged.
func decodeRaw(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// listOf extracts the records of a list response. Non-object elements are
// skipped; an unrecognised shape yields an empty list.
func listOf(v any) []map[string]any {
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case map[string]any:
		for _, key := range listKeys {
			if arr, ok := t[key].([]any); ok {
				items = arr
				break
			}
		}
	}

	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// objectOf extracts a single record, unwrapping {data:{...}} when present.
func objectOf(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	if inner, ok := m["data"].(map[string]any); ok {
		return inner
	}
	return m
}

// decodeList is decodeRaw followed by listOf.
func decodeList(data []byte) ([]map[string]any, error) {
	v, err := decodeRaw(data)
	if err != nil {
		return nil, err
	}
	return listOf(v), nil
}

// ============================================================================
// Field coercion
// ============================================================================

// stringOf coerces ids and scalars to strings. nil and unsupported values
// become "".
func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// field returns the first key present with a non-empty string form.
func field(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringOf(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func strOr(m map[string]any, key, fallback string) string {
	if s := stringOf(m[key]); s != "" {
		return s
	}
	return fallback
}

func intOr(m map[string]any, key string, fallback int) int {
	switch t := m[key].(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		if f, err := t.Float64(); err == nil {
			return int(f)
		}
	case float64:
		return int(t)
	case int:
		return t
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return fallback
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// timeOf parses the first present timestamp key. Unparseable values yield the
// zero time.
func timeOf(m map[string]any, keys ...string) time.Time {
	for _, k := range keys {
		s := stringOf(m[k])
		if s == "" {
			continue
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
		return time.Time{}
	}
	return time.Time{}
}

// toMap round-trips a typed value through JSON into the generic record shape
// used by the normalizers.
func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	raw, err := decodeRaw(b)
	if err != nil {
		return nil, err
	}
	m, _ := raw.(map[string]any)
	return m, nil
}
