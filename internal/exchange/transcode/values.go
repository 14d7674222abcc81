package transcode

import (
	"encoding/json"
	"strconv"
	"strings"
)

// EnsureArray normalizes a decoded value that may hold one item or many.
func EnsureArray(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	}
	return []any{v}
}

// Get walks nested maps along path and returns nil when any step is missing.
func Get(v any, path ...string) any {
	for _, key := range path {
		switch m := v.(type) {
		case map[string]any:
			v = m[key]
		case Object:
			v, _ = m.Get(key)
		default:
			return nil
		}
	}
	return v
}

// String returns the text of a decoded value. Maps contribute their ValueKey.
func String(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case map[string]any:
		return String(t[ValueKey])
	}
	return ""
}

func GetString(v any, path ...string) string {
	return String(Get(v, path...))
}

// Int parses a decoded number, returning 0 when v is absent or not numeric.
func Int(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case json.Number:
		n, _ := t.Int64()
		return int(n)
	}
	n, err := strconv.Atoi(strings.TrimSpace(String(v)))
	if err != nil {
		return 0
	}
	return n
}

// Bool reports whether v is true or the text "true".
func Bool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return strings.EqualFold(String(v), "true")
}
