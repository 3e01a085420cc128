package tools

import (
	"encoding/json"
	"fmt"
)

// Args is the decoded argument map of one tool invocation, with typed
// accessors so tools don't repeat type assertions on JSON-decoded
// values.
type Args map[string]interface{}

// String returns a required string argument.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, v)
	}
	return s, nil
}

// StringOr returns an optional string argument, falling back when the
// key is absent or not a string.
func (a Args) StringOr(key, fallback string) string {
	if s, ok := a[key].(string); ok {
		return s
	}
	return fallback
}

// Int returns a required integer argument.
func (a Args) Int(key string) (int, error) {
	v, ok := a[key]
	if !ok {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, ok := asInt(v)
	if !ok {
		return 0, fmt.Errorf("%s must be a number, got %T", key, v)
	}
	return n, nil
}

// IntOr returns an optional integer argument with a fallback.
func (a Args) IntOr(key string, fallback int) int {
	if n, ok := asInt(a[key]); ok {
		return n
	}
	return fallback
}

// Bool returns an optional boolean argument with a fallback.
func (a Args) Bool(key string, fallback bool) bool {
	if b, ok := a[key].(bool); ok {
		return b
	}
	return fallback
}

// asInt converts the numeric shapes a JSON decode can produce. Plain
// decoding yields float64; decoders with UseNumber yield json.Number.
func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}
