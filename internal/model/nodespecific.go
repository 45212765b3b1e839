package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NodeSpecific holds every plan attribute that is not promoted to a typed field, verbatim.
type NodeSpecific map[string]any

// Has reports whether key is present (case-insensitively).
func (ns NodeSpecific) Has(key string) bool {
	_, ok := ns.lookup(key)
	return ok
}

// Get returns the raw value stored under key.
func (ns NodeSpecific) Get(key string) (any, bool) {
	return ns.lookup(key)
}

// GetString returns the value under key as a string. Numbers and booleans are formatted;
// arrays and objects are not strings and report false.
func (ns NodeSpecific) GetString(key string) (string, bool) {
	v, ok := ns.lookup(key)
	if !ok || v == nil {
		return "", false
	}
	switch typed := v.(type) {
	case string:
		return typed, true
	case json.Number:
		return typed.String(), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case int:
		return strconv.Itoa(typed), true
	case int64:
		return strconv.FormatInt(typed, 10), true
	case bool:
		return strconv.FormatBool(typed), true
	default:
		return "", false
	}
}

// GetNumber returns the value under key as a float64. Numeric strings are accepted.
func (ns NodeSpecific) GetNumber(key string) (float64, bool) {
	v, ok := ns.lookup(key)
	if !ok || v == nil {
		return 0, false
	}
	switch typed := v.(type) {
	case float64:
		return typed, !math.IsNaN(typed)
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case json.Number:
		f, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// GetBool returns the value under key as a bool. "true"/"false" strings are accepted.
func (ns NodeSpecific) GetBool(key string) (bool, bool) {
	v, ok := ns.lookup(key)
	if !ok || v == nil {
		return false, false
	}
	switch typed := v.(type) {
	case bool:
		return typed, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(typed))
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// GetStrings returns a list value under key (e.g. "Sort Key", "Output"). A plain string yields a
// single-element slice.
func (ns NodeSpecific) GetStrings(key string) ([]string, bool) {
	v, ok := ns.lookup(key)
	if !ok || v == nil {
		return nil, false
	}
	switch typed := v.(type) {
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			out = append(out, fmt.Sprint(item))
		}
		return out, true
	case []string:
		return append([]string(nil), typed...), true
	case string:
		return []string{typed}, true
	default:
		return nil, false
	}
}

// Contains reports whether the string value under key contains substr, ignoring case.
func (ns NodeSpecific) Contains(key, substr string) bool {
	s, ok := ns.GetString(key)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func (ns NodeSpecific) lookup(key string) (any, bool) {
	if ns == nil {
		return nil, false
	}
	if v, ok := ns[key]; ok {
		return v, true
	}
	want := NormalizeKey(key)
	for k, v := range ns {
		if NormalizeKey(k) == want {
			return v, true
		}
	}
	return nil, false
}

// NormalizeKey lowercases a plan attribute name and collapses inner whitespace.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.Join(strings.Fields(key), " "))
}
