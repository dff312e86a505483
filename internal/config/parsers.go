// Package config loads loadcheck campaign settings from a file, the
// environment and command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// lookupSetting returns the first of candidates present in settings, trying
// each key as written and lowercased.
func lookupSetting(settings map[string]interface{}, candidates ...string) (interface{}, bool) {
	for _, key := range candidates {
		if val, ok := settings[key]; ok {
			return val, true
		}
		if val, ok := settings[strings.ToLower(key)]; ok {
			return val, true
		}
	}
	return nil, false
}

// trimmed returns value with surrounding whitespace removed when it is a
// string, and reports whether the result is blank.
func trimmed(value interface{}) (interface{}, bool) {
	s, ok := value.(string)
	if !ok {
		return value, value == nil
	}
	s = strings.TrimSpace(s)
	return s, s == ""
}

func asString(value interface{}) (string, error) {
	return cast.ToStringE(value)
}

func asInt(value interface{}) (int, error) {
	v, blank := trimmed(value)
	if blank {
		return 0, nil
	}
	return cast.ToIntE(v)
}

func asFloat64(value interface{}) (float64, error) {
	v, blank := trimmed(value)
	if blank {
		return 0, nil
	}
	return cast.ToFloat64E(v)
}

func asBool(value interface{}) (bool, error) {
	v, blank := trimmed(value)
	if blank {
		return false, nil
	}
	return cast.ToBoolE(v)
}

// asDuration parses Go duration strings. Bare numbers are seconds.
func asDuration(value interface{}) (time.Duration, error) {
	v, blank := trimmed(value)
	if blank {
		return 0, nil
	}
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case string:
		return time.ParseDuration(d)
	}
	secs, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("unsupported duration type %T", value)
	}
	return time.Duration(secs) * time.Second, nil
}

// asStringMap converts a decoded mapping, such as a headers block, to a
// map[string]string. Keys must be non-empty.
func asStringMap(value interface{}) (map[string]string, error) {
	if value == nil {
		return nil, nil
	}
	m, err := cast.ToStringMapStringE(value)
	if err != nil {
		return nil, fmt.Errorf("unsupported headers type %T", value)
	}
	for key := range m {
		if strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("header key cannot be empty")
		}
	}
	return m, nil
}

// asStringSlice accepts a list or a single string.
func asStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	}
	out, err := cast.ToStringSliceE(value)
	if err != nil {
		return nil, fmt.Errorf("unsupported string slice type %T", value)
	}
	return out, nil
}

func toInterfaceSlice(value interface{}) ([]interface{}, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		return v, nil
	case []map[string]interface{}:
		items := make([]interface{}, 0, len(v))
		for _, item := range v {
			items = append(items, item)
		}
		return items, nil
	}
	return nil, fmt.Errorf("expected list, got %T", value)
}

// toStringKeyMap converts a decoded mapping to map[string]interface{} with
// trimmed, lowercased keys.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	switch value.(type) {
	case map[string]interface{}, map[interface{}]interface{}:
	default:
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	raw, err := cast.ToStringMapE(value)
	if err != nil {
		return nil, err
	}
	result := make(map[string]interface{}, len(raw))
	for key, val := range raw {
		result[strings.ToLower(strings.TrimSpace(key))] = val
	}
	return result, nil
}
