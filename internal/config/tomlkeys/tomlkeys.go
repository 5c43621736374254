// Package tomlkeys decodes TOML documents into a flat, normalized key space
// where table and dotted forms of a key are equivalent.
package tomlkeys

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Store struct {
	raw  map[string]any
	flat map[string]any
}

func (s Store) Flat() map[string]any {
	flat := make(map[string]any, len(s.flat))
	for key, value := range s.flat {
		flat[key] = value
	}
	return flat
}

func DecodeMap(data []byte) (map[string]any, error) {
	raw := map[string]any{}
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func Decode(data []byte) (Store, error) {
	raw, err := DecodeMap(data)
	if err != nil {
		return Store{}, err
	}
	return FromRaw(raw), nil
}

func FromRaw(raw map[string]any) Store {
	flat := make(map[string]any)
	flattenMap("", raw, flat)

	normalized := make(map[string]any, len(flat))
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		normalizedKey := NormalizeKey(key)
		if _, exists := normalized[normalizedKey]; exists {
			continue
		}
		normalized[normalizedKey] = flat[key]
	}

	return Store{raw: raw, flat: normalized}
}

func (s Store) GetBool(key string) (bool, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return false, false
	}
	typed, ok := value.(bool)
	return typed, ok
}

func (s Store) GetInt(key string) (int64, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return 0, false
	}
	return AsInt64(value)
}

func (s Store) GetFloat(key string) (float64, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return 0, false
	}
	return AsFloat64(value)
}

func (s Store) GetString(key string) (string, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return "", false
	}
	typed, ok := value.(string)
	return typed, ok
}

// GetDuration reads a Go duration string such as "2s" or an integer number
// of seconds.
func (s Store) GetDuration(key string) (time.Duration, bool, error) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return 0, false, nil
	}
	duration, err := AsDuration(value)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", NormalizeKey(key), err)
	}
	return duration, true, nil
}

// GetTables returns the entries of an array of tables with normalized keys.
func (s Store) GetTables(key string) ([]map[string]any, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return nil, false
	}
	var tables []map[string]any
	switch typed := value.(type) {
	case []map[string]any:
		tables = typed
	case []any:
		for _, item := range typed {
			table, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			tables = append(tables, table)
		}
	default:
		return nil, false
	}
	out := make([]map[string]any, 0, len(tables))
	for _, table := range tables {
		out = append(out, FromRaw(table).Flat())
	}
	return out, true
}

func AsInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case int16:
		return int64(typed), true
	case int8:
		return int64(typed), true
	case uint64:
		return int64(typed), true
	case uint:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	case uint16:
		return int64(typed), true
	case uint8:
		return int64(typed), true
	case float64:
		if typed == float64(int64(typed)) {
			return int64(typed), true
		}
	}
	return 0, false
}

func AsFloat64(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	}
	if integer, ok := AsInt64(value); ok {
		return float64(integer), true
	}
	return 0, false
}

func AsDuration(value any) (time.Duration, error) {
	switch typed := value.(type) {
	case time.Duration:
		return typed, nil
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return 0, nil
		}
		return time.ParseDuration(trimmed)
	}
	if seconds, ok := AsInt64(value); ok {
		return time.Duration(seconds) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration %v", value)
}

func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	parts := strings.Split(key, ".")
	for i, part := range parts {
		lowered := strings.ToLower(part)
		parts[i] = strings.ReplaceAll(lowered, "_", "-")
	}
	return strings.Join(parts, ".")
}

func flattenMap(prefix string, raw map[string]any, out map[string]any) {
	for key, value := range raw {
		flattenValue(joinKey(prefix, key), value, out)
	}
}

func flattenValue(key string, value any, out map[string]any) {
	switch typed := value.(type) {
	case map[string]any:
		flattenMap(key, typed, out)
	default:
		out[key] = value
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
