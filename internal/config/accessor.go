package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
)

// tree renders cfg as the generic JSON value the dot-path helpers walk.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// child steps one key into an object or one index into an array.
func child(node any, key string) (any, bool) {
	switch v := node.(type) {
	case map[string]any:
		val, ok := v[key]
		return val, ok
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(v) {
			return nil, false
		}
		return v[i], true
	}
	return nil, false
}

// GetByPath reads a value by dot path, e.g. "backend.basePort" or
// "server.failoverChain.0".
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}
	var node any = m
	for _, key := range strings.Split(path, ".") {
		next, ok := child(node, key)
		if !ok {
			return nil, fmt.Errorf("key not found: %s", path)
		}
		node = next
	}
	return node, nil
}

// SetByPath assigns a value by dot path. String values from the command line
// are coerced to bool or number when they parse as one. Keys that do not map
// to a config field are rejected.
func SetByPath(cfg *Config, path string, value any) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	m, err := tree(cfg)
	if err != nil {
		return err
	}

	keys := strings.Split(path, ".")
	var node any = m
	for _, key := range keys[:len(keys)-1] {
		next, ok := child(node, key)
		if !ok {
			// Parents can be missing when every field below them is omitempty.
			obj, isObj := node.(map[string]any)
			if !isObj {
				return fmt.Errorf("cannot traverse into %T at %s", node, key)
			}
			next = make(map[string]any)
			obj[key] = next
		}
		node = next
	}

	coerced := coerce(value)
	last := keys[len(keys)-1]
	switch v := node.(type) {
	case map[string]any:
		v[last] = coerced
	case []any:
		i, err := strconv.Atoi(last)
		if err != nil || i < 0 || i >= len(v) {
			return fmt.Errorf("invalid array index: %s", last)
		}
		v[i] = coerced
	default:
		return fmt.Errorf("cannot set %s: parent is %T", path, node)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	var updated Config
	if err := json.Unmarshal(data, &updated); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	if _, err := GetByPath(&updated, path); err != nil && coerced != "" {
		return fmt.Errorf("unknown config key: %s", path)
	}
	*cfg = updated
	return nil
}

func coerce(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a copy of cfg with API keys masked.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Server.FailoverChain = append([]string(nil), cfg.Server.FailoverChain...)
	out.Providers = maps.Clone(cfg.Providers)
	for name, p := range out.Providers {
		p.APIKey = mask(p.APIKey)
		out.Providers[name] = p
	}
	out.Server.APIKey = mask(out.Server.APIKey)
	return &out
}

// mask keeps the first and last four characters of long secrets.
func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens cfg into dot paths and their current values. Arrays are
// reported as a single value.
func ListPaths(cfg *Config) map[string]any {
	m, err := tree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	var flatten func(prefix string, node map[string]any)
	flatten = func(prefix string, node map[string]any) {
		for k, v := range node {
			if prefix != "" {
				k = prefix + "." + k
			}
			if sub, ok := v.(map[string]any); ok {
				flatten(k, sub)
				continue
			}
			out[k] = v
		}
	}
	flatten("", m)
	return out
}
