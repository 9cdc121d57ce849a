package config

import (
	"github.com/dshills/redotask/internal/config/layer"
	"github.com/dshills/redotask/internal/config/notify"
	"github.com/dshills/redotask/internal/workspace"
)

// Section is a read-only snapshot of one configuration section.
type Section struct {
	name string
	data map[string]any
}

// Name returns the section name.
func (s Section) Name() string {
	return s.name
}

// Get returns the raw value at key.
func (s Section) Get(key string) (any, bool) {
	return layer.GetByPath(s.data, key)
}

// GetString returns the string at key, or def when unset or not a string.
func (s Section) GetString(key, def string) string {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	str, ok := v.(string)
	if !ok {
		return def
	}
	return str
}

// GetBool returns the bool at key, or def when unset or not a bool.
func (s Section) GetBool(key string, def bool) bool {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// GetStringSlice returns the string list at key, or def when unset or
// not a list of strings.
func (s Section) GetStringSlice(key string, def []string) []string {
	v, ok := s.Get(key)
	if !ok {
		return def
	}

	switch val := v.(type) {
	case []string:
		return append([]string(nil), val...)
	case []any:
		result := make([]string, len(val))
		for i, item := range val {
			str, ok := item.(string)
			if !ok {
				return def
			}
			result[i] = str
		}
		return result
	default:
		return def
	}
}

// ChangeEvent describes one effective setting that changed.
type ChangeEvent struct {
	notify.Change
}

// AffectsConfiguration reports whether the change touches section (or a
// key below it) as seen from scope. Global changes affect every scope;
// folder changes affect only that folder.
func (e ChangeEvent) AffectsConfiguration(section string, scope *workspace.Folder) bool {
	if section != "" && e.Path != section && !hasPathPrefix(e.Path, section) {
		return false
	}
	if e.Scope == "" {
		return true
	}
	return scope != nil && scope.URI == e.Scope
}

func hasPathPrefix(path, prefix string) bool {
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '.'
}
