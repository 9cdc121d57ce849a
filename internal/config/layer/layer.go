// Package layer provides configuration layer management for redotask.
//
// The layer package handles multiple configuration sources with priority-based
// merging. Higher priority layers override values from lower priority layers.
package layer

import (
	"time"
)

// Layer represents a single configuration layer.
type Layer struct {
	// Name identifies the layer (e.g., "user", "defaults").
	Name string

	// Priority determines merge order (higher overrides lower).
	Priority int

	// Source indicates where this layer was loaded from.
	Source Source

	// Path is the file path (if loaded from file).
	Path string

	// Data holds the configuration values as a nested map.
	Data map[string]any

	// ModTime is when the layer was loaded.
	ModTime time.Time
}

// NewLayerWithData creates a new layer with initial data.
// The priority is derived from the source.
func NewLayerWithData(name string, source Source, data map[string]any) *Layer {
	if data == nil {
		data = make(map[string]any)
	}
	return &Layer{
		Name:     name,
		Source:   source,
		Priority: DefaultPriority(source),
		Data:     data,
		ModTime:  time.Now(),
	}
}

// Clone creates a deep copy of the layer.
func (l *Layer) Clone() *Layer {
	return &Layer{
		Name:     l.Name,
		Priority: l.Priority,
		Source:   l.Source,
		Path:     l.Path,
		Data:     cloneMap(l.Data),
		ModTime:  l.ModTime,
	}
}

// Source indicates where a configuration layer came from.
type Source uint8

const (
	// SourceBuiltin represents built-in default configuration.
	SourceBuiltin Source = iota
	// SourceUser represents user config (~/.config/redotask/settings.toml).
	SourceUser
	// SourceWorkspace represents the settings of a .code-workspace file.
	SourceWorkspace
	// SourceFolderSettings represents a folder's .vscode/settings.json.
	SourceFolderSettings
	// SourceFolder represents a folder's .redotask/config.toml.
	SourceFolder
	// SourceEnv represents environment variables.
	SourceEnv
)

// String returns a human-readable name for the source.
func (s Source) String() string {
	switch s {
	case SourceBuiltin:
		return "builtin"
	case SourceUser:
		return "user"
	case SourceWorkspace:
		return "workspace"
	case SourceFolderSettings:
		return "folder-settings"
	case SourceFolder:
		return "folder"
	case SourceEnv:
		return "environment"
	default:
		return "unknown"
	}
}

// Standard priority levels for configuration layers.
const (
	PriorityBuiltin        = 0
	PriorityUser           = 100
	PriorityWorkspace      = 150
	PriorityFolderSettings = 200
	PriorityFolder         = 300
	PriorityEnv            = 500
)

// DefaultPriority returns the default priority for a given source.
func DefaultPriority(source Source) int {
	switch source {
	case SourceUser:
		return PriorityUser
	case SourceWorkspace:
		return PriorityWorkspace
	case SourceFolderSettings:
		return PriorityFolderSettings
	case SourceFolder:
		return PriorityFolder
	case SourceEnv:
		return PriorityEnv
	default:
		return PriorityBuiltin
	}
}

// cloneMap creates a deep copy of a map.
func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))
	for key, val := range src {
		dst[key] = cloneValue(val)
	}
	return dst
}

// cloneSlice creates a deep copy of a slice.
func cloneSlice(src []any) []any {
	if src == nil {
		return nil
	}

	dst := make([]any, len(src))
	for i, val := range src {
		dst[i] = cloneValue(val)
	}
	return dst
}

// cloneValue creates a deep copy of a value.
func cloneValue(val any) any {
	switch v := val.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		return cloneSlice(v)
	case []string:
		return append([]string(nil), v...)
	default:
		return val
	}
}
