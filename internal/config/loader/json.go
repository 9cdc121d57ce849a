package loader

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
)

// SettingsLoader loads a VS Code style settings.json file.
// Keys may be flat dotted names ("redo.redoPath") or nested objects;
// both produce the same nested map.
type SettingsLoader struct {
	fs   FileSystem
	path string
}

// NewSettingsLoader creates a settings.json loader for the given path.
func NewSettingsLoader(path string) *SettingsLoader {
	return NewSettingsLoaderWithFS(DefaultFS(), path)
}

// NewSettingsLoaderWithFS creates a settings.json loader with a custom file system.
func NewSettingsLoaderWithFS(fs FileSystem, path string) *SettingsLoader {
	return &SettingsLoader{fs: fs, path: path}
}

// Path returns the file the loader reads.
func (l *SettingsLoader) Path() string {
	return l.path
}

// Load reads settings from the configured path.
func (l *SettingsLoader) Load() (map[string]any, error) {
	data, err := readOptional(l.fs, l.path)
	if err != nil || data == nil {
		return nil, err
	}
	return parseSettings(l.path, data)
}

func parseSettings(source string, data []byte) (map[string]any, error) {
	data = jsonc.ToJSON(data)
	if !gjson.ValidBytes(data) {
		return nil, &ParseError{Path: source, Message: "invalid JSON"}
	}

	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, &ParseError{Path: source, Message: "settings must be a JSON object"}
	}

	config := make(map[string]any)
	collectSettings(config, "", root)
	return config, nil
}

func collectSettings(config map[string]any, prefix string, obj gjson.Result) {
	obj.ForEach(func(key, value gjson.Result) bool {
		path := key.String()
		if prefix != "" {
			path = prefix + "." + path
		}
		if value.IsObject() {
			collectSettings(config, path, value)
		} else {
			setByPath(config, path, value.Value())
		}
		return true
	})
}
