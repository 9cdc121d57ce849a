package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dshills/redotask/internal/config/layer"
	"github.com/dshills/redotask/internal/config/loader"
	"github.com/dshills/redotask/internal/config/notify"
	"github.com/dshills/redotask/internal/config/watcher"
	"github.com/dshills/redotask/internal/lifecycle"
	"github.com/dshills/redotask/internal/workspace"
)

// File locations relative to the user config dir or a folder root.
const (
	UserSettingsFile   = "settings.toml"
	FolderSettingsFile = ".vscode/settings.json"
	FolderConfigFile   = ".redotask/config.toml"

	// EnvPrefix prefixes environment variables read into the top layer.
	EnvPrefix = "REDOTASK_"
)

// Layer names.
const (
	layerDefaults       = "defaults"
	layerUser           = "user"
	layerWorkspace      = "workspace"
	layerEnv            = "environment"
	layerFolderSettings = "folder-settings"
	layerFolder         = "folder"
)

// Config provides scoped access to redotask configuration.
// It manages loading, live reloading, and change notification.
type Config struct {
	mu sync.RWMutex

	// Global layers (defaults, user, environment)
	global *layer.Manager

	// Folder layers by folder URI
	folders map[string]*folderConfig

	// Watched file -> layer binding
	files map[string]fileBinding

	watcher  *watcher.Watcher
	notifier *notify.Notifier

	userConfigDir string
	envPrefix     string
	enableWatcher bool
	pollInterval  time.Duration
	errorHandler  func(error)

	closed bool
}

type folderConfig struct {
	folder workspace.Folder
	layers *layer.Manager
}

// fileBinding ties a config file to the layer it populates.
type fileBinding struct {
	scope  string // folder URI, empty for global
	name   string
	source layer.Source
}

// Option configures a Config instance.
type Option func(*Config)

// WithUserConfigDir sets the user configuration directory.
func WithUserConfigDir(dir string) Option {
	return func(c *Config) {
		c.userConfigDir = dir
	}
}

// WithWatcher enables polling of config files for live reload.
func WithWatcher(enable bool) Option {
	return func(c *Config) {
		c.enableWatcher = enable
	}
}

// WithPollInterval sets how often config files are checked for changes.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		c.pollInterval = d
	}
}

// WithEnvPrefix overrides the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(c *Config) {
		c.envPrefix = prefix
	}
}

// WithErrorHandler sets a handler for errors raised while reloading files
// in the background.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Config) {
		c.errorHandler = fn
	}
}

// New creates a new Config instance with the given options.
func New(opts ...Option) *Config {
	c := &Config{
		global:        layer.NewManager(),
		folders:       make(map[string]*folderConfig),
		files:         make(map[string]fileBinding),
		notifier:      notify.New(),
		envPrefix:     EnvPrefix,
		enableWatcher: true,
		pollInterval:  500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.userConfigDir == "" {
		c.userConfigDir = DefaultUserConfigDir()
	}

	if c.enableWatcher {
		c.watcher = watcher.New(watcher.WithInterval(c.pollInterval))
		c.watcher.OnChange(c.handleFileChange)
	}

	return c
}

// Load loads the global configuration layers and starts live reload.
func (c *Config) Load(_ context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	c.global.AddLayer(layer.NewLayerWithData(layerDefaults, layer.SourceBuiltin, defaultConfig()))

	userPath := c.UserSettingsPath()
	if err := c.loadFileLocked(c.global, userPath, fileBinding{name: layerUser, source: layer.SourceUser}); err != nil {
		c.mu.Unlock()
		return err
	}

	envData, err := loader.NewEnvLoader(c.envPrefix).Load()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if len(envData) > 0 {
		c.global.AddLayer(layer.NewLayerWithData(layerEnv, layer.SourceEnv, envData))
	}

	// Release lock before starting watcher; its callbacks take the same lock.
	w := c.watcher
	c.mu.Unlock()

	if w != nil {
		w.Start()
	}
	return nil
}

// AddFolder loads the configuration files of folder. Folders without a
// file system path get an empty layer set. A parse error is returned, but
// the folder is still registered and picks up the file once it is fixed.
func (c *Config) AddFolder(folder workspace.Folder) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if _, ok := c.folders[folder.URI]; ok {
		return nil
	}

	fc := &folderConfig{folder: folder, layers: layer.NewManager()}
	c.folders[folder.URI] = fc
	if folder.Path == "" {
		return nil
	}

	errSettings := c.loadFileLocked(fc.layers, filepath.Join(folder.Path, FolderSettingsFile),
		fileBinding{scope: folder.URI, name: layerFolderSettings, source: layer.SourceFolderSettings})
	errConfig := c.loadFileLocked(fc.layers, filepath.Join(folder.Path, FolderConfigFile),
		fileBinding{scope: folder.URI, name: layerFolder, source: layer.SourceFolder})
	return errors.Join(errSettings, errConfig)
}

// RemoveFolder forgets the configuration of the folder with the given URI.
func (c *Config) RemoveFolder(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.folders[uri]; !ok {
		return
	}
	delete(c.folders, uri)

	for path, b := range c.files {
		if b.scope == uri {
			delete(c.files, path)
			if c.watcher != nil {
				c.watcher.Unwatch(path)
			}
		}
	}
}

// Close stops live reload and drops all observers.
func (c *Config) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	w := c.watcher
	c.mu.Unlock()

	if w != nil {
		w.Stop()
	}
	c.notifier.Close()
}

// Get returns the named section as seen from scope. A nil scope yields
// the global view.
func (c *Config) Get(section string, scope *workspace.Folder) Section {
	data, _ := layer.GetByPath(c.effective(scope), section)
	m, _ := data.(map[string]any)
	return Section{name: section, data: m}
}

// Lookup returns the effective value at path for scope and the name of
// the layer it came from.
func (c *Config) Lookup(path string, scope *workspace.Folder) (any, string, error) {
	if path == "" || strings.HasPrefix(path, ".") || strings.HasSuffix(path, ".") {
		return nil, "", ErrInvalidPath
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	layers := c.layersForLocked(scope)
	for i := len(layers) - 1; i >= 0; i-- {
		if val, ok := layer.GetByPath(layers[i].Data, path); ok {
			return val, layers[i].Source.String(), nil
		}
	}
	return nil, "", ErrSettingNotFound
}

// GetString returns the string at path for scope.
func (c *Config) GetString(path string, scope *workspace.Folder) (string, error) {
	v, _, err := c.Lookup(path, scope)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", &TypeError{Path: path, Expected: "string", Actual: typeName(v)}
	}
	return s, nil
}

// Set writes value at section.key and notifies observers of the effective
// change. A nil scope writes the user settings file; otherwise the
// folder's config.toml is written.
func (c *Config) Set(section, key string, value any, scope *workspace.Folder) error {
	return c.write(section, key, scope, func(data map[string]any, path string) error {
		layer.SetByPath(data, path, value)
		return nil
	})
}

// Unset removes section.key from the file Set would write for scope. The
// effective value falls back to the lower layers.
func (c *Config) Unset(section, key string, scope *workspace.Folder) error {
	return c.write(section, key, scope, func(data map[string]any, path string) error {
		if !layer.DeleteByPath(data, path) {
			return ErrSettingNotFound
		}
		return nil
	})
}

// write applies edit to the writable layer of scope, saves it and
// publishes the effective changes.
func (c *Config) write(section, key string, scope *workspace.Folder, edit func(data map[string]any, path string) error) error {
	if section == "" || key == "" {
		return ErrInvalidPath
	}
	path := section + "." + key

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	var (
		mgr     *layer.Manager
		file    string
		binding fileBinding
	)
	if scope == nil {
		mgr = c.global
		file = c.UserSettingsPath()
		binding = fileBinding{name: layerUser, source: layer.SourceUser}
	} else {
		fc, ok := c.folders[scope.URI]
		if !ok {
			c.mu.Unlock()
			return ErrUnknownFolder
		}
		if fc.folder.Path == "" {
			c.mu.Unlock()
			return ErrNoFolderPath
		}
		mgr = fc.layers
		file = filepath.Join(fc.folder.Path, FolderConfigFile)
		binding = fileBinding{scope: scope.URI, name: layerFolder, source: layer.SourceFolder}
	}

	old := c.effectiveLocked(scope)

	// Edit a copy so a failed write leaves the live layer untouched.
	var next *layer.Layer
	if l := mgr.GetLayer(binding.name); l != nil {
		next = l.Clone()
	} else {
		next = layer.NewLayerWithData(binding.name, binding.source, nil)
		next.Path = file
	}
	if err := edit(next.Data, path); err != nil {
		c.mu.Unlock()
		return err
	}
	if err := loader.SaveTOML(file, next.Data); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("writing %s: %w", file, err)
	}
	mgr.AddLayer(next)
	c.trackLocked(file, binding)

	changes := diffChanges(old, c.effectiveLocked(scope), binding.scope, "set")
	c.mu.Unlock()

	c.publish(changes)
	return nil
}

// Settings returns every effective setting for scope keyed by dotted path.
func (c *Config) Settings(scope *workspace.Folder) map[string]any {
	return layer.FlattenMap(c.effective(scope))
}

// SetWorkspaceSettings replaces the workspace settings layer. Keys may be
// dotted ("redo.redoPath") or nested objects. Observers are notified of
// the effective changes.
func (c *Config) SetWorkspaceSettings(settings map[string]any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	old := c.global.Merge()
	if len(settings) == 0 {
		c.global.RemoveLayer(layerWorkspace)
	} else {
		c.global.AddLayer(layer.NewLayerWithData(layerWorkspace, layer.SourceWorkspace, layer.UnflattenMap(settings)))
	}
	changes := diffChanges(old, c.global.Merge(), "", "workspace")
	c.mu.Unlock()

	c.publish(changes)
	return nil
}

// OnDidChange registers fn for configuration changes.
func (c *Config) OnDidChange(fn func(ChangeEvent)) lifecycle.Disposable {
	return c.notifier.Subscribe(func(change notify.Change) {
		fn(ChangeEvent{Change: change})
	})
}

// OnDidChangeSection registers fn for changes at or below section, in
// any scope.
func (c *Config) OnDidChangeSection(section string, fn func(ChangeEvent)) lifecycle.Disposable {
	return c.notifier.SubscribePath(section, func(change notify.Change) {
		fn(ChangeEvent{Change: change})
	})
}

// UserSettingsPath returns the user settings file path.
func (c *Config) UserSettingsPath() string {
	return filepath.Join(c.userConfigDir, UserSettingsFile)
}

// Reload checks every config file for changes immediately instead of
// waiting for the next poll.
func (c *Config) Reload() {
	if c.watcher != nil {
		c.watcher.Poll()
	}
}

// layersForLocked returns the global layers plus the folder layers of
// scope, sorted by priority.
func (c *Config) layersForLocked(scope *workspace.Folder) []*layer.Layer {
	layers := c.global.Layers()
	if scope != nil {
		if fc, ok := c.folders[scope.URI]; ok {
			layers = append(layers, fc.layers.Layers()...)
		}
	}
	sortByPriority(layers)
	return layers
}

func (c *Config) effective(scope *workspace.Folder) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.effectiveLocked(scope)
}

func (c *Config) effectiveLocked(scope *workspace.Folder) map[string]any {
	if scope == nil {
		return c.global.Merge()
	}
	return layer.MergeLayers(c.layersForLocked(scope))
}

// loadFileLocked loads path into mgr under the binding's layer name and
// starts tracking it for reload. A missing file is not an error.
func (c *Config) loadFileLocked(mgr *layer.Manager, path string, b fileBinding) error {
	c.trackLocked(path, b)

	data, err := loadFile(path)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}

	l := layer.NewLayerWithData(b.name, b.source, data)
	l.Path = path
	mgr.AddLayer(l)
	return nil
}

func (c *Config) trackLocked(path string, b fileBinding) {
	c.files[path] = b
	if c.watcher != nil {
		// Watch records the current state, so our own writes don't echo.
		_ = c.watcher.Watch(path)
	}
}

// handleFileChange reloads the layer bound to the changed file and
// notifies observers of the effective values that moved.
func (c *Config) handleFileChange(event watcher.Event) {
	c.mu.Lock()
	b, ok := c.files[event.Path]
	if !ok || c.closed {
		c.mu.Unlock()
		return
	}

	var (
		mgr   *layer.Manager
		scope *workspace.Folder
	)
	if b.scope == "" {
		mgr = c.global
	} else {
		fc, ok := c.folders[b.scope]
		if !ok {
			c.mu.Unlock()
			return
		}
		mgr = fc.layers
		folder := fc.folder
		scope = &folder
	}

	old := c.effectiveLocked(scope)

	if event.Op == watcher.OpRemove {
		mgr.RemoveLayer(b.name)
	} else {
		data, err := loadFile(event.Path)
		if err != nil {
			c.mu.Unlock()
			c.reportError(err)
			return
		}
		l := layer.NewLayerWithData(b.name, b.source, data)
		l.Path = event.Path
		mgr.AddLayer(l)
	}

	changes := diffChanges(old, c.effectiveLocked(scope), b.scope, event.Path)
	c.mu.Unlock()

	c.publish(changes)
}

func (c *Config) publish(changes []notify.Change) {
	batch := c.notifier.NewBatch()
	for _, change := range changes {
		batch.Add(change)
	}
	batch.Commit()
}

func (c *Config) reportError(err error) {
	if c.errorHandler != nil {
		c.errorHandler(err)
	}
}

// diffChanges returns one change per leaf path that differs.
func diffChanges(old, updated map[string]any, scope, source string) []notify.Change {
	paths := layer.DiffMaps(old, updated)
	changes := make([]notify.Change, 0, len(paths))
	for _, path := range paths {
		oldVal, _ := layer.GetByPath(old, path)
		newVal, exists := layer.GetByPath(updated, path)
		typ := notify.ChangeSet
		if !exists {
			typ = notify.ChangeDelete
		}
		changes = append(changes, notify.Change{
			Path:     path,
			Scope:    scope,
			Type:     typ,
			OldValue: oldVal,
			NewValue: newVal,
			Source:   source,
		})
	}
	return changes
}

// loadFile picks a loader by file extension.
func loadFile(path string) (map[string]any, error) {
	if filepath.Ext(path) == ".json" {
		return loader.NewSettingsLoader(path).Load()
	}
	return loader.NewTOMLLoader(path).Load()
}

func sortByPriority(layers []*layer.Layer) {
	sort.SliceStable(layers, func(i, j int) bool {
		return layers[i].Priority < layers[j].Priority
	})
}

// DefaultUserConfigDir returns the default user configuration directory.
func DefaultUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "redotask")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "redotask")
}

// defaultConfig returns the default configuration values.
func defaultConfig() map[string]any {
	return map[string]any{
		"redo": map[string]any{
			"redoPath": "redo",
			"exclude":  []any{},
		},
		"logging": map[string]any{
			"level": "info",
		},
	}
}
