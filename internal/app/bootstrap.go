package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/redotask/internal/config"
	"github.com/dshills/redotask/internal/logging"
	"github.com/dshills/redotask/internal/task"
	"github.com/dshills/redotask/internal/task/redo"
	"github.com/dshills/redotask/internal/watcher"
	"github.com/dshills/redotask/internal/workspace"
)

// bootstrapper handles component initialization with proper cleanup on failure.
type bootstrapper struct {
	app       *Application
	opts      Options
	initOrder []string
}

// newBootstrapper creates a new bootstrapper for the application.
func newBootstrapper(app *Application, opts Options) *bootstrapper {
	return &bootstrapper{
		app:       app,
		opts:      opts,
		initOrder: make([]string, 0, 5),
	}
}

// bootstrap initializes all components in dependency order.
// On failure, it cleans up already-initialized components.
func (b *bootstrapper) bootstrap() error {
	steps := []func() error{
		b.initLogger,
		b.initWorkspace,
		b.initConfig,
		b.initTasks,
		b.initRedo,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			b.cleanup()
			return err
		}
	}
	return nil
}

// initLogger creates the logger. The level from Options wins over the
// configured one, which is applied once config is loaded.
func (b *bootstrapper) initLogger() error {
	cfg := logging.DefaultLoggerConfig()
	if b.opts.LogOutput != nil {
		cfg.Output = b.opts.LogOutput
	}
	if b.opts.LogLevel != "" {
		level, ok := logging.ParseLogLevel(b.opts.LogLevel)
		if !ok {
			return &InitError{Component: "logger", Err: fmt.Errorf("unknown log level %q", b.opts.LogLevel)}
		}
		cfg.Level = level
	}
	b.app.logger = logging.NewLogger(cfg)
	b.initOrder = append(b.initOrder, "logger")
	return nil
}

// initWorkspace opens the workspace file and adds the folder paths.
func (b *bootstrapper) initWorkspace() error {
	var (
		ws  *workspace.Workspace
		err error
	)
	if b.opts.WorkspaceFile != "" {
		ws, err = workspace.OpenFile(b.opts.WorkspaceFile)
	} else {
		ws = workspace.New()
	}
	if err != nil {
		return &InitError{Component: "workspace", Err: err}
	}

	for _, path := range b.opts.Folders {
		if _, err := ws.AddFolder(path); err != nil && !errors.Is(err, workspace.ErrFolderExists) {
			ws.Close()
			return &InitError{Component: "workspace", Err: fmt.Errorf("%s: %w", path, err)}
		}
	}
	if ws.FolderCount() == 0 {
		ws.Close()
		return &InitError{Component: "workspace", Err: ErrNoWorkspace}
	}

	b.app.workspace = ws
	b.initOrder = append(b.initOrder, "workspace")
	return nil
}

// initConfig loads the configuration layers and keeps the folder layers in
// step with the workspace.
func (b *bootstrapper) initConfig() error {
	logger := b.app.logger.WithComponent("config")

	configOpts := []config.Option{
		config.WithWatcher(b.opts.Watch),
		config.WithErrorHandler(func(err error) {
			logger.Warn("reload failed: %v", err)
		}),
	}
	if b.opts.ConfigDir != "" {
		configOpts = append(configOpts, config.WithUserConfigDir(b.opts.ConfigDir))
	}
	if b.opts.EnvPrefix != "" {
		configOpts = append(configOpts, config.WithEnvPrefix(b.opts.EnvPrefix))
	}

	cfg := config.New(configOpts...)
	b.app.config = cfg
	b.initOrder = append(b.initOrder, "config")

	if err := cfg.Load(context.Background()); err != nil {
		return &InitError{Component: "config", Err: err}
	}
	if err := cfg.SetWorkspaceSettings(b.app.workspace.Settings()); err != nil {
		return &InitError{Component: "config", Err: err}
	}

	// Folder layers must exist before the provider scans, so this
	// subscription is made ahead of the provider's own.
	b.app.subscriptions.Add(b.app.workspace.OnDidChangeFolders(func(e workspace.FoldersChangeEvent) {
		for _, f := range e.Added {
			b.app.addConfigFolder(f)
		}
		for _, f := range e.Removed {
			cfg.RemoveFolder(f.URI)
		}
	}))
	for _, f := range b.app.workspace.Folders() {
		b.app.addConfigFolder(f)
	}

	if b.opts.LogLevel == "" {
		b.app.applyLogLevel(cfg.Get("logging", nil).GetString("level", "info"))
		b.app.subscriptions.Add(cfg.OnDidChangeSection("logging.level", func(config.ChangeEvent) {
			b.app.applyLogLevel(cfg.Get("logging", nil).GetString("level", "info"))
		}))
	}
	return nil
}

// initTasks creates the provider registry and the executor.
func (b *bootstrapper) initTasks() error {
	execCfg := task.DefaultExecutorConfig()
	if b.opts.MaxConcurrent > 0 {
		execCfg.MaxConcurrent = b.opts.MaxConcurrent
	}

	b.app.registry = task.NewRegistry()
	b.app.executor = task.NewExecutor(execCfg)
	b.initOrder = append(b.initOrder, "tasks")
	return nil
}

// initRedo starts the redo provider and registers it for its kind.
func (b *bootstrapper) initRedo() error {
	logger := b.app.logger

	providerOpts := []redo.Option{redo.WithLogger(logger)}
	if b.opts.Watch {
		providerOpts = append(providerOpts, redo.WithWatchFunc(redo.WatchRecipes(
			watcher.WithErrorHandler(func(err error) {
				logger.WithComponent("watcher").Warn("%v", err)
			}),
		)))
	} else {
		providerOpts = append(providerOpts, redo.WithWatchFunc(nil))
	}

	b.app.redo = redo.NewProvider(b.app.workspace, b.app.config, providerOpts...)
	b.app.subscriptions.Add(b.app.registry.Register(redo.Kind, b.app.redo))
	b.initOrder = append(b.initOrder, "redo")
	return nil
}

// cleanup releases initialized components in reverse order.
func (b *bootstrapper) cleanup() {
	b.app.subscriptions.Dispose()
	for i := len(b.initOrder) - 1; i >= 0; i-- {
		b.cleanupComponent(b.initOrder[i])
	}
}

// cleanupComponent cleans up a single component.
func (b *bootstrapper) cleanupComponent(component string) {
	switch component {
	case "redo":
		if b.app.redo != nil {
			_ = b.app.redo.Close()
			b.app.redo = nil
		}
	case "tasks":
		if b.app.executor != nil {
			b.app.executor.CancelAll()
		}
		b.app.executor = nil
		b.app.registry = nil
	case "config":
		if b.app.config != nil {
			b.app.config.Close()
			b.app.config = nil
		}
	case "workspace":
		if b.app.workspace != nil {
			b.app.workspace.Close()
			b.app.workspace = nil
		}
	case "logger":
		b.app.logger = nil
	}
}

// addConfigFolder registers folder with the configuration. A broken
// settings file is logged; the folder keeps working on the other layers.
func (app *Application) addConfigFolder(f workspace.Folder) {
	if err := app.config.AddFolder(f); err != nil {
		app.logger.WithComponent("config").WithField("folder", f.Name).Warn("%v", err)
	}
}

func (app *Application) applyLogLevel(name string) {
	level, ok := logging.ParseLogLevel(name)
	if !ok {
		app.logger.Warn("unknown log level %q", name)
	}
	app.logger.SetLevel(level)
}
