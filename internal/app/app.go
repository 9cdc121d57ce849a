// Package app wires the host services together: the workspace, scoped
// configuration, the task registry and executor, and the redo provider.
package app

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dshills/redotask/internal/config"
	"github.com/dshills/redotask/internal/lifecycle"
	"github.com/dshills/redotask/internal/logging"
	"github.com/dshills/redotask/internal/task"
	"github.com/dshills/redotask/internal/task/redo"
	"github.com/dshills/redotask/internal/workspace"
)

// Application owns the host services for one workspace.
type Application struct {
	mu sync.RWMutex

	opts   Options
	logger *logging.Logger

	workspace *workspace.Workspace
	config    *config.Config
	registry  *task.Registry
	executor  *task.Executor
	redo      *redo.Provider

	// subscriptions are released on shutdown, newest first.
	subscriptions lifecycle.Group

	closed atomic.Bool
}

// Options configures the application.
type Options struct {
	// Folders are workspace folder paths.
	Folders []string

	// WorkspaceFile is a .code-workspace file. Its folders come before
	// Folders.
	WorkspaceFile string

	// ConfigDir is the user configuration directory.
	ConfigDir string

	// EnvPrefix overrides the environment variable prefix for settings.
	EnvPrefix string

	// LogLevel sets the logging verbosity. Empty uses logging.level from
	// the configuration.
	LogLevel string

	// LogOutput receives log lines. Defaults to os.Stderr.
	LogOutput io.Writer

	// Watch enables recipe file watching and configuration reload. One-shot
	// commands leave it off.
	Watch bool

	// MaxConcurrent limits concurrent task executions.
	MaxConcurrent int
}

// New creates an Application and starts its services.
func New(opts Options) (*Application, error) {
	app := &Application{opts: opts}

	b := newBootstrapper(app, opts)
	if err := b.bootstrap(); err != nil {
		return nil, err
	}

	app.logger.Debug("started with %d folder(s)", app.workspace.FolderCount())
	return app, nil
}

// Shutdown cancels running tasks and releases every service. It is safe
// to call more than once.
func (app *Application) Shutdown() {
	if !app.closed.CompareAndSwap(false, true) {
		return
	}

	app.executor.CancelAll()
	app.subscriptions.Dispose()
	_ = app.redo.Close()
	app.config.Close()
	app.workspace.Close()

	app.logger.Debug("shut down")
}

// IsRunning reports whether Shutdown has not been called.
func (app *Application) IsRunning() bool {
	return !app.closed.Load()
}

// Logger returns the application logger.
func (app *Application) Logger() *logging.Logger {
	return app.logger
}

// Workspace returns the workspace.
func (app *Application) Workspace() *workspace.Workspace {
	return app.workspace
}

// Config returns the configuration service.
func (app *Application) Config() *config.Config {
	return app.config
}

// Registry returns the task provider registry.
func (app *Application) Registry() *task.Registry {
	return app.registry
}

// Executor returns the task executor.
func (app *Application) Executor() *task.Executor {
	return app.executor
}

// Redo returns the redo task provider.
func (app *Application) Redo() *redo.Provider {
	return app.redo
}

// OnDidChangeTasks registers fn for folders whose task list was
// invalidated.
func (app *Application) OnDidChangeTasks(fn func(workspace.Folder)) lifecycle.Disposable {
	d := app.redo.OnDidChangeTasks(fn)
	app.subscriptions.Add(d)
	return d
}

func (app *Application) checkRunning(ctx context.Context) error {
	if app.closed.Load() {
		return ErrShutdown
	}
	return ctx.Err()
}
