package redo

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/redotask/internal/lifecycle"
	"github.com/dshills/redotask/internal/logging"
	"github.com/dshills/redotask/internal/task"
	"github.com/dshills/redotask/internal/watcher"
	"github.com/dshills/redotask/internal/workspace"
)

// ErrProviderClosed is returned by a provider after Close.
var ErrProviderClosed = errors.New("redo task provider closed")

// Workspace is the folder source the provider follows.
type Workspace interface {
	Folders() []workspace.Folder
	OnDidChangeFolders(fn func(workspace.FoldersChangeEvent)) lifecycle.Disposable
}

// Provider contributes one build task per redo recipe in every workspace
// folder and resolves redo task stubs into runnable tasks.
type Provider struct {
	cfg    Configuration
	watch  WatchFunc
	logger *logging.Logger

	mu     sync.Mutex
	states map[string]*workspaceState
	order  []string
	closed bool

	folderListener lifecycle.Disposable

	listenersMu sync.RWMutex
	listeners   map[uint64]func(workspace.Folder)
	nextID      uint64
}

var _ task.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the provider's logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Provider) {
		p.logger = l
	}
}

// WithWatchFunc replaces how recipe files are watched. A nil function
// disables watching.
func WithWatchFunc(fn WatchFunc) Option {
	return func(p *Provider) {
		p.watch = fn
	}
}

// WatchRecipes watches root recursively for recipe files.
func WatchRecipes(opts ...watcher.Option) WatchFunc {
	return func(root string) (FileWatcher, error) {
		return watcher.New(root, "*"+Ext, opts...)
	}
}

// NewProvider creates a provider tracking the folders of ws.
func NewProvider(ws Workspace, cfg Configuration, opts ...Option) *Provider {
	p := &Provider{
		cfg:       cfg,
		watch:     WatchRecipes(),
		logger:    logging.Discard(),
		states:    make(map[string]*workspaceState),
		listeners: make(map[uint64]func(workspace.Folder)),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithComponent("redo")

	// Subscribe before listing so no folder added in between is missed;
	// adding is idempotent.
	p.folderListener = ws.OnDidChangeFolders(func(e workspace.FoldersChangeEvent) {
		for _, f := range e.Added {
			p.addFolder(f)
		}
		for _, f := range e.Removed {
			p.removeFolder(f.URI)
		}
	})
	for _, f := range ws.Folders() {
		p.addFolder(f)
	}

	return p
}

func (p *Provider) addFolder(folder workspace.Folder) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if _, ok := p.states[folder.URI]; ok {
		return
	}
	p.states[folder.URI] = newWorkspaceState(folder, p.cfg, p.watch, p.logger, p.fireTasksChanged)
	p.order = append(p.order, folder.URI)
	p.logger.Debug("folder added: %s", folder.URI)
}

func (p *Provider) removeFolder(uri string) {
	p.mu.Lock()
	s, ok := p.states[uri]
	if ok {
		delete(p.states, uri)
		for i, u := range p.order {
			if u == uri {
				p.order = append(p.order[:i:i], p.order[i+1:]...)
				break
			}
		}
	}
	p.mu.Unlock()

	if ok {
		s.Dispose()
		p.logger.Debug("folder removed: %s", uri)
	}
}

// Folders returns the tracked folders in the order they were added.
func (p *Provider) Folders() []workspace.Folder {
	p.mu.Lock()
	defer p.mu.Unlock()

	folders := make([]workspace.Folder, 0, len(p.order))
	for _, uri := range p.order {
		folders = append(folders, p.states[uri].folder)
	}
	return folders
}

// ProvideTasks returns the tasks of every folder, in folder order. Folders
// are scanned concurrently; cached lists are reused. A folder removed
// while its scan is awaited contributes nothing.
func (p *Provider) ProvideTasks(ctx context.Context) ([]*task.Task, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrProviderClosed
	}
	states := make([]*workspaceState, 0, len(p.order))
	for _, uri := range p.order {
		states = append(states, p.states[uri])
	}
	p.mu.Unlock()

	results := make([][]*task.Task, len(states))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range states {
		i, s := i, s
		g.Go(func() error {
			tasks, err := s.Tasks(gctx)
			if errors.Is(err, errFolderRemoved) {
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = tasks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []*task.Task
	for _, tasks := range results {
		all = append(all, tasks...)
	}
	if all == nil {
		all = []*task.Task{}
	}
	return all, nil
}

// ResolveTask binds a redo task stub to its execution. Stubs of another
// kind, stubs without a target and stubs without a folder yield nil.
func (p *Provider) ResolveTask(_ context.Context, t *task.Task) (*task.Task, error) {
	if t == nil || t.Scope == nil {
		return nil, nil
	}
	target, ok := Target(t.Definition)
	if !ok {
		return nil, nil
	}

	redoPath := p.cfg.Get(ConfigSection, t.Scope).GetString("redoPath", DefaultRedoPath)

	resolved := t.Clone()
	resolved.Execution = Execution(target, redoPath, t.Scope.Path)
	if resolved.Name == "" {
		resolved.Name = target
	}
	if resolved.Source == "" {
		resolved.Source = Kind
	}
	if resolved.Group == task.GroupNone {
		resolved.Group = task.GroupBuild
	}
	if len(resolved.ProblemMatchers) == 0 {
		resolved.ProblemMatchers = []string{ProblemMatcher}
	}
	return resolved, nil
}

// OnDidChangeTasks registers fn to be called with a folder whose task
// list was invalidated. fn runs on the goroutine that observed the change.
func (p *Provider) OnDidChangeTasks(fn func(workspace.Folder)) lifecycle.Disposable {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()

	id := p.nextID
	p.nextID++
	p.listeners[id] = fn

	return lifecycle.NewFunc(func() {
		p.listenersMu.Lock()
		defer p.listenersMu.Unlock()
		delete(p.listeners, id)
	})
}

func (p *Provider) fireTasksChanged(folder workspace.Folder) {
	p.listenersMu.RLock()
	fns := make([]func(workspace.Folder), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(folder)
	}
}

// Close disposes every folder state and stops following the workspace.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	states := p.states
	p.states = make(map[string]*workspaceState)
	p.order = nil
	p.mu.Unlock()

	p.folderListener.Dispose()
	for _, s := range states {
		s.Dispose()
	}
	return nil
}

// Dispose closes the provider.
func (p *Provider) Dispose() {
	_ = p.Close()
}
