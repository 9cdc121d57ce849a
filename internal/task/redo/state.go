package redo

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/redotask/internal/config"
	"github.com/dshills/redotask/internal/lifecycle"
	"github.com/dshills/redotask/internal/logging"
	"github.com/dshills/redotask/internal/task"
	"github.com/dshills/redotask/internal/watcher"
	"github.com/dshills/redotask/internal/workspace"
)

// errFolderRemoved is returned to callers waiting on a folder that was
// removed from the workspace.
var errFolderRemoved = errors.New("workspace folder removed")

// Configuration is the part of the configuration service the provider reads.
type Configuration interface {
	Get(section string, scope *workspace.Folder) config.Section
	OnDidChange(fn func(config.ChangeEvent)) lifecycle.Disposable
}

// FileWatcher reports recipe files created, changed or deleted.
type FileWatcher interface {
	OnDidCreate(h watcher.Handler) lifecycle.Disposable
	OnDidChange(h watcher.Handler) lifecycle.Disposable
	OnDidDelete(h watcher.Handler) lifecycle.Disposable
	Dispose()
}

// WatchFunc starts watching recipe files under root.
type WatchFunc func(root string) (FileWatcher, error)

// workspaceState holds the task list of one folder. The list is computed
// on first request and kept until a recipe file or the folder's redo
// configuration changes.
type workspaceState struct {
	folder workspace.Folder
	cfg    Configuration
	logger *logging.Logger

	// ctx bounds scans; it is canceled when the state is disposed.
	ctx    context.Context
	cancel context.CancelFunc

	flight singleflight.Group

	mu         sync.Mutex
	generation uint64
	tasks      []*task.Task
	cached     bool
	disposed   bool

	resources   lifecycle.Group
	disposeOnce sync.Once
	onInvalid   func(workspace.Folder)

	scans atomic.Int64
}

func newWorkspaceState(folder workspace.Folder, cfg Configuration, watch WatchFunc, logger *logging.Logger, onInvalid func(workspace.Folder)) *workspaceState {
	ctx, cancel := context.WithCancel(context.Background())
	s := &workspaceState{
		folder:    folder,
		cfg:       cfg,
		logger:    logger.WithField("folder", folder.Name),
		ctx:       ctx,
		cancel:    cancel,
		onInvalid: onInvalid,
	}

	if folder.Path != "" && watch != nil {
		w, err := watch(folder.Path)
		if err != nil {
			s.logger.Warn("recipe watcher not started: %v", err)
		} else {
			invalidate := func(e watcher.Event) {
				s.invalidate("recipe " + e.Op.String() + " " + e.Path)
			}
			s.resources.Add(w)
			s.resources.Add(w.OnDidCreate(invalidate))
			s.resources.Add(w.OnDidChange(invalidate))
			s.resources.Add(w.OnDidDelete(invalidate))
		}
	}

	s.resources.Add(cfg.OnDidChange(func(e config.ChangeEvent) {
		if e.AffectsConfiguration(ConfigSection, &s.folder) {
			s.invalidate("configuration " + e.Path)
		}
	}))

	return s
}

// Tasks returns the folder's tasks, scanning when nothing is cached.
// Concurrent callers share a single scan. A scan invalidated while in
// flight still answers its callers but is not cached.
func (s *workspaceState) Tasks(ctx context.Context) ([]*task.Task, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, errFolderRemoved
	}
	if s.cached {
		tasks := s.tasks
		s.mu.Unlock()
		return cloneTasks(tasks), nil
	}
	gen := s.generation
	s.mu.Unlock()

	ch := s.flight.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		return s.scan(gen)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, errFolderRemoved
	case res := <-ch:
		if res.Err != nil {
			if s.ctx.Err() != nil {
				return nil, errFolderRemoved
			}
			return nil, res.Err
		}
		return cloneTasks(res.Val.([]*task.Task)), nil
	}
}

func (s *workspaceState) scan(gen uint64) ([]*task.Task, error) {
	s.scans.Add(1)

	section := s.cfg.Get(ConfigSection, &s.folder)
	redoPath := section.GetString("redoPath", DefaultRedoPath)
	exclude := section.GetStringSlice("exclude", nil)

	tasks, err := Tasks(s.ctx, s.folder, redoPath, exclude)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.generation == gen && !s.disposed {
		s.tasks = tasks
		s.cached = true
	}
	s.mu.Unlock()

	s.logger.Debug("scanned %d redo targets", len(tasks))
	return tasks, nil
}

// invalidate drops the cached list so the next request rescans.
func (s *workspaceState) invalidate(reason string) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.generation++
	s.tasks = nil
	s.cached = false
	s.mu.Unlock()

	s.logger.Debug("tasks invalidated: %s", reason)
	if s.onInvalid != nil {
		s.onInvalid(s.folder)
	}
}

// Dispose stops watching and cancels any scan in flight. Calls after the
// first do nothing.
func (s *workspaceState) Dispose() {
	s.disposeOnce.Do(func() {
		s.mu.Lock()
		s.disposed = true
		s.tasks = nil
		s.cached = false
		s.mu.Unlock()

		s.cancel()
		s.resources.Dispose()
	})
}

func cloneTasks(tasks []*task.Task) []*task.Task {
	out := make([]*task.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}
