package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/redotask/internal/lifecycle"
)

// FileSystemWatcher watches a directory tree for files matching a glob.
type FileSystemWatcher struct {
	mu sync.Mutex

	root    string
	glob    string
	config  Config
	ignore  *IgnorePatterns
	watcher *fsnotify.Watcher

	// Watched directories
	dirs map[string]bool

	// Registered handlers by operation
	handlers map[Op]map[uint64]Handler
	nextID   uint64

	// Debounced events by path
	pending map[string]*pendingEvent

	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

type pendingEvent struct {
	ops   Op
	timer *time.Timer
}

// New creates a watcher for files under root whose base name matches glob.
// Subdirectories are watched recursively, including ones created later.
func New(root, glob string, opts ...Option) (*FileSystemWatcher, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	if _, err := filepath.Match(glob, ""); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGlob, glob)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPathNotExist
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &FileSystemWatcher{
		root:     absRoot,
		glob:     glob,
		config:   config,
		ignore:   NewIgnorePatterns(config.IgnorePatterns...),
		watcher:  fsw,
		dirs:     make(map[string]bool),
		handlers: make(map[Op]map[uint64]Handler),
		pending:  make(map[string]*pendingEvent),
		closeCh:  make(chan struct{}),
	}

	if err := w.addTree(absRoot, false); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w.closedWg.Add(1)
	go w.processLoop()

	return w, nil
}

// Root returns the watched root directory.
func (w *FileSystemWatcher) Root() string {
	return w.root
}

// Glob returns the base-name glob that files must match.
func (w *FileSystemWatcher) Glob() string {
	return w.glob
}

// OnDidCreate registers a handler for created files.
func (w *FileSystemWatcher) OnDidCreate(h Handler) lifecycle.Disposable {
	return w.on(OpCreate, h)
}

// OnDidChange registers a handler for modified files.
func (w *FileSystemWatcher) OnDidChange(h Handler) lifecycle.Disposable {
	return w.on(OpChange, h)
}

// OnDidDelete registers a handler for deleted files.
// Removing a watched directory is reported as a delete of that directory.
func (w *FileSystemWatcher) OnDidDelete(h Handler) lifecycle.Disposable {
	return w.on(OpDelete, h)
}

func (w *FileSystemWatcher) on(op Op, h Handler) lifecycle.Disposable {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++
	if w.handlers[op] == nil {
		w.handlers[op] = make(map[uint64]Handler)
	}
	w.handlers[op][id] = h

	return lifecycle.NewFunc(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.handlers[op], id)
	})
}

// Matches reports whether path is a file this watcher reports on.
func (w *FileSystemWatcher) Matches(path string) bool {
	matched, _ := filepath.Match(w.glob, filepath.Base(path))
	return matched && !w.ignored(path)
}

// ignored reports whether path or any directory between it and the root
// matches an ignore pattern.
func (w *FileSystemWatcher) ignored(path string) bool {
	if w.ignore.MatchRelative(path, w.root, false) {
		return true
	}
	for dir := filepath.Dir(path); len(dir) > len(w.root); dir = filepath.Dir(dir) {
		if w.ignore.MatchRelative(dir, w.root, true) {
			return true
		}
	}
	return false
}

// WatchedDirs returns the number of directories being watched.
func (w *FileSystemWatcher) WatchedDirs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

// Close stops the watcher and drops any pending events.
// It is safe to call Close multiple times.
func (w *FileSystemWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	w.closedWg.Wait()
	return w.watcher.Close()
}

// Dispose closes the watcher.
func (w *FileSystemWatcher) Dispose() {
	_ = w.Close()
}

// addTree watches dir and every non-ignored subdirectory.
// When report is set, matching files found in the tree are reported as
// created; this covers directories moved into the watched tree.
func (w *FileSystemWatcher) addTree(dir string, report bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}

		if d.IsDir() {
			if p != w.root && w.ignore.MatchRelative(p, w.root, true) {
				return filepath.SkipDir
			}
			return w.addDir(p)
		}

		if report && w.Matches(p) {
			w.queue(p, OpCreate)
		}
		return nil
	})
}

func (w *FileSystemWatcher) addDir(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.dirs[dir] {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = true
	return nil
}

// removeDir forgets dir and its subdirectories. It reports whether dir was
// being watched.
func (w *FileSystemWatcher) removeDir(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.dirs[dir] {
		return false
	}
	prefix := dir + string(filepath.Separator)
	for d := range w.dirs {
		if d == dir || len(d) > len(prefix) && d[:len(prefix)] == prefix {
			// fsnotify drops watches for removed directories on its own.
			_ = w.watcher.Remove(d)
			delete(w.dirs, d)
		}
	}
	return true
}

func (w *FileSystemWatcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.config.ErrorHandler != nil {
				w.config.ErrorHandler(err)
			}
		}
	}
}

func (w *FileSystemWatcher) handleFSEvent(ev fsnotify.Event) {
	path := ev.Name

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			if w.ignore.MatchRelative(path, w.root, true) {
				return
			}
			if err := w.addTree(path, true); err != nil && !errors.Is(err, ErrWatcherClosed) {
				w.reportError(err)
			}
			return
		}
		if w.Matches(path) {
			w.queue(path, OpCreate)
		}

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if w.removeDir(path) {
			w.queue(path, OpDelete)
			return
		}
		if w.Matches(path) {
			w.queue(path, OpDelete)
		}

	case ev.Has(fsnotify.Write):
		if w.Matches(path) {
			w.queue(path, OpChange)
		}
	}
}

// queue schedules a debounced event for path.
func (w *FileSystemWatcher) queue(path string, op Op) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	if p, ok := w.pending[path]; ok {
		p.ops |= op
		p.timer.Reset(w.config.DebounceDelay)
		return
	}

	p := &pendingEvent{ops: op}
	p.timer = time.AfterFunc(w.config.DebounceDelay, func() {
		w.fire(path)
	})
	w.pending[path] = p
}

// fire delivers the coalesced event for path.
func (w *FileSystemWatcher) fire(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if !ok || w.closed {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)

	op := coalesce(path, p.ops)
	handlers := make([]Handler, 0, len(w.handlers[op]))
	for _, h := range w.handlers[op] {
		handlers = append(handlers, h)
	}
	w.mu.Unlock()

	event := Event{Path: path, Op: op, Timestamp: time.Now()}
	for _, h := range handlers {
		h(event)
	}
}

// coalesce reduces the operations seen within one debounce window to the
// single operation that describes the final state of path.
func coalesce(path string, ops Op) Op {
	if _, err := os.Lstat(path); err != nil {
		return OpDelete
	}
	if ops.Has(OpCreate) || ops.Has(OpDelete) {
		return OpCreate
	}
	return OpChange
}

func (w *FileSystemWatcher) reportError(err error) {
	if w.config.ErrorHandler != nil {
		w.config.ErrorHandler(err)
	}
}
