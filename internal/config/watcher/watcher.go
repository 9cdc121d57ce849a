// Package watcher polls configuration files for live reload.
//
// Configuration files frequently do not exist yet (a folder without a
// .vscode directory, a fresh user config dir), so files are polled by
// modification time rather than watched through directory notifications.
// Creation, modification and removal are all reported.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event represents a file change event.
type Event struct {
	// Path is the absolute path to the changed file.
	Path string

	// Op is the operation that triggered the event.
	Op Operation

	// Time is when the change was detected.
	Time time.Time
}

// Operation represents the type of file operation.
type Operation int

const (
	// OpWrite indicates the file was modified.
	OpWrite Operation = iota

	// OpCreate indicates a new file appeared.
	OpCreate

	// OpRemove indicates the file was deleted.
	OpRemove
)

// String returns the operation name.
func (op Operation) String() string {
	switch op {
	case OpWrite:
		return "write"
	case OpCreate:
		return "create"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Handler is called when a file change is detected.
type Handler func(event Event)

type fileState struct {
	modTime time.Time
	size    int64
	exists  bool
}

// Watcher monitors files for changes.
type Watcher struct {
	mu sync.RWMutex

	files    map[string]fileState
	handlers []Handler
	interval time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// New creates a new file watcher.
func New(opts ...Option) *Watcher {
	w := &Watcher{
		files:    make(map[string]fileState),
		interval: 500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Watch adds a file to the watch list. The file need not exist.
func (w *Watcher) Watch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	state, err := stat(absPath)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.files[absPath] = state
	return nil
}

// Unwatch removes a file from the watch list.
func (w *Watcher) Unwatch(path string) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.files, absPath)
}

// OnChange registers a handler for file change events.
func (w *Watcher) OnChange(handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Start begins polling. Calling Start on a running watcher does nothing.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.pollLoop()
}

// Stop stops polling and waits for in-flight handlers to return.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.cancel()
	w.running = false
	w.mu.Unlock()

	w.wg.Wait()
}

// WatchedFiles returns the list of watched files.
func (w *Watcher) WatchedFiles() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	files := make([]string, 0, len(w.files))
	for path := range w.files {
		files = append(files, path)
	}
	return files
}

func (w *Watcher) pollLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.Poll()
		}
	}
}

// Poll checks every watched file once and emits events for the changes
// found. It is called by the poll loop and may be called directly.
func (w *Watcher) Poll() {
	w.mu.RLock()
	paths := make([]string, 0, len(w.files))
	for path := range w.files {
		paths = append(paths, path)
	}
	w.mu.RUnlock()

	for _, path := range paths {
		if event, ok := w.checkFile(path); ok {
			w.emit(event)
		}
	}
}

func (w *Watcher) checkFile(path string) (Event, bool) {
	current, err := stat(path)
	if err != nil {
		return Event{}, false
	}

	w.mu.Lock()
	last, watched := w.files[path]
	if !watched || current.equal(last) {
		w.mu.Unlock()
		return Event{}, false
	}
	w.files[path] = current
	w.mu.Unlock()

	op := OpWrite
	switch {
	case !current.exists:
		op = OpRemove
	case !last.exists:
		op = OpCreate
	}
	return Event{Path: path, Op: op, Time: time.Now()}, true
}

// emit calls all handlers with the event.
// A panicking handler does not stop the poll loop.
func (w *Watcher) emit(event Event) {
	w.mu.RLock()
	handlers := make([]Handler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.RUnlock()

	for _, handler := range handlers {
		func() {
			defer func() { _ = recover() }()
			handler(event)
		}()
	}
}

func (s fileState) equal(o fileState) bool {
	return s.exists == o.exists && s.size == o.size && s.modTime.Equal(o.modTime)
}

func stat(path string) (fileState, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileState{}, nil
		}
		return fileState{}, err
	}
	return fileState{modTime: info.ModTime(), size: info.Size(), exists: true}, nil
}
