// Package lifecycle provides scoped resources with guaranteed release.
//
// Host services hand out a Disposable for every listener or watcher they
// register. Dispose releases the resource; calling it again is a no-op.
package lifecycle

import "sync"

// Disposable is a resource that can be released.
type Disposable interface {
	Dispose()
}

// Func adapts a release function into a Disposable that runs at most once.
type Func struct {
	once sync.Once
	fn   func()
}

// NewFunc creates a Disposable that calls fn on the first Dispose.
func NewFunc(fn func()) *Func {
	return &Func{fn: fn}
}

// Dispose calls the release function once.
func (f *Func) Dispose() {
	f.once.Do(func() {
		if f.fn != nil {
			f.fn()
		}
	})
}

// Group disposes a set of resources together, in reverse registration order.
type Group struct {
	mu       sync.Mutex
	items    []Disposable
	disposed bool
}

// Add registers a resource with the group.
// If the group is already disposed, d is disposed immediately.
func (g *Group) Add(d Disposable) {
	if d == nil {
		return
	}
	g.mu.Lock()
	if g.disposed {
		g.mu.Unlock()
		d.Dispose()
		return
	}
	g.items = append(g.items, d)
	g.mu.Unlock()
}

// Dispose releases every registered resource.
func (g *Group) Dispose() {
	g.mu.Lock()
	if g.disposed {
		g.mu.Unlock()
		return
	}
	g.disposed = true
	items := g.items
	g.items = nil
	g.mu.Unlock()

	for i := len(items) - 1; i >= 0; i-- {
		items[i].Dispose()
	}
}

// Disposed reports whether Dispose has been called.
func (g *Group) Disposed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disposed
}
