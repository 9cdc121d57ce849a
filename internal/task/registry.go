package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/redotask/internal/lifecycle"
)

// ErrNoProvider indicates no provider is registered for a task kind.
var ErrNoProvider = errors.New("no task provider for kind")

// Provider contributes and resolves tasks of one kind.
type Provider interface {
	// ProvideTasks returns every task the provider currently knows.
	ProvideTasks(ctx context.Context) ([]*Task, error)

	// ResolveTask fills in the execution of a task stub. It returns nil
	// when the stub is not one the provider can run.
	ResolveTask(ctx context.Context, t *Task) (*Task, error)
}

// ProviderError wraps an error returned by a provider.
type ProviderError struct {
	Kind string
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("task provider %s: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Filter selects tasks during FetchTasks.
type Filter struct {
	// Type limits results to one kind; empty means all kinds.
	Type string

	// Folder limits results to tasks scoped to the named folder.
	Folder string
}

func (f Filter) match(t *Task) bool {
	if f.Folder != "" && t.FolderName() != f.Folder {
		return false
	}
	return true
}

type registration struct {
	id       uint64
	provider Provider
}

// Registry holds task providers by kind.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]registration
	nextID    uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]registration)}
}

// Register installs p as the provider for kind, replacing any earlier one.
// Disposing the returned handle removes p only if it is still installed.
func (r *Registry) Register(kind string, p Provider) lifecycle.Disposable {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.providers[kind] = registration{id: id, provider: p}

	return lifecycle.NewFunc(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if reg, ok := r.providers[kind]; ok && reg.id == id {
			delete(r.providers, kind)
		}
	})
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.providers))
	for k := range r.providers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Provider returns the provider for kind.
func (r *Registry) Provider(kind string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.providers[kind]
	return reg.provider, ok
}

// FetchTasks collects tasks from every provider matching the filter,
// in kind order. Tasks from providers that succeeded are returned even
// when another provider fails; the failures are joined into the error.
func (r *Registry) FetchTasks(ctx context.Context, filter Filter) ([]*Task, error) {
	var kinds []string
	if filter.Type != "" {
		if _, ok := r.Provider(filter.Type); !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoProvider, filter.Type)
		}
		kinds = []string{filter.Type}
	} else {
		kinds = r.Kinds()
	}

	var (
		tasks []*Task
		errs  []error
	)
	for _, kind := range kinds {
		p, ok := r.Provider(kind)
		if !ok {
			continue
		}
		provided, err := p.ProvideTasks(ctx)
		if err != nil {
			errs = append(errs, &ProviderError{Kind: kind, Err: err})
		}
		for _, t := range provided {
			if filter.match(t) {
				tasks = append(tasks, t)
			}
		}
	}
	return tasks, errors.Join(errs...)
}

// Resolve returns a runnable version of t. Tasks that already carry an
// execution are returned as is. A task whose kind has no provider, or
// that its provider rejects, resolves to nil.
func (r *Registry) Resolve(ctx context.Context, t *Task) (*Task, error) {
	if t == nil {
		return nil, nil
	}
	if t.Execution != nil {
		return t, nil
	}

	p, ok := r.Provider(t.Definition.Type)
	if !ok {
		return nil, nil
	}
	resolved, err := p.ResolveTask(ctx, t)
	if err != nil {
		return nil, &ProviderError{Kind: t.Definition.Type, Err: err}
	}
	return resolved, nil
}
