package task

import (
	"fmt"
	"sort"

	"github.com/dshills/redotask/internal/workspace"
)

// Group categorizes tasks.
type Group string

const (
	// GroupNone marks a task without a group.
	GroupNone Group = ""
	// GroupBuild contains build-related tasks.
	GroupBuild Group = "build"
	// GroupTest contains test-related tasks.
	GroupTest Group = "test"
	// GroupClean contains cleanup tasks.
	GroupClean Group = "clean"
)

// Definition identifies a task independently of how it runs.
// Type is the kind tag that selects a provider; every other field lives
// in Properties.
type Definition struct {
	Type       string
	Properties map[string]any
}

// NewDefinition returns a definition of kind typ with the given properties.
// The properties map is copied.
func NewDefinition(typ string, props map[string]any) Definition {
	d := Definition{Type: typ, Properties: make(map[string]any, len(props))}
	for k, v := range props {
		d.Properties[k] = v
	}
	return d
}

// Get returns the property named key.
func (d Definition) Get(key string) (any, bool) {
	v, ok := d.Properties[key]
	return v, ok
}

// String returns the property named key if it is a string.
func (d Definition) String(key string) (string, bool) {
	v, ok := d.Properties[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Map returns the definition as a flat map with "type" set.
func (d Definition) Map() map[string]any {
	m := make(map[string]any, len(d.Properties)+1)
	for k, v := range d.Properties {
		m[k] = v
	}
	m["type"] = d.Type
	return m
}

// ProcessExecution runs Command with Args directly, without a shell.
type ProcessExecution struct {
	Command string
	Args    []string
	Cwd     string
	Env     map[string]string
}

// CommandLine returns the command and arguments for display.
func (p *ProcessExecution) CommandLine() []string {
	return append([]string{p.Command}, p.Args...)
}

// Task is a host-visible unit of work.
type Task struct {
	// Definition identifies the task.
	Definition Definition

	// Scope is the folder the task belongs to; nil for workspace tasks.
	Scope *workspace.Folder

	// Name is the display name.
	Name string

	// Source names the provider that contributed the task.
	Source string

	// Group categorizes the task.
	Group Group

	// Detail is an optional description.
	Detail string

	// Execution is how the task runs; nil until resolved.
	Execution *ProcessExecution

	// ProblemMatchers names the matchers applied to the task's output.
	ProblemMatchers []string
}

// ID returns an identifier unique per source, folder and name.
func (t *Task) ID() string {
	scope := ""
	if t.Scope != nil {
		scope = t.Scope.URI
	}
	return fmt.Sprintf("%s:%s:%s", t.Source, scope, t.Name)
}

// FolderName returns the scope's name, or "" for unscoped tasks.
func (t *Task) FolderName() string {
	if t.Scope == nil {
		return ""
	}
	return t.Scope.Name
}

// Clone returns a copy of the task that shares no mutable state.
func (t *Task) Clone() *Task {
	c := *t
	c.Definition = NewDefinition(t.Definition.Type, t.Definition.Properties)
	if t.Scope != nil {
		scope := *t.Scope
		c.Scope = &scope
	}
	if t.Execution != nil {
		exec := *t.Execution
		exec.Args = append([]string(nil), t.Execution.Args...)
		if t.Execution.Env != nil {
			exec.Env = make(map[string]string, len(t.Execution.Env))
			for k, v := range t.Execution.Env {
				exec.Env[k] = v
			}
		}
		c.Execution = &exec
	}
	c.ProblemMatchers = append([]string(nil), t.ProblemMatchers...)
	return &c
}

// SortTasks orders tasks by folder index, then name.
func SortTasks(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		ai, bi := -1, -1
		if a.Scope != nil {
			ai = a.Scope.Index
		}
		if b.Scope != nil {
			bi = b.Scope.Index
		}
		if ai != bi {
			return ai < bi
		}
		return a.Name < b.Name
	})
}
