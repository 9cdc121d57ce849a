package redo

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/redotask/internal/task"
	"github.com/dshills/redotask/internal/watcher"
	"github.com/dshills/redotask/internal/workspace"
)

const (
	// Kind is the task definition type handled by this package.
	Kind = "redo"

	// Ext is the recipe file extension.
	Ext = ".do"

	// DefaultPrefix marks fallback recipes, which are not targets.
	DefaultPrefix = "default."

	// ConfigSection is the configuration section read by the provider.
	ConfigSection = "redo"

	// DefaultRedoPath is the executable used when redo.redoPath is unset.
	DefaultRedoPath = "redo"

	// TargetProperty is the definition property holding the target name.
	TargetProperty = "target"

	// ProblemMatcher reports failed targets from redo's output.
	ProblemMatcher = "$redo"
)

// DiscoveryError reports a failed recipe scan.
type DiscoveryError struct {
	Folder string
	Err    error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover redo targets in %s: %v", e.Folder, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// IsRecipe reports whether the base name is a target recipe.
func IsRecipe(name string) bool {
	return strings.HasSuffix(name, Ext) && len(name) > len(Ext) && !strings.HasPrefix(name, DefaultPrefix)
}

// Targets returns the recipe targets under root, relative to root with
// forward slashes and without the extension, in sorted order. Version
// control directories and directories matching exclude are not descended.
// Symbolic links to directories are followed; a link back to a directory
// already entered is not.
func Targets(ctx context.Context, root string, exclude []string) ([]string, error) {
	ignore := watcher.NewIgnorePatterns(watcher.VCSIgnorePatterns...)
	ignore.AddPatterns(exclude)

	s := &scanner{
		ctx:     ctx,
		ignore:  ignore,
		visited: make(map[string]bool),
	}
	if err := s.walk(root, ""); err != nil {
		return nil, err
	}

	sort.Strings(s.targets)
	return s.targets, nil
}

type scanner struct {
	ctx     context.Context
	ignore  *watcher.IgnorePatterns
	visited map[string]bool
	targets []string
}

// walk scans dir, whose path relative to the folder root is prefix.
func (s *scanner) walk(dir, prefix string) error {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	if s.visited[resolved] {
		return nil
	}
	s.visited[resolved] = true

	return filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := s.ctx.Err(); err != nil {
			return err
		}
		if path == resolved {
			return nil
		}

		rel, err := filepath.Rel(resolved, path)
		if err != nil {
			return err
		}
		rel = filepath.Join(prefix, rel)

		isDir := d.IsDir()
		if d.Type()&fs.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil {
				// Dangling link.
				return nil
			}
			isDir = info.IsDir()
		}

		if isDir {
			if s.ignore.MatchRelative(rel, "", true) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.IsDir() {
				return s.walk(path, rel)
			}
			return nil
		}
		if !IsRecipe(d.Name()) || s.ignore.MatchRelative(rel, "", false) {
			return nil
		}

		s.targets = append(s.targets, filepath.ToSlash(strings.TrimSuffix(rel, Ext)))
		return nil
	})
}

// Tasks scans folder for recipes and returns one build task per target.
// A folder without a file system path has no tasks.
func Tasks(ctx context.Context, folder workspace.Folder, redoPath string, exclude []string) ([]*task.Task, error) {
	if folder.Path == "" {
		return []*task.Task{}, nil
	}

	targets, err := Targets(ctx, folder.Path, exclude)
	if err != nil {
		return nil, &DiscoveryError{Folder: folder.Name, Err: err}
	}

	tasks := make([]*task.Task, 0, len(targets))
	for _, target := range targets {
		tasks = append(tasks, NewTask(folder, target, redoPath))
	}
	return tasks, nil
}

// NewTask returns the build task for target in folder.
func NewTask(folder workspace.Folder, target, redoPath string) *task.Task {
	return &task.Task{
		Definition:      Definition(target),
		Scope:           &folder,
		Name:            target,
		Source:          Kind,
		Group:           task.GroupBuild,
		Execution:       Execution(target, redoPath, folder.Path),
		ProblemMatchers: []string{ProblemMatcher},
	}
}

// Definition returns the definition identifying target.
func Definition(target string) task.Definition {
	return task.NewDefinition(Kind, map[string]any{TargetProperty: target})
}

// Target returns the target of a redo definition. It fails for other
// kinds and for definitions without a string target.
func Target(d task.Definition) (string, bool) {
	if d.Type != Kind {
		return "", false
	}
	return d.String(TargetProperty)
}

// Execution returns the invocation that builds target. The "--" keeps
// targets that begin with a dash from being read as flags.
func Execution(target, redoPath, cwd string) *task.ProcessExecution {
	if redoPath == "" {
		redoPath = DefaultRedoPath
	}
	return &task.ProcessExecution{
		Command: redoPath,
		Args:    []string{"--", target},
		Cwd:     cwd,
	}
}
