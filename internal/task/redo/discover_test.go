package redo

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/redotask/internal/task"
	"github.com/dshills/redotask/internal/workspace"
)

func writeFiles(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("exec >&2\n"), 0o644))
	}
}

func TestIsRecipe(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"all.do", true},
		{"app.o.do", true},
		{"default.do", false},
		{"default.o.do", false},
		{"defaults.do", true},
		{".do", false},
		{"README.md", false},
		{"all.do.bak", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRecipe(tt.name), tt.name)
	}
}

func TestTargets(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"all.do",
		"default.do",
		"build/app.do",
		"build/default.o.do",
		"build/deep/default.do",
		"build/deep/lib.a.do",
		"docs/README.md",
		".git/hooks/x.do",
		"CVS/x.do",
		"lib/.hg/x.do",
		".redo/state.do",
		"node_modules/pkg/y.do",
		"vendor/z.do",
	)

	targets, err := Targets(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{".redo/state", "all", "build/app", "build/deep/lib.a", "node_modules/pkg/y", "vendor/z"}, targets)

	targets, err = Targets(context.Background(), root, []string{"vendor/", "*.a.do"})
	require.NoError(t, err)
	assert.Equal(t, []string{".redo/state", "all", "build/app", "node_modules/pkg/y"}, targets)

	targets, err = Targets(context.Background(), root, []string{"node_modules/", ".redo/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"all", "build/app", "build/deep/lib.a", "vendor/z"}, targets)
}

func TestTargets_ToolDirectories(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"a.do",
		"node_modules/pkg/b.do",
		".redo/c.do",
		"sub/default.do",
		"x/default.o.do",
	)

	targets, err := Targets(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{".redo/c", "a", "node_modules/pkg/b"}, targets)
}

func TestTargets_FollowsSymlinks(t *testing.T) {
	root := t.TempDir()
	shared := t.TempDir()
	writeFiles(t, root, "all.do")
	writeFiles(t, shared, "lib.do", "default.do", "nested/util.do")

	require.NoError(t, os.Symlink(shared, filepath.Join(root, "shared")))
	// Links back into the tree must not loop.
	require.NoError(t, os.Symlink(root, filepath.Join(shared, "up")))
	require.NoError(t, os.Symlink(filepath.Join(root, "missing"), filepath.Join(root, "dangling")))

	targets, err := Targets(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"all", "shared/lib", "shared/nested/util"}, targets)

	targets, err = Targets(context.Background(), root, []string{"shared/nested/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"all", "shared/lib"}, targets)
}

func TestTargets_SymlinkedRoot(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "all.do", "sub/x.do")
	root := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(dir, root))

	targets, err := Targets(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"all", "sub/x"}, targets)
}

func TestTargets_CountMatchesRecipes(t *testing.T) {
	root := t.TempDir()
	names := []string{"a.do", "b/c.do", "b/default.do", "d/e/f.do", "d/e/default.x.do", "g.txt"}
	writeFiles(t, root, names...)

	want := 0
	for _, n := range names {
		if IsRecipe(filepath.Base(n)) {
			want++
		}
	}

	targets, err := Targets(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Len(t, targets, want)
}

func TestTargets_Canceled(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.do", "b/c.do")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Targets(ctx, root, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTasks(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "build/app.do", "default.do")
	folder := workspace.Folder{URI: workspace.PathToURI(root), Path: root, Name: "proj"}

	tasks, err := Tasks(context.Background(), folder, "/opt/bin/redo", nil)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	tk := tasks[0]
	assert.Equal(t, "build/app", tk.Name)
	assert.Equal(t, Kind, tk.Source)
	assert.Equal(t, task.GroupBuild, tk.Group)
	assert.Equal(t, "proj", tk.FolderName())
	assert.Equal(t, []string{ProblemMatcher}, tk.ProblemMatchers)

	target, ok := Target(tk.Definition)
	require.True(t, ok)
	assert.Equal(t, "build/app", target)

	require.NotNil(t, tk.Execution)
	assert.Equal(t, "/opt/bin/redo", tk.Execution.Command)
	assert.Equal(t, []string{"--", "build/app"}, tk.Execution.Args)
	assert.Equal(t, root, tk.Execution.Cwd)
}

func TestTasks_NoPath(t *testing.T) {
	folder := workspace.Folder{URI: "vscode-vfs://github/o/r", Name: "remote"}

	tasks, err := Tasks(context.Background(), folder, "redo", nil)
	require.NoError(t, err)
	assert.NotNil(t, tasks)
	assert.Empty(t, tasks)
}

func TestTasks_MissingFolder(t *testing.T) {
	root := filepath.Join(t.TempDir(), "gone")
	folder := workspace.Folder{URI: workspace.PathToURI(root), Path: root, Name: "gone"}

	_, err := Tasks(context.Background(), folder, "redo", nil)
	require.Error(t, err)

	var derr *DiscoveryError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "gone", derr.Folder)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestTarget(t *testing.T) {
	_, ok := Target(task.NewDefinition("make", map[string]any{"target": "all"}))
	assert.False(t, ok)

	_, ok = Target(task.NewDefinition(Kind, nil))
	assert.False(t, ok)

	_, ok = Target(task.NewDefinition(Kind, map[string]any{"target": 7}))
	assert.False(t, ok)

	target, ok := Target(Definition("a/b"))
	assert.True(t, ok)
	assert.Equal(t, "a/b", target)
}

func TestExecution_DefaultRedoPath(t *testing.T) {
	pe := Execution("-weird", "", "/src")
	assert.Equal(t, DefaultRedoPath, pe.Command)
	assert.Equal(t, []string{"--", "-weird"}, pe.Args)
	assert.Equal(t, "/src", pe.Cwd)
}
