package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/dshills/redotask/internal/app"
	"github.com/dshills/redotask/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// fakeRedo writes an executable that prints its arguments and exits with
// status.
func fakeRedo(t *testing.T, status int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "redo")
	script := "#!/bin/sh\necho \"args: $*\"\necho \"oops\" >&2\nexit " + string(rune('0'+status)) + "\n"
	writeFile(t, path, script)
	require.NoError(t, os.Chmod(path, 0o755))
	return path
}

// project creates a folder with recipes and returns it with the global
// flags that point the command at it.
func project(t *testing.T) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "all.do"), "")
	writeFile(t, filepath.Join(dir, "lib", "util.o.do"), "")
	writeFile(t, filepath.Join(dir, "default.o.do"), "")
	return dir, []string{"-w", dir, "--config", t.TempDir()}
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "redotask dev (commit unknown, built unknown)\n", out)
}

func TestList_Text(t *testing.T) {
	dir, global := project(t)

	out, _, err := execute(t, append([]string{"list"}, global...)...)
	require.NoError(t, err)

	assert.Contains(t, out, filepath.Base(dir))
	assert.Contains(t, out, "redo -- all")
	assert.Contains(t, out, "redo -- lib/util.o")
	assert.NotContains(t, out, "default")
	assert.Contains(t, out, "2 targets")
}

func TestList_JSON(t *testing.T) {
	dir, global := project(t)

	out, _, err := execute(t, append([]string{"list", "-o", "json"}, global...)...)
	require.NoError(t, err)

	var views []taskView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)
	assert.Equal(t, taskView{
		Folder:  filepath.Base(dir),
		Target:  "all",
		Label:   "all",
		Group:   "build",
		Command: []string{"redo", "--", "all"},
	}, views[0])
	assert.Equal(t, "lib/util.o", views[1].Target)
}

func TestList_YAML(t *testing.T) {
	_, global := project(t)

	out, _, err := execute(t, append([]string{"list", "-o", "yaml"}, global...)...)
	require.NoError(t, err)

	var views []taskView
	require.NoError(t, yaml.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "all", views[0].Target)
}

func TestList_Errors(t *testing.T) {
	_, global := project(t)

	_, _, err := execute(t, append([]string{"list", "-o", "xml"}, global...)...)
	assert.ErrorContains(t, err, "unknown output format")

	_, _, err = execute(t, append([]string{"list", "--folder", "nope"}, global...)...)
	assert.ErrorIs(t, err, app.ErrUnknownFolder)
}

func TestRun(t *testing.T) {
	dir, global := project(t)
	redoPath := fakeRedo(t, 0)

	_, _, err := execute(t, append([]string{"config", "set", "redo.redoPath", redoPath, "--folder", filepath.Base(dir)}, global...)...)
	require.NoError(t, err)

	out, errOut, err := execute(t, append([]string{"run", "lib/util.o"}, global...)...)
	require.NoError(t, err)
	assert.Equal(t, "args: -- lib/util.o\n", out)
	assert.Contains(t, errOut, "> "+redoPath+" -- lib/util.o")
	assert.Contains(t, errOut, "oops")
}

func TestRun_ExitStatus(t *testing.T) {
	_, global := project(t)
	redoPath := fakeRedo(t, 3)

	_, _, err := execute(t, append([]string{"config", "set", "redo.redoPath", redoPath}, global...)...)
	require.NoError(t, err)

	_, errOut, err := execute(t, append([]string{"run", "all"}, global...)...)
	var exitErr *exitError
	require.True(t, errors.As(err, &exitErr), "error = %v", err)
	assert.Equal(t, 3, exitErr.code)
	assert.Contains(t, errOut, "failed with exit status 3")
}

func TestRun_Args(t *testing.T) {
	_, global := project(t)

	_, _, err := execute(t, append([]string{"run"}, global...)...)
	assert.ErrorContains(t, err, "requires a target")

	_, _, err = execute(t, append([]string{"run", "all", "--label", "x"}, global...)...)
	assert.ErrorContains(t, err, "not both")
}

func TestRun_Label(t *testing.T) {
	dir, global := project(t)
	redoPath := fakeRedo(t, 0)
	writeFile(t, filepath.Join(dir, ".vscode", "settings.json"), `{"redo.redoPath": "`+redoPath+`"}`)
	writeFile(t, filepath.Join(dir, ".vscode", "tasks.json"), `{
		// build everything
		"version": "2.0.0",
		"tasks": [{"label": "everything", "type": "redo", "target": "all"}]
	}`)

	out, _, err := execute(t, append([]string{"run", "--label", "everything"}, global...)...)
	require.NoError(t, err)
	assert.Equal(t, "args: -- all\n", out)
}

func TestExport(t *testing.T) {
	dir, global := project(t)
	file := filepath.Join(t.TempDir(), "tasks.json")

	out, _, err := execute(t, append([]string{"export", "--file", file}, global...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "2 added, 0 updated")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", gjson.GetBytes(data, "version").String())
	assert.Equal(t, "redo: all", gjson.GetBytes(data, "tasks.0.label").String())
	assert.Equal(t, "lib/util.o", gjson.GetBytes(data, "tasks.1.target").String())

	out, _, err = execute(t, append([]string{"export"}, global...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "2 added")
	assert.FileExists(t, filepath.Join(dir, ".vscode", "tasks.json"))
}

func TestConfig_GetSet(t *testing.T) {
	dir, global := project(t)

	out, _, err := execute(t, append([]string{"config", "get", "redo.redoPath"}, global...)...)
	require.NoError(t, err)
	assert.Equal(t, "redo\t(builtin)\n", out)

	_, _, err = execute(t, append([]string{"config", "set", "redo.exclude", "[build/**, out]", "--folder", filepath.Base(dir)}, global...)...)
	require.NoError(t, err)

	out, _, err = execute(t, append([]string{"config", "get", "redo.exclude", "--folder", filepath.Base(dir)}, global...)...)
	require.NoError(t, err)
	assert.Equal(t, "[build/**, out]\t(folder)\n", out)

	out, _, err = execute(t, append([]string{"config", "get", "redo.exclude"}, global...)...)
	require.NoError(t, err)
	assert.Equal(t, "[]\t(builtin)\n", out)

	out, _, err = execute(t, append([]string{"config", "list", "--folder", filepath.Base(dir)}, global...)...)
	require.NoError(t, err)
	assert.Equal(t, "logging.level = info\nredo.exclude = [build/**, out]\nredo.redoPath = redo\n", out)

	_, _, err = execute(t, append([]string{"config", "unset", "redo.exclude", "--folder", filepath.Base(dir)}, global...)...)
	require.NoError(t, err)
	out, _, err = execute(t, append([]string{"config", "get", "redo.exclude", "--folder", filepath.Base(dir)}, global...)...)
	require.NoError(t, err)
	assert.Equal(t, "[]\t(builtin)\n", out)

	_, _, err = execute(t, append([]string{"config", "unset", "redo.exclude"}, global...)...)
	assert.ErrorIs(t, err, config.ErrSettingNotFound)

	_, _, err = execute(t, append([]string{"config", "set", "redoPath", "x"}, global...)...)
	assert.ErrorContains(t, err, "section.key")
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"/usr/bin/redo", "/usr/bin/redo"},
		{"true", true},
		{"3", 3},
		{"[a, b]", []any{"a", "b"}},
		{"", ""},
	}
	for _, tt := range tests {
		got, err := parseValue(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseValue("{a: 1}")
	assert.Error(t, err)
}

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchTasks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "all.do"), "")

	application, err := app.New(app.Options{
		Folders:   []string{dir},
		ConfigDir: t.TempDir(),
		LogOutput: &bytes.Buffer{},
		Watch:     true,
	})
	require.NoError(t, err)
	defer application.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	var out syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- watchTasks(ctx, application, &out, formatText, rate.NewLimiter(rate.Inf, 1))
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "1 target")
	}, 5*time.Second, 20*time.Millisecond)

	writeFile(t, filepath.Join(dir, "test.do"), "")

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "2 targets")
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watchTasks did not return after cancel")
	}
}
