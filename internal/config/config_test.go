package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dshills/redotask/internal/config/loader"
	"github.com/dshills/redotask/internal/workspace"
)

func newTestConfig(t *testing.T, opts ...Option) *Config {
	t.Helper()
	opts = append([]Option{
		WithUserConfigDir(t.TempDir()),
		WithPollInterval(time.Hour),
		WithEnvPrefix("RTTEST_"),
	}, opts...)

	c := New(opts...)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func newTestFolder(t *testing.T) workspace.Folder {
	t.Helper()
	dir := t.TempDir()
	return workspace.Folder{URI: workspace.PathToURI(dir), Path: dir, Name: filepath.Base(dir)}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

type recorder struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (r *recorder) record(e ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChangeEvent(nil), r.events...)
}

func TestConfig_Defaults(t *testing.T) {
	c := newTestConfig(t)

	redo := c.Get("redo", nil)
	if got := redo.GetString("redoPath", "x"); got != "redo" {
		t.Errorf("redo.redoPath = %q, want redo", got)
	}
	if got := redo.GetStringSlice("exclude", nil); got == nil || len(got) != 0 {
		t.Errorf("redo.exclude = %#v, want empty slice", got)
	}
	if got := c.Get("missing", nil).GetString("key", "def"); got != "def" {
		t.Errorf("missing section GetString = %q, want def", got)
	}
}

func TestConfig_FolderLayers(t *testing.T) {
	c := newTestConfig(t)
	a := newTestFolder(t)
	b := newTestFolder(t)

	writeFile(t, filepath.Join(a.Path, FolderSettingsFile), `{"redo.redoPath": "/vscode/redo", "redo.exclude": ["out"]}`)
	writeFile(t, filepath.Join(a.Path, FolderConfigFile), "[redo]\nredoPath = \"/project/redo\"\n")

	if err := c.AddFolder(a); err != nil {
		t.Fatalf("AddFolder(a): %v", err)
	}
	if err := c.AddFolder(b); err != nil {
		t.Fatalf("AddFolder(b): %v", err)
	}

	if got := c.Get("redo", &a).GetString("redoPath", ""); got != "/project/redo" {
		t.Errorf("folder a redoPath = %q, want /project/redo", got)
	}
	if got := c.Get("redo", &a).GetStringSlice("exclude", nil); len(got) != 1 || got[0] != "out" {
		t.Errorf("folder a exclude = %v", got)
	}
	if got := c.Get("redo", &b).GetString("redoPath", ""); got != "redo" {
		t.Errorf("folder b redoPath = %q, want default", got)
	}
	if got := c.Get("redo", nil).GetString("redoPath", ""); got != "redo" {
		t.Errorf("global redoPath = %q, want default", got)
	}

	_, source, err := c.Lookup("redo.redoPath", &a)
	if err != nil || source != "folder" {
		t.Errorf("Lookup source = %q, %v; want folder", source, err)
	}

	c.RemoveFolder(a.URI)
	if got := c.Get("redo", &a).GetString("redoPath", ""); got != "redo" {
		t.Errorf("removed folder redoPath = %q, want default", got)
	}
}

func TestConfig_FolderSettingsTrailingCommas(t *testing.T) {
	c := newTestConfig(t)
	f := newTestFolder(t)

	writeFile(t, filepath.Join(f.Path, FolderSettingsFile), `{
	// editor settings
	"redo.redoPath": "/vscode/redo",
	"redo.exclude": ["out",],
}`)
	if err := c.AddFolder(f); err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	if got := c.Get("redo", &f).GetString("redoPath", ""); got != "/vscode/redo" {
		t.Errorf("redoPath = %q, want /vscode/redo", got)
	}
	if got := c.Get("redo", &f).GetStringSlice("exclude", nil); len(got) != 1 || got[0] != "out" {
		t.Errorf("exclude = %v", got)
	}
}

func TestConfig_UserAndEnv(t *testing.T) {
	userDir := t.TempDir()
	writeFile(t, filepath.Join(userDir, UserSettingsFile), "[redo]\nredoPath = \"/user/redo\"\n")

	c := newTestConfig(t, WithUserConfigDir(userDir))
	if got, _ := c.GetString("redo.redoPath", nil); got != "/user/redo" {
		t.Errorf("redo.redoPath = %q, want /user/redo", got)
	}

	t.Setenv("RTTEST_REDO_PATH", "/env/redo")
	c2 := newTestConfig(t, WithUserConfigDir(userDir))
	folder := newTestFolder(t)
	writeFile(t, filepath.Join(folder.Path, FolderConfigFile), "[redo]\nredoPath = \"/project/redo\"\n")
	_ = c2.AddFolder(folder)

	if got := c2.Get("redo", &folder).GetString("redoPath", ""); got != "/env/redo" {
		t.Errorf("redoPath with env = %q, want /env/redo", got)
	}
}

func TestConfig_Lookup(t *testing.T) {
	c := newTestConfig(t)

	if _, _, err := c.Lookup("", nil); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("Lookup(\"\") error = %v", err)
	}
	if _, _, err := c.Lookup("redo.nope", nil); !errors.Is(err, ErrSettingNotFound) {
		t.Errorf("Lookup(missing) error = %v", err)
	}
	if _, err := c.GetString("redo.exclude", nil); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("GetString(list) error = %v, want ErrTypeMismatch", err)
	}
	v, source, err := c.Lookup("redo.redoPath", nil)
	if err != nil || v != "redo" || source != "builtin" {
		t.Errorf("Lookup = %v, %q, %v", v, source, err)
	}
}

func TestConfig_SetGlobal(t *testing.T) {
	c := newTestConfig(t)
	folder := newTestFolder(t)
	_ = c.AddFolder(folder)

	rec := &recorder{}
	d := c.OnDidChange(rec.record)
	defer d.Dispose()

	if err := c.Set("redo", "redoPath", "/usr/local/bin/redo", nil); err != nil {
		t.Fatalf("Set: %v", err)
	}

	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Path != "redo.redoPath" || events[0].NewValue != "/usr/local/bin/redo" {
		t.Errorf("event = %+v", events[0].Change)
	}
	if !events[0].AffectsConfiguration("redo", &folder) {
		t.Error("global change should affect every folder")
	}

	data, err := loader.NewTOMLLoader(c.UserSettingsPath()).Load()
	if err != nil || data == nil {
		t.Fatalf("user settings not written: %v", err)
	}

	// Same value again: no effective change.
	if err := c.Set("redo", "redoPath", "/usr/local/bin/redo", nil); err != nil {
		t.Fatal(err)
	}
	if len(rec.all()) != 1 {
		t.Error("setting an unchanged value notified observers")
	}
}

func TestConfig_SetFolder(t *testing.T) {
	c := newTestConfig(t)
	a := newTestFolder(t)
	b := newTestFolder(t)
	_ = c.AddFolder(a)
	_ = c.AddFolder(b)

	rec := &recorder{}
	c.OnDidChange(rec.record)

	if err := c.Set("redo", "exclude", []string{"tmp/**"}, &a); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := os.Stat(filepath.Join(a.Path, FolderConfigFile)); err != nil {
		t.Errorf("folder config not written: %v", err)
	}

	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if !events[0].AffectsConfiguration("redo", &a) {
		t.Error("change should affect folder a")
	}
	if events[0].AffectsConfiguration("redo", &b) {
		t.Error("change should not affect folder b")
	}
	if got := c.Get("redo", &a).GetStringSlice("exclude", nil); len(got) != 1 {
		t.Errorf("exclude = %v", got)
	}

	unknown := newTestFolder(t)
	if err := c.Set("redo", "redoPath", "x", &unknown); !errors.Is(err, ErrUnknownFolder) {
		t.Errorf("Set unknown folder error = %v", err)
	}
	remote := workspace.Folder{URI: "vscode-vfs://github/x"}
	_ = c.AddFolder(remote)
	if err := c.Set("redo", "redoPath", "x", &remote); !errors.Is(err, ErrNoFolderPath) {
		t.Errorf("Set remote folder error = %v", err)
	}
	if err := c.Set("", "redoPath", "x", nil); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("Set empty section error = %v", err)
	}
}

func TestConfig_LiveReload(t *testing.T) {
	c := newTestConfig(t)
	folder := newTestFolder(t)
	_ = c.AddFolder(folder)

	rec := &recorder{}
	c.OnDidChange(rec.record)

	settings := filepath.Join(folder.Path, FolderSettingsFile)
	writeFile(t, settings, `{"redo.redoPath": "/reloaded/redo"}`)
	c.Reload()

	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("got %d events after create, want 1", len(events))
	}
	if events[0].Scope != folder.URI || !events[0].AffectsConfiguration("redo", &folder) {
		t.Errorf("event = %+v", events[0].Change)
	}
	if got := c.Get("redo", &folder).GetString("redoPath", ""); got != "/reloaded/redo" {
		t.Errorf("redoPath after reload = %q", got)
	}

	// Unrelated key: notifies, but not for the redo section.
	writeFile(t, settings, `{"redo.redoPath": "/reloaded/redo", "editor.tabSize": 4}`)
	c.Reload()
	events = rec.all()
	if len(events) != 2 || events[1].AffectsConfiguration("redo", &folder) {
		t.Errorf("events after unrelated edit = %d", len(events))
	}

	if err := os.Remove(settings); err != nil {
		t.Fatal(err)
	}
	c.Reload()
	if got := c.Get("redo", &folder).GetString("redoPath", ""); got != "redo" {
		t.Errorf("redoPath after delete = %q, want default", got)
	}
}

func TestConfig_ReloadParseError(t *testing.T) {
	var mu sync.Mutex
	var reported []error
	c := newTestConfig(t, WithErrorHandler(func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}))
	folder := newTestFolder(t)
	cfgPath := filepath.Join(folder.Path, FolderConfigFile)
	writeFile(t, cfgPath, "[redo]\nredoPath = \"/ok\"\n")
	_ = c.AddFolder(folder)

	writeFile(t, cfgPath, "[redo\n")
	c.Reload()

	mu.Lock()
	n := len(reported)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("reported %d errors, want 1", n)
	}
	if got := c.Get("redo", &folder).GetString("redoPath", ""); got != "/ok" {
		t.Errorf("redoPath after bad edit = %q, want previous value", got)
	}
}

func TestConfig_AddFolderParseError(t *testing.T) {
	c := newTestConfig(t)
	folder := newTestFolder(t)
	writeFile(t, filepath.Join(folder.Path, FolderSettingsFile), `{"redo.redoPath": `)

	err := c.AddFolder(folder)
	var pe *loader.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("AddFolder error = %v, want ParseError", err)
	}
	if err := c.Set("redo", "redoPath", "x", &folder); err != nil {
		t.Errorf("folder not registered after parse error: %v", err)
	}
}

func TestChangeEvent_AffectsConfiguration(t *testing.T) {
	a := workspace.Folder{URI: "file:///a"}
	b := workspace.Folder{URI: "file:///b"}

	tests := []struct {
		name    string
		path    string
		scope   string
		section string
		folder  *workspace.Folder
		want    bool
	}{
		{"global key in section", "redo.redoPath", "", "redo", &a, true},
		{"global nil scope", "redo.redoPath", "", "redo", nil, true},
		{"other section", "editor.tabSize", "", "redo", &a, false},
		{"prefix is not a section", "redox.value", "", "redo", &a, false},
		{"folder match", "redo.exclude", "file:///a", "redo", &a, true},
		{"folder mismatch", "redo.exclude", "file:///a", "redo", &b, false},
		{"folder change nil scope", "redo.exclude", "file:///a", "redo", nil, false},
		{"exact key", "redo.redoPath", "", "redo.redoPath", &a, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ChangeEvent{}
			e.Path = tt.path
			e.Scope = tt.scope
			if got := e.AffectsConfiguration(tt.section, tt.folder); got != tt.want {
				t.Errorf("AffectsConfiguration = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfig_Closed(t *testing.T) {
	c := New(WithUserConfigDir(t.TempDir()), WithWatcher(false))
	c.Close()
	c.Close()

	if err := c.Load(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Load after Close error = %v", err)
	}
	if err := c.AddFolder(newTestFolder(t)); !errors.Is(err, ErrClosed) {
		t.Errorf("AddFolder after Close error = %v", err)
	}
}

func TestConfig_WorkspaceSettings(t *testing.T) {
	c := newTestConfig(t)
	folder := newTestFolder(t)
	if err := c.AddFolder(folder); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	c.OnDidChange(rec.record)

	if err := c.SetWorkspaceSettings(map[string]any{"redo.redoPath": "/ws/redo"}); err != nil {
		t.Fatalf("SetWorkspaceSettings: %v", err)
	}
	if got := c.Get("redo", &folder).GetString("redoPath", ""); got != "/ws/redo" {
		t.Errorf("redoPath = %q, want /ws/redo", got)
	}
	_, source, _ := c.Lookup("redo.redoPath", nil)
	if source != "workspace" {
		t.Errorf("source = %q, want workspace", source)
	}

	events := rec.all()
	if len(events) != 1 || events[0].Path != "redo.redoPath" || events[0].Scope != "" {
		t.Fatalf("events = %+v", events)
	}

	// Folder settings override workspace settings.
	writeFile(t, filepath.Join(folder.Path, FolderSettingsFile), `{"redo.redoPath": "/folder/redo"}`)
	c.RemoveFolder(folder.URI)
	if err := c.AddFolder(folder); err != nil {
		t.Fatal(err)
	}
	if got := c.Get("redo", &folder).GetString("redoPath", ""); got != "/folder/redo" {
		t.Errorf("redoPath = %q, want /folder/redo", got)
	}

	if err := c.SetWorkspaceSettings(nil); err != nil {
		t.Fatal(err)
	}
	if got := c.Get("redo", nil).GetString("redoPath", ""); got != "redo" {
		t.Errorf("redoPath after clearing = %q, want redo", got)
	}
	if len(rec.all()) != 2 {
		t.Errorf("expected a change event for clearing, got %d events", len(rec.all()))
	}
}

func TestConfig_OnDidChangeSection(t *testing.T) {
	c := newTestConfig(t)

	rec := &recorder{}
	d := c.OnDidChangeSection("logging", rec.record)

	if err := c.Set("redo", "redoPath", "/opt/redo", nil); err != nil {
		t.Fatal(err)
	}
	if err := c.Set("logging", "level", "debug", nil); err != nil {
		t.Fatal(err)
	}

	events := rec.all()
	if len(events) != 1 || events[0].Path != "logging.level" {
		t.Fatalf("events = %+v, want one logging.level change", events)
	}

	d.Dispose()
	if err := c.Set("logging", "level", "warn", nil); err != nil {
		t.Fatal(err)
	}
	if len(rec.all()) != 1 {
		t.Error("observer called after Dispose")
	}
}

func TestConfig_Unset(t *testing.T) {
	c := newTestConfig(t)
	folder := newTestFolder(t)
	_ = c.AddFolder(folder)

	if err := c.Set("redo", "redoPath", "/opt/redo", &folder); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	c.OnDidChange(rec.record)

	if err := c.Unset("redo", "redoPath", &folder); err != nil {
		t.Fatalf("Unset: %v", err)
	}
	if got := c.Get("redo", &folder).GetString("redoPath", ""); got != "redo" {
		t.Errorf("redoPath after Unset = %q, want default", got)
	}
	events := rec.all()
	if len(events) != 1 || events[0].NewValue != "redo" || events[0].OldValue != "/opt/redo" {
		t.Fatalf("events = %+v", events)
	}

	data, err := loader.NewTOMLLoader(filepath.Join(folder.Path, FolderConfigFile)).Load()
	if err != nil {
		t.Fatal(err)
	}
	if redo, _ := data["redo"].(map[string]any); redo["redoPath"] != nil {
		t.Errorf("folder file still holds redoPath: %v", data)
	}

	if err := c.Unset("redo", "redoPath", &folder); !errors.Is(err, ErrSettingNotFound) {
		t.Errorf("second Unset error = %v, want ErrSettingNotFound", err)
	}
}

func TestConfig_Settings(t *testing.T) {
	c := newTestConfig(t)
	folder := newTestFolder(t)
	writeFile(t, filepath.Join(folder.Path, FolderConfigFile), "[redo]\nredoPath = \"/f/redo\"\n")
	_ = c.AddFolder(folder)

	global := c.Settings(nil)
	if global["redo.redoPath"] != "redo" || global["logging.level"] != "info" {
		t.Errorf("global settings = %v", global)
	}
	if got := c.Settings(&folder)["redo.redoPath"]; got != "/f/redo" {
		t.Errorf("folder redo.redoPath = %v, want /f/redo", got)
	}
}
