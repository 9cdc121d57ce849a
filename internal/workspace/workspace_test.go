package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewFromPaths(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()

	ws, err := NewFromPaths(a, b, a)
	if err != nil {
		t.Fatalf("NewFromPaths error: %v", err)
	}

	folders := ws.Folders()
	if len(folders) != 2 {
		t.Fatalf("Expected 2 folders, got %d", len(folders))
	}
	if folders[0].Path != a || folders[1].Path != b {
		t.Errorf("Folders = %v, want [%s %s]", folders, a, b)
	}
	if folders[1].Index != 1 {
		t.Errorf("Folder[1].Index = %d, want 1", folders[1].Index)
	}
	if folders[0].URI != PathToURI(a) {
		t.Errorf("Folder[0].URI = %q, want %q", folders[0].URI, PathToURI(a))
	}
}

func TestWorkspace_AddRemoveNotifies(t *testing.T) {
	ws := New()
	dir := t.TempDir()

	var events []FoldersChangeEvent
	d := ws.OnDidChangeFolders(func(e FoldersChangeEvent) {
		events = append(events, e)
	})

	folder, err := ws.AddFolder(dir)
	if err != nil {
		t.Fatalf("AddFolder error: %v", err)
	}
	if _, err := ws.AddFolder(dir); err != ErrFolderExists {
		t.Errorf("AddFolder duplicate error = %v, want ErrFolderExists", err)
	}
	if err := ws.RemoveFolder(dir); err != nil {
		t.Fatalf("RemoveFolder error: %v", err)
	}
	if err := ws.RemoveFolder(dir); err != ErrFolderNotFound {
		t.Errorf("RemoveFolder missing error = %v, want ErrFolderNotFound", err)
	}

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if len(events[0].Added) != 1 || events[0].Added[0].URI != folder.URI {
		t.Errorf("first event = %+v, want added %s", events[0], folder.URI)
	}
	if len(events[1].Removed) != 1 || events[1].Removed[0].URI != folder.URI {
		t.Errorf("second event = %+v, want removed %s", events[1], folder.URI)
	}

	d.Dispose()
	if _, err := ws.AddFolder(dir); err != nil {
		t.Fatalf("AddFolder error: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("listener called after Dispose")
	}
}

func TestWorkspace_RemoveReindexes(t *testing.T) {
	a, b, c := t.TempDir(), t.TempDir(), t.TempDir()
	ws, err := NewFromPaths(a, b, c)
	if err != nil {
		t.Fatal(err)
	}

	if err := ws.RemoveFolder(a); err != nil {
		t.Fatal(err)
	}
	for i, f := range ws.Folders() {
		if f.Index != i {
			t.Errorf("folder %s Index = %d, want %d", f.Name, f.Index, i)
		}
	}
}

func TestWorkspace_AddFolderURI(t *testing.T) {
	ws := New()

	remote, err := ws.AddFolderURI("vscode-vfs://github/user/repo", "")
	if err != nil {
		t.Fatalf("AddFolderURI error: %v", err)
	}
	if remote.Path != "" {
		t.Errorf("remote folder Path = %q, want empty", remote.Path)
	}
	if remote.Name != "vscode-vfs://github/user/repo" {
		t.Errorf("remote folder Name = %q", remote.Name)
	}

	dir := t.TempDir()
	local, err := ws.AddFolderURI(PathToURI(dir), "proj")
	if err != nil {
		t.Fatalf("AddFolderURI error: %v", err)
	}
	if local.Path != dir {
		t.Errorf("local folder Path = %q, want %q", local.Path, dir)
	}
	if local.Name != "proj" {
		t.Errorf("local folder Name = %q, want proj", local.Name)
	}

	got, ok := ws.FolderByName("proj")
	if !ok || got.URI != local.URI {
		t.Errorf("FolderByName(proj) = %+v, %v", got, ok)
	}
}

func TestWorkspace_ContainingFolder(t *testing.T) {
	dir := t.TempDir()
	ws, err := NewFromPaths(dir)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := ws.ContainingFolder(filepath.Join(dir, "a", "b.do")); !ok {
		t.Error("path inside folder not found")
	}
	if _, ok := ws.ContainingFolder(dir + "-other"); ok {
		t.Error("sibling path with shared prefix matched")
	}
}

func TestWorkspace_Closed(t *testing.T) {
	ws := New()
	ws.Close()

	if _, err := ws.AddFolder(t.TempDir()); err != ErrWorkspaceClosed {
		t.Errorf("AddFolder after Close error = %v, want ErrWorkspaceClosed", err)
	}
}

func TestURIRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "with space")
	uri := PathToURI(dir)

	path, err := URIToPath(uri)
	if err != nil {
		t.Fatalf("URIToPath error: %v", err)
	}
	if path != dir {
		t.Errorf("URIToPath(%q) = %q, want %q", uri, path, dir)
	}

	if _, err := URIToPath("https://example.com/x"); err != ErrInvalidPath {
		t.Errorf("URIToPath(https) error = %v, want ErrInvalidPath", err)
	}
}

func TestOpenFile(t *testing.T) {
	tmpDir := t.TempDir()
	project1 := filepath.Join(tmpDir, "project1")
	project2 := filepath.Join(tmpDir, "project2")
	_ = os.MkdirAll(project1, 0o755)
	_ = os.MkdirAll(project2, 0o755)

	wsFile := filepath.Join(tmpDir, "test.code-workspace")
	content := `{
		// Editor workspaces may carry comments.
		"folders": [
			{"path": "project1"}, /* first */
			{"path": "project2", "name": "Custom Name"},
			{"uri": "vscode-vfs://github/user/repo", "name": "remote"}
		],
		"settings": {
			"redo.redoPath": "/opt/redo/bin/redo"
		}
	}`
	if err := os.WriteFile(wsFile, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write workspace file: %v", err)
	}

	ws, err := OpenFile(wsFile)
	if err != nil {
		t.Fatalf("OpenFile error: %v", err)
	}

	folders := ws.Folders()
	if len(folders) != 3 {
		t.Fatalf("Expected 3 folders, got %d", len(folders))
	}
	if folders[0].Path != project1 {
		t.Errorf("Folder[0].Path = %q, want %q", folders[0].Path, project1)
	}
	if folders[1].Name != "Custom Name" {
		t.Errorf("Folder[1].Name = %q, want 'Custom Name'", folders[1].Name)
	}
	if folders[2].Path != "" {
		t.Errorf("Folder[2].Path = %q, want empty", folders[2].Path)
	}
	if got := ws.Settings()["redo.redoPath"]; got != "/opt/redo/bin/redo" {
		t.Errorf("Settings[redo.redoPath] = %v", got)
	}
}

func TestLoadFile_TrailingCommas(t *testing.T) {
	wsFile := filepath.Join(t.TempDir(), "trailing.code-workspace")
	content := `{
		"folders": [
			{"path": "a",},
			{"path": "b", "name": "B",},
		],
		"settings": {"redo.redoPath": "/opt/redo",},
	}`
	if err := os.WriteFile(wsFile, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write workspace file: %v", err)
	}

	f, err := LoadFile(wsFile)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if len(f.Folders) != 2 {
		t.Fatalf("Expected 2 folders, got %d", len(f.Folders))
	}
	if f.Folders[1].Name != "B" {
		t.Errorf("Folders[1].Name = %q, want B", f.Folders[1].Name)
	}
	if got := f.Settings["redo.redoPath"]; got != "/opt/redo" {
		t.Errorf("Settings[redo.redoPath] = %v", got)
	}
}
