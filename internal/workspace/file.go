package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// File represents a .code-workspace file.
type File struct {
	// Folders is the list of workspace folders.
	Folders []FolderEntry `json:"folders"`

	// Settings contains workspace-level settings keyed by dotted name.
	Settings map[string]any `json:"settings,omitempty"`
}

// FolderEntry represents a folder entry in a workspace file.
type FolderEntry struct {
	// Path is the folder path (relative or absolute).
	Path string `json:"path,omitempty"`

	// URI is used instead of Path for folders that are not local.
	URI string `json:"uri,omitempty"`

	// Name is an optional display name for the folder.
	Name string `json:"name,omitempty"`
}

// LoadFile loads a .code-workspace file. Comments and trailing commas
// are allowed.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = jsonc.ToJSON(data)

	var wsFile File
	if err := json.Unmarshal(data, &wsFile); err != nil {
		return nil, err
	}
	return &wsFile, nil
}

// OpenFile creates a Workspace from a .code-workspace file.
// Relative folder paths are resolved against the file's directory.
func OpenFile(path string) (*Workspace, error) {
	wsFile, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	baseDir := filepath.Dir(path)
	ws := New()
	for _, entry := range wsFile.Folders {
		if entry.URI != "" {
			if _, err := ws.AddFolderURI(entry.URI, entry.Name); err != nil && err != ErrFolderExists {
				return nil, err
			}
			continue
		}

		folderPath := entry.Path
		if !filepath.IsAbs(folderPath) {
			folderPath = filepath.Join(baseDir, folderPath)
		}
		folder, err := ws.AddFolder(filepath.Clean(folderPath))
		if err == ErrFolderExists {
			continue
		}
		if err != nil {
			return nil, err
		}
		if entry.Name != "" {
			ws.rename(folder.URI, entry.Name)
		}
	}
	ws.settings = wsFile.Settings

	return ws, nil
}

func (w *Workspace) rename(uri, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i, ok := w.indexOf(uri); ok {
		w.folders[i].Name = name
	}
}
