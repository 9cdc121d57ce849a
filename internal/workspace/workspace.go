// Package workspace provides the multi-root workspace model: an ordered set
// of folders with add and remove notifications.
package workspace

import (
	"errors"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dshills/redotask/internal/lifecycle"
)

// Common errors.
var (
	ErrFolderNotFound  = errors.New("folder not found in workspace")
	ErrFolderExists    = errors.New("folder already in workspace")
	ErrInvalidPath     = errors.New("invalid folder path")
	ErrWorkspaceClosed = errors.New("workspace is closed")
)

// Folder represents a single folder in the workspace.
// The URI is the folder's identity.
type Folder struct {
	// URI identifies the folder (file:// for local folders).
	URI string
	// Path is the local file system path. Empty for non-file URIs.
	Path string
	// Name is the display name for the folder.
	Name string
	// Index is the folder's position in the workspace.
	Index int
}

// FoldersChangeEvent describes folders added to and removed from a workspace.
type FoldersChangeEvent struct {
	Added   []Folder
	Removed []Folder
}

// Workspace represents a collection of folders being edited.
type Workspace struct {
	mu       sync.RWMutex
	folders  []Folder
	settings map[string]any
	closed   bool

	listeners map[uint64]func(FoldersChangeEvent)
	nextID    uint64
}

// New creates a new empty workspace.
func New() *Workspace {
	return &Workspace{
		folders:   make([]Folder, 0),
		listeners: make(map[uint64]func(FoldersChangeEvent)),
	}
}

// NewFromPaths creates a workspace with one folder per path.
func NewFromPaths(paths ...string) (*Workspace, error) {
	ws := New()
	for _, path := range paths {
		folder, err := folderFromPath(path)
		if err != nil {
			return nil, err
		}
		if _, ok := ws.indexOf(folder.URI); ok {
			continue
		}
		folder.Index = len(ws.folders)
		ws.folders = append(ws.folders, folder)
	}
	return ws, nil
}

// Folders returns all workspace folders in order.
func (w *Workspace) Folders() []Folder {
	w.mu.RLock()
	defer w.mu.RUnlock()

	result := make([]Folder, len(w.folders))
	copy(result, w.folders)
	return result
}

// FolderCount returns the number of folders in the workspace.
func (w *Workspace) FolderCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.folders)
}

// FolderByURI returns the folder with the given URI.
func (w *Workspace) FolderByURI(uri string) (Folder, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if i, ok := w.indexOf(uri); ok {
		return w.folders[i], true
	}
	return Folder{}, false
}

// FolderByName returns the first folder with the given display name.
func (w *Workspace) FolderByName(name string) (Folder, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, f := range w.folders {
		if f.Name == name {
			return f, true
		}
	}
	return Folder{}, false
}

// ContainingFolder returns the workspace folder that contains the given path.
func (w *Workspace) ContainingFolder(path string) (Folder, bool) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Folder{}, false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, f := range w.folders {
		if f.Path != "" && isSubPath(f.Path, absPath) {
			return f, true
		}
	}
	return Folder{}, false
}

// Settings returns the workspace-level settings (from a workspace file).
func (w *Workspace) Settings() map[string]any {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.settings
}

// AddFolder adds a local folder to the workspace.
func (w *Workspace) AddFolder(path string) (Folder, error) {
	folder, err := folderFromPath(path)
	if err != nil {
		return Folder{}, err
	}
	return folder, w.add(folder)
}

// AddFolderURI adds a folder identified by URI. Folders whose URI is not a
// file URI have no file system path.
func (w *Workspace) AddFolderURI(uri, name string) (Folder, error) {
	folder := Folder{URI: uri, Name: name}
	if path, err := URIToPath(uri); err == nil {
		folder.Path = path
		if name == "" {
			folder.Name = filepath.Base(path)
		}
	}
	if folder.Name == "" {
		folder.Name = uri
	}
	return folder, w.add(folder)
}

func (w *Workspace) add(folder Folder) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWorkspaceClosed
	}
	if _, ok := w.indexOf(folder.URI); ok {
		w.mu.Unlock()
		return ErrFolderExists
	}
	folder.Index = len(w.folders)
	w.folders = append(w.folders, folder)
	listeners := w.copyListeners()
	w.mu.Unlock()

	notify(listeners, FoldersChangeEvent{Added: []Folder{folder}})
	return nil
}

// RemoveFolder removes the local folder at path.
func (w *Workspace) RemoveFolder(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return w.RemoveFolderURI(PathToURI(absPath))
}

// RemoveFolderURI removes the folder with the given URI.
func (w *Workspace) RemoveFolderURI(uri string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWorkspaceClosed
	}
	idx, ok := w.indexOf(uri)
	if !ok {
		w.mu.Unlock()
		return ErrFolderNotFound
	}
	removed := w.folders[idx]
	w.folders = append(w.folders[:idx], w.folders[idx+1:]...)
	for i := idx; i < len(w.folders); i++ {
		w.folders[i].Index = i
	}
	listeners := w.copyListeners()
	w.mu.Unlock()

	notify(listeners, FoldersChangeEvent{Removed: []Folder{removed}})
	return nil
}

// OnDidChangeFolders registers a listener for folder additions and removals.
func (w *Workspace) OnDidChangeFolders(fn func(FoldersChangeEvent)) lifecycle.Disposable {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++
	w.listeners[id] = fn

	return lifecycle.NewFunc(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.listeners, id)
	})
}

// Close closes the workspace. Listeners are dropped without notification.
func (w *Workspace) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	w.folders = nil
	w.listeners = make(map[uint64]func(FoldersChangeEvent))
}

func (w *Workspace) indexOf(uri string) (int, bool) {
	for i, f := range w.folders {
		if f.URI == uri {
			return i, true
		}
	}
	return -1, false
}

func (w *Workspace) copyListeners() []func(FoldersChangeEvent) {
	listeners := make([]func(FoldersChangeEvent), 0, len(w.listeners))
	for id := uint64(0); id < w.nextID; id++ {
		if fn, ok := w.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	return listeners
}

func notify(listeners []func(FoldersChangeEvent), event FoldersChangeEvent) {
	for _, fn := range listeners {
		fn(event)
	}
}

func folderFromPath(path string) (Folder, error) {
	if path == "" {
		return Folder{}, ErrInvalidPath
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Folder{}, err
	}
	return Folder{
		URI:  PathToURI(absPath),
		Path: absPath,
		Name: filepath.Base(absPath),
	}, nil
}

// PathToURI converts a file path to a file:// URI.
func PathToURI(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(absPath),
	}
	return u.String()
}

// URIToPath converts a file:// URI to a file path.
func URIToPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}

	if u.Scheme != "file" {
		return "", ErrInvalidPath
	}

	path := filepath.FromSlash(u.Path)

	// On Windows, remove leading slash if path starts with drive letter
	if len(path) >= 3 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}

	return path, nil
}

// isSubPath checks if child is parent or lies beneath it.
func isSubPath(parent, child string) bool {
	parent = filepath.Clean(parent)
	child = filepath.Clean(child)
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, strings.TrimSuffix(parent, string(filepath.Separator))+string(filepath.Separator))
}
