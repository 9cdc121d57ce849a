// Package config provides scoped configuration for redotask.
//
// Settings are read per workspace folder. Each folder sees the merge of
// the global layers and its own layers, lowest priority first:
//
//	┌──────────────────────────────────┐
//	│  6. Environment Variables        │  ← REDOTASK_<SECTION>_<KEY>
//	├──────────────────────────────────┤
//	│  5. Folder Config                │  ← <folder>/.redotask/config.toml
//	├──────────────────────────────────┤
//	│  4. Folder Settings              │  ← <folder>/.vscode/settings.json
//	├──────────────────────────────────┤
//	│  3. Workspace Settings           │  ← "settings" of a .code-workspace file
//	├──────────────────────────────────┤
//	│  2. User Settings                │  ← ~/.config/redotask/settings.toml
//	├──────────────────────────────────┤
//	│  1. Built-in Defaults            │
//	└──────────────────────────────────┘
//
// # Sub-packages
//
//   - loader: TOML, settings.json and environment variable loading
//   - layer: layer management and merging
//   - watcher: polling of configuration files for live reload
//   - notify: change notification
//
// # Basic Usage
//
//	cfg := config.New()
//	if err := cfg.Load(ctx); err != nil {
//	    return err
//	}
//	_ = cfg.AddFolder(folder)
//
//	redoPath := cfg.Get("redo", &folder).GetString("redoPath", "redo")
//
//	d := cfg.OnDidChange(func(e config.ChangeEvent) {
//	    if e.AffectsConfiguration("redo", &folder) {
//	        // refresh
//	    }
//	})
//	defer d.Dispose()
//
// Set writes to the user settings file when scope is nil and to the
// folder's config.toml otherwise. Both Set and live reload notify
// observers once per effective setting that changed.
package config
