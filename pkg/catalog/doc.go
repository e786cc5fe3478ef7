// Package catalog loads tool definitions into a registry.
//
// The builtin catalog is embedded in the binary. Custom tools are read from a
// directory of JSON or YAML files and can be kept live with a Watcher.
//
// Invariants:
// - Every entry is either registered or reported as rejected.
// - Custom files can never register builtin tools.
// - A file only ever replaces or removes tools it registered itself.
//
// Usage:
//
//	report, err := catalog.InstallBuiltins(reg)
//	loader := catalog.NewLoader(reg)
//	_, _ = loader.LoadDir(customDir)
//	w, _ := catalog.NewWatcher(loader, catalog.WatcherConfig{Dir: customDir})
//	_ = w.Start()
package catalog
