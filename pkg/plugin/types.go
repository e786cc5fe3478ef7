// Package plugin hosts tool handlers that live in separate processes.
//
// A handler plugin is a directory holding a plugin.json manifest and an
// executable. The host starts the executable with hashicorp/go-plugin,
// asks which tools it serves and binds those tools in the executor's
// handler table. A plugin may ship a catalog file with the definitions of
// the tools it serves.
package plugin

import (
	"time"
)

// ManifestFile is the manifest name looked for in each plugin directory.
const ManifestFile = "plugin.json"

// State is the lifecycle state of a plugin.
type State string

const (
	StateLoaded  State = "loaded"
	StateFailed  State = "failed"
	StateStopped State = "stopped"
)

// Manifest is the plugin.json file of a handler plugin.
type Manifest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	// Main is the executable, relative to the plugin directory.
	Main string `json:"main"`
	// HostVersion is a semver constraint on the host, e.g. ">=0.1.0 <1.0.0".
	HostVersion string `json:"host_version,omitempty"`
	// Tools lists the tool ids the plugin serves.
	Tools []string `json:"tools"`
	// Catalog is an optional catalog file, relative to the plugin directory.
	Catalog string `json:"catalog,omitempty"`
}

// Discovered is a plugin directory found by Discover.
type Discovered struct {
	ID           string
	Path         string
	ManifestPath string
}

// Record describes one plugin known to the host.
type Record struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Version  string    `json:"version,omitempty"`
	Path     string    `json:"path"`
	State    State     `json:"state"`
	Tools    []string  `json:"tools,omitempty"`
	Error    string    `json:"error,omitempty"`
	LoadedAt time.Time `json:"loaded_at,omitempty"`
}
