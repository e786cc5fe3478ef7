package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
)

// Discover returns every direct subdirectory of dir holding a plugin.json,
// sorted by directory name. A missing dir yields no plugins.
func Discover(dir string, logger zerolog.Logger) ([]Discovered, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug().Str("dir", dir).Msg("Plugin directory does not exist, skipping")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var discovered []Discovered
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginDir := filepath.Join(dir, entry.Name())
		manifestPath := filepath.Join(pluginDir, ManifestFile)

		if _, err := os.Stat(manifestPath); err != nil {
			if !os.IsNotExist(err) {
				logger.Warn().Err(err).Str("dir", pluginDir).Msg("Failed to check for plugin.json")
			}
			continue
		}

		discovered = append(discovered, Discovered{
			ID:           entry.Name(),
			Path:         pluginDir,
			ManifestPath: manifestPath,
		})
		logger.Debug().Str("id", entry.Name()).Str("path", pluginDir).Msg("Discovered plugin")
	}

	sort.Slice(discovered, func(i, j int) bool { return discovered[i].ID < discovered[j].ID })
	return discovered, nil
}
