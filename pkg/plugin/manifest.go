package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// ManifestLoader loads and validates plugin manifests
type ManifestLoader struct {
	logger       zerolog.Logger
	schemaLoader gojsonschema.JSONLoader
}

// NewManifestLoader creates a new manifest loader
func NewManifestLoader(logger zerolog.Logger) *ManifestLoader {
	return &ManifestLoader{
		logger:       logger.With().Str("component", "manifest-loader").Logger(),
		schemaLoader: gojsonschema.NewStringLoader(ManifestSchema),
	}
}

// LoadManifest loads and validates a plugin manifest from a file
func (m *ManifestLoader) LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
	}
	if err := m.validateSchema(data); err != nil {
		return nil, fmt.Errorf("manifest schema validation failed: %w", err)
	}
	if err := validateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("manifest validation failed: %w", err)
	}

	m.logger.Debug().
		Str("id", manifest.ID).
		Str("version", manifest.Version).
		Strs("tools", manifest.Tools).
		Msg("Loaded manifest")

	return &manifest, nil
}

func (m *ManifestLoader) validateSchema(data []byte) error {
	result, err := gojsonschema.Validate(m.schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
}

// validateManifest checks what the JSON schema cannot express.
func validateManifest(manifest *Manifest) error {
	if _, err := semver.StrictNewVersion(manifest.Version); err != nil {
		return fmt.Errorf("invalid version %q: %w", manifest.Version, err)
	}
	if manifest.HostVersion != "" {
		if _, err := semver.NewConstraint(manifest.HostVersion); err != nil {
			return fmt.Errorf("invalid host_version constraint %q: %w", manifest.HostVersion, err)
		}
	}
	if !filepath.IsLocal(manifest.Main) {
		return fmt.Errorf("main must be a path inside the plugin directory: %s", manifest.Main)
	}
	if manifest.Catalog != "" && !filepath.IsLocal(manifest.Catalog) {
		return fmt.Errorf("catalog must be a path inside the plugin directory: %s", manifest.Catalog)
	}
	return nil
}

// CheckHost reports whether hostVersion satisfies the manifest's
// host_version constraint. An empty constraint or host version passes.
func CheckHost(manifest *Manifest, hostVersion string) error {
	if manifest.HostVersion == "" || hostVersion == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(manifest.HostVersion)
	if err != nil {
		return fmt.Errorf("invalid host_version constraint %q: %w", manifest.HostVersion, err)
	}
	v, err := semver.NewVersion(hostVersion)
	if err != nil {
		return fmt.Errorf("invalid host version %q: %w", hostVersion, err)
	}
	if ok, errs := constraint.Validate(v); !ok {
		return fmt.Errorf("plugin %s requires host %s: %v", manifest.ID, manifest.HostVersion, errs)
	}
	return nil
}

// ParseManifest parses a manifest from JSON bytes without validation.
func ParseManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
	}
	return &manifest, nil
}
