package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/chainlesschain/skilltools/pkg/catalog"
	"github.com/chainlesschain/skilltools/pkg/toolexecutor"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"github.com/rs/zerolog"
)

// Conn is a live connection to one plugin process.
type Conn interface {
	Tools() ([]string, error)
	InvokeContext(ctx context.Context, tool string, args map[string]any) (map[string]any, error)
	Close()
}

// Dialer starts the plugin and connects to it.
type Dialer func(d Discovered, m *Manifest, logger hclog.Logger) (Conn, error)

// HostConfig configures a Host.
type HostConfig struct {
	Dir         string
	HostVersion string
	Handlers    *toolexecutor.HandlerTable
	// Catalog receives the definition files plugins ship. Nil skips them.
	Catalog *catalog.Loader
	Logger  zerolog.Logger
	// Dial defaults to starting the executable with go-plugin.
	Dial Dialer
}

// Host owns the handler plugin processes and their bindings.
type Host struct {
	cfg       HostConfig
	logger    zerolog.Logger
	manifests *ManifestLoader

	mu      sync.Mutex
	plugins map[string]*hosted
}

type hosted struct {
	record   Record
	conn     Conn
	catalog  string
	previous map[string]toolexecutor.HandlerFunc
}

// NewHost creates a host. Nothing starts until LoadAll or Load.
func NewHost(cfg HostConfig) *Host {
	if cfg.Dial == nil {
		cfg.Dial = dialProcess
	}
	logger := cfg.Logger.With().Str("component", "plugin-host").Logger()
	return &Host{
		cfg:       cfg,
		logger:    logger,
		manifests: NewManifestLoader(cfg.Logger),
		plugins:   make(map[string]*hosted),
	}
}

// LoadAll discovers and loads every plugin under the configured directory.
// A plugin that fails to load is recorded as failed; the rest still load.
func (h *Host) LoadAll() ([]Record, error) {
	discovered, err := Discover(h.cfg.Dir, h.logger)
	if err != nil {
		return nil, err
	}
	for _, d := range discovered {
		if _, err := h.Load(d); err != nil {
			h.logger.Error().Err(err).Str("plugin", d.ID).Msg("Failed to load plugin")
		}
	}

	records := h.Records()
	h.logger.Info().Int("plugins", len(records)).Msg("Plugin discovery completed")
	return records, nil
}

// Load starts one plugin and binds the tools it serves.
func (h *Host) Load(d Discovered) (Record, error) {
	record := Record{ID: d.ID, Path: d.Path, State: StateFailed}
	entry, err := h.load(d, &record)
	if err != nil {
		record.Error = err.Error()
		h.mu.Lock()
		if old, ok := h.plugins[record.ID]; !ok || old.conn == nil {
			h.plugins[record.ID] = &hosted{record: record}
		}
		h.mu.Unlock()
		return record, err
	}

	h.mu.Lock()
	h.plugins[record.ID] = entry
	h.mu.Unlock()

	h.logger.Info().
		Str("plugin", record.ID).
		Str("version", record.Version).
		Strs("tools", record.Tools).
		Msg("Plugin loaded")
	return entry.record, nil
}

func (h *Host) isLoaded(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.plugins[id]
	return ok && entry.conn != nil
}

func (h *Host) load(d Discovered, record *Record) (*hosted, error) {
	manifest, err := h.manifests.LoadManifest(d.ManifestPath)
	if err != nil {
		return nil, err
	}
	record.ID = manifest.ID
	record.Name = manifest.Name
	record.Version = manifest.Version

	if h.isLoaded(manifest.ID) {
		return nil, fmt.Errorf("plugin %s is already loaded", manifest.ID)
	}
	if err := CheckHost(manifest, h.cfg.HostVersion); err != nil {
		return nil, err
	}

	conn, err := h.cfg.Dial(d, manifest, newHCLogger(h.logger, manifest.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to start plugin: %w", err)
	}

	served, err := conn.Tools()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to list plugin tools: %w", err)
	}
	if missing := missingTools(manifest.Tools, served); len(missing) > 0 {
		conn.Close()
		return nil, fmt.Errorf("plugin does not serve declared tools: %v", missing)
	}

	entry := &hosted{conn: conn, previous: make(map[string]toolexecutor.HandlerFunc)}
	if manifest.Catalog != "" && h.cfg.Catalog != nil {
		path := filepath.Join(d.Path, manifest.Catalog)
		report, err := h.cfg.Catalog.LoadFile(path)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to load plugin catalog: %w", err)
		}
		if !report.OK() {
			h.logger.Warn().Err(report.Err()).Str("plugin", manifest.ID).Msg("Plugin catalog entries rejected")
		}
		entry.catalog = path
	}

	for _, tool := range manifest.Tools {
		if prev, ok := h.cfg.Handlers.Lookup(tool); ok {
			entry.previous[tool] = prev
		}
		h.cfg.Handlers.Bind(tool, bindTool(conn, tool))
	}

	record.State = StateLoaded
	record.Tools = append([]string(nil), manifest.Tools...)
	record.LoadedAt = time.Now()
	entry.record = *record
	return entry, nil
}

func bindTool(conn Conn, tool string) toolexecutor.HandlerFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		return conn.InvokeContext(ctx, tool, args)
	}
}

// Unload stops a plugin, restores any handlers it shadowed and drops the
// definitions from its catalog file.
func (h *Host) Unload(id string) error {
	h.mu.Lock()
	entry, ok := h.plugins[id]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("plugin %s not found", id)
	}
	delete(h.plugins, id)
	h.mu.Unlock()

	if entry.conn == nil {
		return nil
	}
	for _, tool := range entry.record.Tools {
		if prev, ok := entry.previous[tool]; ok {
			h.cfg.Handlers.Bind(tool, prev)
		} else {
			h.cfg.Handlers.Unbind(tool)
		}
	}
	var err error
	if entry.catalog != "" && h.cfg.Catalog != nil {
		err = h.cfg.Catalog.RemoveFile(entry.catalog)
	}
	entry.conn.Close()

	h.logger.Info().Str("plugin", id).Msg("Plugin unloaded")
	return err
}

// Stop unloads every plugin.
func (h *Host) Stop() error {
	h.mu.Lock()
	ids := make([]string, 0, len(h.plugins))
	for id := range h.plugins {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := h.Unload(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Records returns every known plugin sorted by id.
func (h *Host) Records() []Record {
	h.mu.Lock()
	out := make([]Record, 0, len(h.plugins))
	for _, entry := range h.plugins {
		out = append(out, entry.record)
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func missingTools(declared, served []string) []string {
	have := make(map[string]bool, len(served))
	for _, t := range served {
		have[t] = true
	}
	var missing []string
	for _, t := range declared {
		if !have[t] {
			missing = append(missing, t)
		}
	}
	return missing
}

// processConn is a plugin running as a child process.
type processConn struct {
	*RPCClient
	client *plugin.Client
}

func (c *processConn) Close() {
	c.client.Kill()
}

func dialProcess(d Discovered, m *Manifest, logger hclog.Logger) (Conn, error) {
	path := filepath.Join(d.Path, m.Main)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("plugin executable not found: %s", path)
	}

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap,
		Cmd:              exec.Command(path),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
		Logger:           logger,
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to connect to plugin: %w", err)
	}
	raw, err := rpcClient.Dispense(pluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense plugin: %w", err)
	}
	handlers, ok := raw.(*RPCClient)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("unexpected plugin type %T", raw)
	}
	return &processConn{RPCClient: handlers, client: client}, nil
}

// newHCLogger routes go-plugin's hclog output into zerolog.
func newHCLogger(logger zerolog.Logger, id string) hclog.Logger {
	level := hclog.Info
	if logger.GetLevel() <= zerolog.DebugLevel {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "plugin." + id,
		Output:     logger.With().Str("plugin", id).Logger(),
		Level:      level,
		JSONFormat: true,
	})
}
