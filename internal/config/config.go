package config

import (
	"encoding/json"
	"errors"
	"time"
)

// Config is the skilltools configuration file.
type Config struct {
	// Data directory holding history, audit log and custom tools
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Executor ExecutorConfig `json:"executor" mapstructure:"executor"`
	Catalog  CatalogConfig  `json:"catalog" mapstructure:"catalog"`
	Plugins  PluginsConfig  `json:"plugins" mapstructure:"plugins"`
	History  HistoryConfig  `json:"history" mapstructure:"history"`
	Gateway  GatewayConfig  `json:"gateway" mapstructure:"gateway"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Audit    AuditConfig    `json:"audit" mapstructure:"audit"`
	Tracing  TracingConfig  `json:"tracing" mapstructure:"tracing"`
}

// ExecutorConfig tunes invocation.
type ExecutorConfig struct {
	DefaultTimeoutMs  int            `json:"default_timeout_ms" mapstructure:"default_timeout_ms"`
	MaxConcurrency    int            `json:"max_concurrency" mapstructure:"max_concurrency"`
	ToolTimeoutsMs    map[string]int `json:"tool_timeouts_ms" mapstructure:"tool_timeouts_ms"`
	DisableUnbound    bool           `json:"disable_unbound" mapstructure:"disable_unbound"`
	ApprovalTimeoutMs int            `json:"approval_timeout_ms" mapstructure:"approval_timeout_ms"`
}

// CatalogConfig locates custom tool definitions.
type CatalogConfig struct {
	CustomDir   string `json:"custom_dir" mapstructure:"custom_dir"`
	Watch       bool   `json:"watch" mapstructure:"watch"`
	DebounceMs  int    `json:"debounce_ms" mapstructure:"debounce_ms"`
	SkipBuiltin bool   `json:"skip_builtin" mapstructure:"skip_builtin"`
}

// PluginsConfig locates out-of-process handler plugins.
type PluginsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Dir     string `json:"dir" mapstructure:"dir"`
}

// HistoryConfig holds invocation history settings.
type HistoryConfig struct {
	Enabled       bool   `json:"enabled" mapstructure:"enabled"`
	Path          string `json:"path" mapstructure:"path"`
	RetentionDays int    `json:"retention_days" mapstructure:"retention_days"`
	PruneSchedule string `json:"prune_schedule" mapstructure:"prune_schedule"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// AuditConfig holds audit log settings.
type AuditConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Executor: ExecutorConfig{
			DefaultTimeoutMs:  30000,
			MaxConcurrency:    16,
			ToolTimeoutsMs:    map[string]int{},
			ApprovalTimeoutMs: 60000,
		},
		Catalog: CatalogConfig{
			Watch:      true,
			DebounceMs: 200,
		},
		Plugins: PluginsConfig{
			Enabled: true,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 30,
			PruneSchedule: "0 3 * * *",
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8787,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			MaxSize:   50,
			MaxAge:    14,
			Compress:  true,
			Redaction: true,
		},
		Audit: AuditConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "skilltools",
			SampleRatio: 1.0,
		},
	}
}

// DefaultTimeout is the executor fallback timeout.
func (e ExecutorConfig) DefaultTimeout() time.Duration {
	return time.Duration(e.DefaultTimeoutMs) * time.Millisecond
}

// ApprovalTimeout bounds an interactive approval prompt.
func (e ExecutorConfig) ApprovalTimeout() time.Duration {
	return time.Duration(e.ApprovalTimeoutMs) * time.Millisecond
}

// ToolTimeouts converts the per-tool overrides to durations.
func (e ExecutorConfig) ToolTimeouts() map[string]time.Duration {
	out := make(map[string]time.Duration, len(e.ToolTimeoutsMs))
	for id, ms := range e.ToolTimeoutsMs {
		out[id] = time.Duration(ms) * time.Millisecond
	}
	return out
}

// Retention is how long history rows are kept.
func (h HistoryConfig) Retention() time.Duration {
	return time.Duration(h.RetentionDays) * 24 * time.Hour
}

// Debounce is the watcher stability threshold.
func (c CatalogConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := *c
	if masked.Gateway.SharedSecret != "" {
		masked.Gateway.SharedSecret = "********"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
