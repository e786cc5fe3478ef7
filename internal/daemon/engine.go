package daemon

import (
	"errors"
	"fmt"

	"github.com/chainlesschain/skilltools/internal/config"
	"github.com/chainlesschain/skilltools/pkg/builtins"
	"github.com/chainlesschain/skilltools/pkg/catalog"
	"github.com/chainlesschain/skilltools/pkg/history"
	"github.com/chainlesschain/skilltools/pkg/plugin"
	"github.com/chainlesschain/skilltools/pkg/registry"
	"github.com/chainlesschain/skilltools/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// Engine is the registry, handler table and executor built from a config.
// Commands that invoke tools without the gateway use it directly.
type Engine struct {
	Registry *registry.Registry
	Handlers *toolexecutor.HandlerTable
	Executor *toolexecutor.Executor
	Loader   *catalog.Loader
	History  *history.Store // nil when history is disabled
	Plugins  *plugin.Host   // nil when plugins are disabled

	// Builtin and Custom report what the boot-time catalog load did.
	Builtin catalog.Report
	Custom  catalog.Report
	// Unbound lists enabled tools without a handler after boot.
	Unbound []string
}

// EngineOptions adjusts BuildEngine for one command.
type EngineOptions struct {
	Approvals   *toolexecutor.ApprovalManager
	SkipHistory bool
	Logger      zerolog.Logger
}

// BuildEngine installs the builtin catalog and the custom tool directory,
// binds the reference handlers and opens the history store.
func BuildEngine(cfg *config.Config, opts EngineOptions) (*Engine, error) {
	logger := opts.Logger
	e := &Engine{
		Registry: registry.New(),
		Handlers: toolexecutor.NewHandlerTable(),
	}

	if !cfg.Catalog.SkipBuiltin {
		report, err := catalog.InstallBuiltins(e.Registry)
		if err != nil {
			return nil, fmt.Errorf("failed to install builtin catalog: %w", err)
		}
		e.Builtin = report
		logger.Info().
			Int("registered", len(report.Registered)).
			Int("rejected", len(report.Rejected)).
			Msg("Builtin catalog installed")
	}

	e.Loader = catalog.NewLoader(e.Registry)
	if cfg.Catalog.CustomDir != "" {
		report, err := e.Loader.LoadDir(cfg.Catalog.CustomDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load custom tools: %w", err)
		}
		e.Custom = report
		logger.Info().
			Str("dir", cfg.Catalog.CustomDir).
			Int("registered", len(report.Registered)).
			Int("rejected", len(report.Rejected)).
			Msg("Custom tools loaded")
	}

	bound := builtins.Register(e.Handlers)
	logger.Debug().Strs("tools", bound).Msg("Reference handlers bound")

	if cfg.Plugins.Enabled && cfg.Plugins.Dir != "" {
		e.Plugins = plugin.NewHost(plugin.HostConfig{
			Dir:         cfg.Plugins.Dir,
			HostVersion: Version,
			Handlers:    e.Handlers,
			Catalog:     e.Loader,
			Logger:      logger,
		})
		if _, err := e.Plugins.LoadAll(); err != nil {
			logger.Warn().Err(err).Str("dir", cfg.Plugins.Dir).Msg("Failed to scan plugin directory")
		}
	}

	if cfg.History.Enabled && !opts.SkipHistory {
		store, err := history.Open(history.Config{Path: cfg.History.Path, Logger: logger})
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		e.History = store
	}

	execOpts := toolexecutor.Options{
		DefaultTimeout: cfg.Executor.DefaultTimeout(),
		MaxConcurrency: cfg.Executor.MaxConcurrency,
		ToolTimeouts:   cfg.Executor.ToolTimeouts(),
		Approvals:      opts.Approvals,
	}
	if e.History != nil {
		execOpts.Recorder = e.History
	}
	e.Executor = toolexecutor.New(e.Registry, e.Handlers, execOpts)

	if cfg.Executor.DisableUnbound {
		disabled := e.Executor.DisableUnbound()
		logger.Info().Int("count", len(disabled)).Msg("Disabled tools without handlers")
	}
	e.Unbound = e.Executor.CheckBindings()

	return e, nil
}

// Close stops plugin processes and releases the history store.
func (e *Engine) Close() error {
	var errs []error
	if e.Plugins != nil {
		errs = append(errs, e.Plugins.Stop())
	}
	if e.History != nil {
		errs = append(errs, e.History.Close())
	}
	return errors.Join(errs...)
}
