package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/chainlesschain/skilltools/internal/config"
	"github.com/chainlesschain/skilltools/internal/daemon"
	"github.com/chainlesschain/skilltools/internal/logger"
	"github.com/chainlesschain/skilltools/internal/observability"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// rootOptions is shared by every subcommand of one command tree.
type rootOptions struct {
	cfgFile  string
	logLevel string

	cfg *config.Config
	log *logger.Logger
}

// NewRootCmd builds the command tree. Each call returns an independent tree
// so flag state never leaks between invocations.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "skilltools",
		Short: "skilltools - tool registry and invocation engine",
		Long: `skilltools keeps a catalog of tool definitions, validates arguments
against their schemas, enforces permissions and risk approval, and runs
bound handlers under timeouts. It serves the registry over a JSON-RPC
gateway and exports tool specs for LLM providers.`,
		Version:       daemon.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = observability.GetAuditLogger().Close()
			if opts.log != nil {
				_ = opts.log.Close()
				opts.log = nil
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.skilltools/config.json)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	cmd.AddCommand(
		newServeCmd(opts),
		newStopCmd(opts),
		newStatusCmd(opts),
		newToolsCmd(opts),
		newInvokeCmd(opts),
		newCatalogCmd(opts),
		newExportCmd(opts),
		newHistoryCmd(opts),
		newPluginsCmd(opts),
		newConfigureCmd(opts),
	)
	return cmd
}

// Execute runs the CLI. It is called by main.main().
func Execute() error {
	return NewRootCmd().Execute()
}

// GetVersion returns the current version
func GetVersion() string {
	return daemon.Version
}

// load reads the config and starts a console logger. An empty defaultLevel
// uses the configured level; one-shot commands pass warn so their stdout
// stays machine readable.
func (o *rootOptions) load(defaultLevel string, withFile bool) error {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return err
	}
	o.cfg = cfg

	level := o.logLevel
	if level == "" {
		level = defaultLevel
	}
	if level == "" {
		level = cfg.Logging.Level
	}
	logCfg := logger.Config{
		Level:     level,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	}
	if withFile {
		logCfg.File = cfg.Logging.File
		logCfg.MaxSize = cfg.Logging.MaxSize
		logCfg.MaxAge = cfg.Logging.MaxAge
		logCfg.Compress = cfg.Logging.Compress
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	o.log = log
	return nil
}

// engine builds an engine for one-shot commands.
func (o *rootOptions) engine(eo daemon.EngineOptions) (*daemon.Engine, error) {
	if err := o.load("warn", false); err != nil {
		return nil, err
	}
	o.initAudit()
	eo.Logger = o.log.Component("engine")
	return daemon.BuildEngine(o.cfg, eo)
}

// initAudit points invocation audit events at the configured file, or
// drops them when audit is off.
func (o *rootOptions) initAudit() {
	if !o.cfg.Audit.Enabled {
		observability.SetAuditLogger(observability.NewAuditLogger(zerolog.Nop(), nil))
		return
	}
	if err := observability.InitAuditLogger(o.cfg.Audit.Path); err != nil {
		logger := o.log.Component("cli")
		logger.Warn().Err(err).Msg("Failed to initialize audit logger")
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
