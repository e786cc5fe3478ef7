package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chainlesschain/skilltools/internal/config"
	"github.com/chainlesschain/skilltools/internal/logger"
	"github.com/chainlesschain/skilltools/internal/observability"
	"github.com/chainlesschain/skilltools/internal/tracing"
	"github.com/chainlesschain/skilltools/pkg/catalog"
	"github.com/chainlesschain/skilltools/pkg/gateway"
	"github.com/chainlesschain/skilltools/pkg/history"
	"github.com/rs/zerolog"
)

// Version is reported by tracing resources and the CLI.
const Version = "0.1.0"

const shutdownTimeout = 10 * time.Second

// Daemon runs the engine behind the gateway with custom tool hot reload and
// scheduled history pruning.
type Daemon struct {
	config *config.Config
	logger *logger.Logger
	log    zerolog.Logger

	engine    *Engine
	watcher   *catalog.Watcher
	pruner    *history.Pruner
	gateway   *gateway.Server
	lifecycle *LifecycleManager

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status is a snapshot of the daemon state.
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Tools     int
	Clients   int
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	d := &Daemon{
		config: cfg,
		logger: log,
		log:    log.Component("daemon"),
	}

	observability.EnsureRegistered()
	if cfg.Audit.Enabled {
		if err := observability.InitAuditLogger(cfg.Audit.Path); err != nil {
			d.log.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
		} else {
			d.log.Info().Str("path", cfg.Audit.Path).Msg("Audit logger initialized")
		}
	} else {
		observability.SetAuditLogger(observability.NewAuditLogger(zerolog.Nop(), nil))
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(tracing.Config{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     Version,
			SampleRatio: cfg.Tracing.SampleRatio,
		}); err != nil {
			d.log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			d.log.Info().Float64("sample_ratio", cfg.Tracing.SampleRatio).Msg("Tracing initialized")
		}
	}

	engine, err := BuildEngine(cfg, EngineOptions{Logger: log.Component("engine")})
	if err != nil {
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}
	d.engine = engine
	if len(engine.Unbound) > 0 {
		d.log.Info().Int("count", len(engine.Unbound)).Msg("Tools without handlers will report HandlerNotImplemented")
	}

	if err := d.initializeServices(); err != nil {
		_ = engine.Close()
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

func (d *Daemon) initializeServices() error {
	cfg := d.config

	if cfg.Catalog.Watch && cfg.Catalog.CustomDir != "" {
		watchLog := d.logger.Component("catalog")
		watcher, err := catalog.NewWatcher(d.engine.Loader, catalog.WatcherConfig{
			Dir:                cfg.Catalog.CustomDir,
			StabilityThreshold: cfg.Catalog.Debounce(),
			OnReload: func(path string, report catalog.Report, err error) {
				if err != nil {
					watchLog.Error().Err(err).Str("path", path).Msg("Custom tool reload failed")
					return
				}
				watchLog.Info().
					Str("path", path).
					Strs("registered", report.Registered).
					Strs("replaced", report.Replaced).
					Int("rejected", len(report.Rejected)).
					Msg("Custom tools reloaded")
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create catalog watcher: %w", err)
		}
		d.watcher = watcher
	}

	if d.engine.History != nil {
		pruner, err := history.NewPruner(d.engine.History, cfg.History.PruneSchedule, cfg.History.Retention(), d.logger.Component("history"))
		if err != nil {
			return fmt.Errorf("failed to create history pruner: %w", err)
		}
		d.pruner = pruner
	}

	gw, err := gateway.NewServer(gateway.Config{
		Host:         cfg.Gateway.Host,
		Port:         cfg.Gateway.Port,
		SharedSecret: cfg.Gateway.SharedSecret,
		Executor:     d.engine.Executor,
		History:      d.engine.History,
		Logger:       d.logger.Component("gateway"),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gateway = gw
	return nil
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.log.With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting skilltools daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.gateway.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}

	if d.watcher != nil {
		if err := os.MkdirAll(d.config.Catalog.CustomDir, 0o755); err != nil {
			logger.Warn().Err(err).Msg("Failed to create custom tool directory")
		}
		if err := d.watcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start catalog watcher, hot reload disabled")
			d.watcher = nil
		} else {
			logger.Info().Str("dir", d.config.Catalog.CustomDir).Msg("Catalog watcher started")
		}
	}

	if d.pruner != nil {
		d.pruner.Start()
	}

	logger.Info().
		Int("tools", d.engine.Registry.Len()).
		Str("gateway", d.gateway.Addr()).
		Msg("Daemon started")
	return nil
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.log.With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping skilltools daemon")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := d.gateway.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop gateway server")
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop catalog watcher")
		}
	}

	if d.pruner != nil {
		d.pruner.Stop()
	}

	if err := d.engine.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close engine")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.shutdownTracing()

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped")
	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		d.log.Error().Err(err).Msg("Failed to shutdown tracing")
	}
	d.tracingEnabled = false
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
		Tools:   d.engine.Registry.Len(),
		Clients: len(d.gateway.GetConnectedClients()),
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.log.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.log.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetEngine returns the registry, handlers and executor.
func (d *Daemon) GetEngine() *Engine {
	return d.engine
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gateway
}

// GetLifecycle returns the PID file manager.
func (d *Daemon) GetLifecycle() *LifecycleManager {
	return d.lifecycle
}
