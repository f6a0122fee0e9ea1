package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/op-gatekeeper/history"
	"github.com/ethereum-optimism/infra/op-gatekeeper/registry"
	"github.com/ethereum-optimism/infra/op-gatekeeper/service"
)

// gatekeeper implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &gatekeeper{}

// gatekeeper runs the full pipeline once, or periodically in monitor mode.
type gatekeeper struct {
	config    *Config
	version   string
	engine    *Engine
	scheduler RunScheduler
	formatter ResultFormatter
	history   history.Store
	service   *service.Service

	startedAt time.Time
	last      atomic.Pointer[RunOutcome]
	running   atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

// NewEngineFromConfig loads the configuration document named by config and builds an Engine over it.
func NewEngineFromConfig(config *Config, reporter RunReporter) (*Engine, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	reg, err := registry.NewRegistry(registry.Config{
		Log:            config.Log,
		ConfigFile:     config.ConfigFile,
		DefaultTimeout: config.DefaultTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}
	return NewEngine(EngineConfig{
		Log:              config.Log,
		Registry:         reg,
		Environment:      config.Environment,
		ArtifactDir:      config.ArtifactDir,
		ShowProgress:     config.ShowProgress,
		ProgressInterval: config.ProgressInterval,
		RunReport:        config.RunReport,
		Reporter:         reporter,
	})
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*gatekeeper, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating gatekeeper with config",
		"config", config.ConfigFile,
		"mode", config.Mode,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"history", config.HistoryDSN != "")

	var store history.Store
	if config.HistoryDSN != "" {
		var err error
		store, err = history.Open(ctx, config.HistoryDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open run history: %w", err)
		}
	}

	engine, err := NewEngineFromConfig(config, NewDefaultRunReporter(config.Log, store))
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	config.Log.Info("gatekeeper.New: created registry and engine", "environment", engine.Environment())

	g := &gatekeeper{
		config:           config,
		version:          version,
		engine:           engine,
		scheduler:        NewDefaultRunScheduler(config.RunInterval, config.RunOnce, config.Log),
		formatter:        NewConsoleResultFormatter(config.Log, nil),
		history:          store,
		shutdownCallback: shutdownCallback,
	}

	if !config.RunOnce {
		svcCfg := service.Config{
			Log:         config.Log,
			HealthzAddr: config.HealthzAddr,
			Health:      g.checkHealth,
		}
		if config.Metrics.Enabled {
			svcCfg.MetricsAddr = net.JoinHostPort(config.Metrics.ListenAddr, strconv.Itoa(config.Metrics.ListenPort))
		}
		g.service = service.New(svcCfg)
	}
	return g, nil
}

// Start implements the cliapp.Lifecycle interface. In run-once mode it
// returns a GateFailureError for a FAIL verdict and a RuntimeError when the run fails.
func (g *gatekeeper) Start(ctx context.Context) error {
	g.running.Store(true)
	g.startedAt = time.Now()

	if g.config.RunOnce {
		g.config.Log.Info("Starting op-gatekeeper in run-once mode", "version", g.version)
	} else {
		g.config.Log.Info("Starting op-gatekeeper in monitor mode", "version", g.version, "interval", g.config.RunInterval)
		g.service.Start(ctx)
	}

	g.scheduler.RegisterCallback(g.runPipeline)
	if err := g.scheduler.Start(ctx); err != nil {
		if g.service != nil {
			g.service.Shutdown()
		}
		if !IsRuntimeError(err) {
			err = NewRuntimeError(err)
		}
		return err
	}

	if !g.config.RunOnce {
		return nil
	}

	outcome := g.last.Load()
	if outcome != nil && !outcome.Passed() && outcome.Verdict != nil {
		g.config.Log.Warn("Run-once completed with a failing quality gate", "runId", outcome.RunID)
		return NewGateFailureError(*outcome.Verdict)
	}

	g.config.Log.Info("Run completed, exiting (run-once mode)")
	go func() {
		g.shutdownCallback(nil)
	}()
	return nil
}

// runPipeline is the scheduler callback: one end-to-end run plus its console summary
func (g *gatekeeper) runPipeline(ctx context.Context) error {
	outcome, err := g.engine.Run(ctx, RunRequest{
		Changes:       g.config.ChangeSource(),
		SelectRequest: SelectRequest{Mode: g.config.Mode, Suites: g.config.Suites},
	})
	if outcome != nil {
		g.last.Store(outcome)
	}
	if err != nil {
		return err
	}
	if fmtErr := g.formatter.FormatOutcome(outcome); fmtErr != nil {
		g.config.Log.Error("Failed to format run outcome", "runId", outcome.RunID, "err", fmtErr)
	}
	return nil
}

// checkHealth fails once no run has completed for two run intervals
func (g *gatekeeper) checkHealth() error {
	ref := g.scheduler.LastCompleted()
	if ref.IsZero() {
		ref = g.startedAt
	}
	if stale := time.Since(ref); stale > 2*g.config.RunInterval {
		return fmt.Errorf("no run completed for %s (interval %s)", stale.Truncate(time.Second), g.config.RunInterval)
	}
	return nil
}

// LastOutcome returns the outcome of the most recent run, or nil before the first one
func (g *gatekeeper) LastOutcome() *RunOutcome {
	return g.last.Load()
}

// Stop implements the cliapp.Lifecycle interface.
func (g *gatekeeper) Stop(ctx context.Context) error {
	g.config.Log.Info("Stopping op-gatekeeper")

	if !g.running.CompareAndSwap(true, false) {
		g.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	var result error
	if err := g.scheduler.Stop(); err != nil {
		result = errors.Join(result, fmt.Errorf("stopping scheduler: %w", err))
	}
	if g.service != nil {
		g.service.Shutdown()
	}
	if g.history != nil {
		if err := g.history.Close(); err != nil {
			result = errors.Join(result, fmt.Errorf("closing run history: %w", err))
		}
	}

	g.config.Log.Info("op-gatekeeper stopped")
	return result
}

// Stopped implements the cliapp.Lifecycle interface.
func (g *gatekeeper) Stopped() bool {
	return !g.running.Load()
}

// WaitForShutdown blocks until the periodic runner has terminated.
func (g *gatekeeper) WaitForShutdown(ctx context.Context) error {
	return g.scheduler.WaitForShutdown(ctx)
}
