package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	gatekeeper "github.com/ethereum-optimism/infra/op-gatekeeper"
	"github.com/ethereum-optimism/infra/op-gatekeeper/exitcodes"
	"github.com/ethereum-optimism/infra/op-gatekeeper/flags"
	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newApp()

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-gatekeeper"
	app.Usage = "Continuous testing release gate"
	app.Description = "op-gatekeeper selects, runs and gates test suites for a change set"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(lifecycle(nil))
	app.ExitErrHandler = handleExitError
	app.Commands = []*cli.Command{
		{
			Name:   "run",
			Usage:  "Run the pipeline once and exit with the gate verdict",
			Flags:  cliapp.ProtectFlags(flags.Flags),
			Action: cliapp.LifecycleCmd(lifecycle(forceRunOnce)),
		},
		{
			Name:   "monitor",
			Usage:  "Run the pipeline every --run-interval and serve healthz and metrics",
			Flags:  cliapp.ProtectFlags(flags.Flags),
			Action: cliapp.LifecycleCmd(lifecycle(requireInterval)),
		},
		stageCommand("analyze-changes", "Map the change set to affected components", analyzeChanges),
		stageCommand("select-tests", "Resolve the suites to run from a change analysis", selectTests),
		stageCommand("plan", "Group a selection into execution waves", planExecution),
		stageCommand("execute-tests", "Run every suite of an execution plan", executeTests),
		stageCommand("aggregate-results", "Derive the aggregate report from execution results", aggregateResults),
		stageCommand("evaluate-quality-gates", "Render the gate verdict for an aggregate report", evaluateQualityGates),
		{
			Name:   "history",
			Usage:  "List recently recorded runs",
			Flags:  cliapp.ProtectFlags(flags.Flags),
			Action: showHistory,
		},
	}
	return app
}

// handleExitError maps typed errors to the pipeline exit codes
func handleExitError(c *cli.Context, err error) {
	if err == nil {
		return
	}
	var exitErr cli.ExitCoder
	switch {
	case gatekeeper.IsGateFailureError(err):
		cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.GateFailure))
	case gatekeeper.IsRuntimeError(err):
		cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
	case errors.As(err, &exitErr):
		cli.HandleExitCoder(exitErr)
	default:
		// anything else means no verdict was reached
		cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
	}
}

func setupLogger(ctx *cli.Context, out io.Writer) log.Logger {
	logCfg := oplog.ReadCLIConfig(ctx)
	logger := oplog.NewLogger(out, logCfg)
	oplog.SetGlobalLogHandler(logger.Handler())
	oplog.SetupDefaults()
	return logger
}

func readConfig(ctx *cli.Context, logOut io.Writer) (*gatekeeper.Config, error) {
	cfg, err := gatekeeper.NewConfig(ctx, setupLogger(ctx, logOut))
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, gatekeeper.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Log.Debug("Config", "config", cfg.ConfigFile, "mode", cfg.Mode, "runOnce", cfg.RunOnce)
	return cfg, nil
}

// lifecycle builds the gatekeeper service; mode, when set, adjusts or rejects the parsed config
func lifecycle(mode func(cfg *gatekeeper.Config) error) cliapp.LifecycleAction {
	return func(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
		cfg, err := readConfig(ctx, oplog.AppOut(ctx))
		if err != nil {
			return nil, err
		}
		if mode != nil {
			if err := mode(cfg); err != nil {
				return nil, gatekeeper.NewRuntimeError(err)
			}
		}

		svc, err := gatekeeper.New(ctx.Context, cfg, Version, closeApp)
		if err != nil {
			// Wrap in RuntimeError to signal this should exit with code 2
			return nil, gatekeeper.NewRuntimeError(fmt.Errorf("failed to create gatekeeper: %w", err))
		}
		return svc, nil
	}
}

func forceRunOnce(cfg *gatekeeper.Config) error {
	cfg.RunOnce = true
	return nil
}

func requireInterval(cfg *gatekeeper.Config) error {
	if cfg.RunInterval <= 0 {
		return fmt.Errorf("--%s must be positive in monitor mode", flags.RunInterval.Name)
	}
	cfg.RunOnce = false
	return nil
}

type stageFunc func(ctx context.Context, engine *gatekeeper.Engine, cfg *gatekeeper.Config) (interface{}, error)

// stageCommand runs one stage against the configured document and writes its artifact to --out
func stageCommand(name, usage string, fn stageFunc) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: cliapp.ProtectFlags(flags.Flags),
		Action: func(ctx *cli.Context) error {
			// artifacts may go to stdout, so logs go to stderr
			cfg, err := readConfig(ctx, os.Stderr)
			if err != nil {
				return err
			}
			engine, err := gatekeeper.NewEngineFromConfig(cfg, nil)
			if err != nil {
				return gatekeeper.NewRuntimeError(err)
			}

			out, err := fn(ctx.Context, engine, cfg)
			if out != nil {
				if writeErr := gatekeeper.WriteArtifact(cfg.Output, out); writeErr != nil {
					return gatekeeper.NewRuntimeError(errors.Join(err, writeErr))
				}
			}
			if err != nil && !gatekeeper.IsGateFailureError(err) && !gatekeeper.IsRuntimeError(err) {
				err = gatekeeper.NewRuntimeError(err)
			}
			return err
		},
	}
}

func readInput(cfg *gatekeeper.Config, v interface{}) error {
	if cfg.Input == "" {
		return fmt.Errorf("--%s is required", flags.Input.Name)
	}
	return gatekeeper.ReadArtifact(cfg.Input, v)
}

func analyzeChanges(ctx context.Context, engine *gatekeeper.Engine, cfg *gatekeeper.Config) (interface{}, error) {
	analysis, err := engine.AnalyzeChanges(ctx, cfg.ChangeSource())
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

func selectTests(ctx context.Context, engine *gatekeeper.Engine, cfg *gatekeeper.Config) (interface{}, error) {
	// without an analysis nothing changed, which SMART treats as a full run
	var analysis *gatekeeper.ChangeAnalysis
	if cfg.Input != "" {
		analysis = new(gatekeeper.ChangeAnalysis)
		if err := gatekeeper.ReadArtifact(cfg.Input, analysis); err != nil {
			return nil, err
		}
	}
	sel, err := engine.SelectTests(analysis, gatekeeper.SelectRequest{Mode: cfg.Mode, Suites: cfg.Suites})
	if err != nil {
		return nil, err
	}
	return sel, nil
}

func planExecution(ctx context.Context, engine *gatekeeper.Engine, cfg *gatekeeper.Config) (interface{}, error) {
	var sel types.Selection
	if err := readInput(cfg, &sel); err != nil {
		return nil, err
	}
	plan, err := engine.PlanExecution(sel)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func executeTests(ctx context.Context, engine *gatekeeper.Engine, cfg *gatekeeper.Config) (interface{}, error) {
	var plan types.ExecutionPlan
	if err := readInput(cfg, &plan); err != nil {
		return nil, err
	}
	res, err := engine.ExecuteTests(ctx, "", plan)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func aggregateResults(ctx context.Context, engine *gatekeeper.Engine, cfg *gatekeeper.Config) (interface{}, error) {
	var res gatekeeper.ExecutionResults
	if err := readInput(cfg, &res); err != nil {
		return nil, err
	}
	return engine.AggregateResults(&res), nil
}

func evaluateQualityGates(ctx context.Context, engine *gatekeeper.Engine, cfg *gatekeeper.Config) (interface{}, error) {
	var report types.AggregateReport
	if err := readInput(cfg, &report); err != nil {
		return nil, err
	}
	verdict := engine.EvaluateQualityGates(report)
	if !verdict.Passed() {
		return verdict, gatekeeper.NewGateFailureError(verdict)
	}
	return verdict, nil
}

func showHistory(ctx *cli.Context) error {
	logger := setupLogger(ctx, os.Stderr)
	dsn := ctx.String(flags.HistoryDSN.Name)
	if dsn == "" {
		return gatekeeper.NewRuntimeError(fmt.Errorf("--%s is required", flags.HistoryDSN.Name))
	}
	records, err := gatekeeper.RecentRuns(ctx.Context, dsn, ctx.Int(flags.HistoryLimit.Name))
	if err != nil {
		return gatekeeper.NewRuntimeError(err)
	}
	gatekeeper.NewConsoleResultFormatter(logger, nil).FormatHistory(records)
	return nil
}
