package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-gatekeeper/aggregator"
	"github.com/ethereum-optimism/infra/op-gatekeeper/analyzer"
	"github.com/ethereum-optimism/infra/op-gatekeeper/changes"
	"github.com/ethereum-optimism/infra/op-gatekeeper/gate"
	"github.com/ethereum-optimism/infra/op-gatekeeper/logging"
	"github.com/ethereum-optimism/infra/op-gatekeeper/planner"
	"github.com/ethereum-optimism/infra/op-gatekeeper/registry"
	"github.com/ethereum-optimism/infra/op-gatekeeper/runner"
	"github.com/ethereum-optimism/infra/op-gatekeeper/selector"
	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// EngineConfig configures an Engine
type EngineConfig struct {
	Log      log.Logger
	Registry *registry.Registry
	// Runner executes suites; nil runs each suite's configured command as a process.
	Runner runner.SuiteRunner
	// Environment overrides the environment named in the configuration document.
	Environment string
	// ArtifactDir overrides the artifact directory named in the configuration document.
	ArtifactDir      string
	ShowProgress     bool
	ProgressInterval time.Duration
	// RunReport writes summary.log, results.html and the collected suite logs
	// under <ArtifactDir>/<run id> once a run has a verdict.
	RunReport bool
	// Reporter is notified of every run that reaches a verdict.
	Reporter RunReporter
}

// SelectRequest carries the caller's selection choice
type SelectRequest struct {
	Mode types.SelectionMode
	// Suites are the explicit suite ids for MANUAL mode.
	Suites []string
}

// RunRequest describes one end-to-end run
type RunRequest struct {
	// Changes is optional; without it the run sees an empty ChangeSet.
	Changes changes.Source
	SelectRequest
}

// RunOutcome holds the final phase of a run and every object it produced.
// A run that failed on a configuration error carries no partial results.
type RunOutcome struct {
	RunID       string                 `json:"runId"`
	Phase       types.RunPhase         `json:"phase"`
	Analysis    *ChangeAnalysis        `json:"analysis,omitempty"`
	Selection   *types.Selection       `json:"selection,omitempty"`
	Plan        *types.ExecutionPlan   `json:"plan,omitempty"`
	Results     *ExecutionResults      `json:"results,omitempty"`
	Report      *types.AggregateReport `json:"report,omitempty"`
	Verdict     *types.GateVerdict     `json:"verdict,omitempty"`
	ReportDir   string                 `json:"reportDir,omitempty"`
	CompletedAt time.Time              `json:"completedAt"`
	Error       string                 `json:"error,omitempty"`
}

// Passed reports whether the run reached a PASS verdict
func (o *RunOutcome) Passed() bool {
	return o.Verdict != nil && o.Verdict.Passed()
}

// Engine drives runs through the run state machine. Each stage is also
// exposed on its own so a pipeline can run stages as separate invocations.
type Engine struct {
	cfg        EngineConfig
	log        log.Logger
	tracer     trace.Tracer
	aggregator *aggregator.Aggregator
	gate       *gate.Evaluator
	selector   *selector.Selector

	mu    sync.Mutex
	phase types.RunPhase
}

// NewEngine creates an Engine over a loaded registry
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.Environment == "" {
		cfg.Environment = cfg.Registry.Execution().Environment
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = cfg.Registry.Execution().ArtifactDir
	}
	logger := cfg.Log.New("component", "engine")
	return &Engine{
		cfg:        cfg,
		log:        logger,
		tracer:     otel.Tracer("gatekeeper engine"),
		aggregator: aggregator.New(cfg.Log),
		gate:       gate.New(cfg.Log),
		selector:   selector.New(cfg.Registry.Graph(), cfg.Log.New("component", "selector")),
		phase:      types.PhasePending,
	}, nil
}

// Environment returns the environment suites run against
func (e *Engine) Environment() string {
	return e.cfg.Environment
}

// Phase returns the phase of the current or most recent run
func (e *Engine) Phase() types.RunPhase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// AnalyzeChanges captures the ChangeSet from src and maps it to affected components
func (e *Engine) AnalyzeChanges(ctx context.Context, src changes.Source) (*ChangeAnalysis, error) {
	ctx, span := e.tracer.Start(ctx, "analyze changes")
	defer span.End()

	cs := types.NewChangeSet(nil, "", "")
	if src != nil {
		var err error
		cs, err = src.Capture(ctx)
		if err != nil {
			return nil, fmt.Errorf("capturing changes: %w", err)
		}
	}

	analysis := analyzer.Analyze(e.cfg.Registry.Graph(), cs)
	span.SetAttributes(
		attribute.Int("changes.paths", cs.Len()),
		attribute.Int("changes.components", len(analysis.Components)),
	)
	e.log.Info("Analyzed changes", "paths", cs.Len(), "components", analysis.Components, "unmatched", len(analysis.Unmatched))
	return &ChangeAnalysis{Changes: cs, Analysis: analysis}, nil
}

// SelectTests resolves the suites to run from an analysis. A nil analysis means nothing changed.
func (e *Engine) SelectTests(analysis *ChangeAnalysis, req SelectRequest) (types.Selection, error) {
	var components []string
	if analysis != nil {
		components = analysis.Components
	}
	return e.selector.Select(selector.Request{
		Mode:       req.Mode,
		Components: components,
		Suites:     req.Suites,
	})
}

// PlanExecution groups a selection into waves bounded by max_parallel_suites
func (e *Engine) PlanExecution(sel types.Selection) (types.ExecutionPlan, error) {
	plan, err := planner.Plan(e.cfg.Registry.Graph(), sel.Suites, e.cfg.Registry.QualityGate().MaxParallelSuites)
	if err != nil {
		return types.ExecutionPlan{}, fmt.Errorf("planning execution: %w", err)
	}
	e.log.Info("Planned execution", "suites", plan.Len(), "waves", len(plan.Waves), "maxParallel", plan.MaxParallel)
	return plan, nil
}

// ExecuteTests runs every suite of plan and returns exactly one result per planned suite.
// The plan must stay within max_parallel_suites and name only known suites.
// An empty runID gets a fresh one.
func (e *Engine) ExecuteTests(ctx context.Context, runID string, plan types.ExecutionPlan) (*ExecutionResults, error) {
	if runID == "" {
		runID = uuid.New().String()
	}
	ctx, span := e.tracer.Start(ctx, fmt.Sprintf("execute %s", runID))
	defer span.End()

	graph := e.cfg.Registry.Graph()
	known := func(id string) bool {
		_, ok := graph.Suite(id)
		return ok
	}
	if err := plan.Validate(e.cfg.Registry.QualityGate().MaxParallelSuites, known); err != nil {
		return nil, fmt.Errorf("invalid execution plan: %w", err)
	}

	exec := e.cfg.Registry.Execution()
	suiteRunner := e.cfg.Runner
	if suiteRunner == nil {
		suiteRunner = runner.NewProcessRunner(runner.ProcessConfig{
			Log:         e.cfg.Log,
			ArtifactDir: e.cfg.ArtifactDir,
			RunID:       runID,
			KillDelay:   exec.CancelGrace,
		})
	}

	executor, err := runner.NewSuiteExecutor(runner.ExecutorConfig{
		Log:              e.cfg.Log,
		Runner:           suiteRunner,
		Environment:      e.cfg.Environment,
		CancelGrace:      exec.CancelGrace,
		BreakerThreshold: exec.BreakerThreshold,
		BreakerCooldown:  exec.BreakerCooldown,
	})
	if err != nil {
		return nil, fmt.Errorf("creating suite executor: %w", err)
	}

	progress := runner.NewNoOpProgressIndicator()
	if e.cfg.ShowProgress {
		progress = runner.NewConsoleProgressIndicator(e.cfg.Log, e.cfg.ProgressInterval)
	}
	defer progress.Stop()

	pool, err := runner.NewPool(runner.PoolConfig{
		Log:      e.cfg.Log,
		Executor: executor,
		Suites:   graph,
		Progress: progress,
	})
	if err != nil {
		return nil, fmt.Errorf("creating wave pool: %w", err)
	}

	results, err := pool.Run(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("executing plan: %w", err)
	}
	return &ExecutionResults{RunID: runID, Planned: plan.SuiteIDs(), Results: results}, nil
}

// AggregateResults derives the AggregateReport from executed results
func (e *Engine) AggregateResults(res *ExecutionResults) types.AggregateReport {
	if res == nil {
		return e.aggregator.Aggregate(nil, nil)
	}
	return e.aggregator.Aggregate(res.Planned, res.Results)
}

// EvaluateQualityGates renders the verdict for report
func (e *Engine) EvaluateQualityGates(report types.AggregateReport) types.GateVerdict {
	return e.gate.Evaluate(report, e.cfg.Registry.QualityGate())
}

// run tracks the phase of one Run invocation
type run struct {
	engine  *Engine
	outcome *RunOutcome
}

func (r *run) advance(next types.RunPhase) error {
	phase, err := r.outcome.Phase.Transition(next)
	if err != nil {
		return err
	}
	r.outcome.Phase = phase
	r.engine.mu.Lock()
	r.engine.phase = phase
	r.engine.mu.Unlock()
	r.engine.log.Debug("Run phase", "runId", r.outcome.RunID, "phase", phase)
	return nil
}

// fail moves the run to FAILED. Configuration errors drop every partial result.
func (r *run) fail(err error) (*RunOutcome, error) {
	if advErr := r.advance(types.PhaseFailed); advErr != nil {
		err = errors.Join(err, advErr)
	}
	if types.IsConfigError(err) {
		r.outcome = &RunOutcome{RunID: r.outcome.RunID, Phase: types.PhaseFailed}
	}
	r.outcome.CompletedAt = time.Now()
	r.outcome.Error = err.Error()
	r.engine.log.Error("Run failed", "runId", r.outcome.RunID, "err", err)
	return r.outcome, NewRuntimeError(err)
}

// Run drives one run from PENDING to DONE. A FAIL verdict is not an error:
// callers inspect the returned outcome. Errors are RuntimeErrors and leave the run FAILED.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*RunOutcome, error) {
	r := &run{engine: e, outcome: &RunOutcome{RunID: uuid.New().String(), Phase: types.PhasePending}}
	e.mu.Lock()
	e.phase = types.PhasePending
	e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, fmt.Sprintf("run %s", r.outcome.RunID))
	defer span.End()
	e.log.Info("Starting run", "runId", r.outcome.RunID, "mode", req.Mode, "environment", e.cfg.Environment)

	if err := r.advance(types.PhaseAnalyzing); err != nil {
		return r.fail(err)
	}
	analysis, err := e.AnalyzeChanges(ctx, req.Changes)
	if err != nil {
		return r.fail(err)
	}
	r.outcome.Analysis = analysis

	if err := r.advance(types.PhaseSelecting); err != nil {
		return r.fail(err)
	}
	sel, err := e.SelectTests(analysis, req.SelectRequest)
	if err != nil {
		return r.fail(err)
	}
	r.outcome.Selection = &sel

	plan, err := e.PlanExecution(sel)
	if err != nil {
		return r.fail(err)
	}
	r.outcome.Plan = &plan
	if err := r.advance(types.PhasePlanned); err != nil {
		return r.fail(err)
	}

	if err := r.advance(types.PhaseRunning); err != nil {
		return r.fail(err)
	}
	results, err := e.ExecuteTests(ctx, r.outcome.RunID, plan)
	if err != nil {
		return r.fail(err)
	}
	r.outcome.Results = results

	if err := r.advance(types.PhaseAggregating); err != nil {
		return r.fail(err)
	}
	report := e.AggregateResults(results)
	r.outcome.Report = &report

	verdict := e.EvaluateQualityGates(report)
	r.outcome.Verdict = &verdict
	r.outcome.CompletedAt = time.Now()
	if err := r.advance(types.PhaseGated); err != nil {
		return r.fail(err)
	}

	span.SetAttributes(
		attribute.String("run.verdict", string(verdict.Verdict)),
		attribute.Float64("run.success_rate", report.SuccessRate),
	)

	if e.cfg.RunReport {
		dir, err := e.writeRunReport(r.outcome)
		if err != nil {
			e.log.Error("Failed to write run report", "runId", r.outcome.RunID, "err", err)
		}
		r.outcome.ReportDir = dir
	}

	if e.cfg.Reporter != nil {
		// reporting problems never change the verdict
		if err := e.cfg.Reporter.ReportRun(ctx, e.cfg.Environment, r.outcome); err != nil {
			e.log.Error("Failed to report run", "runId", r.outcome.RunID, "err", err)
		}
	}

	if err := r.advance(types.PhaseDone); err != nil {
		return r.fail(err)
	}
	e.log.Info("Run complete", "runId", r.outcome.RunID, "verdict", verdict.Verdict,
		"successRate", report.SuccessRate, "executed", report.TotalExecuted)
	return r.outcome, nil
}

// ConfigSnapshot returns the effective configuration of a run
func (e *Engine) ConfigSnapshot(runID string, sel *types.Selection) types.EffectiveConfigSnapshot {
	regCfg := e.cfg.Registry.GetConfig()
	exec := e.cfg.Registry.Execution()
	snap := types.EffectiveConfigSnapshot{
		QualityGate: e.cfg.Registry.QualityGate(),
		Execution: types.ExecutionConfigSnapshot{
			DefaultTimeout:   regCfg.DefaultTimeout,
			CancelGrace:      exec.CancelGrace,
			BreakerThreshold: exec.BreakerThreshold,
			BreakerCooldown:  exec.BreakerCooldown,
			ShowProgress:     e.cfg.ShowProgress,
			ProgressInterval: e.cfg.ProgressInterval,
		},
		Paths: types.PathsConfigSnapshot{
			ConfigFile:  regCfg.ConfigFile,
			ArtifactDir: e.cfg.ArtifactDir,
		},
		Environment: e.cfg.Environment,
		RunID:       runID,
	}
	if sel != nil {
		snap.Selection = types.SelectionConfigSnapshot{
			RequestedMode: sel.RequestedMode,
			EffectiveMode: sel.EffectiveMode,
			FellBack:      sel.FellBack,
		}
	}
	return snap
}

// writeRunReport renders the run artifacts and returns the run directory.
// The directory is returned even when a sink failed, as long as it exists.
func (e *Engine) writeRunReport(outcome *RunOutcome) (string, error) {
	if e.cfg.ArtifactDir == "" {
		return "", errors.New("no artifact directory configured")
	}
	fl, err := logging.NewFileLogger(logging.Config{
		Log:     e.cfg.Log,
		BaseDir: e.cfg.ArtifactDir,
		RunID:   outcome.RunID,
	})
	if err != nil {
		return "", err
	}

	var errs error
	for _, res := range outcome.Report.Suites {
		errs = errors.Join(errs, fl.LogSuiteResult(res))
	}
	snap := e.ConfigSnapshot(outcome.RunID, outcome.Selection)
	errs = errors.Join(errs, fl.Complete(types.RunSummary{
		RunID:       outcome.RunID,
		Environment: e.cfg.Environment,
		Plan:        outcome.Plan,
		Report:      *outcome.Report,
		Verdict:     *outcome.Verdict,
		Config:      &snap,
	}))
	return fl.GetDirectory(), errs
}
