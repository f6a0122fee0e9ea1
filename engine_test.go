package gatekeeper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-gatekeeper/changes"
	"github.com/ethereum-optimism/infra/op-gatekeeper/logging"
	"github.com/ethereum-optimism/infra/op-gatekeeper/registry"
	"github.com/ethereum-optimism/infra/op-gatekeeper/runner"
	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

const engineDoc = `
defaults:
  timeout: 5s
  retry_backoff: 1ms
suites:
  - id: unit_tests
    priority: 1
  - id: e2e_tests
    priority: 2
    requires: [unit_tests]
  - id: topic_tests
    priority: 2
  - id: lint
    priority: 1
  - id: slow_tests
    priority: 3
    timeout: 50ms
components:
  - name: api
    paths: ["services/api/**"]
    suites: [e2e_tests]
  - name: topics
    paths: ["topics/**"]
    suites: [topic_tests]
  - name: docs
    paths: ["docs/**"]
quality_gate:
  min_success_rate: 75
  critical_suites: [unit_tests]
  max_parallel_suites: 2
execution:
  environment: test
  cancel_grace: 100ms
`

// fakeRunner returns a fixed exit code per suite and blocks on suites listed in hang
type fakeRunner struct {
	mu    sync.Mutex
	exits map[string]int
	hang  map[string]bool
	calls []string
}

func (f *fakeRunner) Execute(ctx context.Context, suite types.Suite, environment string) (runner.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, suite.ID)
	code := f.exits[suite.ID]
	hang := f.hang[suite.ID]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return runner.Outcome{ExitCode: -1}, ctx.Err()
	}
	return runner.Outcome{ExitCode: code, Class: runner.ClassTest}, nil
}

func (f *fakeRunner) invoked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recordingReporter struct {
	outcomes []*RunOutcome
	err      error
}

func (r *recordingReporter) ReportRun(ctx context.Context, environment string, outcome *RunOutcome) error {
	r.outcomes = append(r.outcomes, outcome)
	return r.err
}

func newTestEngine(t *testing.T, r runner.SuiteRunner, reporter RunReporter) *Engine {
	t.Helper()
	doc, err := registry.ParseDocument([]byte(engineDoc), registry.FormatYAML)
	require.NoError(t, err)
	reg, err := registry.FromDocument(registry.Config{Log: log.New()}, doc)
	require.NoError(t, err)

	e, err := NewEngine(EngineConfig{
		Log:         log.New(),
		Registry:    reg,
		Runner:      r,
		ArtifactDir: t.TempDir(),
		Reporter:    reporter,
	})
	require.NoError(t, err)
	return e
}

func smart(paths ...string) RunRequest {
	return RunRequest{
		Changes:       changes.StaticSource{Paths: paths},
		SelectRequest: SelectRequest{Mode: types.SelectionModeSmart},
	}
}

func TestEngine_Run_SmartSelectionFromChanges(t *testing.T) {
	tests := []struct {
		name      string
		paths     []string
		want      []string
		fellBack  bool
		wantComps []string
	}{
		{
			name:      "component with a single suite plus critical suites",
			paths:     []string{"topics/intro.md"},
			want:      []string{"topic_tests", "unit_tests"},
			wantComps: []string{"topics"},
		},
		{
			name:      "required suites are pulled in",
			paths:     []string{"services/api/main.go"},
			want:      []string{"e2e_tests", "unit_tests"},
			wantComps: []string{"api"},
		},
		{
			name:     "no affected component falls back to full",
			paths:    []string{"README.md"},
			want:     []string{"e2e_tests", "lint", "slow_tests", "topic_tests", "unit_tests"},
			fellBack: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, &fakeRunner{}, nil)
			analysis, err := e.AnalyzeChanges(context.Background(), changes.StaticSource{Paths: tt.paths})
			require.NoError(t, err)
			if tt.wantComps != nil {
				assert.Equal(t, tt.wantComps, analysis.Components)
			}

			sel, err := e.SelectTests(analysis, SelectRequest{Mode: types.SelectionModeSmart})
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, sel.Suites)
			assert.Equal(t, tt.fellBack, sel.FellBack)
		})
	}
}

func TestEngine_ComponentWithoutSuitesStillRunsCritical(t *testing.T) {
	e := newTestEngine(t, &fakeRunner{}, nil)
	analysis, err := e.AnalyzeChanges(context.Background(), changes.StaticSource{Paths: []string{"docs/guide.md"}})
	require.NoError(t, err)

	sel, err := e.SelectTests(analysis, SelectRequest{Mode: types.SelectionModeSmart})
	require.NoError(t, err)
	assert.Equal(t, []string{"unit_tests"}, sel.Suites)
	assert.False(t, sel.FellBack)
}

func TestEngine_Run_Passes(t *testing.T) {
	fr := &fakeRunner{}
	rep := &recordingReporter{}
	e := newTestEngine(t, fr, rep)

	outcome, err := e.Run(context.Background(), smart("services/api/handler.go"))
	require.NoError(t, err)

	assert.Equal(t, types.PhaseDone, outcome.Phase)
	assert.Equal(t, types.PhaseDone, e.Phase())
	assert.True(t, outcome.Passed())
	assert.NotEmpty(t, outcome.RunID)
	assert.False(t, outcome.CompletedAt.IsZero())

	require.NotNil(t, outcome.Plan)
	require.Len(t, outcome.Plan.Waves, 2)
	assert.Equal(t, []string{"unit_tests"}, outcome.Plan.Waves[0].Suites)
	assert.Equal(t, []string{"e2e_tests"}, outcome.Plan.Waves[1].Suites)
	assert.Equal(t, []string{"unit_tests", "e2e_tests"}, fr.invoked(), "waves run in order")

	require.NotNil(t, outcome.Report)
	assert.Equal(t, 2, outcome.Report.Passed)
	assert.Equal(t, 100.0, outcome.Report.SuccessRate)

	require.Len(t, rep.outcomes, 1)
	assert.Equal(t, outcome.RunID, rep.outcomes[0].RunID)
}

func TestEngine_Run_NonCriticalFailureWithinThreshold(t *testing.T) {
	fr := &fakeRunner{exits: map[string]int{"lint": 1}}
	e := newTestEngine(t, fr, nil)

	outcome, err := e.Run(context.Background(), RunRequest{SelectRequest: SelectRequest{
		Mode:   types.SelectionModeManual,
		Suites: []string{"lint", "topic_tests", "e2e_tests"},
	}})
	require.NoError(t, err)

	assert.Equal(t, 3, outcome.Report.Passed)
	assert.Equal(t, 1, outcome.Report.Failed)
	assert.Equal(t, 75.0, outcome.Report.SuccessRate)
	assert.True(t, outcome.Passed(), "reasons: %v", outcome.Verdict.Reasons)
}

func TestEngine_Run_CriticalFailureFails(t *testing.T) {
	fr := &fakeRunner{exits: map[string]int{"unit_tests": 2}}
	e := newTestEngine(t, fr, nil)

	outcome, err := e.Run(context.Background(), RunRequest{SelectRequest: SelectRequest{Mode: types.SelectionModeFull}})
	require.NoError(t, err, "a FAIL verdict is not a run error")

	assert.Equal(t, types.PhaseDone, outcome.Phase)
	require.NotNil(t, outcome.Verdict)
	assert.Equal(t, types.VerdictFail, outcome.Verdict.Verdict)
	require.NotEmpty(t, outcome.Verdict.Violations)
	found := false
	for _, v := range outcome.Verdict.Violations {
		if v.Kind == types.ViolationCriticalSuite {
			found = true
			assert.Equal(t, "unit_tests", v.SuiteID)
		}
	}
	assert.True(t, found, "violations: %v", outcome.Verdict.Violations)
}

func TestEngine_Run_TimeoutFailsGate(t *testing.T) {
	fr := &fakeRunner{hang: map[string]bool{"slow_tests": true}}
	e := newTestEngine(t, fr, nil)

	outcome, err := e.Run(context.Background(), RunRequest{SelectRequest: SelectRequest{
		Mode:   types.SelectionModeManual,
		Suites: []string{"lint", "topic_tests", "e2e_tests", "slow_tests"},
	}})
	require.NoError(t, err)

	res, ok := outcome.Report.Result("slow_tests")
	require.True(t, ok)
	assert.Equal(t, types.SuiteStatusTimeout, res.Status)
	require.Equal(t, 80.0, outcome.Report.SuccessRate, "4 of 5 passed, above the 75% minimum")

	assert.Equal(t, types.VerdictFail, outcome.Verdict.Verdict)
	require.Len(t, outcome.Verdict.Violations, 1)
	assert.Equal(t, types.ViolationTimeout, outcome.Verdict.Violations[0].Kind)
	assert.Equal(t, "slow_tests", outcome.Verdict.Violations[0].SuiteID)
}

func TestEngine_Run_ConfigErrorDropsPartialResults(t *testing.T) {
	rep := &recordingReporter{}
	e := newTestEngine(t, &fakeRunner{}, rep)

	outcome, err := e.Run(context.Background(), RunRequest{
		Changes: changes.StaticSource{Paths: []string{"topics/a.md"}},
		SelectRequest: SelectRequest{
			Mode:   types.SelectionModeManual,
			Suites: []string{"does_not_exist"},
		},
	})
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.True(t, types.IsConfigError(err))

	assert.Equal(t, types.PhaseFailed, outcome.Phase)
	assert.Equal(t, types.PhaseFailed, e.Phase())
	assert.Nil(t, outcome.Analysis)
	assert.Nil(t, outcome.Selection)
	assert.Nil(t, outcome.Report)
	assert.Nil(t, outcome.Verdict)
	assert.NotEmpty(t, outcome.Error)
	assert.Empty(t, rep.outcomes, "failed runs are not reported")
}

func TestEngine_Run_ManualWithoutSuites(t *testing.T) {
	e := newTestEngine(t, &fakeRunner{}, nil)
	_, err := e.Run(context.Background(), RunRequest{SelectRequest: SelectRequest{Mode: types.SelectionModeManual}})
	require.Error(t, err)
	assert.True(t, types.IsConfigError(err))
}

func TestEngine_Run_CancelledBeforeAnalysis(t *testing.T) {
	fr := &fakeRunner{}
	e := newTestEngine(t, fr, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := e.Run(ctx, smart("topics/a.md"))
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.PhaseFailed, outcome.Phase)
	assert.Empty(t, fr.invoked())
}

func TestEngine_Run_ReporterErrorKeepsVerdict(t *testing.T) {
	rep := &recordingReporter{err: errors.New("history unavailable")}
	e := newTestEngine(t, &fakeRunner{}, rep)

	outcome, err := e.Run(context.Background(), smart("topics/a.md"))
	require.NoError(t, err)
	assert.True(t, outcome.Passed())
	assert.Equal(t, types.PhaseDone, outcome.Phase)
	assert.Len(t, rep.outcomes, 1)
}

func TestEngine_StagesCompose(t *testing.T) {
	fr := &fakeRunner{}
	e := newTestEngine(t, fr, nil)
	ctx := context.Background()

	analysis, err := e.AnalyzeChanges(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, analysis.Changes.Len())

	sel, err := e.SelectTests(analysis, SelectRequest{Mode: types.SelectionModeSmart})
	require.NoError(t, err)
	assert.True(t, sel.FellBack)
	assert.Equal(t, types.SelectionModeFull, sel.EffectiveMode)

	plan, err := e.PlanExecution(sel)
	require.NoError(t, err)
	assert.Equal(t, 2, plan.MaxParallel)
	assert.Equal(t, 5, plan.Len())

	res, err := e.ExecuteTests(ctx, "", plan)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Len(t, res.Results, 5)
	assert.ElementsMatch(t, plan.SuiteIDs(), res.Planned)

	report := e.AggregateResults(res)
	assert.Equal(t, 5, report.Passed)
	assert.Empty(t, report.Missing)

	verdict := e.EvaluateQualityGates(report)
	assert.True(t, verdict.Passed())
}

func TestEngine_AggregateNilResults(t *testing.T) {
	e := newTestEngine(t, &fakeRunner{}, nil)
	report := e.AggregateResults(nil)
	assert.Equal(t, 0, report.TotalExecuted)
	assert.Equal(t, 0.0, report.SuccessRate)
}

func TestEngine_EnvironmentFromDocument(t *testing.T) {
	e := newTestEngine(t, &fakeRunner{}, nil)
	assert.Equal(t, "test", e.Environment())
	assert.Equal(t, types.PhasePending, e.Phase())
}

func TestNewEngine_RequiresRegistry(t *testing.T) {
	_, err := NewEngine(EngineConfig{})
	require.Error(t, err)
}

func TestEngine_ExecuteTestsHonoursRunID(t *testing.T) {
	e := newTestEngine(t, &fakeRunner{}, nil)
	plan, err := e.PlanExecution(types.Selection{Suites: []string{"lint"}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := e.ExecuteTests(ctx, "run-42", plan)
	require.NoError(t, err)
	assert.Equal(t, "run-42", res.RunID)
}

func TestEngine_ExecuteTests_RejectsPlanOutsideConfig(t *testing.T) {
	tests := []struct {
		name string
		plan types.ExecutionPlan
	}{
		{
			name: "max parallel above max_parallel_suites",
			plan: types.ExecutionPlan{MaxParallel: 4, Waves: []types.Wave{
				{Index: 0, Suites: []string{"unit_tests", "lint", "topic_tests", "e2e_tests"}},
			}},
		},
		{
			name: "wave wider than max parallel",
			plan: types.ExecutionPlan{MaxParallel: 2, Waves: []types.Wave{
				{Index: 0, Suites: []string{"unit_tests", "lint", "topic_tests"}},
			}},
		},
		{
			name: "unknown suite",
			plan: types.ExecutionPlan{MaxParallel: 2, Waves: []types.Wave{
				{Index: 0, Suites: []string{"unit_tests", "not_configured"}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := &fakeRunner{}
			e := newTestEngine(t, fr, nil)

			res, err := e.ExecuteTests(context.Background(), "run-1", tt.plan)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, types.IsConfigError(err))
			assert.Empty(t, fr.invoked(), "no suite starts for a rejected plan")
		})
	}
}

func TestEngine_Run_WritesRunReport(t *testing.T) {
	fr := &fakeRunner{exits: map[string]int{"lint": 1}}
	e := newTestEngine(t, fr, nil)
	e.cfg.RunReport = true

	outcome, err := e.Run(context.Background(), RunRequest{
		SelectRequest: SelectRequest{Mode: types.SelectionModeManual, Suites: []string{"lint"}},
	})
	require.NoError(t, err)
	assert.False(t, outcome.Passed())

	require.Equal(t, logging.RunDirectory(e.cfg.ArtifactDir, outcome.RunID), outcome.ReportDir)
	assert.FileExists(t, filepath.Join(outcome.ReportDir, logging.FailedDirname, "lint.log"))
	assert.FileExists(t, filepath.Join(outcome.ReportDir, logging.AllLogsFilename))

	summary, err := logging.ReadSummary(e.cfg.ArtifactDir, outcome.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictFail, summary.Verdict.Verdict)
	assert.Equal(t, "test", summary.Environment)
	require.NotNil(t, summary.Plan)
	assert.ElementsMatch(t, []string{"lint", "unit_tests"}, summary.Plan.SuiteIDs(), "critical suites are always planned")
	require.NotNil(t, summary.Config)
	assert.Equal(t, types.SelectionModeManual, summary.Config.Selection.RequestedMode)
	assert.Equal(t, []string{"unit_tests"}, summary.Config.QualityGate.CriticalSuites)
	assert.Equal(t, 100*time.Millisecond, summary.Config.Execution.CancelGrace)
}

func TestEngine_Run_ReportFailureKeepsVerdict(t *testing.T) {
	e := newTestEngine(t, &fakeRunner{}, nil)
	e.cfg.RunReport = true
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	e.cfg.ArtifactDir = blocker

	outcome, err := e.Run(context.Background(), RunRequest{
		SelectRequest: SelectRequest{Mode: types.SelectionModeManual, Suites: []string{"unit_tests"}},
	})
	require.NoError(t, err)
	assert.True(t, outcome.Passed())
	assert.Empty(t, outcome.ReportDir)
	assert.Equal(t, types.PhaseDone, outcome.Phase)
}

func TestEngine_ConfigSnapshot(t *testing.T) {
	e := newTestEngine(t, &fakeRunner{}, nil)
	snap := e.ConfigSnapshot("run-9", &types.Selection{
		RequestedMode: types.SelectionModeSmart,
		EffectiveMode: types.SelectionModeFull,
		FellBack:      true,
	})

	assert.Equal(t, "run-9", snap.RunID)
	assert.Equal(t, "test", snap.Environment)
	assert.True(t, snap.Selection.FellBack)
	assert.Equal(t, 75.0, snap.QualityGate.MinSuccessRate)
	assert.Equal(t, 2, snap.QualityGate.MaxParallelSuites)
	assert.Equal(t, e.cfg.ArtifactDir, snap.Paths.ArtifactDir)

	empty := e.ConfigSnapshot("run-10", nil)
	assert.Empty(t, empty.Selection.EffectiveMode)
}
