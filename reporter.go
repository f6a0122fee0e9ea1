package gatekeeper

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-gatekeeper/history"
	"github.com/ethereum-optimism/infra/op-gatekeeper/metrics"
	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// RunReporter is notified of every run that reached a verdict
type RunReporter interface {
	ReportRun(ctx context.Context, environment string, outcome *RunOutcome) error
}

// DefaultRunReporter records metrics and, when a history store is configured, persists the run.
type DefaultRunReporter struct {
	log     log.Logger
	history history.Store
}

var _ RunReporter = (*DefaultRunReporter)(nil)

// NewDefaultRunReporter creates a DefaultRunReporter. store may be nil.
func NewDefaultRunReporter(logger log.Logger, store history.Store) *DefaultRunReporter {
	if logger == nil {
		logger = log.New()
	}
	return &DefaultRunReporter{
		log:     logger.New("component", "run-reporter"),
		history: store,
	}
}

// ReportRun implements RunReporter
func (r *DefaultRunReporter) ReportRun(ctx context.Context, environment string, outcome *RunOutcome) error {
	if outcome == nil || outcome.Report == nil || outcome.Verdict == nil {
		return fmt.Errorf("run has no verdict to report")
	}

	for _, res := range outcome.Report.Suites {
		metrics.RecordSuiteResult(environment, res)
	}
	metrics.RecordRun(environment, *outcome.Report, *outcome.Verdict, outcome.CompletedAt)

	if r.history == nil {
		return nil
	}
	var mode types.SelectionMode
	if outcome.Selection != nil {
		mode = outcome.Selection.EffectiveMode
	}
	rec := history.NewRecord(outcome.RunID, environment, mode, *outcome.Report, *outcome.Verdict, outcome.CompletedAt)
	if err := r.history.Save(ctx, rec); err != nil {
		metrics.RecordErrorDetails("history.save", err)
		return fmt.Errorf("saving run %s to history: %w", outcome.RunID, err)
	}
	r.log.Debug("Saved run to history", "runId", outcome.RunID)
	return nil
}

// RecentRuns opens the history store at dsn and returns up to limit runs, newest first.
func RecentRuns(ctx context.Context, dsn string, limit int) ([]history.Record, error) {
	store, err := history.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening run history: %w", err)
	}
	defer store.Close()
	return store.Recent(ctx, limit)
}
