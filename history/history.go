// Package history persists completed runs so trends can be inspected across runs.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// DefaultLimit is how many runs Recent returns when no limit is given
const DefaultLimit = 20

// SuiteRecord is the persisted subset of a SuiteResult
type SuiteRecord struct {
	SuiteID  string
	Status   types.SuiteStatus
	ExitCode int
	Attempts int
	Duration time.Duration
	Error    string
}

// Record is one completed run
type Record struct {
	RunID       string
	Environment string
	Mode        types.SelectionMode
	Verdict     types.Verdict
	Reasons     []string
	Planned     int
	Executed    int
	Passed      int
	Failed      int
	Skipped     int
	SuccessRate float64
	Duration    time.Duration
	CompletedAt time.Time
	Suites      []SuiteRecord
}

// NewRecord builds the history record for a gated run
func NewRecord(runID, environment string, mode types.SelectionMode, report types.AggregateReport, verdict types.GateVerdict, completedAt time.Time) Record {
	rec := Record{
		RunID:       runID,
		Environment: environment,
		Mode:        mode,
		Verdict:     verdict.Verdict,
		Reasons:     append([]string(nil), verdict.Reasons...),
		Planned:     report.Planned,
		Executed:    report.TotalExecuted,
		Passed:      report.Passed,
		Failed:      report.Failed,
		Skipped:     report.Skipped,
		SuccessRate: report.SuccessRate,
		Duration:    report.Duration,
		CompletedAt: completedAt,
	}
	for _, res := range report.Suites {
		rec.Suites = append(rec.Suites, SuiteRecord{
			SuiteID:  res.SuiteID,
			Status:   res.Status,
			ExitCode: res.ExitCode,
			Attempts: res.Attempts,
			Duration: res.Duration,
			Error:    res.Error,
		})
	}
	return rec
}

// Store persists run records
type Store interface {
	// Save writes a run and its suite results. Saving the same run id again replaces it.
	Save(ctx context.Context, rec Record) error
	// Recent returns up to limit runs, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// Open picks a backend from the DSN scheme: sqlite://<path> or postgres://...
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported history DSN %q: expected sqlite:// or postgres://", dsn)
	}
}

const reasonSeparator = "\n"

func joinReasons(reasons []string) string {
	return strings.Join(reasons, reasonSeparator)
}

func splitReasons(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, reasonSeparator)
}
