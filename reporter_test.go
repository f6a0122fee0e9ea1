package gatekeeper

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-gatekeeper/history"
	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

func TestDefaultRunReporter_SavesHistory(t *testing.T) {
	ctx := context.Background()
	store, err := history.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	outcome := sampleOutcome()
	outcome.Selection = &types.Selection{RequestedMode: types.SelectionModeSmart, EffectiveMode: types.SelectionModeFull, FellBack: true}
	outcome.CompletedAt = time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC)

	reporter := NewDefaultRunReporter(log.New(), store)
	require.NoError(t, reporter.ReportRun(ctx, "staging", outcome))

	recs, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "staging", rec.Environment)
	assert.Equal(t, types.SelectionModeFull, rec.Mode)
	assert.Equal(t, types.VerdictFail, rec.Verdict)
	assert.Equal(t, outcome.Verdict.Reasons, rec.Reasons)
	assert.Equal(t, 50.0, rec.SuccessRate)
	assert.Len(t, rec.Suites, 2)
}

func TestDefaultRunReporter_WithoutHistory(t *testing.T) {
	reporter := NewDefaultRunReporter(nil, nil)
	require.NoError(t, reporter.ReportRun(context.Background(), "dev", sampleOutcome()))
}

func TestDefaultRunReporter_RequiresVerdict(t *testing.T) {
	reporter := NewDefaultRunReporter(log.New(), nil)
	err := reporter.ReportRun(context.Background(), "dev", &RunOutcome{RunID: "x"})
	require.Error(t, err)
	require.Error(t, reporter.ReportRun(context.Background(), "dev", nil))
}

func TestDefaultRunReporter_SaveErrorIsReturned(t *testing.T) {
	ctx := context.Background()
	store, err := history.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reporter := NewDefaultRunReporter(log.New(), store)
	err = reporter.ReportRun(ctx, "dev", sampleOutcome())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run-1")
}
