package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

func testStore(t *testing.T) Store {
	t.Helper()
	store, err := Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func sampleRecord(runID string, completed time.Time, verdict types.Verdict) Record {
	report := types.AggregateReport{
		Planned:       2,
		TotalExecuted: 2,
		Passed:        1,
		Failed:        1,
		SuccessRate:   50,
		Duration:      90 * time.Second,
		Suites: []types.SuiteResult{
			{SuiteID: "e2e", Status: types.SuiteStatusFailed, ExitCode: 1, Attempts: 1, Duration: time.Minute, Error: "exit code 1"},
			{SuiteID: "unit", Status: types.SuiteStatusPassed, Attempts: 2, Duration: 30 * time.Second},
		},
	}
	gv := types.GateVerdict{Verdict: verdict}
	if verdict == types.VerdictFail {
		gv.Reasons = []string{"success rate 50.0% is below the minimum 85.0%", "critical suite e2e did not pass: FAILED"}
	}
	return NewRecord(runID, "staging", types.SelectionModeSmart, report, gv, completed)
}

func TestSQLiteStore_SaveAndRecent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, sampleRecord("run-1", t0, types.VerdictFail)))
	require.NoError(t, store.Save(ctx, sampleRecord("run-2", t0.Add(time.Hour), types.VerdictPass)))

	records, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "run-2", records[0].RunID, "newest first")
	assert.Equal(t, types.VerdictPass, records[0].Verdict)
	assert.Nil(t, records[0].Reasons)

	got := records[1]
	assert.Equal(t, sampleRecord("run-1", t0, types.VerdictFail), got)
}

func TestSQLiteStore_Limit(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Save(ctx, sampleRecord(id, t0.Add(time.Duration(i)*time.Minute), types.VerdictPass)))
	}

	records, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].RunID)
	assert.Equal(t, "b", records[1].RunID)
}

func TestSQLiteStore_SaveReplaces(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	rec := sampleRecord("run-1", t0, types.VerdictFail)
	require.NoError(t, store.Save(ctx, rec))

	rec.Verdict = types.VerdictPass
	rec.Reasons = nil
	rec.Suites = rec.Suites[:1]
	require.NoError(t, store.Save(ctx, rec))

	records, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, types.VerdictPass, records[0].Verdict)
	assert.Len(t, records[0].Suites, 1)
}

func TestOpen_UnsupportedDSN(t *testing.T) {
	_, err := Open(context.Background(), "mysql://localhost/db")
	require.Error(t, err)

	_, err = Open(context.Background(), "sqlite://")
	require.Error(t, err)
}
