package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

type suiteMap map[string]types.Suite

func (m suiteMap) Suite(id string) (types.Suite, bool) {
	s, ok := m[id]
	return s, ok
}

func suitesFor(ids ...string) suiteMap {
	m := make(suiteMap, len(ids))
	for _, id := range ids {
		m[id] = testSuite(id)
	}
	return m
}

// trackingRunner records concurrency and the order suites finish in
type trackingRunner struct {
	mu        sync.Mutex
	running   int
	peak      int
	finished  []string
	delay     time.Duration
	exitCodes map[string]int
}

func (r *trackingRunner) Execute(ctx context.Context, suite types.Suite, environment string) (Outcome, error) {
	r.mu.Lock()
	r.running++
	if r.running > r.peak {
		r.peak = r.running
	}
	r.mu.Unlock()

	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
	}

	r.mu.Lock()
	r.running--
	r.finished = append(r.finished, suite.ID)
	r.mu.Unlock()
	return Outcome{ExitCode: r.exitCodes[suite.ID]}, nil
}

func newTestPool(t *testing.T, r SuiteRunner, suites SuiteLookup) *Pool {
	t.Helper()
	exec := newTestExecutor(t, r)
	p, err := NewPool(PoolConfig{Log: log.New(), Executor: exec, Suites: suites})
	require.NoError(t, err)
	return p
}

func TestPool_RunsWavesInOrder(t *testing.T) {
	r := &trackingRunner{delay: 20 * time.Millisecond, exitCodes: map[string]int{"b": 1}}
	plan := types.ExecutionPlan{
		MaxParallel: 2,
		Waves: []types.Wave{
			{Index: 0, Suites: []string{"a", "b"}},
			{Index: 1, Suites: []string{"c", "d"}},
			{Index: 2, Suites: []string{"e"}},
		},
	}

	results, err := newTestPool(t, r, suitesFor("a", "b", "c", "d", "e")).Run(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, results, 5)

	ids := make([]string, 0, len(results))
	for _, res := range results {
		ids = append(ids, res.SuiteID)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids, "frozen results are sorted by suite id")
	assert.Equal(t, types.SuiteStatusFailed, results[1].Status, "a failed suite does not stop later waves")

	// every suite of a wave finishes before any suite of the next wave
	assert.ElementsMatch(t, []string{"a", "b"}, r.finished[:2])
	assert.ElementsMatch(t, []string{"c", "d"}, r.finished[2:4])
	assert.Equal(t, "e", r.finished[4])
	assert.LessOrEqual(t, r.peak, 2)
}

func TestPool_SlotLimit(t *testing.T) {
	r := &trackingRunner{delay: 10 * time.Millisecond}
	ids := []string{"s1", "s2", "s3", "s4", "s5", "s6"}
	plan := types.ExecutionPlan{MaxParallel: 3, Waves: []types.Wave{
		{Index: 0, Suites: ids[:3]},
		{Index: 1, Suites: ids[3:]},
	}}

	results, err := newTestPool(t, r, suitesFor(ids...)).Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Len(t, results, 6)
	assert.LessOrEqual(t, r.peak, 3)
}

func TestPool_RetriesInfraFailure(t *testing.T) {
	var calls atomic.Int32
	r := SuiteRunnerFunc(func(ctx context.Context, suite types.Suite, env string) (Outcome, error) {
		if suite.ID == "infra" && calls.Add(1) == 1 {
			return Outcome{ExitCode: 75, Class: ClassInfrastructure}, nil
		}
		return Outcome{}, nil
	})
	suites := suitesFor("infra", "other")
	infra := suites["infra"]
	infra.MaxRetryAttempts = 1
	infra.RetryBackoff = 50 * time.Millisecond
	suites["infra"] = infra

	plan := types.ExecutionPlan{MaxParallel: 1, Waves: []types.Wave{{Suites: []string{"infra"}}, {Index: 1, Suites: []string{"other"}}}}
	results, err := newTestPool(t, r, suites).Run(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, types.SuiteStatusPassed, results[0].Status)
	assert.Equal(t, 2, results[0].Attempts)
}

func TestPool_CancellationSkipsRemainingWaves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := SuiteRunnerFunc(func(c context.Context, suite types.Suite, env string) (Outcome, error) {
		cancel()
		return Outcome{}, nil
	})
	plan := types.ExecutionPlan{MaxParallel: 1, Waves: []types.Wave{
		{Index: 0, Suites: []string{"first"}},
		{Index: 1, Suites: []string{"second", "third"}},
	}}

	results, err := newTestPool(t, r, suitesFor("first", "second", "third")).Run(ctx, plan)
	require.NoError(t, err)
	require.Len(t, results, 3, "every planned suite gets exactly one result")

	byID := map[string]types.SuiteResult{}
	for _, res := range results {
		byID[res.SuiteID] = res
	}
	assert.NotEqual(t, types.SuiteStatusSkipped, byID["first"].Status, "the in-flight suite ran")
	assert.Equal(t, 1, byID["first"].Attempts)
	assert.Equal(t, types.SuiteStatusSkipped, byID["second"].Status)
	assert.Equal(t, types.SuiteStatusSkipped, byID["third"].Status)
}

func TestPool_Errors(t *testing.T) {
	r := &trackingRunner{}
	p := newTestPool(t, r, suitesFor("a"))

	_, err := p.Run(context.Background(), types.ExecutionPlan{MaxParallel: 0})
	require.Error(t, err)

	_, err = p.Run(context.Background(), types.ExecutionPlan{MaxParallel: 1, Waves: []types.Wave{{Suites: []string{"ghost"}}}})
	require.Error(t, err)

	_, err = NewPool(PoolConfig{})
	require.Error(t, err)
}

func TestPool_EmptyPlan(t *testing.T) {
	results, err := newTestPool(t, &trackingRunner{}, suitesFor()).Run(context.Background(), types.ExecutionPlan{MaxParallel: 1})
	require.NoError(t, err)
	assert.Empty(t, results)
}
