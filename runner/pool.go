package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// SuiteLookup resolves planned suite ids
type SuiteLookup interface {
	Suite(id string) (types.Suite, bool)
}

// PoolConfig configures a Pool
type PoolConfig struct {
	Log      log.Logger
	Executor *SuiteExecutor
	Suites   SuiteLookup
	Progress ProgressIndicator
}

// Pool executes an ExecutionPlan wave by wave. Within a wave suites run
// concurrently, bounded by the plan's MaxParallel slots; wave N+1 starts only
// after every suite of wave N is terminal.
type Pool struct {
	cfg    PoolConfig
	log    log.Logger
	tracer trace.Tracer
}

// NewPool creates a Pool
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Suites == nil {
		return nil, fmt.Errorf("suite lookup is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.Progress == nil {
		cfg.Progress = NewNoOpProgressIndicator()
	}
	return &Pool{
		cfg:    cfg,
		log:    cfg.Log.New("component", "wave-pool"),
		tracer: otel.Tracer("wave pool"),
	}, nil
}

type semaphoreSlots struct {
	sem *semaphore.Weighted
}

func (s semaphoreSlots) Acquire(ctx context.Context) error { return s.sem.Acquire(ctx, 1) }
func (s semaphoreSlots) Release()                          { s.sem.Release(1) }

// Run executes plan and returns the frozen results, one per planned suite.
// When ctx is cancelled the suites of waves that have not started are recorded as SKIPPED.
func (p *Pool) Run(ctx context.Context, plan types.ExecutionPlan) ([]types.SuiteResult, error) {
	if plan.MaxParallel < 1 {
		return nil, fmt.Errorf("plan max parallel must be at least 1, got %d", plan.MaxParallel)
	}
	suites := make(map[string]types.Suite, plan.Len())
	for _, id := range plan.SuiteIDs() {
		s, ok := p.cfg.Suites.Suite(id)
		if !ok {
			return nil, fmt.Errorf("plan references unknown suite %q", id)
		}
		suites[id] = s
	}

	slots := semaphoreSlots{sem: semaphore.NewWeighted(int64(plan.MaxParallel))}
	collector := NewCollector(p.log, plan.Len())

	p.cfg.Progress.StartRun(len(plan.Waves), plan.Len())
	p.log.Info("Starting suite execution", "waves", len(plan.Waves), "suites", plan.Len(), "maxParallel", plan.MaxParallel)

	for _, wave := range plan.Waves {
		if err := ctx.Err(); err != nil {
			p.skipWave(collector, wave, err)
			continue
		}
		p.runWave(ctx, wave, suites, slots, collector)
	}

	results := collector.Freeze()
	p.log.Info("Suite execution finished", "results", len(results))
	return results, nil
}

func (p *Pool) runWave(ctx context.Context, wave types.Wave, suites map[string]types.Suite, slots Slots, collector *Collector) {
	ctx, span := p.tracer.Start(ctx, fmt.Sprintf("wave %d", wave.Index))
	defer span.End()
	span.SetAttributes(attribute.Int("wave.size", len(wave.Suites)))

	start := time.Now()
	p.cfg.Progress.StartWave(wave.Index, len(wave.Suites))

	// Units never return an error: a failed suite must not cancel its siblings.
	var g errgroup.Group
	for _, id := range wave.Suites {
		suite := suites[id]
		g.Go(func() error {
			p.cfg.Progress.StartSuite(suite.ID)
			res := p.cfg.Executor.Execute(ctx, suite, slots)
			p.cfg.Progress.CompleteSuite(suite.ID, res.Status)
			if err := collector.Add(res); err != nil {
				p.log.Error("Failed to record suite result", "suite", suite.ID, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	p.cfg.Progress.CompleteWave(wave.Index)
	p.log.Debug("Wave complete", "wave", wave.Index, "duration", time.Since(start))
}

func (p *Pool) skipWave(collector *Collector, wave types.Wave, cause error) {
	for _, id := range wave.Suites {
		res := types.SuiteResult{
			SuiteID: id,
			Status:  types.SuiteStatusSkipped,
			Error:   fmt.Sprintf("not started: %v", cause),
		}
		if err := collector.Add(res); err != nil {
			p.log.Error("Failed to record skipped suite", "suite", id, "err", err)
		}
	}
	p.log.Warn("Skipped wave after cancellation", "wave", wave.Index, "suites", len(wave.Suites))
}
