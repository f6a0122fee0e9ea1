package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/log"
	"github.com/sony/gobreaker"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-gatekeeper/metrics"
	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

var (
	errRetryable   = errors.New("suite attempt is retryable")
	errInfraOutage = errors.New("infrastructure failure")
)

// Slots bounds how many suite attempts run at once
type Slots interface {
	Acquire(ctx context.Context) error
	Release()
}

type unlimitedSlots struct{}

func (unlimitedSlots) Acquire(ctx context.Context) error { return ctx.Err() }
func (unlimitedSlots) Release()                          {}

// ExecutorConfig configures a SuiteExecutor
type ExecutorConfig struct {
	Log         log.Logger
	Runner      SuiteRunner
	Environment string
	// CancelGrace bounds the wait for a timed-out collaborator to acknowledge cancellation.
	CancelGrace time.Duration
	// BreakerThreshold consecutive infrastructure failures open the breaker; zero disables it.
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

// SuiteExecutor runs one suite to a terminal status
type SuiteExecutor struct {
	cfg     ExecutorConfig
	log     log.Logger
	breaker *gobreaker.CircuitBreaker
	tracer  trace.Tracer
}

// NewSuiteExecutor creates a SuiteExecutor
func NewSuiteExecutor(cfg ExecutorConfig) (*SuiteExecutor, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("suite runner is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = DefaultCancelGrace
	}

	e := &SuiteExecutor{
		cfg:    cfg,
		log:    cfg.Log.New("component", "suite-executor"),
		tracer: otel.Tracer("suite executor"),
	}

	if cfg.BreakerThreshold > 0 {
		threshold := cfg.BreakerThreshold
		e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "suite-infrastructure",
			MaxRequests: 1,
			Timeout:     cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				e.log.Warn("Infrastructure circuit breaker changed state", "from", from.String(), "to", to.String())
				metrics.RecordBreakerTransition(to.String())
			},
			// Only infrastructure failures count against the breaker.
			IsSuccessful: func(err error) bool {
				return !errors.Is(err, errInfraOutage)
			},
		})
	}

	return e, nil
}

// attempt is the outcome of a single invocation of the collaborator
type attempt struct {
	status   types.SuiteStatus
	exitCode int
	refs     []string
	detail   string
}

// Execute runs suite until it reaches a terminal status and always returns exactly one result.
// Attempts hold a slot only while the collaborator runs; retry backoff happens with no slot held.
func (e *SuiteExecutor) Execute(ctx context.Context, suite types.Suite, slots Slots) types.SuiteResult {
	if slots == nil {
		slots = unlimitedSlots{}
	}

	ctx, span := e.tracer.Start(ctx, fmt.Sprintf("suite %s", suite.ID))
	defer span.End()

	logger := e.log.New("suite", suite.ID)
	start := time.Now()
	attempts := 0
	var last attempt

	operation := func() error {
		if err := slots.Acquire(ctx); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		last = e.runAttempt(ctx, suite, logger)
		slots.Release()

		if e.shouldRetry(suite, last.status) {
			return fmt.Errorf("%w: %s", errRetryable, last.status)
		}
		return nil
	}

	notify := func(err error, delay time.Duration) {
		metrics.RecordRetry(suite.ID, last.status)
		logger.Warn("Retrying suite",
			"status", last.status,
			"class", classOf(last.status),
			"attempt", attempts,
			"maxRetries", suite.MaxRetryAttempts,
			"delay", delay)
	}

	retryErr := backoff.RetryNotify(operation, backoff.WithContext(e.newBackoff(suite), ctx), notify)

	result := types.SuiteResult{
		SuiteID:    suite.ID,
		StartedAt:  start,
		FinishedAt: time.Now(),
		Attempts:   attempts,
	}
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	if attempts == 0 {
		result.Status = types.SuiteStatusSkipped
		result.Error = fmt.Sprintf("not started: %v", retryErr)
	} else {
		result.Status = last.status
		result.ExitCode = last.exitCode
		result.ArtifactRefs = last.refs
		result.Error = last.detail
	}

	span.SetAttributes(
		attribute.String("suite.status", string(result.Status)),
		attribute.Int("suite.attempts", result.Attempts),
	)
	if result.Status != types.SuiteStatusPassed {
		span.SetStatus(codes.Error, string(result.Status))
	}

	e.logResult(logger, result)
	return result
}

func (e *SuiteExecutor) shouldRetry(suite types.Suite, status types.SuiteStatus) bool {
	switch status {
	case types.SuiteStatusInfraFailure:
		return true
	case types.SuiteStatusFailed:
		return suite.RetryOnFailure
	}
	return false
}

func (e *SuiteExecutor) newBackoff(suite types.Suite) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = suite.RetryBackoff
	exp.Multiplier = suite.BackoffMultiplier
	if exp.Multiplier < 1 {
		exp.Multiplier = 1
	}
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	if exp.MaxInterval < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(suite.MaxRetryAttempts))
}

// runAttempt invokes the collaborator once, through the circuit breaker when enabled
func (e *SuiteExecutor) runAttempt(ctx context.Context, suite types.Suite, logger log.Logger) attempt {
	if e.breaker == nil {
		return e.invoke(ctx, suite, logger)
	}

	var res attempt
	_, err := e.breaker.Execute(func() (interface{}, error) {
		res = e.invoke(ctx, suite, logger)
		if res.status == types.SuiteStatusInfraFailure {
			return nil, errInfraOutage
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return attempt{
			status:   types.SuiteStatusInfraFailure,
			exitCode: -1,
			detail:   fmt.Sprintf("not invoked: %v", err),
		}
	}
	return res
}

type invocation struct {
	outcome Outcome
	err     error
}

// invoke runs the collaborator under the suite deadline. When the deadline
// passes the collaborator is cancelled and given CancelGrace to return.
func (e *SuiteExecutor) invoke(ctx context.Context, suite types.Suite, logger log.Logger) attempt {
	suiteCtx, cancel := context.WithTimeout(ctx, suite.Timeout)
	defer cancel()

	done := make(chan invocation, 1)
	go func() {
		var inv invocation
		var catcher panics.Catcher
		catcher.Try(func() {
			inv.outcome, inv.err = e.cfg.Runner.Execute(suiteCtx, suite, e.cfg.Environment)
		})
		if r := catcher.Recovered(); r != nil {
			inv.err = fmt.Errorf("suite runner panicked: %v", r.Value)
			logger.Error("Suite runner panicked", "panic", r.Value, "stack", string(r.Stack))
		}
		done <- inv
	}()

	select {
	case inv := <-done:
		return e.classify(ctx, suiteCtx, suite, inv)
	case <-suiteCtx.Done():
	}

	// Deadline passed or run cancelled: the collaborator has been signalled via suiteCtx.
	grace := time.NewTimer(e.cfg.CancelGrace)
	defer grace.Stop()
	acknowledged := true
	var inv invocation
	select {
	case inv = <-done:
	case <-grace.C:
		acknowledged = false
		logger.Warn("Suite did not acknowledge cancellation", "grace", e.cfg.CancelGrace)
	}

	if ctx.Err() != nil {
		return attempt{
			status:   types.SuiteStatusInfraFailure,
			exitCode: -1,
			refs:     inv.outcome.ArtifactRefs,
			detail:   fmt.Sprintf("run cancelled: %v", ctx.Err()),
		}
	}

	detail := fmt.Sprintf("timed out after %v", suite.Timeout)
	if !acknowledged {
		detail += " (cancellation not acknowledged)"
	}
	return attempt{
		status:   types.SuiteStatusTimeout,
		exitCode: -1,
		refs:     inv.outcome.ArtifactRefs,
		detail:   detail,
	}
}

func (e *SuiteExecutor) classify(ctx, suiteCtx context.Context, suite types.Suite, inv invocation) attempt {
	out := inv.outcome
	res := attempt{exitCode: out.ExitCode, refs: out.ArtifactRefs}
	failed := inv.err != nil || out.ExitCode != 0 || out.Class == ClassInfrastructure

	// A collaborator that returns just as its context expires still timed out.
	if failed && suiteCtx.Err() != nil {
		if ctx.Err() != nil {
			res.status = types.SuiteStatusInfraFailure
			res.detail = fmt.Sprintf("run cancelled: %v", ctx.Err())
			return res
		}
		res.status = types.SuiteStatusTimeout
		res.detail = fmt.Sprintf("timed out after %v", suite.Timeout)
		return res
	}

	switch {
	case inv.err != nil:
		res.status = types.SuiteStatusInfraFailure
		res.detail = inv.err.Error()
	case out.Class == ClassInfrastructure:
		res.status = types.SuiteStatusInfraFailure
		res.detail = failureDetail(fmt.Sprintf("infrastructure failure (exit code %d)", out.ExitCode), out.Output)
	case out.ExitCode == 0:
		res.status = types.SuiteStatusPassed
	default:
		res.status = types.SuiteStatusFailed
		res.detail = failureDetail(fmt.Sprintf("exit code %d", out.ExitCode), out.Output)
	}
	return res
}

func (e *SuiteExecutor) logResult(logger log.Logger, result types.SuiteResult) {
	fields := []interface{}{
		"status", result.Status,
		"attempts", result.Attempts,
		"duration", result.Duration.Truncate(time.Millisecond),
	}
	switch result.Status {
	case types.SuiteStatusPassed:
		logger.Info("Suite passed", fields...)
	case types.SuiteStatusSkipped:
		logger.Warn("Suite skipped", append(fields, "reason", result.Error)...)
	case types.SuiteStatusInfraFailure:
		logger.Error("Suite infrastructure failure", append(fields, "class", ClassInfrastructure, "error", result.Error)...)
	default:
		logger.Warn("Suite failed", append(fields, "class", ClassTest, "error", result.Error)...)
	}
}

func classOf(status types.SuiteStatus) StatusClass {
	if status == types.SuiteStatusInfraFailure {
		return ClassInfrastructure
	}
	return ClassTest
}
