// Package gate evaluates an AggregateReport against the quality gate thresholds.
package gate

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// Evaluator renders gate verdicts
type Evaluator struct {
	log log.Logger
}

// New creates an Evaluator
func New(logger log.Logger) *Evaluator {
	if logger == nil {
		logger = log.New()
	}
	return &Evaluator{log: logger.New("component", "quality-gate")}
}

// Evaluate checks, in order: completeness, success rate, critical suites
// (one reason per suite, by id), timed-out suites (one reason per suite, by id)
// and execution time. Every violated condition is reported.
func (e *Evaluator) Evaluate(report types.AggregateReport, cfg types.QualityGateConfig) types.GateVerdict {
	var violations []types.Violation

	if report.Incomplete {
		violations = append(violations, types.Violation{
			Kind:   types.ViolationIncomplete,
			Reason: fmt.Sprintf("run incomplete: %d of %d planned suites have no result %v", len(report.Missing), report.Planned, report.Missing),
		})
	}

	if report.SuccessRate < cfg.MinSuccessRate {
		violations = append(violations, types.Violation{
			Kind:   types.ViolationSuccessRate,
			Reason: fmt.Sprintf("success rate %.1f%% is below the minimum %.1f%%", report.SuccessRate, cfg.MinSuccessRate),
		})
	}

	for _, id := range sortedUnique(cfg.CriticalSuites) {
		res, ok := report.Result(id)
		switch {
		case !ok:
			violations = append(violations, types.Violation{
				Kind:    types.ViolationCriticalSuite,
				SuiteID: id,
				Reason:  fmt.Sprintf("critical suite %s has no result", id),
			})
		case res.Status != types.SuiteStatusPassed:
			violations = append(violations, types.Violation{
				Kind:    types.ViolationCriticalSuite,
				SuiteID: id,
				Reason:  fmt.Sprintf("critical suite %s did not pass: %s", id, res.Status),
			})
		}
	}

	// A timed-out suite fails the gate whatever the success rate.
	for _, id := range timedOut(report.Suites) {
		violations = append(violations, types.Violation{
			Kind:    types.ViolationTimeout,
			SuiteID: id,
			Reason:  fmt.Sprintf("suite %s timed out", id),
		})
	}

	if cfg.MaxExecutionTime > 0 && report.Duration > cfg.MaxExecutionTime {
		violations = append(violations, types.Violation{
			Kind: types.ViolationExecutionTime,
			Reason: fmt.Sprintf("execution time %v exceeds the maximum %v",
				report.Duration.Truncate(time.Millisecond), cfg.MaxExecutionTime),
		})
	}

	if len(violations) == 0 {
		e.log.Info("Quality gate passed", "successRate", report.SuccessRate, "executed", report.TotalExecuted)
		return types.GateVerdict{Verdict: types.VerdictPass}
	}

	verdict := types.GateVerdict{Verdict: types.VerdictFail, Violations: violations}
	for _, v := range violations {
		verdict.Reasons = append(verdict.Reasons, v.Reason)
	}
	e.log.Warn("Quality gate failed", "violations", len(violations), "reasons", verdict.Reasons)
	return verdict
}
