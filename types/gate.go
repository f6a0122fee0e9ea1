package types

import (
	"fmt"
	"time"
)

// QualityGateConfig holds the thresholds a run must meet to pass
type QualityGateConfig struct {
	MinSuccessRate float64  `json:"minSuccessRate"`
	CriticalSuites []string `json:"criticalSuites"`
	// MaxExecutionTime of zero disables the duration check.
	MaxExecutionTime  time.Duration `json:"maxExecutionTime"`
	MaxParallelSuites int           `json:"maxParallelSuites"`
}

// Validate checks the thresholds are within range
func (c QualityGateConfig) Validate() error {
	if c.MinSuccessRate < 0 || c.MinSuccessRate > 100 {
		return fmt.Errorf("min_success_rate %v must be within [0, 100]", c.MinSuccessRate)
	}
	if c.MaxExecutionTime < 0 {
		return fmt.Errorf("max_execution_time %v must not be negative", c.MaxExecutionTime)
	}
	if c.MaxParallelSuites < 1 {
		return fmt.Errorf("max_parallel_suites %d must be at least 1", c.MaxParallelSuites)
	}
	return nil
}

// Verdict is the binary release decision
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictFail Verdict = "FAIL"
)

// ViolationKind identifies which gate condition was violated
type ViolationKind string

const (
	ViolationIncomplete    ViolationKind = "incomplete"
	ViolationSuccessRate   ViolationKind = "success_rate"
	ViolationCriticalSuite ViolationKind = "critical_suite"
	ViolationTimeout       ViolationKind = "timeout"
	ViolationExecutionTime ViolationKind = "execution_time"
)

// Violation is a single failed gate condition
type Violation struct {
	Kind    ViolationKind `json:"kind"`
	SuiteID string        `json:"suiteId,omitempty"`
	Reason  string        `json:"reason"`
}

// GateVerdict is produced once per run. Reasons is never empty on FAIL.
type GateVerdict struct {
	Verdict    Verdict     `json:"verdict"`
	Reasons    []string    `json:"reasons,omitempty"`
	Violations []Violation `json:"violations,omitempty"`
}

// Passed reports whether the verdict is PASS
func (v GateVerdict) Passed() bool {
	return v.Verdict == VerdictPass
}
