package types

import (
	"time"
)

// DefaultInfraExitCode is the exit code a suite process uses to report an
// infrastructure problem rather than a test failure (EX_TEMPFAIL).
const DefaultInfraExitCode = 75

// Suite is a registered, independently executable test suite
type Suite struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	// Priority orders suites; lower runs first.
	Priority int  `json:"priority"`
	Critical bool `json:"critical"`

	Timeout           time.Duration `json:"timeout"`
	MaxRetryAttempts  int           `json:"maxRetryAttempts"`
	RetryBackoff      time.Duration `json:"retryBackoff"`
	BackoffMultiplier float64       `json:"backoffMultiplier"`
	RetryOnFailure    bool          `json:"retryOnFailure,omitempty"`

	// Requires lists suite ids that must run whenever this suite runs.
	Requires []string `json:"requires,omitempty"`

	// Process runner settings
	Command        []string          `json:"command,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	WorkDir        string            `json:"workDir,omitempty"`
	InfraExitCodes []int             `json:"infraExitCodes,omitempty"`
}

// IsInfraExitCode reports whether code signals an infrastructure failure for this suite
func (s Suite) IsInfraExitCode(code int) bool {
	if len(s.InfraExitCodes) == 0 {
		return code == DefaultInfraExitCode
	}
	for _, c := range s.InfraExitCodes {
		if c == code {
			return true
		}
	}
	return false
}

// SuiteStatus is the terminal status of a suite in a run
type SuiteStatus string

const (
	SuiteStatusPassed       SuiteStatus = "PASSED"
	SuiteStatusFailed       SuiteStatus = "FAILED"
	SuiteStatusTimeout      SuiteStatus = "TIMEOUT"
	SuiteStatusSkipped      SuiteStatus = "SKIPPED"
	SuiteStatusInfraFailure SuiteStatus = "INFRA_FAILURE"
)

// AllSuiteStatuses lists every status in reporting order
var AllSuiteStatuses = []SuiteStatus{
	SuiteStatusPassed,
	SuiteStatusFailed,
	SuiteStatusTimeout,
	SuiteStatusSkipped,
	SuiteStatusInfraFailure,
}

// String implements the Stringer interface for SuiteStatus
func (s SuiteStatus) String() string {
	return string(s)
}

// Valid reports whether s is a known status
func (s SuiteStatus) Valid() bool {
	for _, known := range AllSuiteStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsFailure reports whether the status counts as failed in an aggregate report
func (s SuiteStatus) IsFailure() bool {
	return s == SuiteStatusFailed || s == SuiteStatusTimeout || s == SuiteStatusInfraFailure
}

// SuiteResult is the single outcome of one suite in one run.
// A retried suite still has exactly one result, carrying the final attempt's outcome.
type SuiteResult struct {
	SuiteID      string        `json:"suiteId"`
	Status       SuiteStatus   `json:"status"`
	ExitCode     int           `json:"exitCode"`
	Duration     time.Duration `json:"duration"`
	StartedAt    time.Time     `json:"startedAt"`
	FinishedAt   time.Time     `json:"finishedAt"`
	Attempts     int           `json:"attempts"`
	ArtifactRefs []string      `json:"artifactRefs,omitempty"`
	Error        string        `json:"error,omitempty"`
}
