package types

import "time"

// AggregateReport is derived from a frozen set of SuiteResults and never mutated afterwards
type AggregateReport struct {
	Planned       int                 `json:"planned"`
	TotalExecuted int                 `json:"totalExecuted"`
	Passed        int                 `json:"passed"`
	Failed        int                 `json:"failed"`
	Skipped       int                 `json:"skipped"`
	StatusCounts  map[SuiteStatus]int `json:"statusCounts"`
	// SuccessRate is a percentage rounded to one decimal place.
	SuccessRate float64       `json:"successRate"`
	Duration    time.Duration `json:"duration"`
	StartedAt   time.Time     `json:"startedAt,omitempty"`
	FinishedAt  time.Time     `json:"finishedAt,omitempty"`

	// Suites is the per-suite breakdown sorted by suite id.
	Suites []SuiteResult `json:"suites"`
	// Missing lists planned suites without a result.
	Missing    []string `json:"missing,omitempty"`
	Unplanned  []string `json:"unplanned,omitempty"`
	Incomplete bool     `json:"incomplete"`
}

// Result returns the result recorded for a suite
func (r AggregateReport) Result(suiteID string) (SuiteResult, bool) {
	for _, res := range r.Suites {
		if res.SuiteID == suiteID {
			return res, true
		}
	}
	return SuiteResult{}, false
}

// RunSummary is what a run report renders once a verdict exists
type RunSummary struct {
	RunID       string                   `json:"runId"`
	Environment string                   `json:"environment"`
	Plan        *ExecutionPlan           `json:"plan,omitempty"`
	Report      AggregateReport          `json:"report"`
	Verdict     GateVerdict              `json:"verdict"`
	Config      *EffectiveConfigSnapshot `json:"config,omitempty"`
}

// WaveOf returns the index of the wave that planned suiteID, or -1
func (s RunSummary) WaveOf(suiteID string) int {
	if s.Plan == nil {
		return -1
	}
	for _, w := range s.Plan.Waves {
		for _, id := range w.Suites {
			if id == suiteID {
				return w.Index
			}
		}
	}
	return -1
}

// IsCritical reports whether suiteID is named critical by the gate configuration
func (s RunSummary) IsCritical(suiteID string) bool {
	if s.Config == nil {
		return false
	}
	for _, id := range s.Config.QualityGate.CriticalSuites {
		if id == suiteID {
			return true
		}
	}
	return false
}
