// Package aggregator turns a frozen set of suite results into an AggregateReport.
package aggregator

import (
	"math"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// Aggregator computes AggregateReports. It holds no state between calls.
type Aggregator struct {
	log log.Logger
}

// New creates an Aggregator
func New(logger log.Logger) *Aggregator {
	if logger == nil {
		logger = log.New()
	}
	return &Aggregator{log: logger.New("component", "aggregator")}
}

// Aggregate derives the report for the planned suite ids from results.
// Results for suites that were not planned are ignored. Planned suites with
// no result make the report incomplete.
func (a *Aggregator) Aggregate(planned []string, results []types.SuiteResult) types.AggregateReport {
	plannedSet := make(map[string]struct{}, len(planned))
	for _, id := range planned {
		plannedSet[id] = struct{}{}
	}

	byID := make(map[string]types.SuiteResult, len(results))
	unplanned := make(map[string]struct{})
	for _, res := range results {
		if _, ok := plannedSet[res.SuiteID]; !ok {
			unplanned[res.SuiteID] = struct{}{}
			continue
		}
		if _, dup := byID[res.SuiteID]; dup {
			// keep the first result, as the collector does
			a.log.Warn("Ignoring duplicate suite result", "suite", res.SuiteID, "status", res.Status)
			continue
		}
		byID[res.SuiteID] = res
	}

	report := types.AggregateReport{
		Planned:      len(plannedSet),
		StatusCounts: make(map[types.SuiteStatus]int, len(types.AllSuiteStatuses)),
		Suites:       make([]types.SuiteResult, 0, len(byID)),
	}
	for _, s := range types.AllSuiteStatuses {
		report.StatusCounts[s] = 0
	}

	for id := range plannedSet {
		res, ok := byID[id]
		if !ok {
			report.Missing = append(report.Missing, id)
			continue
		}
		report.Suites = append(report.Suites, res)
	}
	sort.Strings(report.Missing)
	sort.Slice(report.Suites, func(i, j int) bool { return report.Suites[i].SuiteID < report.Suites[j].SuiteID })

	for id := range unplanned {
		report.Unplanned = append(report.Unplanned, id)
	}
	sort.Strings(report.Unplanned)
	if len(report.Unplanned) > 0 {
		a.log.Warn("Ignoring results for suites that were not planned", "suites", report.Unplanned)
	}

	for _, res := range report.Suites {
		report.StatusCounts[res.Status]++
		switch {
		case res.Status == types.SuiteStatusPassed:
			report.Passed++
		case res.Status == types.SuiteStatusSkipped:
			report.Skipped++
		case res.Status.IsFailure():
			report.Failed++
		default:
			a.log.Error("Suite result has unknown status, counting as failed", "suite", res.SuiteID, "status", res.Status)
			report.Failed++
		}
	}
	report.TotalExecuted = report.Passed + report.Failed + report.Skipped
	report.SuccessRate = SuccessRate(report.Passed, report.TotalExecuted)

	report.StartedAt, report.FinishedAt = span(report.Suites)
	if !report.StartedAt.IsZero() {
		report.Duration = report.FinishedAt.Sub(report.StartedAt)
	}

	if len(report.Missing) > 0 {
		report.Incomplete = true
		a.log.Warn("Run is incomplete", "planned", report.Planned, "executed", report.TotalExecuted, "missing", report.Missing)
	}
	return report
}

// SuccessRate is passed/total as a percentage rounded to one decimal place, or 0 when total is 0.
func SuccessRate(passed, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(passed)*1000/float64(total)) / 10
}

// span returns the earliest start and latest finish over results that actually ran
func span(results []types.SuiteResult) (time.Time, time.Time) {
	var start, end time.Time
	for _, res := range results {
		if res.Status == types.SuiteStatusSkipped || res.StartedAt.IsZero() || res.FinishedAt.IsZero() {
			continue
		}
		if start.IsZero() || res.StartedAt.Before(start) {
			start = res.StartedAt
		}
		if end.IsZero() || res.FinishedAt.After(end) {
			end = res.FinishedAt
		}
	}
	return start, end
}
