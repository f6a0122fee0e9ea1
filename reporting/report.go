package reporting

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// ReportSuiteItem is one suite row of a run report
type ReportSuiteItem struct {
	types.SuiteResult
	Critical bool
	// Wave is the planned wave index, -1 when the suite was not planned.
	Wave int
	// LogPaths are relative to the run directory.
	LogPaths []string
}

// ReportWave lists the suites a wave ran with their final statuses
type ReportWave struct {
	Index  int
	Suites []ReportSuiteItem
}

// ReportData contains all the structured data needed for any report format
type ReportData struct {
	RunID       string
	Environment string
	Timestamp   time.Time

	Verdict types.GateVerdict
	Stats   types.AggregateReport
	Config  *types.EffectiveConfigSnapshot

	Suites   []ReportSuiteItem
	Waves    []ReportWave
	Missing  []string
	Critical []ReportSuiteItem
}

// NewReportData flattens a run summary for rendering. Log paths are made relative to runDir where possible.
func NewReportData(summary types.RunSummary, runDir string) ReportData {
	data := ReportData{
		RunID:       summary.RunID,
		Environment: summary.Environment,
		Timestamp:   summary.Report.FinishedAt,
		Verdict:     summary.Verdict,
		Stats:       summary.Report,
		Config:      summary.Config,
		Missing:     summary.Report.Missing,
	}
	if data.Timestamp.IsZero() {
		data.Timestamp = time.Now()
	}

	byID := make(map[string]ReportSuiteItem, len(summary.Report.Suites))
	for _, res := range summary.Report.Suites {
		item := ReportSuiteItem{
			SuiteResult: res,
			Critical:    summary.IsCritical(res.SuiteID),
			Wave:        summary.WaveOf(res.SuiteID),
		}
		for _, ref := range res.ArtifactRefs {
			item.LogPaths = append(item.LogPaths, relativeTo(runDir, ref))
		}
		byID[res.SuiteID] = item
		data.Suites = append(data.Suites, item)
		if item.Critical {
			data.Critical = append(data.Critical, item)
		}
	}
	sort.Slice(data.Suites, func(i, j int) bool { return data.Suites[i].SuiteID < data.Suites[j].SuiteID })

	if summary.Plan != nil {
		for _, w := range summary.Plan.Waves {
			wave := ReportWave{Index: w.Index}
			for _, id := range w.Suites {
				item, ok := byID[id]
				if !ok {
					item = ReportSuiteItem{SuiteResult: types.SuiteResult{SuiteID: id}, Wave: w.Index}
				}
				wave.Suites = append(wave.Suites, item)
			}
			data.Waves = append(data.Waves, wave)
		}
	}
	return data
}

func relativeTo(dir, path string) string {
	if dir == "" {
		return path
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
