package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ethereum-optimism/infra/op-gatekeeper/templates"
	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
	"github.com/ethereum-optimism/infra/op-gatekeeper/ui"
)

const (
	SummaryFilename = "summary.log"
	summaryBoxWidth = 72
)

// ReportingTextSummarySink writes summary.log into the run directory
type ReportingTextSummarySink struct {
	runDir string
}

// NewReportingTextSummarySink creates a text summary sink for runDir
func NewReportingTextSummarySink(runDir string) *ReportingTextSummarySink {
	return &ReportingTextSummarySink{runDir: runDir}
}

// Consume is a no-op; the summary is rendered from the run summary
func (s *ReportingTextSummarySink) Consume(types.SuiteResult) error {
	return nil
}

// Complete writes the text summary
func (s *ReportingTextSummarySink) Complete(summary types.RunSummary) error {
	content := FormatTextSummary(NewReportData(summary, s.runDir))
	if err := os.WriteFile(filepath.Join(s.runDir, SummaryFilename), []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write summary file: %w", err)
	}
	return nil
}

// FormatTextSummary renders the verdict box, the suite table and the wave tree
func FormatTextSummary(data ReportData) string {
	var b strings.Builder

	header := []string{
		fmt.Sprintf("Quality gate: %s", data.Verdict.Verdict),
		fmt.Sprintf("Environment:  %s", orDash(data.Environment)),
		fmt.Sprintf("Success rate: %.1f%% (%d/%d passed)", data.Stats.SuccessRate, data.Stats.Passed, data.Stats.TotalExecuted),
		fmt.Sprintf("Duration:     %s", templates.FormatDuration(data.Stats.Duration)),
	}
	for _, reason := range data.Verdict.Reasons {
		header = append(header, "  - "+reason)
	}
	b.WriteString(ui.BuildBox("Run "+data.RunID, header, summaryBoxWidth))
	b.WriteString("\n")

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Suite", "Status", "Attempts", "Exit", "Duration", "Critical"})
	for _, s := range data.Suites {
		critical := ""
		if s.Critical {
			critical = "yes"
		}
		t.AppendRow(table.Row{s.SuiteID, s.Status, s.Attempts, s.ExitCode, templates.FormatDuration(s.Duration), critical})
	}
	for _, id := range data.Missing {
		t.AppendRow(table.Row{id, "missing", "", "", "", ""})
	}
	b.WriteString(t.Render())
	b.WriteString("\n")

	if len(data.Waves) > 0 {
		b.WriteString("\n")
		nodes := make([]ui.Node, 0, len(data.Waves))
		for _, w := range data.Waves {
			node := ui.Node{Label: fmt.Sprintf("wave %d", w.Index)}
			for _, s := range w.Suites {
				status := "not run"
				if s.Status != "" {
					status = s.Status.String()
				}
				node.Children = append(node.Children, ui.Node{Label: fmt.Sprintf("%s [%s]", s.SuiteID, status)})
			}
			nodes = append(nodes, node)
		}
		b.WriteString(ui.RenderTree("Execution plan", nodes))
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
