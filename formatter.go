package gatekeeper

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-gatekeeper/history"
	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// ResultFormatter is responsible for formatting and displaying run outcomes.
type ResultFormatter interface {
	FormatOutcome(outcome *RunOutcome) error
}

// ConsoleResultFormatter renders outcomes as tables.
type ConsoleResultFormatter struct {
	logger log.Logger
	out    io.Writer
	// Style enables the colored table styles; plain output is used otherwise.
	Style bool
}

var _ ResultFormatter = (*ConsoleResultFormatter)(nil)

// NewConsoleResultFormatter creates a formatter writing to out, or stdout when out is nil.
func NewConsoleResultFormatter(logger log.Logger, out io.Writer) *ConsoleResultFormatter {
	if logger == nil {
		logger = log.New()
	}
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleResultFormatter{logger: logger, out: out, Style: out == os.Stdout}
}

// FormatOutcome prints the per-suite results, the totals and the gate verdict.
func (f *ConsoleResultFormatter) FormatOutcome(outcome *RunOutcome) error {
	if outcome == nil || outcome.Report == nil {
		return fmt.Errorf("run %s has no report to format", runIDOf(outcome))
	}
	report := outcome.Report

	t := table.NewWriter()
	t.SetOutputMirror(f.out)
	t.SetTitle(fmt.Sprintf("Gatekeeper Results %s (%s)", outcome.RunID, formatDuration(report.Duration)))

	t.AppendHeader(table.Row{
		"Suite", "Duration", "Attempts", "Exit", "Status", "Error",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Suite", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Attempts", Align: text.AlignRight},
		{Name: "Exit", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, res := range report.Suites {
		t.AppendRow(table.Row{
			res.SuiteID,
			formatDuration(res.Duration),
			res.Attempts,
			res.ExitCode,
			getResultString(res.Status),
			firstLine(res.Error),
		})
	}
	for _, id := range report.Missing {
		t.AppendRow(table.Row{id, "-", 0, "-", "? missing", "no result recorded"})
	}

	if f.Style {
		if outcome.Passed() {
			t.SetStyle(table.StyleColoredBlackOnGreenWhite)
		} else {
			t.SetStyle(table.StyleColoredBlackOnRedWhite)
		}
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		formatDuration(report.Duration),
		"",
		"",
		fmt.Sprintf("%d/%d passed", report.Passed, report.TotalExecuted),
		fmt.Sprintf("success rate %.1f%%", report.SuccessRate),
	})
	t.Render()

	verdict := "no verdict"
	if outcome.Verdict != nil {
		verdict = string(outcome.Verdict.Verdict)
	}
	fmt.Fprintf(f.out, "Quality gate: %s\n", verdict)
	if outcome.Verdict != nil {
		for _, reason := range outcome.Verdict.Reasons {
			fmt.Fprintf(f.out, "  - %s\n", reason)
		}
	}
	if outcome.ReportDir != "" {
		fmt.Fprintf(f.out, "Run report: %s\n", outcome.ReportDir)
	}
	return nil
}

// FormatHistory prints one row per recorded run, newest first.
func (f *ConsoleResultFormatter) FormatHistory(records []history.Record) {
	t := table.NewWriter()
	t.SetOutputMirror(f.out)
	t.SetTitle("Gatekeeper Run History")
	t.AppendHeader(table.Row{
		"Run", "Completed", "Environment", "Mode", "Executed", "Passed", "Failed", "Skipped", "Rate", "Duration", "Verdict",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Executed", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Rate", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
	})
	for _, rec := range records {
		t.AppendRow(table.Row{
			rec.RunID,
			rec.CompletedAt.Format("2006-01-02 15:04:05"),
			rec.Environment,
			rec.Mode,
			rec.Executed,
			rec.Passed,
			rec.Failed,
			rec.Skipped,
			fmt.Sprintf("%.1f%%", rec.SuccessRate),
			formatDuration(rec.Duration),
			rec.Verdict,
		})
	}
	if f.Style {
		t.SetStyle(table.StyleLight)
	}
	t.Render()
}

// getResultString returns a short marker for a suite status
func getResultString(status types.SuiteStatus) string {
	switch status {
	case types.SuiteStatusPassed:
		return "✓ passed"
	case types.SuiteStatusSkipped:
		return "- skipped"
	case types.SuiteStatusTimeout:
		return "⏱ timeout"
	case types.SuiteStatusInfraFailure:
		return "! infra"
	default:
		return "✗ failed"
	}
}

func firstLine(s string) string {
	if idx := strings.Index(s, "\n"); idx != -1 {
		return s[:idx]
	}
	return s
}
