package reporting

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/ethereum-optimism/infra/op-gatekeeper/templates"
	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

const (
	HTMLResultsTemplate = "results.tmpl.html"
	HTMLResultsFilename = "results.html"
)

//go:embed templates/*
var templateFS embed.FS

// ReportingHTMLSink renders results.html into the run directory once the run has a verdict
type ReportingHTMLSink struct {
	runDir string
	tmpl   *template.Template
}

// NewReportingHTMLSink parses the embedded report template
func NewReportingHTMLSink(runDir string) (*ReportingHTMLSink, error) {
	content, err := templateFS.ReadFile("templates/" + HTMLResultsTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to read HTML template: %w", err)
	}
	tmpl, err := template.New(HTMLResultsTemplate).Funcs(templates.GetTemplateFunc()).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML template: %w", err)
	}
	return &ReportingHTMLSink{runDir: runDir, tmpl: tmpl}, nil
}

// Consume is a no-op; the report is rendered from the summary
func (s *ReportingHTMLSink) Consume(types.SuiteResult) error {
	return nil
}

// Complete renders the HTML report
func (s *ReportingHTMLSink) Complete(summary types.RunSummary) error {
	var buf bytes.Buffer
	if err := s.tmpl.Execute(&buf, NewReportData(summary, s.runDir)); err != nil {
		return fmt.Errorf("failed to render HTML report: %w", err)
	}
	path := filepath.Join(s.runDir, HTMLResultsFilename)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write HTML report: %w", err)
	}
	return nil
}
