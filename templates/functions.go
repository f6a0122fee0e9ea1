package templates

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// GetTemplateFunc returns the template functions shared by the run reports
func GetTemplateFunc() template.FuncMap {
	return template.FuncMap{
		"formatDuration": FormatDuration,
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.UTC().Format(time.RFC3339)
		},
		"getStatusClass": StatusClass,
		"getVerdictClass": func(v types.Verdict) string {
			if v == types.VerdictPass {
				return "pass"
			}
			return "fail"
		},
		"percent": func(rate float64) string {
			return fmt.Sprintf("%.1f%%", rate)
		},
		"join": strings.Join,
	}
}

// FormatDuration renders sub-second durations in milliseconds
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

// StatusClass returns the lowercase class name for a suite status
func StatusClass(status types.SuiteStatus) string {
	switch status {
	case types.SuiteStatusPassed:
		return "pass"
	case types.SuiteStatusFailed:
		return "fail"
	case types.SuiteStatusTimeout:
		return "timeout"
	case types.SuiteStatusSkipped:
		return "skip"
	case types.SuiteStatusInfraFailure:
		return "infra"
	default:
		return "unknown"
	}
}
