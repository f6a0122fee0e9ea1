package gatekeeper

import (
	"fmt"
	"time"
)

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func runIDOf(outcome *RunOutcome) string {
	if outcome == nil {
		return "<nil>"
	}
	return outcome.RunID
}
