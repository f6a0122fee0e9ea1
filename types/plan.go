package types

import (
	"fmt"
	"strings"
)

// SelectionMode controls how suites are chosen for a run
type SelectionMode string

const (
	SelectionModeFull   SelectionMode = "FULL"
	SelectionModeSmart  SelectionMode = "SMART"
	SelectionModeManual SelectionMode = "MANUAL"
)

// ParseSelectionMode parses a mode name case-insensitively
func ParseSelectionMode(s string) (SelectionMode, error) {
	switch SelectionMode(strings.ToUpper(strings.TrimSpace(s))) {
	case SelectionModeFull:
		return SelectionModeFull, nil
	case SelectionModeSmart:
		return SelectionModeSmart, nil
	case SelectionModeManual:
		return SelectionModeManual, nil
	}
	return "", fmt.Errorf("unknown selection mode %q (want FULL, SMART or MANUAL)", s)
}

// Selection is the output of the select-tests stage
type Selection struct {
	RequestedMode SelectionMode `json:"requestedMode"`
	EffectiveMode SelectionMode `json:"effectiveMode"`
	// FellBack is set when SMART selection widened to FULL.
	FellBack   bool     `json:"fellBack"`
	Components []string `json:"components,omitempty"`
	Suites     []string `json:"suites"`
}

// Wave is a batch of suites executed concurrently
type Wave struct {
	Index  int      `json:"index"`
	Suites []string `json:"suites"`
}

// ExecutionPlan is the ordered list of waves for a run
type ExecutionPlan struct {
	MaxParallel int    `json:"maxParallel"`
	Waves       []Wave `json:"waves"`
}

// SuiteIDs returns every planned suite id in execution order
func (p ExecutionPlan) SuiteIDs() []string {
	var ids []string
	for _, w := range p.Waves {
		ids = append(ids, w.Suites...)
	}
	return ids
}

// Len returns the number of planned suites
func (p ExecutionPlan) Len() int {
	n := 0
	for _, w := range p.Waves {
		n += len(w.Suites)
	}
	return n
}

// Validate checks a plan against the configured parallelism ceiling and the known suites
func (p ExecutionPlan) Validate(maxParallel int, known func(id string) bool) error {
	if p.MaxParallel < 1 || p.MaxParallel > maxParallel {
		return NewConfigError("plan.maxParallel", "must be within [1, %d] (max_parallel_suites), got %d", maxParallel, p.MaxParallel)
	}
	seen := make(map[string]struct{}, p.Len())
	for i, w := range p.Waves {
		if len(w.Suites) > p.MaxParallel {
			return NewConfigError(fmt.Sprintf("plan.waves[%d]", i), "wave has %d suites, more than the %d allowed in parallel", len(w.Suites), p.MaxParallel)
		}
		for _, id := range w.Suites {
			if _, dup := seen[id]; dup {
				return NewConfigError(fmt.Sprintf("plan.waves[%d]", i), "suite %q is planned more than once", id)
			}
			seen[id] = struct{}{}
			if known != nil && !known(id) {
				return NewConfigError(fmt.Sprintf("plan.waves[%d]", i), "unknown suite %q", id)
			}
		}
	}
	return nil
}
