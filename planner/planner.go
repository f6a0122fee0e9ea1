// Package planner groups selected suites into sequential waves
package planner

import (
	"sort"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// Graph is the view of the dependency graph the planner needs
type Graph interface {
	Suite(id string) (types.Suite, bool)
	Rank(id string) int
}

// Plan orders suites by critical first, then ascending priority, then
// dependency depth, then id, and cuts waves of at most maxParallel suites.
// A wave never mixes (critical, priority) classes, so no suite starts before
// every suite of a class ahead of it has finished.
func Plan(g Graph, suiteIDs []string, maxParallel int) (types.ExecutionPlan, error) {
	if maxParallel < 1 {
		return types.ExecutionPlan{}, types.NewConfigError("quality_gate.max_parallel_suites", "must be at least 1, got %d", maxParallel)
	}

	seen := make(map[string]struct{}, len(suiteIDs))
	suites := make([]types.Suite, 0, len(suiteIDs))
	for _, id := range suiteIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		s, ok := g.Suite(id)
		if !ok {
			return types.ExecutionPlan{}, types.NewConfigError("suites", "cannot plan unknown suite %q", id)
		}
		suites = append(suites, s)
	}

	sort.SliceStable(suites, func(i, j int) bool {
		a, b := suites[i], suites[j]
		if a.Critical != b.Critical {
			return a.Critical
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if ra, rb := g.Rank(a.ID), g.Rank(b.ID); ra != rb {
			return ra < rb
		}
		return a.ID < b.ID
	})

	plan := types.ExecutionPlan{MaxParallel: maxParallel, Waves: []types.Wave{}}
	var current *types.Wave
	for i, s := range suites {
		newClass := i > 0 && (s.Critical != suites[i-1].Critical || s.Priority != suites[i-1].Priority)
		if current == nil || newClass || len(current.Suites) == maxParallel {
			plan.Waves = append(plan.Waves, types.Wave{Index: len(plan.Waves)})
			current = &plan.Waves[len(plan.Waves)-1]
		}
		current.Suites = append(current.Suites, s.ID)
	}
	return plan, nil
}
