// Package analyzer maps a ChangeSet to the components it affects
package analyzer

import (
	"sort"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// Matcher resolves a path to component names
type Matcher interface {
	Match(path string) []string
}

// Analysis is the result of analyzing a ChangeSet
type Analysis struct {
	// Components is the sorted union of matched components.
	Components []string            `json:"components"`
	Matches    map[string][]string `json:"matches,omitempty"`
	Unmatched  []string            `json:"unmatched,omitempty"`
}

// Analyze unions the components matched by every changed path.
// A ChangeSet with no matches yields an empty, non-error Analysis.
func Analyze(g Matcher, cs types.ChangeSet) Analysis {
	set := make(map[string]struct{})
	a := Analysis{Matches: make(map[string][]string)}
	for _, p := range cs.Paths() {
		comps := g.Match(p)
		if len(comps) == 0 {
			a.Unmatched = append(a.Unmatched, p)
			continue
		}
		a.Matches[p] = comps
		for _, c := range comps {
			set[c] = struct{}{}
		}
	}

	a.Components = make([]string, 0, len(set))
	for c := range set {
		a.Components = append(a.Components, c)
	}
	sort.Strings(a.Components)
	return a
}
