// Package graph models the path -> component -> suite mapping as a validated,
// acyclic dependency graph.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gammazero/toposort"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// Component maps a set of path patterns to the suites that cover them
type Component struct {
	Name     string
	Patterns []string
	Suites   []string
}

// Graph is read-only after New returns
type Graph struct {
	components map[string]Component
	names      []string
	suites     map[string]types.Suite
	suiteIDs   []string
	rank       map[string]int
}

// New validates components and suites and builds the graph.
// Every error it returns is a *types.ConfigError.
func New(components []Component, suites []types.Suite) (*Graph, error) {
	g := &Graph{
		components: make(map[string]Component, len(components)),
		suites:     make(map[string]types.Suite, len(suites)),
	}

	for _, s := range suites {
		if s.ID == "" {
			return nil, types.NewConfigError("suites", "suite with empty id")
		}
		if _, dup := g.suites[s.ID]; dup {
			return nil, types.NewConfigError("suites."+s.ID, "duplicate suite id")
		}
		g.suites[s.ID] = s
		g.suiteIDs = append(g.suiteIDs, s.ID)
	}
	sort.Strings(g.suiteIDs)

	for _, c := range components {
		if c.Name == "" {
			return nil, types.NewConfigError("components", "component with empty name")
		}
		field := "components." + c.Name
		if _, dup := g.components[c.Name]; dup {
			return nil, types.NewConfigError(field, "duplicate component name")
		}
		for _, p := range c.Patterns {
			if !doublestar.ValidatePattern(p) {
				return nil, types.NewConfigError(field+".paths", "invalid glob pattern %q", p)
			}
		}
		for _, id := range c.Suites {
			if _, ok := g.suites[id]; !ok {
				return nil, types.NewConfigError(field+".suites", "component %q references unknown suite %q", c.Name, id)
			}
		}
		g.components[c.Name] = c
		g.names = append(g.names, c.Name)
	}
	sort.Strings(g.names)

	for _, id := range g.suiteIDs {
		for _, req := range g.suites[id].Requires {
			if _, ok := g.suites[req]; !ok {
				return nil, types.NewConfigError("suites."+id+".requires", "suite %q requires unknown suite %q", id, req)
			}
		}
	}

	if err := g.checkCycles(); err != nil {
		return nil, err
	}

	rank, err := g.topoRank()
	if err != nil {
		return nil, err
	}
	g.rank = rank

	return g, nil
}

const (
	unvisited = iota
	visiting
	visited
)

// checkCycles walks requires edges depth-first and reports the first cycle found
func (g *Graph) checkCycles() error {
	state := make(map[string]int, len(g.suites))
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visited:
			return nil
		case visiting:
			start := 0
			for i, s := range stack {
				if s == id {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, stack[start:]...), id)
			return types.NewConfigError("suites."+id+".requires", "dependency cycle: %s", strings.Join(cycle, " -> "))
		}

		state[id] = visiting
		stack = append(stack, id)
		for _, req := range g.suites[id].Requires {
			if err := visit(req); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = visited
		return nil
	}

	for _, id := range g.suiteIDs {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// topoRank assigns each suite its dependency depth: zero for suites that
// require nothing, otherwise one more than the deepest suite it requires.
// Depths are filled in topological order so requirements are always known first.
func (g *Graph) topoRank() (map[string]int, error) {
	var edges []toposort.Edge
	for _, id := range g.suiteIDs {
		reqs := g.suites[id].Requires
		if len(reqs) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, req := range reqs {
			edges = append(edges, toposort.Edge{req, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, types.NewConfigError("suites", "dependency cycle: %v", err)
	}

	rank := make(map[string]int, len(g.suiteIDs))
	for _, v := range sorted {
		if v == nil {
			continue
		}
		id := v.(string)
		depth := 0
		for _, req := range g.suites[id].Requires {
			d, ok := rank[req]
			if !ok {
				return nil, fmt.Errorf("suite %q ordered before its requirement %q", id, req)
			}
			if d+1 > depth {
				depth = d + 1
			}
		}
		rank[id] = depth
	}
	if len(rank) != len(g.suiteIDs) {
		return nil, fmt.Errorf("topological order covers %d of %d suites", len(rank), len(g.suiteIDs))
	}
	return rank, nil
}

// Match returns the sorted names of every component with a pattern matching path
func (g *Graph) Match(path string) []string {
	path = types.NormalizePath(path)
	if path == "" {
		return nil
	}
	var matched []string
	for _, name := range g.names {
		for _, p := range g.components[name].Patterns {
			// patterns are validated in New, so Match cannot fail here
			if ok, _ := doublestar.Match(p, path); ok {
				matched = append(matched, name)
				break
			}
		}
	}
	return matched
}

// DirectSuites returns the sorted union of suites mapped directly to the given components
func (g *Graph) DirectSuites(components []string) ([]string, error) {
	set := make(map[string]struct{})
	for _, name := range components {
		c, ok := g.components[name]
		if !ok {
			return nil, fmt.Errorf("unknown component %q", name)
		}
		for _, id := range c.Suites {
			set[id] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

// Closure returns the sorted set of suites reachable from ids via requires edges, ids included.
// Closure is a fixed point: Closure(Closure(s)) == Closure(s).
func (g *Graph) Closure(ids []string) ([]string, error) {
	set := make(map[string]struct{}, len(ids))
	queue := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := g.suites[id]; !ok {
			return nil, types.NewConfigError("suites", "unknown suite %q", id)
		}
		if _, seen := set[id]; !seen {
			set[id] = struct{}{}
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, req := range g.suites[id].Requires {
			if _, seen := set[req]; seen {
				continue
			}
			set[req] = struct{}{}
			queue = append(queue, req)
		}
	}

	return sortedKeys(set), nil
}

// Suite returns a registered suite
func (g *Graph) Suite(id string) (types.Suite, bool) {
	s, ok := g.suites[id]
	return s, ok
}

// SuiteIDs returns every registered suite id, sorted
func (g *Graph) SuiteIDs() []string {
	out := make([]string, len(g.suiteIDs))
	copy(out, g.suiteIDs)
	return out
}

// Suites returns every registered suite sorted by id
func (g *Graph) Suites() []types.Suite {
	out := make([]types.Suite, 0, len(g.suiteIDs))
	for _, id := range g.suiteIDs {
		out = append(out, g.suites[id])
	}
	return out
}

// CriticalSuites returns the sorted ids of suites flagged critical
func (g *Graph) CriticalSuites() []string {
	var out []string
	for _, id := range g.suiteIDs {
		if g.suites[id].Critical {
			out = append(out, id)
		}
	}
	return out
}

// Components returns every component name, sorted
func (g *Graph) Components() []string {
	out := make([]string, len(g.names))
	copy(out, g.names)
	return out
}

// Rank returns the dependency depth of a suite, or -1 if unknown
func (g *Graph) Rank(id string) int {
	r, ok := g.rank[id]
	if !ok {
		return -1
	}
	return r
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
