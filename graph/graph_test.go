package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

func testGraph(t *testing.T) *Graph {
	t.Helper()
	suites := []types.Suite{
		{ID: "unit_tests", Priority: 1},
		{ID: "e2e_tests", Priority: 2, Requires: []string{"unit_tests"}},
		{ID: "topic_tests", Priority: 3},
		{ID: "security_scan", Priority: 0, Critical: true},
		{ID: "smoke", Priority: 2, Requires: []string{"e2e_tests"}},
	}
	components := []Component{
		{Name: "api", Patterns: []string{"services/api/**"}, Suites: []string{"e2e_tests"}},
		{Name: "topics", Patterns: []string{"topics/**/*.go"}, Suites: []string{"topic_tests"}},
		{Name: "docs", Patterns: []string{"**/*.md"}},
	}
	g, err := New(components, suites)
	require.NoError(t, err)
	return g
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name       string
		components []Component
		suites     []types.Suite
		wantErr    string
	}{
		{
			name:    "duplicate suite",
			suites:  []types.Suite{{ID: "a"}, {ID: "a"}},
			wantErr: "duplicate suite id",
		},
		{
			name:    "empty suite id",
			suites:  []types.Suite{{ID: ""}},
			wantErr: "empty id",
		},
		{
			name:    "unknown required suite",
			suites:  []types.Suite{{ID: "a", Requires: []string{"missing"}}},
			wantErr: `suite "a" requires unknown suite "missing"`,
		},
		{
			name:       "component references unknown suite",
			suites:     []types.Suite{{ID: "a"}},
			components: []Component{{Name: "c", Patterns: []string{"x/**"}, Suites: []string{"nope"}}},
			wantErr:    `component "c" references unknown suite "nope"`,
		},
		{
			name:       "invalid glob",
			suites:     []types.Suite{{ID: "a"}},
			components: []Component{{Name: "c", Patterns: []string{"src/[a-"}}},
			wantErr:    "invalid glob pattern",
		},
		{
			name:       "duplicate component",
			suites:     []types.Suite{{ID: "a"}},
			components: []Component{{Name: "c"}, {Name: "c"}},
			wantErr:    "duplicate component name",
		},
		{
			name: "two node cycle",
			suites: []types.Suite{
				{ID: "a", Requires: []string{"b"}},
				{ID: "b", Requires: []string{"a"}},
			},
			wantErr: "dependency cycle: a -> b -> a",
		},
		{
			name: "self cycle",
			suites: []types.Suite{
				{ID: "a", Requires: []string{"a"}},
			},
			wantErr: "dependency cycle: a -> a",
		},
		{
			name: "cycle below an acyclic prefix",
			suites: []types.Suite{
				{ID: "a", Requires: []string{"b"}},
				{ID: "b", Requires: []string{"c"}},
				{ID: "c", Requires: []string{"d"}},
				{ID: "d", Requires: []string{"b"}},
			},
			wantErr: "dependency cycle: b -> c -> d -> b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.components, tt.suites)
			require.Error(t, err)
			assert.Nil(t, g)
			assert.True(t, types.IsConfigError(err), "expected ConfigError, got %T", err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMatch(t *testing.T) {
	g := testGraph(t)

	assert.Equal(t, []string{"api"}, g.Match("services/api/handlers/user.go"))
	assert.Equal(t, []string{"api"}, g.Match("./services/api/main.go"))
	assert.Equal(t, []string{"topics"}, g.Match("topics/kafka/consumer.go"))
	assert.Equal(t, []string{"api", "docs"}, g.Match("services/api/README.md"))
	assert.Empty(t, g.Match("unrelated/file.txt"))
	assert.Empty(t, g.Match(""))
}

func TestClosure(t *testing.T) {
	g := testGraph(t)

	t.Run("transitive requires", func(t *testing.T) {
		got, err := g.Closure([]string{"smoke"})
		require.NoError(t, err)
		assert.Equal(t, []string{"e2e_tests", "smoke", "unit_tests"}, got)
	})

	t.Run("e2e pulls in unit tests", func(t *testing.T) {
		got, err := g.Closure([]string{"e2e_tests"})
		require.NoError(t, err)
		assert.Equal(t, []string{"e2e_tests", "unit_tests"}, got)
	})

	t.Run("fixed point", func(t *testing.T) {
		for _, start := range [][]string{{"smoke"}, {"topic_tests", "e2e_tests"}, {}, g.SuiteIDs()} {
			once, err := g.Closure(start)
			require.NoError(t, err)
			twice, err := g.Closure(once)
			require.NoError(t, err)
			assert.Equal(t, once, twice)
		}
	})

	t.Run("duplicates collapse", func(t *testing.T) {
		got, err := g.Closure([]string{"unit_tests", "unit_tests"})
		require.NoError(t, err)
		assert.Equal(t, []string{"unit_tests"}, got)
	})

	t.Run("unknown suite", func(t *testing.T) {
		_, err := g.Closure([]string{"ghost"})
		require.Error(t, err)
		assert.True(t, types.IsConfigError(err))
	})
}

func TestDirectSuites(t *testing.T) {
	g := testGraph(t)

	got, err := g.DirectSuites([]string{"topics", "api", "docs"})
	require.NoError(t, err)
	assert.Equal(t, []string{"e2e_tests", "topic_tests"}, got)

	_, err = g.DirectSuites([]string{"nope"})
	require.Error(t, err)
}

func TestRank(t *testing.T) {
	g := testGraph(t)

	assert.Less(t, g.Rank("unit_tests"), g.Rank("e2e_tests"))
	assert.Less(t, g.Rank("e2e_tests"), g.Rank("smoke"))
	assert.Equal(t, -1, g.Rank("ghost"))
}

func TestAccessors(t *testing.T) {
	g := testGraph(t)

	assert.Equal(t, []string{"security_scan"}, g.CriticalSuites())
	assert.Equal(t, []string{"api", "docs", "topics"}, g.Components())
	assert.Len(t, g.Suites(), 5)

	s, ok := g.Suite("e2e_tests")
	require.True(t, ok)
	assert.Equal(t, []string{"unit_tests"}, s.Requires)
}
