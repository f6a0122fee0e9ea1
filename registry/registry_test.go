package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

const validYAML = `
defaults:
  timeout: 20m
  max_retry_attempts: 2
  retry_backoff: 1s
suites:
  - id: unit_tests
    priority: 1
    command: ["go", "test", "./..."]
  - id: e2e_tests
    priority: 2
    timeout: 45m
    requires: [unit_tests]
    infra_exit_codes: [75, 76]
  - id: security_scan
    critical: true
    max_retry_attempts: 0
  - id: topic_tests
    priority: 3
    retry_on_failure: true
components:
  - name: api
    paths: ["services/api/**"]
    suites: [e2e_tests]
  - name: topics
    paths: ["topics/**"]
    suites: [topic_tests]
quality_gate:
  min_success_rate: 85
  critical_suites: [unit_tests]
  max_execution_time: 2h
  max_parallel_suites: 4
execution:
  environment: staging
  cancel_grace: 10s
  infra_breaker:
    consecutive_failures: 3
`

const validTOML = `
[defaults]
timeout = "20m"
max_retry_attempts = 2
retry_backoff = "1s"

[[suites]]
id = "unit_tests"
priority = 1
command = ["go", "test", "./..."]

[[suites]]
id = "e2e_tests"
priority = 2
timeout = "45m"
requires = ["unit_tests"]
infra_exit_codes = [75, 76]

[[suites]]
id = "security_scan"
critical = true
max_retry_attempts = 0

[[suites]]
id = "topic_tests"
priority = 3
retry_on_failure = true

[[components]]
name = "api"
paths = ["services/api/**"]
suites = ["e2e_tests"]

[[components]]
name = "topics"
paths = ["topics/**"]
suites = ["topic_tests"]

[quality_gate]
min_success_rate = 85.0
critical_suites = ["unit_tests"]
max_execution_time = "2h"
max_parallel_suites = 4

[execution]
environment = "staging"
cancel_grace = "10s"

[execution.infra_breaker]
consecutive_failures = 3
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewRegistry(t *testing.T) {
	for _, tc := range []struct {
		name    string
		file    string
		content string
	}{
		{name: "yaml", file: "gatekeeper.yaml", content: validYAML},
		{name: "toml", file: "gatekeeper.toml", content: validTOML},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r, err := NewRegistry(Config{
				Log:        log.New(),
				ConfigFile: writeConfig(t, tc.file, tc.content),
			})
			require.NoError(t, err)

			g := r.Graph()
			assert.Equal(t, []string{"e2e_tests", "security_scan", "topic_tests", "unit_tests"}, g.SuiteIDs())
			assert.Equal(t, []string{"api", "topics"}, g.Components())

			unit, ok := g.Suite("unit_tests")
			require.True(t, ok)
			assert.True(t, unit.Critical, "critical_suites entries are normalized to critical")
			assert.Equal(t, 20*time.Minute, unit.Timeout)
			assert.Equal(t, 2, unit.MaxRetryAttempts)
			assert.Equal(t, time.Second, unit.RetryBackoff)
			assert.Equal(t, DefaultBackoffMultiplier, unit.BackoffMultiplier)
			assert.Equal(t, []string{"go", "test", "./..."}, unit.Command)

			e2e, _ := g.Suite("e2e_tests")
			assert.Equal(t, 45*time.Minute, e2e.Timeout)
			assert.Equal(t, []int{75, 76}, e2e.InfraExitCodes)

			scan, _ := g.Suite("security_scan")
			assert.Equal(t, 0, scan.MaxRetryAttempts)
			assert.Equal(t, 0, scan.Priority)

			topic, _ := g.Suite("topic_tests")
			assert.True(t, topic.RetryOnFailure)

			gate := r.QualityGate()
			assert.Equal(t, 85.0, gate.MinSuccessRate)
			assert.Equal(t, 2*time.Hour, gate.MaxExecutionTime)
			assert.Equal(t, 4, gate.MaxParallelSuites)
			assert.Equal(t, []string{"security_scan", "unit_tests"}, gate.CriticalSuites)

			exec := r.Execution()
			assert.Equal(t, "staging", exec.Environment)
			assert.Equal(t, 10*time.Second, exec.CancelGrace)
			assert.Equal(t, DefaultArtifactDir, exec.ArtifactDir)
			assert.Equal(t, uint32(3), exec.BreakerThreshold)
			assert.Equal(t, DefaultBreakerCooldown, exec.BreakerCooldown)
		})
	}
}

func TestNewRegistry_Defaults(t *testing.T) {
	r, err := NewRegistry(Config{
		ConfigFile:     writeConfig(t, "min.yml", "suites:\n  - id: only\n"),
		DefaultTimeout: time.Minute,
	})
	require.NoError(t, err)

	s, ok := r.Graph().Suite("only")
	require.True(t, ok)
	assert.Equal(t, time.Minute, s.Timeout)
	assert.Equal(t, DefaultRetryBackoff, s.RetryBackoff)

	gate := r.QualityGate()
	assert.Equal(t, DefaultMinSuccessRate, gate.MinSuccessRate)
	assert.Equal(t, 1, gate.MaxParallelSuites)
	assert.Zero(t, gate.MaxExecutionTime)
	assert.Equal(t, DefaultCancelGrace, r.Execution().CancelGrace)
	assert.Zero(t, r.Execution().BreakerThreshold)
}

func TestNewRegistry_ConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		config  string
		wantErr string
	}{
		{
			name:    "no suites",
			config:  "components: []\n",
			wantErr: "at least one suite is required",
		},
		{
			name:    "empty document",
			config:  "",
			wantErr: "empty config document",
		},
		{
			name:    "unknown yaml key",
			config:  "suites:\n  - id: a\n    prio: 1\n",
			wantErr: "prio",
		},
		{
			name:    "unknown toml key",
			file:    "c.toml",
			config:  "[[suites]]\nid = \"a\"\nbogus = true\n",
			wantErr: "unknown keys: suites.bogus",
		},
		{
			name:    "cycle",
			config:  "suites:\n  - id: a\n    requires: [b]\n  - id: b\n    requires: [a]\n",
			wantErr: "dependency cycle: a -> b -> a",
		},
		{
			name:    "unknown requires",
			config:  "suites:\n  - id: a\n    requires: [ghost]\n",
			wantErr: `requires unknown suite "ghost"`,
		},
		{
			name:    "unknown critical suite",
			config:  "suites:\n  - id: a\nquality_gate:\n  critical_suites: [ghost]\n",
			wantErr: "quality_gate.critical_suites",
		},
		{
			name:    "invalid glob",
			config:  "suites:\n  - id: a\ncomponents:\n  - name: c\n    paths: [\"src/[z\"]\n",
			wantErr: "invalid glob pattern",
		},
		{
			name:    "success rate out of range",
			config:  "suites:\n  - id: a\nquality_gate:\n  min_success_rate: 120\n",
			wantErr: "min_success_rate",
		},
		{
			name:    "negative parallelism",
			config:  "suites:\n  - id: a\nquality_gate:\n  max_parallel_suites: -2\n",
			wantErr: "max_parallel_suites",
		},
		{
			name:    "negative retries",
			config:  "suites:\n  - id: a\n    max_retry_attempts: -1\n",
			wantErr: "suites.a.max_retry_attempts",
		},
		{
			name:    "zero timeout",
			config:  "suites:\n  - id: a\n    timeout: 0s\n",
			wantErr: "suites.a.timeout",
		},
		{
			name:    "multiplier below one",
			config:  "suites:\n  - id: a\n    backoff_multiplier: 0.5\n",
			wantErr: "backoff_multiplier",
		},
		{
			name:    "infra exit code zero",
			config:  "suites:\n  - id: a\n    infra_exit_codes: [0]\n",
			wantErr: "infra_exit_codes",
		},
		{
			name:    "duplicate suite",
			config:  "suites:\n  - id: a\n  - id: a\n",
			wantErr: "duplicate suite id",
		},
		{
			name:    "unsupported extension",
			file:    "c.json",
			config:  "{}",
			wantErr: "unsupported config file extension",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := tt.file
			if file == "" {
				file = "gatekeeper.yaml"
			}
			_, err := NewRegistry(Config{ConfigFile: writeConfig(t, file, tt.config)})
			require.Error(t, err)
			assert.True(t, types.IsConfigError(err), "expected ConfigError, got %v", err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewRegistry_MissingFile(t *testing.T) {
	_, err := NewRegistry(Config{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
	assert.False(t, types.IsConfigError(err))

	_, err = NewRegistry(Config{})
	require.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	f, err := FormatFromPath("a/b/c.YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	f, err = FormatFromPath("c.toml")
	require.NoError(t, err)
	assert.Equal(t, FormatTOML, f)
}

func TestNewRegistry_ExampleConfigs(t *testing.T) {
	for _, name := range []string{"gatekeeper.yaml", "gatekeeper.toml"} {
		t.Run(name, func(t *testing.T) {
			r, err := NewRegistry(Config{ConfigFile: filepath.Join("..", "testdata", name), Log: log.New()})
			require.NoError(t, err)

			unit, ok := r.Graph().Suite("unit_tests")
			require.True(t, ok)
			assert.True(t, unit.Critical)
			assert.Equal(t, 30*time.Minute, unit.Timeout)
			assert.Equal(t, 1, unit.MaxRetryAttempts)
			assert.Equal(t, []int{75}, unit.InfraExitCodes)

			integration, ok := r.Graph().Suite("integration_tests")
			require.True(t, ok)
			assert.Equal(t, 45*time.Minute, integration.Timeout)
			assert.Equal(t, []string{"unit_tests"}, integration.Requires)

			gate := r.QualityGate()
			assert.Equal(t, 95.0, gate.MinSuccessRate)
			assert.Equal(t, 2*time.Hour, gate.MaxExecutionTime)
			assert.Equal(t, 3, gate.MaxParallelSuites)
			assert.ElementsMatch(t, []string{"security_scan", "unit_tests"}, gate.CriticalSuites)

			assert.Equal(t, "staging", r.Execution().Environment)
			assert.Equal(t, "artifacts", r.Execution().ArtifactDir)
		})
	}
}
