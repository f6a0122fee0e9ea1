package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// Format is the encoding of a configuration document
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the document format from a file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", types.NewConfigError("", "unsupported config file extension %q (want .yaml, .yml or .toml)", filepath.Ext(path))
}

// Document is the declarative configuration as written on disk.
// Optional fields are pointers so that omitted values fall back to defaults.
type Document struct {
	Defaults    SuiteDefaults  `yaml:"defaults" toml:"defaults"`
	Suites      []SuiteDoc     `yaml:"suites" toml:"suites"`
	Components  []ComponentDoc `yaml:"components" toml:"components"`
	QualityGate QualityGateDoc `yaml:"quality_gate" toml:"quality_gate"`
	Execution   ExecutionDoc   `yaml:"execution" toml:"execution"`
}

// SuiteDefaults apply to every suite that does not override them
type SuiteDefaults struct {
	Priority          *int           `yaml:"priority" toml:"priority"`
	Timeout           *time.Duration `yaml:"timeout" toml:"timeout"`
	MaxRetryAttempts  *int           `yaml:"max_retry_attempts" toml:"max_retry_attempts"`
	RetryBackoff      *time.Duration `yaml:"retry_backoff" toml:"retry_backoff"`
	BackoffMultiplier *float64       `yaml:"backoff_multiplier" toml:"backoff_multiplier"`
	InfraExitCodes    []int          `yaml:"infra_exit_codes" toml:"infra_exit_codes"`
}

// SuiteDoc declares one suite
type SuiteDoc struct {
	ID                string            `yaml:"id" toml:"id"`
	Description       string            `yaml:"description" toml:"description"`
	Priority          *int              `yaml:"priority" toml:"priority"`
	Critical          bool              `yaml:"critical" toml:"critical"`
	Timeout           *time.Duration    `yaml:"timeout" toml:"timeout"`
	MaxRetryAttempts  *int              `yaml:"max_retry_attempts" toml:"max_retry_attempts"`
	RetryBackoff      *time.Duration    `yaml:"retry_backoff" toml:"retry_backoff"`
	BackoffMultiplier *float64          `yaml:"backoff_multiplier" toml:"backoff_multiplier"`
	RetryOnFailure    bool              `yaml:"retry_on_failure" toml:"retry_on_failure"`
	Requires          []string          `yaml:"requires" toml:"requires"`
	Command           []string          `yaml:"command" toml:"command"`
	Env               map[string]string `yaml:"env" toml:"env"`
	WorkDir           string            `yaml:"workdir" toml:"workdir"`
	InfraExitCodes    []int             `yaml:"infra_exit_codes" toml:"infra_exit_codes"`
}

// ComponentDoc maps path patterns to suites
type ComponentDoc struct {
	Name   string   `yaml:"name" toml:"name"`
	Paths  []string `yaml:"paths" toml:"paths"`
	Suites []string `yaml:"suites" toml:"suites"`
}

// QualityGateDoc declares the gate thresholds
type QualityGateDoc struct {
	MinSuccessRate    *float64      `yaml:"min_success_rate" toml:"min_success_rate"`
	CriticalSuites    []string      `yaml:"critical_suites" toml:"critical_suites"`
	MaxExecutionTime  time.Duration `yaml:"max_execution_time" toml:"max_execution_time"`
	MaxParallelSuites int           `yaml:"max_parallel_suites" toml:"max_parallel_suites"`
}

// ExecutionDoc declares engine-wide execution settings
type ExecutionDoc struct {
	Environment  string          `yaml:"environment" toml:"environment"`
	CancelGrace  *time.Duration  `yaml:"cancel_grace" toml:"cancel_grace"`
	ArtifactDir  string          `yaml:"artifact_dir" toml:"artifact_dir"`
	InfraBreaker InfraBreakerDoc `yaml:"infra_breaker" toml:"infra_breaker"`
}

// InfraBreakerDoc configures the infrastructure circuit breaker
type InfraBreakerDoc struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" toml:"consecutive_failures"`
	Cooldown            time.Duration `yaml:"cooldown" toml:"cooldown"`
}

// ParseDocument decodes data, rejecting unknown keys
func ParseDocument(data []byte, format Format) (*Document, error) {
	var doc Document
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, types.NewConfigError("", "empty config document")
			}
			return nil, types.NewConfigError("", "parsing yaml: %v", err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &doc)
		if err != nil {
			return nil, types.NewConfigError("", "parsing toml: %v", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			sort.Strings(keys)
			return nil, types.NewConfigError("", "unknown keys: %s", strings.Join(keys, ", "))
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	return &doc, nil
}
