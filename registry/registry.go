package registry

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-gatekeeper/graph"
	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

const (
	DefaultSuiteTimeout      = 30 * time.Minute
	DefaultRetryBackoff      = 5 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultCancelGrace       = 30 * time.Second
	DefaultMinSuccessRate    = 100.0
	DefaultArtifactDir       = "artifacts"
	DefaultBreakerCooldown   = time.Minute
)

// Registry holds the validated configuration, loaded once at startup and read-only afterwards
type Registry struct {
	config    Config
	graph     *graph.Graph
	gate      types.QualityGateConfig
	execution ExecutionConfig
	mu        sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log        log.Logger
	ConfigFile string
	// DefaultTimeout applies to suites when neither the suite nor the document defaults set one.
	DefaultTimeout time.Duration
}

// ExecutionConfig holds engine-wide execution settings
type ExecutionConfig struct {
	Environment string
	CancelGrace time.Duration
	ArtifactDir string
	// BreakerThreshold of zero disables the infrastructure circuit breaker.
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

// NewRegistry loads and validates the configuration file
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.ConfigFile == "" {
		return nil, fmt.Errorf("config file is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultSuiteTimeout
	}

	doc, err := loadDocument(cfg.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	r := &Registry{config: cfg}
	if err := r.build(doc); err != nil {
		return nil, err
	}

	cfg.Log.Debug("Registry loaded",
		"suites", len(r.graph.SuiteIDs()),
		"components", len(r.graph.Components()),
		"critical", len(r.gate.CriticalSuites))

	return r, nil
}

// FromDocument validates an already decoded document
func FromDocument(cfg Config, doc *Document) (*Registry, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultSuiteTimeout
	}
	r := &Registry{config: cfg}
	if err := r.build(doc); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) build(doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(doc.Suites) == 0 {
		return types.NewConfigError("suites", "at least one suite is required")
	}

	gate, err := resolveQualityGate(doc.QualityGate)
	if err != nil {
		return err
	}
	critical := make(map[string]bool, len(gate.CriticalSuites))
	for _, id := range gate.CriticalSuites {
		critical[id] = true
	}

	suites := make([]types.Suite, 0, len(doc.Suites))
	known := make(map[string]bool, len(doc.Suites))
	for _, sd := range doc.Suites {
		s, err := r.resolveSuite(doc.Defaults, sd)
		if err != nil {
			return err
		}
		// A suite listed in critical_suites is critical everywhere, selection included.
		if critical[s.ID] {
			s.Critical = true
		}
		known[s.ID] = true
		suites = append(suites, s)
	}
	for _, id := range gate.CriticalSuites {
		if !known[id] {
			return types.NewConfigError("quality_gate.critical_suites", "unknown suite %q", id)
		}
	}

	components := make([]graph.Component, 0, len(doc.Components))
	for _, cd := range doc.Components {
		components = append(components, graph.Component{
			Name:     cd.Name,
			Patterns: cd.Paths,
			Suites:   cd.Suites,
		})
	}

	g, err := graph.New(components, suites)
	if err != nil {
		return err
	}

	// Suites flagged critical on their own join the gate's critical list.
	gate.CriticalSuites = g.CriticalSuites()

	exec, err := resolveExecution(doc.Execution)
	if err != nil {
		return err
	}

	r.graph = g
	r.gate = gate
	r.execution = exec
	return nil
}

func (r *Registry) resolveSuite(defaults SuiteDefaults, sd SuiteDoc) (types.Suite, error) {
	field := "suites." + sd.ID
	if sd.ID == "" {
		return types.Suite{}, types.NewConfigError("suites", "suite with empty id")
	}

	s := types.Suite{
		ID:                sd.ID,
		Description:       sd.Description,
		Critical:          sd.Critical,
		RetryOnFailure:    sd.RetryOnFailure,
		Requires:          sd.Requires,
		Command:           sd.Command,
		Env:               sd.Env,
		WorkDir:           sd.WorkDir,
		Priority:          firstInt(sd.Priority, defaults.Priority, 0),
		Timeout:           firstDuration(sd.Timeout, defaults.Timeout, r.config.DefaultTimeout),
		MaxRetryAttempts:  firstInt(sd.MaxRetryAttempts, defaults.MaxRetryAttempts, 0),
		RetryBackoff:      firstDuration(sd.RetryBackoff, defaults.RetryBackoff, DefaultRetryBackoff),
		BackoffMultiplier: firstFloat(sd.BackoffMultiplier, defaults.BackoffMultiplier, DefaultBackoffMultiplier),
		InfraExitCodes:    sd.InfraExitCodes,
	}
	if len(s.InfraExitCodes) == 0 {
		s.InfraExitCodes = defaults.InfraExitCodes
	}

	if s.Timeout <= 0 {
		return s, types.NewConfigError(field+".timeout", "timeout must be positive, got %v", s.Timeout)
	}
	if s.MaxRetryAttempts < 0 {
		return s, types.NewConfigError(field+".max_retry_attempts", "must not be negative, got %d", s.MaxRetryAttempts)
	}
	if s.RetryBackoff < 0 {
		return s, types.NewConfigError(field+".retry_backoff", "must not be negative, got %v", s.RetryBackoff)
	}
	if s.BackoffMultiplier < 1 {
		return s, types.NewConfigError(field+".backoff_multiplier", "must be at least 1, got %v", s.BackoffMultiplier)
	}
	for _, code := range s.InfraExitCodes {
		if code <= 0 || code > 255 {
			return s, types.NewConfigError(field+".infra_exit_codes", "exit code %d out of range [1, 255]", code)
		}
	}
	for _, arg := range s.Command {
		if arg == "" {
			return s, types.NewConfigError(field+".command", "empty command argument")
		}
	}
	return s, nil
}

func resolveQualityGate(doc QualityGateDoc) (types.QualityGateConfig, error) {
	gate := types.QualityGateConfig{
		MinSuccessRate:    DefaultMinSuccessRate,
		CriticalSuites:    doc.CriticalSuites,
		MaxExecutionTime:  doc.MaxExecutionTime,
		MaxParallelSuites: doc.MaxParallelSuites,
	}
	if doc.MinSuccessRate != nil {
		gate.MinSuccessRate = *doc.MinSuccessRate
	}
	if gate.MaxParallelSuites == 0 {
		gate.MaxParallelSuites = 1
	}
	if err := gate.Validate(); err != nil {
		return gate, types.NewConfigError("quality_gate", "%v", err)
	}
	return gate, nil
}

func resolveExecution(doc ExecutionDoc) (ExecutionConfig, error) {
	exec := ExecutionConfig{
		Environment:      doc.Environment,
		CancelGrace:      DefaultCancelGrace,
		ArtifactDir:      doc.ArtifactDir,
		BreakerThreshold: doc.InfraBreaker.ConsecutiveFailures,
		BreakerCooldown:  doc.InfraBreaker.Cooldown,
	}
	if doc.CancelGrace != nil {
		exec.CancelGrace = *doc.CancelGrace
	}
	if exec.CancelGrace < 0 {
		return exec, types.NewConfigError("execution.cancel_grace", "must not be negative, got %v", exec.CancelGrace)
	}
	if exec.ArtifactDir == "" {
		exec.ArtifactDir = DefaultArtifactDir
	}
	if exec.BreakerCooldown < 0 {
		return exec, types.NewConfigError("execution.infra_breaker.cooldown", "must not be negative, got %v", exec.BreakerCooldown)
	}
	if exec.BreakerThreshold > 0 && exec.BreakerCooldown == 0 {
		exec.BreakerCooldown = DefaultBreakerCooldown
	}
	return exec, nil
}

// Graph returns the validated dependency graph
func (r *Registry) Graph() *graph.Graph {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph
}

// QualityGate returns the gate thresholds with critical suites normalized
func (r *Registry) QualityGate() types.QualityGateConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gate := r.gate
	gate.CriticalSuites = append([]string(nil), r.gate.CriticalSuites...)
	return gate
}

// Execution returns the engine-wide execution settings
func (r *Registry) Execution() ExecutionConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.execution
}

// GetConfig returns the registry configuration
func (r *Registry) GetConfig() Config {
	return r.config
}

// loadDocument reads and decodes a configuration file
func loadDocument(path string) (*Document, error) {
	log.Debug("Reading gatekeeper config file", "path", path)

	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseDocument(data, format)
}

func firstInt(suite, defaults *int, fallback int) int {
	if suite != nil {
		return *suite
	}
	if defaults != nil {
		return *defaults
	}
	return fallback
}

func firstDuration(suite, defaults *time.Duration, fallback time.Duration) time.Duration {
	if suite != nil {
		return *suite
	}
	if defaults != nil {
		return *defaults
	}
	return fallback
}

func firstFloat(suite, defaults *float64, fallback float64) float64 {
	if suite != nil {
		return *suite
	}
	if defaults != nil {
		return *defaults
	}
	return fallback
}
