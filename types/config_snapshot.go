package types

import "time"

// EffectiveConfigSnapshot is the configuration a run actually used, grouped by concern.
type EffectiveConfigSnapshot struct {
	Selection   SelectionConfigSnapshot `json:"selection"`
	QualityGate QualityGateConfig       `json:"qualityGate"`
	Execution   ExecutionConfigSnapshot `json:"execution"`
	Paths       PathsConfigSnapshot     `json:"paths"`

	// Metadata
	Environment string `json:"environment"`
	RunID       string `json:"runId,omitempty"`
}

type SelectionConfigSnapshot struct {
	RequestedMode SelectionMode `json:"requestedMode"`
	EffectiveMode SelectionMode `json:"effectiveMode"`
	FellBack      bool          `json:"fellBack"`
}

type ExecutionConfigSnapshot struct {
	DefaultTimeout   time.Duration `json:"defaultTimeout"`
	CancelGrace      time.Duration `json:"cancelGrace"`
	BreakerThreshold uint32        `json:"breakerThreshold"`
	BreakerCooldown  time.Duration `json:"breakerCooldown"`
	ShowProgress     bool          `json:"showProgress"`
	ProgressInterval time.Duration `json:"progressInterval"`
}

type PathsConfigSnapshot struct {
	ConfigFile  string `json:"configFile"`
	ArtifactDir string `json:"artifactDir"`
}
