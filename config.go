package gatekeeper

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-gatekeeper/changes"
	"github.com/ethereum-optimism/infra/op-gatekeeper/flags"
	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

// Config holds the application configuration
type Config struct {
	ConfigFile       string              // Path to the gatekeeper configuration document
	ChangesFile      string              // Changed path list, "-" for stdin
	GitRepo          string              // Repository used when GitBase is set
	GitBase          string              // Base revision of the commit range
	GitHead          string              // Head revision of the commit range
	GitMergeBase     bool                // Diff from the merge base of GitBase and GitHead
	Mode             types.SelectionMode // Suite selection mode
	Suites           []string            // Explicit suite ids for MANUAL mode
	Environment      string              // Overrides the document's environment when set
	ArtifactDir      string              // Overrides the document's artifact directory when set
	DefaultTimeout   time.Duration       // Timeout for suites that set none
	RunInterval      time.Duration       // Interval between runs in monitor mode
	RunOnce          bool                // Indicates if the service should exit after one run
	HistoryDSN       string              // Run history store, empty disables history
	HistoryLimit     int                 // Runs listed by the history command
	HealthzAddr      string              // Healthz listen address in monitor mode
	Metrics          opmetrics.CLIConfig // Metrics server settings
	ShowProgress     bool                // Whether to show periodic progress updates during execution
	ProgressInterval time.Duration       // Interval between progress updates when ShowProgress is 'true'
	RunReport        bool                // Write the per-run report into the artifact directory
	Input            string              // Artifact consumed by a stage command
	Output           string              // Artifact written by a stage command
	Log              log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	absConfig, err := filepath.Abs(ctx.String(flags.ConfigFile.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for config '%s': %w", ctx.String(flags.ConfigFile.Name), err)
	}

	mode, err := types.ParseSelectionMode(ctx.String(flags.Mode.Name))
	if err != nil {
		return nil, err
	}

	var suites []string
	for _, s := range ctx.StringSlice(flags.Suites.Name) {
		if s = strings.TrimSpace(s); s != "" {
			suites = append(suites, s)
		}
	}

	artifactDir := ctx.String(flags.ArtifactDir.Name)
	if artifactDir != "" {
		artifactDir, err = filepath.Abs(artifactDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for artifact directory '%s': %w", artifactDir, err)
		}
	}

	if ctx.String(flags.ChangesFile.Name) != "" && ctx.String(flags.GitBase.Name) != "" {
		return nil, fmt.Errorf("--%s and --%s are mutually exclusive", flags.ChangesFile.Name, flags.GitBase.Name)
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)

	return &Config{
		ConfigFile:       absConfig,
		ChangesFile:      ctx.String(flags.ChangesFile.Name),
		GitRepo:          ctx.String(flags.GitRepo.Name),
		GitBase:          ctx.String(flags.GitBase.Name),
		GitHead:          ctx.String(flags.GitHead.Name),
		GitMergeBase:     ctx.Bool(flags.GitMergeBase.Name),
		Mode:             mode,
		Suites:           suites,
		Environment:      ctx.String(flags.Environment.Name),
		ArtifactDir:      artifactDir,
		DefaultTimeout:   ctx.Duration(flags.DefaultTimeout.Name),
		RunInterval:      runInterval,
		RunOnce:          runInterval == 0,
		HistoryDSN:       ctx.String(flags.HistoryDSN.Name),
		HistoryLimit:     ctx.Int(flags.HistoryLimit.Name),
		HealthzAddr:      ctx.String(flags.HealthzAddr.Name),
		Metrics:          opmetrics.ReadCLIConfig(ctx),
		ShowProgress:     ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval: ctx.Duration(flags.ProgressInterval.Name),
		RunReport:        ctx.Bool(flags.RunReport.Name),
		Input:            ctx.String(flags.Input.Name),
		Output:           ctx.String(flags.Output.Name),
		Log:              log,
	}, nil
}

// ChangeSource returns the configured change input, or nil when none is configured
func (c *Config) ChangeSource() changes.Source {
	switch {
	case c.GitBase != "":
		return changes.GitSource{RepoPath: c.GitRepo, Base: c.GitBase, Head: c.GitHead, MergeBase: c.GitMergeBase}
	case c.ChangesFile != "":
		return changes.FileSource{Path: c.ChangesFile}
	}
	return nil
}
