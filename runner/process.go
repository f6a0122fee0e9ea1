package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// ProcessConfig configures a ProcessRunner
type ProcessConfig struct {
	Log log.Logger
	// ArtifactDir receives <run id>/<suite id>.log; empty disables log files.
	ArtifactDir string
	RunID       string
	// WorkDir is used for suites that do not set their own.
	WorkDir string
	// KillDelay is how long a suite process gets after the interrupt signal before it is killed.
	KillDelay time.Duration
	TailBytes int
}

// ProcessRunner runs a suite's configured command as a child process
type ProcessRunner struct {
	cfg ProcessConfig
	log log.Logger
}

var _ SuiteRunner = (*ProcessRunner)(nil)

// NewProcessRunner creates a ProcessRunner
func NewProcessRunner(cfg ProcessConfig) *ProcessRunner {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.KillDelay <= 0 {
		cfg.KillDelay = DefaultCancelGrace
	}
	return &ProcessRunner{
		cfg: cfg,
		log: cfg.Log.New("component", "process-runner"),
	}
}

// Execute implements SuiteRunner. Exit codes listed in the suite's
// infrastructure exit codes are classified as infrastructure failures, as is
// any failure to start the process.
func (p *ProcessRunner) Execute(ctx context.Context, suite types.Suite, environment string) (Outcome, error) {
	if len(suite.Command) == 0 {
		return Outcome{Class: ClassInfrastructure}, fmt.Errorf("suite %s has no command configured", suite.ID)
	}

	output := newSuiteOutput(p.cfg.TailBytes)
	var sink io.Writer = output
	var refs []string

	if p.cfg.ArtifactDir != "" {
		logPath := filepath.Join(p.cfg.ArtifactDir, p.cfg.RunID, suite.ID+".log")
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return Outcome{Class: ClassInfrastructure}, fmt.Errorf("creating artifact dir: %w", err)
		}
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return Outcome{Class: ClassInfrastructure}, fmt.Errorf("creating suite log: %w", err)
		}
		defer logFile.Close()
		sink = io.MultiWriter(output, logFile)
		refs = append(refs, logPath)
	}

	cmd := exec.CommandContext(ctx, suite.Command[0], suite.Command[1:]...)
	cmd.Dir = suite.WorkDir
	if cmd.Dir == "" {
		cmd.Dir = p.cfg.WorkDir
	}
	cmd.Env = p.environ(suite, environment)
	cmd.Stdout = sink
	cmd.Stderr = sink
	// Interrupt first so the suite can clean up; WaitDelay escalates to a kill.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = p.cfg.KillDelay

	p.log.Debug("Starting suite process", "suite", suite.ID, "command", suite.Command, "dir", cmd.Dir)

	start := time.Now()
	runErr := cmd.Run()
	out := Outcome{
		Class:        ClassTest,
		ArtifactRefs: refs,
		Duration:     time.Since(start),
		Output:       output.Text(),
	}
	p.log.Debug("Suite process exited", "suite", suite.ID, "duration", out.Duration,
		"outputBytes", output.Written(), "outputDropped", output.Dropped(), "err", runErr)

	if runErr == nil {
		return out, nil
	}

	out.ExitCode = -1
	var exitErr *exec.ExitError
	isExit := errors.As(runErr, &exitErr)
	if isExit {
		out.ExitCode = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		// killed because the deadline passed or the run was cancelled
		return out, ctx.Err()
	}
	if !isExit {
		out.Class = ClassInfrastructure
		return out, fmt.Errorf("running suite %s: %w", suite.ID, runErr)
	}
	if suite.IsInfraExitCode(out.ExitCode) {
		out.Class = ClassInfrastructure
	}
	return out, nil
}

func (p *ProcessRunner) environ(suite types.Suite, environment string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(suite.Env))
	for k := range suite.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+suite.Env[k])
	}
	return append(env,
		EnvSuiteID+"="+suite.ID,
		EnvEnvironment+"="+environment,
		EnvRunID+"="+p.cfg.RunID,
	)
}
