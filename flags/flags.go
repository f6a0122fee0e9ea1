package flags

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_GATEKEEPER"

var (
	// ConfigFile is required by every command except history, so it is checked by CheckRequired.
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:   "Path to the gatekeeper configuration document (eg. 'gatekeeper.yaml' or 'gatekeeper.toml')",
	}
	ChangesFile = &cli.StringFlag{
		Name:    "changes-file",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CHANGES_FILE"),
		Usage:   "File listing changed paths, one per line or as JSON. Use '-' for stdin.",
	}
	GitRepo = &cli.StringFlag{
		Name:    "git-repo",
		Value:   ".",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GIT_REPO"),
		Usage:   "Repository to read the changed paths from when --git-base is set",
	}
	GitBase = &cli.StringFlag{
		Name:    "git-base",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GIT_BASE"),
		Usage:   "Base revision of the commit range to diff (eg. 'origin/main')",
	}
	GitHead = &cli.StringFlag{
		Name:    "git-head",
		Value:   "HEAD",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GIT_HEAD"),
		Usage:   "Head revision of the commit range to diff",
	}
	GitMergeBase = &cli.BoolFlag{
		Name:    "git-merge-base",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GIT_MERGE_BASE"),
		Usage:   "Diff against the merge base of --git-base and --git-head instead of --git-base itself",
	}
	Mode = &cli.StringFlag{
		Name:    "mode",
		Value:   "SMART",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MODE"),
		Usage:   "Suite selection mode: FULL, SMART or MANUAL",
		Action: func(ctx *cli.Context, v string) error {
			return validateMode(v)
		},
	}
	Suites = &cli.StringSliceFlag{
		Name:    "suites",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SUITES"),
		Usage:   "Suite ids to run in MANUAL mode (comma separated or repeated)",
	}
	Environment = &cli.StringFlag{
		Name:    "environment",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ENVIRONMENT"),
		Usage:   "Target environment passed to every suite; overrides the configuration document",
	}
	ArtifactDir = &cli.StringFlag{
		Name:    "artifact-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ARTIFACT_DIR"),
		Usage:   "Directory for suite logs; overrides the configuration document",
	}
	DefaultTimeout = &cli.DurationFlag{
		Name:    "default-timeout",
		Value:   30 * time.Minute,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEFAULT_TIMEOUT"),
		Usage:   "Timeout for suites that set none, in the suite or in the document defaults",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between runs in monitor mode (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	HistoryDSN = &cli.StringFlag{
		Name:    "history-dsn",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HISTORY_DSN"),
		Usage:   "Run history store: 'sqlite://<path>' or 'postgres://...'. Empty disables history.",
	}
	HistoryLimit = &cli.IntFlag{
		Name:    "history-limit",
		Value:   20,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HISTORY_LIMIT"),
		Usage:   "Number of runs the history command lists",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz-addr",
		Value:   "0.0.0.0:8080",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Listen address of the healthz server in monitor mode",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_PROGRESS"),
		Usage:   "Periodically log which suites are running",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between progress updates when --show-progress is set",
	}
	RunReport = &cli.BoolFlag{
		Name:    "run-report",
		Value:   true,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_REPORT"),
		Usage:   "Write summary.log, results.html and collected suite logs into the run's artifact directory",
	}
	Input = &cli.StringFlag{
		Name:    "in",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "IN"),
		Usage:   "Artifact produced by the previous stage. Use '-' for stdin.",
	}
	Output = &cli.StringFlag{
		Name:    "out",
		Value:   "-",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OUT"),
		Usage:   "Where to write this stage's artifact. '-' writes to stdout.",
	}
)

var requiredFlags = []cli.Flag{
	ConfigFile,
}

var optionalFlags = []cli.Flag{
	ChangesFile,
	GitRepo,
	GitBase,
	GitHead,
	GitMergeBase,
	Mode,
	Suites,
	Environment,
	ArtifactDir,
	DefaultTimeout,
	RunInterval,
	HistoryDSN,
	HistoryLimit,
	HealthzAddr,
	ShowProgress,
	ProgressInterval,
	RunReport,
	Input,
	Output,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func validateMode(v string) error {
	switch strings.ToUpper(v) {
	case "FULL", "SMART", "MANUAL":
		return nil
	}
	return fmt.Errorf("mode must be one of FULL, SMART or MANUAL, got %q", v)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
