package runner

import (
	"context"
	"time"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// StatusClass tells an ordinary test failure apart from a runner/infrastructure failure
type StatusClass string

const (
	ClassTest           StatusClass = "test"
	ClassInfrastructure StatusClass = "infrastructure"
)

// Outcome is what a SuiteRunner reports for one attempt
type Outcome struct {
	ExitCode     int
	Class        StatusClass
	ArtifactRefs []string
	Duration     time.Duration
	// Output is an optional tail of the suite's output, used as error detail.
	Output string
}

// SuiteRunner runs one suite once. A returned error is an infrastructure failure.
// Implementations must return promptly once ctx is cancelled.
type SuiteRunner interface {
	Execute(ctx context.Context, suite types.Suite, environment string) (Outcome, error)
}

// SuiteRunnerFunc adapts a function to SuiteRunner
type SuiteRunnerFunc func(ctx context.Context, suite types.Suite, environment string) (Outcome, error)

// Execute implements SuiteRunner
func (f SuiteRunnerFunc) Execute(ctx context.Context, suite types.Suite, environment string) (Outcome, error) {
	return f(ctx, suite, environment)
}
