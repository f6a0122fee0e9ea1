// Package exitcodes defines the exit codes op-gatekeeper reports to the invoking pipeline.
package exitcodes

// These constants define the exit codes that the application uses to indicate
// the outcome of a run:
//
// * Success (0): the quality gate passed, or a stage command completed
// * GateFailure (1): the quality gate verdict is FAIL
// * RuntimeErr (2): configuration errors, unreadable input or any other failure to reach a verdict
const (
	Success     = 0 // Gate passed
	GateFailure = 1 // Gate failed
	RuntimeErr  = 2 // No verdict could be reached
)
