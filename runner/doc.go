// Package runner executes planned suites and collects their results.
//
// The main components are:
//   - SuiteRunner: the collaborator contract that actually runs one suite
//   - ProcessRunner: a SuiteRunner that executes a suite's configured command
//   - SuiteExecutor: applies the suite deadline, retry policy and infrastructure circuit breaker
//   - Pool: runs an ExecutionPlan wave by wave under a fixed number of slots
//   - Collector: the single-writer queue every SuiteResult flows through
//
// Every planned suite produces exactly one SuiteResult, whatever happens to it.
package runner
