package runner

import "time"

const (
	// DefaultCancelGrace bounds how long a cancelled collaborator may take to acknowledge
	DefaultCancelGrace = 30 * time.Second

	// DefaultProgressInterval is how often the console progress indicator logs
	DefaultProgressInterval = 30 * time.Second

	// Environment variables exported to suite processes
	EnvSuiteID     = "GATEKEEPER_SUITE"
	EnvEnvironment = "GATEKEEPER_ENVIRONMENT"
	EnvRunID       = "GATEKEEPER_RUN_ID"

	// maxErrorDetailBytes caps the output tail copied into SuiteResult.Error
	maxErrorDetailBytes = 2048
)
