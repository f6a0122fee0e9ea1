package types

import (
	"errors"
	"fmt"
)

// ConfigError reports configuration that is malformed or referentially invalid.
// It is always fatal and is raised before any suite runs.
type ConfigError struct {
	// Field locates the offending element, e.g. "suites.e2e.requires".
	Field string
	Msg   string
}

// NewConfigError creates a ConfigError for field
func NewConfigError(field string, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config error: " + e.Msg
	}
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Msg)
}

// IsConfigError checks if an error is or wraps a ConfigError
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
