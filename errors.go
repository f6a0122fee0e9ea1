package gatekeeper

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// RuntimeError represents an operational error that should lead to exit code 2.
// Examples include configuration errors, unreadable change input, etc.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// GateFailureError is returned when the quality gate verdict is FAIL (exit code 1)
type GateFailureError struct {
	Reasons []string
}

func (e *GateFailureError) Error() string {
	return fmt.Sprintf("quality gate failed: %s", strings.Join(e.Reasons, "; "))
}

// NewGateFailureError creates a GateFailureError from a failing verdict
func NewGateFailureError(verdict types.GateVerdict) *GateFailureError {
	return &GateFailureError{Reasons: append([]string(nil), verdict.Reasons...)}
}

// IsGateFailureError checks if the error is or wraps a GateFailureError
func IsGateFailureError(err error) bool {
	var gateErr *GateFailureError
	return err != nil && errors.As(err, &gateErr)
}
