package gatekeeper

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

func TestRuntimeError(t *testing.T) {
	cause := types.NewConfigError("suites", "duplicate suite id")
	err := fmt.Errorf("loading: %w", NewRuntimeError(cause))

	assert.True(t, IsRuntimeError(err))
	assert.False(t, IsGateFailureError(err))
	assert.True(t, types.IsConfigError(err))
	assert.Contains(t, err.Error(), "runtime error: config error: suites: duplicate suite id")
	assert.False(t, IsRuntimeError(nil))
}

func TestGateFailureError(t *testing.T) {
	verdict := types.GateVerdict{Verdict: types.VerdictFail, Reasons: []string{"a", "b"}}
	gateErr := NewGateFailureError(verdict)
	verdict.Reasons[0] = "mutated"

	err := fmt.Errorf("start: %w", gateErr)
	assert.True(t, IsGateFailureError(err))
	assert.False(t, IsRuntimeError(err))
	assert.Equal(t, "quality gate failed: a; b", gateErr.Error())
	assert.False(t, IsGateFailureError(errors.New("other")))
}
