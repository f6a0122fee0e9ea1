package types

import "fmt"

// RunPhase is a state of the run state machine
type RunPhase string

const (
	PhasePending     RunPhase = "PENDING"
	PhaseAnalyzing   RunPhase = "ANALYZING"
	PhaseSelecting   RunPhase = "SELECTING"
	PhasePlanned     RunPhase = "PLANNED"
	PhaseRunning     RunPhase = "RUNNING"
	PhaseAggregating RunPhase = "AGGREGATING"
	PhaseGated       RunPhase = "GATED"
	PhaseDone        RunPhase = "DONE"
	PhaseFailed      RunPhase = "FAILED"
)

var phaseSuccessor = map[RunPhase]RunPhase{
	PhasePending:     PhaseAnalyzing,
	PhaseAnalyzing:   PhaseSelecting,
	PhaseSelecting:   PhasePlanned,
	PhasePlanned:     PhaseRunning,
	PhaseRunning:     PhaseAggregating,
	PhaseAggregating: PhaseGated,
	PhaseGated:       PhaseDone,
}

// String implements the Stringer interface for RunPhase
func (p RunPhase) String() string {
	return string(p)
}

// Terminal reports whether no further transition is possible
func (p RunPhase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// CanTransition reports whether moving from p to next is legal.
// Phases advance strictly in order; FAILED is reachable from any non-terminal phase.
func (p RunPhase) CanTransition(next RunPhase) bool {
	if p.Terminal() {
		return false
	}
	if next == PhaseFailed {
		return true
	}
	return phaseSuccessor[p] == next
}

// Transition returns next if the move is legal
func (p RunPhase) Transition(next RunPhase) (RunPhase, error) {
	if !p.CanTransition(next) {
		return p, fmt.Errorf("illegal run phase transition %s -> %s", p, next)
	}
	return next, nil
}
