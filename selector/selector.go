// Package selector chooses the suites a run executes
package selector

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// Graph is the view of the dependency graph the selector needs
type Graph interface {
	SuiteIDs() []string
	CriticalSuites() []string
	DirectSuites(components []string) ([]string, error)
	Closure(ids []string) ([]string, error)
}

// Request describes one selection
type Request struct {
	Mode types.SelectionMode
	// Components are the affected components, used in SMART mode.
	Components []string
	// Suites are the explicit suite ids, used in MANUAL mode.
	Suites []string
}

// Selector applies the selection policy over a dependency graph
type Selector struct {
	graph Graph
	log   log.Logger
}

// New creates a Selector
func New(g Graph, logger log.Logger) *Selector {
	if logger == nil {
		logger = log.New()
	}
	return &Selector{graph: g, log: logger}
}

// Select resolves a Request into a Selection. Critical suites are always
// included, and SMART selection with nothing affected falls back to FULL.
func (s *Selector) Select(req Request) (types.Selection, error) {
	sel := types.Selection{
		RequestedMode: req.Mode,
		EffectiveMode: req.Mode,
		Components:    req.Components,
	}

	var base []string
	switch req.Mode {
	case types.SelectionModeFull:
		base = s.graph.SuiteIDs()
	case types.SelectionModeSmart:
		if len(req.Components) == 0 {
			s.log.Warn("No affected components, falling back to full selection")
			return s.fallback(sel), nil
		}
		direct, err := s.graph.DirectSuites(req.Components)
		if err != nil {
			return sel, fmt.Errorf("resolving component suites: %w", err)
		}
		base = direct
	case types.SelectionModeManual:
		if len(req.Suites) == 0 {
			return sel, types.NewConfigError("suites", "manual selection requires at least one suite id")
		}
		base = req.Suites
	default:
		return sel, fmt.Errorf("unknown selection mode %q", req.Mode)
	}

	withCritical := append(append([]string{}, base...), s.graph.CriticalSuites()...)
	closure, err := s.graph.Closure(withCritical)
	if err != nil {
		return sel, fmt.Errorf("computing suite closure: %w", err)
	}

	if len(closure) == 0 && req.Mode == types.SelectionModeSmart {
		s.log.Warn("Affected components map to no suites, falling back to full selection",
			"components", req.Components)
		return s.fallback(sel), nil
	}

	sel.Suites = closure
	s.log.Info("Selected suites", "mode", sel.EffectiveMode, "count", len(sel.Suites))
	return sel, nil
}

func (s *Selector) fallback(sel types.Selection) types.Selection {
	sel.EffectiveMode = types.SelectionModeFull
	sel.FellBack = true
	sel.Suites = s.graph.SuiteIDs()
	sort.Strings(sel.Suites)
	return sel
}
