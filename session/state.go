// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package session implements the stateful conversation driver: state
// machine traversal, coverage tracking, and transition selection for
// each of the four fuzzing modes.
package session

import (
	"errors"

	"github.com/fuzzframe/protofuzz/blockmodel"
	"github.com/fuzzframe/protofuzz/internal/bag"
	"github.com/fuzzframe/protofuzz/internal/sampler"
)

// Mode names one of the four exploration strategies.
type Mode string

const (
	ModeRandom       Mode = "random"
	ModeBreadthFirst Mode = "breadth_first"
	ModeDepthFirst   Mode = "depth_first"
	ModeTargeted     Mode = "targeted"
)

// ResetInterval returns the documented default iterations-since-reset
// threshold for m.
func (m Mode) ResetInterval() int {
	switch m {
	case ModeBreadthFirst:
		return 20
	case ModeDepthFirst:
		return 500
	case ModeTargeted:
		return 300
	default:
		return 100
	}
}

// ErrNoPathToTarget is recorded (not returned) when targeted mode can't
// find a path from the current state to its target; the session falls
// back to random selection for that pick.
var ErrNoPathToTarget = errors.New("no_path_to_target_state")

const historyCapacity = 256

// State tracks one session's position in a StateModel plus coverage.
type State struct {
	model *blockmodel.StateModel

	CurrentState         string
	History              []string // ring buffer, most recent last, capacity historyCapacity
	StateCoverage        bag.Bag[string]
	TransitionCoverage    bag.Bag[string]
	IterationsSinceReset int

	// LastSelectionFallback is set to ErrNoPathToTarget when a targeted
	// pick had to fall back to random, for the caller to log/count.
	LastSelectionFallback error
}

// NewState initializes a State at sm's initial_state with every declared
// state/transition present in coverage at 0.
func NewState(sm *blockmodel.StateModel) *State {
	s := &State{
		model:              sm,
		CurrentState:       sm.InitialState,
		History:            make([]string, 0, historyCapacity),
		StateCoverage:      bag.New[string](),
		TransitionCoverage: bag.New[string](),
	}
	for _, st := range sm.States {
		s.StateCoverage.AddCount(st, 0)
	}
	for _, t := range sm.Transitions {
		s.TransitionCoverage.AddCount(t.Label(), 0)
	}
	s.pushHistory(sm.InitialState)
	return s
}

// Restore rebuilds a State from a persisted checkpoint per spec.md
// §4.7's restore semantics: coverage counts win, and history is reseeded
// from currentState alone (the detailed visit sequence isn't persisted,
// only the aggregate counts) so coverage metrics keep accumulating
// across a resume instead of resetting to zero.
func Restore(sm *blockmodel.StateModel, currentState string, stateCoverage, transitionCoverage map[string]int, iterationsSinceReset int) *State {
	s := &State{
		model:                sm,
		CurrentState:         currentState,
		History:              make([]string, 0, historyCapacity),
		StateCoverage:        bag.New[string](),
		TransitionCoverage:   bag.New[string](),
		IterationsSinceReset: iterationsSinceReset,
	}
	s.StateCoverage.Restore(stateCoverage)
	s.TransitionCoverage.Restore(transitionCoverage)
	s.pushHistory(currentState)
	return s
}

func (s *State) pushHistory(state string) {
	s.History = append(s.History, state)
	if len(s.History) > historyCapacity {
		s.History = s.History[len(s.History)-historyCapacity:]
	}
}

// ValidTransitions returns every transition whose From equals the
// current state, in declaration order.
func (s *State) ValidTransitions() []blockmodel.Transition {
	var out []blockmodel.Transition
	for _, t := range s.model.Transitions {
		if t.From == s.CurrentState {
			out = append(out, t)
		}
	}
	return out
}

// SelectTransition picks the next transition per mode, using r for any
// random choice the mode requires and targetState only for ModeTargeted.
func (s *State) SelectTransition(r *sampler.RNG, mode Mode, targetState string) (blockmodel.Transition, bool) {
	s.LastSelectionFallback = nil
	valid := s.ValidTransitions()
	if len(valid) == 0 {
		return blockmodel.Transition{}, false
	}

	switch mode {
	case ModeDepthFirst:
		return valid[0], true

	case ModeBreadthFirst:
		best := valid[0]
		bestCount := s.StateCoverage.Count(best.To)
		var tied []blockmodel.Transition
		for _, t := range valid {
			c := s.StateCoverage.Count(t.To)
			if c < bestCount {
				bestCount = c
				best = t
				tied = []blockmodel.Transition{t}
			} else if c == bestCount {
				tied = append(tied, t)
			}
		}
		if len(tied) > 0 {
			return tied[r.Choice(len(tied))], true
		}
		return valid[r.Choice(len(valid))], true

	case ModeTargeted:
		path := shortestPath(s.model, s.CurrentState, targetState)
		if len(path) < 2 {
			s.LastSelectionFallback = ErrNoPathToTarget
			return valid[r.Choice(len(valid))], true
		}
		next := path[1]
		for _, t := range valid {
			if t.To == next {
				return t, true
			}
		}
		s.LastSelectionFallback = ErrNoPathToTarget
		return valid[r.Choice(len(valid))], true

	case ModeRandom:
		fallthrough
	default:
		return valid[r.Choice(len(valid))], true
	}
}

// Advance records a successful transition: moves CurrentState to t.To,
// increments coverage, appends t.To to the history, and bumps
// IterationsSinceReset.
func (s *State) Advance(t blockmodel.Transition) {
	s.CurrentState = t.To
	s.StateCoverage.Add(t.To)
	s.TransitionCoverage.Add(t.Label())
	s.pushHistory(t.To)
	s.IterationsSinceReset++
}

// Stay records a failed/non-matching transition attempt: state doesn't
// move, but the iteration still counts toward the reset cadence.
func (s *State) Stay() {
	s.IterationsSinceReset++
}

// NeedsReset reports whether mode's reset interval has been reached, or
// (for targeted mode) the target has just been reached.
func (s *State) NeedsReset(mode Mode, targetState string) bool {
	if mode == ModeTargeted && targetState != "" && s.CurrentState == targetState {
		return true
	}
	return s.IterationsSinceReset >= mode.ResetInterval()
}

// Reset jumps back to the initial state and clears the reset counter,
// per the documented cadence semantics (the caller is responsible for
// closing/reopening the connection and re-running bootstrap first).
func (s *State) Reset() {
	s.CurrentState = s.model.InitialState
	s.IterationsSinceReset = 0
	s.pushHistory(s.model.InitialState)
}

// shortestPath runs unweighted BFS over sm's transitions from `from` to
// `to`, returning the sequence of states on a shortest path (inclusive
// of both endpoints), or nil if no path exists.
func shortestPath(sm *blockmodel.StateModel, from, to string) []string {
	if from == to {
		return []string{from}
	}
	adj := make(map[string][]string)
	for _, t := range sm.Transitions {
		adj[t.From] = append(adj[t.From], t.To)
	}

	visited := map[string]bool{from: true}
	prev := map[string]string{}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if visited[next] {
				continue
			}
			visited[next] = true
			prev[next] = cur
			if next == to {
				return reconstructPath(prev, from, to)
			}
			queue = append(queue, next)
		}
	}
	return nil
}

func reconstructPath(prev map[string]string, from, to string) []string {
	path := []string{to}
	for cur := to; cur != from; {
		cur = prev[cur]
		path = append([]string{cur}, path...)
	}
	return path
}
