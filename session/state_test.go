// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fuzzframe/protofuzz/blockmodel"
	"github.com/fuzzframe/protofuzz/internal/sampler"
)

func demoStateModel() *blockmodel.StateModel {
	return &blockmodel.StateModel{
		InitialState: "INIT",
		States:       []string{"INIT", "AUTH", "READY", "DONE"},
		Transitions: []blockmodel.Transition{
			{From: "INIT", To: "AUTH", MessageType: "hello"},
			{From: "AUTH", To: "READY", MessageType: "login"},
			{From: "READY", To: "DONE", MessageType: "bye"},
			{From: "READY", To: "READY", MessageType: "noop"},
		},
	}
}

func TestState_DepthFirstDeterministic(t *testing.T) {
	sm := demoStateModel()
	s := NewState(sm)
	r := sampler.NewRNG(1)

	tr, ok := s.SelectTransition(r, ModeDepthFirst, "")
	require.True(t, ok)
	require.Equal(t, "AUTH", tr.To)
}

func TestState_BreadthFirstPrefersLeastVisited(t *testing.T) {
	sm := &blockmodel.StateModel{
		InitialState: "READY",
		States:       []string{"READY", "A", "B"},
		Transitions: []blockmodel.Transition{
			{From: "READY", To: "A"},
			{From: "READY", To: "B"},
		},
	}
	s := NewState(sm)
	s.StateCoverage.Add("A")
	s.StateCoverage.Add("A")

	r := sampler.NewRNG(2)
	tr, ok := s.SelectTransition(r, ModeBreadthFirst, "")
	require.True(t, ok)
	require.Equal(t, "B", tr.To)
}

func TestState_TargetedShortestPath(t *testing.T) {
	sm := demoStateModel()
	s := NewState(sm)
	r := sampler.NewRNG(3)

	tr, ok := s.SelectTransition(r, ModeTargeted, "DONE")
	require.True(t, ok)
	require.Equal(t, "AUTH", tr.To)
	require.Nil(t, s.LastSelectionFallback)
}

func TestState_TargetedFallsBackWithNoPath(t *testing.T) {
	sm := demoStateModel()
	s := NewState(sm)
	r := sampler.NewRNG(4)

	_, ok := s.SelectTransition(r, ModeTargeted, "UNREACHABLE")
	require.True(t, ok)
	require.ErrorIs(t, s.LastSelectionFallback, ErrNoPathToTarget)
}

func TestState_AdvanceUpdatesCoverage(t *testing.T) {
	sm := demoStateModel()
	s := NewState(sm)
	s.Advance(sm.Transitions[0])
	require.Equal(t, "AUTH", s.CurrentState)
	require.Equal(t, 1, s.StateCoverage.Count("AUTH"))
	require.Equal(t, 1, s.TransitionCoverage.Count("INIT->AUTH"))
}

func TestState_ResetCadence(t *testing.T) {
	sm := demoStateModel()
	s := NewState(sm)
	require.False(t, s.NeedsReset(ModeBreadthFirst, ""))
	for i := 0; i < 20; i++ {
		s.Stay()
	}
	require.True(t, s.NeedsReset(ModeBreadthFirst, ""))
	s.Reset()
	require.Equal(t, "INIT", s.CurrentState)
	require.Equal(t, 0, s.IterationsSinceReset)
}
