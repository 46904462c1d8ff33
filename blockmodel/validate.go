// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package blockmodel

import (
	"errors"
	"fmt"

	"github.com/fuzzframe/protofuzz/internal/errs"
	"github.com/fuzzframe/protofuzz/internal/set"
)

// Sentinel structural-validation errors. ValidateDataModel/ValidateStateModel
// wrap these with fmt.Errorf("...: %w", ...) to name the offending block or
// transition; callers that want to test for the failure class should use
// errors.Is against these values.
var (
	ErrDuplicateBlockName  = errors.New("duplicate block name")
	ErrUnknownSizeOfField  = errors.New("is_size_field refers to unknown field")
	ErrBadVariableBlock    = errors.New("variable-size block is neither last nor size-bound")
	ErrChecksumNoAlgorithm = errors.New("is_checksum block missing checksum_algorithm")
	ErrSizeFieldNoUnit     = errors.New("is_size_field missing size_unit")
	ErrUnknownInitialState = errors.New("initial_state not declared in states")
	ErrUnknownTransitionEnd = errors.New("transition references an undeclared state")
	ErrEmptyStates         = errors.New("state model declares no states")
)

// ValidateDataModel checks the structural invariants of spec.md §3 and
// returns a single joined error naming every violation found, or nil.
func ValidateDataModel(m *DataModel) error {
	var c errs.Collector

	seen := set.NewSet[string](len(m.Blocks))
	for i, b := range m.Blocks {
		if seen.Contains(b.Name) {
			c.Add(fmt.Errorf("block %q: %w", b.Name, ErrDuplicateBlockName))
			continue
		}
		seen.Add(b.Name)

		if b.IsSizeField {
			if len(b.SizeOf) == 0 {
				c.Add(fmt.Errorf("block %q: is_size_field has empty size_of", b.Name))
			}
			for _, ref := range b.SizeOf {
				if m.BlockByName(ref) == nil {
					c.Add(fmt.Errorf("block %q: %w: %s", b.Name, ErrUnknownSizeOfField, ref))
				}
			}
		}

		if b.IsChecksum && b.ChecksumAlgorithm == "" {
			c.Add(fmt.Errorf("block %q: %w", b.Name, ErrChecksumNoAlgorithm))
		}

		if b.IsVariable() && !b.IsDerived() {
			last := i == len(m.Blocks)-1
			boundBySizeField := false
			for _, other := range m.Blocks {
				if other.IsSizeField {
					for _, ref := range other.SizeOf {
						if ref == b.Name {
							boundBySizeField = true
						}
					}
				}
			}
			if !last && !boundBySizeField {
				c.Add(fmt.Errorf("block %q: %w", b.Name, ErrBadVariableBlock))
			}
		}
	}

	return c.Err()
}

// ValidateStateModel checks the invariants of spec.md §3 for a StateModel:
// initial_state and every transition endpoint must appear in states.
func ValidateStateModel(sm *StateModel) error {
	if sm == nil {
		return nil
	}
	var c errs.Collector

	if len(sm.States) == 0 {
		c.Add(ErrEmptyStates)
	}

	states := set.Of(sm.States...)
	if !states.Contains(sm.InitialState) {
		c.Add(fmt.Errorf("%w: %s", ErrUnknownInitialState, sm.InitialState))
	}
	for _, t := range sm.Transitions {
		if !states.Contains(t.From) {
			c.Add(fmt.Errorf("transition %s: %w: %s", t.Label(), ErrUnknownTransitionEnd, t.From))
		}
		if !states.Contains(t.To) {
			c.Add(fmt.Errorf("transition %s: %w: %s", t.Label(), ErrUnknownTransitionEnd, t.To))
		}
	}

	return c.Err()
}

// ValidatePlugin runs every structural check spec.md §6 requires at load
// time ("The core MUST validate structural invariants at load time and
// reject plugins that violate §3 invariants").
func ValidatePlugin(p *Plugin) error {
	var c errs.Collector
	c.Add(ValidateDataModel(&p.DataModel))
	if p.DataModel.ResponseModel != nil {
		c.Add(ValidateDataModel(p.DataModel.ResponseModel))
	}
	c.Add(ValidateStateModel(p.StateModel))
	if p.ID == "" {
		c.Add(errors.New("plugin has empty id"))
	}
	return c.Err()
}
