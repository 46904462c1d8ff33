// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mutate

import (
	"github.com/fuzzframe/protofuzz/blockmodel"
	"github.com/fuzzframe/protofuzz/codec"
	"github.com/fuzzframe/protofuzz/internal/sampler"
)

// Mode names one of the three dispatch policies an Engine runs under.
type Mode string

const (
	ModeByteLevel      Mode = "byte_level"
	ModeStructureAware Mode = "structure_aware"
	ModeHybrid         Mode = "hybrid"
)

// Result is the outcome of one Engine.Mutate call.
type Result struct {
	Bytes     []byte
	FieldName string // set only when structure-aware mutation produced Bytes
}

// Engine dispatches between byte-level and structure-aware mutation per
// its configured Mode.
type Engine struct {
	Mode                 Mode
	StructureAwareWeight int // [0,100], default 70, only meaningful for ModeHybrid
	Model                *blockmodel.DataModel

	// Seeds is the full seed corpus Splice draws its second input from.
	// Splice only enters byte-level dispatch's pool once the caller sets
	// at least two seeds here; with fewer, byte-level mutation falls back
	// to the other five mutators per spec.md §9's "validate and reject at
	// request time" guidance.
	Seeds [][]byte
}

// NewEngine builds an Engine with the documented default weight.
func NewEngine(mode Mode, model *blockmodel.DataModel) *Engine {
	return &Engine{Mode: mode, StructureAwareWeight: 70, Model: model}
}

// Mutate runs one mutation of seed under the Engine's configured mode.
func (e *Engine) Mutate(r *sampler.RNG, seed []byte) Result {
	switch e.Mode {
	case ModeStructureAware:
		return e.structureAwareOrFallback(r, seed)
	case ModeHybrid:
		if r.Roll1to100() <= e.StructureAwareWeight {
			return e.structureAwareOrFallback(r, seed)
		}
		return Result{Bytes: e.chooseByte(r, seed)}
	case ModeByteLevel:
		fallthrough
	default:
		return Result{Bytes: e.chooseByte(r, seed)}
	}
}

func (e *Engine) structureAwareOrFallback(r *sampler.RNG, seed []byte) Result {
	if e.Model == nil {
		return Result{Bytes: e.chooseByte(r, seed)}
	}
	sr, err := StructureAware(r, e.Model, seed)
	if err != nil {
		return Result{Bytes: e.chooseByte(r, seed)}
	}
	out, err := codec.Serialize(e.Model, sr.Fields)
	if err != nil {
		return Result{Bytes: e.chooseByte(r, seed)}
	}
	return Result{Bytes: out, FieldName: sr.FieldName}
}

// chooseByte picks uniformly among all six byte-level mutators when at
// least two seeds are available (making Splice eligible), or among the
// five single-input mutators otherwise.
func (e *Engine) chooseByte(r *sampler.RNG, seed []byte) []byte {
	if len(e.Seeds) < 2 {
		return ChooseByteMutator(r, seed)
	}
	if r.Choice(len(byteMutatorNames)+1) == len(byteMutatorNames) {
		if out := Splice(r, e.Seeds); out != nil {
			return out
		}
	}
	return ChooseByteMutator(r, seed)
}
