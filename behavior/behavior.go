// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package behavior applies the deterministic per-send transforms a
// DataModel's Blocks declare (increment, add_constant), independently of
// whatever the mutation engine did to the same field on a given send.
package behavior

import (
	"sync"

	"github.com/fuzzframe/protofuzz/blockmodel"
	"github.com/fuzzframe/protofuzz/codec"
)

// Processor holds the running counters for every Behavior-carrying Block
// in one DataModel, scoped to a single session. It is not safe to share
// across sessions; each session owns its own Processor so behaviors (like
// a sequence-number increment) don't cross-pollinate between connections.
type Processor struct {
	mu     sync.Mutex
	model  *blockmodel.DataModel
	state  map[string]int64 // block name -> next value to emit, for increment
	inited map[string]bool
}

// New builds a Processor for m. Counters are lazily seeded from each
// Behavior's Initial on first Apply.
func New(m *blockmodel.DataModel) *Processor {
	return &Processor{
		model:  m,
		state:  make(map[string]int64),
		inited: make(map[string]bool),
	}
}

// Apply mutates fields in place, overwriting every Block with a declared
// Behavior with its next deterministic value. It runs after the mutation
// engine and before Serialize, per the documented ordering: behaviors
// always win over whatever a mutator wrote to the same field.
func (p *Processor) Apply(fields codec.FieldMap) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.model.Blocks {
		b := &p.model.Blocks[i]
		if b.Behavior == nil {
			continue
		}
		fields[b.Name] = codec.IntValue(b.Type, p.next(b))
	}
}

func (p *Processor) next(b *blockmodel.Block) int64 {
	bh := b.Behavior
	switch bh.Operation {
	case blockmodel.BehaviorAddConstant:
		cur, ok := p.state[b.Name]
		if !ok {
			cur = bh.Initial
		}
		v := cur + bh.Value
		p.state[b.Name] = v
		return v

	case blockmodel.BehaviorIncrement:
		if !p.inited[b.Name] {
			p.state[b.Name] = bh.Initial
			p.inited[b.Name] = true
			return p.state[b.Name]
		}
		wrap := bh.Wrap
		if !bh.WrapSet {
			wrap = defaultWrap(b)
		}
		v := p.state[b.Name] + bh.Step
		if wrap > 0 {
			v = int64(uint64(v) % wrap)
		}
		p.state[b.Name] = v
		return v

	default:
		return 0
	}
}

// defaultWrap returns field-max+1 for a fixed-width integer Block, the
// documented default when a Behavior doesn't set Wrap explicitly.
func defaultWrap(b *blockmodel.Block) uint64 {
	switch b.Type.ByteWidth() {
	case 1:
		return 1 << 8
	case 2:
		return 1 << 16
	case 4:
		return 1 << 32
	case 8:
		return 0 // no wrap representable in 64 bits; treat as unbounded
	default:
		return 0
	}
}

// Snapshot returns the current counter state, for checkpoint persistence.
func (p *Processor) Snapshot() map[string]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int64, len(p.state))
	for k, v := range p.state {
		out[k] = v
	}
	return out
}

// Restore replaces the counter state from a previously persisted snapshot.
func (p *Processor) Restore(state map[string]int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = make(map[string]int64, len(state))
	p.inited = make(map[string]bool, len(state))
	for k, v := range state {
		p.state[k] = v
		p.inited[k] = true
	}
}
