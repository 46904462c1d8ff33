// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package mutate implements the byte-level and structure-aware mutators
// and the dispatcher that picks between them.
package mutate

import (
	"math"

	"github.com/fuzzframe/protofuzz/internal/sampler"
)

// ByteMutator is one raw-bytes mutation strategy, unaware of any field
// structure.
type ByteMutator func(r *sampler.RNG, in []byte) []byte

var interestingTable = []int64{
	0, 1, -1, 0x7F, 0x80, 0xFF, 0x7FFF, 0x8000, 0xFFFF,
	0x7FFFFFFF, 0x80000000, 0xFFFFFFFF,
}

// byteMutators is the pool byte_level mode chooses uniformly from; Havoc's
// inner steps use their own fixed set of operations instead.
var byteMutators = map[string]ByteMutator{
	"bit_flip":          BitFlip,
	"byte_flip":         ByteFlip,
	"arithmetic":        Arithmetic,
	"interesting_value": InterestingValue,
	"havoc":             Havoc,
}

// names, stable for Choice indexing.
var byteMutatorNames = []string{"bit_flip", "byte_flip", "arithmetic", "interesting_value", "havoc"}

// ChooseByteMutator uniformly picks one of the registered byte mutators
// and runs it over in.
func ChooseByteMutator(r *sampler.RNG, in []byte) []byte {
	name := byteMutatorNames[r.Choice(len(byteMutatorNames))]
	return byteMutators[name](r, in)
}

func rejectEmpty(in, out []byte) []byte {
	if len(out) == 0 {
		return in
	}
	return out
}

// BitFlip flips ceil(flip_ratio*8*len) bits at random positions, ratio
// default 0.01, minimum 1 bit.
func BitFlip(r *sampler.RNG, in []byte) []byte {
	return bitFlipRatio(r, in, 0.01)
}

func bitFlipRatio(r *sampler.RNG, in []byte, ratio float64) []byte {
	if len(in) == 0 {
		return in
	}
	out := append([]byte(nil), in...)
	n := int(math.Ceil(ratio * 8 * float64(len(out))))
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		bitPos := r.Choice(len(out) * 8)
		out[bitPos/8] ^= 1 << uint(bitPos%8)
	}
	return out
}

// ByteFlip replaces ceil(flip_ratio*len) bytes with uniformly random
// bytes, ratio default 0.05, minimum 1 byte.
func ByteFlip(r *sampler.RNG, in []byte) []byte {
	if len(in) == 0 {
		return in
	}
	out := append([]byte(nil), in...)
	n := int(math.Ceil(0.05 * float64(len(out))))
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		idx := r.Choice(len(out))
		out[idx] = byte(r.Choice(256))
	}
	return out
}

// Arithmetic treats a random 4-byte window as an int32 and adds or
// subtracts a nonzero value in [-35, 35], honoring a per-call endianness
// choice.
func Arithmetic(r *sampler.RNG, in []byte) []byte {
	if len(in) < 4 {
		return in
	}
	out := append([]byte(nil), in...)
	start := r.Choice(len(out) - 3)

	delta := r.Choice(71) - 35 // [-35, 35]
	if delta == 0 {
		delta = 1
	}

	little := r.Choice(2) == 0
	var v uint32
	if little {
		v = uint32(out[start]) | uint32(out[start+1])<<8 | uint32(out[start+2])<<16 | uint32(out[start+3])<<24
	} else {
		v = uint32(out[start])<<24 | uint32(out[start+1])<<16 | uint32(out[start+2])<<8 | uint32(out[start+3])
	}
	v = uint32(int64(int32(v)) + int64(delta))
	if little {
		out[start] = byte(v)
		out[start+1] = byte(v >> 8)
		out[start+2] = byte(v >> 16)
		out[start+3] = byte(v >> 24)
	} else {
		out[start] = byte(v >> 24)
		out[start+1] = byte(v >> 16)
		out[start+2] = byte(v >> 8)
		out[start+3] = byte(v)
	}
	return out
}

// InterestingValue overwrites a run of 1, 2, or 4 consecutive bytes with
// a value drawn from a fixed table of edge-case integers.
func InterestingValue(r *sampler.RNG, in []byte) []byte {
	if len(in) == 0 {
		return in
	}
	out := append([]byte(nil), in...)
	widths := []int{1, 2, 4}
	width := widths[r.Choice(len(widths))]
	for width > len(out) {
		width /= 2
		if width < 1 {
			width = 1
			break
		}
	}
	start := r.Choice(len(out) - width + 1)
	val := interestingTable[r.Choice(len(interestingTable))]
	for i := 0; i < width; i++ {
		out[start+i] = byte(val >> uint(8*(width-1-i)))
	}
	return out
}

// Havoc applies a random number (2..10) of stacked mutations: insert,
// delete, duplicate, shuffle, bit-flip, byte-flip.
func Havoc(r *sampler.RNG, in []byte) []byte {
	out := append([]byte(nil), in...)
	n := r.Choice(9) + 2 // [2,10]
	for i := 0; i < n; i++ {
		switch r.Choice(6) {
		case 0:
			out = rejectEmpty(out, havocInsert(r, out))
		case 1:
			out = rejectEmpty(out, havocDelete(r, out))
		case 2:
			out = rejectEmpty(out, havocDuplicate(r, out))
		case 3:
			out = rejectEmpty(out, havocShuffle(r, out))
		case 4:
			out = rejectEmpty(out, BitFlip(r, out))
		case 5:
			out = rejectEmpty(out, ByteFlip(r, out))
		}
	}
	return out
}

func havocInsert(r *sampler.RNG, in []byte) []byte {
	n := r.Choice(16) + 1
	pos := r.Choice(len(in) + 1)
	ins := r.Bytes(n)
	out := make([]byte, 0, len(in)+n)
	out = append(out, in[:pos]...)
	out = append(out, ins...)
	out = append(out, in[pos:]...)
	return out
}

func havocDelete(r *sampler.RNG, in []byte) []byte {
	if len(in) <= 1 {
		return in
	}
	maxN := 16
	if maxN > len(in)-1 {
		maxN = len(in) - 1
	}
	n := r.Choice(maxN) + 1
	pos := r.Choice(len(in) - n + 1)
	out := make([]byte, 0, len(in)-n)
	out = append(out, in[:pos]...)
	out = append(out, in[pos+n:]...)
	return out
}

func havocDuplicate(r *sampler.RNG, in []byte) []byte {
	if len(in) == 0 {
		return in
	}
	maxN := 16
	if maxN > len(in) {
		maxN = len(in)
	}
	n := r.Choice(maxN) + 1
	pos := r.Choice(len(in) - n + 1)
	chunk := in[pos : pos+n]
	insertAt := r.Choice(len(in) + 1)
	out := make([]byte, 0, len(in)+n)
	out = append(out, in[:insertAt]...)
	out = append(out, chunk...)
	out = append(out, in[insertAt:]...)
	return out
}

func havocShuffle(r *sampler.RNG, in []byte) []byte {
	if len(in) < 2 {
		return in
	}
	maxN := 16
	if maxN > len(in) {
		maxN = len(in)
	}
	n := r.Choice(maxN-1) + 2 // [2,maxN]
	pos := r.Choice(len(in) - n + 1)
	out := append([]byte(nil), in...)
	window := out[pos : pos+n]
	r.Shuffle(len(window), func(i, j int) { window[i], window[j] = window[j], window[i] })
	return out
}

// Splice picks two of the given seeds and recombines them at random
// split points: A[:i] ++ B[j:]. It requires at least two seeds and
// returns nil if fewer are given.
func Splice(r *sampler.RNG, seeds [][]byte) []byte {
	if len(seeds) < 2 {
		return nil
	}
	ai := r.Choice(len(seeds))
	bi := r.Choice(len(seeds))
	for bi == ai {
		bi = r.Choice(len(seeds))
	}
	a, b := seeds[ai], seeds[bi]
	if len(a) == 0 || len(b) == 0 {
		return append([]byte(nil), a...)
	}
	i := r.Choice(len(a) + 1)
	j := r.Choice(len(b) + 1)
	out := make([]byte, 0, i+len(b)-j)
	out = append(out, a[:i]...)
	out = append(out, b[j:]...)
	if len(out) == 0 {
		return append([]byte(nil), a...)
	}
	return out
}
