// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mutate

import (
	"github.com/fuzzframe/protofuzz/blockmodel"
	"github.com/fuzzframe/protofuzz/codec"
	"github.com/fuzzframe/protofuzz/internal/sampler"
)

var interestingStrings = [][]byte{
	[]byte("../../etc/passwd"),
	[]byte("' OR 1=1--"),
	[]byte("%s%s%s"),
}

// StructureResult is what StructureAware returns: the field map to
// re-serialize and the field name mutated, for coverage accounting.
type StructureResult struct {
	Fields    codec.FieldMap
	FieldName string
}

// StructureAware implements the field-selection-plus-typed-strategy
// mutator. It requires a parseable seed and a data model; the caller
// (Engine) is responsible for falling back to byte-level mutation when
// either is unavailable.
func StructureAware(r *sampler.RNG, m *blockmodel.DataModel, seed []byte) (*StructureResult, error) {
	fields, err := codec.Parse(m, seed)
	if err != nil {
		return nil, err
	}

	mutable := mutableFields(m)
	if len(mutable) == 0 {
		return &StructureResult{Fields: fields}, nil
	}
	b := mutable[r.Choice(len(mutable))]

	switch {
	case b.Type.IsInteger() || b.Type == blockmodel.TypeBits:
		mutateIntegerField(r, b, fields)
	case b.Type == blockmodel.TypeBytes || b.Type == blockmodel.TypeString:
		if b.IsVariable() {
			mutateVariableField(r, b, fields)
		} else {
			mutateFixedBytesField(r, b, fields)
		}
	}

	return &StructureResult{Fields: fields, FieldName: b.Name}, nil
}

// mutableFields enumerates blocks with mutable != false that are neither
// is_size_field nor is_checksum. A from_context-bound block is excluded
// too, unless it explicitly sets mutable: true (spec.md §3: "it is
// exempt from selection unless mutable: true is explicitly set").
func mutableFields(m *blockmodel.DataModel) []*blockmodel.Block {
	var out []*blockmodel.Block
	for i := range m.Blocks {
		b := &m.Blocks[i]
		if !b.IsMutable() || b.IsDerived() {
			continue
		}
		if b.FromContext != "" && !(b.MutableSet && b.Mutable) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func fieldBitWidth(b *blockmodel.Block) int {
	if b.Type == blockmodel.TypeBits {
		return b.Size
	}
	return b.Type.ByteWidth() * 8
}

func maskToWidth(v int64, bits int) int64 {
	if bits <= 0 || bits >= 64 {
		return v
	}
	mask := int64(1)<<uint(bits) - 1
	return v & mask
}

func mutateIntegerField(r *sampler.RNG, b *blockmodel.Block, fields codec.FieldMap) {
	width := fieldBitWidth(b)
	cur := fields[b.Name].Int

	strategies := []string{"boundary_values", "arithmetic", "bit_flip_field", "interesting_values"}
	switch strategies[r.Choice(len(strategies))] {
	case "boundary_values":
		maxVal := int64(1)<<uint(width) - 1
		candidates := []int64{0, 1, maxVal, maxVal - 1, maxVal / 2}
		if b.Type.Signed() {
			candidates = append(candidates, -1)
		}
		cur = candidates[r.Choice(len(candidates))]
	case "arithmetic":
		delta := int64(r.Choice(21) - 10) // [-10,10]
		if delta == 0 {
			delta = 1
		}
		cur += delta
	case "bit_flip_field":
		if width > 0 {
			bit := r.Choice(width)
			cur ^= int64(1) << uint(bit)
		}
	case "interesting_values":
		cur = interestingTable[r.Choice(len(interestingTable))]
	}

	fields[b.Name] = codec.IntValue(b.Type, maskToWidth(cur, width))
}

func mutateFixedBytesField(r *sampler.RNG, b *blockmodel.Block, fields codec.FieldMap) {
	cur := append([]byte(nil), fields[b.Name].Raw...)
	if len(cur) == 0 {
		cur = make([]byte, b.Size)
	}

	strategies := []string{"interesting_values", "bit_flip_field", "repeat_pattern"}
	switch strategies[r.Choice(len(strategies))] {
	case "interesting_values":
		cur = fitToSize(interestingStrings[r.Choice(len(interestingStrings))], len(cur))
	case "bit_flip_field":
		cur = bitFlipRatio(r, cur, 1.0/float64(8*len(cur)))
	case "repeat_pattern":
		cur = repeatPattern(r, cur)
	}

	fields[b.Name] = codec.BytesValue(b.Type, cur)
}

func mutateVariableField(r *sampler.RNG, b *blockmodel.Block, fields codec.FieldMap) {
	cur := append([]byte(nil), fields[b.Name].Raw...)

	strategies := []string{"expand_field", "shrink_field", "repeat_pattern", "interesting_values"}
	switch strategies[r.Choice(len(strategies))] {
	case "expand_field":
		scale := 1.5 + r.Float64()*1.5 // [1.5, 3.0)
		n := int(float64(len(cur)) * scale)
		if n <= len(cur) {
			n = len(cur) + 1
		}
		if b.MaxSize > 0 && n > b.MaxSize {
			n = b.MaxSize
		}
		cur = growBytes(r, cur, n)
	case "shrink_field":
		scale := 0.1 + r.Float64()*0.4 // [0.1, 0.5)
		n := int(float64(len(cur)) * scale)
		if n < 0 {
			n = 0
		}
		cur = cur[:n]
	case "repeat_pattern":
		cur = repeatPattern(r, cur)
		if b.MaxSize > 0 && len(cur) > b.MaxSize {
			cur = cur[:b.MaxSize]
		}
	case "interesting_values":
		cur = interestingStrings[r.Choice(len(interestingStrings))]
		if b.MaxSize > 0 && len(cur) > b.MaxSize {
			cur = cur[:b.MaxSize]
		}
	}

	fields[b.Name] = codec.BytesValue(b.Type, cur)
}

func fitToSize(pattern []byte, n int) []byte {
	if len(pattern) == 0 || n == 0 {
		return make([]byte, n)
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = pattern[i%len(pattern)]
	}
	return out
}

// growBytes expands cur to length n by cycling its own content, so
// expand_field reads as "more of the same message" rather than noise —
// e.g. a 5-byte "HELLO" expanded to 10 bytes becomes "HELLOHELLO".
func growBytes(r *sampler.RNG, cur []byte, n int) []byte {
	if n <= len(cur) {
		return cur
	}
	if len(cur) == 0 {
		return r.Bytes(n)
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = cur[i%len(cur)]
	}
	return out
}

func repeatPattern(r *sampler.RNG, cur []byte) []byte {
	if len(cur) == 0 {
		return cur
	}
	chunkLen := r.Choice(len(cur)) + 1
	chunk := cur[:chunkLen]
	reps := r.Choice(4) + 2
	out := make([]byte, 0, chunkLen*reps)
	for i := 0; i < reps; i++ {
		out = append(out, chunk...)
	}
	return out
}
