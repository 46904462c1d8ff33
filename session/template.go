// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"github.com/fuzzframe/protofuzz/blockmodel"
	"github.com/fuzzframe/protofuzz/codec"
)

// commandFieldName returns the name of the block whose Values map
// documents message-type labels (e.g. 0 -> "hello", 1 -> "login"), or ""
// if the model declares none.
func commandFieldName(m *blockmodel.DataModel) string {
	for i := range m.Blocks {
		if len(m.Blocks[i].Values) > 0 {
			return m.Blocks[i].Name
		}
	}
	return ""
}

// ClassifySeeds groups m.Seeds by the message_type label their command
// field resolves to, by attempting to parse each seed and reading its
// value out of the Values map. Seeds whose type can't be determined (no
// command field, parse failure, or no matching label) are filed under
// "" and are available to any message type per the documented fallback.
func ClassifySeeds(m *blockmodel.DataModel) map[string][][]byte {
	out := make(map[string][][]byte)
	field := commandFieldName(m)
	if field == "" {
		out[""] = m.Seeds
		return out
	}

	for _, seed := range m.Seeds {
		label := classifyOne(m, field, seed)
		out[label] = append(out[label], seed)
	}
	return out
}

func classifyOne(m *blockmodel.DataModel, field string, seed []byte) string {
	fields, err := codec.Parse(m, seed)
	if err != nil {
		return ""
	}
	v, ok := fields[field]
	if !ok {
		return ""
	}
	blk := m.BlockByName(field)
	if blk == nil {
		return ""
	}
	label, ok := blk.Values[v.Int]
	if !ok {
		return ""
	}
	return label
}

// SeedFor returns a seed suitable for messageType: one classified under
// that label if available, otherwise one of the unclassified ("") seeds,
// otherwise nil.
func SeedFor(classified map[string][][]byte, messageType string, pick func(n int) int) []byte {
	if bucket := classified[messageType]; len(bucket) > 0 {
		return bucket[pick(len(bucket))]
	}
	if bucket := classified[""]; len(bucket) > 0 {
		return bucket[pick(len(bucket))]
	}
	return nil
}
