// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package response implements the planner that, given a parsed reply,
// picks the first matching response_handler and builds the overlay for
// the next outgoing message.
package response

import (
	"bytes"

	"github.com/fuzzframe/protofuzz/blockmodel"
	"github.com/fuzzframe/protofuzz/codec"
)

// Plan is the result of matching one response against a DataModel's
// ResponseHandlers.
type Plan struct {
	Handler *blockmodel.ResponseHandler // nil if nothing matched
	Parsed  codec.FieldMap
}

// Match parses raw against m.ResponseModel (falling back to m itself if
// no dedicated response model is declared) and walks m.ResponseHandlers
// in order, returning the first one whose Match/MatchRaw entries all
// equal the parsed value.
func Match(m *blockmodel.DataModel, raw []byte) (*Plan, error) {
	model := m.ResponseModel
	if model == nil {
		model = m
	}
	parsed, err := codec.Parse(model, raw)
	if err != nil {
		return nil, err
	}

	for i := range m.ResponseHandlers {
		h := &m.ResponseHandlers[i]
		if handlerMatches(h, parsed) {
			return &Plan{Handler: h, Parsed: parsed}, nil
		}
	}
	return &Plan{Parsed: parsed}, nil
}

func handlerMatches(h *blockmodel.ResponseHandler, parsed codec.FieldMap) bool {
	for name, want := range h.Match {
		got, ok := parsed[name]
		if !ok || got.Int != want {
			return false
		}
	}
	for name, want := range h.MatchRaw {
		got, ok := parsed[name]
		if !ok || !bytes.Equal(got.Raw, want) {
			return false
		}
	}
	return true
}

// BuildNext overlays h.SetFields onto a copy of template, using parsed to
// resolve any copy_from_response entries, and returns the new field map
// ready for behavior processing and serialization. template is normally
// the session's current message field map for the chosen transition.
func BuildNext(h *blockmodel.ResponseHandler, template, parsed codec.FieldMap) codec.FieldMap {
	out := template.Clone()
	if h == nil {
		return out
	}
	for name, sf := range h.SetFields {
		out[name] = resolveSetField(sf, parsed, out[name])
	}
	return out
}

func resolveSetField(sf blockmodel.SetField, parsed codec.FieldMap, cur codec.Value) codec.Value {
	if sf.HasLiteral {
		if sf.Literal != nil {
			return codec.BytesValue(cur.Kind, sf.Literal)
		}
		return codec.IntValue(cur.Kind, sf.LiteralInt)
	}
	if sf.CopyFromResponse != "" {
		src, ok := parsed[sf.CopyFromResponse]
		if !ok {
			return cur
		}
		if sf.ExtractBits != nil {
			return codec.IntValue(cur.Kind, extractBits(src.Int, *sf.ExtractBits))
		}
		return src
	}
	return cur
}

func extractBits(v int64, br blockmodel.BitRange) int64 {
	if br.Count <= 0 || br.Count >= 64 {
		return v >> uint(br.Start)
	}
	mask := int64(1)<<uint(br.Count) - 1
	return (v >> uint(br.Start)) & mask
}
