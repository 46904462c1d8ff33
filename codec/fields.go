// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"fmt"

	"github.com/fuzzframe/protofuzz/blockmodel"
)

// Value is a parsed field's value. Exactly one of Int/Raw is meaningful,
// selected by Kind.
type Value struct {
	Kind blockmodel.FieldType
	Int  int64  // integer and bits types
	Raw  []byte // bytes and string types
}

// IntValue builds an integer/bits Value.
func IntValue(t blockmodel.FieldType, v int64) Value {
	return Value{Kind: t, Int: v}
}

// BytesValue builds a bytes/string Value.
func BytesValue(t blockmodel.FieldType, b []byte) Value {
	return Value{Kind: t, Raw: b}
}

// FieldMap is the result of parsing a message: block name -> value, in
// the order the DataModel declares them (order matters for re-serializing
// size/checksum fixups, but FieldMap itself is a plain map since blocks
// are already uniquely named by ValidateDataModel).
type FieldMap map[string]Value

// Clone returns a deep-enough copy of m (Raw byte slices are copied) so a
// caller can mutate the result without aliasing the original parse.
func (m FieldMap) Clone() FieldMap {
	out := make(FieldMap, len(m))
	for k, v := range m {
		if v.Raw != nil {
			cp := make([]byte, len(v.Raw))
			copy(cp, v.Raw)
			v.Raw = cp
		}
		out[k] = v
	}
	return out
}

// ParseError is returned by Parse when the input cannot be consumed
// according to the declared DataModel.
type ParseError struct {
	Reason string
	Offset int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Offset, e.Reason)
}

func newParseError(offset int, format string, args ...any) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...), Offset: offset}
}
