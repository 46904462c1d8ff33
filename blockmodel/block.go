// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package blockmodel is the declarative protocol grammar the rest of the
// engine operates over: Blocks compose into a DataModel, DataModels pair
// with an optional StateModel to describe a stateful conversation, and a
// ProtocolStack names the ordered stages a plugin runs through. Values
// here are immutable once loaded, matching spec.md's lifecycle invariant;
// callers get a validated copy from plugin.Load, never a mutable builder.
package blockmodel

import "time"

// FieldType is the tagged variant a Block's wire representation is one of.
type FieldType string

const (
	TypeBytes  FieldType = "bytes"
	TypeString FieldType = "string"
	TypeUint8  FieldType = "uint8"
	TypeUint16 FieldType = "uint16"
	TypeUint32 FieldType = "uint32"
	TypeUint64 FieldType = "uint64"
	TypeInt8   FieldType = "int8"
	TypeInt16  FieldType = "int16"
	TypeInt32  FieldType = "int32"
	TypeInt64  FieldType = "int64"
	TypeBits   FieldType = "bits"
)

// IsInteger reports whether t is a fixed-width integer type (signed or
// unsigned), the type family behaviors and integer mutation strategies
// apply to.
func (t FieldType) IsInteger() bool {
	switch t {
	case TypeUint8, TypeUint16, TypeUint32, TypeUint64,
		TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		return true
	}
	return false
}

// Signed reports whether t is a signed integer type.
func (t FieldType) Signed() bool {
	switch t {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		return true
	}
	return false
}

// ByteWidth returns the fixed byte width of an integer type, or 0 for
// types whose width is declared per-Block (bytes, string, bits).
func (t FieldType) ByteWidth() int {
	switch t {
	case TypeUint8, TypeInt8:
		return 1
	case TypeUint16, TypeInt16:
		return 2
	case TypeUint32, TypeInt32:
		return 4
	case TypeUint64, TypeInt64:
		return 8
	}
	return 0
}

// Endian is a Block's byte order for multi-byte integers and bit fields.
type Endian string

const (
	BigEndian    Endian = "big"
	LittleEndian Endian = "little"
)

// BitOrder is the order bits are packed within a byte for a bits Block.
type BitOrder string

const (
	MSBFirst BitOrder = "msb"
	LSBFirst BitOrder = "lsb"
)

// SizeUnit is the unit an is_size_field's recomputed value is expressed
// in. Per spec.md's Open Questions, "words" and "dwords" preserve the
// source's (non-standard) convention: words=4 bytes, dwords=2 bytes.
type SizeUnit string

const (
	UnitBits   SizeUnit = "bits"
	UnitBytes  SizeUnit = "bytes"
	UnitWords  SizeUnit = "words"  // 4 bytes, per source convention
	UnitDwords SizeUnit = "dwords" // 2 bytes, per source convention
)

// BytesPerUnit returns how many bytes one unit of su represents. Bits are
// handled by the caller since a single bit isn't a whole byte.
func (su SizeUnit) BytesPerUnit() int {
	switch su {
	case UnitWords:
		return 4
	case UnitDwords:
		return 2
	default:
		return 1
	}
}

// ChecksumAlgorithm names one of the supported checksum functions.
type ChecksumAlgorithm string

const (
	ChecksumCRC32   ChecksumAlgorithm = "crc32"
	ChecksumAdler32 ChecksumAlgorithm = "adler32"
	ChecksumSum     ChecksumAlgorithm = "sum"
	ChecksumXOR     ChecksumAlgorithm = "xor"
	ChecksumSum8    ChecksumAlgorithm = "sum8"
	ChecksumSum16   ChecksumAlgorithm = "sum16"
)

// ChecksumOver names the region a checksum Block covers, relative to its
// own offset in the serialized message.
type ChecksumOver string

const (
	OverAll     ChecksumOver = "all"
	OverHeader  ChecksumOver = "header"
	OverPayload ChecksumOver = "payload"
	OverBefore  ChecksumOver = "before"
	OverAfter   ChecksumOver = "after"
)

// BehaviorOp names a deterministic per-send transform.
type BehaviorOp string

const (
	BehaviorIncrement    BehaviorOp = "increment"
	BehaviorAddConstant  BehaviorOp = "add_constant"
)

// Behavior is a deterministic per-send transform applied to one fixed-width
// Block. See behavior.Processor for the runtime semantics, and json.go for
// its JSON decoding (WrapSet tracks whether "wrap" was present at all).
type Behavior struct {
	Operation BehaviorOp
	Initial   int64  // seed value, default 0; the first increment output and the base add_constant adds to
	Step      int64  // default 1 when decoded from JSON, only meaningful for increment
	Wrap      uint64 // default = field max + 1, only meaningful for increment
	WrapSet   bool   // true iff Wrap was explicitly configured
	Value     int64  // constant to add, only meaningful for add_constant
}

// BitRange selects a sub-range of bits out of a copied response field.
type BitRange struct {
	Start int `json:"start"`
	Count int `json:"count"`
}

// Block is one field of a DataModel.
type Block struct {
	Name     string
	Type     FieldType
	Size     int // bytes for fixed types, bits for TypeBits
	MaxSize  int // cap for variable bytes/string

	Endian   Endian   // default BigEndian
	BitOrder BitOrder // default MSBFirst

	Default []byte

	// MutableSet/Mutable implement "mutable (default true)": Mutable is
	// only meaningful when MutableSet is true, otherwise the default
	// (true) applies. Use Block.IsMutable().
	MutableSet bool
	Mutable    bool

	// Values is a documentary integer -> label map; it never affects
	// parsing, serialization, or mutation.
	Values map[int64]string

	IsSizeField bool
	SizeOf      []string // ordered field names whose combined length this field reports
	SizeUnit    SizeUnit

	IsChecksum        bool
	ChecksumAlgorithm ChecksumAlgorithm
	ChecksumOver      ChecksumOver

	Behavior *Behavior

	FromContext string // context key to inject before mutation

	CopyFromResponse string     // response field name a handler may copy from
	ExtractBits      *BitRange  // optional bit slice of the copied value
}

// IsMutable reports whether the structure-aware mutator and response
// handlers may freely rewrite this Block, honoring the declared default
// of true.
func (b *Block) IsMutable() bool {
	if b.MutableSet {
		return b.Mutable
	}
	return true
}

// IsDerived reports whether b's value is always recomputed rather than
// read from the field map supplied by the caller (is_size_field and
// is_checksum blocks).
func (b *Block) IsDerived() bool {
	return b.IsSizeField || b.IsChecksum
}

// EffectiveEndian returns b.Endian, defaulting to BigEndian.
func (b *Block) EffectiveEndian() Endian {
	if b.Endian == "" {
		return BigEndian
	}
	return b.Endian
}

// EffectiveBitOrder returns b.BitOrder, defaulting to MSBFirst.
func (b *Block) EffectiveBitOrder() BitOrder {
	if b.BitOrder == "" {
		return MSBFirst
	}
	return b.BitOrder
}

// EffectiveSizeUnit returns b.SizeUnit, defaulting to UnitBytes.
func (b *Block) EffectiveSizeUnit() SizeUnit {
	if b.SizeUnit == "" {
		return UnitBytes
	}
	return b.SizeUnit
}

// IsVariable reports whether b is a bytes/string Block whose length is
// not fixed by Size (i.e. it has a MaxSize or relies on a size field / the
// end of input).
func (b *Block) IsVariable() bool {
	return (b.Type == TypeBytes || b.Type == TypeString) && b.Size == 0
}

// ResponseHandler matches a parsed response and builds the next outgoing
// message's field overlay.
type ResponseHandler struct {
	Name      string
	Match     map[string]int64 // field name -> expected integer/bytes-as-int value
	MatchRaw  map[string][]byte
	SetFields map[string]SetField
}

// SetField is either a literal value or a copy from the parsed response.
type SetField struct {
	Literal          []byte
	LiteralInt       int64
	HasLiteral       bool
	CopyFromResponse string
	ExtractBits      *BitRange
}

// DataModel is an ordered sequence of Blocks plus optional response
// handling and seeds.
type DataModel struct {
	Blocks            []Block
	ResponseModel     *DataModel
	ResponseHandlers  []ResponseHandler
	Seeds             [][]byte
}

// BlockByName returns the Block named n, or nil.
func (m *DataModel) BlockByName(n string) *Block {
	for i := range m.Blocks {
		if m.Blocks[i].Name == n {
			return &m.Blocks[i]
		}
	}
	return nil
}

// Transition is one edge of a StateModel.
type Transition struct {
	From             string `json:"from"`
	To               string `json:"to"`
	Trigger          string `json:"trigger,omitempty"`
	MessageType      string `json:"message_type"`
	ExpectedResponse []byte `json:"expected_response,omitempty"`
}

// Label returns the "from->to" coverage key for this transition.
func (t Transition) Label() string {
	return t.From + "->" + t.To
}

// StateModel is the finite automaton describing legal message ordering.
type StateModel struct {
	InitialState string       `json:"initial_state"`
	States       []string     `json:"states"`
	Transitions  []Transition `json:"transitions"`
}

// Stage is one step of a ProtocolStack.
type Stage struct {
	Name   string `json:"name"` // conventionally "bootstrap", "fuzz_target", "teardown"
	Plugin string `json:"plugin"`
}

// ProtocolStack is the ordered list of stages a plugin runs through.
type ProtocolStack struct {
	Stages []Stage `json:"stages"`
}

// ConnectionSpec describes the transport a session should use.
type ConnectionSpec struct {
	Transport  string `json:"transport"` // "tcp" or "udp"
	Persistent bool   `json:"persistent"`
}

// OnFailure names the action a heartbeat takes once it crosses its
// failure threshold.
type OnFailure struct {
	Action    string `json:"action"` // "reconnect" or "stop"
	Threshold int    `json:"threshold"`
}

// HeartbeatSpec is a periodic keep-alive run alongside fuzzing on the
// same persistent connection. See json.go for its JSON encoding (the
// interval/jitter wire format is float seconds, not a Duration string).
type HeartbeatSpec struct {
	Interval       time.Duration
	Jitter         time.Duration
	Message        DataModel
	ExpectResponse bool
	OnFailure      OnFailure
}

// Export resolves a dotted field path against the last parsed response
// (or request) and stores the result under a ProtocolContext key.
type Export struct {
	FromField string `json:"from_field"` // dotted path, e.g. "response.token"
	Type      string `json:"type"`
}
