// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package blockmodel

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Plugin definition files are plain JSON documents using the snake_case
// keys spec.md §3 names directly (e.g. "is_size_field", "from_context").
// The types in block.go are the shape the rest of the engine consumes
// directly, so unmarshaling decodes straight into them rather than
// through a separate DTO layer; only the handful of fields whose wire
// representation isn't a 1:1 Go type (durations as float seconds, a
// documentary int-keyed label map, a field that is either a literal or a
// copy-from-response directive) need custom (Un)MarshalJSON.

type blockJSON struct {
	Name     string            `json:"name"`
	Type     FieldType         `json:"type"`
	Size     int               `json:"size,omitempty"`
	MaxSize  int               `json:"max_size,omitempty"`
	Endian   Endian            `json:"endian,omitempty"`
	BitOrder BitOrder          `json:"bit_order,omitempty"`
	Default  json.RawMessage   `json:"default,omitempty"`
	Mutable  *bool             `json:"mutable,omitempty"`
	Values   map[string]string `json:"values,omitempty"`

	IsSizeField bool            `json:"is_size_field,omitempty"`
	SizeOf      json.RawMessage `json:"size_of,omitempty"`
	SizeUnit    SizeUnit        `json:"size_unit,omitempty"`

	IsChecksum        bool              `json:"is_checksum,omitempty"`
	ChecksumAlgorithm ChecksumAlgorithm `json:"checksum_algorithm,omitempty"`
	ChecksumOver      ChecksumOver      `json:"checksum_over,omitempty"`

	Behavior *Behavior `json:"behavior,omitempty"`

	FromContext string `json:"from_context,omitempty"`

	CopyFromResponse string    `json:"copy_from_response,omitempty"`
	ExtractBits      *BitRange `json:"extract_bits,omitempty"`
}

// UnmarshalJSON decodes one plugin "block" document into b.
func (b *Block) UnmarshalJSON(data []byte) error {
	var j blockJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("block: %w", err)
	}

	*b = Block{
		Name:              j.Name,
		Type:              j.Type,
		Size:              j.Size,
		MaxSize:           j.MaxSize,
		Endian:            j.Endian,
		BitOrder:          j.BitOrder,
		IsSizeField:       j.IsSizeField,
		SizeUnit:          j.SizeUnit,
		IsChecksum:        j.IsChecksum,
		ChecksumAlgorithm: j.ChecksumAlgorithm,
		ChecksumOver:      j.ChecksumOver,
		Behavior:          j.Behavior,
		FromContext:       j.FromContext,
		CopyFromResponse:  j.CopyFromResponse,
		ExtractBits:       j.ExtractBits,
	}

	if j.Mutable != nil {
		b.MutableSet = true
		b.Mutable = *j.Mutable
	}

	if len(j.SizeOf) > 0 {
		sizeOf, err := decodeStringOrList(j.SizeOf)
		if err != nil {
			return fmt.Errorf("block %q: size_of: %w", j.Name, err)
		}
		b.SizeOf = sizeOf
	}

	if len(j.Values) > 0 {
		b.Values = make(map[int64]string, len(j.Values))
		for k, v := range j.Values {
			n, err := strconv.ParseInt(k, 0, 64)
			if err != nil {
				return fmt.Errorf("block %q: values key %q: %w", j.Name, k, err)
			}
			b.Values[n] = v
		}
	}

	if len(j.Default) > 0 {
		def, err := decodeDefault(j.Default, b.Type, b.Size)
		if err != nil {
			return fmt.Errorf("block %q: default: %w", j.Name, err)
		}
		b.Default = def
	}

	return nil
}

// decodeStringOrList decodes a JSON value that is either a bare string or
// a list of strings into a []string, per spec.md §3's size_of attribute
// ("string or ordered list of field names").
func decodeStringOrList(raw json.RawMessage) ([]string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// decodeDefault interprets a block's "default" per its declared type: a
// JSON string is taken as literal text bytes, a JSON array of numbers as
// a raw byte sequence, and a JSON number (integer types only) as the
// field's big-endian encoding at its declared width.
func decodeDefault(raw json.RawMessage, t FieldType, size int) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s), nil
	}
	var bytesList []byte
	if err := json.Unmarshal(raw, &bytesList); err == nil {
		return bytesList, nil
	}
	if t.IsInteger() {
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		w := t.ByteWidth()
		out := make([]byte, w)
		u := uint64(n)
		for i := w - 1; i >= 0; i-- {
			out[i] = byte(u)
			u >>= 8
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported default literal for type %q", t)
}

type behaviorJSON struct {
	Operation BehaviorOp `json:"operation"`
	Initial   int64      `json:"initial,omitempty"`
	Step      *int64     `json:"step,omitempty"`
	Wrap      *uint64    `json:"wrap,omitempty"`
	Value     int64      `json:"value,omitempty"`
}

// UnmarshalJSON decodes a block's "behavior" object, defaulting an absent
// "step" to 1 and tracking whether "wrap" was present so Behavior.WrapSet
// can distinguish "not configured" from "explicitly 0".
func (b *Behavior) UnmarshalJSON(data []byte) error {
	var j behaviorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("behavior: %w", err)
	}
	*b = Behavior{Operation: j.Operation, Initial: j.Initial, Step: 1, Value: j.Value}
	if j.Step != nil {
		b.Step = *j.Step
	}
	if j.Wrap != nil {
		b.Wrap = *j.Wrap
		b.WrapSet = true
	}
	return nil
}

type dataModelJSON struct {
	Blocks           []Block           `json:"blocks"`
	ResponseModel    *dataModelJSON    `json:"response_model,omitempty"`
	ResponseHandlers []ResponseHandler `json:"response_handlers,omitempty"`
	Seeds            []string          `json:"seeds,omitempty"`
}

// UnmarshalJSON decodes a data model document. Seeds are hex-encoded
// strings (the cleanest lossless JSON representation of arbitrary
// message bytes); plugin.json fixtures use the same encoding.
func (m *DataModel) UnmarshalJSON(data []byte) error {
	var j dataModelJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("data_model: %w", err)
	}
	m.Blocks = j.Blocks
	m.ResponseHandlers = j.ResponseHandlers
	if j.ResponseModel != nil {
		rm := &DataModel{Blocks: j.ResponseModel.Blocks, ResponseHandlers: j.ResponseModel.ResponseHandlers}
		if len(j.ResponseModel.Seeds) > 0 {
			seeds, err := decodeHexSeeds(j.ResponseModel.Seeds)
			if err != nil {
				return fmt.Errorf("response_model: %w", err)
			}
			rm.Seeds = seeds
		}
		m.ResponseModel = rm
	}
	if len(j.Seeds) > 0 {
		seeds, err := decodeHexSeeds(j.Seeds)
		if err != nil {
			return err
		}
		m.Seeds = seeds
	}
	return nil
}

func decodeHexSeeds(hexSeeds []string) ([][]byte, error) {
	seeds := make([][]byte, len(hexSeeds))
	for i, s := range hexSeeds {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("seed %d: %w", i, err)
		}
		seeds[i] = b
	}
	return seeds, nil
}

type responseHandlerJSON struct {
	Name      string                     `json:"name"`
	Match     map[string]json.RawMessage `json:"match,omitempty"`
	SetFields map[string]json.RawMessage `json:"set_fields,omitempty"`
}

// UnmarshalJSON decodes one response_handlers entry. Each "match" value
// is a JSON number (compared against the parsed integer field) or a
// string (compared against the parsed raw bytes field, see
// Block.UnmarshalJSON's default-literal convention). Each "set_fields"
// value is either a literal (number/string) or {"copy_from_response":
// "...", "extract_bits": {...}}.
func (h *ResponseHandler) UnmarshalJSON(data []byte) error {
	var j responseHandlerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("response_handler: %w", err)
	}
	h.Name = j.Name

	if len(j.Match) > 0 {
		h.Match = make(map[string]int64, len(j.Match))
		h.MatchRaw = make(map[string][]byte, len(j.Match))
		for field, raw := range j.Match {
			var n int64
			if err := json.Unmarshal(raw, &n); err == nil {
				h.Match[field] = n
				continue
			}
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("handler %q: match %q: %w", j.Name, field, err)
			}
			h.MatchRaw[field] = []byte(s)
		}
	}

	if len(j.SetFields) > 0 {
		h.SetFields = make(map[string]SetField, len(j.SetFields))
		for field, raw := range j.SetFields {
			sf, err := decodeSetField(raw)
			if err != nil {
				return fmt.Errorf("handler %q: set_fields %q: %w", j.Name, field, err)
			}
			h.SetFields[field] = sf
		}
	}
	return nil
}

type copyFromResponseJSON struct {
	CopyFromResponse string    `json:"copy_from_response"`
	ExtractBits      *BitRange `json:"extract_bits,omitempty"`
}

func decodeSetField(raw json.RawMessage) (SetField, error) {
	var cfr copyFromResponseJSON
	if err := json.Unmarshal(raw, &cfr); err == nil && cfr.CopyFromResponse != "" {
		return SetField{CopyFromResponse: cfr.CopyFromResponse, ExtractBits: cfr.ExtractBits}, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return SetField{LiteralInt: n, HasLiteral: true}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return SetField{Literal: []byte(s), HasLiteral: true}, nil
	}
	return SetField{}, fmt.Errorf("set_field value is neither a literal nor a copy_from_response object")
}

type heartbeatSpecJSON struct {
	IntervalSeconds float64         `json:"interval"`
	JitterSeconds   float64         `json:"jitter,omitempty"`
	Message         DataModel       `json:"message"`
	ExpectResponse  bool            `json:"expect_response,omitempty"`
	OnFailure       heartbeatFailJSON `json:"on_failure"`
}

type heartbeatFailJSON struct {
	Action    string `json:"action"`
	Threshold int    `json:"threshold"`
}

// UnmarshalJSON decodes a heartbeat spec, converting its float-seconds
// interval/jitter into time.Duration.
func (h *HeartbeatSpec) UnmarshalJSON(data []byte) error {
	var j heartbeatSpecJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	h.Interval = time.Duration(j.IntervalSeconds * float64(time.Second))
	h.Jitter = time.Duration(j.JitterSeconds * float64(time.Second))
	h.Message = j.Message
	h.ExpectResponse = j.ExpectResponse
	h.OnFailure = OnFailure{Action: j.OnFailure.Action, Threshold: j.OnFailure.Threshold}
	return nil
}

type pluginJSON struct {
	DataModel      DataModel         `json:"data_model"`
	StateModel     *StateModel       `json:"state_model,omitempty"`
	ProtocolStack  *ProtocolStack    `json:"protocol_stack,omitempty"`
	ConnectionSpec *ConnectionSpec   `json:"connection_spec,omitempty"`
	HeartbeatSpec  *HeartbeatSpec    `json:"heartbeat,omitempty"`
	Exports        map[string]Export `json:"exports,omitempty"`
}

// UnmarshalJSON decodes a plugin definition file. Validator is never
// populated from JSON (spec.md §6: "the validator is the only executable
// part"); it can only be supplied in-process, by a caller registering a
// compiled-in function against the plugin after Load returns.
func (p *Plugin) UnmarshalJSON(data []byte) error {
	var j pluginJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("plugin: %w", err)
	}
	p.DataModel = j.DataModel
	p.StateModel = j.StateModel
	p.ProtocolStack = j.ProtocolStack
	p.ConnectionSpec = j.ConnectionSpec
	p.HeartbeatSpec = j.HeartbeatSpec
	p.Exports = j.Exports
	return nil
}
