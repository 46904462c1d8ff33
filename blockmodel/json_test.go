// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package blockmodel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// simpDataModelJSON is spec.md §8 scenario 1's length-auto-fix model,
// written the way a plugin author actually authors it: snake_case keys,
// hex-encoded seeds.
const simpDataModelJSON = `{
	"blocks": [
		{"name": "magic", "type": "bytes", "size": 4, "mutable": false, "default": "SIMP"},
		{"name": "len", "type": "uint16", "size": 2, "endian": "big",
		 "is_size_field": true, "size_of": "payload", "size_unit": "bytes"},
		{"name": "payload", "type": "bytes", "max_size": 64}
	],
	"seeds": ["53494d50000548454c4c4f"]
}`

func TestDataModel_UnmarshalJSON_SnakeCase(t *testing.T) {
	var m DataModel
	require.NoError(t, json.Unmarshal([]byte(simpDataModelJSON), &m))

	require.Len(t, m.Blocks, 3)
	magic := m.BlockByName("magic")
	require.NotNil(t, magic)
	require.Equal(t, TypeBytes, magic.Type)
	require.False(t, magic.IsMutable())
	require.Equal(t, []byte("SIMP"), magic.Default)

	length := m.BlockByName("len")
	require.NotNil(t, length)
	require.True(t, length.IsSizeField)
	require.Equal(t, []string{"payload"}, length.SizeOf)
	require.Equal(t, UnitBytes, length.SizeUnit)
	require.Equal(t, BigEndian, length.EffectiveEndian())

	payload := m.BlockByName("payload")
	require.NotNil(t, payload)
	require.Equal(t, 64, payload.MaxSize)

	require.Len(t, m.Seeds, 1)
	require.Equal(t, []byte("SIMP\x00\x05HELLO"), m.Seeds[0])

	require.NoError(t, ValidateDataModel(&m))
}

func TestBlock_UnmarshalJSON_ChecksumAndBehavior(t *testing.T) {
	raw := `{
		"name": "sum", "type": "uint32", "size": 4, "endian": "big",
		"is_checksum": true, "checksum_algorithm": "crc32", "checksum_over": "before",
		"behavior": {"operation": "increment", "step": 2, "wrap": 65536}
	}`
	var b Block
	require.NoError(t, json.Unmarshal([]byte(raw), &b))
	require.True(t, b.IsChecksum)
	require.Equal(t, ChecksumCRC32, b.ChecksumAlgorithm)
	require.Equal(t, OverBefore, b.ChecksumOver)
	require.NotNil(t, b.Behavior)
	require.Equal(t, BehaviorIncrement, b.Behavior.Operation)
	require.Equal(t, int64(2), b.Behavior.Step)
	require.True(t, b.Behavior.WrapSet)
	require.Equal(t, uint64(65536), b.Behavior.Wrap)
}

func TestBlock_UnmarshalJSON_FromContextAndValues(t *testing.T) {
	raw := `{
		"name": "cmd", "type": "uint8", "size": 1,
		"from_context": "session_token",
		"values": {"1": "CONNECT", "2": "AUTH"}
	}`
	var b Block
	require.NoError(t, json.Unmarshal([]byte(raw), &b))
	require.Equal(t, "session_token", b.FromContext)
	require.Equal(t, "CONNECT", b.Values[1])
	require.Equal(t, "AUTH", b.Values[2])
}

func TestDataModel_UnmarshalJSON_ResponseHandlers(t *testing.T) {
	raw := `{
		"blocks": [{"name": "cmd", "type": "uint8", "size": 1}],
		"response_model": {
			"blocks": [
				{"name": "status", "type": "uint8", "size": 1},
				{"name": "token", "type": "bytes", "size": 4}
			]
		},
		"response_handlers": [
			{
				"name": "ok",
				"match": {"status": 0},
				"set_fields": {
					"cmd": 2,
					"session_token": {"copy_from_response": "token"}
				}
			}
		]
	}`
	var m DataModel
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	require.NotNil(t, m.ResponseModel)
	require.NotNil(t, m.ResponseModel.BlockByName("token"))
	require.Len(t, m.ResponseHandlers, 1)

	h := m.ResponseHandlers[0]
	require.Equal(t, "ok", h.Name)
	require.Equal(t, int64(0), h.Match["status"])

	sf := h.SetFields["cmd"]
	require.True(t, sf.HasLiteral)
	require.Equal(t, int64(2), sf.LiteralInt)

	tok := h.SetFields["session_token"]
	require.Equal(t, "token", tok.CopyFromResponse)
}

func TestHeartbeatSpec_UnmarshalJSON_SecondsToDuration(t *testing.T) {
	raw := `{
		"interval": 1.5,
		"jitter": 0.25,
		"message": {"blocks": [{"name": "ping", "type": "uint8", "size": 1}]},
		"expect_response": true,
		"on_failure": {"action": "reconnect", "threshold": 3}
	}`
	var h HeartbeatSpec
	require.NoError(t, json.Unmarshal([]byte(raw), &h))
	require.Equal(t, 1500*1000*1000, int(h.Interval))
	require.Equal(t, 250*1000*1000, int(h.Jitter))
	require.True(t, h.ExpectResponse)
	require.Equal(t, "reconnect", h.OnFailure.Action)
	require.Equal(t, 3, h.OnFailure.Threshold)
}

func TestPlugin_UnmarshalJSON_Full(t *testing.T) {
	raw := `{
		"data_model": {
			"blocks": [{"name": "cmd", "type": "uint8", "size": 1}]
		},
		"state_model": {
			"initial_state": "INIT",
			"states": ["INIT", "CONNECTED"],
			"transitions": [{"from": "INIT", "to": "CONNECTED", "message_type": "CONNECT"}]
		},
		"connection_spec": {"transport": "tcp", "persistent": true},
		"exports": {"session_token": {"from_field": "response.token", "type": "bytes"}}
	}`
	var p Plugin
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	p.ID = "demo"
	require.NoError(t, ValidatePlugin(&p))
	require.True(t, p.HasStateModel())
	require.Equal(t, "INIT", p.StateModel.InitialState)
	require.Equal(t, "tcp", p.ConnectionSpec.Transport)
	require.Equal(t, "response.token", p.Exports["session_token"].FromField)
}
