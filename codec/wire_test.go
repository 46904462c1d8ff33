// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fuzzframe/protofuzz/blockmodel"
)

func lengthModel() *blockmodel.DataModel {
	return &blockmodel.DataModel{
		Blocks: []blockmodel.Block{
			{Name: "magic", Type: blockmodel.TypeBytes, Size: 4},
			{Name: "len", Type: blockmodel.TypeUint16, Size: 2, IsSizeField: true, SizeOf: []string{"payload"}, SizeUnit: blockmodel.UnitBytes},
			{Name: "payload", Type: blockmodel.TypeBytes, MaxSize: 64},
		},
	}
}

func TestSerialize_LengthAutoFix(t *testing.T) {
	m := lengthModel()
	fields := FieldMap{
		"magic":   BytesValue(blockmodel.TypeBytes, []byte("ABCD")),
		"len":     IntValue(blockmodel.TypeUint16, 0), // wrong on purpose; must be recomputed
		"payload": BytesValue(blockmodel.TypeBytes, []byte("hello world")),
	}
	out, err := Serialize(m, fields)
	require.NoError(t, err)
	require.Equal(t, []byte("ABCD"), out[0:4])
	require.Equal(t, uint16(11), uint16(out[4])<<8|uint16(out[5]))
	require.Equal(t, []byte("hello world"), out[6:])
}

func TestParse_RoundTrip(t *testing.T) {
	m := lengthModel()
	fields := FieldMap{
		"magic":   BytesValue(blockmodel.TypeBytes, []byte("ABCD")),
		"payload": BytesValue(blockmodel.TypeBytes, []byte("xyz")),
	}
	out, err := Serialize(m, fields)
	require.NoError(t, err)

	parsed, err := Parse(m, out)
	require.NoError(t, err)
	require.Equal(t, []byte("ABCD"), parsed["magic"].Raw)
	require.Equal(t, int64(3), parsed["len"].Int)
	require.Equal(t, []byte("xyz"), parsed["payload"].Raw)
}

func checksumModel() *blockmodel.DataModel {
	return &blockmodel.DataModel{
		Blocks: []blockmodel.Block{
			{Name: "header", Type: blockmodel.TypeUint32, Size: 4},
			{Name: "crc", Type: blockmodel.TypeUint32, Size: 4, IsChecksum: true,
				ChecksumAlgorithm: blockmodel.ChecksumCRC32, ChecksumOver: blockmodel.OverAfter},
			{Name: "payload", Type: blockmodel.TypeBytes, MaxSize: 32},
		},
	}
}

func TestSerialize_ChecksumRecompute(t *testing.T) {
	m := checksumModel()
	fields := FieldMap{
		"header":  IntValue(blockmodel.TypeUint32, 0xdeadbeef),
		"crc":     IntValue(blockmodel.TypeUint32, 0),
		"payload": BytesValue(blockmodel.TypeBytes, []byte("payload-bytes")),
	}
	out, err := Serialize(m, fields)
	require.NoError(t, err)

	want, err := computeChecksum(blockmodel.ChecksumCRC32, []byte("payload-bytes"))
	require.NoError(t, err)
	got := decodeInt(out[4:8], blockmodel.TypeUint32, blockmodel.BigEndian)
	require.Equal(t, int64(want), got)
}

func bitModel() *blockmodel.DataModel {
	return &blockmodel.DataModel{
		Blocks: []blockmodel.Block{
			{Name: "version", Type: blockmodel.TypeBits, Size: 3},
			{Name: "flags", Type: blockmodel.TypeBits, Size: 5},
			{Name: "opcode", Type: blockmodel.TypeBits, Size: 8},
		},
	}
}

func TestBitFields_PackMSBFirst(t *testing.T) {
	m := bitModel()
	fields := FieldMap{
		"version": IntValue(blockmodel.TypeBits, 5),  // 101
		"flags":   IntValue(blockmodel.TypeBits, 19), // 10011
		"opcode":  IntValue(blockmodel.TypeBits, 0xAB),
	}
	out, err := Serialize(m, fields)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, byte(0b10110011), out[0])
	require.Equal(t, byte(0xAB), out[1])

	parsed, err := Parse(m, out)
	require.NoError(t, err)
	require.Equal(t, int64(5), parsed["version"].Int)
	require.Equal(t, int64(19), parsed["flags"].Int)
	require.Equal(t, int64(0xAB), parsed["opcode"].Int)
}

func TestIntEndianRoundTrip(t *testing.T) {
	m := &blockmodel.DataModel{Blocks: []blockmodel.Block{
		{Name: "le", Type: blockmodel.TypeUint32, Size: 4, Endian: blockmodel.LittleEndian},
	}}
	fields := FieldMap{"le": IntValue(blockmodel.TypeUint32, 0x01020304)}
	out, err := Serialize(m, fields)
	require.NoError(t, err)
	require.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, out)

	parsed, err := Parse(m, out)
	require.NoError(t, err)
	require.Equal(t, int64(0x01020304), parsed["le"].Int)
}
