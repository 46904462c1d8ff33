// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/fuzzframe/protofuzz/blockmodel"
)

// blockSpan records the byte-aligned offsets a Block occupies in a
// serialized (or parsed) message, used by the fixup pass to find the
// region an is_size_field or is_checksum Block covers. Bits Blocks don't
// get a meaningful span since they needn't be byte-aligned individually.
type blockSpan struct {
	start, end int
}

// Parse walks m's Blocks in declared order against data, maintaining a
// combined byte-and-bit cursor, and returns the extracted field values.
// Consecutive "bits" Blocks share the bit cursor without realigning to a
// byte boundary between them; any other Block type realigns first.
func Parse(m *blockmodel.DataModel, data []byte) (FieldMap, error) {
	fields := make(FieldMap, len(m.Blocks))
	bitPos := 0

	for i := range m.Blocks {
		b := &m.Blocks[i]

		if b.Type == blockmodel.TypeBits {
			v, ok := readBitsAt(data, bitPos, b.Size, b.EffectiveBitOrder(), b.EffectiveEndian())
			if !ok {
				return nil, newParseError(bitPos/8, "truncated bits field %q", b.Name)
			}
			fields[b.Name] = IntValue(b.Type, int64(v))
			bitPos += b.Size
			continue
		}

		if bitPos%8 != 0 {
			bitPos = (bitPos/8 + 1) * 8
		}
		byteStart := bitPos / 8

		switch {
		case b.Type.IsInteger():
			w := b.Type.ByteWidth()
			if byteStart+w > len(data) {
				return nil, newParseError(byteStart, "truncated field %q", b.Name)
			}
			iv := decodeInt(data[byteStart:byteStart+w], b.Type, b.EffectiveEndian())
			fields[b.Name] = IntValue(b.Type, iv)
			bitPos += w * 8

		case b.Type == blockmodel.TypeBytes || b.Type == blockmodel.TypeString:
			n := b.Size
			if n == 0 {
				n = resolveVariableLength(m, fields, b, len(data), byteStart)
			}
			if byteStart+n > len(data) {
				n = len(data) - byteStart
			}
			if n < 0 {
				return nil, newParseError(byteStart, "negative length resolved for field %q", b.Name)
			}
			raw := make([]byte, n)
			copy(raw, data[byteStart:byteStart+n])
			fields[b.Name] = BytesValue(b.Type, raw)
			bitPos += n * 8

		default:
			return nil, newParseError(byteStart, "unknown field type %q for %q", b.Type, b.Name)
		}
	}

	return fields, nil
}

// resolveVariableLength determines how many bytes an unsized bytes/string
// Block consumes, by locating the is_size_field Block (already parsed,
// since validation requires it precede or bind the variable field) whose
// size_of names only this field. When no binding size field covers b
// alone (the common case: b is the last, unbounded Block), the remainder
// of the input is consumed.
func resolveVariableLength(m *blockmodel.DataModel, parsed FieldMap, b *blockmodel.Block, dataLen, byteStart int) int {
	for i := range m.Blocks {
		sf := &m.Blocks[i]
		if !sf.IsSizeField || len(sf.SizeOf) != 1 || sf.SizeOf[0] != b.Name {
			continue
		}
		v, ok := parsed[sf.Name]
		if !ok {
			continue
		}
		return sizeValueToBytes(sf.EffectiveSizeUnit(), v.Int)
	}
	return dataLen - byteStart
}

func sizeValueToBytes(unit blockmodel.SizeUnit, val int64) int {
	if unit == blockmodel.UnitBits {
		return int((val + 7) / 8)
	}
	return int(val) * unit.BytesPerUnit()
}

func bytesToSizeValue(unit blockmodel.SizeUnit, nbytes int) uint64 {
	if unit == blockmodel.UnitBits {
		return uint64(nbytes * 8)
	}
	per := unit.BytesPerUnit()
	if per == 0 {
		per = 1
	}
	return uint64(nbytes / per)
}

// Serialize renders fields into bytes per m, in two passes: the first
// emits every Block at its natural offset, writing zero placeholders for
// is_size_field/is_checksum Blocks; the second recomputes those
// placeholders once every other Block's final offset is known.
func Serialize(m *blockmodel.DataModel, fields FieldMap) ([]byte, error) {
	buf := make([]byte, 0, 64)
	bitPos := 0
	spans := make(map[string]blockSpan, len(m.Blocks))

	for i := range m.Blocks {
		b := &m.Blocks[i]

		if b.Type == blockmodel.TypeBits {
			var iv int64
			if v, ok := fields[b.Name]; ok {
				iv = v.Int
			}
			buf = writeBitsAt(buf, bitPos, b.Size, b.EffectiveBitOrder(), b.EffectiveEndian(), uint64(iv))
			bitPos += b.Size
			continue
		}

		if bitPos%8 != 0 {
			bitPos = (bitPos/8 + 1) * 8
		}
		byteStart := bitPos / 8

		switch {
		case b.IsSizeField || b.IsChecksum:
			w := b.Type.ByteWidth()
			buf = growTo(buf, byteStart+w)
			spans[b.Name] = blockSpan{byteStart, byteStart + w}
			bitPos += w * 8

		case b.Type.IsInteger():
			w := b.Type.ByteWidth()
			var iv int64
			if v, ok := fields[b.Name]; ok {
				iv = v.Int
			}
			buf = growTo(buf, byteStart+w)
			encodeIntInto(buf[byteStart:byteStart+w], iv, b.Type, b.EffectiveEndian())
			spans[b.Name] = blockSpan{byteStart, byteStart + w}
			bitPos += w * 8

		case b.Type == blockmodel.TypeBytes || b.Type == blockmodel.TypeString:
			var raw []byte
			if v, ok := fields[b.Name]; ok && v.Raw != nil {
				raw = v.Raw
			} else {
				raw = b.Default
			}
			buf = growTo(buf, byteStart+len(raw))
			copy(buf[byteStart:byteStart+len(raw)], raw)
			spans[b.Name] = blockSpan{byteStart, byteStart + len(raw)}
			bitPos += len(raw) * 8

		default:
			return nil, fmt.Errorf("unknown field type %q for %q", b.Type, b.Name)
		}
	}

	for i := range m.Blocks {
		b := &m.Blocks[i]
		if b.IsSizeField {
			total := 0
			for _, ref := range b.SizeOf {
				if sp, ok := spans[ref]; ok {
					total += sp.end - sp.start
				}
			}
			sp := spans[b.Name]
			val := bytesToSizeValue(b.EffectiveSizeUnit(), total)
			encodeIntInto(buf[sp.start:sp.end], int64(val), b.Type, b.EffectiveEndian())
		}
	}
	for i := range m.Blocks {
		b := &m.Blocks[i]
		if b.IsChecksum {
			sp := spans[b.Name]
			region := checksumRegion(b.ChecksumOver, buf, sp.start, sp.end)
			val, err := computeChecksum(b.ChecksumAlgorithm, region)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", b.Name, err)
			}
			encodeIntInto(buf[sp.start:sp.end], int64(val), b.Type, b.EffectiveEndian())
		}
	}

	return buf, nil
}

func growTo(buf []byte, n int) []byte {
	for len(buf) < n {
		buf = append(buf, 0)
	}
	return buf
}

func decodeInt(raw []byte, t blockmodel.FieldType, endian blockmodel.Endian) int64 {
	var u uint64
	switch len(raw) {
	case 1:
		u = uint64(raw[0])
	case 2:
		if endian == blockmodel.LittleEndian {
			u = uint64(binary.LittleEndian.Uint16(raw))
		} else {
			u = uint64(binary.BigEndian.Uint16(raw))
		}
	case 4:
		if endian == blockmodel.LittleEndian {
			u = uint64(binary.LittleEndian.Uint32(raw))
		} else {
			u = uint64(binary.BigEndian.Uint32(raw))
		}
	case 8:
		if endian == blockmodel.LittleEndian {
			u = binary.LittleEndian.Uint64(raw)
		} else {
			u = binary.BigEndian.Uint64(raw)
		}
	}
	if t.Signed() {
		return signExtend(int64(u), len(raw)*8)
	}
	return int64(u)
}

// EncodeIntValue renders v as the raw bytes an integer Block of type t and
// endianness endian would occupy on the wire. Used to turn a parsed
// response field back into bytes for context export, the same encoding
// Serialize itself uses for a fixed integer Block.
func EncodeIntValue(t blockmodel.FieldType, endian blockmodel.Endian, v int64) []byte {
	w := t.ByteWidth()
	if w == 0 {
		return nil
	}
	out := make([]byte, w)
	encodeIntInto(out, v, t, endian)
	return out
}

func encodeIntInto(dst []byte, v int64, t blockmodel.FieldType, endian blockmodel.Endian) {
	u := uint64(v)
	switch len(dst) {
	case 1:
		dst[0] = byte(u)
	case 2:
		if endian == blockmodel.LittleEndian {
			binary.LittleEndian.PutUint16(dst, uint16(u))
		} else {
			binary.BigEndian.PutUint16(dst, uint16(u))
		}
	case 4:
		if endian == blockmodel.LittleEndian {
			binary.LittleEndian.PutUint32(dst, uint32(u))
		} else {
			binary.BigEndian.PutUint32(dst, uint32(u))
		}
	case 8:
		if endian == blockmodel.LittleEndian {
			binary.LittleEndian.PutUint64(dst, u)
		} else {
			binary.BigEndian.PutUint64(dst, u)
		}
	}
}
