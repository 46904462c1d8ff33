// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"fmt"
	"hash/adler32"
	"hash/crc32"

	"github.com/fuzzframe/protofuzz/blockmodel"
)

// computeChecksum runs algo over region and returns the result as a
// plain integer, ready to be truncated/encoded into the checksum Block's
// declared width by the caller. sum/xor/sum8/sum16 have no accepted
// third-party implementation in the stack this codebase draws from, so
// they're hand-rolled here; crc32 and adler32 use the standard library's
// hash/crc32 (IEEE polynomial, matching the common "CRC32" protocol
// default) and hash/adler32.
func computeChecksum(algo blockmodel.ChecksumAlgorithm, region []byte) (uint64, error) {
	switch algo {
	case blockmodel.ChecksumCRC32:
		return uint64(crc32.ChecksumIEEE(region)), nil
	case blockmodel.ChecksumAdler32:
		return uint64(adler32.Checksum(region)), nil
	case blockmodel.ChecksumSum:
		var s uint64
		for _, b := range region {
			s += uint64(b)
		}
		return s, nil
	case blockmodel.ChecksumXOR:
		var x byte
		for _, b := range region {
			x ^= b
		}
		return uint64(x), nil
	case blockmodel.ChecksumSum8:
		var s byte
		for _, b := range region {
			s += b
		}
		return uint64(s), nil
	case blockmodel.ChecksumSum16:
		var s uint16
		for i := 0; i < len(region); i++ {
			s += uint16(region[i])
		}
		return uint64(s), nil
	default:
		return 0, fmt.Errorf("unsupported checksum algorithm %q", algo)
	}
}

// checksumRegion resolves a checksum Block's checksum_over declaration
// against a fully-sized (but not yet fixed-up) output buffer, given the
// checksum block's own byte span [selfStart, selfEnd).
func checksumRegion(over blockmodel.ChecksumOver, buf []byte, selfStart, selfEnd int) []byte {
	switch over {
	case blockmodel.OverBefore:
		return buf[:selfStart]
	case blockmodel.OverAfter:
		return buf[selfEnd:]
	case blockmodel.OverHeader:
		return buf[:selfStart]
	case blockmodel.OverPayload:
		return buf[selfEnd:]
	case blockmodel.OverAll:
		fallthrough
	default:
		out := make([]byte, 0, len(buf)-(selfEnd-selfStart))
		out = append(out, buf[:selfStart]...)
		out = append(out, buf[selfEnd:]...)
		return out
	}
}
