// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mutate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fuzzframe/protofuzz/internal/sampler"
)

func TestBitFlip_PreservesLength(t *testing.T) {
	r := sampler.NewRNG(1)
	in := []byte{0x01, 0x02, 0x03, 0x04}
	out := BitFlip(r, in)
	require.Len(t, out, len(in))
	require.NotEqual(t, in, out)
}

func TestByteFlip_PreservesLength(t *testing.T) {
	r := sampler.NewRNG(1)
	in := []byte{0x01, 0x02, 0x03, 0x04}
	out := ByteFlip(r, in)
	require.Len(t, out, len(in))
}

func TestArithmetic_TooShortReturnsInput(t *testing.T) {
	r := sampler.NewRNG(1)
	in := []byte{0x01, 0x02}
	require.Equal(t, in, Arithmetic(r, in))
}

func TestInterestingValue_PreservesLength(t *testing.T) {
	r := sampler.NewRNG(2)
	in := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	out := InterestingValue(r, in)
	require.Len(t, out, len(in))
}

func TestHavoc_NeverEmpty(t *testing.T) {
	r := sampler.NewRNG(3)
	in := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	for i := 0; i < 50; i++ {
		out := Havoc(r, in)
		require.NotEmpty(t, out)
	}
}

func TestSplice_CombinesTwoSeeds(t *testing.T) {
	r := sampler.NewRNG(4)
	seeds := [][]byte{[]byte("AAAA"), []byte("BBBB")}
	out := Splice(r, seeds)
	require.NotEmpty(t, out)
}

func TestSplice_RequiresTwoSeeds(t *testing.T) {
	r := sampler.NewRNG(4)
	require.Nil(t, Splice(r, [][]byte{[]byte("only-one")}))
}
