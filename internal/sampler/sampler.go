// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sampler wraps a seeded randomness source so that a fuzzing
// session's mutation and transition choices are reproducible from a
// persisted seed.
package sampler

import "math/rand"

// Source is a source of randomness that can be re-seeded.
type Source interface {
	Seed(int64)
	Uint64() uint64
}

// source wraps a rand.Rand to implement Source.
type source struct {
	*rand.Rand
}

// NewSource returns a new Source with the given seed.
func NewSource(seed int64) Source {
	return &source{Rand: rand.New(rand.NewSource(seed))}
}

// RNG is the per-session random number generator. Every session owns one,
// seeded from a persisted int64 so that replaying a checkpoint reproduces
// the same sequence of mutation and transition choices.
type RNG struct {
	*rand.Rand
	seed int64
}

// NewRNG returns an RNG seeded with the given value.
func NewRNG(seed int64) *RNG {
	return &RNG{Rand: rand.New(rand.NewSource(seed)), seed: seed}
}

// Seed returns the seed this RNG was constructed with, for persistence.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Choice returns a uniformly random index in [0, n).
func (r *RNG) Choice(n int) int {
	if n <= 0 {
		return 0
	}
	return r.Intn(n)
}

// Bytes fills and returns a slice of n uniformly random bytes.
func (r *RNG) Bytes(n int) []byte {
	buf := make([]byte, n)
	r.Read(buf) //nolint:errcheck // rand.Rand.Read never errors
	return buf
}

// Roll1to100 returns a uniform integer in [1, 100], used by the hybrid
// mutation-mode dispatcher's weighted coin flip.
func (r *RNG) Roll1to100() int {
	return r.Intn(100) + 1
}
