// Package prng provides the core's single seeding discipline: every
// component that needs randomness (a sampler's reservoir decisions, a
// tree's cut sampling) gets its own *rand.Rand derived from a master
// seed plus a component index, never a generator shared across
// goroutines. That is what lets repeated runs reproduce identical forests
// even when trees are updated concurrently by a worker pool.
package prng

import (
	"math/rand"

	"github.com/cespare/xxhash/v2"
)

// DeriveSeed folds a master seed and a component index into a single
// 64-bit seed via xxhash, so per-component seeds are deterministic,
// well distributed, and stable across process restarts.
func DeriveSeed(masterSeed int64, componentIndex int) int64 {
	var buf [16]byte
	putUint64(buf[0:8], uint64(masterSeed))
	putUint64(buf[8:16], uint64(componentIndex))
	return int64(xxhash.Sum64(buf[:]))
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// New returns a seeded generator for componentIndex under masterSeed.
func New(masterSeed int64, componentIndex int) *rand.Rand {
	return rand.New(rand.NewSource(DeriveSeed(masterSeed, componentIndex)))
}
