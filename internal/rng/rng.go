// Package rng provides the per-filter seedable random source used by every
// estimator in stochlab. Each filter instance owns exactly one Source; there
// is no process-wide generator, so two filters built with the same
// configuration and the same seed produce bit-identical sample sequences.
package rng

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"

	xrand "golang.org/x/exp/rand"
)

// Source wraps a golang.org/x/exp/rand generator, the RNG package the
// teacher's noise.Gaussian already draws from (it is the source type
// gonum.org/v1/gonum/stat/distmv.Normal requires). Unlike the teacher, which
// reseeds from time.Now().UnixNano() on every construction and reset, Source
// keeps the seed it was built with so callers can retrieve it and replay a
// run deterministically.
type Source struct {
	*xrand.Rand
	src  xrand.Source
	seed uint64
}

// New creates a Source seeded with seed.
func New(seed uint64) *Source {
	src := xrand.NewSource(seed)
	return &Source{
		Rand: xrand.New(src),
		src:  src,
		seed: seed,
	}
}

// XSource returns the underlying golang.org/x/exp/rand.Source, for gonum
// APIs (e.g. stat/distuv) that take a bare Source rather than a *Rand.
func (s *Source) XSource() xrand.Source {
	return s.src
}

// NewFromEntropy creates a Source seeded from the operating system's entropy
// source. The chosen seed is retrievable via Seed for reproducibility, per
// the "no seed supplied" contract in the external-interfaces section of the
// specification.
func NewFromEntropy() *Source {
	return New(osSeed())
}

// Seed returns the seed this Source was constructed with.
func (s *Source) Seed() uint64 {
	return s.seed
}

// Reseed reinitializes the generator in place with seed, discarding all
// prior draw state.
func (s *Source) Reseed(seed uint64) {
	src := xrand.NewSource(seed)
	s.Rand = xrand.New(src)
	s.src = src
	s.seed = seed
}

// Child derives a new, independent Source deterministically from this one.
// MetropolisThreaded uses it to fan a single caller-supplied seed out into
// one disjoint RNG stream per chain, keyed by the chain index, so that the
// whole multi-chain run is itself reproducible from one top-level seed.
func (s *Source) Child(index int) *Source {
	return New(s.seed*1000003 + uint64(index)*2654435761 + 1)
}

func osSeed() uint64 {
	n, err := rand.Int(rand.Reader, new(big.Int).SetUint64(^uint64(0)))
	if err != nil {
		// crypto/rand failing is exceptional; fall back to a fixed seed
		// rather than panicking the whole estimator engine.
		return 0x9E3779B97F4A7C15
	}
	var buf [8]byte
	n.FillBytes(buf[:])
	return binary.BigEndian.Uint64(buf[:])
}
