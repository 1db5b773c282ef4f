// Package random provides seeded pseudo-random generators for the
// tie-break games. Games take a *rand.Rand so tests can pin the sequence.
package random

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
)

// NewSeed generates a random seed using crypto/rand.
func NewSeed() (uint64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// Source returns a fresh generator for one game round.
type Source func() (*rand.Rand, error)

// Crypto seeds every generator from crypto/rand.
func Crypto() (*rand.Rand, error) {
	seed, err := NewSeed()
	if err != nil {
		return nil, err
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), nil
}

// Fixed returns a Source that always yields the same sequence.
func Fixed(seed uint64) Source {
	return func() (*rand.Rand, error) {
		return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), nil
	}
}
