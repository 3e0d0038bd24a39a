// Package ident generates the short alphabetic identifiers that name job
// artifacts and interactive sessions.
package ident

import (
	"math/rand/v2"
	"sync"
)

// Length is the number of characters in every identifier.
const Length = 8

// Alphabet holds the 52 letters identifiers are drawn from.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Generator produces identifiers from a private random source.
// It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// New returns a Generator seeded from the runtime's random source.
func New() *Generator {
	return NewSeeded(rand.Uint64(), rand.Uint64())
}

// NewSeeded returns a deterministic Generator.
func NewSeeded(seed1, seed2 uint64) *Generator {
	return &Generator{rnd: rand.New(rand.NewPCG(seed1, seed2))}
}

// Next returns a fresh identifier. Uniqueness is not guaranteed.
func (g *Generator) Next() string {
	var buf [Length]byte
	g.mu.Lock()
	for i := range buf {
		buf[i] = Alphabet[g.rnd.IntN(len(Alphabet))]
	}
	g.mu.Unlock()
	return string(buf[:])
}

// Valid reports whether id has the shape of a generated identifier.
func Valid(id string) bool {
	if len(id) != Length {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}
