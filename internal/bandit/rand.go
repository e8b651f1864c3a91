package bandit

import (
	"math/rand/v2"
	"sync"
)

// Sampler yields uniform draws in [0,1). The policy consumes one draw per
// dimension per decision.
type Sampler interface {
	Float64() float64
}

// Rand is a seedable Sampler safe for concurrent use. Two Rands built from
// the same seed produce identical draw sequences, which is what makes
// decision replay deterministic.
type Rand struct {
	mu  sync.Mutex
	src *rand.Rand
}

// NewRand returns a Rand seeded with seed.
func NewRand(seed uint64) *Rand {
	return &Rand{src: rand.New(rand.NewPCG(seed, seed<<32|0x9e3779b97f4a7c15))}
}

// Float64 returns the next draw in [0,1).
func (r *Rand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.Float64()
}
