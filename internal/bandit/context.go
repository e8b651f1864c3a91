package bandit

import (
	"fmt"
	"math"
)

// Context is the request-side feature vector the policy conditions on.
// It is the concatenation of the business embedding and the topic embedding,
// both produced by the same embedding model so their widths match the
// configured dimension. Immutable once built for a decision.
type Context struct {
	Vector []float64
}

// BuildContext concatenates the business and topic embeddings into a single
// context vector of width want. Either part may be empty when the caller has
// no signal for it; the missing half is zero-filled so the contextual term
// falls back to the discrete preference alone.
func BuildContext(business, topic []float64, want int) (Context, error) {
	if want <= 0 {
		return Context{}, fmt.Errorf("context width %d: %w", want, ErrDimensionMismatch)
	}
	if want%2 != 0 {
		return Context{}, fmt.Errorf("context width %d is not an even split: %w", want, ErrDimensionMismatch)
	}
	half := want / 2
	if len(business) != 0 && len(business) != half {
		return Context{}, fmt.Errorf("business embedding has %d dims, want %d: %w", len(business), half, ErrDimensionMismatch)
	}
	if len(topic) != 0 && len(topic) != half {
		return Context{}, fmt.Errorf("topic embedding has %d dims, want %d: %w", len(topic), half, ErrDimensionMismatch)
	}
	vec := make([]float64, want)
	copy(vec, business)
	copy(vec[half:], topic)
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Context{}, fmt.Errorf("context element %d is not finite: %w", i, ErrNotFinite)
		}
	}
	return Context{Vector: vec}, nil
}

// Dim returns the context width.
func (c Context) Dim() int { return len(c.Vector) }

// Dot returns the inner product of the context with a weight vector of the
// same width.
func (c Context) Dot(w []float64) (float64, error) {
	if len(w) != len(c.Vector) {
		return 0, fmt.Errorf("weight vector has %d dims, context has %d: %w", len(w), len(c.Vector), ErrDimensionMismatch)
	}
	var sum float64
	for i, v := range c.Vector {
		sum += v * w[i]
	}
	return sum, nil
}
