package bandit

import (
	"fmt"
	"math"
)

// SlotWeights is the learned state the policy reads for one
// (platform, time bucket, day of week) slot. Both maps are sparse: a value
// that was never learned is simply absent and scores zero.
type SlotWeights struct {
	// Preferences maps dimension -> value -> discrete preference score H.
	Preferences map[string]map[string]float64

	// Thetas maps dimension -> value -> contextual weight vector.
	Thetas map[string]map[string][]float64
}

// ValueProbability is one candidate value with its combined score and the
// sampling probability the softmax assigned to it.
type ValueProbability struct {
	Value       string  `json:"value"`
	Score       float64 `json:"score"`
	Probability float64 `json:"probability"`
}

// DimensionChoice is the sampled value for one dimension together with the
// full distribution it was drawn from.
type DimensionChoice struct {
	Dimension    string             `json:"dimension"`
	Chosen       string             `json:"chosen"`
	Distribution []ValueProbability `json:"distribution"`
	Entropy      float64            `json:"entropy"`
}

// Selection is the output of one policy pass: the sampled action plus the
// per-dimension distributions for observability.
type Selection struct {
	Action  Action            `json:"action"`
	Choices []DimensionChoice `json:"choices"`
}

// Policy samples one value per dimension from a softmax over combined
// scores. Selection is read-only: the policy never writes learned state.
type Policy struct {
	space ActionSpace
	rng   Sampler
}

// NewPolicy builds a policy over the given action space. The sampler is the
// only source of randomness, so tests inject a seeded one.
func NewPolicy(space ActionSpace, rng Sampler) (*Policy, error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("policy: nil sampler")
	}
	return &Policy{space: space, rng: rng}, nil
}

// Space returns the action space the policy decides over.
func (p *Policy) Space() ActionSpace { return p.space }

// Decide scores every candidate value of every dimension against the slot
// weights and the context, then samples each dimension independently.
//
// Per value the combined score is S(v) = H(v) + theta(v)·context. Missing
// preferences contribute 0, missing thetas contribute a zero contextual
// term. The softmax subtracts the max score before exponentiation.
func (p *Policy) Decide(c Context, w SlotWeights) (Selection, error) {
	action := make(Action, len(p.space.Dimensions))
	choices := make([]DimensionChoice, 0, len(p.space.Dimensions))

	for _, dim := range p.space.Dimensions {
		if len(dim.Values) == 0 {
			return Selection{}, fmt.Errorf("dimension %q: %w", dim.Name, ErrEmptyValueSet)
		}
		scores := make([]float64, len(dim.Values))
		for i, v := range dim.Values {
			s := w.Preferences[dim.Name][v]
			if theta := w.Thetas[dim.Name][v]; len(theta) > 0 {
				contextual, err := c.Dot(theta)
				if err != nil {
					return Selection{}, fmt.Errorf("dimension %q value %q: %w", dim.Name, v, err)
				}
				s += contextual
			}
			scores[i] = s
		}

		probs, err := softmax(scores)
		if err != nil {
			return Selection{}, fmt.Errorf("dimension %q: %w", dim.Name, err)
		}

		idx := sampleIndex(probs, p.rng.Float64())
		action[dim.Name] = dim.Values[idx]

		dist := make([]ValueProbability, len(dim.Values))
		for i, v := range dim.Values {
			dist[i] = ValueProbability{Value: v, Score: scores[i], Probability: probs[i]}
		}
		choices = append(choices, DimensionChoice{
			Dimension:    dim.Name,
			Chosen:       dim.Values[idx],
			Distribution: dist,
			Entropy:      entropy(probs),
		})
	}

	return Selection{Action: action, Choices: choices}, nil
}

// softmax converts scores to probabilities with max-subtraction for numeric
// stability. Scores offset by any constant produce identical probabilities.
func softmax(scores []float64) ([]float64, error) {
	maxScore := math.Inf(-1)
	for _, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("score %v: %w", s, ErrNotFinite)
		}
		if s > maxScore {
			maxScore = s
		}
	}

	probs := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		e := math.Exp(s - maxScore)
		probs[i] = e
		sum += e
	}
	// sum >= 1 always: the max score contributes exp(0).
	var total float64
	for i := range probs {
		probs[i] /= sum
		total += probs[i]
	}
	if math.Abs(total-1) > 1e-6 {
		return nil, fmt.Errorf("probabilities sum to %v: %w", total, ErrNotFinite)
	}
	return probs, nil
}

// sampleIndex draws one index from the distribution via inverse CDF using a
// single uniform draw in [0,1).
func sampleIndex(probs []float64, u float64) int {
	var acc float64
	for i, p := range probs {
		acc += p
		if u < acc {
			return i
		}
	}
	return len(probs) - 1
}

// entropy returns the Shannon entropy of the distribution in nats. Higher
// means the policy is still exploring the dimension.
func entropy(probs []float64) float64 {
	var h float64
	for _, p := range probs {
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h
}
