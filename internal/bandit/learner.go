package bandit

import (
	"fmt"
	"math"
	"sort"

	"github.com/fyrsmithlabs/banditd/internal/store"
)

// LearningRates holds the two update step sizes.
type LearningRates struct {
	// Discrete scales the preference score update per advantage unit.
	Discrete float64 `json:"discrete"`

	// Theta scales the contextual weight update per advantage unit.
	Theta float64 `json:"theta"`
}

// DefaultLearningRates returns the documented defaults.
func DefaultLearningRates() LearningRates {
	return LearningRates{Discrete: 0.05, Theta: 0.01}
}

// Validate checks both rates are positive and finite.
func (r LearningRates) Validate() error {
	if r.Discrete <= 0 || math.IsNaN(r.Discrete) || math.IsInf(r.Discrete, 0) {
		return fmt.Errorf("discrete learning rate %v: %w", r.Discrete, ErrNotFinite)
	}
	if r.Theta <= 0 || math.IsNaN(r.Theta) || math.IsInf(r.Theta, 0) {
		return fmt.Errorf("theta learning rate %v: %w", r.Theta, ErrNotFinite)
	}
	return nil
}

// Update is one rewarded decision ready to be folded into learned state.
// Baseline is the post-update baseline returned by the tracker for this
// reward; the learner treats NaN as "baseline step was skipped", which is a
// sequencing bug in the caller.
type Update struct {
	PostID     string
	Platform   string
	TimeBucket string
	DayOfWeek  int
	Action     Action
	Context    Context
	Reward     float64
	Baseline   float64
}

// Advantage is the learning signal: reward minus baseline.
func (u Update) Advantage() float64 { return u.Reward - u.Baseline }

// Learner converts rewarded decisions into atomic store writes. It holds no
// state beyond its rates; deduplication is the post ledger's job.
type Learner struct {
	rates LearningRates
}

// NewLearner builds a learner with the given rates.
func NewLearner(rates LearningRates) (*Learner, error) {
	if err := rates.Validate(); err != nil {
		return nil, err
	}
	return &Learner{rates: rates}, nil
}

// Step builds the complete set of writes for one rewarded decision: per
// chosen (dimension, value) the preference moves by discreteRate·advantage
// with its sample count bumped, and the theta vector moves by
// thetaRate·advantage·context element-wise. The returned step is applied by
// the store as a single unit.
func (l *Learner) Step(u Update) (store.LearningStep, error) {
	if math.IsNaN(u.Baseline) || math.IsInf(u.Baseline, 0) {
		return store.LearningStep{}, fmt.Errorf("platform %q: %w", u.Platform, ErrMissingBaseline)
	}
	if math.IsNaN(u.Reward) || math.IsInf(u.Reward, 0) {
		return store.LearningStep{}, fmt.Errorf("reward %v: %w", u.Reward, ErrNotFinite)
	}
	if len(u.Action) == 0 {
		return store.LearningStep{}, fmt.Errorf("empty action: %w", ErrUnknownDimension)
	}

	adv := u.Advantage()

	// Map iteration order is randomized; sort so the step is deterministic
	// and test assertions can index into it.
	dims := make([]string, 0, len(u.Action))
	for dim := range u.Action {
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	step := store.LearningStep{
		PostID:      u.PostID,
		Platform:    u.Platform,
		Preferences: make([]store.PreferenceDelta, 0, len(dims)),
		Thetas:      make([]store.ThetaDelta, 0, len(dims)),
	}
	for _, dim := range dims {
		value := u.Action[dim]
		step.Preferences = append(step.Preferences, store.PreferenceDelta{
			Key: store.PreferenceKey{
				Platform:   u.Platform,
				TimeBucket: u.TimeBucket,
				DayOfWeek:  u.DayOfWeek,
				Dimension:  dim,
				Value:      value,
			},
			ScoreDelta:  l.rates.Discrete * adv,
			SampleDelta: 1,
		})

		scaled := make([]float64, len(u.Context.Vector))
		for i, x := range u.Context.Vector {
			scaled[i] = l.rates.Theta * adv * x
		}
		step.Thetas = append(step.Thetas, store.ThetaDelta{
			Key: store.ThetaKey{Dimension: dim, Value: value},
			Add: scaled,
		})
	}
	return step, nil
}
