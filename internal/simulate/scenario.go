// Package simulate replays the decision, engagement, and learning loop
// offline against an in-memory engine. A TOML scenario declares a synthetic
// engagement model; the runner plays it for a number of rounds and reports
// whether the policy converged on the values the scenario favors.
package simulate

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/fyrsmithlabs/banditd/internal/bandit"
	"github.com/fyrsmithlabs/banditd/internal/reward"
)

// Scenario is one offline replay, decoded from a TOML file.
type Scenario struct {
	Name     string `toml:"name"`
	Platform string `toml:"platform"`
	Rounds   int    `toml:"rounds"`

	// Seed drives both the policy sampler and the engagement jitter, so a
	// scenario replays identically.
	Seed uint64 `toml:"seed"`

	Followers int64 `toml:"followers"`

	// Noise is the relative jitter applied to every synthesized count,
	// uniform in [1-noise, 1+noise].
	Noise float64 `toml:"noise"`

	ContextDim int `toml:"context_dim"`

	// Engagement is the per-metric base count a neutral post earns.
	Engagement EngagementBase `toml:"engagement"`

	// Dimensions override the built-in action space when present.
	Dimensions []DimensionSpec `toml:"dimensions"`

	// Effects are the ground truth the policy should discover: relative
	// engagement lift when the chosen action contains the value.
	Effects []Effect `toml:"effects"`
}

// EngagementBase holds the neutral per-metric counts.
type EngagementBase struct {
	Likes     int64 `toml:"likes"`
	Comments  int64 `toml:"comments"`
	Shares    int64 `toml:"shares"`
	Saves     int64 `toml:"saves"`
	Replies   int64 `toml:"replies"`
	Retweets  int64 `toml:"retweets"`
	Reactions int64 `toml:"reactions"`
}

// DimensionSpec is one action-space dimension as it appears in TOML.
type DimensionSpec struct {
	Name   string   `toml:"name"`
	Values []string `toml:"values"`
}

// Effect is a multiplicative engagement lift for one action value. Lift 0.5
// means posts carrying the value earn 50% more of every count; negative
// lifts suppress engagement, bounded below by -1.
type Effect struct {
	Dimension string  `toml:"dimension"`
	Value     string  `toml:"value"`
	Lift      float64 `toml:"lift"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var sc Scenario
	if err := toml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	sc.ApplyDefaults()
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &sc, nil
}

// ApplyDefaults fills unset fields with replay-friendly defaults.
func (s *Scenario) ApplyDefaults() {
	if s.Name == "" {
		s.Name = "unnamed"
	}
	if s.Platform == "" {
		s.Platform = "instagram"
	}
	if s.Rounds == 0 {
		s.Rounds = 200
	}
	if s.Seed == 0 {
		s.Seed = 1
	}
	if s.Followers == 0 {
		s.Followers = 1000
	}
	if s.ContextDim == 0 {
		s.ContextDim = 16
	}
	if s.Engagement == (EngagementBase{}) {
		s.Engagement = EngagementBase{Likes: 100, Comments: 5, Shares: 4, Saves: 6, Replies: 3, Retweets: 2, Reactions: 40}
	}
}

// Validate rejects scenarios the runner cannot play.
func (s *Scenario) Validate() error {
	if _, ok := reward.DefaultPlatformWeights()[s.Platform]; !ok {
		return fmt.Errorf("platform %q has no engagement weights", s.Platform)
	}
	if s.Rounds < 1 {
		return fmt.Errorf("rounds %d must be at least 1", s.Rounds)
	}
	if s.Noise < 0 || s.Noise >= 1 {
		return fmt.Errorf("noise %v outside [0, 1)", s.Noise)
	}
	if s.ContextDim < 2 || s.ContextDim%2 != 0 {
		return fmt.Errorf("context_dim %d must be even and at least 2", s.ContextDim)
	}
	if s.Followers < 0 {
		return fmt.Errorf("followers %d must not be negative", s.Followers)
	}

	space := s.ActionSpace()
	if err := space.Validate(); err != nil {
		return err
	}
	values := make(map[string]map[string]bool, len(space.Dimensions))
	for _, dim := range space.Dimensions {
		values[dim.Name] = make(map[string]bool, len(dim.Values))
		for _, v := range dim.Values {
			values[dim.Name][v] = true
		}
	}
	for _, eff := range s.Effects {
		dim, ok := values[eff.Dimension]
		if !ok {
			return fmt.Errorf("effect references unknown dimension %q", eff.Dimension)
		}
		if !dim[eff.Value] {
			return fmt.Errorf("effect references unknown value %q in dimension %q", eff.Value, eff.Dimension)
		}
		if eff.Lift <= -1 {
			return fmt.Errorf("effect %s=%s lift %v must be greater than -1", eff.Dimension, eff.Value, eff.Lift)
		}
	}
	return nil
}

// ActionSpace returns the scenario's decision surface: the declared
// dimensions, or the engine's built-in space when none are declared.
func (s *Scenario) ActionSpace() bandit.ActionSpace {
	if len(s.Dimensions) == 0 {
		return bandit.DefaultActionSpace()
	}
	space := bandit.ActionSpace{Dimensions: make([]bandit.Dimension, 0, len(s.Dimensions))}
	for _, dim := range s.Dimensions {
		space.Dimensions = append(space.Dimensions, bandit.Dimension{Name: dim.Name, Values: dim.Values})
	}
	return space
}

// lift returns the total multiplicative factor for one chosen action.
func (s *Scenario) lift(action bandit.Action) float64 {
	factor := 1.0
	for _, eff := range s.Effects {
		if action[eff.Dimension] == eff.Value {
			factor *= 1 + eff.Lift
		}
	}
	return factor
}
