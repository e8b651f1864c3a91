package simulate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/banditd/internal/bandit"
	"github.com/fyrsmithlabs/banditd/internal/reward"
	"github.com/fyrsmithlabs/banditd/internal/store"
)

// Runner plays one scenario against an in-memory engine. Each round selects
// an action, publishes the post, synthesizes an engagement snapshot from the
// scenario's effects, and forces a learning pass.
type Runner struct {
	scenario *Scenario
	space    bandit.ActionSpace
	engine   *bandit.Engine
	logger   *zap.Logger

	// rng jitters engagement counts; the policy sampler is seeded
	// separately so both streams replay independently.
	rng *rand.Rand
}

// NewRunner builds a runner over a fresh in-memory store.
func NewRunner(sc *Scenario, logger *zap.Logger) (*Runner, error) {
	sc.ApplyDefaults()
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	shaper, err := reward.NewShaper(reward.ShaperConfig{}, logger)
	if err != nil {
		return nil, err
	}
	space := sc.ActionSpace()
	engine, err := bandit.NewEngine(bandit.EngineConfig{
		Space:      space,
		ContextDim: sc.ContextDim,
	}, bandit.Deps{
		Store:  store.NewMemory(),
		Shaper: shaper,
		Logger: logger,
		Rand:   bandit.NewRand(sc.Seed),
	})
	if err != nil {
		return nil, err
	}

	return &Runner{
		scenario: sc,
		space:    space,
		engine:   engine,
		logger:   logger,
		rng:      rand.New(rand.NewPCG(sc.Seed, 0x5eed)),
	}, nil
}

// Run plays the scenario to completion and reports on convergence.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	sc := r.scenario
	buckets := bandit.TimeBuckets()
	rewards := make([]float64, 0, sc.Rounds)
	actionCounts := make(map[string]map[string]int)

	for round := 0; round < sc.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dec, err := r.engine.SelectAction(ctx, bandit.DecisionQuery{
			Platform:          sc.Platform,
			TimeBucket:        buckets[round%len(buckets)],
			DayOfWeek:         round % 7,
			BusinessEmbedding: r.randomVector(sc.ContextDim / 2),
			TopicEmbedding:    r.randomVector(sc.ContextDim / 2),
		})
		if err != nil {
			return nil, fmt.Errorf("round %d select: %w", round, err)
		}
		for dim, value := range dec.Action {
			if actionCounts[dim] == nil {
				actionCounts[dim] = make(map[string]int)
			}
			actionCounts[dim][value]++
		}

		publishedAt := time.Now().Add(-48 * time.Hour)
		mediaID := fmt.Sprintf("sim-%04d", round)
		if err := r.engine.Publish(ctx, dec.PostID, publishedAt, mediaID); err != nil {
			return nil, fmt.Errorf("round %d publish: %w", round, err)
		}
		if err := r.engine.AddSnapshot(ctx, r.synthesize(dec, publishedAt)); err != nil {
			return nil, fmt.Errorf("round %d snapshot: %w", round, err)
		}

		res, err := r.engine.Evaluate(ctx, dec.PostID)
		if err != nil {
			return nil, fmt.Errorf("round %d learn: %w", round, err)
		}
		rewards = append(rewards, res.Reward)

		if (round+1)%50 == 0 {
			r.logger.Debug("simulation progress",
				zap.Int("round", round+1),
				zap.Float64("reward", res.Reward),
				zap.Float64("advantage", res.Advantage))
		}
	}

	return r.buildReport(ctx, rewards, actionCounts)
}

// synthesize fabricates the 24h engagement snapshot for one decision. The
// chosen action's effects scale every base count, then jitter is applied.
func (r *Runner) synthesize(dec *bandit.Decision, publishedAt time.Time) store.Snapshot {
	sc := r.scenario
	factor := sc.lift(dec.Action)
	count := func(base int64) int64 {
		jitter := 1.0
		if sc.Noise > 0 {
			jitter = 1 + sc.Noise*(2*r.rng.Float64()-1)
		}
		n := int64(float64(base)*factor*jitter + 0.5)
		if n < 0 {
			n = 0
		}
		return n
	}
	return store.Snapshot{
		PostID:      dec.PostID,
		Platform:    dec.Platform,
		BucketHours: 24,
		TakenAt:     publishedAt.Add(24 * time.Hour),
		Likes:       count(sc.Engagement.Likes),
		Comments:    count(sc.Engagement.Comments),
		Shares:      count(sc.Engagement.Shares),
		Saves:       count(sc.Engagement.Saves),
		Replies:     count(sc.Engagement.Replies),
		Retweets:    count(sc.Engagement.Retweets),
		Reactions:   count(sc.Engagement.Reactions),
		Followers:   sc.Followers,
	}
}

func (r *Runner) randomVector(dim int) []float64 {
	v := make([]float64, dim)
	for i := range v {
		v[i] = 2*r.rng.Float64() - 1
	}
	return v
}

// buildReport aggregates learned state across every slot the run touched.
func (r *Runner) buildReport(ctx context.Context, rewards []float64, actionCounts map[string]map[string]int) (*Report, error) {
	sc := r.scenario
	rep := &Report{
		Scenario:     sc.Name,
		Platform:     sc.Platform,
		Rounds:       len(rewards),
		MeanReward:   mean(rewards),
		ActionCounts: actionCounts,
		Preferences:  make(map[string]map[string]float64),
	}
	quarter := len(rewards) / 4
	if quarter > 0 {
		rep.EarlyMeanReward = mean(rewards[:quarter])
		rep.LateMeanReward = mean(rewards[len(rewards)-quarter:])
	} else {
		rep.EarlyMeanReward = rep.MeanReward
		rep.LateMeanReward = rep.MeanReward
	}

	baselines, err := r.engine.Baselines(ctx)
	if err != nil {
		return nil, err
	}
	rep.Baselines = make(map[string]float64, len(baselines))
	for platform, b := range baselines {
		rep.Baselines[platform] = b.Value
	}

	// Preferences are keyed per slot; sum across slots so a value that wins
	// everywhere stands out even when single-slot sample counts are small.
	for _, bucket := range bandit.TimeBuckets() {
		for day := 0; day < 7; day++ {
			prefs, err := r.engine.Preferences(ctx, sc.Platform, bucket, day)
			if err != nil {
				return nil, err
			}
			for key, pref := range prefs {
				if rep.Preferences[key.Dimension] == nil {
					rep.Preferences[key.Dimension] = make(map[string]float64)
				}
				rep.Preferences[key.Dimension][key.Value] += pref.Score
			}
		}
	}
	return rep, nil
}

// Report summarizes one completed run.
type Report struct {
	Scenario string
	Platform string
	Rounds   int

	MeanReward      float64
	EarlyMeanReward float64
	LateMeanReward  float64

	Baselines map[string]float64

	// Preferences holds per-dimension preference scores summed across slots.
	Preferences map[string]map[string]float64

	// ActionCounts holds how often each value was chosen.
	ActionCounts map[string]map[string]int
}

// Leader returns the highest-preference value of a dimension.
func (r *Report) Leader(dimension string) (string, float64) {
	best, score := "", 0.0
	first := true
	for value, s := range r.Preferences[dimension] {
		if first || s > score {
			best, score = value, s
			first = false
		}
	}
	return best, score
}

// Render formats the report for terminal output.
func (r *Report) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %s (%s, %d rounds)\n", r.Scenario, r.Platform, r.Rounds)
	fmt.Fprintf(&b, "  reward: mean %+.4f  early %+.4f  late %+.4f\n",
		r.MeanReward, r.EarlyMeanReward, r.LateMeanReward)
	for platform, v := range r.Baselines {
		fmt.Fprintf(&b, "  baseline[%s]: %+.4f\n", platform, v)
	}

	dims := make([]string, 0, len(r.Preferences))
	for dim := range r.Preferences {
		dims = append(dims, dim)
	}
	sort.Strings(dims)
	for _, dim := range dims {
		leader, score := r.Leader(dim)
		fmt.Fprintf(&b, "  %s: prefers %q (%+.3f, chosen %d times)\n",
			dim, leader, score, r.ActionCounts[dim][leader])
	}
	return b.String()
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
