package reward

import (
	"context"
	"fmt"
	"math"

	"github.com/fyrsmithlabs/banditd/internal/store"
)

// DefaultAlpha is the documented baseline smoothing constant.
const DefaultAlpha = 0.1

// Tracker maintains the per-platform exponentially smoothed reward baseline.
// The store performs the read-modify-write atomically; the tracker owns the
// smoothing constant and the finite-number guards.
type Tracker struct {
	store store.BaselineStore
	alpha float64
}

// NewTracker builds a tracker over the given store. alpha must be in (0, 1];
// zero takes DefaultAlpha.
func NewTracker(bs store.BaselineStore, alpha float64) (*Tracker, error) {
	if alpha == 0 {
		alpha = DefaultAlpha
	}
	if alpha < 0 || alpha > 1 || math.IsNaN(alpha) {
		return nil, fmt.Errorf("baseline alpha %v outside (0, 1]: %w", alpha, ErrNotFinite)
	}
	return &Tracker{store: bs, alpha: alpha}, nil
}

// Alpha returns the smoothing constant in use.
func (t *Tracker) Alpha() float64 { return t.alpha }

// UpdateAndGet applies one smoothing step b <- b + alpha*(reward-b) and
// returns the post-update baseline, which is the one the learner must use
// for this step's advantage. A platform seen for the first time smooths
// against a 0.0 seed.
func (t *Tracker) UpdateAndGet(ctx context.Context, platform string, reward float64) (store.Baseline, error) {
	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		return store.Baseline{}, fmt.Errorf("reward %v: %w", reward, ErrNotFinite)
	}
	b, err := t.store.UpdateBaseline(ctx, platform, reward, t.alpha)
	if err != nil {
		return store.Baseline{}, fmt.Errorf("update baseline for %q: %w", platform, err)
	}
	if math.IsNaN(b.Value) || math.IsInf(b.Value, 0) {
		return store.Baseline{}, fmt.Errorf("baseline for %q: %w", platform, ErrNotFinite)
	}
	baselineValue.WithLabelValues(platform).Set(b.Value)
	return b, nil
}

// Get returns the current baseline without updating it. store.ErrNotFound
// before the platform's first update.
func (t *Tracker) Get(ctx context.Context, platform string) (store.Baseline, error) {
	return t.store.GetBaseline(ctx, platform)
}

// List returns all platform baselines.
func (t *Tracker) List(ctx context.Context) (map[string]store.Baseline, error) {
	return t.store.ListBaselines(ctx)
}
