// Package reward turns raw engagement into the bounded scalar the learner
// consumes, and tracks the per-platform baselines that convert rewards into
// advantages.
//
// Shaping is a fixed pipeline: platform-weighted engagement per snapshot,
// decay-weighted average across elapsed-time buckets, log normalization by
// follower count, tanh bounding, and an additive deletion penalty. The
// output is always in [-1, 1].
package reward

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/banditd/internal/store"
)

var (
	// ErrNoSnapshots means zero snapshots exist for a post that was not
	// deleted. Expected before engagement data arrives; the caller
	// reschedules.
	ErrNoSnapshots = errors.New("reward: no snapshots available")

	// ErrUnknownPlatform means no engagement weights are registered for the
	// post's platform. Configuration error, surfaced to the operator.
	ErrUnknownPlatform = errors.New("reward: unknown platform")

	// ErrNotFinite guards every numeric output. NaN or Inf is never returned
	// or persisted.
	ErrNotFinite = errors.New("reward: value is not finite")

	// ErrNegativeEngagement means the weighted engagement score went below
	// zero, which only a snapshot carrying negative counts can produce.
	ErrNegativeEngagement = errors.New("reward: negative engagement")
)

// EngagementWeights is the linear combination of raw counts that scores one
// snapshot. Fields left at zero simply do not contribute.
type EngagementWeights struct {
	Likes     float64 `json:"likes"`
	Comments  float64 `json:"comments"`
	Shares    float64 `json:"shares"`
	Saves     float64 `json:"saves"`
	Replies   float64 `json:"replies"`
	Retweets  float64 `json:"retweets"`
	Reactions float64 `json:"reactions"`
}

// score applies the weights to one snapshot's counts.
func (w EngagementWeights) score(s store.Snapshot) float64 {
	return w.Likes*float64(s.Likes) +
		w.Comments*float64(s.Comments) +
		w.Shares*float64(s.Shares) +
		w.Saves*float64(s.Saves) +
		w.Replies*float64(s.Replies) +
		w.Retweets*float64(s.Retweets) +
		w.Reactions*float64(s.Reactions)
}

// DefaultPlatformWeights returns the built-in per-platform engagement
// weights. Saves and shares dominate on instagram, replies on x, comments on
// linkedin and facebook.
func DefaultPlatformWeights() map[string]EngagementWeights {
	return map[string]EngagementWeights{
		"instagram": {Saves: 3, Shares: 2, Comments: 1, Likes: 0.3},
		"x":         {Replies: 3, Retweets: 2, Likes: 1},
		"linkedin":  {Comments: 3, Shares: 2, Likes: 1},
		"facebook":  {Comments: 3, Shares: 2, Reactions: 1},
	}
}

// DefaultDecayWeights returns the decay weight per elapsed-hour bucket.
// Day-one engagement carries the most signal; the long tail barely moves the
// average.
func DefaultDecayWeights() map[int]float64 {
	return map[int]float64{6: 0.10, 24: 0.50, 48: 0.30, 72: 0.15, 168: 0.05}
}

// ShaperConfig configures the reward pipeline. Zero values take documented
// defaults.
type ShaperConfig struct {
	// Platforms maps platform name to engagement weights. Defaults to
	// DefaultPlatformWeights.
	Platforms map[string]EngagementWeights

	// Decay maps elapsed-hour bucket to its weight in the cross-bucket
	// average. Defaults to DefaultDecayWeights.
	Decay map[int]float64

	// DeletionPenalty is the magnitude of the additive penalty applied when a
	// post was deleted before maturity. Default 0.7.
	DeletionPenalty float64

	// DeletionHalfLifeDays controls how fast the penalty fades with time
	// since deletion. Default 3.
	DeletionHalfLifeDays float64
}

// ApplyDefaults fills unset fields.
func (c *ShaperConfig) ApplyDefaults() {
	if c.Platforms == nil {
		c.Platforms = DefaultPlatformWeights()
	}
	if c.Decay == nil {
		c.Decay = DefaultDecayWeights()
	}
	if c.DeletionPenalty == 0 {
		c.DeletionPenalty = 0.7
	}
	if c.DeletionHalfLifeDays == 0 {
		c.DeletionHalfLifeDays = 3
	}
}

// Validate rejects configurations the pipeline cannot run on.
func (c *ShaperConfig) Validate() error {
	if len(c.Platforms) == 0 {
		return fmt.Errorf("shaper: no platforms configured: %w", ErrUnknownPlatform)
	}
	for name, w := range c.Platforms {
		for _, v := range [...]float64{w.Likes, w.Comments, w.Shares, w.Saves, w.Replies, w.Retweets, w.Reactions} {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("shaper: engagement weight %v for platform %s must be finite and non-negative", v, name)
			}
		}
	}
	if len(c.Decay) == 0 {
		return errors.New("shaper: no decay buckets configured")
	}
	for bucket, w := range c.Decay {
		if bucket <= 0 {
			return fmt.Errorf("shaper: decay bucket %dh must be positive", bucket)
		}
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("shaper: decay weight for %dh is %v: %w", bucket, w, ErrNotFinite)
		}
	}
	if c.DeletionPenalty < 0 || c.DeletionPenalty > 1 {
		return fmt.Errorf("shaper: deletion penalty %v outside [0,1]", c.DeletionPenalty)
	}
	if c.DeletionHalfLifeDays <= 0 {
		return fmt.Errorf("shaper: deletion half-life %v must be positive", c.DeletionHalfLifeDays)
	}
	return nil
}

// Deletion describes platform-side removal of a post relative to evaluation
// time.
type Deletion struct {
	Deleted   bool
	DaysSince float64
}

// Shaper collapses a post's snapshot series into one bounded reward.
type Shaper struct {
	cfg    ShaperConfig
	logger *zap.Logger
}

// NewShaper builds a shaper from the config. A nil logger is replaced with a
// no-op one.
func NewShaper(cfg ShaperConfig, logger *zap.Logger) (*Shaper, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shaper{cfg: cfg, logger: logger}, nil
}

// Knows reports whether engagement weights are registered for the platform.
func (s *Shaper) Knows(platform string) bool {
	_, ok := s.cfg.Platforms[platform]
	return ok
}

// Platforms returns the configured platform names, sorted.
func (s *Shaper) Platforms() []string {
	names := make([]string, 0, len(s.cfg.Platforms))
	for name := range s.cfg.Platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Engagement scores one snapshot with the platform's weights.
func (s *Shaper) Engagement(platform string, snap store.Snapshot) (float64, error) {
	w, ok := s.cfg.Platforms[platform]
	if !ok {
		return 0, fmt.Errorf("platform %q: %w", platform, ErrUnknownPlatform)
	}
	return w.score(snap), nil
}

// Shape collapses the snapshot series into one scalar in [-1, 1].
//
// Per snapshot the platform weights produce an engagement score; scores are
// combined as a decay-weighted average over the elapsed-hour buckets present
// (missing buckets are omitted, never imputed; when a bucket holds several
// snapshots the newest wins). The average is normalized by follower count,
// log(1+raw)/log(1+followers), bounded by tanh, and finally the deletion
// penalty 0.7·exp(-days/3) is subtracted when the post was deleted, with a
// clip back to [-1, 1].
//
// A deleted post with no snapshots shapes to the bare penalty. A live post
// with no snapshots is ErrNoSnapshots: the reward is not knowable yet.
func (s *Shaper) Shape(platform string, snaps []store.Snapshot, del Deletion) (float64, error) {
	weights, ok := s.cfg.Platforms[platform]
	if !ok {
		return 0, fmt.Errorf("platform %q: %w", platform, ErrUnknownPlatform)
	}
	if len(snaps) == 0 && !del.Deleted {
		return 0, fmt.Errorf("platform %q: %w", platform, ErrNoSnapshots)
	}

	// Newest snapshot per bucket.
	latest := make(map[int]store.Snapshot, len(snaps))
	for _, snap := range snaps {
		if _, known := s.cfg.Decay[snap.BucketHours]; !known {
			s.logger.Debug("skipping snapshot in unknown bucket",
				zap.String("post_id", snap.PostID),
				zap.Int("bucket_hours", snap.BucketHours))
			continue
		}
		prev, seen := latest[snap.BucketHours]
		if !seen || snap.TakenAt.After(prev.TakenAt) {
			latest[snap.BucketHours] = snap
		}
	}
	if len(latest) == 0 && !del.Deleted {
		// Snapshots existed but none landed in a known bucket; the reward is
		// as unknowable as with no snapshots at all.
		return 0, fmt.Errorf("platform %q: no snapshots in known buckets: %w", platform, ErrNoSnapshots)
	}

	var reward float64
	if len(latest) > 0 {
		var num, den float64
		var followers int64
		followersAt := -1
		for bucket, snap := range latest {
			w := s.cfg.Decay[bucket]
			num += w * weights.score(snap)
			den += w
			if snap.Followers > 0 && bucket > followersAt {
				followers = snap.Followers
				followersAt = bucket
			}
		}
		raw := num / den
		if math.IsNaN(raw) || math.IsInf(raw, 0) {
			return 0, fmt.Errorf("raw engagement %v: %w", raw, ErrNotFinite)
		}
		if raw < 0 {
			return 0, fmt.Errorf("raw engagement %v: %w", raw, ErrNegativeEngagement)
		}
		if followers < 1 {
			followers = 1
		}
		norm := math.Log(1+raw) / math.Log(1+float64(followers))
		reward = math.Tanh(norm)
	}

	if del.Deleted {
		days := del.DaysSince
		if days < 0 {
			days = 0
		}
		reward -= s.cfg.DeletionPenalty * math.Exp(-days/s.cfg.DeletionHalfLifeDays)
		reward = clip(reward, -1, 1)
	}

	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		return 0, fmt.Errorf("shaped reward: %w", ErrNotFinite)
	}
	rewardObserved.WithLabelValues(platform).Observe(reward)
	return reward, nil
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
