// Package store defines the persistence surface of the bandit engine.
//
// The engine keeps four kinds of state: discrete preference scores,
// per-action theta vectors, per-platform reward baselines, and the post
// ledger with its engagement snapshots. All of them sit behind the Store
// interface so the engine core never knows which backend it runs on.
//
// Implementations:
//   - Memory: in-process maps, used by tests and single-node setups
//   - NATSKV: JetStream key-value buckets with revision-CAS updates
//   - Postgres: relational tables, theta and context vectors via pgvector
//   - QdrantThetaStore: theta vectors only, composed over another backend
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound is returned when a key, post, or baseline does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when an optimistic update lost the race or a
	// ledger status transition was attempted from the wrong state.
	ErrConflict = errors.New("store: conflict")

	// ErrExists is returned when creating a record that is already present.
	ErrExists = errors.New("store: already exists")

	// ErrUnavailable indicates the backend cannot be reached.
	ErrUnavailable = errors.New("store: backend unavailable")

	// ErrInvalidConfig indicates invalid backend configuration.
	ErrInvalidConfig = errors.New("store: invalid configuration")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

// PreferenceKey identifies one discrete preference cell. Preferences are
// partitioned by platform and posting slot so the policy can learn, for
// example, that humorous hooks work on weekday evenings but not on Sunday
// mornings.
type PreferenceKey struct {
	Platform   string `json:"platform"`
	TimeBucket string `json:"time_bucket"`
	DayOfWeek  int    `json:"day_of_week"`
	Dimension  string `json:"dimension"`
	Value      string `json:"value"`
}

// Preference is the learned state of one preference cell. Cells are created
// lazily: a key that was never updated reads as absent and scores 0.
type Preference struct {
	Score     float64   `json:"score"`
	Samples   int64     `json:"samples"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ThetaKey identifies the contextual weight vector of one action value.
type ThetaKey struct {
	Dimension string `json:"dimension"`
	Value     string `json:"value"`
}

// Baseline is the exponentially smoothed reward average of one platform.
type Baseline struct {
	Platform  string    `json:"platform"`
	Value     float64   `json:"value"`
	Samples   int64     `json:"samples"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is one engagement measurement of a published post. Snapshots are
// append-only; the reward shaper collapses the series into a scalar.
type Snapshot struct {
	PostID      string    `json:"post_id"`
	Platform    string    `json:"platform"`
	BucketHours int       `json:"bucket_hours"`
	TakenAt     time.Time `json:"taken_at"`
	Likes       int64     `json:"likes"`
	Comments    int64     `json:"comments"`
	Shares      int64     `json:"shares"`
	Saves       int64     `json:"saves"`
	Replies     int64     `json:"replies"`
	Retweets    int64     `json:"retweets"`
	Reactions   int64     `json:"reactions"`
	Followers   int64     `json:"followers"`
}

// Status is the lifecycle state of a post in the ledger.
//
// Transitions: generated -> published -> learning -> learned, with
// learning -> published when a claim is released and learning -> unrated
// when the engine gives up waiting for snapshots. The learning state is a
// claim: it guarantees at-most-once application of a reward even when a
// sweep and a manual evaluation race.
type Status string

const (
	StatusGenerated Status = "generated"
	StatusPublished Status = "published"
	StatusLearning  Status = "learning"
	StatusLearned   Status = "learned"
	StatusUnrated   Status = "unrated"
)

// Valid reports whether s is a known ledger status.
func (s Status) Valid() bool {
	switch s {
	case StatusGenerated, StatusPublished, StatusLearning, StatusLearned, StatusUnrated:
		return true
	}
	return false
}

// Outcome records the result of a completed learning pass.
type Outcome struct {
	Reward    float64   `json:"reward"`
	Baseline  float64   `json:"baseline"`
	Advantage float64   `json:"advantage"`
	LearnedAt time.Time `json:"learned_at"`
}

// PostRecord is the ledger entry tying a decision to its downstream
// engagement. The context vector is persisted verbatim because the learner
// needs it again when the reward matures, long after the decision request
// is gone.
type PostRecord struct {
	PostID      string            `json:"post_id"`
	DecisionID  string            `json:"decision_id"`
	Platform    string            `json:"platform"`
	TimeBucket  string            `json:"time_bucket"`
	DayOfWeek   int               `json:"day_of_week"`
	Action      map[string]string `json:"action"`
	Context     []float64         `json:"context"`
	MediaID     string            `json:"media_id,omitempty"`
	Status      Status            `json:"status"`
	Attempts    int               `json:"attempts"`
	CreatedAt   time.Time         `json:"created_at"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
	EligibleAt  *time.Time        `json:"eligible_at,omitempty"`
	DeletedAt   *time.Time        `json:"deleted_at,omitempty"`
	Outcome     *Outcome          `json:"outcome,omitempty"`
}

// Due reports whether the post is ready for a learning pass at time now.
// A post is due when its maturity window has elapsed or when it was deleted,
// which preempts the window.
func (r PostRecord) Due(now time.Time) bool {
	if r.Status != StatusPublished {
		return false
	}
	if r.DeletedAt != nil {
		return true
	}
	return r.EligibleAt != nil && !r.EligibleAt.After(now)
}

// PreferenceDelta is one additive preference update inside a learning step.
// SampleDelta is normally 1; compensating writes use -1 so a rolled-back step
// leaves the sample count untouched.
type PreferenceDelta struct {
	Key         PreferenceKey `json:"key"`
	ScoreDelta  float64       `json:"score_delta"`
	SampleDelta int64         `json:"sample_delta"`
}

// ThetaDelta is one element-wise additive theta update inside a learning step.
type ThetaDelta struct {
	Key ThetaKey  `json:"key"`
	Add []float64 `json:"add"`
}

// LearningStep is the complete set of writes produced by one reward. Backends
// apply it as a unit: either every delta lands or none of them do.
type LearningStep struct {
	PostID      string            `json:"post_id"`
	Platform    string            `json:"platform"`
	Preferences []PreferenceDelta `json:"preferences"`
	Thetas      []ThetaDelta      `json:"thetas"`
}

// PreferenceStore reads learned discrete preferences.
type PreferenceStore interface {
	// GetPreference returns one preference cell. Returns ErrNotFound when the
	// cell was never written; callers treat that as score 0 with no side
	// effects.
	GetPreference(ctx context.Context, key PreferenceKey) (Preference, error)

	// ListPreferences returns every written cell for one posting slot.
	ListPreferences(ctx context.Context, platform, timeBucket string, dayOfWeek int) (map[PreferenceKey]Preference, error)
}

// ThetaStore reads contextual weight vectors.
type ThetaStore interface {
	// GetThetas returns the stored vectors for the given keys. Keys that were
	// never written are absent from the result; callers treat absence as the
	// zero vector.
	GetThetas(ctx context.Context, keys []ThetaKey) (map[ThetaKey][]float64, error)
}

// BaselineStore maintains per-platform reward baselines.
type BaselineStore interface {
	// UpdateBaseline applies one exponential smoothing step
	// b <- b + alpha*(reward-b) atomically and returns the post-update
	// baseline. A platform seen for the first time smooths against a 0.0
	// seed, so its first baseline is alpha*reward.
	UpdateBaseline(ctx context.Context, platform string, reward, alpha float64) (Baseline, error)

	// GetBaseline returns the current baseline. ErrNotFound before the first
	// update.
	GetBaseline(ctx context.Context, platform string) (Baseline, error)

	// ListBaselines returns all platform baselines.
	ListBaselines(ctx context.Context) (map[string]Baseline, error)
}

// SnapshotStore holds engagement snapshot series.
type SnapshotStore interface {
	// AppendSnapshot adds one measurement to a post's series.
	AppendSnapshot(ctx context.Context, snap Snapshot) error

	// ListSnapshots returns a post's series ordered by TakenAt. An empty
	// slice, not an error, when no snapshots exist.
	ListSnapshots(ctx context.Context, postID string) ([]Snapshot, error)
}

// PostLedger tracks post lifecycle. Status transitions are compare-and-swap
// guarded so concurrent sweeps and manual evaluations cannot double-apply a
// reward.
type PostLedger interface {
	// CreatePost inserts a new record in StatusGenerated. ErrExists when the
	// post ID is taken.
	CreatePost(ctx context.Context, rec PostRecord) error

	// GetPost returns one record. ErrNotFound when absent.
	GetPost(ctx context.Context, postID string) (PostRecord, error)

	// MarkPublished moves generated -> published and starts the maturity
	// clock. ErrConflict when the post is not in StatusGenerated.
	MarkPublished(ctx context.Context, postID string, publishedAt, eligibleAt time.Time, mediaID string) error

	// MarkDeleted records platform-side deletion. Valid in any non-terminal
	// status; deletion of a published post makes it immediately due.
	MarkDeleted(ctx context.Context, postID string, deletedAt time.Time) error

	// ClaimLearning moves published -> learning and returns the claimed
	// record. ErrConflict when the post is in any other status, which is how
	// a second learner discovers it lost the claim.
	ClaimLearning(ctx context.Context, postID string) (PostRecord, error)

	// ReleaseLearning moves learning -> published and increments the attempt
	// counter. Used when a claim cannot proceed yet, e.g. no snapshots.
	ReleaseLearning(ctx context.Context, postID string) error

	// CompleteLearning moves learning -> learned and persists the outcome.
	CompleteLearning(ctx context.Context, postID string, outcome Outcome) error

	// ParkUnrated moves learning -> unrated for posts that never produced a
	// usable reward. Terminal.
	ParkUnrated(ctx context.Context, postID string) error

	// ListDue returns up to limit posts ready for a learning pass at now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]PostRecord, error)

	// ListPosts returns up to limit posts filtered by platform and status.
	// Empty platform or status matches everything.
	ListPosts(ctx context.Context, platform string, status Status, limit int) ([]PostRecord, error)
}

// LearnerStore applies learning steps.
type LearnerStore interface {
	// ApplyLearning applies every delta in the step as one unit.
	ApplyLearning(ctx context.Context, step LearningStep) error
}

// Store is the full persistence surface of the engine.
type Store interface {
	PreferenceStore
	ThetaStore
	BaselineStore
	SnapshotStore
	PostLedger
	LearnerStore

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// smooth is the exponential smoothing step shared by every backend.
func smooth(current, reward, alpha float64) float64 {
	return current + alpha*(reward-current)
}
