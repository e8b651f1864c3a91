package bandit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/banditd/internal/reward"
	"github.com/fyrsmithlabs/banditd/internal/store"
)

// DecisionQuery is one action-selection request. Embeddings arrive as
// vectors; callers with raw text embed at the boundary first.
type DecisionQuery struct {
	Platform          string
	TimeBucket        string
	DayOfWeek         int
	BusinessEmbedding []float64
	TopicEmbedding    []float64
}

// Decision is a completed selection: identifiers, the sampled action, and
// the distributions it was drawn from. The context vector rides along for
// the decision log; transport layers decide what to expose.
type Decision struct {
	DecisionID string            `json:"decision_id"`
	PostID     string            `json:"post_id"`
	Platform   string            `json:"platform"`
	TimeBucket string            `json:"time_bucket"`
	DayOfWeek  int               `json:"day_of_week"`
	Action     Action            `json:"action"`
	Choices    []DimensionChoice `json:"choices"`
	Context    Context           `json:"-"`
	CreatedAt  time.Time         `json:"created_at"`
}

// LearnResult reports one applied learning pass.
type LearnResult struct {
	PostID    string    `json:"post_id"`
	Platform  string    `json:"platform"`
	Reward    float64   `json:"reward"`
	Baseline  float64   `json:"baseline"`
	Advantage float64   `json:"advantage"`
	LearnedAt time.Time `json:"learned_at"`
}

// DecisionSink receives completed decisions for diagnostics, e.g. the
// similar-context decision log. Sink failures never fail a decision.
type DecisionSink interface {
	RecordDecision(ctx context.Context, dec Decision) error
}

// LearnSink receives applied learn results, e.g. the NATS event publisher.
// Sink failures never fail a learning pass; the updates are already durable.
type LearnSink interface {
	RecordLearn(ctx context.Context, res LearnResult) error
}

// LifecycleSink observes ledger transitions that external maturation drivers
// care about: the Temporal starter opens a workflow on publish and signals it
// on deletion. Sink failures never fail the transition; the ledger write has
// already happened and the sweep loop remains the safety net.
type LifecycleSink interface {
	PostPublished(ctx context.Context, rec store.PostRecord) error
	PostDeleted(ctx context.Context, postID string, deletedAt time.Time) error
}

// EngineConfig holds the tunables of the decision and learning loops.
type EngineConfig struct {
	// Space is the action space decisions are sampled from.
	Space ActionSpace

	// ContextDim is the width of the concatenated context vector.
	ContextDim int

	// Rates are the learner step sizes.
	Rates LearningRates

	// BaselineAlpha is the baseline smoothing constant.
	BaselineAlpha float64

	// Window is the delay between publication and reward eligibility.
	Window time.Duration

	// MaxAttempts bounds how many times a post is tried without snapshots
	// before it parks as unrated.
	MaxAttempts int

	// Seed seeds the sampler when none is injected. Zero means derive from
	// the clock.
	Seed uint64
}

// ApplyDefaults fills unset fields with documented defaults.
func (c *EngineConfig) ApplyDefaults() {
	if len(c.Space.Dimensions) == 0 {
		c.Space = DefaultActionSpace()
	}
	if c.ContextDim == 0 {
		c.ContextDim = 768
	}
	if c.Rates == (LearningRates{}) {
		c.Rates = DefaultLearningRates()
	}
	if c.BaselineAlpha == 0 {
		c.BaselineAlpha = reward.DefaultAlpha
	}
	if c.Window == 0 {
		c.Window = 24 * time.Hour
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
}

// Validate rejects configurations the engine cannot run on.
func (c *EngineConfig) Validate() error {
	if err := c.Space.Validate(); err != nil {
		return err
	}
	if c.ContextDim <= 0 || c.ContextDim%2 != 0 {
		return fmt.Errorf("context dimension %d: %w", c.ContextDim, ErrDimensionMismatch)
	}
	if err := c.Rates.Validate(); err != nil {
		return err
	}
	if c.BaselineAlpha <= 0 || c.BaselineAlpha > 1 {
		return fmt.Errorf("baseline alpha %v outside (0, 1]: %w", c.BaselineAlpha, ErrNotFinite)
	}
	if c.Window <= 0 {
		return fmt.Errorf("eligibility window %v must be positive", c.Window)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts %d must be at least 1", c.MaxAttempts)
	}
	return nil
}

// Deps are the collaborators the engine is wired with. Store and Shaper are
// required; the rest default to sensible no-ops.
type Deps struct {
	Store     store.Store
	Shaper    *reward.Shaper
	Logger    *zap.Logger
	Sink      DecisionSink
	Events    LearnSink
	Lifecycle LifecycleSink
	Rand      Sampler
	Now       func() time.Time
}

// Engine is the facade over selection and learning. Selections are
// read-only and run with unlimited parallelism; learning is serialized per
// platform so baseline and preference updates cannot interleave.
type Engine struct {
	store     store.Store
	tracker   *reward.Tracker
	learner   *Learner
	logger    *zap.Logger
	sink      DecisionSink
	events    LearnSink
	lifecycle LifecycleSink
	now       func() time.Time

	// policy and shaper are swapped atomically on config reload.
	policy atomic.Pointer[Policy]
	shaper atomic.Pointer[reward.Shaper]

	contextDim  int
	window      time.Duration
	maxAttempts int

	platformLocks keyedMutex
}

// NewEngine wires an engine from config and collaborators.
func NewEngine(cfg EngineConfig, deps Deps) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, errors.New("engine: nil store")
	}
	if deps.Shaper == nil {
		return nil, errors.New("engine: nil shaper")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Rand == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		deps.Rand = NewRand(seed)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	policy, err := NewPolicy(cfg.Space, deps.Rand)
	if err != nil {
		return nil, err
	}
	learner, err := NewLearner(cfg.Rates)
	if err != nil {
		return nil, err
	}
	tracker, err := reward.NewTracker(deps.Store, cfg.BaselineAlpha)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:       deps.Store,
		tracker:     tracker,
		learner:     learner,
		logger:      deps.Logger,
		sink:        deps.Sink,
		events:      deps.Events,
		lifecycle:   deps.Lifecycle,
		now:         deps.Now,
		contextDim:  cfg.ContextDim,
		window:      cfg.Window,
		maxAttempts: cfg.MaxAttempts,
	}
	e.policy.Store(policy)
	e.shaper.Store(deps.Shaper)
	return e, nil
}

// Space returns the action space currently in use.
func (e *Engine) Space() ActionSpace { return e.policy.Load().Space() }

// Platforms returns the platforms learning is configured for.
func (e *Engine) Platforms() []string { return e.shaper.Load().Platforms() }

// ReloadSpace swaps in a new action space. In-flight selections finish on
// the old one.
func (e *Engine) ReloadSpace(space ActionSpace) error {
	old := e.policy.Load()
	policy, err := NewPolicy(space, old.rng)
	if err != nil {
		return fmt.Errorf("reload action space: %w", err)
	}
	e.policy.Store(policy)
	e.logger.Info("action space reloaded", zap.Int("dimensions", len(space.Dimensions)))
	return nil
}

// ReloadShaper swaps in a new reward shaper, e.g. after platform weights
// change on disk.
func (e *Engine) ReloadShaper(s *reward.Shaper) error {
	if s == nil {
		return errors.New("engine: nil shaper")
	}
	e.shaper.Store(s)
	e.logger.Info("reward shaper reloaded", zap.Strings("platforms", s.Platforms()))
	return nil
}

// SelectAction samples one action for the query and records the decision in
// the post ledger. The selection itself never writes learned state.
func (e *Engine) SelectAction(ctx context.Context, q DecisionQuery) (*Decision, error) {
	start := time.Now()

	shaper := e.shaper.Load()
	if !shaper.Knows(q.Platform) {
		return nil, fmt.Errorf("platform %q: %w", q.Platform, ErrUnknownPlatform)
	}
	if !ValidTimeBucket(q.TimeBucket) {
		return nil, fmt.Errorf("time bucket %q: %w", q.TimeBucket, ErrUnknownTimeBucket)
	}
	if !ValidDayOfWeek(q.DayOfWeek) {
		return nil, fmt.Errorf("day %d: %w", q.DayOfWeek, ErrInvalidDayOfWeek)
	}

	cvec, err := BuildContext(q.BusinessEmbedding, q.TopicEmbedding, e.contextDim)
	if err != nil {
		return nil, err
	}

	policy := e.policy.Load()
	weights, err := e.loadSlotWeights(ctx, policy.Space(), q.Platform, q.TimeBucket, q.DayOfWeek)
	if err != nil {
		return nil, err
	}

	sel, err := policy.Decide(cvec, weights)
	if err != nil {
		return nil, err
	}

	now := e.now()
	dec := &Decision{
		DecisionID: uuid.NewString(),
		PostID:     uuid.NewString(),
		Platform:   q.Platform,
		TimeBucket: q.TimeBucket,
		DayOfWeek:  q.DayOfWeek,
		Action:     sel.Action,
		Choices:    sel.Choices,
		Context:    cvec,
		CreatedAt:  now,
	}

	rec := store.PostRecord{
		PostID:     dec.PostID,
		DecisionID: dec.DecisionID,
		Platform:   dec.Platform,
		TimeBucket: dec.TimeBucket,
		DayOfWeek:  dec.DayOfWeek,
		Action:     dec.Action,
		Context:    cvec.Vector,
		Status:     store.StatusGenerated,
		CreatedAt:  now,
	}
	if err := e.store.CreatePost(ctx, rec); err != nil {
		return nil, fmt.Errorf("record decision: %w", err)
	}

	if e.sink != nil {
		if err := e.sink.RecordDecision(ctx, *dec); err != nil {
			e.logger.Warn("decision sink failed",
				zap.String("decision_id", dec.DecisionID),
				zap.Error(err))
		}
	}

	decisionsTotal.WithLabelValues(q.Platform, q.TimeBucket).Inc()
	decisionDuration.WithLabelValues(q.Platform).Observe(time.Since(start).Seconds())
	for _, choice := range dec.Choices {
		decisionEntropy.WithLabelValues(choice.Dimension).Observe(choice.Entropy)
	}

	e.logger.Info("action selected",
		zap.String("decision_id", dec.DecisionID),
		zap.String("post_id", dec.PostID),
		zap.String("platform", q.Platform),
		zap.String("time_bucket", q.TimeBucket),
		zap.Int("day_of_week", q.DayOfWeek),
		zap.Any("action", dec.Action))
	return dec, nil
}

// loadSlotWeights reads the learned state for one posting slot: every
// written preference cell plus the theta vectors of all candidate values.
func (e *Engine) loadSlotWeights(ctx context.Context, space ActionSpace, platform, bucket string, day int) (SlotWeights, error) {
	prefs, err := e.store.ListPreferences(ctx, platform, bucket, day)
	if err != nil {
		return SlotWeights{}, fmt.Errorf("list preferences: %w", err)
	}

	var keys []store.ThetaKey
	for _, dim := range space.Dimensions {
		for _, v := range dim.Values {
			keys = append(keys, store.ThetaKey{Dimension: dim.Name, Value: v})
		}
	}
	thetas, err := e.store.GetThetas(ctx, keys)
	if err != nil {
		return SlotWeights{}, fmt.Errorf("get thetas: %w", err)
	}

	w := SlotWeights{
		Preferences: make(map[string]map[string]float64),
		Thetas:      make(map[string]map[string][]float64),
	}
	for key, pref := range prefs {
		if w.Preferences[key.Dimension] == nil {
			w.Preferences[key.Dimension] = make(map[string]float64)
		}
		w.Preferences[key.Dimension][key.Value] = pref.Score
	}
	for key, vec := range thetas {
		if w.Thetas[key.Dimension] == nil {
			w.Thetas[key.Dimension] = make(map[string][]float64)
		}
		w.Thetas[key.Dimension][key.Value] = vec
	}
	return w, nil
}

// Publish records platform-side publication and starts the eligibility
// clock. A zero publishedAt means now.
func (e *Engine) Publish(ctx context.Context, postID string, publishedAt time.Time, mediaID string) error {
	if publishedAt.IsZero() {
		publishedAt = e.now()
	}
	eligibleAt := publishedAt.Add(e.window)
	if err := e.store.MarkPublished(ctx, postID, publishedAt, eligibleAt, mediaID); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	e.logger.Info("post published",
		zap.String("post_id", postID),
		zap.String("media_id", mediaID),
		zap.Time("eligible_at", eligibleAt))

	if e.lifecycle != nil {
		rec, err := e.store.GetPost(ctx, postID)
		if err != nil {
			e.logger.Warn("lifecycle sink skipped, ledger read failed",
				zap.String("post_id", postID), zap.Error(err))
			return nil
		}
		if err := e.lifecycle.PostPublished(ctx, rec); err != nil {
			e.logger.Warn("lifecycle sink failed on publish",
				zap.String("post_id", postID), zap.Error(err))
		}
	}
	return nil
}

// ReportDeleted records platform-side deletion, which makes the post
// immediately due for evaluation with the deletion penalty.
func (e *Engine) ReportDeleted(ctx context.Context, postID string, deletedAt time.Time) error {
	if deletedAt.IsZero() {
		deletedAt = e.now()
	}
	if err := e.store.MarkDeleted(ctx, postID, deletedAt); err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	e.logger.Info("post deleted", zap.String("post_id", postID), zap.Time("deleted_at", deletedAt))

	if e.lifecycle != nil {
		if err := e.lifecycle.PostDeleted(ctx, postID, deletedAt); err != nil {
			e.logger.Warn("lifecycle sink failed on deletion",
				zap.String("post_id", postID), zap.Error(err))
		}
	}
	return nil
}

// AddSnapshot appends one engagement measurement to a post's series.
func (e *Engine) AddSnapshot(ctx context.Context, snap store.Snapshot) error {
	rec, err := e.store.GetPost(ctx, snap.PostID)
	if err != nil {
		return err
	}
	if snap.Platform == "" {
		snap.Platform = rec.Platform
	} else if snap.Platform != rec.Platform {
		return fmt.Errorf("snapshot platform %q does not match post platform %q: %w",
			snap.Platform, rec.Platform, ErrUnknownPlatform)
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = e.now()
	}
	return e.store.AppendSnapshot(ctx, snap)
}

// ComputeReward shapes the reward the post would receive right now, without
// claiming it or moving any learned state. reward.ErrNoSnapshots propagates
// typed so callers can reschedule.
func (e *Engine) ComputeReward(ctx context.Context, postID string) (float64, error) {
	rec, err := e.store.GetPost(ctx, postID)
	if err != nil {
		return 0, err
	}
	snaps, err := e.store.ListSnapshots(ctx, postID)
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}
	return e.shaper.Load().Shape(rec.Platform, snaps, e.deletionOf(rec))
}

// Learn runs one full learning pass for a due post: claim, shape, baseline,
// preference and theta updates, outcome. At most one pass ever succeeds per
// post; concurrent attempts lose the claim with store.ErrConflict. Posts
// inside their maturity window are refused with ErrNotEligible.
func (e *Engine) Learn(ctx context.Context, postID string) (LearnResult, error) {
	return e.learn(ctx, postID, false)
}

// Evaluate is the operator escape hatch: it runs a learning pass even inside
// the maturity window. At-most-once still holds.
func (e *Engine) Evaluate(ctx context.Context, postID string) (LearnResult, error) {
	return e.learn(ctx, postID, true)
}

func (e *Engine) learn(ctx context.Context, postID string, force bool) (LearnResult, error) {
	pre, err := e.store.GetPost(ctx, postID)
	if err != nil {
		return LearnResult{}, err
	}
	switch pre.Status {
	case store.StatusLearned:
		return LearnResult{}, fmt.Errorf("post %s: %w", postID, ErrAlreadyLearned)
	case store.StatusUnrated:
		return LearnResult{}, fmt.Errorf("post %s: %w", postID, ErrUnrated)
	case store.StatusGenerated:
		return LearnResult{}, fmt.Errorf("post %s: %w", postID, ErrNotPublished)
	case store.StatusLearning:
		return LearnResult{}, fmt.Errorf("post %s is being learned: %w", postID, store.ErrConflict)
	}
	if !force && !pre.Due(e.now()) {
		return LearnResult{}, fmt.Errorf("post %s: %w", postID, ErrNotEligible)
	}

	unlock := e.platformLocks.lock(pre.Platform)
	defer unlock()

	claimed, err := e.store.ClaimLearning(ctx, postID)
	if err != nil {
		return LearnResult{}, err
	}

	res, err := e.learnClaimed(ctx, claimed)
	if err != nil {
		learnTotal.WithLabelValues(claimed.Platform, learnOutcome(err)).Inc()
		return LearnResult{}, err
	}
	learnTotal.WithLabelValues(claimed.Platform, "success").Inc()
	advantageObserved.WithLabelValues(claimed.Platform).Observe(res.Advantage)

	e.logger.Info("learning applied",
		zap.String("post_id", res.PostID),
		zap.String("platform", res.Platform),
		zap.Float64("reward", res.Reward),
		zap.Float64("baseline", res.Baseline),
		zap.Float64("advantage", res.Advantage))

	if e.events != nil {
		if err := e.events.RecordLearn(ctx, res); err != nil {
			e.logger.Warn("learn sink failed",
				zap.String("post_id", res.PostID),
				zap.Error(err))
		}
	}
	return res, nil
}

// learnClaimed owns the claimed record: every early return must either
// release the claim, park the post, or complete it.
func (e *Engine) learnClaimed(ctx context.Context, claimed store.PostRecord) (LearnResult, error) {
	snaps, err := e.store.ListSnapshots(ctx, claimed.PostID)
	if err != nil {
		e.release(ctx, claimed.PostID)
		return LearnResult{}, fmt.Errorf("list snapshots: %w", err)
	}

	r, err := e.shaper.Load().Shape(claimed.Platform, snaps, e.deletionOf(claimed))
	if err != nil {
		if errors.Is(err, reward.ErrNoSnapshots) {
			attempts := claimed.Attempts + 1
			if attempts >= e.maxAttempts {
				if parkErr := e.store.ParkUnrated(ctx, claimed.PostID); parkErr != nil {
					e.logger.Error("parking unrated post failed",
						zap.String("post_id", claimed.PostID), zap.Error(parkErr))
					return LearnResult{}, fmt.Errorf("park unrated: %w", parkErr)
				}
				e.logger.Warn("post parked as unrated",
					zap.String("post_id", claimed.PostID),
					zap.Int("attempts", attempts))
				return LearnResult{}, fmt.Errorf("post %s parked after %d attempts without snapshots: %w",
					claimed.PostID, attempts, ErrUnrated)
			}
			e.release(ctx, claimed.PostID)
			return LearnResult{}, err
		}
		e.release(ctx, claimed.PostID)
		return LearnResult{}, err
	}

	base, err := e.tracker.UpdateAndGet(ctx, claimed.Platform, r)
	if err != nil {
		e.release(ctx, claimed.PostID)
		return LearnResult{}, err
	}

	upd := Update{
		PostID:     claimed.PostID,
		Platform:   claimed.Platform,
		TimeBucket: claimed.TimeBucket,
		DayOfWeek:  claimed.DayOfWeek,
		Action:     Action(claimed.Action),
		Context:    Context{Vector: claimed.Context},
		Reward:     r,
		Baseline:   base.Value,
	}
	step, err := e.learner.Step(upd)
	if err != nil {
		e.release(ctx, claimed.PostID)
		return LearnResult{}, err
	}
	if err := e.store.ApplyLearning(ctx, step); err != nil {
		e.release(ctx, claimed.PostID)
		return LearnResult{}, fmt.Errorf("apply learning: %w", err)
	}

	now := e.now()
	outcome := store.Outcome{
		Reward:    r,
		Baseline:  base.Value,
		Advantage: upd.Advantage(),
		LearnedAt: now,
	}
	if err := e.store.CompleteLearning(ctx, claimed.PostID, outcome); err != nil {
		// The updates are already applied. Releasing the claim here would
		// invite a second application, so the post stays in learning and an
		// operator resolves it.
		e.logger.Error("learning applied but completion failed",
			zap.String("post_id", claimed.PostID), zap.Error(err))
		return LearnResult{}, fmt.Errorf("complete learning: %w", err)
	}

	return LearnResult{
		PostID:    claimed.PostID,
		Platform:  claimed.Platform,
		Reward:    r,
		Baseline:  base.Value,
		Advantage: upd.Advantage(),
		LearnedAt: now,
	}, nil
}

// learnOutcome classifies a failed pass for the learn counter.
func learnOutcome(err error) string {
	switch {
	case errors.Is(err, ErrUnrated):
		return "parked"
	case errors.Is(err, reward.ErrNoSnapshots):
		return "no_snapshots"
	default:
		return "error"
	}
}

// release moves a claimed post back to published. Used on any abort where a
// retry is sane.
func (e *Engine) release(ctx context.Context, postID string) {
	if err := e.store.ReleaseLearning(ctx, postID); err != nil {
		e.logger.Warn("releasing learning claim failed",
			zap.String("post_id", postID), zap.Error(err))
	}
}

func (e *Engine) deletionOf(rec store.PostRecord) reward.Deletion {
	if rec.DeletedAt == nil {
		return reward.Deletion{}
	}
	days := e.now().Sub(*rec.DeletedAt).Hours() / 24
	return reward.Deletion{Deleted: true, DaysSince: days}
}

// GetPost returns one ledger record.
func (e *Engine) GetPost(ctx context.Context, postID string) (store.PostRecord, error) {
	return e.store.GetPost(ctx, postID)
}

// ListPosts returns ledger records filtered by platform and status.
func (e *Engine) ListPosts(ctx context.Context, platform string, status store.Status, limit int) ([]store.PostRecord, error) {
	return e.store.ListPosts(ctx, platform, status, limit)
}

// ListDue returns posts ready for a learning pass.
func (e *Engine) ListDue(ctx context.Context, limit int) ([]store.PostRecord, error) {
	return e.store.ListDue(ctx, e.now(), limit)
}

// Preferences returns the learned preference table for one slot.
func (e *Engine) Preferences(ctx context.Context, platform, timeBucket string, dayOfWeek int) (map[store.PreferenceKey]store.Preference, error) {
	if !ValidTimeBucket(timeBucket) {
		return nil, fmt.Errorf("time bucket %q: %w", timeBucket, ErrUnknownTimeBucket)
	}
	if !ValidDayOfWeek(dayOfWeek) {
		return nil, fmt.Errorf("day %d: %w", dayOfWeek, ErrInvalidDayOfWeek)
	}
	return e.store.ListPreferences(ctx, platform, timeBucket, dayOfWeek)
}

// Baselines returns all per-platform baselines.
func (e *Engine) Baselines(ctx context.Context) (map[string]store.Baseline, error) {
	return e.tracker.List(ctx)
}

// Health verifies the backing store is reachable.
func (e *Engine) Health(ctx context.Context) error {
	return e.store.HealthCheck(ctx)
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}
