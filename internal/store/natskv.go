package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// keyTokenPattern validates key components before they become NATS subject
// tokens. Dots are reserved as separators.
var keyTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// NATSKVConfig configures the JetStream key-value backend.
type NATSKVConfig struct {
	// BucketPrefix namespaces the buckets, e.g. "banditd" yields
	// banditd-preferences, banditd-thetas, and so on.
	BucketPrefix string

	// Replicas is the JetStream replica count per bucket.
	Replicas int

	// CASRetries bounds optimistic-update retries before giving up with
	// ErrConflict.
	CASRetries int
}

// ApplyDefaults sets default values for unset fields.
func (c *NATSKVConfig) ApplyDefaults() {
	if c.BucketPrefix == "" {
		c.BucketPrefix = "banditd"
	}
	if c.Replicas == 0 {
		c.Replicas = 1
	}
	if c.CASRetries == 0 {
		c.CASRetries = 8
	}
}

// Validate validates the configuration.
func (c NATSKVConfig) Validate() error {
	if !keyTokenPattern.MatchString(c.BucketPrefix) {
		return fmt.Errorf("%w: bucket prefix %q", ErrInvalidConfig, c.BucketPrefix)
	}
	if c.Replicas < 1 || c.Replicas > 5 {
		return fmt.Errorf("%w: replicas must be 1-5, got %d", ErrInvalidConfig, c.Replicas)
	}
	return nil
}

// NATSKV is a Store backed by JetStream key-value buckets. Every mutation of
// shared state goes through revision compare-and-swap, so concurrent learners
// on different nodes cannot silently overwrite each other.
//
// The connection is borrowed: Close marks the store closed but leaves the
// *nats.Conn to whoever dialed it.
type NATSKV struct {
	cfg       NATSKVConfig
	prefs     jetstream.KeyValue
	thetas    jetstream.KeyValue
	baselines jetstream.KeyValue
	snapshots jetstream.KeyValue
	posts     jetstream.KeyValue
	closed    bool
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewNATSKV creates the backing buckets if needed and returns the store.
func NewNATSKV(ctx context.Context, nc *nats.Conn, cfg NATSKVConfig) (*NATSKV, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	s := &NATSKV{cfg: cfg, now: time.Now, locks: make(map[string]*sync.Mutex)}
	buckets := []struct {
		name string
		dst  *jetstream.KeyValue
	}{
		{"preferences", &s.prefs},
		{"thetas", &s.thetas},
		{"baselines", &s.baselines},
		{"snapshots", &s.snapshots},
		{"posts", &s.posts},
	}
	for _, b := range buckets {
		kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:   cfg.BucketPrefix + "-" + b.name,
			Replicas: cfg.Replicas,
			Storage:  jetstream.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("create bucket %s-%s: %w", cfg.BucketPrefix, b.name, err)
		}
		*b.dst = kv
	}
	return s, nil
}

func prefKey(key PreferenceKey) (string, error) {
	parts := []string{key.Platform, key.TimeBucket, key.Dimension, key.Value}
	for _, p := range parts {
		if !keyTokenPattern.MatchString(p) {
			return "", fmt.Errorf("%w: key component %q", ErrInvalidConfig, p)
		}
	}
	return fmt.Sprintf("%s.%s.%d.%s.%s", key.Platform, key.TimeBucket, key.DayOfWeek, key.Dimension, key.Value), nil
}

func thetaKey(key ThetaKey) (string, error) {
	for _, p := range []string{key.Dimension, key.Value} {
		if !keyTokenPattern.MatchString(p) {
			return "", fmt.Errorf("%w: key component %q", ErrInvalidConfig, p)
		}
	}
	return key.Dimension + "." + key.Value, nil
}

func (s *NATSKV) GetPreference(ctx context.Context, key PreferenceKey) (Preference, error) {
	k, err := prefKey(key)
	if err != nil {
		return Preference{}, err
	}
	entry, err := s.prefs.Get(ctx, k)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return Preference{}, fmt.Errorf("preference %s: %w", k, ErrNotFound)
	}
	if err != nil {
		return Preference{}, fmt.Errorf("get preference %s: %w", k, err)
	}
	var pref Preference
	if err := json.Unmarshal(entry.Value(), &pref); err != nil {
		return Preference{}, fmt.Errorf("decode preference %s: %w", k, err)
	}
	return pref, nil
}

func (s *NATSKV) ListPreferences(ctx context.Context, platform, timeBucket string, dayOfWeek int) (map[PreferenceKey]Preference, error) {
	filter := fmt.Sprintf("%s.%s.%d.>", platform, timeBucket, dayOfWeek)
	lister, err := s.prefs.ListKeysFiltered(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list preferences %s: %w", filter, err)
	}
	out := make(map[PreferenceKey]Preference)
	for k := range lister.Keys() {
		entry, err := s.prefs.Get(ctx, k)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get preference %s: %w", k, err)
		}
		key, ok := decodePrefKey(k)
		if !ok {
			continue
		}
		var pref Preference
		if err := json.Unmarshal(entry.Value(), &pref); err != nil {
			return nil, fmt.Errorf("decode preference %s: %w", k, err)
		}
		out[key] = pref
	}
	return out, nil
}

func decodePrefKey(k string) (PreferenceKey, bool) {
	var key PreferenceKey
	parts := splitKey(k, 5)
	if parts == nil {
		return key, false
	}
	day, err := strconv.Atoi(parts[2])
	if err != nil {
		return key, false
	}
	key = PreferenceKey{
		Platform:   parts[0],
		TimeBucket: parts[1],
		DayOfWeek:  day,
		Dimension:  parts[3],
		Value:      parts[4],
	}
	return key, true
}

// splitKey splits a dotted key into exactly n tokens, or nil.
func splitKey(k string, n int) []string {
	parts := make([]string, 0, n)
	start := 0
	for i := 0; i < len(k); i++ {
		if k[i] == '.' {
			parts = append(parts, k[start:i])
			start = i + 1
		}
	}
	parts = append(parts, k[start:])
	if len(parts) != n {
		return nil
	}
	return parts
}

func (s *NATSKV) GetThetas(ctx context.Context, keys []ThetaKey) (map[ThetaKey][]float64, error) {
	out := make(map[ThetaKey][]float64, len(keys))
	for _, key := range keys {
		k, err := thetaKey(key)
		if err != nil {
			return nil, err
		}
		entry, err := s.thetas.Get(ctx, k)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get theta %s: %w", k, err)
		}
		var vec []float64
		if err := json.Unmarshal(entry.Value(), &vec); err != nil {
			return nil, fmt.Errorf("decode theta %s: %w", k, err)
		}
		out[key] = vec
	}
	return out, nil
}

func (s *NATSKV) UpdateBaseline(ctx context.Context, platform string, reward, alpha float64) (Baseline, error) {
	if !keyTokenPattern.MatchString(platform) {
		return Baseline{}, fmt.Errorf("%w: platform %q", ErrInvalidConfig, platform)
	}
	for attempt := 0; attempt < s.cfg.CASRetries; attempt++ {
		entry, err := s.baselines.Get(ctx, platform)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			b := Baseline{
				Platform:  platform,
				Value:     smooth(0, reward, alpha),
				Samples:   1,
				UpdatedAt: s.now(),
			}
			data, err := json.Marshal(b)
			if err != nil {
				return Baseline{}, fmt.Errorf("encode baseline %s: %w", platform, err)
			}
			if _, err := s.baselines.Create(ctx, platform, data); err != nil {
				if errors.Is(err, jetstream.ErrKeyExists) {
					continue // lost the first-writer race, re-read
				}
				return Baseline{}, fmt.Errorf("create baseline %s: %w", platform, err)
			}
			return b, nil
		}
		if err != nil {
			return Baseline{}, fmt.Errorf("get baseline %s: %w", platform, err)
		}

		var b Baseline
		if err := json.Unmarshal(entry.Value(), &b); err != nil {
			return Baseline{}, fmt.Errorf("decode baseline %s: %w", platform, err)
		}
		b.Platform = platform
		b.Value = smooth(b.Value, reward, alpha)
		b.Samples++
		b.UpdatedAt = s.now()
		data, err := json.Marshal(b)
		if err != nil {
			return Baseline{}, fmt.Errorf("encode baseline %s: %w", platform, err)
		}
		if _, err := s.baselines.Update(ctx, platform, data, entry.Revision()); err != nil {
			if errors.Is(err, jetstream.ErrKeyExists) {
				continue // revision moved under us
			}
			return Baseline{}, fmt.Errorf("update baseline %s: %w", platform, err)
		}
		return b, nil
	}
	return Baseline{}, fmt.Errorf("baseline %s: %w", platform, ErrConflict)
}

func (s *NATSKV) GetBaseline(ctx context.Context, platform string) (Baseline, error) {
	entry, err := s.baselines.Get(ctx, platform)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return Baseline{}, fmt.Errorf("baseline %s: %w", platform, ErrNotFound)
	}
	if err != nil {
		return Baseline{}, fmt.Errorf("get baseline %s: %w", platform, err)
	}
	var b Baseline
	if err := json.Unmarshal(entry.Value(), &b); err != nil {
		return Baseline{}, fmt.Errorf("decode baseline %s: %w", platform, err)
	}
	return b, nil
}

func (s *NATSKV) ListBaselines(ctx context.Context) (map[string]Baseline, error) {
	lister, err := s.baselines.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	out := make(map[string]Baseline)
	for k := range lister.Keys() {
		b, err := s.GetBaseline(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = b
	}
	return out, nil
}

func (s *NATSKV) AppendSnapshot(ctx context.Context, snap Snapshot) error {
	for attempt := 0; attempt < s.cfg.CASRetries; attempt++ {
		entry, err := s.snapshots.Get(ctx, snap.PostID)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			data, err := json.Marshal([]Snapshot{snap})
			if err != nil {
				return fmt.Errorf("encode snapshots %s: %w", snap.PostID, err)
			}
			if _, err := s.snapshots.Create(ctx, snap.PostID, data); err != nil {
				if errors.Is(err, jetstream.ErrKeyExists) {
					continue
				}
				return fmt.Errorf("create snapshots %s: %w", snap.PostID, err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("get snapshots %s: %w", snap.PostID, err)
		}

		var series []Snapshot
		if err := json.Unmarshal(entry.Value(), &series); err != nil {
			return fmt.Errorf("decode snapshots %s: %w", snap.PostID, err)
		}
		series = append(series, snap)
		data, err := json.Marshal(series)
		if err != nil {
			return fmt.Errorf("encode snapshots %s: %w", snap.PostID, err)
		}
		if _, err := s.snapshots.Update(ctx, snap.PostID, data, entry.Revision()); err != nil {
			if errors.Is(err, jetstream.ErrKeyExists) {
				continue
			}
			return fmt.Errorf("update snapshots %s: %w", snap.PostID, err)
		}
		return nil
	}
	return fmt.Errorf("snapshots %s: %w", snap.PostID, ErrConflict)
}

func (s *NATSKV) ListSnapshots(ctx context.Context, postID string) ([]Snapshot, error) {
	entry, err := s.snapshots.Get(ctx, postID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return []Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshots %s: %w", postID, err)
	}
	var series []Snapshot
	if err := json.Unmarshal(entry.Value(), &series); err != nil {
		return nil, fmt.Errorf("decode snapshots %s: %w", postID, err)
	}
	sort.Slice(series, func(i, j int) bool { return series[i].TakenAt.Before(series[j].TakenAt) })
	return series, nil
}

func (s *NATSKV) CreatePost(ctx context.Context, rec PostRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode post %s: %w", rec.PostID, err)
	}
	if _, err := s.posts.Create(ctx, rec.PostID, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("post %s: %w", rec.PostID, ErrExists)
		}
		return fmt.Errorf("create post %s: %w", rec.PostID, err)
	}
	return nil
}

func (s *NATSKV) GetPost(ctx context.Context, postID string) (PostRecord, error) {
	rec, _, err := s.getPost(ctx, postID)
	return rec, err
}

func (s *NATSKV) getPost(ctx context.Context, postID string) (PostRecord, uint64, error) {
	entry, err := s.posts.Get(ctx, postID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return PostRecord{}, 0, fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	if err != nil {
		return PostRecord{}, 0, fmt.Errorf("get post %s: %w", postID, err)
	}
	var rec PostRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return PostRecord{}, 0, fmt.Errorf("decode post %s: %w", postID, err)
	}
	return rec, entry.Revision(), nil
}

// mutatePost applies fn to the current record under revision CAS. fn returns
// the updated record or an error to abort.
func (s *NATSKV) mutatePost(ctx context.Context, postID string, fn func(PostRecord) (PostRecord, error)) error {
	for attempt := 0; attempt < s.cfg.CASRetries; attempt++ {
		rec, rev, err := s.getPost(ctx, postID)
		if err != nil {
			return err
		}
		updated, err := fn(rec)
		if err != nil {
			return err
		}
		data, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("encode post %s: %w", postID, err)
		}
		if _, err := s.posts.Update(ctx, postID, data, rev); err != nil {
			if errors.Is(err, jetstream.ErrKeyExists) {
				continue
			}
			return fmt.Errorf("update post %s: %w", postID, err)
		}
		return nil
	}
	return fmt.Errorf("post %s: %w", postID, ErrConflict)
}

func (s *NATSKV) MarkPublished(ctx context.Context, postID string, publishedAt, eligibleAt time.Time, mediaID string) error {
	return s.mutatePost(ctx, postID, func(rec PostRecord) (PostRecord, error) {
		if rec.Status != StatusGenerated {
			return rec, fmt.Errorf("post %s is %s, want %s: %w", postID, rec.Status, StatusGenerated, ErrConflict)
		}
		rec.Status = StatusPublished
		rec.PublishedAt = &publishedAt
		rec.EligibleAt = &eligibleAt
		rec.MediaID = mediaID
		return rec, nil
	})
}

func (s *NATSKV) MarkDeleted(ctx context.Context, postID string, deletedAt time.Time) error {
	return s.mutatePost(ctx, postID, func(rec PostRecord) (PostRecord, error) {
		if rec.Status == StatusLearned || rec.Status == StatusUnrated {
			return rec, fmt.Errorf("post %s is %s: %w", postID, rec.Status, ErrConflict)
		}
		rec.DeletedAt = &deletedAt
		return rec, nil
	})
}

func (s *NATSKV) ClaimLearning(ctx context.Context, postID string) (PostRecord, error) {
	var claimed PostRecord
	err := s.mutatePost(ctx, postID, func(rec PostRecord) (PostRecord, error) {
		if rec.Status != StatusPublished {
			return rec, fmt.Errorf("post %s is %s, want %s: %w", postID, rec.Status, StatusPublished, ErrConflict)
		}
		rec.Status = StatusLearning
		claimed = rec
		return rec, nil
	})
	if err != nil {
		return PostRecord{}, err
	}
	return claimed, nil
}

func (s *NATSKV) ReleaseLearning(ctx context.Context, postID string) error {
	return s.mutatePost(ctx, postID, func(rec PostRecord) (PostRecord, error) {
		if rec.Status != StatusLearning {
			return rec, fmt.Errorf("post %s is %s, want %s: %w", postID, rec.Status, StatusLearning, ErrConflict)
		}
		rec.Status = StatusPublished
		rec.Attempts++
		return rec, nil
	})
}

func (s *NATSKV) CompleteLearning(ctx context.Context, postID string, outcome Outcome) error {
	return s.mutatePost(ctx, postID, func(rec PostRecord) (PostRecord, error) {
		if rec.Status != StatusLearning {
			return rec, fmt.Errorf("post %s is %s, want %s: %w", postID, rec.Status, StatusLearning, ErrConflict)
		}
		rec.Status = StatusLearned
		rec.Outcome = &outcome
		return rec, nil
	})
}

func (s *NATSKV) ParkUnrated(ctx context.Context, postID string) error {
	return s.mutatePost(ctx, postID, func(rec PostRecord) (PostRecord, error) {
		if rec.Status != StatusLearning {
			return rec, fmt.Errorf("post %s is %s, want %s: %w", postID, rec.Status, StatusLearning, ErrConflict)
		}
		rec.Status = StatusUnrated
		return rec, nil
	})
}

func (s *NATSKV) ListDue(ctx context.Context, now time.Time, limit int) ([]PostRecord, error) {
	return s.listPosts(ctx, limit, func(rec PostRecord) bool { return rec.Due(now) })
}

func (s *NATSKV) ListPosts(ctx context.Context, platform string, status Status, limit int) ([]PostRecord, error) {
	return s.listPosts(ctx, limit, func(rec PostRecord) bool {
		if platform != "" && rec.Platform != platform {
			return false
		}
		if status != "" && rec.Status != status {
			return false
		}
		return true
	})
}

func (s *NATSKV) listPosts(ctx context.Context, limit int, match func(PostRecord) bool) ([]PostRecord, error) {
	lister, err := s.posts.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	var out []PostRecord
	for k := range lister.Keys() {
		rec, _, err := s.getPost(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if match(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ApplyLearning validates the whole step against its target keys, then
// applies each delta with its own CAS loop under a per-platform mutex. KV
// buckets have no multi-key transactions, so validation happens before the
// first write: a step the stores cannot accept fails with nothing committed,
// and only infrastructure errors can interrupt the write window. Those
// trigger compensating negative deltas for everything already applied.
// Additive updates commute, which keeps compensation correct even when
// another platform's learner is writing the same theta keys concurrently.
func (s *NATSKV) ApplyLearning(ctx context.Context, step LearningStep) error {
	lock := s.platformLock(step.Platform)
	lock.Lock()
	defer lock.Unlock()

	if err := s.validateStep(ctx, step); err != nil {
		return fmt.Errorf("apply learning %s: %w", step.PostID, err)
	}

	var unwind []func(context.Context) error

	revert := func(err error) error {
		for i := len(unwind) - 1; i >= 0; i-- {
			if rerr := unwind[i](ctx); rerr != nil {
				return fmt.Errorf("%w (compensation also failed: %v)", err, rerr)
			}
		}
		return err
	}

	for _, delta := range step.Preferences {
		if err := s.addPreference(ctx, delta.Key, delta.ScoreDelta, delta.SampleDelta); err != nil {
			return revert(fmt.Errorf("apply learning %s: %w", step.PostID, err))
		}
		key, scoreDelta, sampleDelta := delta.Key, delta.ScoreDelta, delta.SampleDelta
		unwind = append(unwind, func(ctx context.Context) error {
			return s.addPreference(ctx, key, -scoreDelta, -sampleDelta)
		})
	}
	for _, delta := range step.Thetas {
		if err := s.addTheta(ctx, delta.Key, delta.Add); err != nil {
			return revert(fmt.Errorf("apply learning %s: %w", step.PostID, err))
		}
		key, add := delta.Key, delta.Add
		unwind = append(unwind, func(ctx context.Context) error {
			neg := make([]float64, len(add))
			for i, v := range add {
				neg[i] = -v
			}
			return s.addTheta(ctx, key, neg)
		})
	}
	return nil
}

// platformLock returns the mutex serializing this process's learning steps
// for one platform. Writers on other nodes stay safe through per-key
// revision CAS; the mutex keeps a single node from interleaving its own
// steps mid-write.
func (s *NATSKV) platformLock(platform string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[platform]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[platform] = lock
	}
	return lock
}

// validateStep checks every target key before the first write, the same
// pre-validation the in-memory backend runs under its lock. A delta the
// stored state cannot accept, like a theta vector of a different width,
// fails here with nothing committed.
func (s *NATSKV) validateStep(ctx context.Context, step LearningStep) error {
	for _, delta := range step.Preferences {
		if _, err := prefKey(delta.Key); err != nil {
			return err
		}
	}
	for _, delta := range step.Thetas {
		k, err := thetaKey(delta.Key)
		if err != nil {
			return err
		}
		entry, err := s.thetas.Get(ctx, k)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("get theta %s: %w", k, err)
		}
		var vec []float64
		if err := json.Unmarshal(entry.Value(), &vec); err != nil {
			return fmt.Errorf("decode theta %s: %w", k, err)
		}
		if len(vec) != len(delta.Add) {
			return fmt.Errorf("theta %s has %d dims, delta has %d: %w", k, len(vec), len(delta.Add), ErrConflict)
		}
	}
	return nil
}

func (s *NATSKV) addPreference(ctx context.Context, key PreferenceKey, scoreDelta float64, sampleDelta int64) error {
	k, err := prefKey(key)
	if err != nil {
		return err
	}
	for attempt := 0; attempt < s.cfg.CASRetries; attempt++ {
		entry, err := s.prefs.Get(ctx, k)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			pref := Preference{Score: scoreDelta, Samples: max(sampleDelta, 0), UpdatedAt: s.now()}
			data, err := json.Marshal(pref)
			if err != nil {
				return fmt.Errorf("encode preference %s: %w", k, err)
			}
			if _, err := s.prefs.Create(ctx, k, data); err != nil {
				if errors.Is(err, jetstream.ErrKeyExists) {
					continue
				}
				return fmt.Errorf("create preference %s: %w", k, err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("get preference %s: %w", k, err)
		}

		var pref Preference
		if err := json.Unmarshal(entry.Value(), &pref); err != nil {
			return fmt.Errorf("decode preference %s: %w", k, err)
		}
		pref.Score += scoreDelta
		pref.Samples += sampleDelta
		if pref.Samples < 0 {
			pref.Samples = 0
		}
		pref.UpdatedAt = s.now()
		data, err := json.Marshal(pref)
		if err != nil {
			return fmt.Errorf("encode preference %s: %w", k, err)
		}
		if _, err := s.prefs.Update(ctx, k, data, entry.Revision()); err != nil {
			if errors.Is(err, jetstream.ErrKeyExists) {
				continue
			}
			return fmt.Errorf("update preference %s: %w", k, err)
		}
		return nil
	}
	return fmt.Errorf("preference %s: %w", k, ErrConflict)
}

func (s *NATSKV) addTheta(ctx context.Context, key ThetaKey, add []float64) error {
	k, err := thetaKey(key)
	if err != nil {
		return err
	}
	for attempt := 0; attempt < s.cfg.CASRetries; attempt++ {
		entry, err := s.thetas.Get(ctx, k)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			data, err := json.Marshal(add)
			if err != nil {
				return fmt.Errorf("encode theta %s: %w", k, err)
			}
			if _, err := s.thetas.Create(ctx, k, data); err != nil {
				if errors.Is(err, jetstream.ErrKeyExists) {
					continue
				}
				return fmt.Errorf("create theta %s: %w", k, err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("get theta %s: %w", k, err)
		}

		var vec []float64
		if err := json.Unmarshal(entry.Value(), &vec); err != nil {
			return fmt.Errorf("decode theta %s: %w", k, err)
		}
		if len(vec) != len(add) {
			return fmt.Errorf("theta %s has %d dims, delta has %d: %w", k, len(vec), len(add), ErrConflict)
		}
		for i, v := range add {
			vec[i] += v
		}
		data, err := json.Marshal(vec)
		if err != nil {
			return fmt.Errorf("encode theta %s: %w", k, err)
		}
		if _, err := s.thetas.Update(ctx, k, data, entry.Revision()); err != nil {
			if errors.Is(err, jetstream.ErrKeyExists) {
				continue
			}
			return fmt.Errorf("update theta %s: %w", k, err)
		}
		return nil
	}
	return fmt.Errorf("theta %s: %w", k, ErrConflict)
}

func (s *NATSKV) HealthCheck(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if _, err := s.posts.Status(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *NATSKV) Close() error {
	s.closed = true
	return nil
}

var _ Store = (*NATSKV)(nil)
