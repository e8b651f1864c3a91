package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store backed by maps. It is the default backend
// for tests and single-node deployments; all other backends must match its
// observable behavior.
type Memory struct {
	mu        sync.RWMutex
	prefs     map[PreferenceKey]Preference
	thetas    map[ThetaKey][]float64
	baselines map[string]Baseline
	snapshots map[string][]Snapshot
	posts     map[string]PostRecord
	closed    bool
	now       func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		prefs:     make(map[PreferenceKey]Preference),
		thetas:    make(map[ThetaKey][]float64),
		baselines: make(map[string]Baseline),
		snapshots: make(map[string][]Snapshot),
		posts:     make(map[string]PostRecord),
		now:       time.Now,
	}
}

func (m *Memory) GetPreference(ctx context.Context, key PreferenceKey) (Preference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Preference{}, ErrClosed
	}
	pref, ok := m.prefs[key]
	if !ok {
		return Preference{}, fmt.Errorf("preference %s/%s/%d/%s=%s: %w",
			key.Platform, key.TimeBucket, key.DayOfWeek, key.Dimension, key.Value, ErrNotFound)
	}
	return pref, nil
}

func (m *Memory) ListPreferences(ctx context.Context, platform, timeBucket string, dayOfWeek int) (map[PreferenceKey]Preference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make(map[PreferenceKey]Preference)
	for key, pref := range m.prefs {
		if key.Platform == platform && key.TimeBucket == timeBucket && key.DayOfWeek == dayOfWeek {
			out[key] = pref
		}
	}
	return out, nil
}

func (m *Memory) GetThetas(ctx context.Context, keys []ThetaKey) (map[ThetaKey][]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make(map[ThetaKey][]float64, len(keys))
	for _, key := range keys {
		vec, ok := m.thetas[key]
		if !ok {
			continue
		}
		cp := make([]float64, len(vec))
		copy(cp, vec)
		out[key] = cp
	}
	return out, nil
}

func (m *Memory) UpdateBaseline(ctx context.Context, platform string, reward, alpha float64) (Baseline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Baseline{}, ErrClosed
	}
	b := m.baselines[platform]
	b.Platform = platform
	b.Value = smooth(b.Value, reward, alpha)
	b.Samples++
	b.UpdatedAt = m.now()
	m.baselines[platform] = b
	return b, nil
}

func (m *Memory) GetBaseline(ctx context.Context, platform string) (Baseline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Baseline{}, ErrClosed
	}
	b, ok := m.baselines[platform]
	if !ok {
		return Baseline{}, fmt.Errorf("baseline %s: %w", platform, ErrNotFound)
	}
	return b, nil
}

func (m *Memory) ListBaselines(ctx context.Context) (map[string]Baseline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make(map[string]Baseline, len(m.baselines))
	for platform, b := range m.baselines {
		out[platform] = b
	}
	return out, nil
}

func (m *Memory) AppendSnapshot(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.snapshots[snap.PostID] = append(m.snapshots[snap.PostID], snap)
	return nil
}

func (m *Memory) ListSnapshots(ctx context.Context, postID string) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	series := m.snapshots[postID]
	out := make([]Snapshot, len(series))
	copy(out, series)
	sort.Slice(out, func(i, j int) bool { return out[i].TakenAt.Before(out[j].TakenAt) })
	return out, nil
}

func (m *Memory) CreatePost(ctx context.Context, rec PostRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.posts[rec.PostID]; ok {
		return fmt.Errorf("post %s: %w", rec.PostID, ErrExists)
	}
	m.posts[rec.PostID] = rec
	return nil
}

func (m *Memory) GetPost(ctx context.Context, postID string) (PostRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return PostRecord{}, ErrClosed
	}
	rec, ok := m.posts[postID]
	if !ok {
		return PostRecord{}, fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	return rec, nil
}

func (m *Memory) MarkPublished(ctx context.Context, postID string, publishedAt, eligibleAt time.Time, mediaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	rec, ok := m.posts[postID]
	if !ok {
		return fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	if rec.Status != StatusGenerated {
		return fmt.Errorf("post %s is %s, want %s: %w", postID, rec.Status, StatusGenerated, ErrConflict)
	}
	rec.Status = StatusPublished
	rec.PublishedAt = &publishedAt
	rec.EligibleAt = &eligibleAt
	rec.MediaID = mediaID
	m.posts[postID] = rec
	return nil
}

func (m *Memory) MarkDeleted(ctx context.Context, postID string, deletedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	rec, ok := m.posts[postID]
	if !ok {
		return fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	if rec.Status == StatusLearned || rec.Status == StatusUnrated {
		return fmt.Errorf("post %s is %s: %w", postID, rec.Status, ErrConflict)
	}
	rec.DeletedAt = &deletedAt
	m.posts[postID] = rec
	return nil
}

func (m *Memory) ClaimLearning(ctx context.Context, postID string) (PostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return PostRecord{}, ErrClosed
	}
	rec, ok := m.posts[postID]
	if !ok {
		return PostRecord{}, fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	if rec.Status != StatusPublished {
		return PostRecord{}, fmt.Errorf("post %s is %s, want %s: %w", postID, rec.Status, StatusPublished, ErrConflict)
	}
	rec.Status = StatusLearning
	m.posts[postID] = rec
	return rec, nil
}

func (m *Memory) ReleaseLearning(ctx context.Context, postID string) error {
	return m.transition(postID, StatusLearning, StatusPublished, true, nil)
}

func (m *Memory) CompleteLearning(ctx context.Context, postID string, outcome Outcome) error {
	return m.transition(postID, StatusLearning, StatusLearned, false, &outcome)
}

func (m *Memory) ParkUnrated(ctx context.Context, postID string) error {
	return m.transition(postID, StatusLearning, StatusUnrated, false, nil)
}

func (m *Memory) transition(postID string, from, to Status, bumpAttempts bool, outcome *Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	rec, ok := m.posts[postID]
	if !ok {
		return fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	if rec.Status != from {
		return fmt.Errorf("post %s is %s, want %s: %w", postID, rec.Status, from, ErrConflict)
	}
	rec.Status = to
	if bumpAttempts {
		rec.Attempts++
	}
	if outcome != nil {
		rec.Outcome = outcome
	}
	m.posts[postID] = rec
	return nil
}

func (m *Memory) ListDue(ctx context.Context, now time.Time, limit int) ([]PostRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var due []PostRecord
	for _, rec := range m.posts {
		if rec.Due(now) {
			due = append(due, rec)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *Memory) ListPosts(ctx context.Context, platform string, status Status, limit int) ([]PostRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []PostRecord
	for _, rec := range m.posts {
		if platform != "" && rec.Platform != platform {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ApplyLearning applies the step under one lock acquisition, so concurrent
// readers never observe a half-applied step.
func (m *Memory) ApplyLearning(ctx context.Context, step LearningStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	// Validate before mutating anything so a bad delta cannot leave the step
	// half-applied.
	for _, delta := range step.Thetas {
		if vec, ok := m.thetas[delta.Key]; ok && len(vec) != len(delta.Add) {
			return fmt.Errorf("theta %s=%s has %d dims, delta has %d: %w",
				delta.Key.Dimension, delta.Key.Value, len(vec), len(delta.Add), ErrConflict)
		}
	}
	now := m.now()
	for _, delta := range step.Preferences {
		pref := m.prefs[delta.Key]
		pref.Score += delta.ScoreDelta
		pref.Samples = max(pref.Samples+delta.SampleDelta, 0)
		pref.UpdatedAt = now
		m.prefs[delta.Key] = pref
	}
	for _, delta := range step.Thetas {
		vec, ok := m.thetas[delta.Key]
		if !ok {
			vec = make([]float64, len(delta.Add))
		}
		for i, add := range delta.Add {
			vec[i] += add
		}
		m.thetas[delta.Key] = vec
	}
	return nil
}

func (m *Memory) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Store = (*Memory)(nil)
