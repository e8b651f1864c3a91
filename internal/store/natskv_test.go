package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNATSServer starts an embedded NATS server with JetStream enabled.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1, // Random port
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func newTestNATSKV(t *testing.T) *NATSKV {
	t.Helper()
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	// Generous CAS budget: the concurrency tests intentionally pile writers
	// onto one key.
	s, err := NewNATSKV(context.Background(), nc, NATSKVConfig{BucketPrefix: "banditd-test", CASRetries: 64})
	require.NoError(t, err)
	return s
}

func TestNATSKV_PreferenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestNATSKV(t)

	key := PreferenceKey{
		Platform:   "linkedin",
		TimeBucket: "afternoon",
		DayOfWeek:  2,
		Dimension:  "creativity_level",
		Value:      "experimental",
	}

	_, err := s.GetPreference(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	step := LearningStep{
		PostID:      "post-1",
		Platform:    "linkedin",
		Preferences: []PreferenceDelta{{Key: key, ScoreDelta: 0.025, SampleDelta: 1}},
		Thetas:      []ThetaDelta{{Key: ThetaKey{Dimension: "creativity_level", Value: "experimental"}, Add: []float64{0.5, -0.5}}},
	}
	require.NoError(t, s.ApplyLearning(ctx, step))
	require.NoError(t, s.ApplyLearning(ctx, step))

	pref, err := s.GetPreference(ctx, key)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, pref.Score, 1e-12)
	assert.Equal(t, int64(2), pref.Samples)

	thetas, err := s.GetThetas(ctx, []ThetaKey{{Dimension: "creativity_level", Value: "experimental"}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1.0, -1.0}, thetas[ThetaKey{Dimension: "creativity_level", Value: "experimental"}], 1e-12)

	listed, err := s.ListPreferences(ctx, "linkedin", "afternoon", 2)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	// The filter is slot-scoped.
	other, err := s.ListPreferences(ctx, "linkedin", "afternoon", 3)
	require.NoError(t, err)
	assert.Empty(t, other)
}

// flakyKV delegates to the wrapped bucket but fails every Get from the nth
// call on. Lets a test open the write window cleanly and then cut the bucket
// off mid-step.
type flakyKV struct {
	jetstream.KeyValue
	mu       sync.Mutex
	gets     int
	failFrom int
}

func (f *flakyKV) Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error) {
	f.mu.Lock()
	f.gets++
	n := f.gets
	f.mu.Unlock()
	if n >= f.failFrom {
		return nil, errors.New("kv offline")
	}
	return f.KeyValue.Get(ctx, key)
}

func TestNATSKV_ApplyLearningRejectsMismatchedThetaBeforeWriting(t *testing.T) {
	ctx := context.Background()
	s := newTestNATSKV(t)

	tk := ThetaKey{Dimension: "tone", Value: "casual"}
	require.NoError(t, s.ApplyLearning(ctx, LearningStep{
		PostID:   "post-1",
		Platform: "x",
		Thetas:   []ThetaDelta{{Key: tk, Add: []float64{0.1, 0.2}}},
	}))

	// A step whose theta delta does not match the stored width must fail
	// with nothing committed, preference delta included.
	key := PreferenceKey{Platform: "x", TimeBucket: "morning", DayOfWeek: 1, Dimension: "tone", Value: "casual"}
	err := s.ApplyLearning(ctx, LearningStep{
		PostID:      "post-2",
		Platform:    "x",
		Preferences: []PreferenceDelta{{Key: key, ScoreDelta: 0.05, SampleDelta: 1}},
		Thetas:      []ThetaDelta{{Key: tk, Add: []float64{0.1, 0.2, 0.3}}},
	})
	require.ErrorIs(t, err, ErrConflict)

	_, err = s.GetPreference(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	thetas, err := s.GetThetas(ctx, []ThetaKey{tk})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.1, 0.2}, thetas[tk], 1e-12)
}

func TestNATSKV_ApplyLearningUnwindsOnThetaFault(t *testing.T) {
	ctx := context.Background()
	s := newTestNATSKV(t)

	key := PreferenceKey{Platform: "instagram", TimeBucket: "evening", DayOfWeek: 5, Dimension: "hook_type", Value: "question"}
	tk := ThetaKey{Dimension: "hook_type", Value: "question"}
	require.NoError(t, s.ApplyLearning(ctx, LearningStep{
		PostID:      "post-1",
		Platform:    "instagram",
		Preferences: []PreferenceDelta{{Key: key, ScoreDelta: 0.04, SampleDelta: 1}},
	}))

	// The first Get on the theta bucket is the pre-write validation pass;
	// the second is the write path, which hits the fault after the
	// preference delta has already committed.
	healthy := s.thetas
	s.thetas = &flakyKV{KeyValue: healthy, failFrom: 2}

	err := s.ApplyLearning(ctx, LearningStep{
		PostID:      "post-2",
		Platform:    "instagram",
		Preferences: []PreferenceDelta{{Key: key, ScoreDelta: 0.02, SampleDelta: 1}},
		Thetas:      []ThetaDelta{{Key: tk, Add: []float64{0.3, -0.3}}},
	})
	require.Error(t, err)
	s.thetas = healthy

	// The committed preference delta was compensated away: stored state
	// matches what the first step left behind.
	pref, err := s.GetPreference(ctx, key)
	require.NoError(t, err)
	assert.InDelta(t, 0.04, pref.Score, 1e-12)
	assert.Equal(t, int64(1), pref.Samples)

	thetas, err := s.GetThetas(ctx, []ThetaKey{tk})
	require.NoError(t, err)
	assert.Empty(t, thetas)
}

func TestNATSKV_ApplyLearningConcurrentSteps(t *testing.T) {
	// Learners on two platforms share theta keys. Per-key CAS plus additive
	// commutativity must land every delta exactly once.
	ctx := context.Background()
	s := newTestNATSKV(t)

	tk := ThetaKey{Dimension: "length", Value: "short"}
	const writers = 8
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		platform := []string{"x", "instagram"}[i%2]
		go func(platform string) {
			defer wg.Done()
			key := PreferenceKey{Platform: platform, TimeBucket: "midday", DayOfWeek: 3, Dimension: "length", Value: "short"}
			assert.NoError(t, s.ApplyLearning(ctx, LearningStep{
				PostID:      "post",
				Platform:    platform,
				Preferences: []PreferenceDelta{{Key: key, ScoreDelta: 0.01, SampleDelta: 1}},
				Thetas:      []ThetaDelta{{Key: tk, Add: []float64{0.1, -0.1}}},
			}))
		}(platform)
	}
	wg.Wait()

	thetas, err := s.GetThetas(ctx, []ThetaKey{tk})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.8, -0.8}, thetas[tk], 1e-9)

	for _, platform := range []string{"x", "instagram"} {
		pref, err := s.GetPreference(ctx, PreferenceKey{Platform: platform, TimeBucket: "midday", DayOfWeek: 3, Dimension: "length", Value: "short"})
		require.NoError(t, err)
		assert.InDelta(t, 0.04, pref.Score, 1e-9)
		assert.Equal(t, int64(4), pref.Samples)
	}
}

func TestNATSKV_BaselineConcurrentUpdates(t *testing.T) {
	// Revision CAS must serialize concurrent smoothing steps: every update
	// lands exactly once.
	ctx := context.Background()
	s := newTestNATSKV(t)

	const writers = 16
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_, err := s.UpdateBaseline(ctx, "instagram", 0.5, 0.1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	b, err := s.GetBaseline(ctx, "instagram")
	require.NoError(t, err)
	assert.Equal(t, int64(writers), b.Samples)

	// Smoothing is order-independent for a constant reward.
	want := 0.0
	for i := 0; i < writers; i++ {
		want = want + 0.1*(0.5-want)
	}
	assert.InDelta(t, want, b.Value, 1e-9)
}

func TestNATSKV_PostStatusMachine(t *testing.T) {
	ctx := context.Background()
	s := newTestNATSKV(t)

	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreatePost(ctx, PostRecord{
		PostID:    "post-1",
		Platform:  "x",
		Action:    map[string]string{"length": "short"},
		Context:   []float64{0.25, 0.75},
		Status:    StatusGenerated,
		CreatedAt: created,
	}))
	assert.ErrorIs(t, s.CreatePost(ctx, PostRecord{PostID: "post-1", Status: StatusGenerated}), ErrExists)

	published := created.Add(time.Hour)
	eligible := published.Add(24 * time.Hour)
	require.NoError(t, s.MarkPublished(ctx, "post-1", published, eligible, "tweet-1"))

	claimed, err := s.ClaimLearning(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, StatusLearning, claimed.Status)
	assert.InDeltaSlice(t, []float64{0.25, 0.75}, claimed.Context, 1e-12)

	_, err = s.ClaimLearning(ctx, "post-1")
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, s.CompleteLearning(ctx, "post-1", Outcome{Reward: 0.1, Baseline: 0.01, Advantage: 0.09, LearnedAt: eligible}))

	rec, err := s.GetPost(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, StatusLearned, rec.Status)
	require.NotNil(t, rec.Outcome)
	assert.InDelta(t, 0.09, rec.Outcome.Advantage, 1e-12)
}

func TestNATSKV_SnapshotAppendAndListDue(t *testing.T) {
	ctx := context.Background()
	s := newTestNATSKV(t)

	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendSnapshot(ctx, Snapshot{PostID: "p", Platform: "x", BucketHours: 24, TakenAt: base.Add(24 * time.Hour), Likes: 50}))
	require.NoError(t, s.AppendSnapshot(ctx, Snapshot{PostID: "p", Platform: "x", BucketHours: 6, TakenAt: base.Add(6 * time.Hour), Likes: 10}))

	snaps, err := s.ListSnapshots(ctx, "p")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 6, snaps[0].BucketHours)

	require.NoError(t, s.CreatePost(ctx, PostRecord{PostID: "p", Platform: "x", Status: StatusGenerated, CreatedAt: base}))
	require.NoError(t, s.MarkPublished(ctx, "p", base, base.Add(24*time.Hour), "m"))

	due, err := s.ListDue(ctx, base.Add(23*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = s.ListDue(ctx, base.Add(25*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "p", due[0].PostID)
}

func TestNATSKV_RejectsUnsafeKeyComponents(t *testing.T) {
	ctx := context.Background()
	s := newTestNATSKV(t)

	_, err := s.GetPreference(ctx, PreferenceKey{
		Platform:   "insta.gram",
		TimeBucket: "evening",
		Dimension:  "tone",
		Value:      "casual",
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = s.UpdateBaseline(ctx, "bad platform", 0.1, 0.1)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNATSKV_HealthCheck(t *testing.T) {
	ctx := context.Background()
	s := newTestNATSKV(t)
	require.NoError(t, s.HealthCheck(ctx))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.HealthCheck(ctx), ErrClosed)
}
