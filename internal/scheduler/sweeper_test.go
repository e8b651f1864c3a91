package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/banditd/internal/bandit"
	"github.com/fyrsmithlabs/banditd/internal/reward"
	"github.com/fyrsmithlabs/banditd/internal/store"
)

type fakeLearner struct {
	mu      sync.Mutex
	due     []store.PostRecord
	listErr error
	learnFn func(postID string) (bandit.LearnResult, error)
	listed  chan struct{}
	learned []string
}

func (f *fakeLearner) ListDue(ctx context.Context, limit int) ([]store.PostRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listed != nil {
		select {
		case f.listed <- struct{}{}:
		default:
		}
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeLearner) Learn(ctx context.Context, postID string) (bandit.LearnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.learned = append(f.learned, postID)
	if f.learnFn != nil {
		return f.learnFn(postID)
	}
	return bandit.LearnResult{PostID: postID}, nil
}

func duePosts(ids ...string) []store.PostRecord {
	out := make([]store.PostRecord, len(ids))
	for i, id := range ids {
		out[i] = store.PostRecord{PostID: id, Platform: "instagram"}
	}
	return out
}

func TestNewSweeper(t *testing.T) {
	s, err := NewSweeper(&fakeLearner{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, s.interval)
	assert.Equal(t, 100, s.batchSize)
	assert.False(t, s.running)
}

func TestNewSweeper_Options(t *testing.T) {
	s, err := NewSweeper(&fakeLearner{}, zap.NewNop(),
		WithInterval(time.Minute),
		WithBatchSize(7),
		WithRateLimit(50, 10),
		WithSweepTimeout(time.Second),
	)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, s.interval)
	assert.Equal(t, 7, s.batchSize)
	assert.Equal(t, time.Second, s.timeout)
}

func TestNewSweeper_NilLearner(t *testing.T) {
	s, err := NewSweeper(nil, zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, s)
	assert.Contains(t, err.Error(), "learner cannot be nil")
}

func TestNewSweeper_NilLogger(t *testing.T) {
	s, err := NewSweeper(&fakeLearner{}, nil)
	assert.Error(t, err)
	assert.Nil(t, s)
	assert.Contains(t, err.Error(), "logger cannot be nil")
}

func TestSweeper_StartStop(t *testing.T) {
	s, err := NewSweeper(&fakeLearner{}, zap.NewNop(), WithInterval(time.Hour))
	require.NoError(t, err)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "second start must fail")

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "stop is idempotent")

	// The sweeper can be restarted after a clean stop.
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
}

func TestSweeper_SweepsImmediatelyOnStart(t *testing.T) {
	learner := &fakeLearner{listed: make(chan struct{}, 1)}
	s, err := NewSweeper(learner, zap.NewNop(), WithInterval(time.Hour))
	require.NoError(t, err)

	require.NoError(t, s.Start())
	defer func() { _ = s.Stop() }()

	select {
	case <-learner.listed:
	case <-time.After(2 * time.Second):
		t.Fatal("no sweep ran after start")
	}
}

func TestSweeper_Sweep_CountsOutcomes(t *testing.T) {
	outcomes := map[string]error{
		"post-ok":       nil,
		"post-early":    fmt.Errorf("shape: %w", reward.ErrNoSnapshots),
		"post-parked":   fmt.Errorf("park: %w", bandit.ErrUnrated),
		"post-claimed":  fmt.Errorf("claim: %w", store.ErrConflict),
		"post-finished": fmt.Errorf("done: %w", bandit.ErrAlreadyLearned),
		"post-broken":   errors.New("store exploded"),
	}
	learner := &fakeLearner{
		due: duePosts("post-ok", "post-early", "post-parked", "post-claimed", "post-finished", "post-broken"),
		learnFn: func(postID string) (bandit.LearnResult, error) {
			return bandit.LearnResult{PostID: postID}, outcomes[postID]
		},
	}

	s, err := NewSweeper(learner, zap.NewNop(), WithRateLimit(1000, 1000))
	require.NoError(t, err)

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, res.Due)
	assert.Equal(t, 1, res.Learned)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Parked)
	assert.Equal(t, 2, res.Conflicts)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, learner.learned, 6)
}

func TestSweeper_Sweep_RespectsBatchSize(t *testing.T) {
	learner := &fakeLearner{due: duePosts("a", "b", "c", "d")}
	s, err := NewSweeper(learner, zap.NewNop(), WithBatchSize(2), WithRateLimit(1000, 1000))
	require.NoError(t, err)

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Due)
	assert.Len(t, learner.learned, 2)
}

func TestSweeper_Sweep_ListError(t *testing.T) {
	learner := &fakeLearner{listErr: errors.New("backend down")}
	s, err := NewSweeper(learner, zap.NewNop())
	require.NoError(t, err)

	_, err = s.Sweep(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "list due posts")
}

func TestSweeper_Sweep_CancelledContext(t *testing.T) {
	learner := &fakeLearner{due: duePosts("a", "b", "c")}
	// Burst 1 at a tiny rate forces the limiter to block on the second post.
	s, err := NewSweeper(learner, zap.NewNop(), WithRateLimit(0.001, 1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	res, err := s.Sweep(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, len(learner.learned), "only the burst-allowed post runs")
	assert.Equal(t, 3, res.Due)
}

// TestSweeper_Sweep_EndToEnd drives a real engine over the memory store: a
// published post that the platform deleted is due immediately and learns the
// deletion penalty.
func TestSweeper_Sweep_EndToEnd(t *testing.T) {
	mem := store.NewMemory()
	shaper, err := reward.NewShaper(reward.ShaperConfig{}, zap.NewNop())
	require.NoError(t, err)

	eng, err := bandit.NewEngine(bandit.EngineConfig{
		Space: bandit.ActionSpace{Dimensions: []bandit.Dimension{
			{Name: "tone", Values: []string{"casual", "formal"}},
		}},
		ContextDim: 4,
		Seed:       3,
	}, bandit.Deps{Store: mem, Shaper: shaper})
	require.NoError(t, err)

	ctx := context.Background()
	dec, err := eng.SelectAction(ctx, bandit.DecisionQuery{
		Platform:          "instagram",
		TimeBucket:        "evening",
		DayOfWeek:         2,
		BusinessEmbedding: []float64{1, 0},
		TopicEmbedding:    []float64{0, 1},
	})
	require.NoError(t, err)
	require.NoError(t, eng.Publish(ctx, dec.PostID, time.Time{}, "media-1"))
	require.NoError(t, eng.ReportDeleted(ctx, dec.PostID, time.Time{}))

	s, err := NewSweeper(eng, zap.NewNop(), WithRateLimit(1000, 1000))
	require.NoError(t, err)

	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Due)
	assert.Equal(t, 1, res.Learned)

	rec, err := eng.GetPost(ctx, dec.PostID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusLearned, rec.Status)
	require.NotNil(t, rec.Outcome)
	assert.Negative(t, rec.Outcome.Reward)

	// Nothing is due on the next pass.
	res, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Due)
}
