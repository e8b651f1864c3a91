package reward

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/banditd/internal/store"
)

func TestTracker_UpdateAndGet_FirstUpdateSmoothsAgainstZero(t *testing.T) {
	// Baseline seeds at 0.0, so the first update with reward 0.555 at
	// alpha 0.1 lands on 0.0555.
	tracker, err := NewTracker(store.NewMemory(), 0.1)
	require.NoError(t, err)
	ctx := context.Background()

	b, err := tracker.UpdateAndGet(ctx, "instagram", 0.555)
	require.NoError(t, err)
	assert.InDelta(t, 0.0555, b.Value, 1e-12)
	assert.Equal(t, int64(1), b.Samples)
}

func TestTracker_UpdateAndGet_ReturnsPostUpdateValue(t *testing.T) {
	tracker, err := NewTracker(store.NewMemory(), 0.1)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := tracker.UpdateAndGet(ctx, "instagram", 0.555)
	require.NoError(t, err)
	second, err := tracker.UpdateAndGet(ctx, "instagram", 0.555)
	require.NoError(t, err)

	assert.InDelta(t, 0.0555+0.1*(0.555-0.0555), second.Value, 1e-12)
	assert.Greater(t, second.Value, first.Value)
}

func TestTracker_Contraction(t *testing.T) {
	// Under a constant reward the baseline approaches that reward and every
	// step strictly shrinks the gap.
	tracker, err := NewTracker(store.NewMemory(), 0.1)
	require.NoError(t, err)
	ctx := context.Background()

	const target = 0.8
	gap := math.Abs(target) // baseline starts at 0
	var value float64
	for i := 0; i < 100; i++ {
		b, err := tracker.UpdateAndGet(ctx, "x", target)
		require.NoError(t, err)
		newGap := math.Abs(b.Value - target)
		assert.Less(t, newGap, gap, "step %d", i)
		gap = newGap
		value = b.Value
	}
	assert.InDelta(t, target, value, 1e-4)
}

func TestTracker_PlatformsAreIndependent(t *testing.T) {
	tracker, err := NewTracker(store.NewMemory(), 0.1)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = tracker.UpdateAndGet(ctx, "instagram", 1.0)
	require.NoError(t, err)
	_, err = tracker.UpdateAndGet(ctx, "x", -1.0)
	require.NoError(t, err)

	all, err := tracker.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.InDelta(t, 0.1, all["instagram"].Value, 1e-12)
	assert.InDelta(t, -0.1, all["x"].Value, 1e-12)
}

func TestTracker_Get_NotFoundBeforeFirstUpdate(t *testing.T) {
	tracker, err := NewTracker(store.NewMemory(), 0.1)
	require.NoError(t, err)

	_, err = tracker.Get(context.Background(), "instagram")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTracker_RejectsNonFiniteReward(t *testing.T) {
	tracker, err := NewTracker(store.NewMemory(), 0.1)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = tracker.UpdateAndGet(ctx, "instagram", math.NaN())
	assert.ErrorIs(t, err, ErrNotFinite)

	_, err = tracker.UpdateAndGet(ctx, "instagram", math.Inf(-1))
	assert.ErrorIs(t, err, ErrNotFinite)
}

func TestNewTracker_AlphaValidation(t *testing.T) {
	tracker, err := NewTracker(store.NewMemory(), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultAlpha, tracker.Alpha())

	_, err = NewTracker(store.NewMemory(), -0.1)
	assert.Error(t, err)

	_, err = NewTracker(store.NewMemory(), 1.5)
	assert.Error(t, err)
}
