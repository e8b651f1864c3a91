package workflows

import (
	"context"
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/banditd/internal/bandit"
	"github.com/fyrsmithlabs/banditd/internal/reward"
	"github.com/fyrsmithlabs/banditd/internal/store"
)

// Application error types crossing the activity boundary. Sentinel errors do
// not survive Temporal's serialization, so the activity converts them to
// typed non-retryable application errors and the workflow branches on the
// type.
const (
	ErrTypeNoSnapshots    = "no_snapshots"
	ErrTypeNotEligible    = "not_eligible"
	ErrTypeNotPublished   = "not_published"
	ErrTypeAlreadyLearned = "already_learned"
	ErrTypeUnrated        = "unrated"
	ErrTypeConflict       = "conflict"
	ErrTypeNotFound       = "not_found"
)

// Learner is the slice of the engine the activities drive. *bandit.Engine
// satisfies it.
type Learner interface {
	Learn(ctx context.Context, postID string) (bandit.LearnResult, error)
}

// Activities holds the dependencies of the maturation activities.
type Activities struct {
	engine Learner
}

// NewActivities creates the activity set over an engine.
func NewActivities(engine Learner) *Activities {
	return &Activities{engine: engine}
}

// Learn runs one learning pass for the post. Domain refusals come back as
// typed application errors; anything else is transient and left to the
// activity retry policy.
func (a *Activities) Learn(ctx context.Context, postID string) (bandit.LearnResult, error) {
	res, err := a.engine.Learn(ctx, postID)
	if err != nil {
		return bandit.LearnResult{}, classifyLearnError(err)
	}
	return res, nil
}

func classifyLearnError(err error) error {
	switch {
	case errors.Is(err, reward.ErrNoSnapshots):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNoSnapshots, err)
	case errors.Is(err, bandit.ErrNotEligible):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNotEligible, err)
	case errors.Is(err, bandit.ErrNotPublished):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNotPublished, err)
	case errors.Is(err, bandit.ErrAlreadyLearned):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeAlreadyLearned, err)
	case errors.Is(err, bandit.ErrUnrated):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeUnrated, err)
	case errors.Is(err, store.ErrConflict):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeConflict, err)
	case errors.Is(err, store.ErrNotFound):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNotFound, err)
	default:
		return err
	}
}
