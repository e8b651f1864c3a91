// Package workflows provides the Temporal reward-maturation workflow.
//
// One workflow instance shadows each published post: it sleeps out the
// maturity window, then drives learning passes until the ledger reaches a
// terminal state. A deletion signal preempts the window so the penalty is
// applied immediately. Deployments without Temporal run the
// internal/scheduler sweep loop instead; both paths funnel through
// Engine.Learn, so at-most-once learning holds regardless of driver.
package workflows

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/banditd/internal/bandit"
)

// SignalPostDeleted is the signal name that tells a maturation workflow the
// platform deleted the post. The ledger is updated before the signal is
// sent; the signal only cuts the wait short.
const SignalPostDeleted = "post-deleted"

// Terminal statuses a maturation workflow reports.
const (
	StatusLearned        = "learned"
	StatusAlreadyLearned = "already_learned"
	StatusUnrated        = "unrated"
)

// ErrEmptyField indicates a required workflow input field is empty.
var ErrEmptyField = errors.New("required field is empty")

// RewardMaturationInput configures one maturation workflow.
type RewardMaturationInput struct {
	PostID       string        // ledger post the workflow shadows
	Platform     string        // for logging only
	EligibleAt   time.Time     // end of the maturity window
	PollInterval time.Duration // wait between unratable attempts; default 30m
}

// Validate checks required fields.
func (in *RewardMaturationInput) Validate() error {
	if in.PostID == "" {
		return fmt.Errorf("%w: PostID", ErrEmptyField)
	}
	if in.EligibleAt.IsZero() {
		return fmt.Errorf("%w: EligibleAt", ErrEmptyField)
	}
	return nil
}

// RewardMaturationResult reports how the workflow resolved its post.
type RewardMaturationResult struct {
	PostID    string
	Status    string
	Reward    float64
	Baseline  float64
	Advantage float64
	LearnedAt time.Time
	Polls     int // learning attempts the workflow made
}

// RewardMaturationWorkflow waits out a post's maturity window and then runs
// learning passes until a terminal state.
//
// The loop terminates because the engine itself bounds unratable attempts:
// every no-snapshots pass increments the ledger attempt counter, and once
// that reaches the engine's maximum the post is parked unrated, which is
// terminal here.
func RewardMaturationWorkflow(ctx workflow.Context, input RewardMaturationInput) (*RewardMaturationResult, error) {
	logger := workflow.GetLogger(ctx)
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if input.PollInterval <= 0 {
		input.PollInterval = 30 * time.Minute
	}

	deletedCh := workflow.GetSignalChannel(ctx, SignalPostDeleted)

	if wait := input.EligibleAt.Sub(workflow.Now(ctx)); wait > 0 {
		logger.Info("waiting for maturity window",
			"post_id", input.PostID,
			"platform", input.Platform,
			"wait", wait.String())
		if sleepOrDeleted(ctx, wait, deletedCh) {
			logger.Info("deletion preempted the maturity window",
				"post_id", input.PostID)
		}
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var a *Activities
	result := &RewardMaturationResult{PostID: input.PostID}

	for {
		result.Polls++

		var res bandit.LearnResult
		err := workflow.ExecuteActivity(ctx, a.Learn, input.PostID).Get(ctx, &res)
		if err == nil {
			result.Status = StatusLearned
			result.Reward = res.Reward
			result.Baseline = res.Baseline
			result.Advantage = res.Advantage
			result.LearnedAt = res.LearnedAt
			logger.Info("maturation complete",
				"post_id", input.PostID,
				"reward", res.Reward,
				"advantage", res.Advantage,
				"polls", result.Polls)
			return result, nil
		}

		switch errType(err) {
		case ErrTypeNoSnapshots:
			logger.Info("post not ratable yet, polling",
				"post_id", input.PostID,
				"polls", result.Polls)
			sleepOrDeleted(ctx, input.PollInterval, deletedCh)
		case ErrTypeNotEligible:
			// Engine clock trails the workflow clock; back off briefly.
			sleepOrDeleted(ctx, time.Minute, deletedCh)
		case ErrTypeConflict:
			// Another driver holds the claim; the next attempt sees the
			// terminal state it produces.
			sleepOrDeleted(ctx, input.PollInterval, deletedCh)
		case ErrTypeAlreadyLearned:
			result.Status = StatusAlreadyLearned
			return result, nil
		case ErrTypeUnrated:
			result.Status = StatusUnrated
			logger.Warn("post parked as unrated",
				"post_id", input.PostID,
				"polls", result.Polls)
			return result, nil
		default:
			return nil, err
		}
	}
}

// sleepOrDeleted sleeps for d unless the deletion signal arrives first.
// Reports whether deletion cut the sleep short.
func sleepOrDeleted(ctx workflow.Context, d time.Duration, deletedCh workflow.ReceiveChannel) bool {
	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	timer := workflow.NewTimer(timerCtx, d)
	deleted := false

	selector := workflow.NewSelector(ctx)
	selector.AddFuture(timer, func(workflow.Future) {})
	selector.AddReceive(deletedCh, func(ch workflow.ReceiveChannel, more bool) {
		ch.Receive(ctx, nil)
		deleted = true
		cancelTimer()
	})
	selector.Select(ctx)
	return deleted
}

// errType extracts the application error type an activity attached. Errors
// the activity did not classify come back with a type outside our constants
// and fall through to the default branch.
func errType(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Type()
	}
	return ""
}
