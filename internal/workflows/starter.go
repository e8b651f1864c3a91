package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/banditd/internal/bandit"
	"github.com/fyrsmithlabs/banditd/internal/store"
)

// Starter opens a maturation workflow when a post is published and signals
// it when the platform deletes the post. It plugs into the engine as its
// lifecycle sink, so the HTTP layer never touches Temporal.
type Starter struct {
	client       client.Client
	taskQueue    string
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewStarter creates a lifecycle sink over a Temporal client.
func NewStarter(c client.Client, taskQueue string, pollInterval time.Duration, logger *zap.Logger) (*Starter, error) {
	if c == nil {
		return nil, fmt.Errorf("temporal client cannot be nil")
	}
	if taskQueue == "" {
		return nil, fmt.Errorf("task queue cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Starter{
		client:       c,
		taskQueue:    taskQueue,
		pollInterval: pollInterval,
		logger:       logger,
	}, nil
}

// MaturationWorkflowID derives the deterministic workflow ID for a post, so
// republishing the same post cannot spawn a second workflow.
func MaturationWorkflowID(postID string) string {
	return "reward-maturation-" + postID
}

// PostPublished starts the maturation workflow for a freshly published post.
// A duplicate start (same post published twice, or a retried publish call)
// is treated as success.
func (s *Starter) PostPublished(ctx context.Context, rec store.PostRecord) error {
	if rec.EligibleAt == nil {
		return fmt.Errorf("post %s has no eligibility time", rec.PostID)
	}

	input := RewardMaturationInput{
		PostID:       rec.PostID,
		Platform:     rec.Platform,
		EligibleAt:   *rec.EligibleAt,
		PollInterval: s.pollInterval,
	}
	opts := client.StartWorkflowOptions{
		ID:                    MaturationWorkflowID(rec.PostID),
		TaskQueue:             s.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}

	we, err := s.client.ExecuteWorkflow(ctx, opts, RewardMaturationWorkflow, input)
	if err != nil {
		var already *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &already) {
			s.logger.Debug("maturation workflow already running",
				zap.String("post_id", rec.PostID))
			return nil
		}
		return fmt.Errorf("start maturation workflow: %w", err)
	}

	s.logger.Info("maturation workflow started",
		zap.String("post_id", rec.PostID),
		zap.String("workflow_id", we.GetID()),
		zap.String("run_id", we.GetRunID()),
		zap.Time("eligible_at", *rec.EligibleAt))
	return nil
}

// PostDeleted signals the post's maturation workflow so it learns the
// deletion penalty immediately. A missing workflow is not an error; the
// sweep loop or an operator evaluate covers posts without one.
func (s *Starter) PostDeleted(ctx context.Context, postID string, deletedAt time.Time) error {
	err := s.client.SignalWorkflow(ctx, MaturationWorkflowID(postID), "", SignalPostDeleted, nil)
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			s.logger.Debug("no maturation workflow to signal",
				zap.String("post_id", postID))
			return nil
		}
		return fmt.Errorf("signal maturation workflow: %w", err)
	}

	s.logger.Info("maturation workflow signalled for deletion",
		zap.String("post_id", postID),
		zap.Time("deleted_at", deletedAt))
	return nil
}

var _ bandit.LifecycleSink = (*Starter)(nil)
