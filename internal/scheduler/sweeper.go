// Package scheduler runs the in-process reward sweep loop.
//
// The sweeper periodically lists ledger posts whose maturity window has
// elapsed (or that were deleted, which preempts the window) and runs one
// learning pass per post. It is the fallback maturation driver: deployments
// with Temporal workflows enabled do not start it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/banditd/internal/bandit"
	"github.com/fyrsmithlabs/banditd/internal/reward"
	"github.com/fyrsmithlabs/banditd/internal/store"
)

// Learner is the slice of the engine the sweeper drives. *bandit.Engine
// satisfies it.
type Learner interface {
	ListDue(ctx context.Context, limit int) ([]store.PostRecord, error)
	Learn(ctx context.Context, postID string) (bandit.LearnResult, error)
}

// SweepResult summarizes one pass over the due posts.
type SweepResult struct {
	Due       int
	Learned   int
	Skipped   int // no snapshots yet; retried on a later sweep
	Parked    int // exhausted attempts, parked unrated
	Conflicts int // claimed by a concurrent worker
	Failed    int
	Duration  time.Duration
}

// Sweeper manages the background reward sweep.
//
// All public methods are thread-safe. The running state is protected by a
// mutex so Start and Stop cannot race.
type Sweeper struct {
	learner Learner
	logger  *zap.Logger

	interval  time.Duration
	batchSize int
	limiter   *rate.Limiter
	timeout   time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithInterval sets the time between sweeps. Defaults to 5 minutes.
func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		s.interval = interval
	}
}

// WithBatchSize caps how many due posts one sweep picks up. Defaults to 100.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		s.batchSize = n
	}
}

// WithRateLimit caps learning passes per second within a sweep so a large
// backlog cannot monopolize the store. Defaults to 10/s with a burst of 5.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Sweeper) {
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithSweepTimeout bounds one full sweep. Defaults to 10 minutes.
func WithSweepTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		s.timeout = d
	}
}

// NewSweeper creates a sweeper. It does not start automatically; call
// Start to begin scheduled sweeps.
func NewSweeper(learner Learner, logger *zap.Logger, opts ...Option) (*Sweeper, error) {
	if learner == nil {
		return nil, fmt.Errorf("learner cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	s := &Sweeper{
		learner:   learner,
		logger:    logger,
		interval:  5 * time.Minute,
		batchSize: 100,
		limiter:   rate.NewLimiter(rate.Limit(10), 5),
		timeout:   10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start begins the background sweep loop. The first sweep runs immediately
// so a backlog accumulated while the process was down is not held for a full
// interval. Calling Start on a running sweeper is an error.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper is already running")
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true

	s.logger.Info("reward sweeper started",
		zap.Duration("interval", s.interval),
		zap.Int("batch_size", s.batchSize))

	go s.run()
	return nil
}

// Stop signals the loop to exit and waits for the in-flight sweep to finish.
// Stopping a stopped sweeper is a no-op.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Debug("sweeper stop called but not running")
		return nil
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.logger.Info("reward sweeper stopped")
	return nil
}

func (s *Sweeper) run() {
	defer close(s.doneCh)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweeper goroutine panicked",
				zap.Any("panic", r),
				zap.Stack("stack"))
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	s.safeSweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeSweep()
		case <-s.stopCh:
			return
		}
	}
}

// safeSweep wraps one sweep with panic recovery so a single bad pass cannot
// kill the loop.
func (s *Sweeper) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweep panicked, continuing",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	res, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
		return
	}
	if res.Due > 0 {
		s.logger.Info("sweep completed",
			zap.Int("due", res.Due),
			zap.Int("learned", res.Learned),
			zap.Int("skipped", res.Skipped),
			zap.Int("parked", res.Parked),
			zap.Int("conflicts", res.Conflicts),
			zap.Int("failed", res.Failed),
			zap.Duration("duration", res.Duration))
	}
}

// Sweep runs one pass now: list due posts, then learn each under the rate
// limit. Per-post failures are tallied, never fatal; the only error returned
// is a failure to list or a dead context. Callers outside the loop (CLI,
// tests) can invoke it directly.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	sweepsTotal.Inc()

	due, err := s.learner.ListDue(ctx, s.batchSize)
	if err != nil {
		sweepErrors.Inc()
		return SweepResult{}, fmt.Errorf("list due posts: %w", err)
	}

	res := SweepResult{Due: len(due)}
	for _, rec := range due {
		if err := s.limiter.Wait(ctx); err != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("rate limit wait: %w", err)
		}

		_, err := s.learner.Learn(ctx, rec.PostID)
		switch {
		case err == nil:
			res.Learned++
			sweepPosts.WithLabelValues("learned").Inc()
		case errors.Is(err, reward.ErrNoSnapshots):
			res.Skipped++
			sweepPosts.WithLabelValues("skipped").Inc()
			s.logger.Debug("post not ratable yet",
				zap.String("post_id", rec.PostID))
		case errors.Is(err, bandit.ErrUnrated):
			res.Parked++
			sweepPosts.WithLabelValues("parked").Inc()
			s.logger.Warn("post parked as unrated",
				zap.String("post_id", rec.PostID),
				zap.Int("attempts", rec.Attempts+1))
		case errors.Is(err, store.ErrConflict), errors.Is(err, bandit.ErrAlreadyLearned):
			res.Conflicts++
			sweepPosts.WithLabelValues("conflict").Inc()
			s.logger.Debug("post claimed elsewhere",
				zap.String("post_id", rec.PostID))
		case ctx.Err() != nil:
			res.Duration = time.Since(start)
			return res, ctx.Err()
		default:
			res.Failed++
			sweepPosts.WithLabelValues("failed").Inc()
			s.logger.Error("learning pass failed",
				zap.String("post_id", rec.PostID),
				zap.Error(err))
		}
	}

	res.Duration = time.Since(start)
	sweepDuration.Observe(res.Duration.Seconds())
	return res, nil
}
