// Package store provides Prometheus metrics for persistence operations.
package store

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationDuration tracks how long store operations take.
	// Labels: backend, operation
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "banditd",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Duration of store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// OperationsTotal counts store operations.
	// Labels: backend, operation, result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "banditd",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total number of store operations",
		},
		[]string{"backend", "operation", "result"},
	)

	// HealthStatus indicates current backend health (1=healthy, 0=degraded).
	// Labels: backend
	HealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "banditd",
			Subsystem: "store",
			Name:      "health_status",
			Help:      "Current backend health (1=healthy, 0=degraded)",
		},
		[]string{"backend"},
	)
)

// Instrument wraps a Store so every call records duration and outcome.
func Instrument(backend string, s Store) Store {
	return &instrumented{backend: backend, next: s}
}

type instrumented struct {
	backend string
	next    Store
}

func (s *instrumented) observe(op string, start time.Time, err error) {
	OperationDuration.WithLabelValues(s.backend, op).Observe(time.Since(start).Seconds())
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(s.backend, op, result).Inc()
}

func (s *instrumented) GetPreference(ctx context.Context, key PreferenceKey) (Preference, error) {
	start := time.Now()
	pref, err := s.next.GetPreference(ctx, key)
	s.observe("get_preference", start, err)
	return pref, err
}

func (s *instrumented) ListPreferences(ctx context.Context, platform, timeBucket string, dayOfWeek int) (map[PreferenceKey]Preference, error) {
	start := time.Now()
	out, err := s.next.ListPreferences(ctx, platform, timeBucket, dayOfWeek)
	s.observe("list_preferences", start, err)
	return out, err
}

func (s *instrumented) GetThetas(ctx context.Context, keys []ThetaKey) (map[ThetaKey][]float64, error) {
	start := time.Now()
	out, err := s.next.GetThetas(ctx, keys)
	s.observe("get_thetas", start, err)
	return out, err
}

func (s *instrumented) UpdateBaseline(ctx context.Context, platform string, reward, alpha float64) (Baseline, error) {
	start := time.Now()
	b, err := s.next.UpdateBaseline(ctx, platform, reward, alpha)
	s.observe("update_baseline", start, err)
	return b, err
}

func (s *instrumented) GetBaseline(ctx context.Context, platform string) (Baseline, error) {
	start := time.Now()
	b, err := s.next.GetBaseline(ctx, platform)
	s.observe("get_baseline", start, err)
	return b, err
}

func (s *instrumented) ListBaselines(ctx context.Context) (map[string]Baseline, error) {
	start := time.Now()
	out, err := s.next.ListBaselines(ctx)
	s.observe("list_baselines", start, err)
	return out, err
}

func (s *instrumented) AppendSnapshot(ctx context.Context, snap Snapshot) error {
	start := time.Now()
	err := s.next.AppendSnapshot(ctx, snap)
	s.observe("append_snapshot", start, err)
	return err
}

func (s *instrumented) ListSnapshots(ctx context.Context, postID string) ([]Snapshot, error) {
	start := time.Now()
	out, err := s.next.ListSnapshots(ctx, postID)
	s.observe("list_snapshots", start, err)
	return out, err
}

func (s *instrumented) CreatePost(ctx context.Context, rec PostRecord) error {
	start := time.Now()
	err := s.next.CreatePost(ctx, rec)
	s.observe("create_post", start, err)
	return err
}

func (s *instrumented) GetPost(ctx context.Context, postID string) (PostRecord, error) {
	start := time.Now()
	rec, err := s.next.GetPost(ctx, postID)
	s.observe("get_post", start, err)
	return rec, err
}

func (s *instrumented) MarkPublished(ctx context.Context, postID string, publishedAt, eligibleAt time.Time, mediaID string) error {
	start := time.Now()
	err := s.next.MarkPublished(ctx, postID, publishedAt, eligibleAt, mediaID)
	s.observe("mark_published", start, err)
	return err
}

func (s *instrumented) MarkDeleted(ctx context.Context, postID string, deletedAt time.Time) error {
	start := time.Now()
	err := s.next.MarkDeleted(ctx, postID, deletedAt)
	s.observe("mark_deleted", start, err)
	return err
}

func (s *instrumented) ClaimLearning(ctx context.Context, postID string) (PostRecord, error) {
	start := time.Now()
	rec, err := s.next.ClaimLearning(ctx, postID)
	s.observe("claim_learning", start, err)
	return rec, err
}

func (s *instrumented) ReleaseLearning(ctx context.Context, postID string) error {
	start := time.Now()
	err := s.next.ReleaseLearning(ctx, postID)
	s.observe("release_learning", start, err)
	return err
}

func (s *instrumented) CompleteLearning(ctx context.Context, postID string, outcome Outcome) error {
	start := time.Now()
	err := s.next.CompleteLearning(ctx, postID, outcome)
	s.observe("complete_learning", start, err)
	return err
}

func (s *instrumented) ParkUnrated(ctx context.Context, postID string) error {
	start := time.Now()
	err := s.next.ParkUnrated(ctx, postID)
	s.observe("park_unrated", start, err)
	return err
}

func (s *instrumented) ListDue(ctx context.Context, now time.Time, limit int) ([]PostRecord, error) {
	start := time.Now()
	out, err := s.next.ListDue(ctx, now, limit)
	s.observe("list_due", start, err)
	return out, err
}

func (s *instrumented) ListPosts(ctx context.Context, platform string, status Status, limit int) ([]PostRecord, error) {
	start := time.Now()
	out, err := s.next.ListPosts(ctx, platform, status, limit)
	s.observe("list_posts", start, err)
	return out, err
}

func (s *instrumented) ApplyLearning(ctx context.Context, step LearningStep) error {
	start := time.Now()
	err := s.next.ApplyLearning(ctx, step)
	s.observe("apply_learning", start, err)
	return err
}

func (s *instrumented) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := s.next.HealthCheck(ctx)
	s.observe("health_check", start, err)
	if err != nil {
		HealthStatus.WithLabelValues(s.backend).Set(0)
	} else {
		HealthStatus.WithLabelValues(s.backend).Set(1)
	}
	return err
}

func (s *instrumented) Close() error {
	return s.next.Close()
}

var _ Store = (*instrumented)(nil)
