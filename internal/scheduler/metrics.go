package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "banditd",
			Subsystem: "scheduler",
			Name:      "sweeps_total",
			Help:      "Total number of reward sweeps started",
		},
	)

	sweepErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "banditd",
			Subsystem: "scheduler",
			Name:      "sweep_errors_total",
			Help:      "Sweeps that failed before processing any posts",
		},
	)

	// sweepPosts counts per-post outcomes within sweeps.
	// Labels: result (learned, skipped, parked, conflict, failed)
	sweepPosts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "banditd",
			Subsystem: "scheduler",
			Name:      "sweep_posts_total",
			Help:      "Posts processed by sweeps, by outcome",
		},
		[]string{"result"},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "banditd",
			Subsystem: "scheduler",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one full sweep in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
