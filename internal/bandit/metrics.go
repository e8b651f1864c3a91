package bandit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// decisionsTotal counts action selections.
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "banditd",
			Subsystem: "engine",
			Name:      "decisions_total",
			Help:      "Total number of action selections",
		},
		[]string{"platform", "time_bucket"},
	)

	// decisionDuration tracks selection latency.
	decisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "banditd",
			Subsystem: "engine",
			Name:      "decision_duration_seconds",
			Help:      "Duration of action selection in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"platform"},
	)

	// decisionEntropy tracks the per-dimension sampling entropy in nats.
	// High entropy means the policy is still exploring that dimension.
	decisionEntropy = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "banditd",
			Subsystem: "engine",
			Name:      "decision_entropy_nats",
			Help:      "Shannon entropy of per-dimension sampling distributions",
			Buckets:   prometheus.LinearBuckets(0, 0.2, 10),
		},
		[]string{"dimension"},
	)

	// learnTotal counts learning passes by outcome.
	learnTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "banditd",
			Subsystem: "engine",
			Name:      "learn_total",
			Help:      "Total number of learning passes",
		},
		[]string{"platform", "result"},
	)

	// advantageObserved tracks the learning signal per platform.
	advantageObserved = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "banditd",
			Subsystem: "engine",
			Name:      "advantage",
			Help:      "Advantage (reward minus baseline) per learning pass",
			Buckets:   prometheus.LinearBuckets(-1, 0.2, 11),
		},
		[]string{"platform"},
	)
)
