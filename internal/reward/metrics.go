package reward

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// rewardObserved tracks shaped rewards per platform.
	rewardObserved = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "banditd",
			Subsystem: "reward",
			Name:      "shaped_reward",
			Help:      "Shaped reward values in [-1, 1]",
			Buckets:   prometheus.LinearBuckets(-1, 0.2, 11),
		},
		[]string{"platform"},
	)

	// baselineValue exposes the current per-platform baseline.
	baselineValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "banditd",
			Subsystem: "reward",
			Name:      "baseline",
			Help:      "Current per-platform reward baseline",
		},
		[]string{"platform"},
	)
)
