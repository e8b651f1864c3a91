// Package main generates sample banditd metrics to test Grafana dashboards
// and the banditctl monitor without a real decision workload.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric families mirror the daemon's instrumentation, same names and
// labels, so dashboards built against this generator work unchanged against
// a real banditd.
var (
	// Engine metrics
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "banditd_engine_decisions_total",
			Help: "Total decisions served",
		},
		[]string{"platform", "time_bucket"},
	)
	decisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "banditd_engine_decision_duration_seconds",
			Help:    "Decision latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"platform"},
	)
	decisionEntropy = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "banditd_engine_decision_entropy_nats",
			Help:    "Entropy of the sampled distribution per dimension",
			Buckets: prometheus.LinearBuckets(0, 0.2, 10),
		},
		[]string{"dimension"},
	)
	learnTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "banditd_engine_learn_total",
			Help: "Learning passes by outcome",
		},
		[]string{"platform", "result"},
	)
	advantage = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "banditd_engine_advantage",
			Help:    "Reward advantage over the platform baseline",
			Buckets: prometheus.LinearBuckets(-1, 0.2, 11),
		},
		[]string{"platform"},
	)

	// Reward metrics
	shapedReward = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "banditd_reward_shaped_reward",
			Help:    "Shaped reward distribution",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"platform"},
	)
	baseline = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "banditd_reward_baseline",
			Help: "Per-platform EMA reward baseline",
		},
		[]string{"platform"},
	)

	// Scheduler metrics
	sweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "banditd_scheduler_sweeps_total",
			Help: "Completed reward sweeps",
		},
	)
	sweepPosts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "banditd_scheduler_sweep_posts_total",
			Help: "Posts processed by sweeps, by result",
		},
		[]string{"result"},
	)

	// Store metrics
	storeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "banditd_store_operations_total",
			Help: "Store operations by result",
		},
		[]string{"backend", "operation", "result"},
	)
	storeHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "banditd_store_health_status",
			Help: "Store health (1 healthy, 0 degraded)",
		},
		[]string{"backend"},
	)

	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "banditd_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "banditd_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

var (
	platforms  = []string{"instagram", "x", "linkedin"}
	buckets    = []string{"morning", "midday", "evening", "night"}
	dimensions = []string{"hook_type", "length", "tone", "creativity_level", "text_in_image", "visual_style"}
	results    = []string{"success", "no_snapshots", "parked", "error"}
)

func init() {
	prometheus.MustRegister(
		// Engine
		decisionsTotal,
		decisionDuration,
		decisionEntropy,
		learnTotal,
		advantage,
		// Reward
		shapedReward,
		baseline,
		// Scheduler
		sweepsTotal,
		sweepPosts,
		// Store
		storeOps,
		storeHealth,
		// HTTP
		httpRequestsTotal,
		httpRequestDuration,
	)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}

	// Generate initial sample data
	generateSampleData()

	// Start background goroutine to continuously generate data
	ctx, cancel := context.WithCancel(context.Background())
	go generateContinuousData(ctx)

	// Serve metrics
	http.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    ":" + port,
		Handler: nil,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
		server.Shutdown(context.Background())
	}()

	fmt.Printf("Sample metrics server running on http://localhost:%s/metrics\n", port)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println("\nTo use with Prometheus, add this to prometheus.yml:")
	fmt.Printf("  - job_name: 'banditd-test'\n    static_configs:\n      - targets: ['localhost:%s']\n", port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func generateSampleData() {
	// A burst of decisions across platforms and slots
	for i := 0; i < 300; i++ {
		platform := randomChoice(platforms)
		decisionsTotal.WithLabelValues(platform, randomChoice(buckets)).Inc()
		decisionDuration.WithLabelValues(platform).Observe(rand.Float64() * 0.05)
		for _, dim := range dimensions {
			decisionEntropy.WithLabelValues(dim).Observe(0.5 + rand.Float64())
		}
	}

	// Matured learns, mostly successful
	for i := 0; i < 120; i++ {
		platform := randomChoice(platforms)
		result := "success"
		if rand.Float64() > 0.8 {
			result = randomChoice(results[1:])
		}
		learnTotal.WithLabelValues(platform, result).Inc()
		if result == "success" {
			reward := 0.3 + rand.Float64()*0.4
			shapedReward.WithLabelValues(platform).Observe(reward)
			advantage.WithLabelValues(platform).Observe(reward - 0.5 + (rand.Float64()-0.5)*0.2)
		}
	}
	for _, platform := range platforms {
		baseline.WithLabelValues(platform).Set(0.4 + rand.Float64()*0.2)
	}

	// Sweep history
	for i := 0; i < 20; i++ {
		sweepsTotal.Inc()
		sweepPosts.WithLabelValues(randomChoice(results)).Add(float64(rand.Intn(10)))
	}

	// Store activity
	operations := []string{"get_preference", "apply_learning", "put_post", "claim_learning", "list_due"}
	for i := 0; i < 500; i++ {
		result := "ok"
		if rand.Float64() > 0.98 {
			result = "error"
		}
		storeOps.WithLabelValues("nats", randomChoice(operations), result).Inc()
	}
	storeHealth.WithLabelValues("nats").Set(1)

	// HTTP traffic
	paths := []string{"/v1/decisions", "/v1/posts/:id/snapshots", "/v1/posts/:id/evaluate", "/v1/baselines"}
	methods := []string{"GET", "POST"}
	statuses := []string{"200", "400", "404", "409"}
	for i := 0; i < 400; i++ {
		path := randomChoice(paths)
		method := randomChoice(methods)
		httpRequestsTotal.WithLabelValues(method, path, randomChoice(statuses)).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(rand.Float64() * 0.1)
	}
}

func generateContinuousData(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A trickle of decisions
			if rand.Float64() > 0.2 {
				platform := randomChoice(platforms)
				bucket := randomChoice(buckets)
				for i := 0; i < rand.Intn(5)+1; i++ {
					decisionsTotal.WithLabelValues(platform, bucket).Inc()
					decisionDuration.WithLabelValues(platform).Observe(rand.Float64() * 0.05)
					decisionEntropy.WithLabelValues(randomChoice(dimensions)).Observe(0.5 + rand.Float64())
				}
				httpRequestsTotal.WithLabelValues("POST", "/v1/decisions", "200").Inc()
				httpRequestDuration.WithLabelValues("POST", "/v1/decisions").Observe(rand.Float64() * 0.1)
			}

			// The occasional matured learn
			if rand.Float64() > 0.6 {
				platform := randomChoice(platforms)
				reward := 0.3 + rand.Float64()*0.4
				learnTotal.WithLabelValues(platform, "success").Inc()
				shapedReward.WithLabelValues(platform).Observe(reward)
				advantage.WithLabelValues(platform).Observe(reward - 0.5 + (rand.Float64()-0.5)*0.2)
			}

			// Periodic sweeps
			if rand.Float64() > 0.8 {
				sweepsTotal.Inc()
				sweepPosts.WithLabelValues(randomChoice(results)).Add(float64(rand.Intn(5)))
			}

			// Background store traffic and drifting baselines
			storeOps.WithLabelValues("nats", "get_preference", "ok").Add(float64(rand.Intn(20)))
			for _, platform := range platforms {
				baseline.WithLabelValues(platform).Add((rand.Float64() - 0.5) * 0.01)
			}

			// Flap store health very rarely, so the degraded path renders
			if rand.Float64() > 0.97 {
				storeHealth.WithLabelValues("nats").Set(0)
			} else {
				storeHealth.WithLabelValues("nats").Set(1)
			}
		}
	}
}

func randomChoice(choices []string) string {
	return choices[rand.Intn(len(choices))]
}
