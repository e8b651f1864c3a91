package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exposition is a realistic slice of banditd's /metrics output.
const exposition = `# HELP banditd_engine_decisions_total Total number of action selections
# TYPE banditd_engine_decisions_total counter
banditd_engine_decisions_total{platform="instagram",time_bucket="morning"} 40
banditd_engine_decisions_total{platform="x",time_bucket="evening"} 20
# HELP banditd_engine_decision_duration_seconds Duration of action selection in seconds
# TYPE banditd_engine_decision_duration_seconds histogram
banditd_engine_decision_duration_seconds_bucket{platform="instagram",le="+Inf"} 40
banditd_engine_decision_duration_seconds_sum{platform="instagram"} 0.8
banditd_engine_decision_duration_seconds_count{platform="instagram"} 40
# HELP banditd_engine_learn_total Total number of learning passes
# TYPE banditd_engine_learn_total counter
banditd_engine_learn_total{platform="instagram",result="success"} 12
banditd_engine_learn_total{platform="x",result="success"} 3
banditd_engine_learn_total{platform="instagram",result="no_snapshots"} 2
# HELP banditd_engine_advantage Advantage (reward minus baseline) per learning pass
# TYPE banditd_engine_advantage histogram
banditd_engine_advantage_bucket{platform="instagram",le="+Inf"} 4
banditd_engine_advantage_sum{platform="instagram"} 0.4
banditd_engine_advantage_count{platform="instagram"} 4
# HELP banditd_reward_shaped_reward Shaped reward values in [-1, 1]
# TYPE banditd_reward_shaped_reward histogram
banditd_reward_shaped_reward_bucket{platform="instagram",le="+Inf"} 4
banditd_reward_shaped_reward_sum{platform="instagram"} 2.0
banditd_reward_shaped_reward_count{platform="instagram"} 4
# HELP banditd_reward_baseline Current per-platform reward baseline
# TYPE banditd_reward_baseline gauge
banditd_reward_baseline{platform="instagram"} 0.0555
banditd_reward_baseline{platform="x"} -0.02
# HELP banditd_store_health_status Current backend health (1=healthy, 0=degraded)
# TYPE banditd_store_health_status gauge
banditd_store_health_status{backend="memory"} 1
# HELP go_goroutines Number of goroutines that currently exist.
# TYPE go_goroutines gauge
go_goroutines 19
# HELP go_memstats_heap_alloc_bytes Number of heap bytes allocated and still in use.
# TYPE go_memstats_heap_alloc_bytes gauge
go_memstats_heap_alloc_bytes 4.2e+06
`

func newFakeServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/metrics", r.URL.Path)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewMetricsClient(t *testing.T) {
	client := NewMetricsClient("http://localhost:9090")
	assert.NotNil(t, client)
	assert.Equal(t, "http://localhost:9090", client.baseURL)
	assert.NotNil(t, client.client)
}

func TestMetricsClient_Scrape(t *testing.T) {
	server := newFakeServer(t, exposition, http.StatusOK)

	snap, err := NewMetricsClient(server.URL).Scrape(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 60.0, snap.DecisionsTotal, 1e-9, "counter sums across platforms")
	assert.InDelta(t, 0.02, snap.DecisionLatency, 1e-9, "histogram mean = sum/count")
	assert.InDelta(t, 0.1, snap.AdvantageAvg, 1e-9)
	assert.InDelta(t, 0.5, snap.RewardAvg, 1e-9)

	assert.Equal(t, map[string]float64{"success": 15, "no_snapshots": 2}, snap.LearnOutcomes)
	assert.InDelta(t, 0.0555, snap.Baselines["instagram"], 1e-9)
	assert.InDelta(t, -0.02, snap.Baselines["x"], 1e-9)

	assert.True(t, snap.StoreHealthy)
	assert.Equal(t, "memory", snap.StoreBackend)
	assert.InDelta(t, 19, snap.Goroutines, 1e-9)
	assert.InDelta(t, 4.2e6, snap.HeapBytes, 1e-9)
}

func TestMetricsClient_Scrape_MissingFamilies(t *testing.T) {
	// A freshly started server has no engine samples yet. Absent families
	// read as zero, not as errors.
	server := newFakeServer(t, "# TYPE go_goroutines gauge\ngo_goroutines 7\n", http.StatusOK)

	snap, err := NewMetricsClient(server.URL).Scrape(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.DecisionsTotal)
	assert.Zero(t, snap.RewardAvg)
	assert.Empty(t, snap.Baselines)
	assert.False(t, snap.StoreHealthy)
	assert.InDelta(t, 7, snap.Goroutines, 1e-9)
}

func TestMetricsClient_Scrape_ServerError(t *testing.T) {
	server := newFakeServer(t, "boom", http.StatusInternalServerError)

	_, err := NewMetricsClient(server.URL).Scrape(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
}

func TestMetricsClient_Scrape_Unreachable(t *testing.T) {
	client := NewMetricsClient("http://127.0.0.1:1")
	_, err := client.Scrape(context.Background())
	require.Error(t, err)
}

func TestMetricsClient_Scrape_MalformedExposition(t *testing.T) {
	server := newFakeServer(t, "banditd_engine_decisions_total{platform=\"x\" 12\n", http.StatusOK)

	_, err := NewMetricsClient(server.URL).Scrape(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse metrics exposition")
}

func TestHistogramMean_EmptyHistogram(t *testing.T) {
	// Zero observations must not divide by zero.
	const empty = `# TYPE banditd_reward_shaped_reward histogram
banditd_reward_shaped_reward_bucket{platform="instagram",le="+Inf"} 0
banditd_reward_shaped_reward_sum{platform="instagram"} 0
banditd_reward_shaped_reward_count{platform="instagram"} 0
`
	server := newFakeServer(t, empty, http.StatusOK)

	snap, err := NewMetricsClient(server.URL).Scrape(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.RewardAvg)
}
