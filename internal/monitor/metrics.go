package monitor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

// MetricsClient scrapes the banditd /metrics exposition endpoint.
type MetricsClient struct {
	baseURL string
	client  *http.Client
}

// NewMetricsClient creates a client for one banditd server.
func NewMetricsClient(baseURL string) *MetricsClient {
	return &MetricsClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// MetricsSnapshot is one scrape of the engine's state, reduced to the
// figures the dashboard displays. Counter fields are cumulative; the
// dashboard differences consecutive snapshots to derive rates.
type MetricsSnapshot struct {
	DecisionsTotal   float64
	DecisionRate     float64 // decisions/min, derived between scrapes
	DecisionLatency  float64 // mean seconds per selection
	EntropyAvg       float64 // mean per-dimension sampling entropy, nats
	LearnOutcomes    map[string]float64
	AdvantageAvg     float64
	RewardAvg        float64
	Baselines        map[string]float64
	SweepsTotal      float64
	StoreHealthy     bool
	StoreBackend     string
	Goroutines       float64
	HeapBytes        float64
	StartTimeSeconds float64

	// Ring buffers for the sparklines.
	RateHistory    []float64
	RewardHistory  []float64
	EntropyHistory []float64

	// Peak decision rate for the load bar.
	RatePeak float64
}

// Scrape fetches /metrics and reduces the families banditd exports.
func (c *MetricsClient) Scrape(ctx context.Context) (MetricsSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/metrics", nil)
	if err != nil {
		return MetricsSnapshot{}, fmt.Errorf("build metrics request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return MetricsSnapshot{}, fmt.Errorf("scrape metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return MetricsSnapshot{}, fmt.Errorf("scrape metrics: unexpected status %d", resp.StatusCode)
	}

	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return MetricsSnapshot{}, fmt.Errorf("parse metrics exposition: %w", err)
	}

	snap := MetricsSnapshot{
		LearnOutcomes: make(map[string]float64),
		Baselines:     make(map[string]float64),
	}

	snap.DecisionsTotal = counterSum(families["banditd_engine_decisions_total"])
	snap.DecisionLatency = histogramMean(families["banditd_engine_decision_duration_seconds"])
	snap.EntropyAvg = histogramMean(families["banditd_engine_decision_entropy_nats"])
	snap.AdvantageAvg = histogramMean(families["banditd_engine_advantage"])
	snap.RewardAvg = histogramMean(families["banditd_reward_shaped_reward"])
	snap.SweepsTotal = counterSum(families["banditd_scheduler_sweeps_total"])
	snap.Goroutines = gaugeValue(families["go_goroutines"])
	snap.HeapBytes = gaugeValue(families["go_memstats_heap_alloc_bytes"])
	snap.StartTimeSeconds = gaugeValue(families["process_start_time_seconds"])

	if fam := families["banditd_engine_learn_total"]; fam != nil {
		for _, m := range fam.GetMetric() {
			snap.LearnOutcomes[labelValue(m, "result")] += m.GetCounter().GetValue()
		}
	}
	if fam := families["banditd_reward_baseline"]; fam != nil {
		for _, m := range fam.GetMetric() {
			snap.Baselines[labelValue(m, "platform")] = m.GetGauge().GetValue()
		}
	}
	if fam := families["banditd_store_health_status"]; fam != nil {
		for _, m := range fam.GetMetric() {
			snap.StoreBackend = labelValue(m, "backend")
			snap.StoreHealthy = m.GetGauge().GetValue() >= 1
		}
	}

	return snap, nil
}

// counterSum adds a counter family across all label combinations.
func counterSum(fam *dto.MetricFamily) float64 {
	if fam == nil {
		return 0
	}
	var total float64
	for _, m := range fam.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	return total
}

// histogramMean reduces a histogram family to its overall mean observation.
// An empty histogram means no observations yet, not zero-valued ones.
func histogramMean(fam *dto.MetricFamily) float64 {
	if fam == nil {
		return 0
	}
	var sum, count float64
	for _, m := range fam.GetMetric() {
		h := m.GetHistogram()
		sum += h.GetSampleSum()
		count += float64(h.GetSampleCount())
	}
	if count == 0 {
		return 0
	}
	return sum / count
}

// gaugeValue returns the first sample of a gauge family. The runtime
// families this reads are single-sample.
func gaugeValue(fam *dto.MetricFamily) float64 {
	if fam == nil || len(fam.GetMetric()) == 0 {
		return 0
	}
	m := fam.GetMetric()[0]
	if m.GetGauge() != nil {
		return m.GetGauge().GetValue()
	}
	return m.GetUntyped().GetValue()
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}
