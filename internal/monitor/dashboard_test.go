package monitor

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
)

func TestNewModel(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)
	assert.Equal(t, "http://localhost:9090", model.serverURL)
	assert.Equal(t, 5*time.Second, model.interval)
	assert.False(t, model.quitting)
	assert.InDelta(t, 1.0, model.metrics.RatePeak, 1e-9)
}

func TestModel_Init(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)
	assert.NotNil(t, model.Init())
}

func TestModel_Update_QuitKey(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)

	keyMsg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
	updatedModel, cmd := model.Update(keyMsg)

	m := updatedModel.(Model)
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_RefreshKey(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)

	keyMsg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}}
	updatedModel, cmd := model.Update(keyMsg)

	m := updatedModel.(Model)
	assert.False(t, m.quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_TickMsg(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)

	updatedModel, cmd := model.Update(tickMsg(time.Now()))

	assert.NotNil(t, cmd, "tick schedules the next refresh")
	assert.NotNil(t, updatedModel)
}

func TestModel_Update_MetricsMsg(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)

	snap := MetricsSnapshot{
		DecisionsTotal: 100,
		RewardAvg:      0.5,
		EntropyAvg:     1.2,
		Baselines:      map[string]float64{"instagram": 0.0555},
		LearnOutcomes:  map[string]float64{"success": 3},
	}
	updatedModel, _ := model.Update(metricsMsg(snap))

	m := updatedModel.(Model)
	assert.NoError(t, m.err)
	assert.False(t, m.lastUpdate.IsZero())
	assert.InDelta(t, 100, m.metrics.DecisionsTotal, 1e-9)
	assert.Len(t, m.metrics.RewardHistory, 1)
	assert.Len(t, m.metrics.RateHistory, 1)
	assert.Zero(t, m.metrics.DecisionRate, "first scrape has no previous sample to difference")
}

func TestModel_Update_MetricsMsg_DerivesRate(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)

	first, _ := model.Update(metricsMsg(MetricsSnapshot{DecisionsTotal: 100}))
	m := first.(Model)
	m.prevScrape = time.Now().Add(-time.Minute)

	second, _ := m.Update(metricsMsg(MetricsSnapshot{DecisionsTotal: 160}))
	m = second.(Model)

	assert.InDelta(t, 60.0, m.metrics.DecisionRate, 2.0, "60 decisions over ~1 minute")
	assert.GreaterOrEqual(t, m.metrics.RatePeak, m.metrics.DecisionRate)
}

func TestModel_Update_MetricsMsg_CounterReset(t *testing.T) {
	// A restarted server reports a lower cumulative count; the rate must
	// not go negative.
	model := NewModel("http://localhost:9090", 5*time.Second)

	first, _ := model.Update(metricsMsg(MetricsSnapshot{DecisionsTotal: 500}))
	m := first.(Model)
	m.prevScrape = time.Now().Add(-time.Minute)

	second, _ := m.Update(metricsMsg(MetricsSnapshot{DecisionsTotal: 3}))
	m = second.(Model)

	assert.Zero(t, m.metrics.DecisionRate)
}

func TestModel_Update_ErrMsg(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)

	updatedModel, _ := model.Update(errMsg(errors.New("connection refused")))

	m := updatedModel.(Model)
	assert.Error(t, m.err)
}

func TestModel_View_Error(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)
	model.err = errors.New("connection refused")

	view := model.View()
	assert.Contains(t, view, "Cannot reach banditd")
	assert.Contains(t, view, "connection refused")
}

func TestModel_View_Dashboard(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)

	snap := MetricsSnapshot{
		DecisionsTotal: 60,
		RewardAvg:      0.5,
		AdvantageAvg:   0.1,
		Baselines:      map[string]float64{"instagram": 0.0555, "x": -0.02},
		LearnOutcomes:  map[string]float64{"success": 15, "no_snapshots": 2},
		StoreHealthy:   true,
	}
	updatedModel, _ := model.Update(metricsMsg(snap))

	view := updatedModel.(Model).View()
	assert.Contains(t, view, "banditd Monitor")
	assert.Contains(t, view, "Decisions")
	assert.Contains(t, view, "Learning")
	assert.Contains(t, view, "Baselines")
	assert.Contains(t, view, "instagram")
	assert.Contains(t, view, "+0.056")
	assert.Contains(t, view, "HEALTHY")
}

func TestModel_View_Quitting(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)
	model.quitting = true
	assert.Empty(t, model.View())
}

func TestAppendToHistory_Caps(t *testing.T) {
	history := make([]float64, 0, historySize)
	for i := 0; i < historySize+10; i++ {
		history = appendToHistory(history, float64(i))
	}
	assert.Len(t, history, historySize)
	assert.InDelta(t, float64(historySize+9), history[len(history)-1], 1e-9)
}
