// Package monitor renders a terminal dashboard over a running banditd
// server. It scrapes the server's /metrics endpoint on an interval and
// shows decision throughput, learning outcomes, and per-platform
// baselines.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
)

// Model is the BubbleTea dashboard model.
type Model struct {
	serverURL  string
	interval   time.Duration
	lastUpdate time.Time
	metrics    MetricsSnapshot
	err        error
	quitting   bool

	// prevTotal and prevScrape difference consecutive counter samples into
	// a decisions/min rate.
	prevTotal  float64
	prevScrape time.Time

	loadProgress   progress.Model
	memoryProgress progress.Model
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard model pointed at one banditd server.
func NewModel(serverURL string, interval time.Duration) Model {
	loadProg := progress.New(
		progress.WithGradient("#00ffff", "#ff00ff"),
		progress.WithWidth(40),
	)
	memProg := progress.New(
		progress.WithGradient("#00ff00", "#ffff00"),
		progress.WithWidth(40),
	)

	return Model{
		serverURL:      serverURL,
		interval:       interval,
		loadProgress:   loadProg,
		memoryProgress: memProg,
		metrics: MetricsSnapshot{
			LearnOutcomes:  make(map[string]float64),
			Baselines:      make(map[string]float64),
			RateHistory:    make([]float64, 0, historySize),
			RewardHistory:  make([]float64, 0, historySize),
			EntropyHistory: make([]float64, 0, historySize),
			RatePeak:       1.0, // floor so the load bar never divides by zero
		},
	}
}

// storeBadge renders the backend health indicator.
func storeBadge(healthy bool) string {
	if healthy {
		return healthyStyle.Render("✓ HEALTHY")
	}
	return errorStyle.Render("✗ DEGRADED")
}

// advantageBadge colors the mean advantage: positive means recent posts
// beat the baseline.
func advantageBadge(adv float64) string {
	switch {
	case adv > 0:
		return healthyStyle.Render("[↑]")
	case adv < 0:
		return warningStyle.Render("[↓]")
	default:
		return dimStyle.Render("[–]")
	}
}

// appendToHistory appends a value, keeping the ring at historySize.
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline renders a sparkline chart from historical data.
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type metricsMsg MetricsSnapshot
type errMsg error

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchMetrics(m.serverURL),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchMetrics scrapes the server once.
func fetchMetrics(serverURL string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		snap, err := NewMetricsClient(serverURL).Scrape(ctx)
		if err != nil {
			return errMsg(err)
		}
		return metricsMsg(snap)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchMetrics(m.serverURL)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchMetrics(m.serverURL),
		)

	case metricsMsg:
		now := time.Now()
		snap := MetricsSnapshot(msg)

		// Counters only move forward; a drop means the server restarted and
		// the rate restarts with it.
		if !m.prevScrape.IsZero() && snap.DecisionsTotal >= m.prevTotal {
			elapsed := now.Sub(m.prevScrape).Minutes()
			if elapsed > 0 {
				snap.DecisionRate = (snap.DecisionsTotal - m.prevTotal) / elapsed
			}
		}
		m.prevTotal = snap.DecisionsTotal
		m.prevScrape = now

		snap.RateHistory = appendToHistory(m.metrics.RateHistory, snap.DecisionRate)
		snap.RewardHistory = appendToHistory(m.metrics.RewardHistory, snap.RewardAvg)
		snap.EntropyHistory = appendToHistory(m.metrics.EntropyHistory, snap.EntropyAvg)

		snap.RatePeak = m.metrics.RatePeak
		if snap.DecisionRate > snap.RatePeak {
			snap.RatePeak = snap.DecisionRate
		}

		m.metrics = snap
		m.lastUpdate = now
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render(" banditd Monitor ")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot reach banditd") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.serverURL) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

func (m Model) renderDashboard() string {
	var content string

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	uptimeStr := "n/a"
	if m.metrics.StartTimeSeconds > 0 {
		uptimeStr = FormatDuration(int64(time.Since(time.Unix(int64(m.metrics.StartTimeSeconds), 0)).Seconds()))
	}

	header := headerStyle.Render(" banditd Monitor ")
	headerLine := fmt.Sprintf("%s   %s   %s   %s",
		storeBadge(m.metrics.StoreHealthy),
		dimStyle.Render("Uptime:"),
		valueStyle.Render(uptimeStr),
		dimStyle.Render(lastUpdateStr))

	content += header + "\n"
	content += headerLine + "\n"

	// Decisions
	content += "\n" + sectionStyle.Render("┃ Decisions") + "\n"

	rateSparkline := createSparkline(m.metrics.RateHistory)
	content += labelStyle.Render("  Rate: ") +
		valueStyle.Render(FormatRate(m.metrics.DecisionRate)) +
		"   " + rateSparkline + "\n"

	content += labelStyle.Render("  Latency (avg): ") +
		valueStyle.Render(FormatLatency(m.metrics.DecisionLatency)) +
		dimStyle.Render(fmt.Sprintf("   total %d", int64(m.metrics.DecisionsTotal))) + "\n"

	entropySparkline := createSparkline(m.metrics.EntropyHistory)
	content += labelStyle.Render("  Entropy: ") +
		valueStyle.Render(fmt.Sprintf("%.2f nats", m.metrics.EntropyAvg)) +
		"   " + entropySparkline + "\n"

	ratePercent := 0.0
	if m.metrics.RatePeak > 0 {
		ratePercent = m.metrics.DecisionRate / m.metrics.RatePeak
		if ratePercent > 1.0 {
			ratePercent = 1.0
		}
	}
	content += labelStyle.Render("  Load: ") +
		m.loadProgress.ViewAs(ratePercent) +
		" " + dimStyle.Render(fmt.Sprintf("%.0f%%", ratePercent*100)) + "\n"

	// Learning
	content += "\n" + sectionStyle.Render("┃ Learning") + "\n"

	rewardSparkline := createSparkline(m.metrics.RewardHistory)
	content += labelStyle.Render("  Reward (avg): ") +
		valueStyle.Render(FormatScore(m.metrics.RewardAvg)) +
		"   " + rewardSparkline + "\n"

	content += labelStyle.Render("  Advantage (avg): ") +
		valueStyle.Render(FormatScore(m.metrics.AdvantageAvg)) +
		" " + advantageBadge(m.metrics.AdvantageAvg) + "\n"

	content += labelStyle.Render("  Passes: ") + renderOutcomes(m.metrics.LearnOutcomes) + "\n"

	// Baselines
	content += "\n" + sectionStyle.Render("┃ Baselines") + "\n"
	if len(m.metrics.Baselines) == 0 {
		content += dimStyle.Render("  no platforms learned yet") + "\n"
	} else {
		platforms := make([]string, 0, len(m.metrics.Baselines))
		for p := range m.metrics.Baselines {
			platforms = append(platforms, p)
		}
		sort.Strings(platforms)
		for _, p := range platforms {
			content += labelStyle.Render(fmt.Sprintf("  %-12s", p)) +
				valueStyle.Render(FormatScore(m.metrics.Baselines[p])) + "\n"
		}
	}

	// System
	content += "\n" + sectionStyle.Render("┃ System") + "\n"

	const memoryMaxBytes = 512 << 20
	memoryPercent := m.metrics.HeapBytes / memoryMaxBytes
	if memoryPercent > 1.0 {
		memoryPercent = 1.0
	}
	content += labelStyle.Render("  Memory: ") +
		m.memoryProgress.ViewAs(memoryPercent) +
		" " + dimStyle.Render(FormatMemory(uint64(m.metrics.HeapBytes))) + "\n"

	content += labelStyle.Render("  Goroutines: ") +
		valueStyle.Render(fmt.Sprintf("%d", int(m.metrics.Goroutines))) +
		dimStyle.Render(fmt.Sprintf("   sweeps %d", int64(m.metrics.SweepsTotal))) + "\n"

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))

	content += "\n" + footer

	return containerStyle.Render(content)
}

// renderOutcomes renders learn pass counts in a stable order.
func renderOutcomes(outcomes map[string]float64) string {
	order := []string{"success", "no_snapshots", "parked", "error"}
	var out string
	for i, key := range order {
		if i > 0 {
			out += dimStyle.Render("  ")
		}
		out += dimStyle.Render(key+"=") + valueStyle.Render(fmt.Sprintf("%d", int64(outcomes[key])))
	}
	return out
}
