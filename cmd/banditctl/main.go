// Package main implements the banditctl CLI for manual operations against
// the banditd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/banditd/internal/monitor"
	"github.com/fyrsmithlabs/banditd/internal/simulate"
	v1 "github.com/fyrsmithlabs/banditd/pkg/api/v1"
)

var (
	// serverURL is the base URL for the banditd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "banditctl",
	Short: "CLI for banditd HTTP server operations",
	Long: `banditctl is a command-line interface for interacting with the banditd server.
It requests decisions, inspects posts and learned state, replays scenarios
offline, and runs a live terminal dashboard.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "banditd server URL")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(postCmd)
	rootCmd.AddCommand(preferencesCmd)
	rootCmd.AddCommand(baselinesCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(monitorCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check banditd server health",
	Long: `Check the health status of the banditd HTTP server.

Examples:
  # Check health
  banditctl health

  # Check health on a different server
  banditctl health --server http://localhost:8080`,
	RunE: runHealth,
}

var (
	decidePlatform     string
	decideTimeBucket   string
	decideDayOfWeek    int
	decideBusinessText string
	decideTopicText    string
)

// decideCmd requests one action selection
var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Request an action selection",
	Long: `Request an action selection for a posting slot.

The business and topic text are embedded server-side, so the server must be
running with an embeddings provider configured.

Examples:
  # Decide for instagram right now
  banditctl decide --platform instagram --business-text "indie coffee roaster" --topic-text "new seasonal blend"

  # Decide for a specific slot
  banditctl decide --platform x --time-bucket evening --day 5 --business-text "..." --topic-text "..."`,
	RunE: runDecide,
}

// postCmd fetches one ledger record
var postCmd = &cobra.Command{
	Use:   "post <post-id>",
	Short: "Show a post's ledger record",
	Args:  cobra.ExactArgs(1),
	RunE:  runPost,
}

var (
	prefsPlatform   string
	prefsTimeBucket string
	prefsDayOfWeek  int
)

// preferencesCmd shows the learned preference table of one slot
var preferencesCmd = &cobra.Command{
	Use:   "preferences",
	Short: "Show learned preferences for a posting slot",
	Long: `Show the learned preference table of one posting slot, sorted by score.

Examples:
  banditctl preferences --platform instagram --time-bucket morning --day 1`,
	RunE: runPreferences,
}

// baselinesCmd lists per-platform reward baselines
var baselinesCmd = &cobra.Command{
	Use:   "baselines",
	Short: "List per-platform reward baselines",
	RunE:  runBaselines,
}

var simulateVerbose bool

// simulateCmd replays a scenario offline, without a server
var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.toml>",
	Short: "Replay a scenario against an in-memory engine",
	Long: `Replay a TOML scenario offline: decisions, synthesized engagement, and
learning all run in-process against an in-memory store. The report shows
whether the policy converged on the values the scenario favors.

Examples:
  banditctl simulate scenarios/question-hooks.toml
  banditctl simulate --verbose scenarios/question-hooks.toml`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

var monitorInterval time.Duration

// monitorCmd runs the live terminal dashboard
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the live terminal dashboard",
	Long: `Run a terminal dashboard that scrapes the server's /metrics endpoint and
renders decision throughput, learning outcomes, and baselines.

Examples:
  banditctl monitor
  banditctl monitor --interval 2s --server http://localhost:8080`,
	RunE: runMonitor,
}

func init() {
	decideCmd.Flags().StringVar(&decidePlatform, "platform", "", "target platform (required)")
	decideCmd.Flags().StringVar(&decideTimeBucket, "time-bucket", "", "posting time bucket (default: server's current time)")
	decideCmd.Flags().IntVar(&decideDayOfWeek, "day", -1, "day of week, 0=Sunday (default: server's current day)")
	decideCmd.Flags().StringVar(&decideBusinessText, "business-text", "", "business description to embed")
	decideCmd.Flags().StringVar(&decideTopicText, "topic-text", "", "post topic to embed")
	_ = decideCmd.MarkFlagRequired("platform")

	preferencesCmd.Flags().StringVar(&prefsPlatform, "platform", "", "target platform (required)")
	preferencesCmd.Flags().StringVar(&prefsTimeBucket, "time-bucket", "", "posting time bucket (required)")
	preferencesCmd.Flags().IntVar(&prefsDayOfWeek, "day", 0, "day of week, 0=Sunday")
	_ = preferencesCmd.MarkFlagRequired("platform")
	_ = preferencesCmd.MarkFlagRequired("time-bucket")

	simulateCmd.Flags().BoolVar(&simulateVerbose, "verbose", false, "log per-round progress")

	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 2*time.Second, "scrape interval")
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	var healthResp v1.HealthResponse
	if err := getJSON("/health", &healthResp); err != nil {
		return err
	}

	fmt.Printf("Server Status: %s\n", healthResp.Status)
	fmt.Printf("Server URL: %s\n", serverURL)
	return nil
}

// runDecide handles the decide command
func runDecide(cmd *cobra.Command, args []string) error {
	req := v1.DecisionRequest{
		Platform:     decidePlatform,
		TimeBucket:   decideTimeBucket,
		BusinessText: decideBusinessText,
		TopicText:    decideTopicText,
	}
	if decideDayOfWeek >= 0 {
		req.DayOfWeek = &decideDayOfWeek
	}

	var resp v1.DecisionResponse
	if err := postJSON("/v1/decisions", req, &resp); err != nil {
		return err
	}

	fmt.Printf("Decision: %s\n", resp.DecisionID)
	fmt.Printf("Post:     %s\n", resp.PostID)
	fmt.Printf("Slot:     %s %s day=%d\n", resp.Platform, resp.TimeBucket, resp.DayOfWeek)
	for _, dim := range resp.Probabilities {
		fmt.Printf("\n%s -> %s (entropy %.3f)\n", dim.Dimension, dim.Chosen, dim.Entropy)
		for _, vp := range dim.Distribution {
			marker := " "
			if vp.Value == dim.Chosen {
				marker = "*"
			}
			fmt.Printf("  %s %-20s p=%.3f score=%+.3f\n", marker, vp.Value, vp.Probability, vp.Score)
		}
	}
	return nil
}

// runPost handles the post command
func runPost(cmd *cobra.Command, args []string) error {
	var resp v1.PostResponse
	if err := getJSON("/v1/posts/"+args[0], &resp); err != nil {
		return err
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// runPreferences handles the preferences command
func runPreferences(cmd *cobra.Command, args []string) error {
	path := fmt.Sprintf("/v1/preferences?platform=%s&time_bucket=%s&day_of_week=%d",
		prefsPlatform, prefsTimeBucket, prefsDayOfWeek)

	var resp v1.PreferencesResponse
	if err := getJSON(path, &resp); err != nil {
		return err
	}

	fmt.Printf("Slot: %s %s day=%d\n", resp.Platform, resp.TimeBucket, resp.DayOfWeek)
	if len(resp.Cells) == 0 {
		fmt.Println("No learned preferences yet.")
		return nil
	}

	cells := resp.Cells
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Dimension != cells[j].Dimension {
			return cells[i].Dimension < cells[j].Dimension
		}
		return cells[i].Score > cells[j].Score
	})
	lastDim := ""
	for _, cell := range cells {
		if cell.Dimension != lastDim {
			fmt.Printf("\n%s:\n", cell.Dimension)
			lastDim = cell.Dimension
		}
		fmt.Printf("  %-20s %+.4f  (%d samples)\n", cell.Value, cell.Score, cell.Samples)
	}
	return nil
}

// runBaselines handles the baselines command
func runBaselines(cmd *cobra.Command, args []string) error {
	var resp v1.BaselinesResponse
	if err := getJSON("/v1/baselines", &resp); err != nil {
		return err
	}

	if len(resp.Baselines) == 0 {
		fmt.Println("No baselines yet.")
		return nil
	}
	sort.Slice(resp.Baselines, func(i, j int) bool {
		return resp.Baselines[i].Platform < resp.Baselines[j].Platform
	})
	for _, b := range resp.Baselines {
		fmt.Printf("%-12s %+.4f  (%d samples, updated %s)\n",
			b.Platform, b.Value, b.Samples, b.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

// runSimulate handles the simulate command
func runSimulate(cmd *cobra.Command, args []string) error {
	sc, err := simulate.LoadScenario(args[0])
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if simulateVerbose {
		logger, err = zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
	}

	runner, err := simulate.NewRunner(sc, logger)
	if err != nil {
		return err
	}

	report, err := runner.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	fmt.Print(report.Render())
	return nil
}

// runMonitor handles the monitor command
func runMonitor(cmd *cobra.Command, args []string) error {
	model := monitor.NewModel(serverURL, monitorInterval)
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	return nil
}

// getJSON GETs path from the server and decodes the response body into out.
func getJSON(path string, out any) error {
	url := serverURL + path

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return serverError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// postJSON POSTs in as JSON to path and decodes the response body into out.
func postJSON(path string, in, out any) error {
	reqJSON, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := serverURL + path
	httpReq, err := http.NewRequest("POST", url, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return serverError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// serverError turns a non-2xx response into an error carrying the body.
func serverError(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
	}
	var apiErr v1.ErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("server returned status %d (%s): %s", resp.StatusCode, apiErr.Code, apiErr.Error)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}
