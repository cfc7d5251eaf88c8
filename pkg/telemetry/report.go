package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/medtrail-ai/medtrail/pkg/models"
)

var (
	reportBox   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 2)
	reportTitle = lipgloss.NewStyle().Bold(true)
	reportLabel = lipgloss.NewStyle().Faint(true).Width(22)
)

// CostReport renders the session aggregates as a boxed text report.
func (c *Collector) CostReport() string {
	s := c.SessionSummary()

	var b strings.Builder
	b.WriteString(reportTitle.Render("LLM Usage Report"))
	b.WriteString("\n\n")

	row := func(label, value string) {
		b.WriteString(reportLabel.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}
	row("Session", s.SessionID)
	row("Started", s.StartTime.Format(time.RFC3339))
	row("Duration", s.EndTime.Sub(s.StartTime).Round(time.Second).String())
	row("Calls", fmt.Sprintf("%d (%d ok, %d failed)", s.TotalCalls, s.SuccessfulCalls, s.FailedCalls))
	row("Prompt tokens", fmt.Sprintf("%d", s.TotalPromptTokens))
	row("Completion tokens", fmt.Sprintf("%d", s.TotalCompletionTokens))
	row("Total tokens", fmt.Sprintf("%d", s.TotalTokens))
	row("Avg latency", fmt.Sprintf("%.1f ms", s.AvgLatencyMS))
	row("Estimated cost", fmt.Sprintf("$%.6f", s.TotalCostUSD))

	if len(s.CallsByAgent) > 0 {
		b.WriteString("\n")
		b.WriteString(reportTitle.Render("By Agent"))
		b.WriteString("\n")
		for _, a := range agentsByCost(s) {
			b.WriteString(fmt.Sprintf("%-20s %5d calls %10d tokens  $%.6f\n",
				a, s.CallsByAgent[a], s.TokensByAgent[a], s.CostByAgent[a]))
		}
	}

	return reportBox.Render(strings.TrimRight(b.String(), "\n"))
}

// PrintCostSummary writes the boxed report to stdout.
func (c *Collector) PrintCostSummary() {
	fmt.Println(c.CostReport())
}

// sessionReport is the on-disk JSON shape of a saved session report.
type sessionReport struct {
	Session models.SessionMetrics   `json:"session"`
	Calls   []models.LLMCallMetrics `json:"calls"`
}

// SaveSessionReport writes session_<id>_report.json and a matching .txt
// rendering into dir, returning both paths.
func (c *Collector) SaveSessionReport(dir string) (jsonPath, txtPath string, err error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", fmt.Errorf("create report dir: %w", err)
	}

	report := sessionReport{
		Session: c.SessionSummary(),
		Calls:   c.Calls(),
	}
	buf, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode session report: %w", err)
	}

	base := fmt.Sprintf("session_%s_report", c.sessionID)
	jsonPath = filepath.Join(dir, base+".json")
	if err := os.WriteFile(jsonPath, buf, 0o600); err != nil {
		return "", "", fmt.Errorf("write session report: %w", err)
	}

	txtPath = filepath.Join(dir, base+".txt")
	if err := os.WriteFile(txtPath, []byte(c.CostReport()+"\n"), 0o600); err != nil {
		return "", "", fmt.Errorf("write session report: %w", err)
	}

	return jsonPath, txtPath, nil
}

// agentsByCost returns agent names ordered by descending cost, ties broken
// by name.
func agentsByCost(s models.SessionMetrics) []string {
	agents := make([]string, 0, len(s.CallsByAgent))
	for a := range s.CallsByAgent {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool {
		if s.CostByAgent[agents[i]] != s.CostByAgent[agents[j]] {
			return s.CostByAgent[agents[i]] > s.CostByAgent[agents[j]]
		}
		return agents[i] < agents[j]
	})
	return agents
}
