package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/medtrail-ai/medtrail/pkg/config"
	"github.com/medtrail-ai/medtrail/pkg/models"
)

func collectorConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.LogsDir = t.TempDir()
	cfg.UsageDBPath = "" // in-memory aggregates only
	return cfg
}

func mustCollector(t *testing.T, cfg *config.Config) *Collector {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCostEstimate(t *testing.T) {
	c := mustCollector(t, collectorConfig(t))

	m, err := c.LogLLMCall(LLMCall{
		Model:            "gpt-4o-mini",
		AgentName:        "cardiology",
		PromptTokens:     1000,
		CompletionTokens: 500,
		LatencyMS:        820,
	})
	if err != nil {
		t.Fatalf("LogLLMCall: %v", err)
	}
	// 1000/1000*0.00015 + 500/1000*0.0006
	if m.EstimatedCostUSD != 0.00045 {
		t.Errorf("cost = %v, want 0.00045", m.EstimatedCostUSD)
	}
	if m.TotalTokens != 1500 {
		t.Errorf("total tokens = %d, want 1500", m.TotalTokens)
	}
}

func TestUnknownModelFallsBackToDefault(t *testing.T) {
	cfg := collectorConfig(t)
	cfg.DefaultModel = "gpt-4o-mini"
	c := mustCollector(t, cfg)

	m, err := c.LogLLMCall(LLMCall{Model: "my-finetune", PromptTokens: 1000, CompletionTokens: 500})
	if err != nil {
		t.Fatal(err)
	}
	if m.EstimatedCostUSD != 0.00045 {
		t.Errorf("fallback cost = %v, want 0.00045", m.EstimatedCostUSD)
	}
}

func TestPricingOverride(t *testing.T) {
	cfg := collectorConfig(t)
	cfg.Pricing = []models.ModelPricing{
		{Model: "gpt-4o-mini", PromptCost: 0.001, CompletionCost: 0.002},
	}
	c := mustCollector(t, cfg)

	m, err := c.LogLLMCall(LLMCall{Model: "gpt-4o-mini", PromptTokens: 1000, CompletionTokens: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if m.EstimatedCostUSD != 0.003 {
		t.Errorf("overridden cost = %v, want 0.003", m.EstimatedCostUSD)
	}
}

func TestFailedCallCostsNothing(t *testing.T) {
	c := mustCollector(t, collectorConfig(t))

	m, err := c.LogLLMCall(LLMCall{
		Model:     "gpt-4o",
		AgentName: "radiology",
		Err:       errors.New("rate limited"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if m.Success {
		t.Error("failed call marked successful")
	}
	if m.EstimatedCostUSD != 0 {
		t.Errorf("failed call cost = %v, want 0", m.EstimatedCostUSD)
	}

	s := c.SessionSummary()
	if s.FailedCalls != 1 || s.SuccessfulCalls != 0 {
		t.Errorf("counts = %d ok / %d failed, want 0/1", s.SuccessfulCalls, s.FailedCalls)
	}
}

func TestSessionAggregates(t *testing.T) {
	c := mustCollector(t, collectorConfig(t))

	for i := 0; i < 5; i++ {
		call := LLMCall{
			Model:            "gpt-4o-mini",
			AgentName:        "cardiology",
			PromptTokens:     100,
			CompletionTokens: 50,
			LatencyMS:        100,
		}
		if i == 4 {
			call.AgentName = "oncology"
			call.Err = errors.New("timeout")
		}
		if _, err := c.LogLLMCall(call); err != nil {
			t.Fatal(err)
		}
	}

	s := c.SessionSummary()
	if s.TotalCalls != 5 {
		t.Errorf("total calls = %d, want 5", s.TotalCalls)
	}
	if s.SuccessfulCalls+s.FailedCalls != s.TotalCalls {
		t.Error("successful + failed != total")
	}
	if s.TotalTokens != s.TotalPromptTokens+s.TotalCompletionTokens {
		t.Error("token totals inconsistent")
	}
	if want := s.TotalLatencyMS / float64(s.TotalCalls); s.AvgLatencyMS != want {
		t.Errorf("avg latency = %v, want %v", s.AvgLatencyMS, want)
	}
	if s.CallsByAgent["cardiology"] != 4 || s.CallsByAgent["oncology"] != 1 {
		t.Errorf("calls by agent = %v", s.CallsByAgent)
	}
	var agentCost float64
	for _, v := range s.CostByAgent {
		agentCost += v
	}
	if diff := agentCost - s.TotalCostUSD; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("per-agent costs sum to %v, total is %v", agentCost, s.TotalCostUSD)
	}
}

func TestCallIDsIncrease(t *testing.T) {
	c := mustCollector(t, collectorConfig(t))

	var prev string
	for i := 0; i < 3; i++ {
		m, err := c.LogLLMCall(LLMCall{Model: "gpt-4o-mini", PromptTokens: 1, CompletionTokens: 1})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(m.CallID, c.SessionID()+"_") {
			t.Errorf("call id %q missing session prefix %q", m.CallID, c.SessionID())
		}
		if m.CallID <= prev {
			t.Errorf("call id %q not greater than %q", m.CallID, prev)
		}
		prev = m.CallID
	}
	if want := fmt.Sprintf("%s_0003", c.SessionID()); prev != want {
		t.Errorf("last call id = %q, want %q", prev, want)
	}
}

func TestTelemetryStream(t *testing.T) {
	cfg := collectorConfig(t)
	c := mustCollector(t, cfg)

	for i := 0; i < 2; i++ {
		if _, err := c.LogLLMCall(LLMCall{Model: "gpt-4o-mini", PromptTokens: 10, CompletionTokens: 5}); err != nil {
			t.Fatal(err)
		}
	}

	data, err := os.ReadFile(filepath.Join(cfg.LogsDir, "llm_telemetry.jsonl"))
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("stream has %d lines, want 2", len(lines))
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("stream line is not JSON: %v", err)
	}
	if m["call_id"] == "" {
		t.Error("stream line missing call_id")
	}
}

func TestCallSpan(t *testing.T) {
	c := mustCollector(t, collectorConfig(t))

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	elapsed := time.Duration(0)
	c.now = func() time.Time {
		ts := base.Add(elapsed)
		elapsed += 250 * time.Millisecond
		return ts
	}

	temp := 0.2
	span := c.StartCall("gpt-4o-mini", "prognosis").WithSampling(&temp, nil)
	m, err := span.End(800, 200, "stop", nil)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if m.PromptTokens != 800 || m.CompletionTokens != 200 {
		t.Errorf("span dropped token counts: %+v", m)
	}
	if m.LatencyMS != 250 {
		t.Errorf("latency = %v, want 250", m.LatencyMS)
	}
	if m.Temperature == nil || *m.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", m.Temperature)
	}
}

func TestCallSpanRecordsFailure(t *testing.T) {
	c := mustCollector(t, collectorConfig(t))

	span := c.StartCall("gpt-4o", "triage")
	m, err := span.End(0, 0, "", errors.New("connection reset"))
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if m.Success || m.Error == "" {
		t.Errorf("failure not recorded: %+v", m)
	}
	if c.SessionSummary().FailedCalls != 1 {
		t.Error("failed call not aggregated")
	}
}

func TestSessionSummarySnapshotIsolated(t *testing.T) {
	c := mustCollector(t, collectorConfig(t))

	if _, err := c.LogLLMCall(LLMCall{Model: "gpt-4o-mini", AgentName: "cardiology", PromptTokens: 10, CompletionTokens: 5}); err != nil {
		t.Fatal(err)
	}

	snap := c.SessionSummary()
	snap.CallsByAgent["cardiology"] = 99

	if c.SessionSummary().CallsByAgent["cardiology"] != 1 {
		t.Error("mutating a snapshot leaked into the collector")
	}
}

func TestSaveSessionReport(t *testing.T) {
	cfg := collectorConfig(t)
	c := mustCollector(t, cfg)

	if _, err := c.LogLLMCall(LLMCall{Model: "gpt-4o-mini", AgentName: "cardiology", PromptTokens: 1000, CompletionTokens: 500}); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	jsonPath, txtPath, err := c.SaveSessionReport(dir)
	if err != nil {
		t.Fatalf("SaveSessionReport: %v", err)
	}

	if want := filepath.Join(dir, fmt.Sprintf("session_%s_report.json", c.SessionID())); jsonPath != want {
		t.Errorf("json path = %q, want %q", jsonPath, want)
	}

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatal(err)
	}
	var report sessionReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if report.Session.TotalCalls != 1 || len(report.Calls) != 1 {
		t.Errorf("report contents: %d calls, session total %d", len(report.Calls), report.Session.TotalCalls)
	}

	txt, err := os.ReadFile(txtPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(txt), c.SessionID()) {
		t.Error("text report missing session id")
	}
	if !strings.Contains(string(txt), "$0.000450") {
		t.Errorf("text report missing cost: %s", txt)
	}
}

func TestSessionIDFormat(t *testing.T) {
	c := mustCollector(t, collectorConfig(t))

	if _, err := time.Parse(sessionIDFormat, c.SessionID()); err != nil {
		t.Fatalf("session id %q does not match %s: %v", c.SessionID(), sessionIDFormat, err)
	}
}

func TestInitSingleton(t *testing.T) {
	cfg := collectorConfig(t)

	var wg sync.WaitGroup
	results := make([]*Collector, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = Default()
			c, err := Init(cfg)
			if err != nil {
				t.Errorf("Init: %v", err)
				return
			}
			results[i] = c
		}(i)
	}
	wg.Wait()
	for _, c := range results {
		if c != results[0] {
			t.Fatal("concurrent Init produced different collectors")
		}
	}

	first, err := Init(collectorConfig(t))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if first != results[0] || Default() != first {
		t.Fatal("Init must return one shared collector")
	}
}
