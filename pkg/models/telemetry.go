package models

import "time"

// ModelPricing defines per-1K token costs for a model.
type ModelPricing struct {
	Model          string  `json:"model" yaml:"model"`
	PromptCost     float64 `json:"prompt_cost_per_1k" yaml:"prompt_cost_per_1k"`
	CompletionCost float64 `json:"completion_cost_per_1k" yaml:"completion_cost_per_1k"`
}

// LLMCallMetrics records a single LLM API call. Immutable once created.
type LLMCallMetrics struct {
	CallID    string    `json:"call_id"`
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model"`
	AgentName string    `json:"agent_name,omitempty"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	LatencyMS        float64 `json:"latency_ms"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`

	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`

	FinishReason string `json:"finish_reason,omitempty"`
	Error        string `json:"error,omitempty"`
	Success      bool   `json:"success"`
}

// SessionMetrics aggregates LLM call metrics for one process session.
// Invariants: TotalCalls == SuccessfulCalls + FailedCalls and AvgLatencyMS
// always reflects the latest TotalCalls.
type SessionMetrics struct {
	SessionID string    `json:"session_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	TotalCalls      int `json:"total_calls"`
	SuccessfulCalls int `json:"successful_calls"`
	FailedCalls     int `json:"failed_calls"`

	TotalPromptTokens     int `json:"total_prompt_tokens"`
	TotalCompletionTokens int `json:"total_completion_tokens"`
	TotalTokens           int `json:"total_tokens"`

	TotalCostUSD float64 `json:"total_cost_usd"`

	TotalLatencyMS float64 `json:"total_latency_ms"`
	AvgLatencyMS   float64 `json:"avg_latency_ms"`

	CallsByAgent  map[string]int     `json:"calls_by_agent"`
	TokensByAgent map[string]int     `json:"tokens_by_agent"`
	CostByAgent   map[string]float64 `json:"cost_by_agent"`
}

// Clone returns a deep copy of the metrics so callers can hold a snapshot
// without racing the collector's updates.
func (s SessionMetrics) Clone() SessionMetrics {
	out := s
	out.CallsByAgent = make(map[string]int, len(s.CallsByAgent))
	for k, v := range s.CallsByAgent {
		out.CallsByAgent[k] = v
	}
	out.TokensByAgent = make(map[string]int, len(s.TokensByAgent))
	for k, v := range s.TokensByAgent {
		out.TokensByAgent[k] = v
	}
	out.CostByAgent = make(map[string]float64, len(s.CostByAgent))
	for k, v := range s.CostByAgent {
		out.CostByAgent[k] = v
	}
	return out
}

// Session summarizes one recorded telemetry session in the usage store.
type Session struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	CallCount    int       `json:"call_count"`
	TotalTokens  int       `json:"total_tokens"`
	TotalCostUSD float64   `json:"total_cost_usd"`
}

// AgentUsage is an aggregated usage row grouped by agent and model.
type AgentUsage struct {
	AgentName        string  `json:"agent_name"`
	Model            string  `json:"model"`
	CallCount        int     `json:"call_count"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}
