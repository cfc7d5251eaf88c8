package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/medtrail-ai/medtrail/pkg/budget"
	"github.com/medtrail-ai/medtrail/pkg/config"
	"github.com/medtrail-ai/medtrail/pkg/models"
	"github.com/medtrail-ai/medtrail/pkg/sink"
)

// sessionIDFormat stamps session ids from the process start time.
const sessionIDFormat = "20060102_150405"

// Collector accumulates LLM call metrics for one process session. Safe for
// concurrent use.
type Collector struct {
	mu        sync.Mutex
	sessionID string
	metrics   models.SessionMetrics
	calls     []models.LLMCallMetrics
	seq       int

	prices *priceTable
	stream sink.Sink
	// store and enforcer are nil unless configured.
	store    *Store
	enforcer *budget.Enforcer
	now      func() time.Time
}

// LLMCall describes one completed LLM API call for recording.
type LLMCall struct {
	Model            string
	AgentName        string
	PromptTokens     int
	CompletionTokens int
	LatencyMS        float64
	Temperature      *float64
	MaxTokens        *int
	FinishReason     string
	Err              error
}

// New constructs a Collector, opening the telemetry stream and, when
// configured, the usage store. The caller must Close it at shutdown; use
// Init for process-wide singleton semantics.
func New(cfg *config.Config) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	stream, err := sink.NewAppendFile(filepath.Join(cfg.LogsDir, "llm_telemetry.jsonl"))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &Collector{
		sessionID: now.Format(sessionIDFormat),
		prices:    newPriceTable(cfg.Pricing, cfg.DefaultModel),
		stream:    stream,
		now:       time.Now,
	}
	c.metrics = models.SessionMetrics{
		SessionID:     c.sessionID,
		StartTime:     now,
		CallsByAgent:  make(map[string]int),
		TokensByAgent: make(map[string]int),
		CostByAgent:   make(map[string]float64),
	}

	if cfg.UsageDBPath != "" {
		store, err := NewStore(cfg.UsageDBPath)
		if err != nil {
			stream.Close()
			return nil, err
		}
		c.store = store
		if cfg.Budget.Enabled {
			c.enforcer = budget.NewEnforcer(store, cfg.Budget.Policies)
		}
	}

	return c, nil
}

var (
	defaultCollector atomic.Pointer[Collector]
	defaultInitErr   error
	defaultOnce      sync.Once
)

// Init constructs the process-wide Collector on first call; later calls
// return the same instance and session id.
func Init(cfg *config.Config) (*Collector, error) {
	defaultOnce.Do(func() {
		c, err := New(cfg)
		if err != nil {
			defaultInitErr = err
			return
		}
		defaultCollector.Store(c)
	})
	return defaultCollector.Load(), defaultInitErr
}

// Default returns the collector constructed by Init, or nil before Init.
// Safe to call concurrently with Init.
func Default() *Collector {
	return defaultCollector.Load()
}

// SessionID returns the identifier of this collector's session.
func (c *Collector) SessionID() string {
	return c.sessionID
}

// Close flushes the telemetry stream and closes the usage store.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.stream.Close()
	if c.store != nil {
		if cerr := c.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// LogLLMCall records one call: assigns the next call id, estimates cost,
// folds the call into the session aggregates, and appends it to the
// telemetry stream and usage store. Failed calls (Err != nil) are recorded
// with zero cost.
func (c *Collector) LogLLMCall(call LLMCall) (*models.LLMCallMetrics, error) {
	agent := call.AgentName
	if agent == "" {
		agent = "unknown"
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	m := models.LLMCallMetrics{
		CallID:           fmt.Sprintf("%s_%04d", c.sessionID, c.seq),
		Timestamp:        c.now().UTC(),
		Model:            call.Model,
		AgentName:        call.AgentName,
		PromptTokens:     call.PromptTokens,
		CompletionTokens: call.CompletionTokens,
		TotalTokens:      call.PromptTokens + call.CompletionTokens,
		LatencyMS:        call.LatencyMS,
		Temperature:      call.Temperature,
		MaxTokens:        call.MaxTokens,
		FinishReason:     call.FinishReason,
		Success:          call.Err == nil,
	}
	if call.Err != nil {
		m.Error = call.Err.Error()
	} else {
		m.EstimatedCostUSD = c.prices.cost(call.Model, call.PromptTokens, call.CompletionTokens)
	}

	s := &c.metrics
	s.TotalCalls++
	if m.Success {
		s.SuccessfulCalls++
	} else {
		s.FailedCalls++
	}
	s.TotalPromptTokens += m.PromptTokens
	s.TotalCompletionTokens += m.CompletionTokens
	s.TotalTokens += m.TotalTokens
	s.TotalCostUSD += m.EstimatedCostUSD
	s.TotalLatencyMS += m.LatencyMS
	s.AvgLatencyMS = s.TotalLatencyMS / float64(s.TotalCalls)
	s.CallsByAgent[agent]++
	s.TokensByAgent[agent] += m.TotalTokens
	s.CostByAgent[agent] += m.EstimatedCostUSD

	c.calls = append(c.calls, m)

	line, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode call metrics: %w", err)
	}
	if err := c.stream.WriteLine(line); err != nil {
		return nil, err
	}

	if c.store != nil {
		if err := c.store.Record(c.sessionID, m); err != nil {
			return nil, err
		}
	}

	if c.enforcer != nil {
		if err := c.enforcer.Check(agent, call.Model); err != nil {
			if errors.Is(err, budget.ErrBudgetExceeded) {
				slog.Warn("llm budget exceeded", "agent", agent, "model", call.Model, "err", err)
			} else {
				slog.Warn("budget check failed", "err", err)
			}
		}
	}

	return &m, nil
}

// CallSpan measures one in-flight LLM call.
type CallSpan struct {
	c           *Collector
	model       string
	agent       string
	temperature *float64
	maxTokens   *int
	start       time.Time
}

// StartCall opens a span for an LLM call. Every span should be Ended
// exactly once, with the token counts the provider reported.
func (c *Collector) StartCall(model, agentName string) *CallSpan {
	return &CallSpan{
		c:     c,
		model: model,
		agent: agentName,
		start: c.now(),
	}
}

// WithSampling attaches the request's sampling parameters to the span.
func (s *CallSpan) WithSampling(temperature *float64, maxTokens *int) *CallSpan {
	s.temperature = temperature
	s.maxTokens = maxTokens
	return s
}

// End records the call, success or failure. Pass the token counts from the
// provider's usage block; on failure they are typically zero.
func (s *CallSpan) End(promptTokens, completionTokens int, finishReason string, err error) (*models.LLMCallMetrics, error) {
	return s.c.LogLLMCall(LLMCall{
		Model:            s.model,
		AgentName:        s.agent,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		LatencyMS:        float64(s.c.now().Sub(s.start)) / float64(time.Millisecond),
		Temperature:      s.temperature,
		MaxTokens:        s.maxTokens,
		FinishReason:     finishReason,
		Err:              err,
	})
}

// SessionSummary returns a snapshot of the session aggregates with the end
// time stamped at the moment of the call.
func (c *Collector) SessionSummary() models.SessionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.EndTime = c.now().UTC()
	return c.metrics.Clone()
}

// Calls returns a copy of the calls recorded so far, in call order.
func (c *Collector) Calls() []models.LLMCallMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.LLMCallMetrics, len(c.calls))
	copy(out, c.calls)
	return out
}
