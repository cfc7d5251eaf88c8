package telemetry

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/medtrail-ai/medtrail/pkg/models"
)

const usageSchema = `
CREATE TABLE IF NOT EXISTS llm_calls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	call_id TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	model TEXT NOT NULL,
	agent_name TEXT NOT NULL DEFAULT '',
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	latency_ms REAL NOT NULL DEFAULT 0,
	estimated_cost_usd REAL NOT NULL DEFAULT 0,
	finish_reason TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	success INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_calls_session ON llm_calls(session_id);
CREATE INDEX IF NOT EXISTS idx_calls_agent ON llm_calls(agent_name);
CREATE INDEX IF NOT EXISTS idx_calls_timestamp ON llm_calls(timestamp);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	started_at DATETIME NOT NULL,
	last_activity DATETIME NOT NULL,
	call_count INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	total_cost_usd REAL NOT NULL DEFAULT 0
);
`

// Store persists per-call usage in SQLite for cross-session cost queries.
// The collector's in-memory aggregates answer "this session"; the store
// answers "this month".
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the usage database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open usage store: %w", err)
	}
	if _, err := db.Exec(usageSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record persists one call and rolls its totals into the session row.
func (s *Store) Record(sessionID string, m models.LLMCallMetrics) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("record call: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO llm_calls
		(call_id, session_id, timestamp, model, agent_name, prompt_tokens, completion_tokens,
		 total_tokens, latency_ms, estimated_cost_usd, finish_reason, error, success)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.CallID, sessionID, m.Timestamp.UTC(), m.Model, m.AgentName,
		m.PromptTokens, m.CompletionTokens, m.TotalTokens,
		m.LatencyMS, m.EstimatedCostUSD, m.FinishReason, m.Error, m.Success)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO sessions (id, started_at, last_activity, call_count, total_tokens, total_cost_usd)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_activity = excluded.last_activity,
			call_count = call_count + 1,
			total_tokens = total_tokens + excluded.total_tokens,
			total_cost_usd = total_cost_usd + excluded.total_cost_usd`,
		sessionID, m.Timestamp.UTC(), m.Timestamp.UTC(), m.TotalTokens, m.EstimatedCostUSD)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	return tx.Commit()
}

// ListSessions returns recorded sessions, most recent first.
func (s *Store) ListSessions(limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, started_at, last_activity, call_count, total_tokens, total_cost_usd
		FROM sessions ORDER BY last_activity DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var sess models.Session
		if err := rows.Scan(&sess.ID, &sess.StartedAt, &sess.LastActivity,
			&sess.CallCount, &sess.TotalTokens, &sess.TotalCostUSD); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SessionCalls returns the calls of one session in call order.
func (s *Store) SessionCalls(sessionID string) ([]models.LLMCallMetrics, error) {
	rows, err := s.db.Query(`SELECT call_id, timestamp, model, agent_name, prompt_tokens,
		completion_tokens, total_tokens, latency_ms, estimated_cost_usd, finish_reason, error, success
		FROM llm_calls WHERE session_id = ? ORDER BY call_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session calls: %w", err)
	}
	defer rows.Close()

	var calls []models.LLMCallMetrics
	for rows.Next() {
		var m models.LLMCallMetrics
		if err := rows.Scan(&m.CallID, &m.Timestamp, &m.Model, &m.AgentName,
			&m.PromptTokens, &m.CompletionTokens, &m.TotalTokens,
			&m.LatencyMS, &m.EstimatedCostUSD, &m.FinishReason, &m.Error, &m.Success); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		calls = append(calls, m)
	}
	return calls, rows.Err()
}

// UsageByAgent returns usage aggregated per agent and model since the given
// time. A zero since covers all history.
func (s *Store) UsageByAgent(since time.Time) ([]models.AgentUsage, error) {
	var (
		conds []string
		args  []any
	)
	if !since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, since.UTC())
	}
	query := `SELECT agent_name, model, COUNT(*), SUM(prompt_tokens), SUM(completion_tokens),
		SUM(total_tokens), SUM(estimated_cost_usd) FROM llm_calls`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " GROUP BY agent_name, model ORDER BY SUM(estimated_cost_usd) DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("usage by agent: %w", err)
	}
	defer rows.Close()

	var usage []models.AgentUsage
	for rows.Next() {
		var u models.AgentUsage
		if err := rows.Scan(&u.AgentName, &u.Model, &u.CallCount,
			&u.PromptTokens, &u.CompletionTokens, &u.TotalTokens, &u.EstimatedCostUSD); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

// AgentSpend returns the total estimated cost attributed to one agent since
// the given time. agent "*" matches every agent.
func (s *Store) AgentSpend(agent, model string, since time.Time) (float64, error) {
	var (
		conds []string
		args  []any
	)
	if agent != "*" {
		conds = append(conds, "agent_name = ?")
		args = append(args, agent)
	}
	if model != "" {
		conds = append(conds, "model = ?")
		args = append(args, model)
	}
	if !since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, since.UTC())
	}
	query := `SELECT COALESCE(SUM(estimated_cost_usd), 0) FROM llm_calls`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	var total float64
	if err := s.db.QueryRow(query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("agent spend: %w", err)
	}
	return total, nil
}
