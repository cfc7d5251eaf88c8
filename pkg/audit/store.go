package audit

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/medtrail-ai/medtrail/pkg/config"
	"github.com/medtrail-ai/medtrail/pkg/models"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	level TEXT NOT NULL,
	logger TEXT NOT NULL,
	message TEXT NOT NULL,
	session_id TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	patient_id_hash TEXT NOT NULL DEFAULT '',
	agent_name TEXT NOT NULL DEFAULT '',
	correlation_id TEXT NOT NULL DEFAULT '',
	duration_ms REAL NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_events(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_correlation ON audit_events(correlation_id);
CREATE INDEX IF NOT EXISTS idx_audit_patient ON audit_events(patient_id_hash);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_events(created_at);
`

// Store is a queryable SQLite index over the audit trail. It duplicates the
// JSON-line sinks rather than replacing them; the files remain the record
// of authority. A background loop applies the retention policy hourly, with
// the longer PHI window honored for PHI event types.
type Store struct {
	db        *sql.DB
	retention config.RetentionConfig

	done chan struct{}
	wg   sync.WaitGroup
}

// NewStore opens (creating if needed) the audit index at dbPath and starts
// the retention loop.
func NewStore(dbPath string, retention config.RetentionConfig) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit index: %w", err)
	}
	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit index: %w", err)
	}

	s := &Store{
		db:        db,
		retention: retention,
		done:      make(chan struct{}),
	}
	s.wg.Add(1)
	go s.retentionLoop()
	return s, nil
}

// Close stops the retention loop and closes the database.
func (s *Store) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}

// timeFormat is the text form timestamps take in the index. SQLite's date
// functions and range comparisons only work on this canonical form, so
// every binding and scan goes through it.
const timeFormat = time.DateTime

// Insert appends one event to the index.
func (s *Store) Insert(e models.AuditEntry) error {
	_, err := s.db.Exec(`INSERT INTO audit_events
		(event_type, level, logger, message, session_id, user_id, patient_id_hash, agent_name, correlation_id, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.EventType), e.Level, e.Logger, e.Message, e.SessionID, e.UserID,
		e.PatientIDHash, e.AgentName, e.CorrelationID, e.DurationMS,
		e.CreatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Query returns events matching opts, newest first.
func (s *Store) Query(opts models.AuditQueryOpts) ([]models.AuditEntry, error) {
	var (
		conds []string
		args  []any
	)
	if opts.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, string(opts.EventType))
	}
	if opts.AgentName != "" {
		conds = append(conds, "agent_name = ?")
		args = append(args, opts.AgentName)
	}
	if opts.CorrelationID != "" {
		conds = append(conds, "correlation_id = ?")
		args = append(args, opts.CorrelationID)
	}
	if opts.PatientIDHash != "" {
		conds = append(conds, "patient_id_hash = ?")
		args = append(args, opts.PatientIDHash)
	}
	if opts.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if !opts.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, opts.Since.UTC().Format(timeFormat))
	}

	query := `SELECT id, event_type, level, logger, message, session_id, user_id,
		patient_id_hash, agent_name, correlation_id, duration_ms, created_at
		FROM audit_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var et, created string
		if err := rows.Scan(&e.ID, &et, &e.Level, &e.Logger, &e.Message, &e.SessionID,
			&e.UserID, &e.PatientIDHash, &e.AgentName, &e.CorrelationID, &e.DurationMS, &created); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.EventType = models.EventType(et)
		e.CreatedAt, err = time.ParseInLocation(timeFormat, created, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns per-day event counts grouped by type since the given time.
func (s *Store) Stats(since time.Time) ([]models.AuditStat, error) {
	rows, err := s.db.Query(`SELECT event_type, date(created_at) AS day, COUNT(*)
		FROM audit_events
		WHERE created_at >= ?
		GROUP BY event_type, day
		ORDER BY day DESC, COUNT(*) DESC`, since.UTC().Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var st models.AuditStat
		var et string
		if err := rows.Scan(&et, &st.Day, &st.Count); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		st.EventType = models.EventType(et)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// phiEventTypes lists the types held for the extended PHI retention window.
func phiEventTypes() []any {
	types := []models.EventType{
		models.EventPHIAccess, models.EventPHICreate, models.EventPHIUpdate,
		models.EventPHIDelete, models.EventPHIExport, models.EventPHIQuery,
	}
	out := make([]any, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

// Cleanup deletes events older than their retention window and returns the
// number of rows removed. PHI events use the longer PHI window.
func (s *Store) Cleanup() (int64, error) {
	now := time.Now().UTC()
	phiTypes := phiEventTypes()
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(phiTypes)), ",")

	auditCutoff := now.AddDate(0, 0, -s.retention.AuditDays).Format(timeFormat)
	res, err := s.db.Exec(
		`DELETE FROM audit_events WHERE created_at < ? AND event_type NOT IN (`+placeholders+`)`,
		append([]any{auditCutoff}, phiTypes...)...)
	if err != nil {
		return 0, fmt.Errorf("audit retention: %w", err)
	}
	removed, _ := res.RowsAffected()

	phiCutoff := now.AddDate(0, 0, -s.retention.PHIDays).Format(timeFormat)
	res, err = s.db.Exec(
		`DELETE FROM audit_events WHERE created_at < ? AND event_type IN (`+placeholders+`)`,
		append([]any{phiCutoff}, phiTypes...)...)
	if err != nil {
		return removed, fmt.Errorf("phi retention: %w", err)
	}
	n, _ := res.RowsAffected()
	return removed + n, nil
}

func (s *Store) retentionLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-s.done:
			return
		}
	}
}
