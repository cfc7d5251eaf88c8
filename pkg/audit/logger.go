// Package audit provides the HIPAA-oriented audit logger: typed clinical
// events persisted as JSON lines into category sinks with independent
// rotation and retention, plus an optional queryable SQLite index.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"golang.org/x/term"

	"github.com/medtrail-ai/medtrail/pkg/config"
	"github.com/medtrail-ai/medtrail/pkg/models"
	"github.com/medtrail-ai/medtrail/pkg/phi"
	"github.com/medtrail-ai/medtrail/pkg/sink"
)

// taskSummaryLimit bounds the free-text summary stored with a conversation
// start event.
const taskSummaryLimit = 200

// Logger writes compliance audit events into four category sinks. All
// methods are safe for concurrent use; events are persisted in call order.
type Logger struct {
	mu        sync.Mutex
	sessionID string
	userID    string
	minLevel  int

	app     sink.Sink
	audit   sink.Sink
	agents  sink.Sink
	phiSink sink.Sink

	console *slog.Logger // debug mirror for app/agent events, may be nil
	store   *Store       // optional queryable index, may be nil

	host string
	pid  int
}

// New constructs a Logger, creating the logs directory and opening all four
// sinks. The caller owns the instance and must Close it at shutdown; use
// Init for process-wide singleton semantics.
func New(cfg *config.Config) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.LogsDir, 0o700); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}

	app, err := sink.NewSizeFile(filepath.Join(cfg.LogsDir, "app.log"), cfg.Sinks.AppMaxBytes, cfg.Sinks.AppBackups)
	if err != nil {
		return nil, err
	}
	auditSink, err := sink.NewDailyFile(filepath.Join(cfg.LogsDir, "audit.log"), cfg.Audit.Retention.AuditDays)
	if err != nil {
		return nil, err
	}
	agents, err := sink.NewSizeFile(filepath.Join(cfg.LogsDir, "agents.log"), cfg.Sinks.AgentMaxBytes, cfg.Sinks.AgentBackups)
	if err != nil {
		return nil, err
	}
	phiSink, err := sink.NewDailyFile(filepath.Join(cfg.LogsDir, "phi_access.log"), cfg.Audit.Retention.PHIDays)
	if err != nil {
		return nil, err
	}

	l := &Logger{
		sessionID: uuid.New().String(),
		minLevel:  levelRank[parseLevel(cfg.LogLevel)],
		app:       app,
		audit:     auditSink,
		agents:    agents,
		phiSink:   phiSink,
		host:      hostname(),
		pid:       os.Getpid(),
	}

	if cfg.Debug {
		l.console = slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen,
			NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
		}))
	}

	if cfg.Audit.IndexEnabled {
		store, err := NewStore(cfg.Audit.DBPath, cfg.Audit.Retention)
		if err != nil {
			l.Close()
			return nil, err
		}
		l.store = store
	}

	return l, nil
}

var (
	defaultLogger  atomic.Pointer[Logger]
	defaultInitErr error
	defaultOnce    sync.Once
)

// Init constructs the process-wide Logger on first call; later calls return
// the same instance without reopening sinks, so a single event never yields
// duplicate lines.
func Init(cfg *config.Config) (*Logger, error) {
	defaultOnce.Do(func() {
		l, err := New(cfg)
		if err != nil {
			defaultInitErr = err
			return
		}
		defaultLogger.Store(l)
	})
	return defaultLogger.Load(), defaultInitErr
}

// Default returns the logger constructed by Init, or nil before Init. Safe
// to call concurrently with Init.
func Default() *Logger {
	return defaultLogger.Load()
}

// SessionID returns the identifier stamped on every event of this process.
func (l *Logger) SessionID() string {
	return l.sessionID
}

// SetUser associates subsequent events with a user identity. Attribution
// only; no authentication is implied.
func (l *Logger) SetUser(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.userID = userID
}

// NewCorrelationID returns a fresh identifier grouping the events of one
// logical multi-step interaction.
func (l *Logger) NewCorrelationID() string {
	return uuid.New().String()
}

// Close flushes and closes all sinks and the index.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, s := range []sink.Sink{l.app, l.audit, l.agents, l.phiSink} {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if l.store != nil {
		if err := l.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// event carries the optional correlation fields of one audit record.
type event struct {
	Type          models.EventType
	Level         string
	Message       string
	PatientID     string // raw; hashed before serialization
	AgentName     string
	CorrelationID string
	DurationMS    *float64
	Metadata      map[string]any
	Exception     string
}

// filtered reports whether the app/agent verbosity floor drops this event.
// The audit and PHI sinks are never filtered.
func (l *Logger) filtered(dst sink.Sink, level string) bool {
	if dst == l.audit || dst == l.phiSink {
		return false
	}
	return levelRank[level] < l.minLevel
}

// emit serializes one event and appends it to dst. Write failures are
// returned to the caller: silent loss of an audit record is a compliance
// violation, so nothing is swallowed here.
func (l *Logger) emit(dst sink.Sink, loggerName string, ev event) error {
	md, err := validateMetadata(ev.Type, ev.Metadata)
	if err != nil {
		return err
	}

	module, function, line := callerInfo(1)

	rec := record{
		Timestamp:     utcNow().Format(time.RFC3339Nano),
		Level:         ev.Level,
		Logger:        loggerName,
		Message:       phi.Scrub(ev.Message),
		Hostname:      l.host,
		ProcessID:     l.pid,
		ThreadID:      goroutineID(),
		Module:        module,
		Function:      function,
		Line:          line,
		EventType:     ev.Type,
		SessionID:     l.sessionID,
		AgentName:     ev.AgentName,
		CorrelationID: ev.CorrelationID,
		DurationMS:    ev.DurationMS,
		Metadata:      md,
	}
	if ev.PatientID != "" {
		rec.PatientIDHash = phi.Hash(ev.PatientID)
	}
	if ev.Exception != "" {
		rec.Exception = phi.Scrub(ev.Exception)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec.UserID = l.userID

	if l.filtered(dst, ev.Level) {
		return nil
	}

	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	if err := dst.WriteLine(buf); err != nil {
		return err
	}

	if l.console != nil && (dst == l.app || dst == l.agents) {
		l.mirror(rec)
	}

	if l.store != nil {
		entry := models.AuditEntry{
			EventType:     rec.EventType,
			Level:         rec.Level,
			Logger:        rec.Logger,
			Message:       rec.Message,
			SessionID:     rec.SessionID,
			UserID:        rec.UserID,
			PatientIDHash: rec.PatientIDHash,
			AgentName:     rec.AgentName,
			CorrelationID: rec.CorrelationID,
			CreatedAt:     utcNow(),
		}
		if rec.DurationMS != nil {
			entry.DurationMS = *rec.DurationMS
		}
		if err := l.store.Insert(entry); err != nil {
			return fmt.Errorf("audit index: %w", err)
		}
	}

	return nil
}

func (l *Logger) mirror(rec record) {
	attrs := []any{slog.String("event_type", string(rec.EventType))}
	if rec.AgentName != "" {
		attrs = append(attrs, slog.String("agent", rec.AgentName))
	}
	if rec.CorrelationID != "" {
		attrs = append(attrs, slog.String("correlation_id", rec.CorrelationID))
	}
	switch rec.Level {
	case LevelDebug:
		l.console.Debug(rec.Message, attrs...)
	case LevelWarning:
		l.console.Warn(rec.Message, attrs...)
	case LevelError, LevelCritical:
		l.console.Error(rec.Message, attrs...)
	default:
		l.console.Info(rec.Message, attrs...)
	}
}

// LogSystemStart records process startup in the audit trail.
func (l *Logger) LogSystemStart() error {
	return l.emit(l.audit, "medtrail.audit", event{
		Type:    models.EventSystemStart,
		Level:   LevelInfo,
		Message: "system started",
	})
}

// LogSystemStop records process shutdown in the audit trail.
func (l *Logger) LogSystemStop() error {
	return l.emit(l.audit, "medtrail.audit", event{
		Type:    models.EventSystemStop,
		Level:   LevelInfo,
		Message: "system stopped",
	})
}

// LogAgentInitialized records that an agent came up.
func (l *Logger) LogAgentInitialized(agentName string) error {
	return l.emit(l.agents, "medtrail.agents", event{
		Type:      models.EventAgentInitialized,
		Level:     LevelInfo,
		Message:   fmt.Sprintf("agent initialized: %s", agentName),
		AgentName: agentName,
	})
}

// LogConversationStart brackets the opening of a multi-agent conversation.
func (l *Logger) LogConversationStart(correlationID, taskSummary string, agentsInvolved []string) error {
	return l.emit(l.audit, "medtrail.audit", event{
		Type:          models.EventAgentConversationStart,
		Level:         LevelInfo,
		Message:       fmt.Sprintf("conversation started with %d agents", len(agentsInvolved)),
		CorrelationID: correlationID,
		Metadata: map[string]any{
			"agents":       agentsInvolved,
			"task_summary": truncate(taskSummary, taskSummaryLimit),
		},
	})
}

// LogConversationEnd brackets the close of a multi-agent conversation.
// terminationReason is free text, e.g. "completed" or "error: <message>".
func (l *Logger) LogConversationEnd(correlationID string, durationMS float64, messageCount int, terminationReason string) error {
	return l.emit(l.audit, "medtrail.audit", event{
		Type:          models.EventAgentConversationEnd,
		Level:         LevelInfo,
		Message:       fmt.Sprintf("conversation ended: %d messages in %.0fms", messageCount, durationMS),
		CorrelationID: correlationID,
		DurationMS:    &durationMS,
		Metadata: map[string]any{
			"message_count":      messageCount,
			"termination_reason": terminationReason,
		},
	})
}

// LogAgentMessage records message traffic without message content: only the
// length and an optional hashed patient reference are persisted. patientID
// may be empty.
func (l *Logger) LogAgentMessage(agentName, messageType, correlationID string, contentLength int, patientID string) error {
	et := models.EventAgentMessageReceived
	if messageType == "sent" {
		et = models.EventAgentMessageSent
	}
	return l.emit(l.agents, "medtrail.agents", event{
		Type:          et,
		Level:         LevelDebug,
		Message:       fmt.Sprintf("%s %s message (%d chars)", agentName, messageType, contentLength),
		AgentName:     agentName,
		CorrelationID: correlationID,
		PatientID:     patientID,
		Metadata: map[string]any{
			"content_length": contentLength,
		},
	})
}

var accessTypeEvents = map[string]models.EventType{
	"read":   models.EventPHIAccess,
	"write":  models.EventPHIUpdate,
	"create": models.EventPHICreate,
	"delete": models.EventPHIDelete,
	"export": models.EventPHIExport,
	"query":  models.EventPHIQuery,
}

// LogPHIAccess records an access to patient-identifying data. Mandatory on
// every read/write/create/delete/export/query touching patient data; only
// the hash of patientID is persisted.
func (l *Logger) LogPHIAccess(patientID, accessType string, dataFields []string, reason string) error {
	et, ok := accessTypeEvents[accessType]
	if !ok {
		et = models.EventPHIAccess
	}
	return l.emit(l.phiSink, "medtrail.phi", event{
		Type:      et,
		Level:     LevelInfo,
		Message:   fmt.Sprintf("PHI %s: patient %s, fields: %v", accessType, phi.Hash(patientID), dataFields),
		PatientID: patientID,
		Metadata: map[string]any{
			"access_type":     accessType,
			"fields_accessed": dataFields,
			"access_reason":   reason,
		},
	})
}

// LogClinicalRecommendation records an AI-generated clinical recommendation.
// patientID may be empty; confidence may be nil.
func (l *Logger) LogClinicalRecommendation(agentName, recommendationType, patientID, correlationID string, confidence *float64) error {
	md := map[string]any{
		"recommendation_type": recommendationType,
	}
	if confidence != nil {
		md["confidence"] = *confidence
	}
	return l.emit(l.audit, "medtrail.audit", event{
		Type:          models.EventClinicalRecommendation,
		Level:         LevelInfo,
		Message:       fmt.Sprintf("clinical recommendation: %s by %s", recommendationType, agentName),
		AgentName:     agentName,
		PatientID:     patientID,
		CorrelationID: correlationID,
		Metadata:      md,
	})
}

// LogPrognosisGenerated records a prognosis analysis.
func (l *Logger) LogPrognosisGenerated(patientID, correlationID, trend string, confidence float64) error {
	return l.emit(l.audit, "medtrail.audit", event{
		Type:          models.EventPrognosisGenerated,
		Level:         LevelInfo,
		Message:       fmt.Sprintf("prognosis generated: %s (confidence: %.2f)", trend, confidence),
		PatientID:     patientID,
		CorrelationID: correlationID,
		Metadata: map[string]any{
			"trend":      trend,
			"confidence": confidence,
		},
	})
}

// LogReportGenerated records report generation. patientID may be empty.
func (l *Logger) LogReportGenerated(reportType, patientID, correlationID string) error {
	return l.emit(l.audit, "medtrail.audit", event{
		Type:          models.EventReportGenerated,
		Level:         LevelInfo,
		Message:       fmt.Sprintf("report generated: %s", reportType),
		PatientID:     patientID,
		CorrelationID: correlationID,
		Metadata: map[string]any{
			"report_type": reportType,
		},
	})
}

// LogValidationError records a data-quality failure.
func (l *Logger) LogValidationError(validationType, field, errorMessage, patientID string) error {
	return l.emit(l.audit, "medtrail.audit", event{
		Type:      models.EventDataValidationError,
		Level:     LevelWarning,
		Message:   fmt.Sprintf("validation error in %s: %s", field, errorMessage),
		PatientID: patientID,
		Metadata: map[string]any{
			"validation_type": validationType,
			"field":           field,
			"error":           errorMessage,
		},
	})
}

// LogError records an operational failure in the application sink. err,
// agentName, and correlationID may be empty.
func (l *Logger) LogError(message string, err error, agentName, correlationID string) error {
	ev := event{
		Type:          models.EventAgentError,
		Level:         LevelError,
		Message:       message,
		AgentName:     agentName,
		CorrelationID: correlationID,
	}
	if err != nil {
		ev.Exception = err.Error()
	}
	return l.emit(l.app, "medtrail.app", ev)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
