package models

import "time"

// EventType tags an audit record for compliance tracking. The orchestration
// layer that drives the logger uses these exact string values.
type EventType string

const (
	// System events.
	EventSystemStart  EventType = "SYSTEM_START"
	EventSystemStop   EventType = "SYSTEM_STOP"
	EventConfigChange EventType = "CONFIG_CHANGE"

	// Authentication and authorization.
	EventUserLogin    EventType = "USER_LOGIN"
	EventUserLogout   EventType = "USER_LOGOUT"
	EventAccessDenied EventType = "ACCESS_DENIED"

	// Patient data (PHI) events.
	EventPHIAccess EventType = "PHI_ACCESS"
	EventPHICreate EventType = "PHI_CREATE"
	EventPHIUpdate EventType = "PHI_UPDATE"
	EventPHIDelete EventType = "PHI_DELETE"
	EventPHIExport EventType = "PHI_EXPORT"
	EventPHIQuery  EventType = "PHI_QUERY"

	// Agent events.
	EventAgentInitialized       EventType = "AGENT_INITIALIZED"
	EventAgentConversationStart EventType = "AGENT_CONVERSATION_START"
	EventAgentConversationEnd   EventType = "AGENT_CONVERSATION_END"
	EventAgentMessageSent       EventType = "AGENT_MESSAGE_SENT"
	EventAgentMessageReceived   EventType = "AGENT_MESSAGE_RECEIVED"
	EventAgentError             EventType = "AGENT_ERROR"

	// Clinical decision events.
	EventClinicalRecommendation EventType = "CLINICAL_RECOMMENDATION"
	EventPrognosisGenerated     EventType = "PROGNOSIS_GENERATED"
	EventTreatmentSuggested     EventType = "TREATMENT_SUGGESTED"
	EventReportGenerated        EventType = "REPORT_GENERATED"
	EventValidationPerformed    EventType = "VALIDATION_PERFORMED"

	// Data quality events.
	EventDataValidationError EventType = "DATA_VALIDATION_ERROR"
	EventDataAnomalyDetected EventType = "DATA_ANOMALY_DETECTED"
)

// IsPHI reports whether the event type belongs to the PHI access family and
// therefore routes to the PHI sink and the long retention window.
func (t EventType) IsPHI() bool {
	switch t {
	case EventPHIAccess, EventPHICreate, EventPHIUpdate, EventPHIDelete,
		EventPHIExport, EventPHIQuery:
		return true
	}
	return false
}

// AuditEntry is one audit event as stored in the SQLite index. Patient
// identifiers appear only as one-way hashes; message content never appears.
type AuditEntry struct {
	ID            int64     `json:"id"`
	EventType     EventType `json:"event_type"`
	Level         string    `json:"level"`
	Logger        string    `json:"logger"`
	Message       string    `json:"message"`
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id,omitempty"`
	PatientIDHash string    `json:"patient_id_hash,omitempty"`
	AgentName     string    `json:"agent_name,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	DurationMS    float64   `json:"duration_ms,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuditQueryOpts specifies filters for querying the audit index.
type AuditQueryOpts struct {
	EventType     EventType
	AgentName     string
	CorrelationID string
	PatientIDHash string
	SessionID     string
	Since         time.Time
	Limit         int
}

// AuditStat holds aggregate audit counts for an event-type/day combination.
type AuditStat struct {
	EventType EventType
	Day       string
	Count     int
}
