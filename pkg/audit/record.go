package audit

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/medtrail-ai/medtrail/pkg/models"
)

// Severity levels for persisted records. String values match the sink
// schema consumed by external compliance tooling.
const (
	LevelDebug    = "DEBUG"
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

var levelRank = map[string]int{
	LevelDebug:    0,
	LevelInfo:     1,
	LevelWarning:  2,
	LevelError:    3,
	LevelCritical: 4,
}

// parseLevel maps a config verbosity string to a record level.
func parseLevel(s string) string {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warning":
		return LevelWarning
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// record is one serialized sink line. Required keys always present;
// correlation fields only when the event supplies them.
type record struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Logger    string `json:"logger"`
	Message   string `json:"message"`
	Hostname  string `json:"hostname"`
	ProcessID int    `json:"process_id"`
	ThreadID  int    `json:"thread_id"`
	Module    string `json:"module"`
	Function  string `json:"function"`
	Line      int    `json:"line"`

	EventType     models.EventType `json:"event_type,omitempty"`
	SessionID     string           `json:"session_id,omitempty"`
	UserID        string           `json:"user_id,omitempty"`
	PatientIDHash string           `json:"patient_id_hash,omitempty"`
	AgentName     string           `json:"agent_name,omitempty"`
	CorrelationID string           `json:"correlation_id,omitempty"`
	DurationMS    *float64         `json:"duration_ms,omitempty"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
	Exception     string           `json:"exception,omitempty"`
}

var hostname = sync.OnceValue(func() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
})

// callerInfo resolves the logging call site: module is the source file name
// without extension, matching the sink schema.
func callerInfo(skip int) (module, function string, line int) {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown", "unknown", 0
	}
	module = strings.TrimSuffix(filepath.Base(file), ".go")
	function = "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		name := fn.Name()
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		function = name
	}
	return module, function, line
}

// goroutineID fills the thread_id schema key. Parsed from the stack header;
// 0 when unparseable.
func goroutineID() int {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(string(buf[:n]))
	if len(fields) >= 2 {
		if id, err := strconv.Atoi(fields[1]); err == nil {
			return id
		}
	}
	return 0
}

func utcNow() time.Time {
	return time.Now().UTC()
}
