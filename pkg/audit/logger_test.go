package audit

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/medtrail-ai/medtrail/pkg/config"
	"github.com/medtrail-ai/medtrail/pkg/models"
	"github.com/medtrail-ai/medtrail/pkg/phi"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.LogsDir = t.TempDir()
	cfg.Audit.IndexEnabled = false
	cfg.Audit.DBPath = filepath.Join(cfg.LogsDir, "audit.db")
	cfg.UsageDBPath = filepath.Join(cfg.LogsDir, "usage.db")
	return cfg
}

func mustNew(t *testing.T, cfg *config.Config) *Logger {
	t.Helper()
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// readLines returns the JSON objects written to one sink file.
func readLines(t *testing.T, dir, name string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read %s: %v", name, err)
	}
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			t.Fatalf("unmarshal %s line %q: %v", name, line, err)
		}
		out = append(out, obj)
	}
	return out
}

func TestPHIExportNeverLogsRawID(t *testing.T) {
	cfg := testConfig(t)
	l := mustNew(t, cfg)

	err := l.LogPHIAccess("PT-9", "export", []string{"name", "dob"}, "discharge summary")
	if err != nil {
		t.Fatalf("LogPHIAccess: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(cfg.LogsDir, "phi_access.log"))
	if err != nil {
		t.Fatalf("read phi_access.log: %v", err)
	}
	if strings.Contains(string(raw), "PT-9") {
		t.Fatalf("raw patient id leaked into phi_access.log: %s", raw)
	}

	lines := readLines(t, cfg.LogsDir, "phi_access.log")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	rec := lines[0]
	if rec["event_type"] != "PHI_EXPORT" {
		t.Errorf("event_type = %v, want PHI_EXPORT", rec["event_type"])
	}
	if rec["patient_id_hash"] != phi.Hash("PT-9") {
		t.Errorf("patient_id_hash = %v, want %v", rec["patient_id_hash"], phi.Hash("PT-9"))
	}
	md, _ := rec["metadata"].(map[string]any)
	if md["access_type"] != "export" {
		t.Errorf("metadata access_type = %v, want export", md["access_type"])
	}
}

func TestAccessTypeMapping(t *testing.T) {
	cfg := testConfig(t)
	l := mustNew(t, cfg)

	types := map[string]string{
		"read":    "PHI_ACCESS",
		"write":   "PHI_UPDATE",
		"create":  "PHI_CREATE",
		"delete":  "PHI_DELETE",
		"export":  "PHI_EXPORT",
		"query":   "PHI_QUERY",
		"unknown": "PHI_ACCESS",
	}
	for at := range types {
		if err := l.LogPHIAccess("PT-1", at, []string{"labs"}, "review"); err != nil {
			t.Fatalf("LogPHIAccess(%s): %v", at, err)
		}
	}

	lines := readLines(t, cfg.LogsDir, "phi_access.log")
	if len(lines) != len(types) {
		t.Fatalf("got %d lines, want %d", len(lines), len(types))
	}
	for _, rec := range lines {
		md, _ := rec["metadata"].(map[string]any)
		at, _ := md["access_type"].(string)
		if want := types[at]; rec["event_type"] != want {
			t.Errorf("access type %q mapped to %v, want %v", at, rec["event_type"], want)
		}
	}
}

func TestRecordSchema(t *testing.T) {
	cfg := testConfig(t)
	l := mustNew(t, cfg)

	if err := l.LogSystemStart(); err != nil {
		t.Fatalf("LogSystemStart: %v", err)
	}

	lines := readLines(t, cfg.LogsDir, "audit.log")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	rec := lines[0]
	for _, key := range []string{
		"timestamp", "level", "logger", "message", "hostname",
		"process_id", "thread_id", "module", "function", "line",
	} {
		if _, ok := rec[key]; !ok {
			t.Errorf("record missing required key %q", key)
		}
	}
	if rec["event_type"] != "SYSTEM_START" {
		t.Errorf("event_type = %v, want SYSTEM_START", rec["event_type"])
	}
	if rec["session_id"] != l.SessionID() {
		t.Errorf("session_id = %v, want %v", rec["session_id"], l.SessionID())
	}
	if rec["function"] != "LogSystemStart" {
		t.Errorf("function = %v, want LogSystemStart", rec["function"])
	}
}

func TestLevelFiltering(t *testing.T) {
	cfg := testConfig(t)
	cfg.LogLevel = "info"
	l := mustNew(t, cfg)

	// Agent message traffic is DEBUG and must be dropped at info level.
	if err := l.LogAgentMessage("cardiology", "sent", "corr-1", 120, ""); err != nil {
		t.Fatalf("LogAgentMessage: %v", err)
	}
	if lines := readLines(t, cfg.LogsDir, "agents.log"); len(lines) != 0 {
		t.Fatalf("debug message written at info level: %v", lines)
	}

	// Lifecycle events are INFO and must pass.
	if err := l.LogAgentInitialized("cardiology"); err != nil {
		t.Fatalf("LogAgentInitialized: %v", err)
	}
	if lines := readLines(t, cfg.LogsDir, "agents.log"); len(lines) != 1 {
		t.Fatalf("info event filtered: got %d lines", len(lines))
	}
}

func TestAuditSinksIgnoreVerbosityFloor(t *testing.T) {
	cfg := testConfig(t)
	cfg.LogLevel = "error"
	l := mustNew(t, cfg)

	if err := l.LogSystemStart(); err != nil {
		t.Fatalf("LogSystemStart: %v", err)
	}
	if err := l.LogPHIAccess("PT-2", "read", []string{"meds"}, "dispensing"); err != nil {
		t.Fatalf("LogPHIAccess: %v", err)
	}

	if lines := readLines(t, cfg.LogsDir, "audit.log"); len(lines) != 1 {
		t.Fatal("audit events must not be filtered by the app verbosity level")
	}
	if lines := readLines(t, cfg.LogsDir, "phi_access.log"); len(lines) != 1 {
		t.Fatal("phi events must not be filtered by the app verbosity level")
	}
}

func TestConversationCorrelation(t *testing.T) {
	cfg := testConfig(t)
	l := mustNew(t, cfg)

	corr := l.NewCorrelationID()
	if corr == "" || corr == l.NewCorrelationID() {
		t.Fatal("correlation ids must be unique and non-empty")
	}

	if err := l.LogConversationStart(corr, "review cardiac workup", []string{"cardiology", "radiology"}); err != nil {
		t.Fatalf("LogConversationStart: %v", err)
	}
	if err := l.LogConversationEnd(corr, 1530.5, 12, "completed"); err != nil {
		t.Fatalf("LogConversationEnd: %v", err)
	}

	lines := readLines(t, cfg.LogsDir, "audit.log")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	for _, rec := range lines {
		if rec["correlation_id"] != corr {
			t.Errorf("correlation_id = %v, want %v", rec["correlation_id"], corr)
		}
	}
	endMD, _ := lines[1]["metadata"].(map[string]any)
	if endMD["termination_reason"] != "completed" {
		t.Errorf("termination_reason = %v", endMD["termination_reason"])
	}
	if lines[1]["duration_ms"] != 1530.5 {
		t.Errorf("duration_ms = %v, want 1530.5", lines[1]["duration_ms"])
	}
}

func TestTaskSummaryTruncated(t *testing.T) {
	cfg := testConfig(t)
	l := mustNew(t, cfg)

	long := strings.Repeat("x", 500)
	if err := l.LogConversationStart("corr-1", long, []string{"a"}); err != nil {
		t.Fatalf("LogConversationStart: %v", err)
	}

	lines := readLines(t, cfg.LogsDir, "audit.log")
	md, _ := lines[0]["metadata"].(map[string]any)
	summary, _ := md["task_summary"].(string)
	if len(summary) != taskSummaryLimit {
		t.Fatalf("task summary length = %d, want %d", len(summary), taskSummaryLimit)
	}
}

func TestErrorsGoToAppSink(t *testing.T) {
	cfg := testConfig(t)
	l := mustNew(t, cfg)

	cause := errors.New("upstream timeout after 30s")
	if err := l.LogError("agent call failed", cause, "cardiology", "corr-9"); err != nil {
		t.Fatalf("LogError: %v", err)
	}

	lines := readLines(t, cfg.LogsDir, "app.log")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	rec := lines[0]
	if rec["level"] != LevelError {
		t.Errorf("level = %v, want %v", rec["level"], LevelError)
	}
	if rec["exception"] != cause.Error() {
		t.Errorf("exception = %v, want %v", rec["exception"], cause.Error())
	}
}

func TestFreeTextScrubbed(t *testing.T) {
	cfg := testConfig(t)
	l := mustNew(t, cfg)

	if err := l.LogError("patient reachable at 555-867-5309", nil, "", ""); err != nil {
		t.Fatalf("LogError: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(cfg.LogsDir, "app.log"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "555-867-5309") {
		t.Fatal("phone number leaked into app.log")
	}
	if !strings.Contains(string(raw), "[PHONE_REDACTED]") {
		t.Fatal("redaction marker missing from app.log")
	}
}

func TestSetUserAttribution(t *testing.T) {
	cfg := testConfig(t)
	l := mustNew(t, cfg)

	l.SetUser("dr_chen")
	if err := l.LogSystemStart(); err != nil {
		t.Fatal(err)
	}

	lines := readLines(t, cfg.LogsDir, "audit.log")
	if lines[0]["user_id"] != "dr_chen" {
		t.Errorf("user_id = %v, want dr_chen", lines[0]["user_id"])
	}
}

func TestValidateMetadataRejectsUnknownKeys(t *testing.T) {
	_, err := validateMetadata(models.EventPHIAccess, map[string]any{
		"access_type": "read",
		"note":        "free text",
	})
	if err == nil {
		t.Fatal("unknown metadata key accepted")
	}
}

func TestInitReturnsSameInstance(t *testing.T) {
	cfg := testConfig(t)

	// Init and Default race from many goroutines; every Init must yield
	// the one shared instance and Default either nil or that instance.
	var wg sync.WaitGroup
	results := make([]*Logger, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = Default()
			l, err := Init(cfg)
			if err != nil {
				t.Errorf("Init: %v", err)
				return
			}
			results[i] = l
		}(i)
	}
	wg.Wait()
	for _, l := range results {
		if l != results[0] {
			t.Fatal("concurrent Init produced different instances")
		}
	}

	first, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	second, err := Init(testConfig(t))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if first != second {
		t.Fatal("Init constructed a second instance")
	}
	if first.SessionID() != second.SessionID() {
		t.Fatal("session id changed across Init calls")
	}
	if Default() != first {
		t.Fatal("Default does not return the Init instance")
	}
}
