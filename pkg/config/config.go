package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/medtrail-ai/medtrail/pkg/models"
)

// Config holds all medtrail configuration.
type Config struct {
	// LogsDir is where the compliance sinks, the telemetry stream, and
	// session reports are written.
	LogsDir string `yaml:"logs_dir"`

	// LogLevel is the global verbosity for the app and agent sinks. The
	// audit and PHI sinks are never filtered below info.
	LogLevel string `yaml:"log_level"`

	// Debug attaches a colorized console mirror to the audit logger.
	Debug bool `yaml:"debug"`

	// DefaultModel is the pricing fallback for unrecognized models.
	DefaultModel string `yaml:"default_model"`

	// UsageDBPath is the SQLite database holding per-call usage rows.
	UsageDBPath string `yaml:"usage_db_path"`

	Audit   AuditConfig           `yaml:"audit"`
	Sinks   SinkConfig            `yaml:"sinks"`
	Pricing []models.ModelPricing `yaml:"pricing"`
	Budget  BudgetConfig          `yaml:"budget"`
}

// AuditConfig controls the audit index and retention policy.
type AuditConfig struct {
	// IndexEnabled mirrors every audit event into a queryable SQLite index.
	IndexEnabled bool            `yaml:"index_enabled"`
	DBPath       string          `yaml:"db_path"`
	Retention    RetentionConfig `yaml:"retention"`
}

// RetentionConfig holds retention windows in days. These are policy knobs,
// not hard-coded law: actual compliance requirements vary by jurisdiction.
type RetentionConfig struct {
	AuditDays int `yaml:"audit_days"`
	PHIDays   int `yaml:"phi_days"`
}

// SinkConfig controls rotation of the size-rotated sinks.
type SinkConfig struct {
	AppMaxBytes   int64 `yaml:"app_max_bytes"`
	AppBackups    int   `yaml:"app_backups"`
	AgentMaxBytes int64 `yaml:"agent_max_bytes"`
	AgentBackups  int   `yaml:"agent_backups"`
}

// BudgetConfig controls session cost budget enforcement.
type BudgetConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Policies []models.BudgetPolicy `yaml:"policies"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		LogsDir:      "logs",
		LogLevel:     "info",
		DefaultModel: "gpt-4o-mini",
		UsageDBPath:  "medtrail_usage.db",
		Audit: AuditConfig{
			IndexEnabled: true,
			DBPath:       "medtrail_audit.db",
			Retention: RetentionConfig{
				AuditDays: 365,
				PHIDays:   365 * 7,
			},
		},
		Sinks: SinkConfig{
			AppMaxBytes:   10 * 1024 * 1024,
			AppBackups:    10,
			AgentMaxBytes: 50 * 1024 * 1024,
			AgentBackups:  20,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations that would compromise the compliance
// trail. Callers must treat a validation error as fatal, before any PHI
// sink is opened.
func (c *Config) Validate() error {
	if c.LogsDir == "" {
		return fmt.Errorf("logs_dir must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warning", "error":
	default:
		return fmt.Errorf("log_level %q not recognized (debug, info, warning, error)", c.LogLevel)
	}
	if c.Audit.Retention.AuditDays <= 0 || c.Audit.Retention.PHIDays <= 0 {
		return fmt.Errorf("retention windows must be positive")
	}
	if c.Audit.Retention.PHIDays < c.Audit.Retention.AuditDays {
		return fmt.Errorf("phi retention (%d days) must not be shorter than audit retention (%d days)",
			c.Audit.Retention.PHIDays, c.Audit.Retention.AuditDays)
	}
	for _, p := range c.Budget.Policies {
		if p.MaxCostUSD <= 0 {
			return fmt.Errorf("budget policy for agent %q: max_cost_usd must be positive", p.Agent)
		}
	}
	return nil
}
