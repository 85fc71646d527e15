// Package config holds the tunable parameters of the audit pipeline. The
// Manager hands out immutable snapshots so readers never observe a
// partially-updated struct.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// Config captures every tunable of the pipeline. Values are plain data;
// ownership and mutation live in the Manager.
type Config struct {
	// Retention
	RetentionDays        int  `json:"retention_days"`
	ArchiveImportantLogs bool `json:"archive_important_logs"`

	// Queue and batching
	MaxQueueSize       int           `json:"max_queue_size"`
	BatchSize          int           `json:"batch_size"`
	ProcessingInterval time.Duration `json:"processing_interval"`
	MaxRetries         int           `json:"max_retries"`

	// Behavior toggles
	EnableAsyncLogging  bool `json:"enable_async_logging"`
	SkipLowPriorityLogs bool `json:"skip_low_priority_logs"`
	MaxDetailsSize      int  `json:"max_details_size"`
	EnableCompression   bool `json:"enable_compression"`
	EnableIndexing      bool `json:"enable_indexing"`

	// Priority policy
	AlwaysLogSecurityEvents bool `json:"always_log_security_events"`
	AlwaysLogFailedActions  bool `json:"always_log_failed_actions"`
}

// Default returns the documented baseline configuration.
func Default() Config {
	return Config{
		RetentionDays:           90,
		ArchiveImportantLogs:    false,
		MaxQueueSize:            1000,
		BatchSize:               50,
		ProcessingInterval:      5 * time.Second,
		MaxRetries:              3,
		EnableAsyncLogging:      true,
		SkipLowPriorityLogs:     false,
		MaxDetailsSize:          1000,
		EnableCompression:       false,
		EnableIndexing:          true,
		AlwaysLogSecurityEvents: true,
		AlwaysLogFailedActions:  true,
	}
}

// ErrInvalidConfig is returned when a config update carries out-of-range
// values.
var ErrInvalidConfig = errors.New("invalid audit configuration")

// Validate rejects values that would stall the pipeline: the worker needs a
// positive batch size and interval to drain, and a negative retry budget
// would skip persistence entirely.
func (c Config) Validate() error {
	switch {
	case c.RetentionDays < 1:
		return fmt.Errorf("%w: retention_days must be at least 1", ErrInvalidConfig)
	case c.MaxQueueSize < 1:
		return fmt.Errorf("%w: max_queue_size must be at least 1", ErrInvalidConfig)
	case c.BatchSize < 1:
		return fmt.Errorf("%w: batch_size must be at least 1", ErrInvalidConfig)
	case c.ProcessingInterval <= 0:
		return fmt.Errorf("%w: processing_interval must be positive", ErrInvalidConfig)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max_retries cannot be negative", ErrInvalidConfig)
	case c.MaxDetailsSize < 0:
		return fmt.Errorf("%w: max_details_size cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// ForEnvironment returns a named preset. Unknown names fall back to Default.
func ForEnvironment(name string) Config {
	cfg := Default()
	switch name {
	case "production":
		cfg.RetentionDays = 365
		cfg.ArchiveImportantLogs = true
		cfg.MaxQueueSize = 5000
		cfg.BatchSize = 100
		cfg.SkipLowPriorityLogs = true
	case "staging":
		cfg.RetentionDays = 180
		cfg.MaxQueueSize = 2000
		cfg.BatchSize = 100
	case "development":
		cfg.RetentionDays = 30
		cfg.MaxQueueSize = 500
		cfg.BatchSize = 10
		cfg.ProcessingInterval = time.Second
		// Synchronous writes make single-request debugging tractable.
		cfg.EnableAsyncLogging = false
	}
	return cfg
}

// FromEnv builds a Config from AUDIT_* environment variables, falling back to
// the defaults above so main stays lean.
func FromEnv() Config {
	return OverlayEnv(Default())
}

// OverlayEnv applies AUDIT_* environment variables on top of a base config,
// typically an environment preset. Malformed or out-of-range values keep the
// base value rather than poisoning the pipeline at startup.
func OverlayEnv(base Config) Config {
	cfg := base
	cfg.RetentionDays = envInt("AUDIT_RETENTION_DAYS", cfg.RetentionDays, 1)
	cfg.ArchiveImportantLogs = envBool("AUDIT_ARCHIVE_IMPORTANT", cfg.ArchiveImportantLogs)
	cfg.MaxQueueSize = envInt("AUDIT_MAX_QUEUE_SIZE", cfg.MaxQueueSize, 1)
	cfg.BatchSize = envInt("AUDIT_BATCH_SIZE", cfg.BatchSize, 1)
	cfg.ProcessingInterval = envMillis("AUDIT_PROCESSING_INTERVAL", cfg.ProcessingInterval)
	cfg.MaxRetries = envInt("AUDIT_MAX_RETRIES", cfg.MaxRetries, 0)
	cfg.EnableAsyncLogging = envBool("AUDIT_ASYNC_LOGGING", cfg.EnableAsyncLogging)
	cfg.SkipLowPriorityLogs = envBool("AUDIT_SKIP_LOW_PRIORITY", cfg.SkipLowPriorityLogs)
	cfg.MaxDetailsSize = envInt("AUDIT_MAX_DETAILS_SIZE", cfg.MaxDetailsSize, 0)
	cfg.EnableCompression = envBool("AUDIT_ENABLE_COMPRESSION", cfg.EnableCompression)
	cfg.EnableIndexing = envBool("AUDIT_ENABLE_INDEXING", cfg.EnableIndexing)
	cfg.AlwaysLogSecurityEvents = envBool("AUDIT_ALWAYS_LOG_SECURITY", cfg.AlwaysLogSecurityEvents)
	cfg.AlwaysLogFailedActions = envBool("AUDIT_ALWAYS_LOG_FAILURES", cfg.AlwaysLogFailedActions)
	return cfg
}

func envInt(key string, fallback, min int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envMillis(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// Patch describes a partial update. Nil fields are left untouched.
type Patch struct {
	RetentionDays           *int           `json:"retention_days,omitempty"`
	ArchiveImportantLogs    *bool          `json:"archive_important_logs,omitempty"`
	MaxQueueSize            *int           `json:"max_queue_size,omitempty"`
	BatchSize               *int           `json:"batch_size,omitempty"`
	ProcessingInterval      *time.Duration `json:"processing_interval,omitempty"`
	MaxRetries              *int           `json:"max_retries,omitempty"`
	EnableAsyncLogging      *bool          `json:"enable_async_logging,omitempty"`
	SkipLowPriorityLogs     *bool          `json:"skip_low_priority_logs,omitempty"`
	MaxDetailsSize          *int           `json:"max_details_size,omitempty"`
	EnableCompression       *bool          `json:"enable_compression,omitempty"`
	EnableIndexing          *bool          `json:"enable_indexing,omitempty"`
	AlwaysLogSecurityEvents *bool          `json:"always_log_security_events,omitempty"`
	AlwaysLogFailedActions  *bool          `json:"always_log_failed_actions,omitempty"`
}

// Manager owns the live pipeline configuration. Get returns a value copy, so
// callers always see a consistent snapshot even while Update runs.
type Manager struct {
	mu  sync.RWMutex
	cfg Config
}

// NewManager creates a Manager seeded with the given config.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Get returns the current configuration snapshot.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Update merges non-nil patch fields into the live config and returns the
// resulting snapshot. An update carrying out-of-range values is rejected
// wholesale; the live config is left untouched.
func (m *Manager) Update(p Patch) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.cfg
	if p.RetentionDays != nil {
		cfg.RetentionDays = *p.RetentionDays
	}
	if p.ArchiveImportantLogs != nil {
		cfg.ArchiveImportantLogs = *p.ArchiveImportantLogs
	}
	if p.MaxQueueSize != nil {
		cfg.MaxQueueSize = *p.MaxQueueSize
	}
	if p.BatchSize != nil {
		cfg.BatchSize = *p.BatchSize
	}
	if p.ProcessingInterval != nil {
		cfg.ProcessingInterval = *p.ProcessingInterval
	}
	if p.MaxRetries != nil {
		cfg.MaxRetries = *p.MaxRetries
	}
	if p.EnableAsyncLogging != nil {
		cfg.EnableAsyncLogging = *p.EnableAsyncLogging
	}
	if p.SkipLowPriorityLogs != nil {
		cfg.SkipLowPriorityLogs = *p.SkipLowPriorityLogs
	}
	if p.MaxDetailsSize != nil {
		cfg.MaxDetailsSize = *p.MaxDetailsSize
	}
	if p.EnableCompression != nil {
		cfg.EnableCompression = *p.EnableCompression
	}
	if p.EnableIndexing != nil {
		cfg.EnableIndexing = *p.EnableIndexing
	}
	if p.AlwaysLogSecurityEvents != nil {
		cfg.AlwaysLogSecurityEvents = *p.AlwaysLogSecurityEvents
	}
	if p.AlwaysLogFailedActions != nil {
		cfg.AlwaysLogFailedActions = *p.AlwaysLogFailedActions
	}

	if err := cfg.Validate(); err != nil {
		return m.cfg, err
	}
	m.cfg = cfg
	return cfg, nil
}

// Replace swaps the entire configuration, e.g. when applying an environment
// preset at runtime.
func (m *Manager) Replace(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// Reset restores the documented defaults.
func (m *Manager) Reset() {
	m.Replace(Default())
}
