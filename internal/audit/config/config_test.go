package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 90, cfg.RetentionDays)
	assert.False(t, cfg.ArchiveImportantLogs)
	assert.Equal(t, 1000, cfg.MaxQueueSize)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.ProcessingInterval)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.True(t, cfg.EnableAsyncLogging)
	assert.False(t, cfg.SkipLowPriorityLogs)
	assert.Equal(t, 1000, cfg.MaxDetailsSize)
	assert.True(t, cfg.AlwaysLogSecurityEvents)
	assert.True(t, cfg.AlwaysLogFailedActions)
}

func TestForEnvironment(t *testing.T) {
	t.Run("production", func(t *testing.T) {
		cfg := ForEnvironment("production")
		assert.Equal(t, 365, cfg.RetentionDays)
		assert.True(t, cfg.ArchiveImportantLogs)
		assert.Equal(t, 5000, cfg.MaxQueueSize)
		assert.Equal(t, 100, cfg.BatchSize)
		assert.True(t, cfg.SkipLowPriorityLogs)
		assert.True(t, cfg.EnableAsyncLogging)
	})

	t.Run("staging", func(t *testing.T) {
		cfg := ForEnvironment("staging")
		assert.Equal(t, 180, cfg.RetentionDays)
		assert.Equal(t, 2000, cfg.MaxQueueSize)
		assert.Equal(t, 100, cfg.BatchSize)
	})

	t.Run("development", func(t *testing.T) {
		cfg := ForEnvironment("development")
		assert.Equal(t, 30, cfg.RetentionDays)
		assert.Equal(t, 500, cfg.MaxQueueSize)
		assert.Equal(t, 10, cfg.BatchSize)
		assert.Equal(t, time.Second, cfg.ProcessingInterval)
		assert.False(t, cfg.EnableAsyncLogging)
	})

	t.Run("unknown falls back to defaults", func(t *testing.T) {
		assert.Equal(t, Default(), ForEnvironment("qa-weird"))
	})
}

func TestOverlayEnv(t *testing.T) {
	t.Setenv("AUDIT_RETENTION_DAYS", "7")
	t.Setenv("AUDIT_MAX_QUEUE_SIZE", "123")
	t.Setenv("AUDIT_PROCESSING_INTERVAL", "250")
	t.Setenv("AUDIT_ASYNC_LOGGING", "false")
	t.Setenv("AUDIT_SKIP_LOW_PRIORITY", "true")
	t.Setenv("AUDIT_ALWAYS_LOG_SECURITY", "false")

	cfg := OverlayEnv(Default())

	assert.Equal(t, 7, cfg.RetentionDays)
	assert.Equal(t, 123, cfg.MaxQueueSize)
	assert.Equal(t, 250*time.Millisecond, cfg.ProcessingInterval)
	assert.False(t, cfg.EnableAsyncLogging)
	assert.True(t, cfg.SkipLowPriorityLogs)
	assert.False(t, cfg.AlwaysLogSecurityEvents)

	// Untouched fields keep the base values.
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestOverlayEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("AUDIT_RETENTION_DAYS", "ninety")
	t.Setenv("AUDIT_PROCESSING_INTERVAL", "-5")
	t.Setenv("AUDIT_ASYNC_LOGGING", "yep")

	cfg := OverlayEnv(Default())
	assert.Equal(t, Default(), cfg)
}

func TestOverlayEnvIgnoresOutOfRangeValues(t *testing.T) {
	t.Setenv("AUDIT_BATCH_SIZE", "0")
	t.Setenv("AUDIT_MAX_QUEUE_SIZE", "-5")
	t.Setenv("AUDIT_MAX_RETRIES", "-1")
	t.Setenv("AUDIT_RETENTION_DAYS", "0")

	cfg := OverlayEnv(Default())
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Default().Validate())
	for _, env := range []string{"production", "staging", "development"} {
		assert.NoError(t, ForEnvironment(env).Validate())
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero retention", func(c *Config) { c.RetentionDays = 0 }},
		{"zero queue size", func(c *Config) { c.MaxQueueSize = 0 }},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }},
		{"zero interval", func(c *Config) { c.ProcessingInterval = 0 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"negative details size", func(c *Config) { c.MaxDetailsSize = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestManager(t *testing.T) {
	t.Run("get returns a snapshot copy", func(t *testing.T) {
		m := NewManager(Default())
		snap := m.Get()
		snap.MaxQueueSize = 1
		assert.Equal(t, 1000, m.Get().MaxQueueSize)
	})

	t.Run("update merges only non-nil fields", func(t *testing.T) {
		m := NewManager(Default())

		queueSize := 42
		async := false
		updated, err := m.Update(Patch{
			MaxQueueSize:       &queueSize,
			EnableAsyncLogging: &async,
		})
		require.NoError(t, err)

		assert.Equal(t, 42, updated.MaxQueueSize)
		assert.False(t, updated.EnableAsyncLogging)
		assert.Equal(t, 90, updated.RetentionDays)

		require.Equal(t, updated, m.Get())
	})

	t.Run("update rejects out-of-range values wholesale", func(t *testing.T) {
		m := NewManager(Default())

		zero := 0
		skip := true
		_, err := m.Update(Patch{
			BatchSize:           &zero,
			SkipLowPriorityLogs: &skip,
		})
		require.ErrorIs(t, err, ErrInvalidConfig)

		// Nothing from the rejected patch applied, not even the valid field.
		assert.Equal(t, 50, m.Get().BatchSize)
		assert.False(t, m.Get().SkipLowPriorityLogs)

		negative := -1
		_, err = m.Update(Patch{MaxRetries: &negative})
		require.ErrorIs(t, err, ErrInvalidConfig)

		interval := time.Duration(0)
		_, err = m.Update(Patch{ProcessingInterval: &interval})
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("replace swaps the whole config", func(t *testing.T) {
		m := NewManager(Default())
		m.Replace(ForEnvironment("production"))
		assert.Equal(t, 365, m.Get().RetentionDays)
	})

	t.Run("reset restores defaults", func(t *testing.T) {
		m := NewManager(ForEnvironment("production"))
		m.Reset()
		assert.Equal(t, Default(), m.Get())
	})
}
