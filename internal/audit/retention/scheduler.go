// Package retention runs the scheduled maintenance jobs against the durable
// audit store: daily cleanup past the retention window, weekly storage
// optimization, and a periodic queue health check. Each job guards its own
// re-entrancy; a run still in flight suppresses the next tick.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"eduaudit/internal/audit"
	"eduaudit/internal/audit/config"
	"eduaudit/internal/platform/metrics"
)

// Archiver writes expired important records to a durable artifact before they
// are deleted from the live store.
type Archiver interface {
	WriteArchive(records []audit.Record, from, to time.Time) (string, error)
}

// StatsSource exposes queue health to the monitor. Monitoring never mutates
// state.
type StatsSource interface {
	Stats() audit.QueueStats
}

// CleanupResult summarizes one retention run.
type CleanupResult struct {
	Deleted     int64  `json:"deleted"`
	Archived    int64  `json:"archived"`
	ArchiveName string `json:"archive_name,omitempty"`
}

// Scheduler owns the three maintenance timers.
type Scheduler struct {
	store   audit.Store
	cfg     *config.Manager
	archive Archiver
	stats   StatsSource
	logger  *slog.Logger
	metrics *metrics.Metrics

	cleanupInterval  time.Duration
	optimizeInterval time.Duration
	monitorInterval  time.Duration

	// Oldest-event age past which the monitor warns of staleness risk.
	stalenessThreshold time.Duration

	cleanupRunning  atomic.Bool
	optimizeRunning atomic.Bool
	monitorRunning  atomic.Bool
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithIntervals overrides the job periods. Tests use short intervals.
func WithIntervals(cleanup, optimize, monitor time.Duration) Option {
	return func(s *Scheduler) {
		s.cleanupInterval = cleanup
		s.optimizeInterval = optimize
		s.monitorInterval = monitor
	}
}

// WithStalenessThreshold overrides the oldest-event age warning threshold.
func WithStalenessThreshold(d time.Duration) Option {
	return func(s *Scheduler) {
		s.stalenessThreshold = d
	}
}

// New creates a scheduler. The archiver may be nil when archival is disabled
// by configuration; the stats source may be nil to disable the monitor.
func New(store audit.Store, cfg *config.Manager, archive Archiver, stats StatsSource, opts ...Option) (*Scheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config manager is required")
	}

	s := &Scheduler{
		store:              store,
		cfg:                cfg,
		archive:            archive,
		stats:              stats,
		logger:             slog.Default(),
		cleanupInterval:    24 * time.Hour,
		optimizeInterval:   7 * 24 * time.Hour,
		monitorInterval:    5 * time.Minute,
		stalenessThreshold: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run drives all three timers until the context is cancelled. Job failures
// are caught and logged; the schedule continues unaffected.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.loop(ctx, s.cleanupInterval, func(ctx context.Context) {
			if _, err := s.RunCleanup(ctx); err != nil {
				s.logger.ErrorContext(ctx, "retention cleanup failed", "error", err)
			}
		})
	})
	g.Go(func() error {
		return s.loop(ctx, s.optimizeInterval, func(ctx context.Context) {
			if err := s.RunOptimize(ctx); err != nil {
				s.logger.ErrorContext(ctx, "storage optimization failed", "error", err)
			}
		})
	})
	if s.stats != nil {
		g.Go(func() error {
			return s.loop(ctx, s.monitorInterval, s.RunHealthCheck)
		})
	}

	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, job func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			job(ctx)
		}
	}
}

// RunCleanup deletes records older than the retention window. When archival
// is enabled, expired important records are exported to a CSV artifact first;
// archival and hard deletion are mutually exclusive per record.
func (s *Scheduler) RunCleanup(ctx context.Context) (CleanupResult, error) {
	if !s.cleanupRunning.CompareAndSwap(false, true) {
		s.logger.WarnContext(ctx, "retention cleanup already running, skipping")
		return CleanupResult{}, nil
	}
	defer s.cleanupRunning.Store(false)

	cfg := s.cfg.Get()
	cutoff := time.Now().AddDate(0, 0, -cfg.RetentionDays)

	var result CleanupResult

	if cfg.ArchiveImportantLogs && s.archive != nil {
		important, err := s.store.ListImportantOlderThan(ctx, cutoff)
		if err != nil {
			return result, fmt.Errorf("list important records: %w", err)
		}
		if len(important) > 0 {
			from := important[0].CreatedAt
			to := important[len(important)-1].CreatedAt
			name, err := s.archive.WriteArchive(important, from, to)
			if err != nil {
				// Leave everything in place; next run retries the export.
				return result, fmt.Errorf("write archive: %w", err)
			}
			result.Archived = int64(len(important))
			result.ArchiveName = name
			if s.metrics != nil {
				s.metrics.CleanupArchived.Add(float64(len(important)))
			}
		}
	}

	removed, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("delete expired records: %w", err)
	}
	result.Deleted = removed - result.Archived
	if result.Deleted < 0 {
		result.Deleted = 0
	}
	if s.metrics != nil {
		s.metrics.CleanupDeleted.Add(float64(result.Deleted))
	}

	s.logger.InfoContext(ctx, "retention cleanup complete",
		"retention_days", cfg.RetentionDays,
		"deleted", result.Deleted,
		"archived", result.Archived,
		"archive", result.ArchiveName,
	)
	return result, nil
}

// RunOptimize issues a storage-engine compact pass. Failure is non-fatal.
func (s *Scheduler) RunOptimize(ctx context.Context) error {
	if !s.optimizeRunning.CompareAndSwap(false, true) {
		s.logger.WarnContext(ctx, "storage optimization already running, skipping")
		return nil
	}
	defer s.optimizeRunning.Store(false)

	start := time.Now()
	if err := s.store.Optimize(ctx); err != nil {
		return fmt.Errorf("optimize audit store: %w", err)
	}
	s.logger.InfoContext(ctx, "audit store optimized", "duration", time.Since(start))
	return nil
}

// RunHealthCheck samples queue stats and warns when the batch worker is
// falling behind or queued events are going stale.
func (s *Scheduler) RunHealthCheck(ctx context.Context) {
	if s.stats == nil || !s.monitorRunning.CompareAndSwap(false, true) {
		return
	}
	defer s.monitorRunning.Store(false)

	cfg := s.cfg.Get()
	stats := s.stats.Stats()

	backlogThreshold := cfg.MaxQueueSize * 8 / 10
	if stats.QueueSize > backlogThreshold {
		s.logger.WarnContext(ctx, "audit queue backlog high",
			"queue_size", stats.QueueSize,
			"max_queue_size", cfg.MaxQueueSize,
			"dropped", stats.Dropped,
		)
	}
	if stats.OldestEventAge > s.stalenessThreshold {
		s.logger.WarnContext(ctx, "oldest queued audit event is stale",
			"oldest_event_age", stats.OldestEventAge,
			"threshold", s.stalenessThreshold,
		)
	}
}
