// Package pipeline composes the queue, batch worker, and retention scheduler
// into the process-wide audit logging facade, and coordinates shutdown:
// schedulers stop first, then a final best-effort flush drains the queue.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"eduaudit/internal/audit"
	"eduaudit/internal/audit/config"
	"eduaudit/internal/audit/queue"
	"eduaudit/internal/audit/retention"
	"eduaudit/internal/audit/worker"
	"eduaudit/internal/platform/metrics"
)

// Pipeline is the exposed surface of the audit subsystem: Log for ingestion
// adapters, Stats for dashboards, Flush/Shutdown for lifecycle hooks, and
// Config/UpdateConfig for runtime tuning.
type Pipeline struct {
	cfg       *config.Manager
	store     audit.Store
	queue     *queue.Queue
	worker    *worker.Worker
	scheduler *retention.Scheduler
	logger    *slog.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// Option configures the Pipeline.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	metrics       *metrics.Metrics
	archiver      retention.Archiver
	fallback      worker.FallbackSink
	schedulerOpts []retention.Option
	workerOpts    []worker.Option
}

// WithLogger sets the structured logger for all pipeline components.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithArchiver enables CSV archival of important records during retention
// cleanup.
func WithArchiver(a retention.Archiver) Option {
	return func(o *options) {
		o.archiver = a
	}
}

// WithFallbackSink replaces the default log-only sink for retry-exhausted
// batches.
func WithFallbackSink(s worker.FallbackSink) Option {
	return func(o *options) {
		o.fallback = s
	}
}

// WithSchedulerOptions forwards extra options to the retention scheduler.
// Tests use this to shrink job intervals.
func WithSchedulerOptions(opts ...retention.Option) Option {
	return func(o *options) {
		o.schedulerOpts = append(o.schedulerOpts, opts...)
	}
}

// WithWorkerOptions forwards extra options to the batch worker.
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(o *options) {
		o.workerOpts = append(o.workerOpts, opts...)
	}
}

// New wires a pipeline around the given durable store and config manager.
func New(store audit.Store, cfg *config.Manager, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config manager is required")
	}

	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	var queueOpts []queue.Option
	if o.metrics != nil {
		queueOpts = append(queueOpts, queue.WithMetrics(o.metrics))
	}
	q := queue.New(cfg, queueOpts...)

	workerOpts := []worker.Option{worker.WithLogger(o.logger)}
	if o.metrics != nil {
		workerOpts = append(workerOpts, worker.WithMetrics(o.metrics))
	}
	if o.fallback != nil {
		workerOpts = append(workerOpts, worker.WithFallbackSink(o.fallback))
	}
	workerOpts = append(workerOpts, o.workerOpts...)
	w, err := worker.New(q, store, cfg, workerOpts...)
	if err != nil {
		return nil, fmt.Errorf("build batch worker: %w", err)
	}

	schedulerOpts := []retention.Option{retention.WithLogger(o.logger)}
	if o.metrics != nil {
		schedulerOpts = append(schedulerOpts, retention.WithMetrics(o.metrics))
	}
	schedulerOpts = append(schedulerOpts, o.schedulerOpts...)
	sched, err := retention.New(store, cfg, o.archiver, q, schedulerOpts...)
	if err != nil {
		return nil, fmt.Errorf("build retention scheduler: %w", err)
	}

	return &Pipeline{
		cfg:       cfg,
		store:     store,
		queue:     q,
		worker:    w,
		scheduler: sched,
		logger:    o.logger,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Log records one audit event. With async logging enabled this is a
// non-blocking enqueue; otherwise the event is persisted synchronously, which
// development setups use for easier debugging. Failures never reach the
// caller.
func (p *Pipeline) Log(ctx context.Context, ev audit.Event) {
	if err := ev.Validate(); err != nil {
		p.logger.WarnContext(ctx, "invalid audit event rejected", "action", ev.Action, "error", err)
		return
	}

	if !p.cfg.Get().EnableAsyncLogging {
		if err := p.store.AppendBatch(ctx, []audit.Event{ev}); err != nil {
			p.logger.ErrorContext(ctx, "synchronous audit write failed",
				"action", ev.Action,
				"error", err,
			)
		}
		return
	}

	outcome := p.queue.Enqueue(ev)
	if outcome == queue.Skipped {
		p.logger.DebugContext(ctx, "low-priority audit event skipped under pressure",
			"action", ev.Action,
			"category", ev.Category(),
		)
	}
}

// Stats returns the current queue health snapshot.
func (p *Pipeline) Stats() audit.QueueStats {
	return p.queue.Stats()
}

// Config returns the current configuration snapshot.
func (p *Pipeline) Config() config.Config {
	return p.cfg.Get()
}

// UpdateConfig merges a partial update into the live configuration. Updates
// carrying out-of-range values are rejected without touching the live config.
func (p *Pipeline) UpdateConfig(patch config.Patch) (config.Config, error) {
	return p.cfg.Update(patch)
}

// RunCleanup triggers a retention cleanup outside the daily schedule, e.g.
// from the admin API.
func (p *Pipeline) RunCleanup(ctx context.Context) (retention.CleanupResult, error) {
	return p.scheduler.RunCleanup(ctx)
}

// Flush drains and persists everything currently queued.
func (p *Pipeline) Flush(ctx context.Context) error {
	return p.worker.Flush(ctx)
}

// Run starts the batch worker and the retention scheduler and blocks until
// the context is cancelled or Shutdown is called. Run may be called once.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer close(p.done)
	defer cancel()

	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	g, runCtx := errgroup.WithContext(runCtx)
	g.Go(func() error { return p.worker.Run(runCtx) })
	g.Go(func() error { return p.scheduler.Run(runCtx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Shutdown stops the schedulers and the worker, then performs a best-effort
// final flush. Stopping timers first keeps a cleanup run from competing with
// the flush for the store.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	if p.started.Load() {
		select {
		case <-p.done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for pipeline stop: %w", ctx.Err())
		}
	}

	pending := p.queue.Len()
	if err := p.worker.Flush(ctx); err != nil {
		p.logger.ErrorContext(ctx, "final audit flush failed",
			"pending", pending,
			"error", err,
		)
		return fmt.Errorf("final flush: %w", err)
	}
	p.logger.InfoContext(ctx, "audit pipeline stopped", "flushed", pending)
	return nil
}
