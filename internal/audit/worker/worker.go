// Package worker drains the audit queue on a timer and persists events in
// batches. Failed batches are retried a bounded number of times, then handed
// to a fallback sink so data loss is explicit and observable, never silent.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"eduaudit/internal/audit"
	"eduaudit/internal/audit/config"
	"eduaudit/internal/audit/queue"
	"eduaudit/internal/platform/metrics"
)

// FallbackSink receives batches that exhausted their persistence retries.
// Implementations must not assume durability; the default sink only logs.
type FallbackSink interface {
	Discard(ctx context.Context, events []audit.Event, cause error)
}

// logSink dumps discarded batches to the process logger.
type logSink struct {
	logger *slog.Logger
}

func (s logSink) Discard(ctx context.Context, events []audit.Event, cause error) {
	for _, ev := range events {
		s.logger.ErrorContext(ctx, "audit event discarded after retry exhaustion",
			"action", ev.Action,
			"resource_type", ev.ResourceType,
			"resource_id", ev.ResourceID,
			"actor_id", ev.ActorID,
			"success", ev.Success,
			"error", cause,
		)
	}
}

// Worker is the timer-driven batch persister. A mutex guards the drain path:
// if a drain is still in flight when the timer fires, that tick is skipped.
type Worker struct {
	queue    *queue.Queue
	store    audit.Store
	cfg      *config.Manager
	logger   *slog.Logger
	metrics  *metrics.Metrics
	fallback FallbackSink

	// backoff between retry attempts; scaled linearly by attempt number.
	backoff time.Duration

	drainMu sync.Mutex
}

// Option configures the Worker.
type Option func(*Worker)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithFallbackSink replaces the default log-only sink for retry-exhausted
// batches.
func WithFallbackSink(sink FallbackSink) Option {
	return func(w *Worker) {
		w.fallback = sink
	}
}

// WithBackoff overrides the base retry backoff. Tests use this to avoid
// real sleeps.
func WithBackoff(d time.Duration) Option {
	return func(w *Worker) {
		w.backoff = d
	}
}

// New creates a batch worker.
func New(q *queue.Queue, store audit.Store, cfg *config.Manager, opts ...Option) (*Worker, error) {
	if q == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config manager is required")
	}

	w := &Worker{
		queue:   q,
		store:   store,
		cfg:     cfg,
		logger:  slog.Default(),
		backoff: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.fallback == nil {
		w.fallback = logSink{logger: w.logger}
	}
	return w, nil
}

// Run drives the drain loop until the context is cancelled. The processing
// interval is re-read from config each tick so runtime tuning applies without
// a restart.
func (w *Worker) Run(ctx context.Context) error {
	timer := time.NewTimer(w.cfg.Get().ProcessingInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			w.Tick(ctx)
			timer.Reset(w.cfg.Get().ProcessingInterval)
		}
	}
}

// Tick performs a single drain-and-persist pass. If another drain is in
// flight, the tick is skipped rather than queued.
func (w *Worker) Tick(ctx context.Context) {
	if !w.drainMu.TryLock() {
		w.logger.DebugContext(ctx, "batch drain still in flight, skipping tick")
		return
	}
	defer w.drainMu.Unlock()

	batch := w.queue.DrainBatch(w.cfg.Get().BatchSize)
	if len(batch) == 0 {
		return
	}
	w.persistBatch(ctx, batch)
}

// Flush drains and persists everything currently queued. Used during
// shutdown; it waits for any in-flight drain before starting.
func (w *Worker) Flush(ctx context.Context) error {
	w.drainMu.Lock()
	defer w.drainMu.Unlock()

	batchSize := w.cfg.Get().BatchSize
	for {
		batch := w.queue.DrainBatch(batchSize)
		if len(batch) == 0 {
			return nil
		}
		w.persistBatch(ctx, batch)
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("flush interrupted: %w", err)
		}
	}
}

// persistBatch writes one batch, retrying up to MaxRetries times. The attempt
// count is tracked per batch, not per event. Exhausted batches go to the
// fallback sink and never block subsequent batches.
func (w *Worker) persistBatch(ctx context.Context, batch []audit.Event) {
	cfg := w.cfg.Get()

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if w.metrics != nil {
				w.metrics.BatchRetries.Inc()
			}
			select {
			case <-ctx.Done():
				w.fallback.Discard(ctx, batch, ctx.Err())
				return
			case <-time.After(w.backoff * time.Duration(attempt)):
			}
		}

		lastErr = w.store.AppendBatch(ctx, batch)
		if lastErr == nil {
			if w.metrics != nil {
				w.metrics.EventsPersisted.Add(float64(len(batch)))
			}
			return
		}

		if w.metrics != nil {
			w.metrics.PersistFailures.Inc()
		}
		w.logger.WarnContext(ctx, "audit batch persistence failed",
			"attempt", attempt+1,
			"max_attempts", cfg.MaxRetries+1,
			"batch_size", len(batch),
			"error", lastErr,
		)
	}

	if w.metrics != nil {
		w.metrics.EventsDiscarded.Add(float64(len(batch)))
	}
	w.fallback.Discard(ctx, batch, lastErr)
}
