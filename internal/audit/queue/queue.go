// Package queue implements the bounded in-memory event buffer with
// admission control. The queue is the only shared mutable structure in the
// pipeline; all other components interact with it through Enqueue and
// DrainBatch.
package queue

import (
	"sync"
	"time"

	"eduaudit/internal/audit"
	"eduaudit/internal/audit/config"
	"eduaudit/internal/platform/metrics"
)

// Outcome reports the admission decision for a single event.
type Outcome int

const (
	// Admitted means the event entered the queue below the cap.
	Admitted Outcome = iota
	// AdmittedForced means the queue was full but the event was priority-queued,
	// evicting an older low-priority entry if one existed.
	AdmittedForced
	// AdmittedOverCap means the queue was full but the operator disabled
	// low-priority skipping, so the queue grew past its nominal cap.
	AdmittedOverCap
	// Skipped means the event was dropped under pressure. Observable via the
	// drop counter; expected and non-fatal.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case AdmittedForced:
		return "admitted_forced"
	case AdmittedOverCap:
		return "admitted_over_cap"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// entry wraps a queued event with its admission mode. Forced entries are never
// eviction candidates.
type entry struct {
	event  audit.Event
	forced bool
}

// Queue is a mutex-guarded FIFO with a soft capacity. Enqueue is O(1) except
// for the rare eviction scan, and never performs I/O.
type Queue struct {
	mu      sync.Mutex
	entries []entry
	dropped int64
	evicted int64

	cfg     *config.Manager
	metrics *metrics.Metrics
}

// Option configures the Queue.
type Option func(*Queue)

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// New creates a queue that reads admission policy from the config manager on
// every call, so runtime config updates take effect immediately.
func New(cfg *config.Manager, opts ...Option) *Queue {
	q := &Queue{cfg: cfg}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue applies the admission policy and returns the decision.
//
// Below the cap everything is admitted. At the cap, security events and
// failed actions are force-admitted (evicting the oldest non-forced entry if
// possible) when the corresponding always-log flag is set; other events are
// skipped when the operator allows it, and admitted over the cap otherwise.
func (q *Queue) Enqueue(ev audit.Event) Outcome {
	cfg := q.cfg.Get()

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) < cfg.MaxQueueSize {
		q.entries = append(q.entries, entry{event: ev})
		q.observe(Admitted)
		return Admitted
	}

	forced := (ev.Category() == audit.CategorySecurity && cfg.AlwaysLogSecurityEvents) ||
		(!ev.Success && cfg.AlwaysLogFailedActions)
	if forced {
		q.evictOldestUnforced()
		q.entries = append(q.entries, entry{event: ev, forced: true})
		q.observe(AdmittedForced)
		return AdmittedForced
	}

	if cfg.SkipLowPriorityLogs {
		q.dropped++
		q.observe(Skipped)
		return Skipped
	}

	// Soft cap: the operator prefers memory growth over log loss.
	q.entries = append(q.entries, entry{event: ev})
	q.observe(AdmittedOverCap)
	return AdmittedOverCap
}

// evictOldestUnforced removes the oldest non-forced entry, keeping the queue
// at its cap. If every entry is forced, nothing is evicted and the queue
// grows; forced events are never lost while the process is alive.
func (q *Queue) evictOldestUnforced() {
	for i, e := range q.entries {
		if !e.forced {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			q.evicted++
			if q.metrics != nil {
				q.metrics.EventsEvicted.Inc()
			}
			return
		}
	}
}

// DrainBatch removes and returns up to n of the oldest events, preserving
// enqueue order. Draining an empty queue returns nil.
func (q *Queue) DrainBatch(n int) []audit.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 || n <= 0 {
		return nil
	}
	if n > len(q.entries) {
		n = len(q.entries)
	}

	batch := make([]audit.Event, n)
	for i := range n {
		batch[i] = q.entries[i].event
	}
	q.entries = append([]entry(nil), q.entries[n:]...)

	if q.metrics != nil {
		q.metrics.QueueSize.Set(float64(len(q.entries)))
	}
	return batch
}

// Len returns the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Stats returns a read-only health snapshot.
func (q *Queue) Stats() audit.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := audit.QueueStats{
		QueueSize: len(q.entries),
		Dropped:   q.dropped,
		Evicted:   q.evicted,
	}
	if len(q.entries) > 0 {
		stats.OldestEventAge = time.Since(q.entries[0].event.EnqueuedAt)
	}
	return stats
}

// observe updates metrics for an admission outcome. Caller holds q.mu.
func (q *Queue) observe(o Outcome) {
	if q.metrics == nil {
		return
	}
	switch o {
	case Admitted, AdmittedOverCap:
		q.metrics.EventsAdmitted.Inc()
	case AdmittedForced:
		q.metrics.EventsForced.Inc()
	case Skipped:
		q.metrics.EventsDropped.Inc()
	}
	q.metrics.QueueSize.Set(float64(len(q.entries)))
}
