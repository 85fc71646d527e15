package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the audit pipeline.
type Metrics struct {
	EventsAdmitted  prometheus.Counter
	EventsForced    prometheus.Counter
	EventsDropped   prometheus.Counter
	EventsEvicted   prometheus.Counter
	EventsPersisted prometheus.Counter
	EventsDiscarded prometheus.Counter
	BatchRetries    prometheus.Counter
	PersistFailures prometheus.Counter
	CleanupDeleted  prometheus.Counter
	CleanupArchived prometheus.Counter
	QueueSize       prometheus.Gauge
}

// New creates and registers all pipeline metrics.
func New() *Metrics {
	return &Metrics{
		EventsAdmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eduaudit_events_admitted_total",
			Help: "Total number of audit events admitted to the queue",
		}),
		EventsForced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eduaudit_events_forced_total",
			Help: "Total number of audit events force-admitted past a full queue",
		}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eduaudit_events_dropped_total",
			Help: "Total number of low-priority audit events dropped under pressure",
		}),
		EventsEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eduaudit_events_evicted_total",
			Help: "Total number of queued events evicted to make room for forced admissions",
		}),
		EventsPersisted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eduaudit_events_persisted_total",
			Help: "Total number of audit events durably written",
		}),
		EventsDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eduaudit_events_discarded_total",
			Help: "Total number of audit events discarded after exhausting persistence retries",
		}),
		BatchRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eduaudit_batch_retries_total",
			Help: "Total number of batch persistence retry attempts",
		}),
		PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eduaudit_persist_failures_total",
			Help: "Total number of failed batch persistence attempts",
		}),
		CleanupDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eduaudit_cleanup_deleted_total",
			Help: "Total number of audit records hard-deleted by the retention job",
		}),
		CleanupArchived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eduaudit_cleanup_archived_total",
			Help: "Total number of audit records exported to CSV before deletion",
		}),
		QueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eduaudit_queue_size",
			Help: "Current number of events waiting in the audit queue",
		}),
	}
}
