package audit

import (
	"context"
	"time"
)

// Store is durable storage for audit records. The batch worker appends,
// the reporting API lists, and the retention scheduler deletes and archives.
// Implementations must tolerate concurrent appends and deletes; the pipeline
// makes no mutual-exclusion guarantee between the worker and the cleanup job.
type Store interface {
	// AppendBatch persists a batch of events atomically, preserving order
	// within the batch. Assigns record IDs and created-at timestamps.
	AppendBatch(ctx context.Context, events []Event) error

	// List returns records matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]Record, error)

	// CountOlderThan reports how many records predate the cutoff.
	CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// ListImportantOlderThan returns records past the cutoff that are flagged
	// important (security category or failed action), oldest first, for
	// archival before deletion.
	ListImportantOlderThan(ctx context.Context, cutoff time.Time) ([]Record, error)

	// DeleteOlderThan hard-deletes records past the cutoff and returns the
	// number removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Optimize asks the storage engine to compact/reclaim space. Best-effort.
	Optimize(ctx context.Context) error
}

// ListFilter narrows List results. Zero values mean "no constraint".
type ListFilter struct {
	ActorID  int64
	Action   Action
	Category Category
	Since    time.Time
	Until    time.Time
	Limit    int
}
