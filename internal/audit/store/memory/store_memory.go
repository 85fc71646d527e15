// Package memory provides an in-memory audit store for development and tests.
// For production use the postgres store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"eduaudit/internal/audit"
)

// InMemoryStore keeps records in a slice, oldest first.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []audit.Record
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// AppendBatch assigns IDs and created-at timestamps and appends the batch in
// order.
func (s *InMemoryStore) AppendBatch(_ context.Context, events []audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, ev := range events {
		s.records = append(s.records, audit.Record{
			ID:        uuid.New(),
			Event:     ev,
			CreatedAt: now,
		})
	}
	return nil
}

// List returns matching records, newest first.
func (s *InMemoryStore) List(_ context.Context, filter audit.ListFilter) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Record
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if !matches(rec, filter) {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func matches(rec audit.Record, filter audit.ListFilter) bool {
	if filter.ActorID != 0 && rec.ActorID != filter.ActorID {
		return false
	}
	if filter.Action != "" && rec.Action != filter.Action {
		return false
	}
	if filter.Category != "" && rec.Category() != filter.Category {
		return false
	}
	if !filter.Since.IsZero() && rec.CreatedAt.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && rec.CreatedAt.After(filter.Until) {
		return false
	}
	return true
}

// CountOlderThan reports how many records predate the cutoff.
func (s *InMemoryStore) CountOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, rec := range s.records {
		if rec.CreatedAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

// ListImportantOlderThan returns expired important records, oldest first.
func (s *InMemoryStore) ListImportantOlderThan(_ context.Context, cutoff time.Time) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Record
	for _, rec := range s.records {
		if rec.CreatedAt.Before(cutoff) && rec.Important() {
			out = append(out, rec)
		}
	}
	return out, nil
}

// DeleteOlderThan removes expired records and returns the count removed.
func (s *InMemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var removed int64
	for _, rec := range s.records {
		if rec.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return removed, nil
}

// Optimize is a no-op for the in-memory store.
func (s *InMemoryStore) Optimize(_ context.Context) error {
	return nil
}

// Len reports the number of stored records. Test helper.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear removes all records. Test helper.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}
