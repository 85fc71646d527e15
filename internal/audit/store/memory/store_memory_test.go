package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduaudit/internal/audit"
)

func event(actorID int64, action audit.Action, success bool) audit.Event {
	return audit.Event{
		ActorID:      actorID,
		Action:       action,
		ResourceType: "student",
		Success:      success,
		EnqueuedAt:   time.Now(),
	}
}

func TestAppendBatchAssignsIdentity(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AppendBatch(ctx, []audit.Event{
		event(1, audit.ActionLogin, true),
		event(2, audit.ActionRead, true),
	}))
	assert.Equal(t, 2, s.Len())

	records, err := s.List(ctx, audit.ListFilter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.NotEqual(t, records[0].ID, records[1].ID)
	assert.False(t, records[0].CreatedAt.IsZero())
}

func TestListFilters(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AppendBatch(ctx, []audit.Event{
		event(1, audit.ActionLogin, true),
		event(2, audit.ActionRead, true),
		event(1, audit.ActionPermissionDenied, false),
	}))

	t.Run("newest first", func(t *testing.T) {
		records, err := s.List(ctx, audit.ListFilter{})
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, audit.ActionPermissionDenied, records[0].Action)
		assert.Equal(t, audit.ActionLogin, records[2].Action)
	})

	t.Run("by actor", func(t *testing.T) {
		records, err := s.List(ctx, audit.ListFilter{ActorID: 1})
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("by action", func(t *testing.T) {
		records, err := s.List(ctx, audit.ListFilter{Action: audit.ActionRead})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, int64(2), records[0].ActorID)
	})

	t.Run("by category", func(t *testing.T) {
		records, err := s.List(ctx, audit.ListFilter{Category: audit.CategorySecurity})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, audit.ActionPermissionDenied, records[0].Action)
	})

	t.Run("limit", func(t *testing.T) {
		records, err := s.List(ctx, audit.ListFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("time window excludes everything in the past", func(t *testing.T) {
		records, err := s.List(ctx, audit.ListFilter{Since: time.Now().Add(time.Hour)})
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestRetentionQueries(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.AppendBatch(ctx, []audit.Event{
		event(1, audit.ActionRead, true),
		event(1, audit.ActionSuspiciousActivity, true),
		event(2, audit.ActionUpdate, false),
	}))

	// All records predate a future cutoff.
	cutoff := time.Now().Add(time.Hour)

	count, err := s.CountOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	important, err := s.ListImportantOlderThan(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, important, 2)
	assert.Equal(t, audit.ActionSuspiciousActivity, important[0].Action)
	assert.Equal(t, audit.ActionUpdate, important[1].Action)

	t.Run("past cutoff matches nothing", func(t *testing.T) {
		count, err := s.CountOlderThan(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	removed, err := s.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	assert.Zero(t, s.Len())
}

func TestOptimizeIsNoop(t *testing.T) {
	s := NewInMemoryStore()
	assert.NoError(t, s.Optimize(context.Background()))
}
