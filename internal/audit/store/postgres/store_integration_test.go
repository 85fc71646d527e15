//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"eduaudit/internal/audit"
	"eduaudit/internal/audit/store/postgres"
	"eduaudit/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = postgres.New(s.postgres.DB)
	s.Require().NoError(s.store.EnsureSchema(context.Background(), true))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_logs"))
}

func event(actorID int64, action audit.Action, success bool) audit.Event {
	return audit.Event{
		ActorID:      actorID,
		Action:       action,
		ResourceType: "student",
		ResourceID:   "s-1",
		Success:      success,
		IPAddress:    "192.0.2.1",
		UserAgent:    "test",
		Details:      map[string]any{"note": "integration"},
		EnqueuedAt:   time.Now(),
	}
}

func (s *PostgresStoreSuite) TestAppendAndList() {
	ctx := context.Background()

	err := s.store.AppendBatch(ctx, []audit.Event{
		event(1, audit.ActionLogin, true),
		event(2, audit.ActionPermissionDenied, false),
	})
	s.Require().NoError(err)

	records, err := s.store.List(ctx, audit.ListFilter{})
	s.Require().NoError(err)
	s.Require().Len(records, 2)

	s.Run("details round-trip through jsonb", func() {
		s.Equal("integration", records[0].Details["note"])
	})

	s.Run("filter by category", func() {
		records, err := s.store.List(ctx, audit.ListFilter{Category: audit.CategorySecurity})
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.Equal(audit.ActionPermissionDenied, records[0].Action)
	})

	s.Run("filter by actor", func() {
		records, err := s.store.List(ctx, audit.ListFilter{ActorID: 1})
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.Equal(audit.ActionLogin, records[0].Action)
	})

	s.Run("limit applies", func() {
		records, err := s.store.List(ctx, audit.ListFilter{Limit: 1})
		s.Require().NoError(err)
		s.Len(records, 1)
	})
}

func (s *PostgresStoreSuite) TestEmptyBatchIsNoop() {
	s.NoError(s.store.AppendBatch(context.Background(), nil))
}

func (s *PostgresStoreSuite) TestRetentionQueries() {
	ctx := context.Background()

	err := s.store.AppendBatch(ctx, []audit.Event{
		event(1, audit.ActionRead, true),
		event(1, audit.ActionSuspiciousActivity, true),
		event(2, audit.ActionUpdate, false),
	})
	s.Require().NoError(err)

	// All rows predate a future cutoff.
	cutoff := time.Now().Add(time.Hour)

	count, err := s.store.CountOlderThan(ctx, cutoff)
	s.Require().NoError(err)
	s.EqualValues(3, count)

	important, err := s.store.ListImportantOlderThan(ctx, cutoff)
	s.Require().NoError(err)
	s.Require().Len(important, 2)
	for _, rec := range important {
		s.True(rec.Important())
	}

	s.Run("past cutoff matches nothing", func() {
		count, err := s.store.CountOlderThan(ctx, time.Now().Add(-time.Hour))
		s.Require().NoError(err)
		s.Zero(count)
	})

	removed, err := s.store.DeleteOlderThan(ctx, cutoff)
	s.Require().NoError(err)
	s.EqualValues(3, removed)

	records, err := s.store.List(ctx, audit.ListFilter{})
	s.Require().NoError(err)
	s.Empty(records)
}

func (s *PostgresStoreSuite) TestOptimize() {
	s.NoError(s.store.Optimize(context.Background()))
}

func (s *PostgresStoreSuite) TestEnsureSchemaIsIdempotent() {
	ctx := context.Background()
	s.NoError(s.store.EnsureSchema(ctx, true))
	s.NoError(s.store.EnsureSchema(ctx, false))
}
