// Package postgres persists audit records in PostgreSQL. The store is pure
// I/O; admission and retention policy live in the pipeline.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"eduaudit/internal/audit"
)

// Store implements audit.Store on a *sql.DB. Appends (batch worker) and
// deletes (retention job) may run concurrently; row-level operations keep
// both safe.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL-backed audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the audit_logs table if missing. Index creation is
// gated on the config toggle, so high-churn installations can skip it.
func (s *Store) EnsureSchema(ctx context.Context, indexing bool) error {
	const table = `
		CREATE TABLE IF NOT EXISTS audit_logs (
			id UUID PRIMARY KEY,
			actor_id BIGINT NOT NULL DEFAULT 0,
			action TEXT NOT NULL,
			category TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL DEFAULT '',
			success BOOLEAN NOT NULL,
			ip_address TEXT NOT NULL DEFAULT 'unknown',
			user_agent TEXT NOT NULL DEFAULT 'unknown',
			details JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("create audit_logs table: %w", err)
	}

	if !indexing {
		return nil
	}
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_id ON audit_logs (actor_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_category ON audit_logs (category)`,
	}
	for _, q := range indexes {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create audit_logs index: %w", err)
		}
	}
	return nil
}

// AppendBatch inserts the whole batch in one statement inside a transaction,
// preserving event order via created-at assignment.
func (s *Store) AppendBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	var (
		sb   strings.Builder
		args = make([]any, 0, len(events)*10)
	)
	sb.WriteString(`
		INSERT INTO audit_logs (
			id, actor_id, action, category, resource_type,
			resource_id, success, ip_address, user_agent, details, created_at
		) VALUES `)

	for i, ev := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 10
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, now())",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10)

		var details []byte
		if len(ev.Details) > 0 {
			raw, err := json.Marshal(ev.Details)
			if err != nil {
				return fmt.Errorf("marshal event details: %w", err)
			}
			details = raw
		}
		args = append(args,
			uuid.New(),
			ev.ActorID,
			string(ev.Action),
			string(ev.Category()),
			ev.ResourceType,
			ev.ResourceID,
			ev.Success,
			ev.IPAddress,
			ev.UserAgent,
			details,
		)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit batch tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert audit batch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit batch: %w", err)
	}
	return nil
}

// List returns records matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter audit.ListFilter) ([]audit.Record, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ActorID != 0 {
		where = append(where, "actor_id = "+arg(filter.ActorID))
	}
	if filter.Action != "" {
		where = append(where, "action = "+arg(string(filter.Action)))
	}
	if filter.Category != "" {
		where = append(where, "category = "+arg(string(filter.Category)))
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= "+arg(filter.Since))
	}
	if !filter.Until.IsZero() {
		where = append(where, "created_at <= "+arg(filter.Until))
	}

	query := `
		SELECT id, actor_id, action, resource_type, resource_id,
			   success, ip_address, user_agent, details, created_at
		FROM audit_logs
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// CountOlderThan reports how many records predate the cutoff.
func (s *Store) CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_logs WHERE created_at < $1`, cutoff,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count expired audit logs: %w", err)
	}
	return n, nil
}

// ListImportantOlderThan returns expired security/failed-action records,
// oldest first, for archival.
func (s *Store) ListImportantOlderThan(ctx context.Context, cutoff time.Time) ([]audit.Record, error) {
	query := `
		SELECT id, actor_id, action, resource_type, resource_id,
			   success, ip_address, user_agent, details, created_at
		FROM audit_logs
		WHERE created_at < $1
		  AND (category = $2 OR success = FALSE)
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, cutoff, string(audit.CategorySecurity))
	if err != nil {
		return nil, fmt.Errorf("query important audit logs: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// DeleteOlderThan hard-deletes expired records.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_logs WHERE created_at < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired audit logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted audit logs: %w", err)
	}
	return n, nil
}

// Optimize reclaims space after retention deletes. VACUUM cannot run inside a
// transaction, so it goes straight to the connection.
func (s *Store) Optimize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM ANALYZE audit_logs`); err != nil {
		return fmt.Errorf("vacuum audit_logs: %w", err)
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]audit.Record, error) {
	var records []audit.Record
	for rows.Next() {
		var (
			rec     audit.Record
			action  string
			details []byte
		)
		err := rows.Scan(
			&rec.ID,
			&rec.ActorID,
			&action,
			&rec.ResourceType,
			&rec.ResourceID,
			&rec.Success,
			&rec.IPAddress,
			&rec.UserAgent,
			&details,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Action = audit.Action(action)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &rec.Details); err != nil {
				return nil, fmt.Errorf("unmarshal audit details: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}
