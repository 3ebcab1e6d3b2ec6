package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/audit"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/query"
)

// Store is the Postgres-backed audit.Log. Entries it records are tagged
// with its source.
type Store struct {
	db     *sql.DB
	source string
}

var _ audit.Log = (*Store)(nil)

func NewStore(db *sql.DB, source string) *Store {
	if source == "" {
		source = audit.SourceCLI
	}
	return &Store{db: db, source: source}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping audit db: %w", err)
	}
	return nil
}

func (s *Store) Record(ctx context.Context, execution query.Execution) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO query_audit (job_id, sql_text, dry_run, status, error_message, bytes_processed, row_count, duration_ms, source, executed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		execution.JobID,
		execution.SQL,
		execution.DryRun,
		string(execution.Status),
		execution.Error,
		execution.BytesProcessed,
		execution.RowCount,
		execution.Duration.Milliseconds(),
		s.source,
		execution.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("insert query audit: %w", err)
	}
	return nil
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT audit_id, job_id, sql_text, dry_run, status, error_message, bytes_processed, row_count, duration_ms, source, executed_at
FROM query_audit
ORDER BY executed_at DESC, audit_id DESC
LIMIT $1`, audit.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list query audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]audit.Entry, 0)
	for rows.Next() {
		var entry audit.Entry
		if err := rows.Scan(
			&entry.ID,
			&entry.JobID,
			&entry.SQL,
			&entry.DryRun,
			&entry.Status,
			&entry.Error,
			&entry.BytesProcessed,
			&entry.RowCount,
			&entry.DurationMS,
			&entry.Source,
			&entry.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("scan query audit row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query audit rows: %w", err)
	}
	return entries, nil
}
