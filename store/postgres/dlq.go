package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/keelhq/keel"
	"github.com/keelhq/keel/dlq"
	"github.com/keelhq/keel/id"
)

const dlqColumns = `
	id, job_id, job_name, queue, payload, failed_reason,
	retry_count, max_retries, tenant_id, provider,
	failed_at, created_at`

// PushDLQ upserts a failed job entry. Entry IDs are deterministic per
// logical job, so a repeated failure replaces the existing row.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO keel_dlq (
			id, job_id, job_name, queue, payload, failed_reason,
			retry_count, max_retries, tenant_id, provider,
			failed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			payload = EXCLUDED.payload,
			failed_reason = EXCLUDED.failed_reason,
			retry_count = EXCLUDED.retry_count,
			max_retries = EXCLUDED.max_retries,
			failed_at = EXCLUDED.failed_at`,
		entry.ID, entry.JobID.String(), entry.JobName,
		entry.Queue, entry.Payload, entry.FailedReason,
		entry.RetryCount, entry.MaxRetries, entry.TenantID, entry.Provider,
		entry.FailedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("keel/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest failure
// first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM keel_dlq WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY failed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("keel/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("keel/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("keel/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID string) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM keel_dlq WHERE id = $1`,
		entryID,
	)

	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, keel.ErrDLQNotFound
		}
		return nil, fmt.Errorf("keel/postgres: get dlq: %w", err)
	}
	return e, nil
}

// DeleteDLQ removes a single entry.
func (s *Store) DeleteDLQ(ctx context.Context, entryID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM keel_dlq WHERE id = $1`, entryID)
	if err != nil {
		return fmt.Errorf("keel/postgres: delete dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return keel.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes every entry for a queue, or every entry when queue is
// empty. Returns the number of entries removed.
func (s *Store) PurgeDLQ(ctx context.Context, queue string) (int64, error) {
	query := `DELETE FROM keel_dlq`
	args := []interface{}{}
	if queue != "" {
		query += ` WHERE queue = $1`
		args = append(args, queue)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("keel/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeDLQBefore removes entries whose FailedAt is before the given time.
// Returns the number of entries removed.
func (s *Store) PurgeDLQBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM keel_dlq WHERE failed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("keel/postgres: purge dlq before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM keel_dlq`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("keel/postgres: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single DLQ entry row.
func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e        dlq.Entry
		jobIDStr string
	)
	err := row.Scan(
		&e.ID, &jobIDStr, &e.JobName, &e.Queue, &e.Payload, &e.FailedReason,
		&e.RetryCount, &e.MaxRetries, &e.TenantID, &e.Provider,
		&e.FailedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedJobID, parseErr := id.ParseJobID(jobIDStr)
	if parseErr != nil {
		return nil, fmt.Errorf("keel/postgres: parse job id %q: %w", jobIDStr, parseErr)
	}
	e.JobID = parsedJobID

	return &e, nil
}
