package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/keelhq/keel"
	"github.com/keelhq/keel/id"
	"github.com/keelhq/keel/job"
)

const jobColumns = `
	id, name, queue, payload, state, priority, max_retries, retry_count,
	last_error, idempotency_key, tenant_id, provider, worker_id,
	run_at, started_at, completed_at, heartbeat_at, timeout,
	created_at, updated_at`

// EnqueueJob persists a new job in pending state. A unique violation on
// either the ID or the idempotency key maps to keel.ErrJobAlreadyExists.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO keel_jobs (
			id, name, queue, payload, state, priority, max_retries, retry_count,
			last_error, idempotency_key, tenant_id, provider, worker_id,
			run_at, started_at, completed_at, heartbeat_at, timeout,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20
		)`,
		j.ID.String(), j.Name, j.Queue, j.Payload, string(j.State),
		j.Priority, j.MaxRetries, j.RetryCount,
		j.LastError, nilIfEmpty(j.IdempotencyKey), j.TenantID, j.Provider, j.WorkerID.String(),
		j.RunAt, j.StartedAt, j.CompletedAt, j.HeartbeatAt, j.Timeout.Nanoseconds(),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return keel.ErrJobAlreadyExists
		}
		return fmt.Errorf("keel/postgres: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit runnable jobs from the given
// queues for workerID, sets them to running, and returns them. Uses
// SELECT FOR UPDATE SKIP LOCKED so concurrent workers never claim the
// same job.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int, workerID id.WorkerID) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH dequeued AS (
			UPDATE keel_jobs
			SET state = 'running', worker_id = $3, started_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM keel_jobs
				WHERE state IN ('pending', 'retrying')
				  AND queue = ANY($1)
				  AND run_at <= NOW()
				ORDER BY priority DESC, run_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM dequeued ORDER BY priority DESC, run_at ASC`,
		queues, limit, workerID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("keel/postgres: dequeue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM keel_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, keel.ErrJobNotFound
		}
		return nil, fmt.Errorf("keel/postgres: get job: %w", err)
	}
	return j, nil
}

// GetJobByIdempotencyKey retrieves the job holding the given key.
func (s *Store) GetJobByIdempotencyKey(ctx context.Context, key string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM keel_jobs WHERE idempotency_key = $1`,
		key,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, keel.ErrJobNotFound
		}
		return nil, fmt.Errorf("keel/postgres: get job by idempotency key: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE keel_jobs SET
			name = $2, queue = $3, payload = $4, state = $5,
			priority = $6, max_retries = $7, retry_count = $8,
			last_error = $9, idempotency_key = $10, tenant_id = $11,
			provider = $12, worker_id = $13, run_at = $14, started_at = $15,
			completed_at = $16, heartbeat_at = $17, timeout = $18,
			updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.Name, j.Queue, j.Payload, string(j.State),
		j.Priority, j.MaxRetries, j.RetryCount,
		j.LastError, nilIfEmpty(j.IdempotencyKey), j.TenantID,
		j.Provider, j.WorkerID.String(), j.RunAt, j.StartedAt,
		j.CompletedAt, j.HeartbeatAt, j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("keel/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return keel.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM keel_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("keel/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return keel.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM keel_jobs WHERE state = $1`
	args := []interface{}{string(state)}
	argIdx := 2

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

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
		return nil, fmt.Errorf("keel/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// HeartbeatJob renews the lease on a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE keel_jobs SET heartbeat_at = NOW(), worker_id = $2, updated_at = NOW() WHERE id = $1`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("keel/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return keel.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose lease is older than the given
// threshold. Jobs that never heartbeated fall back to their start time.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM keel_jobs
		WHERE state = 'running'
		  AND COALESCE(heartbeat_at, started_at) < NOW() - $1::interval`,
		threshold.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("keel/postgres: reap stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM keel_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("keel/postgres: count jobs: %w", err)
	}
	return count, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		stateStr  string
		idemp     *string
		workerStr string
		timeoutNs int64
	)
	err := row.Scan(
		&idStr, &j.Name, &j.Queue, &j.Payload, &stateStr,
		&j.Priority, &j.MaxRetries, &j.RetryCount,
		&j.LastError, &idemp, &j.TenantID, &j.Provider, &workerStr,
		&j.RunAt, &j.StartedAt, &j.CompletedAt, &j.HeartbeatAt, &timeoutNs,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)
	if idemp != nil {
		j.IdempotencyKey = *idemp
	}

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("keel/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("keel/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keel/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
