package job

import (
	"context"
	"time"

	"github.com/keelhq/keel/id"
)

// ListOpts paginates and filters job list queries.
type ListOpts struct {
	// Limit caps the result size. Zero means unbounded.
	Limit int
	// Offset skips that many jobs from the front.
	Offset int
	// Queue restricts results to one queue. Empty matches all.
	Queue string
}

// CountOpts filters job count queries.
type CountOpts struct {
	// Queue restricts the count to one queue. Empty matches all.
	Queue string
	// State restricts the count to one state. Empty matches all.
	State State
}

// Store defines the persistence contract the durable broker must satisfy.
//
// The substrate relies on three broker guarantees: at-least-once delivery,
// a per-job exclusive lease (DequeueJobs claims atomically, HeartbeatJob
// renews), and visibility of lease expiry (ReapStaleJobs) so stalled work
// can be requeued.
type Store interface {
	// EnqueueJob persists a new job in pending state. A job carrying an
	// IdempotencyKey that is already present returns keel.ErrJobAlreadyExists.
	EnqueueJob(ctx context.Context, j *Job) error

	// DequeueJobs atomically claims up to limit runnable jobs from the
	// given queues for workerID and flips them to running. Claim order is
	// priority descending, then RunAt ascending.
	DequeueJobs(ctx context.Context, queues []string, limit int, workerID id.WorkerID) ([]*Job, error)

	// GetJob fetches one job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// GetJobByIdempotencyKey retrieves the job holding the given key, or
	// keel.ErrJobNotFound if no job carries it.
	GetJobByIdempotencyKey(ctx context.Context, key string) (*Job, error)

	// UpdateJob writes the full job record back.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes the job record.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobsByState returns jobs in the given state.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// HeartbeatJob renews the lease on a running job, indicating the worker
	// is still alive.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs returns running jobs whose lease (heartbeat) is older
	// than the given threshold, indicating the worker is stuck or crashed.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)

	// CountJobs counts jobs matching opts.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
