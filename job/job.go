package job

import (
	"time"

	"github.com/keelhq/keel"
	"github.com/keelhq/keel/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be leased by a worker.
	StatePending State = "pending"
	// StateRunning means a worker holds the lease and is executing the job.
	StateRunning State = "running"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job exhausted its retries and will not run again.
	StateFailed State = "failed"
	// StateRetrying means the job failed but is scheduled for retry.
	StateRetrying State = "retrying"
	// StateCancelled means the job was explicitly cancelled.
	StateCancelled State = "cancelled"
)

// Job represents a unit of work to be processed by a worker.
//
// A job is leased to exactly one worker at a time: the store's dequeue
// operation claims it atomically, and HeartbeatAt records the most recent
// lease renewal. Jobs whose lease lapses are requeued by the stalled-job
// reaper.
type Job struct {
	keel.Entity

	ID      id.JobID `json:"id"`
	Name    string   `json:"name"`
	Queue   string   `json:"queue"`
	Payload []byte   `json:"payload"`
	State   State    `json:"state"`

	// Priority determines dequeue ordering. Higher values are leased first.
	Priority int `json:"priority"`

	MaxRetries int    `json:"max_retries"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`

	// IdempotencyKey deduplicates enqueues: a second enqueue carrying the
	// same key is a no-op. Empty disables deduplication.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// TenantID and Provider carry the multi-tenant scope captured at
	// enqueue time; they are restored onto the handler context.
	TenantID string `json:"tenant_id,omitempty"`
	Provider string `json:"provider,omitempty"`

	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Terminal reports whether the job is in a terminal state.
func (j *Job) Terminal() bool {
	return j.State == StateCompleted || j.State == StateFailed || j.State == StateCancelled
}
