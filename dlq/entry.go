package dlq

import (
	"fmt"
	"time"

	"github.com/keelhq/keel/id"
)

// Entry represents a job that has exhausted its retry budget and been
// moved to the dead letter queue for inspection or replay.
type Entry struct {
	// ID is deterministic per logical job, see EntryID.
	ID           string    `json:"id"`
	JobID        id.JobID  `json:"job_id"`
	JobName      string    `json:"job_name"`
	Queue        string    `json:"queue"`
	Payload      []byte    `json:"payload"`
	FailedReason string    `json:"failed_reason"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	TenantID     string    `json:"tenant_id,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	FailedAt     time.Time `json:"failed_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// EntryID builds the deterministic DLQ entry id for a job. Pushing twice
// for the same queue and job overwrites rather than duplicates.
func EntryID(queue string, jobID id.JobID) string {
	return fmt.Sprintf("dlq-%s-%s", queue, jobID)
}
