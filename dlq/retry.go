package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/keelhq/keel"
	"github.com/keelhq/keel/id"
	"github.com/keelhq/keel/job"
)

// RetryResult reports the outcome of retrying one entry.
type RetryResult struct {
	// NewJobID is the id of the re-enqueued job.
	NewJobID id.JobID `json:"new_job_id"`
}

// Retry re-enqueues a DLQ entry to its original queue under a fresh job
// id with a reset retry budget, then removes the entry. If the
// re-enqueue fails, the entry is left untouched so the work is never
// lost.
func (s *Service) Retry(ctx context.Context, entryID string) (*RetryResult, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:     keel.NewEntity(),
		ID:         id.NewJobID(),
		Name:       entry.JobName,
		Queue:      entry.Queue,
		Payload:    entry.Payload,
		State:      job.StatePending,
		MaxRetries: entry.MaxRetries,
		TenantID:   entry.TenantID,
		Provider:   entry.Provider,
		RunAt:      now,
	}

	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, fmt.Errorf("dlq: re-enqueue %s: %w", entryID, err)
	}

	// The job is safely enqueued; only now is the entry removed.
	if err := s.store.DeleteDLQ(ctx, entryID); err != nil {
		return &RetryResult{NewJobID: j.ID}, fmt.Errorf("dlq: remove entry %s after retry: %w", entryID, err)
	}
	return &RetryResult{NewJobID: j.ID}, nil
}

// BulkResult reports the outcome of a RetryAll pass.
type BulkResult struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// RetryAll retries every entry, or every entry for one queue when queue
// is non-empty. The pass is best-effort: individual failures are
// collected and the remaining entries are still attempted.
func (s *Service) RetryAll(ctx context.Context, queue string) (*BulkResult, error) {
	entries, err := s.store.ListDLQ(ctx, ListOpts{Queue: queue})
	if err != nil {
		return nil, err
	}

	res := &BulkResult{Total: len(entries)}
	for _, entry := range entries {
		if _, err := s.Retry(ctx, entry.ID); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", entry.ID, err))
			continue
		}
		res.Succeeded++
	}
	return res, nil
}
