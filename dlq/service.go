package dlq

import (
	"context"
	"time"

	"github.com/keelhq/keel/job"
)

// Service provides recovery operations over a DLQ Store: push, inspect,
// retry, delete, purge, and aggregate stats. DLQ entries are mutated
// only through this API.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a DLQ service backed by the given stores.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Push builds a DLQ Entry from a failed job and upserts it. The entry id
// is deterministic per queue and job, so repeated failure events for the
// same logical job collapse into one entry.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:           EntryID(j.Queue, j.ID),
		JobID:        j.ID,
		JobName:      j.Name,
		Queue:        j.Queue,
		Payload:      j.Payload,
		FailedReason: jobErr.Error(),
		RetryCount:   j.RetryCount,
		MaxRetries:   j.MaxRetries,
		TenantID:     j.TenantID,
		Provider:     j.Provider,
		FailedAt:     now,
		CreatedAt:    now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// FailedJobs returns up to limit entries across all queues, newest
// failure first. A zero limit returns everything.
func (s *Service) FailedJobs(ctx context.Context, limit int) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, ListOpts{Limit: limit})
}

// FailedJobsByQueue returns up to limit entries for one queue, newest
// failure first.
func (s *Service) FailedJobsByQueue(ctx context.Context, queue string, limit int) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, ListOpts{Queue: queue, Limit: limit})
}

// Get retrieves a single entry by id.
func (s *Service) Get(ctx context.Context, entryID string) (*Entry, error) {
	return s.store.GetDLQ(ctx, entryID)
}

// Delete removes a single entry without retrying it.
func (s *Service) Delete(ctx context.Context, entryID string) error {
	return s.store.DeleteDLQ(ctx, entryID)
}

// Purge removes every entry for a queue, or all entries when queue is
// empty. Returns the number removed.
func (s *Service) Purge(ctx context.Context, queue string) (int64, error) {
	return s.store.PurgeDLQ(ctx, queue)
}

// PurgeBefore removes entries that failed before the given time.
func (s *Service) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.store.PurgeDLQBefore(ctx, before)
}

// Count returns the total number of entries.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountDLQ(ctx)
}

// Store returns the underlying DLQ store.
func (s *Service) Store() Store {
	return s.store
}

// Stats aggregates over the current DLQ contents.
type Stats struct {
	Total    int64            `json:"total"`
	ByQueue  map[string]int64 `json:"by_queue"`
	ByReason map[string]int64 `json:"by_reason"`
	Oldest   *time.Time       `json:"oldest,omitempty"`
	Newest   *time.Time       `json:"newest,omitempty"`
}

// Stats computes aggregate counts and the failure-time range across all
// entries. The DLQ is expected to stay small, so this lists rather than
// pushing aggregation into every store backend.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	entries, err := s.store.ListDLQ(ctx, ListOpts{})
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Total:    int64(len(entries)),
		ByQueue:  make(map[string]int64),
		ByReason: make(map[string]int64),
	}
	for _, e := range entries {
		stats.ByQueue[e.Queue]++
		stats.ByReason[e.FailedReason]++
		failedAt := e.FailedAt
		if stats.Oldest == nil || failedAt.Before(*stats.Oldest) {
			t := failedAt
			stats.Oldest = &t
		}
		if stats.Newest == nil || failedAt.After(*stats.Newest) {
			t := failedAt
			stats.Newest = &t
		}
	}
	return stats, nil
}
