package dlq

import (
	"context"
	"time"
)

// ListOpts controls pagination and filtering for DLQ list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// PushDLQ upserts a failed job entry. Entry IDs are deterministic per
	// logical job, so a repeated failure event replaces the existing
	// entry instead of creating a duplicate.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns DLQ entries matching the given options, newest
	// failure first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves a DLQ entry by ID.
	GetDLQ(ctx context.Context, entryID string) (*Entry, error)

	// DeleteDLQ removes a single entry.
	DeleteDLQ(ctx context.Context, entryID string) error

	// PurgeDLQ removes every entry for a queue, or every entry when queue
	// is empty. Returns the number of entries removed.
	PurgeDLQ(ctx context.Context, queue string) (int64, error)

	// PurgeDLQBefore removes entries whose FailedAt is before the given
	// time. Returns the number of entries removed.
	PurgeDLQBefore(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of entries in the dead letter queue.
	CountDLQ(ctx context.Context) (int64, error)
}
