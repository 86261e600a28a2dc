package cron

import (
	"context"
	"time"

	"github.com/keelhq/keel/id"
)

// Store defines the persistence contract for cron entries.
type Store interface {
	// RegisterCron persists a new cron entry. Returns
	// keel.ErrDuplicateCron when the name is already registered.
	RegisterCron(ctx context.Context, entry *Entry) error

	// GetCron retrieves a cron entry by ID.
	GetCron(ctx context.Context, entryID id.CronID) (*Entry, error)

	// GetCronByName retrieves a cron entry by its stable name.
	GetCronByName(ctx context.Context, name string) (*Entry, error)

	// ListCrons returns all cron entries.
	ListCrons(ctx context.Context) ([]*Entry, error)

	// AcquireCronLock attempts to take the firing lock for an entry.
	// Returns true if the lock was acquired; it expires after ttl.
	AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// ReleaseCronLock releases the firing lock for an entry.
	ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error

	// UpdateCronLastRun records when an entry last fired.
	UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error

	// UpdateCronEntry updates an entry (Enabled, NextRunAt, and so on).
	UpdateCronEntry(ctx context.Context, entry *Entry) error

	// DeleteCron removes an entry by ID.
	DeleteCron(ctx context.Context, entryID id.CronID) error
}
