package cluster

import (
	"context"
	"time"

	"github.com/keelhq/keel/id"
)

// Store defines the persistence contract for the cluster registry.
type Store interface {
	// RegisterWorker adds a worker to the registry.
	RegisterWorker(ctx context.Context, w *Worker) error

	// DeregisterWorker removes a worker from the registry.
	DeregisterWorker(ctx context.Context, workerID id.WorkerID) error

	// HeartbeatWorker updates the last-seen timestamp for a worker.
	HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error

	// ListWorkers returns all registered workers.
	ListWorkers(ctx context.Context) ([]*Worker, error)

	// ReapDeadWorkers returns workers whose last-seen timestamp is older
	// than the given threshold.
	ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*Worker, error)

	// AcquireLeadership attempts to take the leadership lease. Returns
	// true when this worker is now leader. The lease expires after ttl
	// unless renewed.
	AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// RenewLeadership extends the caller's lease. Returns false when the
	// lease is held by someone else or already expired.
	RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// GetLeader returns the current leader, or nil when there is none.
	GetLeader(ctx context.Context) (*Worker, error)
}
