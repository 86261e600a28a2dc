package cluster

import (
	"os"
	"time"

	"github.com/keelhq/keel/id"
)

// WorkerState represents the lifecycle state of a worker.
type WorkerState string

const (
	// WorkerActive means the worker is healthy and processing jobs.
	WorkerActive WorkerState = "active"
	// WorkerDraining means the worker is finishing in-flight jobs but
	// not accepting new ones.
	WorkerDraining WorkerState = "draining"
	// WorkerDead means the worker has stopped heartbeating and its
	// leased jobs should be redelivered.
	WorkerDead WorkerState = "dead"
)

// Worker represents one running process in the cluster registry.
type Worker struct {
	ID          id.WorkerID `json:"id"`
	Hostname    string      `json:"hostname"`
	Queues      []string    `json:"queues"`
	Concurrency int         `json:"concurrency"`
	State       WorkerState `json:"state"`
	IsLeader    bool        `json:"is_leader"`
	LeaderUntil *time.Time  `json:"leader_until,omitempty"`
	LastSeen    time.Time   `json:"last_seen"`
	CreatedAt   time.Time   `json:"created_at"`
}

// NewWorker builds an active worker record for this process.
func NewWorker(queues []string, concurrency int) *Worker {
	hostname, _ := os.Hostname()
	now := time.Now().UTC()
	return &Worker{
		ID:          id.NewWorkerID(),
		Hostname:    hostname,
		Queues:      queues,
		Concurrency: concurrency,
		State:       WorkerActive,
		LastSeen:    now,
		CreatedAt:   now,
	}
}
