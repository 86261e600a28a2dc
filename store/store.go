// Package store defines the aggregate persistence interface. Each
// subsystem (job, dlq, cron, cluster) defines its own store interface.
// The composite Store composes them all. Backends: Postgres, Redis, and
// Memory.
package store

import (
	"context"

	"github.com/keelhq/keel/cluster"
	"github.com/keelhq/keel/cron"
	"github.com/keelhq/keel/dlq"
	"github.com/keelhq/keel/job"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// implements all of them.
type Store interface {
	job.Store
	dlq.Store
	cron.Store
	cluster.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
