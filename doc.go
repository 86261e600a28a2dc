// Package keel provides a resilient job-processing substrate for
// multi-tenant backends: a durable job queue with retries, backoff, and a
// dead letter queue; a worker harness with lease renewal and stalled-job
// recovery; generic connection pooling sharded by tenant identity; and
// circuit breakers for downstream dependencies.
//
// Keel is designed as a library, not a service. Import it, configure a
// store, and register job handlers as ordinary Go functions.
//
// # Quick Start
//
//	s, err := keel.New(
//	    keel.WithStore(pgStore),
//	    keel.WithConcurrency(20),
//	)
//
// # Architecture
//
// Keel follows a composable store pattern where each subsystem (job, dlq,
// cron, cluster) defines its own store interface. A single backend
// (Postgres, Redis, or Memory) implements all of them and plays the role of
// the durable broker: per-job exclusive lease, configurable max attempts
// with backoff, and a failure hook that drives the dead letter queue.
//
// The connection pool (package pool) and circuit breaker (package breaker)
// hold only transient in-process state; they reinitialize empty/closed on
// restart.
//
// Job and worker IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package keel
