// Package pool provides a generic bounded resource pool and a keyed
// manager that shards pools by provider, tenant, and credential identity.
//
// A Pool owns its items exclusively. Acquire hands out a borrowed Lease;
// Release returns it. When the pool is saturated, callers wait on a
// strict FIFO and either receive a resource handed over directly by a
// releasing borrower or fail with ErrAcquireTimeout. Idle items are
// evicted on a periodic tick, never below the configured minimum.
//
// Pool state is transient. Nothing is persisted, and a restarted process
// always begins with empty pools.
package pool
