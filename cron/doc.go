// Package cron provides repeatable job schedules fired by the cluster
// leader.
//
// Cron entries are persisted and keyed by a stable name, so registering
// the same entry on every instance at startup is idempotent. Only the
// current leader evaluates due entries, and each firing takes a
// per-entry lock, so an entry fires at most once per tick across the
// whole cluster.
//
// An [Entry] carries:
//   - Schedule: a cron expression ("0 9 * * 1-5") or descriptor ("@every 30s")
//   - JobName: the registered job definition to enqueue when due
//   - Queue: target queue (defaults to "default")
//   - Payload: static JSON payload passed to every triggered job
//   - TenantID / Provider: tenant scope restored onto the fired job
//   - Enabled: whether the entry fires
//
// The [Scheduler] ticks, filters due entries, locks and fires each one,
// then persists LastRunAt and the recomputed NextRunAt.
package cron
