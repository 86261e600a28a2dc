package redis

// Redis key naming conventions for keel data.
// All keys are prefixed with "keel:" to avoid collisions.

const keyPrefix = "keel:"

// ── Job keys ──

// jobKey returns the key for a job entity: keel:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// readyKey returns the Sorted Set of runnable jobs for a queue: keel:ready:{name}
func readyKey(name string) string { return keyPrefix + "ready:" + name }

// scheduledKey returns the Sorted Set of not-yet-due jobs for a queue: keel:scheduled:{name}
func scheduledKey(name string) string { return keyPrefix + "scheduled:" + name }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// idempKey maps idempotency keys to job IDs for enqueue deduplication.
const idempKey = keyPrefix + "idemp"

// ── Cron keys ──

// cronKey returns the key for a cron entry entity: keel:cron:{id}
func cronKey(id string) string { return keyPrefix + "cron:" + id }

// cronLockKey returns the firing-lock key for a cron entry: keel:cronlock:{id}
func cronLockKey(id string) string { return keyPrefix + "cronlock:" + id }

// cronIDsKey is the Set tracking all cron IDs for enumeration.
const cronIDsKey = keyPrefix + "cron_ids"

// cronNamesKey maps cron names to IDs for duplicate detection and lookup.
const cronNamesKey = keyPrefix + "cron_names"

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry entity: keel:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all DLQ entry IDs for enumeration.
const dlqIDsKey = keyPrefix + "dlq_ids"

// ── Cluster keys ──

// workerKey returns the key for a worker entity: keel:worker:{id}
func workerKey(id string) string { return keyPrefix + "worker:" + id }

// workerIDsKey is the Set tracking all worker IDs for enumeration.
const workerIDsKey = keyPrefix + "worker_ids"

// leaderKey stores the current leader worker ID with the lease TTL.
const leaderKey = keyPrefix + "leader"
