// Package cluster provides worker registration, heartbeat tracking, and
// lease-based leader election for multi-instance deployments.
//
// Each running process registers itself as a [Worker] with a unique
// [id.WorkerID], its hostname, the queues it polls, and its concurrency
// limit. Workers heartbeat periodically; a worker whose heartbeat goes
// silent past the configured threshold is considered dead and its leased
// jobs become eligible for redelivery.
//
// # Leader Election
//
// One worker at a time holds leadership. The leader fires scheduled cron
// entries and reaps stale jobs so those duties run exactly once across
// the cluster. Leadership is a TTL lease acquired through
// [Store.AcquireLeadership] and kept alive with
// [Store.RenewLeadership]; a leader that stops renewing simply loses the
// lease and another worker picks it up.
package cluster
