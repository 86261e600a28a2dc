// Package dlq provides the dead letter queue for jobs that have
// exhausted their retry budget, and the recovery service that retries,
// deletes, and inspects those entries.
//
// When a job fails and MaxRetries has been reached, the executor calls
// [Service.Push] to move it into the DLQ. The original payload, error
// message, and retry counts are preserved for follow-up.
//
// # Entry identity
//
// Entry IDs are deterministic: "dlq-{queue}-{jobID}". Repeated failure
// events for the same logical job overwrite one entry instead of
// accumulating duplicates. See [EntryID].
//
// # Recovery
//
// Entries never expire on their own. Each one is either retried (a fresh
// job is enqueued to the original queue and the entry is removed) or
// explicitly deleted or purged by an operator:
//
//	svc := dlq.NewService(store, jobStore)
//
//	entries, _ := svc.FailedJobsByQueue(ctx, "webhooks", 50)
//	res, _ := svc.Retry(ctx, entries[0].ID)      // res.NewJobID
//	sum, _ := svc.RetryAll(ctx, "webhooks")       // best-effort bulk retry
//	stats, _ := svc.Stats(ctx)                    // totals, byQueue, byReason
//
// A failed re-enqueue during Retry leaves the DLQ entry untouched so the
// work is never lost.
package dlq
