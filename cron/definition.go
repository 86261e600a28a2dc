package cron

// Definition is a typed cron definition. T is the payload type and must
// be JSON-serializable.
type Definition[T any] struct {
	// Name is the unique identifier for this cron entry.
	Name string

	// Schedule is a cron expression (e.g. "*/5 * * * *" or "@every 30s").
	Schedule string

	// JobName is the job definition to enqueue on each firing.
	JobName string

	// Payload is the static payload enqueued with every firing.
	Payload T

	// Queue overrides the default job queue (optional).
	Queue string
}
