package job

import "time"

// Options carries the per-job knobs resolved at enqueue time. Definition
// defaults are applied first, then call-site options on top.
type Options struct {
	// MaxRetries bounds retry attempts before the job is routed to the
	// dead letter queue.
	MaxRetries int

	// Queue names the queue the job lands on.
	Queue string

	// Priority orders dequeue within a queue. Higher runs first.
	Priority int

	// Timeout bounds a single execution attempt.
	Timeout time.Duration

	// RunAt defers execution until the given time. Zero means now.
	RunAt time.Time

	// IdempotencyKey deduplicates enqueues: a second enqueue carrying
	// the same key returns the existing job instead of creating one.
	IdempotencyKey string
}

// DefaultOptions returns the baseline applied to every job.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		Queue:      "default",
		Timeout:    5 * time.Minute,
	}
}

// Option mutates Options.
type Option func(*Options)

// WithMaxRetries bounds retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.MaxRetries = n }
}

// WithQueue routes the job to the named queue.
func WithQueue(q string) Option {
	return func(o *Options) { o.Queue = q }
}

// WithPriority sets dequeue priority. Higher runs first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithTimeout bounds a single execution attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithRunAt defers execution until t.
func WithRunAt(t time.Time) Option {
	return func(o *Options) { o.RunAt = t }
}

// WithIdempotencyKey deduplicates the enqueue under the given key.
func WithIdempotencyKey(key string) Option {
	return func(o *Options) { o.IdempotencyKey = key }
}
