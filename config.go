package keel

import "time"

// Config bounds how this process polls, runs, and leases jobs.
type Config struct {
	// Concurrency caps jobs in flight at once.
	Concurrency int

	// Queues names the queues this process polls.
	Queues []string

	// PollInterval is the gap between dequeue attempts.
	PollInterval time.Duration

	// ShutdownTimeout bounds the wait for in-flight jobs on Stop.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running jobs renew their lease.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long before a leased job without a
	// heartbeat is considered stalled and requeued.
	StaleJobThreshold time.Duration
}

// DefaultConfig returns the baseline processing configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		Queues:            []string{"default"},
		PollInterval:      1 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleJobThreshold: 30 * time.Second,
	}
}
