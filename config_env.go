package keel

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/keelhq/keel/backoff"
	"github.com/keelhq/keel/breaker"
	"github.com/keelhq/keel/pool"
	"github.com/keelhq/keel/queue"
)

// EnvConfig is the environment-driven configuration surface. It covers
// the worker pool, connection pools, circuit breakers, and the default
// queue policy. Every field maps to a KEEL_* environment variable; see
// ConfigFromEnv for the key scheme.
type EnvConfig struct {
	// Worker is the job processing configuration.
	Worker Config

	// Pool bounds connection pools created by the process.
	Pool pool.Config

	// Breaker is the default circuit breaker configuration.
	Breaker breaker.Config

	// QueuePolicy is the retry policy applied to queues without an
	// explicit queue.Config.
	QueuePolicy queue.Policy

	// QueueRateLimit is the default per-queue dequeue rate in jobs per
	// second. Zero disables rate limiting.
	QueueRateLimit float64
}

// DefaultEnvConfig returns an EnvConfig populated with every
// component's defaults.
func DefaultEnvConfig() EnvConfig {
	return EnvConfig{
		Worker:      DefaultConfig(),
		Pool:        pool.DefaultConfig(),
		Breaker:     breaker.DefaultConfig(),
		QueuePolicy: queue.DefaultPolicy(),
	}
}

// ConfigFromEnv loads an EnvConfig from KEEL_* environment variables.
// Unset variables keep their component defaults. Keys follow the
// section_name scheme, e.g.:
//
//	KEEL_WORKER_CONCURRENCY=20
//	KEEL_WORKER_QUEUES=default,email,billing
//	KEEL_WORKER_POLL_INTERVAL=500ms
//	KEEL_POOL_MAX=25
//	KEEL_POOL_ACQUIRE_TIMEOUT=2s
//	KEEL_BREAKER_FAILURE_THRESHOLD=10
//	KEEL_QUEUE_BACKOFF=exponential
//	KEEL_QUEUE_BACKOFF_DELAY=2s
//
// Durations use Go duration syntax. Queues are comma-separated.
func ConfigFromEnv() (EnvConfig, error) {
	def := DefaultEnvConfig()

	v := viper.New()
	v.SetEnvPrefix("KEEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("worker.concurrency", def.Worker.Concurrency)
	v.SetDefault("worker.queues", strings.Join(def.Worker.Queues, ","))
	v.SetDefault("worker.poll_interval", def.Worker.PollInterval)
	v.SetDefault("worker.shutdown_timeout", def.Worker.ShutdownTimeout)
	v.SetDefault("worker.heartbeat_interval", def.Worker.HeartbeatInterval)
	v.SetDefault("worker.stale_job_threshold", def.Worker.StaleJobThreshold)

	v.SetDefault("pool.min", def.Pool.Min)
	v.SetDefault("pool.max", def.Pool.Max)
	v.SetDefault("pool.acquire_timeout", def.Pool.AcquireTimeout)
	v.SetDefault("pool.idle_timeout", def.Pool.IdleTimeout)

	v.SetDefault("breaker.failure_threshold", def.Breaker.FailureThreshold)
	v.SetDefault("breaker.success_threshold", def.Breaker.SuccessThreshold)
	v.SetDefault("breaker.timeout", def.Breaker.Timeout)
	v.SetDefault("breaker.reset_timeout", def.Breaker.ResetTimeout)

	v.SetDefault("queue.max_retries", def.QueuePolicy.MaxRetries)
	v.SetDefault("queue.backoff", string(def.QueuePolicy.Backoff))
	v.SetDefault("queue.backoff_delay", def.QueuePolicy.BackoffDelay)
	v.SetDefault("queue.rate_limit", def.QueueRateLimit)

	cfg := EnvConfig{
		Worker: Config{
			Concurrency:       v.GetInt("worker.concurrency"),
			Queues:            splitQueues(v.GetString("worker.queues")),
			PollInterval:      v.GetDuration("worker.poll_interval"),
			ShutdownTimeout:   v.GetDuration("worker.shutdown_timeout"),
			HeartbeatInterval: v.GetDuration("worker.heartbeat_interval"),
			StaleJobThreshold: v.GetDuration("worker.stale_job_threshold"),
		},
		Pool: pool.Config{
			Min:            v.GetInt("pool.min"),
			Max:            v.GetInt("pool.max"),
			AcquireTimeout: v.GetDuration("pool.acquire_timeout"),
			IdleTimeout:    v.GetDuration("pool.idle_timeout"),
		},
		Breaker: breaker.Config{
			FailureThreshold: v.GetInt("breaker.failure_threshold"),
			SuccessThreshold: v.GetInt("breaker.success_threshold"),
			Timeout:          v.GetDuration("breaker.timeout"),
			ResetTimeout:     v.GetDuration("breaker.reset_timeout"),
		},
		QueuePolicy: queue.Policy{
			MaxRetries:   v.GetInt("queue.max_retries"),
			Backoff:      backoff.Kind(v.GetString("queue.backoff")),
			BackoffDelay: v.GetDuration("queue.backoff_delay"),
		},
		QueueRateLimit: v.GetFloat64("queue.rate_limit"),
	}

	if err := cfg.validate(); err != nil {
		return EnvConfig{}, err
	}
	return cfg, nil
}

func (c EnvConfig) validate() error {
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("keel: worker concurrency must be at least 1, got %d", c.Worker.Concurrency)
	}
	if len(c.Worker.Queues) == 0 {
		return fmt.Errorf("keel: at least one queue is required")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("keel: worker poll interval must be positive, got %s", c.Worker.PollInterval)
	}
	if c.Pool.Min < 0 {
		return fmt.Errorf("keel: pool min must not be negative, got %d", c.Pool.Min)
	}
	if c.Pool.Max < 1 {
		return fmt.Errorf("keel: pool max must be at least 1, got %d", c.Pool.Max)
	}
	if c.Pool.Min > c.Pool.Max {
		return fmt.Errorf("keel: pool min %d exceeds max %d", c.Pool.Min, c.Pool.Max)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("keel: breaker failure threshold must be at least 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("keel: breaker success threshold must be at least 1, got %d", c.Breaker.SuccessThreshold)
	}
	if c.QueuePolicy.MaxRetries < 0 {
		return fmt.Errorf("keel: queue max retries must not be negative, got %d", c.QueuePolicy.MaxRetries)
	}
	switch c.QueuePolicy.Backoff {
	case backoff.KindFixed, backoff.KindLinear, backoff.KindExponential, backoff.KindJitter:
	default:
		return fmt.Errorf("keel: unknown backoff kind %q", c.QueuePolicy.Backoff)
	}
	if c.QueueRateLimit < 0 {
		return fmt.Errorf("keel: queue rate limit must not be negative, got %v", c.QueueRateLimit)
	}
	return nil
}

// splitQueues parses a comma-separated queue list, trimming whitespace
// and dropping empty entries.
func splitQueues(s string) []string {
	parts := strings.Split(s, ",")
	queues := make([]string, 0, len(parts))
	for _, p := range parts {
		if q := strings.TrimSpace(p); q != "" {
			queues = append(queues, q)
		}
	}
	return queues
}
