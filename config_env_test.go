package keel

import (
	"strings"
	"testing"
	"time"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}

	want := DefaultEnvConfig()
	if cfg.Worker.Concurrency != want.Worker.Concurrency {
		t.Errorf("concurrency = %d, want %d", cfg.Worker.Concurrency, want.Worker.Concurrency)
	}
	if len(cfg.Worker.Queues) != 1 || cfg.Worker.Queues[0] != "default" {
		t.Errorf("queues = %v, want [default]", cfg.Worker.Queues)
	}
	if cfg.Pool.Max != want.Pool.Max {
		t.Errorf("pool max = %d, want %d", cfg.Pool.Max, want.Pool.Max)
	}
	if cfg.Breaker.FailureThreshold != want.Breaker.FailureThreshold {
		t.Errorf("failure threshold = %d, want %d", cfg.Breaker.FailureThreshold, want.Breaker.FailureThreshold)
	}
	if cfg.QueuePolicy.MaxRetries != want.QueuePolicy.MaxRetries {
		t.Errorf("max retries = %d, want %d", cfg.QueuePolicy.MaxRetries, want.QueuePolicy.MaxRetries)
	}
	if cfg.QueueRateLimit != 0 {
		t.Errorf("rate limit = %v, want 0", cfg.QueueRateLimit)
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("KEEL_WORKER_CONCURRENCY", "32")
	t.Setenv("KEEL_WORKER_QUEUES", "default, email ,billing")
	t.Setenv("KEEL_WORKER_POLL_INTERVAL", "250ms")
	t.Setenv("KEEL_POOL_MIN", "2")
	t.Setenv("KEEL_POOL_MAX", "40")
	t.Setenv("KEEL_POOL_ACQUIRE_TIMEOUT", "2s")
	t.Setenv("KEEL_BREAKER_FAILURE_THRESHOLD", "10")
	t.Setenv("KEEL_BREAKER_RESET_TIMEOUT", "1m")
	t.Setenv("KEEL_QUEUE_MAX_RETRIES", "6")
	t.Setenv("KEEL_QUEUE_BACKOFF", "exponential")
	t.Setenv("KEEL_QUEUE_BACKOFF_DELAY", "2s")
	t.Setenv("KEEL_QUEUE_RATE_LIMIT", "12.5")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}

	if cfg.Worker.Concurrency != 32 {
		t.Errorf("concurrency = %d, want 32", cfg.Worker.Concurrency)
	}
	if got := strings.Join(cfg.Worker.Queues, "|"); got != "default|email|billing" {
		t.Errorf("queues = %q, want default|email|billing", got)
	}
	if cfg.Worker.PollInterval != 250*time.Millisecond {
		t.Errorf("poll interval = %s, want 250ms", cfg.Worker.PollInterval)
	}
	if cfg.Pool.Min != 2 || cfg.Pool.Max != 40 {
		t.Errorf("pool = %d/%d, want 2/40", cfg.Pool.Min, cfg.Pool.Max)
	}
	if cfg.Pool.AcquireTimeout != 2*time.Second {
		t.Errorf("acquire timeout = %s, want 2s", cfg.Pool.AcquireTimeout)
	}
	if cfg.Breaker.FailureThreshold != 10 {
		t.Errorf("failure threshold = %d, want 10", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.ResetTimeout != time.Minute {
		t.Errorf("reset timeout = %s, want 1m", cfg.Breaker.ResetTimeout)
	}
	if cfg.QueuePolicy.MaxRetries != 6 {
		t.Errorf("max retries = %d, want 6", cfg.QueuePolicy.MaxRetries)
	}
	if cfg.QueuePolicy.BackoffDelay != 2*time.Second {
		t.Errorf("backoff delay = %s, want 2s", cfg.QueuePolicy.BackoffDelay)
	}
	if cfg.QueueRateLimit != 12.5 {
		t.Errorf("rate limit = %v, want 12.5", cfg.QueueRateLimit)
	}
}

func TestConfigFromEnvValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero concurrency", "KEEL_WORKER_CONCURRENCY", "0"},
		{"empty queues", "KEEL_WORKER_QUEUES", " , "},
		{"zero poll interval", "KEEL_WORKER_POLL_INTERVAL", "0s"},
		{"negative pool min", "KEEL_POOL_MIN", "-1"},
		{"zero pool max", "KEEL_POOL_MAX", "0"},
		{"zero failure threshold", "KEEL_BREAKER_FAILURE_THRESHOLD", "0"},
		{"negative retries", "KEEL_QUEUE_MAX_RETRIES", "-1"},
		{"unknown backoff kind", "KEEL_QUEUE_BACKOFF", "quadratic"},
		{"negative rate limit", "KEEL_QUEUE_RATE_LIMIT", "-5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := ConfigFromEnv(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestConfigFromEnvPoolMinExceedsMax(t *testing.T) {
	t.Setenv("KEEL_POOL_MIN", "20")
	t.Setenv("KEEL_POOL_MAX", "5")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatal("expected error when pool min exceeds max")
	}
}
