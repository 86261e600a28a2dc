package queue

import (
	"fmt"

	"golang.org/x/time/rate"
)

// TenantLimit caps one tenant's throughput on one queue so a noisy
// tenant cannot starve the rest of the queue.
type TenantLimit struct {
	// Queue is the queue this limit applies to.
	Queue string

	// TenantID identifies the tenant (job.TenantID).
	TenantID string

	// RateLimit is the sustained jobs per second for this tenant.
	RateLimit float64

	// RateBurst is the burst size for the tenant's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous jobs for this tenant on this
	// queue. Zero means no tenant-specific concurrency limit.
	MaxConcurrency int
}

type tenantState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func tenantKey(queue, tenantID string) string {
	return fmt.Sprintf("%s:%s", queue, tenantID)
}

// SetTenantLimit installs or replaces the limit for a queue+tenant pair.
// The current active count carries over on replacement.
func (m *Manager) SetTenantLimit(limit TenantLimit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantKey(limit.Queue, limit.TenantID)

	ts := &tenantState{maxConcurrency: limit.MaxConcurrency}
	if limit.RateLimit > 0 {
		burst := limit.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(limit.RateLimit), burst)
	}
	if existing := m.tenants[key]; existing != nil {
		ts.active = existing.active
	}
	m.tenants[key] = ts
}

// TenantActiveCount returns the number of admitted jobs for a
// queue+tenant pair.
func (m *Manager) TenantActiveCount(queue, tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.tenants[tenantKey(queue, tenantID)]; ts != nil {
		return ts.active
	}
	return 0
}
