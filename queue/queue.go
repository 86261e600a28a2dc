package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keelhq/keel/backoff"
)

// Policy is the default job policy for a queue, applied when an enqueue
// call does not set its own options.
type Policy struct {
	// MaxRetries is the retry budget for jobs on this queue.
	MaxRetries int

	// Backoff selects the delay strategy between retries.
	Backoff backoff.Kind

	// BackoffDelay is the base delay fed to the strategy.
	BackoffDelay time.Duration

	// RemoveOnComplete drops the job record once it completes instead of
	// retaining it for inspection.
	RemoveOnComplete bool

	// RemoveOnFail drops the job record after it is routed to the dead
	// letter queue.
	RemoveOnFail bool
}

// DefaultPolicy returns the policy used by queues without a Config.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		Backoff:      backoff.KindJitter,
		BackoffDelay: time.Second,
	}
}

// Strategy builds the backoff strategy this policy describes.
func (p Policy) Strategy() backoff.Strategy {
	return backoff.FromKind(p.Backoff, p.BackoffDelay)
}

// Config defines one queue: its default job policy plus dequeue-side
// rate limiting and concurrency caps.
type Config struct {
	// Name is the queue identifier (must match the job.Queue field).
	Name string

	// MaxConcurrency limits how many jobs from this queue may run
	// simultaneously across the local worker pool. Zero means no
	// queue-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second that may be
	// dequeued from this queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int

	// Policy is the default job policy. Nil means DefaultPolicy applies;
	// a non-nil policy is taken verbatim, so &Policy{} disables retries.
	Policy *Policy
}

// state tracks the runtime side of one queue.
type state struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

func newState(cfg Config) *state {
	s := &state{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s
}

// Manager answers queue policy and gates dequeue against per-queue and
// per-tenant rate limits and concurrency caps. It is safe for concurrent
// use.
type Manager struct {
	mu      sync.Mutex
	queues  map[string]*state
	tenants map[string]*tenantState
}

// NewManager creates a Manager with the given queue configurations.
// Unlisted queues run with DefaultPolicy and no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues:  make(map[string]*state, len(configs)),
		tenants: make(map[string]*tenantState),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newState(cfg)
	}
	return m
}

// Policy returns the default job policy for a queue.
func (m *Manager) Policy(queue string) Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.queues[queue]; s != nil && s.config.Policy != nil {
		return *s.config.Policy
	}
	return DefaultPolicy()
}

// Admit checks rate limits and concurrency for the given queue and
// tenant. When the job may proceed, Admit increments the active counters
// and returns a release callback that the caller must invoke exactly
// once when the job finishes.
func (m *Manager) Admit(queue, tenantID string) (release func(), ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs != nil && qs.config.MaxConcurrency > 0 && qs.active >= qs.config.MaxConcurrency {
		return nil, false
	}

	var ts *tenantState
	if tenantID != "" {
		ts = m.tenants[tenantKey(queue, tenantID)]
	}
	if ts != nil && ts.maxConcurrency > 0 && ts.active >= ts.maxConcurrency {
		return nil, false
	}

	// Rate tokens are taken only after every concurrency check has
	// passed, so a denied admission never burns one.
	var qlim, tlim *rate.Limiter
	if qs != nil {
		qlim = qs.limiter
	}
	if ts != nil {
		tlim = ts.limiter
	}
	if !takeTokens(qlim, tlim) {
		return nil, false
	}

	if qs != nil {
		qs.active++
	}
	if ts != nil {
		ts.active++
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.release(queue, tenantID) })
	}, true
}

// takeTokens takes one token from each non-nil limiter, or none at all.
// A denied reservation is cancelled along with any already taken.
func takeTokens(limiters ...*rate.Limiter) bool {
	taken := make([]*rate.Reservation, 0, len(limiters))
	for _, lim := range limiters {
		if lim == nil {
			continue
		}
		r := lim.Reserve()
		if !r.OK() || r.Delay() > 0 {
			r.Cancel()
			for _, prev := range taken {
				prev.Cancel()
			}
			return false
		}
		taken = append(taken, r)
	}
	return true
}

func (m *Manager) release(queue, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
	if tenantID != "" {
		if ts := m.tenants[tenantKey(queue, tenantID)]; ts != nil && ts.active > 0 {
			ts.active--
		}
	}
}

// SetConfig updates (or creates) a queue configuration at runtime. The
// current active count carries over.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := newState(cfg)
	if existing := m.queues[cfg.Name]; existing != nil {
		s.active = existing.active
	}
	m.queues[cfg.Name] = s
}

// ActiveCount returns the current number of admitted jobs for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.queues[queue]; s != nil {
		return s.active
	}
	return 0
}
