package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Manager shards pools by Identity Key. Pools are created lazily on
// first acquire and garbage-collected on the maintenance tick once they
// hold no resources and no waiters. Every shard shares one Config;
// per-tenant quota enforcement belongs to a layer above this one.
type Manager[T any] struct {
	cfg          Config
	tickInterval time.Duration
	closer       Closer[T]
	validator    Validator[T]
	metrics      Metrics
	logger       *slog.Logger

	mu    sync.Mutex
	pools map[Key]*Pool[T]

	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption[T any] func(*Manager[T])

// WithManagerConfig sets the Config shared by every shard.
func WithManagerConfig[T any](cfg Config) ManagerOption[T] {
	return func(m *Manager[T]) { m.cfg = cfg }
}

// WithTickInterval sets the cadence of the eviction and shard-GC tick.
func WithTickInterval[T any](d time.Duration) ManagerOption[T] {
	return func(m *Manager[T]) { m.tickInterval = d }
}

// WithManagerCloser sets the resource teardown hook for every shard.
func WithManagerCloser[T any](fn Closer[T]) ManagerOption[T] {
	return func(m *Manager[T]) { m.closer = fn }
}

// WithManagerValidator sets the idle-resource health check for every shard.
func WithManagerValidator[T any](fn Validator[T]) ManagerOption[T] {
	return func(m *Manager[T]) { m.validator = fn }
}

// WithManagerMetrics sets the metrics sink for every shard.
func WithManagerMetrics[T any](mt Metrics) ManagerOption[T] {
	return func(m *Manager[T]) { m.metrics = mt }
}

// WithManagerLogger sets the structured logger.
func WithManagerLogger[T any](l *slog.Logger) ManagerOption[T] {
	return func(m *Manager[T]) { m.logger = l }
}

// NewManager creates an empty pool manager.
func NewManager[T any](opts ...ManagerOption[T]) *Manager[T] {
	m := &Manager[T]{
		cfg:          DefaultConfig(),
		tickInterval: 30 * time.Second,
		metrics:      nopMetrics{},
		logger:       slog.Default(),
		pools:        make(map[Key]*Pool[T]),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire resolves the shard for id, creating it on first use with the
// given factory, and acquires a lease from it. The factory is only
// consulted when the shard does not exist yet or needs to grow.
func (m *Manager[T]) Acquire(ctx context.Context, id Identity, factory Factory[T]) (*Lease[T], error) {
	return m.shard(id, factory).Acquire(ctx)
}

// Get returns the shard for id, creating it with the given factory when
// it does not exist yet.
func (m *Manager[T]) Get(id Identity, factory Factory[T]) *Pool[T] {
	return m.shard(id, factory)
}

func (m *Manager[T]) shard(id Identity, factory Factory[T]) *Pool[T] {
	key := id.Key()

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[key]; ok {
		return p
	}

	p := New[T](id.Provider, factory,
		WithConfig[T](m.cfg),
		WithCloser[T](m.closer),
		WithValidator[T](m.validator),
		WithMetrics[T](m.metrics),
		WithLogger[T](m.logger),
	)
	m.pools[key] = p
	m.logger.Debug("created pool shard",
		slog.String("provider", id.Provider),
		slog.String("tenant_id", id.TenantID),
		slog.String("key", key.String()),
	)
	return p
}

// Stats returns a snapshot per shard key.
func (m *Manager[T]) Stats() map[Key]Stats {
	m.mu.Lock()
	pools := make(map[Key]*Pool[T], len(m.pools))
	for k, p := range m.pools {
		pools[k] = p
	}
	m.mu.Unlock()

	out := make(map[Key]Stats, len(pools))
	for k, p := range pools {
		out[k] = p.Stats()
	}
	return out
}

// Len returns the number of live shards.
func (m *Manager[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pools)
}

// Start launches the background maintenance loop. Stop must be called
// to release it.
func (m *Manager[T]) Start() {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(m.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Maintain(time.Now())
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the maintenance loop and closes every shard.
func (m *Manager[T]) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		<-m.doneCh
	}

	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[Key]*Pool[T])
	m.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}

// Maintain runs one maintenance pass: evict idle resources in every
// shard, then drop shards that ended up empty with no waiters. Exposed
// so tests can drive the tick directly.
func (m *Manager[T]) Maintain(now time.Time) {
	m.mu.Lock()
	pools := make(map[Key]*Pool[T], len(m.pools))
	for k, p := range m.pools {
		pools[k] = p
	}
	m.mu.Unlock()

	for k, p := range pools {
		p.EvictIdle(now)
		s := p.Stats()
		m.metrics.PoolSize(p.provider, s.Active, s.Idle)
		if s.Total == 0 && s.Pending == 0 {
			m.mu.Lock()
			// Re-check under the lock; an acquire may have landed since
			// the snapshot.
			if cur, ok := m.pools[k]; ok && cur == p {
				cs := p.Stats()
				if cs.Total == 0 && cs.Pending == 0 {
					delete(m.pools, k)
					m.logger.Debug("collected empty pool shard", slog.String("key", k.String()))
				}
			}
			m.mu.Unlock()
		}
	}
}
