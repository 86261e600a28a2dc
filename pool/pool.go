package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrAcquireTimeout is returned when no resource became available
	// within the acquire timeout. It is distinct from operation errors so
	// callers can tell "no capacity" apart from "call failed".
	ErrAcquireTimeout = errors.New("pool: acquire timed out")

	// ErrClosed is returned by operations on a closed pool.
	ErrClosed = errors.New("pool: closed")
)

// Factory creates a new resource. It is called while the pool slot is
// already reserved; on error the slot is given back.
type Factory[T any] func(ctx context.Context) (T, error)

// Closer tears down a resource on eviction or pool close.
type Closer[T any] func(resource T)

// Validator reports whether an idle resource is still usable. Resources
// that fail validation are destroyed instead of handed out.
type Validator[T any] func(resource T) bool

// Config bounds pool size and wait behavior. One Config is shared by
// every shard under a Manager.
type Config struct {
	// Min is the size floor. Idle eviction never shrinks the pool below it.
	Min int

	// Max is the size ceiling across idle and in-use items.
	Max int

	// AcquireTimeout is how long a saturated Acquire waits before failing
	// with ErrAcquireTimeout.
	AcquireTimeout time.Duration

	// IdleTimeout is how long an item may sit unused before it becomes
	// eligible for eviction.
	IdleTimeout time.Duration
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		Min:            0,
		Max:            10,
		AcquireTimeout: 5 * time.Second,
		IdleTimeout:    5 * time.Minute,
	}
}

// Stats is a point-in-time snapshot of one pool shard.
type Stats struct {
	Total   int
	Active  int
	Idle    int
	Pending int
}

// Metrics receives pool events. Implementations must be safe for
// concurrent use and must not block.
type Metrics interface {
	PoolAcquired(provider string)
	PoolTimedOut(provider string)
	PoolEvicted(provider string, count int)
	PoolSize(provider string, active, idle int)
}

type nopMetrics struct{}

func (nopMetrics) PoolAcquired(string)      {}
func (nopMetrics) PoolTimedOut(string)      {}
func (nopMetrics) PoolEvicted(string, int)  {}
func (nopMetrics) PoolSize(string, int, int) {}

// item is the pool's bookkeeping record for one resource. Items are
// addressed by handle through an explicit index, so a Lease never needs
// the raw resource to find its way back.
type item[T any] struct {
	handle     uint64
	resource   T
	createdAt  time.Time
	lastUsedAt time.Time
}

// Lease is a borrowed resource. Exactly one borrower holds a given lease
// at a time; Release returns the resource to the pool and invalidates
// the lease.
type Lease[T any] struct {
	pool   *Pool[T]
	handle uint64
	res    T
}

// Resource returns the borrowed resource.
func (l *Lease[T]) Resource() T { return l.res }

// Release returns the resource to the pool. Releasing twice is an error.
func (l *Lease[T]) Release() error { return l.pool.Release(l) }

type waiter[T any] struct {
	ch chan *Lease[T]
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithConfig sets the pool configuration.
func WithConfig[T any](cfg Config) Option[T] {
	return func(p *Pool[T]) { p.cfg = cfg }
}

// WithCloser sets the teardown hook for evicted resources.
func WithCloser[T any](fn Closer[T]) Option[T] {
	return func(p *Pool[T]) { p.closer = fn }
}

// WithValidator sets the health check applied to idle resources before
// they are handed out. Without it, released resources are reused as-is.
func WithValidator[T any](fn Validator[T]) Option[T] {
	return func(p *Pool[T]) { p.validator = fn }
}

// WithMetrics sets the metrics sink.
func WithMetrics[T any](m Metrics) Option[T] {
	return func(p *Pool[T]) { p.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(p *Pool[T]) { p.logger = l }
}

// Pool is a bounded pool of homogeneous resources. It is safe for
// concurrent use.
type Pool[T any] struct {
	provider  string
	factory   Factory[T]
	closer    Closer[T]
	validator Validator[T]
	cfg       Config
	metrics   Metrics
	logger    *slog.Logger

	mu         sync.Mutex
	nextHandle uint64
	idle       []*item[T]          // ordered oldest-returned first
	inUse      map[uint64]*item[T] // handle index
	creating   int                 // slots reserved for in-flight factory calls
	pending    []*waiter[T]        // strict FIFO
	closed     bool
}

// New creates a pool for the given provider. The factory is invoked
// whenever the pool grows a new resource.
func New[T any](provider string, factory Factory[T], opts ...Option[T]) *Pool[T] {
	p := &Pool[T]{
		provider: provider,
		factory:  factory,
		cfg:      DefaultConfig(),
		metrics:  nopMetrics{},
		logger:   slog.Default(),
		inUse:    make(map[uint64]*item[T]),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// totalLocked counts every slot the pool is responsible for, including
// resources still being created.
func (p *Pool[T]) totalLocked() int {
	return len(p.idle) + len(p.inUse) + p.creating
}

// Acquire returns a leased resource. If the pool is saturated the caller
// joins a FIFO and waits until a borrower releases, the acquire timeout
// fires, or ctx is cancelled.
func (p *Pool[T]) Acquire(ctx context.Context) (*Lease[T], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}

	// Reuse an idle resource if a healthy one exists.
	for len(p.idle) > 0 {
		it := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]

		if p.validator != nil && !p.validator(it.resource) {
			p.destroyLocked(it)
			continue
		}

		it.lastUsedAt = time.Now()
		p.nextHandle++
		it.handle = p.nextHandle
		p.inUse[it.handle] = it
		lease := &Lease[T]{pool: p, handle: it.handle, res: it.resource}
		p.mu.Unlock()
		p.metrics.PoolAcquired(p.provider)
		return lease, nil
	}

	// Grow if there is headroom.
	if p.totalLocked() < p.cfg.Max {
		p.creating++
		p.mu.Unlock()

		res, err := p.factory(ctx)

		p.mu.Lock()
		p.creating--
		if err != nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("pool %s: create resource: %w", p.provider, err)
		}
		now := time.Now()
		p.nextHandle++
		it := &item[T]{handle: p.nextHandle, resource: res, createdAt: now, lastUsedAt: now}
		p.inUse[it.handle] = it
		lease := &Lease[T]{pool: p, handle: it.handle, res: res}
		p.mu.Unlock()
		p.metrics.PoolAcquired(p.provider)
		return lease, nil
	}

	// Saturated: join the FIFO.
	w := &waiter[T]{ch: make(chan *Lease[T], 1)}
	p.pending = append(p.pending, w)
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case lease := <-w.ch:
		if lease == nil {
			return nil, ErrClosed
		}
		p.metrics.PoolAcquired(p.provider)
		return lease, nil
	case <-timer.C:
		if lease := p.abandon(w); lease != nil {
			p.metrics.PoolAcquired(p.provider)
			return lease, nil
		}
		p.metrics.PoolTimedOut(p.provider)
		return nil, fmt.Errorf("pool %s: %w after %s", p.provider, ErrAcquireTimeout, p.cfg.AcquireTimeout)
	case <-ctx.Done():
		if lease := p.abandon(w); lease != nil {
			p.metrics.PoolAcquired(p.provider)
			return lease, nil
		}
		return nil, ctx.Err()
	}
}

// abandon removes w from the FIFO. If a release already resolved the
// waiter, the handed-over lease is returned instead so it is not lost.
func (p *Pool[T]) abandon(w *waiter[T]) *Lease[T] {
	p.mu.Lock()
	for i, pw := range p.pending {
		if pw == w {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			p.mu.Unlock()
			return nil
		}
	}
	p.mu.Unlock()

	// Not in the FIFO: a concurrent Release already served this waiter.
	select {
	case lease := <-w.ch:
		return lease
	default:
		return nil
	}
}

// Release returns a leased resource. If a caller is waiting, the
// resource is handed to the head of the FIFO directly and never touches
// the idle set.
func (p *Pool[T]) Release(l *Lease[T]) error {
	p.mu.Lock()
	it, ok := p.inUse[l.handle]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("pool %s: release of unleased resource", p.provider)
	}
	it.lastUsedAt = time.Now()

	if len(p.pending) > 0 {
		w := p.pending[0]
		p.pending = p.pending[1:]
		// The waiter gets a fresh handle and the old one is dropped from
		// the index, so the released lease cannot be released again.
		delete(p.inUse, l.handle)
		p.nextHandle++
		it.handle = p.nextHandle
		p.inUse[it.handle] = it
		w.ch <- &Lease[T]{pool: p, handle: it.handle, res: it.resource}
		p.mu.Unlock()
		return nil
	}

	delete(p.inUse, l.handle)
	if p.closed {
		p.destroyLocked(it)
		p.mu.Unlock()
		return nil
	}
	p.idle = append(p.idle, it)
	p.mu.Unlock()
	return nil
}

// EvictIdle removes items unused since before now minus the idle
// timeout. At most total minus min items are removed; the least idle
// survivors are kept. It returns the number of evicted items.
func (p *Pool[T]) EvictIdle(now time.Time) int {
	p.mu.Lock()
	removable := p.totalLocked() - p.cfg.Min
	if removable <= 0 || len(p.idle) == 0 {
		p.mu.Unlock()
		return 0
	}

	cutoff := now.Add(-p.cfg.IdleTimeout)
	var kept []*item[T]
	var evicted []*item[T]
	// idle is ordered oldest-returned first, so scanning front to back
	// evicts the most stale items ahead of the min floor.
	for _, it := range p.idle {
		if len(evicted) < removable && it.lastUsedAt.Before(cutoff) {
			evicted = append(evicted, it)
			continue
		}
		kept = append(kept, it)
	}
	p.idle = kept
	p.mu.Unlock()

	for _, it := range evicted {
		if p.closer != nil {
			p.closer(it.resource)
		}
	}
	if len(evicted) > 0 {
		p.metrics.PoolEvicted(p.provider, len(evicted))
		p.logger.Debug("evicted idle resources",
			slog.String("provider", p.provider),
			slog.Int("count", len(evicted)),
		)
	}
	return len(evicted)
}

// Stats returns a snapshot of the pool's bookkeeping sets.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{
		Total:   p.totalLocked(),
		Active:  len(p.inUse) + p.creating,
		Idle:    len(p.idle),
		Pending: len(p.pending),
	}
	return s
}

// Close tears down idle resources and fails pending waiters with
// ErrClosed. In-use resources are destroyed as they are released.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, w := range pending {
		w.ch <- nil
	}
	for _, it := range idle {
		if p.closer != nil {
			p.closer(it.resource)
		}
	}
}

// destroyLocked tears down a resource that failed validation. Callers
// must hold p.mu; the closer runs inline and must be cheap.
func (p *Pool[T]) destroyLocked(it *item[T]) {
	if p.closer != nil {
		p.closer(it.resource)
	}
}
