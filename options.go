package keel

import (
	"context"
	"log/slog"
)

// Option configures a Substrate.
type Option func(*Substrate) error

// Storer is the minimal store interface held by the Substrate.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for lifecycle shutdown events.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Substrate is the central coordinator for job processing, scheduled jobs,
// and distributed worker coordination.
//
// Create one with New() and functional options. The Substrate holds
// references to subsystem components via internal interfaces to avoid
// import cycles. Use engine.Build to wire everything together.
type Substrate struct {
	config Config
	logger *slog.Logger
	store  Storer
	hooks  hookEmitter
	pool   poolRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Substrate with the given options.
func New(opts ...Option) (*Substrate, error) {
	s := &Substrate{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Logger returns the substrate's logger.
func (s *Substrate) Logger() *slog.Logger { return s.logger }

// Store returns the substrate's store.
func (s *Substrate) Store() Storer { return s.store }

// Config returns a copy of the substrate's configuration.
func (s *Substrate) Config() Config { return s.config }

// SetPool sets the worker pool (called by the engine wiring layer).
func (s *Substrate) SetPool(p poolRunner) { s.pool = p }

// SetHooks sets the lifecycle hook emitter (called by the engine wiring layer).
func (s *Substrate) SetHooks(h hookEmitter) { s.hooks = h }

// Start begins job processing.
func (s *Substrate) Start(ctx context.Context) error {
	if s.pool == nil {
		return ErrNoStore
	}
	if err := s.pool.Start(ctx); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Stop gracefully shuts down the substrate.
func (s *Substrate) Stop(ctx context.Context) error {
	if s.pool != nil && s.started {
		if err := s.pool.Stop(ctx); err != nil {
			s.logger.Error("worker pool stop error", "error", err)
		}
	}
	if s.hooks != nil {
		s.hooks.EmitShutdown(ctx)
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// WithConcurrency sets the maximum number of concurrent job processors.
func WithConcurrency(n int) Option {
	return func(s *Substrate) error {
		s.config.Concurrency = n
		return nil
	}
}

// WithQueues sets the queues the substrate will poll.
func WithQueues(queues []string) Option {
	return func(s *Substrate) error {
		s.config.Queues = queues
		return nil
	}
}

// WithConfig replaces the whole processing configuration.
func WithConfig(cfg Config) Option {
	return func(s *Substrate) error {
		s.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger for the substrate.
func WithLogger(l *slog.Logger) Option {
	return func(s *Substrate) error {
		s.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the substrate.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(st Storer) Option {
	return func(s *Substrate) error {
		s.store = st
		return nil
	}
}
