package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrOpen is returned when the circuit is open and the call was
	// rejected without invoking the wrapped function.
	ErrOpen = errors.New("breaker: circuit open")

	// ErrTimeout is returned when the wrapped call exceeded the per-call
	// deadline. The underlying call may still complete asynchronously.
	ErrTimeout = errors.New("breaker: call timed out")
)

// State is the circuit state.
type State int

const (
	// Closed means calls pass through normally.
	Closed State = iota
	// Open means calls fail fast without invoking the wrapped function.
	Open
	// HalfOpen means a limited number of trial calls probe recovery.
	HalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config holds the thresholds and timing for a Breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures in the closed
	// state that opens the circuit.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes in the
	// half-open state that closes the circuit.
	SuccessThreshold int

	// Timeout is the per-call deadline. Zero disables the deadline.
	Timeout time.Duration

	// ResetTimeout is how long the circuit stays open before the next call
	// is allowed to probe recovery.
	ResetTimeout time.Duration
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          10 * time.Second,
		ResetTimeout:     30 * time.Second,
	}
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(b *Breaker) { b.cfg = cfg }
}

// WithFailureThreshold sets the consecutive-failure count that opens the circuit.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) { b.cfg.FailureThreshold = n }
}

// WithSuccessThreshold sets the consecutive-success count that closes a
// half-open circuit.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) { b.cfg.SuccessThreshold = n }
}

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(b *Breaker) { b.cfg.Timeout = d }
}

// WithResetTimeout sets the open-to-half-open cooldown.
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) { b.cfg.ResetTimeout = d }
}

// WithClock injects a clock. Intended for tests.
func WithClock(c Clock) Option {
	return func(b *Breaker) { b.clock = c }
}

// WithLogger sets the structured logger for state transitions.
func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

// OnStateChange registers a hook invoked after every state transition.
// The hook runs outside the breaker's lock and must not call back into
// the breaker.
func OnStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

// Breaker is a named circuit breaker. It is safe for concurrent use.
//
// State is mutated only by the breaker's own success/failure accounting;
// external code observes it through State and Counts.
type Breaker struct {
	name   string
	cfg    Config
	clock  Clock
	logger *slog.Logger

	onStateChange func(name string, from, to State)

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	probing         bool
}

// New creates a Breaker with the given name. The name identifies the
// downstream dependency the breaker protects (e.g. "github-api").
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:   name,
		cfg:    DefaultConfig(),
		clock:  systemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }

// State returns the current circuit state. An open circuit whose cooldown
// has elapsed reports HalfOpen, matching what the next call would see.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.cooldownElapsed() {
		return HalfOpen
	}
	return b.state
}

// Counts returns the current consecutive failure and success counters.
func (b *Breaker) Counts() (failures, successes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount, b.successCount
}

// Reset forces the breaker back to the closed state with zeroed counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = Closed
	b.failureCount = 0
	b.successCount = 0
	b.probing = false
	b.mu.Unlock()

	if from != Closed {
		b.notify(from, Closed)
	}
}

// Do executes fn under the breaker. If the circuit is open and the
// cooldown has not elapsed, fn is never invoked and ErrOpen is returned.
// Otherwise fn runs under the configured per-call deadline; exceeding it
// counts as a failure and returns ErrTimeout.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	release, err := b.allow()
	if err != nil {
		return err
	}

	callErr := b.call(ctx, fn)
	release(callErr == nil)
	return callErr
}

// Run executes fn under the breaker and returns its typed result.
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Run[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := b.Do(ctx, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// allow decides whether a call may proceed and returns the completion
// callback that records the outcome.
func (b *Breaker) allow() (func(success bool), error) {
	b.mu.Lock()

	switch b.state {
	case Open:
		if !b.cooldownElapsed() {
			b.mu.Unlock()
			return nil, ErrOpen
		}
		b.transitionLocked(HalfOpen)
		fallthrough
	case HalfOpen:
		// Single trial window: one probe in flight at a time.
		if b.probing {
			b.mu.Unlock()
			return nil, ErrOpen
		}
		b.probing = true
	case Closed:
		// Pass through.
	}

	b.mu.Unlock()
	return b.record, nil
}

// call runs fn under the per-call deadline. On deadline expiry the logical
// wait is cancelled; the goroutine running fn is abandoned and its result
// discarded.
func (b *Breaker) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if b.cfg.Timeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- fn(callCtx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, b.cfg.Timeout)
		}
		return callCtx.Err()
	}
}

// record applies the call outcome to the state machine.
func (b *Breaker) record(success bool) {
	b.mu.Lock()
	from := b.state
	b.probing = false

	if success {
		b.onSuccessLocked()
	} else {
		b.onFailureLocked()
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) onSuccessLocked() {
	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.transitionLocked(Closed)
		}
	case Open:
		// A call admitted before the circuit opened; ignore.
	}
}

func (b *Breaker) onFailureLocked() {
	b.lastFailureTime = b.clock.Now()

	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transitionLocked(Open)
		}
	case HalfOpen:
		// Single strike: any failure while probing reopens immediately.
		b.transitionLocked(Open)
	case Open:
		// Already open; refresh the cooldown via lastFailureTime above.
	}
}

// transitionLocked moves to the target state and resets counters.
// Callers must hold b.mu.
func (b *Breaker) transitionLocked(to State) {
	b.state = to
	switch to {
	case Closed:
		b.failureCount = 0
		b.successCount = 0
	case Open:
		b.successCount = 0
	case HalfOpen:
		b.successCount = 0
	}
}

func (b *Breaker) cooldownElapsed() bool {
	return b.clock.Now().Sub(b.lastFailureTime) >= b.cfg.ResetTimeout
}

func (b *Breaker) notify(from, to State) {
	b.logger.Info("circuit state change",
		slog.String("breaker", b.name),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

// IsOpen reports whether err is the fail-fast rejection of an open circuit.
func IsOpen(err error) bool {
	return errors.Is(err, ErrOpen)
}

// IsTimeout reports whether err is a per-call deadline failure.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
