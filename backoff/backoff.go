// Package backoff provides pluggable retry delay strategies for job
// execution. All strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Fixed
// ──────────────────────────────────────────────────

// Fixed always returns the same delay regardless of attempt number.
type Fixed struct {
	Interval time.Duration
}

// NewFixed creates a fixed backoff strategy.
func NewFixed(interval time.Duration) *Fixed {
	return &Fixed{Interval: interval}
}

// Delay returns the fixed interval.
func (f *Fixed) Delay(_ int) time.Duration {
	return f.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear increases the delay linearly with the attempt number.
// Delay = min(Initial * attempt, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	d := l.Initial * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
// This prevents thundering herd when many retries happen simultaneously.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Construction from configuration
// ──────────────────────────────────────────────────

// Kind names a backoff strategy in configuration.
type Kind string

const (
	KindFixed       Kind = "fixed"
	KindLinear      Kind = "linear"
	KindExponential Kind = "exponential"
	KindJitter      Kind = "jitter"
)

// FromKind builds a Strategy from a configured kind and base delay.
// Unknown kinds fall back to the default strategy. Exponential variants
// are capped at 1 minute.
func FromKind(kind Kind, delay time.Duration) Strategy {
	if delay <= 0 {
		delay = 1 * time.Second
	}
	switch kind {
	case KindFixed:
		return NewFixed(delay)
	case KindLinear:
		return NewLinear(delay, 1*time.Minute)
	case KindExponential:
		return NewExponential(delay, 1*time.Minute)
	case KindJitter:
		return NewExponentialWithJitter(delay, 1*time.Minute)
	default:
		return Default()
	}
}

// Default returns the default backoff used by the engine:
// ExponentialWithJitter with 1s initial and 1m max.
func Default() Strategy {
	return NewExponentialWithJitter(1*time.Second, 1*time.Minute)
}
