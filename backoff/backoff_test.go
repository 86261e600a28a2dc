package backoff_test

import (
	"testing"
	"time"

	"github.com/keelhq/keel/backoff"
)

func TestFixed_SameDelayEveryAttempt(t *testing.T) {
	s := backoff.NewFixed(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if d := s.Delay(attempt); d != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", attempt, d)
		}
	}
}

func TestLinear_GrowsAndCaps(t *testing.T) {
	s := backoff.NewLinear(2*time.Second, 7*time.Second)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 6 * time.Second},
		{4, 7 * time.Second}, // capped
		{100, 7 * time.Second},
	}
	for _, c := range cases {
		if d := s.Delay(c.attempt); d != c.want {
			t.Errorf("Delay(%d) = %v, want %v", c.attempt, d, c.want)
		}
	}
}

func TestExponential_DoublesAndCaps(t *testing.T) {
	s := backoff.NewExponential(1*time.Second, 10*time.Second)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
	}
	for _, c := range cases {
		if d := s.Delay(c.attempt); d != c.want {
			t.Errorf("Delay(%d) = %v, want %v", c.attempt, d, c.want)
		}
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	s := backoff.NewExponentialWithJitter(1*time.Second, 8*time.Second)

	for attempt := 1; attempt <= 6; attempt++ {
		for range 50 {
			d := s.Delay(attempt)
			if d < 0 {
				t.Fatalf("Delay(%d) = %v, negative", attempt, d)
			}
			if d > 8*time.Second {
				t.Fatalf("Delay(%d) = %v, exceeds cap", attempt, d)
			}
		}
	}
}

func TestFromKind(t *testing.T) {
	if _, ok := backoff.FromKind(backoff.KindFixed, time.Second).(*backoff.Fixed); !ok {
		t.Error("FromKind(fixed) did not return *Fixed")
	}
	if _, ok := backoff.FromKind(backoff.KindExponential, time.Second).(*backoff.Exponential); !ok {
		t.Error("FromKind(exponential) did not return *Exponential")
	}
	if _, ok := backoff.FromKind(backoff.KindLinear, time.Second).(*backoff.Linear); !ok {
		t.Error("FromKind(linear) did not return *Linear")
	}

	// Unknown kind falls back to the default.
	if s := backoff.FromKind("bogus", time.Second); s == nil {
		t.Error("FromKind(bogus) returned nil")
	}

	// Non-positive delay is normalized, not zero.
	s := backoff.FromKind(backoff.KindFixed, 0)
	if d := s.Delay(1); d <= 0 {
		t.Errorf("FromKind with zero delay produced Delay(1) = %v", d)
	}
}
