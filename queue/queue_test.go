package queue

import (
	"testing"
	"time"

	"github.com/keelhq/keel/backoff"
)

// ---------------------------------------------------------------------------
// Manager basics
// ---------------------------------------------------------------------------

func TestNewManager_Empty(t *testing.T) {
	m := NewManager()
	// No configs; Admit should always succeed.
	release, ok := m.Admit("any-queue", "")
	if !ok {
		t.Fatal("expected Admit to succeed for unconfigured queue")
	}
	release()
}

func TestNewManager_WithConfig(t *testing.T) {
	m := NewManager(Config{
		Name:           "emails",
		MaxConcurrency: 2,
	})
	if m.ActiveCount("emails") != 0 {
		t.Fatal("expected 0 active jobs initially")
	}
}

// ---------------------------------------------------------------------------
// Policy
// ---------------------------------------------------------------------------

func TestManager_Policy_Defaults(t *testing.T) {
	m := NewManager()
	p := m.Policy("anything")
	if p.MaxRetries != 3 {
		t.Fatalf("expected default MaxRetries 3, got %d", p.MaxRetries)
	}
	if p.Backoff != backoff.KindJitter {
		t.Fatalf("expected default jitter backoff, got %q", p.Backoff)
	}
}

func TestManager_Policy_Configured(t *testing.T) {
	m := NewManager(Config{
		Name: "webhooks",
		Policy: &Policy{
			MaxRetries:   5,
			Backoff:      backoff.KindFixed,
			BackoffDelay: 2 * time.Second,
		},
	})

	p := m.Policy("webhooks")
	if p.MaxRetries != 5 {
		t.Fatalf("expected MaxRetries 5, got %d", p.MaxRetries)
	}
	if _, ok := p.Strategy().(*backoff.Fixed); !ok {
		t.Fatalf("expected *backoff.Fixed strategy, got %T", p.Strategy())
	}
}

func TestManager_Policy_NilPolicyFallsBack(t *testing.T) {
	m := NewManager(Config{Name: "webhooks", MaxConcurrency: 2})
	if got := m.Policy("webhooks").MaxRetries; got != 3 {
		t.Fatalf("expected default MaxRetries for nil policy, got %d", got)
	}
}

func TestManager_Policy_ExplicitNoRetry(t *testing.T) {
	m := NewManager(Config{
		Name:   "one-shot",
		Policy: &Policy{MaxRetries: 0, Backoff: backoff.KindFixed},
	})
	if got := m.Policy("one-shot").MaxRetries; got != 0 {
		t.Fatalf("expected explicit MaxRetries 0 to be honored, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Concurrency limits
// ---------------------------------------------------------------------------

func TestManager_MaxConcurrency(t *testing.T) {
	m := NewManager(Config{
		Name:           "emails",
		MaxConcurrency: 2,
	})

	r1, ok := m.Admit("emails", "")
	if !ok {
		t.Fatal("first Admit should succeed")
	}
	if _, ok := m.Admit("emails", ""); !ok {
		t.Fatal("second Admit should succeed")
	}
	// Third should be blocked.
	if _, ok := m.Admit("emails", ""); ok {
		t.Fatal("third Admit should fail (max concurrency 2)")
	}

	// Release one slot.
	r1()
	if _, ok := m.Admit("emails", ""); !ok {
		t.Fatal("Admit should succeed after release")
	}
}

func TestManager_Release_Idempotent(t *testing.T) {
	m := NewManager(Config{
		Name:           "q",
		MaxConcurrency: 5,
	})

	release, ok := m.Admit("q", "")
	if !ok {
		t.Fatal("Admit should succeed")
	}
	release()
	release()
	if got := m.ActiveCount("q"); got != 0 {
		t.Fatalf("expected 0 active after double release, got %d", got)
	}
}

func TestManager_ActiveCount(t *testing.T) {
	m := NewManager(Config{
		Name:           "q",
		MaxConcurrency: 5,
	})

	releases := make([]func(), 0, 3)
	for i := range 3 {
		release, ok := m.Admit("q", "")
		if !ok {
			t.Fatalf("Admit %d should succeed", i)
		}
		releases = append(releases, release)
	}
	if m.ActiveCount("q") != 3 {
		t.Fatalf("expected 3 active, got %d", m.ActiveCount("q"))
	}

	releases[0]()
	releases[1]()
	if m.ActiveCount("q") != 1 {
		t.Fatalf("expected 1 active, got %d", m.ActiveCount("q"))
	}
}

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

func TestManager_RateLimit_Throttles(t *testing.T) {
	m := NewManager(Config{
		Name:      "limited",
		RateLimit: 1.0, // 1 per second
		RateBurst: 1,
	})

	// First should succeed (burst allows it).
	release, ok := m.Admit("limited", "")
	if !ok {
		t.Fatal("first Admit should succeed (within burst)")
	}
	release()

	// Immediately after, token bucket is empty.
	if _, ok := m.Admit("limited", ""); ok {
		t.Fatal("second Admit should fail (rate limited)")
	}

	// Wait for token refill.
	time.Sleep(1100 * time.Millisecond)
	if _, ok := m.Admit("limited", ""); !ok {
		t.Fatal("Admit should succeed after token refill")
	}
}

func TestManager_RateLimit_BurstAllows(t *testing.T) {
	m := NewManager(Config{
		Name:      "bursty",
		RateLimit: 10.0,
		RateBurst: 3,
	})

	// Three immediate admits should succeed (burst = 3).
	for i := range 3 {
		if _, ok := m.Admit("bursty", ""); !ok {
			t.Fatalf("Admit %d should succeed within burst", i)
		}
	}
	if _, ok := m.Admit("bursty", ""); ok {
		t.Fatal("fourth Admit should fail (burst exhausted)")
	}
}

func TestManager_ConcurrencyBlockDoesNotConsumeToken(t *testing.T) {
	m := NewManager(Config{
		Name:           "q",
		MaxConcurrency: 1,
		RateLimit:      1.0,
		RateBurst:      1,
	})

	release, ok := m.Admit("q", "")
	if !ok {
		t.Fatal("first Admit should succeed")
	}

	// Blocked on concurrency; the rate token must survive.
	if _, ok := m.Admit("q", ""); ok {
		t.Fatal("second Admit should fail (concurrency)")
	}

	release()
	// The burst token was spent on the first admit; refill is 1/s so this
	// still fails, proving the blocked attempt did not double-spend.
	if _, ok := m.Admit("q", ""); ok {
		t.Fatal("expected rate limit to gate after refill-free release")
	}
}

func TestManager_TenantBlockDoesNotConsumeQueueToken(t *testing.T) {
	m := NewManager(Config{
		Name:      "q",
		RateLimit: 0.1,
		RateBurst: 2,
	})
	m.SetTenantLimit(TenantLimit{
		Queue:          "q",
		TenantID:       "org-1",
		MaxConcurrency: 1,
	})

	if _, ok := m.Admit("q", "org-1"); !ok {
		t.Fatal("first Admit should succeed")
	}

	// Blocked by the tenant cap; the remaining queue token must survive.
	if _, ok := m.Admit("q", "org-1"); ok {
		t.Fatal("second tenant Admit should fail (tenant cap 1)")
	}

	if _, ok := m.Admit("q", "org-2"); !ok {
		t.Fatal("Admit for another tenant should use the surviving token")
	}
}

// ---------------------------------------------------------------------------
// SetConfig
// ---------------------------------------------------------------------------

func TestManager_SetConfig_PreservesActive(t *testing.T) {
	m := NewManager(Config{
		Name:           "q",
		MaxConcurrency: 5,
	})

	if _, ok := m.Admit("q", ""); !ok {
		t.Fatal("Admit should succeed")
	}
	if _, ok := m.Admit("q", ""); !ok {
		t.Fatal("Admit should succeed")
	}

	m.SetConfig(Config{Name: "q", MaxConcurrency: 2})
	if got := m.ActiveCount("q"); got != 2 {
		t.Fatalf("expected active count 2 after reconfigure, got %d", got)
	}
	// Already at the new cap.
	if _, ok := m.Admit("q", ""); ok {
		t.Fatal("Admit should fail at new cap")
	}
}

// ---------------------------------------------------------------------------
// Tenant limits
// ---------------------------------------------------------------------------

func TestManager_TenantLimit_Concurrency(t *testing.T) {
	m := NewManager(Config{Name: "q"})
	m.SetTenantLimit(TenantLimit{
		Queue:          "q",
		TenantID:       "org-1",
		MaxConcurrency: 1,
	})

	r1, ok := m.Admit("q", "org-1")
	if !ok {
		t.Fatal("first tenant Admit should succeed")
	}
	if _, ok := m.Admit("q", "org-1"); ok {
		t.Fatal("second tenant Admit should fail (tenant cap 1)")
	}

	// Other tenants are unaffected.
	if _, ok := m.Admit("q", "org-2"); !ok {
		t.Fatal("Admit for unlimited tenant should succeed")
	}

	r1()
	if _, ok := m.Admit("q", "org-1"); !ok {
		t.Fatal("tenant Admit should succeed after release")
	}
	if got := m.TenantActiveCount("q", "org-1"); got != 1 {
		t.Fatalf("expected tenant active 1, got %d", got)
	}
}

func TestManager_TenantLimit_RateLimit(t *testing.T) {
	m := NewManager(Config{Name: "q"})
	m.SetTenantLimit(TenantLimit{
		Queue:     "q",
		TenantID:  "org-1",
		RateLimit: 1.0,
		RateBurst: 1,
	})

	if _, ok := m.Admit("q", "org-1"); !ok {
		t.Fatal("first tenant Admit should succeed")
	}
	if _, ok := m.Admit("q", "org-1"); ok {
		t.Fatal("second tenant Admit should fail (tenant rate limit)")
	}
}
