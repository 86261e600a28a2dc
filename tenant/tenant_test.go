package tenant_test

import (
	"context"
	"testing"

	"github.com/keelhq/keel/tenant"
)

func TestCapture_EmptyContext(t *testing.T) {
	tenantID, provider := tenant.Capture(context.Background())
	if tenantID != "" || provider != "" {
		t.Errorf("Capture on empty context = (%q, %q), want empty", tenantID, provider)
	}
}

func TestRestore_ThenCapture(t *testing.T) {
	ctx := tenant.Restore(context.Background(), "org_123", "slack")

	tenantID, provider := tenant.Capture(ctx)
	if tenantID != "org_123" {
		t.Errorf("tenantID = %q, want %q", tenantID, "org_123")
	}
	if provider != "slack" {
		t.Errorf("provider = %q, want %q", provider, "slack")
	}
}

func TestRestore_NoOpWhenEmpty(t *testing.T) {
	ctx := context.Background()
	if got := tenant.Restore(ctx, "", ""); got != ctx {
		t.Error("Restore with empty identity should return the context unchanged")
	}
}

func TestFromContext_Presence(t *testing.T) {
	if _, ok := tenant.FromContext(context.Background()); ok {
		t.Error("FromContext on empty context reported a scope")
	}

	ctx := tenant.WithScope(context.Background(), tenant.Scope{TenantID: "org_a"})
	s, ok := tenant.FromContext(ctx)
	if !ok {
		t.Fatal("FromContext did not find attached scope")
	}
	if s.TenantID != "org_a" {
		t.Errorf("TenantID = %q, want %q", s.TenantID, "org_a")
	}
}
