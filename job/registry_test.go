package job_test

import (
	"context"
	"testing"
	"time"

	"github.com/keelhq/keel/job"
)

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func TestRegisterDefinition_UnmarshalsTypedPayload(t *testing.T) {
	r := job.NewRegistry()

	var got emailPayload
	def := job.NewDefinition("send-email", func(_ context.Context, p emailPayload) error {
		got = p
		return nil
	})
	job.RegisterDefinition(r, def)

	h, ok := r.Get("send-email")
	if !ok {
		t.Fatal("handler not found after registration")
	}

	err := h(context.Background(), []byte(`{"to":"alice@example.com","subject":"hi"}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got.To != "alice@example.com" || got.Subject != "hi" {
		t.Errorf("payload = %+v, want decoded fields", got)
	}
}

func TestRegisterDefinition_EmptyPayloadSkipsUnmarshal(t *testing.T) {
	r := job.NewRegistry()

	called := false
	def := job.NewDefinition("tick", func(_ context.Context, _ struct{}) error {
		called = true
		return nil
	})
	job.RegisterDefinition(r, def)

	h, _ := r.Get("tick")
	if err := h(context.Background(), nil); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !called {
		t.Error("handler was not invoked for empty payload")
	}
}

func TestRegistry_Get_Unknown(t *testing.T) {
	r := job.NewRegistry()
	if _, ok := r.Get("nope"); ok {
		t.Error("Get returned a handler for an unregistered name")
	}
}

func TestRegistry_InvalidPayloadReturnsError(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("strict", func(_ context.Context, _ emailPayload) error {
		return nil
	}))

	h, _ := r.Get("strict")
	if err := h(context.Background(), []byte(`{not json`)); err == nil {
		t.Error("expected unmarshal error for malformed payload")
	}
}

func TestRegistry_DefaultsFor(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("heavy", func(_ context.Context, _ struct{}) error {
		return nil
	}, job.WithMaxRetries(7), job.WithQueue("bulk"), job.WithTimeout(time.Minute)))

	opts := r.DefaultsFor("heavy")
	if opts.MaxRetries != 7 {
		t.Errorf("MaxRetries = %d, want 7", opts.MaxRetries)
	}
	if opts.Queue != "bulk" {
		t.Errorf("Queue = %q, want %q", opts.Queue, "bulk")
	}
	if opts.Timeout != time.Minute {
		t.Errorf("Timeout = %v, want 1m", opts.Timeout)
	}

	// Unknown names fall back to the package defaults.
	fallback := r.DefaultsFor("unknown")
	if fallback.Queue != "default" || fallback.MaxRetries != 3 {
		t.Errorf("fallback defaults = %+v", fallback)
	}
}

func TestRegistry_Names(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("a", func(_ context.Context, _ struct{}) error { return nil }))
	job.RegisterDefinition(r, job.NewDefinition("b", func(_ context.Context, _ struct{}) error { return nil }))

	names := r.Names()
	if len(names) != 2 {
		t.Fatalf("Names() len = %d, want 2", len(names))
	}
}
