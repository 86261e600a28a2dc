package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/keelhq/keel/id"
	"github.com/keelhq/keel/job"
	mw "github.com/keelhq/keel/middleware"
)

// recordSpan runs the tracing middleware once and returns the recorded
// span.
func recordSpan(t *testing.T, j *job.Job, handlerErr error) tracetest.SpanStub {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	m := mw.TracingWithTracer(tp.Tracer("test"))

	_ = m(context.Background(), j, func(_ context.Context) error {
		return handlerErr
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	return spans[0]
}

func spanAttrs(s tracetest.SpanStub) map[string]string {
	out := make(map[string]string)
	for _, kv := range s.Attributes {
		if kv.Value.Type() == attribute.STRING {
			out[string(kv.Key)] = kv.Value.AsString()
		}
	}
	return out
}

func TestTracingSpan(t *testing.T) {
	j := &job.Job{
		ID:       id.NewJobID(),
		Name:     "sync-repos",
		Queue:    "sync",
		TenantID: "org_1",
		Provider: "github",
	}
	span := recordSpan(t, j, nil)

	if span.Name != "keel.job.execute" {
		t.Errorf("span name = %q, want keel.job.execute", span.Name)
	}
	if span.Status.Code != codes.Ok {
		t.Errorf("span status = %v, want Ok", span.Status.Code)
	}

	attrs := spanAttrs(span)
	want := map[string]string{
		"keel.job.id":    j.ID.String(),
		"keel.job.name":  "sync-repos",
		"keel.queue":     "sync",
		"keel.tenant_id": "org_1",
		"keel.provider":  "github",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attribute %s = %q, want %q", k, attrs[k], v)
		}
	}
}

func TestTracingErrorStatus(t *testing.T) {
	j := &job.Job{ID: id.NewJobID(), Name: "sync-repos", Queue: "sync"}
	span := recordSpan(t, j, errors.New("upstream unavailable"))

	if span.Status.Code != codes.Error {
		t.Fatalf("span status = %v, want Error", span.Status.Code)
	}
	if span.Status.Description != "upstream unavailable" {
		t.Errorf("status description = %q, want upstream unavailable", span.Status.Description)
	}
	if len(span.Events) == 0 {
		t.Error("expected a recorded error event on the span")
	}
}

func TestTracingNoopWithoutProvider(t *testing.T) {
	m := mw.Tracing()
	j := &job.Job{ID: id.NewJobID(), Name: "noop"}

	called := false
	err := m(context.Background(), j, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}
