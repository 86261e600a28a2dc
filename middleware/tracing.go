package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keelhq/keel/job"
)

// tracerName is the instrumentation scope name for keel tracing.
const tracerName = "github.com/keelhq/keel"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: keel.job.id, keel.job.name, keel.queue,
// keel.retry_count, keel.tenant_id, keel.provider.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "keel.job.execute",
			trace.WithAttributes(
				attribute.String("keel.job.id", j.ID.String()),
				attribute.String("keel.job.name", j.Name),
				attribute.String("keel.queue", j.Queue),
				attribute.Int("keel.retry_count", j.RetryCount),
				attribute.String("keel.tenant_id", j.TenantID),
				attribute.String("keel.provider", j.Provider),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
