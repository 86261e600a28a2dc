package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/keelhq/keel/job"
)

// meterName is the instrumentation scope name for keel metrics.
const meterName = "github.com/keelhq/keel"

// Metrics returns middleware that records per-job execution metrics
// against the global OTel MeterProvider. Without a configured provider
// the instruments are noops and the middleware is a pass-through.
//
// Instruments:
//   - keel.job.duration (Float64Histogram): execution seconds
//   - keel.job.executions (Int64Counter): execution count
//
// Both carry job_name, queue, and status ("ok" or "error") attributes.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware bound to the given meter,
// so tests and multi-provider setups can inject their own.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instruments are created once here. The OTel API guarantees a noop
	// instrument on creation error, so the errors are ignorable.
	duration, _ := meter.Float64Histogram( //nolint:errcheck // noop fallback
		"keel.job.duration",
		metric.WithDescription("Duration of job execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter( //nolint:errcheck // noop fallback
		"keel.job.executions",
		metric.WithDescription("Total number of job executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)

		attrs := executionAttrs(j, err)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}

// executionAttrs builds the shared attribute set for both instruments.
func executionAttrs(j *job.Job, err error) metric.MeasurementOption {
	status := "ok"
	if err != nil {
		status = "error"
	}
	return metric.WithAttributes(
		attribute.String("job_name", j.Name),
		attribute.String("queue", j.Queue),
		attribute.String("status", status),
	)
}
