package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/keelhq/keel/breaker"
	"github.com/keelhq/keel/ext"
	"github.com/keelhq/keel/id"
	"github.com/keelhq/keel/job"
)

// meterName is the instrumentation scope name for keel observability.
const meterName = "github.com/keelhq/keel/observability"

// Compile-time interface checks.
var (
	_ ext.Extension          = (*MetricsExtension)(nil)
	_ ext.JobEnqueued        = (*MetricsExtension)(nil)
	_ ext.JobCompleted       = (*MetricsExtension)(nil)
	_ ext.JobFailed          = (*MetricsExtension)(nil)
	_ ext.JobRetrying        = (*MetricsExtension)(nil)
	_ ext.JobDLQ             = (*MetricsExtension)(nil)
	_ ext.JobStalled         = (*MetricsExtension)(nil)
	_ ext.BreakerStateChange = (*MetricsExtension)(nil)
	_ ext.CronFired          = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via OTel.
// Register it as an extension to track enqueue rates, completion counts,
// failure rates, retries, DLQ entries, stalled jobs, breaker state, and
// cron fires.
//
// Breaker state is exported as a gauge per breaker name: 0 closed,
// 1 open, 2 half-open.
type MetricsExtension struct {
	jobEnqueued  metric.Int64Counter
	jobCompleted metric.Int64Counter
	jobFailed    metric.Int64Counter
	jobRetried   metric.Int64Counter
	jobDLQ       metric.Int64Counter
	jobStalled   metric.Int64Counter
	breakerState metric.Int64Gauge
	cronFired    metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. Without a configured provider the instruments are
// noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Use this variant to inject a test MeterProvider.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	// The OTel API guarantees noop instruments on error, so errors are
	// safe to discard here.
	m.jobEnqueued, _ = meter.Int64Counter("keel.job.enqueued",
		metric.WithDescription("Jobs accepted by the broker"))
	m.jobCompleted, _ = meter.Int64Counter("keel.job.completed",
		metric.WithDescription("Jobs that finished successfully"))
	m.jobFailed, _ = meter.Int64Counter("keel.job.failed",
		metric.WithDescription("Jobs that failed terminally"))
	m.jobRetried, _ = meter.Int64Counter("keel.job.retried",
		metric.WithDescription("Jobs scheduled for retry"))
	m.jobDLQ, _ = meter.Int64Counter("keel.job.dlq",
		metric.WithDescription("Jobs routed to the dead letter queue"))
	m.jobStalled, _ = meter.Int64Counter("keel.job.stalled",
		metric.WithDescription("Jobs requeued after a lease expired"))
	m.breakerState, _ = meter.Int64Gauge("keel.breaker.state",
		metric.WithDescription("Circuit breaker state: 0 closed, 1 open, 2 half-open"))
	m.cronFired, _ = meter.Int64Counter("keel.cron.fired",
		metric.WithDescription("Cron entries fired"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func queueAttrs(j *job.Job) metric.AddOption {
	return metric.WithAttributes(attribute.String("queue", j.Queue))
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.jobEnqueued.Add(ctx, 1, queueAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.jobCompleted.Add(ctx, 1, queueAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.jobFailed.Add(ctx, 1, queueAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.jobRetried.Add(ctx, 1, queueAttrs(j))
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(ctx context.Context, j *job.Job, _ error) error {
	m.jobDLQ.Add(ctx, 1, queueAttrs(j))
	return nil
}

// OnJobStalled implements ext.JobStalled.
func (m *MetricsExtension) OnJobStalled(ctx context.Context, j *job.Job) error {
	m.jobStalled.Add(ctx, 1, queueAttrs(j))
	return nil
}

// ── Fault isolation hooks ───────────────────────────

// OnBreakerStateChange implements ext.BreakerStateChange.
func (m *MetricsExtension) OnBreakerStateChange(ctx context.Context, name string, _, to breaker.State) error {
	m.breakerState.Record(ctx, int64(to),
		metric.WithAttributes(attribute.String("breaker", name)))
	return nil
}

// ── Cron lifecycle hooks ────────────────────────────

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string, _ id.JobID) error {
	m.cronFired.Add(ctx, 1,
		metric.WithAttributes(attribute.String("cron", entryName)))
	return nil
}
