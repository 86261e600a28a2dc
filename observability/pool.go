package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/keelhq/keel/pool"
)

// Compile-time interface check.
var _ pool.Metrics = (*PoolMetrics)(nil)

// PoolMetrics exports pool events as OTel instruments, one series per
// provider: acquisition/timeout/eviction counters plus active and idle
// size gauges.
type PoolMetrics struct {
	acquisitions metric.Int64Counter
	timeouts     metric.Int64Counter
	evictions    metric.Int64Counter
	active       metric.Int64Gauge
	idle         metric.Int64Gauge
}

// NewPoolMetrics creates a PoolMetrics using the global OTel
// MeterProvider.
func NewPoolMetrics() *PoolMetrics {
	return NewPoolMetricsWithMeter(otel.Meter(meterName))
}

// NewPoolMetricsWithMeter creates a PoolMetrics with the provided meter.
func NewPoolMetricsWithMeter(meter metric.Meter) *PoolMetrics {
	m := &PoolMetrics{}
	m.acquisitions, _ = meter.Int64Counter("keel.pool.acquisitions",
		metric.WithDescription("Resources handed out by the pool"))
	m.timeouts, _ = meter.Int64Counter("keel.pool.timeouts",
		metric.WithDescription("Acquire calls that timed out waiting for capacity"))
	m.evictions, _ = meter.Int64Counter("keel.pool.evictions",
		metric.WithDescription("Idle resources evicted"))
	m.active, _ = meter.Int64Gauge("keel.pool.active",
		metric.WithDescription("Resources currently leased"))
	m.idle, _ = meter.Int64Gauge("keel.pool.idle",
		metric.WithDescription("Resources currently idle"))
	return m
}

func providerAttr(provider string) attribute.KeyValue {
	return attribute.String("provider", provider)
}

// PoolAcquired implements pool.Metrics.
func (m *PoolMetrics) PoolAcquired(provider string) {
	m.acquisitions.Add(context.Background(), 1,
		metric.WithAttributes(providerAttr(provider)))
}

// PoolTimedOut implements pool.Metrics.
func (m *PoolMetrics) PoolTimedOut(provider string) {
	m.timeouts.Add(context.Background(), 1,
		metric.WithAttributes(providerAttr(provider)))
}

// PoolEvicted implements pool.Metrics.
func (m *PoolMetrics) PoolEvicted(provider string, count int) {
	m.evictions.Add(context.Background(), int64(count),
		metric.WithAttributes(providerAttr(provider)))
}

// PoolSize implements pool.Metrics.
func (m *PoolMetrics) PoolSize(provider string, active, idle int) {
	attrs := metric.WithAttributes(providerAttr(provider))
	m.active.Record(context.Background(), int64(active), attrs)
	m.idle.Record(context.Background(), int64(idle), attrs)
}
