package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/keelhq/keel/job"
)

// depthStates are the states reported by the queue depth gauge.
var depthStates = []job.State{job.StatePending, job.StateRunning, job.StateRetrying}

// QueueDepthGauge observes per-queue backlog sizes via an asynchronous
// gauge. Each observation counts jobs in the pending, running and
// retrying states for every registered queue.
type QueueDepthGauge struct {
	store  job.Store
	queues []string
	reg    metric.Registration
}

// NewQueueDepthGauge registers a keel.queue.depth observable gauge over
// the given queues using the global OTel MeterProvider.
func NewQueueDepthGauge(store job.Store, queues ...string) (*QueueDepthGauge, error) {
	return NewQueueDepthGaugeWithMeter(otel.Meter(meterName), store, queues...)
}

// NewQueueDepthGaugeWithMeter registers the gauge with the provided
// meter.
func NewQueueDepthGaugeWithMeter(meter metric.Meter, store job.Store, queues ...string) (*QueueDepthGauge, error) {
	g := &QueueDepthGauge{store: store, queues: queues}

	depth, err := meter.Int64ObservableGauge("keel.queue.depth",
		metric.WithDescription("Jobs per queue and state"))
	if err != nil {
		return nil, err
	}

	g.reg, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		for _, queue := range g.queues {
			for _, state := range depthStates {
				n, err := g.store.CountJobs(ctx, job.CountOpts{Queue: queue, State: state})
				if err != nil {
					return err
				}
				o.ObserveInt64(depth, n, metric.WithAttributes(
					attribute.String("queue", queue),
					attribute.String("state", string(state)),
				))
			}
		}
		return nil
	}, depth)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Close unregisters the gauge callback.
func (g *QueueDepthGauge) Close() error {
	return g.reg.Unregister()
}
