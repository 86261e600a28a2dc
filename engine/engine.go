package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/keelhq/keel"
	"github.com/keelhq/keel/breaker"
	"github.com/keelhq/keel/cluster"
	"github.com/keelhq/keel/cron"
	"github.com/keelhq/keel/dlq"
	"github.com/keelhq/keel/ext"
	"github.com/keelhq/keel/id"
	"github.com/keelhq/keel/job"
	mw "github.com/keelhq/keel/middleware"
	"github.com/keelhq/keel/observability"
	"github.com/keelhq/keel/queue"
	"github.com/keelhq/keel/tenant"
	"github.com/keelhq/keel/worker"
)

// Engine wraps a Substrate with typed subsystem access.
// Use Build() to create one from a Substrate.
type Engine struct {
	s          *keel.Substrate
	extensions *ext.Registry
	registry   *job.Registry
	jobStore   job.Store
	dlqService *dlq.Service
	breakers   *breaker.Registry
	pool       *worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger

	// Cron subsystem.
	cronStore    cron.Store
	clusterStore cluster.Store
	scheduler    *cron.Scheduler

	// Queue subsystem.
	queueConfigs []queue.Config
	tenantLimits []queue.TenantLimit
	queues       *queue.Manager

	// Queue depth gauge, closed on Stop.
	depthGauge *observability.QueueDepthGauge

	breakerOpts []breaker.Option

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithQueueConfig registers per-queue rate limiting, concurrency caps, and
// retry policies. Queues not listed get queue.DefaultPolicy() and no
// limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithTenantLimit caps concurrent jobs for a single tenant within a queue.
func WithTenantLimit(limits ...queue.TenantLimit) Option {
	return func(eng *Engine) {
		eng.tenantLimits = append(eng.tenantLimits, limits...)
	}
}

// WithBreakerDefaults sets default options applied to every circuit
// breaker the engine creates for job providers.
func WithBreakerDefaults(opts ...breaker.Option) Option {
	return func(eng *Engine) {
		eng.breakerOpts = append(eng.breakerOpts, opts...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the
// global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, the metrics middleware and the observability extension use
// this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Substrate.
// The Substrate's store must implement the job, dlq, cron, and cluster
// store interfaces; any store.Store backend qualifies.
func Build(s *keel.Substrate, opts ...Option) (*Engine, error) {
	logger := s.Logger()
	store := s.Store()

	if store == nil {
		return nil, keel.ErrNoStore
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("keel: store does not implement job.Store")
	}
	ds, ok := store.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("keel: store does not implement dlq.Store")
	}
	cs, ok := store.(cron.Store)
	if !ok {
		return nil, fmt.Errorf("keel: store does not implement cron.Store")
	}
	cls, ok := store.(cluster.Store)
	if !ok {
		return nil, fmt.Errorf("keel: store does not implement cluster.Store")
	}

	eng := &Engine{
		s:          s,
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		jobStore:   js,
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	eng.queues = queue.NewManager(eng.queueConfigs...)
	for _, limit := range eng.tenantLimits {
		eng.queues.SetTenantLimit(limit)
	}

	eng.dlqService = dlq.NewService(ds, js)

	// Breaker state changes flow to extensions so the observability
	// extension can gauge them.
	breakerOpts := append([]breaker.Option{}, eng.breakerOpts...)
	breakerOpts = append(breakerOpts, breaker.OnStateChange(func(name string, from, to breaker.State) {
		eng.extensions.EmitBreakerStateChange(context.Background(), name, from, to)
	}))
	eng.breakers = breaker.NewRegistry(
		breaker.WithDefaults(breakerOpts...),
		breaker.WithRegistryLogger(logger),
	)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/keelhq/keel")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/keelhq/keel")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/keelhq/keel/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	config := s.Config()

	// Queue depth is observed straight from the store (best-effort).
	var gaugeErr error
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/keelhq/keel/observability")
		eng.depthGauge, gaugeErr = observability.NewQueueDepthGaugeWithMeter(meter, js, config.Queues...)
	} else {
		eng.depthGauge, gaugeErr = observability.NewQueueDepthGauge(js, config.Queues...)
	}
	if gaugeErr != nil {
		logger.Warn("queue depth gauge unavailable", slog.String("error", gaugeErr.Error()))
	}

	// Default middleware stack, outermost first:
	// recover → tracing → metrics → logging → tenant → breaker → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Tenant(),
		mw.Breaker(eng.breakers),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(
		eng.registry,
		eng.extensions,
		eng.jobStore,
		eng.dlqService,
		eng.queues,
		logger,
		allMws...,
	)

	eng.pool = worker.NewPool(
		eng.jobStore,
		executor,
		eng.extensions,
		logger,
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPoolQueues(config.Queues),
		worker.WithPollInterval(config.PollInterval),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithStaleJobThreshold(config.StaleJobThreshold),
		worker.WithAdmitter(eng.queues),
	)

	// Wire back into the Substrate.
	s.SetPool(eng.pool)
	s.SetHooks(eng.extensions)

	// Create the cron scheduler.
	eng.cronStore = cs
	eng.clusterStore = cls
	enqueueFunc := func(ctx context.Context, name string, payload []byte, opts ...job.Option) (id.JobID, error) {
		j, err := eng.EnqueueRaw(ctx, name, payload, opts...)
		if err != nil {
			return id.JobID{}, err
		}
		return j.ID, nil
	}
	eng.scheduler = cron.NewScheduler(cs, cls, enqueueFunc, eng.extensions, eng.pool.WorkerID(),
		cron.WithLogger(logger),
	)

	// Register this process in the cluster registry (best-effort).
	w := cluster.NewWorker(config.Queues, config.Concurrency)
	w.ID = eng.pool.WorkerID()
	if regErr := cls.RegisterWorker(context.Background(), w); regErr != nil {
		logger.Warn("failed to register worker in cluster store", slog.String("error", regErr.Error()))
	}

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue creates and enqueues a job with a typed payload.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}

	return eng.EnqueueRaw(ctx, name, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload.
//
// Option precedence for the retry budget, lowest to highest: queue policy,
// definition defaults, call-site options. An idempotency key that is
// already held makes the enqueue a no-op returning the existing job.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	defaults := eng.registry.DefaultsFor(name)
	final := defaults
	for _, opt := range opts {
		opt(&final)
	}

	maxRetries := eng.queues.Policy(final.Queue).MaxRetries
	if defaults.MaxRetries != job.DefaultOptions().MaxRetries {
		maxRetries = defaults.MaxRetries
	}
	if final.MaxRetries != defaults.MaxRetries {
		maxRetries = final.MaxRetries
	}

	tenantID, provider := tenant.Capture(ctx)

	j := &job.Job{
		Entity:         keel.NewEntity(),
		ID:             id.NewJobID(),
		Name:           name,
		Queue:          final.Queue,
		Payload:        payload,
		State:          job.StatePending,
		Priority:       final.Priority,
		MaxRetries:     maxRetries,
		IdempotencyKey: final.IdempotencyKey,
		TenantID:       tenantID,
		Provider:       provider,
		RunAt:          time.Now().UTC(),
		Timeout:        final.Timeout,
	}
	if !final.RunAt.IsZero() {
		j.RunAt = final.RunAt
	}

	if err := eng.jobStore.EnqueueJob(ctx, j); err != nil {
		if errors.Is(err, keel.ErrJobAlreadyExists) && final.IdempotencyKey != "" {
			existing, getErr := eng.jobStore.GetJobByIdempotencyKey(ctx, final.IdempotencyKey)
			if getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// Start begins job processing by starting the cron scheduler and the
// worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	// Start the scheduler before the pool so leadership can be acquired.
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}

	return eng.s.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	// Deregister this worker from the cluster.
	if err := eng.clusterStore.DeregisterWorker(ctx, eng.pool.WorkerID()); err != nil {
		eng.logger.Warn("failed to deregister worker", slog.String("error", err.Error()))
	}

	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
	}

	if eng.depthGauge != nil {
		if err := eng.depthGauge.Close(); err != nil {
			eng.logger.Warn("queue depth gauge close error", slog.String("error", err.Error()))
		}
	}

	return eng.s.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Substrate returns the underlying Substrate.
func (eng *Engine) Substrate() *keel.Substrate { return eng.s }

// DLQ returns the engine's dead letter queue service for replay and
// inspection.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlqService }

// Breakers returns the circuit breaker registry.
func (eng *Engine) Breakers() *breaker.Registry { return eng.breakers }

// Queues returns the queue manager.
func (eng *Engine) Queues() *queue.Manager { return eng.queues }

// CronStore returns the cron store.
func (eng *Engine) CronStore() cron.Store { return eng.cronStore }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// WorkerID returns this process's cluster worker identity.
func (eng *Engine) WorkerID() id.WorkerID { return eng.pool.WorkerID() }

// RegisterCron registers a typed cron definition with the engine.
// It validates the schedule expression, computes the initial NextRunAt,
// and persists the entry. Re-registration of the same name is idempotent.
// The tenant scope on ctx, if any, is stamped onto the entry and restored
// for every firing.
func RegisterCron[T any](ctx context.Context, eng *Engine, def *cron.Definition[T]) error {
	sched, err := cron.ParseSchedule(def.Schedule)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", def.Schedule, err)
	}

	payload, err := json.Marshal(def.Payload)
	if err != nil {
		return fmt.Errorf("marshal cron payload: %w", err)
	}

	now := time.Now().UTC()
	next := sched.Next(now)
	tenantID, provider := tenant.Capture(ctx)

	entry := &cron.Entry{
		Entity:    keel.NewEntity(),
		ID:        id.NewCronID(),
		Name:      def.Name,
		Schedule:  def.Schedule,
		JobName:   def.JobName,
		Queue:     def.Queue,
		Payload:   payload,
		TenantID:  tenantID,
		Provider:  provider,
		NextRunAt: &next,
		Enabled:   true,
	}

	if err := eng.cronStore.RegisterCron(ctx, entry); err != nil {
		// Idempotent: ignore duplicate cron entries.
		if errors.Is(err, keel.ErrDuplicateCron) {
			return nil
		}
		return fmt.Errorf("register cron %q: %w", def.Name, err)
	}

	eng.logger.Info("cron registered",
		slog.String("name", def.Name),
		slog.String("schedule", def.Schedule),
		slog.String("job_name", def.JobName),
		slog.Time("next_run_at", next),
	)

	return nil
}
