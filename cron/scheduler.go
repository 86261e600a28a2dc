package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/keelhq/keel/cluster"
	"github.com/keelhq/keel/id"
	"github.com/keelhq/keel/job"
	"github.com/keelhq/keel/tenant"
)

// EnqueueFunc is the callback the scheduler uses to hand fired entries
// to the queue. The engine provides the implementation; the indirection
// keeps this package free of an engine import.
type EnqueueFunc func(ctx context.Context, name string, payload []byte, opts ...job.Option) (id.JobID, error)

// Emitter receives cron lifecycle events. ext.Registry satisfies this
// via EmitCronFired.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName string, jobID id.JobID)
}

// cronParser accepts standard 5-field expressions plus descriptors like
// "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often due entries are evaluated.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLockTTL sets the TTL of the per-entry firing lock.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// WithLeaderTTL sets the TTL of the leadership lease.
func WithLeaderTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.leaderTTL = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler fires due cron entries on a tick loop. Only the cluster
// leader evaluates entries, so an entry fires at most once per tick
// across all instances.
type Scheduler struct {
	crons    Store
	cluster  cluster.Store
	enqueue  EnqueueFunc
	emitter  Emitter
	workerID id.WorkerID
	logger   *slog.Logger

	tickInterval time.Duration
	lockTTL      time.Duration
	leaderTTL    time.Duration

	schedMu sync.RWMutex
	scheds  map[string]cronlib.Schedule

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler owned by the given worker identity.
func NewScheduler(crons Store, clusterStore cluster.Store, enqueue EnqueueFunc, emitter Emitter, workerID id.WorkerID, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		crons:        crons,
		cluster:      clusterStore,
		enqueue:      enqueue,
		emitter:      emitter,
		workerID:     workerID,
		logger:       slog.Default(),
		tickInterval: time.Second,
		lockTTL:      30 * time.Second,
		leaderTTL:    15 * time.Second,
		scheds:       make(map[string]cronlib.Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the leadership and tick goroutines.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(2)
	go s.leadershipLoop()
	go s.tickLoop()
	s.logger.Info("cron scheduler started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop halts the scheduler and waits for in-flight ticks to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

// leadershipLoop keeps trying to hold or take the leadership lease at
// half-TTL cadence.
func (s *Scheduler) leadershipLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.leaderTTL / 2)
	defer ticker.Stop()

	s.ensureLeadership()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.ensureLeadership()
		}
	}
}

func (s *Scheduler) ensureLeadership() {
	ctx := context.Background()

	// Renewal is the common case once leadership is held.
	renewed, err := s.cluster.RenewLeadership(ctx, s.workerID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("leadership renew error", slog.String("error", err.Error()))
		return
	}
	if renewed {
		return
	}

	acquired, err := s.cluster.AcquireLeadership(ctx, s.workerID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("leadership acquire error", slog.String("error", err.Error()))
		return
	}
	if acquired {
		s.logger.Info("acquired cron leadership", slog.String("worker_id", s.workerID.String()))
	}
}

func (s *Scheduler) isLeader(ctx context.Context) bool {
	leader, err := s.cluster.GetLeader(ctx)
	if err != nil {
		s.logger.Warn("get leader error", slog.String("error", err.Error()))
		return false
	}
	return leader != nil && leader.ID.String() == s.workerID.String()
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	if !s.isLeader(ctx) {
		return
	}

	entries, err := s.crons.ListCrons(ctx)
	if err != nil {
		s.logger.Error("list crons error", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, entry := range entries {
		if entry.Due(now) {
			s.fire(ctx, entry, now)
		}
	}
}

// fire locks one entry, enqueues its job under the entry's tenant scope,
// and persists the run bookkeeping. The lock is always released before
// returning.
func (s *Scheduler) fire(ctx context.Context, entry *Entry, now time.Time) {
	locked, err := s.crons.AcquireCronLock(ctx, entry.ID, s.workerID, s.lockTTL)
	if err != nil {
		s.logger.Error("acquire cron lock error",
			slog.String("cron_id", entry.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if !locked {
		return
	}
	defer func() {
		if err := s.crons.ReleaseCronLock(ctx, entry.ID, s.workerID); err != nil {
			s.logger.Error("release cron lock error",
				slog.String("cron_id", entry.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}()

	fireCtx := tenant.WithScope(ctx, tenant.Scope{TenantID: entry.TenantID, Provider: entry.Provider})
	var opts []job.Option
	if entry.Queue != "" {
		opts = append(opts, job.WithQueue(entry.Queue))
	}
	jobID, err := s.enqueue(fireCtx, entry.JobName, entry.Payload, opts...)
	if err != nil {
		s.logger.Error("cron enqueue error",
			slog.String("cron_name", entry.Name),
			slog.String("job_name", entry.JobName),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.crons.UpdateCronLastRun(ctx, entry.ID, now); err != nil {
		s.logger.Error("update cron last run error",
			slog.String("cron_id", entry.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	s.advance(ctx, entry, now)

	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, entry.Name, jobID)
	}
	s.logger.Info("cron fired",
		slog.String("cron_name", entry.Name),
		slog.String("job_name", entry.JobName),
		slog.String("job_id", jobID.String()),
	)
}

// advance recomputes and persists the entry's NextRunAt.
func (s *Scheduler) advance(ctx context.Context, entry *Entry, now time.Time) {
	sched, err := s.schedule(entry.Schedule)
	if err != nil {
		s.logger.Error("parse cron schedule error",
			slog.String("cron_name", entry.Name),
			slog.String("schedule", entry.Schedule),
			slog.String("error", err.Error()),
		)
		return
	}
	next := sched.Next(now)
	entry.NextRunAt = &next
	if err := s.crons.UpdateCronEntry(ctx, entry); err != nil {
		s.logger.Error("update cron next run error",
			slog.String("cron_id", entry.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// schedule caches parsed cron expressions.
func (s *Scheduler) schedule(expr string) (cronlib.Schedule, error) {
	s.schedMu.RLock()
	sched, ok := s.scheds[expr]
	s.schedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	s.schedMu.Lock()
	s.scheds[expr] = sched
	s.schedMu.Unlock()
	return sched, nil
}
