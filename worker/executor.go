// Package worker provides the job execution engine. An Executor invokes
// registered handlers through middleware and applies per-queue retry
// policy, and a Pool manages the concurrent worker goroutines that poll
// for jobs, renew leases, and requeue stalled work.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/keelhq/keel/dlq"
	"github.com/keelhq/keel/ext"
	"github.com/keelhq/keel/job"
	"github.com/keelhq/keel/middleware"
	"github.com/keelhq/keel/queue"
)

// Policies resolves the retry policy for a queue. *queue.Manager
// implements it.
type Policies interface {
	Policy(queue string) queue.Policy
}

// Executor runs a single job through middleware and the registered
// handler, then handles retry scheduling, DLQ push, state updates, and
// lifecycle events.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	dlqService *dlq.Service
	policies   Policies
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies. A nil
// policies falls back to queue defaults.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	dlqService *dlq.Service,
	policies Policies,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		dlqService: dlqService,
		policies:   policies,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

func (e *Executor) policyFor(queueName string) queue.Policy {
	if e.policies == nil {
		return queue.DefaultPolicy()
	}
	return e.policies.Policy(queueName)
}

// Execute runs a job through the middleware chain and handler.
// On success: marks completed (or removes the record, per policy) and
// emits JobCompleted.
// On failure with retries remaining: marks retrying with the queue's
// backoff and emits JobRetrying.
// On failure with retries exhausted: pushes to the DLQ, marks failed or
// removes the record per policy, and emits JobFailed + JobDLQ.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Name)
	if !ok {
		return fmt.Errorf("no handler registered for job %q", j.Name)
	}

	start := time.Now()

	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	}

	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	now := time.Now().UTC()
	j.UpdatedAt = now

	if err != nil {
		return e.handleFailure(ctx, j, err, now)
	}

	return e.handleSuccess(ctx, j, now, elapsed)
}

func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, now time.Time, elapsed time.Duration) error {
	j.State = job.StateCompleted
	j.CompletedAt = &now

	if e.policyFor(j.Queue).RemoveOnComplete {
		if delErr := e.store.DeleteJob(ctx, j.ID); delErr != nil {
			e.logger.Error("failed to remove job after success",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.String("error", delErr.Error()),
			)
			return delErr
		}
	} else if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.RetryCount++
	j.LastError = handlerErr.Error()

	if j.RetryCount <= j.MaxRetries {
		return e.scheduleRetry(ctx, j, handlerErr, now)
	}

	return e.sendToDLQ(ctx, j, handlerErr)
}

// scheduleRetry sets the job to StateRetrying with the queue's backoff
// delay.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	delay := e.policyFor(j.Queue).Strategy().Delay(j.RetryCount)
	nextRunAt := now.Add(delay)
	j.RunAt = nextRunAt
	j.State = job.StateRetrying

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobRetrying(ctx, j, j.RetryCount, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.RetryCount),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s retry %d/%d: %w", j.Name, j.RetryCount, j.MaxRetries, handlerErr)
}

// sendToDLQ pushes the exhausted job to the DLQ, then marks it failed or
// removes the record per queue policy and emits events.
func (e *Executor) sendToDLQ(ctx context.Context, j *job.Job, handlerErr error) error {
	j.State = job.StateFailed

	pushed := false
	if e.dlqService != nil {
		if dlqErr := e.dlqService.Push(ctx, j, handlerErr); dlqErr != nil {
			e.logger.Error("failed to push job to DLQ",
				slog.String("job_id", j.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		} else {
			pushed = true
		}
	}

	// The original record is dropped only once the DLQ holds a copy.
	if pushed && e.policyFor(j.Queue).RemoveOnFail {
		if delErr := e.store.DeleteJob(ctx, j.ID); delErr != nil {
			e.logger.Error("failed to remove job after DLQ push",
				slog.String("job_id", j.ID.String()),
				slog.String("error", delErr.Error()),
			)
			return delErr
		}
	} else if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobFailed(ctx, j, handlerErr)
	e.extensions.EmitJobDLQ(ctx, j, handlerErr)

	e.logger.Warn("job moved to DLQ after exhausting retries",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("retry_count", j.RetryCount),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}
