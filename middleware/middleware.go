package middleware

import (
	"context"
	"log/slog"

	"github.com/keelhq/keel/job"
)

// Handler is the terminal function that executes job logic.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the job being executed, and the next handler. A
// middleware that does not call next short-circuits the chain.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes middleware into one. The first middleware in the list
// is the outermost wrapper:
//
//	Chain(logging, recover, tenant) runs logging(recover(tenant(handler))).
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		var run func(ctx context.Context, i int) error
		run = func(ctx context.Context, i int) error {
			if i == len(mws) {
				return next(ctx)
			}
			return mws[i](ctx, j, func(ctx context.Context) error {
				return run(ctx, i+1)
			})
		}
		return run(ctx, 0)
	}
}

// jobAttrs returns the standard log attributes identifying a job.
func jobAttrs(j *job.Job) []any {
	return []any{
		slog.String("job_name", j.Name),
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Queue),
	}
}
