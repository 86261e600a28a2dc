package middleware

import (
	"context"

	"github.com/keelhq/keel/breaker"
	"github.com/keelhq/keel/job"
)

// Breaker returns middleware that runs the handler under the circuit
// breaker named after the job's Provider field. Jobs without a provider
// pass through untouched. When the provider's circuit is open the
// handler is never invoked and the job fails with breaker.ErrOpen,
// feeding the normal retry/backoff path.
func Breaker(reg *breaker.Registry) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Provider == "" {
			return next(ctx)
		}
		b := reg.GetOrCreate(j.Provider)
		return b.Do(ctx, func(ctx context.Context) error {
			return next(ctx)
		})
	}
}
