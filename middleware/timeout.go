package middleware

import (
	"context"
	"log/slog"

	"github.com/keelhq/keel/job"
)

// Timeout returns middleware that applies the job's deadline. Jobs with
// a zero Timeout run unbounded. When the deadline passes, the handler's
// context is cancelled and it is expected to return
// context.DeadlineExceeded.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout <= 0 {
			return next(ctx)
		}

		logger.Debug("applying job deadline",
			slog.String("job_id", j.ID.String()),
			slog.Duration("timeout", j.Timeout),
		)

		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()
		return next(ctx)
	}
}
