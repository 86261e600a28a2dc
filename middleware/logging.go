package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/keelhq/keel/job"
)

// Logging returns middleware that logs each execution: a start line and
// an outcome line carrying the elapsed time and, on failure, the error.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := append(jobAttrs(j), slog.Int("attempt", j.RetryCount+1))
		logger.Info("job started", attrs...)

		start := time.Now()
		err := next(ctx)

		outcome := append(attrs, slog.Duration("elapsed", time.Since(start)))
		if err != nil {
			logger.Error("job failed", append(outcome, slog.String("error", err.Error()))...)
		} else {
			logger.Info("job completed", outcome...)
		}
		return err
	}
}
