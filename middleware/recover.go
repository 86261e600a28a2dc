package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/keelhq/keel/job"
)

// Recover returns middleware that converts a panicking handler into an
// ordinary job failure. The panic value and stack are logged; the chain
// sees a regular error so retry and DLQ accounting apply as usual.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			attrs := append(jobAttrs(j),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			logger.Error("job handler panicked", attrs...)
			retErr = fmt.Errorf("job %s panicked: %v", j.Name, r)
		}()
		return next(ctx)
	}
}
