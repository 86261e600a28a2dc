package middleware

import (
	"context"

	"github.com/keelhq/keel/job"
	"github.com/keelhq/keel/tenant"
)

// Tenant returns middleware that restores the enqueue caller's tenant
// scope from the job's TenantID/Provider fields into the handler
// context. Handlers then see the same tenant.Scope that was active when
// the job was enqueued.
func Tenant() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx = tenant.Restore(ctx, j.TenantID, j.Provider)
		return next(ctx)
	}
}
