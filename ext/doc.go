// Package ext defines the extension system. Extensions are notified of
// lifecycle events (job enqueued, completed, failed, circuit opened,
// shutdown) and can react to them for logging, metrics, tracing, or
// alerting.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about:
//
//	type pagerExt struct{}
//
//	func (pagerExt) Name() string { return "pager" }
//
//	func (pagerExt) OnJobDLQ(ctx context.Context, j *job.Job, err error) error {
//	    return page(ctx, j.Queue, err)
//	}
//
// Hook errors are logged and never propagated; an extension can observe
// the pipeline but not stall it.
package ext
