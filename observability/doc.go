// Package observability provides OpenTelemetry-based extensions that
// record system-wide metrics: lifecycle counters for job enqueue,
// completion, failure, retry, DLQ and cron events, circuit breaker
// state gauges, pool counters and gauges, and queue depth gauges.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
