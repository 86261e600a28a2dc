// Package breaker implements the circuit breaker pattern for calls to
// downstream dependencies.
//
// A Breaker wraps an operation with a three-state fault-isolation machine:
//
//	Closed (normal):
//	    - Calls flow through to the protected function.
//	    - Consecutive failures are counted; reaching the threshold opens
//	      the circuit.
//
//	Open (tripped):
//	    - Calls are rejected immediately with ErrOpen; the function is
//	      never invoked.
//	    - After the reset timeout the next call transitions to half-open.
//	      The transition is checked lazily at call time, never by a
//	      background timer.
//
//	HalfOpen (probing):
//	    - A single trial call is allowed through at a time.
//	    - Any failure reopens the circuit immediately; enough consecutive
//	      successes close it.
//
// Each wrapped call runs under a per-call deadline; exceeding it counts as
// a failure. The deadline cancels only the logical wait; the underlying
// call may still be running and is abandoned.
//
// Breakers are keyed by name, one per downstream dependency, and live in an
// explicit Registry passed by reference so tests can instantiate isolated
// registries.
package breaker
