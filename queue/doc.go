// Package queue defines named queue configuration: per-queue default job
// policy, rate limits, and concurrency caps, plus per-tenant overrides.
//
// Queues are named channels that group related jobs. A job's Queue field
// selects its queue; the worker pool polls the queues listed in
// [keel.Config.Queues] (default: ["default"]).
//
// # Per-Queue Configuration
//
//	queue.Config{
//	    Name:           "webhooks",
//	    MaxConcurrency: 5,
//	    RateLimit:      10,
//	    RateBurst:      20,
//	    Policy: &queue.Policy{
//	        MaxRetries:   5,
//	        Backoff:      backoff.KindJitter,
//	        BackoffDelay: 2 * time.Second,
//	    },
//	}
//
// # Manager
//
// [Manager] gates dequeue with a token-bucket rate limiter
// (golang.org/x/time/rate) and an active-count check, and answers the
// default policy applied when an enqueue does not set its own options.
//
//	m := queue.NewManager(configs...)
//	release, ok := m.Admit(queueName, tenantID)
//	if ok {
//	    defer release()
//	    // process the job
//	}
//
// Queues without a Config run with library defaults and no limits beyond
// the pool-wide concurrency.
package queue
