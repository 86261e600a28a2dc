// Package engine wires all keel subsystems together. It creates the
// extension registry, job registry, middleware chain, queue manager,
// breaker registry, worker pool, and cron scheduler, and provides
// Register/Enqueue operations.
//
// This package exists to break the import cycle: the root keel package
// defines Entity (imported by job, cron, and so on) and so cannot import
// those packages back. The engine package sits above all subsystem
// packages and below the application layer.
//
// Typical usage:
//
//	s, _ := keel.New(keel.WithStore(st), keel.WithConcurrency(20))
//	eng, _ := engine.Build(s,
//	    engine.WithQueueConfig(queue.Config{Name: "email", MaxConcurrency: 5}),
//	)
//	engine.Register(eng, job.NewDefinition("welcome-email", sendWelcome))
//	_ = eng.Start(ctx)
package engine
