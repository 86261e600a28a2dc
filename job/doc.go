// Package job defines the unit of work processed by the substrate: the Job
// entity and its lifecycle states, the persistence contract the durable
// broker must satisfy, per-job options, and the registry that maps job
// names to typed handlers.
package job
