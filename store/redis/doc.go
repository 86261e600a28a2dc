// Package redis implements store.Store on Redis for high-throughput
// workloads. Entities are stored as Redis Hashes; each queue is a pair of
// Sorted Sets, one holding jobs whose RunAt is still in the future (scored
// by readiness time) and one holding runnable jobs (scored by priority,
// FIFO within a priority). Dequeue promotes due jobs and pops the runnable
// set atomically.
//
// The caller owns the Redis client lifecycle; the store never closes it.
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
