// Package postgres implements store.Store on PostgreSQL using pgx/v5.
// It is the durable backend of choice: dequeue uses FOR UPDATE SKIP LOCKED
// so concurrent workers never claim the same job, the idempotency key is a
// partial unique index, and schema migrations ship embedded in the binary.
package postgres
