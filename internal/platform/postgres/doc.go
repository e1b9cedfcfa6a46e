// Package postgres provides the PostgreSQL implementation of store.PoolStore,
// the embedded goose migrations that create its schema, and the per-task
// connection scopes used by the background worker.
//
// Claims are single conditional UPDATE statements that select their row with
// FOR UPDATE SKIP LOCKED, so concurrent claimers never observe the same
// available row and never block on one another.
package postgres
