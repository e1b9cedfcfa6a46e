// Package service contains the pool use cases: claiming codes (Allocator),
// importing batches (BatchImporter) and purging used codes (PurgeProcessor).
//
// Services receive a store.PoolStore through constructor injection and never
// depend on a specific storage engine. Expected outcomes such as an exhausted
// pool or duplicate codes are reported as typed values or sentinel errors;
// persistence failures are wrapped in a ServiceError.
//
// Long-running operations can be scheduled on the background worker with
// BatchImporter.ImportWork and PurgeProcessor.PurgeWork, which run against the
// task's own store scope.
package service
