// Package memory provides an in-process store.PoolStore. A single mutex
// serialises every operation, which makes each one trivially atomic. It backs
// the memory database driver and the service tests.
package memory
