// Package task runs long-running pool operations off the request path.
//
// Producers hand work to a bounded TaskQueue; Submit blocks while the queue
// is full, which caps memory when producers outpace the consumer. A single
// Worker drains the queue in submission order, runs each item in its own
// Scope, and keeps going when an item fails.
package task
