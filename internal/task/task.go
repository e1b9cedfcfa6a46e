package task

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/codepool/internal/store"
)

// Status represents the state of a work item as it moves through the worker.
// Completed and Failed are terminal; nothing is retried automatically.
type Status string

// Possible work item status values
const (
	StatusQueued    Status = "queued"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Common errors returned by the task package
var (
	ErrQueueClosed     = errors.New("task queue is closed")
	ErrNilWork         = errors.New("work function cannot be nil")
	ErrWorkerStarted   = errors.New("worker already started")
	ErrTaskPanicked    = errors.New("task panicked")
	ErrInvalidCapacity = errors.New("queue capacity must be positive")
)

// Work is the unit of execution carried by a WorkItem. It receives the
// worker's cancellation signal and a Scope that belongs to this execution only.
type Work func(ctx context.Context, scope Scope) error

// WorkItem is a unit of background work waiting in, or taken from, a TaskQueue.
type WorkItem struct {
	// TaskID correlates log lines and spans for this item.
	TaskID uuid.UUID

	// Description is a human-readable label.
	Description string

	// Work is executed once by the worker.
	Work Work

	// EnqueuedAt is used only for duration reporting.
	EnqueuedAt time.Time
}

// NewWorkItem creates a WorkItem with a fresh task ID.
func NewWorkItem(description string, work Work) (*WorkItem, error) {
	if work == nil {
		return nil, ErrNilWork
	}

	return &WorkItem{
		TaskID:      uuid.New(),
		Description: description,
		Work:        work,
		EnqueuedAt:  time.Now().UTC(),
	}, nil
}

// Scope is the isolated execution context of one work item. Nothing in a
// Scope is shared with any other item's execution.
type Scope interface {
	// Store returns the pool store bound to this scope.
	Store() store.PoolStore

	// Close releases the scope's resources. The worker calls it once after
	// the work returns.
	Close() error
}

// ScopeFactory allocates a fresh Scope for every execution.
type ScopeFactory interface {
	NewScope(ctx context.Context) (Scope, error)
}

// ScopeFactoryFunc adapts a function to the ScopeFactory interface.
type ScopeFactoryFunc func(ctx context.Context) (Scope, error)

// NewScope calls f(ctx).
func (f ScopeFactoryFunc) NewScope(ctx context.Context) (Scope, error) {
	return f(ctx)
}

// TaskSource is the consumer side of a queue.
type TaskSource interface {
	// Take blocks until an item is available, ctx is done, or the queue is
	// closed and drained.
	Take(ctx context.Context) (*WorkItem, error)
}

// Submitter is the producer side of a queue; it is the interface other
// subsystems use to schedule long-running operations.
type Submitter interface {
	Submit(ctx context.Context, description string, work Work) (uuid.UUID, error)
}
