package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// TaskQueue is a bounded FIFO buffer of pending work items. It is safe for
// any number of producers and is meant to be drained by exactly one Worker.
//
// Items are taken in the order their submission completed. When the buffer
// holds Capacity items, Submit blocks until the worker takes one or the
// submitter's context is done.
type TaskQueue struct {
	items chan *WorkItem

	// done is closed first on Close and wakes blocked submitters. drained is
	// closed once every in-flight submission has resolved, so no item can
	// arrive after Take has reported ErrQueueClosed.
	done    chan struct{}
	drained chan struct{}

	mu        sync.Mutex
	closed    bool
	senders   sync.WaitGroup
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewTaskQueue creates a new task queue holding at most capacity pending items.
func NewTaskQueue(capacity int, logger *slog.Logger) (*TaskQueue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &TaskQueue{
		items:   make(chan *WorkItem, capacity),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
		logger:  logger.With(slog.String("component", "task_queue")),
	}, nil
}

// Submit wraps work in a new WorkItem and enqueues it, blocking while the
// queue is full. It returns the item's task ID.
func (q *TaskQueue) Submit(ctx context.Context, description string, work Work) (uuid.UUID, error) {
	item, err := NewWorkItem(description, work)
	if err != nil {
		return uuid.Nil, err
	}

	if err := q.Enqueue(ctx, item); err != nil {
		return uuid.Nil, err
	}
	return item.TaskID, nil
}

// Enqueue adds a prepared item to the queue, blocking while the queue is full.
// If ctx is done or the queue is closed first, the item is not enqueued and
// ctx.Err() or ErrQueueClosed is returned.
func (q *TaskQueue) Enqueue(ctx context.Context, item *WorkItem) error {
	if item == nil || item.Work == nil {
		return ErrNilWork
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		q.mu.Unlock()
		return err
	}
	q.senders.Add(1)
	q.mu.Unlock()
	defer q.senders.Done()

	select {
	case q.items <- item:
		q.logger.Debug("task enqueued",
			"task_id", item.TaskID,
			"description", item.Description,
			"status", StatusQueued,
			"queue_len", len(q.items),
			"queue_cap", cap(q.items))
		return nil
	case <-ctx.Done():
		q.logger.Debug("task submission cancelled",
			"task_id", item.TaskID,
			"description", item.Description,
			"error", ctx.Err())
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	}
}

// Take removes and returns the oldest pending item, blocking while the queue
// is empty. Items submitted before Close are still handed out; once the queue
// is closed and empty Take returns ErrQueueClosed.
func (q *TaskQueue) Take(ctx context.Context) (*WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	select {
	case item := <-q.items:
		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.drained:
		select {
		case item := <-q.items:
			return item, nil
		default:
			return nil, ErrQueueClosed
		}
	}
}

// PendingCount reports how many items are waiting to be taken.
func (q *TaskQueue) PendingCount() int {
	return len(q.items)
}

// Capacity reports the maximum number of pending items.
func (q *TaskQueue) Capacity() int {
	return cap(q.items)
}

// Close stops the queue from accepting submissions and wakes blocked
// submitters, then waits for them to return. A submission racing with Close
// either fails with ErrQueueClosed or is still handed out by Take. It is safe
// to call more than once and from any goroutine.
func (q *TaskQueue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()

		close(q.done)
		q.senders.Wait()
		close(q.drained)
		q.logger.Info("task queue closed", "pending", len(q.items))
	})
}
