package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/codepool/internal/platform/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/phrazzld/codepool/internal/task"

// WorkerStats summarises what a worker has executed so far.
type WorkerStats struct {
	Completed    int64
	Failed       int64
	LastDuration time.Duration
}

// Worker is the single sequential consumer of a TaskQueue. Each item runs in
// a fresh Scope; a failing item is logged and never stops the loop.
type Worker struct {
	source TaskSource
	scopes ScopeFactory
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	// errorHandler is called when a task execution fails.
	// If nil, errors are only logged.
	errorHandler func(item *WorkItem, err error)

	mu      sync.Mutex
	stats   WorkerStats
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWorker creates a worker that takes items from source and opens a scope
// from scopes for each execution.
func NewWorker(source TaskSource, scopes ScopeFactory, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		source: source,
		scopes: scopes,
		logger: logger.With(slog.String("component", "task_worker")),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
}

// SetErrorHandler allows setting a custom error handler for task execution failures.
// It must be called before Start or Run.
func (w *Worker) SetErrorHandler(handler func(item *WorkItem, err error)) {
	w.errorHandler = handler
}

// Start runs the worker loop in its own goroutine until Stop is called or ctx
// is done.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrWorkerStarted
	}
	w.started = true

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		if err := w.Run(runCtx); err != nil {
			w.logger.Error("worker stopped with error", "error", err)
		}
	}()

	return nil
}

// Stop signals the worker to stop and waits for it to exit. An item that is
// already executing, or was taken as the signal arrived, is allowed to finish;
// its context is cancelled so it can return early if it observes the signal.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

// Done is closed when a worker started with Start has exited. It returns nil
// if the worker was never started.
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// Run executes the worker loop on the calling goroutine. It returns nil when
// ctx is done or the queue is closed and drained.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Debug("starting worker")

	for {
		if ctx.Err() != nil {
			w.logger.Debug("stopping worker")
			return nil
		}

		item, err := w.source.Take(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrQueueClosed):
				w.logger.Debug("task queue closed, stopping worker")
				return nil
			case ctx.Err() != nil:
				w.logger.Debug("stopping worker")
				return nil
			default:
				return fmt.Errorf("failed to take task: %w", err)
			}
		}

		w.process(ctx, item)
	}
}

// Stats returns a snapshot of the worker's counters.
func (w *Worker) Stats() WorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// process handles execution of a single item
func (w *Worker) process(ctx context.Context, item *WorkItem) {
	log := w.logger.With(
		"task_id", item.TaskID,
		"description", item.Description,
	)

	ctx, span := w.tracer.Start(ctx, "task.execute",
		trace.WithAttributes(
			attribute.String("task.id", item.TaskID.String()),
			attribute.String("task.description", item.Description),
		))
	defer span.End()

	log.Info("processing task", "status", StatusExecuting)

	err := w.execute(logger.WithLogger(ctx, log), item)
	duration := w.now().Sub(item.EnqueuedAt)

	w.mu.Lock()
	w.stats.LastDuration = duration
	if err != nil {
		w.stats.Failed++
	} else {
		w.stats.Completed++
	}
	w.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("task execution failed",
			"status", StatusFailed,
			"duration_ms", duration.Milliseconds(),
			"error", err)

		if w.errorHandler != nil {
			w.errorHandler(item, err)
		}
		return
	}

	span.SetStatus(codes.Ok, "")
	log.Info("task completed successfully",
		"status", StatusCompleted,
		"duration_ms", duration.Milliseconds())
}

// execute runs the item inside its own scope. Panics are converted into errors.
func (w *Worker) execute(ctx context.Context, item *WorkItem) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, p)
		}
	}()

	// A stop that lands while Take is returning must not fail the item before
	// it starts; only the work itself observes the cancellation.
	scope, err := w.scopes.NewScope(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("failed to open task scope: %w", err)
	}
	defer func() {
		if closeErr := scope.Close(); closeErr != nil {
			logger.FromContext(ctx).Warn("failed to close task scope", "error", closeErr)
		}
	}()

	return item.Work(ctx, scope)
}
