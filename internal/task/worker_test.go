package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/codepool/internal/platform/logger"
	"github.com/phrazzld/codepool/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// fakeScope records how it was used. It carries no store.
type fakeScope struct {
	id     int
	closed atomic.Bool
}

func (s *fakeScope) Store() store.PoolStore { return nil }

func (s *fakeScope) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeScopeFactory struct {
	mu     sync.Mutex
	scopes []*fakeScope
	err    error
}

func (f *fakeScopeFactory) NewScope(context.Context) (Scope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeScope{id: len(f.scopes) + 1}
	f.scopes = append(f.scopes, s)
	return s, nil
}

func (f *fakeScopeFactory) all() []*fakeScope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeScope(nil), f.scopes...)
}

func runUntilDrained(t *testing.T, w *Worker, q *TaskQueue) {
	t.Helper()
	q.Close()
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not drain the queue")
	}
}

func TestWorker_FailureDoesNotStopLoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newTestQueue(t, 4)
	logBuf, log := logger.NewTestLogger()
	scopes := &fakeScopeFactory{}
	w := NewWorker(q, scopes, log)

	var handled []string
	w.SetErrorHandler(func(item *WorkItem, err error) {
		handled = append(handled, item.Description)
	})

	boom := errors.New("boom")
	var ranSecond atomic.Bool
	failedID, err := q.Submit(ctx, "failing", func(context.Context, Scope) error { return boom })
	require.NoError(t, err)
	_, err = q.Submit(ctx, "succeeding", func(context.Context, Scope) error {
		ranSecond.Store(true)
		return nil
	})
	require.NoError(t, err)

	runUntilDrained(t, w, q)

	assert.True(t, ranSecond.Load())
	assert.Equal(t, []string{"failing"}, handled)
	stats := w.Stats()
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)

	failures := logBuf.EntriesWithMessage("task execution failed")
	require.Len(t, failures, 1)
	assert.Equal(t, failedID.String(), failures[0]["task_id"])
	assert.Equal(t, "boom", failures[0]["error"])
	assert.Contains(t, failures[0], "duration_ms")
	assert.Len(t, logBuf.EntriesWithMessage("task completed successfully"), 1)
}

func TestWorker_RecoversPanics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newTestQueue(t, 2)
	scopes := &fakeScopeFactory{}
	w := NewWorker(q, scopes, logger.Discard())

	var gotErr error
	w.SetErrorHandler(func(_ *WorkItem, err error) { gotErr = err })

	var ranAfter atomic.Bool
	_, err := q.Submit(ctx, "panics", func(context.Context, Scope) error { panic("kaboom") })
	require.NoError(t, err)
	_, err = q.Submit(ctx, "after", func(context.Context, Scope) error {
		ranAfter.Store(true)
		return nil
	})
	require.NoError(t, err)

	runUntilDrained(t, w, q)

	assert.ErrorIs(t, gotErr, ErrTaskPanicked)
	assert.Contains(t, gotErr.Error(), "kaboom")
	assert.True(t, ranAfter.Load())

	// The panicking task's scope is still released.
	for _, s := range scopes.all() {
		assert.True(t, s.closed.Load())
	}
}

func TestWorker_FreshScopePerItem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newTestQueue(t, 3)
	scopes := &fakeScopeFactory{}
	w := NewWorker(q, scopes, logger.Discard())

	var seen []int
	record := func(_ context.Context, s Scope) error {
		fs := s.(*fakeScope)
		assert.False(t, fs.closed.Load(), "scope closed before work ran")
		seen = append(seen, fs.id)
		return nil
	}
	for i := 0; i < 3; i++ {
		_, err := q.Submit(ctx, "record", record)
		require.NoError(t, err)
	}

	runUntilDrained(t, w, q)

	assert.Equal(t, []int{1, 2, 3}, seen)
	for _, s := range scopes.all() {
		assert.True(t, s.closed.Load())
	}
}

func TestWorker_ScopeFailureIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newTestQueue(t, 1)
	scopes := &fakeScopeFactory{err: errors.New("no connection")}
	w := NewWorker(q, scopes, logger.Discard())

	var ran atomic.Bool
	_, err := q.Submit(ctx, "unreachable", func(context.Context, Scope) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)

	runUntilDrained(t, w, q)

	assert.False(t, ran.Load())
	assert.Equal(t, int64(1), w.Stats().Failed)
}

func TestWorker_SequentialExecution(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newTestQueue(t, 5)
	w := NewWorker(q, &fakeScopeFactory{}, logger.Discard())

	var running, maxRunning atomic.Int32
	work := func(context.Context, Scope) error {
		n := running.Add(1)
		if n > maxRunning.Load() {
			maxRunning.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return nil
	}
	for i := 0; i < 5; i++ {
		_, err := q.Submit(ctx, "work", work)
		require.NoError(t, err)
	}

	runUntilDrained(t, w, q)

	assert.Equal(t, int32(1), maxRunning.Load())
	assert.Equal(t, int64(5), w.Stats().Completed)
}

func TestWorker_StartStop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newTestQueue(t, 2)
	w := NewWorker(q, &fakeScopeFactory{}, logger.Discard())

	assert.Nil(t, w.Done())
	require.NoError(t, w.Start(ctx))
	assert.ErrorIs(t, w.Start(ctx), ErrWorkerStarted)

	started := make(chan struct{})
	var sawCancel atomic.Bool
	_, err := q.Submit(ctx, "in-flight", func(taskCtx context.Context, _ Scope) error {
		close(started)
		<-taskCtx.Done()
		sawCancel.Store(true)
		return taskCtx.Err()
	})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("task never started")
	}

	w.Stop()

	select {
	case <-w.Done():
	default:
		t.Fatal("worker still running after Stop")
	}
	assert.True(t, sawCancel.Load())
	assert.Equal(t, int64(1), w.Stats().Failed)

	// Stopping twice is harmless.
	w.Stop()
}

func TestWorker_StopLeavesPendingItems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newTestQueue(t, 3)
	w := NewWorker(q, &fakeScopeFactory{}, logger.Discard())

	release := make(chan struct{})
	started := make(chan struct{})
	_, err := q.Submit(ctx, "blocking", func(context.Context, Scope) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	_, err = q.Submit(ctx, "pending", noopWork)
	require.NoError(t, err)

	require.NoError(t, w.Start(ctx))
	<-started

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	// Stop waits for the in-flight item.
	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight task finished")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	<-stopped

	assert.Equal(t, int64(1), w.Stats().Completed)
	assert.Equal(t, 1, q.PendingCount())
}

// cancelAfterTake cancels the worker's context as soon as an item has been
// handed out, the way a Stop racing with Take does.
type cancelAfterTake struct {
	source TaskSource
	cancel context.CancelFunc
}

func (c *cancelAfterTake) Take(ctx context.Context) (*WorkItem, error) {
	item, err := c.source.Take(ctx)
	c.cancel()
	return item, err
}

func TestWorker_ItemTakenDuringStopStillRuns(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Like the real factories, refuse to open a scope for a done context.
	scopes := ScopeFactoryFunc(func(ctx context.Context) (Scope, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &fakeScope{}, nil
	})
	w := NewWorker(&cancelAfterTake{source: q, cancel: cancel}, scopes, logger.Discard())

	var handlerErr error
	w.SetErrorHandler(func(_ *WorkItem, err error) { handlerErr = err })

	var ran, sawCancel atomic.Bool
	_, err := q.Submit(context.Background(), "raced", func(ctx context.Context, scope Scope) error {
		ran.Store(true)
		sawCancel.Store(ctx.Err() != nil)
		assert.NotNil(t, scope)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, w.Run(ctx))

	assert.True(t, ran.Load(), "taken item was dropped")
	assert.True(t, sawCancel.Load())
	assert.NoError(t, handlerErr)
	stats := w.Stats()
	assert.Equal(t, int64(1), stats.Completed)
	assert.Zero(t, stats.Failed)
	assert.Zero(t, q.PendingCount())
}

func TestWorker_TaskContextCarriesLogger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newTestQueue(t, 1)
	logBuf, log := logger.NewTestLogger()
	w := NewWorker(q, &fakeScopeFactory{}, log)

	id, err := q.Submit(ctx, "logs", func(taskCtx context.Context, _ Scope) error {
		logger.FromContext(taskCtx).Info("inside task")
		return nil
	})
	require.NoError(t, err)

	runUntilDrained(t, w, q)

	entries := logBuf.EntriesWithMessage("inside task")
	require.Len(t, entries, 1)
	assert.Equal(t, id.String(), entries[0]["task_id"])
}

func TestWorker_RecordsSpans(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newTestQueue(t, 2)
	w := NewWorker(q, &fakeScopeFactory{}, logger.Discard())

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	w.tracer = tp.Tracer(tracerName)

	okID, err := q.Submit(ctx, "ok", noopWork)
	require.NoError(t, err)
	_, err = q.Submit(ctx, "bad", func(context.Context, Scope) error { return errors.New("bad") })
	require.NoError(t, err)

	runUntilDrained(t, w, q)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "task.execute", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Equal(t, codes.Error, spans[1].Status.Code)

	var taskID string
	for _, kv := range spans[0].Attributes {
		if kv.Key == "task.id" {
			taskID = kv.Value.AsString()
		}
	}
	assert.Equal(t, okID.String(), taskID)
}
