package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/codepool/internal/config"
	"github.com/phrazzld/codepool/internal/platform/memory"
	"github.com/phrazzld/codepool/internal/platform/postgres"
	"github.com/phrazzld/codepool/internal/platform/tracing"
	"github.com/phrazzld/codepool/internal/service"
	"github.com/phrazzld/codepool/internal/store"
	"github.com/phrazzld/codepool/internal/task"
	"golang.org/x/sync/errgroup"
)

const serviceName = "codepool"

// version is overridden at build time with -ldflags.
var version = "dev"

// application holds the shared dependencies of one command invocation and
// releases them on Close.
type application struct {
	config *config.Config
	logger *slog.Logger

	// db is nil for the memory driver.
	db     *sql.DB
	store  store.PoolStore
	scopes task.ScopeFactory

	allocator *service.Allocator
	importer  *service.BatchImporter
	purger    *service.PurgeProcessor

	shutdownTracing tracing.ShutdownFunc
}

// newApplication wires stores and services for the configured driver.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(tracing.Config{
			ServiceName:    serviceName,
			ServiceVersion: version,
			Output:         cfg.Tracing.Output,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		app.shutdownTracing = shutdown
	}

	switch cfg.Database.Driver {
	case config.DriverMemory:
		memStore := memory.NewPoolStore(logger)
		app.store = memStore
		app.scopes = memStore.ScopeFactory()
	default:
		db, err := openDatabase(ctx, cfg.Database, logger)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.db = db
		app.store = postgres.NewPostgresPoolStore(db, logger)
		app.scopes = postgres.NewConnScopeFactory(db, logger)
	}

	var err error
	if app.allocator, err = service.NewAllocator(app.store, cfg.Pool.MaxClaimBatch, logger); err != nil {
		app.Close()
		return nil, err
	}
	if app.importer, err = service.NewBatchImporter(app.store, cfg.Pool.MaxImportBatch, logger); err != nil {
		app.Close()
		return nil, err
	}
	if app.purger, err = service.NewPurgeProcessor(app.store, logger); err != nil {
		app.Close()
		return nil, err
	}

	return app, nil
}

// Close releases the database and flushes spans.
func (a *application) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("failed to close database", "error", err)
		}
	}
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.Error("failed to flush traces", "error", err)
		}
	}
}

// runInBackground executes work through a task queue and its worker and waits
// for the queue to drain. When ctx is cancelled, no further work is accepted
// and the running task gets the configured shutdown timeout to finish before
// its context is cancelled too.
func (a *application) runInBackground(ctx context.Context, description string, work task.Work) error {
	queue, err := task.NewTaskQueue(a.config.Task.QueueSize, a.logger)
	if err != nil {
		return err
	}

	worker := task.NewWorker(queue, a.scopes, a.logger)
	var taskErr error
	worker.SetErrorHandler(func(_ *task.WorkItem, err error) {
		taskErr = errors.Join(taskErr, err)
	})

	workerCtx, cancelWorker := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorker()

	drained := make(chan struct{})
	g := new(errgroup.Group)

	g.Go(func() error {
		defer close(drained)
		return worker.Run(workerCtx)
	})

	g.Go(func() error {
		defer queue.Close()
		taskID, err := queue.Submit(ctx, description, work)
		if err != nil {
			return fmt.Errorf("failed to submit %s: %w", description, err)
		}
		a.logger.Info("task submitted", "task_id", taskID, "description", description)
		return nil
	})

	g.Go(func() error {
		select {
		case <-drained:
			return nil
		case <-ctx.Done():
		}

		queue.Close()
		a.logger.Warn("shutdown requested, waiting for running task",
			"timeout", a.config.Task.ShutdownTimeout)

		timer := time.NewTimer(a.config.Task.ShutdownTimeout)
		defer timer.Stop()
		select {
		case <-drained:
		case <-timer.C:
			cancelWorker()
			<-drained
		}
		return ctx.Err()
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return taskErr
}
