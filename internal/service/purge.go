package service

import (
	"context"
	"log/slog"

	"github.com/phrazzld/codepool/internal/platform/logger"
	"github.com/phrazzld/codepool/internal/store"
	"github.com/phrazzld/codepool/internal/task"
)

const purgeService = "purge"

// PurgeProcessor removes used codes from the pool. Removal is permanent.
type PurgeProcessor struct {
	store  store.PoolStore
	logger *slog.Logger
}

// NewPurgeProcessor creates a PurgeProcessor over poolStore.
func NewPurgeProcessor(poolStore store.PoolStore, logger *slog.Logger) (*PurgeProcessor, error) {
	if poolStore == nil {
		return nil, ErrNilStore
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PurgeProcessor{
		store:  poolStore,
		logger: logger.With("component", "purge_processor"),
	}, nil
}

// PurgeUsed deletes every used item and returns how many were deleted.
// Available items are never touched.
func (p *PurgeProcessor) PurgeUsed(ctx context.Context) (int64, error) {
	log := logger.FromContextOrDefault(ctx, p.logger)

	removed, err := p.store.DeleteUsed(ctx)
	if err != nil {
		log.Error("failed to purge used items", "error", err)
		return 0, NewServiceError(purgeService, "purge_used", "failed to delete used items", err)
	}

	log.Info("used items purged", "removed", removed)
	return removed, nil
}

// PurgeWork returns work that purges used items through the task's own store.
func (p *PurgeProcessor) PurgeWork() task.Work {
	return func(ctx context.Context, scope task.Scope) error {
		scoped := &PurgeProcessor{store: scope.Store(), logger: p.logger}
		_, err := scoped.PurgeUsed(ctx)
		return err
	}
}
