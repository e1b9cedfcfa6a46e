package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/codepool/internal/domain"
	"github.com/phrazzld/codepool/internal/platform/logger"
	"github.com/phrazzld/codepool/internal/store"
)

const allocatorService = "allocator"

// Allocator hands out pool items to callers. Each item is returned to at
// most one caller, oldest import first.
type Allocator struct {
	store         store.PoolStore
	maxClaimBatch int
	logger        *slog.Logger
}

// NewAllocator creates an Allocator over poolStore. A positive maxClaimBatch
// caps the size of ClaimBatch requests; zero means no cap.
func NewAllocator(poolStore store.PoolStore, maxClaimBatch int, logger *slog.Logger) (*Allocator, error) {
	if poolStore == nil {
		return nil, ErrNilStore
	}
	if maxClaimBatch < 0 {
		return nil, fmt.Errorf("%w: max claim batch %d", domain.ErrInvalidCount, maxClaimBatch)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Allocator{
		store:         poolStore,
		maxClaimBatch: maxClaimBatch,
		logger:        logger.With("component", "allocator"),
	}, nil
}

// ClaimNext claims the oldest available item. It returns
// domain.ErrPoolExhausted when nothing is available.
func (a *Allocator) ClaimNext(ctx context.Context) (*domain.PoolItem, error) {
	return a.claim(ctx, "")
}

// ClaimNextFor claims the oldest available item and records claimantKey on
// it in the same step.
func (a *Allocator) ClaimNextFor(ctx context.Context, claimantKey string) (*domain.PoolItem, error) {
	if claimantKey == "" {
		return nil, domain.ErrEmptyClaimantKey
	}
	return a.claim(ctx, claimantKey)
}

func (a *Allocator) claim(ctx context.Context, claimantKey string) (*domain.PoolItem, error) {
	log := logger.FromContextOrDefault(ctx, a.logger)

	item, err := a.store.ClaimNext(ctx, claimantKey)
	if err != nil {
		if errors.Is(err, domain.ErrPoolExhausted) {
			log.Debug("pool exhausted")
			return nil, domain.ErrPoolExhausted
		}
		log.Error("failed to claim next item", "error", err)
		return nil, NewServiceError(allocatorService, "claim_next", "failed to claim item", err)
	}

	log.Info("pool item claimed",
		"item_id", item.ID,
		"batch_id", item.BatchID,
		"has_claimant", claimantKey != "")
	return item, nil
}

// ClaimBatch claims up to n items in ascending ID order. A short or empty
// result means the pool ran out; it is not an error.
func (a *Allocator) ClaimBatch(ctx context.Context, n int) ([]domain.PoolItem, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidCount, n)
	}
	if a.maxClaimBatch > 0 && n > a.maxClaimBatch {
		return nil, fmt.Errorf("%w: %d exceeds the maximum of %d", domain.ErrInvalidCount, n, a.maxClaimBatch)
	}

	log := logger.FromContextOrDefault(ctx, a.logger)

	items, err := a.store.ClaimBatch(ctx, n)
	if err != nil {
		log.Error("failed to claim batch", "requested", n, "error", err)
		return nil, NewServiceError(allocatorService, "claim_batch", "failed to claim batch", err)
	}

	if len(items) < n {
		log.Debug("pool ran out during batch claim",
			"requested", n,
			"claimed", len(items))
	}
	log.Info("pool item batch claimed", "requested", n, "claimed", len(items))
	return items, nil
}

// PeekNext returns the item the next claim would most likely receive, or nil
// when the pool is empty. The answer may be stale by the time it is used and
// must never drive a claim decision.
func (a *Allocator) PeekNext(ctx context.Context) (*domain.PoolItem, error) {
	item, err := a.store.PeekNext(ctx)
	if err != nil {
		return nil, NewServiceError(allocatorService, "peek_next", "failed to peek next item", err)
	}
	return item, nil
}

// MarkClaimed attaches claimantKey to an item that has already been claimed.
// Only metadata changes; calling it again with the same key is harmless.
func (a *Allocator) MarkClaimed(ctx context.Context, id int64, claimantKey string) error {
	if claimantKey == "" {
		return domain.ErrEmptyClaimantKey
	}

	log := logger.FromContextOrDefault(ctx, a.logger)

	if err := a.store.SetClaimant(ctx, id, claimantKey); err != nil {
		if !errors.Is(err, domain.ErrItemNotClaimed) && !store.IsNotFoundError(err) {
			log.Error("failed to mark item claimed", "item_id", id, "error", err)
		}
		return NewServiceError(allocatorService, "mark_claimed", "failed to record claimant", err)
	}

	log.Debug("claimant recorded", "item_id", id)
	return nil
}

// Stats counts pool items by status.
func (a *Allocator) Stats(ctx context.Context) (domain.PoolStats, error) {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return domain.PoolStats{}, NewServiceError(allocatorService, "stats", "failed to count items", err)
	}
	return stats, nil
}

// Lookup returns the stored record for code without changing it.
func (a *Allocator) Lookup(ctx context.Context, code string) (*domain.PoolItem, error) {
	normalized, err := domain.NormalizeCode(code)
	if err != nil {
		return nil, err
	}

	item, err := a.store.GetByCode(ctx, normalized)
	if err != nil {
		return nil, NewServiceError(allocatorService, "lookup", "failed to look up code", err)
	}
	return item, nil
}
