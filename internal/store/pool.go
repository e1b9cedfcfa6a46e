package store

import (
	"context"

	"github.com/phrazzld/codepool/internal/domain"
)

// PoolStore is the durable ledger of pool items and the only place that
// mutates item state. Every method is atomic on its own: implementations must
// never expose a half-applied claim, import or purge.
type PoolStore interface {
	// ClaimNext transitions the available item with the smallest ID to used,
	// stamping used_at and, when claimantKey is non-empty, the claimant key,
	// and returns it. The selection and the transition are a single step.
	// Returns domain.ErrPoolExhausted when no item is available.
	ClaimNext(ctx context.Context, claimantKey string) (*domain.PoolItem, error)

	// ClaimBatch claims up to limit available items in ascending ID order as
	// one atomic step. It returns fewer than limit items (possibly none) when
	// the pool runs out; exhaustion is not an error here.
	ClaimBatch(ctx context.Context, limit int) ([]domain.PoolItem, error)

	// PeekNext returns the available item with the smallest ID without
	// changing it, or nil when the pool is exhausted.
	PeekNext(ctx context.Context) (*domain.PoolItem, error)

	// SetClaimant attaches claimant metadata to an already used item.
	// Returns ErrPoolItemNotFound for unknown IDs and domain.ErrItemNotClaimed
	// when the item is still available.
	SetClaimant(ctx context.Context, id int64, claimantKey string) error

	// GetByCode retrieves an item by its code.
	// Returns ErrPoolItemNotFound if the code is not pooled.
	GetByCode(ctx context.Context, code string) (*domain.PoolItem, error)

	// InsertBatch inserts the given items in order inside one transaction,
	// silently skipping codes that already exist. It returns the number of
	// rows inserted. On any failure nothing is inserted.
	InsertBatch(ctx context.Context, items []domain.PoolItem) (int, error)

	// DeleteUsed removes every used item and returns how many were removed.
	DeleteUsed(ctx context.Context) (int64, error)

	// Stats counts items by status.
	Stats(ctx context.Context) (domain.PoolStats, error)

	// ListBatches summarises items grouped by batch ID, oldest batch first.
	ListBatches(ctx context.Context) ([]domain.BatchSummary, error)
}
