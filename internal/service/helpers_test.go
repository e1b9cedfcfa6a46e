package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/phrazzld/codepool/internal/domain"
	"github.com/phrazzld/codepool/internal/platform/logger"
	"github.com/phrazzld/codepool/internal/platform/memory"
	"github.com/phrazzld/codepool/internal/store"
	"github.com/stretchr/testify/require"
)

var errDatabaseDown = errors.New("database down")

// failingStore fails every operation with errDatabaseDown.
type failingStore struct {
	store.PoolStore
}

func (failingStore) ClaimNext(context.Context, string) (*domain.PoolItem, error) {
	return nil, errDatabaseDown
}

func (failingStore) ClaimBatch(context.Context, int) ([]domain.PoolItem, error) {
	return nil, errDatabaseDown
}

func (failingStore) InsertBatch(context.Context, []domain.PoolItem) (int, error) {
	return 0, errDatabaseDown
}

func (failingStore) DeleteUsed(context.Context) (int64, error) {
	return 0, errDatabaseDown
}

func (failingStore) Stats(context.Context) (domain.PoolStats, error) {
	return domain.PoolStats{}, errDatabaseDown
}

type fixture struct {
	store    *memory.PoolStore
	alloc    *Allocator
	importer *BatchImporter
	purger   *PurgeProcessor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Discard()
	s := memory.NewPoolStore(log)

	alloc, err := NewAllocator(s, 100, log)
	require.NoError(t, err)
	importer, err := NewBatchImporter(s, 1000, log)
	require.NoError(t, err)
	purger, err := NewPurgeProcessor(s, log)
	require.NoError(t, err)

	return &fixture{store: s, alloc: alloc, importer: importer, purger: purger}
}

func (f *fixture) seed(t *testing.T, codes ...string) {
	t.Helper()
	result, err := f.importer.ImportBatch(context.Background(), codes, "seed", "test")
	require.NoError(t, err)
	require.Equal(t, len(codes), result.Inserted)
}

// recordingStore runs claims one at a time and records the returned IDs in
// the order the callers received them.
type recordingStore struct {
	store.PoolStore

	mu    sync.Mutex
	order []int64
}

func (r *recordingStore) ClaimNext(ctx context.Context, claimantKey string) (*domain.PoolItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, err := r.PoolStore.ClaimNext(ctx, claimantKey)
	if err == nil {
		r.order = append(r.order, item.ID)
	}
	return item, err
}

func (r *recordingStore) ClaimBatch(ctx context.Context, n int) ([]domain.PoolItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.PoolStore.ClaimBatch(ctx, n)
	for _, item := range items {
		r.order = append(r.order, item.ID)
	}
	return items, err
}

func (r *recordingStore) returned() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}
