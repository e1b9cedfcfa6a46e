package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/codepool/internal/domain"
	"github.com/phrazzld/codepool/internal/store"
	"github.com/phrazzld/codepool/internal/task"
)

// PoolStore keeps pool items in ID order in memory.
type PoolStore struct {
	mu     sync.Mutex
	items  []*domain.PoolItem // ascending ID
	byCode map[string]*domain.PoolItem
	nextID int64
	logger *slog.Logger
	now    func() time.Time
}

// Ensure PoolStore implements store.PoolStore interface
var _ store.PoolStore = (*PoolStore)(nil)

// NewPoolStore creates an empty in-memory pool store.
func NewPoolStore(logger *slog.Logger) *PoolStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &PoolStore{
		byCode: make(map[string]*domain.PoolItem),
		nextID: 1,
		logger: logger.With(slog.String("component", "memory_pool_store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ClaimNext implements store.PoolStore.ClaimNext
func (s *PoolStore) ClaimNext(ctx context.Context, claimantKey string) (*domain.PoolItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.items {
		if !item.IsAvailable() {
			continue
		}
		if err := item.Claim(claimantKey, s.now()); err != nil {
			return nil, err
		}
		return clone(item), nil
	}

	return nil, domain.ErrPoolExhausted
}

// ClaimBatch implements store.PoolStore.ClaimBatch
func (s *PoolStore) ClaimBatch(ctx context.Context, limit int) ([]domain.PoolItem, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidCount, limit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	claimed := make([]domain.PoolItem, 0, limit)
	at := s.now()
	for _, item := range s.items {
		if len(claimed) == limit {
			break
		}
		if !item.IsAvailable() {
			continue
		}
		if err := item.Claim("", at); err != nil {
			return nil, err
		}
		claimed = append(claimed, *clone(item))
	}

	return claimed, nil
}

// PeekNext implements store.PoolStore.PeekNext
func (s *PoolStore) PeekNext(ctx context.Context) (*domain.PoolItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.items {
		if item.IsAvailable() {
			return clone(item), nil
		}
	}
	return nil, nil
}

// SetClaimant implements store.PoolStore.SetClaimant
func (s *PoolStore) SetClaimant(ctx context.Context, id int64, claimantKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.items {
		if item.ID != id {
			continue
		}
		if item.IsAvailable() {
			return fmt.Errorf("%w: item %d is %s", domain.ErrItemNotClaimed, id, item.Status)
		}
		key := claimantKey
		item.ClaimantKey = &key
		return nil
	}

	return store.ErrPoolItemNotFound
}

// GetByCode implements store.PoolStore.GetByCode
func (s *PoolStore) GetByCode(ctx context.Context, code string) (*domain.PoolItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.byCode[code]
	if !ok {
		return nil, store.ErrPoolItemNotFound
	}
	return clone(item), nil
}

// InsertBatch implements store.PoolStore.InsertBatch
func (s *PoolStore) InsertBatch(ctx context.Context, items []domain.PoolItem) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Stage everything first so a failure leaves the pool untouched.
	staged := make([]*domain.PoolItem, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	nextID := s.nextID
	for i := range items {
		item := items[i]
		if err := item.Validate(); err != nil {
			return 0, store.NewStoreError("pool_item", "import", "invalid item", fmt.Errorf("%w: %w", store.ErrInvalidEntity, err))
		}
		if _, exists := s.byCode[item.Code]; exists {
			continue
		}
		if _, dup := seen[item.Code]; dup {
			continue
		}
		seen[item.Code] = struct{}{}

		item.ID = nextID
		nextID++
		staged = append(staged, &item)
	}

	for _, item := range staged {
		s.items = append(s.items, item)
		s.byCode[item.Code] = item
	}
	s.nextID = nextID

	return len(staged), nil
}

// DeleteUsed implements store.PoolStore.DeleteUsed
func (s *PoolStore) DeleteUsed(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.items[:0]
	var removed int64
	for _, item := range s.items {
		if item.IsAvailable() {
			kept = append(kept, item)
			continue
		}
		delete(s.byCode, item.Code)
		removed++
	}
	// Clear the tail so deleted items can be collected.
	for i := len(kept); i < len(s.items); i++ {
		s.items[i] = nil
	}
	s.items = kept

	s.logger.Info("used pool items deleted", slog.Int64("count", removed))
	return removed, nil
}

// Stats implements store.PoolStore.Stats
func (s *PoolStore) Stats(ctx context.Context) (domain.PoolStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.PoolStats{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := domain.PoolStats{Total: int64(len(s.items))}
	for _, item := range s.items {
		if item.IsAvailable() {
			stats.Available++
		} else {
			stats.Used++
		}
	}
	return stats, nil
}

// ListBatches implements store.PoolStore.ListBatches
func (s *PoolStore) ListBatches(ctx context.Context) ([]domain.BatchSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index := make(map[string]int)
	var batches []domain.BatchSummary
	for _, item := range s.items {
		i, ok := index[item.BatchID]
		if !ok {
			i = len(batches)
			index[item.BatchID] = i
			batches = append(batches, domain.BatchSummary{
				BatchID:         item.BatchID,
				Source:          item.Source,
				FirstImportedAt: item.ImportedAt,
			})
		}

		b := &batches[i]
		b.Total++
		if item.IsAvailable() {
			b.Available++
		} else {
			b.Used++
		}
		if item.Source < b.Source {
			b.Source = item.Source
		}
		if item.ImportedAt.Before(b.FirstImportedAt) {
			b.FirstImportedAt = item.ImportedAt
		}
	}
	return batches, nil
}

// ScopeFactory returns a task.ScopeFactory whose scopes all share this store.
// The store holds no per-session state, so sharing it does not leak anything
// between tasks.
func (s *PoolStore) ScopeFactory() task.ScopeFactory {
	return task.ScopeFactoryFunc(func(ctx context.Context) (task.Scope, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return scope{store: s}, nil
	})
}

type scope struct {
	store *PoolStore
}

func (s scope) Store() store.PoolStore { return s.store }

func (s scope) Close() error { return nil }

func clone(item *domain.PoolItem) *domain.PoolItem {
	c := *item
	if item.UsedAt != nil {
		t := *item.UsedAt
		c.UsedAt = &t
	}
	if item.ClaimantKey != nil {
		k := *item.ClaimantKey
		c.ClaimantKey = &k
	}
	return &c
}
