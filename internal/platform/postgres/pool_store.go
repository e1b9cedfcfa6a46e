package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/phrazzld/codepool/internal/domain"
	"github.com/phrazzld/codepool/internal/platform/logger"
	"github.com/phrazzld/codepool/internal/store"
)

const poolItemEntity = "pool_item"

const poolItemColumns = `id, code, status, imported_at, used_at, claimant_key, batch_id, source`

const (
	claimNextQuery = `
		UPDATE pool_items
		SET status = 'used', used_at = $1, claimant_key = NULLIF($2::text, '')
		WHERE id = (
			SELECT id FROM pool_items
			WHERE status = 'available'
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		AND status = 'available'
		RETURNING ` + poolItemColumns

	claimBatchQuery = `
		UPDATE pool_items
		SET status = 'used', used_at = $1
		WHERE id IN (
			SELECT id FROM pool_items
			WHERE status = 'available'
			ORDER BY id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		AND status = 'available'
		RETURNING ` + poolItemColumns

	peekNextQuery = `
		SELECT ` + poolItemColumns + `
		FROM pool_items
		WHERE status = 'available'
		ORDER BY id
		LIMIT 1`

	getByCodeQuery = `
		SELECT ` + poolItemColumns + `
		FROM pool_items
		WHERE code = $1`

	setClaimantQuery = `
		UPDATE pool_items
		SET claimant_key = $2
		WHERE id = $1 AND status = 'used'`

	itemStatusQuery = `SELECT status FROM pool_items WHERE id = $1`

	// Rows are inserted in array order so IDs follow import order.
	insertItemsQuery = `
		INSERT INTO pool_items (code, status, imported_at, batch_id, source)
		SELECT t.code, 'available', t.imported_at, t.batch_id, t.source
		FROM unnest($1::text[], $2::timestamptz[], $3::text[], $4::text[])
			WITH ORDINALITY AS t(code, imported_at, batch_id, source, ord)
		ORDER BY t.ord
		ON CONFLICT (code) DO NOTHING`

	deleteUsedQuery = `DELETE FROM pool_items WHERE status = 'used'`

	statsQuery = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'available'),
			COUNT(*) FILTER (WHERE status = 'used')
		FROM pool_items`

	listBatchesQuery = `
		SELECT
			batch_id,
			MIN(source),
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'available'),
			COUNT(*) FILTER (WHERE status = 'used'),
			MIN(imported_at)
		FROM pool_items
		GROUP BY batch_id
		ORDER BY MIN(id)`
)

// PostgresPoolStore implements the store.PoolStore interface
// using a PostgreSQL database as the storage backend.
type PostgresPoolStore struct {
	db     store.DBTX
	logger *slog.Logger
	now    func() time.Time
}

// Ensure PostgresPoolStore implements store.PoolStore interface
var _ store.PoolStore = (*PostgresPoolStore)(nil)

// NewPostgresPoolStore creates a new PostgreSQL implementation of the PoolStore interface.
// It accepts a database pool, dedicated connection, or transaction that is managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresPoolStore(db store.DBTX, logger *slog.Logger) *PostgresPoolStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresPoolStore{
		db:     db,
		logger: logger.With(slog.String("component", "pool_store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithTx returns a new PostgresPoolStore that runs every statement inside tx.
// InsertBatch on the returned store joins tx instead of opening its own transaction.
func (s *PostgresPoolStore) WithTx(tx *sql.Tx) *PostgresPoolStore {
	return &PostgresPoolStore{
		db:     tx,
		logger: s.logger,
		now:    s.now,
	}
}

// ClaimNext implements store.PoolStore.ClaimNext
func (s *PostgresPoolStore) ClaimNext(ctx context.Context, claimantKey string) (*domain.PoolItem, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	item, err := scanPoolItem(s.db.QueryRowContext(ctx, claimNextQuery, s.now(), claimantKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("no available pool item to claim")
			return nil, domain.ErrPoolExhausted
		}
		log.Error("failed to claim next pool item", slog.String("error", err.Error()))
		return nil, store.NewStoreError(poolItemEntity, "claim", "failed to claim next item", MapError(err))
	}

	log.Debug("pool item claimed",
		slog.Int64("item_id", item.ID),
		slog.String("batch_id", item.BatchID))
	return item, nil
}

// ClaimBatch implements store.PoolStore.ClaimBatch
func (s *PostgresPoolStore) ClaimBatch(ctx context.Context, limit int) ([]domain.PoolItem, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidCount, limit)
	}

	rows, err := s.db.QueryContext(ctx, claimBatchQuery, s.now(), limit)
	if err != nil {
		log.Error("failed to claim pool item batch",
			slog.Int("limit", limit),
			slog.String("error", err.Error()))
		return nil, store.NewStoreError(poolItemEntity, "claim_batch", "failed to claim batch", MapError(err))
	}

	items, err := collectPoolItems(rows)
	if err != nil {
		log.Error("failed to read claimed pool items", slog.String("error", err.Error()))
		return nil, store.NewStoreError(poolItemEntity, "claim_batch", "failed to read claimed items", err)
	}

	// RETURNING does not preserve the subquery order.
	slices.SortFunc(items, func(a, b domain.PoolItem) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	log.Debug("pool item batch claimed",
		slog.Int("limit", limit),
		slog.Int("claimed", len(items)))
	return items, nil
}

// PeekNext implements store.PoolStore.PeekNext
func (s *PostgresPoolStore) PeekNext(ctx context.Context) (*domain.PoolItem, error) {
	item, err := scanPoolItem(s.db.QueryRowContext(ctx, peekNextQuery))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to peek next pool item",
			slog.String("error", err.Error()))
		return nil, store.NewStoreError(poolItemEntity, "peek", "failed to read next item", MapError(err))
	}
	return item, nil
}

// GetByCode implements store.PoolStore.GetByCode
func (s *PostgresPoolStore) GetByCode(ctx context.Context, code string) (*domain.PoolItem, error) {
	item, err := scanPoolItem(s.db.QueryRowContext(ctx, getByCodeQuery, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrPoolItemNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get pool item by code",
			slog.String("error", err.Error()))
		return nil, store.NewStoreError(poolItemEntity, "get", "failed to read item", MapError(err))
	}
	return item, nil
}

// SetClaimant implements store.PoolStore.SetClaimant
func (s *PostgresPoolStore) SetClaimant(ctx context.Context, id int64, claimantKey string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, setClaimantQuery, id, claimantKey)
	if err != nil {
		log.Error("failed to set claimant",
			slog.Int64("item_id", id),
			slog.String("error", err.Error()))
		return store.NewStoreError(poolItemEntity, "set_claimant", "failed to update claimant", MapError(err))
	}

	n, err := rowsAffected(result)
	if err != nil {
		return store.NewStoreError(poolItemEntity, "set_claimant", "failed to update claimant", err)
	}
	if n > 0 {
		log.Debug("claimant attached", slog.Int64("item_id", id))
		return nil
	}

	// Nothing matched: tell a missing row apart from one that is still available.
	var status string
	err = s.db.QueryRowContext(ctx, itemStatusQuery, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrPoolItemNotFound
		}
		return store.NewStoreError(poolItemEntity, "set_claimant", "failed to read item status", MapError(err))
	}

	return fmt.Errorf("%w: item %d is %s", domain.ErrItemNotClaimed, id, status)
}

// InsertBatch implements store.PoolStore.InsertBatch. All items go in with a
// single statement. Two concurrent imports sharing codes in a different order
// can deadlock; PostgreSQL then aborts one of them (SQLSTATE 40P01) and that
// batch fails whole. Re-running it is safe since existing codes are skipped.
func (s *PostgresPoolStore) InsertBatch(ctx context.Context, items []domain.PoolItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	beginner, ok := s.db.(store.TxBeginner)
	if !ok {
		// Already inside a caller-managed transaction.
		return s.insertItems(ctx, s.db, items)
	}

	var inserted int
	err := store.RunInTransaction(ctx, beginner, func(ctx context.Context, tx *sql.Tx) error {
		n, err := s.insertItems(ctx, tx, items)
		if err != nil {
			return err
		}
		inserted = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

func (s *PostgresPoolStore) insertItems(ctx context.Context, db store.DBTX, items []domain.PoolItem) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	codes := make([]string, len(items))
	importedAt := make([]time.Time, len(items))
	batchIDs := make([]string, len(items))
	sources := make([]string, len(items))
	for i := range items {
		codes[i] = items[i].Code
		importedAt[i] = items[i].ImportedAt
		batchIDs[i] = items[i].BatchID
		sources[i] = items[i].Source
	}

	result, err := db.ExecContext(ctx, insertItemsQuery, codes, importedAt, batchIDs, sources)
	if err != nil {
		log.Error("failed to insert pool items",
			slog.String("batch_id", items[0].BatchID),
			slog.Int("count", len(items)),
			slog.String("error", err.Error()))
		return 0, store.NewStoreError(poolItemEntity, "import", "failed to insert items", MapError(err))
	}

	n, err := rowsAffected(result)
	if err != nil {
		return 0, store.NewStoreError(poolItemEntity, "import", "failed to insert items", err)
	}

	return int(n), nil
}

// DeleteUsed implements store.PoolStore.DeleteUsed
func (s *PostgresPoolStore) DeleteUsed(ctx context.Context) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, deleteUsedQuery)
	if err != nil {
		log.Error("failed to delete used pool items", slog.String("error", err.Error()))
		return 0, store.NewStoreError(poolItemEntity, "purge", "failed to delete used items", MapError(err))
	}

	n, err := rowsAffected(result)
	if err != nil {
		return 0, store.NewStoreError(poolItemEntity, "purge", "failed to delete used items", err)
	}

	log.Info("used pool items deleted", slog.Int64("count", n))
	return n, nil
}

// Stats implements store.PoolStore.Stats
func (s *PostgresPoolStore) Stats(ctx context.Context) (domain.PoolStats, error) {
	var stats domain.PoolStats
	err := s.db.QueryRowContext(ctx, statsQuery).Scan(&stats.Total, &stats.Available, &stats.Used)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to count pool items",
			slog.String("error", err.Error()))
		return domain.PoolStats{}, store.NewStoreError(poolItemEntity, "stats", "failed to count items", MapError(err))
	}
	return stats, nil
}

// ListBatches implements store.PoolStore.ListBatches
func (s *PostgresPoolStore) ListBatches(ctx context.Context) ([]domain.BatchSummary, error) {
	rows, err := s.db.QueryContext(ctx, listBatchesQuery)
	if err != nil {
		return nil, store.NewStoreError(poolItemEntity, "list_batches", "failed to query batches", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var batches []domain.BatchSummary
	for rows.Next() {
		var b domain.BatchSummary
		if err := rows.Scan(&b.BatchID, &b.Source, &b.Total, &b.Available, &b.Used, &b.FirstImportedAt); err != nil {
			return nil, store.NewStoreError(poolItemEntity, "list_batches", "failed to scan batch", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError(poolItemEntity, "list_batches", "failed to iterate batches", err)
	}

	return batches, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPoolItem(row rowScanner) (*domain.PoolItem, error) {
	var (
		item        domain.PoolItem
		status      string
		usedAt      sql.NullTime
		claimantKey sql.NullString
	)

	err := row.Scan(
		&item.ID,
		&item.Code,
		&status,
		&item.ImportedAt,
		&usedAt,
		&claimantKey,
		&item.BatchID,
		&item.Source,
	)
	if err != nil {
		return nil, err
	}

	item.Status = domain.ItemStatus(status)
	if usedAt.Valid {
		t := usedAt.Time.UTC()
		item.UsedAt = &t
	}
	if claimantKey.Valid {
		k := claimantKey.String
		item.ClaimantKey = &k
	}
	item.ImportedAt = item.ImportedAt.UTC()

	return &item, nil
}

func collectPoolItems(rows *sql.Rows) ([]domain.PoolItem, error) {
	defer func() { _ = rows.Close() }()

	items := make([]domain.PoolItem, 0)
	for rows.Next() {
		item, err := scanPoolItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
