package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/phrazzld/codepool/internal/domain"
	"github.com/phrazzld/codepool/internal/platform/logger"
	"github.com/phrazzld/codepool/internal/store"
	"github.com/phrazzld/codepool/internal/task"
)

const importerService = "importer"

// maxCodeLineLength bounds a single line read by ParseCodes.
const maxCodeLineLength = 64 * 1024

// BatchImporter adds new codes to the pool.
type BatchImporter struct {
	store          store.PoolStore
	maxImportBatch int
	logger         *slog.Logger
	now            func() time.Time
}

// NewBatchImporter creates a BatchImporter over poolStore. A positive
// maxImportBatch caps the number of codes accepted per batch; zero means no
// cap.
func NewBatchImporter(poolStore store.PoolStore, maxImportBatch int, logger *slog.Logger) (*BatchImporter, error) {
	if poolStore == nil {
		return nil, ErrNilStore
	}
	if maxImportBatch < 0 {
		return nil, fmt.Errorf("%w: max import batch %d", domain.ErrInvalidCount, maxImportBatch)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &BatchImporter{
		store:          poolStore,
		maxImportBatch: maxImportBatch,
		logger:         logger.With("component", "batch_importer"),
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

// withStore returns a copy of the importer bound to another store.
func (i *BatchImporter) withStore(poolStore store.PoolStore) *BatchImporter {
	c := *i
	c.store = poolStore
	return &c
}

// ImportBatch inserts codes as one batch. Codes are trimmed; invalid codes are
// dropped and counted, repeats inside the batch are collapsed, and codes that
// are already pooled are skipped and counted. Either every remaining code is
// inserted or, on error, none is. An empty batchID is replaced by a generated
// token, which is returned in the result.
func (i *BatchImporter) ImportBatch(ctx context.Context, codes []string, batchID, source string) (domain.ImportResult, error) {
	if err := i.checkSize(codes); err != nil {
		return domain.ImportResult{}, err
	}

	batchID, err := resolveBatchID(batchID)
	if err != nil {
		return domain.ImportResult{}, err
	}

	log := logger.FromContextOrDefault(ctx, i.logger).With("batch_id", batchID)
	result := domain.ImportResult{BatchID: batchID}

	importedAt := i.now()
	seen := make(map[string]struct{}, len(codes))
	items := make([]domain.PoolItem, 0, len(codes))
	for _, raw := range codes {
		item, err := domain.NewPoolItem(raw, batchID, source, importedAt)
		if err != nil {
			result.Invalid++
			continue
		}
		if _, dup := seen[item.Code]; dup {
			result.SkippedDuplicates++
			continue
		}
		seen[item.Code] = struct{}{}
		items = append(items, *item)
	}

	if result.Invalid > 0 {
		log.Warn("invalid codes dropped from batch", "invalid", result.Invalid)
	}

	if len(items) > 0 {
		inserted, err := i.store.InsertBatch(ctx, items)
		if err != nil {
			log.Error("failed to import batch", "codes", len(items), "error", err)
			return domain.ImportResult{}, NewServiceError(importerService, "import_batch", "failed to insert codes", err)
		}
		result.Inserted = inserted
		result.SkippedDuplicates += len(items) - inserted
	}

	log.Info("batch imported",
		"source", source,
		"submitted", len(codes),
		"inserted", result.Inserted,
		"skipped_duplicates", result.SkippedDuplicates,
		"invalid", result.Invalid)
	return result, nil
}

// ListBatches summarises the pool by import batch, oldest first.
func (i *BatchImporter) ListBatches(ctx context.Context) ([]domain.BatchSummary, error) {
	batches, err := i.store.ListBatches(ctx)
	if err != nil {
		return nil, NewServiceError(importerService, "list_batches", "failed to list batches", err)
	}
	return batches, nil
}

// ImportWork returns work that imports codes through the task's own store.
// The batch ID and the size limit are resolved up front so the caller can
// report them before the work runs.
func (i *BatchImporter) ImportWork(codes []string, batchID, source string) (task.Work, string, error) {
	if err := i.checkSize(codes); err != nil {
		return nil, "", err
	}

	batchID, err := resolveBatchID(batchID)
	if err != nil {
		return nil, "", err
	}

	work := func(ctx context.Context, scope task.Scope) error {
		_, err := i.withStore(scope.Store()).ImportBatch(ctx, codes, batchID, source)
		return err
	}
	return work, batchID, nil
}

// resolveBatchID trims batchID and generates one when it is empty.
func resolveBatchID(batchID string) (string, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return domain.NewBatchID(), nil
	}
	if err := domain.ValidateBatchID(batchID); err != nil {
		return "", err
	}
	return batchID, nil
}

func (i *BatchImporter) checkSize(codes []string) error {
	if i.maxImportBatch > 0 && len(codes) > i.maxImportBatch {
		return fmt.Errorf("%w: %d codes exceeds the maximum of %d",
			domain.ErrBatchTooLarge, len(codes), i.maxImportBatch)
	}
	return nil
}

// ParseCodes reads one code per line from r. Blank lines and lines starting
// with '#' are ignored. Codes are returned as read; validation happens on
// import.
func ParseCodes(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxCodeLineLength)

	var codes []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		codes = append(codes, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read codes: %w", err)
	}

	return codes, nil
}
