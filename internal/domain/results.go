package domain

import "time"

// PoolStats is a point-in-time count of pool items by status.
type PoolStats struct {
	Total     int64 `json:"total"`
	Available int64 `json:"available"`
	Used      int64 `json:"used"`
}

// ImportResult reports the outcome of a batch import. Duplicates and invalid
// codes are counted rather than failing the batch.
type ImportResult struct {
	BatchID           string `json:"batch_id"`
	Inserted          int    `json:"inserted"`
	SkippedDuplicates int    `json:"skipped_duplicates"`
	Invalid           int    `json:"invalid"`
}

// BatchSummary describes the items imported under one batch ID.
type BatchSummary struct {
	BatchID         string    `json:"batch_id"`
	Source          string    `json:"source"`
	Total           int64     `json:"total"`
	Available       int64     `json:"available"`
	Used            int64     `json:"used"`
	FirstImportedAt time.Time `json:"first_imported_at"`
}
