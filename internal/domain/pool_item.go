package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ItemStatus represents the lifecycle state of a pool item
type ItemStatus string

// Possible item status values. The only supported transition is
// ItemStatusAvailable -> ItemStatusUsed.
const (
	ItemStatusAvailable ItemStatus = "available"
	ItemStatusUsed      ItemStatus = "used"
)

// MaxCodeLength is the longest code accepted by the pool.
const MaxCodeLength = 255

// MaxBatchIDLength is the longest batch ID accepted by the pool.
const MaxBatchIDLength = 64

// batchIDLength is the length of generated batch tokens.
const batchIDLength = 8

var validate = validator.New()

// PoolItem is a single code in the pool together with its provenance and
// claim metadata. ID is assigned by the store at insertion and defines the
// order in which items are claimed.
type PoolItem struct {
	ID          int64      `json:"id"`
	Code        string     `json:"code"         validate:"required,max=255"`
	Status      ItemStatus `json:"status"       validate:"required,oneof=available used"`
	ImportedAt  time.Time  `json:"imported_at"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
	ClaimantKey *string    `json:"claimant_key,omitempty"`
	BatchID     string     `json:"batch_id"     validate:"required,max=64"`
	Source      string     `json:"source"`
}

// NewPoolItem builds an available item for insertion. The code is normalized
// and validated; the ID is left for the store to assign.
func NewPoolItem(code, batchID, source string, importedAt time.Time) (*PoolItem, error) {
	normalized, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}

	return &PoolItem{
		Code:       normalized,
		Status:     ItemStatusAvailable,
		ImportedAt: importedAt.UTC(),
		BatchID:    batchID,
		Source:     source,
	}, nil
}

// Validate checks if the PoolItem has valid data.
func (p *PoolItem) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if p.Status == ItemStatusUsed && p.UsedAt == nil {
		return fmt.Errorf("%w: used item without used_at", ErrValidation)
	}

	if p.Status == ItemStatusAvailable && (p.UsedAt != nil || p.ClaimantKey != nil) {
		return fmt.Errorf("%w: available item carries claim metadata", ErrValidation)
	}

	return nil
}

// IsAvailable reports whether the item can still be claimed.
func (p *PoolItem) IsAvailable() bool {
	return p.Status == ItemStatusAvailable
}

// Claim transitions the item to used. It is intended for in-memory stores;
// database stores perform the same transition in a single statement.
func (p *PoolItem) Claim(claimantKey string, at time.Time) error {
	if p.Status != ItemStatusAvailable {
		return fmt.Errorf("%w: item %d is %s", ErrInvalidStatus, p.ID, p.Status)
	}

	usedAt := at.UTC()
	p.Status = ItemStatusUsed
	p.UsedAt = &usedAt
	if claimantKey != "" {
		p.ClaimantKey = &claimantKey
	}
	return nil
}

// NormalizeCode trims surrounding whitespace and validates the result.
func NormalizeCode(code string) (string, error) {
	normalized := strings.TrimSpace(code)

	if err := validate.Var(normalized, "required,max=255"); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}

	if !utf8.ValidString(normalized) {
		return "", fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidCode, code)
	}

	if strings.IndexFunc(normalized, unicode.IsControl) >= 0 {
		return "", fmt.Errorf("%w: %q contains control characters", ErrInvalidCode, code)
	}

	return normalized, nil
}

// IsValidStatus checks if the given status is a valid ItemStatus.
func IsValidStatus(status ItemStatus) bool {
	switch status {
	case ItemStatusAvailable, ItemStatusUsed:
		return true
	default:
		return false
	}
}

// ValidateBatchID checks a caller-supplied batch ID.
func ValidateBatchID(batchID string) error {
	if err := validate.Var(batchID, "required,max=64,printascii"); err != nil {
		return fmt.Errorf("%w: invalid batch id %q", ErrValidation, batchID)
	}
	return nil
}

// NewBatchID returns a short opaque token used when an import omits its batch ID.
func NewBatchID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:batchIDLength]
}
