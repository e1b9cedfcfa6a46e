package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/codepool/internal/domain"
	"github.com/phrazzld/codepool/internal/store"
)

// ErrNilStore is returned by constructors when no pool store is supplied.
var ErrNilStore = errors.New("pool store cannot be nil")

// expectedErrors are returned to callers unwrapped so they keep their own
// message and can be matched with errors.Is.
var expectedErrors = []error{
	domain.ErrPoolExhausted,
	domain.ErrValidation,
	domain.ErrInvalidCount,
	domain.ErrInvalidCode,
	domain.ErrBatchTooLarge,
	domain.ErrItemNotClaimed,
	domain.ErrEmptyClaimantKey,
	store.ErrPoolItemNotFound,
	context.Canceled,
	context.DeadlineExceeded,
}

// ServiceError wraps unexpected failures from the pool services with context.
type ServiceError struct {
	// Service is the service that failed (e.g., "allocator", "importer")
	Service string
	// Operation is the operation that failed (e.g., "claim_next", "import_batch")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Service, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Service, e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError wraps err in a ServiceError. Expected conditions such as
// domain.ErrPoolExhausted or a cancelled context are returned unchanged.
func NewServiceError(service, operation, message string, err error) error {
	if err == nil {
		return nil
	}

	for _, expected := range expectedErrors {
		if errors.Is(err, expected) {
			return err
		}
	}

	return &ServiceError{
		Service:   service,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
