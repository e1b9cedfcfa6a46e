// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrPoolExhausted is returned by claim operations when no available item
	// remains. It is an expected outcome, not a failure.
	ErrPoolExhausted = errors.New("pool exhausted")

	// ErrInvalidCode is returned when a code is empty, too long, or contains
	// control characters.
	ErrInvalidCode = errors.New("invalid code")

	// ErrInvalidStatus is returned when an item status is not recognised.
	ErrInvalidStatus = errors.New("invalid item status")

	// ErrInvalidCount is returned when a claim batch size is out of range.
	ErrInvalidCount = errors.New("invalid claim count")

	// ErrBatchTooLarge is returned when an import batch exceeds the configured limit.
	ErrBatchTooLarge = errors.New("import batch too large")

	// ErrItemNotClaimed is returned when claimant metadata is attached to an
	// item that is still available.
	ErrItemNotClaimed = errors.New("item has not been claimed")

	// ErrEmptyClaimantKey is returned when a claimant key is blank.
	ErrEmptyClaimantKey = errors.New("claimant key cannot be empty")
)
