package core

import (
	"errors"
	"fmt"
)

// Common errors returned by memtide operations.
var (
	// ErrNotFound is returned when a memory entry does not exist.
	ErrNotFound = errors.New("memory entry not found")

	// ErrEntityNotFound is returned when a graph entity does not exist.
	ErrEntityNotFound = errors.New("graph entity not found")

	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidInput is returned when input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDimensionMismatch is returned when two embedding vectors have
	// different lengths. Similarity between mismatched vectors is a hard
	// error, never a silent zero.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrMissingContent is returned when an extraction result lacks the
	// required content field.
	ErrMissingContent = errors.New("extraction result missing content")

	// ErrNoPersistentStore is returned when a fact operation requires a
	// persistent store and none is configured.
	ErrNoPersistentStore = errors.New("no persistent store configured")

	// ErrStorageOperation is returned when a storage operation fails.
	ErrStorageOperation = errors.New("storage operation failed")
)

// MemoryError wraps errors with operation context.
type MemoryError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *MemoryError) Error() string {
	return fmt.Sprintf("memtide: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError. It returns nil when err is
// nil so call sites can wrap unconditionally.
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{Op: op, Err: err}
}
