package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateRecord indicates a record id was already used.
	ErrDuplicateRecord = errors.New("store: duplicate record id")
)

// ConflictError is returned by SwapPointer when the pointer no longer holds
// the expected record id.
type ConflictError struct {
	Key      PointerKey
	Expected string // "" means the caller expected no pointer
	Actual   string // "" means no pointer exists
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("store: pointer %s moved (expected %q, actual %q)",
		e.Key, e.Expected, e.Actual)
}

// IsConflict reports whether err is a pointer compare-and-swap conflict.
// Uses errors.As to handle wrapped errors.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// StorageError wraps a backend I/O failure. It is fatal to a single
// operation, not to the process.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is a backend failure.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
