package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a document id or path resolves to no row.
var ErrNotFound = errors.New("document not found")

// DuplicatePathError is returned when creating a document whose file_path
// is already registered.
type DuplicatePathError struct {
	Path string
}

func (e *DuplicatePathError) Error() string {
	return fmt.Sprintf("document path already registered: %s", e.Path)
}

// UnsupportedOperationError is returned when an operation does not apply to
// the document's storage mode, e.g. reading DB content of a FILE_ONLY
// document before it has been synced.
type UnsupportedOperationError struct {
	Op   string
	Mode StorageMode
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("operation %s not supported for storage mode %s", e.Op, e.Mode)
}

// HashMismatchError reports detected content corruption: stored content no
// longer hashes to the recorded hash. Never tolerated silently.
type HashMismatchError struct {
	Expected string
	Actual   string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("content hash mismatch: expected %s, got %s", e.Expected, e.Actual)
}
