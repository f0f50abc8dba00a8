package docstore

import (
	"context"
	"errors"
	"fmt"
)

// Errors returned by Store implementations.
//
// Check them with errors.Is():
//
//	if errors.Is(err, docstore.ErrNotFound) {
//	    // the document (or folder) does not exist, the store is reachable
//	}
var (
	// ErrNotFound is returned when a folder or document is absent but the
	// store itself answered.
	ErrNotFound = errors.New("not found")

	// ErrStoreFailure is returned when the backend call failed. It is
	// carried by *StoreError.
	ErrStoreFailure = errors.New("store failure")

	// ErrTimeout is returned when a backend call exceeds the per-call
	// timeout. A timeout is always also a store failure.
	ErrTimeout = errors.New("store call timed out")

	// ErrInvalidName is returned for folder or document names that cannot
	// be stored (empty, path separators, "." or "..").
	ErrInvalidName = errors.New("invalid name")

	// ErrUnknownBackend is returned by Open for unregistered backends.
	ErrUnknownBackend = errors.New("unknown backend")
)

// StoreError describes a failed backend call.
type StoreError struct {
	Op     Op
	Folder FolderRef
	Name   string
	Err    error
}

func (e *StoreError) Error() string {
	target := e.Name
	if e.Folder != "" {
		target = string(e.Folder) + "/" + e.Name
	}
	if target == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, target, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports StoreError as ErrStoreFailure.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreFailure
}

// Fail wraps err as a store failure for op. Backends use it for every error
// that is not ErrNotFound. A nil err stays nil.
func Fail(op Op, folder FolderRef, name string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return &StoreError{Op: op, Folder: folder, Name: name, Err: err}
}

// IsRetryable returns true if the error is a store failure that may succeed
// on a later attempt. NotFound, invalid names and caller cancellation are
// not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidName) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrStoreFailure)
}

// IsNotFound is shorthand for errors.Is(err, ErrNotFound).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
