package docstore

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// FolderRef identifies a folder inside a backend. The empty ref is the
// backend root.
type FolderRef string

// Root is the backend root folder.
const Root FolderRef = ""

// Op names a Store operation. It is used in errors and fault injection.
type Op string

const (
	OpCreateFolder Op = "create-folder"
	OpFindFolder   Op = "find-folder"
	OpRead         Op = "read"
	OpWrite        Op = "write"
	OpList         Op = "list"
)

// Entry is one child of a folder.
type Entry struct {
	// Ref is set for folders and is the ref to pass to other calls.
	Ref        FolderRef
	Name       string
	IsFolder   bool
	Size       int64
	ModifiedAt time.Time
}

// Store is the document store capability every higher layer is built on.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateOrGetFolder returns the folder called name under parent,
	// creating it first if needed. Calling it twice with the same
	// arguments returns the same ref and never creates a duplicate.
	CreateOrGetFolder(ctx context.Context, name string, parent FolderRef) (FolderRef, error)

	// FindFolder returns the folder called name under parent, or
	// ErrNotFound.
	FindFolder(ctx context.Context, name string, parent FolderRef) (FolderRef, error)

	// ReadFile returns the raw contents of a document, or ErrNotFound.
	ReadFile(ctx context.Context, name string, folder FolderRef) ([]byte, error)

	// WriteFile replaces the document with data, creating it if needed.
	WriteFile(ctx context.Context, name string, folder FolderRef, data []byte) error

	// List returns the children of folder.
	List(ctx context.Context, folder FolderRef) ([]Entry, error)
}

// Closer is implemented by backends holding connections.
type Closer interface {
	Close() error
}

// Close closes s if the backend holds resources.
func Close(s Store) error {
	if c, ok := s.(Closer); ok {
		return c.Close()
	}
	return nil
}

// ValidateName checks that name can be used as a folder or document name
// in every backend.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidName, name)
	}
	return nil
}
