// Package fsstore is a docstore backend on a local directory tree.
//
// Folders are directories and a FolderRef is the slash-separated path of the
// folder relative to the data directory. Documents are replaced atomically
// (write to a temp file, then rename), so readers never see a torn document.
package fsstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/pdcadash/pdca/internal/docstore"
)

func init() {
	docstore.Register("fs", func(opts docstore.Options) (docstore.Store, error) {
		return New(opts.Path)
	})
}

// Store is a directory-backed docstore.Store.
type Store struct {
	dir string
}

// New returns a store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("fsstore: data directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("fsstore: failed to resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("fsstore: failed to create data directory: %w", err)
	}
	return &Store{dir: abs}, nil
}

// Dir returns the absolute data directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the absolute directory for a folder ref.
func (s *Store) Path(folder docstore.FolderRef) (string, error) {
	rel := strings.Trim(string(folder), "/")
	if rel == "" {
		return s.dir, nil
	}
	for _, part := range strings.Split(rel, "/") {
		if err := docstore.ValidateName(part); err != nil {
			return "", fmt.Errorf("folder ref %q: %w", folder, err)
		}
	}
	return filepath.Join(s.dir, filepath.FromSlash(rel)), nil
}

func child(parent docstore.FolderRef, name string) docstore.FolderRef {
	if parent == docstore.Root {
		return docstore.FolderRef(name)
	}
	return docstore.FolderRef(path.Join(string(parent), name))
}

func (s *Store) CreateOrGetFolder(ctx context.Context, name string, parent docstore.FolderRef) (docstore.FolderRef, error) {
	if err := docstore.ValidateName(name); err != nil {
		return "", err
	}
	parentDir, err := s.Path(parent)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", docstore.Fail(docstore.OpCreateFolder, parent, name, err)
	}
	if _, err := os.Stat(parentDir); errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("parent folder %q: %w", parent, docstore.ErrNotFound)
	}

	// MkdirAll succeeds when the directory already exists.
	if err := os.MkdirAll(filepath.Join(parentDir, name), 0755); err != nil {
		return "", docstore.Fail(docstore.OpCreateFolder, parent, name, err)
	}
	return child(parent, name), nil
}

func (s *Store) FindFolder(ctx context.Context, name string, parent docstore.FolderRef) (docstore.FolderRef, error) {
	if err := docstore.ValidateName(name); err != nil {
		return "", err
	}
	parentDir, err := s.Path(parent)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", docstore.Fail(docstore.OpFindFolder, parent, name, err)
	}

	info, err := os.Stat(filepath.Join(parentDir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("folder %q: %w", name, docstore.ErrNotFound)
	}
	if err != nil {
		return "", docstore.Fail(docstore.OpFindFolder, parent, name, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%q is a document, not a folder: %w", name, docstore.ErrNotFound)
	}
	return child(parent, name), nil
}

func (s *Store) ReadFile(ctx context.Context, name string, folder docstore.FolderRef) ([]byte, error) {
	if err := docstore.ValidateName(name); err != nil {
		return nil, err
	}
	dir, err := s.Path(folder)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, docstore.Fail(docstore.OpRead, folder, name, err)
	}

	// #nosec G304 - path is built from validated components
	data, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, docstore.ErrNotFound)
	}
	if err != nil {
		return nil, docstore.Fail(docstore.OpRead, folder, name, err)
	}
	return data, nil
}

func (s *Store) WriteFile(ctx context.Context, name string, folder docstore.FolderRef, data []byte) error {
	if err := docstore.ValidateName(name); err != nil {
		return err
	}
	dir, err := s.Path(folder)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return docstore.Fail(docstore.OpWrite, folder, name, err)
	}

	if err := atomic.WriteFile(filepath.Join(dir, name), bytes.NewReader(data)); err != nil {
		return docstore.Fail(docstore.OpWrite, folder, name, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, folder docstore.FolderRef) ([]docstore.Entry, error) {
	dir, err := s.Path(folder)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, docstore.Fail(docstore.OpList, folder, "", err)
	}

	dirEntries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("folder %q: %w", folder, docstore.ErrNotFound)
	}
	if err != nil {
		return nil, docstore.Fail(docstore.OpList, folder, "", err)
	}

	entries := make([]docstore.Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		// Hidden files are not documents.
		if strings.HasPrefix(de.Name(), ".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entry := docstore.Entry{
			Name:       de.Name(),
			IsFolder:   de.IsDir(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		}
		if de.IsDir() {
			entry.Ref = child(folder, de.Name())
			entry.Size = 0
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
