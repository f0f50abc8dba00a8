package docstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// FaultFunc decides whether a Memory call should fail. Returning a non-nil
// error makes the call fail with that error wrapped as a store failure.
type FaultFunc func(op Op, folder FolderRef, name string) error

// Memory is an in-process Store. It backs tests and the demo mode.
//
// Folder refs are generated ("m1", "m2", ...) so callers cannot rely on
// refs looking like paths, which mirrors the remote backends.
type Memory struct {
	mu      sync.RWMutex
	next    int
	folders map[FolderRef]*memFolder
	fault   FaultFunc
	now     func() time.Time
}

type memFolder struct {
	name     string
	children map[string]FolderRef
	files    map[string]memFile
}

type memFile struct {
	data       []byte
	modifiedAt time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		folders: map[FolderRef]*memFolder{
			Root: newMemFolder(""),
		},
		now: time.Now,
	}
}

func newMemFolder(name string) *memFolder {
	return &memFolder{
		name:     name,
		children: make(map[string]FolderRef),
		files:    make(map[string]memFile),
	}
}

// InjectFault installs f; pass nil to clear it.
func (m *Memory) InjectFault(f FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

func (m *Memory) check(op Op, folder FolderRef, name string) error {
	if m.fault == nil {
		return nil
	}
	if err := m.fault(op, folder, name); err != nil {
		return Fail(op, folder, name, err)
	}
	return nil
}

func (m *Memory) CreateOrGetFolder(ctx context.Context, name string, parent FolderRef) (FolderRef, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", Fail(OpCreateFolder, parent, name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(OpCreateFolder, parent, name); err != nil {
		return "", err
	}
	p, ok := m.folders[parent]
	if !ok {
		return "", fmt.Errorf("parent folder %q: %w", parent, ErrNotFound)
	}
	if ref, ok := p.children[name]; ok {
		return ref, nil
	}
	m.next++
	ref := FolderRef("m" + strconv.Itoa(m.next))
	m.folders[ref] = newMemFolder(name)
	p.children[name] = ref
	return ref, nil
}

func (m *Memory) FindFolder(ctx context.Context, name string, parent FolderRef) (FolderRef, error) {
	if err := ctx.Err(); err != nil {
		return "", Fail(OpFindFolder, parent, name, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(OpFindFolder, parent, name); err != nil {
		return "", err
	}
	p, ok := m.folders[parent]
	if !ok {
		return "", fmt.Errorf("parent folder %q: %w", parent, ErrNotFound)
	}
	ref, ok := p.children[name]
	if !ok {
		return "", fmt.Errorf("folder %q: %w", name, ErrNotFound)
	}
	return ref, nil
}

func (m *Memory) ReadFile(ctx context.Context, name string, folder FolderRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, Fail(OpRead, folder, name, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(OpRead, folder, name); err != nil {
		return nil, err
	}
	f, ok := m.folders[folder]
	if !ok {
		return nil, fmt.Errorf("folder %q: %w", folder, ErrNotFound)
	}
	file, ok := f.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	out := make([]byte, len(file.data))
	copy(out, file.data)
	return out, nil
}

func (m *Memory) WriteFile(ctx context.Context, name string, folder FolderRef, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return Fail(OpWrite, folder, name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(OpWrite, folder, name); err != nil {
		return err
	}
	f, ok := m.folders[folder]
	if !ok {
		return Fail(OpWrite, folder, name, fmt.Errorf("folder %q does not exist", folder))
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	f.files[name] = memFile{data: stored, modifiedAt: m.now()}
	return nil
}

func (m *Memory) List(ctx context.Context, folder FolderRef) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, Fail(OpList, folder, "", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(OpList, folder, ""); err != nil {
		return nil, err
	}
	f, ok := m.folders[folder]
	if !ok {
		return nil, fmt.Errorf("folder %q: %w", folder, ErrNotFound)
	}

	entries := make([]Entry, 0, len(f.children)+len(f.files))
	for name, ref := range f.children {
		entries = append(entries, Entry{Ref: ref, Name: name, IsFolder: true})
	}
	for name, file := range f.files {
		entries = append(entries, Entry{
			Name:       name,
			Size:       int64(len(file.data)),
			ModifiedAt: file.modifiedAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
