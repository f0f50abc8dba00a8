package docstore

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Options configures a backend. Each backend reads the fields it needs.
type Options struct {
	// Path is the data directory (fs) or database file (sqlite).
	Path string

	// S3-compatible object storage.
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
	Region    string

	// Timeout bounds backend setup calls such as bucket checks.
	Timeout time.Duration
}

// Constructor creates a Store from options.
// Implementations register themselves with Register().
type Constructor func(opts Options) (Store, error)

var (
	registry      = make(map[string]Constructor)
	registryMutex sync.RWMutex
)

func init() {
	Register("memory", func(Options) (Store, error) {
		return NewMemory(), nil
	})
}

// Register registers a backend constructor.
// This is called from init() functions in backend packages.
//
// Example:
//
//	func init() {
//	    docstore.Register("fs", New)
//	}
func Register(name string, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	name = normalizeBackendName(name)
	if constructor == nil {
		panic(fmt.Sprintf("docstore: Register constructor is nil for backend %s", name))
	}
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("docstore: Register called twice for backend %s", name))
	}
	registry[name] = constructor
}

// Open creates a Store using the backend registered under name.
func Open(name string, opts Options) (Store, error) {
	registryMutex.RLock()
	constructor := registry[normalizeBackendName(name)]
	registryMutex.RUnlock()

	if constructor == nil {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownBackend, name, Backends())
	}
	s, err := constructor(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", name, err)
	}
	return s, nil
}

// IsRegistered returns true if a backend is registered under name.
func IsRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, exists := registry[normalizeBackendName(name)]
	return exists
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeBackendName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
