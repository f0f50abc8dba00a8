// Package watch keeps client aggregates fresh on a local directory store.
//
// The daemon:
// 1. Rebuilds the aggregates of every client on start
// 2. Watches the root folder, every client folder and every entity folder
// 3. Queues a client when one of its shards or its entities.json changes
// 4. Rebuilds queued clients once their changes have settled
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pdcadash/pdca/internal/aggregate"
	"github.com/pdcadash/pdca/internal/docstore"
	"github.com/pdcadash/pdca/internal/resolver"
	"github.com/pdcadash/pdca/internal/schema"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a client must be quiet before it is
	// rebuilt. Bursts of shard writes are folded into one rebuild.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns the default daemon configuration.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 2 * time.Second,
		Logger:           log.New(os.Stderr, "[watch] ", log.LstdFlags),
	}
}

// Rebuilder regenerates the aggregates of one client.
type Rebuilder interface {
	RebuildAggregate(ctx context.Context, clientID string) (aggregate.RebuildResult, error)
}

// Pather maps folder refs to local directories, as fsstore.Store does.
type Pather interface {
	Path(folder docstore.FolderRef) (string, error)
}

type dirKind int

const (
	dirRoot dirKind = iota
	dirClient
	dirEntity
)

type watchedDir struct {
	kind     dirKind
	clientID string
}

// Daemon rebuilds aggregates when shards change on disk.
type Daemon struct {
	paths     Pather
	res       *resolver.Resolver
	rebuilder Rebuilder
	config    *Config

	watcher *fsnotify.Watcher
	dirs    map[string]watchedDir
	dirsMu  sync.Mutex

	changeQueue   map[string]time.Time // clientID -> last change
	changeQueueMu sync.Mutex

	ready chan struct{}
	ctx   context.Context
	stop  context.CancelFunc
	wg    sync.WaitGroup
}

// New creates a daemon with the default configuration.
func New(paths Pather, res *resolver.Resolver, rebuilder Rebuilder) (*Daemon, error) {
	return NewWithConfig(paths, res, rebuilder, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(paths Pather, res *resolver.Resolver, rebuilder Rebuilder, config *Config) (*Daemon, error) {
	if paths == nil {
		return nil, fmt.Errorf("paths cannot be nil")
	}
	if res == nil || rebuilder == nil {
		return nil, fmt.Errorf("resolver and rebuilder are required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Daemon{
		paths:       paths,
		res:         res,
		rebuilder:   rebuilder,
		config:      config,
		watcher:     watcher,
		dirs:        make(map[string]watchedDir),
		changeQueue: make(map[string]time.Time),
		ready:       make(chan struct{}),
		ctx:         ctx,
		stop:        stop,
	}, nil
}

// Ready is closed once the initial rebuild is done and the watches are in
// place.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Start rebuilds every client, starts watching and blocks until ctx is
// cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting watch daemon")

	if err := d.RebuildAll(ctx); err != nil {
		return fmt.Errorf("initial rebuild failed: %w", err)
	}
	if err := d.refreshWatches(ctx); err != nil {
		return err
	}
	close(d.ready)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop shuts the daemon down and waits for its goroutines.
func (d *Daemon) Stop() error {
	d.stop()
	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()
	d.config.Logger.Println("Watch daemon stopped")
	return nil
}

// RebuildAll rebuilds the aggregates of every registered client. Per-client
// failures are logged; only failing to read clients.json is returned.
func (d *Daemon) RebuildAll(ctx context.Context) error {
	clients, err := d.res.Clients(ctx)
	if err != nil {
		return err
	}
	d.config.Logger.Printf("Rebuilding %d clients", len(clients))
	for _, c := range clients {
		d.rebuild(ctx, c.ID)
	}
	return nil
}

func (d *Daemon) rebuild(ctx context.Context, clientID string) {
	result, err := d.rebuilder.RebuildAggregate(ctx, clientID)
	if err != nil {
		d.config.Logger.Printf("WARNING: rebuild of %s failed: %v", clientID, err)
		return
	}
	d.config.Logger.Printf("Rebuilt %s: %d entities (%d skipped), %d tasks, %d cycles",
		clientID, result.EntitiesProcessed, result.EntitiesSkipped, result.Tasks, result.Cycles)
}

// refreshWatches adds the root, client and entity directories that are not
// watched yet.
func (d *Daemon) refreshWatches(ctx context.Context) error {
	rootDir, err := d.paths.Path(d.res.Root())
	if err != nil {
		return fmt.Errorf("failed to resolve root folder: %w", err)
	}
	if err := d.addWatch(rootDir, watchedDir{kind: dirRoot}); err != nil {
		return err
	}

	clients, err := d.res.Clients(ctx)
	if err != nil {
		return err
	}
	for _, c := range clients {
		folder, err := d.res.ResolveClientFolder(ctx, c.ID)
		if err != nil {
			d.config.Logger.Printf("WARNING: not watching client %s: %v", c.ID, err)
			continue
		}
		dir, err := d.paths.Path(folder)
		if err != nil {
			d.config.Logger.Printf("WARNING: not watching client %s: %v", c.ID, err)
			continue
		}
		if err := d.addWatch(dir, watchedDir{kind: dirClient, clientID: c.ID}); err != nil {
			d.config.Logger.Printf("WARNING: not watching client %s: %v", c.ID, err)
			continue
		}
		d.watchEntityDirs(dir, c.ID)
	}
	return nil
}

// watchEntityDirs watches every subdirectory of a client directory. Entity
// folders are provisioned lazily, so any of them may appear later.
func (d *Daemon) watchEntityDirs(clientDir, clientID string) {
	entries, err := os.ReadDir(clientDir)
	if err != nil {
		d.config.Logger.Printf("WARNING: failed to list %s: %v", clientDir, err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(clientDir, e.Name())
		if err := d.addWatch(dir, watchedDir{kind: dirEntity, clientID: clientID}); err != nil {
			d.config.Logger.Printf("WARNING: not watching %s: %v", dir, err)
		}
	}
}

func (d *Daemon) addWatch(dir string, w watchedDir) error {
	d.dirsMu.Lock()
	defer d.dirsMu.Unlock()
	if _, ok := d.dirs[dir]; ok {
		return nil
	}
	if err := d.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	d.dirs[dir] = w
	return nil
}

func (d *Daemon) lookup(dir string) (watchedDir, bool) {
	d.dirsMu.Lock()
	defer d.dirsMu.Unlock()
	w, ok := d.dirs[dir]
	return w, ok
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			d.handleEvent(event)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) handleEvent(event fsnotify.Event) {
	parent, ok := d.lookup(filepath.Dir(event.Name))
	if !ok {
		return
	}
	name := filepath.Base(event.Name)

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			switch parent.kind {
			case dirRoot:
				// A new client folder is picked up once clients.json lists it.
				d.refresh()
			case dirClient:
				if err := d.addWatch(event.Name, watchedDir{kind: dirEntity, clientID: parent.clientID}); err != nil {
					d.config.Logger.Printf("WARNING: not watching %s: %v", event.Name, err)
				}
				d.queueChange(parent.clientID)
			}
			return
		}
	}

	switch {
	case parent.kind == dirRoot && name == schema.ClientsFile:
		d.refresh()
	case parent.kind == dirClient && name == schema.EntitiesFile:
		d.queueChange(parent.clientID)
	case parent.kind == dirEntity && (name == schema.TasksFile || name == schema.CyclesFile):
		d.config.Logger.Printf("File event: %s %s", event.Op, event.Name)
		d.queueChange(parent.clientID)
	}
}

func (d *Daemon) refresh() {
	if err := d.refreshWatches(d.ctx); err != nil {
		d.config.Logger.Printf("WARNING: failed to refresh watches: %v", err)
	}
}

// queueChange marks a client as changed, restarting its debounce window.
func (d *Daemon) queueChange(clientID string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[clientID] = time.Now()
}

// processChangeQueue rebuilds queued clients with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			for _, clientID := range d.settledClients() {
				d.rebuild(d.ctx, clientID)
			}
		}
	}
}

// settledClients removes and returns the clients that have been quiet for
// the debounce interval.
func (d *Daemon) settledClients() []string {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	var ready []string
	for clientID, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, clientID)
		delete(d.changeQueue, clientID)
	}
	return ready
}
