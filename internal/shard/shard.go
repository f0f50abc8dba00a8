// Package shard reads and writes per-folder JSON list documents.
//
// Load never fails on a missing or malformed document: the first write to an
// entity creates its shard, and a corrupt shard is logged and read as empty
// so one bad document does not break every view of a client. Only a store
// failure is returned. Save overwrites the whole document.
package shard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/pdcadash/pdca/internal/docstore"
	"github.com/pdcadash/pdca/internal/schema"
)

var defaultLogger = log.New(os.Stderr, "[shard] ", log.LstdFlags)

// Accessor loads and saves shards, logging degraded reads to its logger.
type Accessor struct {
	store  docstore.Store
	logger *log.Logger
}

// New returns an accessor. If logger is nil, a default logger writing to
// stderr is used.
func New(store docstore.Store, logger *log.Logger) *Accessor {
	if logger == nil {
		logger = defaultLogger
	}
	return &Accessor{store: store, logger: logger}
}

// Load reads the list document filename from folder.
func Load[T any](ctx context.Context, a *Accessor, folder docstore.FolderRef, filename string) ([]T, error) {
	raw, err := a.store.ReadFile(ctx, filename, folder)
	if docstore.IsNotFound(err) {
		return []T{}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := schema.ValidateDocument(filename, raw); err != nil {
		a.logger.Printf("WARNING: ignoring malformed %s in folder %s: %v", filename, folder, err)
		return []T{}, nil
	}

	var list []T
	if err := json.Unmarshal(raw, &list); err != nil {
		a.logger.Printf("WARNING: ignoring malformed %s in folder %s: %v", filename, folder, err)
		return []T{}, nil
	}
	if list == nil {
		list = []T{}
	}
	return list, nil
}

// Save overwrites filename in folder with list.
func Save[T any](ctx context.Context, a *Accessor, list []T, folder docstore.FolderRef, filename string) error {
	if list == nil {
		list = []T{}
	}
	if err := docstore.WriteJSON(ctx, a.store, list, filename, folder); err != nil {
		return fmt.Errorf("failed to save %s: %w", filename, err)
	}
	return nil
}
