// Package resolver maps client and entity ids to store folders.
//
// The mapping lives in two index documents: clients.json in the store root
// and entities.json in each client folder. An absent index is an empty
// index. A missing id is ErrNotFound; an index that cannot be read is a
// store failure and is returned unchanged so callers can tell them apart.
package resolver

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pdcadash/pdca/internal/docstore"
	"github.com/pdcadash/pdca/internal/schema"
)

// Resolver reads and maintains the client and entity indexes.
type Resolver struct {
	store  docstore.Store
	root   docstore.FolderRef
	logger *log.Logger
	now    func() time.Time
}

// New returns a resolver whose clients.json lives in root.
//
// If logger is nil, a default logger writing to stderr is used.
func New(store docstore.Store, root docstore.FolderRef, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(os.Stderr, "[resolver] ", log.LstdFlags)
	}
	return &Resolver{store: store, root: root, logger: logger, now: time.Now}
}

// Store returns the underlying document store.
func (r *Resolver) Store() docstore.Store {
	return r.store
}

// Root returns the folder holding clients.json.
func (r *Resolver) Root() docstore.FolderRef {
	return r.root
}

// readIndex reads an index document. An index that does not parse is
// reported as a store failure, like one that cannot be fetched.
func readIndex[T any](ctx context.Context, s docstore.Store, name string, folder docstore.FolderRef) ([]T, error) {
	list, err := docstore.ReadJSON[[]T](ctx, s, name, folder)
	if docstore.IsNotFound(err) {
		return []T{}, nil
	}
	if err != nil {
		return nil, docstore.Fail(docstore.OpRead, folder, name, fmt.Errorf("failed to read %s: %w", name, err))
	}
	if list == nil {
		list = []T{}
	}
	return list, nil
}

// Clients returns every registered client.
func (r *Resolver) Clients(ctx context.Context) ([]schema.Client, error) {
	return readIndex[schema.Client](ctx, r.store, schema.ClientsFile, r.root)
}

// Client returns the registered client with id.
func (r *Resolver) Client(ctx context.Context, clientID string) (schema.Client, error) {
	clients, err := r.Clients(ctx)
	if err != nil {
		return schema.Client{}, err
	}
	for _, c := range clients {
		if c.ID == clientID {
			return c, nil
		}
	}
	return schema.Client{}, fmt.Errorf("client %q: %w", clientID, docstore.ErrNotFound)
}

// ResolveClientFolder returns the folder of a client. A client without a
// stored folder ref is looked up by its id under the root.
func (r *Resolver) ResolveClientFolder(ctx context.Context, clientID string) (docstore.FolderRef, error) {
	c, err := r.Client(ctx, clientID)
	if err != nil {
		return "", err
	}
	if ref := c.FolderRef(); ref != "" {
		return docstore.FolderRef(ref), nil
	}
	ref, err := r.store.FindFolder(ctx, c.ID, r.root)
	if err != nil {
		return "", fmt.Errorf("folder of client %q: %w", clientID, err)
	}
	return ref, nil
}

// Entities returns the entity index of a client folder.
func (r *Resolver) Entities(ctx context.Context, clientFolder docstore.FolderRef) ([]schema.Entity, error) {
	return readIndex[schema.Entity](ctx, r.store, schema.EntitiesFile, clientFolder)
}

// Entity returns one entry of the entity index.
func (r *Resolver) Entity(ctx context.Context, clientFolder docstore.FolderRef, entityID string) (schema.Entity, error) {
	entities, err := r.Entities(ctx, clientFolder)
	if err != nil {
		return schema.Entity{}, err
	}
	for _, e := range entities {
		if e.ID == entityID {
			return e, nil
		}
	}
	return schema.Entity{}, fmt.Errorf("entity %q: %w", entityID, docstore.ErrNotFound)
}

// ResolveEntityFolder returns the folder of an entity. Entities whose folder
// has not been provisioned yet are ErrNotFound.
func (r *Resolver) ResolveEntityFolder(ctx context.Context, clientFolder docstore.FolderRef, entityID string) (docstore.FolderRef, error) {
	e, err := r.Entity(ctx, clientFolder, entityID)
	if err != nil {
		return "", err
	}
	return r.EntityFolder(ctx, clientFolder, e)
}

// EntityFolder returns the folder of an entity record already read from
// the index.
func (r *Resolver) EntityFolder(ctx context.Context, clientFolder docstore.FolderRef, e schema.Entity) (docstore.FolderRef, error) {
	if e.StorageFolderRef != "" {
		return docstore.FolderRef(e.StorageFolderRef), nil
	}
	ref, err := r.store.FindFolder(ctx, e.ID, clientFolder)
	if err != nil {
		return "", fmt.Errorf("folder of entity %q: %w", e.ID, err)
	}
	return ref, nil
}

// EnsureEntityFolder returns the folder of an entity, creating it on first
// use and recording the new ref in entities.json.
func (r *Resolver) EnsureEntityFolder(ctx context.Context, clientFolder docstore.FolderRef, entityID string) (docstore.FolderRef, error) {
	entities, err := r.Entities(ctx, clientFolder)
	if err != nil {
		return "", err
	}
	idx := indexOf(entities, entityID)
	if idx < 0 {
		return "", fmt.Errorf("entity %q: %w", entityID, docstore.ErrNotFound)
	}
	if ref := entities[idx].StorageFolderRef; ref != "" {
		return docstore.FolderRef(ref), nil
	}

	ref, err := r.store.CreateOrGetFolder(ctx, entityID, clientFolder)
	if err != nil {
		return "", fmt.Errorf("failed to create folder for entity %q: %w", entityID, err)
	}

	entities[idx].StorageFolderRef = string(ref)
	if err := docstore.WriteJSON(ctx, r.store, entities, schema.EntitiesFile, clientFolder); err != nil {
		// The folder exists and is found by name next time.
		r.logger.Printf("WARNING: failed to record folder of entity %s: %v", entityID, err)
	}
	return ref, nil
}

// AddClient registers c, creating its folder. Registering an existing id
// replaces the entry and keeps its original created_at.
func (r *Resolver) AddClient(ctx context.Context, c schema.Client) (schema.Client, error) {
	if err := c.Validate(); err != nil {
		return schema.Client{}, fmt.Errorf("invalid client: %w", err)
	}

	clients, err := r.Clients(ctx)
	if err != nil {
		return schema.Client{}, err
	}

	if c.FolderRef() == "" {
		ref, err := r.store.CreateOrGetFolder(ctx, c.ID, r.root)
		if err != nil {
			return schema.Client{}, fmt.Errorf("failed to create folder for client %q: %w", c.ID, err)
		}
		c.StorageFolderRef = string(ref)
	}

	idx := indexOfClient(clients, c.ID)
	if idx >= 0 && c.CreatedAt == "" {
		c.CreatedAt = clients[idx].CreatedAt
	}
	if c.CreatedAt == "" {
		c.CreatedAt = schema.Stamp(r.now())
	}
	if idx >= 0 {
		clients[idx] = c
	} else {
		clients = append(clients, c)
	}

	if err := docstore.WriteJSON(ctx, r.store, clients, schema.ClientsFile, r.root); err != nil {
		return schema.Client{}, fmt.Errorf("failed to write %s: %w", schema.ClientsFile, err)
	}
	return c, nil
}

// AddEntity registers e under a client. The entity folder is created on
// first write. A zero sort order is placed after the existing entities.
func (r *Resolver) AddEntity(ctx context.Context, clientID string, e schema.Entity) (schema.Entity, error) {
	if err := e.Validate(); err != nil {
		return schema.Entity{}, fmt.Errorf("invalid entity: %w", err)
	}

	clientFolder, err := r.ResolveClientFolder(ctx, clientID)
	if err != nil {
		return schema.Entity{}, err
	}
	entities, err := r.Entities(ctx, clientFolder)
	if err != nil {
		return schema.Entity{}, err
	}

	e.ClientID = clientID
	idx := indexOf(entities, e.ID)
	if idx >= 0 {
		prev := entities[idx]
		if e.CreatedAt == "" {
			e.CreatedAt = prev.CreatedAt
		}
		if e.StorageFolderRef == "" {
			e.StorageFolderRef = prev.StorageFolderRef
		}
		if e.SortOrder == 0 {
			e.SortOrder = prev.SortOrder
		}
		entities[idx] = e
	} else {
		if e.SortOrder == 0 {
			e.SortOrder = (len(entities) + 1) * 100
		}
		if e.CreatedAt == "" {
			e.CreatedAt = schema.Stamp(r.now())
		}
		entities = append(entities, e)
	}

	if err := docstore.WriteJSON(ctx, r.store, entities, schema.EntitiesFile, clientFolder); err != nil {
		return schema.Entity{}, fmt.Errorf("failed to write %s: %w", schema.EntitiesFile, err)
	}
	return e, nil
}

// ReplaceEntities overwrites the entity index of a client.
func (r *Resolver) ReplaceEntities(ctx context.Context, clientID string, entities []schema.Entity) error {
	clientFolder, err := r.ResolveClientFolder(ctx, clientID)
	if err != nil {
		return err
	}
	for i := range entities {
		if err := entities[i].Validate(); err != nil {
			return fmt.Errorf("invalid entity %d: %w", i, err)
		}
		entities[i].ClientID = clientID
	}
	if err := docstore.WriteJSON(ctx, r.store, entities, schema.EntitiesFile, clientFolder); err != nil {
		return fmt.Errorf("failed to write %s: %w", schema.EntitiesFile, err)
	}
	return nil
}

// RemoveEntity drops an entity from the index. Its folder and shards are
// left in place.
func (r *Resolver) RemoveEntity(ctx context.Context, clientID, entityID string) error {
	clientFolder, err := r.ResolveClientFolder(ctx, clientID)
	if err != nil {
		return err
	}
	entities, err := r.Entities(ctx, clientFolder)
	if err != nil {
		return err
	}
	idx := indexOf(entities, entityID)
	if idx < 0 {
		return fmt.Errorf("entity %q: %w", entityID, docstore.ErrNotFound)
	}
	entities = append(entities[:idx], entities[idx+1:]...)

	if err := docstore.WriteJSON(ctx, r.store, entities, schema.EntitiesFile, clientFolder); err != nil {
		return fmt.Errorf("failed to write %s: %w", schema.EntitiesFile, err)
	}
	return nil
}

func indexOf(entities []schema.Entity, id string) int {
	for i, e := range entities {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func indexOfClient(clients []schema.Client, id string) int {
	for i, c := range clients {
		if c.ID == id {
			return i
		}
	}
	return -1
}
