package resolver

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/pdcadash/pdca/internal/docstore"
	"github.com/pdcadash/pdca/internal/schema"
)

func setupResolver(t *testing.T) (*Resolver, *docstore.Memory) {
	t.Helper()
	mem := docstore.NewMemory()
	return New(mem, docstore.Root, log.New(io.Discard, "", 0)), mem
}

func TestEmptyIndexes(t *testing.T) {
	ctx := context.Background()
	r, _ := setupResolver(t)

	clients, err := r.Clients(ctx)
	if err != nil {
		t.Fatalf("Clients failed: %v", err)
	}
	if len(clients) != 0 {
		t.Errorf("expected no clients, got %v", clients)
	}

	if _, err := r.ResolveClientFolder(ctx, "client-a"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAddClient(t *testing.T) {
	ctx := context.Background()
	r, mem := setupResolver(t)

	c, err := r.AddClient(ctx, schema.Client{ID: "client-a", Name: "A Corp"})
	if err != nil {
		t.Fatalf("AddClient failed: %v", err)
	}
	if c.StorageFolderRef == "" || c.CreatedAt == "" {
		t.Errorf("expected folder ref and created_at, got %+v", c)
	}

	ref, err := r.ResolveClientFolder(ctx, "client-a")
	if err != nil {
		t.Fatalf("ResolveClientFolder failed: %v", err)
	}
	if string(ref) != c.StorageFolderRef {
		t.Errorf("expected %q, got %q", c.StorageFolderRef, ref)
	}

	// Re-registering replaces the entry and keeps the folder.
	again, err := r.AddClient(ctx, schema.Client{ID: "client-a", Name: "A Corporation"})
	if err != nil {
		t.Fatalf("AddClient (again) failed: %v", err)
	}
	if again.StorageFolderRef != c.StorageFolderRef || again.CreatedAt != c.CreatedAt {
		t.Errorf("expected folder and created_at to be kept, got %+v", again)
	}
	clients, _ := r.Clients(ctx)
	if len(clients) != 1 || clients[0].Name != "A Corporation" {
		t.Errorf("expected a single renamed client, got %+v", clients)
	}

	entries, _ := mem.List(ctx, docstore.Root)
	folders := 0
	for _, e := range entries {
		if e.IsFolder {
			folders++
		}
	}
	if folders != 1 {
		t.Errorf("expected one client folder, got %d", folders)
	}

	if _, err := r.AddClient(ctx, schema.Client{ID: "bad/id", Name: "x"}); !errors.Is(err, schema.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestResolveClientFolder_ByName(t *testing.T) {
	ctx := context.Background()
	r, mem := setupResolver(t)

	// A client written by an older tool without a folder ref.
	folder, _ := mem.CreateOrGetFolder(ctx, "client-old", docstore.Root)
	_ = docstore.WriteJSON(ctx, mem, []schema.Client{{ID: "client-old", Name: "Old"}}, schema.ClientsFile, docstore.Root)

	ref, err := r.ResolveClientFolder(ctx, "client-old")
	if err != nil {
		t.Fatalf("ResolveClientFolder failed: %v", err)
	}
	if ref != folder {
		t.Errorf("expected %q, got %q", folder, ref)
	}
}

func TestEntities(t *testing.T) {
	ctx := context.Background()
	r, _ := setupResolver(t)
	c, _ := r.AddClient(ctx, schema.Client{ID: "client-a", Name: "A"})
	clientFolder := docstore.FolderRef(c.StorageFolderRef)

	first, err := r.AddEntity(ctx, "client-a", schema.Entity{ID: "e1", Name: "Shibuya"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	second, _ := r.AddEntity(ctx, "client-a", schema.Entity{ID: "e2", Name: "Osaka"})
	if first.SortOrder != 100 || second.SortOrder != 200 {
		t.Errorf("expected sort orders 100 and 200, got %d and %d", first.SortOrder, second.SortOrder)
	}
	if first.ClientID != "client-a" {
		t.Errorf("expected client id to be set, got %q", first.ClientID)
	}

	// Not provisioned yet.
	if _, err := r.ResolveEntityFolder(ctx, clientFolder, "e1"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound before provisioning, got %v", err)
	}

	ref, err := r.EnsureEntityFolder(ctx, clientFolder, "e1")
	if err != nil {
		t.Fatalf("EnsureEntityFolder failed: %v", err)
	}
	again, _ := r.EnsureEntityFolder(ctx, clientFolder, "e1")
	if again != ref {
		t.Errorf("expected the same folder, got %q and %q", ref, again)
	}
	resolved, err := r.ResolveEntityFolder(ctx, clientFolder, "e1")
	if err != nil || resolved != ref {
		t.Errorf("ResolveEntityFolder = %q, %v; want %q", resolved, err, ref)
	}
	e, _ := r.Entity(ctx, clientFolder, "e1")
	if e.StorageFolderRef != string(ref) {
		t.Errorf("expected folder ref recorded in index, got %+v", e)
	}

	if _, err := r.EnsureEntityFolder(ctx, clientFolder, "missing"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveEntity(t *testing.T) {
	ctx := context.Background()
	r, mem := setupResolver(t)
	c, _ := r.AddClient(ctx, schema.Client{ID: "client-a", Name: "A"})
	clientFolder := docstore.FolderRef(c.StorageFolderRef)
	_, _ = r.AddEntity(ctx, "client-a", schema.Entity{ID: "e1", Name: "Shibuya"})
	folder, _ := r.EnsureEntityFolder(ctx, clientFolder, "e1")
	_ = mem.WriteFile(ctx, schema.TasksFile, folder, []byte("[]"))

	if err := r.RemoveEntity(ctx, "client-a", "e1"); err != nil {
		t.Fatalf("RemoveEntity failed: %v", err)
	}
	entities, _ := r.Entities(ctx, clientFolder)
	if len(entities) != 0 {
		t.Errorf("expected empty index, got %+v", entities)
	}
	// Shards are orphaned, not deleted.
	if _, err := mem.ReadFile(ctx, schema.TasksFile, folder); err != nil {
		t.Errorf("expected shard to survive, got %v", err)
	}

	if err := r.RemoveEntity(ctx, "client-a", "e1"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second removal, got %v", err)
	}
}

func TestIndexReadFailureIsStoreFailure(t *testing.T) {
	ctx := context.Background()
	r, mem := setupResolver(t)
	_, _ = r.AddClient(ctx, schema.Client{ID: "client-a", Name: "A"})

	mem.InjectFault(func(op docstore.Op, folder docstore.FolderRef, name string) error {
		if op == docstore.OpRead && name == schema.ClientsFile {
			return errors.New("quota exceeded")
		}
		return nil
	})

	_, err := r.ResolveClientFolder(ctx, "client-a")
	if !errors.Is(err, docstore.ErrStoreFailure) {
		t.Fatalf("expected store failure, got %v", err)
	}
	if errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("store failure must not look like NotFound")
	}
}

func TestCorruptIndexIsStoreFailure(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		corrupt func(*testing.T, *Resolver, *docstore.Memory, docstore.FolderRef)
		call    func(*Resolver, docstore.FolderRef) error
	}{
		{
			name: "clients.json",
			corrupt: func(t *testing.T, r *Resolver, mem *docstore.Memory, _ docstore.FolderRef) {
				if err := mem.WriteFile(ctx, schema.ClientsFile, r.Root(), []byte("{not json")); err != nil {
					t.Fatalf("WriteFile failed: %v", err)
				}
			},
			call: func(r *Resolver, _ docstore.FolderRef) error {
				_, err := r.ResolveClientFolder(ctx, "client-a")
				return err
			},
		},
		{
			name: "entities.json",
			corrupt: func(t *testing.T, _ *Resolver, mem *docstore.Memory, folder docstore.FolderRef) {
				if err := mem.WriteFile(ctx, schema.EntitiesFile, folder, []byte(`{"id":"e1"}`)); err != nil {
					t.Fatalf("WriteFile failed: %v", err)
				}
			},
			call: func(r *Resolver, folder docstore.FolderRef) error {
				_, err := r.ResolveEntityFolder(ctx, folder, "e1")
				return err
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, mem := setupResolver(t)
			c, err := r.AddClient(ctx, schema.Client{ID: "client-a", Name: "A"})
			if err != nil {
				t.Fatalf("AddClient failed: %v", err)
			}
			folder := docstore.FolderRef(c.StorageFolderRef)
			tt.corrupt(t, r, mem, folder)

			err = tt.call(r, folder)
			if !errors.Is(err, docstore.ErrStoreFailure) {
				t.Fatalf("expected store failure, got %v", err)
			}
			if errors.Is(err, docstore.ErrNotFound) {
				t.Errorf("corrupt index must not look like NotFound")
			}
		})
	}
}
