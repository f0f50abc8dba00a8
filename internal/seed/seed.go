// Package seed registers a client and its stores from a master file.
//
// A master file lists one client and its stores:
//
//	id: junestory
//	name: June Story
//	stores:
//	  - store_code: "001"
//	    name: Shibuya
//	    brand: js
//	    brand_name: June Story
//	    manager_name: Sato
//
// The same layout is accepted as TOML ([[stores]] tables). Each store becomes
// an entity with id "<client id>-<store code>".
package seed

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/pdcadash/pdca/internal/docstore"
	"github.com/pdcadash/pdca/internal/resolver"
	"github.com/pdcadash/pdca/internal/schema"
)

// Store is one store of a master file.
type Store struct {
	StoreCode   string `yaml:"store_code" toml:"store_code"`
	Name        string `yaml:"name" toml:"name"`
	Brand       string `yaml:"brand" toml:"brand"`
	BrandName   string `yaml:"brand_name" toml:"brand_name"`
	ManagerName string `yaml:"manager_name" toml:"manager_name"`
}

// File is a parsed master file.
type File struct {
	ID     string  `yaml:"id" toml:"id"`
	Name   string  `yaml:"name" toml:"name"`
	Stores []Store `yaml:"stores" toml:"stores"`
}

// Parse decodes a master file. The format is picked from the extension:
// .toml is TOML, everything else YAML.
func Parse(name string, data []byte) (File, error) {
	var f File
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&f); err != nil {
			return File{}, fmt.Errorf("failed to parse %s: %w", name, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return File{}, fmt.Errorf("failed to parse %s: %w", name, err)
		}
	}
	if err := f.validate(); err != nil {
		return File{}, fmt.Errorf("invalid master file %s: %w", name, err)
	}
	return f, nil
}

// ReadFile reads and parses a master file from disk.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read master file: %w", err)
	}
	return Parse(path, data)
}

func (f File) validate() error {
	c := f.Client()
	if err := c.Validate(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(f.Stores))
	for i, s := range f.Stores {
		code := strings.TrimSpace(s.StoreCode)
		if code == "" {
			return fmt.Errorf("store %d: %w", i+1, &schema.ValidationError{Field: "store_code", Reason: "is required"})
		}
		if seen[code] {
			return fmt.Errorf("store %d: %w", i+1, &schema.ValidationError{Field: "store_code", Reason: fmt.Sprintf("duplicate %q", code)})
		}
		seen[code] = true
	}
	return nil
}

// Client returns the client described by the file.
func (f File) Client() schema.Client {
	return schema.Client{ID: strings.TrimSpace(f.ID), Name: strings.TrimSpace(f.Name)}
}

// Entities returns the stores as entities, in file order. A store without a
// name is named after its code.
func (f File) Entities() []schema.Entity {
	c := f.Client()
	out := make([]schema.Entity, 0, len(f.Stores))
	for i, s := range f.Stores {
		code := strings.TrimSpace(s.StoreCode)
		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = code
		}
		out = append(out, schema.Entity{
			ID:          c.ID + "-" + code,
			ClientID:    c.ID,
			Name:        name,
			SortOrder:   (i + 1) * 100,
			StoreCode:   code,
			Brand:       s.Brand,
			BrandName:   s.BrandName,
			ManagerName: s.ManagerName,
		})
	}
	return out
}

// Result summarizes a registration.
type Result struct {
	Client   schema.Client
	Entities []schema.Entity
}

// Register writes the client into clients.json, replacing any entry with
// the same id, and overwrites its entities.json with the file's stores.
// Folder refs and creation stamps of entities that already exist are kept.
func Register(ctx context.Context, res *resolver.Resolver, f File, logger *log.Logger) (Result, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[seed] ", log.LstdFlags)
	}
	if err := f.validate(); err != nil {
		return Result{}, err
	}

	client, err := res.AddClient(ctx, f.Client())
	if err != nil {
		return Result{}, err
	}

	prev, err := res.Entities(ctx, docstore.FolderRef(client.FolderRef()))
	if err != nil {
		return Result{}, err
	}
	known := make(map[string]schema.Entity, len(prev))
	for _, e := range prev {
		known[e.ID] = e
	}

	entities := f.Entities()
	for i := range entities {
		if old, ok := known[entities[i].ID]; ok {
			entities[i].StorageFolderRef = old.StorageFolderRef
			entities[i].CreatedAt = old.CreatedAt
			delete(known, entities[i].ID)
		}
		if entities[i].CreatedAt == "" {
			entities[i].CreatedAt = client.CreatedAt
		}
	}
	for id := range known {
		logger.Printf("WARNING: entity %s of %s is not in the master file and was unregistered", id, client.ID)
	}

	if err := res.ReplaceEntities(ctx, client.ID, entities); err != nil {
		return Result{}, err
	}
	logger.Printf("Registered %s with %d stores", client.ID, len(entities))
	return Result{Client: client, Entities: entities}, nil
}
