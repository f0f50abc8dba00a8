// Package demo holds the sample data served when no store is reachable.
//
// A Repository is built once at startup and handed to whatever needs it.
// Its contents never change, and every accessor returns a copy, so it is
// safe for concurrent use.
package demo

import (
	"context"
	"fmt"
	"slices"

	"github.com/pdcadash/pdca/internal/docstore"
	"github.com/pdcadash/pdca/internal/readpath"
	"github.com/pdcadash/pdca/internal/resolver"
	"github.com/pdcadash/pdca/internal/schema"
	"github.com/pdcadash/pdca/internal/shard"
)

// ClientID is the id of the demo client.
const ClientID = "demo"

// BackendName is the readpath backend name of a Repository.
const BackendName = "demo"

// Repository is an immutable in-process data set for one demo client.
type Repository struct {
	client   schema.Client
	entities []schema.Entity
	tasks    []schema.Task
	issues   []schema.PdcaIssue
	cycles   []schema.PdcaCycle
	stamp    string
}

// NewRepository returns the demo data set.
func NewRepository() *Repository {
	const stamp = "2024-04-01T09:00:00Z"
	r := &Repository{
		client: schema.Client{ID: ClientID, Name: "Demo Restaurants", CreatedAt: stamp},
		entities: []schema.Entity{
			{ID: "demo-001", ClientID: ClientID, Name: "Shibuya", SortOrder: 100, StoreCode: "001", CreatedAt: stamp},
			{ID: "demo-002", ClientID: ClientID, Name: "Osaka", SortOrder: 200, StoreCode: "002", CreatedAt: stamp},
		},
		stamp: stamp,
	}

	task := func(id, entityID, entityName, title string, status schema.Status, date string) schema.Task {
		return schema.Task{
			ID: id, ClientID: ClientID, EntityID: entityID, EntityName: entityName,
			Title: title, Status: status, Date: date, CreatedAt: stamp, UpdatedAt: stamp,
		}
	}
	r.tasks = []schema.Task{
		task("demo-t1", "demo-001", "Shibuya", "Shorten lunch queue", schema.StatusDoing, "2024-04-05"),
		task("demo-t2", "demo-001", "Shibuya", "Reduce food waste", schema.StatusOpen, "2024-04-12"),
		task("demo-t3", "demo-002", "Osaka", "Retrain new hires", schema.StatusDone, "2024-03-28"),
	}
	for _, t := range r.tasks {
		r.issues = append(r.issues, schema.PdcaIssue{
			ID: t.ID, ClientID: ClientID, EntityID: t.EntityID, Title: t.Title,
			Status: t.Status, CreatedAt: stamp, UpdatedAt: stamp,
		})
	}
	r.cycles = []schema.PdcaCycle{
		{
			ID: "demo-c1", ClientID: ClientID, EntityID: "demo-001", IssueID: "demo-t1", CycleDate: "2024-04-05",
			Situation: "Average wait at noon is 14 minutes", Issue: "Single register at peak",
			Action: "Open a second register 11:45-13:15", Target: "Wait under 8 minutes",
			Status: schema.StatusDoing, CreatedAt: stamp, UpdatedAt: stamp,
		},
		{
			ID: "demo-c2", ClientID: ClientID, EntityID: "demo-002", IssueID: "demo-t3", CycleDate: "2024-03-28",
			Situation: "Three hires in March", Issue: "No written onboarding",
			Action: "Checklist and buddy shifts", Target: "Solo shifts by week 2",
			Status: schema.StatusDone, CreatedAt: stamp, UpdatedAt: stamp,
		},
	}
	return r
}

// Client returns the demo client.
func (r *Repository) Client() schema.Client { return r.client }

// Entities returns the demo entities.
func (r *Repository) Entities() []schema.Entity { return slices.Clone(r.entities) }

// Tasks returns the demo tasks.
func (r *Repository) Tasks() []schema.Task { return slices.Clone(r.tasks) }

// Cycles returns the demo cycles.
func (r *Repository) Cycles() []schema.PdcaCycle { return slices.Clone(r.cycles) }

// MasterData returns the demo master data with issues enriched from tasks.
func (r *Repository) MasterData() schema.MasterData {
	byID := make(map[string]schema.Task, len(r.tasks))
	for _, t := range r.tasks {
		byID[t.ID] = t
	}
	issues := make([]schema.MasterIssue, 0, len(r.issues))
	for _, is := range r.issues {
		t := byID[is.ID]
		issues = append(issues, is.Enrich(t.EntityName, t.Date))
	}
	return schema.MasterData{
		Version:   schema.MasterDataVersion,
		UpdatedAt: r.stamp,
		Issues:    issues,
		Cycles:    slices.Clone(r.cycles),
	}
}

func (r *Repository) Name() string { return BackendName }

// Fetch serves master-data.json of the demo client. Anything else is a
// Miss.
func (r *Repository) Fetch(ctx context.Context, key readpath.Key) readpath.Result[schema.MasterData] {
	if key.ClientID != ClientID || key.Document != schema.MasterDataFile {
		return readpath.Missing[schema.MasterData]()
	}
	return readpath.Found(r.MasterData())
}

// TaskBackend serves all-tasks.json of the demo client.
func (r *Repository) TaskBackend() readpath.Backend[[]schema.ShardTask] {
	return taskBackend{r}
}

type taskBackend struct{ r *Repository }

func (b taskBackend) Name() string { return BackendName }

func (b taskBackend) Fetch(ctx context.Context, key readpath.Key) readpath.Result[[]schema.ShardTask] {
	if key.ClientID != ClientID || key.Document != schema.AllTasksFile {
		return readpath.Missing[[]schema.ShardTask]()
	}
	out := make([]schema.ShardTask, len(b.r.tasks))
	for i, t := range b.r.tasks {
		out[i] = t.ToShard()
	}
	return readpath.Found(out)
}

// Install writes the demo client into a store: the indexes, one tasks.json
// and cycles.json shard per entity, and the legacy client-root documents.
// Installing twice overwrites the previous copy.
func (r *Repository) Install(ctx context.Context, res *resolver.Resolver) error {
	c, err := res.AddClient(ctx, schema.Client{ID: r.client.ID, Name: r.client.Name})
	if err != nil {
		return err
	}
	clientFolder := docstore.FolderRef(c.StorageFolderRef)
	if err := res.ReplaceEntities(ctx, ClientID, r.Entities()); err != nil {
		return err
	}

	shards := shard.New(res.Store(), nil)
	for _, e := range r.entities {
		folder, err := res.EnsureEntityFolder(ctx, clientFolder, e.ID)
		if err != nil {
			return err
		}
		var tasks []schema.ShardTask
		for _, t := range r.tasks {
			if t.EntityID == e.ID {
				tasks = append(tasks, t.ToShard())
			}
		}
		var cycles []schema.PdcaCycle
		for _, cy := range r.cycles {
			if cy.EntityID == e.ID {
				cycles = append(cycles, cy)
			}
		}
		if err := shard.Save(ctx, shards, tasks, folder, schema.TasksFile); err != nil {
			return fmt.Errorf("failed to install tasks of %s: %w", e.ID, err)
		}
		if err := shard.Save(ctx, shards, cycles, folder, schema.CyclesFile); err != nil {
			return fmt.Errorf("failed to install cycles of %s: %w", e.ID, err)
		}
	}

	root := make([]schema.ShardTask, len(r.tasks))
	for i, t := range r.tasks {
		root[i] = t.ToShard()
	}
	if err := shard.Save(ctx, shards, root, clientFolder, schema.TasksFile); err != nil {
		return err
	}
	if err := shard.Save(ctx, shards, r.issues, clientFolder, schema.IssuesFile); err != nil {
		return err
	}
	return shard.Save(ctx, shards, r.cycles, clientFolder, schema.LegacyCycleFile)
}
