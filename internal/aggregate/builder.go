package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/pdcadash/pdca/internal/docstore"
	"github.com/pdcadash/pdca/internal/resolver"
	"github.com/pdcadash/pdca/internal/schema"
	"github.com/pdcadash/pdca/internal/shard"
)

// DefaultConcurrency is the number of entities read at once when Options
// does not say otherwise.
const DefaultConcurrency = 4

// Options configures a Builder.
type Options struct {
	// Concurrency bounds how many entities are read at once.
	Concurrency int

	// Now stamps master-data.json. Defaults to time.Now.
	Now func() time.Time

	// Logger receives progress and WARNING lines. Defaults to stderr.
	Logger *log.Logger

	// OnEntity is called once per entity during RebuildAggregate, from the
	// worker goroutine. err is nil for processed entities.
	OnEntity func(entityID string, err error)
}

// Builder rebuilds client aggregates.
type Builder struct {
	resolver *resolver.Resolver
	store    docstore.Store
	shards   *shard.Accessor
	opts     Options
	logger   *log.Logger
}

// NewBuilder returns a builder reading through res.
func NewBuilder(res *resolver.Resolver, opts Options) *Builder {
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[aggregate] ", log.LstdFlags)
	}
	return &Builder{
		resolver: res,
		store:    res.Store(),
		shards:   shard.New(res.Store(), logger),
		opts:     opts,
		logger:   logger,
	}
}

// SkippedEntity records why an entity was left out of a rebuild.
type SkippedEntity struct {
	EntityID string
	Reason   string
}

// RebuildResult reports a RebuildAggregate run.
type RebuildResult struct {
	EntitiesProcessed int
	EntitiesSkipped   int
	Tasks             int
	Cycles            int
	Skipped           []SkippedEntity
}

type entityShards struct {
	tasks  []schema.ShardTask
	cycles []schema.PdcaCycle
	err    error
}

// RebuildAggregate gathers every entity's shards of a client into
// all-tasks.json and all-cycles.json.
func (b *Builder) RebuildAggregate(ctx context.Context, clientID string) (RebuildResult, error) {
	var result RebuildResult

	clientFolder, err := b.resolver.ResolveClientFolder(ctx, clientID)
	if err != nil {
		return result, err
	}
	entities, err := b.resolver.Entities(ctx, clientFolder)
	if err != nil {
		return result, fmt.Errorf("failed to enumerate entities of %s: %w", clientID, err)
	}

	b.logger.Printf("Rebuilding aggregate for %s (%d entities)", clientID, len(entities))

	slots := make([]entityShards, len(entities))
	p := pool.New().WithMaxGoroutines(b.opts.Concurrency)
	for i, e := range entities {
		p.Go(func() {
			slots[i] = b.gatherEntity(ctx, clientFolder, e)
			if b.opts.OnEntity != nil {
				b.opts.OnEntity(e.ID, slots[i].err)
			}
		})
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("rebuild of %s interrupted: %w", clientID, err)
	}

	allTasks := []schema.ShardTask{}
	allCycles := []schema.PdcaCycle{}
	for i, slot := range slots {
		if slot.err != nil {
			b.logger.Printf("WARNING: skipping entity %s: %v", entities[i].ID, slot.err)
			result.EntitiesSkipped++
			result.Skipped = append(result.Skipped, SkippedEntity{EntityID: entities[i].ID, Reason: slot.err.Error()})
			continue
		}
		result.EntitiesProcessed++
		allTasks = append(allTasks, slot.tasks...)
		allCycles = append(allCycles, slot.cycles...)
	}

	if err := shard.Save(ctx, b.shards, allTasks, clientFolder, schema.AllTasksFile); err != nil {
		return result, err
	}
	if err := shard.Save(ctx, b.shards, allCycles, clientFolder, schema.AllCyclesFile); err != nil {
		return result, err
	}

	result.Tasks = len(allTasks)
	result.Cycles = len(allCycles)
	b.logger.Printf("Rebuilt aggregate for %s: entities=%d (skipped=%d), tasks=%d, cycles=%d",
		clientID, result.EntitiesProcessed, result.EntitiesSkipped, result.Tasks, result.Cycles)
	return result, nil
}

func (b *Builder) gatherEntity(ctx context.Context, clientFolder docstore.FolderRef, e schema.Entity) entityShards {
	folder, err := b.resolver.EntityFolder(ctx, clientFolder, e)
	if err != nil {
		return entityShards{err: err}
	}

	tasks, err := shard.Load[schema.ShardTask](ctx, b.shards, folder, schema.TasksFile)
	if err != nil {
		return entityShards{err: err}
	}
	cycles, err := shard.Load[schema.PdcaCycle](ctx, b.shards, folder, schema.CyclesFile)
	if err != nil {
		return entityShards{err: err}
	}

	// Older shards omit the owning entity.
	for i := range tasks {
		if tasks[i].EntityID == "" {
			tasks[i].EntityID = e.ID
		}
		if tasks[i].EntityName == "" {
			tasks[i].EntityName = e.Name
		}
	}
	for i := range cycles {
		if cycles[i].EntityID == "" && cycles[i].IssueID == "" {
			cycles[i].EntityID = e.ID
		}
	}
	return entityShards{tasks: tasks, cycles: cycles}
}

// MasterDataResult reports a RebuildMasterData run.
type MasterDataResult struct {
	Issues int
	Cycles int

	// How entity_name was resolved for the issues.
	FromTasks    int
	FromEntities int
	Unresolved   int

	UpdatedAt string
}

type taskInfo struct {
	entityName string
	date       string
}

// RebuildMasterData merges the client's legacy documents into
// master-data.json.
//
// Each issue gets entity_name from the task with the same id, then from the
// entity index by entity_id, then "". Its date comes from the task, then
// from the date portion of created_at.
func (b *Builder) RebuildMasterData(ctx context.Context, clientID string) (MasterDataResult, error) {
	var result MasterDataResult

	clientFolder, err := b.resolver.ResolveClientFolder(ctx, clientID)
	if err != nil {
		return result, err
	}

	issues, err := shard.Load[schema.PdcaIssue](ctx, b.shards, clientFolder, schema.IssuesFile)
	if err != nil {
		return result, err
	}
	cycles, err := shard.Load[schema.PdcaCycle](ctx, b.shards, clientFolder, schema.LegacyCycleFile)
	if err != nil {
		return result, err
	}
	tasks, err := shard.Load[schema.ShardTask](ctx, b.shards, clientFolder, schema.TasksFile)
	if err != nil {
		return result, err
	}

	entityNames := make(map[string]string)
	entities, err := b.resolver.Entities(ctx, clientFolder)
	if err != nil {
		b.logger.Printf("WARNING: entity index of %s unavailable, names resolve from tasks only: %v", clientID, err)
	}
	for _, e := range entities {
		entityNames[e.ID] = e.Name
	}

	byTask := make(map[string]taskInfo, len(tasks))
	for _, t := range tasks {
		byTask[t.ID] = taskInfo{entityName: t.EntityName, date: t.Date}
	}

	enriched := make([]schema.MasterIssue, 0, len(issues))
	for _, issue := range issues {
		info, hasTask := byTask[issue.ID]

		name := info.entityName
		switch {
		case hasTask && name != "":
			result.FromTasks++
		case entityNames[issue.EntityID] != "":
			name = entityNames[issue.EntityID]
			result.FromEntities++
		default:
			result.Unresolved++
		}

		date := info.date
		if date == "" {
			date = schema.DatePortion(issue.CreatedAt)
		}
		enriched = append(enriched, issue.Enrich(name, date))
	}

	prev := b.previousStamp(ctx, clientFolder)
	md := schema.MasterData{
		Version:   schema.MasterDataVersion,
		UpdatedAt: nextStamp(prev, b.opts.Now()),
		Issues:    enriched,
		Cycles:    cycles,
	}
	if err := docstore.WriteJSON(ctx, b.store, md, schema.MasterDataFile, clientFolder); err != nil {
		return result, fmt.Errorf("failed to write %s: %w", schema.MasterDataFile, err)
	}

	result.Issues = len(enriched)
	result.Cycles = len(cycles)
	result.UpdatedAt = md.UpdatedAt
	b.logger.Printf("Rebuilt master data for %s: issues=%d (names: tasks=%d, entities=%d, unresolved=%d), cycles=%d",
		clientID, result.Issues, result.FromTasks, result.FromEntities, result.Unresolved, result.Cycles)
	return result, nil
}

// previousStamp returns updated_at of the current master-data.json, or "".
func (b *Builder) previousStamp(ctx context.Context, clientFolder docstore.FolderRef) string {
	md, err := docstore.ReadJSON[schema.MasterData](ctx, b.store, schema.MasterDataFile, clientFolder)
	if err != nil {
		return ""
	}
	return md.UpdatedAt
}

// nextStamp returns a stamp for now that sorts after prev.
func nextStamp(prev string, now time.Time) string {
	now = now.UTC()
	if prev != "" {
		if p, ok := schema.ParseStamp(prev); ok && !now.After(p) {
			now = p.UTC().Add(time.Microsecond)
		}
	}
	return schema.Stamp(now)
}

// UpdateTaskInAggregate writes task into all-tasks.json, replacing the entry
// with the same id or appending it, and refreshes the matching issue of
// master-data.json when that document exists.
func (b *Builder) UpdateTaskInAggregate(ctx context.Context, task schema.Task, clientFolder docstore.FolderRef) error {
	all, err := shard.Load[schema.ShardTask](ctx, b.shards, clientFolder, schema.AllTasksFile)
	if err != nil {
		return err
	}
	entry := task.ToShard()
	replaced := false
	for i := range all {
		if all[i].ID == task.ID {
			all[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		all = append(all, entry)
	}
	if err := shard.Save(ctx, b.shards, all, clientFolder, schema.AllTasksFile); err != nil {
		return err
	}

	return b.patchMasterData(ctx, clientFolder, func(md *schema.MasterData) bool {
		for i := range md.Issues {
			if md.Issues[i].ID != task.ID {
				continue
			}
			patched := task.ToMasterIssue()
			if patched.EntityID == "" {
				patched.EntityID = md.Issues[i].EntityID
			}
			if patched.ClientID == "" {
				patched.ClientID = md.Issues[i].ClientID
			}
			if patched.CreatedAt == "" {
				patched.CreatedAt = md.Issues[i].CreatedAt
			}
			patched.Extra = md.Issues[i].Extra.With(task.Extra)
			md.Issues[i] = patched
			return true
		}
		return false
	})
}

// RemoveTaskFromAggregate drops taskID from all-tasks.json and from the
// issues of master-data.json when that document exists.
func (b *Builder) RemoveTaskFromAggregate(ctx context.Context, taskID string, clientFolder docstore.FolderRef) error {
	all, err := shard.Load[schema.ShardTask](ctx, b.shards, clientFolder, schema.AllTasksFile)
	if err != nil {
		return err
	}
	kept := all[:0]
	for _, t := range all {
		if t.ID != taskID {
			kept = append(kept, t)
		}
	}
	if err := shard.Save(ctx, b.shards, kept, clientFolder, schema.AllTasksFile); err != nil {
		return err
	}

	return b.patchMasterData(ctx, clientFolder, func(md *schema.MasterData) bool {
		kept := md.Issues[:0]
		for _, issue := range md.Issues {
			if issue.ID != taskID {
				kept = append(kept, issue)
			}
		}
		changed := len(kept) != len(md.Issues)
		md.Issues = kept
		return changed
	})
}

// patchMasterData applies patch to master-data.json and writes it back if
// patch reports a change. An absent document is left absent.
func (b *Builder) patchMasterData(ctx context.Context, clientFolder docstore.FolderRef, patch func(*schema.MasterData) bool) error {
	md, err := docstore.ReadJSON[schema.MasterData](ctx, b.store, schema.MasterDataFile, clientFolder)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", schema.MasterDataFile, err)
	}
	if !patch(&md) {
		return nil
	}
	md.UpdatedAt = nextStamp(md.UpdatedAt, b.opts.Now())
	if md.Version == "" {
		md.Version = schema.MasterDataVersion
	}
	if err := docstore.WriteJSON(ctx, b.store, md, schema.MasterDataFile, clientFolder); err != nil {
		return fmt.Errorf("failed to write %s: %w", schema.MasterDataFile, err)
	}
	return nil
}
