// Package tasks applies task and cycle mutations to entity shards.
//
// A mutation validates its input before touching the store, writes the
// owning shard, and then patches the client aggregate. A failed shard write
// aborts the mutation. A failed aggregate patch is logged and ignored: the
// aggregate stays stale until the next rebuild.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pdcadash/pdca/internal/aggregate"
	"github.com/pdcadash/pdca/internal/docstore"
	"github.com/pdcadash/pdca/internal/resolver"
	"github.com/pdcadash/pdca/internal/schema"
	"github.com/pdcadash/pdca/internal/shard"
)

// Service mutates shards for one store.
type Service struct {
	resolver *resolver.Resolver
	builder  *aggregate.Builder
	shards   *shard.Accessor
	logger   *log.Logger
	now      func() time.Time
	newID    func() string
}

// New returns a task service. If logger is nil, a default logger writing to
// stderr is used.
func New(res *resolver.Resolver, builder *aggregate.Builder, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[tasks] ", log.LstdFlags)
	}
	return &Service{
		resolver: res,
		builder:  builder,
		shards:   shard.New(res.Store(), logger),
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// TaskInput is the caller-supplied part of a new task.
type TaskInput struct {
	Title  string
	Status schema.Status
	Date   string
}

// TaskPatch changes selected fields of a task. Nil fields are left alone.
type TaskPatch struct {
	Title  *string
	Status *schema.Status
	Date   *string
}

func (p TaskPatch) apply(t *schema.Task) {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
}

// CreateTask adds a task to an entity's tasks.json, provisioning the entity
// folder on first use.
func (s *Service) CreateTask(ctx context.Context, clientID, entityID string, in TaskInput) (schema.Task, error) {
	stamp := schema.Stamp(s.now())
	task := schema.Task{
		ID:        s.newID(),
		ClientID:  clientID,
		EntityID:  entityID,
		Title:     strings.TrimSpace(in.Title),
		Status:    in.Status,
		Date:      in.Date,
		CreatedAt: stamp,
		UpdatedAt: stamp,
	}
	if task.Status == "" {
		task.Status = schema.StatusOpen
	}
	if err := task.Validate(); err != nil {
		return schema.Task{}, fmt.Errorf("invalid task: %w", err)
	}

	clientFolder, err := s.resolver.ResolveClientFolder(ctx, clientID)
	if err != nil {
		return schema.Task{}, err
	}
	entity, err := s.resolver.Entity(ctx, clientFolder, entityID)
	if err != nil {
		return schema.Task{}, err
	}
	task.EntityName = entity.Name

	folder, err := s.resolver.EnsureEntityFolder(ctx, clientFolder, entityID)
	if err != nil {
		return schema.Task{}, err
	}
	list, err := shard.Load[schema.ShardTask](ctx, s.shards, folder, schema.TasksFile)
	if err != nil {
		return schema.Task{}, err
	}
	list = append(list, task.ToShard())
	if err := shard.Save(ctx, s.shards, list, folder, schema.TasksFile); err != nil {
		return schema.Task{}, err
	}

	s.propagateUpdate(ctx, task, clientFolder)
	return task, nil
}

// UpdateTask applies patch to a task in its entity shard.
func (s *Service) UpdateTask(ctx context.Context, clientID, entityID, taskID string, patch TaskPatch) (schema.Task, error) {
	if err := validatePatch(patch); err != nil {
		return schema.Task{}, err
	}

	clientFolder, folder, err := s.entityFolder(ctx, clientID, entityID)
	if err != nil {
		return schema.Task{}, err
	}
	list, err := shard.Load[schema.ShardTask](ctx, s.shards, folder, schema.TasksFile)
	if err != nil {
		return schema.Task{}, err
	}

	idx := -1
	for i := range list {
		if list[i].ID == taskID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return schema.Task{}, fmt.Errorf("task %q: %w", taskID, docstore.ErrNotFound)
	}

	task := list[idx].ToTask()
	patch.apply(&task)
	task.UpdatedAt = schema.Stamp(s.now())
	if err := task.Validate(); err != nil {
		return schema.Task{}, fmt.Errorf("invalid task: %w", err)
	}

	list[idx] = task.ToShard()
	if err := shard.Save(ctx, s.shards, list, folder, schema.TasksFile); err != nil {
		return schema.Task{}, err
	}

	s.propagateUpdate(ctx, task, clientFolder)
	return task, nil
}

// DeleteTask removes a task from its entity shard.
func (s *Service) DeleteTask(ctx context.Context, clientID, entityID, taskID string) error {
	clientFolder, folder, err := s.entityFolder(ctx, clientID, entityID)
	if err != nil {
		return err
	}
	list, err := shard.Load[schema.ShardTask](ctx, s.shards, folder, schema.TasksFile)
	if err != nil {
		return err
	}

	kept := make([]schema.ShardTask, 0, len(list))
	for _, t := range list {
		if t.ID != taskID {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(list) {
		return fmt.Errorf("task %q: %w", taskID, docstore.ErrNotFound)
	}
	if err := shard.Save(ctx, s.shards, kept, folder, schema.TasksFile); err != nil {
		return err
	}

	if err := s.builder.RemoveTaskFromAggregate(ctx, taskID, clientFolder); err != nil {
		s.logger.Printf("WARNING: aggregate of %s is stale after deleting task %s: %v", clientID, taskID, err)
	}
	return nil
}

// ListTasks returns the tasks of one entity.
func (s *Service) ListTasks(ctx context.Context, clientID, entityID string) ([]schema.Task, error) {
	_, folder, err := s.entityFolder(ctx, clientID, entityID)
	if isNoFolder(err) {
		return []schema.Task{}, nil
	}
	if err != nil {
		return nil, err
	}
	list, err := shard.Load[schema.ShardTask](ctx, s.shards, folder, schema.TasksFile)
	if err != nil {
		return nil, err
	}
	return ToTasks(list), nil
}

// ListClientTasks returns every task of a client from all-tasks.json,
// ordered by date and then creation time.
func (s *Service) ListClientTasks(ctx context.Context, clientID string) ([]schema.Task, error) {
	clientFolder, err := s.resolver.ResolveClientFolder(ctx, clientID)
	if err != nil {
		return nil, err
	}
	list, err := shard.Load[schema.ShardTask](ctx, s.shards, clientFolder, schema.AllTasksFile)
	if err != nil {
		return nil, err
	}
	tasks := ToTasks(list)
	SortClientTasks(tasks)
	return tasks, nil
}

// SortClientTasks orders tasks by date and then by the instant they were
// created. Undated tasks come first.
func SortClientTasks(tasks []schema.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Date != tasks[j].Date {
			return tasks[i].Date < tasks[j].Date
		}
		return schema.CompareStamps(tasks[i].CreatedAt, tasks[j].CreatedAt) < 0
	})
}

func (s *Service) propagateUpdate(ctx context.Context, task schema.Task, clientFolder docstore.FolderRef) {
	if err := s.builder.UpdateTaskInAggregate(ctx, task, clientFolder); err != nil {
		s.logger.Printf("WARNING: aggregate of %s is stale after updating task %s: %v", task.ClientID, task.ID, err)
	}
}

// errNoFolder marks an indexed entity whose folder does not exist yet.
var errNoFolder = errors.New("entity folder not provisioned")

// entityFolder resolves the client folder and an existing entity folder.
// An entity without a folder has no shards yet; that is reported as
// ErrNotFound wrapped with errNoFolder.
func (s *Service) entityFolder(ctx context.Context, clientID, entityID string) (docstore.FolderRef, docstore.FolderRef, error) {
	clientFolder, err := s.resolver.ResolveClientFolder(ctx, clientID)
	if err != nil {
		return "", "", err
	}
	entity, err := s.resolver.Entity(ctx, clientFolder, entityID)
	if err != nil {
		return "", "", err
	}
	folder, err := s.resolver.EntityFolder(ctx, clientFolder, entity)
	if docstore.IsNotFound(err) {
		return "", "", fmt.Errorf("entity %q has no data yet: %w: %w", entityID, errNoFolder, err)
	}
	if err != nil {
		return "", "", err
	}
	return clientFolder, folder, nil
}

func isNoFolder(err error) bool {
	return errors.Is(err, errNoFolder)
}

func sortCycles(list []schema.PdcaCycle) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CycleDate < list[j].CycleDate
	})
}

func validatePatch(p TaskPatch) error {
	scratch := schema.Task{ID: "scratch", Title: "scratch", Status: schema.StatusOpen}
	p.apply(&scratch)
	if err := scratch.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	return nil
}

// ToTasks decodes shard entries.
func ToTasks(list []schema.ShardTask) []schema.Task {
	tasks := make([]schema.Task, len(list))
	for i, t := range list {
		tasks[i] = t.ToTask()
	}
	return tasks
}
