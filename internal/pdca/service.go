// Package pdca is the entry point for every operation on the document
// store. Each call checks the caller with the configured Authorizer before
// it touches the store.
package pdca

import (
	"context"
	"log"
	"os"

	"github.com/pdcadash/pdca/internal/aggregate"
	"github.com/pdcadash/pdca/internal/auth"
	"github.com/pdcadash/pdca/internal/demo"
	"github.com/pdcadash/pdca/internal/docstore"
	"github.com/pdcadash/pdca/internal/ingest"
	"github.com/pdcadash/pdca/internal/readpath"
	"github.com/pdcadash/pdca/internal/resolver"
	"github.com/pdcadash/pdca/internal/schema"
	"github.com/pdcadash/pdca/internal/seed"
	"github.com/pdcadash/pdca/internal/tasks"
)

// Cache is a master-data cache placed after the store in the read path.
type Cache interface {
	readpath.Backend[schema.MasterData]
	readpath.Recorder[schema.MasterData]
	Invalidate(ctx context.Context, key readpath.Key) error
}

// Options configures a Service.
type Options struct {
	// Root is the folder holding clients.json.
	Root docstore.FolderRef

	// Authorizer defaults to auth.AllowAll.
	Authorizer auth.Authorizer

	// Concurrency and OnEntity are passed to the aggregate builder.
	Concurrency int
	OnEntity    func(entityID string, err error)

	// Cache, when set, serves master data the store cannot and is
	// invalidated by writes.
	Cache Cache

	// Fallbacks are tried after the store and the cache, in order.
	Fallbacks []readpath.Backend[schema.MasterData]

	// TaskFallbacks serve all-tasks.json of clients the store does not
	// know.
	TaskFallbacks []readpath.Backend[[]schema.ShardTask]

	Logger *log.Logger
}

// Service runs operations for authorized callers.
type Service struct {
	authz   auth.Authorizer
	store   docstore.Store
	res     *resolver.Resolver
	builder *aggregate.Builder
	tasks   *tasks.Service
	master  *readpath.Chain[schema.MasterData]
	others  *readpath.Chain[[]schema.ShardTask]
	cache   Cache
	logger  *log.Logger
}

// New returns a service over store.
func New(store docstore.Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[pdca] ", log.LstdFlags)
	}
	authz := opts.Authorizer
	if authz == nil {
		authz = auth.AllowAll{}
	}

	res := resolver.New(store, opts.Root, logger)
	builder := aggregate.NewBuilder(res, aggregate.Options{
		Concurrency: opts.Concurrency,
		Logger:      logger,
		OnEntity:    opts.OnEntity,
	})

	backends := []readpath.Backend[schema.MasterData]{readpath.NewStoreBackend[schema.MasterData](res)}
	if opts.Cache != nil {
		backends = append(backends, opts.Cache)
	}
	backends = append(backends, opts.Fallbacks...)
	master := readpath.NewChain(logger, backends...)
	if opts.Cache != nil {
		master.WithRecorder(opts.Cache, readpath.StoreBackendName)
	}

	var others *readpath.Chain[[]schema.ShardTask]
	if len(opts.TaskFallbacks) > 0 {
		others = readpath.NewChain(logger, opts.TaskFallbacks...)
	}

	return &Service{
		authz:   authz,
		store:   store,
		res:     res,
		builder: builder,
		tasks:   tasks.New(res, builder, logger),
		master:  master,
		others:  others,
		cache:   opts.Cache,
		logger:  logger,
	}
}

// Resolver returns the folder resolver used by the service.
func (s *Service) Resolver() *resolver.Resolver {
	return s.res
}

// Builder returns the aggregate builder used by the service.
func (s *Service) Builder() *aggregate.Builder {
	return s.builder
}

func (s *Service) authorize(ctx context.Context, action auth.Action, clientID string) error {
	p, _ := auth.PrincipalFrom(ctx)
	return s.authz.Authorize(ctx, p, action, clientID)
}

// invalidate drops cached master data of a client after a write.
func (s *Service) invalidate(ctx context.Context, clientID string) {
	if s.cache == nil {
		return
	}
	key := readpath.Key{ClientID: clientID, Document: schema.MasterDataFile}
	if err := s.cache.Invalidate(ctx, key); err != nil {
		s.logger.Printf("WARNING: failed to invalidate cached %s: %v", key, err)
	}
}

// Clients lists registered clients.
func (s *Service) Clients(ctx context.Context) ([]schema.Client, error) {
	if err := s.authorize(ctx, auth.ActionRead, ""); err != nil {
		return nil, err
	}
	return s.res.Clients(ctx)
}

// AddClient registers a client.
func (s *Service) AddClient(ctx context.Context, c schema.Client) (schema.Client, error) {
	if err := s.authorize(ctx, auth.ActionAdmin, c.ID); err != nil {
		return schema.Client{}, err
	}
	return s.res.AddClient(ctx, c)
}

// Entities lists the entities of a client.
func (s *Service) Entities(ctx context.Context, clientID string) ([]schema.Entity, error) {
	if err := s.authorize(ctx, auth.ActionRead, clientID); err != nil {
		return nil, err
	}
	folder, err := s.res.ResolveClientFolder(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return s.res.Entities(ctx, folder)
}

// AddEntity registers an entity under a client.
func (s *Service) AddEntity(ctx context.Context, clientID string, e schema.Entity) (schema.Entity, error) {
	if err := s.authorize(ctx, auth.ActionAdmin, clientID); err != nil {
		return schema.Entity{}, err
	}
	return s.res.AddEntity(ctx, clientID, e)
}

// RemoveEntity drops an entity from the index, leaving its shards.
func (s *Service) RemoveEntity(ctx context.Context, clientID, entityID string) error {
	if err := s.authorize(ctx, auth.ActionAdmin, clientID); err != nil {
		return err
	}
	return s.res.RemoveEntity(ctx, clientID, entityID)
}

// CreateTask adds a task to an entity.
func (s *Service) CreateTask(ctx context.Context, clientID, entityID string, in tasks.TaskInput) (schema.Task, error) {
	if err := s.authorize(ctx, auth.ActionWrite, clientID); err != nil {
		return schema.Task{}, err
	}
	t, err := s.tasks.CreateTask(ctx, clientID, entityID, in)
	if err == nil {
		s.invalidate(ctx, clientID)
	}
	return t, err
}

// UpdateTask patches a task.
func (s *Service) UpdateTask(ctx context.Context, clientID, entityID, taskID string, patch tasks.TaskPatch) (schema.Task, error) {
	if err := s.authorize(ctx, auth.ActionWrite, clientID); err != nil {
		return schema.Task{}, err
	}
	t, err := s.tasks.UpdateTask(ctx, clientID, entityID, taskID, patch)
	if err == nil {
		s.invalidate(ctx, clientID)
	}
	return t, err
}

// DeleteTask removes a task.
func (s *Service) DeleteTask(ctx context.Context, clientID, entityID, taskID string) error {
	if err := s.authorize(ctx, auth.ActionWrite, clientID); err != nil {
		return err
	}
	err := s.tasks.DeleteTask(ctx, clientID, entityID, taskID)
	if err == nil {
		s.invalidate(ctx, clientID)
	}
	return err
}

// ListTasks returns the tasks of one entity.
func (s *Service) ListTasks(ctx context.Context, clientID, entityID string) ([]schema.Task, error) {
	if err := s.authorize(ctx, auth.ActionRead, clientID); err != nil {
		return nil, err
	}
	return s.tasks.ListTasks(ctx, clientID, entityID)
}

// ListClientTasks returns every task of a client from its aggregate. A
// client the store does not know is looked up in the task fallbacks.
func (s *Service) ListClientTasks(ctx context.Context, clientID string) ([]schema.Task, error) {
	if err := s.authorize(ctx, auth.ActionRead, clientID); err != nil {
		return nil, err
	}
	list, err := s.tasks.ListClientTasks(ctx, clientID)
	if s.others == nil || !docstore.IsNotFound(err) {
		return list, err
	}
	shards, source, ferr := s.others.Fetch(ctx, readpath.Key{ClientID: clientID, Document: schema.AllTasksFile})
	if ferr != nil {
		return nil, err
	}
	s.logger.Printf("Serving %s of %s from %s", schema.AllTasksFile, clientID, source)
	list = tasks.ToTasks(shards)
	tasks.SortClientTasks(list)
	return list, nil
}

// AddCycle appends a cycle to an entity.
func (s *Service) AddCycle(ctx context.Context, clientID, entityID string, c schema.PdcaCycle) (schema.PdcaCycle, error) {
	if err := s.authorize(ctx, auth.ActionWrite, clientID); err != nil {
		return schema.PdcaCycle{}, err
	}
	return s.tasks.AddCycle(ctx, clientID, entityID, c)
}

// UpdateCycle edits a cycle in place.
func (s *Service) UpdateCycle(ctx context.Context, clientID, entityID, cycleID string, patch tasks.CyclePatch) (schema.PdcaCycle, error) {
	if err := s.authorize(ctx, auth.ActionWrite, clientID); err != nil {
		return schema.PdcaCycle{}, err
	}
	return s.tasks.UpdateCycle(ctx, clientID, entityID, cycleID, patch)
}

// ListCycles returns the cycles of one entity.
func (s *Service) ListCycles(ctx context.Context, clientID, entityID string) ([]schema.PdcaCycle, error) {
	if err := s.authorize(ctx, auth.ActionRead, clientID); err != nil {
		return nil, err
	}
	return s.tasks.ListCycles(ctx, clientID, entityID)
}

// RebuildAggregate regenerates all-tasks.json and all-cycles.json.
func (s *Service) RebuildAggregate(ctx context.Context, clientID string) (aggregate.RebuildResult, error) {
	if err := s.authorize(ctx, auth.ActionRebuild, clientID); err != nil {
		return aggregate.RebuildResult{}, err
	}
	return s.builder.RebuildAggregate(ctx, clientID)
}

// RebuildMasterData regenerates master-data.json.
func (s *Service) RebuildMasterData(ctx context.Context, clientID string) (aggregate.MasterDataResult, error) {
	if err := s.authorize(ctx, auth.ActionRebuild, clientID); err != nil {
		return aggregate.MasterDataResult{}, err
	}
	result, err := s.builder.RebuildMasterData(ctx, clientID)
	if err == nil {
		s.invalidate(ctx, clientID)
	}
	return result, err
}

// MasterData reads master-data.json through the read path and reports
// which backend answered.
func (s *Service) MasterData(ctx context.Context, clientID string) (schema.MasterData, string, error) {
	if err := s.authorize(ctx, auth.ActionRead, clientID); err != nil {
		return schema.MasterData{}, "", err
	}
	return s.master.Fetch(ctx, readpath.Key{ClientID: clientID, Document: schema.MasterDataFile})
}

// Ingest converts a spreadsheet and stores it as the client's
// unified_data.json.
func (s *Service) Ingest(ctx context.Context, clientID, name string, data []byte) (schema.UnifiedData, error) {
	if err := s.authorize(ctx, auth.ActionIngest, clientID); err != nil {
		return schema.UnifiedData{}, err
	}
	folder, err := s.res.ResolveClientFolder(ctx, clientID)
	if err != nil {
		return schema.UnifiedData{}, err
	}
	return ingest.Ingest(ctx, s.store, folder, name, data)
}

// Seed registers the client and stores of a master file.
func (s *Service) Seed(ctx context.Context, f seed.File) (seed.Result, error) {
	if err := s.authorize(ctx, auth.ActionAdmin, f.ID); err != nil {
		return seed.Result{}, err
	}
	result, err := seed.Register(ctx, s.res, f, s.logger)
	if err == nil {
		s.invalidate(ctx, result.Client.ID)
	}
	return result, err
}

// InstallDemo writes the demo client into the store.
func (s *Service) InstallDemo(ctx context.Context, repo *demo.Repository) error {
	if err := s.authorize(ctx, auth.ActionAdmin, demo.ClientID); err != nil {
		return err
	}
	if err := repo.Install(ctx, s.res); err != nil {
		return err
	}
	s.invalidate(ctx, demo.ClientID)
	return nil
}
