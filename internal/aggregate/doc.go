// Package aggregate rebuilds and patches the client-level documents derived
// from entity shards.
//
// # Overview
//
// Every entity keeps its own tasks.json and cycles.json. The builder gathers
// them into all-tasks.json and all-cycles.json at the client folder, and
// merges the legacy pdca-issues.json, pdca-cycles.json and tasks.json into
// master-data.json:
//
//	client/
//	  ├── entities.json
//	  ├── e1/tasks.json, e1/cycles.json ─┐
//	  ├── e2/tasks.json, e2/cycles.json ─┼─ RebuildAggregate ─→ all-tasks.json
//	  │                                  ┘                       all-cycles.json
//	  ├── pdca-issues.json ─┐
//	  ├── pdca-cycles.json ─┼─ RebuildMasterData ─→ master-data.json
//	  └── tasks.json ───────┘
//
// Aggregates are caches. They are overwritten wholesale by a rebuild and
// only ever patched by UpdateTaskInAggregate and RemoveTaskFromAggregate.
//
// # Usage
//
//	b := aggregate.NewBuilder(res, aggregate.Options{Concurrency: 4})
//	result, err := b.RebuildAggregate(ctx, "client-a")
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("%d entities, %d tasks\n", result.EntitiesProcessed, result.Tasks)
//
// # Error Handling
//
// A rebuild is resilient to individual entities:
//
//   - An entity whose folder cannot be resolved is logged and skipped
//   - An entity whose shards cannot be read is logged and skipped
//   - A malformed shard is read as empty
//   - Failing to resolve the client or write an aggregate is returned
//
// Rebuilds are idempotent, so a degraded rebuild can simply be run again.
//
// # Concurrency
//
// Entities are read by a bounded pool (Options.Concurrency). Results are
// assembled in entity index order regardless of completion order. Writes to
// the same aggregate from concurrent callers are last-write-wins.
package aggregate
