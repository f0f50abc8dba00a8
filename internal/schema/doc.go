// Package schema defines the JSON documents of the PDCA store.
//
// # Overview
//
// All data lives in plain JSON documents inside a folder tree:
//
//	<root>/clients.json                     client index
//	<root>/<client>/entities.json           entity index
//	<root>/<client>/<entity>/tasks.json     task shard
//	<root>/<client>/<entity>/cycles.json    cycle shard
//	<root>/<client>/all-tasks.json          aggregate of every tasks.json
//	<root>/<client>/all-cycles.json         aggregate of every cycles.json
//	<root>/<client>/master-data.json        enriched issues + cycles
//	<root>/<client>/unified_data.json       spreadsheet ingestion output
//
// The legacy unsharded layout keeps pdca-issues.json, pdca-cycles.json and
// tasks.json at the client root; master-data.json is rebuilt from them.
//
// # Tasks
//
// Task is the canonical work item and has no JSON encoding of its own. It is
// written through one of two adapters:
//
//	shard := task.ToShard()        // tasks.json / all-tasks.json entry
//	issue := task.ToMasterIssue()  // master-data.json issues[] entry
//
// and read back with ShardTask.ToTask or MasterIssue.ToTask. Both adapters
// carry the same identity, so a task patched in a shard can be located and
// replaced in either aggregate.
//
// # Validation
//
// Mutations are checked with Task.Validate and PdcaCycle.Validate before any
// store call; failures wrap ErrValidation. Stored documents can be checked
// against embedded JSON Schemas with ValidateDocument.
//
// # Timestamps
//
// created_at, updated_at and date fields are kept as strings. Documents
// written by older tools carry local ISO timestamps without a zone, and the
// store must round-trip them unchanged. New stamps are produced by Now.
package schema
