// Package docstore is the client side of the folder-oriented document store
// that holds every PDCA document.
//
// Overview
//
// The store is a tree of folders. Each folder holds named JSON documents:
//
//	root/
//	  clients.json              → client index
//	  <client folder>/
//	    entities.json           → entity index
//	    all-tasks.json          → aggregate (derived)
//	    master-data.json        → merged legacy view (derived)
//	    <entity folder>/
//	      tasks.json            → shard
//	      cycles.json           → shard
//
// Folders are addressed by an opaque FolderRef. What a ref looks like depends
// on the backend: a relative path for fsstore, a key prefix for s3store, a
// generated id for sqlitestore.
//
// Backends
//
// Backends register themselves from init():
//
//	import _ "github.com/pdcadash/pdca/internal/docstore/fsstore"
//
//	store, err := docstore.Open("fs", docstore.Options{Path: "./data"})
//
// Guarantees
//
//   - CreateOrGetFolder is idempotent for the same (name, parent).
//   - WriteFile replaces the whole document. There are no partial writes,
//     transactions or locks; concurrent writers race and the last one wins.
//   - ReadFile returns ErrNotFound when the document is absent and a
//     *StoreError (ErrStoreFailure) when the backend itself failed.
//
// Wrap a backend with WithPolicy to get per-call timeouts and retries.
package docstore
