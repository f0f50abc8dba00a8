package readpath

import (
	"context"

	"github.com/pdcadash/pdca/internal/docstore"
	"github.com/pdcadash/pdca/internal/resolver"
)

// StoreBackendName is the name of the document store backend.
const StoreBackendName = "store"

// StoreBackend reads documents from client folders of the document store.
type StoreBackend[T any] struct {
	res *resolver.Resolver
}

// NewStoreBackend returns a backend reading through res.
func NewStoreBackend[T any](res *resolver.Resolver) *StoreBackend[T] {
	return &StoreBackend[T]{res: res}
}

func (b *StoreBackend[T]) Name() string { return StoreBackendName }

// Fetch reads key.Document from the client folder. An unknown client or an
// absent document is a Miss.
func (b *StoreBackend[T]) Fetch(ctx context.Context, key Key) Result[T] {
	folder, err := b.res.ResolveClientFolder(ctx, key.ClientID)
	if docstore.IsNotFound(err) {
		return Missing[T]()
	}
	if err != nil {
		return Failed[T](err)
	}
	v, err := docstore.ReadJSON[T](ctx, b.res.Store(), key.Document, folder)
	if docstore.IsNotFound(err) {
		return Missing[T]()
	}
	if err != nil {
		return Failed[T](err)
	}
	return Found(v)
}
