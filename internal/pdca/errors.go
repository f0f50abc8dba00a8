package pdca

import (
	"errors"

	"github.com/pdcadash/pdca/internal/auth"
	"github.com/pdcadash/pdca/internal/docstore"
	"github.com/pdcadash/pdca/internal/ingest"
	"github.com/pdcadash/pdca/internal/readpath"
	"github.com/pdcadash/pdca/internal/schema"
)

// Kind is the caller-facing class of an error.
type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindStore
	KindValidation
	KindIngestion
	KindUnauthorized
	KindForbidden
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindNotFound:
		return "not found"
	case KindStore:
		return "store failure"
	case KindValidation:
		return "validation failure"
	case KindIngestion:
		return "ingestion failure"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal error"
	}
}

// Retryable reports whether retrying the same call may succeed.
func (k Kind) Retryable() bool {
	return k == KindStore
}

// Classify maps err to its Kind. Auth and validation failures win over
// anything they wrap. An exhausted read path is a store failure when one of
// its backends failed and NotFound otherwise.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, auth.ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return KindForbidden
	case errors.Is(err, schema.ErrValidation), errors.Is(err, docstore.ErrInvalidName):
		return KindValidation
	case errors.Is(err, ingest.ErrIngestion):
		return KindIngestion
	case errors.Is(err, docstore.ErrStoreFailure):
		return KindStore
	case errors.Is(err, docstore.ErrNotFound), errors.Is(err, readpath.ErrNoDataSource):
		return KindNotFound
	default:
		return KindInternal
	}
}
