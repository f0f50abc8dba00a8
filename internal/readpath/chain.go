// Package readpath reads client documents through an ordered list of
// backends.
//
// Each backend answers with a tagged Result: Hit, Miss or Error. The chain
// returns the first Hit. Miss and Error both move on to the next backend;
// errors are kept so that an exhausted chain can say why. When every
// backend has been tried without a Hit, Fetch returns ErrNoDataSource.
//
// A typical chain for master-data.json is store, then Redis, then demo
// data, with the Redis cache recording store hits:
//
//	chain := readpath.NewChain[schema.MasterData](logger,
//	    readpath.NewStoreBackend[schema.MasterData](res),
//	    cache,
//	    demoRepo,
//	).WithRecorder(cache, readpath.StoreBackendName)
package readpath

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
)

// ErrNoDataSource is returned when no backend produced a value.
var ErrNoDataSource = errors.New("no data source")

// Outcome tags a backend answer.
type Outcome int

const (
	Miss Outcome = iota
	Hit
	Error
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "hit"
	case Miss:
		return "miss"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Key names one document of one client.
type Key struct {
	ClientID string
	Document string
}

func (k Key) String() string {
	return k.ClientID + "/" + k.Document
}

// Result is one backend answer.
type Result[T any] struct {
	Outcome Outcome
	Value   T
	Err     error
}

// Found returns a Hit.
func Found[T any](v T) Result[T] {
	return Result[T]{Outcome: Hit, Value: v}
}

// Missing returns a Miss.
func Missing[T any]() Result[T] {
	return Result[T]{Outcome: Miss}
}

// Failed returns an Error.
func Failed[T any](err error) Result[T] {
	return Result[T]{Outcome: Error, Err: err}
}

// Backend provides documents of type T.
type Backend[T any] interface {
	Name() string
	Fetch(ctx context.Context, key Key) Result[T]
}

// Recorder is told about hits so it can serve them later.
type Recorder[T any] interface {
	Record(ctx context.Context, key Key, value T) error
}

type recorder[T any] struct {
	r    Recorder[T]
	from map[string]bool
}

// Chain tries its backends in order.
type Chain[T any] struct {
	backends  []Backend[T]
	recorders []recorder[T]
	logger    *log.Logger
}

// NewChain returns a chain over backends. If logger is nil, a default
// logger writing to stderr is used.
func NewChain[T any](logger *log.Logger, backends ...Backend[T]) *Chain[T] {
	if logger == nil {
		logger = log.New(os.Stderr, "[readpath] ", log.LstdFlags)
	}
	return &Chain[T]{backends: backends, logger: logger}
}

// WithRecorder registers r for hits from the named backends. Without names,
// r records hits from every backend except itself.
func (c *Chain[T]) WithRecorder(r Recorder[T], from ...string) *Chain[T] {
	rec := recorder[T]{r: r}
	if len(from) > 0 {
		rec.from = make(map[string]bool, len(from))
		for _, name := range from {
			rec.from[name] = true
		}
	}
	c.recorders = append(c.recorders, rec)
	return c
}

// Fetch returns the first hit for key and the name of the backend that
// produced it.
func (c *Chain[T]) Fetch(ctx context.Context, key Key) (T, string, error) {
	var zero T
	var errs []error
	for _, b := range c.backends {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		res := b.Fetch(ctx, key)
		switch res.Outcome {
		case Hit:
			c.record(ctx, b, key, res.Value)
			return res.Value, b.Name(), nil
		case Error:
			c.logger.Printf("WARNING: %s backend failed for %s: %v", b.Name(), key, res.Err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), res.Err))
		}
	}
	if len(errs) > 0 {
		return zero, "", fmt.Errorf("%w for %s: %w", ErrNoDataSource, key, errors.Join(errs...))
	}
	return zero, "", fmt.Errorf("%w for %s", ErrNoDataSource, key)
}

func (c *Chain[T]) record(ctx context.Context, source Backend[T], key Key, value T) {
	for _, rec := range c.recorders {
		if rec.from != nil && !rec.from[source.Name()] {
			continue
		}
		if rec.from == nil {
			if b, ok := rec.r.(Backend[T]); ok && b.Name() == source.Name() {
				continue
			}
		}
		if err := rec.r.Record(ctx, key, value); err != nil {
			c.logger.Printf("WARNING: failed to record %s from %s: %v", key, source.Name(), err)
		}
	}
}
