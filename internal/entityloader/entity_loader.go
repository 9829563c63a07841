package entityloader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/repository"
)

type ctxKey string

const loaderKey ctxKey = "entityLoader"

// EntityLoader batches the entity lookups of one request into GetEntities
// calls against the graph store.
type EntityLoader struct {
	Loader *dataloader.Loader
}

// NewEntityLoader creates a per-request loader.
func NewEntityLoader(store repository.GraphStore) *EntityLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))
		ids := make([]string, 0, len(keys))
		for i, k := range keys {
			if _, err := uuid.Parse(k.String()); err != nil {
				results[i] = &dataloader.Result{Error: fmt.Errorf("%w: invalid uuid %q", domain.ErrEntityNotFound, k.String())}
				continue
			}
			ids = append(ids, k.String())
		}

		entities, err := store.GetEntities(ctx, ids)
		if err != nil {
			for i := range results {
				if results[i] == nil {
					results[i] = &dataloader.Result{Error: err}
				}
			}
			return results
		}

		byID := make(map[string]domain.Record, len(entities))
		for _, e := range entities {
			byID[e.UUID()] = e
		}

		// Results follow the order of keys.
		for i, k := range keys {
			if results[i] != nil {
				continue
			}
			if e, ok := byID[k.String()]; ok {
				results[i] = &dataloader.Result{Data: e}
			} else {
				results[i] = &dataloader.Result{Error: fmt.Errorf("%w: %s", domain.ErrEntityNotFound, k.String())}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn,
		dataloader.WithWait(2*time.Millisecond),
		dataloader.WithCache(&dataloader.NoCache{}),
	)
	return &EntityLoader{Loader: loader}
}

// Load returns one entity, batched with the other loads of the request.
func (l *EntityLoader) Load(ctx context.Context, id string) (domain.Record, error) {
	data, err := l.Loader.Load(ctx, dataloader.StringKey(id))()
	if err != nil {
		return nil, err
	}
	rec, ok := data.(domain.Record)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrEntityNotFound, id)
	}
	return rec.DeepClone(), nil
}

// LoadMany returns the entities of ids in order, resolved in a single batch.
// errs is nil when every id loaded and otherwise holds one entry per id.
func (l *EntityLoader) LoadMany(ctx context.Context, ids []string) ([]domain.Record, []error) {
	data, errs := l.Loader.LoadMany(ctx, dataloader.NewKeysFromStrings(ids))()
	records := make([]domain.Record, len(ids))
	for i, d := range data {
		if rec, ok := d.(domain.Record); ok {
			records[i] = rec.DeepClone()
		}
	}
	return records, errs
}

// WithLoader attaches a loader to ctx.
func WithLoader(ctx context.Context, loader *EntityLoader) context.Context {
	return context.WithValue(ctx, loaderKey, loader)
}

// FromContext returns the request's loader, if any.
func FromContext(ctx context.Context) *EntityLoader {
	if l, ok := ctx.Value(loaderKey).(*EntityLoader); ok {
		return l
	}
	return nil
}

// Reader reads single entities through the request's loader when one is
// attached, and straight from the store otherwise.
type Reader struct {
	Store repository.GraphStore
}

// GetEntity implements the validators' entity lookup.
func (r Reader) GetEntity(ctx context.Context, id string) (domain.Record, error) {
	if l := FromContext(ctx); l != nil {
		return l.Load(ctx, id)
	}
	return r.Store.GetEntity(ctx, id)
}

// LoadEntities reads ids through one loader batch when a loader is attached,
// and one by one from the store otherwise.
func (r Reader) LoadEntities(ctx context.Context, ids []string) ([]domain.Record, []error) {
	if l := FromContext(ctx); l != nil {
		return l.LoadMany(ctx, ids)
	}
	records := make([]domain.Record, len(ids))
	var errs []error
	for i, id := range ids {
		rec, err := r.Store.GetEntity(ctx, id)
		if err != nil {
			if errs == nil {
				errs = make([]error, len(ids))
			}
			errs[i] = err
			continue
		}
		records[i] = rec
	}
	return records, errs
}
