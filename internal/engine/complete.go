package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/rpattn/entityapi/internal/cache"
	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/schema"
	"github.com/rpattn/entityapi/internal/triggers"
)

type scope struct {
	key  func(uuid string) string
	skip func(rule *schema.PropertyRule) bool
}

var (
	responseScope = scope{key: cache.CompleteKey, skip: func(*schema.PropertyRule) bool { return false }}
	// The index never carries unindexed properties, so their triggers are skipped.
	indexScope = scope{key: cache.CompleteIndexKey, skip: func(rule *schema.PropertyRule) bool { return !rule.Indexed }}
)

// GetCompleteEntityResult merges the stored record with its on_read
// generated properties. On_read failures never fail the call. A filter limits
// the triggers run to the selected properties and their dependencies; only
// unfiltered results are cached.
func (e *Engine) GetCompleteEntityResult(ctx context.Context, req *domain.RequestContext, record domain.Record, filter domain.PropertyFilter) (domain.Record, error) {
	return e.complete(ctx, req, record, filter, responseScope, nil)
}

// GetCompleteEntityForIndex completes a record for the search index.
func (e *Engine) GetCompleteEntityForIndex(ctx context.Context, req *domain.RequestContext, record domain.Record) (domain.Record, error) {
	return e.complete(ctx, req, record, domain.PropertyFilter{}, indexScope, nil)
}

// GetCompleteEntitiesList completes many records with one bulk batcher shared
// across the list, so bulk-capable properties cost one call per property
// rather than one per entity.
func (e *Engine) GetCompleteEntitiesList(ctx context.Context, req *domain.RequestContext, records []domain.Record, filter domain.PropertyFilter) ([]domain.Record, error) {
	batcher := e.executor.NewBatcher()
	out := make([]domain.Record, len(records))
	fresh := make([]int, 0, len(records))

	for i, record := range records {
		if filter.Empty() {
			if hit, ok := e.cached(ctx, cache.CompleteKey(record.UUID())); ok {
				out[i] = hit
				continue
			}
		}
		completed, err := e.complete(ctx, req, record, filter, responseScope, batcher)
		if err != nil {
			return nil, err
		}
		out[i] = completed
		fresh = append(fresh, i)
	}

	batcher.RecordIndex(out)
	for _, err := range batcher.Execute(ctx, req, out) {
		e.logger.Debug("bulk property omitted from list response", zap.Error(err))
	}

	if filter.Empty() {
		for _, i := range fresh {
			e.remember(ctx, cache.CompleteKey(out[i].UUID()), out[i])
		}
	}
	return out, nil
}

func (e *Engine) complete(ctx context.Context, req *domain.RequestContext, record domain.Record, filter domain.PropertyFilter, sc scope, batcher *triggers.Batcher) (domain.Record, error) {
	class := record.EntityType()
	props, err := e.catalog.EffectiveProperties(class)
	if err != nil {
		return nil, err
	}
	id := record.UUID()
	cacheable := filter.Empty() && id != "" && batcher == nil

	if cacheable {
		if hit, ok := e.cached(ctx, sc.key(id)); ok {
			return hit, nil
		}
	}

	skip, err := e.propertiesToSkip(class, props, filter, sc)
	if err != nil {
		return nil, err
	}
	opts := []triggers.GenerateOption{triggers.WithPropertiesToSkip(skip...)}
	if batcher != nil {
		opts = append(opts, triggers.WithBatcher(batcher))
	}
	generated, err := e.executor.Generate(ctx, domain.PhaseOnRead, class, req, record, nil, opts...)
	if err != nil {
		return nil, err
	}

	completed := domain.Merge(record, generated)
	e.applyActivityValues(ctx, props, completed)

	if cacheable {
		e.remember(ctx, sc.key(id), completed)
	}
	return completed, nil
}

// propertiesToSkip lists the on_read properties a call does not need.
func (e *Engine) propertiesToSkip(class string, props *schema.PropertyMap, filter domain.PropertyFilter, sc scope) ([]string, error) {
	var groups schema.PropertyGroups
	if !filter.Empty() {
		var err error
		groups, err = e.catalog.ResolveGroups(class, filter)
		if err != nil {
			return nil, err
		}
	}
	var skip []string
	for _, rule := range props.Rules() {
		if !rule.IsTriggerBacked() {
			continue
		}
		if sc.skip(rule) || (!filter.Empty() && !groups.NeedsTrigger(rule.Name)) {
			skip = append(skip, rule.Name)
		}
	}
	return skip, nil
}

// applyActivityValues fills properties flagged use_activity_value_if_null
// from the generating activity when the entity holds no value.
func (e *Engine) applyActivityValues(ctx context.Context, props *schema.PropertyMap, completed domain.Record) {
	var missing []string
	for _, rule := range props.Rules() {
		if rule.UseActivityValueIfNull && completed[rule.Name] == nil {
			missing = append(missing, rule.Name)
		}
	}
	if len(missing) == 0 || completed.UUID() == "" {
		return
	}

	activity, err := e.store.GetEntityActivity(ctx, completed.UUID())
	if errors.Is(err, domain.ErrEntityNotFound) {
		return
	}
	if err != nil {
		e.logger.Warn("failed to read generating activity",
			zap.String("uuid", completed.UUID()),
			zap.Strings("properties", missing),
			zap.Error(err),
		)
		return
	}
	for _, name := range missing {
		if value, ok := activity[name]; ok && value != nil {
			completed[name] = value
		}
	}
}
