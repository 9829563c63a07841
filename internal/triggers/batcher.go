package triggers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rpattn/entityapi/internal/domain"
)

// StorageKey names a bulk group: the property and the bulk trigger computing it.
func StorageKey(property, trigger string) string {
	return property + "_" + trigger
}

type bulkGroup struct {
	property string
	trigger  string
	uuids    []string
	seen     map[string]struct{}
}

// Batcher collects bulk-capable on_read properties across a list of entities
// and computes each (property, trigger) group with one call. A Batcher serves a
// single list response and is not safe for concurrent use.
type Batcher struct {
	executor *Executor
	groups   map[string]*bulkGroup
	order    []string
	index    map[string][]int
}

// NewBatcher creates an empty batcher bound to the executor's trigger table.
func (e *Executor) NewBatcher() *Batcher {
	return &Batcher{
		executor: e,
		groups:   make(map[string]*bulkGroup),
	}
}

// Register adds entityUUID to the group for (property, trigger).
func (b *Batcher) Register(property, trigger, entityUUID string) {
	if entityUUID == "" {
		return
	}
	key := StorageKey(property, trigger)
	g, ok := b.groups[key]
	if !ok {
		g = &bulkGroup{property: property, trigger: trigger, seen: make(map[string]struct{})}
		b.groups[key] = g
		b.order = append(b.order, key)
	}
	if _, dup := g.seen[entityUUID]; dup {
		return
	}
	g.seen[entityUUID] = struct{}{}
	g.uuids = append(g.uuids, entityUUID)
}

// Pending returns the registered uuids per storage key.
func (b *Batcher) Pending() map[string][]string {
	out := make(map[string][]string, len(b.groups))
	for key, g := range b.groups {
		out[key] = append([]string(nil), g.uuids...)
	}
	return out
}

// RecordIndex maps each entity uuid to its positions in entities. A uuid listed
// more than once receives the bulk values at every position.
func (b *Batcher) RecordIndex(entities []domain.Record) {
	b.index = make(map[string][]int, len(entities))
	for i, rec := range entities {
		if id := rec.UUID(); id != "" {
			b.index[id] = append(b.index[id], i)
		}
	}
}

// Execute runs every registered group once and writes the results into
// entities in place. A failing group is logged and skipped; its entities do not
// receive the property. The failures are returned for inspection.
func (b *Batcher) Execute(ctx context.Context, req *domain.RequestContext, entities []domain.Record) []error {
	if b.index == nil {
		b.RecordIndex(entities)
	}
	e := b.executor

	var failures []error
	for _, key := range b.order {
		g := b.groups[key]
		targets := make([]domain.Record, 0, len(g.uuids))
		for _, id := range g.uuids {
			if positions := b.index[id]; len(positions) > 0 {
				targets = append(targets, entities[positions[0]])
			}
		}
		if len(targets) == 0 {
			continue
		}

		results, err := b.run(ctx, req, g, targets)
		if err != nil {
			bulkErr := &domain.BulkTriggerError{StorageKey: key, Err: err}
			e.logger.Error("bulk trigger failed",
				zap.String("phase", string(domain.PhaseOnBulkRead)),
				zap.String("property", g.property),
				zap.String("trigger", g.trigger),
				zap.Int("entities", len(targets)),
				zap.Error(err),
			)
			failures = append(failures, bulkErr)
			continue
		}
		for id, value := range results {
			if value == nil {
				continue
			}
			for _, i := range b.index[id] {
				entities[i][g.property] = value
			}
		}
	}
	return failures
}

func (b *Batcher) run(ctx context.Context, req *domain.RequestContext, g *bulkGroup, targets []domain.Record) (results map[string]any, err error) {
	e := b.executor
	fn, ok := e.table.Bulk[g.trigger]
	if !ok {
		return nil, fmt.Errorf("trigger %s is not registered as a bulk trigger", g.trigger)
	}
	start := time.Now()
	defer func() {
		e.recorder.ObserveBulk(g.trigger, len(targets), time.Since(start), err)
	}()
	return fn(ctx, &BulkCall{
		Deps:     e.deps,
		Request:  req,
		Property: g.property,
		Trigger:  g.trigger,
		Targets:  targets,
	})
}
