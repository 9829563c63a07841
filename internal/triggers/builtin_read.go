package triggers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/repository"
)

func getDirectAncestor(ctx context.Context, call *Call) (string, any, error) {
	parents, err := call.Deps.Store.GetParents(ctx, call.EntityUUID(), repository.RelationFilter{Limit: 1})
	if err != nil {
		return "", nil, fmt.Errorf("failed to get the direct ancestor: %w", err)
	}
	if len(parents) == 0 {
		return "", nil, nil
	}
	return call.Property, map[string]any(call.Deps.publicView(parents[0])), nil
}

func getDirectAncestors(ctx context.Context, call *Call) (string, any, error) {
	parents, err := call.Deps.Store.GetParents(ctx, call.EntityUUID(), repository.RelationFilter{})
	if err != nil {
		return "", nil, fmt.Errorf("failed to get the direct ancestors: %w", err)
	}
	return call.Property, call.Deps.publicViews(parents), nil
}

// getSource returns the nearest Source ancestor.
func getSource(ctx context.Context, call *Call) (string, any, error) {
	sources, err := call.Deps.Store.GetAncestors(ctx, call.EntityUUID(), repository.RelationFilter{
		EntityType: domain.ClassSource,
		Limit:      1,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to get the source: %w", err)
	}
	if len(sources) == 0 {
		return "", nil, nil
	}
	return call.Property, map[string]any(call.Deps.publicView(sources[0])), nil
}

func getCollectionEntities(ctx context.Context, call *Call) (string, any, error) {
	linked, err := call.Deps.Store.GetLinkedEntities(ctx, call.EntityUUID(), repository.RelationInCollection)
	if err != nil {
		return "", nil, fmt.Errorf("failed to get the collection entities: %w", err)
	}
	return call.Property, call.Deps.publicViews(linked), nil
}

func getCreationActionActivity(ctx context.Context, call *Call) (string, any, error) {
	activity, err := call.Deps.Store.GetEntityActivity(ctx, call.EntityUUID())
	if errors.Is(err, domain.ErrEntityNotFound) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to get the generating activity: %w", err)
	}
	action, _ := activity[domain.KeyCreationAction].(string)
	if action == "" {
		return "", nil, nil
	}
	return call.Property, action, nil
}

func getOriginSamples(ctx context.Context, call *Call) (string, any, error) {
	origins, err := resolveOriginSamples(ctx, call.Deps, []domain.Record{call.Existing})
	if err != nil {
		return "", nil, err
	}
	samples := origins[call.EntityUUID()]
	if len(samples) == 0 {
		return "", nil, nil
	}
	return call.Property, call.Deps.publicViews(samples), nil
}

func getOrganHierarchy(ctx context.Context, call *Call) (string, any, error) {
	origins, err := resolveOriginSamples(ctx, call.Deps, []domain.Record{call.Existing})
	if err != nil {
		return "", nil, err
	}
	hierarchy := organHierarchy(call.Deps, origins[call.EntityUUID()])
	if hierarchy == "" {
		return "", nil, nil
	}
	return call.Property, hierarchy, nil
}

func getOriginSamplesBulk(ctx context.Context, call *BulkCall) (map[string]any, error) {
	origins, err := resolveOriginSamples(ctx, call.Deps, call.Targets)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(origins))
	for id, samples := range origins {
		if len(samples) > 0 {
			out[id] = call.Deps.publicViews(samples)
		}
	}
	return out, nil
}

func getOrganHierarchyBulk(ctx context.Context, call *BulkCall) (map[string]any, error) {
	origins, err := resolveOriginSamples(ctx, call.Deps, call.Targets)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(origins))
	for id, samples := range origins {
		if hierarchy := organHierarchy(call.Deps, samples); hierarchy != "" {
			out[id] = hierarchy
		}
	}
	return out, nil
}

// resolveOriginSamples maps every target uuid to its origin samples. Organ
// samples are their own origin and never reach the store; the rest are
// resolved with a single GetOriginSamples call.
func resolveOriginSamples(ctx context.Context, d *Deps, targets []domain.Record) (map[string][]domain.Record, error) {
	out := make(map[string][]domain.Record, len(targets))
	var remaining []string
	for _, target := range targets {
		id := target.UUID()
		if id == "" {
			continue
		}
		if isOrganSample(target) {
			out[id] = []domain.Record{target}
			continue
		}
		remaining = append(remaining, id)
	}
	if len(remaining) == 0 {
		return out, nil
	}

	found, err := d.Store.GetOriginSamples(ctx, remaining)
	if err != nil {
		return nil, fmt.Errorf("failed to get origin samples for %d entities: %w", len(remaining), err)
	}
	for id, samples := range found {
		out[id] = samples
	}
	return out, nil
}

func isOrganSample(rec domain.Record) bool {
	return strings.EqualFold(rec.EntityType(), domain.ClassSample) &&
		strings.EqualFold(rec.StringOr(domain.KeySampleCategory, ""), domain.SampleCategoryOrgan)
}

// organHierarchy names the organs of the origin samples, joined and sorted.
// Unknown codes are reported as-is.
func organHierarchy(d *Deps, samples []domain.Record) string {
	seen := make(map[string]struct{}, len(samples))
	var names []string
	for _, sample := range samples {
		code := sample.StringOr(domain.KeyOrgan, "")
		if code == "" {
			continue
		}
		name := code
		if d.Ontology != nil {
			if resolved, ok := d.Ontology.OrganName(code); ok {
				name = resolved
			}
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
