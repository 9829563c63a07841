package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/entityapi/internal/domain"
)

func seed(t *testing.T, s *MemoryGraphStore, records ...domain.Record) {
	t.Helper()
	for _, rec := range records {
		_, err := s.CreateEntity(context.Background(), rec.EntityType(), rec)
		require.NoError(t, err)
	}
}

func link(t *testing.T, s *MemoryGraphStore, child string, parents ...string) {
	t.Helper()
	activity := domain.Record{domain.KeyUUID: "act-" + child, domain.KeyCreationAction: "Create Sample Activity"}
	require.NoError(t, s.LinkEntityViaActivity(context.Background(), child, parents, activity))
}

func uuids(records []domain.Record) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.UUID())
	}
	return out
}

func TestMemoryGraphStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryGraphStore()

	created, err := s.CreateEntity(ctx, "Source", domain.Record{domain.KeyUUID: "src", "lab_source_id": "L1"})
	require.NoError(t, err)
	assert.Equal(t, "Source", created.EntityType())

	_, err = s.CreateEntity(ctx, "Source", domain.Record{domain.KeyUUID: "src"})
	require.Error(t, err)

	updated, err := s.UpdateEntity(ctx, "Source", domain.Record{"lab_source_id": nil, "description": "d"}, "src")
	require.NoError(t, err)
	assert.False(t, updated.Has("lab_source_id"))
	assert.Equal(t, "d", updated["description"])

	_, err = s.GetEntity(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)

	_, err = s.UpdateEntity(ctx, "Source", domain.Record{}, "missing")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)

	found, err := s.GetEntities(ctx, []string{"src", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"src"}, uuids(found))
}

func TestMemoryGraphStoreProvenance(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryGraphStore()
	seed(t, s,
		domain.Record{domain.KeyUUID: "src", domain.KeyEntityType: "Source"},
		domain.Record{domain.KeyUUID: "organ", domain.KeyEntityType: "Sample", domain.KeySampleCategory: "Organ", domain.KeyOrgan: "LV"},
		domain.Record{domain.KeyUUID: "block", domain.KeyEntityType: "Sample", domain.KeySampleCategory: "block"},
		domain.Record{domain.KeyUUID: "section", domain.KeyEntityType: "Sample", domain.KeySampleCategory: "section"},
		domain.Record{domain.KeyUUID: "ds", domain.KeyEntityType: "Dataset"},
	)
	link(t, s, "organ", "src")
	link(t, s, "block", "organ")
	link(t, s, "section", "block")
	link(t, s, "ds", "section")

	parents, err := s.GetParents(ctx, "section", RelationFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"block"}, uuids(parents))

	ancestors, err := s.GetAncestors(ctx, "ds", RelationFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"section", "block", "organ", "src"}, uuids(ancestors))

	sources, err := s.GetAncestors(ctx, "ds", RelationFilter{EntityType: "source", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"src"}, uuids(sources))

	descendants, err := s.GetDescendants(ctx, "organ", RelationFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"block", "section", "ds"}, uuids(descendants))

	children, err := s.GetChildren(ctx, "organ", RelationFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"block"}, uuids(children))

	origins, err := s.GetOriginSamples(ctx, []string{"ds", "block", "src"})
	require.NoError(t, err)
	assert.Equal(t, []string{"organ"}, uuids(origins["ds"]))
	assert.Equal(t, []string{"organ"}, uuids(origins["block"]))
	assert.NotContains(t, origins, "src")

	activity, err := s.GetEntityActivity(ctx, "block")
	require.NoError(t, err)
	assert.Equal(t, "act-block", activity.UUID())
	assert.Equal(t, domain.ClassActivity, activity.EntityType())

	require.NoError(t, s.UnlinkEntityFromParents(ctx, "block"))
	parents, err = s.GetParents(ctx, "block", RelationFilter{})
	require.NoError(t, err)
	assert.Empty(t, parents)
	_, err = s.GetEntityActivity(ctx, "block")
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
}

func TestMemoryGraphStoreLinks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryGraphStore()
	seed(t, s,
		domain.Record{domain.KeyUUID: "col", domain.KeyEntityType: "Collection"},
		domain.Record{domain.KeyUUID: "a", domain.KeyEntityType: "Dataset"},
		domain.Record{domain.KeyUUID: "b", domain.KeyEntityType: "Dataset"},
	)

	require.NoError(t, s.LinkEntityToEntities(ctx, "col", RelationInCollection, []string{"a", "b"}))
	linked, err := s.GetLinkedEntities(ctx, "col", RelationInCollection)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, uuids(linked))

	require.NoError(t, s.LinkEntityToEntities(ctx, "col", RelationInCollection, []string{"b"}))
	linked, err = s.GetLinkedEntities(ctx, "col", RelationInCollection)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, uuids(linked))

	err = s.LinkEntityToEntities(ctx, "col", RelationInCollection, []string{"missing"})
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
}
