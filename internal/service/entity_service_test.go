package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rpattn/entityapi/internal/cache"
	"github.com/rpattn/entityapi/internal/clients"
	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/engine"
	"github.com/rpattn/entityapi/internal/pkg/worker"
	"github.com/rpattn/entityapi/internal/repository"
	"github.com/rpattn/entityapi/internal/schema"
	"github.com/rpattn/entityapi/internal/schema/validator"
	"github.com/rpattn/entityapi/internal/triggers"
)

const (
	groupUUID   = "5bd084c8-edc2-11e8-802f-0e368f3075e8"
	protocolURL = "https://dx.doi.org/10.17504/protocols.io.xyz"
)

type recordingReindexer struct {
	mu    sync.Mutex
	uuids []string
}

func (r *recordingReindexer) Reindex(_ context.Context, _ string, uuid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uuids = append(r.uuids, uuid)
	return nil
}

type fixture struct {
	svc       *EntityService
	store     *repository.MemoryGraphStore
	reindexer *recordingReindexer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	catalog, err := schema.Load(schema.DefaultSource(), schema.LoadOptions{
		Triggers:   triggers.Builtin(),
		Validators: validator.Registry{},
	})
	require.NoError(t, err)

	store := repository.NewMemoryGraphStore()
	ontology := clients.NewStaticOntology()
	logger := zaptest.NewLogger(t)
	executor := triggers.NewExecutor(&triggers.Deps{
		Catalog: catalog,
		Codec:   schema.LiteralCodec{},
		Store:   store,
		Minter:  clients.NewLocalMinter("SNT"),
		Groups: &clients.StaticAuthProvider{GroupList: []domain.Group{
			{UUID: groupUUID, DisplayName: "Test TMC", DataProvider: true},
		}},
		Files:    clients.NewLocalFileService(),
		Ontology: ontology,
	}, triggers.WithLogger(logger))
	gateway := validator.NewGateway(catalog, validator.Deps{
		Store:               store,
		Vocabulary:          ontology,
		AllowedApplications: []string{"ingest-api"},
	})
	eng := engine.New(executor, gateway,
		engine.WithCache(cache.NewLRU(64, time.Minute), 0),
		engine.WithLogger(logger),
	)

	reindexer := &recordingReindexer{}
	opts = append([]Option{WithLogger(logger), WithReindexer(reindexer)}, opts...)
	return &fixture{
		svc:       NewEntityService(eng, opts...),
		store:     store,
		reindexer: reindexer,
	}
}

func testRequest() *domain.RequestContext {
	return &domain.RequestContext{
		Token: "token",
		User: &domain.User{
			Sub:         "sub-1",
			Email:       "tester@example.org",
			DisplayName: "Tester",
			GroupUUIDs:  []string{groupUUID},
		},
		Headers: http.Header{},
	}
}

// provenance creates source -> organ(LV) -> block through the service.
func (f *fixture) provenance(t *testing.T) (source, organ, block domain.Record) {
	t.Helper()
	ctx := context.Background()
	var err error

	source, err = f.svc.Create(ctx, testRequest(), "source", domain.Record{
		domain.KeySourceType: "Human",
		"lab_source_id":      "donor-7",
	})
	require.NoError(t, err)

	organ, err = f.svc.Create(ctx, testRequest(), "Sample", domain.Record{
		domain.KeySampleCategory:     "organ",
		domain.KeyOrgan:              "LV",
		domain.KeyDirectAncestorUUID: source.UUID(),
		domain.KeyProtocolURL:        protocolURL,
	})
	require.NoError(t, err)

	block, err = f.svc.Create(ctx, testRequest(), "Sample", domain.Record{
		domain.KeySampleCategory:     "block",
		domain.KeyDirectAncestorUUID: organ.UUID(),
		"description":                "first cut",
	})
	require.NoError(t, err)
	return source, organ, block
}

func TestCreateProvenanceChain(t *testing.T) {
	f := newFixture(t)
	source, organ, block := f.provenance(t)

	assert.Equal(t, domain.ClassSource, source.EntityType())
	assert.Equal(t, groupUUID, source[domain.KeyGroupUUID])
	assert.Equal(t, "Test TMC", source[domain.KeyGroupName])
	assert.Equal(t, domain.AccessLevelConsortium, source[domain.KeyDataAccessLevel])
	assert.NotContains(t, source, domain.KeyCreatedByUserSub)

	assert.Equal(t, "Liver", organ["organ_hierarchy"])
	assert.Equal(t, "Liver", organ["display_subtype"])
	assert.Equal(t, "Create Sample Activity", organ[domain.KeyCreationAction])
	assert.Equal(t, protocolURL, organ[domain.KeyProtocolURL])
	assert.NotContains(t, organ, domain.KeyDirectAncestorUUID)
	origins := organ["origin_samples"].([]any)
	require.Len(t, origins, 1)
	assert.Equal(t, organ.UUID(), origins[0].(map[string]any)[domain.KeyUUID])

	assert.Equal(t, "Liver", block["organ_hierarchy"])
	assert.Equal(t, "Block", block["display_subtype"])
	assert.Equal(t, organ.UUID(), block["direct_ancestor"].(map[string]any)[domain.KeyUUID])
	assert.Equal(t, source.UUID(), block["source"].(map[string]any)[domain.KeyUUID])

	stored, err := f.store.GetEntity(context.Background(), block.UUID())
	require.NoError(t, err)
	assert.NotContains(t, stored, domain.KeyDirectAncestorUUID)
	assert.NotContains(t, stored, "organ_hierarchy")

	assert.Equal(t, []string{source.UUID(), organ.UUID(), block.UUID()}, f.reindexer.uuids)
}

func TestCreateRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, testRequest(), "Widget", domain.Record{})
	var validationErr *domain.SchemaValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, domain.ReasonUnknownClass, validationErr.Reason)

	_, err = f.svc.Create(ctx, testRequest(), "Activity", domain.Record{})
	require.True(t, errors.As(err, &validationErr))

	_, err = f.svc.Create(ctx, testRequest(), "Source", domain.Record{domain.KeySourceType: "Plant"})
	var invalid *domain.InvalidInputError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, domain.KeySourceType, invalid.Field)

	_, err = f.svc.Create(ctx, testRequest(), "Dataset", domain.Record{
		domain.KeyDatasetType:          "RNAseq",
		domain.KeyContainsHumanGenetic: false,
		domain.KeyDirectAncestorUUIDs:  []any{"8a9b2f6e4c1d4e2f9a0b1c2d3e4f5a6b"},
	})
	var missingHeader *domain.MissingApplicationHeaderError
	require.True(t, errors.As(err, &missingHeader))

	noGroup := testRequest()
	noGroup.User.GroupUUIDs = nil
	_, err = f.svc.Create(ctx, noGroup, "Source", domain.Record{domain.KeySourceType: "Human"})
	var groupErr *domain.NoDataProviderGroupError
	require.True(t, errors.As(err, &groupErr))
	assert.Empty(t, f.reindexer.uuids)
}

func TestCreateDatasetWithApplicationHeader(t *testing.T) {
	f := newFixture(t)
	_, organ, block := f.provenance(t)

	req := testRequest()
	req.Headers.Set(validator.DefaultApplicationHeader, "ingest-api")
	dataset, err := f.svc.Create(context.Background(), req, "Dataset", domain.Record{
		domain.KeyDatasetType:          "RNAseq",
		domain.KeyContainsHumanGenetic: true,
		domain.KeyDirectAncestorUUIDs:  []any{block.UUID()},
		"ingest_metadata":              map[string]any{"run": "r1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "New", dataset[domain.KeyStatus])
	assert.Equal(t, domain.AccessLevelProtected, dataset[domain.KeyDataAccessLevel])
	assert.Equal(t, "Liver", dataset["organ_hierarchy"])
	assert.NotContains(t, dataset, "ingest_metadata")
	ancestors := dataset["direct_ancestors"].([]any)
	require.Len(t, ancestors, 1)
	assert.Equal(t, block.UUID(), ancestors[0].(map[string]any)[domain.KeyUUID])
	assert.Equal(t, organ.UUID(), dataset["origin_samples"].([]any)[0].(map[string]any)[domain.KeyUUID])
}

func TestUpdateInvalidatesCachedDescendants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, organ, block := f.provenance(t)

	before, err := f.svc.Get(ctx, testRequest(), block.UUID(), domain.PropertyFilter{})
	require.NoError(t, err)
	assert.NotContains(t, before["direct_ancestor"], "description")

	updated, err := f.svc.Update(ctx, testRequest(), organ.UUID(), domain.Record{"description": "whole liver"})
	require.NoError(t, err)
	assert.Equal(t, "whole liver", updated["description"])
	assert.Equal(t, "Liver", updated["organ_hierarchy"])

	after, err := f.svc.Get(ctx, testRequest(), block.UUID(), domain.PropertyFilter{})
	require.NoError(t, err)
	assert.Equal(t, "whole liver", after["direct_ancestor"].(map[string]any)["description"])
}

func TestUpdateRejectsImmutableAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source, _, _ := f.provenance(t)

	_, err := f.svc.Update(ctx, testRequest(), source.UUID(), domain.Record{domain.KeySourceType: "Mouse"})
	var validationErr *domain.SchemaValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, domain.ReasonImmutableKey, validationErr.Reason)

	_, err = f.svc.Update(ctx, testRequest(), "missing", domain.Record{})
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
}

func TestUpdateClearsPropertyWithNil(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, block := f.provenance(t)

	updated, err := f.svc.Update(ctx, testRequest(), block.UUID(), domain.Record{"description": nil})
	require.NoError(t, err)
	assert.NotContains(t, updated, "description")

	stored, err := f.store.GetEntity(ctx, block.UUID())
	require.NoError(t, err)
	assert.NotContains(t, stored, "description")
}

func TestGetAccessControl(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source, _, _ := f.provenance(t)

	_, err := f.svc.Get(ctx, nil, source.UUID(), domain.PropertyFilter{})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.store.UpdateEntity(ctx, domain.ClassSource, domain.Record{domain.KeyDataAccessLevel: domain.AccessLevelPublic}, source.UUID())
	require.NoError(t, err)
	f.svc.Engine().InvalidateCache(ctx, source.UUID())

	public, err := f.svc.Get(ctx, nil, source.UUID(), domain.PropertyFilter{})
	require.NoError(t, err)
	assert.NotContains(t, public, "lab_source_id")

	full, err := f.svc.Get(ctx, testRequest(), source.UUID(), domain.PropertyFilter{})
	require.NoError(t, err)
	assert.Equal(t, "donor-7", full["lab_source_id"])
}

func TestGetWithFilter(t *testing.T) {
	f := newFixture(t)
	_, _, block := f.provenance(t)

	got, err := f.svc.Get(context.Background(), testRequest(), block.UUID(), domain.PropertyFilter{
		Properties: []string{"organ_hierarchy"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Liver", got["organ_hierarchy"])
	assert.Equal(t, block.UUID(), got.UUID())
	assert.NotContains(t, got, "description")
	assert.NotContains(t, got, "source")

	excluded, err := f.svc.Get(context.Background(), testRequest(), block.UUID(), domain.PropertyFilter{
		Properties: []string{"source", "description"},
		Mode:       domain.FilterExclude,
	})
	require.NoError(t, err)
	assert.NotContains(t, excluded, "source")
	assert.NotContains(t, excluded, "description")
	assert.Equal(t, "Liver", excluded["organ_hierarchy"])
}

func TestGetIndexDocument(t *testing.T) {
	f := newFixture(t)
	_, _, block := f.provenance(t)

	doc, err := f.svc.GetIndexDocument(context.Background(), testRequest(), block.UUID())
	require.NoError(t, err)
	assert.Equal(t, "Liver", doc["organ_hierarchy"])
	assert.NotContains(t, doc, "direct_ancestor")
}

func TestRelated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source, organ, block := f.provenance(t)

	ancestors, err := f.svc.Related(ctx, testRequest(), block.UUID(), RelationAncestors, domain.PropertyFilter{})
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	assert.Equal(t, organ.UUID(), ancestors[0].UUID())
	assert.Equal(t, "Liver", ancestors[0]["organ_hierarchy"])
	assert.Equal(t, source.UUID(), ancestors[1].UUID())

	children, err := f.svc.Related(ctx, testRequest(), organ.UUID(), RelationChildren, domain.PropertyFilter{})
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "Liver", children[0]["organ_hierarchy"])

	_, err = f.svc.Related(ctx, nil, organ.UUID(), RelationChildren, domain.PropertyFilter{})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = ParseRelation("cousins")
	var invalid *domain.InvalidInputError
	assert.True(t, errors.As(err, &invalid))
}

func TestListKeepsRequestOrder(t *testing.T) {
	f := newFixture(t)
	source, organ, block := f.provenance(t)

	got, err := f.svc.List(context.Background(), testRequest(), []string{block.UUID(), "missing", source.UUID(), organ.UUID()}, domain.PropertyFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{block.UUID(), source.UUID(), organ.UUID()}, []string{got[0].UUID(), got[1].UUID(), got[2].UUID()})
	assert.Equal(t, "Liver", got[0]["organ_hierarchy"])
}

func TestReindexRunsOnDispatcher(t *testing.T) {
	pool, err := worker.NewPool(context.Background(), "reindex", 2)
	require.NoError(t, err)
	defer pool.Shutdown()
	f := newFixture(t, WithDispatcher(pool))

	source, err := f.svc.Create(context.Background(), testRequest(), "Source", domain.Record{domain.KeySourceType: "Mouse"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		f.reindexer.mu.Lock()
		defer f.reindexer.mu.Unlock()
		return len(f.reindexer.uuids) == 1 && f.reindexer.uuids[0] == source.UUID()
	}, time.Second, 5*time.Millisecond)
}
