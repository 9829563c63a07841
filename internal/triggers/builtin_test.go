package triggers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/repository"
)

const sourceUUID = "1b1c7e1a-5b0d-4bd1-9f1e-2f3c6a9b8d70"

func TestBuiltinTableCoversDefaultSchema(t *testing.T) {
	f := newFixture(t)
	table := Builtin()
	for _, class := range f.deps.Catalog.EntityClasses() {
		props, err := f.deps.Catalog.EffectiveProperties(class)
		require.NoError(t, err)
		for _, rule := range props.Rules() {
			for _, phase := range domain.TriggerPhases {
				name, ok := rule.Trigger(phase)
				if !ok {
					continue
				}
				_, known := table.Kind(name)
				assert.True(t, known, "%s.%s %s trigger %s", class, rule.Name, phase, name)
			}
		}
	}
}

func TestBeforeCreateSample(t *testing.T) {
	f := newFixture(t)
	input := domain.Record{
		domain.KeySampleCategory:     "organ",
		domain.KeyOrgan:              "LV",
		domain.KeyDirectAncestorUUID: sourceUUID,
	}

	generated, err := f.executor.Generate(context.Background(), domain.PhaseBeforeCreate, "sample", testRequest(), nil, input)
	require.NoError(t, err)

	assert.Equal(t, "00000000-0000-4000-8000-000000000001", generated[domain.KeyUUID])
	assert.Equal(t, "SNT001.SA", generated[domain.KeySennetID])
	assert.Equal(t, 1, f.minter.calls)
	assert.Equal(t, domain.ClassSample, generated[domain.KeyEntityType])
	assert.Equal(t, fixedNow.UnixMilli(), generated[domain.KeyCreatedTimestamp])
	assert.Equal(t, fixedNow.UnixMilli(), generated[domain.KeyLastModifiedTime])
	assert.Equal(t, testUserSub, generated[domain.KeyCreatedByUserSub])
	assert.Equal(t, "tester@example.org", generated[domain.KeyCreatedByUserEmail])
	assert.Equal(t, testGroupUUID, generated[domain.KeyGroupUUID])
	assert.Equal(t, "University of Test TMC", generated[domain.KeyGroupName])
	assert.Equal(t, domain.AccessLevelConsortium, generated[domain.KeyDataAccessLevel])
	assert.Equal(t, "Liver", generated["display_subtype"])
}

func TestSetGroupUUIDResolution(t *testing.T) {
	cases := []struct {
		name    string
		groups  []string
		admin   bool
		request string
		want    string
		wantErr any
	}{
		{name: "single membership", groups: []string{testGroupUUID, "read-only-group"}, want: testGroupUUID},
		{name: "no provider group", groups: []string{"read-only-group"}, wantErr: &domain.NoDataProviderGroupError{}},
		{name: "ambiguous", groups: []string{testGroupUUID, otherGroupUUID}, wantErr: &domain.MultipleDataProviderGroupError{}},
		{name: "requested member", groups: []string{testGroupUUID, otherGroupUUID}, request: otherGroupUUID, want: otherGroupUUID},
		{name: "requested non member", groups: []string{testGroupUUID}, request: otherGroupUUID, wantErr: &domain.UnmatchedDataProviderGroupError{}},
		{name: "requested non provider", groups: []string{"read-only-group"}, request: "read-only-group", wantErr: &domain.UnmatchedDataProviderGroupError{}},
		{name: "data admin", groups: []string{testGroupUUID}, admin: true, request: otherGroupUUID, want: otherGroupUUID},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			req := testRequest(tc.groups...)
			req.User.DataAdmin = tc.admin
			input := domain.Record{domain.KeySourceType: "Human"}
			if tc.request != "" {
				input[domain.KeyGroupUUID] = tc.request
			}

			generated, err := f.executor.Generate(context.Background(), domain.PhaseBeforeCreate, "Source", req, nil, input)
			if tc.wantErr != nil {
				require.Error(t, err)
				assert.IsType(t, tc.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, generated[domain.KeyGroupUUID])
		})
	}
}

func TestBeforeCreateDatasetAccessLevelAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	generated, err := f.executor.Generate(ctx, domain.PhaseBeforeCreate, "Dataset", testRequest(), nil, domain.Record{
		domain.KeyContainsHumanGenetic: true,
		domain.KeyDatasetType:          "RNAseq",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AccessLevelProtected, generated[domain.KeyDataAccessLevel])
	assert.Equal(t, "New", generated[domain.KeyStatus])

	generated, err = f.executor.Generate(ctx, domain.PhaseBeforeCreate, "Publication", testRequest(), nil, domain.Record{
		domain.KeyDatasetType: "Publication",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AccessLevelConsortium, generated[domain.KeyDataAccessLevel])
	assert.Equal(t, domain.ClassPublication, generated[domain.KeyEntityType])
}

func TestMintFailureIsWrappedButReachable(t *testing.T) {
	f := newFixture(t)
	f.minter.err = &domain.MintError{StatusCode: http.StatusServiceUnavailable, Message: "uuid-api down"}

	_, err := f.executor.Generate(context.Background(), domain.PhaseBeforeCreate, "Source", testRequest(), nil, domain.Record{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBeforeCreateTrigger)
	var mintErr *domain.MintError
	require.ErrorAs(t, err, &mintErr)
	assert.Equal(t, http.StatusServiceUnavailable, mintErr.StatusCode)
}

func TestBeforeUpdateAutoUpdatesLastModified(t *testing.T) {
	f := newFixture(t)
	existing := domain.Record{
		domain.KeyUUID:           "s-1",
		domain.KeyEntityType:     "Sample",
		domain.KeySampleCategory: "block",
	}

	generated, err := f.executor.Generate(context.Background(), domain.PhaseBeforeUpdate, "Sample", testRequest(), existing, domain.Record{"description": "x"})
	require.NoError(t, err)
	assert.Equal(t, fixedNow.UnixMilli(), generated[domain.KeyLastModifiedTime])
	assert.Equal(t, testUserSub, generated["last_modified_user_sub"])
	assert.Equal(t, "Block", generated["display_subtype"])
	assert.NotContains(t, generated, domain.KeyCreatedTimestamp)
	assert.NotContains(t, generated, domain.KeyUUID)
	assert.Zero(t, f.minter.calls)
}

func TestImageFileReducers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing := domain.Record{
		domain.KeyUUID:       "src-1",
		domain.KeyEntityType: "Source",
		"image_files":        "[{'file_uuid': 'file-old', 'filename': 'old.png'}]",
	}

	generated, err := f.executor.Generate(ctx, domain.PhaseBeforeUpdate, "Source", testRequest(), existing, domain.Record{
		"image_files_to_add": []any{
			map[string]any{"temp_file_id": "tmp1", "description": "front"},
		},
		"image_files_to_remove": []any{"file-old"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"tmp1"}, f.files.committed)
	assert.Equal(t, []string{"file-old"}, f.files.removed)
	assert.Equal(t, []any{
		map[string]any{"file_uuid": "file-tmp1", "filename": "tmp1.png", "description": "front"},
	}, generated["image_files"])

	f.files.err = errors.New("disk full")
	_, err = f.executor.Generate(ctx, domain.PhaseBeforeUpdate, "Source", testRequest(), existing, domain.Record{
		"image_files_to_add": []any{map[string]any{"temp_file_id": "tmp2"}},
	})
	var uploadErr *domain.FileUploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.IsType(t, &domain.FileUploadError{}, err)
}

func TestThumbnailFileTriggers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing := domain.Record{
		domain.KeyUUID:       "ds-1",
		domain.KeyEntityType: "Dataset",
		"thumbnail_file":     "{'file_uuid': 'file-thumb', 'filename': 'thumb.png'}",
	}

	generated, err := f.executor.Generate(ctx, domain.PhaseBeforeUpdate, "Dataset", testRequest(), existing, domain.Record{
		"thumbnail_file_to_remove": "file-thumb",
	})
	require.NoError(t, err)
	require.Contains(t, generated, "thumbnail_file")
	assert.Nil(t, generated["thumbnail_file"])
	assert.Equal(t, []string{"file-thumb"}, f.files.removed)

	generated, err = f.executor.Generate(ctx, domain.PhaseBeforeUpdate, "Dataset", testRequest(), existing, domain.Record{
		"thumbnail_file_to_add": "tmp-thumb",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"file_uuid": "file-tmp-thumb", "filename": "tmp-thumb.png"}, generated["thumbnail_file"])

	_, err = f.executor.Generate(ctx, domain.PhaseBeforeUpdate, "Dataset", testRequest(), existing, domain.Record{
		"thumbnail_file_to_remove": "file-other",
	})
	assert.IsType(t, &domain.FileUploadError{}, err)
}

func TestAfterCreateLinksThroughActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, domain.Record{domain.KeyUUID: sourceUUID, domain.KeyEntityType: "Source", domain.KeySourceType: "Human"})
	sample := f.put(t, domain.Record{domain.KeyUUID: "sample-1", domain.KeyEntityType: "Sample", domain.KeySampleCategory: "organ"})

	newData := domain.Merge(sample, domain.Record{
		domain.KeyDirectAncestorUUID: sourceUUID,
		domain.KeyProtocolURL:        "https://dx.doi.org/10.17504/protocols.io.abc",
	})
	_, err := f.executor.Generate(ctx, domain.PhaseAfterCreate, "Sample", testRequest(), nil, newData)
	require.NoError(t, err)

	parents, err := f.memory.GetParents(ctx, "sample-1", repository.RelationFilter{})
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, sourceUUID, parents[0].UUID())

	activity, err := f.memory.GetEntityActivity(ctx, "sample-1")
	require.NoError(t, err)
	assert.Equal(t, "Create Sample Activity", activity[domain.KeyCreationAction])
	assert.Equal(t, "https://dx.doi.org/10.17504/protocols.io.abc", activity[domain.KeyProtocolURL])
	assert.Equal(t, domain.ClassActivity, activity.EntityType())
	assert.NotEmpty(t, activity.UUID())
	assert.Equal(t, testUserSub, activity[domain.KeyCreatedByUserSub])

	read, err := f.executor.Generate(ctx, domain.PhaseOnRead, "Sample", testRequest(), sample, nil)
	require.NoError(t, err)
	assert.Equal(t, "Create Sample Activity", read[domain.KeyCreationAction])
	assert.Equal(t, sourceUUID, read["direct_ancestor"].(map[string]any)[domain.KeyUUID])
	assert.Equal(t, sourceUUID, read["source"].(map[string]any)[domain.KeyUUID])

	f.put(t, domain.Record{domain.KeyUUID: "source-2", domain.KeyEntityType: "Source"})
	_, err = f.executor.Generate(ctx, domain.PhaseAfterUpdate, "Sample", testRequest(), sample,
		domain.Merge(sample, domain.Record{domain.KeyDirectAncestorUUID: "source-2"}))
	require.NoError(t, err)
	parents, err = f.memory.GetParents(ctx, "sample-1", repository.RelationFilter{})
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, "source-2", parents[0].UUID())
}

func TestAfterCreateLinkFailureIsReported(t *testing.T) {
	f := newFixture(t)
	sample := f.put(t, domain.Record{domain.KeyUUID: "sample-1", domain.KeyEntityType: "Sample"})

	_, err := f.executor.Generate(context.Background(), domain.PhaseAfterCreate, "Sample", testRequest(), nil,
		domain.Merge(sample, domain.Record{domain.KeyDirectAncestorUUID: "missing-parent"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAfterCreateTrigger)
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
}

func TestCollectionLinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	collection := f.put(t, domain.Record{domain.KeyUUID: "col-1", domain.KeyEntityType: "Collection"})
	f.put(t, domain.Record{domain.KeyUUID: "ds-1", domain.KeyEntityType: "Dataset", "ingest_metadata": "{'x': 1}"})

	_, err := f.executor.Generate(ctx, domain.PhaseAfterCreate, "Collection", testRequest(), nil,
		domain.Merge(collection, domain.Record{"entity_uuids": []any{"ds-1"}}))
	require.NoError(t, err)

	read, err := f.executor.Generate(ctx, domain.PhaseOnRead, "Collection", testRequest(), collection, nil)
	require.NoError(t, err)
	entities, ok := read["entities"].([]any)
	require.True(t, ok)
	require.Len(t, entities, 1)
	member := entities[0].(map[string]any)
	assert.Equal(t, "ds-1", member[domain.KeyUUID])
	assert.NotContains(t, member, "ingest_metadata")
}

func TestBulkOriginSamplesShortCircuitsOrgans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var entities []domain.Record
	organCodes := []string{"LV", "HT"}
	for i := 0; i < 10; i++ {
		entities = append(entities, f.put(t, domain.Record{
			domain.KeyUUID:           fmt.Sprintf("organ-%02d", i),
			domain.KeyEntityType:     "Sample",
			domain.KeySampleCategory: "organ",
			domain.KeyOrgan:          organCodes[i%2],
		}))
	}
	var blocks []string
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("block-%02d", i)
		blocks = append(blocks, id)
		entities = append(entities, f.put(t, domain.Record{
			domain.KeyUUID:           id,
			domain.KeyEntityType:     "Sample",
			domain.KeySampleCategory: "block",
		}))
		f.link(t, id, fmt.Sprintf("organ-%02d", i%10))
	}
	require.Len(t, entities, 50)

	batcher := f.executor.NewBatcher()
	for _, entity := range entities {
		batcher.Register("origin_samples", "get_origin_samples_bulk", entity.UUID())
	}
	batcher.RecordIndex(entities)
	failures := batcher.Execute(ctx, testRequest(), entities)
	require.Empty(t, failures)

	require.Len(t, f.store.originCalls, 1)
	assert.ElementsMatch(t, blocks, f.store.originCalls[0])

	for i, entity := range entities {
		origins, ok := entity["origin_samples"].([]any)
		require.True(t, ok, entity.UUID())
		require.Len(t, origins, 1)
		origin := origins[0].(map[string]any)
		if i < 10 {
			assert.Equal(t, entity.UUID(), origin[domain.KeyUUID])
			continue
		}
		assert.Equal(t, fmt.Sprintf("organ-%02d", (i-10)%10), origin[domain.KeyUUID])
	}

	hierarchy := f.executor.NewBatcher()
	for _, entity := range entities {
		hierarchy.Register("organ_hierarchy", "get_organ_hierarchy_bulk", entity.UUID())
	}
	require.Empty(t, hierarchy.Execute(ctx, testRequest(), entities))
	assert.Equal(t, "Liver", entities[0]["organ_hierarchy"])
	assert.Equal(t, "Heart", entities[1]["organ_hierarchy"])
	assert.Equal(t, "Liver", entities[10]["organ_hierarchy"])
	assert.Equal(t, "Heart", entities[11]["organ_hierarchy"])
	assert.Len(t, f.store.originCalls, 2)
}

func TestOnReadOrganSampleIsItsOwnOrigin(t *testing.T) {
	f := newFixture(t)
	organ := f.put(t, domain.Record{
		domain.KeyUUID:           "organ-1",
		domain.KeyEntityType:     "Sample",
		domain.KeySampleCategory: "Organ",
		domain.KeyOrgan:          "LV",
	})

	read, err := f.executor.Generate(context.Background(), domain.PhaseOnRead, "Sample", testRequest(), organ, nil)
	require.NoError(t, err)
	assert.Equal(t, "Liver", read["organ_hierarchy"])
	origins := read["origin_samples"].([]any)
	require.Len(t, origins, 1)
	assert.Equal(t, "organ-1", origins[0].(map[string]any)[domain.KeyUUID])
	assert.Empty(t, f.store.originCalls)
}

func TestTitleCase(t *testing.T) {
	tests := map[string]string{
		"":          "",
		"block":     "Block",
		"SECTION":   "Section",
		"élan":      "Élan",
		"ürün":      "Ürün",
	}
	for in, want := range tests {
		assert.Equal(t, want, titleCase(in), "input %q", in)
	}
}
