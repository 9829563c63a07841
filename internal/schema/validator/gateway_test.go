package validator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/entityloader"
	"github.com/rpattn/entityapi/internal/repository"
	"github.com/rpattn/entityapi/internal/schema"
)

const (
	sourceUUID     = "8a9b2f6e4c1d4e2f9a0b1c2d3e4f5a6b"
	collectionUUID = "0f1e2d3c4b5a49687766554433221100"
	missingUUID    = "ffffffffffffffffffffffffffffffff"
)

type memoryReader map[string]domain.Record

func (m memoryReader) GetEntity(_ context.Context, id string) (domain.Record, error) {
	rec, ok := m[id]
	if !ok {
		return nil, domain.ErrEntityNotFound
	}
	return rec, nil
}

type vocabulary struct{}

func (vocabulary) SampleCategories() []string { return []string{"organ", "block", "section", "suspension"} }
func (vocabulary) SourceTypes() []string { return []string{"Human", "Mouse"} }
func (vocabulary) DatasetStatuses() []string { return []string{"New", "QA", "Published"} }
func (vocabulary) OrganName(code string) (string, bool) {
	if code == "LV" {
		return "Liver", true
	}
	return "", false
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	catalog, err := schema.Load(schema.DefaultSource(), schema.LoadOptions{Validators: Registry{}})
	require.NoError(t, err)
	return NewGateway(catalog, Deps{
		Store: memoryReader{
			sourceUUID:     {domain.KeyUUID: sourceUUID, domain.KeyEntityType: domain.ClassSource},
			collectionUUID: {domain.KeyUUID: collectionUUID, domain.KeyEntityType: domain.ClassCollection},
		},
		Vocabulary:          vocabulary{},
		AllowedApplications: []string{"portal-ui", "ingest-api"},
	})
}

func requireReason(t *testing.T, err error, reason domain.ValidationReason, field string) {
	t.Helper()
	var validationErr *domain.SchemaValidationError
	require.True(t, errors.As(err, &validationErr), "expected SchemaValidationError, got %v", err)
	assert.Equal(t, reason, validationErr.Reason)
	assert.Equal(t, field, validationErr.Field)
}

func TestGeneratedKeysRejectedOnCreate(t *testing.T) {
	g := newTestGateway(t)
	for _, class := range g.catalog.EntityClasses() {
		props, err := g.catalog.EffectiveProperties(class)
		require.NoError(t, err)
		for _, rule := range props.Rules() {
			if !rule.Generated {
				continue
			}
			err := g.ValidateAgainstSchema(class, domain.Record{rule.Name: "x"}, domain.Record{})
			requireReason(t, err, domain.ReasonGeneratedKey, rule.Name)
		}
	}
}

func TestImmutableKeysRejectedOnUpdate(t *testing.T) {
	g := newTestGateway(t)
	existing := domain.Record{domain.KeyUUID: sourceUUID}
	for _, class := range g.catalog.EntityClasses() {
		props, err := g.catalog.EffectiveProperties(class)
		require.NoError(t, err)
		for _, rule := range props.Rules() {
			if !rule.Immutable {
				continue
			}
			err := g.ValidateAgainstSchema(class, domain.Record{rule.Name: "x"}, existing)
			requireReason(t, err, domain.ReasonImmutableKey, rule.Name)
		}
	}
}

func TestValidateAgainstSchema(t *testing.T) {
	g := newTestGateway(t)
	existing := domain.Record{domain.KeyUUID: sourceUUID}

	tests := []struct {
		name     string
		class    string
		input    domain.Record
		existing domain.Record
		reason   domain.ValidationReason
		field    string
	}{
		{
			name:   "unsupported key",
			class:  "sample",
			input:  domain.Record{"bogus": 1},
			reason: domain.ReasonUnsupportedKey,
			field:  "bogus",
		},
		{
			name:   "missing required key",
			class:  domain.ClassSample,
			input:  domain.Record{domain.KeySampleCategory: "organ"},
			reason: domain.ReasonMissingRequired,
			field:  domain.KeyDirectAncestorUUID,
		},
		{
			name:   "blank required key",
			class:  domain.ClassSample,
			input:  domain.Record{domain.KeySampleCategory: "  ", domain.KeyDirectAncestorUUID: sourceUUID},
			reason: domain.ReasonEmptyRequired,
			field:  domain.KeySampleCategory,
		},
		{
			name:     "type mismatch",
			class:    domain.ClassPublication,
			input:    domain.Record{"issue": "three"},
			existing: existing,
			reason:   domain.ReasonTypeMismatch,
			field:    "issue",
		},
		{
			name:     "list type mismatch",
			class:    domain.ClassDataset,
			input:    domain.Record{domain.KeyDirectAncestorUUIDs: sourceUUID},
			existing: existing,
			reason:   domain.ReasonTypeMismatch,
			field:    domain.KeyDirectAncestorUUIDs,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.ValidateAgainstSchema(tt.class, tt.input, tt.existing)
			requireReason(t, err, tt.reason, tt.field)
		})
	}

	t.Run("valid create", func(t *testing.T) {
		err := g.ValidateAgainstSchema(domain.ClassSample, domain.Record{
			domain.KeySampleCategory:     "organ",
			domain.KeyOrgan:              "LV",
			domain.KeyDirectAncestorUUID: sourceUUID,
			"metadata":                   map[string]any{"weight": 1.5},
		}, nil)
		assert.NoError(t, err)
	})

	t.Run("every type mismatch is reported", func(t *testing.T) {
		err := g.ValidateAgainstSchema(domain.ClassPublication, domain.Record{
			"volume":      "four",
			"issue":       "three",
			"description": "fine",
		}, existing)
		requireReason(t, err, domain.ReasonTypeMismatch, "issue")
		assert.Contains(t, err.Error(), "field 'issue' must be an integer")
		assert.Contains(t, err.Error(), "field 'volume' must be an integer")
	})

	t.Run("unknown class", func(t *testing.T) {
		err := g.ValidateAgainstSchema("Donor", domain.Record{}, nil)
		requireReason(t, err, domain.ReasonUnknownClass, "")
	})
}

func TestRunEntityLevelValidator(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	err := g.RunEntityLevelValidator(ctx, domain.ClassDataset, &domain.RequestContext{})
	var missing *domain.MissingApplicationHeaderError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, DefaultApplicationHeader, missing.Header)

	headers := http.Header{}
	headers.Set(DefaultApplicationHeader, "curl")
	err = g.RunEntityLevelValidator(ctx, domain.ClassDataset, &domain.RequestContext{Headers: headers})
	var invalid *domain.InvalidApplicationHeaderError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "curl", invalid.Value)

	headers.Set(DefaultApplicationHeader, "Portal-UI")
	assert.NoError(t, g.RunEntityLevelValidator(ctx, domain.ClassDataset, &domain.RequestContext{Headers: headers}))

	assert.NoError(t, g.RunEntityLevelValidator(ctx, domain.ClassSample, &domain.RequestContext{}))
}

func TestRunPropertyLevelValidators(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	req := &domain.RequestContext{}

	tests := []struct {
		name     string
		class    string
		phase    domain.ValidatorPhase
		existing domain.Record
		input    domain.Record
		wantErr  string
	}{
		{
			name:  "organ sample",
			class: domain.ClassSample,
			phase: domain.ValidateBeforeCreate,
			input: domain.Record{domain.KeySampleCategory: "Organ", domain.KeyOrgan: "LV", domain.KeyDirectAncestorUUID: sourceUUID},
		},
		{
			name:    "organ on a block",
			class:   domain.ClassSample,
			phase:   domain.ValidateBeforeCreate,
			input:   domain.Record{domain.KeySampleCategory: "block", domain.KeyOrgan: "LV"},
			wantErr: "organ can only be specified",
		},
		{
			name:     "organ uses existing category on update",
			class:    domain.ClassSample,
			phase:    domain.ValidateBeforeUpdate,
			existing: domain.Record{domain.KeySampleCategory: "organ"},
			input:    domain.Record{domain.KeyOrgan: "ZZ"},
			wantErr:  "Invalid organ code: ZZ",
		},
		{
			name:    "unknown sample category",
			class:   domain.ClassSample,
			phase:   domain.ValidateBeforeCreate,
			input:   domain.Record{domain.KeySampleCategory: "tissue"},
			wantErr: "Invalid sample_category",
		},
		{
			name:    "ancestor not found",
			class:   domain.ClassSample,
			phase:   domain.ValidateBeforeCreate,
			input:   domain.Record{domain.KeyDirectAncestorUUID: missingUUID},
			wantErr: "could not find the target entity",
		},
		{
			name:    "ancestor is not a uuid",
			class:   domain.ClassSample,
			phase:   domain.ValidateBeforeCreate,
			input:   domain.Record{domain.KeyDirectAncestorUUID: "SNT123.ABCD.456"},
			wantErr: "is not a valid uuid",
		},
		{
			name:    "ancestor class is not a derivation source",
			class:   domain.ClassDataset,
			phase:   domain.ValidateBeforeCreate,
			input:   domain.Record{domain.KeyDirectAncestorUUIDs: []any{sourceUUID, collectionUUID}},
			wantErr: "cannot be the direct ancestor",
		},
		{
			name:  "collections skip the derivation check",
			class: domain.ClassCollection,
			phase: domain.ValidateBeforeCreate,
			input: domain.Record{"entity_uuids": []any{collectionUUID}},
		},
		{
			name:     "status validators run in declared order",
			class:    domain.ClassDataset,
			phase:    domain.ValidateBeforeUpdate,
			existing: domain.Record{domain.KeyStatus: "Published"},
			input:    domain.Record{domain.KeyStatus: "Bogus"},
			wantErr:  "Invalid status: Bogus",
		},
		{
			name:     "published status is frozen",
			class:    domain.ClassDataset,
			phase:    domain.ValidateBeforeUpdate,
			existing: domain.Record{domain.KeyStatus: "Published"},
			input:    domain.Record{domain.KeyStatus: "QA"},
			wantErr:  "cannot be changed to QA",
		},
		{
			name:    "protocol url",
			class:   domain.ClassSource,
			phase:   domain.ValidateBeforeCreate,
			input:   domain.Record{domain.KeyProtocolURL: "https://example.com/p"},
			wantErr: "Invalid protocol_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.RunPropertyLevelValidators(ctx, tt.phase, tt.class, req, tt.existing, tt.input)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var invalid *domain.InvalidInputError
			require.True(t, errors.As(err, &invalid), "got %T", err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

type batchRecordingStore struct {
	repository.GraphStore
	mu      sync.Mutex
	batches [][]string
}

func (s *batchRecordingStore) GetEntities(ctx context.Context, uuids []string) ([]domain.Record, error) {
	s.mu.Lock()
	s.batches = append(s.batches, append([]string(nil), uuids...))
	s.mu.Unlock()
	return s.GraphStore.GetEntities(ctx, uuids)
}

func TestAncestorChecksShareOneBatch(t *testing.T) {
	const (
		firstSource  = "11111111-1111-4111-8111-111111111111"
		secondSource = "22222222-2222-4222-8222-222222222222"
	)
	memory := repository.NewMemoryGraphStore()
	for _, id := range []string{firstSource, secondSource} {
		_, err := memory.CreateEntity(context.Background(), domain.ClassSource, domain.Record{domain.KeyUUID: id})
		require.NoError(t, err)
	}
	store := &batchRecordingStore{GraphStore: memory}

	catalog, err := schema.Load(schema.DefaultSource(), schema.LoadOptions{Validators: Registry{}})
	require.NoError(t, err)
	g := NewGateway(catalog, Deps{Store: entityloader.Reader{Store: store}, Vocabulary: vocabulary{}})

	ctx := entityloader.WithLoader(context.Background(), entityloader.NewEntityLoader(store))
	err = g.RunPropertyLevelValidators(ctx, domain.ValidateBeforeCreate, domain.ClassDataset, &domain.RequestContext{}, nil,
		domain.Record{domain.KeyDirectAncestorUUIDs: []any{firstSource, secondSource}})
	require.NoError(t, err)

	require.Len(t, store.batches, 1)
	assert.ElementsMatch(t, []string{firstSource, secondSource}, store.batches[0])

	err = g.RunPropertyLevelValidators(ctx, domain.ValidateBeforeCreate, domain.ClassDataset, &domain.RequestContext{}, nil,
		domain.Record{domain.KeyDirectAncestorUUIDs: []any{firstSource, "33333333-3333-4333-8333-333333333333"}})
	assert.ErrorContains(t, err, "could not find the target entity 33333333-3333-4333-8333-333333333333")
}
