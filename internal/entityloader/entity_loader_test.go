package entityloader

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/repository"
)

const (
	firstID  = "11111111-1111-4111-8111-111111111111"
	secondID = "22222222-2222-4222-8222-222222222222"
	absentID = "33333333-3333-4333-8333-333333333333"
)

type countingStore struct {
	repository.GraphStore
	mu      sync.Mutex
	batches [][]string
}

func (s *countingStore) GetEntities(ctx context.Context, uuids []string) ([]domain.Record, error) {
	s.mu.Lock()
	s.batches = append(s.batches, append([]string(nil), uuids...))
	s.mu.Unlock()
	return s.GraphStore.GetEntities(ctx, uuids)
}

func newStore(t *testing.T) *countingStore {
	t.Helper()
	memory := repository.NewMemoryGraphStore()
	for _, id := range []string{firstID, secondID} {
		_, err := memory.CreateEntity(context.Background(), domain.ClassSource, domain.Record{domain.KeyUUID: id})
		require.NoError(t, err)
	}
	return &countingStore{GraphStore: memory}
}

func TestLoaderBatchesConcurrentLoads(t *testing.T) {
	store := newStore(t)
	loader := NewEntityLoader(store)
	ctx := context.Background()

	ids := []string{firstID, secondID, absentID, "not-a-uuid"}
	results := make([]domain.Record, len(ids))
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i], errs[i] = loader.Load(ctx, id)
		}(i, id)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, firstID, results[0].UUID())
	assert.Equal(t, secondID, results[1].UUID())
	assert.ErrorIs(t, errs[2], domain.ErrEntityNotFound)
	assert.ErrorIs(t, errs[3], domain.ErrEntityNotFound)

	var loaded []string
	for _, batch := range store.batches {
		loaded = append(loaded, batch...)
	}
	assert.ElementsMatch(t, []string{firstID, secondID, absentID}, loaded)
}

func TestReaderFallsBackToStore(t *testing.T) {
	store := newStore(t)
	reader := Reader{Store: store}

	rec, err := reader.GetEntity(context.Background(), firstID)
	require.NoError(t, err)
	assert.Equal(t, firstID, rec.UUID())
	assert.Empty(t, store.batches)

	ctx := WithLoader(context.Background(), NewEntityLoader(store))
	rec, err = reader.GetEntity(ctx, secondID)
	require.NoError(t, err)
	assert.Equal(t, secondID, rec.UUID())
	assert.Len(t, store.batches, 1)
}

func TestLoadManyUsesOneBatch(t *testing.T) {
	store := newStore(t)
	loader := NewEntityLoader(store)

	records, errs := loader.LoadMany(context.Background(), []string{secondID, absentID, firstID})
	require.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], domain.ErrEntityNotFound)
	assert.NoError(t, errs[2])
	assert.Equal(t, secondID, records[0].UUID())
	assert.Nil(t, records[1])
	assert.Equal(t, firstID, records[2].UUID())

	require.Len(t, store.batches, 1)
	assert.ElementsMatch(t, []string{firstID, secondID, absentID}, store.batches[0])
}

func TestReaderLoadEntities(t *testing.T) {
	store := newStore(t)
	reader := Reader{Store: store}

	records, errs := reader.LoadEntities(context.Background(), []string{firstID, secondID})
	assert.Nil(t, errs)
	assert.Equal(t, firstID, records[0].UUID())
	assert.Equal(t, secondID, records[1].UUID())
	assert.Empty(t, store.batches)

	ctx := WithLoader(context.Background(), NewEntityLoader(store))
	records, errs = reader.LoadEntities(ctx, []string{firstID, secondID})
	assert.Nil(t, errs)
	assert.Equal(t, secondID, records[1].UUID())
	require.Len(t, store.batches, 1)
	assert.ElementsMatch(t, []string{firstID, secondID}, store.batches[0])

	_, errs = reader.LoadEntities(context.Background(), []string{absentID, firstID})
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], domain.ErrEntityNotFound)
	assert.NoError(t, errs[1])
}
