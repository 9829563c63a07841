package triggers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/repository"
	"github.com/rpattn/entityapi/internal/schema"
	"github.com/rpattn/entityapi/internal/schema/validator"
)

const (
	testGroupUUID  = "5bd084c8-edc2-11e8-802f-0e368f3075e8"
	otherGroupUUID = "73bb26e4-ed43-11e8-8f19-0a7c1eab007a"
	testUserSub    = "user-sub-1"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type stubMinter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *stubMinter) CreateIDs(_ context.Context, class string, _ []string, count int) ([]domain.MintedID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.MintedID, 0, count)
	for i := 0; i < count; i++ {
		m.calls++
		out = append(out, domain.MintedID{
			UUID:       fmt.Sprintf("00000000-0000-4000-8000-%012d", m.calls),
			ExternalID: fmt.Sprintf("SNT%03d.%s", m.calls, strings.ToUpper(class[:2])),
		})
	}
	return out, nil
}

type stubGroups []domain.Group

func (g stubGroups) Groups(context.Context) ([]domain.Group, error) {
	return g, nil
}

var testGroups = stubGroups{
	{UUID: testGroupUUID, DisplayName: "University of Test TMC", DataProvider: true},
	{UUID: otherGroupUUID, DisplayName: "Other TMC", DataProvider: true},
	{UUID: "read-only-group", DisplayName: "Readers"},
}

type stubFiles struct {
	committed []string
	removed   []string
	err       error
}

func (f *stubFiles) Commit(_ context.Context, _ string, tempFileID, _ string) (domain.FileInfo, error) {
	if f.err != nil {
		return domain.FileInfo{}, f.err
	}
	f.committed = append(f.committed, tempFileID)
	return domain.FileInfo{FileUUID: "file-" + tempFileID, Filename: tempFileID + ".png"}, nil
}

func (f *stubFiles) Remove(_ context.Context, _ string, _ string, fileUUIDs []string) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, fileUUIDs...)
	return nil
}

type stubOntology map[string]string

func (o stubOntology) OrganName(code string) (string, bool) {
	name, ok := o[strings.ToUpper(code)]
	return name, ok
}

var testOntology = stubOntology{"LV": "Liver", "HT": "Heart", "LK": "Kidney (Left)"}

// countingStore records GetOriginSamples calls on top of a memory store.
type countingStore struct {
	repository.GraphStore
	mu          sync.Mutex
	originCalls [][]string
}

func (s *countingStore) GetOriginSamples(ctx context.Context, uuids []string) (map[string][]domain.Record, error) {
	s.mu.Lock()
	s.originCalls = append(s.originCalls, append([]string(nil), uuids...))
	s.mu.Unlock()
	return s.GraphStore.GetOriginSamples(ctx, uuids)
}

type fixture struct {
	deps     *Deps
	store    *countingStore
	memory   *repository.MemoryGraphStore
	minter   *stubMinter
	files    *stubFiles
	executor *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog, err := schema.Load(schema.DefaultSource(), schema.LoadOptions{
		Triggers:   Builtin(),
		Validators: validator.Registry{},
	})
	require.NoError(t, err)

	memory := repository.NewMemoryGraphStore()
	store := &countingStore{GraphStore: memory}
	f := &fixture{
		store:  store,
		memory: memory,
		minter: &stubMinter{},
		files:  &stubFiles{},
	}
	f.deps = &Deps{
		Catalog:  catalog,
		Codec:    schema.LiteralCodec{},
		Store:    store,
		Minter:   f.minter,
		Groups:   testGroups,
		Files:    f.files,
		Ontology: testOntology,
		Now:      func() time.Time { return fixedNow },
	}
	f.executor = NewExecutor(f.deps)
	return f
}

func (f *fixture) put(t *testing.T, rec domain.Record) domain.Record {
	t.Helper()
	stored, err := f.memory.CreateEntity(context.Background(), rec.EntityType(), rec)
	require.NoError(t, err)
	return stored
}

func (f *fixture) link(t *testing.T, child string, parents ...string) {
	t.Helper()
	activity := domain.Record{domain.KeyUUID: "activity-" + child, domain.KeyCreationAction: "Create Sample Activity"}
	require.NoError(t, f.memory.LinkEntityViaActivity(context.Background(), child, parents, activity))
}

func testRequest(groups ...string) *domain.RequestContext {
	if len(groups) == 0 {
		groups = []string{testGroupUUID}
	}
	return &domain.RequestContext{
		Token: "token",
		User: &domain.User{
			Sub:         testUserSub,
			Email:       "tester@example.org",
			DisplayName: "Test User",
			GroupUUIDs:  groups,
		},
	}
}

func loadTestCatalog(t *testing.T, src string, table *Table) *schema.Catalog {
	t.Helper()
	catalog, err := schema.Load(strings.NewReader(src), schema.LoadOptions{Triggers: table})
	require.NoError(t, err)
	return catalog
}
