// Package service implements the entity pipelines on top of the engine:
// validation, trigger phases, persistence, completion and normalization.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/engine"
	"github.com/rpattn/entityapi/internal/pkg/worker"
	"github.com/rpattn/entityapi/internal/repository"
)

// Reindexer asks the search index to rebuild an entity's document.
type Reindexer interface {
	Reindex(ctx context.Context, token, uuid string) error
}

// Dispatcher runs background tasks.
type Dispatcher interface {
	Submit(task worker.Task) error
}

const reindexTimeout = 30 * time.Second

// EntityService runs the create, update and read pipelines.
type EntityService struct {
	engine     *engine.Engine
	store      repository.GraphStore
	reindexer  Reindexer
	dispatcher Dispatcher
	logger     *zap.Logger
}

// Option configures an EntityService.
type Option func(*EntityService)

// WithReindexer enables reindexing after writes.
func WithReindexer(r Reindexer) Option {
	return func(s *EntityService) {
		s.reindexer = r
	}
}

// WithDispatcher runs reindex requests in the background. Without one they
// run inline before the write returns.
func WithDispatcher(d Dispatcher) Option {
	return func(s *EntityService) {
		s.dispatcher = d
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *EntityService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewEntityService creates an EntityService.
func NewEntityService(eng *engine.Engine, opts ...Option) *EntityService {
	s := &EntityService{
		engine: eng,
		store:  eng.Store(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine returns the underlying engine.
func (s *EntityService) Engine() *engine.Engine {
	return s.engine
}

// Create validates input, runs the before_create triggers, persists the
// entity, runs the after_create triggers and returns the completed,
// normalized entity.
func (s *EntityService) Create(ctx context.Context, req *domain.RequestContext, class string, input domain.Record) (domain.Record, error) {
	class, err := s.entityClass(class)
	if err != nil {
		return nil, err
	}
	if input == nil {
		input = domain.Record{}
	}

	if err := s.engine.ValidateJSONDataAgainstSchema(class, input, nil); err != nil {
		return nil, err
	}
	if err := s.engine.ExecuteEntityLevelValidator(ctx, class, req); err != nil {
		return nil, err
	}
	if err := s.engine.ExecutePropertyLevelValidators(ctx, domain.ValidateBeforeCreate, class, req, nil, input); err != nil {
		return nil, err
	}

	generated, err := s.engine.GenerateTriggeredData(ctx, domain.PhaseBeforeCreate, class, req, nil, input)
	if err != nil {
		return nil, err
	}
	record, err := s.engine.PrepareForPersistence(class, input, generated, true)
	if err != nil {
		return nil, err
	}
	stored, err := s.store.CreateEntity(ctx, class, record)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", class, err)
	}
	s.logger.Info("entity created", zap.String("entity_class", class), zap.String("uuid", stored.UUID()))

	if _, err := s.engine.GenerateTriggeredData(ctx, domain.PhaseAfterCreate, class, req, nil, domain.Merge(input, generated)); err != nil {
		return nil, err
	}

	out, err := s.respond(ctx, req, stored.UUID())
	if err != nil {
		return nil, err
	}
	s.reindex(req, stored.UUID())
	return out, nil
}

// Update validates input against the stored entity, runs the before_update
// triggers, applies the change, runs the after_update triggers and returns
// the completed, normalized entity.
func (s *EntityService) Update(ctx context.Context, req *domain.RequestContext, uuid string, input domain.Record) (domain.Record, error) {
	existing, err := s.store.GetEntity(ctx, uuid)
	if err != nil {
		return nil, err
	}
	class := existing.EntityType()
	if input == nil {
		input = domain.Record{}
	}

	if err := s.engine.ValidateJSONDataAgainstSchema(class, input, existing); err != nil {
		return nil, err
	}
	if err := s.engine.ExecutePropertyLevelValidators(ctx, domain.ValidateBeforeUpdate, class, req, existing, input); err != nil {
		return nil, err
	}

	generated, err := s.engine.GenerateTriggeredData(ctx, domain.PhaseBeforeUpdate, class, req, existing, input)
	if err != nil {
		return nil, err
	}
	record, err := s.engine.PrepareForPersistence(class, input, generated, false)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.UpdateEntity(ctx, class, record, uuid); err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", uuid, err)
	}
	s.logger.Info("entity updated", zap.String("entity_class", class), zap.String("uuid", uuid))

	newData := domain.Merge(domain.Record{domain.KeyUUID: uuid}, input, generated)
	_, afterErr := s.engine.GenerateTriggeredData(ctx, domain.PhaseAfterUpdate, class, req, existing, newData)
	// Relinking may already have changed the graph, so the cache goes either way.
	s.invalidate(ctx, uuid)
	if afterErr != nil {
		return nil, afterErr
	}

	out, err := s.respond(ctx, req, uuid)
	if err != nil {
		return nil, err
	}
	s.reindex(req, uuid)
	return out, nil
}

// Get returns the completed entity shaped by filter. Callers without a valid
// token only see public entities, with the class's public-response
// exclusions removed.
func (s *EntityService) Get(ctx context.Context, req *domain.RequestContext, uuid string, filter domain.PropertyFilter) (domain.Record, error) {
	existing, err := s.store.GetEntity(ctx, uuid)
	if err != nil {
		return nil, err
	}
	authorized := isAuthorized(req)
	if !authorized && !isPublic(existing) {
		return nil, domain.ErrForbidden
	}

	completed, err := s.engine.GetCompleteEntityResult(ctx, req, existing, filter)
	if err != nil {
		return nil, err
	}
	normalized, err := s.engine.NormalizeObjectResultForResponse(completed, filter)
	if err != nil {
		return nil, err
	}
	return s.engine.RemoveUnauthorizedFields([]domain.Record{normalized}, !authorized)[0], nil
}

// GetIndexDocument returns the search index document of an entity.
func (s *EntityService) GetIndexDocument(ctx context.Context, req *domain.RequestContext, uuid string) (domain.Record, error) {
	existing, err := s.store.GetEntity(ctx, uuid)
	if err != nil {
		return nil, err
	}
	completed, err := s.engine.GetCompleteEntityForIndex(ctx, req, existing)
	if err != nil {
		return nil, err
	}
	return s.engine.NormalizeForIndex(completed)
}

// List completes and normalizes the given entities with one bulk batch.
// Unknown uuids are skipped.
func (s *EntityService) List(ctx context.Context, req *domain.RequestContext, uuids []string, filter domain.PropertyFilter) ([]domain.Record, error) {
	records, err := s.store.GetEntities(ctx, uuids)
	if err != nil {
		return nil, fmt.Errorf("failed to load entities: %w", err)
	}
	return s.completeList(ctx, req, orderBy(records, uuids), filter)
}

func (s *EntityService) completeList(ctx context.Context, req *domain.RequestContext, records []domain.Record, filter domain.PropertyFilter) ([]domain.Record, error) {
	authorized := isAuthorized(req)
	visible := records[:0:0]
	for _, rec := range records {
		if authorized || isPublic(rec) {
			visible = append(visible, rec)
		}
	}

	completed, err := s.engine.GetCompleteEntitiesList(ctx, req, visible, filter)
	if err != nil {
		return nil, err
	}
	normalized, err := s.engine.NormalizeEntitiesListForResponse(completed, filter)
	if err != nil {
		return nil, err
	}
	return s.engine.RemoveUnauthorizedFields(normalized, !authorized), nil
}

// respond reads back a written entity through the full read path.
func (s *EntityService) respond(ctx context.Context, req *domain.RequestContext, uuid string) (domain.Record, error) {
	stored, err := s.store.GetEntity(ctx, uuid)
	if err != nil {
		return nil, err
	}
	completed, err := s.engine.GetCompleteEntityResult(ctx, req, stored, domain.PropertyFilter{})
	if err != nil {
		return nil, err
	}
	return s.engine.NormalizeObjectResultForResponse(completed, domain.PropertyFilter{})
}

// invalidate drops the cached results of uuid and of its descendants, whose
// embedded ancestor views may include it.
func (s *EntityService) invalidate(ctx context.Context, uuid string) {
	ids := []string{uuid}
	descendants, err := s.store.GetDescendants(ctx, uuid, repository.RelationFilter{})
	if err != nil {
		s.logger.Warn("failed to list descendants for cache invalidation", zap.String("uuid", uuid), zap.Error(err))
	}
	for _, d := range descendants {
		ids = append(ids, d.UUID())
	}
	s.engine.InvalidateCache(ctx, ids...)
}

func (s *EntityService) reindex(req *domain.RequestContext, uuid string) {
	if s.reindexer == nil {
		return
	}
	token := req.AuthToken()
	task := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, reindexTimeout)
		defer cancel()
		if err := s.reindexer.Reindex(ctx, token, uuid); err != nil {
			s.logger.Warn("reindex failed", zap.String("uuid", uuid), zap.Error(err))
		}
	}
	if s.dispatcher == nil {
		task(context.Background())
		return
	}
	if err := s.dispatcher.Submit(task); err != nil {
		s.logger.Warn("reindex not dispatched", zap.String("uuid", uuid), zap.Error(err))
	}
}

// entityClass resolves a caller-supplied class name to a creatable class.
func (s *EntityService) entityClass(name string) (string, error) {
	canonical, ok := s.engine.Catalog().NormalizeClass(name)
	if !ok || canonical == s.engine.Catalog().ActivityClass() || canonical == domain.ClassEntity {
		return "", &domain.SchemaValidationError{
			Class:   name,
			Reason:  domain.ReasonUnknownClass,
			Message: fmt.Sprintf("invalid entity type %s", name),
		}
	}
	return canonical, nil
}

func isAuthorized(req *domain.RequestContext) bool {
	return req != nil && req.User != nil && req.User.Sub != ""
}

func isPublic(rec domain.Record) bool {
	if strings.EqualFold(rec.StringOr(domain.KeyDataAccessLevel, ""), domain.AccessLevelPublic) {
		return true
	}
	return strings.EqualFold(rec.StringOr(domain.KeyStatus, ""), "published")
}

// orderBy returns records in the order of uuids.
func orderBy(records []domain.Record, uuids []string) []domain.Record {
	byID := make(map[string]domain.Record, len(records))
	for _, rec := range records {
		byID[rec.UUID()] = rec
	}
	out := make([]domain.Record, 0, len(records))
	for _, id := range uuids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
			delete(byID, id)
		}
	}
	return out
}
