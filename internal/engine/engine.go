// Package engine is the entry point to the trigger and normalization engine.
// An Engine is built once at startup and shared by every request.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rpattn/entityapi/internal/cache"
	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/normalize"
	"github.com/rpattn/entityapi/internal/repository"
	"github.com/rpattn/entityapi/internal/schema"
	"github.com/rpattn/entityapi/internal/schema/validator"
	"github.com/rpattn/entityapi/internal/triggers"
)

// DefaultCacheTTL is used when caching is enabled without an explicit ttl.
const DefaultCacheTTL = 4 * time.Hour

// Engine holds the immutable collaborators of the engine: the loaded catalog,
// the trigger executor, the validation gateway and the normalizer, plus the
// optional result cache.
type Engine struct {
	catalog    *schema.Catalog
	codec      schema.Codec
	store      repository.GraphStore
	executor   *triggers.Executor
	gateway    *validator.Gateway
	normalizer *normalize.Normalizer
	cache      cache.Cache
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache enables read-through caching of completed results.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = c
		if ttl > 0 {
			e.cacheTTL = ttl
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New assembles an Engine from the trigger executor's collaborators.
func New(executor *triggers.Executor, gateway *validator.Gateway, opts ...Option) *Engine {
	deps := executor.Deps()
	codec := deps.Codec
	if codec == nil {
		codec = schema.LiteralCodec{}
	}
	e := &Engine{
		catalog:    deps.Catalog,
		codec:      codec,
		store:      deps.Store,
		executor:   executor,
		gateway:    gateway,
		normalizer: normalize.New(deps.Catalog, codec),
		cacheTTL:   DefaultCacheTTL,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the loaded schema.
func (e *Engine) Catalog() *schema.Catalog {
	return e.catalog
}

// Store returns the graph store the engine reads related entities from.
func (e *Engine) Store() repository.GraphStore {
	return e.store
}

// Normalizer returns the result normalizer.
func (e *Engine) Normalizer() *normalize.Normalizer {
	return e.normalizer
}

// GenerateTriggeredData runs the phase's triggers for one entity.
func (e *Engine) GenerateTriggeredData(ctx context.Context, phase domain.Phase, class string, req *domain.RequestContext, existing, newData domain.Record) (domain.Record, error) {
	return e.executor.Generate(ctx, phase, class, req, existing, newData)
}

// ValidateJSONDataAgainstSchema checks caller input against the class schema.
// An empty existing record validates a create payload.
func (e *Engine) ValidateJSONDataAgainstSchema(class string, input, existing domain.Record) error {
	return e.gateway.ValidateAgainstSchema(class, input, existing)
}

// ExecuteEntityLevelValidator runs the class's before-create entity validator.
func (e *Engine) ExecuteEntityLevelValidator(ctx context.Context, class string, req *domain.RequestContext) error {
	return e.gateway.RunEntityLevelValidator(ctx, class, req)
}

// ExecutePropertyLevelValidators runs the validators declared for phase on
// every submitted property.
func (e *Engine) ExecutePropertyLevelValidators(ctx context.Context, phase domain.ValidatorPhase, class string, req *domain.RequestContext, existing, newData domain.Record) error {
	return e.gateway.RunPropertyLevelValidators(ctx, phase, class, req, existing, newData)
}

// PrepareForPersistence merges caller input with generated data into the
// record handed to the store. Transient and undeclared properties are dropped
// and list/json_string values are encoded. On create nil values are dropped;
// on update they are kept so the store deletes those properties.
func (e *Engine) PrepareForPersistence(class string, input, generated domain.Record, creating bool) (domain.Record, error) {
	props, err := e.catalog.EffectiveProperties(class)
	if err != nil {
		return nil, err
	}
	merged := domain.Merge(input, generated)
	out := make(domain.Record, len(merged))
	for key, value := range merged {
		rule, ok := props.Get(key)
		if !ok || rule.Transient {
			continue
		}
		if value == nil {
			if !creating {
				out[key] = nil
			}
			continue
		}
		if rule.IsEncoded() {
			if _, already := value.(string); !already {
				encoded, err := e.codec.Encode(value)
				if err != nil {
					return nil, fmt.Errorf("failed to encode %s: %w", key, err)
				}
				value = encoded
			}
		}
		out[key] = value
	}
	return out, nil
}

// NormalizeObjectResultForResponse shapes one completed record for a client.
func (e *Engine) NormalizeObjectResultForResponse(record domain.Record, filter domain.PropertyFilter) (domain.Record, error) {
	return e.normalizer.Normalize(record.EntityType(), record, filter, false)
}

// NormalizeEntitiesListForResponse shapes completed records for a client.
func (e *Engine) NormalizeEntitiesListForResponse(records []domain.Record, filter domain.PropertyFilter) ([]domain.Record, error) {
	out := make([]domain.Record, 0, len(records))
	for _, record := range records {
		normalized, err := e.NormalizeObjectResultForResponse(record, filter)
		if err != nil {
			return nil, err
		}
		out = append(out, normalized)
	}
	return out, nil
}

// NormalizeForIndex shapes one completed record for the search index.
func (e *Engine) NormalizeForIndex(record domain.Record) (domain.Record, error) {
	return e.normalizer.NormalizeForIndex(record.EntityType(), record, domain.ScopeIndex)
}

// RemoveUnauthorizedFields strips public-response exclusions when
// unauthorized is true.
func (e *Engine) RemoveUnauthorizedFields(records []domain.Record, unauthorized bool) []domain.Record {
	return e.normalizer.RemoveUnauthorizedFields(records, unauthorized)
}

// InvalidateCache drops every cached result of the given entities.
func (e *Engine) InvalidateCache(ctx context.Context, uuids ...string) {
	if e.cache == nil || len(uuids) == 0 {
		return
	}
	if err := e.cache.DeleteMany(ctx, cache.EntityKeys(uuids...)); err != nil {
		e.logger.Warn("cache invalidation failed", zap.Strings("uuids", uuids), zap.Error(err))
	}
}

func (e *Engine) cached(ctx context.Context, key string) (domain.Record, bool) {
	if e.cache == nil {
		return nil, false
	}
	record, err := e.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			e.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return record, true
}

func (e *Engine) remember(ctx context.Context, key string, record domain.Record) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, key, record, e.cacheTTL); err != nil {
		e.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
