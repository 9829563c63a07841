package repository

import (
	"context"

	"github.com/rpattn/entityapi/internal/domain"
)

// Relation names for non-provenance links between entities.
const (
	RelationInCollection = "IN_COLLECTION"
)

// RelationFilter narrows traversal results.
type RelationFilter struct {
	// EntityType keeps only entities of the given class when set.
	EntityType string
	// Limit caps the number of returned entities when positive.
	Limit int
}

// GraphStore defines the persistence operations the engine needs from the
// provenance graph. Lookups of unknown uuids return domain.ErrEntityNotFound.
//
// Stored records hold list and json_string properties in their encoded string
// form. A nil value in an UpdateEntity record removes that property.
type GraphStore interface {
	GetEntity(ctx context.Context, uuid string) (domain.Record, error)
	// GetEntities returns the entities that exist, in no particular order.
	GetEntities(ctx context.Context, uuids []string) ([]domain.Record, error)
	CreateEntity(ctx context.Context, class string, record domain.Record) (domain.Record, error)
	UpdateEntity(ctx context.Context, class string, record domain.Record, uuid string) (domain.Record, error)

	// Provenance traversal. Parents and children are one activity hop away.
	GetAncestors(ctx context.Context, uuid string, filter RelationFilter) ([]domain.Record, error)
	GetDescendants(ctx context.Context, uuid string, filter RelationFilter) ([]domain.Record, error)
	GetParents(ctx context.Context, uuid string, filter RelationFilter) ([]domain.Record, error)
	GetChildren(ctx context.Context, uuid string, filter RelationFilter) ([]domain.Record, error)

	// LinkEntityViaActivity persists activity and links parents -> activity -> entity.
	LinkEntityViaActivity(ctx context.Context, entityUUID string, parentUUIDs []string, activity domain.Record) error
	// UnlinkEntityFromParents removes the entity's generating activity links.
	UnlinkEntityFromParents(ctx context.Context, entityUUID string) error
	// GetEntityActivity returns the activity that generated the entity.
	GetEntityActivity(ctx context.Context, entityUUID string) (domain.Record, error)

	// LinkEntityToEntities replaces the entity's outgoing links of relation.
	LinkEntityToEntities(ctx context.Context, entityUUID, relation string, targetUUIDs []string) error
	GetLinkedEntities(ctx context.Context, entityUUID, relation string) ([]domain.Record, error)

	// GetOriginSamples resolves, for every uuid, the nearest ancestor samples
	// whose sample_category is organ. The entity itself is never included.
	GetOriginSamples(ctx context.Context, uuids []string) (map[string][]domain.Record, error)
}
