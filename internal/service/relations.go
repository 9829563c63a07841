package service

import (
	"context"
	"fmt"

	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/repository"
)

// Relation names a provenance traversal.
type Relation string

const (
	RelationAncestors   Relation = "ancestors"
	RelationDescendants Relation = "descendants"
	RelationParents     Relation = "parents"
	RelationChildren    Relation = "children"
)

// ParseRelation validates a relation name from a request path.
func ParseRelation(name string) (Relation, error) {
	switch r := Relation(name); r {
	case RelationAncestors, RelationDescendants, RelationParents, RelationChildren:
		return r, nil
	}
	return "", domain.NewInvalidInput("relation", "unknown relation %q", name)
}

// Related returns the entities related to uuid, completed as one list.
func (s *EntityService) Related(ctx context.Context, req *domain.RequestContext, uuid string, relation Relation, filter domain.PropertyFilter) ([]domain.Record, error) {
	existing, err := s.store.GetEntity(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if !isAuthorized(req) && !isPublic(existing) {
		return nil, domain.ErrForbidden
	}

	var related []domain.Record
	switch relation {
	case RelationAncestors:
		related, err = s.store.GetAncestors(ctx, uuid, repository.RelationFilter{})
	case RelationDescendants:
		related, err = s.store.GetDescendants(ctx, uuid, repository.RelationFilter{})
	case RelationParents:
		related, err = s.store.GetParents(ctx, uuid, repository.RelationFilter{})
	case RelationChildren:
		related, err = s.store.GetChildren(ctx, uuid, repository.RelationFilter{})
	default:
		return nil, domain.NewInvalidInput("relation", "unknown relation %q", relation)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s of %s: %w", relation, uuid, err)
	}
	return s.completeList(ctx, req, related, filter)
}
