package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rpattn/entityapi/internal/domain"
)

// MemoryGraphStore is an in-process GraphStore. It backs the server when no
// database is configured and every engine test.
type MemoryGraphStore struct {
	mu         sync.RWMutex
	entities   map[string]domain.Record
	activities map[string]domain.Record
	// generatedBy maps an entity to the activity that produced it.
	generatedBy map[string]string
	// activityInputs maps an activity to the entities it used.
	activityInputs map[string][]string
	links          map[string]map[string][]string
}

// NewMemoryGraphStore creates an empty store.
func NewMemoryGraphStore() *MemoryGraphStore {
	return &MemoryGraphStore{
		entities:       make(map[string]domain.Record),
		activities:     make(map[string]domain.Record),
		generatedBy:    make(map[string]string),
		activityInputs: make(map[string][]string),
		links:          make(map[string]map[string][]string),
	}
}

var _ GraphStore = (*MemoryGraphStore)(nil)

// GetEntity returns a copy of the stored entity.
func (s *MemoryGraphStore) GetEntity(_ context.Context, uuid string) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.entities[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrEntityNotFound, uuid)
	}
	return rec.DeepClone(), nil
}

// GetEntities returns copies of the entities that exist.
func (s *MemoryGraphStore) GetEntities(_ context.Context, uuids []string) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Record, 0, len(uuids))
	for _, id := range uuids {
		if rec, ok := s.entities[id]; ok {
			out = append(out, rec.DeepClone())
		}
	}
	return out, nil
}

// CreateEntity stores record under its uuid.
func (s *MemoryGraphStore) CreateEntity(_ context.Context, class string, record domain.Record) (domain.Record, error) {
	id := record.UUID()
	if id == "" {
		return nil, fmt.Errorf("failed to create %s: record has no uuid", class)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entities[id]; exists {
		return nil, fmt.Errorf("failed to create %s: uuid %s already exists", class, id)
	}
	stored := record.DeepClone()
	if stored.EntityType() == "" {
		stored[domain.KeyEntityType] = class
	}
	s.entities[id] = stored
	return stored.DeepClone(), nil
}

// UpdateEntity applies record to the stored entity. Nil values remove keys.
func (s *MemoryGraphStore) UpdateEntity(_ context.Context, class string, record domain.Record, uuid string) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.entities[uuid]
	if !ok {
		return nil, fmt.Errorf("failed to update %s: %w: %s", class, domain.ErrEntityNotFound, uuid)
	}
	for key, value := range record.DeepClone() {
		if key == domain.KeyUUID {
			continue
		}
		if value == nil {
			delete(stored, key)
			continue
		}
		stored[key] = value
	}
	return stored.DeepClone(), nil
}

// GetParents returns the entities used by the activity that generated uuid.
func (s *MemoryGraphStore) GetParents(_ context.Context, uuid string, filter RelationFilter) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.parentIDs(uuid), filter), nil
}

// GetChildren returns the entities generated from uuid.
func (s *MemoryGraphStore) GetChildren(_ context.Context, uuid string, filter RelationFilter) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.childIDs(uuid), filter), nil
}

// GetAncestors walks parents breadth first, nearest ancestors first.
func (s *MemoryGraphStore) GetAncestors(_ context.Context, uuid string, filter RelationFilter) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.walk(uuid, s.parentIDs, nil), filter), nil
}

// GetDescendants walks children breadth first, nearest descendants first.
func (s *MemoryGraphStore) GetDescendants(_ context.Context, uuid string, filter RelationFilter) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.walk(uuid, s.childIDs, nil), filter), nil
}

// LinkEntityViaActivity stores activity and records it as the generator of
// entityUUID with parentUUIDs as inputs.
func (s *MemoryGraphStore) LinkEntityViaActivity(_ context.Context, entityUUID string, parentUUIDs []string, activity domain.Record) error {
	activityUUID := activity.UUID()
	if activityUUID == "" {
		return fmt.Errorf("failed to link %s: activity has no uuid", entityUUID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[entityUUID]; !ok {
		return fmt.Errorf("failed to link: %w: %s", domain.ErrEntityNotFound, entityUUID)
	}
	for _, parent := range parentUUIDs {
		if _, ok := s.entities[parent]; !ok {
			return fmt.Errorf("failed to link %s: %w: %s", entityUUID, domain.ErrEntityNotFound, parent)
		}
	}
	stored := activity.DeepClone()
	if stored.EntityType() == "" {
		stored[domain.KeyEntityType] = domain.ClassActivity
	}
	s.activities[activityUUID] = stored
	s.generatedBy[entityUUID] = activityUUID
	s.activityInputs[activityUUID] = append([]string(nil), parentUUIDs...)
	return nil
}

// UnlinkEntityFromParents drops the generating activity of entityUUID.
func (s *MemoryGraphStore) UnlinkEntityFromParents(_ context.Context, entityUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	activityUUID, ok := s.generatedBy[entityUUID]
	if !ok {
		return nil
	}
	delete(s.generatedBy, entityUUID)
	delete(s.activityInputs, activityUUID)
	delete(s.activities, activityUUID)
	return nil
}

// GetEntityActivity returns the activity that generated entityUUID.
func (s *MemoryGraphStore) GetEntityActivity(_ context.Context, entityUUID string) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	activityUUID, ok := s.generatedBy[entityUUID]
	if !ok {
		return nil, fmt.Errorf("no activity generated %s: %w", entityUUID, domain.ErrEntityNotFound)
	}
	return s.activities[activityUUID].DeepClone(), nil
}

// LinkEntityToEntities replaces the outgoing relation links of entityUUID.
func (s *MemoryGraphStore) LinkEntityToEntities(_ context.Context, entityUUID, relation string, targetUUIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[entityUUID]; !ok {
		return fmt.Errorf("failed to link: %w: %s", domain.ErrEntityNotFound, entityUUID)
	}
	for _, target := range targetUUIDs {
		if _, ok := s.entities[target]; !ok {
			return fmt.Errorf("failed to link %s: %w: %s", entityUUID, domain.ErrEntityNotFound, target)
		}
	}
	if s.links[entityUUID] == nil {
		s.links[entityUUID] = make(map[string][]string)
	}
	s.links[entityUUID][relation] = append([]string(nil), targetUUIDs...)
	return nil
}

// GetLinkedEntities returns the targets of entityUUID's relation links.
func (s *MemoryGraphStore) GetLinkedEntities(_ context.Context, entityUUID, relation string) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.links[entityUUID][relation], RelationFilter{}), nil
}

// GetOriginSamples walks each entity's ancestry and stops every branch at the
// first organ sample it meets.
func (s *MemoryGraphStore) GetOriginSamples(_ context.Context, uuids []string) (map[string][]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]domain.Record, len(uuids))
	for _, id := range uuids {
		stop := func(candidate string) bool {
			return isOrgan(s.entities[candidate])
		}
		var organs []string
		for _, ancestor := range s.walk(id, s.parentIDs, stop) {
			if stop(ancestor) {
				organs = append(organs, ancestor)
			}
		}
		if len(organs) > 0 {
			out[id] = s.collect(organs, RelationFilter{})
		}
	}
	return out, nil
}

func isOrgan(rec domain.Record) bool {
	return strings.EqualFold(rec.EntityType(), domain.ClassSample) &&
		strings.EqualFold(rec.StringOr(domain.KeySampleCategory, ""), domain.SampleCategoryOrgan)
}

func (s *MemoryGraphStore) parentIDs(uuid string) []string {
	activityUUID, ok := s.generatedBy[uuid]
	if !ok {
		return nil
	}
	return s.activityInputs[activityUUID]
}

func (s *MemoryGraphStore) childIDs(uuid string) []string {
	var out []string
	for activityUUID, inputs := range s.activityInputs {
		for _, input := range inputs {
			if input != uuid {
				continue
			}
			for entity, generator := range s.generatedBy {
				if generator == activityUUID {
					out = append(out, entity)
				}
			}
			break
		}
	}
	sort.Strings(out)
	return out
}

// walk returns the nodes reachable from start, breadth first, excluding start.
// Nodes for which stop reports true are returned but not expanded.
func (s *MemoryGraphStore) walk(start string, next func(string) []string, stop func(string) bool) []string {
	visited := map[string]bool{start: true}
	queue := []string{start}
	var out []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, n := range next(current) {
			if visited[n] {
				continue
			}
			visited[n] = true
			out = append(out, n)
			if stop != nil && stop(n) {
				continue
			}
			queue = append(queue, n)
		}
	}
	return out
}

func (s *MemoryGraphStore) collect(ids []string, filter RelationFilter) []domain.Record {
	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		rec, ok := s.entities[id]
		if !ok {
			continue
		}
		if filter.EntityType != "" && !strings.EqualFold(rec.EntityType(), filter.EntityType) {
			continue
		}
		out = append(out, rec.DeepClone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}
