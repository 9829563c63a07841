package normalize

import (
	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/schema"
)

// RemoveUnauthorizedFields strips each entity's public-response exclusions
// when the caller may not see non-public data. Nested exclusions descend into
// maps and lists of maps at any depth. Entities are modified in place.
func (n *Normalizer) RemoveUnauthorizedFields(entities []domain.Record, unauthorized bool) []domain.Record {
	if !unauthorized {
		return entities
	}
	for _, entity := range entities {
		rules := n.catalog.ExcludedFromPublicResponse(entity.EntityType())
		if len(rules) == 0 {
			continue
		}
		stripMap(entity, rules)
	}
	return entities
}

func strip(value any, rules []schema.ExclusionRule) {
	switch v := value.(type) {
	case domain.Record:
		stripMap(v, rules)
	case map[string]any:
		stripMap(v, rules)
	case []any:
		for _, item := range v {
			strip(item, rules)
		}
	case []map[string]any:
		for _, item := range v {
			stripMap(item, rules)
		}
	case []domain.Record:
		for _, item := range v {
			stripMap(item, rules)
		}
	}
}

func stripMap(m map[string]any, rules []schema.ExclusionRule) {
	for _, rule := range rules {
		value, ok := m[rule.Key]
		if !ok {
			continue
		}
		if len(rule.Nested) == 0 {
			delete(m, rule.Key)
			continue
		}
		strip(value, rule.Nested)
	}
}
