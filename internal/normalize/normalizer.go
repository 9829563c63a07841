// Package normalize shapes completed entity records for clients and for the
// search index.
package normalize

import (
	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/schema"
)

// Normalizer filters and decodes completed records according to the catalog.
type Normalizer struct {
	catalog *schema.Catalog
	codec   schema.Codec
}

// New creates a Normalizer.
func New(catalog *schema.Catalog, codec schema.Codec) *Normalizer {
	if codec == nil {
		codec = schema.LiteralCodec{}
	}
	return &Normalizer{catalog: catalog, codec: codec}
}

// Normalize produces the client-visible record of class.
//
// Only declared properties survive. Unexposed properties are always dropped.
// A non-empty filter keeps the named properties (include) or every property
// but the named ones (exclude); the class defaults are kept either way. When
// strict is false, exposed activity properties merged into the record are kept
// too. Encoded values are decoded and empty values are dropped last.
func (n *Normalizer) Normalize(class string, record domain.Record, filter domain.PropertyFilter, strict bool) (domain.Record, error) {
	props, err := n.catalog.EffectiveProperties(class)
	if err != nil {
		return nil, err
	}

	out := make(domain.Record, len(record))
	for key, value := range record {
		rule, ok := n.lookup(props, key, strict)
		if !ok || !rule.Exposed {
			continue
		}
		if !n.selected(class, key, filter) {
			continue
		}
		out[key] = n.decode(rule, value)
	}
	return DropEmptyValues(out), nil
}

// NormalizeForIndex shapes a record for the search index. In the index scope
// the indexed flag replaces the exposed flag. Empty values are kept so index
// documents keep a stable field set for partial updates.
func (n *Normalizer) NormalizeForIndex(class string, record domain.Record, scope domain.MetadataScope) (domain.Record, error) {
	props, err := n.catalog.EffectiveProperties(class)
	if err != nil {
		return nil, err
	}

	out := make(domain.Record, len(record))
	for key, value := range record {
		rule, ok := n.lookup(props, key, false)
		if !ok {
			continue
		}
		visible := rule.Exposed
		if scope == domain.ScopeIndex {
			visible = rule.Indexed
		}
		if !visible {
			continue
		}
		out[key] = n.decode(rule, value)
	}
	return out, nil
}

func (n *Normalizer) lookup(props *schema.PropertyMap, key string, strict bool) (*schema.PropertyRule, bool) {
	if rule, ok := props.Get(key); ok {
		return rule, true
	}
	if strict {
		return nil, false
	}
	return n.catalog.ActivityProperties().Get(key)
}

func (n *Normalizer) selected(class, key string, filter domain.PropertyFilter) bool {
	if filter.Empty() || n.catalog.IsDefaultProperty(class, key) {
		return true
	}
	if filter.Mode == domain.FilterExclude {
		return !filter.Contains(key)
	}
	return filter.Contains(key)
}

// decode turns stored literal strings of list and json_string properties into
// native values. Empty strings and undecodable values are returned as-is.
func (n *Normalizer) decode(rule *schema.PropertyRule, value any) any {
	if !rule.IsEncoded() {
		return value
	}
	s, ok := value.(string)
	if !ok || s == "" {
		return value
	}
	decoded, err := n.codec.Decode(s)
	if err != nil {
		return value
	}
	return decoded
}
