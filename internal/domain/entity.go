package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Provenance classes declared by the schema. Lookups against the catalog are
// case-insensitive; these are the canonical spellings.
const (
	ClassActivity    = "Activity"
	ClassEntity      = "Entity"
	ClassSource      = "Source"
	ClassSample      = "Sample"
	ClassDataset     = "Dataset"
	ClassPublication = "Publication"
	ClassCollection  = "Collection"
	ClassUpload      = "Upload"
)

// ProvenanceType separates the two top-level sections of the schema.
type ProvenanceType string

const (
	ProvenanceEntities   ProvenanceType = "ENTITIES"
	ProvenanceActivities ProvenanceType = "ACTIVITIES"
)

// Sample categories understood by the builtin triggers and validators.
const (
	SampleCategoryOrgan      = "organ"
	SampleCategoryBlock      = "block"
	SampleCategorySection    = "section"
	SampleCategorySuspension = "suspension"
)

// Data access levels.
const (
	AccessLevelConsortium = "consortium"
	AccessLevelProtected  = "protected"
	AccessLevelPublic     = "public"
)

// Well-known property keys shared by the engine and the builtin triggers.
const (
	KeyUUID                 = "uuid"
	KeyEntityType           = "entity_type"
	KeySennetID             = "sennet_id"
	KeyGroupUUID            = "group_uuid"
	KeyGroupName            = "group_name"
	KeySampleCategory       = "sample_category"
	KeySourceType           = "source_type"
	KeyDatasetType          = "dataset_type"
	KeyStatus               = "status"
	KeyOrgan                = "organ"
	KeyDataAccessLevel      = "data_access_level"
	KeyCreatedTimestamp     = "created_timestamp"
	KeyLastModifiedTime     = "last_modified_timestamp"
	KeyCreatedByUserSub     = "created_by_user_sub"
	KeyCreatedByUserEmail   = "created_by_user_email"
	KeyCreatedByUserName    = "created_by_user_displayname"
	KeyDirectAncestorUUID   = "direct_ancestor_uuid"
	KeyDirectAncestorUUIDs  = "direct_ancestor_uuids"
	KeyCreationAction       = "creation_action"
	KeyProtocolURL          = "protocol_url"
	KeyContainsHumanGenetic = "contains_human_genetic_sequences"
)

// Record is a mutable property bag describing one entity or activity at a
// point in the pipeline (existing data, new data, generated data).
type Record map[string]any

// Clone returns a shallow copy of the record. Nested maps and slices are shared.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// DeepClone copies nested maps and slices so the result can be mutated freely.
func (r Record) DeepClone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = deepCopyValue(v)
	}
	return out
}

// Has reports whether key is present, regardless of its value.
func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// String returns the value under key when it is a string.
func (r Record) String(key string) (string, bool) {
	v, ok := r[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// StringOr returns the string under key or fallback.
func (r Record) StringOr(key, fallback string) string {
	if s, ok := r.String(key); ok {
		return s
	}
	return fallback
}

// UUID returns the record's uuid property or an empty string.
func (r Record) UUID() string {
	return r.StringOr(KeyUUID, "")
}

// EntityType returns the record's entity_type property or an empty string.
func (r Record) EntityType() string {
	return r.StringOr(KeyEntityType, "")
}

// Keys returns the record keys in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge returns a new record with every overlay applied on top of base, in order.
// Keys present in an overlay replace the base value, including explicit nils.
func Merge(base Record, overlays ...Record) Record {
	out := base.Clone()
	for _, overlay := range overlays {
		for k, v := range overlay {
			out[k] = v
		}
	}
	return out
}

// StringSlice coerces list-like values (as decoded from JSON or the literal
// codec) into a slice of strings. Scalar strings become a one element slice.
func StringSlice(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("item %d must be a string, got %T", i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list of strings, got %T", value)
	}
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case Record:
		return t.DeepClone()
	case map[string]any:
		return map[string]any(Record(t).DeepClone())
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []Record:
		out := make([]Record, len(t))
		for i, item := range t {
			out[i] = item.DeepClone()
		}
		return out
	default:
		return v
	}
}
