package triggers

import (
	"context"
	"sort"

	"github.com/rpattn/entityapi/internal/domain"
	"github.com/rpattn/entityapi/internal/schema"
)

// ValueFunc computes one property. It returns the key to write, which may
// differ from the declared property, and the value. A nil value means the
// trigger's preconditions were not met and nothing is written.
type ValueFunc func(ctx context.Context, call *Call) (string, any, error)

// ReducerFunc receives the generated-data accumulator and returns it updated.
// Several reducers may cooperate on the same keys within one pass.
type ReducerFunc func(ctx context.Context, call *Call, acc domain.Record) (domain.Record, error)

// EffectFunc performs a side effect after persistence.
type EffectFunc func(ctx context.Context, call *Call) error

// BulkFunc computes one property for many entities, keyed by entity uuid.
type BulkFunc func(ctx context.Context, call *BulkCall) (map[string]any, error)

// Table is a set of named triggers grouped by calling convention.
type Table struct {
	Values   map[string]ValueFunc
	Reducers map[string]ReducerFunc
	Effects  map[string]EffectFunc
	Bulk     map[string]BulkFunc
}

// Kind implements schema.TriggerLookup.
func (t *Table) Kind(name string) (schema.TriggerKind, bool) {
	if _, ok := t.Values[name]; ok {
		return schema.KindValue, true
	}
	if _, ok := t.Reducers[name]; ok {
		return schema.KindReducer, true
	}
	if _, ok := t.Effects[name]; ok {
		return schema.KindEffect, true
	}
	if _, ok := t.Bulk[name]; ok {
		return schema.KindBulk, true
	}
	return 0, false
}

// Names lists every registered trigger name, sorted.
func (t *Table) Names() []string {
	var out []string
	for name := range t.Values {
		out = append(out, name)
	}
	for name := range t.Reducers {
		out = append(out, name)
	}
	for name := range t.Effects {
		out = append(out, name)
	}
	for name := range t.Bulk {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Builtin returns the table of builtin triggers referenced by the embedded
// provenance schema.
func Builtin() *Table {
	return &Table{
		Values: map[string]ValueFunc{
			"set_timestamp":                setTimestamp,
			"set_entity_type":              setEntityType,
			"set_user_sub":                 setUserSub,
			"set_user_email":               setUserEmail,
			"set_user_displayname":         setUserDisplayName,
			"set_data_access_level":        setDataAccessLevel,
			"set_group_uuid":               setGroupUUID,
			"set_group_name":               setGroupName,
			"set_display_subtype":          setDisplaySubtype,
			"set_dataset_status_new":       setDatasetStatusNew,
			"set_activity_creation_action": setActivityCreationAction,
			"commit_thumbnail_file":        commitThumbnailFile,
			"get_direct_ancestor":          getDirectAncestor,
			"get_direct_ancestors":         getDirectAncestors,
			"get_organ_hierarchy":          getOrganHierarchy,
			"get_origin_samples":           getOriginSamples,
			"get_source":                   getSource,
			"get_collection_entities":      getCollectionEntities,
			"get_creation_action_activity": getCreationActionActivity,
		},
		Reducers: map[string]ReducerFunc{
			"set_uuid":              setUUID,
			"set_sennet_id":         setSennetID,
			"commit_image_files":    commitImageFiles,
			"delete_image_files":    deleteImageFiles,
			"delete_thumbnail_file": deleteThumbnailFile,
		},
		Effects: map[string]EffectFunc{
			"link_to_direct_ancestor":    linkToDirectAncestor,
			"link_to_direct_ancestors":   linkToDirectAncestors,
			"relink_to_direct_ancestor":  relinkToDirectAncestor,
			"relink_to_direct_ancestors": relinkToDirectAncestors,
			"link_collection_entities":   linkCollectionEntities,
		},
		Bulk: map[string]BulkFunc{
			"get_organ_hierarchy_bulk": getOrganHierarchyBulk,
			"get_origin_samples_bulk":  getOriginSamplesBulk,
		},
	}
}
