package normalize

import (
	"reflect"

	"github.com/rpattn/entityapi/internal/domain"
)

// IsEmptyValue reports whether value is one of the empties dropped from
// responses: nil, the empty string, an empty list or an empty map. Zero
// numbers and false are values, not empties.
func IsEmptyValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	case domain.Record:
		return len(v) == 0
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	}
	return false
}

// DropEmptyValues removes the top-level keys whose value IsEmptyValue. The
// record is modified in place and returned.
func DropEmptyValues(record domain.Record) domain.Record {
	for key, value := range record {
		if IsEmptyValue(value) {
			delete(record, key)
		}
	}
	return record
}
