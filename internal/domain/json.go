package domain

import (
	"bytes"
	"encoding/json"
)

// DecodeRecord unmarshals a JSON object into a Record. Integral numbers decode
// as int64 and all other numbers as float64, so integer properties keep their
// type across storage. JSON null decodes to an empty record.
func DecodeRecord(data []byte) (Record, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var rec Record
	if err := decoder.Decode(&rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return Record{}, nil
	}
	for key, value := range rec {
		rec[key] = normalizeNumbers(value)
	}
	return rec, nil
}

func normalizeNumbers(value any) any {
	switch v := value.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case map[string]any:
		for key, item := range v {
			v[key] = normalizeNumbers(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = normalizeNumbers(item)
		}
		return v
	default:
		return value
	}
}
