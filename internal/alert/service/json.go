package service

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// encodeJSON marshals v, mapping nil slices to an empty JSON array so the
// stored column is never SQL NULL.
func encodeJSON(v any) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		raw = []byte("[]")
	}
	return datatypes.JSON(raw), nil
}
