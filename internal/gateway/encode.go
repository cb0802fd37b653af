package gateway

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// mustJSON encodes tags for the jsonb column. String slices cannot fail to
// encode, so the error path collapses to an empty document.
func mustJSON(tags []string) datatypes.JSON {
	raw, err := json.Marshal(tags)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(raw)
}

func toJSONMap(m map[string]string) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
