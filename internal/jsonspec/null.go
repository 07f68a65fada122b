package jsonspec

import (
	"encoding/json"
)

// IsFullyNull reports whether a leaf value carries no information and must
// not be stored. Null is fully null. An object is fully null when it has no
// members, or at least two members that are all recursively empty; a lone
// {"value": null} still records that the field was addressed and is kept.
// Arrays are fully null when every element is empty.
func IsFullyNull(raw json.RawMessage) bool {
	if isNull(raw) {
		return true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	if obj, ok := v.(map[string]any); ok && len(obj) == 1 {
		return false
	}
	return isEmpty(v)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]any:
		for _, c := range t {
			if !isEmpty(c) {
				return false
			}
		}
		return true
	case []any:
		for _, c := range t {
			if !isEmpty(c) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
