package server

import (
	"fmt"

	"github.com/fyrsmithlabs/retrievald/internal/vectorstore"
)

// buildConditions converts a JSON filters object into store conditions.
// A string value becomes an equality match, an array of strings becomes
// an any-of match. Scope keys are rejected later by the store.
func buildConditions(filters map[string]interface{}) ([]vectorstore.Condition, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	conditions := make([]vectorstore.Condition, 0, len(filters))
	for key, raw := range filters {
		switch value := raw.(type) {
		case string:
			conditions = append(conditions, vectorstore.Equals(key, value))
		case []interface{}:
			values := make([]string, 0, len(value))
			for _, item := range value {
				str, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("filter %q: array values must be strings", key)
				}
				values = append(values, str)
			}
			if len(values) == 0 {
				return nil, fmt.Errorf("filter %q: empty value list", key)
			}
			conditions = append(conditions, vectorstore.AnyOf(key, values...))
		default:
			return nil, fmt.Errorf("filter %q: value must be a string or string array", key)
		}
	}
	return conditions, nil
}
