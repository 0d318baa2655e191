package vectorstore

import (
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/fyrsmithlabs/retrievald/internal/tenant"
)

// scopeKeys are payload keys reserved for the isolation layer. Caller
// conditions on these keys are rejected, never merged.
var scopeKeys = map[string]bool{
	"tenant_id":  true,
	"project_id": true,
}

// Condition is one field-match constraint in a search or delete filter.
//
// Conditions are typed variants rather than free-form maps so filters are
// validated at construction, not by runtime key probing.
type Condition interface {
	// Key returns the payload key the condition constrains.
	Key() string

	// String renders the condition deterministically, for cache
	// fingerprints and logs.
	String() string

	// qdrant converts the condition to its wire form.
	qdrant() *qdrant.Condition
}

// EqualsCondition matches a payload field against one keyword value.
type EqualsCondition struct {
	key   string
	value string
}

// Equals builds an equality condition.
func Equals(key, value string) EqualsCondition {
	return EqualsCondition{key: key, value: value}
}

// Key returns the constrained payload key.
func (c EqualsCondition) Key() string { return c.key }

// String renders the condition for cache fingerprints and logs.
func (c EqualsCondition) String() string { return c.key + "=" + c.value }

func (c EqualsCondition) qdrant() *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: c.key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: c.value},
				},
			},
		},
	}
}

// AnyOfCondition matches a payload field against any of several values.
type AnyOfCondition struct {
	key    string
	values []string
}

// AnyOf builds a set-membership condition.
func AnyOf(key string, values ...string) AnyOfCondition {
	return AnyOfCondition{key: key, values: values}
}

// Key returns the constrained payload key.
func (c AnyOfCondition) Key() string { return c.key }

// String renders the condition for cache fingerprints and logs.
func (c AnyOfCondition) String() string {
	return c.key + " in [" + strings.Join(c.values, ",") + "]"
}

func (c AnyOfCondition) qdrant() *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: c.key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keywords{
						Keywords: &qdrant.RepeatedStrings{Strings: c.values},
					},
				},
			},
		},
	}
}

// ScopeFilter builds the mandatory tenant-scoped filter.
//
// The first two must-conditions are always the tenant_id and project_id
// equality matches; extra conditions are appended after them, never
// substituted. An extra condition on a scope key fails with
// ErrScopeViolation.
func ScopeFilter(scope tenant.Scope, extra ...Condition) (*qdrant.Filter, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	must := make([]*qdrant.Condition, 0, 2+len(extra))
	must = append(must,
		Equals("tenant_id", scope.TenantID).qdrant(),
		Equals("project_id", scope.ProjectID).qdrant(),
	)

	for _, cond := range extra {
		if scopeKeys[cond.Key()] {
			return nil, fmt.Errorf("%w: key %q", ErrScopeViolation, cond.Key())
		}
		must = append(must, cond.qdrant())
	}

	return &qdrant.Filter{Must: must}, nil
}
