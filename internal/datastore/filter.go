package datastore

import (
	"encoding/json"
	"fmt"
)

// Filter restricts filter, exists and count requests. The concrete types are
// FilterOperator for a single comparison and And, Or, Not for composites;
// they nest arbitrarily and serialize to the reader's wire format.
type Filter interface {
	filterNode()
	json.Marshaler
}

// FilterOperator compares one field against a value. Valid operators are
// =, !=, <, <=, > and >=.
type FilterOperator struct {
	Field    string
	Operator string
	Value    any
}

func (f FilterOperator) filterNode() {}

func (f FilterOperator) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"field":    f.Field,
		"operator": f.Operator,
		"value":    f.Value,
	})
}

// And matches when all parts match.
type And []Filter

func (f And) filterNode() {}

func (f And) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"and_filter": []Filter(f)})
}

// Or matches when at least one part matches.
type Or []Filter

func (f Or) filterNode() {}

func (f Or) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"or_filter": []Filter(f)})
}

// Not inverts a filter.
type Not struct {
	Filter Filter
}

func (f Not) filterNode() {}

func (f Not) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"not_filter": f.Filter})
}

// ValidOperator reports whether op is one of the supported comparisons.
func ValidOperator(op string) bool {
	switch op {
	case "=", "!=", "<", "<=", ">", ">=":
		return true
	}
	return false
}

// CheckFilter validates a filter tree before it goes on the wire.
func CheckFilter(f Filter) error {
	switch node := f.(type) {
	case FilterOperator:
		if !ValidOperator(node.Operator) {
			return fmt.Errorf("invalid filter operator %q", node.Operator)
		}
		return nil
	case And:
		for _, part := range node {
			if err := CheckFilter(part); err != nil {
				return err
			}
		}
		return nil
	case Or:
		for _, part := range node {
			if err := CheckFilter(part); err != nil {
				return err
			}
		}
		return nil
	case Not:
		return CheckFilter(node.Filter)
	default:
		return fmt.Errorf("unknown filter type %T", f)
	}
}
