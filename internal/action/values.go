package action

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/plenumhq/plenum/internal/keys"
	"github.com/plenumhq/plenum/internal/models"
)

// Instance values come from two sources with different number types: our
// own code stores int, decoded JSON stores float64 or json.Number. The
// helpers below accept all of them.

func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func asIntList(value any) ([]int, bool) {
	switch v := value.(type) {
	case nil:
		return nil, true
	case []int:
		return v, true
	case []any:
		out := make([]int, 0, len(v))
		for _, item := range v {
			n, ok := asInt(item)
			if !ok {
				return nil, false
			}
			out = append(out, n)
		}
		return out, true
	default:
		return nil, false
	}
}

func asString(value any) (string, bool) {
	s, ok := value.(string)
	return s, ok
}

func asStringList(value any) ([]string, bool) {
	switch v := value.(type) {
	case nil:
		return nil, true
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func containsInt(items []int, n int) bool {
	for _, item := range items {
		if item == n {
			return true
		}
	}
	return false
}

// isEmpty reports whether a field value counts as unset for template token
// bookkeeping and relation normalization.
func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case []int:
		return len(v) == 0
	case []string:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

// asRefs normalizes a relation field value into fqids. Generic values are
// fqid strings; typed values are plain ids resolved against the relation's
// single target. Single values are wrapped, nil becomes empty.
func asRefs(value any, field *models.Field) ([]keys.FQID, error) {
	rel := field.Relation
	var items []any
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []any:
		items = v
	case []int:
		items = make([]any, len(v))
		for i, n := range v {
			items[i] = n
		}
	case []string:
		items = make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
	default:
		items = []any{v}
	}
	refs := make([]keys.FQID, 0, len(items))
	for _, item := range items {
		if rel.Generic {
			s, ok := item.(string)
			if !ok {
				return nil, errorf("invalid value for generic field %s: %v", field.Name, item)
			}
			fqid, err := keys.ParseFQID(s)
			if err != nil {
				return nil, errorf("invalid value for generic field %s: %v", field.Name, err)
			}
			if !rel.HasTarget(fqid.Collection) {
				return nil, errorf("the collection %s is not available for field %s", fqid.Collection, field.Name)
			}
			refs = append(refs, fqid)
			continue
		}
		id, ok := asInt(item)
		if !ok {
			return nil, errorf("invalid value for field %s: %v", field.Name, item)
		}
		refs = append(refs, keys.FQID{Collection: rel.Target(), ID: id})
	}
	return refs, nil
}

// encodeRef renders one fqid the way the destination field stores it: the
// fqid string for generic fields, the plain id otherwise.
func encodeRef(fqid keys.FQID, generic bool) any {
	if generic {
		return fqid.String()
	}
	return fqid.ID
}

// refSet is an ordered set of fqids used for relation diffs.
type refSet struct {
	order []keys.FQID
	seen  map[keys.FQID]bool
}

func newRefSet(refs ...keys.FQID) *refSet {
	s := &refSet{seen: make(map[keys.FQID]bool)}
	for _, r := range refs {
		s.add(r)
	}
	return s
}

func (s *refSet) add(fqid keys.FQID) {
	if s.seen[fqid] {
		return
	}
	s.seen[fqid] = true
	s.order = append(s.order, fqid)
}

func (s *refSet) has(fqid keys.FQID) bool {
	return s.seen[fqid]
}

func (s *refSet) list() []keys.FQID {
	return s.order
}

// diff returns the elements of s not in other, keeping order.
func (s *refSet) diff(other *refSet) []keys.FQID {
	var out []keys.FQID
	for _, r := range s.order {
		if !other.has(r) {
			out = append(out, r)
		}
	}
	return out
}

// sortedTokens returns the keys of a template dict-form value in numeric
// order so event emission is deterministic.
func sortedTokens(dict map[string]any) []string {
	tokens := make([]string, 0, len(dict))
	for token := range dict {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		a, aerr := strconv.Atoi(tokens[i])
		b, berr := strconv.Atoi(tokens[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		return tokens[i] < tokens[j]
	})
	return tokens
}
