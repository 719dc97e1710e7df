package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/keys"
	"github.com/plenumhq/plenum/internal/models"
)

// RelationUpdate is one reverse-side effect of an edited relation field:
// the complete new value the related field must take.
type RelationUpdate struct {
	Field keys.FQField
	// Op is "add" or "remove", depending on whether the owning instance
	// joined or left the related field.
	Op    string
	Value any
}

// resolveRelation calculates the reverse-side changes one edited relation
// field induces. fieldName may be a concrete template instantiation of
// field. With onlyAdd (creates) the proposed value counts as all new;
// otherwise it is diffed against the current database value. onlyRemove
// is declared by the pipeline contract but has no caller yet.
func (b *Base) resolveRelation(ctx context.Context, model *models.Model, id int, field *models.Field, fieldName string, instance map[string]any, onlyAdd, onlyRemove bool) ([]RelationUpdate, error) {
	if onlyAdd && onlyRemove {
		return nil, fmt.Errorf("only_add and only_remove are contradictory")
	}
	if onlyRemove {
		return nil, fmt.Errorf("only_remove is not implemented")
	}
	rel := field.Relation
	proposed, err := asRefs(instance[fieldName], field)
	if err != nil {
		return nil, err
	}
	relatedName, err := b.relatedName(ctx, model, id, field, fieldName, instance)
	if err != nil {
		return nil, err
	}

	proposedSet := newRefSet(proposed...)
	var add, remove []keys.FQID
	if onlyAdd {
		add = proposedSet.list()
	} else {
		current, err := b.currentRefs(ctx, model, id, field, fieldName)
		if err != nil {
			return nil, err
		}
		add = proposedSet.diff(current)
		remove = current.diff(proposedSet)
	}
	if len(add)+len(remove) == 0 {
		return nil, nil
	}

	touched := make([]keys.FQID, 0, len(add)+len(remove))
	touched = append(touched, add...)
	touched = append(touched, remove...)
	related, err := b.fetchMany(ctx, touched, relatedName)
	if err != nil {
		return nil, err
	}
	for _, ref := range add {
		if _, ok := related[ref]; !ok {
			return nil, errorf("You try to reference an instance of %s that does not exist.", ref.Collection)
		}
	}

	owner := keys.FQID{Collection: model.Collection(), ID: id}
	addSet := newRefSet(add...)
	updates := make([]RelationUpdate, 0, len(touched))
	for _, ref := range touched {
		target, ok := related[ref]
		if !ok {
			// A removed reference whose target is gone, usually because a
			// cascade in this request deleted it. No reverse side is left
			// to clean up.
			continue
		}
		destGeneric, err := b.destinationGeneric(ref.Collection, relatedName)
		if err != nil {
			return nil, err
		}
		ownerValue := encodeRef(owner, destGeneric)
		current := target[relatedName]
		update := RelationUpdate{
			Field: keys.FQField{Collection: ref.Collection, ID: ref.ID, Field: relatedName},
		}
		if addSet.has(ref) {
			update.Op = "add"
			if rel.Cardinality.TargetSingle() {
				if current != nil {
					return nil, errorf("You can not add %s to field %s because related field is not empty.", printRef(ref, rel.Generic), fieldName)
				}
				update.Value = ownerValue
			} else {
				update.Value = append(copyList(current), ownerValue)
			}
		} else {
			if rel.IsReverse && rel.Cardinality != models.ManyToMany && rel.OnDelete == models.Protect {
				return nil, errorf("You are not allowed to delete %s %d as long as there are some required related objects (see %s).", model.Collection(), id, fieldName)
			}
			update.Op = "remove"
			if rel.Cardinality.TargetSingle() {
				update.Value = nil
			} else {
				update.Value = removeValue(copyList(current), ownerValue)
			}
		}
		updates = append(updates, update)
	}
	sort.Slice(updates, func(i, j int) bool {
		return updates[i].Field.String() < updates[j].Field.String()
	})
	return updates, nil
}

// currentRefs reads the current own value of the edited field, recording
// its position for the optimistic lock.
func (b *Base) currentRefs(ctx context.Context, model *models.Model, id int, field *models.Field, fieldName string) (*refSet, error) {
	stored, err := b.fetchOwn(ctx, model.Collection().FQID(id), fieldName)
	if err != nil {
		return nil, err
	}
	refs, err := asRefs(stored[fieldName], field)
	if err != nil {
		return nil, err
	}
	return newRefSet(refs...), nil
}

// relatedName resolves the field on the other side. Reverse descriptors
// already carry the forward name; structured relations walk their chain
// for the token and structured tags lift it from the concrete own name.
func (b *Base) relatedName(ctx context.Context, model *models.Model, id int, field *models.Field, fieldName string, instance map[string]any) (string, error) {
	rel := field.Relation
	if len(rel.Structured) > 0 {
		if rel.IsReverse {
			return "", fmt.Errorf("structured relation on a reverse field is not implemented")
		}
		chain := append([]string{}, rel.Structured...)
		token, err := b.searchStructured(ctx, chain, model.Collection(), id, instance)
		if err != nil {
			return "", err
		}
		return strings.Replace(rel.RelatedName, "$", token, 1), nil
	}
	if strings.ContainsRune(rel.RelatedName, '$') {
		// Structured tag: the token is the one in the concrete own name.
		token, ok := field.MatchConcrete(fieldName)
		if !ok {
			return "", errorf("The template field %s can only be resolved through a concrete instantiation.", fieldName)
		}
		return strings.Replace(rel.RelatedName, "$", token, 1), nil
	}
	return rel.RelatedName, nil
}

// searchStructured walks the chain of foreign keys that parameterizes a
// structured relation. The first link may come from the in-flight
// instance; every further link is read from the datastore.
func (b *Base) searchStructured(ctx context.Context, chain []string, collection keys.Collection, id int, instance map[string]any) (string, error) {
	name := chain[0]
	rest := chain[1:]
	var value any
	if instance != nil {
		value = instance[name]
	}
	if value == nil {
		fetch := b.fetchModel
		if instance != nil {
			// First link: the owning object itself.
			fetch = b.fetchOwn
		}
		stored, err := fetch(ctx, collection.FQID(id), name)
		if err != nil && !errors.Is(err, datastore.ErrNotFound) {
			return "", err
		}
		if stored != nil {
			value = stored[name]
		}
	}
	if value == nil {
		return "", errorf("The field %s for %s must not be empty in database.", name, collection)
	}
	link, ok := asInt(value)
	if !ok {
		return "", errorf("Invalid value for field %s: %v", name, value)
	}
	if len(rest) == 0 {
		return strconv.Itoa(link), nil
	}
	stepModel, err := b.model(collection)
	if err != nil {
		return "", err
	}
	stepField, ok := stepModel.Field(name)
	if !ok || stepField.Relation == nil || stepField.Relation.Generic {
		return "", fmt.Errorf("structured relation chain link %s/%s is not a plain relation", collection, name)
	}
	return b.searchStructured(ctx, rest, stepField.Relation.Target(), link, nil)
}

// destinationGeneric reports whether the related field stores fqid
// strings, which decides how the owner is encoded into it.
func (b *Base) destinationGeneric(collection keys.Collection, relatedName string) (bool, error) {
	model, err := b.model(collection)
	if err != nil {
		return false, err
	}
	field, ok := model.Field(relatedName)
	if !ok {
		matched, _, templateOK := model.MatchTemplate(relatedName)
		if !templateOK {
			return false, fmt.Errorf("no field %s on collection %s", relatedName, collection)
		}
		field = matched
	}
	return field.Type == models.TypeFQID || field.Type == models.TypeFQIDList, nil
}

func printRef(ref keys.FQID, generic bool) string {
	if generic {
		return ref.String()
	}
	return strconv.Itoa(ref.ID)
}

func copyList(value any) []any {
	switch v := value.(type) {
	case nil:
		return []any{}
	case []any:
		out := make([]any, len(v))
		copy(out, v)
		return out
	case []int:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

func removeValue(list []any, value any) []any {
	out := make([]any, 0, len(list))
	for _, item := range list {
		if !valuesEqual(item, value) {
			out = append(out, item)
		}
	}
	return out
}
