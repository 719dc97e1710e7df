package action

import (
	"context"
	"fmt"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/keys"
	"github.com/plenumhq/plenum/internal/models"
)

// DeleteAction is the generic delete pipeline for one collection. It walks
// every relation descriptor of the model: protect fields block the delete
// while they still reference live instances, cascade fields run the
// target's delete action nested, set-null fields are cleared through the
// normal resolver.
type DeleteAction struct {
	*Base
	Collection keys.Collection
	Schema     *Schema
	// RelationInformation overrides the history line written to the
	// targets of induced relation updates.
	RelationInformation string
	// UpdateInstance amends one payload instance before processing.
	UpdateInstance func(ctx context.Context, b *Base, instance map[string]any) (map[string]any, error)
	// CheckPermission guards each payload instance beyond authentication.
	CheckPermission func(ctx context.Context, b *Base, instance map[string]any) error
}

func (a *DeleteAction) Validate(payload any) error {
	return a.Schema.Validate(payload)
}

// Perform merges the nested cascade elements and the own elements into ONE
// write request element. Events addressed to an instance that an earlier
// event in the merged stream deleted are dropped; events before the delete
// stay.
func (a *DeleteAction) Perform(ctx context.Context, payload []map[string]any, userID int) ([]datastore.WriteRequest, error) {
	model, err := a.model(a.Collection)
	if err != nil {
		return nil, err
	}
	var nested, own []datastore.WriteRequest
	for _, instance := range payload {
		nestedElements, element, err := a.performOne(ctx, model, instance, userID)
		if err != nil {
			return nil, err
		}
		nested = append(nested, nestedElements...)
		own = append(own, element)
	}
	merged := mergeElements(append(nested, own...), userID)
	merged.Events = dropDeletedEvents(merged.Events)
	return []datastore.WriteRequest{merged}, nil
}

func (a *DeleteAction) performOne(ctx context.Context, model *models.Model, instance map[string]any, userID int) ([]datastore.WriteRequest, datastore.WriteRequest, error) {
	fail := func(err error) ([]datastore.WriteRequest, datastore.WriteRequest, error) {
		return nil, datastore.WriteRequest{}, err
	}
	if a.UpdateInstance != nil {
		var err error
		instance, err = a.UpdateInstance(ctx, a.Base, instance)
		if err != nil {
			return fail(err)
		}
	}
	id, err := requireIntID(instance)
	if err != nil {
		return fail(err)
	}
	if a.CheckPermission != nil {
		if err := a.CheckPermission(ctx, a.Base, instance); err != nil {
			return fail(err)
		}
	}
	fqid := a.Collection.FQID(id)

	var protected []string
	for _, field := range model.RelationFields() {
		rel := field.Relation
		if len(rel.Structured) > 0 || rel.StructuredTag {
			continue
		}
		if rel.OnDelete != models.SetNull {
			protected = append(protected, field.Name)
		}
	}
	stored, err := a.fetchOwn(ctx, fqid, protected...)
	if err != nil {
		return fail(err)
	}

	copied := NewOverlay()
	if a.Overlay != nil {
		copied = a.Overlay.Clone()
	}
	var cascades []keys.FQID
	for _, field := range model.RelationFields() {
		rel := field.Relation
		if len(rel.Structured) > 0 || rel.StructuredTag {
			continue
		}
		switch {
		case rel.OnDelete != models.SetNull && field.IsTemplate():
			return fail(fmt.Errorf("on_delete %s on template field %s is not implemented", rel.OnDelete, field.Name))
		case rel.OnDelete == models.Protect:
			refs, err := asRefs(stored[field.Name], field)
			if err != nil {
				return fail(err)
			}
			for _, ref := range refs {
				if a.Overlay != nil && a.Overlay.IsDeleted(ref) {
					continue
				}
				return fail(errorf("You can not delete %s with id %d, because you have to delete the related %s first.", a.Collection, id, ref.Collection))
			}
		case rel.OnDelete == models.Cascade:
			refs, err := asRefs(stored[field.Name], field)
			if err != nil {
				return fail(err)
			}
			for _, ref := range refs {
				name := string(ref.Collection) + ".delete"
				if a.Actions == nil || !a.Actions.Has(name) {
					return fail(errorf("Can't cascade the delete action to %s since no delete action was found.", ref.Collection))
				}
				cascades = append(cascades, ref)
				copied.MarkDeleted(ref)
			}
		case field.IsTemplate():
			// Clearing a template relation means clearing each concrete
			// instantiation named by the anchor.
			anchor, err := a.fetchOwn(ctx, fqid, field.Name)
			if err != nil {
				return fail(err)
			}
			tokens, _ := asStringList(anchor[field.Name])
			for _, token := range tokens {
				instance[field.ConcreteName(token)] = nil
			}
		default:
			instance[field.Name] = nil
		}
	}

	var nested []datastore.WriteRequest
	for _, ref := range cascades {
		depBase := &Base{
			DS:      a.DS,
			Models:  a.Models,
			Overlay: copied,
			Actions: a.Actions,
			Hash:    a.Hash,
			UserID:  a.UserID,
		}
		depAction, err := a.Actions.New(string(ref.Collection)+".delete", depBase)
		if err != nil {
			return fail(err)
		}
		elements, err := depAction.Perform(ctx, []map[string]any{{"id": ref.ID}}, userID)
		if err != nil {
			return fail(err)
		}
		nested = append(nested, elements...)
	}

	// The own relation pass runs against the original overlay: the
	// tombstones above exist for the nested actions only.
	bound, err := collectRelationFields(model, instance, false)
	if err != nil {
		return fail(err)
	}
	element := datastore.WriteRequest{
		Events: []datastore.Event{{
			Type: datastore.EventDelete,
			FQID: fqid,
		}},
		Information: map[string][]string{fqid.String(): {InfoDeleted}},
		UserID:      userID,
	}
	info := a.RelationInformation
	if info == "" {
		info = InfoUpdated
	}
	for _, bf := range bound {
		updates, err := a.resolveRelation(ctx, model, id, bf.field, bf.name, instance, false, false)
		if err != nil {
			return fail(err)
		}
		appendRelationEvents(&element, updates, info)
	}
	if a.Overlay != nil {
		a.Overlay.MarkDeleted(fqid)
	}
	return nested, element, nil
}

// mergeElements concatenates events in order and merges the information
// map per fqid.
func mergeElements(elements []datastore.WriteRequest, userID int) datastore.WriteRequest {
	merged := datastore.WriteRequest{
		Information: make(map[string][]string),
		UserID:      userID,
	}
	for _, element := range elements {
		merged.Events = append(merged.Events, element.Events...)
		for fqid, texts := range element.Information {
			merged.Information[fqid] = append(merged.Information[fqid], texts...)
		}
	}
	return merged
}

// dropDeletedEvents removes events addressed to an fqid that an earlier
// delete event in the stream already removed, double deletes included.
func dropDeletedEvents(events []datastore.Event) []datastore.Event {
	deleted := make(map[keys.FQID]bool)
	out := make([]datastore.Event, 0, len(events))
	for _, event := range events {
		if deleted[event.FQID] {
			continue
		}
		if event.Type == datastore.EventDelete {
			deleted[event.FQID] = true
		}
		out = append(out, event)
	}
	return out
}
