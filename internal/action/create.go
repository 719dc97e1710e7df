package action

import (
	"context"
	"fmt"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/keys"
	"github.com/plenumhq/plenum/internal/models"
)

// InfoCreated and friends are the history lines attached to write events.
const (
	InfoCreated = "Object created"
	InfoUpdated = "Object updated"
	InfoDeleted = "Object deleted"
)

// Dependency names an action that runs after each created instance with a
// payload derived from it. The dependent action shares the batch services,
// so its resolver sees the uncommitted parent.
type Dependency struct {
	Action  string
	Payload func(instance map[string]any) map[string]any
}

// CreateAction is the generic create pipeline for one collection. Concrete
// actions configure it and hook into the instance before relations are
// resolved.
type CreateAction struct {
	*Base
	Collection keys.Collection
	Schema     *Schema
	// RelationInformation overrides the history line written to the
	// targets of induced relation updates.
	RelationInformation string
	// UpdateInstance amends one payload instance before validation.
	UpdateInstance func(ctx context.Context, b *Base, instance map[string]any) (map[string]any, error)
	// CheckPermission guards each payload instance beyond authentication.
	CheckPermission func(ctx context.Context, b *Base, instance map[string]any) error
	Dependencies    []Dependency
}

func (a *CreateAction) Validate(payload any) error {
	return a.Schema.Validate(payload)
}

func (a *CreateAction) Perform(ctx context.Context, payload []map[string]any, userID int) ([]datastore.WriteRequest, error) {
	model, err := a.model(a.Collection)
	if err != nil {
		return nil, err
	}
	var elements []datastore.WriteRequest
	for _, instance := range payload {
		element, created, err := a.performOne(ctx, model, instance, userID)
		if err != nil {
			return nil, err
		}
		elements = append(elements, element)
		for _, dep := range a.Dependencies {
			depPayload := dep.Payload(created)
			if depPayload == nil {
				continue
			}
			depAction, err := a.Actions.New(dep.Action, a.Base)
			if err != nil {
				return nil, err
			}
			depElements, err := depAction.Perform(ctx, []map[string]any{depPayload}, userID)
			if err != nil {
				return nil, err
			}
			elements = append(elements, depElements...)
		}
	}
	return elements, nil
}

func (a *CreateAction) performOne(ctx context.Context, model *models.Model, instance map[string]any, userID int) (datastore.WriteRequest, map[string]any, error) {
	fail := func(err error) (datastore.WriteRequest, map[string]any, error) {
		return datastore.WriteRequest{}, nil, err
	}
	setDefaults(model, instance)
	if a.UpdateInstance != nil {
		var err error
		instance, err = a.UpdateInstance(ctx, a.Base, instance)
		if err != nil {
			return fail(err)
		}
	}
	if err := normalizeTemplates(model, instance); err != nil {
		return fail(err)
	}
	if err := validateFields(model, instance, false); err != nil {
		return fail(err)
	}
	if a.CheckPermission != nil {
		if err := a.CheckPermission(ctx, a.Base, instance); err != nil {
			return fail(err)
		}
	}
	if err := a.validateEqualFields(ctx, model, instance); err != nil {
		return fail(err)
	}
	bound, err := collectRelationFields(model, instance, true)
	if err != nil {
		return fail(err)
	}
	if err := a.applyTemplateTokens(ctx, model, 0, instance, true); err != nil {
		return fail(err)
	}

	id, err := a.DS.ReserveID(ctx, a.Collection)
	if err != nil {
		return fail(err)
	}
	instance["id"] = id
	fqid := a.Collection.FQID(id)

	// The id lives in the fqid, not in the event fields.
	fields := make(map[string]any, len(instance))
	for name, value := range instance {
		if name == "id" {
			continue
		}
		fields[name] = value
	}
	element := datastore.WriteRequest{
		Events: []datastore.Event{{
			Type:   datastore.EventCreate,
			FQID:   fqid,
			Fields: fields,
		}},
		Information: map[string][]string{fqid.String(): {InfoCreated}},
		UserID:      userID,
	}
	for _, bf := range bound {
		updates, err := a.resolveRelation(ctx, model, id, bf.field, bf.name, instance, true, false)
		if err != nil {
			return fail(err)
		}
		appendRelationEvents(&element, updates, a.relationInformation())
	}
	if a.Overlay != nil {
		a.Overlay.Set(fqid, instance)
	}
	return element, instance, nil
}

func (a *CreateAction) relationInformation() string {
	if a.RelationInformation != "" {
		return a.RelationInformation
	}
	return InfoUpdated
}

// appendRelationEvents turns resolver output into update events plus one
// information line per touched instance.
func appendRelationEvents(element *datastore.WriteRequest, updates []RelationUpdate, info string) {
	for _, update := range updates {
		element.Events = append(element.Events, datastore.Event{
			Type:   datastore.EventUpdate,
			FQID:   update.Field.FQID(),
			Fields: map[string]any{update.Field.Field: update.Value},
		})
		key := update.Field.FQID().String()
		if !containsString(element.Information[key], info) {
			element.Information[key] = append(element.Information[key], info)
		}
	}
}

// inferMeetingID copies the meeting id of the instance referenced by
// relationField into the payload instance. Create actions on meeting-bound
// collections use it so their payloads do not repeat the meeting.
func inferMeetingID(ctx context.Context, b *Base, collection keys.Collection, relationField string, instance map[string]any) error {
	model, err := b.model(collection)
	if err != nil {
		return err
	}
	field, ok := model.Field(relationField)
	if !ok || field.Relation == nil {
		return fmt.Errorf("inferring the meeting needs a relation field, got %s/%s", collection, relationField)
	}
	refs, err := asRefs(instance[relationField], field)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return errorf("The field %s is required.", relationField)
	}
	related, err := b.fetchModel(ctx, refs[0], "meeting_id")
	if err != nil {
		return err
	}
	meetingID, ok := asInt(related["meeting_id"])
	if !ok {
		return errorf("The field meeting_id for %s must not be empty in database.", refs[0].Collection)
	}
	instance["meeting_id"] = meetingID
	return nil
}

// inferMeeting wraps inferMeetingID as an UpdateInstance hook.
func inferMeeting(collection keys.Collection, relationField string) func(context.Context, *Base, map[string]any) (map[string]any, error) {
	return func(ctx context.Context, b *Base, instance map[string]any) (map[string]any, error) {
		if err := inferMeetingID(ctx, b, collection, relationField, instance); err != nil {
			return nil, err
		}
		return instance, nil
	}
}
