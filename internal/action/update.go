package action

import (
	"context"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/keys"
	"github.com/plenumhq/plenum/internal/models"
)

// UpdateAction is the generic update pipeline for one collection.
type UpdateAction struct {
	*Base
	Collection keys.Collection
	Schema     *Schema
	// RelationInformation overrides the history line written to the
	// targets of induced relation updates.
	RelationInformation string
	// GetUpdatedInstances replaces the whole payload before per-instance
	// processing. Actions whose payload is not a list of instances (like
	// the agenda tree operations) derive instances here.
	GetUpdatedInstances func(ctx context.Context, b *Base, payload []map[string]any) ([]map[string]any, error)
	// UpdateInstance amends one instance before validation.
	UpdateInstance func(ctx context.Context, b *Base, instance map[string]any) (map[string]any, error)
	// CheckPermission guards each instance beyond authentication.
	CheckPermission func(ctx context.Context, b *Base, instance map[string]any) error
}

func (a *UpdateAction) Validate(payload any) error {
	return a.Schema.Validate(payload)
}

func (a *UpdateAction) Perform(ctx context.Context, payload []map[string]any, userID int) ([]datastore.WriteRequest, error) {
	model, err := a.model(a.Collection)
	if err != nil {
		return nil, err
	}
	if a.GetUpdatedInstances != nil {
		payload, err = a.GetUpdatedInstances(ctx, a.Base, payload)
		if err != nil {
			return nil, err
		}
	}
	var elements []datastore.WriteRequest
	for _, instance := range payload {
		element, err := a.performOne(ctx, model, instance, userID)
		if err != nil {
			return nil, err
		}
		elements = append(elements, element)
	}
	return elements, nil
}

func (a *UpdateAction) performOne(ctx context.Context, model *models.Model, instance map[string]any, userID int) (datastore.WriteRequest, error) {
	fail := func(err error) (datastore.WriteRequest, error) {
		return datastore.WriteRequest{}, err
	}
	id, err := requireIntID(instance)
	if err != nil {
		return fail(err)
	}
	if a.UpdateInstance != nil {
		instance, err = a.UpdateInstance(ctx, a.Base, instance)
		if err != nil {
			return fail(err)
		}
	}
	if err := normalizeTemplates(model, instance); err != nil {
		return fail(err)
	}
	if err := validateFields(model, instance, true); err != nil {
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
	bound, err := collectRelationFields(model, instance, false)
	if err != nil {
		return fail(err)
	}
	if err := a.applyTemplateTokens(ctx, model, id, instance, false); err != nil {
		return fail(err)
	}

	fqid := a.Collection.FQID(id)
	fields := make(map[string]any, len(instance))
	for name, value := range instance {
		if name == "id" {
			continue
		}
		fields[name] = value
	}
	element := datastore.WriteRequest{
		Events: []datastore.Event{{
			Type:   datastore.EventUpdate,
			FQID:   fqid,
			Fields: fields,
		}},
		Information: map[string][]string{fqid.String(): {InfoUpdated}},
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
	return element, nil
}
