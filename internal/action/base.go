// Package action implements the write path: named, schema-validated
// mutation commands that are expanded into one atomic datastore write.
// The generic create, update and delete pipelines consult the model
// registry for every relation a mutated instance touches and emit the
// paired reverse events; concrete actions configure the pipelines and
// hook into them.
package action

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/keys"
	"github.com/plenumhq/plenum/internal/models"
)

// Action handles one named mutation command. Validate checks the raw
// decoded payload against the action's schema; Perform turns it into
// write request elements without committing anything.
type Action interface {
	Validate(payload any) error
	Perform(ctx context.Context, payload []map[string]any, userID int) ([]datastore.WriteRequest, error)
}

// Hasher hashes and verifies passwords. The auth package provides the
// platform implementation.
type Hasher interface {
	Hash(password string) (string, error)
	IsEqual(hash, password string) (bool, error)
}

// Base carries the per-request services of one action run. The handler
// fills it once per batch; every action of the batch shares the datastore
// client (so locked fields accumulate) and the overlay.
type Base struct {
	DS      *datastore.Client
	Models  *models.Registry
	Overlay *Overlay
	Actions *Registry
	Hash    Hasher
	UserID  int
}

// model resolves the collection's descriptor from the registry.
func (b *Base) model(collection keys.Collection) (*models.Model, error) {
	registry := b.Models
	if registry == nil {
		registry = models.Default()
	}
	model, ok := registry.Model(collection)
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	return model, nil
}

// fetchModel reads one instance through the batch overlay. Instances
// created earlier in the batch win over the datastore; deleted ones read
// as missing.
func (b *Base) fetchModel(ctx context.Context, fqid keys.FQID, fields ...string) (map[string]any, error) {
	if b.Overlay != nil {
		if b.Overlay.IsDeleted(fqid) {
			return nil, fmt.Errorf("%w: %s", datastore.ErrNotFound, fqid)
		}
		if instance, ok := b.Overlay.Instance(fqid); ok {
			return subset(instance, fields), nil
		}
	}
	return b.DS.Get(ctx, fqid, fields...)
}

// fetchOwn reads the instance an action is editing. Unlike fetchModel it
// ignores in-flight tombstones: a cascaded delete still reads its own row
// although the parent already marked it deleted for sibling protect
// checks.
func (b *Base) fetchOwn(ctx context.Context, fqid keys.FQID, fields ...string) (map[string]any, error) {
	if b.Overlay != nil {
		if instance, ok := b.Overlay.Stored(fqid); ok {
			return subset(instance, fields), nil
		}
	}
	return b.DS.Get(ctx, fqid, fields...)
}

// fetchMany reads several instances through the overlay. Missing or
// in-flight deleted instances are absent from the result, mirroring the
// datastore's get_many answer.
func (b *Base) fetchMany(ctx context.Context, fqids []keys.FQID, fields ...string) (map[keys.FQID]map[string]any, error) {
	byCollection := make(map[keys.Collection][]int)
	for _, fqid := range fqids {
		if b.Overlay != nil && b.Overlay.Has(fqid) {
			continue
		}
		byCollection[fqid.Collection] = append(byCollection[fqid.Collection], fqid.ID)
	}
	collections := make([]keys.Collection, 0, len(byCollection))
	for collection := range byCollection {
		collections = append(collections, collection)
	}
	sort.Slice(collections, func(i, j int) bool { return collections[i] < collections[j] })

	requests := make([]datastore.GetManyRequest, 0, len(collections))
	for _, collection := range collections {
		requests = append(requests, datastore.GetManyRequest{
			Collection:   collection,
			IDs:          byCollection[collection],
			MappedFields: fields,
		})
	}
	var answer map[keys.Collection]map[int]map[string]any
	if len(requests) > 0 {
		var err error
		answer, err = b.DS.GetMany(ctx, requests...)
		if err != nil {
			return nil, err
		}
	}

	out := make(map[keys.FQID]map[string]any, len(fqids))
	for _, fqid := range fqids {
		if b.Overlay != nil {
			if b.Overlay.IsDeleted(fqid) {
				continue
			}
			if instance, ok := b.Overlay.Instance(fqid); ok {
				out[fqid] = subset(instance, fields)
				continue
			}
		}
		if inner, ok := answer[fqid.Collection][fqid.ID]; ok {
			out[fqid] = inner
		}
	}
	return out, nil
}

func subset(instance map[string]any, fields []string) map[string]any {
	out := make(map[string]any)
	if len(fields) == 0 {
		for k, v := range instance {
			out[k] = v
		}
		return out
	}
	for _, name := range fields {
		if v, ok := instance[name]; ok {
			out[name] = v
		}
	}
	return out
}

// setDefaults fills declared defaults for fields the payload omits.
func setDefaults(model *models.Model, instance map[string]any) {
	for _, field := range model.Fields() {
		if field.Default == nil {
			continue
		}
		if _, ok := instance[field.Name]; !ok {
			instance[field.Name] = field.Default
		}
	}
}

// validateFields checks every instance value structurally against its
// field descriptor. With nullable set (updates), null clears a field.
// Hooks can add fields the payload schema never saw, so this runs on the
// full instance.
func validateFields(model *models.Model, instance map[string]any, nullable bool) error {
	for _, name := range sortedKeys(instance) {
		if name == "id" {
			continue
		}
		value := instance[name]
		field, ok := model.Field(name)
		if ok && field.IsTemplate() && name == field.Name {
			// The anchor itself holds the token list.
			if _, listOK := asStringList(value); !listOK {
				return errorf("The value for template field %s must be a list of tokens.", name)
			}
			continue
		}
		if !ok {
			if matched, _, templateOK := model.MatchTemplate(name); templateOK {
				field = matched
				ok = true
			}
		}
		if !ok {
			return errorf("%s is not a valid field for model %s.", name, model.Collection())
		}
		if err := validateValue(field, value, nullable); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(field *models.Field, value any, nullable bool) error {
	if value == nil {
		if nullable {
			return nil
		}
		return errorf("The value for field %s must not be null.", field.Name)
	}
	bad := func() error {
		return errorf("Invalid value for field %s: %v", field.Name, value)
	}
	switch field.Type {
	case models.TypeInt:
		n, ok := asInt(value)
		if !ok {
			return bad()
		}
		if len(field.Enum) > 0 {
			found := false
			for _, allowed := range field.Enum {
				if n == allowed {
					found = true
					break
				}
			}
			if !found {
				return errorf("Invalid value for field %s: %d is not one of the allowed values.", field.Name, n)
			}
		}
	case models.TypeString:
		if _, ok := asString(value); !ok {
			return bad()
		}
	case models.TypeBool:
		if _, ok := value.(bool); !ok {
			return bad()
		}
	case models.TypeFloat:
		if _, ok := asInt(value); !ok {
			if _, isFloat := value.(float64); !isFloat {
				return bad()
			}
		}
	case models.TypeIntList:
		if _, ok := asIntList(value); !ok {
			return bad()
		}
	case models.TypeStringList:
		if _, ok := asStringList(value); !ok {
			return bad()
		}
	case models.TypeFQID:
		s, ok := asString(value)
		if !ok {
			return bad()
		}
		if _, err := keys.ParseFQID(s); err != nil {
			return bad()
		}
	case models.TypeFQIDList:
		items, ok := asStringList(value)
		if !ok {
			return bad()
		}
		for _, s := range items {
			if _, err := keys.ParseFQID(s); err != nil {
				return bad()
			}
		}
	case models.TypeJSON:
		// Anything decodable is fine.
	}
	return nil
}

// normalizeTemplates expands dict-form template values written by hooks:
// {"7": v} on "group_$_ids" becomes the concrete field "group_7_ids"
// holding v. Token bookkeeping for the anchor happens in the pipelines.
func normalizeTemplates(model *models.Model, instance map[string]any) error {
	for _, field := range model.TemplateFields() {
		raw, ok := instance[field.Name]
		if !ok {
			continue
		}
		dict, ok := raw.(map[string]any)
		if !ok {
			return errorf("The value for template field %s must be an object mapping tokens to values.", field.Name)
		}
		delete(instance, field.Name)
		for _, token := range sortedTokens(dict) {
			if _, err := strconv.Atoi(token); err != nil {
				return errorf("Invalid template token %q for field %s.", token, field.Name)
			}
			instance[field.ConcreteName(token)] = dict[token]
		}
	}
	return nil
}

// validateEqualFields checks that both endpoints of every referenced
// relation agree on the declared equal fields. Own values missing from
// the instance are read from the database (updates only; creates must
// carry them).
func (b *Base) validateEqualFields(ctx context.Context, model *models.Model, instance map[string]any) error {
	for _, field := range model.RelationFields() {
		rel := field.Relation
		if len(rel.EqualFields) == 0 {
			continue
		}
		value, ok := instance[field.Name]
		if !ok {
			continue
		}
		refs, err := asRefs(value, field)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			continue
		}
		own := make(map[string]any, len(rel.EqualFields))
		var missing []string
		for _, name := range rel.EqualFields {
			if v, ok := instance[name]; ok {
				own[name] = v
			} else {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			id, ok := asInt(instance["id"])
			if !ok {
				return errorf("The field %s is required for the relation %s.", missing[0], field.Name)
			}
			fetched, err := b.fetchOwn(ctx, model.Collection().FQID(id), missing...)
			if err != nil {
				return err
			}
			for _, name := range missing {
				own[name] = fetched[name]
			}
		}
		targets, err := b.fetchMany(ctx, refs, rel.EqualFields...)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			target, ok := targets[ref]
			if !ok {
				return errorf("You try to reference an instance of %s that does not exist.", ref.Collection)
			}
			for _, name := range rel.EqualFields {
				if !valuesEqual(own[name], target[name]) {
					return errorf("You can not reference %s in field %s because the field %s differs.", ref, field.Name, name)
				}
			}
		}
	}
	return nil
}

func valuesEqual(a, b any) bool {
	if ai, ok := asInt(a); ok {
		if bi, ok := asInt(b); ok {
			return ai == bi
		}
		return false
	}
	return a == b
}

// boundField couples the instance key an edit arrived under with its
// field descriptor. For template fields the name is the concrete
// instantiation.
type boundField struct {
	name  string
	field *models.Field
}

// collectRelationFields finds every relation edit in the instance,
// including concrete template instantiations, and checks the structured
// relation constraints. The binding order follows the sorted instance
// keys, which fixes the order of the emitted reverse events. forCreate
// selects the create-time constraint.
func collectRelationFields(model *models.Model, instance map[string]any, forCreate bool) ([]boundField, error) {
	var bound []boundField
	for _, name := range sortedKeys(instance) {
		for _, field := range model.RelationFields() {
			rel := field.Relation
			if name == field.Name && !field.IsTemplate() {
				if len(rel.Structured) > 0 {
					if forCreate && instance[rel.Structured[0]] == nil {
						return nil, errorf("You must give both a relation field with structured_relation and its corresponding foreign key field.")
					}
					if !forCreate && instance[rel.Structured[0]] != nil {
						return nil, errorf("You must not try to update both a relation field with structured_relation and its corresponding foreign key field.")
					}
				}
				bound = append(bound, boundField{name: name, field: field})
				break
			}
			if !field.IsTemplate() {
				continue
			}
			if _, ok := field.MatchConcrete(name); ok {
				bound = append(bound, boundField{name: name, field: field})
				break
			}
		}
	}
	return bound, nil
}

// applyTemplateTokens keeps every template anchor in sync with its
// concrete fields: a token is listed exactly while its concrete value is
// non-empty. Creates build the anchor from scratch; updates diff against
// the stored anchor and leave it untouched when membership is unchanged.
func (b *Base) applyTemplateTokens(ctx context.Context, model *models.Model, id int, instance map[string]any, forCreate bool) error {
	instanceKeys := sortedKeys(instance)
	for _, field := range model.TemplateFields() {
		var tokens []string
		loaded := forCreate
		changed := false
		for _, name := range instanceKeys {
			token, ok := field.MatchConcrete(name)
			if !ok {
				continue
			}
			if !loaded {
				stored, err := b.fetchOwn(ctx, model.Collection().FQID(id), field.Name)
				if err != nil {
					return err
				}
				tokens, _ = asStringList(stored[field.Name])
				loaded = true
			}
			has := containsString(tokens, token)
			switch {
			case !isEmpty(instance[name]) && !has:
				tokens = append(tokens, token)
				changed = true
			case isEmpty(instance[name]) && has:
				tokens = removeString(tokens, token)
				changed = true
			}
		}
		if forCreate {
			changed = len(tokens) > 0
		}
		if changed {
			sortTokens(tokens)
			instance[field.Name] = tokens
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func containsString(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}

func removeString(items []string, s string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item != s {
			out = append(out, item)
		}
	}
	return out
}

func sortTokens(tokens []string) {
	sort.Slice(tokens, func(i, j int) bool {
		a, aerr := strconv.Atoi(tokens[i])
		b, berr := strconv.Atoi(tokens[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		return tokens[i] < tokens[j]
	})
}

// requireIntID extracts the instance id updates and deletes need.
func requireIntID(instance map[string]any) (int, error) {
	id, ok := asInt(instance["id"])
	if !ok {
		return 0, errorf("Payload instance must contain an integer id.")
	}
	return id, nil
}
