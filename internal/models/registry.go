package models

import (
	"fmt"
	"sync"

	"github.com/plenumhq/plenum/internal/keys"
)

// Model is the built description of one collection. Its field list contains
// the declared fields plus the reverse relation descriptors materialized for
// every forward relation pointing at this collection.
type Model struct {
	collection keys.Collection
	fields     []*Field
	byName     map[string]*Field
}

// Collection returns the collection this model describes.
func (m *Model) Collection() keys.Collection {
	return m.collection
}

// Fields returns all fields in declaration order, reverse descriptors last.
func (m *Model) Fields() []*Field {
	return m.fields
}

// Field looks up a field by its exact name, template anchors included.
func (m *Model) Field(name string) (*Field, bool) {
	f, ok := m.byName[name]
	return f, ok
}

// RelationFields returns every relation descriptor of the model, forward and
// reverse, in declaration order.
func (m *Model) RelationFields() []*Field {
	var out []*Field
	for _, f := range m.fields {
		if f.Relation != nil {
			out = append(out, f)
		}
	}
	return out
}

// TemplateFields returns the template fields of the model.
func (m *Model) TemplateFields() []*Field {
	var out []*Field
	for _, f := range m.fields {
		if f.IsTemplate() {
			out = append(out, f)
		}
	}
	return out
}

// MatchTemplate finds the template field that name is a concrete
// instantiation of and returns it with the extracted token.
func (m *Model) MatchTemplate(name string) (*Field, string, bool) {
	for _, f := range m.fields {
		if !f.IsTemplate() {
			continue
		}
		if token, ok := f.MatchConcrete(name); ok {
			return f, token, true
		}
	}
	return nil, "", false
}

func (m *Model) addField(f *Field) error {
	if _, ok := m.byName[f.Name]; ok {
		return fmt.Errorf("collection %q: duplicate field %q", m.collection, f.Name)
	}
	m.fields = append(m.fields, f)
	m.byName[f.Name] = f
	return nil
}

// Decl is the declaration form of one collection. Only forward relations are
// declared; Build adds the reverse side.
type Decl struct {
	Collection keys.Collection
	Fields     []Field
}

// Registry is the immutable catalog of all models.
type Registry struct {
	models map[keys.Collection]*Model
	order  []keys.Collection
}

// Model returns the model of a collection.
func (r *Registry) Model(collection keys.Collection) (*Model, bool) {
	m, ok := r.models[collection]
	return m, ok
}

// Collections returns all collections in declaration order.
func (r *Registry) Collections() []keys.Collection {
	return r.order
}

// Build assembles a registry from collection declarations: validates names,
// derives relation value types, and materializes one reverse descriptor on
// the target model for every forward relation (on each target for generic
// relations). Reverse descriptors inherit cardinality transposed, the
// on-delete rule, equal fields and the structured-tag flag.
func Build(decls ...Decl) (*Registry, error) {
	reg := &Registry{models: make(map[keys.Collection]*Model)}
	for _, decl := range decls {
		if !decl.Collection.Valid() {
			return nil, fmt.Errorf("invalid collection name %q", decl.Collection)
		}
		if _, ok := reg.models[decl.Collection]; ok {
			return nil, fmt.Errorf("duplicate collection %q", decl.Collection)
		}
		model := &Model{
			collection: decl.Collection,
			byName:     make(map[string]*Field),
		}
		for i := range decl.Fields {
			f := decl.Fields[i]
			if err := f.finish(decl.Collection); err != nil {
				return nil, err
			}
			if err := model.addField(&f); err != nil {
				return nil, err
			}
		}
		reg.models[decl.Collection] = model
		reg.order = append(reg.order, decl.Collection)
	}

	for _, collection := range reg.order {
		model := reg.models[collection]
		for _, f := range model.RelationFields() {
			if err := reg.materializeReverse(model, f); err != nil {
				return nil, err
			}
		}
	}

	for _, collection := range reg.order {
		model := reg.models[collection]
		for _, f := range model.RelationFields() {
			if err := reg.checkStructured(model, f); err != nil {
				return nil, err
			}
		}
	}
	return reg, nil
}

// MustBuild is Build for static declarations; registry mistakes are
// programmer errors.
func MustBuild(decls ...Decl) *Registry {
	reg, err := Build(decls...)
	if err != nil {
		panic(err)
	}
	return reg
}

func (r *Registry) materializeReverse(owner *Model, f *Field) error {
	rel := f.Relation
	if rel.IsReverse {
		return nil
	}
	if !keys.ValidFieldName(rel.RelatedName) {
		return fmt.Errorf("collection %q: field %q: invalid related name %q",
			owner.collection, f.Name, rel.RelatedName)
	}
	for _, targetCollection := range rel.To {
		target, ok := r.models[targetCollection]
		if !ok {
			return fmt.Errorf("collection %q: field %q: unknown target collection %q",
				owner.collection, f.Name, targetCollection)
		}
		reverse := &Field{
			Name: rel.RelatedName,
			Relation: &Relation{
				To:            []keys.Collection{owner.collection},
				RelatedName:   f.Name,
				Cardinality:   rel.Cardinality.Transpose(),
				TargetGeneric: rel.Generic,
				StructuredTag: rel.StructuredTag,
				OnDelete:      rel.OnDelete,
				EqualFields:   rel.EqualFields,
				IsReverse:     true,
			},
		}
		if err := reverse.finish(targetCollection); err != nil {
			return err
		}
		if err := target.addField(reverse); err != nil {
			return fmt.Errorf("reverse of %q.%q: %w", owner.collection, f.Name, err)
		}
	}
	// The on-delete rule fires when the TARGET dies, so it belongs to the
	// reverse descriptor. Deleting the key's own instance just clears the
	// other side.
	rel.OnDelete = SetNull
	return nil
}

// checkStructured validates structured-relation chains statically: every
// link but the last must be a relation field so the walk knows the next
// collection.
func (r *Registry) checkStructured(owner *Model, f *Field) error {
	chain := f.Relation.Structured
	if len(chain) == 0 {
		return nil
	}
	model := owner
	for i, name := range chain {
		link, ok := model.Field(name)
		if !ok {
			return fmt.Errorf("collection %q: field %q: structured chain link %q not found on %q",
				owner.collection, f.Name, name, model.collection)
		}
		if i == len(chain)-1 {
			break
		}
		if link.Relation == nil || link.Relation.Generic {
			return fmt.Errorf("collection %q: field %q: structured chain link %q on %q is not a typed relation",
				owner.collection, f.Name, name, model.collection)
		}
		model = r.models[link.Relation.Target()]
	}
	return nil
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry built from the collection
// declarations in this package.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = MustBuild(declarations()...)
	})
	return defaultRegistry
}
