// Package models holds the declarative registry of all persistent
// collections: their fields, defaults, value schemas and the relations
// between them. The registry is built once at startup and is read-only
// afterwards; the action layer resolves every induced change through it.
package models

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/plenumhq/plenum/internal/keys"
)

// Type is the JSON value shape of a field.
type Type int

const (
	TypeInt Type = iota
	TypeString
	TypeBool
	TypeFloat
	TypeJSON
	TypeIntList
	TypeStringList
	// TypeFQID and TypeFQIDList mark generic relation values encoded as
	// "collection/id" strings on the wire.
	TypeFQID
	TypeFQIDList
)

// String returns a short type name for diagnostics.
func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeFloat:
		return "float"
	case TypeJSON:
		return "json"
	case TypeIntList:
		return "int[]"
	case TypeStringList:
		return "string[]"
	case TypeFQID:
		return "fqid"
	case TypeFQIDList:
		return "fqid[]"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// fqidPattern validates generic relation values in JSON schemas.
const fqidPattern = `^[a-z]([a-z_]*[a-z])?/[1-9][0-9]*$`

// Cardinality describes a relation as ownSide:targetSide. The first letter
// refers to the field the relation is declared on: "1" means this field
// stores a single id, "m" a list. OneToMany therefore is a single-valued
// field whose target keeps a list, e.g. agenda_item.meeting_id against
// meeting.agenda_item_ids. The reverse of 1:m is m:1.
type Cardinality string

const (
	OneToOne   Cardinality = "1:1"
	OneToMany  Cardinality = "1:m"
	ManyToOne  Cardinality = "m:1"
	ManyToMany Cardinality = "m:n"
)

// Transpose returns the cardinality seen from the other side.
func (c Cardinality) Transpose() Cardinality {
	switch c {
	case OneToMany:
		return ManyToOne
	case ManyToOne:
		return OneToMany
	default:
		return c
	}
}

// OwnSingle reports whether the owning side stores a single id.
func (c Cardinality) OwnSingle() bool {
	return c == OneToOne || c == OneToMany
}

// TargetSingle reports whether the target side stores a single id.
func (c Cardinality) TargetSingle() bool {
	return c == OneToOne || c == ManyToOne
}

// OnDelete controls what deleting the TARGET of a relation does to the
// instances pointing at it: clear the pointers, refuse the delete, or delete
// them as well.
type OnDelete string

const (
	SetNull OnDelete = "set_null"
	Protect OnDelete = "protect"
	Cascade OnDelete = "cascade"
)

// Relation describes the link a field keeps to another collection. Forward
// relations are declared in the collection definitions; the registry
// materializes the paired reverse descriptor on the target model during
// Build, with transposed cardinality and swapped names.
type Relation struct {
	// To lists the target collections. More than one entry only for generic
	// relations.
	To []keys.Collection
	// RelatedName is the field on the target holding the other side. May
	// contain "$" when the target field is a template.
	RelatedName string
	Cardinality Cardinality
	// Generic marks the own value as fqid-string encoded because the target
	// collection varies per element.
	Generic bool
	// TargetGeneric marks the related field as fqid-string encoded; the
	// resolver then writes owner fqids instead of plain ids. Derived during
	// Build.
	TargetGeneric bool
	// Structured names a chain of relation fields to walk at runtime to find
	// the token replacing "$" in RelatedName.
	Structured []string
	// StructuredTag: the "$" in RelatedName takes the token of the concrete
	// own field name instead of a looked-up value.
	StructuredTag bool
	OnDelete      OnDelete
	// EqualFields must hold the same value on both sides of the relation.
	EqualFields []string
	// IsReverse marks descriptors materialized by the registry. OwnField is
	// then the forward field's name on the other side.
	IsReverse bool
	// OwnCollection and OwnField locate the descriptor; set during Build.
	OwnCollection keys.Collection
	OwnField      string
}

// Target returns the single target collection. Only valid for non-generic
// relations.
func (r *Relation) Target() keys.Collection {
	return r.To[0]
}

// HasTarget reports whether collection is one of the relation's targets.
func (r *Relation) HasTarget(collection keys.Collection) bool {
	for _, to := range r.To {
		if to == collection {
			return true
		}
	}
	return false
}

// Field describes one persistent field of a collection. Template fields
// carry a "$" in the name; their anchor value in the datastore is the string
// list of active tokens while the concrete instantiations ("group_7_ids"
// for "group_$_ids") carry values of the declared Type.
type Field struct {
	Name     string
	Type     Type
	Required bool
	ReadOnly bool
	// Default is written on create when the payload omits the field.
	Default any
	// Enum restricts integer fields to the listed values.
	Enum     []int
	Relation *Relation

	templateIndex int
	concreteRegex *regexp.Regexp
}

// IsTemplate reports whether the field name contains a "$" placeholder.
func (f *Field) IsTemplate() bool {
	return f.templateIndex >= 0
}

// TemplateIndex is the byte offset of "$" in the name, or -1.
func (f *Field) TemplateIndex() int {
	return f.templateIndex
}

// ConcreteName substitutes token for the "$" placeholder.
func (f *Field) ConcreteName(token string) string {
	return f.Name[:f.templateIndex] + token + f.Name[f.templateIndex+1:]
}

// MatchConcrete reports whether name is a concrete instantiation of this
// template field and returns the token. Tokens are decimal strings.
func (f *Field) MatchConcrete(name string) (string, bool) {
	if !f.IsTemplate() || f.concreteRegex == nil {
		return "", false
	}
	match := f.concreteRegex.FindStringSubmatch(name)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// Schema returns the JSON schema fragment validating one payload value of
// this field. With nullable set, null is allowed to clear the field.
func (f *Field) Schema(nullable bool) map[string]any {
	schema := f.baseSchema()
	if nullable {
		if t, ok := schema["type"]; ok {
			schema["type"] = []any{t, "null"}
		}
	}
	return schema
}

// AnchorSchema validates the template anchor value, the list of tokens.
func (f *Field) AnchorSchema() map[string]any {
	return map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}
}

func (f *Field) baseSchema() map[string]any {
	switch f.Type {
	case TypeInt:
		schema := map[string]any{"type": "integer"}
		if len(f.Enum) > 0 {
			values := make([]any, len(f.Enum))
			for i, v := range f.Enum {
				values[i] = v
			}
			schema["enum"] = values
		}
		return schema
	case TypeString:
		return map[string]any{"type": "string"}
	case TypeBool:
		return map[string]any{"type": "boolean"}
	case TypeFloat:
		return map[string]any{"type": "number"}
	case TypeIntList:
		return map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "integer"},
		}
	case TypeStringList:
		return map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		}
	case TypeFQID:
		return map[string]any{"type": "string", "pattern": fqidPattern}
	case TypeFQIDList:
		return map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string", "pattern": fqidPattern},
		}
	default:
		return map[string]any{}
	}
}

// finish computes the derived state of a declared field. The value type of
// relation fields follows from cardinality and the generic flag.
func (f *Field) finish(collection keys.Collection) error {
	if !keys.ValidFieldName(f.Name) {
		return fmt.Errorf("collection %q: invalid field name %q", collection, f.Name)
	}
	f.templateIndex = strings.IndexByte(f.Name, '$')
	if f.templateIndex >= 0 {
		f.concreteRegex = regexp.MustCompile(
			`^` + regexp.QuoteMeta(f.Name[:f.templateIndex]) +
				`(\d+)` +
				regexp.QuoteMeta(f.Name[f.templateIndex+1:]) + `$`,
		)
	}
	if r := f.Relation; r != nil {
		if len(r.To) == 0 {
			return fmt.Errorf("collection %q: relation field %q has no target", collection, f.Name)
		}
		if len(r.To) > 1 && !r.Generic {
			return fmt.Errorf("collection %q: relation field %q has several targets but is not generic", collection, f.Name)
		}
		if r.OnDelete == "" {
			r.OnDelete = SetNull
		}
		r.OwnCollection = collection
		r.OwnField = f.Name
		switch {
		case r.Generic && r.Cardinality.OwnSingle():
			f.Type = TypeFQID
		case r.Generic:
			f.Type = TypeFQIDList
		case r.Cardinality.OwnSingle():
			f.Type = TypeInt
		default:
			f.Type = TypeIntList
		}
	}
	return nil
}
