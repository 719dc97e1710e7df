package action

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/plenumhq/plenum/internal/keys"
	"github.com/plenumhq/plenum/internal/models"
)

const schemaVersion = "https://json-schema.org/draft/2020-12/schema"

// idSchema validates the id property of update and delete payloads.
var idSchema = map[string]any{"type": "integer", "minimum": 1}

// Schema is a compiled payload schema. Actions validate the raw decoded
// payload against it before touching the datastore.
type Schema struct {
	compiled *jsonschema.Schema
}

// Validate checks a decoded JSON payload. Violations come back as
// SchemaError with the compiler's message.
func (s *Schema) Validate(payload any) error {
	if err := s.compiled.Validate(payload); err != nil {
		return SchemaError{msg: err.Error()}
	}
	return nil
}

// PayloadSchema wraps an item schema into the outer payload shape: a
// non-empty JSON array of objects with no undeclared properties.
func PayloadSchema(title string, item map[string]any) *Schema {
	item["type"] = "object"
	item["additionalProperties"] = false
	doc := map[string]any{
		"$schema":  schemaVersion,
		"title":    title,
		"type":     "array",
		"minItems": 1,
		"items":    item,
	}
	return mustCompile(title, doc)
}

// CreateSchema derives a create payload schema from the model: required
// fields must be present, optional fields may be.
func CreateSchema(collection keys.Collection, required, optional []string) *Schema {
	model := mustModel(collection)
	properties := map[string]any{}
	for _, name := range required {
		properties[name] = fieldSchema(model, name, false)
	}
	for _, name := range optional {
		properties[name] = fieldSchema(model, name, false)
	}
	item := map[string]any{"properties": properties}
	if len(required) > 0 {
		item["required"] = toAnyList(required)
	}
	return PayloadSchema(fmt.Sprintf("%s.create payload", collection), item)
}

// UpdateSchema derives an update payload schema: an integer id plus the
// listed fields, each nullable so values can be cleared.
func UpdateSchema(collection keys.Collection, optional []string) *Schema {
	model := mustModel(collection)
	properties := map[string]any{"id": idSchema}
	for _, name := range optional {
		properties[name] = fieldSchema(model, name, true)
	}
	item := map[string]any{
		"properties": properties,
		"required":   []any{"id"},
	}
	return PayloadSchema(fmt.Sprintf("%s.update payload", collection), item)
}

// DeleteSchema accepts only the id.
func DeleteSchema(collection keys.Collection) *Schema {
	item := map[string]any{
		"properties": map[string]any{"id": idSchema},
		"required":   []any{"id"},
	}
	return PayloadSchema(fmt.Sprintf("%s.delete payload", collection), item)
}

func fieldSchema(model *models.Model, name string, nullable bool) map[string]any {
	field, ok := model.Field(name)
	if !ok {
		panic(fmt.Sprintf("action schema: model %s has no field %q", model.Collection(), name))
	}
	if field.ReadOnly {
		panic(fmt.Sprintf("action schema: field %s/%s is read only", model.Collection(), name))
	}
	return field.Schema(nullable)
}

func mustModel(collection keys.Collection) *models.Model {
	model, ok := models.Default().Model(collection)
	if !ok {
		panic(fmt.Sprintf("action schema: unknown collection %q", collection))
	}
	return model
}

// mustCompile panics on invalid schemas; they are all built at
// registration time.
func mustCompile(name string, doc map[string]any) *Schema {
	raw, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("action schema %s: %v", name, err))
	}
	// Round-trip through the library decoder so schema numbers get the
	// json.Number representation the compiler expects.
	normalized, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("action schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", normalized); err != nil {
		panic(fmt.Sprintf("action schema %s: %v", name, err))
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		panic(fmt.Sprintf("action schema %s: %v", name, err))
	}
	return &Schema{compiled: compiled}
}

func toAnyList(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}
