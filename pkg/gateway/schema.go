package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Schema describes the JSON shape a generation call must return. It is a
// provider-neutral subset of JSON Schema: providers with native structured
// output translate it to their own schema type, the rest render it into the
// instructions via PromptHint.
type Schema struct {
	Type        string
	Description string
	Properties  map[string]*Schema
	Items       *Schema
	Required    []string
}

// Shorthand constructors keep schema definitions in the workflow package
// readable.

// Str builds a string-typed schema node.
func Str(description string) *Schema {
	return &Schema{Type: "string", Description: description}
}

// ArrayOf builds an array-typed schema node.
func ArrayOf(items *Schema, description string) *Schema {
	return &Schema{Type: "array", Description: description, Items: items}
}

// Object builds an object-typed schema node with every property required.
func Object(properties map[string]*Schema) *Schema {
	required := make([]string, 0, len(properties))
	for name := range properties {
		required = append(required, name)
	}
	return &Schema{Type: "object", Properties: properties, Required: required}
}

// JSONSchema renders the schema as a plain JSON Schema document. Ollama
// accepts this directly as its format field.
func (s *Schema) JSONSchema() map[string]any {
	if s == nil {
		return nil
	}
	out := map[string]any{"type": s.Type}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = prop.JSONSchema()
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	if s.Items != nil {
		out["items"] = s.Items.JSONSchema()
	}
	return out
}

// PromptHint renders the schema as instruction text for providers without
// native structured output. The downstream parser tolerates fenced blocks and
// surrounding prose, so this only has to steer the model, not guarantee
// compliance.
func (s *Schema) PromptHint() string {
	if s == nil {
		return ""
	}
	doc, err := json.MarshalIndent(s.JSONSchema(), "", "  ")
	if err != nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("Respond with a single JSON object and nothing else. ")
	b.WriteString("The object must match this JSON Schema:\n")
	fmt.Fprintf(&b, "%s\n", doc)
	return b.String()
}
