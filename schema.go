package openvia

import (
	"encoding/json"
	"fmt"
	"sort"
)

// InputSchema is the typed argument schema a tool declares at registration.
// It is projected to standard JSON Schema for the LLM and used to validate
// arguments before execution.
type InputSchema struct {
	Fields map[string]Field `json:"fields"`
}

// Field describes a single tool argument.
//
// A field is required unless it is marked Optional or Nullable or carries a
// Default; those wrappers compose, so a nullable field with a default is
// still simply absent from the required list.
type Field struct {
	Type        string   `json:"type"` // "string", "integer", "number", "boolean", "array", "object"
	Description string   `json:"description,omitempty"`
	Optional    bool     `json:"optional,omitempty"`
	Nullable    bool     `json:"nullable,omitempty"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Items       *Field   `json:"items,omitempty"` // array element type
}

// required reports whether the field must be present in tool arguments.
func (f Field) required() bool {
	return !f.Optional && !f.Nullable && f.Default == nil
}

// ToolSchema is the wire projection of a tool definition exposed to the LLM.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// JSONSchema renders the InputSchema as a standard JSON Schema object.
// Required fields are listed in sorted order for deterministic output.
func (s InputSchema) JSONSchema() json.RawMessage {
	props := make(map[string]any, len(s.Fields))
	var required []string

	for name, f := range s.Fields {
		prop := map[string]any{"type": f.Type}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		if len(f.Enum) > 0 {
			prop["enum"] = f.Enum
		}
		if f.Items != nil {
			item := map[string]any{"type": f.Items.Type}
			if f.Items.Description != "" {
				item["description"] = f.Items.Description
			}
			prop["items"] = item
		}
		props[name] = prop
		if f.required() {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	out, err := json.Marshal(schema)
	if err != nil {
		// Schema values are plain maps of JSON-safe types; marshal cannot
		// fail for well-formed definitions.
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return out
}

// Validate checks parsed arguments against the schema. Required fields must
// be present with a matching JSON type; unknown fields are tolerated so the
// LLM can recover from over-specification without a hard failure.
func (s InputSchema) Validate(args json.RawMessage) error {
	var parsed map[string]json.RawMessage
	if len(args) == 0 {
		parsed = map[string]json.RawMessage{}
	} else if err := json.Unmarshal(args, &parsed); err != nil {
		return fmt.Errorf("arguments are not a JSON object: %w", err)
	}

	for name, f := range s.Fields {
		raw, ok := parsed[name]
		if !ok {
			if f.required() {
				return fmt.Errorf("missing required field %q", name)
			}
			continue
		}
		if string(raw) == "null" {
			if !f.Nullable {
				return fmt.Errorf("field %q must not be null", name)
			}
			continue
		}
		if err := checkType(name, f.Type, raw); err != nil {
			return err
		}
	}
	return nil
}

// checkType verifies that a raw JSON value matches the declared field type.
func checkType(name, typ string, raw json.RawMessage) error {
	var ok bool
	switch typ {
	case "string":
		var v string
		ok = json.Unmarshal(raw, &v) == nil
	case "integer":
		var v int64
		ok = json.Unmarshal(raw, &v) == nil
	case "number":
		var v float64
		ok = json.Unmarshal(raw, &v) == nil
	case "boolean":
		var v bool
		ok = json.Unmarshal(raw, &v) == nil
	case "array":
		var v []json.RawMessage
		ok = json.Unmarshal(raw, &v) == nil
	case "object":
		var v map[string]json.RawMessage
		ok = json.Unmarshal(raw, &v) == nil
	default:
		// Unknown declared type: accept anything rather than block the tool.
		return nil
	}
	if !ok {
		return fmt.Errorf("field %q must be of type %s", name, typ)
	}
	return nil
}
