package tools

import (
	"github.com/invopop/jsonschema"
)

// InputSchema is the simplified JSON Schema advertised for a tool's input.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes a single schema property.
type Property struct {
	Type        string              `json:"type,omitempty"`
	Description string              `json:"description,omitempty"`
	Enum        []any               `json:"enum,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
	Required    []string            `json:"required,omitempty"`
}

// reflectInputSchema reflects a typed argument struct A into the simplified
// InputSchema shape. Fields tagged json:"...,omitempty" become optional;
// everything else is required.
func reflectInputSchema[A any]() InputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true, // inline defs
		ExpandedStruct:            true, // put struct at root
		AllowAdditionalProperties: true,
	}
	s := r.Reflect(new(A))

	if s == nil || s.Type != "object" {
		return InputSchema{Type: "object", Properties: map[string]Property{}}
	}

	props := make(map[string]Property)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return InputSchema{Type: "object", Properties: props, Required: required}
}

// toProperty recursively maps a jsonschema.Schema onto the simplified Property.
func toProperty(s *jsonschema.Schema) Property {
	if s == nil {
		return Property{}
	}
	p := Property{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]Property, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toProperty(el.Value)
		}
		p.Properties = m
		if len(s.Required) > 0 {
			p.Required = append(p.Required, s.Required...)
		}
	}
	return p
}
