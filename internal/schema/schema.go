//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package schema converts between Go types, genai schemas and JSON Schema,
// and validates values against genai schemas.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"google.golang.org/genai"
)

// FromType derives an object schema from a Go type using its json tags.
// Non-pointer fields without omitempty are required.
func FromType(t reflect.Type) *genai.Schema {
	if t == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	if t.Kind() == reflect.Ptr {
		s := FromType(t.Elem())
		s.Nullable = genai.Ptr(true)
		return s
	}
	return fieldSchema(t)
}

func fieldSchema(t reflect.Type) *genai.Schema {
	switch t.Kind() {
	case reflect.String:
		return &genai.Schema{Type: genai.TypeString}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &genai.Schema{Type: genai.TypeInteger}
	case reflect.Float32, reflect.Float64:
		return &genai.Schema{Type: genai.TypeNumber}
	case reflect.Bool:
		return &genai.Schema{Type: genai.TypeBoolean}
	case reflect.Slice, reflect.Array:
		return &genai.Schema{Type: genai.TypeArray, Items: fieldSchema(t.Elem())}
	case reflect.Ptr:
		s := fieldSchema(t.Elem())
		s.Nullable = genai.Ptr(true)
		return s
	case reflect.Struct:
		return structSchema(t)
	default:
		return &genai.Schema{Type: genai.TypeObject}
	}
}

func structSchema(t reflect.Type) *genai.Schema {
	s := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, omitEmpty, skip := jsonName(f)
		if skip {
			continue
		}
		fs := fieldSchema(f.Type)
		if desc := f.Tag.Get("description"); desc != "" {
			fs.Description = desc
		}
		s.Properties[name] = fs
		s.PropertyOrdering = append(s.PropertyOrdering, name)
		if f.Type.Kind() != reflect.Ptr && !omitEmpty {
			s.Required = append(s.Required, name)
		}
	}
	return s
}

func jsonName(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = f.Name
	if tag == "" {
		return name, false, false
	}
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" || opt == "omitzero" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

// ToJSONSchema renders a genai schema as a JSON Schema document.
func ToJSONSchema(s *genai.Schema) map[string]any {
	if s == nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if typ := jsonType(s.Type); typ != "" {
		if s.Nullable != nil && *s.Nullable {
			out["type"] = []any{typ, "null"}
		} else {
			out["type"] = typ
		}
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		enum := make([]any, len(s.Enum))
		for i, e := range s.Enum {
			enum[i] = e
		}
		out["enum"] = enum
	}
	if s.Items != nil {
		out["items"] = ToJSONSchema(s.Items)
	}
	if len(s.Properties) > 0 {
		props := map[string]any{}
		for k, v := range s.Properties {
			props[k] = ToJSONSchema(v)
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		req := make([]any, len(s.Required))
		for i, r := range s.Required {
			req[i] = r
		}
		out["required"] = req
	}
	if len(s.AnyOf) > 0 {
		anyOf := make([]any, len(s.AnyOf))
		for i, a := range s.AnyOf {
			anyOf[i] = ToJSONSchema(a)
		}
		out["anyOf"] = anyOf
	}
	if s.Minimum != nil {
		out["minimum"] = *s.Minimum
	}
	if s.Maximum != nil {
		out["maximum"] = *s.Maximum
	}
	if s.MinItems != nil {
		out["minItems"] = *s.MinItems
	}
	if s.MaxItems != nil {
		out["maxItems"] = *s.MaxItems
	}
	if s.Pattern != "" {
		out["pattern"] = s.Pattern
	}
	return out
}

func jsonType(t genai.Type) string {
	switch t {
	case genai.TypeString:
		return "string"
	case genai.TypeNumber:
		return "number"
	case genai.TypeInteger:
		return "integer"
	case genai.TypeBoolean:
		return "boolean"
	case genai.TypeArray:
		return "array"
	case genai.TypeObject:
		return "object"
	case genai.TypeNULL:
		return "null"
	default:
		return ""
	}
}

// Compile turns a genai schema into a compiled JSON Schema validator.
func Compile(s *genai.Schema) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(ToJSONSchema(s))
	if err != nil {
		return nil, fmt.Errorf("schema: marshal: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("schema: decode: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("schema: add resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}
	return compiled, nil
}

// ValidateJSON parses text as JSON and validates it against s. It returns
// the decoded value with numbers as float64.
func ValidateJSON(s *genai.Schema, text string) (any, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("schema: output is not valid JSON: %w", err)
	}
	if err := validateDoc(s, doc); err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("schema: decode output: %w", err)
	}
	return v, nil
}

// ValidateValue validates an already decoded value (maps, slices, scalars).
func ValidateValue(s *genai.Schema, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("schema: marshal value: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("schema: decode value: %w", err)
	}
	return validateDoc(s, doc)
}

func validateDoc(s *genai.Schema, doc any) error {
	compiled, err := Compile(s)
	if err != nil {
		return err
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
