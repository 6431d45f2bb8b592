//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package schema

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type addArgs struct {
	A    int      `json:"a" description:"left operand"`
	B    int      `json:"b"`
	Note *string  `json:"note"`
	Tags []string `json:"tags,omitempty"`
	skip int
	Hide int `json:"-"`
}

func TestFromType(t *testing.T) {
	s := FromType(reflect.TypeOf(addArgs{}))
	require.Equal(t, genai.TypeObject, s.Type)
	require.Equal(t, []string{"a", "b"}, s.Required)
	require.Equal(t, []string{"a", "b", "note", "tags"}, s.PropertyOrdering)
	require.Equal(t, genai.TypeInteger, s.Properties["a"].Type)
	require.Equal(t, "left operand", s.Properties["a"].Description)
	require.True(t, *s.Properties["note"].Nullable)
	require.Equal(t, genai.TypeArray, s.Properties["tags"].Type)
	require.Equal(t, genai.TypeString, s.Properties["tags"].Items.Type)
	require.NotContains(t, s.Properties, "Hide")
}

func TestToJSONSchema(t *testing.T) {
	s := &genai.Schema{
		Type:     genai.TypeObject,
		Required: []string{"x"},
		Properties: map[string]*genai.Schema{
			"x": {Type: genai.TypeString, Enum: []string{"a", "b"}},
			"y": {Type: genai.TypeNumber, Nullable: genai.Ptr(true)},
		},
	}
	doc := ToJSONSchema(s)
	require.Equal(t, "object", doc["type"])
	require.Equal(t, []any{"x"}, doc["required"])
	props := doc["properties"].(map[string]any)
	require.Equal(t, []any{"a", "b"}, props["x"].(map[string]any)["enum"])
	require.Equal(t, []any{"number", "null"}, props["y"].(map[string]any)["type"])
}

func TestValidateJSON(t *testing.T) {
	s := &genai.Schema{
		Type:       genai.TypeObject,
		Required:   []string{"answer"},
		Properties: map[string]*genai.Schema{"answer": {Type: genai.TypeInteger}},
	}
	v, err := ValidateJSON(s, `{"answer": 4}`)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"answer": float64(4)}, v)

	_, err = ValidateJSON(s, `{"answer": "four"}`)
	require.Error(t, err)

	_, err = ValidateJSON(s, `{}`)
	require.Error(t, err)

	_, err = ValidateJSON(s, `not json`)
	require.Error(t, err)
}

func TestValidateValue(t *testing.T) {
	s := &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}
	require.NoError(t, ValidateValue(s, []string{"a"}))
	require.Error(t, ValidateValue(s, []int{1}))
}
