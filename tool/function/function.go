//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package function wraps Go functions as callable tools.
package function

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/internal/schema"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
)

var (
	_ tool.CallableTool   = (*FunctionTool[struct{}, any])(nil)
	_ tool.StreamableTool = (*StreamableFunctionTool[struct{}])(nil)
)

// Option is a function that configures a FunctionTool.
type Option func(*options)

type options struct {
	name        string
	description string
	longRunning bool
	parameters  *genai.Schema
}

// WithName sets the name of the function tool.
func WithName(name string) Option {
	return func(opts *options) {
		opts.name = name
	}
}

// WithDescription sets the description of the function tool.
func WithDescription(description string) Option {
	return func(opts *options) {
		opts.description = description
	}
}

// WithLongRunning marks the tool as long-running. Such a tool may return a
// nil result to answer in a later event.
func WithLongRunning(longRunning bool) Option {
	return func(opts *options) {
		opts.longRunning = longRunning
	}
}

// WithParameters overrides the parameter schema derived from the input type.
func WithParameters(s *genai.Schema) Option {
	return func(opts *options) {
		opts.parameters = s
	}
}

// FunctionTool calls fn with the decoded arguments of a function call.
type FunctionTool[I, O any] struct {
	decl        *genai.FunctionDeclaration
	fn          func(context.Context, I) (O, error)
	longRunning bool
}

// NewFunctionTool creates a tool whose parameters are derived from I.
func NewFunctionTool[I, O any](fn func(context.Context, I) (O, error), opts ...Option) *FunctionTool[I, O] {
	o := buildOptions[I](opts)
	return &FunctionTool[I, O]{
		decl: &genai.FunctionDeclaration{
			Name:        o.name,
			Description: o.description,
			Parameters:  o.parameters,
		},
		fn:          fn,
		longRunning: o.longRunning,
	}
}

// Declaration returns the function declaration sent to the model.
func (ft *FunctionTool[I, O]) Declaration() *genai.FunctionDeclaration {
	return ft.decl
}

// LongRunning reports whether the tool answers asynchronously.
func (ft *FunctionTool[I, O]) LongRunning() bool {
	return ft.longRunning
}

// Call decodes jsonArgs into I and runs the function. A nil pointer, map or
// slice result is reported as nil so that long-running tools can defer.
func (ft *FunctionTool[I, O]) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	input, err := decode[I](ft.decl.Name, jsonArgs)
	if err != nil {
		return nil, err
	}
	out, err := ft.fn(ctx, input)
	if err != nil {
		return nil, err
	}
	if isNil(out) {
		return nil, nil
	}
	return out, nil
}

// StreamableFunctionTool runs a function that produces a stream of results.
type StreamableFunctionTool[I any] struct {
	decl *genai.FunctionDeclaration
	fn   func(context.Context, I) (*tool.StreamReader, error)
}

// NewStreamableFunctionTool creates a streaming tool whose parameters are derived from I.
func NewStreamableFunctionTool[I any](fn func(context.Context, I) (*tool.StreamReader, error),
	opts ...Option) *StreamableFunctionTool[I] {
	o := buildOptions[I](opts)
	return &StreamableFunctionTool[I]{
		decl: &genai.FunctionDeclaration{
			Name:        o.name,
			Description: o.description,
			Parameters:  o.parameters,
		},
		fn: fn,
	}
}

// Declaration returns the function declaration sent to the model.
func (st *StreamableFunctionTool[I]) Declaration() *genai.FunctionDeclaration {
	return st.decl
}

// StreamableCall decodes jsonArgs and starts the stream.
func (st *StreamableFunctionTool[I]) StreamableCall(ctx context.Context, jsonArgs []byte) (*tool.StreamReader, error) {
	input, err := decode[I](st.decl.Name, jsonArgs)
	if err != nil {
		return nil, err
	}
	return st.fn(ctx, input)
}

func buildOptions[I any](opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.parameters == nil {
		t := reflect.TypeOf((*I)(nil)).Elem()
		for t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		o.parameters = schema.FromType(t)
	}
	return o
}

func decode[I any](name string, jsonArgs []byte) (I, error) {
	var input I
	if len(jsonArgs) == 0 {
		return input, nil
	}
	if err := json.Unmarshal(jsonArgs, &input); err != nil {
		return input, fmt.Errorf("tool %s: invalid arguments: %w", name, err)
	}
	return input, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
