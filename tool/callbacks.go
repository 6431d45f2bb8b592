//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package tool

import (
	"context"
)

// BeforeToolCallback runs before a tool. A non-nil result skips the tool
// and becomes its response.
type BeforeToolCallback func(ctx context.Context, t Tool, args map[string]any) (map[string]any, error)

// AfterToolCallback runs after a tool. A non-nil result replaces the response.
type AfterToolCallback func(ctx context.Context, t Tool, args map[string]any,
	result map[string]any) (map[string]any, error)

// OnToolErrorCallback runs when a tool fails or cannot be found. A non-nil
// result recovers the call and becomes its response.
type OnToolErrorCallback func(ctx context.Context, t Tool, args map[string]any,
	toolErr error) (map[string]any, error)

// Callbacks holds the tool callback lists of one agent.
type Callbacks struct {
	BeforeTool  []BeforeToolCallback
	AfterTool   []AfterToolCallback
	OnToolError []OnToolErrorCallback
}

// NewCallbacks creates an empty callback set.
func NewCallbacks() *Callbacks {
	return &Callbacks{}
}

// RegisterBeforeTool appends a before-tool callback.
func (c *Callbacks) RegisterBeforeTool(cb BeforeToolCallback) *Callbacks {
	c.BeforeTool = append(c.BeforeTool, cb)
	return c
}

// RegisterAfterTool appends an after-tool callback.
func (c *Callbacks) RegisterAfterTool(cb AfterToolCallback) *Callbacks {
	c.AfterTool = append(c.AfterTool, cb)
	return c
}

// RegisterOnToolError appends an on-tool-error callback.
func (c *Callbacks) RegisterOnToolError(cb OnToolErrorCallback) *Callbacks {
	c.OnToolError = append(c.OnToolError, cb)
	return c
}

// RunBeforeTool stops at the first non-nil result or error.
func (c *Callbacks) RunBeforeTool(ctx context.Context, t Tool, args map[string]any) (map[string]any, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.BeforeTool {
		res, err := cb(ctx, t, args)
		if err != nil || res != nil {
			return res, err
		}
	}
	return nil, nil
}

// RunAfterTool stops at the first non-nil result or error.
func (c *Callbacks) RunAfterTool(ctx context.Context, t Tool, args map[string]any,
	result map[string]any) (map[string]any, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.AfterTool {
		res, err := cb(ctx, t, args, result)
		if err != nil || res != nil {
			return res, err
		}
	}
	return nil, nil
}

// RunOnToolError stops at the first non-nil result or error.
func (c *Callbacks) RunOnToolError(ctx context.Context, t Tool, args map[string]any,
	toolErr error) (map[string]any, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.OnToolError {
		res, err := cb(ctx, t, args, toolErr)
		if err != nil || res != nil {
			return res, err
		}
	}
	return nil, nil
}
