//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"context"
)

// BeforeModelCallback runs before the model is called and may edit req.
// A non-nil response skips the model call.
type BeforeModelCallback func(ctx context.Context, req *Request) (*Response, error)

// AfterModelCallback runs on every response. A non-nil response replaces it.
type AfterModelCallback func(ctx context.Context, rsp *Response) (*Response, error)

// OnModelErrorCallback runs when the model call fails. A non-nil response
// is used in place of the error.
type OnModelErrorCallback func(ctx context.Context, req *Request, modelErr error) (*Response, error)

// Callbacks holds the model callback lists of one agent or plugin.
type Callbacks struct {
	BeforeModel  []BeforeModelCallback
	AfterModel   []AfterModelCallback
	OnModelError []OnModelErrorCallback
}

// NewCallbacks creates an empty callback set.
func NewCallbacks() *Callbacks {
	return &Callbacks{}
}

// RegisterBeforeModel appends a before-model callback.
func (c *Callbacks) RegisterBeforeModel(cb BeforeModelCallback) *Callbacks {
	c.BeforeModel = append(c.BeforeModel, cb)
	return c
}

// RegisterAfterModel appends an after-model callback.
func (c *Callbacks) RegisterAfterModel(cb AfterModelCallback) *Callbacks {
	c.AfterModel = append(c.AfterModel, cb)
	return c
}

// RegisterOnModelError appends an on-model-error callback.
func (c *Callbacks) RegisterOnModelError(cb OnModelErrorCallback) *Callbacks {
	c.OnModelError = append(c.OnModelError, cb)
	return c
}

// RunBeforeModel runs the callbacks in order and stops at the first
// non-nil response or error.
func (c *Callbacks) RunBeforeModel(ctx context.Context, req *Request) (*Response, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.BeforeModel {
		rsp, err := cb(ctx, req)
		if err != nil || rsp != nil {
			return rsp, err
		}
	}
	return nil, nil
}

// RunAfterModel runs the callbacks in order and stops at the first
// non-nil response or error.
func (c *Callbacks) RunAfterModel(ctx context.Context, rsp *Response) (*Response, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.AfterModel {
		out, err := cb(ctx, rsp)
		if err != nil || out != nil {
			return out, err
		}
	}
	return nil, nil
}

// RunOnModelError runs the callbacks in order and stops at the first
// non-nil response or error.
func (c *Callbacks) RunOnModelError(ctx context.Context, req *Request, modelErr error) (*Response, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.OnModelError {
		rsp, err := cb(ctx, req, modelErr)
		if err != nil || rsp != nil {
			return rsp, err
		}
	}
	return nil, nil
}
