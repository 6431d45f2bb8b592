//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"context"

	"google.golang.org/genai"
)

// BeforeAgentCallback is called before the agent runs.
// Returns (content, error).
//   - content: if not nil, the agent body is skipped and content is emitted
//     as the agent's reply.
//   - error: if not nil, agent execution will be stopped with this error.
type BeforeAgentCallback func(ctx context.Context, cc *CallbackContext) (*genai.Content, error)

// AfterAgentCallback is called after the agent runs.
// Returns (content, error).
//   - content: if not nil, it is emitted as an additional agent reply.
//   - error: if not nil, this error will be returned.
type AfterAgentCallback func(ctx context.Context, cc *CallbackContext) (*genai.Content, error)

// Callbacks holds callbacks for agent operations.
type Callbacks struct {
	BeforeAgent []BeforeAgentCallback
	AfterAgent  []AfterAgentCallback
}

// NewCallbacks creates a new Callbacks instance.
func NewCallbacks() *Callbacks {
	return &Callbacks{}
}

// RegisterBeforeAgent registers a before agent callback.
func (c *Callbacks) RegisterBeforeAgent(cb BeforeAgentCallback) *Callbacks {
	c.BeforeAgent = append(c.BeforeAgent, cb)
	return c
}

// RegisterAfterAgent registers an after agent callback.
func (c *Callbacks) RegisterAfterAgent(cb AfterAgentCallback) *Callbacks {
	c.AfterAgent = append(c.AfterAgent, cb)
	return c
}

// RunBeforeAgent runs the before agent callbacks in order and stops at the
// first one returning content or an error.
func (c *Callbacks) RunBeforeAgent(ctx context.Context, cc *CallbackContext) (*genai.Content, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.BeforeAgent {
		content, err := cb(ctx, cc)
		if err != nil || content != nil {
			return content, err
		}
	}
	return nil, nil
}

// RunAfterAgent runs the after agent callbacks in order and stops at the
// first one returning content or an error.
func (c *Callbacks) RunAfterAgent(ctx context.Context, cc *CallbackContext) (*genai.Content, error) {
	if c == nil {
		return nil, nil
	}
	for _, cb := range c.AfterAgent {
		content, err := cb(ctx, cc)
		if err != nil || content != nil {
			return content, err
		}
	}
	return nil, nil
}
