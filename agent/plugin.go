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

	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
)

// PluginManager dispatches every lifecycle point of an invocation to the
// registered plugins in order. For each hook the first plugin returning a
// non-nil value wins, later plugins and the agent's own callbacks for the
// same hook are skipped, and the value is returned to the caller.
type PluginManager interface {
	// RunOnUserMessage may replace the user message before the invocation starts.
	RunOnUserMessage(ctx context.Context, inv *Invocation, msg *genai.Content) (*genai.Content, error)
	// RunBeforeRun may end the invocation early with a reply.
	RunBeforeRun(ctx context.Context, inv *Invocation) (*genai.Content, error)
	RunAfterRun(ctx context.Context, inv *Invocation) error
	// RunOnEvent may replace an event before it reaches the client.
	RunOnEvent(ctx context.Context, inv *Invocation, e *event.Event) (*event.Event, error)

	RunBeforeAgent(ctx context.Context, a Agent, cc *CallbackContext) (*genai.Content, error)
	RunAfterAgent(ctx context.Context, a Agent, cc *CallbackContext) (*genai.Content, error)

	RunBeforeModel(ctx context.Context, cc *CallbackContext, req *model.Request) (*model.Response, error)
	RunAfterModel(ctx context.Context, cc *CallbackContext, rsp *model.Response) (*model.Response, error)
	RunOnModelError(ctx context.Context, cc *CallbackContext, req *model.Request, modelErr error) (*model.Response, error)

	RunBeforeTool(ctx context.Context, t tool.Tool, args map[string]any, tc *ToolContext) (map[string]any, error)
	RunAfterTool(ctx context.Context, t tool.Tool, args map[string]any, tc *ToolContext,
		result map[string]any) (map[string]any, error)
	RunOnToolError(ctx context.Context, t tool.Tool, args map[string]any, tc *ToolContext,
		toolErr error) (map[string]any, error)

	// Close releases every plugin.
	Close(ctx context.Context) error
}
