//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package plugin provides the runner-scoped plugin pipeline. A plugin is
// any value with a Name that implements some of the per-hook interfaces
// below; the Manager calls them in registration order and stops at the
// first one returning a value.
package plugin

import (
	"context"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
)

// Plugin is the minimal plugin. Names must be unique within a Manager.
type Plugin interface {
	Name() string
}

// UserMessagePlugin may replace the user message before the invocation starts.
type UserMessagePlugin interface {
	OnUserMessage(ctx context.Context, inv *agent.Invocation, msg *genai.Content) (*genai.Content, error)
}

// BeforeRunPlugin may end the invocation with a reply before any agent runs.
type BeforeRunPlugin interface {
	BeforeRun(ctx context.Context, inv *agent.Invocation) (*genai.Content, error)
}

// AfterRunPlugin is notified once the invocation is over.
type AfterRunPlugin interface {
	AfterRun(ctx context.Context, inv *agent.Invocation) error
}

// EventPlugin may replace each event on its way to the caller. The session
// keeps the original.
type EventPlugin interface {
	OnEvent(ctx context.Context, inv *agent.Invocation, e *event.Event) (*event.Event, error)
}

// BeforeAgentPlugin may skip an agent body.
type BeforeAgentPlugin interface {
	BeforeAgent(ctx context.Context, a agent.Agent, cc *agent.CallbackContext) (*genai.Content, error)
}

// AfterAgentPlugin may append a reply after an agent body.
type AfterAgentPlugin interface {
	AfterAgent(ctx context.Context, a agent.Agent, cc *agent.CallbackContext) (*genai.Content, error)
}

// BeforeModelPlugin may answer in place of the model.
type BeforeModelPlugin interface {
	BeforeModel(ctx context.Context, cc *agent.CallbackContext, req *model.Request) (*model.Response, error)
}

// AfterModelPlugin may replace a model response.
type AfterModelPlugin interface {
	AfterModel(ctx context.Context, cc *agent.CallbackContext, rsp *model.Response) (*model.Response, error)
}

// ModelErrorPlugin may recover a failed model call.
type ModelErrorPlugin interface {
	OnModelError(ctx context.Context, cc *agent.CallbackContext, req *model.Request,
		modelErr error) (*model.Response, error)
}

// BeforeToolPlugin may answer in place of a tool.
type BeforeToolPlugin interface {
	BeforeTool(ctx context.Context, t tool.Tool, args map[string]any,
		tc *agent.ToolContext) (map[string]any, error)
}

// AfterToolPlugin may replace a tool result.
type AfterToolPlugin interface {
	AfterTool(ctx context.Context, t tool.Tool, args map[string]any, tc *agent.ToolContext,
		result map[string]any) (map[string]any, error)
}

// ToolErrorPlugin may recover a failed or missing tool.
type ToolErrorPlugin interface {
	OnToolError(ctx context.Context, t tool.Tool, args map[string]any, tc *agent.ToolContext,
		toolErr error) (map[string]any, error)
}

// Closer is implemented by plugins holding resources.
type Closer interface {
	Close(ctx context.Context) error
}

// BasePlugin implements every hook as a no-op. Embed it and override the
// hooks you need.
type BasePlugin struct {
	name string
}

// NewBasePlugin returns a no-op plugin called name.
func NewBasePlugin(name string) BasePlugin {
	return BasePlugin{name: name}
}

// Name returns the plugin name.
func (p BasePlugin) Name() string { return p.name }

// OnUserMessage implements UserMessagePlugin.
func (BasePlugin) OnUserMessage(context.Context, *agent.Invocation, *genai.Content) (*genai.Content, error) {
	return nil, nil
}

// BeforeRun implements BeforeRunPlugin.
func (BasePlugin) BeforeRun(context.Context, *agent.Invocation) (*genai.Content, error) {
	return nil, nil
}

// AfterRun implements AfterRunPlugin.
func (BasePlugin) AfterRun(context.Context, *agent.Invocation) error { return nil }

// OnEvent implements EventPlugin.
func (BasePlugin) OnEvent(context.Context, *agent.Invocation, *event.Event) (*event.Event, error) {
	return nil, nil
}

// BeforeAgent implements BeforeAgentPlugin.
func (BasePlugin) BeforeAgent(context.Context, agent.Agent, *agent.CallbackContext) (*genai.Content, error) {
	return nil, nil
}

// AfterAgent implements AfterAgentPlugin.
func (BasePlugin) AfterAgent(context.Context, agent.Agent, *agent.CallbackContext) (*genai.Content, error) {
	return nil, nil
}

// BeforeModel implements BeforeModelPlugin.
func (BasePlugin) BeforeModel(context.Context, *agent.CallbackContext, *model.Request) (*model.Response, error) {
	return nil, nil
}

// AfterModel implements AfterModelPlugin.
func (BasePlugin) AfterModel(context.Context, *agent.CallbackContext, *model.Response) (*model.Response, error) {
	return nil, nil
}

// OnModelError implements ModelErrorPlugin.
func (BasePlugin) OnModelError(context.Context, *agent.CallbackContext, *model.Request,
	error) (*model.Response, error) {
	return nil, nil
}

// BeforeTool implements BeforeToolPlugin.
func (BasePlugin) BeforeTool(context.Context, tool.Tool, map[string]any,
	*agent.ToolContext) (map[string]any, error) {
	return nil, nil
}

// AfterTool implements AfterToolPlugin.
func (BasePlugin) AfterTool(context.Context, tool.Tool, map[string]any, *agent.ToolContext,
	map[string]any) (map[string]any, error) {
	return nil, nil
}

// OnToolError implements ToolErrorPlugin.
func (BasePlugin) OnToolError(context.Context, tool.Tool, map[string]any, *agent.ToolContext,
	error) (map[string]any, error) {
	return nil, nil
}

// Close implements Closer.
func (BasePlugin) Close(context.Context) error { return nil }
