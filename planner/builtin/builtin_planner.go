//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package builtin implements the planner that relies on the model's native
// thinking. It only configures the request; no planning prompt is added.
package builtin

import (
	"context"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/planner"
)

// Verify that Planner implements the planner.ThinkingPlanner interface.
var _ planner.ThinkingPlanner = (*Planner)(nil)

// Planner applies a thinking config to every request.
type Planner struct {
	thinkingConfig *genai.ThinkingConfig
}

// Options contains configuration options for creating a Planner.
type Options struct {
	// ThinkingConfig is copied into the generate-content config of every
	// request. IncludeThoughts surfaces the thoughts as thought parts.
	ThinkingConfig *genai.ThinkingConfig
}

// New creates a new Planner with the given options.
func New(opts Options) *Planner {
	return &Planner{thinkingConfig: opts.ThinkingConfig}
}

// ApplyThinkingConfig sets the thinking config on the request.
func (p *Planner) ApplyThinkingConfig(llmRequest *model.Request) {
	if p.thinkingConfig == nil {
		return
	}
	if llmRequest.Config == nil {
		llmRequest.Config = &genai.GenerateContentConfig{}
	}
	cfg := *p.thinkingConfig
	llmRequest.Config.ThinkingConfig = &cfg
}

// BuildPlanningInstruction returns no instruction; the model plans internally.
func (p *Planner) BuildPlanningInstruction(
	ctx context.Context,
	invocation *agent.Invocation,
	llmRequest *model.Request,
) string {
	return ""
}

// ProcessPlanningResponse returns nil; thoughts already arrive as thought parts.
func (p *Planner) ProcessPlanningResponse(
	ctx context.Context,
	invocation *agent.Invocation,
	response *model.Response,
) *model.Response {
	return nil
}
