//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package processor

import (
	"context"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/planner"
)

// PlanningRequestProcessor implements planning request processing logic.
type PlanningRequestProcessor struct {
	// Planner is the planner to use for generating planning instructions.
	Planner planner.Planner
}

// NewPlanningRequestProcessor creates a new planning request processor.
func NewPlanningRequestProcessor(p planner.Planner) *PlanningRequestProcessor {
	return &PlanningRequestProcessor{
		Planner: p,
	}
}

// ProcessRequest implements flow.RequestProcessor. Thinking planners only
// configure the model; other planners add their instruction, and earlier
// thoughts are sent back as plain text.
func (p *PlanningRequestProcessor) ProcessRequest(ctx context.Context, inv *agent.Invocation,
	req *model.Request, _ chan<- *event.Event) error {
	if p.Planner == nil {
		return nil
	}
	log.Debugf("Planning request processor: processing request for agent %s", inv.AgentName)
	if tp, ok := p.Planner.(planner.ThinkingPlanner); ok {
		tp.ApplyThinkingConfig(req)
		return nil
	}
	if instruction := p.Planner.BuildPlanningInstruction(ctx, inv, req); instruction != "" {
		req.AppendInstructions(instruction)
	}
	for _, c := range req.Contents {
		for _, part := range c.Parts {
			if part != nil {
				part.Thought = false
			}
		}
	}
	return nil
}

// PlanningResponseProcessor implements planning response processing logic.
type PlanningResponseProcessor struct {
	// Planner is the planner to use for processing planning responses.
	Planner planner.Planner
}

// NewPlanningResponseProcessor creates a new planning response processor.
func NewPlanningResponseProcessor(p planner.Planner) *PlanningResponseProcessor {
	return &PlanningResponseProcessor{
		Planner: p,
	}
}

// ProcessResponse implements flow.ResponseProcessor.
func (p *PlanningResponseProcessor) ProcessResponse(ctx context.Context, inv *agent.Invocation,
	_ *model.Request, rsp *model.Response, _ chan<- *event.Event) error {
	if p.Planner == nil || rsp == nil || rsp.Content == nil {
		return nil
	}
	if _, ok := p.Planner.(planner.ThinkingPlanner); ok {
		return nil
	}
	if processed := p.Planner.ProcessPlanningResponse(ctx, inv, rsp); processed != nil {
		*rsp = *processed
	}
	return nil
}
