//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package planner defines how an agent is guided to plan before acting.
package planner

import (
	"context"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
)

// Planner is the interface that all planners must implement.
//
// The planner allows the agent to generate plans for the queries to guide its
// action.
type Planner interface {
	// BuildPlanningInstruction applies any necessary configuration to the LLM request
	// and builds the system instruction to be appended for planning.
	// Returns empty string if no instruction is needed.
	BuildPlanningInstruction(
		ctx context.Context,
		invocation *agent.Invocation,
		llmRequest *model.Request,
	) string

	// ProcessPlanningResponse processes the LLM response for planning.
	// Returns the processed response, or nil if no processing is needed.
	ProcessPlanningResponse(
		ctx context.Context,
		invocation *agent.Invocation,
		response *model.Response,
	) *model.Response
}

// ThinkingPlanner is implemented by planners relying on the model's native
// thinking. Their responses are left untouched.
type ThinkingPlanner interface {
	Planner
	ApplyThinkingConfig(llmRequest *model.Request)
}
