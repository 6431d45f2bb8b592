//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package exitloop provides the exit_loop tool that ends the enclosing
// loop agent.
package exitloop

import (
	"context"
	"errors"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
	"trpc.group/trpc-go/trpc-agent-runtime/tool/function"
)

// ToolName is the name of the exit_loop tool.
const ToolName = "exit_loop"

type request struct{}

// New returns the exit_loop tool. Calling it escalates so the loop agent
// stops after the current sub-agent, and keeps the result from going back
// to the model.
func New() tool.CallableTool {
	return function.NewFunctionTool(exitLoop,
		function.WithName(ToolName),
		function.WithDescription("Exits the loop.\n\nCall this function only when you are instructed to do so."),
	)
}

func exitLoop(ctx context.Context, _ request) (map[string]any, error) {
	tc, ok := agent.ToolContextFromContext(ctx)
	if !ok {
		return nil, errors.New(ToolName + ": no tool context available")
	}
	tc.Actions().Escalate = true
	tc.Actions().SkipSummarization = true
	return map[string]any{}, nil
}
