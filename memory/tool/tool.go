//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package tool provides the memory tools for the agent system.
package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/memory"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
	"trpc.group/trpc-go/trpc-agent-runtime/tool/function"
)

// LoadMemoryRequest is the argument of load_memory.
type LoadMemoryRequest struct {
	Query string `json:"query" description:"The query to search the memory with"`
}

// Result is one memory returned by load_memory.
type Result struct {
	Author    string `json:"author,omitempty"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
}

// LoadMemoryResponse is the result of load_memory.
type LoadMemoryResponse struct {
	Memories []Result `json:"memories"`
}

// NewLoadTool creates the load_memory tool. It searches the memory service
// of the invocation for the current user.
func NewLoadTool() tool.CallableTool {
	load := func(ctx context.Context, req LoadMemoryRequest) (*LoadMemoryResponse, error) {
		tc, ok := agent.ToolContextFromContext(ctx)
		if !ok {
			return nil, errors.New("memory load tool: no tool context available")
		}
		entries, err := tc.SearchMemory(req.Query)
		if err != nil {
			return nil, fmt.Errorf("memory load tool: %w", err)
		}
		rsp := &LoadMemoryResponse{Memories: make([]Result, 0, len(entries))}
		for _, e := range entries {
			text := e.Text()
			if text == "" {
				continue
			}
			r := Result{Author: e.Author, Text: text}
			if !e.Timestamp.IsZero() {
				r.Timestamp = e.Timestamp.Format(time.RFC3339)
			}
			rsp.Memories = append(rsp.Memories, r)
		}
		return rsp, nil
	}
	return function.NewFunctionTool(load,
		function.WithName(memory.LoadToolName),
		function.WithDescription("Loads the memory for the current user. "+
			"NOTE: currently this function must be used only once per turn."),
	)
}
