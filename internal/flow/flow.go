//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package flow provides the contracts shared by the LLM flow and the
// request and response processors it runs around each model call.
package flow

import (
	"context"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
)

// Flow is the interface that all flows must implement.
type Flow interface {
	// Run calls the model and the tools it asks for until the agent has a
	// final response. Every event is emitted on out.
	Run(ctx context.Context, invocation *agent.Invocation, out chan<- *event.Event) error
	// RunLive drives a bidirectional model connection fed by the
	// invocation's live request queue.
	RunLive(ctx context.Context, invocation *agent.Invocation, out chan<- *event.Event) error
}

// RequestProcessor processes LLM requests before they are sent to the model.
type RequestProcessor interface {
	// ProcessRequest edits req and may emit events on ch. An error aborts
	// the step.
	ProcessRequest(ctx context.Context, invocation *agent.Invocation, req *model.Request,
		ch chan<- *event.Event) error
}

// ResponseProcessor processes LLM responses after they are received from the model.
type ResponseProcessor interface {
	// ProcessResponse may rewrite rsp in place and emit events on ch.
	ProcessResponse(ctx context.Context, invocation *agent.Invocation, req *model.Request,
		rsp *model.Response, ch chan<- *event.Event) error
}

// ToolsFunc resolves the tools of the agent being invoked. Toolsets are
// expanded on every call.
type ToolsFunc func(ctx context.Context, invocation *agent.Invocation) ([]tool.Tool, error)

// EventHook observes every event the flow is about to emit for its agent.
// It may edit the event.
type EventHook func(ctx context.Context, invocation *agent.Invocation, e *event.Event) error
