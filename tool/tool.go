//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package tool defines the capabilities an agent can hand to a model.
package tool

import (
	"context"

	"google.golang.org/genai"
)

// Tool is a named capability described to the model by a function
// declaration. Builtin provider tools return a nil declaration and edit the
// request directly instead.
type Tool interface {
	Declaration() *genai.FunctionDeclaration
}

// CallableTool runs with the JSON-encoded arguments of a function call.
// The per-call tool context is carried by ctx. The result is turned into
// the function response; a map is used as is, anything else is wrapped
// under "result". A long-running tool may return nil to answer later.
type CallableTool interface {
	Tool
	Call(ctx context.Context, jsonArgs []byte) (any, error)
}

// StreamableTool produces a stream of results. In live mode every chunk is
// fed back to the model as user content while the tool keeps running.
type StreamableTool interface {
	Tool
	StreamableCall(ctx context.Context, jsonArgs []byte) (*StreamReader, error)
}

// LongRunner marks tools whose response may arrive in a later event.
type LongRunner interface {
	LongRunning() bool
}

// Named is implemented by tools that have a name without a declaration.
type Named interface {
	Name() string
}

// ToolSet groups tools that are resolved per invocation.
type ToolSet interface {
	Tools(ctx context.Context) []Tool
	Close() error
	Name() string
}

// IsLongRunning reports whether t declares itself long-running.
func IsLongRunning(t Tool) bool {
	lr, ok := t.(LongRunner)
	return ok && lr.LongRunning()
}

// Name returns the function name of t.
func Name(t Tool) string {
	if d := t.Declaration(); d != nil {
		return d.Name
	}
	if n, ok := t.(Named); ok {
		return n.Name()
	}
	return ""
}
