//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package llmagent

import (
	"context"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/flow/processor"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
	"trpc.group/trpc-go/trpc-agent-runtime/tool/agenttool"
	"trpc.group/trpc-go/trpc-agent-runtime/tool/googlesearch"
)

// SearchAgentName names the agent that runs Google Search on behalf of an
// agent that also has function tools.
const SearchAgentName = "google_search_agent"

const searchAgentInstruction = "You are a specialized Google search agent. " +
	"When given a search query, use the google_search tool to find the related information."

// CanonicalTools flattens the agent's tools and tool sets. The builtin
// Google Search cannot be combined with function tools by the provider, so
// next to other tools it is served through a dedicated search agent.
func (a *LLMAgent) CanonicalTools(ctx context.Context) []tool.Tool {
	tools := append([]tool.Tool(nil), a.opts.Tools...)
	for _, ts := range a.opts.ToolSets {
		tools = append(tools, ts.Tools(ctx)...)
	}
	if len(tools) < 2 {
		return tools
	}
	for i, t := range tools {
		if tool.Name(t) == googlesearch.Name {
			tools[i] = agenttool.New(a.searchTool())
		}
	}
	return tools
}

func (a *LLMAgent) searchTool() *LLMAgent {
	if s := a.searchAgent.Load(); s != nil {
		return s
	}
	s := New(SearchAgentName,
		WithModel(a.CanonicalModel()),
		WithDescription("An agent for performing Google search using the google_search tool"),
		WithInstruction(searchAgentInstruction),
		WithTools([]tool.Tool{googlesearch.New()}),
		WithDisallowTransferToParent(true),
		WithDisallowTransferToPeers(true),
	)
	if a.searchAgent.CompareAndSwap(nil, s) {
		return s
	}
	return a.searchAgent.Load()
}

// flowTools resolves the tools of one request. A live sub-agent of a
// sequential agent also gets task_completed so the parent can move on.
func (a *LLMAgent) flowTools(ctx context.Context, inv *agent.Invocation) ([]tool.Tool, error) {
	tools := a.CanonicalTools(ctx)
	if inv.LiveTaskCompletion {
		tools = append(tools, processor.TaskCompletedTool{})
	}
	return tools, nil
}
