//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package llmflow

import (
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/flow/processor"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
	"trpc.group/trpc-go/trpc-agent-runtime/tool/transfer"
)

// rewriteAgentCalls maps calls that name a transfer target directly, as
// some models do, onto transfer_to_agent. Calls to declared tools are left
// alone, and nothing changes when the agent cannot transfer.
func rewriteAgentCalls(content *genai.Content, tools map[string]tool.Tool, a agent.Agent) {
	if _, ok := tools[transfer.ToolName]; !ok || a == nil {
		return
	}
	targets := make(map[string]bool)
	for _, info := range processor.TransferTargets(a) {
		targets[info.Name] = true
	}
	for _, p := range content.Parts {
		if p == nil || p.FunctionCall == nil {
			continue
		}
		fc := p.FunctionCall
		if _, declared := tools[fc.Name]; declared || !targets[fc.Name] {
			continue
		}
		log.Debugf("mapping call to agent %s onto %s", fc.Name, transfer.ToolName)
		fc.Args = map[string]any{transfer.FieldAgentName: fc.Name}
		fc.Name = transfer.ToolName
	}
}
