//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package transfer provides the transfer_to_agent tool.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
)

const (
	// ToolName is the name of the transfer_to_agent tool.
	ToolName = "transfer_to_agent"
	// FieldAgentName is the name of the agent_name field.
	FieldAgentName = "agent_name"
)

var _ tool.CallableTool = (*Tool)(nil)

// Request is the argument of transfer_to_agent.
type Request struct {
	// AgentName is the name of the target agent to transfer to.
	AgentName string `json:"agent_name"`
}

// Tool hands control to another agent of the tree. It only records the
// target on the event actions; the flow runs the target afterwards.
type Tool struct {
	targets []agent.Info
}

// New creates a transfer tool offering targets to the model.
func New(targets []agent.Info) *Tool {
	return &Tool{targets: targets}
}

// Declaration implements tool.Tool.
func (t *Tool) Declaration() *genai.FunctionDeclaration {
	names := make([]string, len(t.targets))
	for i, info := range t.targets {
		names[i] = info.Name
	}
	return &genai.FunctionDeclaration{
		Name: ToolName,
		Description: "Transfer the question to another agent. " +
			"This tool hands off control to another agent when it's more suitable to " +
			"answer the user's question according to the agent's description.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				FieldAgentName: {
					Type:        genai.TypeString,
					Description: "the agent name to transfer to.",
					Enum:        names,
				},
			},
			Required: []string{FieldAgentName},
		},
	}
}

// Call implements tool.CallableTool. The target must exist in the agent
// tree of the invocation.
func (t *Tool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	var req Request
	if err := json.Unmarshal(jsonArgs, &req); err != nil {
		return nil, fmt.Errorf("%s: invalid arguments: %w", ToolName, err)
	}
	tc, ok := agent.ToolContextFromContext(ctx)
	if !ok || tc.Invocation == nil {
		return nil, errors.New(ToolName + ": no tool context available")
	}
	root := agent.Root(tc.Invocation.Agent)
	if req.AgentName == "" || agent.FindAgent(root, req.AgentName) == nil {
		return nil, &agent.TransferTargetMissingError{Target: req.AgentName, Known: agent.Names(root)}
	}
	tc.Actions().TransferToAgent = req.AgentName
	return map[string]any{}, nil
}

// Instructions renders the system instruction describing the targets.
func Instructions(targets []agent.Info, parent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nYou have a list of other agents to transfer to:\n\n")
	for _, info := range targets {
		fmt.Fprintf(&b, "\nAgent name: %s\nAgent description: %s\n", info.Name, info.Description)
	}
	fmt.Fprintf(&b, "\nIf you are the best to answer the question according to your description, you\n"+
		"can answer it.\n\n"+
		"If another agent is better for answering the question according to its\n"+
		"description, call `%s` function to transfer the\n"+
		"question to that agent. When transferring, do not generate any text other than\n"+
		"the function call.\n", ToolName)
	if parent != "" {
		fmt.Fprintf(&b, "\nYour parent agent is %s. If neither the other agents nor\n"+
			"you are best for answering the question according to the descriptions, transfer\n"+
			"to your parent agent.\n", parent)
	}
	return b.String()
}
