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
	"fmt"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
)

// IdentityRequestProcessor tells the model which agent it is.
type IdentityRequestProcessor struct {
	AgentName   string
	Description string
}

// NewIdentityRequestProcessor creates a new identity request processor.
func NewIdentityRequestProcessor(agentName, description string) *IdentityRequestProcessor {
	return &IdentityRequestProcessor{
		AgentName:   agentName,
		Description: description,
	}
}

// ProcessRequest implements flow.RequestProcessor.
func (p *IdentityRequestProcessor) ProcessRequest(_ context.Context, _ *agent.Invocation,
	req *model.Request, _ chan<- *event.Event) error {
	req.AppendInstructions(IdentityInstruction(p.AgentName, p.Description))
	return nil
}

// IdentityInstruction renders the identity sentence for an agent.
func IdentityInstruction(name, description string) string {
	s := fmt.Sprintf("You are an agent. Your internal name is %q.", name)
	if description != "" {
		s += fmt.Sprintf(" The description about you is %q.", description)
	}
	return s
}
