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

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/state"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
)

// GlobalInstructor is implemented by root agents whose instruction applies
// to every agent of the tree.
type GlobalInstructor interface {
	GlobalInstruction() (string, agent.InstructionProvider)
}

// InstructionRequestProcessor resolves the agent's instructions into the
// system instruction of the request.
type InstructionRequestProcessor struct {
	// Instruction is a template; {key} placeholders come from session state.
	Instruction string
	// Provider, when set, replaces Instruction and is used verbatim.
	Provider agent.InstructionProvider
	// Static is sent unchanged as the leading system instruction. When set,
	// the dynamic instruction travels as user content so that the static
	// prefix stays cacheable.
	Static *genai.Content
}

// InstructionOption configures the InstructionRequestProcessor.
type InstructionOption func(*InstructionRequestProcessor)

// WithInstructionProvider sets a provider for the dynamic instruction.
func WithInstructionProvider(p agent.InstructionProvider) InstructionOption {
	return func(ip *InstructionRequestProcessor) {
		ip.Provider = p
	}
}

// WithStaticInstruction sets the static instruction.
func WithStaticInstruction(c *genai.Content) InstructionOption {
	return func(ip *InstructionRequestProcessor) {
		ip.Static = c
	}
}

// NewInstructionRequestProcessor creates a new instruction request processor.
func NewInstructionRequestProcessor(instruction string, opts ...InstructionOption) *InstructionRequestProcessor {
	p := &InstructionRequestProcessor{Instruction: instruction}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessRequest implements flow.RequestProcessor.
func (p *InstructionRequestProcessor) ProcessRequest(ctx context.Context, inv *agent.Invocation,
	req *model.Request, _ chan<- *event.Event) error {
	log.Debugf("Instruction request processor: processing request for agent %s", inv.AgentName)

	if g, ok := agent.Root(inv.Agent).(GlobalInstructor); ok {
		text, provider := g.GlobalInstruction()
		global, err := resolveInstruction(ctx, inv, text, provider)
		if err != nil {
			return fmt.Errorf("global instruction: %w", err)
		}
		req.AppendInstructions(global)
	}

	if p.Static != nil {
		for _, part := range p.Static.Parts {
			if part != nil && part.Text != "" {
				req.AppendInstructions(part.Text)
			}
		}
	}

	instruction, err := resolveInstruction(ctx, inv, p.Instruction, p.Provider)
	if err != nil {
		return fmt.Errorf("instruction: %w", err)
	}
	if instruction == "" {
		return nil
	}
	if p.Static == nil {
		req.AppendInstructions(instruction)
		return nil
	}
	// Picked up by the contents processor and placed before the user turn.
	req.Contents = append(req.Contents, genai.NewContentFromText(instruction, genai.RoleUser))
	return nil
}

func resolveInstruction(ctx context.Context, inv *agent.Invocation, text string,
	provider agent.InstructionProvider) (string, error) {
	if provider != nil {
		return provider(ctx, inv)
	}
	return state.InjectSessionState(ctx, text, inv)
}
