//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package processor provides the request and response processors of the
// LLM flow, the function-call executor and the content assembler.
package processor

import (
	"context"
	"maps"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/flow"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
)

// BasicRequestProcessor sets the model id, the generation config and the
// live connect config of the request.
type BasicRequestProcessor struct {
	// GenerateConfig is the agent's generation config, copied into every request.
	GenerateConfig *genai.GenerateContentConfig
	// OutputSchema constrains the final response when set.
	OutputSchema *genai.Schema

	tools flow.ToolsFunc
}

// BasicOption is a functional option for configuring the BasicRequestProcessor.
type BasicOption func(*BasicRequestProcessor)

// WithGenerateContentConfig sets the generation config.
func WithGenerateContentConfig(cfg *genai.GenerateContentConfig) BasicOption {
	return func(p *BasicRequestProcessor) {
		p.GenerateConfig = cfg
	}
}

// WithOutputSchema sets the response schema.
func WithOutputSchema(s *genai.Schema) BasicOption {
	return func(p *BasicRequestProcessor) {
		p.OutputSchema = s
	}
}

// WithBasicTools lets the processor know whether the agent has tools, which
// decides if the response schema can be sent natively.
func WithBasicTools(tools flow.ToolsFunc) BasicOption {
	return func(p *BasicRequestProcessor) {
		p.tools = tools
	}
}

// NewBasicRequestProcessor creates a new basic request processor.
func NewBasicRequestProcessor(opts ...BasicOption) *BasicRequestProcessor {
	p := &BasicRequestProcessor{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessRequest implements flow.RequestProcessor.
func (p *BasicRequestProcessor) ProcessRequest(ctx context.Context, inv *agent.Invocation,
	req *model.Request, _ chan<- *event.Event) error {
	log.Debugf("Basic request processor: processing request for agent %s", inv.AgentName)
	if inv.Model != nil {
		req.Model = inv.Model.Info().Name
	}
	req.Config = cloneGenerateConfig(p.GenerateConfig)

	if p.OutputSchema != nil {
		hasTools := false
		if p.tools != nil {
			tools, err := p.tools(ctx, inv)
			if err != nil {
				return err
			}
			hasTools = len(tools) > 0
		}
		if !hasTools || model.SupportsOutputSchemaWithTools(inv.Model) {
			req.SetOutputSchema(p.OutputSchema)
		}
	}

	if req.LiveConnectConfig == nil {
		req.LiveConnectConfig = &genai.LiveConnectConfig{}
	}
	if rc := inv.RunConfig; rc != nil {
		lc := req.LiveConnectConfig
		lc.ResponseModalities = rc.ResponseModalities
		lc.SpeechConfig = rc.SpeechConfig
		lc.InputAudioTranscription = rc.InputAudioTranscription
		lc.OutputAudioTranscription = rc.OutputAudioTranscription
		lc.RealtimeInputConfig = rc.RealtimeInputConfig
		lc.Proactivity = rc.Proactivity
		lc.SessionResumption = rc.SessionResumption
		lc.ContextWindowCompression = rc.ContextWindowCompression
		if rc.EnableAffectiveDialog {
			lc.EnableAffectiveDialog = genai.Ptr(true)
		}
	}
	return nil
}

// cloneGenerateConfig copies cfg so that processors can append tools and
// instructions without touching the agent's config.
func cloneGenerateConfig(cfg *genai.GenerateContentConfig) *genai.GenerateContentConfig {
	if cfg == nil {
		return &genai.GenerateContentConfig{}
	}
	c := *cfg
	c.Labels = maps.Clone(cfg.Labels)
	c.Tools = make([]*genai.Tool, 0, len(cfg.Tools))
	for _, t := range cfg.Tools {
		if t != nil {
			ct := *t
			ct.FunctionDeclarations = append([]*genai.FunctionDeclaration(nil), t.FunctionDeclarations...)
			c.Tools = append(c.Tools, &ct)
		}
	}
	if cfg.SystemInstruction != nil {
		si := *cfg.SystemInstruction
		si.Parts = make([]*genai.Part, 0, len(cfg.SystemInstruction.Parts))
		for _, part := range cfg.SystemInstruction.Parts {
			if part != nil {
				cp := *part
				si.Parts = append(si.Parts, &cp)
			}
		}
		c.SystemInstruction = &si
	}
	return &c
}
