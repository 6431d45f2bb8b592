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
	"encoding/json"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/flow"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/schema"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
)

// SetModelResponseToolName is the tool through which a model that cannot
// combine tools with a response schema delivers its structured answer.
const SetModelResponseToolName = "set_model_response"

const setModelResponseInstruction = "IMPORTANT: You have access to other tools, but you must provide " +
	"your final response using the " + SetModelResponseToolName + " tool with the required structured " +
	"format. After using any other tools needed to complete the task, always call " +
	SetModelResponseToolName + " with your final answer in the specified structured format."

// setModelResponseTool validates its arguments against the output schema
// and returns them as the final answer.
type setModelResponseTool struct {
	agentName string
	schema    *genai.Schema
}

func (t *setModelResponseTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        SetModelResponseToolName,
		Description: "Set your final response using the required output schema.",
		Parameters:  t.schema,
	}
}

func (t *setModelResponseTool) Call(_ context.Context, jsonArgs []byte) (any, error) {
	v, err := schema.ValidateJSON(t.schema, string(jsonArgs))
	if err != nil {
		return nil, &agent.SchemaValidationError{Agent: t.agentName, Err: err}
	}
	return v, nil
}

// OutputSchemaRequestProcessor registers set_model_response when the agent
// has both tools and an output schema and the model cannot honor a response
// schema next to tools.
type OutputSchemaRequestProcessor struct {
	Schema *genai.Schema
	tools  flow.ToolsFunc
}

// NewOutputSchemaRequestProcessor creates a new output schema request processor.
func NewOutputSchemaRequestProcessor(s *genai.Schema, tools flow.ToolsFunc) *OutputSchemaRequestProcessor {
	return &OutputSchemaRequestProcessor{Schema: s, tools: tools}
}

// ProcessRequest implements flow.RequestProcessor.
func (p *OutputSchemaRequestProcessor) ProcessRequest(ctx context.Context, inv *agent.Invocation,
	req *model.Request, _ chan<- *event.Event) error {
	if p.Schema == nil || p.tools == nil || model.SupportsOutputSchemaWithTools(inv.Model) {
		return nil
	}
	tools, err := p.tools(ctx, inv)
	if err != nil {
		return err
	}
	if len(tools) == 0 {
		return nil
	}
	req.AppendTools(NewSetModelResponseTool(inv.AgentName, p.Schema))
	req.AppendInstructions(setModelResponseInstruction)
	return nil
}

// NewSetModelResponseTool returns the set_model_response tool for s.
func NewSetModelResponseTool(agentName string, s *genai.Schema) tool.CallableTool {
	return &setModelResponseTool{agentName: agentName, schema: s}
}

// StructuredModelResponse returns the JSON answer carried by a
// set_model_response function response in e.
func StructuredModelResponse(e *event.Event) (string, bool) {
	for _, fr := range e.FunctionResponses() {
		if fr.Name != SetModelResponseToolName {
			continue
		}
		var v any = fr.Response
		if r, ok := fr.Response[resultKey]; ok && len(fr.Response) == 1 {
			v = r
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
	return "", false
}

// FinalModelResponseEvent turns a structured answer into the agent's final
// text response.
func FinalModelResponseEvent(inv *agent.Invocation, text string) *event.Event {
	return event.New(inv.InvocationID, inv.AgentName, event.WithBranch(inv.Branch),
		event.WithContent(genai.NewContentFromText(text, genai.RoleModel)))
}
