//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds span names, attribute keys and span helpers
// shared by the agent, flow and tool layers.
package telemetry

import (
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
)

// Resource and instrumentation names.
const (
	ServiceName      = "trpc-agent-runtime"
	ServiceVersion   = "v0.1.0"
	ServiceNamespace = "trpc-go-agent"
	InstrumentName   = "trpc.agent.runtime"
)

// Exporter protocols.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"
)

// Span names.
const (
	SpanNameCallLLM           = "call_llm"
	SpanNamePrefixExecuteTool = "execute_tool"
	SpanNamePrefixInvokeAgent = "invoke_agent"
)

// Attribute keys.
const (
	KeyEventID      = "trpc.agent.event_id"
	KeySessionID    = "trpc.agent.session_id"
	KeyInvocationID = "trpc.agent.invocation_id"
	KeyBranch       = "trpc.agent.branch"
	KeyLLMRequest   = "trpc.agent.llm_request"
	KeyLLMResponse  = "trpc.agent.llm_response"
	KeyToolArgs     = "trpc.agent.tool_call_args"
	KeyToolResponse = "trpc.agent.tool_response"
)

// NewExecuteToolSpanName returns "execute_tool <name>".
func NewExecuteToolSpanName(toolName string) string {
	return fmt.Sprintf("%s %s", SpanNamePrefixExecuteTool, toolName)
}

// NewInvokeAgentSpanName returns "invoke_agent <name>".
func NewInvokeAgentSpanName(agentName string) string {
	return fmt.Sprintf("%s %s", SpanNamePrefixInvokeAgent, agentName)
}

// TraceAgent annotates an invoke_agent span.
func TraceAgent(span trace.Span, agentName, description, invocationID, branch string) {
	span.SetAttributes(
		attribute.String("gen_ai.operation.name", "invoke_agent"),
		attribute.String("gen_ai.agent.name", agentName),
		attribute.String("gen_ai.agent.description", description),
		attribute.String(KeyInvocationID, invocationID),
		attribute.String(KeyBranch, branch),
	)
}

// TraceToolCall annotates an execute_tool span with the call and its response event.
func TraceToolCall(span trace.Span, decl *genai.FunctionDeclaration, args map[string]any, rsp *event.Event) {
	attrs := []attribute.KeyValue{
		attribute.String("gen_ai.operation.name", "execute_tool"),
	}
	if decl != nil {
		attrs = append(attrs,
			attribute.String("gen_ai.tool.name", decl.Name),
			attribute.String("gen_ai.tool.description", decl.Description),
		)
	}
	attrs = append(attrs, attribute.String(KeyToolArgs, marshal(args)))
	if rsp != nil {
		attrs = append(attrs,
			attribute.String(KeyEventID, rsp.ID),
			attribute.String(KeyToolResponse, marshal(rsp.Content)),
		)
	}
	span.SetAttributes(attrs...)
}

// TraceMergedToolCalls annotates the span wrapping a merged multi-call response.
func TraceMergedToolCalls(span trace.Span, rsp *event.Event) {
	span.SetAttributes(
		attribute.String("gen_ai.operation.name", "execute_tool"),
		attribute.String("gen_ai.tool.name", "(merged tools)"),
		attribute.String(KeyEventID, rsp.ID),
		attribute.String(KeyToolResponse, marshal(rsp.Content)),
	)
}

// TraceCallLLM annotates a call_llm span.
func TraceCallLLM(span trace.Span, invocationID, sessionID string, req *model.Request,
	rsp *model.Response, eventID string) {
	span.SetAttributes(
		attribute.String("gen_ai.operation.name", "generate_content"),
		attribute.String("gen_ai.request.model", req.Model),
		attribute.String(KeyInvocationID, invocationID),
		attribute.String(KeySessionID, sessionID),
		attribute.String(KeyEventID, eventID),
		attribute.String(KeyLLMRequest, marshal(req.Contents)),
		attribute.String(KeyLLMResponse, marshal(rsp)),
	)
	if rsp != nil && rsp.UsageMetadata != nil {
		span.SetAttributes(
			attribute.Int("gen_ai.usage.input_tokens", int(rsp.UsageMetadata.PromptTokenCount)),
			attribute.Int("gen_ai.usage.output_tokens", int(rsp.UsageMetadata.CandidatesTokenCount)),
		)
	}
}

func marshal(v any) string {
	bts, err := json.Marshal(v)
	if err != nil {
		return "<not json serializable>"
	}
	return string(bts)
}

// NewGRPCConn dials the collector without transport security.
func NewGRPCConn(endpoint string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("telemetry: connect collector %s: %w", endpoint, err)
	}
	return conn, nil
}
