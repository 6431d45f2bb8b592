//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"google.golang.org/genai"
)

// Object kinds carried in Response.Object. They tag framework events that
// are not model output.
const (
	ObjectTypeError        = "error"
	ObjectTypeToolResponse = "tool.response"
	ObjectTypeTransfer     = "agent.transfer"
	ObjectTypeStateUpdate  = "state.update"
	ObjectTypeUserMessage  = "user.message"
	ObjectTypeLive         = "live"
)

// Error codes set by the runtime itself.
const (
	ErrorCodeUnknown        = "UNKNOWN_ERROR"
	ErrorCodeFlow           = "FLOW_ERROR"
	ErrorCodeModel          = "MODEL_ERROR"
	ErrorCodeTool           = "TOOL_ERROR"
	ErrorCodeLLMCallsLimit  = "LLM_CALLS_LIMIT_EXCEEDED"
	ErrorCodeSchema         = "SCHEMA_VALIDATION_ERROR"
	ErrorCodeTransferTarget = "TRANSFER_TARGET_MISSING"
	ErrorCodePlugin         = "PLUGIN_ERROR"
	ErrorCodeResume         = "RESUME_ERROR"
)

// Response is the envelope of one model output, partial or final.
type Response struct {
	Object              string                                      `json:"object,omitempty"`
	Content             *genai.Content                              `json:"content,omitempty"`
	GroundingMetadata   *genai.GroundingMetadata                    `json:"grounding_metadata,omitempty"`
	Partial             bool                                        `json:"partial,omitempty"`
	TurnComplete        bool                                        `json:"turn_complete,omitempty"`
	Interrupted         bool                                        `json:"interrupted,omitempty"`
	FinishReason        genai.FinishReason                          `json:"finish_reason,omitempty"`
	ErrorCode           string                                      `json:"error_code,omitempty"`
	ErrorMessage        string                                      `json:"error_message,omitempty"`
	UsageMetadata       *genai.GenerateContentResponseUsageMetadata `json:"usage_metadata,omitempty"`
	InputTranscription  *genai.Transcription                        `json:"input_transcription,omitempty"`
	OutputTranscription *genai.Transcription                        `json:"output_transcription,omitempty"`
	CacheMetadata       *CacheMetadata                              `json:"cache_metadata,omitempty"`
	InteractionID       string                                      `json:"interaction_id,omitempty"`
	// LiveSessionResumptionHandle is the latest handle a live server issued.
	LiveSessionResumptionHandle string `json:"live_session_resumption_handle,omitempty"`
	// CustomMetadata is free-form data attached by callbacks.
	CustomMetadata map[string]any `json:"custom_metadata,omitempty"`
}

// Clone returns a shallow copy with its own CustomMetadata map.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	if r.CustomMetadata != nil {
		c.CustomMetadata = make(map[string]any, len(r.CustomMetadata))
		for k, v := range r.CustomMetadata {
			c.CustomMetadata[k] = v
		}
	}
	return &c
}

// IsError reports whether the response carries an error code.
func (r *Response) IsError() bool {
	return r != nil && r.ErrorCode != ""
}

// FunctionCalls returns the function calls in the content.
func (r *Response) FunctionCalls() []*genai.FunctionCall {
	if r == nil || r.Content == nil {
		return nil
	}
	var calls []*genai.FunctionCall
	for _, p := range r.Content.Parts {
		if p != nil && p.FunctionCall != nil {
			calls = append(calls, p.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses returns the function responses in the content.
func (r *Response) FunctionResponses() []*genai.FunctionResponse {
	if r == nil || r.Content == nil {
		return nil
	}
	var rsps []*genai.FunctionResponse
	for _, p := range r.Content.Parts {
		if p != nil && p.FunctionResponse != nil {
			rsps = append(rsps, p.FunctionResponse)
		}
	}
	return rsps
}

// NewResponseFromGenAI converts the first candidate of a provider response.
// A candidate without parts becomes an error response unless it stopped
// normally; a response without candidates reports the block reason.
func NewResponseFromGenAI(rsp *genai.GenerateContentResponse) *Response {
	if rsp == nil {
		return &Response{ErrorCode: ErrorCodeUnknown, ErrorMessage: "empty response"}
	}
	if len(rsp.Candidates) == 0 {
		out := &Response{UsageMetadata: rsp.UsageMetadata}
		if fb := rsp.PromptFeedback; fb != nil && fb.BlockReason != "" {
			out.ErrorCode = string(fb.BlockReason)
			out.ErrorMessage = fb.BlockReasonMessage
			return out
		}
		out.ErrorCode = ErrorCodeUnknown
		out.ErrorMessage = "Unknown error."
		return out
	}
	c := rsp.Candidates[0]
	out := &Response{
		GroundingMetadata: c.GroundingMetadata,
		UsageMetadata:     rsp.UsageMetadata,
		FinishReason:      c.FinishReason,
		InteractionID:     rsp.ResponseID,
	}
	if c.Content != nil && len(c.Content.Parts) > 0 {
		out.Content = c.Content
		return out
	}
	if c.FinishReason != "" && c.FinishReason != genai.FinishReasonStop {
		out.ErrorCode = string(c.FinishReason)
		out.ErrorMessage = c.FinishMessage
	}
	return out
}
