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

	"trpc.group/trpc-go/trpc-agent-runtime/tool"
)

// Request is the mutable request built by the request processors for one
// model call.
type Request struct {
	// Model is the provider model id.
	Model string `json:"model,omitempty"`
	// Contents is the ordered conversation the model sees.
	Contents []*genai.Content `json:"contents,omitempty"`
	// Config carries the system instruction, tools, tool config, response
	// schema, labels and http options.
	Config *genai.GenerateContentConfig `json:"config,omitempty"`
	// LiveConnectConfig is used instead of Config for live connections.
	LiveConnectConfig *genai.LiveConnectConfig `json:"live_connect_config,omitempty"`
	// Tools maps declared function names to the tools that implement them.
	Tools map[string]tool.Tool `json:"-"`
	// CacheConfig enables context caching when set.
	CacheConfig *CacheConfig `json:"cache_config,omitempty"`
	// CacheMetadata is the cache state carried from the previous response.
	CacheMetadata *CacheMetadata `json:"cache_metadata,omitempty"`
	// CacheableContentsTokenCount is the prompt token count of the previous
	// response, used to decide whether creating a cache is worth it.
	CacheableContentsTokenCount int32 `json:"cacheable_contents_token_count,omitempty"`
	// PreviousInteractionID chains stateful interactions.
	PreviousInteractionID string `json:"previous_interaction_id,omitempty"`
}

// NewRequest returns a request with empty config and tools.
func NewRequest() *Request {
	return &Request{
		Config:            &genai.GenerateContentConfig{},
		LiveConnectConfig: &genai.LiveConnectConfig{},
		Tools:             map[string]tool.Tool{},
	}
}

func (r *Request) ensureConfig() {
	if r.Config == nil {
		r.Config = &genai.GenerateContentConfig{}
	}
	if r.Tools == nil {
		r.Tools = map[string]tool.Tool{}
	}
}

// AppendInstructions appends text to the system instruction, separated by
// a blank line.
func (r *Request) AppendInstructions(instructions ...string) {
	r.ensureConfig()
	for _, inst := range instructions {
		if inst == "" {
			continue
		}
		si := r.Config.SystemInstruction
		if si == nil {
			r.Config.SystemInstruction = genai.NewContentFromText(inst, genai.RoleUser)
			continue
		}
		if n := len(si.Parts); n > 0 && si.Parts[n-1].Text != "" {
			si.Parts[n-1].Text += "\n\n" + inst
			continue
		}
		si.Parts = append(si.Parts, genai.NewPartFromText(inst))
	}
}

// SystemInstructionText joins the text parts of the system instruction.
func (r *Request) SystemInstructionText() string {
	if r.Config == nil || r.Config.SystemInstruction == nil {
		return ""
	}
	var out string
	for _, p := range r.Config.SystemInstruction.Parts {
		if p.Text == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += p.Text
	}
	return out
}

// AppendTools registers the declarations of tools and indexes them by name.
// Tools without a declaration are skipped; builtin provider tools edit the
// request through ToolRequestProcessor instead.
func (r *Request) AppendTools(tools ...tool.Tool) {
	r.ensureConfig()
	for _, t := range tools {
		decl := t.Declaration()
		if decl == nil {
			continue
		}
		r.Tools[decl.Name] = t
		r.functionTool().FunctionDeclarations = append(r.functionTool().FunctionDeclarations, decl)
	}
}

func (r *Request) functionTool() *genai.Tool {
	for _, t := range r.Config.Tools {
		if t != nil && t.FunctionDeclarations != nil {
			return t
		}
	}
	t := &genai.Tool{FunctionDeclarations: []*genai.FunctionDeclaration{}}
	r.Config.Tools = append(r.Config.Tools, t)
	return t
}

// SetOutputSchema asks the model for JSON output matching schema.
func (r *Request) SetOutputSchema(schema *genai.Schema) {
	r.ensureConfig()
	r.Config.ResponseSchema = schema
	r.Config.ResponseMIMEType = "application/json"
}

// HasTools reports whether any function declarations or builtin tools are set.
func (r *Request) HasTools() bool {
	return r.Config != nil && len(r.Config.Tools) > 0
}
