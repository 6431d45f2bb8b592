//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package googlesearch provides the provider builtin Google Search tool.
// The tool has no declaration; it enables grounding on the request and the
// model runs the search server side.
package googlesearch

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
)

// Name is the name of the builtin search tool.
const Name = "google_search"

var (
	_ tool.Tool                  = (*Tool)(nil)
	_ model.ToolRequestProcessor = (*Tool)(nil)
)

// Tool is the builtin Google Search tool.
type Tool struct{}

// New returns the builtin Google Search tool.
func New() *Tool {
	return &Tool{}
}

// Name returns the tool name.
func (*Tool) Name() string { return Name }

// Declaration returns nil; the tool is not a function.
func (*Tool) Declaration() *genai.FunctionDeclaration { return nil }

// ProcessRequest enables grounding with Google Search. Gemini 1.x models use
// the legacy retrieval config.
func (*Tool) ProcessRequest(_ context.Context, req *model.Request) error {
	if req.Config == nil {
		req.Config = &genai.GenerateContentConfig{}
	}
	switch {
	case strings.HasPrefix(req.Model, "gemini-1"):
		if len(req.Config.Tools) > 0 {
			return fmt.Errorf("%s cannot be combined with other tools on %s", Name, req.Model)
		}
		req.Config.Tools = append(req.Config.Tools, &genai.Tool{GoogleSearchRetrieval: &genai.GoogleSearchRetrieval{}})
	default:
		req.Config.Tools = append(req.Config.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	return nil
}
