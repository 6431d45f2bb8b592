//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package builtin provides the code executor that runs code inside the
// model provider. It enables the provider's code execution tool on every
// request; results arrive as executable-code and result parts.
package builtin

import (
	"context"
	"errors"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/codeexecutor"
)

var (
	_ codeexecutor.CodeExecutor = (*Executor)(nil)
	_ codeexecutor.ProviderSide = (*Executor)(nil)
)

// ErrProviderSide is returned when asked to run code locally.
var ErrProviderSide = errors.New("builtin code executor runs code on the model provider")

// Executor enables provider-side code execution.
type Executor struct{}

// New returns a provider-side executor.
func New() *Executor { return &Executor{} }

// ConfigureRequest adds the code execution tool unless it is already present.
func (e *Executor) ConfigureRequest(cfg *genai.GenerateContentConfig) {
	for _, t := range cfg.Tools {
		if t != nil && t.CodeExecution != nil {
			return
		}
	}
	cfg.Tools = append(cfg.Tools, &genai.Tool{CodeExecution: &genai.ToolCodeExecution{}})
}

// ExecuteCode always fails; the provider executes the code.
func (e *Executor) ExecuteCode(context.Context, codeexecutor.CodeExecutionInput) (codeexecutor.CodeExecutionResult, error) {
	return codeexecutor.CodeExecutionResult{}, ErrProviderSide
}

// CodeBlockDelimiter returns the markdown fence.
func (e *Executor) CodeBlockDelimiter() codeexecutor.CodeBlockDelimiter {
	return codeexecutor.CodeBlockDelimiter{Start: "```", End: "```"}
}
