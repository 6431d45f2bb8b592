//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package codeexecutor defines how code written by the model is executed and
// how its results are fed back into the conversation.
package codeexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"google.golang.org/genai"
)

// Session state keys used by code execution.
const (
	// StateKeyInputFiles holds the data files extracted from user turns.
	StateKeyInputFiles = "_code_executor_input_files"
	// StateKeyProcessedFiles holds the names of files already extracted.
	StateKeyProcessedFiles = "_code_executor_processed_files"
)

// DefaultErrorRetryAttempts caps consecutive failed executions in one invocation.
const DefaultErrorRetryAttempts = 2

// CodeExecutor is an interface for executing code blocks in different environments.
type CodeExecutor interface {
	// ExecuteCode executes the code blocks provided in the input and returns the result.
	ExecuteCode(context.Context, CodeExecutionInput) (CodeExecutionResult, error)
	// CodeBlockDelimiter returns the delimiters used for code blocks.
	CodeBlockDelimiter() CodeBlockDelimiter
}

// ProviderSide is implemented by executors whose code runs inside the model
// provider. They only configure the request; nothing runs locally.
type ProviderSide interface {
	ConfigureRequest(cfg *genai.GenerateContentConfig)
}

// DataFileOptimizer is implemented by executors that want inline CSV
// attachments replaced by file references and loaded before execution.
type DataFileOptimizer interface {
	OptimizeDataFile() bool
}

// RetryLimiter is implemented by executors with a custom error retry budget.
type RetryLimiter interface {
	ErrorRetryAttempts() int
}

// ErrorRetryAttempts returns the retry budget of e.
func ErrorRetryAttempts(e CodeExecutor) int {
	if r, ok := e.(RetryLimiter); ok {
		return r.ErrorRetryAttempts()
	}
	return DefaultErrorRetryAttempts
}

// CodeExecutionInput represents the input for code execution, containing code blocks and an execution ID.
type CodeExecutionInput struct {
	CodeBlocks  []CodeBlock
	InputFiles  []File
	ExecutionID string
}

// CodeExecutionResult represents the result of code execution, including output and any generated files.
type CodeExecutionResult struct {
	Stdout      string
	Stderr      string
	OutputFiles []File
}

// Outcome maps the result onto the provider's outcome enum.
func (r CodeExecutionResult) Outcome() genai.Outcome {
	if r.Stderr != "" {
		return genai.OutcomeFailed
	}
	return genai.OutcomeOK
}

// String formats the result the way it is shown to the model.
func (r CodeExecutionResult) String() string {
	if r.Stderr != "" {
		return fmt.Sprintf("Code execution result:\n%s\n", r.Stderr)
	}
	var names []string
	for _, f := range r.OutputFiles {
		names = append(names, "`"+f.Name+"`")
	}
	switch {
	case r.Stdout != "" && len(names) > 0:
		return fmt.Sprintf("Code execution result:\n%s\nSaved artifacts:\n%s", r.Stdout, strings.Join(names, ","))
	case r.Stdout != "":
		return fmt.Sprintf("Code execution result:\n%s\n", r.Stdout)
	case len(names) > 0:
		return "Code execution result:\nSaved artifacts:\n" + strings.Join(names, ",")
	}
	return "Code execution result: No output or errors."
}

// Part converts the result into a code-execution-result part.
func (r CodeExecutionResult) Part() *genai.Part {
	return genai.NewPartFromCodeExecutionResult(r.Outcome(), r.String())
}

// File represents a file generated during code execution.
type File struct {
	Name     string `json:"name"`
	Content  []byte `json:"content"`
	MIMEType string `json:"mime_type"`
}

// CodeBlock represents a single block of code to be executed.
type CodeBlock struct {
	Code     string
	Language string
}

// CodeBlockDelimiter defines the start and end delimiters for code blocks.
type CodeBlockDelimiter struct {
	Start string
	End   string
}

func blockPattern(delimiter CodeBlockDelimiter) *regexp.Regexp {
	return regexp.MustCompile(`(?s)` + regexp.QuoteMeta(delimiter.Start) + `([^\n]*)\n(.*?)` +
		regexp.QuoteMeta(delimiter.End))
}

// ExtractCodeBlock extracts code blocks from the input string.
// input: "```python\nprint('Hello, World!')```", delimiter: CodeBlockDelimiter{Start: "```", End: "```"}
// output: []CodeBlock{{Code: "print('Hello, World!')", Language: "python"}}
func ExtractCodeBlock(input string, delimiter CodeBlockDelimiter) []CodeBlock {
	var blocks []CodeBlock
	for _, match := range blockPattern(delimiter).FindAllStringSubmatch(input, -1) {
		blocks = append(blocks, CodeBlock{
			Code:     match[2],
			Language: strings.TrimSpace(match[1]),
		})
	}
	return blocks
}

// ExtractAndTruncate finds the first piece of code in content and cuts the
// content right after it. An executable-code part wins over text blocks;
// text is split at the first block into prose, an executable-code part, and
// nothing after. Returns nil when content holds no code.
func ExtractAndTruncate(content *genai.Content, delimiter CodeBlockDelimiter) *CodeBlock {
	if content == nil || len(content.Parts) == 0 {
		return nil
	}
	for i, p := range content.Parts {
		if p != nil && p.ExecutableCode != nil {
			content.Parts = content.Parts[:i+1]
			return &CodeBlock{Code: p.ExecutableCode.Code, Language: string(p.ExecutableCode.Language)}
		}
	}
	var text strings.Builder
	for _, p := range content.Parts {
		if p != nil && p.Text != "" && !p.Thought {
			text.WriteString(p.Text)
		}
	}
	full := text.String()
	loc := blockPattern(delimiter).FindStringSubmatchIndex(full)
	if loc == nil {
		return nil
	}
	block := &CodeBlock{
		Language: strings.TrimSpace(full[loc[2]:loc[3]]),
		Code:     full[loc[4]:loc[5]],
	}
	var parts []*genai.Part
	if prefix := full[:loc[0]]; prefix != "" {
		parts = append(parts, genai.NewPartFromText(prefix))
	}
	parts = append(parts, genai.NewPartFromExecutableCode(block.Code, genai.LanguagePython))
	content.Parts = parts
	return block
}

// DecodeFiles reads a file list stored in session state. Values that went
// through a JSON store come back as generic maps and are decoded again.
func DecodeFiles(v any) []File {
	switch files := v.(type) {
	case nil:
		return nil
	case []File:
		return files
	default:
		raw, err := json.Marshal(files)
		if err != nil {
			return nil
		}
		var out []File
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil
		}
		return out
	}
}
