//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"errors"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
)

// ErrLLMCallsLimitExceeded is returned once an invocation makes more model
// calls than RunConfig.MaxLLMCalls allows.
var ErrLLMCallsLimitExceeded = errors.New("max number of llm calls exceeded")

// ToolError is a failure raised by a tool that no error callback recovered.
type ToolError struct {
	Tool   string
	CallID string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s (call %s) failed: %v", e.Tool, e.CallID, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// ErrorCode implements coder.
func (e *ToolError) ErrorCode() string { return model.ErrorCodeTool }

// ToolNotFoundError is returned when the model calls an undeclared tool.
type ToolNotFoundError struct {
	Tool      string
	Available []string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found; available tools: %s. "+
		"Possible causes: the model hallucinated the name or the tool was not registered on the agent",
		e.Tool, strings.Join(e.Available, ", "))
}

// ErrorCode implements coder.
func (e *ToolNotFoundError) ErrorCode() string { return model.ErrorCodeTool }

// SchemaValidationError reports final output that does not match the
// agent's output schema.
type SchemaValidationError struct {
	Agent string
	Err   error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("output of agent %s does not match its output schema: %v", e.Agent, e.Err)
}

func (e *SchemaValidationError) Unwrap() error { return e.Err }

// ErrorCode implements coder.
func (e *SchemaValidationError) ErrorCode() string { return model.ErrorCodeSchema }

// TransferTargetMissingError is returned when transfer names an unknown agent.
type TransferTargetMissingError struct {
	Target string
	Known  []string
}

func (e *TransferTargetMissingError) Error() string {
	return fmt.Sprintf("agent %q not found in the agent tree; known agents: %s",
		e.Target, strings.Join(e.Known, ", "))
}

// ErrorCode implements coder.
func (e *TransferTargetMissingError) ErrorCode() string { return model.ErrorCodeTransferTarget }

// ResumeError is returned when history cannot be paired for resumption.
type ResumeError struct {
	CallID string
	Reason string
}

func (e *ResumeError) Error() string {
	if e.CallID == "" {
		return "resume: " + e.Reason
	}
	return fmt.Sprintf("resume: function call %s: %s", e.CallID, e.Reason)
}

// ErrorCode implements coder.
func (e *ResumeError) ErrorCode() string { return model.ErrorCodeResume }

type coder interface {
	ErrorCode() string
}

// ErrorCode maps err to the error code put on error events.
func ErrorCode(err error) string {
	if errors.Is(err, ErrLLMCallsLimitExceeded) {
		return model.ErrorCodeLLMCallsLimit
	}
	var c coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return model.ErrorCodeFlow
}

// AbortError reports that a run ended on an error event that has already
// been emitted, typically by a sub-agent. Wrappers stop without emitting a
// second error event.
type AbortError struct {
	Event *event.Event
}

func (e *AbortError) Error() string {
	if e.Event.Err != nil {
		return e.Event.Err.Error()
	}
	return e.Event.ErrorMessage
}

func (e *AbortError) Unwrap() error { return e.Event.Err }

// AbortOn returns an AbortError if e is an error event, else nil.
func AbortOn(e *event.Event) error {
	if e == nil || e.Response == nil || e.Object != model.ObjectTypeError {
		return nil
	}
	return &AbortError{Event: e}
}
