//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package event provides the records an invocation appends to a session.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/model"
)

// AuthorUser is the author of events carrying user input.
const AuthorUser = "user"

// Event represents one turn of dialogue or framework step in a session.
type Event struct {
	// Response is the model envelope: content, partial, finish reason, usage
	// and transcription data.
	*model.Response

	// ID is unique within a session.
	ID string `json:"id"`
	// InvocationID is the invocation that produced the event.
	InvocationID string `json:"invocationId"`
	// Author is the agent name, or "user".
	Author string `json:"author"`
	// Branch is the dotted agent path used to isolate parallel branches.
	Branch string `json:"branch,omitempty"`
	// Timestamp is the creation time.
	Timestamp time.Time `json:"timestamp"`

	// LongRunningToolIDs is the set of function call ids whose responses
	// arrive in a later event.
	LongRunningToolIDs map[string]struct{} `json:"longRunningToolIDs,omitempty"`

	// AgentState is the opaque resumable state of Author.
	AgentState json.RawMessage `json:"agentState,omitempty"`

	// Actions are the side effects the event carries.
	Actions *Actions `json:"actions,omitempty"`

	// RequiresCompletion asks the producer to wait until the runner has
	// persisted the event before continuing.
	RequiresCompletion bool `json:"requiresCompletion,omitempty"`
	// CompletionID keys the completion notice of this event.
	CompletionID string `json:"completionId,omitempty"`

	// Err is the error that produced an error event. Not serialized.
	Err error `json:"-"`
}

// Option configures an Event.
type Option func(*Event)

// WithBranch sets the branch for the event.
func WithBranch(branch string) Option {
	return func(e *Event) {
		e.Branch = branch
	}
}

// WithResponse sets the response for the event.
func WithResponse(rsp *model.Response) Option {
	return func(e *Event) {
		if rsp != nil {
			e.Response = rsp
		}
	}
}

// WithContent sets the content of the event.
func WithContent(content *genai.Content) Option {
	return func(e *Event) {
		e.Content = content
	}
}

// WithObject sets the object for the event.
func WithObject(o string) Option {
	return func(e *Event) {
		e.Object = o
	}
}

// WithActions sets the actions for the event.
func WithActions(actions *Actions) Option {
	return func(e *Event) {
		if actions != nil {
			e.Actions = actions
		}
	}
}

// WithStateDelta sets the state delta for the event.
func WithStateDelta(delta map[string]any) Option {
	return func(e *Event) {
		e.Actions.StateDelta = delta
	}
}

// WithAgentState sets the resumable state of the author.
func WithAgentState(state json.RawMessage) Option {
	return func(e *Event) {
		e.AgentState = state
	}
}

// NewID returns a fresh event id.
func NewID() string {
	return uuid.NewString()
}

// New creates an event with a generated id and the current time.
func New(invocationID, author string, opts ...Option) *Event {
	e := &Event{
		Response:     &model.Response{},
		ID:           NewID(),
		InvocationID: invocationID,
		Author:       author,
		Timestamp:    time.Now(),
		Actions:      &Actions{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewResponseEvent creates an event carrying a model response.
func NewResponseEvent(invocationID, author string, rsp *model.Response, opts ...Option) *Event {
	return New(invocationID, author, append([]Option{WithResponse(rsp)}, opts...)...)
}

// NewErrorEvent creates a terminal event describing err. The original error
// stays available through Err for errors.Is and errors.As.
func NewErrorEvent(invocationID, author, code string, err error, opts ...Option) *Event {
	if code == "" {
		code = model.ErrorCodeUnknown
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	e := New(invocationID, author, opts...)
	e.Object = model.ObjectTypeError
	e.ErrorCode = code
	e.ErrorMessage = msg
	e.FinishReason = genai.FinishReasonOther
	e.Err = err
	return e
}

// Clone returns a copy that can be mutated without touching e.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	c.Response = e.Response.Clone()
	if e.LongRunningToolIDs != nil {
		c.LongRunningToolIDs = make(map[string]struct{}, len(e.LongRunningToolIDs))
		for k := range e.LongRunningToolIDs {
			c.LongRunningToolIDs[k] = struct{}{}
		}
	}
	if e.AgentState != nil {
		c.AgentState = append(json.RawMessage(nil), e.AgentState...)
	}
	c.Actions = e.Actions.Clone()
	return &c
}

// IsFinalResponse reports whether the event is the last one an agent emits
// for a step. Events that skip summarization or carry long-running calls are
// final; otherwise the event must be complete and free of function calls,
// function responses and trailing code execution results.
func (e *Event) IsFinalResponse() bool {
	if e == nil {
		return false
	}
	if (e.Actions != nil && e.Actions.SkipSummarization) || len(e.LongRunningToolIDs) > 0 {
		return true
	}
	if e.Response == nil {
		return true
	}
	return len(e.FunctionCalls()) == 0 &&
		len(e.FunctionResponses()) == 0 &&
		!e.Partial &&
		!e.HasTrailingCodeExecutionResult()
}

// HasTrailingCodeExecutionResult reports whether the last part is a code
// execution result.
func (e *Event) HasTrailingCodeExecutionResult() bool {
	if e == nil || e.Response == nil || e.Content == nil || len(e.Content.Parts) == 0 {
		return false
	}
	last := e.Content.Parts[len(e.Content.Parts)-1]
	return last != nil && last.CodeExecutionResult != nil
}

// HasContent reports whether the event has at least one part.
func (e *Event) HasContent() bool {
	return e != nil && e.Response != nil && e.Content != nil && len(e.Content.Parts) > 0
}

// String is a compact form for logs.
func (e *Event) String() string {
	if e == nil {
		return "<nil event>"
	}
	return fmt.Sprintf("event(id=%s author=%s branch=%s inv=%s)", e.ID, e.Author, e.Branch, e.InvocationID)
}

// UnixSeconds converts t to fractional unix seconds, the unit of compaction
// ranges.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
