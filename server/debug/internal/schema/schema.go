//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package schema defines the JSON payloads of the debug server. Field names
// are camel-case to match the web UI directly.
package schema

import (
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/event"
)

// Session is the wire form of a session.
type Session struct {
	AppName        string         `json:"appName"`
	UserID         string         `json:"userId"`
	ID             string         `json:"id"`
	State          map[string]any `json:"state"`
	Events         []*Event       `json:"events"`
	LastUpdateTime float64        `json:"lastUpdateTime"`
}

// Event is the wire form of an event.
type Event struct {
	ID                  string                                      `json:"id"`
	InvocationID        string                                      `json:"invocationId"`
	Author              string                                      `json:"author"`
	Branch              string                                      `json:"branch,omitempty"`
	Timestamp           float64                                     `json:"timestamp"`
	Content             *genai.Content                              `json:"content,omitempty"`
	Partial             bool                                        `json:"partial,omitempty"`
	TurnComplete        bool                                        `json:"turnComplete,omitempty"`
	Interrupted         bool                                        `json:"interrupted,omitempty"`
	ErrorCode           string                                      `json:"errorCode,omitempty"`
	ErrorMessage        string                                      `json:"errorMessage,omitempty"`
	UsageMetadata       *genai.GenerateContentResponseUsageMetadata `json:"usageMetadata,omitempty"`
	InputTranscription  *genai.Transcription                        `json:"inputTranscription,omitempty"`
	OutputTranscription *genai.Transcription                        `json:"outputTranscription,omitempty"`
	LongRunningToolIDs  []string                                    `json:"longRunningToolIds,omitempty"`
	Actions             *event.Actions                              `json:"actions,omitempty"`
}

// CreateSessionRequest is the optional body of a create session call.
type CreateSessionRequest struct {
	SessionID string         `json:"sessionId,omitempty"`
	State     map[string]any `json:"state,omitempty"`
}

// AgentRunRequest is the body of /run and /run_sse.
type AgentRunRequest struct {
	AppName      string         `json:"appName"`
	UserID       string         `json:"userId"`
	SessionID    string         `json:"sessionId"`
	NewMessage   *genai.Content `json:"newMessage,omitempty"`
	Streaming    bool           `json:"streaming"`
	StateDelta   map[string]any `json:"stateDelta,omitempty"`
	InvocationID string         `json:"invocationId,omitempty"`
}

// LiveRequest is one client frame of /run_live.
type LiveRequest struct {
	Content       *genai.Content `json:"content,omitempty"`
	Blob          *genai.Blob    `json:"blob,omitempty"`
	ActivityStart bool           `json:"activityStart,omitempty"`
	ActivityEnd   bool           `json:"activityEnd,omitempty"`
	Close         bool           `json:"close,omitempty"`
}
