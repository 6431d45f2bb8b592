//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package event

import (
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// Names of the framework functions the runtime exchanges with clients.
const (
	// RequestCredentialFunctionName asks the client to run an auth flow.
	RequestCredentialFunctionName = "adk_request_credential"
	// RequestConfirmationFunctionName asks the client to approve a tool call.
	RequestConfirmationFunctionName = "adk_request_confirmation"
)

// ClientFunctionCallIDPrefix marks call ids assigned by the runtime rather
// than by the model. They are stripped before contents are sent back.
const ClientFunctionCallIDPrefix = "adk-"

// NewFunctionCallID returns a client-side function call id.
func NewFunctionCallID() string {
	return ClientFunctionCallIDPrefix + uuid.NewString()
}

// PopulateClientFunctionCallIDs assigns ids to calls that have none.
func PopulateClientFunctionCallIDs(content *genai.Content) {
	if content == nil {
		return
	}
	for _, p := range content.Parts {
		if p != nil && p.FunctionCall != nil && p.FunctionCall.ID == "" {
			p.FunctionCall.ID = NewFunctionCallID()
		}
	}
}

// RemoveClientFunctionCallIDs clears runtime-assigned ids from calls and
// responses in content.
func RemoveClientFunctionCallIDs(content *genai.Content) {
	if content == nil {
		return
	}
	for _, p := range content.Parts {
		if p == nil {
			continue
		}
		if p.FunctionCall != nil && strings.HasPrefix(p.FunctionCall.ID, ClientFunctionCallIDPrefix) {
			p.FunctionCall.ID = ""
		}
		if p.FunctionResponse != nil && strings.HasPrefix(p.FunctionResponse.ID, ClientFunctionCallIDPrefix) {
			p.FunctionResponse.ID = ""
		}
	}
}

// IsAuthEvent reports whether e asks the client for credentials.
func (e *Event) IsAuthEvent() bool {
	return e.hasCall(RequestCredentialFunctionName)
}

// IsConfirmationEvent reports whether e asks the client for a confirmation.
func (e *Event) IsConfirmationEvent() bool {
	return e.hasCall(RequestConfirmationFunctionName)
}

func (e *Event) hasCall(name string) bool {
	if e == nil || e.Response == nil {
		return false
	}
	for _, fc := range e.FunctionCalls() {
		if fc.Name == name {
			return true
		}
	}
	return false
}

// HasResponseFor reports whether e answers a call named name.
func (e *Event) HasResponseFor(name string) bool {
	if e == nil || e.Response == nil {
		return false
	}
	for _, fr := range e.FunctionResponses() {
		if fr.Name == name {
			return true
		}
	}
	return false
}
