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
	"context"
	"errors"

	"trpc.group/trpc-go/trpc-agent-runtime/auth"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/memory"
)

// TempCredentialPrefix prefixes the invocation temp keys holding
// credentials returned by the user.
const TempCredentialPrefix = "temp:credential:"

// ToolContext is the callback context of one function call.
type ToolContext struct {
	*CallbackContext
	// FunctionCallID is the id of the call being executed.
	FunctionCallID string
	// Confirmation is the user's answer when the call was confirmed.
	Confirmation *event.ToolConfirmation
}

// NewToolContext creates a tool context for call id recording into actions.
func NewToolContext(ctx context.Context, inv *Invocation, callID string,
	confirmation *event.ToolConfirmation, actions *event.Actions) *ToolContext {
	return &ToolContext{
		CallbackContext: NewCallbackContext(ctx, inv, actions),
		FunctionCallID:  callID,
		Confirmation:    confirmation,
	}
}

type toolContextKey struct{}

// WithToolContext stores tc in ctx so that tools and tool callbacks can reach it.
func WithToolContext(ctx context.Context, tc *ToolContext) context.Context {
	return context.WithValue(ctx, toolContextKey{}, tc)
}

// ToolContextFromContext returns the tool context stored in ctx.
func ToolContextFromContext(ctx context.Context) (*ToolContext, bool) {
	tc, ok := ctx.Value(toolContextKey{}).(*ToolContext)
	return tc, ok
}

// RequestCredential asks the client for a credential. The call is
// answered through an adk_request_credential round trip and re-executed.
func (tc *ToolContext) RequestCredential(cfg *auth.Config) error {
	if tc.FunctionCallID == "" {
		return errors.New("request credential: no function call id")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	tc.state.mu.Lock()
	defer tc.state.mu.Unlock()
	if tc.actions.RequestedAuthConfigs == nil {
		tc.actions.RequestedAuthConfigs = make(map[string]*auth.Config)
	}
	tc.actions.RequestedAuthConfigs[tc.FunctionCallID] = cfg
	return nil
}

// AuthResponse returns the credential the user supplied for cfg in this
// invocation, falling back to the credential service.
func (tc *ToolContext) AuthResponse(cfg *auth.Config) (*auth.Credential, error) {
	if tc.Invocation == nil {
		return nil, auth.ErrCredentialNotFound
	}
	if v, ok := tc.Invocation.Temp(TempCredentialPrefix + cfg.CredentialKey); ok {
		if cred, ok := v.(*auth.Credential); ok {
			return cred, nil
		}
	}
	svc := tc.Invocation.CredentialService
	sess := tc.Invocation.Session
	if svc == nil || sess == nil {
		return nil, auth.ErrCredentialNotFound
	}
	return svc.LoadCredential(tc.Context, auth.Scope{AppName: sess.AppName, UserID: sess.UserID}, cfg)
}

// RequestConfirmation asks the user to confirm the call before it runs.
func (tc *ToolContext) RequestConfirmation(hint string, payload any) error {
	if tc.FunctionCallID == "" {
		return errors.New("request confirmation: no function call id")
	}
	tc.state.mu.Lock()
	defer tc.state.mu.Unlock()
	if tc.actions.RequestedToolConfirmations == nil {
		tc.actions.RequestedToolConfirmations = make(map[string]*event.ToolConfirmation)
	}
	tc.actions.RequestedToolConfirmations[tc.FunctionCallID] = &event.ToolConfirmation{Hint: hint, Payload: payload}
	return nil
}

// SearchMemory queries the memory service for the current user.
func (tc *ToolContext) SearchMemory(query string) ([]*memory.Entry, error) {
	if tc.Invocation == nil || tc.Invocation.MemoryService == nil {
		return nil, errors.New("memory service is not available")
	}
	sess := tc.Invocation.Session
	if sess == nil {
		return nil, errors.New("invocation exists but no session available")
	}
	return tc.Invocation.MemoryService.SearchMemory(tc.Context,
		memory.UserKey{AppName: sess.AppName, UserID: sess.UserID}, query)
}
