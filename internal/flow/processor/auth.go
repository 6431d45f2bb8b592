//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/auth"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/flow"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
)

// Argument names of the framework function calls.
const (
	argFunctionCallID       = "function_call_id"
	argAuthConfig           = "auth_config"
	argOriginalFunctionCall = "originalFunctionCall"
	argToolConfirmation     = "toolConfirmation"
)

// AuthRequestProcessor resumes the calls that were waiting for a
// credential once the user has answered adk_request_credential.
type AuthRequestProcessor struct {
	tools flow.ToolsFunc
}

// NewAuthRequestProcessor creates an auth request processor.
func NewAuthRequestProcessor(tools flow.ToolsFunc) *AuthRequestProcessor {
	return &AuthRequestProcessor{tools: tools}
}

// ProcessRequest implements flow.RequestProcessor.
func (p *AuthRequestProcessor) ProcessRequest(ctx context.Context, inv *agent.Invocation,
	_ *model.Request, ch chan<- *event.Event) error {
	events := inv.GetEvents(false, false)
	requestIDs := make(map[string]bool)
	for k := len(events) - 1; k >= 0; k-- {
		e := events[k]
		if e.Author != event.AuthorUser {
			continue
		}
		for _, fr := range e.FunctionResponses() {
			if fr.Name != event.RequestCredentialFunctionName {
				continue
			}
			requestIDs[fr.ID] = true
			if err := storeAuthResponse(ctx, inv, fr.Response); err != nil {
				return err
			}
		}
		break
	}
	if len(requestIDs) == 0 {
		return nil
	}

	for i := len(events) - 2; i >= 0; i-- {
		resume := make(map[string]bool)
		for _, fc := range events[i].FunctionCalls() {
			if !requestIDs[fc.ID] {
				continue
			}
			if id, _ := fc.Args[argFunctionCallID].(string); id != "" {
				resume[id] = true
			}
		}
		if len(resume) == 0 {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			original := events[j]
			if !containsCall(original, resume) {
				continue
			}
			tools, err := p.tools(ctx, inv)
			if err != nil {
				return err
			}
			rsp, err := HandleFunctionCalls(ctx, inv, original, ToolsMap(tools), resume, nil)
			if err != nil {
				return err
			}
			return agent.EmitEvent(ctx, inv, ch, rsp)
		}
		return nil
	}
	return nil
}

// storeAuthResponse keeps the credential the user returned for the rest of
// the invocation and hands it to the credential service when there is one.
func storeAuthResponse(ctx context.Context, inv *agent.Invocation, response map[string]any) error {
	var cfg auth.Config
	if err := decodeMap(response, &cfg); err != nil {
		return fmt.Errorf("invalid %s response: %w", event.RequestCredentialFunctionName, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid %s response: %w", event.RequestCredentialFunctionName, err)
	}
	cred := cfg.ExchangedCredential
	if cred == nil {
		cred = cfg.RawCredential
	}
	inv.SetTemp(agent.TempCredentialPrefix+cfg.CredentialKey, cred)
	if inv.CredentialService == nil || inv.Session == nil {
		return nil
	}
	scope := auth.Scope{AppName: inv.Session.AppName, UserID: inv.Session.UserID}
	if err := inv.CredentialService.SaveCredential(ctx, scope, &cfg); err != nil {
		return fmt.Errorf("save credential %s: %w", cfg.CredentialKey, err)
	}
	return nil
}

// ConfirmationRequestProcessor resumes the calls the user confirmed or
// rejected through adk_request_confirmation.
type ConfirmationRequestProcessor struct {
	tools flow.ToolsFunc
}

// NewConfirmationRequestProcessor creates a confirmation request processor.
func NewConfirmationRequestProcessor(tools flow.ToolsFunc) *ConfirmationRequestProcessor {
	return &ConfirmationRequestProcessor{tools: tools}
}

// ProcessRequest implements flow.RequestProcessor.
func (p *ConfirmationRequestProcessor) ProcessRequest(ctx context.Context, inv *agent.Invocation,
	_ *model.Request, ch chan<- *event.Event) error {
	events := inv.GetEvents(false, false)
	answers := make(map[string]*event.ToolConfirmation)
	answerIndex := -1
	for k := len(events) - 1; k >= 0; k-- {
		e := events[k]
		if e.Author != event.AuthorUser {
			continue
		}
		for _, fr := range e.FunctionResponses() {
			if fr.Name != event.RequestConfirmationFunctionName {
				continue
			}
			conf, err := decodeConfirmation(fr.Response)
			if err != nil {
				return err
			}
			answers[fr.ID] = conf
		}
		answerIndex = k
		break
	}
	if len(answers) == 0 {
		return nil
	}

	for i := len(events) - 2; i >= 0; i-- {
		confirmations := make(map[string]*event.ToolConfirmation)
		originals := make(map[string]*genai.FunctionCall)
		for _, fc := range events[i].FunctionCalls() {
			conf, ok := answers[fc.ID]
			if !ok {
				continue
			}
			raw, ok := fc.Args[argOriginalFunctionCall].(map[string]any)
			if !ok {
				continue
			}
			var original genai.FunctionCall
			if err := decodeMap(raw, &original); err != nil {
				return fmt.Errorf("invalid %s call %s: %w", event.RequestConfirmationFunctionName, fc.ID, err)
			}
			confirmations[original.ID] = conf
			originals[original.ID] = &original
		}
		if len(confirmations) == 0 {
			continue
		}
		// Calls already resumed after the answer are not run twice.
		for j := len(events) - 1; j > answerIndex && len(confirmations) > 0; j-- {
			for _, fr := range events[j].FunctionResponses() {
				delete(confirmations, fr.ID)
				delete(originals, fr.ID)
			}
		}
		if len(confirmations) == 0 {
			continue
		}
		tools, err := p.tools(ctx, inv)
		if err != nil {
			return err
		}
		rsp, err := HandleFunctionCallList(ctx, inv, sortedCalls(originals), ToolsMap(tools), confirmations)
		if err != nil {
			return err
		}
		return agent.EmitEvent(ctx, inv, ch, rsp)
	}
	return nil
}

// decodeConfirmation accepts either the confirmation itself or a single
// "response" field holding it as JSON text.
func decodeConfirmation(response map[string]any) (*event.ToolConfirmation, error) {
	var conf event.ToolConfirmation
	if raw, ok := response["response"].(string); ok && len(response) == 1 {
		if err := json.Unmarshal([]byte(raw), &conf); err != nil {
			return nil, fmt.Errorf("invalid %s response: %w", event.RequestConfirmationFunctionName, err)
		}
		return &conf, nil
	}
	if err := decodeMap(response, &conf); err != nil {
		return nil, fmt.Errorf("invalid %s response: %w", event.RequestConfirmationFunctionName, err)
	}
	return &conf, nil
}

// AuthRequestEvent builds the event asking the client for the credentials
// that tools requested while producing rsp. It returns nil when none were
// requested.
func AuthRequestEvent(inv *agent.Invocation, rsp *event.Event) *event.Event {
	if rsp == nil || rsp.Actions == nil || len(rsp.Actions.RequestedAuthConfigs) == 0 {
		return nil
	}
	callIDs := make([]string, 0, len(rsp.Actions.RequestedAuthConfigs))
	for id := range rsp.Actions.RequestedAuthConfigs {
		callIDs = append(callIDs, id)
	}
	sort.Strings(callIDs)
	calls := make([]*genai.FunctionCall, 0, len(callIDs))
	for _, id := range callIDs {
		calls = append(calls, &genai.FunctionCall{
			Name: event.RequestCredentialFunctionName,
			Args: map[string]any{
				argFunctionCallID: id,
				argAuthConfig:     encodeMap(rsp.Actions.RequestedAuthConfigs[id]),
			},
		})
	}
	return requestEvent(inv, calls)
}

// ConfirmationRequestEvent builds the event asking the user to confirm the
// calls of callEvent that requested it while producing rsp.
func ConfirmationRequestEvent(inv *agent.Invocation, callEvent, rsp *event.Event) *event.Event {
	if rsp == nil || rsp.Actions == nil || len(rsp.Actions.RequestedToolConfirmations) == 0 {
		return nil
	}
	var calls []*genai.FunctionCall
	for _, fc := range callEvent.FunctionCalls() {
		conf, ok := rsp.Actions.RequestedToolConfirmations[fc.ID]
		if !ok {
			continue
		}
		calls = append(calls, &genai.FunctionCall{
			Name: event.RequestConfirmationFunctionName,
			Args: map[string]any{
				argOriginalFunctionCall: encodeMap(fc),
				argToolConfirmation:     encodeMap(conf),
			},
		})
	}
	if len(calls) == 0 {
		return nil
	}
	return requestEvent(inv, calls)
}

// requestEvent wraps framework calls in a model event whose calls are all
// long-running, so the invocation pauses until the client answers.
func requestEvent(inv *agent.Invocation, calls []*genai.FunctionCall) *event.Event {
	content := &genai.Content{Role: genai.RoleModel}
	ids := make(map[string]struct{}, len(calls))
	for _, fc := range calls {
		fc.ID = event.NewFunctionCallID()
		ids[fc.ID] = struct{}{}
		content.Parts = append(content.Parts, &genai.Part{FunctionCall: fc})
	}
	e := event.New(inv.InvocationID, inv.AgentName, event.WithBranch(inv.Branch), event.WithContent(content))
	e.LongRunningToolIDs = ids
	return e
}

func containsCall(e *event.Event, ids map[string]bool) bool {
	for _, fc := range e.FunctionCalls() {
		if ids[fc.ID] {
			return true
		}
	}
	return false
}

func sortedCalls(calls map[string]*genai.FunctionCall) []*genai.FunctionCall {
	out := make([]*genai.FunctionCall, 0, len(calls))
	for _, fc := range calls {
		out = append(out, fc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func encodeMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		log.Warnf("encode %T: %v", v, err)
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

func decodeMap(m map[string]any, v any) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
