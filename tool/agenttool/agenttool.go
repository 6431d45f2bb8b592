//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package agenttool wraps an agent as a callable tool.
package agenttool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/schema"
	"trpc.group/trpc-go/trpc-agent-runtime/session"
	"trpc.group/trpc-go/trpc-agent-runtime/session/inmemory"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
)

// FieldRequest is the single argument of agents without an input schema.
const FieldRequest = "request"

const childUserID = "tool_user"

var _ tool.CallableTool = (*Tool)(nil)

// InputSchemaProvider is implemented by agents that accept structured input.
type InputSchemaProvider interface {
	InputSchema() *genai.Schema
}

// Option configures a Tool.
type Option func(*Tool)

// WithSkipSummarization keeps the agent's answer from going back to the
// calling model.
func WithSkipSummarization(skip bool) Option {
	return func(t *Tool) {
		t.skipSummarization = skip
	}
}

// Tool runs an agent in an isolated session seeded with the caller's state.
// The agent's last final text becomes the tool result; state changes made
// by the agent flow back into the caller's state delta.
type Tool struct {
	agent             agent.Agent
	skipSummarization bool
}

// New wraps a. The tool name is the agent name, so it must match the
// provider's function naming rules.
func New(a agent.Agent, opts ...Option) *Tool {
	t := &Tool{agent: a}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Agent returns the wrapped agent.
func (t *Tool) Agent() agent.Agent { return t.agent }

// Declaration implements tool.Tool.
func (t *Tool) Declaration() *genai.FunctionDeclaration {
	info := t.agent.Info()
	params := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			FieldRequest: {Type: genai.TypeString, Description: "The request to send to the agent"},
		},
		Required: []string{FieldRequest},
	}
	if p, ok := t.agent.(InputSchemaProvider); ok && p.InputSchema() != nil {
		params = p.InputSchema()
	}
	return &genai.FunctionDeclaration{Name: info.Name, Description: info.Description, Parameters: params}
}

// Call implements tool.CallableTool.
func (t *Tool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	text, err := t.requestText(jsonArgs)
	if err != nil {
		return nil, err
	}
	tc, _ := agent.ToolContextFromContext(ctx)
	if tc != nil && t.skipSummarization {
		tc.Actions().SkipSummarization = true
	}

	service := inmemory.NewSessionService()
	defer service.Close()
	key := session.Key{AppName: t.agent.Info().Name, UserID: childUserID}
	var state session.StateMap
	var parent *agent.Invocation
	if tc != nil && tc.Invocation != nil {
		parent = tc.Invocation
		if parent.Session != nil {
			key.AppName = parent.Session.AppName
			key.UserID = parent.Session.UserID
			state = parent.Session.SnapshotState()
		}
	}
	sess, err := service.CreateSession(ctx, key, withDelta(state, tc))
	if err != nil {
		return nil, fmt.Errorf("agent tool %s: create session: %w", t.agent.Info().Name, err)
	}

	content := genai.NewContentFromText(text, genai.RoleUser)
	opts := []agent.InvocationOptions{
		agent.WithInvocationAgent(t.agent),
		agent.WithInvocationSession(sess),
		agent.WithInvocationSessionService(service),
		agent.WithInvocationUserContent(content),
	}
	if parent != nil {
		opts = append(opts,
			agent.WithInvocationArtifactService(parent.ArtifactService),
			agent.WithInvocationMemoryService(parent.MemoryService),
			agent.WithInvocationCredentialService(parent.CredentialService),
			agent.WithInvocationPlugins(parent.Plugins),
		)
	}
	inv := agent.NewInvocation(opts...)
	userEvent := event.New(inv.InvocationID, event.AuthorUser, event.WithContent(content))
	if err := service.AppendEvent(ctx, sess, userEvent); err != nil {
		return nil, err
	}

	ch, err := t.agent.Run(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("agent tool %s: %w", t.agent.Info().Name, err)
	}
	var last *event.Event
	for e := range ch {
		if e.Partial {
			continue
		}
		if abort := agent.AbortOn(e); abort != nil {
			for range ch {
			}
			return nil, abort
		}
		if err := service.AppendEvent(ctx, sess, e); err != nil {
			return nil, err
		}
		if tc != nil && e.Actions != nil && len(e.Actions.StateDelta) > 0 {
			for k, v := range e.Actions.StateDelta {
				tc.State().Set(k, v)
			}
		}
		if e.HasContent() {
			last = e
		}
	}
	if parent != nil && last != nil && last.GroundingMetadata != nil {
		parent.RelayGroundingMetadata(last.GroundingMetadata)
	}
	return map[string]any{"result": t.result(last)}, nil
}

func (t *Tool) requestText(jsonArgs []byte) (string, error) {
	if p, ok := t.agent.(InputSchemaProvider); ok && p.InputSchema() != nil {
		if len(jsonArgs) == 0 {
			jsonArgs = []byte("{}")
		}
		if _, err := schema.ValidateJSON(p.InputSchema(), string(jsonArgs)); err != nil {
			return "", fmt.Errorf("agent tool %s: invalid input: %w", t.agent.Info().Name, err)
		}
		return string(jsonArgs), nil
	}
	var args map[string]any
	if len(jsonArgs) > 0 {
		if err := json.Unmarshal(jsonArgs, &args); err != nil {
			return "", fmt.Errorf("agent tool %s: invalid arguments: %w", t.agent.Info().Name, err)
		}
	}
	req, _ := args[FieldRequest].(string)
	return req, nil
}

// result joins the non-thought text of the last event. Agents with an
// output schema answer JSON, which is decoded when possible.
func (t *Tool) result(last *event.Event) any {
	if last == nil || last.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range last.Content.Parts {
		if p != nil && p.Text != "" && !p.Thought {
			b.WriteString(p.Text)
		}
	}
	text := b.String()
	if _, ok := t.agent.(interface{ OutputSchema() *genai.Schema }); ok {
		var v any
		if err := json.Unmarshal([]byte(text), &v); err == nil {
			return v
		}
	}
	return text
}

// withDelta overlays the caller's pending state changes on state.
func withDelta(state session.StateMap, tc *agent.ToolContext) session.StateMap {
	out := session.StateMap{}
	for k, v := range state {
		if strings.HasPrefix(k, session.StateTempPrefix) {
			continue
		}
		out[k] = v
	}
	if tc == nil {
		return out
	}
	for k, v := range tc.Actions().StateDelta {
		if !strings.HasPrefix(k, session.StateTempPrefix) {
			out[k] = v
		}
	}
	return out
}
