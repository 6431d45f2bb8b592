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
	"iter"
	"time"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/session"
)

// testAgent is a no-op agent used to build agent trees.
type testAgent struct {
	*agent.Base
}

func newTestAgent(name string, subs ...agent.Agent) *testAgent {
	a := &testAgent{}
	a.Base = agent.NewBase(a, agent.Info{Name: name, Description: "agent " + name}, subs, nil)
	return a
}

func (a *testAgent) Run(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
	return a.RunWith(ctx, inv, func(context.Context, *agent.Invocation, chan<- *event.Event) error { return nil })
}

func (a *testAgent) RunLive(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
	return a.Run(ctx, inv)
}

// transferAgent takes part in agent transfer like an LLM agent does.
type transferAgent struct {
	*agent.Base
	noParent bool
	noPeers  bool
}

func newTransferAgent(name string, noParent, noPeers bool, subs ...agent.Agent) *transferAgent {
	a := &transferAgent{noParent: noParent, noPeers: noPeers}
	a.Base = agent.NewBase(a, agent.Info{Name: name, Description: "agent " + name}, subs, nil)
	return a
}

func (a *transferAgent) Run(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
	return a.RunWith(ctx, inv, func(context.Context, *agent.Invocation, chan<- *event.Event) error { return nil })
}

func (a *transferAgent) RunLive(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
	return a.Run(ctx, inv)
}

func (a *transferAgent) DisallowTransferToParent() bool { return a.noParent }
func (a *transferAgent) DisallowTransferToPeers() bool  { return a.noPeers }

// stubModel only reports its name.
type stubModel struct {
	name         string
	schemaTools  bool
	interactions bool
}

func (m *stubModel) Info() model.Info { return model.Info{Name: m.name} }

func (m *stubModel) GenerateContent(context.Context, *model.Request, bool) iter.Seq2[*model.Response, error] {
	return func(func(*model.Response, error) bool) {}
}

func (m *stubModel) SupportsOutputSchemaWithTools() bool { return m.schemaTools }
func (m *stubModel) UsesInteractionsAPI() bool           { return m.interactions }

func newTestSession(events ...*event.Event) *session.Session {
	return &session.Session{
		ID:      "session",
		AppName: "app",
		UserID:  "user",
		State:   session.StateMap{},
		Events:  events,
	}
}

func newTestInvocation(a agent.Agent, sess *session.Session) *agent.Invocation {
	return agent.NewInvocation(
		agent.WithInvocationAgent(a),
		agent.WithInvocationSession(sess),
	)
}

func textEvent(invID, author, branch, text string) *event.Event {
	role := genai.RoleModel
	if author == event.AuthorUser {
		role = genai.RoleUser
	}
	return event.New(invID, author, event.WithBranch(branch),
		event.WithContent(genai.NewContentFromText(text, genai.Role(role))))
}

func callEvent(invID, author string, calls ...*genai.FunctionCall) *event.Event {
	parts := make([]*genai.Part, len(calls))
	for i, fc := range calls {
		parts[i] = &genai.Part{FunctionCall: fc}
	}
	return event.New(invID, author, event.WithContent(&genai.Content{Role: genai.RoleModel, Parts: parts}))
}

func responseEvent(invID, author string, rsps ...*genai.FunctionResponse) *event.Event {
	parts := make([]*genai.Part, len(rsps))
	for i, fr := range rsps {
		parts[i] = &genai.Part{FunctionResponse: fr}
	}
	return event.New(invID, author, event.WithContent(&genai.Content{Role: genai.RoleUser, Parts: parts}))
}

func at(e *event.Event, sec int64) *event.Event {
	e.Timestamp = time.Unix(sec, 0)
	return e
}

func texts(contents []*genai.Content) []string {
	var out []string
	for _, c := range contents {
		for _, p := range c.Parts {
			if p.Text != "" {
				out = append(out, p.Text)
			}
		}
	}
	return out
}
