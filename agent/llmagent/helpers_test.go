//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package llmagent

import (
	"context"
	"iter"
	"sync"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/session"
)

// fakeModel answers requests with scripted responses in order.
type fakeModel struct {
	mu        sync.Mutex
	responses []*model.Response
	requests  []*model.Request
}

func newFakeModel(responses ...*model.Response) *fakeModel {
	return &fakeModel{responses: responses}
}

func (m *fakeModel) Info() model.Info { return model.Info{Name: "fake"} }

func (m *fakeModel) GenerateContent(_ context.Context, req *model.Request,
	_ bool) iter.Seq2[*model.Response, error] {
	m.mu.Lock()
	idx := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return func(yield func(*model.Response, error) bool) {
		if idx >= len(m.responses) {
			yield(text("out of script"), nil)
			return
		}
		yield(m.responses[idx], nil)
	}
}

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *fakeModel) request(i int) *model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

func text(s string) *model.Response {
	return &model.Response{Content: genai.NewContentFromText(s, genai.RoleModel)}
}

func calls(fcs ...*genai.FunctionCall) *model.Response {
	parts := make([]*genai.Part, len(fcs))
	for i, fc := range fcs {
		parts[i] = &genai.Part{FunctionCall: fc}
	}
	return &model.Response{Content: &genai.Content{Role: genai.RoleModel, Parts: parts}}
}

func newSession(events ...*event.Event) *session.Session {
	return &session.Session{ID: "s", AppName: "app", UserID: "u", State: session.StateMap{}, Events: events}
}

func userEvent(invocationID, s string) *event.Event {
	return event.New(invocationID, event.AuthorUser, event.WithContent(genai.NewContentFromText(s, genai.RoleUser)))
}

func newInvocation(sess *session.Session, opts ...agent.InvocationOptions) *agent.Invocation {
	return agent.NewInvocation(append([]agent.InvocationOptions{
		agent.WithInvocationID("inv"),
		agent.WithInvocationSession(sess),
	}, opts...)...)
}

// run drives a the way the runner does: events are applied to the session
// before the producer continues.
func run(ctx context.Context, a agent.Agent, inv *agent.Invocation) []*event.Event {
	inv.EnableCompletionNotices()
	ch, err := a.Run(ctx, inv)
	if err != nil {
		panic(err)
	}
	var out []*event.Event
	for e := range ch {
		out = append(out, e)
		inv.Session.ApplyEvent(e)
		if e.RequiresCompletion {
			inv.NotifyCompletion(e.CompletionID)
		}
	}
	return out
}

func texts(events []*event.Event) []string {
	var out []string
	for _, e := range events {
		if !e.HasContent() {
			continue
		}
		for _, p := range e.Content.Parts {
			if p.Text != "" {
				out = append(out, p.Text)
			}
		}
	}
	return out
}
