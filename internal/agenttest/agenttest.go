//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package agenttest provides scripted models and agents for tests of the
// agent packages.
package agenttest

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

// Model replays one scripted response per call and records the requests.
type Model struct {
	mu        sync.Mutex
	responses []*model.Response
	requests  []*model.Request
}

// NewModel returns a model answering with responses in order.
func NewModel(responses ...*model.Response) *Model {
	return &Model{responses: responses}
}

// Info implements model.Model.
func (m *Model) Info() model.Info { return model.Info{Name: "scripted"} }

// GenerateContent implements model.Model.
func (m *Model) GenerateContent(_ context.Context, req *model.Request,
	_ bool) iter.Seq2[*model.Response, error] {
	m.mu.Lock()
	idx := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return func(yield func(*model.Response, error) bool) {
		if idx >= len(m.responses) {
			yield(Text("out of script"), nil)
			return
		}
		yield(m.responses[idx], nil)
	}
}

// Calls returns how many requests the model received.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Request returns the i-th request.
func (m *Model) Request(i int) *model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

// Text is a model reply with a single text part.
func Text(s string) *model.Response {
	return &model.Response{Content: genai.NewContentFromText(s, genai.RoleModel)}
}

// Call is a model reply with function calls.
func Call(fcs ...*genai.FunctionCall) *model.Response {
	parts := make([]*genai.Part, len(fcs))
	for i, fc := range fcs {
		parts[i] = &genai.Part{FunctionCall: fc}
	}
	return &model.Response{Content: &genai.Content{Role: genai.RoleModel, Parts: parts}}
}

// BodyFunc produces the events of one run of a scripted agent. run counts
// the runs of the agent, starting at 1.
type BodyFunc func(ctx context.Context, inv *agent.Invocation, run int) []*event.Event

// Agent is an agent whose runs are scripted by a BodyFunc.
type Agent struct {
	*agent.Base
	body BodyFunc

	mu   sync.Mutex
	runs int
	seen [][]*event.Event
}

// NewAgent returns a scripted agent.
func NewAgent(name string, body BodyFunc, subs ...agent.Agent) *Agent {
	a := &Agent{body: body}
	a.Base = agent.NewBase(a, agent.Info{Name: name, Description: "scripted " + name}, subs, nil)
	return a
}

// Replying returns a scripted agent answering every run with text.
func Replying(name, text string) *Agent {
	return NewAgent(name, func(_ context.Context, inv *agent.Invocation, _ int) []*event.Event {
		return []*event.Event{Reply(inv, name, text)}
	})
}

// Reply is a text event of author on the branch of inv.
func Reply(inv *agent.Invocation, author, text string) *event.Event {
	return event.New(inv.InvocationID, author, event.WithBranch(inv.Branch),
		event.WithContent(genai.NewContentFromText(text, genai.RoleModel)))
}

// Run implements agent.Agent.
func (a *Agent) Run(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
	return a.RunWith(ctx, inv, func(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event) error {
		a.mu.Lock()
		a.runs++
		run := a.runs
		a.seen = append(a.seen, inv.GetEvents(false, false))
		a.mu.Unlock()
		for _, e := range a.body(ctx, inv, run) {
			if err := agent.EmitEvent(ctx, inv, out, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// RunLive implements agent.Agent.
func (a *Agent) RunLive(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
	return a.Run(ctx, inv)
}

// Runs returns how often the agent ran.
func (a *Agent) Runs() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runs
}

// Seen returns the session events visible at the start of the i-th run.
func (a *Agent) Seen(i int) []*event.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seen[i]
}

// NewSession returns an in-memory session holding events.
func NewSession(events ...*event.Event) *session.Session {
	return &session.Session{ID: "session", AppName: "app", UserID: "user", State: session.StateMap{}, Events: events}
}

// UserEvent is a user message of invocation "inv".
func UserEvent(text string) *event.Event {
	return event.New("inv", event.AuthorUser, event.WithContent(genai.NewContentFromText(text, genai.RoleUser)))
}

// NewInvocation returns invocation "inv" on sess.
func NewInvocation(sess *session.Session, opts ...agent.InvocationOptions) *agent.Invocation {
	return agent.NewInvocation(append([]agent.InvocationOptions{
		agent.WithInvocationID("inv"),
		agent.WithInvocationSession(sess),
	}, opts...)...)
}

// Resumable marks an invocation resumable.
func Resumable() agent.InvocationOptions {
	return agent.WithInvocationResumability(&agent.ResumabilityConfig{IsResumable: true})
}

// Drive runs a the way the runner does: each event is applied to the
// session before its producer continues.
func Drive(ctx context.Context, a agent.Agent, inv *agent.Invocation) ([]*event.Event, error) {
	inv.EnableCompletionNotices()
	events, err := a.Run(ctx, inv)
	if err != nil {
		return nil, err
	}
	var out []*event.Event
	for e := range events {
		out = append(out, e)
		inv.Session.ApplyEvent(e)
		if e.RequiresCompletion {
			inv.NotifyCompletion(e.CompletionID)
		}
	}
	return out, nil
}

// Texts collects the text parts of events in order.
func Texts(events []*event.Event) []string {
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

// Authors lists the author of every event.
func Authors(events []*event.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Author
	}
	return out
}
