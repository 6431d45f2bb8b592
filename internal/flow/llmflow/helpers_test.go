//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package llmflow

import (
	"context"
	"iter"
	"sync"
	"time"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/flow"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/session"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
)

func init() {
	transferGrace = 10 * time.Millisecond
}

// turn is what the scripted model answers to one call.
type turn struct {
	chunks []*model.Response
	err    error
}

// scriptedModel replays one turn per call and records the requests.
type scriptedModel struct {
	mu       sync.Mutex
	turns    []turn
	requests []*model.Request
	streams  []bool
}

func newScriptedModel(turns ...turn) *scriptedModel {
	return &scriptedModel{turns: turns}
}

func (m *scriptedModel) Info() model.Info { return model.Info{Name: "scripted"} }

func (m *scriptedModel) GenerateContent(_ context.Context, req *model.Request,
	stream bool) iter.Seq2[*model.Response, error] {
	m.mu.Lock()
	idx := len(m.requests)
	m.requests = append(m.requests, req)
	m.streams = append(m.streams, stream)
	m.mu.Unlock()
	return func(yield func(*model.Response, error) bool) {
		if idx >= len(m.turns) {
			yield(textResponse("out of script"), nil)
			return
		}
		t := m.turns[idx]
		for _, c := range t.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if t.err != nil {
			yield(nil, t.err)
		}
	}
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *scriptedModel) request(i int) *model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

func textResponse(text string) *model.Response {
	return &model.Response{Content: genai.NewContentFromText(text, genai.RoleModel)}
}

func callResponse(calls ...*genai.FunctionCall) *model.Response {
	parts := make([]*genai.Part, len(calls))
	for i, fc := range calls {
		parts[i] = &genai.Part{FunctionCall: fc}
	}
	return &model.Response{Content: &genai.Content{Role: genai.RoleModel, Parts: parts}}
}

func say(text string) turn { return turn{chunks: []*model.Response{textResponse(text)}} }

func call(calls ...*genai.FunctionCall) turn {
	return turn{chunks: []*model.Response{callResponse(calls...)}}
}

// flowAgent runs a Flow as its body, the way an LLM agent does.
type flowAgent struct {
	*agent.Base
	flow      *Flow
	model     model.Model
	callbacks *model.Callbacks
}

func newFlowAgent(name string, m model.Model, f *Flow, subs ...agent.Agent) *flowAgent {
	a := &flowAgent{flow: f, model: m}
	a.Base = agent.NewBase(a, agent.Info{Name: name, Description: "agent " + name}, subs, nil)
	return a
}

func (a *flowAgent) Run(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
	return a.RunWith(ctx, inv, func(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event) error {
		inv.Model = a.model
		inv.ModelCallbacks = a.callbacks
		return a.flow.Run(ctx, inv, out)
	})
}

func (a *flowAgent) RunLive(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
	return a.RunWith(ctx, inv, func(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event) error {
		inv.Model = a.model
		inv.ModelCallbacks = a.callbacks
		return a.flow.RunLive(ctx, inv, out)
	})
}

func (a *flowAgent) DisallowTransferToParent() bool { return false }
func (a *flowAgent) DisallowTransferToPeers() bool  { return false }

// replyAgent answers with a fixed text.
type replyAgent struct {
	*agent.Base
	text string
}

func newReplyAgent(name, text string) *replyAgent {
	a := &replyAgent{text: text}
	a.Base = agent.NewBase(a, agent.Info{Name: name, Description: "agent " + name}, nil, nil)
	return a
}

func (a *replyAgent) Run(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
	return a.RunWith(ctx, inv, func(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event) error {
		return agent.EmitEvent(ctx, inv, out, event.New(inv.InvocationID, a.Info().Name,
			event.WithBranch(inv.Branch), event.WithContent(genai.NewContentFromText(a.text, genai.RoleModel))))
	})
}

func (a *replyAgent) RunLive(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
	return a.Run(ctx, inv)
}

func staticTools(tools ...tool.Tool) flow.ToolsFunc {
	return func(context.Context, *agent.Invocation) ([]tool.Tool, error) { return tools, nil }
}

func newSession(events ...*event.Event) *session.Session {
	return &session.Session{ID: "session", AppName: "app", UserID: "user", State: session.StateMap{}, Events: events}
}

func userEvent(text string) *event.Event {
	return event.New("inv", event.AuthorUser, event.WithContent(genai.NewContentFromText(text, genai.RoleUser)))
}

// run drives a and persists events the way the runner does: non-partial
// events are applied to the session before the producer continues.
func run(ctx context.Context, a agent.Agent, inv *agent.Invocation, live bool) ([]*event.Event, error) {
	inv.EnableCompletionNotices()
	var (
		events <-chan *event.Event
		err    error
	)
	if live {
		events, err = a.RunLive(ctx, inv)
	} else {
		events, err = a.Run(ctx, inv)
	}
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

func newInvocation(sess *session.Session, opts ...agent.InvocationOptions) *agent.Invocation {
	return agent.NewInvocation(append([]agent.InvocationOptions{
		agent.WithInvocationID("inv"),
		agent.WithInvocationSession(sess),
	}, opts...)...)
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
