//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package runner

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/agent/chainagent"
	"trpc.group/trpc-go/trpc-agent-runtime/agent/llmagent"
	"trpc.group/trpc-go/trpc-agent-runtime/artifact"
	artifactinmemory "trpc.group/trpc-go/trpc-agent-runtime/artifact/inmemory"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/agenttest"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/plugin"
	"trpc.group/trpc-go/trpc-agent-runtime/session"
	"trpc.group/trpc-go/trpc-agent-runtime/session/inmemory"
	"trpc.group/trpc-go/trpc-agent-runtime/session/summary"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
	"trpc.group/trpc-go/trpc-agent-runtime/tool/function"
)

const (
	appName   = "calc-app"
	userID    = "u1"
	sessionID = "s1"
)

type addInput struct {
	A int `json:"a"`
	B int `json:"b"`
}

func addTool() tool.Tool {
	return function.NewFunctionTool(func(_ context.Context, in addInput) (map[string]any, error) {
		return map[string]any{"result": in.A + in.B}, nil
	}, function.WithName("add"), function.WithDescription("Adds two integers."))
}

func collect(t *testing.T, ch <-chan *event.Event, err error) []*event.Event {
	t.Helper()
	require.NoError(t, err)
	var out []*event.Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func storedEvents(t *testing.T, svc session.Service) []*event.Event {
	t.Helper()
	sess, err := svc.GetSession(context.Background(), session.Key{AppName: appName, UserID: userID, SessionID: sessionID})
	require.NoError(t, err)
	require.NotNil(t, sess)
	return sess.GetEvents()
}

func userText(s string) *genai.Content {
	return genai.NewContentFromText(s, genai.RoleUser)
}

func TestRunner_ToolRoundTrip(t *testing.T) {
	m := agenttest.NewModel(
		agenttest.Call(&genai.FunctionCall{Name: "add", Args: map[string]any{"a": 2, "b": 2}}),
		agenttest.Text("4"),
	)
	a := llmagent.New("calculator", llmagent.WithModel(m), llmagent.WithTools([]tool.Tool{addTool()}))
	svc := inmemory.NewSessionService()
	r, err := New(appName, a, svc)
	require.NoError(t, err)

	ch, err := r.Run(context.Background(), userID, sessionID, userText("What is 2+2?"))
	events := collect(t, ch, err)
	require.Len(t, events, 3)
	assert.Len(t, events[0].FunctionCalls(), 1)
	assert.Len(t, events[1].FunctionResponses(), 1)
	assert.Equal(t, []string{"4"}, agenttest.Texts(events[2:]))

	stored := storedEvents(t, svc)
	require.Len(t, stored, 4)
	assert.Equal(t, event.AuthorUser, stored[0].Author)
	for _, e := range stored {
		assert.Equal(t, events[0].InvocationID, e.InvocationID)
	}
	// The second model call sees the call and its response.
	assert.Len(t, m.Request(1).Contents, 3)
	assert.Equal(t, 2, m.Calls())
}

func TestRunner_RequiresMessage(t *testing.T) {
	r, err := New(appName, agenttest.Replying("a", "hi"), inmemory.NewSessionService())
	require.NoError(t, err)
	_, err = r.Run(context.Background(), userID, sessionID, nil)
	assert.ErrorIs(t, err, ErrNoMessage)

	_, err = New(appName, agenttest.Replying("a", "hi"), nil)
	assert.Error(t, err)
}

func TestRunner_SessionReusedAcrossRuns(t *testing.T) {
	a := agenttest.Replying("a", "hi")
	svc := inmemory.NewSessionService()
	r, err := New(appName, a, svc)
	require.NoError(t, err)

	for _, msg := range []string{"one", "two"} {
		ch, err := r.Run(context.Background(), userID, sessionID, userText(msg))
		collect(t, ch, err)
	}
	assert.Len(t, storedEvents(t, svc), 4)
	assert.Equal(t, []string{"one", "hi", "two"}, agenttest.Texts(a.Seen(1)))
}

func TestRunner_StateDelta(t *testing.T) {
	svc := inmemory.NewSessionService()
	r, err := New(appName, agenttest.Replying("a", "hi"), svc)
	require.NoError(t, err)
	ch, err := r.Run(context.Background(), userID, sessionID, userText("go"),
		WithStateDelta(map[string]any{"topic": "math"}))
	collect(t, ch, err)

	sess, err := svc.GetSession(context.Background(), session.Key{AppName: appName, UserID: userID, SessionID: sessionID})
	require.NoError(t, err)
	v, ok := sess.GetState("topic")
	require.True(t, ok)
	assert.Equal(t, "math", v)
}

type hookPlugin struct {
	plugin.BasePlugin
	mu         sync.Mutex
	rewrite    string
	earlyExit  string
	tag        string
	afterCalls int
}

func (p *hookPlugin) OnUserMessage(_ context.Context, _ *agent.Invocation, _ *genai.Content) (*genai.Content, error) {
	if p.rewrite == "" {
		return nil, nil
	}
	return userText(p.rewrite), nil
}

func (p *hookPlugin) BeforeRun(context.Context, *agent.Invocation) (*genai.Content, error) {
	if p.earlyExit == "" {
		return nil, nil
	}
	return genai.NewContentFromText(p.earlyExit, genai.RoleModel), nil
}

func (p *hookPlugin) OnEvent(_ context.Context, _ *agent.Invocation, e *event.Event) (*event.Event, error) {
	if p.tag == "" {
		return nil, nil
	}
	c := e.Clone()
	c.Content = genai.NewContentFromText(p.tag, genai.RoleModel)
	return c, nil
}

func (p *hookPlugin) AfterRun(context.Context, *agent.Invocation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.afterCalls++
	return nil
}

func TestRunner_PluginRewritesUserMessage(t *testing.T) {
	a := agenttest.Replying("a", "hi")
	p := &hookPlugin{BasePlugin: plugin.NewBasePlugin("rewrite"), rewrite: "rewritten"}
	svc := inmemory.NewSessionService()
	r, err := New(appName, a, svc, WithPlugins(p))
	require.NoError(t, err)

	ch, err := r.Run(context.Background(), userID, sessionID, userText("original"))
	collect(t, ch, err)
	assert.Equal(t, []string{"rewritten"}, agenttest.Texts(a.Seen(0)))
	assert.Equal(t, "rewritten", storedEvents(t, svc)[0].Content.Parts[0].Text)
	assert.Equal(t, 1, p.afterCalls)
}

func TestRunner_PluginEndsRunEarly(t *testing.T) {
	a := agenttest.Replying("a", "hi")
	p := &hookPlugin{BasePlugin: plugin.NewBasePlugin("gate"), earlyExit: "closed today"}
	svc := inmemory.NewSessionService()
	r, err := New(appName, a, svc, WithPlugins(p))
	require.NoError(t, err)

	ch, err := r.Run(context.Background(), userID, sessionID, userText("hello"))
	events := collect(t, ch, err)
	require.Len(t, events, 1)
	assert.Equal(t, AuthorModel, events[0].Author)
	assert.Equal(t, []string{"closed today"}, agenttest.Texts(events))
	assert.Equal(t, 0, a.Runs())
	assert.Len(t, storedEvents(t, svc), 2)
	assert.Equal(t, 1, p.afterCalls)
}

func TestRunner_PluginReplacesVisibleEvent(t *testing.T) {
	p := &hookPlugin{BasePlugin: plugin.NewBasePlugin("tag"), tag: "redacted"}
	svc := inmemory.NewSessionService()
	r, err := New(appName, agenttest.Replying("a", "secret"), svc, WithPlugins(p))
	require.NoError(t, err)

	ch, err := r.Run(context.Background(), userID, sessionID, userText("hello"))
	events := collect(t, ch, err)
	assert.Equal(t, []string{"redacted"}, agenttest.Texts(events))
	assert.Equal(t, []string{"hello", "secret"}, agenttest.Texts(storedEvents(t, svc)))
}

type failingPlugin struct {
	plugin.BasePlugin
	onEvent  error
	afterRun error
}

func (p *failingPlugin) OnEvent(context.Context, *agent.Invocation, *event.Event) (*event.Event, error) {
	return nil, p.onEvent
}

func (p *failingPlugin) AfterRun(context.Context, *agent.Invocation) error { return p.afterRun }

func TestRunner_OnEventPluginFailureReachesCaller(t *testing.T) {
	p := &failingPlugin{BasePlugin: plugin.NewBasePlugin("audit"), onEvent: errors.New("audit sink down")}
	svc := inmemory.NewSessionService()
	a := agenttest.Replying("a", "hi")
	r, err := New(appName, a, svc, WithPlugins(p))
	require.NoError(t, err)

	ch, err := r.Run(context.Background(), userID, sessionID, userText("hello"))
	events := collect(t, ch, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.ErrorCodePlugin, events[0].ErrorCode)
	assert.Contains(t, events[0].ErrorMessage, "audit sink down")
	assert.Equal(t, []string{"hello", "hi"}, agenttest.Texts(storedEvents(t, svc)))
}

func TestRunner_AfterRunPluginFailureReachesCaller(t *testing.T) {
	p := &failingPlugin{BasePlugin: plugin.NewBasePlugin("audit"), afterRun: errors.New("flush failed")}
	r, err := New(appName, agenttest.Replying("a", "hi"), inmemory.NewSessionService(), WithPlugins(p))
	require.NoError(t, err)

	ch, err := r.Run(context.Background(), userID, sessionID, userText("hello"))
	events := collect(t, ch, err)
	require.Len(t, events, 2)
	assert.Equal(t, []string{"hi"}, agenttest.Texts(events[:1]))
	assert.Equal(t, model.ErrorCodePlugin, events[1].ErrorCode)
	assert.Contains(t, events[1].ErrorMessage, "flush failed")
}

// brokenStore accepts user messages and rejects everything else.
type brokenStore struct {
	session.Service
	err error
}

func (s *brokenStore) AppendEvent(ctx context.Context, sess *session.Session, e *event.Event,
	opts ...session.Option) error {
	if e.Author != event.AuthorUser {
		return s.err
	}
	return s.Service.AppendEvent(ctx, sess, e, opts...)
}

func TestRunner_SessionAppendFailureStopsRun(t *testing.T) {
	boom := errors.New("disk full")
	a := agenttest.NewAgent("a", func(_ context.Context, inv *agent.Invocation, _ int) []*event.Event {
		return []*event.Event{agenttest.Reply(inv, "a", "one"), agenttest.Reply(inv, "a", "two")}
	})
	svc := &brokenStore{Service: inmemory.NewSessionService(), err: boom}
	r, err := New(appName, a, svc)
	require.NoError(t, err)

	ch, err := r.Run(context.Background(), userID, sessionID, userText("hello"))
	events := collect(t, ch, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.ObjectTypeError, events[0].Object)
	assert.ErrorIs(t, events[0].Err, boom)
	assert.Empty(t, agenttest.Texts(events))
}

func TestRunner_DuplicatePlugins(t *testing.T) {
	_, err := New(appName, agenttest.Replying("a", "hi"), inmemory.NewSessionService(),
		WithPlugins(plugin.NewBasePlugin("p"), plugin.NewBasePlugin("p")))
	assert.Error(t, err)
}

func seedSession(t *testing.T, svc session.Service, events ...*event.Event) {
	t.Helper()
	ctx := context.Background()
	sess, err := svc.CreateSession(ctx, session.Key{AppName: appName, UserID: userID, SessionID: sessionID}, nil)
	require.NoError(t, err)
	for _, e := range events {
		require.NoError(t, svc.AppendEvent(ctx, sess, e))
	}
}

func TestRunner_LastTransferableAgentKeepsConversation(t *testing.T) {
	rootModel := agenttest.NewModel(agenttest.Text("root"))
	billingModel := agenttest.NewModel(agenttest.Text("billing"))
	billing := llmagent.New("billing", llmagent.WithModel(billingModel), llmagent.WithDescription("Billing questions."))
	root := llmagent.New("root", llmagent.WithModel(rootModel), llmagent.WithSubAgents([]agent.Agent{billing}))
	svc := inmemory.NewSessionService()
	seedSession(t, svc,
		event.New("e-old", event.AuthorUser, event.WithContent(userText("my invoice"))),
		event.New("e-old", "billing", event.WithContent(genai.NewContentFromText("which one?", genai.RoleModel))),
	)
	r, err := New(appName, root, svc)
	require.NoError(t, err)

	ch, err := r.Run(context.Background(), userID, sessionID, userText("the last one"))
	events := collect(t, ch, err)
	assert.Equal(t, []string{"billing"}, agenttest.Texts(events))
	assert.Equal(t, 0, rootModel.Calls())
	assert.Equal(t, 1, billingModel.Calls())
}

func TestRunner_NonTransferableAgentFallsBackToRoot(t *testing.T) {
	rootModel := agenttest.NewModel(agenttest.Text("root"))
	billing := llmagent.New("billing", llmagent.WithModel(agenttest.NewModel()),
		llmagent.WithDisallowTransferToParent(true))
	root := llmagent.New("root", llmagent.WithModel(rootModel), llmagent.WithSubAgents([]agent.Agent{billing}))
	svc := inmemory.NewSessionService()
	seedSession(t, svc,
		event.New("e-old", "billing", event.WithContent(genai.NewContentFromText("done", genai.RoleModel))),
	)
	r, err := New(appName, root, svc)
	require.NoError(t, err)

	ch, err := r.Run(context.Background(), userID, sessionID, userText("thanks"))
	events := collect(t, ch, err)
	assert.Equal(t, []string{"root"}, agenttest.Texts(events))
}

func TestRunner_FunctionResponseGoesToCaller(t *testing.T) {
	worker := agenttest.Replying("worker", "got it")
	root := agenttest.NewAgent("root", func(context.Context, *agent.Invocation, int) []*event.Event {
		return nil
	}, worker)
	svc := inmemory.NewSessionService()
	seedSession(t, svc,
		event.New("e-old", "worker", event.WithContent(&genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{
			{FunctionCall: &genai.FunctionCall{ID: "call-1", Name: "approve"}},
		}})),
	)
	r, err := New(appName, root, svc)
	require.NoError(t, err)

	answer := &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{
		{FunctionResponse: &genai.FunctionResponse{ID: "call-1", Name: "approve", Response: map[string]any{"ok": true}}},
	}}
	ch, err := r.Run(context.Background(), userID, sessionID, answer)
	events := collect(t, ch, err)
	assert.Equal(t, []string{"got it"}, agenttest.Texts(events))
	assert.Equal(t, 0, root.Runs())
	assert.Equal(t, 1, worker.Runs())
}

func TestRunner_ResumesInvocation(t *testing.T) {
	ticket := function.NewFunctionTool(func(context.Context, struct{}) (map[string]any, error) {
		return nil, nil
	}, function.WithName("open_ticket"), function.WithLongRunning(true))
	bModel := agenttest.NewModel(agenttest.Call(&genai.FunctionCall{Name: "open_ticket"}), agenttest.Text("b done"))
	a := agenttest.Replying("A", "a done")
	b := llmagent.New("B", llmagent.WithModel(bModel), llmagent.WithTools([]tool.Tool{ticket}),
		llmagent.WithDisallowTransferToParent(true), llmagent.WithDisallowTransferToPeers(true))
	c := agenttest.Replying("C", "c done")
	chain := chainagent.New("chain", chainagent.WithSubAgents([]agent.Agent{a, b, c}))
	svc := inmemory.NewSessionService()
	r, err := New(appName, chain, svc, WithResumability(true))
	require.NoError(t, err)

	ch, err := r.Run(context.Background(), userID, sessionID, userText("go"))
	first := collect(t, ch, err)
	require.NotEmpty(t, first)
	last := first[len(first)-1]
	require.Len(t, last.FunctionCalls(), 1)
	assert.Equal(t, 0, c.Runs())

	answer := &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
		ID: last.FunctionCalls()[0].ID, Name: "open_ticket", Response: map[string]any{"status": "opened"},
	}}}}
	ch, err = r.Run(context.Background(), userID, sessionID, answer, WithInvocationID(last.InvocationID))
	second := collect(t, ch, err)
	assert.Equal(t, []string{"b done", "c done"}, agenttest.Texts(second))
	for _, e := range second {
		assert.Equal(t, last.InvocationID, e.InvocationID)
	}
	assert.Equal(t, 1, a.Runs())
	assert.Equal(t, 1, c.Runs())
}

func TestRunner_ResumeUnknownInvocation(t *testing.T) {
	r, err := New(appName, agenttest.Replying("a", "hi"), inmemory.NewSessionService(), WithResumability(true))
	require.NoError(t, err)
	_, err = r.Run(context.Background(), userID, sessionID, nil, WithInvocationID("e-missing"))
	assert.ErrorIs(t, err, ErrInvocationNotFound)
}

func TestRunner_SaveInputBlobsAsArtifacts(t *testing.T) {
	a := agenttest.Replying("a", "nice picture")
	svc := inmemory.NewSessionService()
	artifacts := artifactinmemory.NewService()
	r, err := New(appName, a, svc, WithArtifactService(artifacts))
	require.NoError(t, err)

	cfg := agent.NewRunConfig()
	cfg.SaveInputBlobsAsArtifacts = true
	msg := &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{
		genai.NewPartFromText("look"),
		genai.NewPartFromBytes([]byte{0x89, 0x50}, "image/png"),
	}}
	ch, err := r.Run(context.Background(), userID, sessionID, msg, WithRunConfig(cfg))
	collect(t, ch, err)

	user := storedEvents(t, svc)[0]
	require.Len(t, user.Actions.ArtifactDelta, 1)
	assert.Nil(t, user.Content.Parts[1].InlineData)
	assert.Contains(t, user.Content.Parts[1].Text, "saved into artifacts")
	// The caller's message is left untouched.
	assert.NotNil(t, msg.Parts[1].InlineData)

	keys, err := artifacts.ListArtifactKeys(context.Background(), artifactSessionInfo())
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func artifactSessionInfo() artifact.SessionInfo {
	return artifact.SessionInfo{AppName: appName, UserID: userID, SessionID: sessionID}
}

func TestRunner_AgentErrorBecomesEvent(t *testing.T) {
	failing := &failingAgent{}
	failing.Base = agent.NewBase(failing, agent.Info{Name: "broken"}, nil, nil)
	r, err := New(appName, failing, inmemory.NewSessionService())
	require.NoError(t, err)

	ch, err := r.Run(context.Background(), userID, sessionID, userText("hi"))
	events := collect(t, ch, err)
	require.Len(t, events, 1)
	assert.ErrorIs(t, events[0].Err, errBroken)
}

var errBroken = errors.New("broken")

type failingAgent struct {
	*agent.Base
}

func (a *failingAgent) Run(context.Context, *agent.Invocation) (<-chan *event.Event, error) {
	return nil, errBroken
}

func (a *failingAgent) RunLive(context.Context, *agent.Invocation) (<-chan *event.Event, error) {
	return nil, errBroken
}

func TestRunner_CompactsAfterRun(t *testing.T) {
	summarizerModel := agenttest.NewModel(agenttest.Text("user said hello"))
	s := summary.NewSummarizer(summarizerModel, summary.WithEventThreshold(3))
	svc := inmemory.NewSessionService()
	r, err := New(appName, agenttest.Replying("a", "hi"), svc, WithSummarizer(s))
	require.NoError(t, err)

	ch, err := r.Run(context.Background(), userID, sessionID, userText("hello"))
	events := collect(t, ch, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 0, summarizerModel.Calls())

	ch, err = r.Run(context.Background(), userID, sessionID, userText("again"))
	events = collect(t, ch, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 1, summarizerModel.Calls())

	stored := storedEvents(t, svc)
	require.Len(t, stored, 5)
	compaction := stored[4].Actions.Compaction
	require.NotNil(t, compaction)
	assert.Equal(t, "user said hello", compaction.CompactedContent.Parts[0].Text)
}
