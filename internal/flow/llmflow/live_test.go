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
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/artifact/inmemory"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/flow/processor"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/tool/transfer"
)

// liveScript drives one fake connection. onConnect runs when the
// connection opens, onContent for every content the client sends.
type liveScript struct {
	onConnect func(c *fakeConn)
	onHistory func(c *fakeConn, history []*genai.Content)
	onContent func(c *fakeConn, content *genai.Content)
}

type liveModel struct {
	*scriptedModel
	mu      sync.Mutex
	scripts []liveScript
	conns   []*fakeConn
	handles []string
}

func newLiveModel(scripts ...liveScript) *liveModel {
	return &liveModel{scriptedModel: newScriptedModel(), scripts: scripts}
}

func (m *liveModel) Connect(_ context.Context, req *model.Request) (model.LiveConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	handle := ""
	if sr := req.LiveConnectConfig.SessionResumption; sr != nil {
		handle = sr.Handle
	}
	m.handles = append(m.handles, handle)
	var script liveScript
	if i := len(m.conns); i < len(m.scripts) {
		script = m.scripts[i]
	}
	c := &fakeConn{script: script, server: make(chan *model.Response, 32), done: make(chan struct{})}
	m.conns = append(m.conns, c)
	if script.onConnect != nil {
		script.onConnect(c)
	}
	return c, nil
}

func (m *liveModel) conn(i int) *fakeConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[i]
}

type fakeConn struct {
	script    liveScript
	server    chan *model.Response
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	history  []*genai.Content
	sent     []*genai.Content
	realtime []model.RealtimeInput
}

func (c *fakeConn) push(rsps ...*model.Response) {
	for _, r := range rsps {
		c.server <- r
	}
}

// drop makes Receive report a dropped connection.
func (c *fakeConn) drop() { c.server <- nil }

func (c *fakeConn) SendHistory(_ context.Context, history []*genai.Content) error {
	c.mu.Lock()
	c.history = append(c.history, history...)
	c.mu.Unlock()
	if c.script.onHistory != nil {
		c.script.onHistory(c, history)
	}
	return nil
}

func (c *fakeConn) SendContent(_ context.Context, content *genai.Content) error {
	c.mu.Lock()
	c.sent = append(c.sent, content)
	c.mu.Unlock()
	if c.script.onContent != nil {
		c.script.onContent(c, content)
	}
	return nil
}

func (c *fakeConn) SendRealtime(_ context.Context, input model.RealtimeInput) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.realtime = append(c.realtime, input)
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		for {
			// Queued server messages win over a concurrent close.
			var rsp *model.Response
			select {
			case rsp = <-c.server:
			default:
				select {
				case rsp = <-c.server:
				case <-c.done:
					yield(nil, model.ErrConnectionClosed)
					return
				case <-ctx.Done():
					return
				}
			}
			if rsp == nil {
				yield(nil, model.ErrConnectionClosed)
				return
			}
			if !yield(rsp, nil) {
				return
			}
		}
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) sentContents() []*genai.Content {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*genai.Content(nil), c.sent...)
}

func turnComplete() *model.Response { return &model.Response{TurnComplete: true} }

func userText(text string) *genai.Content { return genai.NewContentFromText(text, genai.RoleUser) }

func newLiveInvocation(q *agent.LiveRequestQueue, opts ...agent.InvocationOptions) *agent.Invocation {
	rc := agent.NewRunConfig()
	rc.StreamingMode = agent.StreamingModeBidi
	return newInvocation(newSession(userEvent("earlier")), append([]agent.InvocationOptions{
		agent.WithInvocationRunConfig(rc),
		agent.WithInvocationLiveRequestQueue(q),
	}, opts...)...)
}

func TestRunLive_TextTurn(t *testing.T) {
	ctx := context.Background()
	q := agent.NewLiveRequestQueue()
	m := newLiveModel(liveScript{onContent: func(c *fakeConn, content *genai.Content) {
		c.push(textResponse("hello"), turnComplete())
		q.Close(ctx)
	}})
	a := newFlowAgent("assistant", m, contentFlow(nil))
	q.SendContent(ctx, userText("hi"))

	events, err := run(ctx, a, newLiveInvocation(q), true)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, []string{"hello"}, texts(events))
	assert.True(t, events[1].TurnComplete)

	conn := m.conn(0)
	require.Len(t, conn.history, 1)
	assert.Equal(t, "earlier", conn.history[0].Parts[0].Text)
	assert.Equal(t, "hi", conn.sentContents()[0].Parts[0].Text)
	assert.Len(t, m.handles, 1)
}

func TestRunLive_MissingQueue(t *testing.T) {
	a := newFlowAgent("assistant", newLiveModel(), contentFlow(nil))
	events, err := run(context.Background(), a, newInvocation(newSession()), true)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.ObjectTypeError, events[0].Object)
	assert.Contains(t, events[0].ErrorMessage, "request queue")
}

func TestRunLive_ToolCall(t *testing.T) {
	ctx := context.Background()
	q := agent.NewLiveRequestQueue()
	m := newLiveModel(liveScript{onContent: func(c *fakeConn, content *genai.Content) {
		if content.Parts[0].FunctionResponse != nil {
			c.push(textResponse("sunny in Paris"), turnComplete())
			q.Close(ctx)
			return
		}
		c.push(callResponse(&genai.FunctionCall{ID: "c1", Name: "weather", Args: map[string]any{"city": "Paris"}}))
	}})
	a := newFlowAgent("assistant", m, contentFlow(staticTools(weatherTool())))
	q.SendContent(ctx, userText("weather?"))

	events, err := run(ctx, a, newLiveInvocation(q), true)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Len(t, events[0].FunctionCalls(), 1)
	require.Len(t, events[1].FunctionResponses(), 1)
	assert.Equal(t, "c1", events[1].FunctionResponses()[0].ID)
	assert.Equal(t, []string{"sunny in Paris"}, texts(events[2:]))

	sent := m.conn(0).sentContents()
	require.Len(t, sent, 2)
	assert.Equal(t, "sunny", sent[1].Parts[0].FunctionResponse.Response["forecast"])
}

func TestRunLive_TaskCompleted(t *testing.T) {
	ctx := context.Background()
	q := agent.NewLiveRequestQueue()
	m := newLiveModel(liveScript{onContent: func(c *fakeConn, content *genai.Content) {
		if content.Role == genai.RoleUser && content.Parts[0].Text != "" {
			c.push(callResponse(&genai.FunctionCall{ID: "c1", Name: processor.TaskCompletedToolName}))
		}
	}})
	a := newFlowAgent("assistant", m, contentFlow(staticTools(processor.TaskCompletedTool{})))
	q.SendContent(ctx, userText("done?"))

	events, err := run(ctx, a, newLiveInvocation(q), true)
	require.NoError(t, err)
	require.Len(t, events, 2)
	frs := events[1].FunctionResponses()
	require.Len(t, frs, 1)
	assert.Equal(t, processor.TaskCompletedToolName, frs[0].Name)
}

func TestRunLive_Transfer(t *testing.T) {
	ctx := context.Background()
	q := agent.NewLiveRequestQueue()
	m := newLiveModel(liveScript{onContent: func(c *fakeConn, content *genai.Content) {
		if content.Parts[0].FunctionResponse != nil {
			return
		}
		c.push(callResponse(&genai.FunctionCall{
			Name: transfer.ToolName, Args: map[string]any{transfer.FieldAgentName: "helper"},
		}))
	}})
	helper := newReplyAgent("helper", "helper speaking")
	tools := staticTools(transfer.New([]agent.Info{helper.Info()}))
	root := newFlowAgent("root", m, contentFlow(tools), helper)
	q.SendContent(ctx, userText("help"))

	events, err := run(ctx, root, newLiveInvocation(q), true)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "helper", events[1].Actions.TransferToAgent)
	assert.Equal(t, "helper", events[2].Author)
	assert.Equal(t, []string{"helper speaking"}, texts(events[2:]))
}

func TestRunLive_ResumesDroppedConnection(t *testing.T) {
	ctx := context.Background()
	q := agent.NewLiveRequestQueue()
	m := newLiveModel(
		liveScript{onContent: func(c *fakeConn, _ *genai.Content) {
			c.push(&model.Response{LiveSessionResumptionHandle: "h1"})
			c.drop()
		}},
		liveScript{onConnect: func(c *fakeConn) {
			c.push(textResponse("welcome back"), turnComplete())
			q.Close(ctx)
		}},
	)
	a := newFlowAgent("assistant", m, contentFlow(nil))
	q.SendContent(ctx, userText("hi"))

	events, err := run(ctx, a, newLiveInvocation(q), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"welcome back"}, texts(events))
	assert.Equal(t, []string{"", "h1"}, m.handles)
	assert.Len(t, m.conn(0).history, 1)
	assert.Empty(t, m.conn(1).history)
}

func TestRunLive_DroppedWithoutHandle(t *testing.T) {
	ctx := context.Background()
	q := agent.NewLiveRequestQueue()
	m := newLiveModel(liveScript{onContent: func(c *fakeConn, _ *genai.Content) { c.drop() }})
	a := newFlowAgent("assistant", m, contentFlow(nil))
	q.SendContent(ctx, userText("hi"))

	events, err := run(ctx, a, newLiveInvocation(q), true)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.ObjectTypeError, events[0].Object)
	assert.Len(t, m.handles, 1)
}

func TestRunLive_TranscriptionsAndAudio(t *testing.T) {
	ctx := context.Background()
	q := agent.NewLiveRequestQueue()
	m := newLiveModel(liveScript{onContent: func(c *fakeConn, _ *genai.Content) {
		c.push(
			&model.Response{InputTranscription: &genai.Transcription{Text: "hel"}},
			&model.Response{InputTranscription: &genai.Transcription{Text: "lo"}},
			&model.Response{OutputTranscription: &genai.Transcription{Text: "hi there"}},
			&model.Response{Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{
				{InlineData: &genai.Blob{MIMEType: "audio/pcm", Data: []byte{3, 4}}},
			}}},
			turnComplete(),
		)
		q.Close(ctx)
	}})
	a := newFlowAgent("assistant", m, contentFlow(nil))
	q.SendRealtime(ctx, &genai.Blob{MIMEType: "audio/pcm", Data: []byte{1, 2}})
	q.SendContent(ctx, userText("hi"))

	rc := agent.NewRunConfig()
	rc.StreamingMode = agent.StreamingModeBidi
	rc.SaveLiveBlob = true
	store := inmemory.NewService()
	inv := newLiveInvocation(q, agent.WithInvocationRunConfig(rc), agent.WithInvocationArtifactService(store))

	events, err := run(ctx, a, inv, true)
	require.NoError(t, err)

	var partials int
	var input, output string
	var artifacts []string
	for _, e := range events {
		if e.Partial {
			partials++
			continue
		}
		if e.InputTranscription != nil {
			input = e.InputTranscription.Text
		}
		if e.OutputTranscription != nil {
			output = e.OutputTranscription.Text
		}
		if e.HasContent() && e.Content.Parts[0].FileData != nil {
			artifacts = append(artifacts, e.Content.Parts[0].FileData.FileURI)
			assert.NotEmpty(t, e.Actions.ArtifactDelta)
		}
	}
	assert.Equal(t, 3, partials)
	assert.Equal(t, "hello", input)
	assert.Equal(t, "hi there", output)
	require.Len(t, artifacts, 2)
	assert.True(t, strings.HasPrefix(artifacts[0], "artifact://live_audio_user_"))
	assert.True(t, strings.HasPrefix(artifacts[1], "artifact://live_audio_model_"))
	assert.Equal(t, []model.RealtimeInput{{Blob: &genai.Blob{MIMEType: "audio/pcm", Data: []byte{1, 2}}}},
		m.conn(0).realtime)
	assert.True(t, events[len(events)-1].TurnComplete)
}

func TestRun_CompositionalFunctionCalling(t *testing.T) {
	m := newLiveModel(liveScript{onHistory: func(c *fakeConn, _ []*genai.Content) {
		c.push(textResponse("cfc answer"), turnComplete())
	}})
	a := newFlowAgent("assistant", m, contentFlow(nil))
	rc := agent.NewRunConfig()
	rc.StreamingMode = agent.StreamingModeSSE
	rc.SupportCFC = true
	inv := newInvocation(newSession(userEvent("compose")), agent.WithInvocationRunConfig(rc))

	events, err := run(context.Background(), a, inv, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"cfc answer"}, texts(events))
	assert.Zero(t, m.calls())
	require.Len(t, m.handles, 1)
	assert.Equal(t, 1, inv.LLMCallCount())
	assert.Len(t, m.conn(0).history, 1)
}

func TestTranscriptionEventsJoinSpeakers(t *testing.T) {
	inv := newInvocation(newSession())
	inv.LiveCaches = &agent.LiveCaches{}
	inv.LiveCaches.AddTranscription(genai.RoleUser, userText("a"))
	inv.LiveCaches.AddTranscription(genai.RoleUser, userText("b"))
	inv.LiveCaches.AddTranscription(genai.RoleModel, genai.NewContentFromText("c", genai.RoleModel))
	inv.LiveCaches.AddTranscription(genai.RoleUser, userText("d"))

	s := &liveSession{inv: inv}
	events := s.transcriptionEvents()
	require.Len(t, events, 3)
	assert.Equal(t, event.AuthorUser, events[0].Author)
	assert.Equal(t, "ab", events[0].InputTranscription.Text)
	assert.Equal(t, "c", events[1].OutputTranscription.Text)
	assert.Equal(t, "d", events[2].InputTranscription.Text)
}
