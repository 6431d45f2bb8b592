//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package plugin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
)

type recordingPlugin struct {
	BasePlugin
	calls      *[]string
	toolResult map[string]any
	modelRsp   *model.Response
	err        error
	closeWait  bool
	closed     bool
}

func newRecording(name string, calls *[]string) *recordingPlugin {
	return &recordingPlugin{BasePlugin: NewBasePlugin(name), calls: calls}
}

func (p *recordingPlugin) BeforeTool(context.Context, tool.Tool, map[string]any,
	*agent.ToolContext) (map[string]any, error) {
	*p.calls = append(*p.calls, p.Name())
	return p.toolResult, p.err
}

func (p *recordingPlugin) BeforeModel(context.Context, *agent.CallbackContext,
	*model.Request) (*model.Response, error) {
	*p.calls = append(*p.calls, p.Name())
	return p.modelRsp, p.err
}

func (p *recordingPlugin) Close(ctx context.Context) error {
	if p.closeWait {
		<-ctx.Done()
		return ctx.Err()
	}
	p.closed = true
	return p.err
}

func TestNewRejectsDuplicateNames(t *testing.T) {
	var calls []string
	_, err := New([]Plugin{newRecording("a", &calls), newRecording("a", &calls)})
	require.Error(t, err)

	m, err := New([]Plugin{newRecording("a", &calls), newRecording("b", &calls)})
	require.NoError(t, err)
	assert.Len(t, m.Plugins(), 2)
	assert.NotNil(t, m.Plugin("b"))
	assert.Nil(t, m.Plugin("c"))
}

func TestFirstNonNilWins(t *testing.T) {
	var calls []string
	p1 := newRecording("p1", &calls)
	p2 := newRecording("p2", &calls)
	p2.toolResult = map[string]any{"result": "from p2"}
	p3 := newRecording("p3", &calls)
	p3.toolResult = map[string]any{"result": "from p3"}
	m, err := New([]Plugin{p1, p2, p3})
	require.NoError(t, err)

	res, err := m.RunBeforeTool(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "from p2", res["result"])
	assert.Equal(t, []string{"p1", "p2"}, calls)
}

func TestNoPluginAnswers(t *testing.T) {
	var calls []string
	m, err := New([]Plugin{newRecording("p1", &calls), newRecording("p2", &calls)})
	require.NoError(t, err)
	rsp, err := m.RunBeforeModel(context.Background(), nil, model.NewRequest())
	require.NoError(t, err)
	assert.Nil(t, rsp)
	assert.Equal(t, []string{"p1", "p2"}, calls)
}

func TestErrorWrapsPluginName(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	p1 := newRecording("p1", &calls)
	p1.err = boom
	p2 := newRecording("p2", &calls)
	m, err := New([]Plugin{p1, p2})
	require.NoError(t, err)

	_, err = m.RunBeforeModel(context.Background(), nil, model.NewRequest())
	require.ErrorIs(t, err, boom)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "p1", perr.Plugin)
	assert.Equal(t, HookBeforeModel, perr.Hook)
	assert.Equal(t, model.ErrorCodePlugin, agent.ErrorCode(err))
	assert.Equal(t, []string{"p1"}, calls)
}

func TestNilManagerIsNoop(t *testing.T) {
	var m *Manager
	content, err := m.RunBeforeRun(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, content)
	require.NoError(t, m.Close(context.Background()))
}

type userMessagePlugin struct {
	BasePlugin
}

func (userMessagePlugin) OnUserMessage(_ context.Context, _ *agent.Invocation,
	msg *genai.Content) (*genai.Content, error) {
	return genai.NewContentFromText("rewritten", genai.RoleUser), nil
}

func TestBasePluginEmbedding(t *testing.T) {
	m, err := New([]Plugin{NewBasePlugin("noop"), userMessagePlugin{NewBasePlugin("rewrite")}})
	require.NoError(t, err)
	out, err := m.RunOnUserMessage(context.Background(), nil, genai.NewContentFromText("hi", genai.RoleUser))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "rewritten", out.Parts[0].Text)
	require.NoError(t, m.RunAfterRun(context.Background(), nil))
}

func TestCloseCollectsFailures(t *testing.T) {
	var calls []string
	slow := newRecording("slow", &calls)
	slow.closeWait = true
	failing := newRecording("failing", &calls)
	failing.err = errors.New("cannot close")
	ok := newRecording("ok", &calls)
	m, err := New([]Plugin{slow, failing, ok}, WithCloseTimeout(20*time.Millisecond))
	require.NoError(t, err)

	err = m.Close(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "cannot close")
	assert.True(t, ok.closed)
	assert.True(t, failing.closed)
}
