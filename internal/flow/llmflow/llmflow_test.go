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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/auth"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/flow"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/flow/processor"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
	"trpc.group/trpc-go/trpc-agent-runtime/tool/function"
	"trpc.group/trpc-go/trpc-agent-runtime/tool/transfer"
)

type weatherInput struct {
	City string `json:"city"`
}

func weatherTool() tool.Tool {
	return function.NewFunctionTool(func(_ context.Context, in weatherInput) (map[string]any, error) {
		return map[string]any{"city": in.City, "forecast": "sunny"}, nil
	}, function.WithName("weather"))
}

func contentFlow(tools flow.ToolsFunc, extra ...flow.RequestProcessor) *Flow {
	reqs := append([]flow.RequestProcessor{processor.NewContentRequestProcessor()}, extra...)
	return New(reqs, nil, Options{Tools: tools})
}

func TestRun_TextResponse(t *testing.T) {
	m := newScriptedModel(say("hello"))
	a := newFlowAgent("assistant", m, contentFlow(nil))
	inv := newInvocation(newSession(userEvent("hi")))

	events, err := run(context.Background(), a, inv, false)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "assistant", events[0].Author)
	assert.Equal(t, []string{"hello"}, texts(events))
	assert.Equal(t, 1, m.calls())
	assert.False(t, m.streams[0])

	req := m.request(0)
	assert.Equal(t, "assistant", req.Config.Labels[AgentNameLabel])
	require.Len(t, req.Contents, 1)
	assert.Equal(t, "hi", req.Contents[0].Parts[0].Text)
}

func TestRun_ToolRoundTrip(t *testing.T) {
	m := newScriptedModel(
		call(&genai.FunctionCall{Name: "weather", Args: map[string]any{"city": "Paris"}}),
		say("It is sunny in Paris."),
	)
	a := newFlowAgent("assistant", m, contentFlow(staticTools(weatherTool())))
	inv := newInvocation(newSession(userEvent("weather in Paris?")))

	events, err := run(context.Background(), a, inv, false)
	require.NoError(t, err)
	require.Len(t, events, 3)

	calls := events[0].FunctionCalls()
	require.Len(t, calls, 1)
	assert.True(t, strings.HasPrefix(calls[0].ID, event.ClientFunctionCallIDPrefix))

	frs := events[1].FunctionResponses()
	require.Len(t, frs, 1)
	assert.Equal(t, calls[0].ID, frs[0].ID)
	assert.Equal(t, "sunny", frs[0].Response["forecast"])
	assert.Equal(t, "It is sunny in Paris.", texts(events[2:])[0])

	// The second request carries the exchange without client ids.
	second := m.request(1)
	require.Len(t, second.Contents, 3)
	assert.Empty(t, second.Contents[1].Parts[0].FunctionCall.ID)
	assert.Empty(t, second.Contents[2].Parts[0].FunctionResponse.ID)
	assert.Contains(t, second.Tools, "weather")
	assert.True(t, events[2].IsFinalResponse())
}

func TestRun_MaxLLMCalls(t *testing.T) {
	loop := call(&genai.FunctionCall{Name: "weather", Args: map[string]any{"city": "Oslo"}})
	m := newScriptedModel(loop, loop, loop)
	a := newFlowAgent("assistant", m, contentFlow(staticTools(weatherTool())))
	rc := agent.NewRunConfig()
	rc.MaxLLMCalls = 2
	inv := newInvocation(newSession(userEvent("loop")), agent.WithInvocationRunConfig(rc))

	events, err := run(context.Background(), a, inv, false)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, model.ObjectTypeError, last.Object)
	assert.True(t, errors.Is(last.Err, agent.ErrLLMCallsLimitExceeded))
	assert.Equal(t, 2, m.calls())
}

func TestRun_ModelCallbacks(t *testing.T) {
	t.Run("before model short-circuits", func(t *testing.T) {
		m := newScriptedModel(say("from model"))
		a := newFlowAgent("assistant", m, contentFlow(nil))
		a.callbacks = model.NewCallbacks().RegisterBeforeModel(
			func(ctx context.Context, _ *model.Request) (*model.Response, error) {
				cc, ok := agent.CallbackContextFromContext(ctx)
				require.True(t, ok)
				cc.State().Set("cached", true)
				return textResponse("from cache"), nil
			})
		events, err := run(context.Background(), a, newInvocation(newSession(userEvent("hi"))), false)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, []string{"from cache"}, texts(events))
		assert.Equal(t, 0, m.calls())
		assert.Equal(t, true, events[0].Actions.StateDelta["cached"])
	})

	t.Run("after model replaces", func(t *testing.T) {
		m := newScriptedModel(say("raw"))
		a := newFlowAgent("assistant", m, contentFlow(nil))
		a.callbacks = model.NewCallbacks().RegisterAfterModel(
			func(_ context.Context, rsp *model.Response) (*model.Response, error) {
				return textResponse(strings.ToUpper(rsp.Content.Parts[0].Text)), nil
			})
		events, err := run(context.Background(), a, newInvocation(newSession(userEvent("hi"))), false)
		require.NoError(t, err)
		assert.Equal(t, []string{"RAW"}, texts(events))
	})

	t.Run("model error recovered", func(t *testing.T) {
		m := newScriptedModel(turn{err: errors.New("quota")})
		a := newFlowAgent("assistant", m, contentFlow(nil))
		a.callbacks = model.NewCallbacks().RegisterOnModelError(
			func(_ context.Context, _ *model.Request, err error) (*model.Response, error) {
				return textResponse("fallback: " + err.Error()), nil
			})
		events, err := run(context.Background(), a, newInvocation(newSession(userEvent("hi"))), false)
		require.NoError(t, err)
		assert.Equal(t, []string{"fallback: quota"}, texts(events))
	})

	t.Run("model error unrecovered", func(t *testing.T) {
		m := newScriptedModel(turn{err: errors.New("quota")})
		a := newFlowAgent("assistant", m, contentFlow(nil))
		events, err := run(context.Background(), a, newInvocation(newSession(userEvent("hi"))), false)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, model.ObjectTypeError, events[0].Object)
		assert.Contains(t, events[0].ErrorMessage, "quota")
	})
}

func TestRun_SSEStreaming(t *testing.T) {
	chunks := []*model.Response{
		{Content: genai.NewContentFromText("Hel", genai.RoleModel)},
		{Content: genai.NewContentFromText("lo", genai.RoleModel)},
	}
	m := newScriptedModel(turn{chunks: chunks})
	a := newFlowAgent("assistant", m, contentFlow(nil))
	rc := agent.NewRunConfig()
	rc.StreamingMode = agent.StreamingModeSSE
	inv := newInvocation(newSession(userEvent("hi")), agent.WithInvocationRunConfig(rc))

	events, err := run(context.Background(), a, inv, false)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.True(t, events[0].Partial)
	assert.True(t, events[1].Partial)
	assert.False(t, events[2].Partial)
	assert.Equal(t, "Hello", events[2].Content.Parts[0].Text)
	assert.True(t, m.streams[0])
	// Only the aggregated event is persisted.
	assert.Len(t, inv.Session.GetEvents(), 2)
}

func TestRun_ProgressiveStreamingGate(t *testing.T) {
	for _, progressive := range []bool{false, true} {
		name := "off"
		if progressive {
			name = "on"
		}
		t.Run(name, func(t *testing.T) {
			var runs int
			counter := function.NewFunctionTool(func(context.Context, struct{}) (string, error) {
				runs++
				return "ok", nil
			}, function.WithName("count"))
			m := newScriptedModel(
				turn{chunks: []*model.Response{
					{Content: genai.NewContentFromText("counting", genai.RoleModel)},
					callResponse(&genai.FunctionCall{ID: "c1", Name: "count"}),
				}},
				say("done"),
			)
			a := newFlowAgent("assistant", m, contentFlow(staticTools(counter)))
			rc := agent.NewRunConfig()
			rc.StreamingMode = agent.StreamingModeSSE
			rc.ProgressiveSSEStreaming = progressive
			inv := newInvocation(newSession(userEvent("count")), agent.WithInvocationRunConfig(rc))

			events, err := run(context.Background(), a, inv, false)
			require.NoError(t, err)
			assert.Equal(t, 1, runs)

			var partialCalls int
			for _, e := range events {
				if e.Partial && len(e.FunctionCalls()) > 0 {
					partialCalls++
				}
			}
			if progressive {
				assert.Equal(t, 1, partialCalls)
			} else {
				assert.Zero(t, partialCalls)
			}
			assert.Equal(t, "done", texts(events)[len(texts(events))-1])
		})
	}
}

func TestRun_Transfer(t *testing.T) {
	for _, tc := range []struct {
		name string
		call *genai.FunctionCall
	}{
		{name: "transfer tool", call: &genai.FunctionCall{
			Name: transfer.ToolName, Args: map[string]any{transfer.FieldAgentName: "helper"},
		}},
		{name: "agent named directly", call: &genai.FunctionCall{Name: "helper"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := newScriptedModel(call(tc.call))
			helper := newReplyAgent("helper", "helper here")
			tools := staticTools(transfer.New([]agent.Info{helper.Info()}))
			root := newFlowAgent("root", m, contentFlow(tools), helper)
			inv := newInvocation(newSession(userEvent("help")))

			events, err := run(context.Background(), root, inv, false)
			require.NoError(t, err)
			require.Len(t, events, 3)
			assert.Equal(t, transfer.ToolName, events[0].FunctionCalls()[0].Name)
			assert.Equal(t, "helper", events[1].Actions.TransferToAgent)
			assert.Equal(t, "helper", events[2].Author)
			assert.Equal(t, 1, m.calls())
		})
	}
}

func TestTransferTargetMissing(t *testing.T) {
	root := newFlowAgent("root", newScriptedModel(), contentFlow(nil), newReplyAgent("helper", ""))
	inv := newInvocation(newSession(), agent.WithInvocationAgent(root))
	_, err := transferTarget(inv, "ghost")
	var missing *agent.TransferTargetMissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"root", "helper"}, missing.Known)
}

func TestRun_StructuredOutput(t *testing.T) {
	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{"answer": {Type: genai.TypeString}},
		Required:   []string{"answer"},
	}
	m := newScriptedModel(call(&genai.FunctionCall{
		Name: processor.SetModelResponseToolName, Args: map[string]any{"answer": "42"},
	}))
	a := newFlowAgent("assistant", m, contentFlow(staticTools(processor.NewSetModelResponseTool("assistant", schema))))
	inv := newInvocation(newSession(userEvent("meaning?")))

	events, err := run(context.Background(), a, inv, false)
	require.NoError(t, err)
	require.Len(t, events, 3)
	final := events[2]
	assert.True(t, final.IsFinalResponse())
	assert.JSONEq(t, `{"answer":"42"}`, final.Content.Parts[0].Text)
	assert.Equal(t, 1, m.calls())
}

func TestRun_AuthRequest(t *testing.T) {
	cfg := &auth.Config{Scheme: "apiKey", RawCredential: &auth.Credential{Type: auth.TypeAPIKey}, CredentialKey: "k"}
	secured := function.NewFunctionTool(func(ctx context.Context, _ struct{}) (map[string]any, error) {
		tc, _ := agent.ToolContextFromContext(ctx)
		return map[string]any{"status": "needs auth"}, tc.RequestCredential(cfg)
	}, function.WithName("secured"))
	m := newScriptedModel(call(&genai.FunctionCall{Name: "secured"}), say("please sign in"))
	a := newFlowAgent("assistant", m, contentFlow(staticTools(secured)))
	inv := newInvocation(newSession(userEvent("go")))

	events, err := run(context.Background(), a, inv, false)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.True(t, events[1].IsAuthEvent())
	assert.NotEmpty(t, events[1].LongRunningToolIDs)
	assert.Len(t, events[2].FunctionResponses(), 1)
	assert.Equal(t, []string{"please sign in"}, texts(events[3:]))

	// The framework exchange never reaches the model.
	for _, c := range m.request(1).Contents {
		for _, p := range c.Parts {
			if p.FunctionCall != nil {
				assert.NotEqual(t, event.RequestCredentialFunctionName, p.FunctionCall.Name)
			}
		}
	}
}

func TestRun_ResumablePause(t *testing.T) {
	ticket := function.NewFunctionTool(func(context.Context, struct{}) (map[string]any, error) {
		return nil, nil
	}, function.WithName("open_ticket"), function.WithLongRunning(true))
	m := newScriptedModel(call(&genai.FunctionCall{Name: "open_ticket"}), say("unexpected"))
	a := newFlowAgent("assistant", m, contentFlow(staticTools(ticket)))
	sess := newSession(userEvent("open a ticket"))
	inv := newInvocation(sess, agent.WithInvocationResumability(&agent.ResumabilityConfig{IsResumable: true}))

	events, err := run(context.Background(), a, inv, false)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].LongRunningToolIDs)
	assert.True(t, inv.ShouldPauseInvocation(events[0]))

	// Running again without an answer does not call the model.
	events, err = run(context.Background(), a, inv, false)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, 1, m.calls())
}

func TestRun_ResumableContinuesOnceAnswered(t *testing.T) {
	ticket := function.NewFunctionTool(func(context.Context, struct{}) (map[string]any, error) {
		return nil, nil
	}, function.WithName("open_ticket"), function.WithLongRunning(true))
	m := newScriptedModel(call(&genai.FunctionCall{Name: "open_ticket"}), say("ticket opened"))
	a := newFlowAgent("assistant", m, contentFlow(staticTools(ticket)))
	sess := newSession(userEvent("open a ticket"))
	inv := newInvocation(sess, agent.WithInvocationResumability(&agent.ResumabilityConfig{IsResumable: true}))

	events, err := run(context.Background(), a, inv, false)
	require.NoError(t, err)
	require.Len(t, events, 1)
	callID := events[0].FunctionCalls()[0].ID

	sess.ApplyEvent(event.New("inv", event.AuthorUser, event.WithContent(&genai.Content{
		Role: genai.RoleUser,
		Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
			ID: callID, Name: "open_ticket", Response: map[string]any{"status": "opened"},
		}}},
	})))
	events, err = run(context.Background(), a, inv, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"ticket opened"}, texts(events))
	assert.Equal(t, 2, m.calls())
}

func TestRun_ResumableDispatchesPendingCalls(t *testing.T) {
	pending := event.New("inv", "assistant", event.WithContent(&genai.Content{
		Role:  genai.RoleModel,
		Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{ID: "c1", Name: "weather", Args: map[string]any{"city": "Rome"}}}},
	}))
	m := newScriptedModel(say("sunny in Rome"))
	a := newFlowAgent("assistant", m, contentFlow(staticTools(weatherTool())))
	inv := newInvocation(newSession(userEvent("Rome?"), pending),
		agent.WithInvocationResumability(&agent.ResumabilityConfig{IsResumable: true}))

	events, err := run(context.Background(), a, inv, false)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "c1", events[0].FunctionResponses()[0].ID)
	assert.Equal(t, []string{"sunny in Rome"}, texts(events[1:]))
	assert.Equal(t, 1, m.calls())
}

func TestRun_ToolErrorEndsRun(t *testing.T) {
	broken := function.NewFunctionTool(func(context.Context, struct{}) (string, error) {
		return "", errors.New("disk full")
	}, function.WithName("broken"))
	m := newScriptedModel(call(&genai.FunctionCall{ID: "c1", Name: "broken"}))
	a := newFlowAgent("assistant", m, contentFlow(staticTools(broken)))

	events, err := run(context.Background(), a, newInvocation(newSession(userEvent("go"))), false)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, model.ObjectTypeError, last.Object)
	assert.Equal(t, model.ErrorCodeTool, last.ErrorCode)
	var toolErr *agent.ToolError
	assert.ErrorAs(t, last.Err, &toolErr)
}

func TestRun_EventHook(t *testing.T) {
	var seen []string
	hook := func(_ context.Context, _ *agent.Invocation, e *event.Event) error {
		seen = append(seen, e.Author)
		return nil
	}
	m := newScriptedModel(call(&genai.FunctionCall{Name: "weather", Args: map[string]any{"city": "Lima"}}), say("ok"))
	f := New([]flow.RequestProcessor{processor.NewContentRequestProcessor()}, nil,
		Options{Tools: staticTools(weatherTool()), OnEvent: hook})
	a := newFlowAgent("assistant", m, f)

	_, err := run(context.Background(), a, newInvocation(newSession(userEvent("go"))), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"assistant", "assistant", "assistant"}, seen)
}

type cachingModel struct {
	*scriptedModel
	created int
}

func (m *cachingModel) CreateCache(context.Context, *model.Request, int, time.Duration) (string, time.Time, error) {
	m.created++
	return "caches/1", time.Now().Add(time.Hour), nil
}

func (m *cachingModel) DeleteCache(context.Context, string) error { return nil }

func TestRun_ContextCacheFingerprint(t *testing.T) {
	m := &cachingModel{scriptedModel: newScriptedModel(say("cached answer"))}
	a := newFlowAgent("assistant", m, contentFlow(nil, processor.NewContextCacheRequestProcessor()))
	inv := newInvocation(newSession(userEvent("hi")),
		agent.WithInvocationContextCacheConfig(model.NewCacheConfig()))

	events, err := run(context.Background(), a, inv, false)
	require.NoError(t, err)
	require.Len(t, events, 1)
	md := events[0].CacheMetadata
	require.NotNil(t, md)
	assert.False(t, md.IsActive())
	assert.NotEmpty(t, md.Fingerprint)
	assert.Zero(t, m.created)
}
