//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package chainagent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/agent/llmagent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/agenttest"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
	"trpc.group/trpc-go/trpc-agent-runtime/tool/function"
)

// stateNames lists current_sub_agent of every state event of author, "end"
// for the end-of-agent event.
func stateNames(t *testing.T, events []*event.Event, author string) []string {
	var out []string
	for _, e := range events {
		if e.Author != author || e.Object != model.ObjectTypeStateUpdate {
			continue
		}
		if e.Actions.EndOfAgent {
			out = append(out, "end")
			continue
		}
		var s agent.SequentialState
		require.NoError(t, json.Unmarshal(e.AgentState, &s))
		out = append(out, s.CurrentSubAgent)
	}
	return out
}

func TestChainAgent_RunsInOrder(t *testing.T) {
	a := agenttest.Replying("A", "a")
	b := agenttest.Replying("B", "b")
	c := agenttest.Replying("C", "c")
	chain := New("chain", WithSubAgents([]agent.Agent{a, b, c}))
	assert.Equal(t, "Chain agent that runs 3 sub-agents in sequence", chain.Info().Description)

	inv := agenttest.NewInvocation(agenttest.NewSession(agenttest.UserEvent("go")))
	events, err := agenttest.Drive(context.Background(), chain, inv)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, agenttest.Authors(events))
	assert.Equal(t, []string{"a", "b", "c"}, agenttest.Texts(events))

	// B runs after A's reply is in the session.
	assert.Equal(t, []string{"go", "a"}, agenttest.Texts(b.Seen(0)))
	assert.Same(t, chain, agent.Root(a))
}

func TestChainAgent_ResumableStates(t *testing.T) {
	chain := New("chain", WithSubAgents([]agent.Agent{
		agenttest.Replying("A", "a"), agenttest.Replying("B", "b"),
	}))
	inv := agenttest.NewInvocation(agenttest.NewSession(agenttest.UserEvent("go")), agenttest.Resumable())

	events, err := agenttest.Drive(context.Background(), chain, inv)
	require.NoError(t, err)
	assert.Equal(t, []string{"chain", "A", "chain", "B", "chain"}, agenttest.Authors(events))
	assert.Equal(t, []string{"A", "B", "end"}, stateNames(t, events, "chain"))
	assert.True(t, inv.IsEndOfAgent("chain"))
}

func TestChainAgent_ResumesPausedSubAgent(t *testing.T) {
	ticket := function.NewFunctionTool(func(context.Context, struct{}) (map[string]any, error) {
		return nil, nil
	}, function.WithName("open_ticket"), function.WithLongRunning(true))
	bModel := agenttest.NewModel(agenttest.Call(&genai.FunctionCall{Name: "open_ticket"}), agenttest.Text("b done"))
	a := agenttest.Replying("A", "a done")
	b := llmagent.New("B", llmagent.WithModel(bModel), llmagent.WithTools([]tool.Tool{ticket}),
		llmagent.WithDisallowTransferToParent(true), llmagent.WithDisallowTransferToPeers(true))
	c := agenttest.Replying("C", "c done")
	chain := New("chain", WithSubAgents([]agent.Agent{a, b, c}))

	sess := agenttest.NewSession(agenttest.UserEvent("go"))
	inv := agenttest.NewInvocation(sess, agenttest.Resumable())
	first, err := agenttest.Drive(context.Background(), chain, inv)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, stateNames(t, first, "chain"))
	assert.Equal(t, 0, c.Runs())
	last := first[len(first)-1]
	require.True(t, inv.ShouldPauseInvocation(last))
	callID := last.FunctionCalls()[0].ID

	// The user answers the long-running call.
	sess.ApplyEvent(event.New("inv", event.AuthorUser, event.WithContent(&genai.Content{
		Role: genai.RoleUser,
		Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
			ID: callID, Name: "open_ticket", Response: map[string]any{"status": "opened"},
		}}},
	})))

	resumed := agenttest.NewInvocation(sess, agenttest.Resumable())
	resumed.PopulateInvocationAgentStates()
	var state agent.SequentialState
	ok, err := resumed.LoadAgentState("chain", &state)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "B", state.CurrentSubAgent)

	second, err := agenttest.Drive(context.Background(), chain, resumed)
	require.NoError(t, err)
	assert.Equal(t, []string{"b done", "c done"}, agenttest.Texts(second))
	assert.Equal(t, []string{"C", "end"}, stateNames(t, second, "chain"))
	assert.Equal(t, 1, a.Runs())
	assert.Equal(t, 1, c.Runs())
	assert.Equal(t, 2, bModel.Calls())
}

func TestChainAgent_UnknownSavedSubAgentRestarts(t *testing.T) {
	a := agenttest.Replying("A", "a")
	b := agenttest.Replying("B", "b")
	chain := New("chain", WithSubAgents([]agent.Agent{a, b}))
	inv := agenttest.NewInvocation(agenttest.NewSession(agenttest.UserEvent("go")))
	inv.SetAgentState("chain", json.RawMessage(`{"current_sub_agent":"removed"}`), false)

	events, err := agenttest.Drive(context.Background(), chain, inv)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, agenttest.Texts(events))
}

func TestChainAgent_ErrorStopsChain(t *testing.T) {
	failing := agenttest.NewAgent("A", func(_ context.Context, inv *agent.Invocation, _ int) []*event.Event {
		return []*event.Event{event.NewErrorEvent(inv.InvocationID, "A", model.ErrorCodeFlow, errors.New("boom"))}
	})
	b := agenttest.Replying("B", "b")
	chain := New("chain", WithSubAgents([]agent.Agent{failing, b}))

	events, err := agenttest.Drive(context.Background(), chain,
		agenttest.NewInvocation(agenttest.NewSession(agenttest.UserEvent("go"))))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.ObjectTypeError, events[0].Object)
	assert.Equal(t, 0, b.Runs())
}

func TestChainAgent_RunLiveOffersTaskCompletion(t *testing.T) {
	var flags []bool
	body := func(name string) agenttest.BodyFunc {
		return func(_ context.Context, inv *agent.Invocation, _ int) []*event.Event {
			flags = append(flags, inv.LiveTaskCompletion)
			return []*event.Event{agenttest.Reply(inv, name, name+" done")}
		}
	}
	chain := New("chain", WithSubAgents([]agent.Agent{
		agenttest.NewAgent("A", body("A")), agenttest.NewAgent("B", body("B")),
	}))
	inv := agenttest.NewInvocation(agenttest.NewSession())

	ch, err := chain.RunLive(context.Background(), inv)
	require.NoError(t, err)
	var events []*event.Event
	for e := range ch {
		events = append(events, e)
	}
	assert.Equal(t, []string{"A done", "B done"}, agenttest.Texts(events))
	assert.Equal(t, []bool{true, true}, flags)
	assert.False(t, inv.LiveTaskCompletion)
}
