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
	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/tool/transfer"
)

// subAgentToResume returns the agent this agent had transferred to when
// the invocation paused, or nil when the agent itself has to run.
func (a *LLMAgent) subAgentToResume(inv *agent.Invocation) agent.Agent {
	events := inv.GetEvents(true, true)
	if len(events) == 0 {
		return nil
	}
	name := a.Info().Name
	last := events[len(events)-1]
	if last.Author == name {
		return a.transferTarget(inv, last)
	}
	if last.Author == event.AuthorUser {
		// The user answers a tool call of this agent.
		if call := matchingCall(events, last); call != nil && call.Author == name {
			return nil
		}
	}
	for i := len(events) - 1; i >= 0; i-- {
		if target := a.transferTarget(inv, events[i]); target != nil {
			return target
		}
	}
	return nil
}

// transferTarget returns the agent e transferred to when e is a
// transfer_to_agent response of this agent.
func (a *LLMAgent) transferTarget(inv *agent.Invocation, e *event.Event) agent.Agent {
	if e.Author != a.Info().Name || e.Actions == nil || e.Actions.TransferToAgent == "" {
		return nil
	}
	for _, fr := range e.FunctionResponses() {
		if fr.Name == transfer.ToolName {
			return agent.FindAgent(agent.Root(inv.Agent), e.Actions.TransferToAgent)
		}
	}
	return nil
}

// matchingCall finds the event holding the calls answered by rsp.
func matchingCall(events []*event.Event, rsp *event.Event) *event.Event {
	ids := make(map[string]bool)
	for _, fr := range rsp.FunctionResponses() {
		ids[fr.ID] = true
	}
	if len(ids) == 0 {
		return nil
	}
	for i := len(events) - 1; i >= 0; i-- {
		for _, fc := range events[i].FunctionCalls() {
			if ids[fc.ID] {
				return events[i]
			}
		}
	}
	return nil
}
