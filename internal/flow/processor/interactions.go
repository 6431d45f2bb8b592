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

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
)

// InteractionsRequestProcessor chains requests of models that keep the
// conversation server side. Once an interaction exists, only the latest
// user turn is sent along with the previous interaction id.
type InteractionsRequestProcessor struct{}

// NewInteractionsRequestProcessor creates a new interactions request processor.
func NewInteractionsRequestProcessor() *InteractionsRequestProcessor {
	return &InteractionsRequestProcessor{}
}

// ProcessRequest implements flow.RequestProcessor.
func (p *InteractionsRequestProcessor) ProcessRequest(_ context.Context, inv *agent.Invocation,
	req *model.Request, _ chan<- *event.Event) error {
	if !model.UsesInteractionsAPI(inv.Model) {
		return nil
	}
	events := inv.GetEvents(false, false)
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.Author != inv.AgentName || e.Response == nil || e.InteractionID == "" || !inBranch(inv.Branch, e) {
			continue
		}
		req.PreviousInteractionID = e.InteractionID
		req.Contents = latestUserTurn(req.Contents)
		return nil
	}
	return nil
}

// latestUserTurn returns the trailing run of user contents.
func latestUserTurn(contents []*genai.Content) []*genai.Content {
	i := len(contents)
	for i > 0 && contents[i-1].Role == genai.RoleUser {
		i--
	}
	return contents[i:]
}
