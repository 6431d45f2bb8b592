//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package tool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/memory"
	"trpc.group/trpc-go/trpc-agent-runtime/memory/inmemory"
	"trpc.group/trpc-go/trpc-agent-runtime/session"
)

func TestLoadMemory(t *testing.T) {
	ctx := context.Background()
	svc := inmemory.NewMemoryService()
	past := &session.Session{ID: "old", AppName: "app", UserID: "u1"}
	e := event.New("inv-0", event.AuthorUser,
		event.WithContent(genai.NewContentFromText("my favourite color is teal", genai.RoleUser)))
	e.Timestamp = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	past.ApplyEvent(e)
	require.NoError(t, svc.AddSessionToMemory(ctx, past))

	cur := &session.Session{ID: "new", AppName: "app", UserID: "u1"}
	inv := agent.NewInvocation(agent.WithInvocationSession(cur), agent.WithInvocationMemoryService(svc))
	tc := agent.NewToolContext(ctx, inv, "call-1", nil, nil)

	tl := NewLoadTool()
	assert.Equal(t, memory.LoadToolName, tl.Declaration().Name)
	res, err := tl.Call(agent.WithToolContext(ctx, tc), []byte(`{"query":"color"}`))
	require.NoError(t, err)
	rsp := res.(*LoadMemoryResponse)
	require.Len(t, rsp.Memories, 1)
	assert.Equal(t, "my favourite color is teal", rsp.Memories[0].Text)
	assert.Equal(t, "2025-01-02T03:04:05Z", rsp.Memories[0].Timestamp)
}

func TestLoadMemoryWithoutService(t *testing.T) {
	ctx := context.Background()
	inv := agent.NewInvocation(agent.WithInvocationSession(&session.Session{ID: "s", AppName: "a", UserID: "u"}))
	tc := agent.NewToolContext(ctx, inv, "call-1", nil, nil)
	_, err := NewLoadTool().Call(agent.WithToolContext(ctx, tc), []byte(`{"query":"x"}`))
	require.Error(t, err)
}
