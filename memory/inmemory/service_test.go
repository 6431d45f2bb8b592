//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/memory"
	"trpc.group/trpc-go/trpc-agent-runtime/session"
)

func newSession(id string, texts ...string) *session.Session {
	sess := &session.Session{ID: id, AppName: "app", UserID: "u", State: session.StateMap{}}
	base := time.Unix(1000, 0)
	for i, text := range texts {
		e := event.New("inv", "assistant", event.WithContent(genai.NewContentFromText(text, genai.RoleModel)))
		e.Timestamp = base.Add(time.Duration(i) * time.Second)
		sess.Events = append(sess.Events, e)
	}
	return sess
}

func TestSearchMemory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryService()
	require.NoError(t, s.AddSessionToMemory(ctx, newSession("s1", "The weather in Paris is sunny", "I like green tea")))
	require.NoError(t, s.AddSessionToMemory(ctx, newSession("s2", "Paris hotels are booked")))

	key := memory.UserKey{AppName: "app", UserID: "u"}
	got, err := s.SearchMemory(ctx, key, "paris?")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].SessionID)

	got, err = s.SearchMemory(ctx, key, "coffee")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.SearchMemory(ctx, memory.UserKey{AppName: "app", UserID: "other"}, "paris")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAddSessionReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryService(WithSearchLimit(1))
	require.NoError(t, s.AddSessionToMemory(ctx, newSession("s1", "alpha one")))
	require.NoError(t, s.AddSessionToMemory(ctx, newSession("s1", "alpha two", "alpha three")))

	got, err := s.SearchMemory(ctx, memory.UserKey{AppName: "app", UserID: "u"}, "alpha")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alpha three", got[0].Text())
}

func TestUserKeyRequired(t *testing.T) {
	s := NewMemoryService()
	_, err := s.SearchMemory(context.Background(), memory.UserKey{UserID: "u"}, "x")
	require.ErrorIs(t, err, memory.ErrAppNameRequired)
	err = s.AddSessionToMemory(context.Background(), &session.Session{AppName: "app"})
	require.ErrorIs(t, err, memory.ErrUserIDRequired)
}
