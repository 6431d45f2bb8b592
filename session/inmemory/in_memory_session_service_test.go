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

	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/session"
)

func TestCreateGetDelete(t *testing.T) {
	ctx := context.Background()
	svc := NewSessionService()
	key := session.Key{AppName: "app", UserID: "u"}

	sess, err := svc.CreateSession(ctx, key, session.StateMap{"k": "v", "app:a": 1, "user:b": 2})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	require.Equal(t, "v", sess.State["k"])
	require.Equal(t, 1, sess.State["app:a"])
	require.Equal(t, 2, sess.State["user:b"])

	key.SessionID = sess.ID
	got, err := svc.GetSession(ctx, key)
	require.NoError(t, err)
	require.Equal(t, sess.ID, got.ID)

	_, err = svc.CreateSession(ctx, key, nil)
	require.Error(t, err)

	require.NoError(t, svc.DeleteSession(ctx, key))
	got, err = svc.GetSession(ctx, key)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestAppendEventRoutesScopedState(t *testing.T) {
	ctx := context.Background()
	svc := NewSessionService()
	s1, err := svc.CreateSession(ctx, session.Key{AppName: "app", UserID: "u", SessionID: "s1"}, nil)
	require.NoError(t, err)
	s2, err := svc.CreateSession(ctx, session.Key{AppName: "app", UserID: "u", SessionID: "s2"}, nil)
	require.NoError(t, err)

	e := event.New("inv", "agent", event.WithStateDelta(map[string]any{
		"user:name": "ann", "app:ver": 3, "local": true, "temp:x": 1,
	}))
	require.NoError(t, svc.AppendEvent(ctx, s1, e))
	require.Equal(t, true, s1.State["local"])
	require.Len(t, s1.GetEvents(), 1)

	got2, err := svc.GetSession(ctx, session.KeyOf(s2))
	require.NoError(t, err)
	require.Equal(t, "ann", got2.State["user:name"])
	require.Equal(t, 3, got2.State["app:ver"])
	require.NotContains(t, got2.State, "local")

	got1, err := svc.GetSession(ctx, session.KeyOf(s1))
	require.NoError(t, err)
	require.Equal(t, true, got1.State["local"])
	require.NotContains(t, got1.State, "temp:x")
}

func TestAppendEventSkipsPartial(t *testing.T) {
	ctx := context.Background()
	svc := NewSessionService()
	sess, err := svc.CreateSession(ctx, session.Key{AppName: "app", UserID: "u"}, nil)
	require.NoError(t, err)
	e := event.New("inv", "agent")
	e.Partial = true
	require.NoError(t, svc.AppendEvent(ctx, sess, e))
	events, err := svc.ListEvents(ctx, session.KeyOf(sess))
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestEventLimitAndList(t *testing.T) {
	ctx := context.Background()
	svc := NewSessionService(WithSessionEventLimit(2))
	sess, err := svc.CreateSession(ctx, session.Key{AppName: "app", UserID: "u"}, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.AppendEvent(ctx, sess, event.New("inv", "a")))
	}
	events, err := svc.ListEvents(ctx, session.KeyOf(sess))
	require.NoError(t, err)
	require.Len(t, events, 2)

	list, err := svc.ListSessions(ctx, session.UserKey{AppName: "app", UserID: "u"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = svc.ListEvents(ctx, session.Key{AppName: "app", UserID: "u", SessionID: "nope"})
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}
