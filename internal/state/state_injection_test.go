//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/artifact"
	artifactinmemory "trpc.group/trpc-go/trpc-agent-runtime/artifact/inmemory"
	"trpc.group/trpc-go/trpc-agent-runtime/session"
)

func newInvocation(state map[string]any) *agent.Invocation {
	sess := &session.Session{ID: "s", AppName: "app", UserID: "u", State: session.StateMap{}}
	for k, v := range state {
		sess.SetState(k, v)
	}
	return agent.NewInvocation(agent.WithInvocationSession(sess))
}

func TestInjectSessionState(t *testing.T) {
	tests := []struct {
		name        string
		template    string
		state       map[string]any
		expected    string
		expectError bool
	}{
		{name: "empty template", template: "", expected: ""},
		{name: "no state variables", template: "Hello, world!", expected: "Hello, world!"},
		{
			name:     "simple state variable",
			template: "Tell me about {capital_city}.",
			state:    map[string]any{"capital_city": "Paris"},
			expected: "Tell me about Paris.",
		},
		{
			name:     "multiple state variables",
			template: "The capital of {country} is {capital_city}.",
			state:    map[string]any{"country": "France", "capital_city": "Paris"},
			expected: "The capital of France is Paris.",
		},
		{
			name:     "optional variable present",
			template: "Hello {name?}!",
			state:    map[string]any{"name": "Alice"},
			expected: "Hello Alice!",
		},
		{name: "optional variable missing", template: "Hello {name?}!", expected: "Hello !"},
		{name: "required variable missing", template: "Hello {name}!", expectError: true},
		{
			name:     "prefixed variables",
			template: "{user:lang} / {app:region}",
			state:    map[string]any{"user:lang": "en", "app:region": "eu"},
			expected: "en / eu",
		},
		{
			name:     "mustache placeholders",
			template: "Hi {{ name }} and {{user:pet?}}",
			state:    map[string]any{"name": "Bob"},
			expected: "Hi Bob and ",
		},
		{
			name:     "structured values are json",
			template: "Prefs: {prefs}",
			state:    map[string]any{"prefs": map[string]any{"theme": "dark"}},
			expected: `Prefs: {"theme":"dark"}`,
		},
		{
			name:     "invalid names are untouched",
			template: `Reply as {"answer": 1} or {not valid}.`,
			expected: `Reply as {"answer": 1} or {not valid}.`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InjectSessionState(context.Background(), tt.template, newInvocation(tt.state))
			if tt.expectError {
				var missing *MissingVariableError
				require.ErrorAs(t, err, &missing)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestInjectTempState(t *testing.T) {
	inv := newInvocation(nil)
	inv.SetTemp("temp:step", 3)
	got, err := InjectSessionState(context.Background(), "step {temp:step}", inv)
	require.NoError(t, err)
	assert.Equal(t, "step 3", got)
}

func TestInjectArtifact(t *testing.T) {
	inv := newInvocation(nil)
	svc := artifactinmemory.NewService()
	inv.ArtifactService = svc
	info := artifact.SessionInfo{AppName: "app", UserID: "u", SessionID: "s"}
	_, err := svc.SaveArtifact(context.Background(), info, "notes.txt", genai.NewPartFromText("be brief"))
	require.NoError(t, err)

	got, err := InjectSessionState(context.Background(), "Rules: {artifact.notes.txt}", inv)
	require.NoError(t, err)
	assert.Equal(t, "Rules: be brief", got)

	got, err = InjectSessionState(context.Background(), "[{artifact.missing.txt?}]", inv)
	require.NoError(t, err)
	assert.Equal(t, "[]", got)

	_, err = InjectSessionState(context.Background(), "{artifact.missing.txt}", inv)
	assert.Error(t, err)
}
