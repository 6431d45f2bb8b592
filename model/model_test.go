//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/tool"
)

type declTool struct{ name string }

func (d declTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{Name: d.name}
}

type builtinTool struct{}

func (builtinTool) Declaration() *genai.FunctionDeclaration { return nil }

var _ tool.Tool = declTool{}

func TestRequestAppendInstructions(t *testing.T) {
	req := NewRequest()
	req.AppendInstructions("a", "", "b")
	req.AppendInstructions("c")
	require.Equal(t, "a\n\nb\n\nc", req.SystemInstructionText())
	require.Len(t, req.Config.SystemInstruction.Parts, 1)
}

func TestRequestAppendTools(t *testing.T) {
	req := NewRequest()
	req.AppendTools(declTool{"x"}, builtinTool{}, declTool{"y"})
	require.Len(t, req.Config.Tools, 1)
	require.Len(t, req.Config.Tools[0].FunctionDeclarations, 2)
	require.Contains(t, req.Tools, "x")
	require.Contains(t, req.Tools, "y")
	require.True(t, req.HasTools())
}

func TestRequestSetOutputSchema(t *testing.T) {
	req := &Request{}
	s := &genai.Schema{Type: genai.TypeObject}
	req.SetOutputSchema(s)
	require.Equal(t, s, req.Config.ResponseSchema)
	require.Equal(t, "application/json", req.Config.ResponseMIMEType)
}

func TestNewResponseFromGenAI(t *testing.T) {
	ok := NewResponseFromGenAI(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content:      genai.NewContentFromText("hi", genai.RoleModel),
		FinishReason: genai.FinishReasonStop,
	}}})
	require.False(t, ok.IsError())
	require.Equal(t, "hi", ok.Content.Parts[0].Text)

	stopped := NewResponseFromGenAI(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		FinishReason: genai.FinishReasonStop,
	}}})
	require.False(t, stopped.IsError())

	blocked := NewResponseFromGenAI(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		FinishReason: genai.FinishReasonSafety, FinishMessage: "unsafe",
	}}})
	require.Equal(t, "SAFETY", blocked.ErrorCode)
	require.Equal(t, "unsafe", blocked.ErrorMessage)

	empty := NewResponseFromGenAI(&genai.GenerateContentResponse{})
	require.Equal(t, ErrorCodeUnknown, empty.ErrorCode)
}

func TestErrorRateLimitHint(t *testing.T) {
	inner := errors.New("quota")
	err := NewError(http.StatusTooManyRequests, "RESOURCE_EXHAUSTED", "slow down", inner)
	require.Contains(t, err.Error(), "429")
	require.Contains(t, err.Message, "error-code-429")
	require.True(t, err.Retryable())
	require.ErrorIs(t, err, inner)

	plain := NewError(http.StatusBadRequest, "INVALID_ARGUMENT", "bad", nil)
	require.NotContains(t, plain.Message, "429")
	require.False(t, plain.Retryable())
}

func TestCacheMetadata(t *testing.T) {
	now := time.Now()
	exp := now.Add(time.Minute)
	m := &CacheMetadata{CacheName: "c", ExpireTime: &exp, Fingerprint: "f", ContentsCount: 2}
	require.True(t, m.IsActive())
	require.True(t, m.ExpiresSoon(now, 2*time.Minute))
	require.False(t, m.ExpiresSoon(now, 30*time.Second))

	m2 := m.WithInvocationsUsed(3)
	require.Equal(t, 0, m.InvocationsUsed)
	require.Equal(t, 3, m2.InvocationsUsed)
	require.False(t, NewFingerprintOnly("f", 1).IsActive())
}

func TestCallbacksFirstNonNilWins(t *testing.T) {
	var calls []string
	want := &Response{Content: genai.NewContentFromText("short", genai.RoleModel)}
	cbs := NewCallbacks().
		RegisterBeforeModel(func(context.Context, *Request) (*Response, error) {
			calls = append(calls, "a")
			return nil, nil
		}).
		RegisterBeforeModel(func(context.Context, *Request) (*Response, error) {
			calls = append(calls, "b")
			return want, nil
		}).
		RegisterBeforeModel(func(context.Context, *Request) (*Response, error) {
			calls = append(calls, "c")
			return nil, nil
		})
	got, err := cbs.RunBeforeModel(context.Background(), NewRequest())
	require.NoError(t, err)
	require.Same(t, want, got)
	require.Equal(t, []string{"a", "b"}, calls)

	var nilCbs *Callbacks
	got, err = nilCbs.RunAfterModel(context.Background(), want)
	require.NoError(t, err)
	require.Nil(t, got)
}
