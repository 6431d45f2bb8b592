//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package gemini

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/model"
)

func TestNew(t *testing.T) {
	m, err := New(context.Background(), "", WithAPIKey("test-key"), WithRateLimit(rate.Every(time.Second), 2))
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, m.Info().Name)
	assert.Equal(t, genai.BackendGeminiAPI, m.backend)
	assert.Equal(t, 2, m.limiter.Burst())
	assert.False(t, m.SupportsOutputSchemaWithTools())
}

func TestIsGemini2OrLater(t *testing.T) {
	for name, want := range map[string]bool{
		"gemini-2.5-flash":                   true,
		"gemini-10.0-pro":                    true,
		"gemini-1.5-pro":                     false,
		"projects/p/models/gemini-2.0-flash": true,
		"text-bison":                         false,
		"gemini-pro":                         false,
	} {
		assert.Equal(t, want, isGemini2OrLater(name), name)
	}
}

func TestConvertError(t *testing.T) {
	err := convertError(genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"})
	var merr *model.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "RESOURCE_EXHAUSTED", merr.ErrorCode())
	assert.True(t, merr.Retryable())
	assert.Contains(t, merr.Message, "quota")

	plain := errors.New("dial failed")
	assert.Same(t, plain, convertError(plain))
}

func TestCacheConfig(t *testing.T) {
	req := model.NewRequest()
	req.AppendInstructions("be brief")
	req.Config.ToolConfig = &genai.ToolConfig{}
	req.Contents = []*genai.Content{
		genai.NewContentFromText("one", genai.RoleUser),
		genai.NewContentFromText("two", genai.RoleModel),
		genai.NewContentFromText("three", genai.RoleUser),
	}

	cfg := cacheConfig(req, 2, time.Hour)
	assert.Equal(t, time.Hour, cfg.TTL)
	require.Len(t, cfg.Contents, 2)
	assert.Equal(t, "two", cfg.Contents[1].Parts[0].Text)
	assert.Equal(t, "be brief", cfg.SystemInstruction.Parts[0].Text)
	assert.NotNil(t, cfg.ToolConfig)

	assert.Len(t, cacheConfig(req, 10, time.Hour).Contents, 3)
}

func TestLiveConnectConfig(t *testing.T) {
	req := model.NewRequest()
	req.AppendInstructions("speak slowly")
	req.Config.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	req.LiveConnectConfig.ResponseModalities = []genai.Modality{genai.ModalityAudio}

	lc := liveConnectConfig(req)
	assert.Equal(t, "speak slowly", lc.SystemInstruction.Parts[0].Text)
	assert.Len(t, lc.Tools, 1)
	assert.Equal(t, []genai.Modality{genai.ModalityAudio}, lc.ResponseModalities)
	// The request's own live config is left untouched.
	assert.Nil(t, req.LiveConnectConfig.SystemInstruction)
}

func TestReceiveStateConvert(t *testing.T) {
	var s receiveState

	out := s.convert(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		ModelTurn: genai.NewContentFromText("Hel", genai.RoleModel),
	}})
	require.Len(t, out, 1)
	assert.True(t, out[0].Partial)

	s.convert(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		ModelTurn: genai.NewContentFromText("lo", genai.RoleModel),
	}})
	out = s.convert(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{TurnComplete: true}})
	require.Len(t, out, 2)
	assert.False(t, out[0].Partial)
	assert.Equal(t, "Hello", out[0].Content.Parts[0].Text)
	assert.True(t, out[1].TurnComplete)

	out = s.convert(&genai.LiveServerMessage{
		ToolCall: &genai.LiveServerToolCall{FunctionCalls: []*genai.FunctionCall{{ID: "1", Name: "lookup"}}},
		SessionResumptionUpdate: &genai.LiveServerSessionResumptionUpdate{NewHandle: "h2", Resumable: true},
	})
	require.Len(t, out, 2)
	assert.Equal(t, "lookup", out[0].FunctionCalls()[0].Name)
	assert.Equal(t, "h2", out[1].LiveSessionResumptionHandle)

	out = s.convert(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		InputTranscription: &genai.Transcription{Text: "hi"},
		Interrupted:        true,
	}})
	require.Len(t, out, 2)
	assert.Equal(t, "hi", out[0].InputTranscription.Text)
	assert.True(t, out[1].Interrupted)

	out = s.convert(&genai.LiveServerMessage{UsageMetadata: &genai.UsageMetadata{
		PromptTokenCount: 3, ResponseTokenCount: 4, TotalTokenCount: 7,
	}})
	require.Len(t, out, 1)
	assert.Equal(t, int32(4), out[0].UsageMetadata.CandidatesTokenCount)
}

func TestReceiveError(t *testing.T) {
	closed := &websocket.CloseError{Code: websocket.CloseNormalClosure}
	assert.ErrorIs(t, receiveError(closed), model.ErrConnectionClosed)
	assert.ErrorIs(t, receiveError(net.ErrClosed), model.ErrConnectionClosed)
	abnormal := &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	assert.ErrorIs(t, receiveError(abnormal), model.ErrConnectionClosed)
	assert.NotErrorIs(t, receiveError(errors.New("bad frame")), model.ErrConnectionClosed)
}
