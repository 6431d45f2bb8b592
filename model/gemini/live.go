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
	"fmt"
	"iter"
	"net"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
)

// Connect implements model.LiveModel. The system instruction and tools of
// the request config are moved into the live setup.
func (m *Model) Connect(ctx context.Context, req *model.Request) (model.LiveConnection, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	sess, err := m.client.Live.Connect(ctx, m.modelName(req), liveConnectConfig(req))
	if err != nil {
		return nil, fmt.Errorf("gemini: live connect: %w", convertError(err))
	}
	return &liveConn{sess: sess}, nil
}

func liveConnectConfig(req *model.Request) *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{}
	if req.LiveConnectConfig != nil {
		c := *req.LiveConnectConfig
		lc = &c
	}
	if cfg := req.Config; cfg != nil {
		if lc.SystemInstruction == nil {
			lc.SystemInstruction = cfg.SystemInstruction
		}
		if len(lc.Tools) == 0 {
			lc.Tools = cfg.Tools
		}
	}
	return lc
}

// liveConn adapts a genai live session. Sends are serialized because the
// underlying websocket allows one writer at a time.
type liveConn struct {
	sess *genai.Session
	mu   sync.Mutex
}

func (c *liveConn) SendHistory(_ context.Context, history []*genai.Content) error {
	var turns []*genai.Content
	for _, content := range history {
		if content != nil && len(content.Parts) > 0 {
			turns = append(turns, content)
		}
	}
	if len(turns) == 0 {
		return nil
	}
	// The model only answers right away when the user spoke last.
	complete := turns[len(turns)-1].Role == genai.RoleUser
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.SendClientContent(genai.LiveClientContentInput{Turns: turns, TurnComplete: &complete})
}

func (c *liveConn) SendContent(_ context.Context, content *genai.Content) error {
	if content == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var rsps []*genai.FunctionResponse
	for _, p := range content.Parts {
		if p != nil && p.FunctionResponse != nil {
			rsps = append(rsps, p.FunctionResponse)
		}
	}
	if len(rsps) > 0 {
		return c.sess.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: rsps})
	}
	return c.sess.SendClientContent(genai.LiveClientContentInput{Turns: []*genai.Content{content}})
}

func (c *liveConn) SendRealtime(_ context.Context, input model.RealtimeInput) error {
	var in genai.LiveRealtimeInput
	switch {
	case input.ActivityStart:
		in.ActivityStart = &genai.ActivityStart{}
	case input.ActivityEnd:
		in.ActivityEnd = &genai.ActivityEnd{}
	case input.Blob != nil:
		in.Media = input.Blob
	default:
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.SendRealtimeInput(in)
}

// Receive reads server messages until the connection closes or ctx ends.
func (c *liveConn) Receive(ctx context.Context) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		var acc receiveState
		for ctx.Err() == nil {
			msg, err := c.sess.Receive()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				yield(nil, receiveError(err))
				return
			}
			for _, rsp := range acc.convert(msg) {
				if !yield(rsp, nil) {
					return
				}
			}
		}
	}
}

func (c *liveConn) Close() error { return c.sess.Close() }

func receiveError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed) {
		return model.ErrConnectionClosed
	}
	if websocket.IsUnexpectedCloseError(err) {
		return fmt.Errorf("%w: %v", model.ErrConnectionClosed, err)
	}
	return fmt.Errorf("gemini: live receive: %w", err)
}

// receiveState accumulates the text of the current model turn so that the
// full text follows its partial fragments.
type receiveState struct {
	text strings.Builder
}

func (s *receiveState) fullText() *model.Response {
	if s.text.Len() == 0 {
		return nil
	}
	rsp := &model.Response{Content: genai.NewContentFromText(s.text.String(), genai.RoleModel)}
	s.text.Reset()
	return rsp
}

func (s *receiveState) convert(msg *genai.LiveServerMessage) []*model.Response {
	var out []*model.Response
	add := func(rsp *model.Response) {
		if rsp != nil {
			out = append(out, rsp)
		}
	}
	if u := msg.UsageMetadata; u != nil {
		add(&model.Response{UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:        u.PromptTokenCount,
			CachedContentTokenCount: u.CachedContentTokenCount,
			CandidatesTokenCount:    u.ResponseTokenCount,
			ToolUsePromptTokenCount: u.ToolUsePromptTokenCount,
			ThoughtsTokenCount:      u.ThoughtsTokenCount,
			TotalTokenCount:         u.TotalTokenCount,
		}})
	}
	if sc := msg.ServerContent; sc != nil {
		if turn := sc.ModelTurn; turn != nil && len(turn.Parts) > 0 {
			rsp := &model.Response{Content: turn, GroundingMetadata: sc.GroundingMetadata}
			if isText(turn) {
				for _, p := range turn.Parts {
					s.text.WriteString(p.Text)
				}
				rsp.Partial = true
			}
			add(rsp)
		}
		if sc.InputTranscription != nil {
			add(&model.Response{InputTranscription: sc.InputTranscription})
		}
		if sc.OutputTranscription != nil {
			add(&model.Response{OutputTranscription: sc.OutputTranscription})
		}
		if sc.TurnComplete || sc.Interrupted {
			add(s.fullText())
			add(&model.Response{TurnComplete: sc.TurnComplete, Interrupted: sc.Interrupted})
		}
	}
	if tc := msg.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		add(s.fullText())
		parts := make([]*genai.Part, len(tc.FunctionCalls))
		for i, fc := range tc.FunctionCalls {
			parts[i] = &genai.Part{FunctionCall: fc}
		}
		add(&model.Response{Content: &genai.Content{Role: genai.RoleModel, Parts: parts}})
	}
	if u := msg.SessionResumptionUpdate; u != nil && u.NewHandle != "" {
		add(&model.Response{LiveSessionResumptionHandle: u.NewHandle})
	}
	if msg.GoAway != nil {
		log.Infof("gemini: live server going away in %v", msg.GoAway.TimeLeft)
	}
	return out
}

func isText(c *genai.Content) bool {
	for _, p := range c.Parts {
		if p == nil || p.Text == "" || p.Thought {
			return false
		}
	}
	return true
}
