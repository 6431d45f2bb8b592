//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package llmflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/flow/processor"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/tool/transfer"
)

// transferGrace is how long a live session keeps running after a transfer
// or task completion so the model can finish speaking.
var transferGrace = time.Second

// errLiveHandedOver ends a connection after a transfer or task completion.
var errLiveHandedOver = errors.New("live session handed over")

// liveSession is the state of one RunLive call across reconnects.
type liveSession struct {
	flow   *Flow
	inv    *agent.Invocation
	req    *model.Request
	out    chan<- *event.Event
	handle string
	// closed is set once the client closed the request queue.
	closed atomic.Bool
}

// RunLive drives a bidirectional connection fed by the invocation's live
// request queue. A dropped connection is reopened when the server issued a
// resumption handle.
func (f *Flow) RunLive(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event) error {
	live, ok := inv.Model.(model.LiveModel)
	if !ok {
		return fmt.Errorf("agent %s: model does not support live sessions", inv.AgentName)
	}
	if inv.LiveRequestQueue == nil {
		return fmt.Errorf("agent %s: live run without a request queue", inv.AgentName)
	}
	req := model.NewRequest()
	if _, err := f.preprocess(ctx, inv, req, out); err != nil {
		return err
	}
	if inv.Ended() {
		return nil
	}
	if inv.LiveCaches == nil {
		inv.LiveCaches = &agent.LiveCaches{}
	}
	if processor.HasStreamingTools(req.Tools) {
		req.AppendTools(processor.StopStreamingTool{})
	}

	s := &liveSession{flow: f, inv: inv, req: req, out: out}
	for {
		if s.handle != "" {
			req.LiveConnectConfig.SessionResumption = &genai.SessionResumptionConfig{Handle: s.handle}
		}
		conn, err := live.Connect(ctx, req)
		if err != nil {
			return fmt.Errorf("connect live model: %w", err)
		}
		err = s.serve(ctx, conn)
		conn.Close()
		switch {
		case errors.Is(err, errLiveHandedOver), s.closed.Load():
			return nil
		case errors.Is(err, model.ErrConnectionClosed) && s.handle != "" && ctx.Err() == nil:
			log.Infof("agent %s: live connection closed, resuming session", inv.AgentName)
			continue
		default:
			return err
		}
	}
}

// serve runs one connection: history first unless resuming, a sender
// goroutine for the request queue, and the receive loop.
func (s *liveSession) serve(ctx context.Context, conn model.LiveConnection) error {
	if s.handle == "" && len(s.req.Contents) > 0 {
		if err := conn.SendHistory(ctx, s.req.Contents); err != nil {
			return fmt.Errorf("send live history: %w", err)
		}
	}
	sendCtx, cancelSend := context.WithCancel(ctx)
	sendDone := make(chan struct{})
	// A reconnect must not race the old sender for queued requests.
	defer func() {
		cancelSend()
		<-sendDone
	}()
	go func() {
		defer close(sendDone)
		if err := s.send(sendCtx, conn); err != nil && sendCtx.Err() == nil {
			log.Warnf("agent %s: live send: %v", s.inv.AgentName, err)
		}
	}()

	for rsp, err := range conn.Receive(ctx) {
		if err != nil {
			return err
		}
		if rsp.LiveSessionResumptionHandle != "" {
			s.handle = rsp.LiveSessionResumptionHandle
		}
		events, err := s.postprocess(ctx, rsp)
		if err != nil {
			return err
		}
		for _, e := range events {
			if err := s.handOver(ctx, e, cancelSend, conn); err != nil {
				return err
			}
		}
	}
	return nil
}

// send forwards queued client input to the connection. Realtime blobs are
// also cached for the audio artifacts.
func (s *liveSession) send(ctx context.Context, conn model.LiveConnection) error {
	for {
		r, err := s.inv.LiveRequestQueue.Get(ctx)
		if err != nil {
			return err
		}
		switch {
		case r.Close:
			s.closed.Store(true)
			return conn.Close()
		case r.ActivityStart:
			err = conn.SendRealtime(ctx, model.RealtimeInput{ActivityStart: true})
		case r.ActivityEnd:
			err = conn.SendRealtime(ctx, model.RealtimeInput{ActivityEnd: true})
		case r.Blob != nil:
			s.inv.LiveCaches.AddInput(r.Blob)
			err = conn.SendRealtime(ctx, model.RealtimeInput{Blob: r.Blob})
		case r.Content != nil:
			err = conn.SendContent(ctx, r.Content)
		}
		if err != nil {
			return err
		}
	}
}

// postprocess turns one server message into the events it produces and
// returns them after forwarding.
func (s *liveSession) postprocess(ctx context.Context, rsp *model.Response) ([]*event.Event, error) {
	var events []*event.Event
	collect := func(e *event.Event) error {
		events = append(events, e)
		return s.flow.emit(ctx, s.inv, s.out, e)
	}
	if _, err := s.flow.runResponseProcessors(ctx, s.inv, s.req, rsp, s.out); err != nil {
		return nil, err
	}

	if rsp.InputTranscription != nil || rsp.OutputTranscription != nil {
		return events, s.transcription(ctx, rsp, collect)
	}
	if rsp.Content != nil {
		for _, p := range rsp.Content.Parts {
			if p != nil && p.InlineData != nil && strings.HasPrefix(p.InlineData.MIMEType, "audio/") {
				s.inv.LiveCaches.AddOutput(p.InlineData)
			}
		}
	}
	if rsp.TurnComplete || rsp.Interrupted {
		if err := s.flush(ctx, rsp.TurnComplete, collect); err != nil {
			return events, err
		}
	}
	if isEmptyResponse(rsp) && !rsp.TurnComplete && rsp.UsageMetadata == nil {
		return events, nil
	}

	e := s.flow.finalize(s.inv, s.req, rsp)
	if err := collect(e); err != nil {
		return events, err
	}
	if len(e.FunctionCalls()) == 0 {
		return events, nil
	}
	rspEvent, err := processor.HandleFunctionCallsLive(ctx, s.inv, e, s.req.Tools)
	if err != nil {
		return events, err
	}
	if rspEvent == nil {
		return events, nil
	}
	if err := collect(rspEvent); err != nil {
		return events, err
	}
	s.inv.LiveRequestQueue.SendContent(ctx, rspEvent.Content)
	return events, nil
}

// transcription forwards a transcription fragment as a partial event and
// caches it. Finished transcriptions are written when the turn flushes.
func (s *liveSession) transcription(ctx context.Context, rsp *model.Response,
	collect func(*event.Event) error) error {
	author, role, t := s.inv.AgentName, genai.RoleModel, rsp.OutputTranscription
	if rsp.InputTranscription != nil {
		author, role, t = event.AuthorUser, genai.RoleUser, rsp.InputTranscription
	}
	if t.Text == "" {
		return nil
	}
	s.inv.LiveCaches.AddTranscription(role, genai.NewContentFromText(t.Text, genai.Role(role)))
	e := event.New(s.inv.InvocationID, author, event.WithBranch(s.inv.Branch))
	e.InputTranscription, e.OutputTranscription = rsp.InputTranscription, rsp.OutputTranscription
	e.Partial = true
	return collect(e)
}

// flush writes the cached transcriptions as one event per speaker and, when
// the run saves live blobs, the cached audio as artifacts. Input audio is
// only flushed on a complete turn.
func (s *liveSession) flush(ctx context.Context, turnComplete bool, collect func(*event.Event) error) error {
	for _, e := range s.transcriptionEvents() {
		if err := collect(e); err != nil {
			return err
		}
	}
	var caches [][]*agent.RealtimeCacheEntry
	if turnComplete {
		caches = append(caches, s.inv.LiveCaches.FlushInput())
	}
	caches = append(caches, s.inv.LiveCaches.FlushOutput())
	if !s.saveBlobs() {
		return nil
	}
	for _, entries := range caches {
		e, err := s.audioEvent(ctx, entries)
		if err != nil {
			log.Warnf("agent %s: save live audio: %v", s.inv.AgentName, err)
			continue
		}
		if e == nil {
			continue
		}
		if err := collect(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *liveSession) saveBlobs() bool {
	return s.inv.RunConfig != nil && s.inv.RunConfig.SaveLiveBlob && s.inv.ArtifactService != nil
}

// transcriptionEvents joins consecutive cached fragments of one speaker.
func (s *liveSession) transcriptionEvents() []*event.Event {
	var (
		events []*event.Event
		cur    *event.Event
		role   string
	)
	for _, entry := range s.inv.LiveCaches.FlushTranscriptions() {
		text := entry.Content.Parts[0].Text
		if cur != nil && role == entry.Role {
			t := cur.OutputTranscription
			if role == genai.RoleUser {
				t = cur.InputTranscription
			}
			t.Text += text
			continue
		}
		role = entry.Role
		if role == genai.RoleUser {
			cur = event.New(s.inv.InvocationID, event.AuthorUser, event.WithBranch(s.inv.Branch))
			cur.InputTranscription = &genai.Transcription{Text: text}
		} else {
			cur = event.New(s.inv.InvocationID, s.inv.AgentName, event.WithBranch(s.inv.Branch))
			cur.OutputTranscription = &genai.Transcription{Text: text}
		}
		events = append(events, cur)
	}
	return events
}

// audioEvent saves the chunks of one cache as a single artifact and returns
// the event referring to it.
func (s *liveSession) audioEvent(ctx context.Context, entries []*agent.RealtimeCacheEntry) (*event.Event, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	var data []byte
	for _, entry := range entries {
		data = append(data, entry.Data.Data...)
	}
	first := entries[0]
	author := s.inv.AgentName
	if first.Role == genai.RoleUser {
		author = event.AuthorUser
	}
	filename := fmt.Sprintf("live_audio_%s_%d", first.Role, first.Timestamp.UnixMilli())
	cc := agent.NewCallbackContext(ctx, s.inv, nil)
	version, err := cc.SaveArtifact(filename, &genai.Part{
		InlineData: &genai.Blob{MIMEType: first.Data.MIMEType, Data: data},
	})
	if err != nil {
		return nil, err
	}
	content := newContent(first.Role, &genai.Part{FileData: &genai.FileData{
		FileURI:  fmt.Sprintf("artifact://%s#%d", filename, version),
		MIMEType: first.Data.MIMEType,
	}})
	return event.New(s.inv.InvocationID, author, event.WithBranch(s.inv.Branch),
		event.WithContent(content), event.WithActions(cc.Actions())), nil
}

// handOver reacts to function responses that end this connection: a
// transfer runs the target live after a grace period, task_completed
// returns control to the sequential parent.
func (s *liveSession) handOver(ctx context.Context, e *event.Event, cancelSend context.CancelFunc,
	conn model.LiveConnection) error {
	if !e.HasContent() || e.Content.Parts[0].FunctionResponse == nil {
		return nil
	}
	switch e.Content.Parts[0].FunctionResponse.Name {
	case transfer.ToolName:
		wait(ctx, transferGrace)
		cancelSend()
		conn.Close()
		if name := e.Actions.TransferToAgent; name != "" {
			target, err := transferTarget(s.inv, name)
			if err != nil {
				return err
			}
			events, err := target.RunLive(ctx, s.inv)
			if err != nil {
				return fmt.Errorf("run transfer target %s live: %w", name, err)
			}
			if _, err := s.flow.drain(ctx, s.inv, events, s.out); err != nil {
				return err
			}
		}
		return errLiveHandedOver
	case processor.TaskCompletedToolName:
		wait(ctx, transferGrace)
		cancelSend()
		return errLiveHandedOver
	}
	return nil
}

func wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
