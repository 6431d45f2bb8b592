//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"context"
	"sync"
	"time"

	"google.golang.org/genai"
)

const defaultLiveQueueSize = 64

// LiveRequest is one item sent by the client during a live session.
// Exactly one of Content, Blob, ActivityStart, ActivityEnd or Close is set.
type LiveRequest struct {
	Content       *genai.Content
	Blob          *genai.Blob
	ActivityStart bool
	ActivityEnd   bool
	Close         bool
}

// LiveRequestQueue carries client input to a live model connection.
type LiveRequestQueue struct {
	ch     chan *LiveRequest
	mu     sync.Mutex
	closed bool
}

// NewLiveRequestQueue creates an open queue.
func NewLiveRequestQueue() *LiveRequestQueue {
	return &LiveRequestQueue{ch: make(chan *LiveRequest, defaultLiveQueueSize)}
}

// Send enqueues req. It returns false if the queue is closed.
func (q *LiveRequestQueue) Send(ctx context.Context, req *LiveRequest) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if req.Close {
		q.closed = true
	}
	q.mu.Unlock()
	select {
	case q.ch <- req:
		return true
	case <-ctx.Done():
		return false
	}
}

// SendContent enqueues a user turn.
func (q *LiveRequestQueue) SendContent(ctx context.Context, content *genai.Content) bool {
	return q.Send(ctx, &LiveRequest{Content: content})
}

// SendRealtime enqueues an audio or video chunk.
func (q *LiveRequestQueue) SendRealtime(ctx context.Context, blob *genai.Blob) bool {
	return q.Send(ctx, &LiveRequest{Blob: blob})
}

// Close asks the live flow to end the session after pending items.
func (q *LiveRequestQueue) Close(ctx context.Context) {
	q.Send(ctx, &LiveRequest{Close: true})
}

// Get blocks for the next request.
func (q *LiveRequestQueue) Get(ctx context.Context) (*LiveRequest, error) {
	select {
	case req := <-q.ch:
		return req, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RealtimeCacheEntry is one cached audio chunk of a live session.
type RealtimeCacheEntry struct {
	Role      string
	Data      *genai.Blob
	Timestamp time.Time
}

// TranscriptionEntry is one transcription or content item of a live session
// kept until it can be written into the session.
type TranscriptionEntry struct {
	Role    string
	Content *genai.Content
}

// LiveCaches holds the audio and transcription caches of a live run.
type LiveCaches struct {
	mu            sync.Mutex
	input         []*RealtimeCacheEntry
	output        []*RealtimeCacheEntry
	transcription []*TranscriptionEntry
}

// AddInput caches a realtime chunk sent by the user.
func (c *LiveCaches) AddInput(blob *genai.Blob) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = append(c.input, &RealtimeCacheEntry{Role: genai.RoleUser, Data: blob, Timestamp: time.Now()})
}

// AddOutput caches an audio chunk produced by the model.
func (c *LiveCaches) AddOutput(blob *genai.Blob) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.output = append(c.output, &RealtimeCacheEntry{Role: genai.RoleModel, Data: blob, Timestamp: time.Now()})
}

// AddTranscription caches a transcription or content entry.
func (c *LiveCaches) AddTranscription(role string, content *genai.Content) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcription = append(c.transcription, &TranscriptionEntry{Role: role, Content: content})
}

// FlushInput returns and clears the input audio cache.
func (c *LiveCaches) FlushInput() []*RealtimeCacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.input
	c.input = nil
	return out
}

// FlushOutput returns and clears the output audio cache.
func (c *LiveCaches) FlushOutput() []*RealtimeCacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.output
	c.output = nil
	return out
}

// FlushTranscriptions returns and clears the transcription cache.
func (c *LiveCaches) FlushTranscriptions() []*TranscriptionEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.transcription
	c.transcription = nil
	return out
}

// ActiveStreamingTool is a streaming tool running in a live session.
type ActiveStreamingTool struct {
	// Cancel stops the tool.
	Cancel context.CancelFunc
	// Done is closed when the tool goroutine returns.
	Done <-chan struct{}
}
