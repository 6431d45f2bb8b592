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
	"io"
	"sync"
	"time"
)

// StreamChunk is one item produced by a streamable tool.
type StreamChunk struct {
	Content   any       `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Stream is a bounded single-producer pipe between a tool and its reader.
type Stream struct {
	Reader *StreamReader
	Writer *StreamWriter
}

// NewStream creates a stream buffering up to bufferSize chunks.
func NewStream(bufferSize int) *Stream {
	p := &pipe{
		items:  make(chan pipeItem, bufferSize),
		closed: make(chan struct{}),
	}
	return &Stream{Reader: &StreamReader{p: p}, Writer: &StreamWriter{p: p}}
}

type pipeItem struct {
	chunk StreamChunk
	err   error
}

type pipe struct {
	items     chan pipeItem
	closed    chan struct{}
	closeOnce sync.Once
}

// StreamReader is the consuming side of a Stream.
type StreamReader struct {
	p *pipe
}

// Recv blocks for the next chunk. It returns io.EOF once the writer closed.
func (r *StreamReader) Recv() (StreamChunk, error) {
	item, ok := <-r.p.items
	if !ok {
		return StreamChunk{}, io.EOF
	}
	return item.chunk, item.err
}

// Close tells the writer that nothing more will be read. Safe to call twice.
func (r *StreamReader) Close() {
	r.p.closeOnce.Do(func() { close(r.p.closed) })
}

// StreamWriter is the producing side of a Stream.
type StreamWriter struct {
	p *pipe
}

// Send queues a chunk or an error. It reports true when the reader has
// gone away and the chunk was dropped.
func (w *StreamWriter) Send(chunk StreamChunk, err error) (closed bool) {
	select {
	case <-w.p.closed:
		return true
	default:
	}
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now()
	}
	select {
	case <-w.p.closed:
		return true
	case w.p.items <- pipeItem{chunk: chunk, err: err}:
		return false
	}
}

// Close ends the stream. Call it exactly once, from the producer.
func (w *StreamWriter) Close() {
	close(w.p.items)
}
