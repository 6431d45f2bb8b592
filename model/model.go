//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package model defines the request/response envelope exchanged with LLMs
// and the connector contracts the runtime calls into.
package model

import (
	"context"
	"errors"
	"iter"
	"time"

	"google.golang.org/genai"
)

// Info describes a model.
type Info struct {
	// Name is the model id sent to the provider, e.g. "gemini-2.5-flash".
	Name string
}

// Model generates content. It is the unary/streaming half of a connector.
//
// With stream=false the sequence yields exactly one response. With
// stream=true it yields the chunks as the provider sends them; callers fold
// them with Aggregate. Transport failures are yielded as errors.
type Model interface {
	Info() Info
	GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error]
}

// LiveModel is the bidirectional half of a connector.
type LiveModel interface {
	Connect(ctx context.Context, req *Request) (LiveConnection, error)
}

// RealtimeInput is one realtime item pushed to a live connection.
// Exactly one field is set.
type RealtimeInput struct {
	Blob          *genai.Blob
	ActivityStart bool
	ActivityEnd   bool
}

// LiveConnection is an open bidirectional model session.
type LiveConnection interface {
	// SendHistory replays prior turns so the model has the conversation context.
	SendHistory(ctx context.Context, history []*genai.Content) error
	// SendContent sends a user turn or function responses.
	SendContent(ctx context.Context, content *genai.Content) error
	// SendRealtime streams audio/video chunks or activity markers.
	SendRealtime(ctx context.Context, input RealtimeInput) error
	// Receive yields server messages until the connection closes.
	// A closed connection is reported as ErrConnectionClosed.
	Receive(ctx context.Context) iter.Seq2[*Response, error]
	Close() error
}

// ErrConnectionClosed reports that the live connection dropped and may be reopened.
var ErrConnectionClosed = errors.New("model: live connection closed")

// CacheProvider creates and deletes provider-side prefix caches.
type CacheProvider interface {
	// CreateCache caches the system instruction, tools, tool config and the
	// first contentsCount contents of req. It returns the cache resource name
	// and its expiry.
	CreateCache(ctx context.Context, req *Request, contentsCount int, ttl time.Duration) (string, time.Time, error)
	DeleteCache(ctx context.Context, name string) error
}

// OutputSchemaWithToolsSupporter is implemented by models that accept a
// response schema in the same request as function declarations.
type OutputSchemaWithToolsSupporter interface {
	SupportsOutputSchemaWithTools() bool
}

// SupportsOutputSchemaWithTools reports whether m can combine a response
// schema with tools.
func SupportsOutputSchemaWithTools(m Model) bool {
	s, ok := m.(OutputSchemaWithToolsSupporter)
	return ok && s.SupportsOutputSchemaWithTools()
}

// ToolRequestProcessor is implemented by tools that edit the request
// themselves, such as provider builtin tools that have no declaration.
type ToolRequestProcessor interface {
	ProcessRequest(ctx context.Context, req *Request) error
}

// InteractionsSupporter is implemented by models served through a stateful
// interactions API, where the server keeps the conversation and each request
// only names the previous interaction.
type InteractionsSupporter interface {
	UsesInteractionsAPI() bool
}

// UsesInteractionsAPI reports whether m keeps conversation state server side.
func UsesInteractionsAPI(m Model) bool {
	s, ok := m.(InteractionsSupporter)
	return ok && s.UsesInteractionsAPI()
}
