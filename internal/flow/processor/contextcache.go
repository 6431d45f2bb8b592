//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package processor

import (
	"context"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/contextcache"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
)

// ContextCacheRequestProcessor carries the cache config of the invocation and
// the cache state recorded by this agent's last response into the request.
type ContextCacheRequestProcessor struct{}

// NewContextCacheRequestProcessor creates a new context cache request processor.
func NewContextCacheRequestProcessor() *ContextCacheRequestProcessor {
	return &ContextCacheRequestProcessor{}
}

// ProcessRequest implements flow.RequestProcessor.
func (p *ContextCacheRequestProcessor) ProcessRequest(_ context.Context, inv *agent.Invocation,
	req *model.Request, _ chan<- *event.Event) error {
	if inv.ContextCacheConfig == nil {
		return nil
	}
	req.CacheConfig = inv.ContextCacheConfig
	req.CacheMetadata, req.CacheableContentsTokenCount =
		contextcache.Latest(inv.GetEvents(false, false), inv.AgentName, inv.InvocationID)
	return nil
}
