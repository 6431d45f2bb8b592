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
	"fmt"
	"time"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/model"
)

const cacheDisplayName = "trpc-agent-runtime"

// CreateCache implements model.CacheProvider.
func (m *Model) CreateCache(ctx context.Context, req *model.Request, contentsCount int,
	ttl time.Duration) (string, time.Time, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return "", time.Time{}, err
	}
	cc, err := m.client.Caches.Create(ctx, m.modelName(req), cacheConfig(req, contentsCount, ttl))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("gemini: create cache: %w", convertError(err))
	}
	expire := cc.ExpireTime
	if expire.IsZero() {
		expire = time.Now().Add(ttl)
	}
	return cc.Name, expire, nil
}

// DeleteCache implements model.CacheProvider.
func (m *Model) DeleteCache(ctx context.Context, name string) error {
	if _, err := m.client.Caches.Delete(ctx, name, nil); err != nil {
		return fmt.Errorf("gemini: delete cache %s: %w", name, convertError(err))
	}
	return nil
}

// cacheConfig holds the cacheable prefix of req: system instruction, tools,
// tool config and the first n contents.
func cacheConfig(req *model.Request, n int, ttl time.Duration) *genai.CreateCachedContentConfig {
	if n > len(req.Contents) {
		n = len(req.Contents)
	}
	cfg := &genai.CreateCachedContentConfig{
		DisplayName: cacheDisplayName,
		TTL:         ttl,
		Contents:    req.Contents[:n],
	}
	if req.Config != nil {
		cfg.SystemInstruction = req.Config.SystemInstruction
		cfg.Tools = req.Config.Tools
		cfg.ToolConfig = req.Config.ToolConfig
	}
	return cfg
}
