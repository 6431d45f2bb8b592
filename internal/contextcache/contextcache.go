//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package contextcache reuses provider-side prefix caches across invocations.
//
// The cacheable prefix of a request is its system instruction, tools, tool
// config and the contents before the current user turn. A fingerprint of
// that prefix travels with every response; when the next invocation sees the
// same fingerprint a cache is created and the request is rewritten to refer
// to it.
package contextcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
)

// ExpiryBuffer is how long before its expiry a cache stops being used.
const ExpiryBuffer = 2 * time.Minute

const fingerprintLength = 16

// Manager drives the cache state machine for one model.
type Manager struct {
	provider model.CacheProvider
	config   *model.CacheConfig
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// New creates a Manager. A nil config uses the defaults.
func New(provider model.CacheProvider, config *model.CacheConfig, opts ...Option) *Manager {
	if config == nil {
		config = model.NewCacheConfig()
	}
	m := &Manager{provider: provider, config: config, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type fingerprintInput struct {
	SystemInstruction *genai.Content    `json:"system_instruction,omitempty"`
	Tools             []*genai.Tool     `json:"tools,omitempty"`
	ToolConfig        *genai.ToolConfig `json:"tool_config,omitempty"`
	Contents          []*genai.Content  `json:"contents,omitempty"`
}

// Fingerprint hashes the system instruction, tools, tool config and the
// first n contents of req into 16 hex characters.
func Fingerprint(req *model.Request, n int) string {
	in := fingerprintInput{}
	if req.Config != nil {
		in.SystemInstruction = req.Config.SystemInstruction
		in.Tools = req.Config.Tools
		in.ToolConfig = req.Config.ToolConfig
	}
	if n > len(req.Contents) {
		n = len(req.Contents)
	}
	if n > 0 {
		in.Contents = req.Contents[:n]
	}
	raw, err := json.Marshal(in)
	if err != nil {
		log.Warnf("contextcache: fingerprint encode: %v", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}

// CountToCache returns the number of leading contents that precede the last
// continuous run of user contents. The current user turn is never cached.
func CountToCache(contents []*genai.Content) int {
	start := len(contents)
	for i := len(contents) - 1; i >= 0; i-- {
		if contents[i] == nil || contents[i].Role != genai.RoleUser {
			break
		}
		start = i
	}
	return start
}

// Handle runs the state machine for req, whose CacheMetadata carries what
// the previous invocation returned. It may rewrite req to use a cache and
// returns the metadata to attach to the responses of this call.
func (m *Manager) Handle(ctx context.Context, req *model.Request) *model.CacheMetadata {
	prev := req.CacheMetadata
	if prev == nil {
		return m.fingerprintOnly(req)
	}
	if m.valid(req, prev) {
		m.apply(req, prev.CacheName, prev.ContentsCount)
		c := *prev
		return &c
	}
	if prev.IsActive() {
		if err := m.provider.DeleteCache(ctx, prev.CacheName); err != nil {
			log.Warnf("contextcache: delete %s: %v", prev.CacheName, err)
		}
	}
	if prev.ContentsCount <= len(req.Contents) && Fingerprint(req, prev.ContentsCount) == prev.Fingerprint {
		if md := m.create(ctx, req, prev.ContentsCount); md != nil {
			m.apply(req, md.CacheName, md.ContentsCount)
			return md
		}
	}
	return m.fingerprintOnly(req)
}

func (m *Manager) fingerprintOnly(req *model.Request) *model.CacheMetadata {
	n := CountToCache(req.Contents)
	return model.NewFingerprintOnly(Fingerprint(req, n), n)
}

func (m *Manager) valid(req *model.Request, md *model.CacheMetadata) bool {
	if !md.IsActive() {
		return false
	}
	if md.ExpiresSoon(m.now(), ExpiryBuffer) {
		return false
	}
	if md.InvocationsUsed >= m.config.CacheIntervals {
		return false
	}
	if md.ContentsCount > len(req.Contents) {
		return false
	}
	return Fingerprint(req, md.ContentsCount) == md.Fingerprint
}

func (m *Manager) create(ctx context.Context, req *model.Request, n int) *model.CacheMetadata {
	if req.CacheableContentsTokenCount == 0 || req.CacheableContentsTokenCount <= m.config.MinTokens {
		return nil
	}
	fingerprint := Fingerprint(req, n)
	name, expire, err := m.provider.CreateCache(ctx, req, n, m.config.TTL)
	if err != nil {
		log.Warnf("contextcache: create: %v", err)
		return nil
	}
	now := m.now()
	return &model.CacheMetadata{
		CacheName:       name,
		ExpireTime:      &expire,
		CreatedAt:       &now,
		InvocationsUsed: 1,
		Fingerprint:     fingerprint,
		ContentsCount:   n,
	}
}

// apply points req at the cache and removes what the cache already holds.
func (m *Manager) apply(req *model.Request, name string, n int) {
	if req.Config == nil {
		req.Config = &genai.GenerateContentConfig{}
	}
	req.Config.CachedContent = name
	req.Config.SystemInstruction = nil
	req.Config.Tools = nil
	req.Config.ToolConfig = nil
	req.Contents = req.Contents[n:]
}

// Latest finds the cache metadata and prompt token count most recently
// recorded by agentName. Metadata from an earlier invocation counts one more
// use.
func Latest(events []*event.Event, agentName, invocationID string) (*model.CacheMetadata, int32) {
	var (
		md     *model.CacheMetadata
		tokens int32
		found  bool
	)
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.Author != agentName || e.Response == nil {
			continue
		}
		if md == nil && e.CacheMetadata != nil {
			md = e.CacheMetadata
			if e.InvocationID != "" && e.InvocationID != invocationID {
				md = md.WithInvocationsUsed(md.InvocationsUsed + 1)
			}
		}
		if !found && e.UsageMetadata != nil {
			tokens = e.UsageMetadata.PromptTokenCount
			found = true
		}
		if md != nil && found {
			break
		}
	}
	return md, tokens
}
