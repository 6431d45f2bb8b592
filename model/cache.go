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
	"fmt"
	"time"
)

// Cache defaults.
const (
	DefaultCacheIntervals = 10
	DefaultCacheTTL       = 30 * time.Minute
)

// CacheConfig enables provider-side prefix caching.
type CacheConfig struct {
	// CacheIntervals is how many invocations may reuse one cache before it
	// is refreshed.
	CacheIntervals int `json:"cache_intervals,omitempty"`
	// TTL is the lifetime requested for new caches.
	TTL time.Duration `json:"ttl,omitempty"`
	// MinTokens is the prompt size below which no cache is created.
	MinTokens int32 `json:"min_tokens,omitempty"`
}

// NewCacheConfig returns a config with the default intervals and TTL.
func NewCacheConfig() *CacheConfig {
	return &CacheConfig{CacheIntervals: DefaultCacheIntervals, TTL: DefaultCacheTTL}
}

// CacheMetadata is the cache state carried from one response to the next
// request. It is either active (CacheName set) or fingerprint-only.
// Values are never mutated in place; use the With helpers.
type CacheMetadata struct {
	CacheName       string     `json:"cache_name,omitempty"`
	ExpireTime      *time.Time `json:"expire_time,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	InvocationsUsed int        `json:"invocations_used,omitempty"`
	Fingerprint     string     `json:"fingerprint"`
	ContentsCount   int        `json:"contents_count"`
}

// NewFingerprintOnly returns metadata with no cache behind it.
func NewFingerprintOnly(fingerprint string, contentsCount int) *CacheMetadata {
	return &CacheMetadata{Fingerprint: fingerprint, ContentsCount: contentsCount}
}

// IsActive reports whether a provider cache backs this metadata.
func (m *CacheMetadata) IsActive() bool {
	return m != nil && m.CacheName != ""
}

// ExpiresSoon reports whether the cache expires within buffer of now.
func (m *CacheMetadata) ExpiresSoon(now time.Time, buffer time.Duration) bool {
	if m == nil || m.ExpireTime == nil {
		return true
	}
	return !now.Add(buffer).Before(*m.ExpireTime)
}

// WithInvocationsUsed returns a copy with the usage counter replaced.
func (m *CacheMetadata) WithInvocationsUsed(n int) *CacheMetadata {
	c := *m
	c.InvocationsUsed = n
	return &c
}

func (m *CacheMetadata) String() string {
	if m == nil {
		return "<nil>"
	}
	if !m.IsActive() {
		return fmt.Sprintf("fingerprint-only(%s, contents=%d)", m.Fingerprint, m.ContentsCount)
	}
	return fmt.Sprintf("cache(%s, fingerprint=%s, contents=%d, used=%d)",
		m.CacheName, m.Fingerprint, m.ContentsCount, m.InvocationsUsed)
}
