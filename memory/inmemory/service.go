//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides in-memory memory service implementation.
package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"

	"trpc.group/trpc-go/trpc-agent-runtime/memory"
	"trpc.group/trpc-go/trpc-agent-runtime/session"
)

var _ memory.Service = (*MemoryService)(nil)

// defaultSearchLimit caps the entries returned by one search.
const defaultSearchLimit = 20

type serviceOpts struct {
	searchLimit int
}

// ServiceOpt is the option for the in-memory memory service.
type ServiceOpt func(*serviceOpts)

// WithSearchLimit sets the maximum number of entries a search returns.
func WithSearchLimit(limit int) ServiceOpt {
	return func(opts *serviceOpts) {
		if limit > 0 {
			opts.searchLimit = limit
		}
	}
}

// MemoryService keeps session events per user and matches queries by keyword.
type MemoryService struct {
	mu sync.RWMutex
	// sessions maps user key -> session id -> entries.
	sessions map[memory.UserKey]map[string][]*memory.Entry
	opts     serviceOpts
}

// NewMemoryService creates a new in-memory memory service.
func NewMemoryService(options ...ServiceOpt) *MemoryService {
	opts := serviceOpts{searchLimit: defaultSearchLimit}
	for _, option := range options {
		option(&opts)
	}
	return &MemoryService{
		sessions: make(map[memory.UserKey]map[string][]*memory.Entry),
		opts:     opts,
	}
}

// AddSessionToMemory stores the content events of sess.
func (s *MemoryService) AddSessionToMemory(ctx context.Context, sess *session.Session) error {
	if sess == nil {
		return nil
	}
	key := memory.UserKey{AppName: sess.AppName, UserID: sess.UserID}
	if err := key.CheckUserKey(); err != nil {
		return err
	}
	var entries []*memory.Entry
	for _, e := range sess.GetEvents() {
		if e == nil || e.Partial || !e.HasContent() {
			continue
		}
		entries = append(entries, &memory.Entry{
			SessionID: sess.ID,
			Author:    e.Author,
			Content:   e.Content,
			Timestamp: e.Timestamp,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[key] == nil {
		s.sessions[key] = make(map[string][]*memory.Entry)
	}
	s.sessions[key][sess.ID] = entries
	return nil
}

// SearchMemory returns entries sharing at least one word with query, oldest first.
func (s *MemoryService) SearchMemory(ctx context.Context, userKey memory.UserKey, query string) ([]*memory.Entry, error) {
	if err := userKey.CheckUserKey(); err != nil {
		return nil, err
	}
	words := tokenize(query)
	if len(words) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []*memory.Entry
	for _, entries := range s.sessions[userKey] {
		for _, entry := range entries {
			if matches(words, tokenize(entry.Text())) {
				results = append(results, entry)
			}
		}
	}
	sortByTime(results)
	if len(results) > s.opts.searchLimit {
		results = results[len(results)-s.opts.searchLimit:]
	}
	return results, nil
}

func tokenize(text string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		words[w] = struct{}{}
	}
	return words
}

func matches(query, text map[string]struct{}) bool {
	for w := range query {
		if _, ok := text[w]; ok {
			return true
		}
	}
	return false
}

func sortByTime(entries []*memory.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}
