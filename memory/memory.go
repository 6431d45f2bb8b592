//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package memory provides the long-term memory contract used by agents.
// A memory service ingests whole sessions and answers keyword queries scoped
// to one user of one application.
package memory

import (
	"context"
	"errors"
	"time"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/session"
)

// LoadToolName is the name of the built-in memory lookup tool.
const LoadToolName = "load_memory"

var (
	// ErrAppNameRequired is the error for app name required.
	ErrAppNameRequired = errors.New("appName is required")
	// ErrUserIDRequired is the error for user id required.
	ErrUserIDRequired = errors.New("userID is required")
)

// Service defines the interface for memory service operations.
type Service interface {
	// AddSessionToMemory ingests the content events of a session.
	// Adding the same session twice replaces the earlier copy.
	AddSessionToMemory(ctx context.Context, sess *session.Session) error

	// SearchMemory returns the entries of the user that match query.
	SearchMemory(ctx context.Context, userKey UserKey, query string) ([]*Entry, error)
}

// Entry is one remembered piece of conversation.
type Entry struct {
	SessionID string         `json:"session_id"`
	Author    string         `json:"author"`
	Content   *genai.Content `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
}

// Text concatenates the text parts of the entry.
func (e *Entry) Text() string {
	if e == nil || e.Content == nil {
		return ""
	}
	var text string
	for _, p := range e.Content.Parts {
		if p == nil || p.Text == "" {
			continue
		}
		if text != "" {
			text += " "
		}
		text += p.Text
	}
	return text
}

// UserKey is the key for a user.
type UserKey struct {
	AppName string // AppName is the name of the application.
	UserID  string // UserID is the unique identifier of the user.
}

// CheckUserKey checks if a user key is valid.
func (u *UserKey) CheckUserKey() error {
	if u.AppName == "" {
		return ErrAppNameRequired
	}
	if u.UserID == "" {
		return ErrUserIDRequired
	}
	return nil
}
