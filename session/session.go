//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package session provides the core session functionality.
package session

import (
	"context"
	"errors"
	"maps"
	"strings"
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-agent-runtime/event"
)

// State key prefixes select the scope a value lives in.
const (
	// StateAppPrefix keys are shared by every user of the app.
	StateAppPrefix = "app:"
	// StateUserPrefix keys are shared by every session of a user.
	StateUserPrefix = "user:"
	// StateTempPrefix keys live for one invocation and are never persisted.
	StateTempPrefix = "temp:"
)

// StateMap is a map of state key-value pairs.
type StateMap map[string]any

var (
	// ErrAppNameRequired is the error for app name required.
	ErrAppNameRequired = errors.New("appName is required")
	// ErrUserIDRequired is the error for user id required.
	ErrUserIDRequired = errors.New("userID is required")
	// ErrSessionIDRequired is the error for session id required.
	ErrSessionIDRequired = errors.New("sessionID is required")
	// ErrSessionNotFound is returned when appending to an unknown session.
	ErrSessionNotFound = errors.New("session not found")
)

// Session is an ordered list of events plus mutable state. It is shared by
// the goroutines of one invocation; use the accessor methods.
type Session struct {
	ID        string         `json:"id"`      // ID is the session id.
	AppName   string         `json:"appName"` // AppName is the app name.
	UserID    string         `json:"userID"`  // UserID is the user id.
	State     StateMap       `json:"state"`   // State is the merged app, user and session state.
	Events    []*event.Event `json:"events"`  // Events is the session events.
	UpdatedAt time.Time      `json:"updatedAt"`
	CreatedAt time.Time      `json:"createdAt"`

	mu sync.RWMutex
}

// GetEvents returns a snapshot of the session events.
func (sess *Session) GetEvents() []*event.Event {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	out := make([]*event.Event, len(sess.Events))
	copy(out, sess.Events)
	return out
}

// GetEventCount returns the session event count.
func (sess *Session) GetEventCount() int {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return len(sess.Events)
}

// GetState returns one state value.
func (sess *Session) GetState(key string) (any, bool) {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	v, ok := sess.State[key]
	return v, ok
}

// SnapshotState returns a copy of the state.
func (sess *Session) SnapshotState() StateMap {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return maps.Clone(sess.State)
}

// SetState writes one value without an event. Used for temp: scratch data.
func (sess *Session) SetState(key string, value any) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.State == nil {
		sess.State = StateMap{}
	}
	sess.State[key] = value
}

// ApplyEvent appends e and applies its state delta. Partial events are
// ignored. temp: keys are dropped from the delta before it is applied.
// It returns false when e was ignored.
func (sess *Session) ApplyEvent(e *event.Event) bool {
	if e == nil || (e.Response != nil && e.Partial) {
		return false
	}
	TrimTempDelta(e)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if e.Actions != nil && len(e.Actions.StateDelta) > 0 {
		if sess.State == nil {
			sess.State = StateMap{}
		}
		for k, v := range e.Actions.StateDelta {
			sess.State[k] = v
		}
	}
	sess.Events = append(sess.Events, e)
	sess.UpdatedAt = e.Timestamp
	return true
}

// TruncateEvents keeps the newest limit events.
func (sess *Session) TruncateEvents(limit int) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if limit > 0 && len(sess.Events) > limit {
		sess.Events = append([]*event.Event(nil), sess.Events[len(sess.Events)-limit:]...)
	}
}

// Clone returns a copy with its own event slice and state map.
func (sess *Session) Clone() *Session {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return &Session{
		ID:        sess.ID,
		AppName:   sess.AppName,
		UserID:    sess.UserID,
		State:     maps.Clone(sess.State),
		Events:    append([]*event.Event(nil), sess.Events...),
		UpdatedAt: sess.UpdatedAt,
		CreatedAt: sess.CreatedAt,
	}
}

// TrimTempDelta removes temp: keys from the state delta of e.
func TrimTempDelta(e *event.Event) {
	if e == nil || e.Actions == nil {
		return
	}
	for k := range e.Actions.StateDelta {
		if strings.HasPrefix(k, StateTempPrefix) {
			delete(e.Actions.StateDelta, k)
		}
	}
}

// SplitDelta routes a state delta to the app, user and session scopes.
// Prefixes are stripped from app and user keys; temp: keys are dropped.
func SplitDelta(delta map[string]any) (app, user, sess StateMap) {
	app, user, sess = StateMap{}, StateMap{}, StateMap{}
	for k, v := range delta {
		switch {
		case strings.HasPrefix(k, StateAppPrefix):
			app[strings.TrimPrefix(k, StateAppPrefix)] = v
		case strings.HasPrefix(k, StateUserPrefix):
			user[strings.TrimPrefix(k, StateUserPrefix)] = v
		case strings.HasPrefix(k, StateTempPrefix):
		default:
			sess[k] = v
		}
	}
	return app, user, sess
}

// Options is the options for getting a session.
type Options struct {
	EventNum  int       // EventNum is the number of recent events.
	EventTime time.Time // EventTime is the after time.
}

// Option is the option for a session.
type Option func(*Options)

// WithEventNum is the option for the number of recent events.
func WithEventNum(num int) Option {
	return func(o *Options) {
		o.EventNum = num
	}
}

// WithEventTime is the option for the time of the recent events.
func WithEventTime(time time.Time) Option {
	return func(o *Options) {
		o.EventTime = time
	}
}

// ApplyOptions folds opts into an Options value.
func ApplyOptions(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// FilterEvents applies the event number and time options to events.
func (o *Options) FilterEvents(events []*event.Event) []*event.Event {
	if !o.EventTime.IsZero() {
		filtered := make([]*event.Event, 0, len(events))
		for _, e := range events {
			if !e.Timestamp.Before(o.EventTime) {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	if o.EventNum > 0 && len(events) > o.EventNum {
		events = events[len(events)-o.EventNum:]
	}
	return events
}

// Service is the interface that all session services must implement.
type Service interface {
	// CreateSession creates a new session. An empty session id is generated.
	CreateSession(ctx context.Context, key Key, state StateMap, options ...Option) (*Session, error)

	// GetSession gets a session. It returns nil, nil when the session does not exist.
	GetSession(ctx context.Context, key Key, options ...Option) (*Session, error)

	// ListSessions lists all sessions by user scope of session key.
	ListSessions(ctx context.Context, userKey UserKey, options ...Option) ([]*Session, error)

	// DeleteSession deletes a session.
	DeleteSession(ctx context.Context, key Key, options ...Option) error

	// AppendEvent persists the event and applies its state delta atomically.
	// The in-memory session is updated too. Partial events are not stored.
	AppendEvent(ctx context.Context, session *Session, event *event.Event, options ...Option) error

	// ListEvents returns the stored events of a session.
	ListEvents(ctx context.Context, key Key, options ...Option) ([]*event.Event, error)

	// Close closes the service.
	Close() error
}

// Key is the key for a session.
type Key struct {
	AppName   string // app name
	UserID    string // user id
	SessionID string // session id
}

// CheckSessionKey checks if a session key is valid.
func (s *Key) CheckSessionKey() error {
	return checkSessionKey(s.AppName, s.UserID, s.SessionID)
}

// CheckUserKey checks if a user key is valid.
func (s *Key) CheckUserKey() error {
	return checkUserKey(s.AppName, s.UserID)
}

// UserKey is the key for a user.
type UserKey struct {
	AppName string // app name
	UserID  string // user id
}

// CheckUserKey checks if a user key is valid.
func (s *UserKey) CheckUserKey() error {
	return checkUserKey(s.AppName, s.UserID)
}

// KeyOf returns the key of sess.
func KeyOf(sess *Session) Key {
	return Key{AppName: sess.AppName, UserID: sess.UserID, SessionID: sess.ID}
}

func checkSessionKey(appName, userID, sessionID string) error {
	if appName == "" {
		return ErrAppNameRequired
	}
	if userID == "" {
		return ErrUserIDRequired
	}
	if sessionID == "" {
		return ErrSessionIDRequired
	}
	return nil
}

func checkUserKey(appName, userID string) error {
	if appName == "" {
		return ErrAppNameRequired
	}
	if userID == "" {
		return ErrUserIDRequired
	}
	return nil
}
