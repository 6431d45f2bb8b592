//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides in-memory session service implementation.
package inmemory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/session"
)

const defaultSessionEventLimit = 1000

var _ session.Service = (*SessionService)(nil)

// appSessions stores the sessions and scoped state of one app.
type appSessions struct {
	mu        sync.RWMutex
	sessions  map[string]map[string]*session.Session
	userState map[string]session.StateMap
	appState  session.StateMap
}

func newAppSessions() *appSessions {
	return &appSessions{
		sessions:  make(map[string]map[string]*session.Session),
		userState: make(map[string]session.StateMap),
		appState:  make(session.StateMap),
	}
}

type serviceOpts struct {
	sessionEventLimit int
}

// SessionService provides an in-memory implementation of session.Service.
type SessionService struct {
	mu   sync.RWMutex
	apps map[string]*appSessions
	opts serviceOpts
}

// ServiceOpt is the option for the in-memory session service.
type ServiceOpt func(*serviceOpts)

// WithSessionEventLimit sets the limit of events kept per session.
func WithSessionEventLimit(limit int) ServiceOpt {
	return func(opts *serviceOpts) {
		opts.sessionEventLimit = limit
	}
}

// NewSessionService creates a new in-memory session service.
func NewSessionService(options ...ServiceOpt) *SessionService {
	opts := serviceOpts{sessionEventLimit: defaultSessionEventLimit}
	for _, option := range options {
		option(&opts)
	}
	return &SessionService{
		apps: make(map[string]*appSessions),
		opts: opts,
	}
}

func (s *SessionService) getAppSessions(appName string) (*appSessions, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[appName]
	return app, ok
}

func (s *SessionService) getOrCreateAppSessions(appName string) *appSessions {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[appName]
	if !ok {
		app = newAppSessions()
		s.apps[appName] = app
	}
	return app
}

// CreateSession creates a new session with the given initial state. App and
// user scoped keys in state are routed to their scopes.
func (s *SessionService) CreateSession(
	ctx context.Context,
	key session.Key,
	state session.StateMap,
	opts ...session.Option,
) (*session.Session, error) {
	if err := key.CheckUserKey(); err != nil {
		return nil, err
	}
	if key.SessionID == "" {
		key.SessionID = uuid.New().String()
	}
	app := s.getOrCreateAppSessions(key.AppName)

	appDelta, userDelta, sessState := session.SplitDelta(state)
	now := time.Now()
	sess := &session.Session{
		ID:        key.SessionID,
		AppName:   key.AppName,
		UserID:    key.UserID,
		State:     sessState,
		UpdatedAt: now,
		CreatedAt: now,
	}

	app.mu.Lock()
	defer app.mu.Unlock()
	if _, exists := app.sessions[key.UserID][key.SessionID]; exists {
		return nil, fmt.Errorf("session already exists: %s", key.SessionID)
	}
	if app.sessions[key.UserID] == nil {
		app.sessions[key.UserID] = make(map[string]*session.Session)
	}
	if app.userState[key.UserID] == nil {
		app.userState[key.UserID] = make(session.StateMap)
	}
	maps.Copy(app.appState, appDelta)
	maps.Copy(app.userState[key.UserID], userDelta)
	app.sessions[key.UserID][key.SessionID] = sess
	return mergeState(app.appState, app.userState[key.UserID], sess.Clone()), nil
}

// GetSession retrieves a copy of a session with app and user state merged in.
func (s *SessionService) GetSession(
	ctx context.Context,
	key session.Key,
	opts ...session.Option,
) (*session.Session, error) {
	if err := key.CheckSessionKey(); err != nil {
		return nil, err
	}
	app, ok := s.getAppSessions(key.AppName)
	if !ok {
		return nil, nil
	}
	app.mu.RLock()
	defer app.mu.RUnlock()
	sess, ok := app.sessions[key.UserID][key.SessionID]
	if !ok {
		return nil, nil
	}
	copied := sess.Clone()
	copied.Events = session.ApplyOptions(opts...).FilterEvents(copied.Events)
	return mergeState(app.appState, app.userState[key.UserID], copied), nil
}

// ListSessions returns all sessions for a given app and user.
func (s *SessionService) ListSessions(
	ctx context.Context,
	userKey session.UserKey,
	opts ...session.Option,
) ([]*session.Session, error) {
	if err := userKey.CheckUserKey(); err != nil {
		return nil, err
	}
	app, ok := s.getAppSessions(userKey.AppName)
	if !ok {
		return []*session.Session{}, nil
	}
	o := session.ApplyOptions(opts...)
	app.mu.RLock()
	defer app.mu.RUnlock()
	sessList := make([]*session.Session, 0, len(app.sessions[userKey.UserID]))
	for _, sess := range app.sessions[userKey.UserID] {
		copied := sess.Clone()
		copied.Events = o.FilterEvents(copied.Events)
		sessList = append(sessList, mergeState(app.appState, app.userState[userKey.UserID], copied))
	}
	return sessList, nil
}

// DeleteSession removes a session from storage.
func (s *SessionService) DeleteSession(
	ctx context.Context,
	key session.Key,
	opts ...session.Option,
) error {
	if err := key.CheckSessionKey(); err != nil {
		return err
	}
	app, ok := s.getAppSessions(key.AppName)
	if !ok {
		return nil
	}
	app.mu.Lock()
	defer app.mu.Unlock()
	delete(app.sessions[key.UserID], key.SessionID)
	if len(app.sessions[key.UserID]) == 0 {
		delete(app.sessions, key.UserID)
	}
	return nil
}

// AppendEvent applies the event to the caller's session and to the stored
// copy. App and user scoped delta keys update the shared scopes.
func (s *SessionService) AppendEvent(
	ctx context.Context,
	sess *session.Session,
	e *event.Event,
	opts ...session.Option,
) error {
	if e == nil || e.Partial {
		return nil
	}
	key := session.KeyOf(sess)
	if err := key.CheckSessionKey(); err != nil {
		return err
	}
	app, ok := s.getAppSessions(key.AppName)
	if !ok {
		return fmt.Errorf("app %s: %w", key.AppName, session.ErrSessionNotFound)
	}

	app.mu.Lock()
	defer app.mu.Unlock()
	stored, ok := app.sessions[key.UserID][key.SessionID]
	if !ok {
		return fmt.Errorf("%s: %w", key.SessionID, session.ErrSessionNotFound)
	}
	sess.ApplyEvent(e)

	storedEvent := e.Clone()
	if storedEvent.Actions != nil {
		appDelta, userDelta, sessDelta := session.SplitDelta(storedEvent.Actions.StateDelta)
		maps.Copy(app.appState, appDelta)
		if app.userState[key.UserID] == nil {
			app.userState[key.UserID] = make(session.StateMap)
		}
		maps.Copy(app.userState[key.UserID], userDelta)
		// Scoped keys are merged back on read.
		storedEvent.Actions.StateDelta = sessDelta
	}
	stored.ApplyEvent(storedEvent)
	stored.TruncateEvents(s.opts.sessionEventLimit)
	return nil
}

// ListEvents returns the stored events of a session.
func (s *SessionService) ListEvents(ctx context.Context, key session.Key, opts ...session.Option) ([]*event.Event, error) {
	sess, err := s.GetSession(ctx, key, opts...)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%s: %w", key.SessionID, session.ErrSessionNotFound)
	}
	return sess.GetEvents(), nil
}

// Close closes the service.
func (s *SessionService) Close() error {
	return nil
}

// mergeState merges app-level and user-level state into the session state.
func mergeState(appState, userState session.StateMap, sess *session.Session) *session.Session {
	if sess.State == nil {
		sess.State = make(session.StateMap)
	}
	for k, v := range appState {
		sess.State[session.StateAppPrefix+k] = v
	}
	for k, v := range userState {
		sess.State[session.StateUserPrefix+k] = v
	}
	return sess
}
