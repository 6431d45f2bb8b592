//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/artifact"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/session"
)

// State is a delta-aware view of the session state. Reads see pending
// writes first; writes are recorded in the state delta of the event being
// built and reach the session when the event is appended.
type State struct {
	mu      sync.Mutex
	sess    *session.Session
	actions *event.Actions
}

// Get returns the value of key.
func (s *State) Get(key string) (any, bool) {
	s.mu.Lock()
	if v, ok := s.actions.StateDelta[key]; ok {
		s.mu.Unlock()
		return v, true
	}
	s.mu.Unlock()
	if s.sess == nil {
		return nil, false
	}
	return s.sess.GetState(key)
}

// Set records a new value for key.
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actions.StateDelta == nil {
		s.actions.StateDelta = make(map[string]any)
	}
	s.actions.StateDelta[key] = value
}

// HasDelta reports whether any key was written.
func (s *State) HasDelta() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions.StateDelta) > 0
}

// CallbackContext is handed to agent, model and plugin callbacks. It gives
// access to the invocation, the session state and the artifact store, and
// records side effects in the actions of the event being built.
type CallbackContext struct {
	context.Context
	// Invocation is the invocation of the agent being called back.
	Invocation *Invocation
	actions    *event.Actions
	state      *State
}

// NewCallbackContext creates a callback context recording into actions.
// A nil actions allocates a fresh set.
func NewCallbackContext(ctx context.Context, inv *Invocation, actions *event.Actions) *CallbackContext {
	if actions == nil {
		actions = &event.Actions{}
	}
	var sess *session.Session
	if inv != nil {
		sess = inv.Session
	}
	return &CallbackContext{
		Context:    ctx,
		Invocation: inv,
		actions:    actions,
		state:      &State{sess: sess, actions: actions},
	}
}

type callbackContextKey struct{}

// WithCallbackContext stores cc in ctx for callbacks that only receive a context.
func WithCallbackContext(ctx context.Context, cc *CallbackContext) context.Context {
	return context.WithValue(ctx, callbackContextKey{}, cc)
}

// CallbackContextFromContext returns the callback context stored in ctx.
// A tool context stored in ctx also yields its callback context.
func CallbackContextFromContext(ctx context.Context) (*CallbackContext, bool) {
	if cc, ok := ctx.Value(callbackContextKey{}).(*CallbackContext); ok {
		return cc, true
	}
	if tc, ok := ToolContextFromContext(ctx); ok {
		return tc.CallbackContext, true
	}
	return nil, false
}

// AgentName returns the name of the agent being called back.
func (cc *CallbackContext) AgentName() string {
	if cc.Invocation == nil {
		return ""
	}
	return cc.Invocation.AgentName
}

// UserContent returns the message that started the invocation.
func (cc *CallbackContext) UserContent() *genai.Content {
	if cc.Invocation == nil {
		return nil
	}
	return cc.Invocation.UserContent
}

// State returns the delta-aware session state.
func (cc *CallbackContext) State() *State {
	return cc.state
}

// Actions returns the actions recorded so far.
func (cc *CallbackContext) Actions() *event.Actions {
	return cc.actions
}

// SaveArtifact saves part as a new version of filename and records the
// version in the artifact delta.
func (cc *CallbackContext) SaveArtifact(filename string, part *genai.Part) (int, error) {
	service, info, err := cc.artifactServiceAndSessionInfo()
	if err != nil {
		return 0, err
	}
	version, err := service.SaveArtifact(cc.Context, info, filename, part)
	if err != nil {
		return 0, err
	}
	cc.state.mu.Lock()
	if cc.actions.ArtifactDelta == nil {
		cc.actions.ArtifactDelta = make(map[string]int)
	}
	cc.actions.ArtifactDelta[filename] = version
	cc.state.mu.Unlock()
	return version, nil
}

// LoadArtifact loads an artifact attached to the current session. A nil
// version loads the latest one.
func (cc *CallbackContext) LoadArtifact(filename string, version *int) (*genai.Part, error) {
	service, info, err := cc.artifactServiceAndSessionInfo()
	if err != nil {
		return nil, err
	}
	return service.LoadArtifact(cc.Context, info, filename, version)
}

// ListArtifacts lists the filenames of the artifacts attached to the current session.
func (cc *CallbackContext) ListArtifacts() ([]string, error) {
	service, info, err := cc.artifactServiceAndSessionInfo()
	if err != nil {
		return nil, err
	}
	return service.ListArtifactKeys(cc.Context, info)
}

func (cc *CallbackContext) artifactServiceAndSessionInfo() (artifact.Service, artifact.SessionInfo, error) {
	if cc.Invocation == nil || cc.Invocation.ArtifactService == nil {
		return nil, artifact.SessionInfo{}, errors.New("artifact service is nil in invocation")
	}
	sess := cc.Invocation.Session
	if sess == nil {
		return nil, artifact.SessionInfo{}, errors.New("invocation exists but no session available")
	}
	if sess.AppName == "" || sess.UserID == "" || sess.ID == "" {
		return nil, artifact.SessionInfo{}, fmt.Errorf(
			"session exists but missing appName or userID or sessionID: appName=%s, userID=%s, sessionID=%s",
			sess.AppName, sess.UserID, sess.ID)
	}
	return cc.Invocation.ArtifactService, artifact.SessionInfo{
		AppName:   sess.AppName,
		UserID:    sess.UserID,
		SessionID: sess.ID,
	}, nil
}
