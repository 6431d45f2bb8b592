//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package redis provides a session service backed by Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/session"
	storage "trpc.group/trpc-go/trpc-agent-runtime/storage/redis"
)

var _ session.Service = (*Service)(nil)

// sessionState is the JSON value stored per session.
type sessionState struct {
	ID        string           `json:"id"`
	State     session.StateMap `json:"state"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// Service is the redis session service. Storage layout:
//
//	appstate:{app}            hash  key -> json value
//	userstate:{app}:user      hash  key -> json value
//	sess:{app}:user           hash  sessionID -> sessionState json
//	event:{app}:user:session  list  event json, oldest first
type Service struct {
	opts   ServiceOpts
	client redis.UniversalClient
}

// NewService creates a new redis session service.
func NewService(options ...ServiceOpt) (*Service, error) {
	opts := ServiceOpts{
		sessionEventLimit: defaultSessionEventLimit,
		keyPrefix:         defaultKeyPrefix,
	}
	for _, option := range options {
		option(&opts)
	}
	client := opts.redisClient
	var err error
	switch {
	case client != nil:
	case opts.url != "":
		client, err = storage.NewClient(opts.url)
	case opts.instanceName != "":
		client, err = storage.NewClientForInstance(opts.instanceName)
	default:
		return nil, errors.New("redis session service: a client, url or instance is required")
	}
	if err != nil {
		return nil, fmt.Errorf("redis session service: create client: %w", err)
	}
	return &Service{opts: opts, client: client}, nil
}

// CreateSession creates a new session.
func (s *Service) CreateSession(
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
	appDelta, userDelta, sessState := session.SplitDelta(state)
	now := time.Now()
	st := &sessionState{ID: key.SessionID, State: sessState, CreatedAt: now, UpdatedAt: now}
	stBytes, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("redis session service: marshal session: %w", err)
	}
	ok, err := s.client.HSetNX(ctx, s.sessionStateKey(key), key.SessionID, stBytes).Result()
	if err != nil {
		return nil, fmt.Errorf("redis session service: store session: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("redis session service: session already exists: %s", key.SessionID)
	}
	pipe := s.client.TxPipeline()
	if err := s.queueScopedState(ctx, pipe, key, appDelta, userDelta); err != nil {
		return nil, err
	}
	s.queueExpire(ctx, pipe, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis session service: store state: %w", err)
	}
	return s.GetSession(ctx, key)
}

// GetSession gets a session. It returns nil, nil when it does not exist.
func (s *Service) GetSession(
	ctx context.Context,
	key session.Key,
	opts ...session.Option,
) (*session.Session, error) {
	if err := key.CheckSessionKey(); err != nil {
		return nil, err
	}
	pipe := s.client.Pipeline()
	appCmd := pipe.HGetAll(ctx, s.appStateKey(key.AppName))
	userCmd := pipe.HGetAll(ctx, s.userStateKey(key))
	sessCmd := pipe.HGet(ctx, s.sessionStateKey(key), key.SessionID)
	eventsCmd := pipe.LRange(ctx, s.eventKey(key), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis session service: get session: %w", err)
	}
	st, err := decodeSessionState(sessCmd)
	if err != nil || st == nil {
		return nil, err
	}
	return s.buildSession(key, st, appCmd, userCmd, eventsCmd, session.ApplyOptions(opts...))
}

// ListSessions lists all sessions of a user.
func (s *Service) ListSessions(
	ctx context.Context,
	userKey session.UserKey,
	opts ...session.Option,
) ([]*session.Session, error) {
	if err := userKey.CheckUserKey(); err != nil {
		return nil, err
	}
	ids, err := s.client.HKeys(ctx, s.sessionStateKey(session.Key{AppName: userKey.AppName, UserID: userKey.UserID})).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis session service: list sessions: %w", err)
	}
	out := make([]*session.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.GetSession(ctx, session.Key{AppName: userKey.AppName, UserID: userKey.UserID, SessionID: id}, opts...)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			out = append(out, sess)
		}
	}
	return out, nil
}

// DeleteSession deletes a session and its events.
func (s *Service) DeleteSession(
	ctx context.Context,
	key session.Key,
	opts ...session.Option,
) error {
	if err := key.CheckSessionKey(); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, s.sessionStateKey(key), key.SessionID)
	pipe.Del(ctx, s.eventKey(key))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis session service: delete session: %w", err)
	}
	return nil
}

// AppendEvent stores the event and applies its state delta in one
// transaction. The caller's session is updated too.
func (s *Service) AppendEvent(
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
	stBytes, err := s.client.HGet(ctx, s.sessionStateKey(key), key.SessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s: %w", key.SessionID, session.ErrSessionNotFound)
	}
	if err != nil {
		return fmt.Errorf("redis session service: load session: %w", err)
	}
	st := &sessionState{}
	if err := json.Unmarshal(stBytes, st); err != nil {
		return fmt.Errorf("redis session service: unmarshal session: %w", err)
	}

	sess.ApplyEvent(e)
	stored := e.Clone()
	var appDelta, userDelta session.StateMap
	if stored.Actions != nil {
		var sessDelta session.StateMap
		appDelta, userDelta, sessDelta = session.SplitDelta(stored.Actions.StateDelta)
		if st.State == nil {
			st.State = session.StateMap{}
		}
		for k, v := range sessDelta {
			st.State[k] = v
		}
		stored.Actions.StateDelta = sessDelta
	}
	st.UpdatedAt = time.Now()
	stBytes, err = json.Marshal(st)
	if err != nil {
		return fmt.Errorf("redis session service: marshal session: %w", err)
	}
	eventBytes, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("redis session service: marshal event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.sessionStateKey(key), key.SessionID, stBytes)
	pipe.RPush(ctx, s.eventKey(key), eventBytes)
	if s.opts.sessionEventLimit > 0 {
		pipe.LTrim(ctx, s.eventKey(key), -int64(s.opts.sessionEventLimit), -1)
	}
	if err := s.queueScopedState(ctx, pipe, key, appDelta, userDelta); err != nil {
		return err
	}
	s.queueExpire(ctx, pipe, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis session service: append event: %w", err)
	}
	return nil
}

// ListEvents returns the stored events of a session.
func (s *Service) ListEvents(ctx context.Context, key session.Key, opts ...session.Option) ([]*event.Event, error) {
	sess, err := s.GetSession(ctx, key, opts...)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%s: %w", key.SessionID, session.ErrSessionNotFound)
	}
	return sess.GetEvents(), nil
}

// Close closes the underlying client.
func (s *Service) Close() error {
	return s.client.Close()
}

func (s *Service) queueScopedState(ctx context.Context, pipe redis.Pipeliner, key session.Key,
	appDelta, userDelta session.StateMap) error {
	for k, v := range appDelta {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("redis session service: marshal app state %s: %w", k, err)
		}
		pipe.HSet(ctx, s.appStateKey(key.AppName), k, b)
	}
	for k, v := range userDelta {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("redis session service: marshal user state %s: %w", k, err)
		}
		pipe.HSet(ctx, s.userStateKey(key), k, b)
	}
	return nil
}

func (s *Service) queueExpire(ctx context.Context, pipe redis.Pipeliner, key session.Key) {
	if s.opts.ttl <= 0 {
		return
	}
	pipe.Expire(ctx, s.sessionStateKey(key), s.opts.ttl)
	pipe.Expire(ctx, s.eventKey(key), s.opts.ttl)
	pipe.Expire(ctx, s.userStateKey(key), s.opts.ttl)
}

func (s *Service) buildSession(key session.Key, st *sessionState, appCmd, userCmd *redis.MapStringStringCmd,
	eventsCmd *redis.StringSliceCmd, o *session.Options) (*session.Session, error) {
	appState, err := decodeState(appCmd)
	if err != nil {
		return nil, err
	}
	userState, err := decodeState(userCmd)
	if err != nil {
		return nil, err
	}
	raw, err := eventsCmd.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis session service: get events: %w", err)
	}
	events := make([]*event.Event, 0, len(raw))
	for _, r := range raw {
		e := &event.Event{}
		if err := json.Unmarshal([]byte(r), e); err != nil {
			return nil, fmt.Errorf("redis session service: unmarshal event: %w", err)
		}
		events = append(events, e)
	}
	state := session.StateMap{}
	for k, v := range st.State {
		state[k] = v
	}
	for k, v := range appState {
		state[session.StateAppPrefix+k] = v
	}
	for k, v := range userState {
		state[session.StateUserPrefix+k] = v
	}
	return &session.Session{
		ID:        key.SessionID,
		AppName:   key.AppName,
		UserID:    key.UserID,
		State:     state,
		Events:    o.FilterEvents(events),
		CreatedAt: st.CreatedAt,
		UpdatedAt: st.UpdatedAt,
	}, nil
}

func decodeSessionState(cmd *redis.StringCmd) (*sessionState, error) {
	b, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis session service: get session: %w", err)
	}
	st := &sessionState{}
	if err := json.Unmarshal(b, st); err != nil {
		return nil, fmt.Errorf("redis session service: unmarshal session: %w", err)
	}
	return st, nil
}

func decodeState(cmd *redis.MapStringStringCmd) (session.StateMap, error) {
	raw, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return session.StateMap{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis session service: get state: %w", err)
	}
	out := make(session.StateMap, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal([]byte(v), &val); err != nil {
			return nil, fmt.Errorf("redis session service: unmarshal state %s: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}

func (s *Service) appStateKey(appName string) string {
	return fmt.Sprintf("%s:appstate:{%s}", s.opts.keyPrefix, appName)
}

func (s *Service) userStateKey(key session.Key) string {
	return fmt.Sprintf("%s:userstate:{%s}:%s", s.opts.keyPrefix, key.AppName, key.UserID)
}

func (s *Service) sessionStateKey(key session.Key) string {
	return fmt.Sprintf("%s:sess:{%s}:%s", s.opts.keyPrefix, key.AppName, key.UserID)
}

func (s *Service) eventKey(key session.Key) string {
	return fmt.Sprintf("%s:event:{%s}:%s:%s", s.opts.keyPrefix, key.AppName, key.UserID, key.SessionID)
}
