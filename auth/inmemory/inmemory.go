//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides a process-local credential store.
package inmemory

import (
	"context"
	"sync"

	"trpc.group/trpc-go/trpc-agent-runtime/auth"
)

// Service keeps credentials in a map keyed by app, user and credential key.
type Service struct {
	mu    sync.RWMutex
	creds map[string]map[string]map[string]*auth.Credential
}

// New creates an empty store.
func New() *Service {
	return &Service{creds: map[string]map[string]map[string]*auth.Credential{}}
}

// SaveCredential stores the exchanged credential, or the raw one when
// nothing was exchanged.
func (s *Service) SaveCredential(_ context.Context, scope auth.Scope, cfg *auth.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cred := cfg.ExchangedCredential
	if cred == nil {
		cred = cfg.RawCredential
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	users, ok := s.creds[scope.AppName]
	if !ok {
		users = map[string]map[string]*auth.Credential{}
		s.creds[scope.AppName] = users
	}
	keys, ok := users[scope.UserID]
	if !ok {
		keys = map[string]*auth.Credential{}
		users[scope.UserID] = keys
	}
	c := *cred
	keys[cfg.CredentialKey] = &c
	return nil
}

// LoadCredential returns a copy of the stored credential.
func (s *Service) LoadCredential(_ context.Context, scope auth.Scope, cfg *auth.Config) (*auth.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[scope.AppName][scope.UserID][cfg.CredentialKey]
	if !ok {
		return nil, auth.ErrCredentialNotFound
	}
	c := *cred
	return &c, nil
}
