//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-memory implementation of the artifact service.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/artifact"
)

var _ artifact.Service = (*Service)(nil)

// Service keeps every version of every artifact in memory.
type Service struct {
	mutex     sync.RWMutex
	artifacts map[string][]*genai.Part
}

// NewService creates a new in-memory artifact service.
func NewService() *Service {
	return &Service{artifacts: make(map[string][]*genai.Part)}
}

// SaveArtifact appends a new version.
func (s *Service) SaveArtifact(_ context.Context, info artifact.SessionInfo, filename string, part *genai.Part) (int, error) {
	if part == nil {
		return 0, fmt.Errorf("artifact %s: nil part", filename)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	path := artifact.Path(info, filename)
	version := len(s.artifacts[path])
	s.artifacts[path] = append(s.artifacts[path], part)
	return version, nil
}

// LoadArtifact returns the requested or latest version.
func (s *Service) LoadArtifact(_ context.Context, info artifact.SessionInfo, filename string, version *int) (*genai.Part, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	versions := s.artifacts[artifact.Path(info, filename)]
	if len(versions) == 0 {
		return nil, nil
	}
	if version == nil {
		return versions[len(versions)-1], nil
	}
	if *version < 0 || *version >= len(versions) {
		return nil, fmt.Errorf("%s@%d: %w", filename, *version, artifact.ErrVersionNotFound)
	}
	return versions[*version], nil
}

// ListArtifactKeys lists the filenames visible to the session.
func (s *Service) ListArtifactKeys(_ context.Context, info artifact.SessionInfo) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	sessionPrefix := artifact.SessionPrefix(info)
	userPrefix := artifact.UserPrefix(info)
	var filenames []string
	for path := range s.artifacts {
		switch {
		case strings.HasPrefix(path, sessionPrefix):
			filenames = append(filenames, strings.TrimPrefix(path, sessionPrefix))
		case strings.HasPrefix(path, userPrefix):
			filenames = append(filenames, strings.TrimPrefix(path, userPrefix))
		}
	}
	sort.Strings(filenames)
	return filenames, nil
}

// DeleteArtifact removes every version. Deleting a missing artifact is not an error.
func (s *Service) DeleteArtifact(_ context.Context, info artifact.SessionInfo, filename string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.artifacts, artifact.Path(info, filename))
	return nil
}

// ListVersions lists all versions of an artifact.
func (s *Service) ListVersions(_ context.Context, info artifact.SessionInfo, filename string) ([]int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	versions := s.artifacts[artifact.Path(info, filename)]
	out := make([]int, len(versions))
	for i := range versions {
		out[i] = i
	}
	return out, nil
}
