//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package artifact provides the definition and service for content artifacts.
// Artifacts are named, versioned parts (usually inline blobs) attached to a
// session, or to the user when the filename starts with "user:".
package artifact

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

// UserNamespacePrefix marks filenames scoped to the user instead of the session.
const UserNamespacePrefix = "user:"

// ErrVersionNotFound is returned when a requested version does not exist.
var ErrVersionNotFound = errors.New("artifact: version not found")

// SessionInfo contains the session information for artifact operations.
type SessionInfo struct {
	// AppName is the name of the application
	AppName string
	// UserID is the ID of the user
	UserID string
	// SessionID is the ID of the session
	SessionID string
}

// Service defines the interface for artifact storage and retrieval operations.
type Service interface {
	// SaveArtifact stores part as a new version of filename and returns the
	// version. The first version is 0.
	SaveArtifact(ctx context.Context, info SessionInfo, filename string, part *genai.Part) (int, error)

	// LoadArtifact returns one version of filename, the latest when version
	// is nil. It returns nil, nil when the artifact does not exist.
	LoadArtifact(ctx context.Context, info SessionInfo, filename string, version *int) (*genai.Part, error)

	// ListArtifactKeys lists session and user scoped filenames, sorted.
	ListArtifactKeys(ctx context.Context, info SessionInfo) ([]string, error)

	// DeleteArtifact deletes every version of filename.
	DeleteArtifact(ctx context.Context, info SessionInfo, filename string) error

	// ListVersions lists the versions of filename.
	ListVersions(ctx context.Context, info SessionInfo, filename string) ([]int, error)
}

// IsUserScoped reports whether filename lives in the user namespace.
func IsUserScoped(filename string) bool {
	return strings.HasPrefix(filename, UserNamespacePrefix)
}

// Path builds the storage path of filename.
func Path(info SessionInfo, filename string) string {
	if IsUserScoped(filename) {
		return UserPrefix(info) + filename
	}
	return SessionPrefix(info) + filename
}

// SessionPrefix is the path prefix of session scoped artifacts.
func SessionPrefix(info SessionInfo) string {
	return info.AppName + "/" + info.UserID + "/" + info.SessionID + "/"
}

// UserPrefix is the path prefix of user scoped artifacts.
func UserPrefix(info SessionInfo) string {
	return info.AppName + "/" + info.UserID + "/user/"
}
