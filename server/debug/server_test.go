//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package debug

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/artifact"
	artifactinmemory "trpc.group/trpc-go/trpc-agent-runtime/artifact/inmemory"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/agenttest"
	"trpc.group/trpc-go/trpc-agent-runtime/server/debug/internal/schema"
)

func newTestServer(opts ...Option) *Server {
	return New(map[string]agent.Agent{
		"echo":  agenttest.Replying("echo", "pong"),
		"other": agenttest.Replying("other", "hello"),
	}, opts...)
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.ContentLength = int64(buf.Len())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func runRequest(sessionID string) schema.AgentRunRequest {
	return schema.AgentRunRequest{
		AppName:    "echo",
		UserID:     "u1",
		SessionID:  sessionID,
		NewMessage: genai.NewContentFromText("ping", genai.RoleUser),
	}
}

func TestServer_ListApps(t *testing.T) {
	rec := do(t, newTestServer(), http.MethodGet, "/list-apps", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var apps []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apps))
	assert.Equal(t, []string{"echo", "other"}, apps)
}

func TestServer_SessionLifecycle(t *testing.T) {
	s := newTestServer()
	base := "/apps/echo/users/u1/sessions"

	rec := do(t, s, http.MethodPost, base, schema.CreateSessionRequest{SessionID: "s1", State: map[string]any{"k": "v"}})
	require.Equal(t, http.StatusOK, rec.Code)
	var created schema.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "s1", created.ID)
	assert.Equal(t, "v", created.State["k"])

	rec = do(t, s, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []schema.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)

	rec = do(t, s, http.MethodDelete, base+"/s1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, s, http.MethodGet, base+"/s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Run(t *testing.T) {
	s := newTestServer()
	rec := do(t, s, http.MethodPost, "/run", runRequest("s1"))
	require.Equal(t, http.StatusOK, rec.Code)

	var events []schema.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "echo", events[0].Author)
	assert.Equal(t, "pong", events[0].Content.Parts[0].Text)

	rec = do(t, s, http.MethodGet, "/apps/echo/users/u1/sessions/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sess schema.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Len(t, sess.Events, 2)
}

func TestServer_RunErrors(t *testing.T) {
	s := newTestServer()
	req := runRequest("s1")
	req.AppName = "missing"
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/run", req).Code)

	req = runRequest("s1")
	req.NewMessage = nil
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/run", req).Code)

	bad := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RunSSE(t *testing.T) {
	s := newTestServer()
	req := runRequest("s1")
	req.Streaming = true
	rec := do(t, s, http.MethodPost, "/run_sse", req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var events []schema.Event
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e schema.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
		events = append(events, e)
	}
	require.Len(t, events, 1)
	assert.Equal(t, "pong", events[0].Content.Parts[0].Text)
}

func TestServer_Artifacts(t *testing.T) {
	svc := artifactinmemory.NewService()
	s := newTestServer(WithArtifactService(svc))
	info := artifact.SessionInfo{AppName: "echo", UserID: "u1", SessionID: "s1"}
	_, err := svc.SaveArtifact(context.Background(), info, "notes.txt", genai.NewPartFromText("v0"))
	require.NoError(t, err)
	_, err = svc.SaveArtifact(context.Background(), info, "notes.txt", genai.NewPartFromText("v1"))
	require.NoError(t, err)

	base := "/apps/echo/users/u1/sessions/s1/artifacts"
	rec := do(t, s, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var keys []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &keys))
	assert.Equal(t, []string{"notes.txt"}, keys)

	rec = do(t, s, http.MethodGet, base+"/notes.txt?version=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var part genai.Part
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &part))
	assert.Equal(t, "v0", part.Text)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, base+"/missing.txt", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, base+"/notes.txt?version=x", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, newTestServer(), http.MethodGet, base, nil).Code)
}

func TestServer_RunLive(t *testing.T) {
	s := newTestServer()
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/run_live?app_name=echo&user_id=u1&session_id=s1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var e schema.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, "echo", e.Author)
	assert.Equal(t, "pong", e.Content.Parts[0].Text)
	assert.NoError(t, s.Close(context.Background()))
}
