//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package debug provides a HTTP server for driving agents from a browser or
// curl while developing. It exposes sessions, artifacts and the runner over
// JSON, server-sent events and a websocket for live sessions.
package debug

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/artifact"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/runner"
	"trpc.group/trpc-go/trpc-agent-runtime/server/debug/internal/schema"
	"trpc.group/trpc-go/trpc-agent-runtime/session"
	sessioninmemory "trpc.group/trpc-go/trpc-agent-runtime/session/inmemory"
)

// Server serves one runner per registered app.
type Server struct {
	agents map[string]agent.Agent
	router *mux.Router

	mu      sync.RWMutex
	runners map[string]*runner.Runner

	sessionSvc  session.Service
	artifactSvc artifact.Service
	runnerOpts  []runner.Option
	upgrader    websocket.Upgrader
}

// Option configures the Server instance.
type Option func(*Server)

// WithSessionService allows providing a custom session storage backend.
// If omitted, an in-memory implementation is used.
func WithSessionService(svc session.Service) Option {
	return func(s *Server) { s.sessionSvc = svc }
}

// WithArtifactService enables the artifact routes and hands svc to the runners.
func WithArtifactService(svc artifact.Service) Option {
	return func(s *Server) { s.artifactSvc = svc }
}

// WithRunnerOptions appends options applied when the server lazily
// constructs the runner of an app.
func WithRunnerOptions(opts ...runner.Option) Option {
	return func(s *Server) { s.runnerOpts = append(s.runnerOpts, opts...) }
}

// New creates a server for agents keyed by app name.
func New(agents map[string]agent.Agent, opts ...Option) *Server {
	s := &Server{
		agents:     agents,
		router:     mux.NewRouter(),
		runners:    make(map[string]*runner.Runner),
		sessionSvc: sessioninmemory.NewSessionService(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

// Close releases the plugins of every runner created so far.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, r := range s.runners {
		errs = append(errs, r.Close(ctx))
	}
	return errors.Join(errs...)
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/list-apps", s.handleListApps).Methods(http.MethodGet)

	sessions := "/apps/{appName}/users/{userId}/sessions"
	s.router.HandleFunc(sessions, s.handleListSessions).Methods(http.MethodGet)
	s.router.HandleFunc(sessions, s.handleCreateSession).Methods(http.MethodPost)
	s.router.HandleFunc(sessions+"/{sessionId}", s.handleGetSession).Methods(http.MethodGet)
	s.router.HandleFunc(sessions+"/{sessionId}", s.handleDeleteSession).Methods(http.MethodDelete)
	s.router.HandleFunc(sessions+"/{sessionId}/artifacts", s.handleListArtifacts).Methods(http.MethodGet)
	s.router.HandleFunc(sessions+"/{sessionId}/artifacts/{name}", s.handleLoadArtifact).Methods(http.MethodGet)

	s.router.HandleFunc("/run", s.handleRun).Methods(http.MethodPost)
	s.router.HandleFunc("/run_sse", s.handleRunSSE).Methods(http.MethodPost)
	s.router.HandleFunc("/run_live", s.handleRunLive).Methods(http.MethodGet)

	preflight := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
	s.router.HandleFunc("/run", preflight).Methods(http.MethodOptions)
	s.router.HandleFunc("/run_sse", preflight).Methods(http.MethodOptions)
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	apps := make([]string, 0, len(s.agents))
	for name := range s.agents {
		apps = append(apps, name)
	}
	sort.Strings(apps)
	s.writeJSON(w, apps)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userKey := session.UserKey{AppName: vars["appName"], UserID: vars["userId"]}
	sessions, err := s.sessionSvc.ListSessions(r.Context(), userKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]*schema.Session, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, convertSession(sess))
	}
	s.writeJSON(w, out)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req schema.CreateSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	key := session.Key{AppName: vars["appName"], UserID: vars["userId"], SessionID: req.SessionID}
	sess, err := s.sessionSvc.CreateSession(r.Context(), key, req.State)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, convertSession(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionSvc.GetSession(r.Context(), sessionKey(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sess == nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, convertSession(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessionSvc.DeleteSession(r.Context(), sessionKey(r)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	if s.artifactSvc == nil {
		http.Error(w, "artifact service not configured", http.StatusNotFound)
		return
	}
	keys, err := s.artifactSvc.ListArtifactKeys(r.Context(), artifactInfo(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, keys)
}

func (s *Server) handleLoadArtifact(w http.ResponseWriter, r *http.Request) {
	if s.artifactSvc == nil {
		http.Error(w, "artifact service not configured", http.StatusNotFound)
		return
	}
	var version *int
	if v := r.URL.Query().Get("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid version", http.StatusBadRequest)
			return
		}
		version = &n
	}
	part, err := s.artifactSvc.LoadArtifact(r.Context(), artifactInfo(r), mux.Vars(r)["name"], version)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if part == nil {
		http.Error(w, "Artifact not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, part)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req schema.AgentRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out, status, err := s.run(r.Context(), &req, agent.StreamingModeNone)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	events := make([]*schema.Event, 0)
	for e := range out {
		if e.Response != nil && e.Partial {
			continue
		}
		events = append(events, convertEvent(e))
	}
	s.writeJSON(w, events)
}

func (s *Server) handleRunSSE(w http.ResponseWriter, r *http.Request) {
	var req schema.AgentRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}
	mode := agent.StreamingModeNone
	if req.Streaming {
		mode = agent.StreamingModeSSE
	}
	out, status, err := s.run(r.Context(), &req, mode)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	for e := range out {
		data, err := json.Marshal(convertEvent(e))
		if err != nil {
			log.Errorf("debug: marshal sse event: %v", err)
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

// handleRunLive bridges a websocket to a live run. Client frames are
// schema.LiveRequest values, server frames are schema.Event values.
func (s *Server) handleRunLive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	appName, userID, sessionID := q.Get("app_name"), q.Get("user_id"), q.Get("session_id")
	rn, err := s.getRunner(appName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("debug: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	queue := agent.NewLiveRequestQueue()
	out, err := rn.RunLive(ctx, userID, sessionID, queue)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		return
	}

	go func() {
		defer queue.Close(ctx)
		for {
			var req schema.LiveRequest
			if err := conn.ReadJSON(&req); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debugf("debug: live read: %v", err)
				}
				return
			}
			live := &agent.LiveRequest{
				Content:       req.Content,
				Blob:          req.Blob,
				ActivityStart: req.ActivityStart,
				ActivityEnd:   req.ActivityEnd,
				Close:         req.Close,
			}
			if !queue.Send(ctx, live) || req.Close {
				return
			}
		}
	}()

	for e := range out {
		if err := conn.WriteJSON(convertEvent(e)); err != nil {
			log.Debugf("debug: live write: %v", err)
			cancel()
			break
		}
	}
	for range out {
	}
}

func (s *Server) run(
	ctx context.Context,
	req *schema.AgentRunRequest,
	mode agent.StreamingMode,
) (<-chan *event.Event, int, error) {
	rn, err := s.getRunner(req.AppName)
	if err != nil {
		return nil, http.StatusNotFound, err
	}
	cfg := agent.NewRunConfig()
	cfg.StreamingMode = mode
	opts := []runner.RunOption{runner.WithRunConfig(cfg)}
	if req.InvocationID != "" {
		opts = append(opts, runner.WithInvocationID(req.InvocationID))
	}
	if len(req.StateDelta) > 0 {
		opts = append(opts, runner.WithStateDelta(req.StateDelta))
	}
	out, err := rn.Run(ctx, req.UserID, req.SessionID, req.NewMessage, opts...)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, runner.ErrNoMessage) || errors.Is(err, runner.ErrInvocationNotFound) {
			status = http.StatusBadRequest
		}
		return nil, status, err
	}
	return out, http.StatusOK, nil
}

func (s *Server) getRunner(appName string) (*runner.Runner, error) {
	s.mu.RLock()
	if r, ok := s.runners[appName]; ok {
		s.mu.RUnlock()
		return r, nil
	}
	s.mu.RUnlock()

	ag, ok := s.agents[appName]
	if !ok {
		return nil, fmt.Errorf("app %q not found", appName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runners[appName]; ok {
		return r, nil
	}
	opts := append([]runner.Option{}, s.runnerOpts...)
	if s.artifactSvc != nil {
		opts = append(opts, runner.WithArtifactService(s.artifactSvc))
	}
	r, err := runner.New(appName, ag, s.sessionSvc, opts...)
	if err != nil {
		return nil, err
	}
	s.runners[appName] = r
	return r, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("debug: encode response: %v", err)
	}
}

func sessionKey(r *http.Request) session.Key {
	vars := mux.Vars(r)
	return session.Key{AppName: vars["appName"], UserID: vars["userId"], SessionID: vars["sessionId"]}
}

func artifactInfo(r *http.Request) artifact.SessionInfo {
	vars := mux.Vars(r)
	return artifact.SessionInfo{AppName: vars["appName"], UserID: vars["userId"], SessionID: vars["sessionId"]}
}

func convertSession(sess *session.Session) *schema.Session {
	events := sess.GetEvents()
	out := &schema.Session{
		AppName:        sess.AppName,
		UserID:         sess.UserID,
		ID:             sess.ID,
		State:          sess.SnapshotState(),
		Events:         make([]*schema.Event, 0, len(events)),
		LastUpdateTime: event.UnixSeconds(sess.UpdatedAt),
	}
	for _, e := range events {
		out.Events = append(out.Events, convertEvent(e))
	}
	return out
}

func convertEvent(e *event.Event) *schema.Event {
	out := &schema.Event{
		ID:           e.ID,
		InvocationID: e.InvocationID,
		Author:       e.Author,
		Branch:       e.Branch,
		Timestamp:    event.UnixSeconds(e.Timestamp),
		Actions:      e.Actions,
	}
	if rsp := e.Response; rsp != nil {
		out.Content = rsp.Content
		out.Partial = rsp.Partial
		out.TurnComplete = rsp.TurnComplete
		out.Interrupted = rsp.Interrupted
		out.ErrorCode = rsp.ErrorCode
		out.ErrorMessage = rsp.ErrorMessage
		out.UsageMetadata = rsp.UsageMetadata
		out.InputTranscription = rsp.InputTranscription
		out.OutputTranscription = rsp.OutputTranscription
	}
	for id := range e.LongRunningToolIDs {
		out.LongRunningToolIDs = append(out.LongRunningToolIDs, id)
	}
	sort.Strings(out.LongRunningToolIDs)
	return out
}
