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
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/artifact"
	"trpc.group/trpc-go/trpc-agent-runtime/auth"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/memory"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/session"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
)

// Invocation is the state of one user turn. Every agent run of the turn
// works on a clone that shares the agent states, the model call counter,
// the end flag, the streaming tools and the completion notices.
type Invocation struct {
	// Agent is the agent that is being invoked.
	Agent Agent
	// AgentName is the name of the agent that is being invoked.
	AgentName string
	// InvocationID is the ID of the invocation, "e-" followed by a uuid.
	InvocationID string
	// Branch is the dotted path isolating events of parallel sub-agents.
	Branch string
	// UserContent is the user message that started the invocation.
	UserContent *genai.Content
	// Session is the session that is being used for the invocation.
	Session *session.Session

	SessionService    session.Service
	ArtifactService   artifact.Service
	MemoryService     memory.Service
	CredentialService auth.CredentialService

	RunConfig          *RunConfig
	ResumabilityConfig *ResumabilityConfig
	// Plugins intercepts every lifecycle point of the invocation.
	Plugins PluginManager
	// ContextCacheConfig enables provider prefix caching when set.
	ContextCacheConfig *model.CacheConfig

	// LiveRequestQueue feeds live runs.
	LiveRequestQueue *LiveRequestQueue
	// LiveCaches buffers audio and transcriptions of live runs.
	LiveCaches *LiveCaches
	// LiveTaskCompletion registers the task_completed tool on live LLM runs
	// so a sequential parent can advance.
	LiveTaskCompletion bool

	// Model is the model used by the LLM agent being invoked.
	Model model.Model
	// ModelCallbacks contains callbacks for model operations.
	ModelCallbacks *model.Callbacks
	// ToolCallbacks contains callbacks for tool operations.
	ToolCallbacks *tool.Callbacks

	shared *sharedState
}

type sharedState struct {
	mu             sync.Mutex
	agentStates    map[string]json.RawMessage
	endOfAgents    map[string]bool
	llmCalls       int
	ended          bool
	temp           map[string]any
	grounding      *genai.GroundingMetadata
	streamingTools map[string]*ActiveStreamingTool
	noticesEnabled bool
	notices        map[string]chan struct{}
}

func newSharedState() *sharedState {
	return &sharedState{
		agentStates:    make(map[string]json.RawMessage),
		endOfAgents:    make(map[string]bool),
		temp:           make(map[string]any),
		streamingTools: make(map[string]*ActiveStreamingTool),
		notices:        make(map[string]chan struct{}),
	}
}

// InvocationOptions is the options for the Invocation.
type InvocationOptions func(*Invocation)

// WithInvocationID set invocation id for the Invocation.
func WithInvocationID(id string) InvocationOptions {
	return func(inv *Invocation) {
		inv.InvocationID = id
	}
}

// WithInvocationAgent set agent for the Invocation. Agent specific settings
// inherited from a clone source are cleared.
func WithInvocationAgent(a Agent) InvocationOptions {
	return func(inv *Invocation) {
		inv.Agent = a
		inv.AgentName = a.Info().Name
		inv.Model = nil
		inv.ModelCallbacks = nil
		inv.ToolCallbacks = nil
	}
}

// WithInvocationBranch set branch for the Invocation.
func WithInvocationBranch(branch string) InvocationOptions {
	return func(inv *Invocation) {
		inv.Branch = branch
	}
}

// WithInvocationSession set session for the Invocation.
func WithInvocationSession(sess *session.Session) InvocationOptions {
	return func(inv *Invocation) {
		inv.Session = sess
	}
}

// WithInvocationUserContent set the user message for the Invocation.
func WithInvocationUserContent(content *genai.Content) InvocationOptions {
	return func(inv *Invocation) {
		inv.UserContent = content
	}
}

// WithInvocationRunConfig set run config for the Invocation.
func WithInvocationRunConfig(cfg *RunConfig) InvocationOptions {
	return func(inv *Invocation) {
		inv.RunConfig = cfg
	}
}

// WithInvocationResumability set resumability for the Invocation.
func WithInvocationResumability(cfg *ResumabilityConfig) InvocationOptions {
	return func(inv *Invocation) {
		inv.ResumabilityConfig = cfg
	}
}

// WithInvocationSessionService set session service for the Invocation.
func WithInvocationSessionService(s session.Service) InvocationOptions {
	return func(inv *Invocation) {
		inv.SessionService = s
	}
}

// WithInvocationArtifactService set artifactService for the Invocation.
func WithInvocationArtifactService(s artifact.Service) InvocationOptions {
	return func(inv *Invocation) {
		inv.ArtifactService = s
	}
}

// WithInvocationMemoryService set memoryService for the Invocation.
func WithInvocationMemoryService(s memory.Service) InvocationOptions {
	return func(inv *Invocation) {
		inv.MemoryService = s
	}
}

// WithInvocationCredentialService set credential service for the Invocation.
func WithInvocationCredentialService(s auth.CredentialService) InvocationOptions {
	return func(inv *Invocation) {
		inv.CredentialService = s
	}
}

// WithInvocationPlugins set plugin manager for the Invocation.
func WithInvocationPlugins(p PluginManager) InvocationOptions {
	return func(inv *Invocation) {
		inv.Plugins = p
	}
}

// WithInvocationContextCacheConfig set context cache config for the Invocation.
func WithInvocationContextCacheConfig(cfg *model.CacheConfig) InvocationOptions {
	return func(inv *Invocation) {
		inv.ContextCacheConfig = cfg
	}
}

// WithInvocationLiveRequestQueue set live request queue for the Invocation.
func WithInvocationLiveRequestQueue(q *LiveRequestQueue) InvocationOptions {
	return func(inv *Invocation) {
		inv.LiveRequestQueue = q
	}
}

// NewInvocationID returns a fresh invocation id.
func NewInvocationID() string {
	return "e-" + uuid.NewString()
}

// NewInvocation creates an invocation with a fresh id and default run config.
func NewInvocation(opts ...InvocationOptions) *Invocation {
	inv := &Invocation{
		InvocationID: NewInvocationID(),
		RunConfig:    NewRunConfig(),
		LiveCaches:   &LiveCaches{},
		shared:       newSharedState(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Clone returns a copy sharing the invocation wide state.
func (inv *Invocation) Clone(opts ...InvocationOptions) *Invocation {
	c := *inv
	if c.shared == nil {
		inv.shared = newSharedState()
		c.shared = inv.shared
	}
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

func (inv *Invocation) state() *sharedState {
	if inv.shared == nil {
		inv.shared = newSharedState()
	}
	return inv.shared
}

// IsResumable reports whether the app allows pausing and resuming.
func (inv *Invocation) IsResumable() bool {
	return inv.ResumabilityConfig != nil && inv.ResumabilityConfig.IsResumable
}

// SetAgentState records the progress of agent name: endOfAgent marks it
// finished and clears its state, a non-nil state marks it suspended, and
// neither clears both so that the agent runs fresh.
func (inv *Invocation) SetAgentState(name string, state json.RawMessage, endOfAgent bool) {
	s := inv.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case endOfAgent:
		s.endOfAgents[name] = true
		delete(s.agentStates, name)
	case state != nil:
		s.agentStates[name] = state
		s.endOfAgents[name] = false
	default:
		delete(s.agentStates, name)
		delete(s.endOfAgents, name)
	}
}

// AgentState returns the stored state of agent name, nil if none.
func (inv *Invocation) AgentState(name string) json.RawMessage {
	s := inv.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentStates[name]
}

// LoadAgentState decodes the stored state of agent name into v. It reports
// whether a state was present.
func (inv *Invocation) LoadAgentState(name string, v any) (bool, error) {
	raw := inv.AgentState(name)
	if len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, err
	}
	return true, nil
}

// IsEndOfAgent reports whether agent name already finished in this invocation.
func (inv *Invocation) IsEndOfAgent(name string) bool {
	s := inv.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endOfAgents[name]
}

// ResetSubAgentStates clears the states of every descendant of agent name.
func (inv *Invocation) ResetSubAgentStates(name string) {
	a := FindAgent(inv.Agent, name)
	if a == nil {
		a = FindAgent(Root(inv.Agent), name)
	}
	if a == nil {
		return
	}
	for _, sub := range a.SubAgents() {
		inv.SetAgentState(sub.Info().Name, nil, false)
		inv.ResetSubAgentStates(sub.Info().Name)
	}
}

// PopulateInvocationAgentStates rebuilds the agent states from the events
// of this invocation already in the session. Agents that produced content
// without recording a state get an empty state so that they resume.
func (inv *Invocation) PopulateInvocationAgentStates() {
	empty, _ := EncodeState(BaseState{})
	for _, e := range inv.GetEvents(true, false) {
		switch {
		case e.Actions != nil && e.Actions.EndOfAgent:
			inv.SetAgentState(e.Author, nil, true)
		case len(e.AgentState) > 0:
			inv.SetAgentState(e.Author, e.AgentState, false)
		case e.Author != event.AuthorUser && e.HasContent() && len(inv.AgentState(e.Author)) == 0:
			inv.SetAgentState(e.Author, empty, false)
		}
	}
}

// ShouldPauseInvocation reports whether e leaves a long-running call
// unanswered in a resumable app.
func (inv *Invocation) ShouldPauseInvocation(e *event.Event) bool {
	if !inv.IsResumable() || e == nil || e.Response == nil || len(e.LongRunningToolIDs) == 0 {
		return false
	}
	for _, fc := range e.FunctionCalls() {
		if _, ok := e.LongRunningToolIDs[fc.ID]; ok {
			return true
		}
	}
	return false
}

// IncrementLLMCallCount counts one model call and fails once the count
// exceeds RunConfig.MaxLLMCalls.
func (inv *Invocation) IncrementLLMCallCount() error {
	s := inv.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llmCalls++
	if inv.RunConfig != nil && inv.RunConfig.MaxLLMCalls > 0 && s.llmCalls > inv.RunConfig.MaxLLMCalls {
		return fmt.Errorf("%w: limit %d", ErrLLMCallsLimitExceeded, inv.RunConfig.MaxLLMCalls)
	}
	return nil
}

// LLMCallCount returns the number of model calls made so far.
func (inv *Invocation) LLMCallCount() int {
	s := inv.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.llmCalls
}

// End stops the invocation after the in-flight event.
func (inv *Invocation) End() {
	s := inv.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

// Ended reports whether End was called.
func (inv *Invocation) Ended() bool {
	s := inv.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// SetTemp stores a value visible to the whole invocation and never persisted.
func (inv *Invocation) SetTemp(key string, value any) {
	s := inv.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp[key] = value
}

// Temp returns a value stored with SetTemp.
func (inv *Invocation) Temp(key string) (any, bool) {
	s := inv.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.temp[key]
	return v, ok
}

// RelayGroundingMetadata keeps the grounding of a nested agent run until
// the calling tool's response event is built.
func (inv *Invocation) RelayGroundingMetadata(gm *genai.GroundingMetadata) {
	s := inv.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grounding = gm
}

// TakeGroundingMetadata returns and clears the relayed grounding.
func (inv *Invocation) TakeGroundingMetadata() *genai.GroundingMetadata {
	s := inv.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	gm := s.grounding
	s.grounding = nil
	return gm
}

// AddActiveStreamingTool registers a running streaming tool.
func (inv *Invocation) AddActiveStreamingTool(name string, t *ActiveStreamingTool) {
	s := inv.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamingTools[name] = t
}

// ActiveStreamingTool returns the running streaming tool named name.
func (inv *Invocation) ActiveStreamingTool(name string) (*ActiveStreamingTool, bool) {
	s := inv.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.streamingTools[name]
	return t, ok
}

// RemoveActiveStreamingTool unregisters and returns the streaming tool named name.
func (inv *Invocation) RemoveActiveStreamingTool(name string) (*ActiveStreamingTool, bool) {
	s := inv.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.streamingTools[name]
	delete(s.streamingTools, name)
	return t, ok
}

// ActiveStreamingToolNames lists running streaming tools, sorted.
func (inv *Invocation) ActiveStreamingToolNames() []string {
	s := inv.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.streamingTools))
	for name := range s.streamingTools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetEvents returns the session events, optionally restricted to this
// invocation and to this branch.
func (inv *Invocation) GetEvents(currentInvocation, currentBranch bool) []*event.Event {
	if inv.Session == nil {
		return nil
	}
	all := inv.Session.GetEvents()
	out := all[:0:0]
	for _, e := range all {
		if currentInvocation && e.InvocationID != inv.InvocationID {
			continue
		}
		if currentBranch && e.Branch != inv.Branch {
			continue
		}
		out = append(out, e)
	}
	return out
}

// EnableCompletionNotices makes EmitEvent wait until the consumer calls
// NotifyCompletion for each non-partial event. The runner enables it so
// that producers observe their own events in the session.
func (inv *Invocation) EnableCompletionNotices() {
	s := inv.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noticesEnabled = true
}

// NotifyCompletion releases the producer waiting on completionID.
func (inv *Invocation) NotifyCompletion(completionID string) {
	s := inv.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.notices[completionID]; ok {
		close(ch)
		delete(s.notices, completionID)
	}
}

func (inv *Invocation) addNotice(completionID string) (chan struct{}, bool) {
	s := inv.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.noticesEnabled {
		return nil, false
	}
	ch := make(chan struct{})
	s.notices[completionID] = ch
	return ch, true
}

func (inv *Invocation) dropNotice(completionID string) {
	s := inv.state()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notices, completionID)
}

// EmitEvent sends e on ch. Non-partial events of an invocation with
// completion notices enabled block until the consumer has persisted them.
func EmitEvent(ctx context.Context, inv *Invocation, ch chan<- *event.Event, e *event.Event) error {
	if e == nil {
		return nil
	}
	var notice chan struct{}
	if inv != nil && (e.Response == nil || !e.Partial) {
		if n, ok := inv.addNotice(e.ID); ok {
			notice = n
			e.RequiresCompletion = true
			e.CompletionID = e.ID
		}
	}
	select {
	case ch <- e:
	case <-ctx.Done():
		if notice != nil {
			inv.dropNotice(e.ID)
		}
		return ctx.Err()
	}
	if notice == nil {
		return nil
	}
	select {
	case <-notice:
		return nil
	case <-ctx.Done():
		inv.dropNotice(e.ID)
		return ctx.Err()
	}
}
