//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package runner drives agents for one user turn at a time. It keeps the
// session in step with the events the agents emit.
package runner

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/artifact"
	"trpc.group/trpc-go/trpc-agent-runtime/auth"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/memory"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/plugin"
	"trpc.group/trpc-go/trpc-agent-runtime/session"
	"trpc.group/trpc-go/trpc-agent-runtime/session/summary"
	"trpc.group/trpc-go/trpc-agent-runtime/telemetry/trace"
)

// AuthorModel authors the reply of a plugin that ends a run early.
const AuthorModel = "model"

const defaultBufferSize = 256

var (
	// ErrNoMessage is returned when a new invocation has no user message.
	ErrNoMessage = errors.New("runner: a new invocation needs a user message")
	// ErrInvocationNotFound is returned when resuming an invocation that has
	// no events in the session.
	ErrInvocationNotFound = errors.New("runner: invocation not found in session")
)

// Option is a function that configures a Runner.
type Option func(*options)

type options struct {
	artifactService   artifact.Service
	memoryService     memory.Service
	credentialService auth.CredentialService
	plugins           []plugin.Plugin
	pluginOpts        []plugin.Option
	resumable         bool
	cacheConfig       *model.CacheConfig
	summarizer        *summary.Summarizer
	bufferSize        int
}

// WithArtifactService sets the artifact service to use.
func WithArtifactService(service artifact.Service) Option {
	return func(opts *options) {
		opts.artifactService = service
	}
}

// WithMemoryService sets the memory service to use.
func WithMemoryService(service memory.Service) Option {
	return func(opts *options) {
		opts.memoryService = service
	}
}

// WithCredentialService sets the credential service to use.
func WithCredentialService(service auth.CredentialService) Option {
	return func(opts *options) {
		opts.credentialService = service
	}
}

// WithPlugins registers plugins in call order.
func WithPlugins(plugins ...plugin.Plugin) Option {
	return func(opts *options) {
		opts.plugins = append(opts.plugins, plugins...)
	}
}

// WithPluginOptions configures the plugin manager.
func WithPluginOptions(pluginOpts ...plugin.Option) Option {
	return func(opts *options) {
		opts.pluginOpts = append(opts.pluginOpts, pluginOpts...)
	}
}

// WithResumability lets invocations pause on long-running tools and be
// resumed with WithInvocationID.
func WithResumability(resumable bool) Option {
	return func(opts *options) {
		opts.resumable = resumable
	}
}

// WithContextCacheConfig enables provider side prefix caching.
func WithContextCacheConfig(cfg *model.CacheConfig) Option {
	return func(opts *options) {
		opts.cacheConfig = cfg
	}
}

// WithSummarizer compacts the session history after each invocation once
// the summarizer's checks pass.
func WithSummarizer(s *summary.Summarizer) Option {
	return func(opts *options) {
		opts.summarizer = s
	}
}

// WithEventBufferSize sets the buffer of the event channels Run returns.
func WithEventBufferSize(size int) Option {
	return func(opts *options) {
		opts.bufferSize = size
	}
}

// RunOption configures one call of Run or RunLive.
type RunOption func(*runOptions)

type runOptions struct {
	runConfig    *agent.RunConfig
	invocationID string
	stateDelta   map[string]any
}

// WithRunConfig sets the run config of the invocation.
func WithRunConfig(cfg *agent.RunConfig) RunOption {
	return func(ro *runOptions) {
		ro.runConfig = cfg
	}
}

// WithInvocationID resumes the invocation id instead of starting a new one.
func WithInvocationID(id string) RunOption {
	return func(ro *runOptions) {
		ro.invocationID = id
	}
}

// WithStateDelta is applied to the session together with the user message.
func WithStateDelta(delta map[string]any) RunOption {
	return func(ro *runOptions) {
		ro.stateDelta = delta
	}
}

// Runner runs one agent tree for an app.
type Runner struct {
	appName        string
	agent          agent.Agent
	sessionService session.Service
	plugins        *plugin.Manager
	opts           options
}

// New creates a Runner. It fails when two plugins share a name.
func New(appName string, a agent.Agent, sessionService session.Service, opts ...Option) (*Runner, error) {
	o := options{bufferSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	if sessionService == nil {
		return nil, errors.New("runner: session service is required")
	}
	plugins, err := plugin.New(o.plugins, o.pluginOpts...)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	return &Runner{
		appName:        appName,
		agent:          a,
		sessionService: sessionService,
		plugins:        plugins,
		opts:           o,
	}, nil
}

// AppName returns the app the runner serves.
func (r *Runner) AppName() string { return r.appName }

// Agent returns the root agent.
func (r *Runner) Agent() agent.Agent { return r.agent }

// Close releases the plugins.
func (r *Runner) Close(ctx context.Context) error {
	return r.plugins.Close(ctx)
}

// Run handles one user message and returns the events of the invocation.
// Non-partial events are in the session by the time they are received.
func (r *Runner) Run(
	ctx context.Context,
	userID string,
	sessionID string,
	message *genai.Content,
	runOpts ...RunOption,
) (<-chan *event.Event, error) {
	ro := runOptions{}
	for _, opt := range runOpts {
		opt(&ro)
	}
	ctx, span := trace.Tracer.Start(ctx, "invocation")
	span.SetAttributes(
		attribute.String("gen_ai.app.name", r.appName),
		attribute.String("gen_ai.session.id", sessionID),
	)

	sess, err := r.getOrCreateSession(ctx, userID, sessionID)
	if err != nil {
		span.End()
		return nil, err
	}

	var inv *agent.Invocation
	if ro.invocationID != "" {
		inv, err = r.resumeInvocation(ctx, sess, message, &ro)
	} else {
		inv, err = r.newInvocation(ctx, sess, message, &ro)
	}
	if err != nil {
		span.End()
		return nil, err
	}
	span.SetAttributes(attribute.String("gen_ai.invocation.id", inv.InvocationID))

	out := make(chan *event.Event, r.opts.bufferSize)
	go func() {
		defer span.End()
		defer close(out)
		r.execute(ctx, inv, out, func(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
			return inv.Agent.Run(ctx, inv)
		})
	}()
	return out, nil
}

// RunLive connects the agent to a bidirectional model session fed by queue.
// It ends when the queue is closed or ctx is cancelled.
func (r *Runner) RunLive(
	ctx context.Context,
	userID string,
	sessionID string,
	queue *agent.LiveRequestQueue,
	runOpts ...RunOption,
) (<-chan *event.Event, error) {
	ro := runOptions{}
	for _, opt := range runOpts {
		opt(&ro)
	}
	ctx, span := trace.Tracer.Start(ctx, "live_invocation")
	sess, err := r.getOrCreateSession(ctx, userID, sessionID)
	if err != nil {
		span.End()
		return nil, err
	}
	cfg := ro.runConfig
	if cfg == nil {
		cfg = agent.NewRunConfig()
	}
	cfg.StreamingMode = agent.StreamingModeBidi
	inv := r.invocation(sess, nil, cfg, agent.WithInvocationLiveRequestQueue(queue))
	inv.Agent = r.agentToRun(sess, nil)
	inv.AgentName = inv.Agent.Info().Name

	out := make(chan *event.Event, r.opts.bufferSize)
	go func() {
		defer span.End()
		defer close(out)
		r.stream(ctx, inv, out, func(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
			return inv.Agent.RunLive(ctx, inv)
		})
	}()
	return out, nil
}

type startFunc func(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error)

// execute wraps one run in the run level plugin hooks.
func (r *Runner) execute(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event, start startFunc) {
	reply, err := r.plugins.RunBeforeRun(ctx, inv)
	switch {
	case err != nil:
		r.fail(ctx, inv, out, err)
	case reply != nil:
		e := event.New(inv.InvocationID, AuthorModel, event.WithContent(reply))
		r.publish(ctx, inv, out, e)
	default:
		r.stream(ctx, inv, out, start)
		r.compact(ctx, inv)
	}
	if err := r.plugins.RunAfterRun(ctx, inv); err != nil {
		log.Errorf("runner: after run plugins: %v", err)
		r.send(ctx, out, r.errorEvent(inv, err))
	}
}

// stream runs the agent and publishes its events until the channel closes.
func (r *Runner) stream(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event, start startFunc) {
	ctx, cancel := context.WithCancel(agent.NewInvocationContext(ctx, inv))
	defer cancel()
	events, err := start(ctx, inv)
	if err != nil {
		r.fail(ctx, inv, out, err)
		return
	}
	for e := range events {
		if !r.publish(ctx, inv, out, e) {
			// Stop the producers and drain so none is left blocked.
			cancel()
			for range events {
			}
			return
		}
	}
}

// publish persists e, releases its producer and hands the plugin-adjusted
// event to the caller. It reports false once ctx is done.
func (r *Runner) publish(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event, e *event.Event) bool {
	if e == nil {
		return true
	}
	if e.Response == nil || !e.Partial {
		if err := r.sessionService.AppendEvent(ctx, inv.Session, e); err != nil {
			log.Errorf("runner: append event %s to session: %v", e.ID, err)
			r.send(ctx, out, r.errorEvent(inv, fmt.Errorf("runner: append event %s to session: %w", e.ID, err)))
			return false
		}
	}
	if e.RequiresCompletion {
		inv.NotifyCompletion(e.CompletionID)
	}
	visible := e
	replaced, err := r.plugins.RunOnEvent(ctx, inv, e)
	if err != nil {
		log.Errorf("runner: on event plugins: %v", err)
		r.send(ctx, out, r.errorEvent(inv, err))
		return false
	}
	if replaced != nil {
		visible = replaced
	}
	return r.send(ctx, out, visible)
}

// send hands e to the caller without recording it in the session.
func (r *Runner) send(ctx context.Context, out chan<- *event.Event, e *event.Event) bool {
	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) errorEvent(inv *agent.Invocation, err error) *event.Event {
	return event.NewErrorEvent(inv.InvocationID, r.agent.Info().Name, agent.ErrorCode(err), err)
}

// compact appends a compaction event to the session. It is not sent to the
// caller.
func (r *Runner) compact(ctx context.Context, inv *agent.Invocation) {
	s := r.opts.summarizer
	if s == nil || ctx.Err() != nil || !s.ShouldCompact(inv.Session) {
		return
	}
	e, err := s.Compact(ctx, inv.Session, inv.InvocationID)
	if errors.Is(err, summary.ErrNothingToCompact) {
		return
	}
	if err != nil {
		log.Warnf("runner: compact session %s: %v", inv.Session.ID, err)
		return
	}
	if err := r.sessionService.AppendEvent(ctx, inv.Session, e); err != nil {
		log.Errorf("runner: append compaction to session %s: %v", inv.Session.ID, err)
	}
}

func (r *Runner) fail(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event, err error) {
	r.publish(ctx, inv, out, r.errorEvent(inv, err))
}

func (r *Runner) getOrCreateSession(ctx context.Context, userID, sessionID string) (*session.Session, error) {
	key := session.Key{AppName: r.appName, UserID: userID, SessionID: sessionID}
	sess, err := r.sessionService.GetSession(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("runner: get session: %w", err)
	}
	if sess != nil {
		return sess, nil
	}
	if sess, err = r.sessionService.CreateSession(ctx, key, session.StateMap{}); err != nil {
		return nil, fmt.Errorf("runner: create session: %w", err)
	}
	return sess, nil
}

func (r *Runner) invocation(
	sess *session.Session,
	message *genai.Content,
	cfg *agent.RunConfig,
	extra ...agent.InvocationOptions,
) *agent.Invocation {
	if cfg == nil {
		cfg = agent.NewRunConfig()
	}
	opts := []agent.InvocationOptions{
		agent.WithInvocationAgent(r.agent),
		agent.WithInvocationSession(sess),
		agent.WithInvocationUserContent(message),
		agent.WithInvocationRunConfig(cfg),
		agent.WithInvocationResumability(&agent.ResumabilityConfig{IsResumable: r.opts.resumable}),
		agent.WithInvocationSessionService(r.sessionService),
		agent.WithInvocationArtifactService(r.opts.artifactService),
		agent.WithInvocationMemoryService(r.opts.memoryService),
		agent.WithInvocationCredentialService(r.opts.credentialService),
		agent.WithInvocationPlugins(r.plugins),
		agent.WithInvocationContextCacheConfig(r.opts.cacheConfig),
	}
	inv := agent.NewInvocation(append(opts, extra...)...)
	inv.EnableCompletionNotices()
	return inv
}

func (r *Runner) newInvocation(
	ctx context.Context,
	sess *session.Session,
	message *genai.Content,
	ro *runOptions,
) (*agent.Invocation, error) {
	if message == nil {
		return nil, ErrNoMessage
	}
	inv := r.invocation(sess, message, ro.runConfig)
	replaced, err := r.plugins.RunOnUserMessage(ctx, inv, message)
	if err != nil {
		return nil, err
	}
	if replaced != nil {
		message = replaced
	}
	inv.UserContent = message
	if err := r.appendUserMessage(ctx, inv, message, ro.stateDelta); err != nil {
		return nil, err
	}
	inv.Agent = r.agentToRun(sess, message)
	inv.AgentName = inv.Agent.Info().Name
	return inv, nil
}

// resumeInvocation rebuilds the agent states of an earlier invocation from
// the session. The root agent runs again and every workflow agent skips the
// sub-agents that already finished.
func (r *Runner) resumeInvocation(
	ctx context.Context,
	sess *session.Session,
	message *genai.Content,
	ro *runOptions,
) (*agent.Invocation, error) {
	inv := r.invocation(sess, message, ro.runConfig, agent.WithInvocationID(ro.invocationID))
	var first *genai.Content
	found := false
	for _, e := range inv.GetEvents(true, false) {
		found = true
		if first == nil && e.Author == event.AuthorUser && e.Content != nil {
			first = e.Content
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrInvocationNotFound, ro.invocationID)
	}
	if message != nil {
		replaced, err := r.plugins.RunOnUserMessage(ctx, inv, message)
		if err != nil {
			return nil, err
		}
		if replaced != nil {
			message = replaced
		}
		if err := r.appendUserMessage(ctx, inv, message, ro.stateDelta); err != nil {
			return nil, err
		}
	}
	if first != nil {
		inv.UserContent = first
	}
	inv.PopulateInvocationAgentStates()
	return inv, nil
}

func (r *Runner) appendUserMessage(
	ctx context.Context,
	inv *agent.Invocation,
	message *genai.Content,
	stateDelta map[string]any,
) error {
	e := event.New(inv.InvocationID, event.AuthorUser, event.WithContent(message))
	if len(stateDelta) > 0 {
		e.Actions.StateDelta = stateDelta
	}
	if inv.RunConfig != nil && inv.RunConfig.SaveInputBlobsAsArtifacts {
		if err := r.saveInputBlobs(ctx, inv, e); err != nil {
			return err
		}
	}
	if err := r.sessionService.AppendEvent(ctx, inv.Session, e); err != nil {
		return fmt.Errorf("runner: append user message: %w", err)
	}
	return nil
}

// saveInputBlobs moves inline data of the user message into artifacts and
// leaves a text placeholder in its place.
func (r *Runner) saveInputBlobs(ctx context.Context, inv *agent.Invocation, e *event.Event) error {
	if r.opts.artifactService == nil {
		return errors.New("runner: saving input blobs needs an artifact service")
	}
	info := artifact.SessionInfo{AppName: r.appName, UserID: inv.Session.UserID, SessionID: inv.Session.ID}
	content := *e.Content
	content.Parts = append([]*genai.Part(nil), e.Content.Parts...)
	for i, p := range content.Parts {
		if p == nil || p.InlineData == nil {
			continue
		}
		name := fmt.Sprintf("artifact_%s_%d", inv.InvocationID, i)
		version, err := r.opts.artifactService.SaveArtifact(ctx, info, name, p)
		if err != nil {
			return fmt.Errorf("runner: save input blob: %w", err)
		}
		if e.Actions.ArtifactDelta == nil {
			e.Actions.ArtifactDelta = make(map[string]int)
		}
		e.Actions.ArtifactDelta[name] = version
		content.Parts[i] = genai.NewPartFromText("Uploaded file: " + name + ". It is saved into artifacts")
	}
	e.Content = &content
	inv.UserContent = &content
	return nil
}

// agentToRun picks the agent that answers message. A function response goes
// back to the agent that made the call. Otherwise the last agent that spoke
// keeps the conversation if control may move freely from it, else the root.
func (r *Runner) agentToRun(sess *session.Session, message *genai.Content) agent.Agent {
	events := sess.GetEvents()
	if a := r.callerOf(events, message); a != nil {
		return a
	}
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.Author == event.AuthorUser {
			continue
		}
		if e.Author == r.agent.Info().Name {
			return r.agent
		}
		a := r.agent.FindSubAgent(e.Author)
		if a == nil {
			log.Debugf("runner: event author %q is not in the agent tree", e.Author)
			continue
		}
		if agent.CanTransfer(a) {
			return a
		}
	}
	return r.agent
}

func (r *Runner) callerOf(events []*event.Event, message *genai.Content) agent.Agent {
	if message == nil {
		return nil
	}
	ids := make(map[string]struct{})
	for _, p := range message.Parts {
		if p != nil && p.FunctionResponse != nil && p.FunctionResponse.ID != "" {
			ids[p.FunctionResponse.ID] = struct{}{}
		}
	}
	if len(ids) == 0 {
		return nil
	}
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.Response == nil {
			continue
		}
		for _, fc := range e.FunctionCalls() {
			if _, ok := ids[fc.ID]; !ok {
				continue
			}
			if a := agent.FindAgent(r.agent, e.Author); a != nil {
				return a
			}
		}
	}
	return nil
}
