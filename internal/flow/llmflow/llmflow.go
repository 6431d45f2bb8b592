//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package llmflow provides an LLM-based flow implementation.
package llmflow

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/contextcache"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/flow"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/flow/processor"
	itelemetry "trpc.group/trpc-go/trpc-agent-runtime/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-runtime/telemetry/trace"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
)

// AgentNameLabel is the request label carrying the calling agent's name.
const AgentNameLabel = "adk_agent_name"

// Options contains configuration options for creating a Flow.
type Options struct {
	// Tools resolves the agent's own tools on every step.
	Tools flow.ToolsFunc
	// OnEvent observes every event the flow forwards, including the events
	// of agents it transfers to.
	OnEvent flow.EventHook
}

// Flow provides the basic flow implementation.
type Flow struct {
	requestProcessors  []flow.RequestProcessor
	responseProcessors []flow.ResponseProcessor
	tools              flow.ToolsFunc
	onEvent            flow.EventHook
}

// New creates a new flow instance with the provided processors.
// Processors are immutable after creation.
func New(
	requestProcessors []flow.RequestProcessor,
	responseProcessors []flow.ResponseProcessor,
	opts Options,
) *Flow {
	return &Flow{
		requestProcessors:  requestProcessors,
		responseProcessors: responseProcessors,
		tools:              opts.Tools,
		onEvent:            opts.OnEvent,
	}
}

// Run executes steps until the agent produced its final response, the last
// event was partial or the invocation was ended.
func (f *Flow) Run(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event) error {
	for {
		last, err := f.runOneStep(ctx, inv, out)
		if err != nil {
			return err
		}
		if last == nil || inv.Ended() || last.IsFinalResponse() {
			return nil
		}
		if last.Partial {
			log.Warnf("agent %s: step ended on a partial event %s", inv.AgentName, last.ID)
			return nil
		}
	}
}

// runOneStep prepares one request, calls the model and handles what it
// asked for. It returns the last event it forwarded.
func (f *Flow) runOneStep(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event) (*event.Event, error) {
	req := model.NewRequest()
	last, err := f.preprocess(ctx, inv, req, out)
	if err != nil {
		return nil, err
	}
	if inv.Ended() {
		return last, nil
	}

	events := inv.GetEvents(true, true)
	if n := len(events); inv.IsResumable() && n > 0 {
		if waitingForClient(inv, events) {
			return nil, nil
		}
		if lastEvent := events[n-1]; len(lastEvent.FunctionCalls()) > 0 {
			return f.dispatch(ctx, inv, req, lastEvent, out)
		}
	}

	// State written by model callbacks rides on the first complete event.
	cc := agent.NewCallbackContext(ctx, inv, nil)
	attached := false
	for rsp, err := range f.callLLM(ctx, inv, req, cc) {
		if err != nil {
			return last, err
		}
		var actions *event.Actions
		if !attached && !rsp.Partial && !isEmptyResponse(rsp) {
			actions, attached = cc.Actions(), true
		}
		e, err := f.postprocess(ctx, inv, req, rsp, actions, out)
		if e != nil {
			last = e
		}
		if err != nil {
			return last, err
		}
	}
	return last, nil
}

// waitingForClient reports whether a long-running call among the latest
// events is still unanswered. The call may sit one event back, behind a
// credential or confirmation round trip.
func waitingForClient(inv *agent.Invocation, events []*event.Event) bool {
	n := len(events)
	candidates := []int{n - 1}
	if n > 1 && isClientRoundTrip(events[n-1]) {
		candidates = append(candidates, n-2)
	}
	for _, i := range candidates {
		if inv.ShouldPauseInvocation(events[i]) && !answered(events[i], events[i+1:]) {
			return true
		}
	}
	return false
}

func isClientRoundTrip(e *event.Event) bool {
	return e.IsAuthEvent() || e.IsConfirmationEvent() ||
		e.HasResponseFor(event.RequestCredentialFunctionName) ||
		e.HasResponseFor(event.RequestConfirmationFunctionName)
}

// answered reports whether every long-running call of e has a response in
// later.
func answered(e *event.Event, later []*event.Event) bool {
	got := map[string]bool{}
	for _, l := range later {
		for _, r := range l.FunctionResponses() {
			got[r.ID] = true
		}
	}
	for _, fc := range e.FunctionCalls() {
		if _, ok := e.LongRunningToolIDs[fc.ID]; ok && !got[fc.ID] {
			return false
		}
	}
	return true
}

// preprocess runs the request processors and adds the agent's tools.
func (f *Flow) preprocess(ctx context.Context, inv *agent.Invocation, req *model.Request,
	out chan<- *event.Event) (*event.Event, error) {
	last, err := f.relay(ctx, inv, out, func(ch chan<- *event.Event) error {
		for _, p := range f.requestProcessors {
			if err := p.ProcessRequest(ctx, inv, req, ch); err != nil {
				return err
			}
			if inv.Ended() {
				return nil
			}
		}
		return nil
	})
	if err != nil || inv.Ended() {
		return last, err
	}
	return last, f.addTools(ctx, inv, req)
}

func (f *Flow) addTools(ctx context.Context, inv *agent.Invocation, req *model.Request) error {
	if f.tools == nil {
		return nil
	}
	tools, err := f.tools(ctx, inv)
	if err != nil {
		return fmt.Errorf("resolve tools of %s: %w", inv.AgentName, err)
	}
	for _, t := range tools {
		if p, ok := t.(model.ToolRequestProcessor); ok {
			if err := p.ProcessRequest(ctx, req); err != nil {
				return fmt.Errorf("tool %s: %w", tool.Name(t), err)
			}
			continue
		}
		req.AppendTools(t)
	}
	return nil
}

// relay runs fn with a channel of its own and forwards what fn emits to out
// through the event hook. It returns the last forwarded event.
func (f *Flow) relay(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event,
	fn func(ch chan<- *event.Event) error) (*event.Event, error) {
	ch := make(chan *event.Event)
	done := make(chan error, 1)
	go func() {
		defer close(ch)
		done <- fn(ch)
	}()
	var (
		last       *event.Event
		forwardErr error
	)
	for e := range ch {
		if forwardErr != nil {
			continue
		}
		if err := f.forward(ctx, inv, out, e); err != nil {
			forwardErr = err
			continue
		}
		last = e
	}
	if err := <-done; err != nil {
		return last, err
	}
	return last, forwardErr
}

// emit sends an event produced by this flow, waiting for its completion
// notice when the runner asks for one.
func (f *Flow) emit(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event, e *event.Event) error {
	if err := f.observe(ctx, inv, e); err != nil {
		return err
	}
	return agent.EmitEvent(ctx, inv, out, e)
}

// forward passes on an event whose producer already waits for completion.
func (f *Flow) forward(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event, e *event.Event) error {
	if err := f.observe(ctx, inv, e); err != nil {
		return err
	}
	return agent.Send(ctx, out, e)
}

func (f *Flow) observe(ctx context.Context, inv *agent.Invocation, e *event.Event) error {
	if f.onEvent == nil || e == nil {
		return nil
	}
	return f.onEvent(ctx, inv, e)
}

// callLLM runs the model callbacks around one model call. Plugins go before
// the agent's own callbacks, and a response from a before-model callback
// replaces the call.
func (f *Flow) callLLM(ctx context.Context, inv *agent.Invocation, req *model.Request,
	cc *agent.CallbackContext) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		cbCtx := agent.WithCallbackContext(ctx, cc)
		if rsp, err := f.beforeModel(cbCtx, inv, cc, req); err != nil || rsp != nil {
			yield(rsp, err)
			return
		}
		if inv.Model == nil {
			yield(nil, fmt.Errorf("agent %s has no model", inv.AgentName))
			return
		}
		if req.Config.Labels == nil {
			req.Config.Labels = map[string]string{}
		}
		req.Config.Labels[AgentNameLabel] = inv.AgentName
		if err := inv.IncrementLLMCallCount(); err != nil {
			yield(nil, err)
			return
		}

		ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameCallLLM)
		defer span.End()
		metric.RecordLLMCall(ctx, inv.AgentName, req.Model)
		log.Debugf("agent %s: calling model %s", inv.AgentName, req.Model)

		var cacheMetadata *model.CacheMetadata
		for rsp, err := range f.generate(ctx, inv, req, &cacheMetadata) {
			if err != nil {
				log.Errorf("agent %s: model call failed: %v", inv.AgentName, err)
				recovered, cbErr := f.onModelError(cbCtx, inv, cc, req, err)
				if cbErr != nil {
					yield(nil, cbErr)
					return
				}
				if recovered == nil {
					yield(nil, err)
					return
				}
				yield(recovered, nil)
				return
			}
			if rsp == nil {
				continue
			}
			if cacheMetadata != nil && rsp.CacheMetadata == nil {
				rsp.CacheMetadata = cacheMetadata
			}
			altered, err := f.afterModel(cbCtx, inv, cc, rsp)
			if err != nil {
				yield(nil, err)
				return
			}
			if altered != nil {
				rsp = altered
			}
			sessionID := ""
			if inv.Session != nil {
				sessionID = inv.Session.ID
			}
			itelemetry.TraceCallLLM(span, inv.InvocationID, sessionID, req, rsp, "")
			if !yield(rsp, nil) {
				return
			}
		}
	}
}

// generate picks the transport: a live turn when the run asks for
// compositional function calling, else unary or server-sent streaming.
func (f *Flow) generate(ctx context.Context, inv *agent.Invocation, req *model.Request,
	cacheMetadata **model.CacheMetadata) iter.Seq2[*model.Response, error] {
	rc := inv.RunConfig
	if rc == nil {
		rc = agent.NewRunConfig()
	}
	if rc.SupportCFC {
		if live, ok := inv.Model.(model.LiveModel); ok {
			return liveTurn(ctx, live, req, rc.StreamingMode == agent.StreamingModeSSE)
		}
		log.Warnf("agent %s: model %s has no live support, ignoring compositional function calling",
			inv.AgentName, req.Model)
	}
	if req.CacheConfig != nil {
		if provider, ok := inv.Model.(model.CacheProvider); ok {
			*cacheMetadata = contextcache.New(provider, req.CacheConfig).Handle(ctx, req)
		}
	}
	stream := rc.StreamingMode == agent.StreamingModeSSE
	seq := inv.Model.GenerateContent(ctx, req, stream)
	if stream {
		seq = model.Aggregate(seq, rc.ProgressiveSSEStreaming)
	}
	return seq
}

// liveTurn plays one request over a live connection and ends at the first
// complete turn. Partial responses only surface in SSE mode.
func liveTurn(ctx context.Context, m model.LiveModel, req *model.Request, sse bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		conn, err := m.Connect(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}
		defer conn.Close()
		if err := conn.SendHistory(ctx, req.Contents); err != nil {
			yield(nil, err)
			return
		}
		for rsp, err := range conn.Receive(ctx) {
			if errors.Is(err, model.ErrConnectionClosed) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if sse || !rsp.Partial {
				if !yield(rsp, nil) {
					return
				}
			}
			if rsp.TurnComplete {
				return
			}
		}
	}
}

func (f *Flow) beforeModel(ctx context.Context, inv *agent.Invocation, cc *agent.CallbackContext,
	req *model.Request) (*model.Response, error) {
	if inv.Plugins != nil {
		rsp, err := inv.Plugins.RunBeforeModel(ctx, cc, req)
		if rsp != nil || err != nil {
			return rsp, err
		}
	}
	return inv.ModelCallbacks.RunBeforeModel(ctx, req)
}

func (f *Flow) afterModel(ctx context.Context, inv *agent.Invocation, cc *agent.CallbackContext,
	rsp *model.Response) (*model.Response, error) {
	if inv.Plugins != nil {
		altered, err := inv.Plugins.RunAfterModel(ctx, cc, rsp)
		if altered != nil || err != nil {
			return altered, err
		}
	}
	return inv.ModelCallbacks.RunAfterModel(ctx, rsp)
}

func (f *Flow) onModelError(ctx context.Context, inv *agent.Invocation, cc *agent.CallbackContext,
	req *model.Request, modelErr error) (*model.Response, error) {
	if inv.Plugins != nil {
		rsp, err := inv.Plugins.RunOnModelError(ctx, cc, req, modelErr)
		if rsp != nil || err != nil {
			return rsp, err
		}
	}
	return inv.ModelCallbacks.RunOnModelError(ctx, req, modelErr)
}

// postprocess turns one model response into events: response processors,
// the model event itself, then tool dispatch for complete responses. It
// returns the last forwarded event, nil when the response was empty.
func (f *Flow) postprocess(ctx context.Context, inv *agent.Invocation, req *model.Request,
	rsp *model.Response, actions *event.Actions, out chan<- *event.Event) (*event.Event, error) {
	last, err := f.runResponseProcessors(ctx, inv, req, rsp, out)
	if err != nil {
		return last, err
	}
	if isEmptyResponse(rsp) {
		return last, nil
	}

	e := f.finalize(inv, req, rsp)
	if actions != nil && !actions.IsZero() {
		e.Actions.Merge(actions)
	}
	if err := f.emit(ctx, inv, out, e); err != nil {
		return e, err
	}
	if rsp.Partial || len(e.FunctionCalls()) == 0 {
		return e, nil
	}
	if dispatched, err := f.dispatch(ctx, inv, req, e, out); dispatched != nil || err != nil {
		return dispatched, err
	}
	return e, nil
}

func (f *Flow) runResponseProcessors(ctx context.Context, inv *agent.Invocation, req *model.Request,
	rsp *model.Response, out chan<- *event.Event) (*event.Event, error) {
	if len(f.responseProcessors) == 0 {
		return nil, nil
	}
	return f.relay(ctx, inv, out, func(ch chan<- *event.Event) error {
		for _, p := range f.responseProcessors {
			if err := p.ProcessResponse(ctx, inv, req, rsp, ch); err != nil {
				return err
			}
		}
		return nil
	})
}

func isEmptyResponse(rsp *model.Response) bool {
	hasContent := rsp.Content != nil && len(rsp.Content.Parts) > 0
	return !hasContent && !rsp.IsError() && !rsp.Interrupted
}

// finalize builds the model event for rsp. Function calls get client ids
// when the model sent none, and calls to long-running tools are recorded.
func (f *Flow) finalize(inv *agent.Invocation, req *model.Request, rsp *model.Response) *event.Event {
	e := event.NewResponseEvent(inv.InvocationID, inv.AgentName, rsp, event.WithBranch(inv.Branch))
	if len(e.FunctionCalls()) == 0 {
		return e
	}
	rewriteAgentCalls(e.Content, req.Tools, inv.Agent)
	event.PopulateClientFunctionCallIDs(e.Content)
	e.LongRunningToolIDs = processor.LongRunningCallIDs(e.Content, req.Tools)
	return e
}

// dispatch runs the calls of callEvent and emits, in order, the auth and
// confirmation requests they raised, the merged function response and what
// follows from it: the final structured answer or the transfer target's
// run.
func (f *Flow) dispatch(ctx context.Context, inv *agent.Invocation, req *model.Request,
	callEvent *event.Event, out chan<- *event.Event) (*event.Event, error) {
	rspEvent, err := processor.HandleFunctionCalls(ctx, inv, callEvent, req.Tools, nil, nil)
	if err != nil {
		return nil, err
	}
	if rspEvent == nil {
		return nil, nil
	}
	if authEvent := processor.AuthRequestEvent(inv, rspEvent); authEvent != nil {
		if err := f.emit(ctx, inv, out, authEvent); err != nil {
			return authEvent, err
		}
	}
	if confirmEvent := processor.ConfirmationRequestEvent(inv, callEvent, rspEvent); confirmEvent != nil {
		if err := f.emit(ctx, inv, out, confirmEvent); err != nil {
			return confirmEvent, err
		}
	}
	if err := f.emit(ctx, inv, out, rspEvent); err != nil {
		return rspEvent, err
	}

	if text, ok := processor.StructuredModelResponse(rspEvent); ok {
		final := processor.FinalModelResponseEvent(inv, text)
		return final, f.emit(ctx, inv, out, final)
	}
	if target := rspEvent.Actions.TransferToAgent; target != "" {
		if last, err := f.transfer(ctx, inv, target, out); last != nil || err != nil {
			return last, err
		}
	}
	return rspEvent, nil
}

// transfer runs the named agent inline and forwards its events.
func (f *Flow) transfer(ctx context.Context, inv *agent.Invocation, name string,
	out chan<- *event.Event) (*event.Event, error) {
	target, err := transferTarget(inv, name)
	if err != nil {
		return nil, err
	}
	log.Debugf("agent %s: transferring to %s", inv.AgentName, name)
	events, err := target.Run(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("run transfer target %s: %w", name, err)
	}
	return f.drain(ctx, inv, events, out)
}

func transferTarget(inv *agent.Invocation, name string) (agent.Agent, error) {
	root := agent.Root(inv.Agent)
	target := agent.FindAgent(root, name)
	if target == nil {
		return nil, &agent.TransferTargetMissingError{Target: name, Known: agent.Names(root)}
	}
	return target, nil
}

// drain forwards every event of a sub-run and returns the last one.
func (f *Flow) drain(ctx context.Context, inv *agent.Invocation, events <-chan *event.Event,
	out chan<- *event.Event) (*event.Event, error) {
	var last *event.Event
	for e := range events {
		if err := f.forward(ctx, inv, out, e); err != nil {
			// Keep draining so the producer can finish.
			for range events {
			}
			return last, err
		}
		last = e
	}
	return last, nil
}

// newContent returns a model content holding parts.
func newContent(role string, parts ...*genai.Part) *genai.Content {
	return &genai.Content{Role: role, Parts: parts}
}
