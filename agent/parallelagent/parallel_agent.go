//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package parallelagent provides a parallel agent implementation.
package parallelagent

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
)

// ErrLiveUnsupported is returned by RunLive: sub-agents cannot share one
// live request queue.
var ErrLiveUnsupported = errors.New("parallelagent: live mode is not supported")

// ParallelAgent is an agent that runs its sub-agents in parallel in isolated manner.
// This approach is beneficial for scenarios requiring multiple perspectives or
// attempts on a single task, such as:
// - Running different algorithms simultaneously.
// - Generating multiple responses for review by a subsequent evaluation agent.
type ParallelAgent struct {
	*agent.Base
}

// Option configures ParallelAgent settings using the functional options pattern.
type Option func(*Options)

// Options contains configuration options for creating a ParallelAgent.
type Options struct {
	subAgents      []agent.Agent
	description    string
	agentCallbacks *agent.Callbacks
}

// WithSubAgents sets the sub-agents to run in parallel.
func WithSubAgents(sub []agent.Agent) Option {
	return func(o *Options) { o.subAgents = sub }
}

// WithDescription overrides the generated description.
func WithDescription(description string) Option {
	return func(o *Options) { o.description = description }
}

// WithAgentCallbacks attaches lifecycle callbacks to the parallel agent.
func WithAgentCallbacks(cb *agent.Callbacks) Option {
	return func(o *Options) { o.agentCallbacks = cb }
}

// New creates a new ParallelAgent.
func New(name string, opts ...Option) *ParallelAgent {
	var cfg Options
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.description == "" {
		cfg.description = fmt.Sprintf("Parallel agent that runs %d sub-agents concurrently", len(cfg.subAgents))
	}
	a := &ParallelAgent{}
	a.Base = agent.NewBase(a, agent.Info{Name: name, Description: cfg.description},
		cfg.subAgents, cfg.agentCallbacks)
	return a
}

// Run implements the agent.Agent interface.
func (a *ParallelAgent) Run(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
	return a.RunWith(ctx, inv, a.run)
}

// RunLive implements the agent.Agent interface.
func (a *ParallelAgent) RunLive(context.Context, *agent.Invocation) (<-chan *event.Event, error) {
	return nil, ErrLiveUnsupported
}

// branch isolates the events of sub from its siblings.
func (a *ParallelAgent) branch(inv *agent.Invocation, sub agent.Agent) string {
	prefix := a.Info().Name
	switch p := a.Parent(); {
	case inv.Branch != "":
		prefix = inv.Branch + "." + prefix
	case p != nil:
		prefix = p.Info().Name + "." + prefix
	}
	return prefix + "." + sub.Info().Name
}

// item is one event handed to the merger; the producer waits on ack until
// the event has been forwarded.
type item struct {
	e   *event.Event
	ack chan struct{}
}

func (a *ParallelAgent) run(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event) error {
	if inv.IsResumable() && len(inv.AgentState(a.Info().Name)) == 0 {
		if err := a.EmitState(ctx, inv, out, agent.BaseState{}, false); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	merged := make(chan item)
	var pending []agent.Agent
	for _, sub := range a.SubAgents() {
		if inv.IsEndOfAgent(sub.Info().Name) {
			continue
		}
		pending = append(pending, sub)
	}
	for _, sub := range pending {
		subInv := inv.Clone(agent.WithInvocationBranch(a.branch(inv, sub)))
		g.Go(func() error {
			events, err := sub.Run(gctx, subInv)
			if err != nil {
				return fmt.Errorf("run sub-agent %s: %w", sub.Info().Name, err)
			}
			defer func() {
				for range events {
				}
			}()
			for e := range events {
				it := item{e: e, ack: make(chan struct{})}
				select {
				case merged <- it:
				case <-gctx.Done():
					return gctx.Err()
				}
				select {
				case <-it.ack:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(merged)
	}()

	var (
		paused  bool
		abort   error
		sendErr error
	)
	for it := range merged {
		if sendErr == nil {
			sendErr = agent.Send(ctx, out, it.e)
			paused = paused || inv.ShouldPauseInvocation(it.e)
			if abort == nil {
				abort = agent.AbortOn(it.e)
			}
		}
		close(it.ack)
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if sendErr != nil {
		return sendErr
	}
	if abort != nil || paused || !inv.IsResumable() {
		return abort
	}
	for _, sub := range a.SubAgents() {
		if !inv.IsEndOfAgent(sub.Info().Name) {
			return nil
		}
	}
	return a.EmitState(ctx, inv, out, nil, true)
}
