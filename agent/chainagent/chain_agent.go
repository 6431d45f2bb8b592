//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package chainagent provides a sequential agent implementation.
package chainagent

import (
	"context"
	"fmt"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
)

// ChainAgent is an agent that runs its sub-agents in sequence. All
// sub-agents share the chain's branch, so each one sees the events of those
// that ran before it.
type ChainAgent struct {
	*agent.Base
}

// Option configures ChainAgent settings using the functional options pattern.
type Option func(*Options)

// Options contains all configuration options for ChainAgent.
type Options struct {
	subAgents      []agent.Agent
	description    string
	agentCallbacks *agent.Callbacks
}

// WithSubAgents sets the sub-agents that will be executed in sequence.
func WithSubAgents(subAgents []agent.Agent) Option {
	return func(o *Options) { o.subAgents = subAgents }
}

// WithDescription overrides the generated description.
func WithDescription(description string) Option {
	return func(o *Options) { o.description = description }
}

// WithAgentCallbacks attaches lifecycle callbacks to the chain agent.
func WithAgentCallbacks(cb *agent.Callbacks) Option {
	return func(o *Options) { o.agentCallbacks = cb }
}

// New creates a new ChainAgent with the given name and options.
func New(name string, opts ...Option) *ChainAgent {
	var cfg Options
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.description == "" {
		cfg.description = fmt.Sprintf("Chain agent that runs %d sub-agents in sequence", len(cfg.subAgents))
	}
	a := &ChainAgent{}
	a.Base = agent.NewBase(a, agent.Info{Name: name, Description: cfg.description},
		cfg.subAgents, cfg.agentCallbacks)
	return a
}

// Run implements the agent.Agent interface. A resumed chain restarts at the
// sub-agent recorded in its state; a pause of any sub-agent stops the chain
// without marking it finished.
func (a *ChainAgent) Run(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
	return a.RunWith(ctx, inv, a.run)
}

func (a *ChainAgent) run(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event) error {
	var state agent.SequentialState
	resuming, err := inv.LoadAgentState(a.Info().Name, &state)
	if err != nil {
		return fmt.Errorf("chain agent %s: load state: %w", a.Info().Name, err)
	}
	subs := a.SubAgents()
	for i := a.startIndex(state.CurrentSubAgent); i < len(subs); i++ {
		sub := subs[i]
		if !resuming && inv.IsResumable() {
			next := agent.SequentialState{CurrentSubAgent: sub.Info().Name}
			if err := a.EmitState(ctx, inv, out, next, false); err != nil {
				return err
			}
		}
		resuming = false

		events, err := sub.Run(ctx, inv)
		if err != nil {
			return fmt.Errorf("run sub-agent %s: %w", sub.Info().Name, err)
		}
		paused, err := forward(ctx, inv, events, out)
		if err != nil || paused {
			return err
		}
	}
	if !inv.IsResumable() {
		return nil
	}
	return a.EmitState(ctx, inv, out, nil, true)
}

// RunLive implements the agent.Agent interface. Every sub-agent gets the
// task_completed tool and holds the connection until it calls it; the chain
// then moves on to the next sub-agent.
func (a *ChainAgent) RunLive(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
	return a.RunWith(ctx, inv, func(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event) error {
		subInv := inv.Clone()
		subInv.LiveTaskCompletion = true
		for _, sub := range a.SubAgents() {
			events, err := sub.RunLive(ctx, subInv)
			if err != nil {
				return fmt.Errorf("run sub-agent %s live: %w", sub.Info().Name, err)
			}
			if _, err := forward(ctx, inv, events, out); err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *ChainAgent) startIndex(current string) int {
	if current == "" {
		return 0
	}
	for i, sub := range a.SubAgents() {
		if sub.Info().Name == current {
			return i
		}
	}
	log.Warnf("chain agent %s: sub-agent %s from saved state no longer exists, restarting",
		a.Info().Name, current)
	return 0
}

// forward relays events of one sub-agent. It reports whether one of them
// paused the invocation; the rest of the stream is still relayed. An error
// event of the sub-agent ends the chain.
func forward(ctx context.Context, inv *agent.Invocation, events <-chan *event.Event,
	out chan<- *event.Event) (bool, error) {
	var (
		paused bool
		abort  error
	)
	for e := range events {
		if err := agent.Send(ctx, out, e); err != nil {
			for range events {
			}
			return paused, err
		}
		paused = paused || inv.ShouldPauseInvocation(e)
		if abort == nil {
			abort = agent.AbortOn(e)
		}
	}
	return paused, abort
}
