//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package cycleagent provides a looping agent implementation.
package cycleagent

import (
	"context"
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
)

// ErrLiveUnsupported is returned by RunLive: a loop has no natural end on a
// live connection.
var ErrLiveUnsupported = errors.New("cycleagent: live mode is not supported")

// EscalationFunc reports whether an event ends the loop.
type EscalationFunc func(*event.Event) bool

// CycleAgent runs its sub-agents in order, again and again, until one of
// them escalates or the iteration limit is reached.
type CycleAgent struct {
	*agent.Base
	maxIterations  int
	escalationFunc EscalationFunc
}

// Option configures CycleAgent settings using the functional options pattern.
type Option func(*Options)

// Options contains all configuration options for CycleAgent.
type Options struct {
	subAgents      []agent.Agent
	description    string
	maxIterations  int
	agentCallbacks *agent.Callbacks
	escalationFunc EscalationFunc
}

// WithSubAgents sets the sub-agents run on every iteration.
func WithSubAgents(sub []agent.Agent) Option {
	return func(o *Options) { o.subAgents = sub }
}

// WithDescription overrides the generated description.
func WithDescription(description string) Option {
	return func(o *Options) { o.description = description }
}

// WithMaxIterations bounds the number of passes. Zero means unbounded.
func WithMaxIterations(max int) Option {
	return func(o *Options) { o.maxIterations = max }
}

// WithAgentCallbacks attaches lifecycle callbacks to the cycle agent.
func WithAgentCallbacks(cb *agent.Callbacks) Option {
	return func(o *Options) { o.agentCallbacks = cb }
}

// WithEscalationFunc replaces the default escalation check, which looks at
// the escalate action of each event.
func WithEscalationFunc(f EscalationFunc) Option {
	return func(o *Options) { o.escalationFunc = f }
}

// New creates a new CycleAgent.
func New(name string, opts ...Option) *CycleAgent {
	cfg := Options{escalationFunc: escalated}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.escalationFunc == nil {
		cfg.escalationFunc = escalated
	}
	if cfg.description == "" {
		cfg.description = fmt.Sprintf("Cycle agent that loops over %d sub-agents", len(cfg.subAgents))
	}
	a := &CycleAgent{maxIterations: cfg.maxIterations, escalationFunc: cfg.escalationFunc}
	a.Base = agent.NewBase(a, agent.Info{Name: name, Description: cfg.description},
		cfg.subAgents, cfg.agentCallbacks)
	return a
}

func escalated(e *event.Event) bool {
	return e != nil && e.Actions != nil && e.Actions.Escalate
}

// Run implements the agent.Agent interface.
func (a *CycleAgent) Run(ctx context.Context, inv *agent.Invocation) (<-chan *event.Event, error) {
	return a.RunWith(ctx, inv, a.run)
}

// RunLive implements the agent.Agent interface.
func (a *CycleAgent) RunLive(context.Context, *agent.Invocation) (<-chan *event.Event, error) {
	return nil, ErrLiveUnsupported
}

func (a *CycleAgent) run(ctx context.Context, inv *agent.Invocation, out chan<- *event.Event) error {
	name := a.Info().Name
	var state agent.LoopState
	resuming, err := inv.LoadAgentState(name, &state)
	if err != nil {
		return fmt.Errorf("cycle agent %s: load state: %w", name, err)
	}
	timesLooped, start := state.TimesLooped, a.startIndex(state.CurrentSubAgent)
	subs := a.SubAgents()

	var exit, paused bool
	for len(subs) > 0 && (a.maxIterations <= 0 || timesLooped < a.maxIterations) {
		for i := start; i < len(subs); i++ {
			sub := subs[i]
			if !resuming && inv.IsResumable() {
				next := agent.LoopState{CurrentSubAgent: sub.Info().Name, TimesLooped: timesLooped}
				if err := a.EmitState(ctx, inv, out, next, false); err != nil {
					return err
				}
			}
			resuming = false

			events, err := sub.Run(ctx, inv)
			if err != nil {
				return fmt.Errorf("run sub-agent %s: %w", sub.Info().Name, err)
			}
			var abort error
			for e := range events {
				if err := agent.Send(ctx, out, e); err != nil {
					for range events {
					}
					return err
				}
				exit = exit || a.escalationFunc(e)
				paused = paused || inv.ShouldPauseInvocation(e)
				if abort == nil {
					abort = agent.AbortOn(e)
				}
			}
			if abort != nil {
				return abort
			}
			if exit || paused {
				break
			}
		}
		if exit || paused {
			break
		}
		start = 0
		timesLooped++
		inv.ResetSubAgentStates(name)
	}
	log.Debugf("cycle agent %s: stopped after %d iterations", name, timesLooped)
	if paused || !inv.IsResumable() {
		return nil
	}
	return a.EmitState(ctx, inv, out, nil, true)
}

func (a *CycleAgent) startIndex(current string) int {
	if current == "" {
		return 0
	}
	for i, sub := range a.SubAgents() {
		if sub.Info().Name == current {
			return i
		}
	}
	log.Warnf("cycle agent %s: sub-agent %s from saved state no longer exists, restarting",
		a.Info().Name, current)
	return 0
}
