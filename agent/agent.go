//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package agent provides the core agent functionality: the agent tree, the
// per-turn invocation shared by every agent of the tree, and the contexts
// handed to callbacks and tools.
package agent

import (
	"context"

	"trpc.group/trpc-go/trpc-agent-runtime/event"
)

// Info contains basic information about an agent.
type Info struct {
	Name        string
	Description string
}

// Agent is the interface that all agents must implement.
type Agent interface {
	// Run executes the provided invocation within the given context and returns
	// a channel of events that represent the progress and results of the execution.
	// The channel is closed when the agent is done.
	Run(ctx context.Context, invocation *Invocation) (<-chan *event.Event, error)

	// RunLive runs the agent against a bidirectional model connection fed by
	// invocation.LiveRequestQueue.
	RunLive(ctx context.Context, invocation *Invocation) (<-chan *event.Event, error)

	// Info returns the basic information about this agent.
	Info() Info

	// SubAgents returns the list of sub-agents available to this agent.
	// Returns empty slice if no sub-agents are available.
	SubAgents() []Agent

	// FindSubAgent finds a descendant by name.
	// Returns nil if no sub-agent with the given name is found.
	FindSubAgent(name string) Agent

	// Parent returns the agent this agent was attached to, or nil for a root.
	Parent() Agent
}

// TransferRules is implemented by agents that control agent transfer.
type TransferRules interface {
	DisallowTransferToParent() bool
	DisallowTransferToPeers() bool
}

// FindAgent returns a if it is named name, else the matching descendant.
func FindAgent(a Agent, name string) Agent {
	if a == nil {
		return nil
	}
	if a.Info().Name == name {
		return a
	}
	return a.FindSubAgent(name)
}

// Root returns the root of the tree a belongs to.
func Root(a Agent) Agent {
	for a != nil && a.Parent() != nil {
		a = a.Parent()
	}
	return a
}

// Names lists the names of a and all its descendants, depth first.
func Names(a Agent) []string {
	if a == nil {
		return nil
	}
	names := []string{a.Info().Name}
	for _, sub := range a.SubAgents() {
		names = append(names, Names(sub)...)
	}
	return names
}

// CanTransfer reports whether control can flow back from a to the root by
// transfer: a and each of its ancestors must declare TransferRules and allow
// transfer to their parent.
func CanTransfer(a Agent) bool {
	for ; a != nil; a = a.Parent() {
		rules, ok := a.(TransferRules)
		if !ok || rules.DisallowTransferToParent() {
			return false
		}
	}
	return true
}

// InstructionProvider builds an instruction at request time. Instructions
// from a provider are used as returned, without placeholder substitution.
type InstructionProvider func(ctx context.Context, inv *Invocation) (string, error)
