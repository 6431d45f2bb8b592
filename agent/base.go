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
	"errors"
	"fmt"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/event"
	itelemetry "trpc.group/trpc-go/trpc-agent-runtime/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/telemetry/trace"
)

const defaultChannelBufferSize = 256

// RunFunc is the body of an agent run. It emits events on out with
// EmitEvent and returns when the agent is done.
type RunFunc func(ctx context.Context, inv *Invocation, out chan<- *event.Event) error

type treeNode interface {
	base() *Base
}

// Base implements the agent tree and the run lifecycle shared by all
// agents. Concrete agents embed it and pass their body to RunWith.
type Base struct {
	self      Agent
	info      Info
	subAgents []Agent
	parent    Agent
	callbacks *Callbacks
}

// NewBase attaches subAgents to self. It panics if a sub-agent already
// belongs to another parent or if two sub-agents share a name.
func NewBase(self Agent, info Info, subAgents []Agent, callbacks *Callbacks) *Base {
	b := &Base{self: self, info: info, subAgents: subAgents, callbacks: callbacks}
	seen := make(map[string]bool, len(subAgents))
	for _, sub := range subAgents {
		name := sub.Info().Name
		if seen[name] {
			panic(fmt.Sprintf("agent %q: duplicate sub-agent %q", info.Name, name))
		}
		seen[name] = true
		node, ok := sub.(treeNode)
		if !ok {
			continue
		}
		if p := node.base().parent; p != nil {
			panic(fmt.Sprintf("agent %q already has parent %q, cannot attach to %q",
				name, p.Info().Name, info.Name))
		}
		node.base().parent = self
	}
	return b
}

func (b *Base) base() *Base { return b }

// Info returns the basic information about this agent.
func (b *Base) Info() Info { return b.info }

// SubAgents returns the direct children.
func (b *Base) SubAgents() []Agent { return b.subAgents }

// Parent returns the parent agent, nil for a root.
func (b *Base) Parent() Agent { return b.parent }

// AgentCallbacks returns the before/after agent callbacks.
func (b *Base) AgentCallbacks() *Callbacks { return b.callbacks }

// FindSubAgent searches the descendants depth first.
func (b *Base) FindSubAgent(name string) Agent {
	for _, sub := range b.subAgents {
		if found := FindAgent(sub, name); found != nil {
			return found
		}
	}
	return nil
}

// RunWith runs impl for a clone of parent bound to this agent, wrapped by
// the agent span and the before/after agent callbacks. A failure of impl
// ends the run with an error event.
func (b *Base) RunWith(ctx context.Context, parent *Invocation, impl RunFunc) (<-chan *event.Event, error) {
	if parent == nil {
		return nil, errors.New("agent: nil invocation")
	}
	inv := parent.Clone(WithInvocationAgent(b.self))
	out := make(chan *event.Event, defaultChannelBufferSize)
	go func() {
		defer close(out)
		ctx, span := trace.Tracer.Start(ctx, itelemetry.NewInvokeAgentSpanName(b.info.Name))
		defer span.End()
		itelemetry.TraceAgent(span, b.info.Name, b.info.Description, inv.InvocationID, inv.Branch)
		ctx = NewInvocationContext(ctx, inv)

		err := b.run(ctx, inv, impl, out)
		if err == nil || ctx.Err() != nil {
			return
		}
		var abort *AbortError
		if errors.As(err, &abort) {
			return
		}
		log.Errorf("agent %s: %v", b.info.Name, err)
		errEvent := event.NewErrorEvent(inv.InvocationID, b.info.Name, ErrorCode(err), err,
			event.WithBranch(inv.Branch))
		EmitEvent(ctx, inv, out, errEvent)
	}()
	return out, nil
}

func (b *Base) run(ctx context.Context, inv *Invocation, impl RunFunc, out chan<- *event.Event) error {
	e, err := b.beforeAgent(ctx, inv)
	if err != nil {
		return err
	}
	if err := EmitEvent(ctx, inv, out, e); err != nil {
		return err
	}
	if inv.Ended() {
		return nil
	}
	if err := impl(ctx, inv, out); err != nil {
		return err
	}
	e, err = b.afterAgent(ctx, inv)
	if err != nil {
		return err
	}
	return EmitEvent(ctx, inv, out, e)
}

// beforeAgent runs plugins, then the agent's own callbacks. Returned
// content ends the invocation and becomes the agent's reply.
func (b *Base) beforeAgent(ctx context.Context, inv *Invocation) (*event.Event, error) {
	cc := NewCallbackContext(ctx, inv, nil)
	var (
		content *genai.Content
		err     error
	)
	if inv.Plugins != nil {
		content, err = inv.Plugins.RunBeforeAgent(ctx, b.self, cc)
	}
	if content == nil && err == nil {
		content, err = b.callbacks.RunBeforeAgent(WithCallbackContext(ctx, cc), cc)
	}
	if err != nil {
		return nil, fmt.Errorf("before agent callback of %s: %w", b.info.Name, err)
	}
	if content != nil {
		inv.End()
	}
	return b.callbackEvent(inv, cc, content), nil
}

func (b *Base) afterAgent(ctx context.Context, inv *Invocation) (*event.Event, error) {
	cc := NewCallbackContext(ctx, inv, nil)
	var (
		content *genai.Content
		err     error
	)
	if inv.Plugins != nil {
		content, err = inv.Plugins.RunAfterAgent(ctx, b.self, cc)
	}
	if content == nil && err == nil {
		content, err = b.callbacks.RunAfterAgent(WithCallbackContext(ctx, cc), cc)
	}
	if err != nil {
		return nil, fmt.Errorf("after agent callback of %s: %w", b.info.Name, err)
	}
	return b.callbackEvent(inv, cc, content), nil
}

func (b *Base) callbackEvent(inv *Invocation, cc *CallbackContext, content *genai.Content) *event.Event {
	if content == nil && cc.Actions().IsZero() {
		return nil
	}
	e := event.New(inv.InvocationID, b.info.Name, event.WithBranch(inv.Branch), event.WithActions(cc.Actions()))
	if content != nil {
		if content.Role == "" {
			content.Role = genai.RoleModel
		}
		e.Content = content
	}
	return e
}

// EmitState records state for this agent on the invocation and emits the
// matching state event. A nil state with endOfAgent false clears it.
func (b *Base) EmitState(ctx context.Context, inv *Invocation, out chan<- *event.Event,
	state any, endOfAgent bool) error {
	raw, err := EncodeState(state)
	if err != nil {
		return err
	}
	inv.SetAgentState(b.info.Name, raw, endOfAgent)
	e := event.New(inv.InvocationID, b.info.Name,
		event.WithBranch(inv.Branch),
		event.WithObject(model.ObjectTypeStateUpdate),
		event.WithAgentState(raw))
	e.Actions.EndOfAgent = endOfAgent
	return EmitEvent(ctx, inv, out, e)
}

// Send forwards an event produced by another agent without waiting for
// completion; the producer already waits.
func Send(ctx context.Context, out chan<- *event.Event, e *event.Event) error {
	select {
	case out <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
