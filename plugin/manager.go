//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
)

// DefaultCloseTimeout bounds the Close call of each plugin.
const DefaultCloseTimeout = 5 * time.Second

// Hook names a lifecycle point.
type Hook string

// Lifecycle points.
const (
	HookOnUserMessage Hook = "on_user_message"
	HookBeforeRun     Hook = "before_run"
	HookAfterRun      Hook = "after_run"
	HookOnEvent       Hook = "on_event"
	HookBeforeAgent   Hook = "before_agent"
	HookAfterAgent    Hook = "after_agent"
	HookBeforeModel   Hook = "before_model"
	HookAfterModel    Hook = "after_model"
	HookOnModelError  Hook = "on_model_error"
	HookBeforeTool    Hook = "before_tool"
	HookAfterTool     Hook = "after_tool"
	HookOnToolError   Hook = "on_tool_error"
	HookClose         Hook = "close"
)

// Error wraps a failure raised by a plugin hook.
type Error struct {
	Plugin string
	Hook   Hook
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("plugin %s failed in %s: %v", e.Plugin, e.Hook, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorCode reports the error code put on error events.
func (e *Error) ErrorCode() string { return model.ErrorCodePlugin }

var _ agent.PluginManager = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithCloseTimeout overrides DefaultCloseTimeout.
func WithCloseTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.closeTimeout = d
	}
}

// Manager dispatches lifecycle hooks to plugins in registration order.
type Manager struct {
	plugins      []Plugin
	closeTimeout time.Duration
}

// New creates a manager. It fails if two plugins share a name.
func New(plugins []Plugin, opts ...Option) (*Manager, error) {
	m := &Manager{closeTimeout: DefaultCloseTimeout}
	for _, opt := range opts {
		opt(m)
	}
	for _, p := range plugins {
		if err := m.Register(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Register appends p. It fails if a plugin with the same name exists.
func (m *Manager) Register(p Plugin) error {
	if p == nil {
		return errors.New("plugin: nil plugin")
	}
	if m.Plugin(p.Name()) != nil {
		return fmt.Errorf("plugin: %q already registered", p.Name())
	}
	m.plugins = append(m.plugins, p)
	return nil
}

// Plugin returns the plugin called name, nil if none.
func (m *Manager) Plugin(name string) Plugin {
	for _, p := range m.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// Plugins returns the registered plugins in order.
func (m *Manager) Plugins() []Plugin {
	return append([]Plugin(nil), m.plugins...)
}

// first calls fn on every plugin implementing H until one returns a value
// for which set reports true or an error.
func first[H any, R any](m *Manager, hook Hook, fn func(H) (R, error), set func(R) bool) (R, error) {
	var zero R
	if m == nil {
		return zero, nil
	}
	for _, p := range m.plugins {
		h, ok := p.(H)
		if !ok {
			continue
		}
		r, err := fn(h)
		if err != nil {
			return zero, &Error{Plugin: p.Name(), Hook: hook, Err: err}
		}
		if set(r) {
			return r, nil
		}
	}
	return zero, nil
}

func hasContent(c *genai.Content) bool { return c != nil }
func hasEvent(e *event.Event) bool { return e != nil }
func hasResponse(r *model.Response) bool { return r != nil }
func hasResult(r map[string]any) bool { return r != nil }

// RunOnUserMessage implements agent.PluginManager.
func (m *Manager) RunOnUserMessage(ctx context.Context, inv *agent.Invocation,
	msg *genai.Content) (*genai.Content, error) {
	return first(m, HookOnUserMessage, func(p UserMessagePlugin) (*genai.Content, error) {
		return p.OnUserMessage(ctx, inv, msg)
	}, hasContent)
}

// RunBeforeRun implements agent.PluginManager.
func (m *Manager) RunBeforeRun(ctx context.Context, inv *agent.Invocation) (*genai.Content, error) {
	return first(m, HookBeforeRun, func(p BeforeRunPlugin) (*genai.Content, error) {
		return p.BeforeRun(ctx, inv)
	}, hasContent)
}

// RunAfterRun calls every AfterRun hook; it has no early exit since it
// returns no value. The first error stops the chain.
func (m *Manager) RunAfterRun(ctx context.Context, inv *agent.Invocation) error {
	_, err := first(m, HookAfterRun, func(p AfterRunPlugin) (struct{}, error) {
		return struct{}{}, p.AfterRun(ctx, inv)
	}, func(struct{}) bool { return false })
	return err
}

// RunOnEvent implements agent.PluginManager.
func (m *Manager) RunOnEvent(ctx context.Context, inv *agent.Invocation, e *event.Event) (*event.Event, error) {
	return first(m, HookOnEvent, func(p EventPlugin) (*event.Event, error) {
		return p.OnEvent(ctx, inv, e)
	}, hasEvent)
}

// RunBeforeAgent implements agent.PluginManager.
func (m *Manager) RunBeforeAgent(ctx context.Context, a agent.Agent,
	cc *agent.CallbackContext) (*genai.Content, error) {
	return first(m, HookBeforeAgent, func(p BeforeAgentPlugin) (*genai.Content, error) {
		return p.BeforeAgent(ctx, a, cc)
	}, hasContent)
}

// RunAfterAgent implements agent.PluginManager.
func (m *Manager) RunAfterAgent(ctx context.Context, a agent.Agent,
	cc *agent.CallbackContext) (*genai.Content, error) {
	return first(m, HookAfterAgent, func(p AfterAgentPlugin) (*genai.Content, error) {
		return p.AfterAgent(ctx, a, cc)
	}, hasContent)
}

// RunBeforeModel implements agent.PluginManager.
func (m *Manager) RunBeforeModel(ctx context.Context, cc *agent.CallbackContext,
	req *model.Request) (*model.Response, error) {
	return first(m, HookBeforeModel, func(p BeforeModelPlugin) (*model.Response, error) {
		return p.BeforeModel(ctx, cc, req)
	}, hasResponse)
}

// RunAfterModel implements agent.PluginManager.
func (m *Manager) RunAfterModel(ctx context.Context, cc *agent.CallbackContext,
	rsp *model.Response) (*model.Response, error) {
	return first(m, HookAfterModel, func(p AfterModelPlugin) (*model.Response, error) {
		return p.AfterModel(ctx, cc, rsp)
	}, hasResponse)
}

// RunOnModelError implements agent.PluginManager.
func (m *Manager) RunOnModelError(ctx context.Context, cc *agent.CallbackContext, req *model.Request,
	modelErr error) (*model.Response, error) {
	return first(m, HookOnModelError, func(p ModelErrorPlugin) (*model.Response, error) {
		return p.OnModelError(ctx, cc, req, modelErr)
	}, hasResponse)
}

// RunBeforeTool implements agent.PluginManager.
func (m *Manager) RunBeforeTool(ctx context.Context, t tool.Tool, args map[string]any,
	tc *agent.ToolContext) (map[string]any, error) {
	return first(m, HookBeforeTool, func(p BeforeToolPlugin) (map[string]any, error) {
		return p.BeforeTool(ctx, t, args, tc)
	}, hasResult)
}

// RunAfterTool implements agent.PluginManager.
func (m *Manager) RunAfterTool(ctx context.Context, t tool.Tool, args map[string]any, tc *agent.ToolContext,
	result map[string]any) (map[string]any, error) {
	return first(m, HookAfterTool, func(p AfterToolPlugin) (map[string]any, error) {
		return p.AfterTool(ctx, t, args, tc, result)
	}, hasResult)
}

// RunOnToolError implements agent.PluginManager.
func (m *Manager) RunOnToolError(ctx context.Context, t tool.Tool, args map[string]any, tc *agent.ToolContext,
	toolErr error) (map[string]any, error) {
	return first(m, HookOnToolError, func(p ToolErrorPlugin) (map[string]any, error) {
		return p.OnToolError(ctx, t, args, tc, toolErr)
	}, hasResult)
}

// Close closes every plugin implementing Closer, each under the close
// timeout. All plugins are attempted; failures are joined.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, p := range m.plugins {
		c, ok := p.(Closer)
		if !ok {
			continue
		}
		if err := m.closeOne(ctx, c); err != nil {
			log.Warnf("plugin %s: close: %v", p.Name(), err)
			errs = append(errs, &Error{Plugin: p.Name(), Hook: HookClose, Err: err})
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) closeOne(ctx context.Context, c Closer) error {
	ctx, cancel := context.WithTimeout(ctx, m.closeTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Close(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("timed out after %s: %w", m.closeTimeout, ctx.Err())
	}
}
