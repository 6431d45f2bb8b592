//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package llmagent

import (
	"strings"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/internal/schema"
)

// maybeSaveOutputToState writes the agent's final text into the state
// delta of e under the output key. With an output schema the text must be
// valid JSON for it and the decoded value is stored.
func (a *LLMAgent) maybeSaveOutputToState(e *event.Event) error {
	if a.opts.OutputKey == "" || e.Author != a.Info().Name || !e.IsFinalResponse() || !e.HasContent() {
		return nil
	}
	var b strings.Builder
	for _, p := range e.Content.Parts {
		if p != nil && p.Text != "" && !p.Thought {
			b.WriteString(p.Text)
		}
	}
	text := b.String()
	if a.opts.OutputSchema == nil {
		setStateDelta(e, a.opts.OutputKey, text)
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	v, err := schema.ValidateJSON(a.opts.OutputSchema, text)
	if err != nil {
		return &agent.SchemaValidationError{Agent: a.Info().Name, Err: err}
	}
	setStateDelta(e, a.opts.OutputKey, v)
	return nil
}

func setStateDelta(e *event.Event, key string, v any) {
	if e.Actions == nil {
		e.Actions = &event.Actions{}
	}
	if e.Actions.StateDelta == nil {
		e.Actions.StateDelta = make(map[string]any)
	}
	e.Actions.StateDelta[key] = v
}
