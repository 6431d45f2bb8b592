//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package state substitutes session state and artifacts into instruction
// templates.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/artifact"
	"trpc.group/trpc-go/trpc-agent-runtime/session"
)

const artifactPrefix = "artifact."

// mustachePlaceholderRE matches Mustache-style placeholders like {{key}},
// optionally with a namespace (user:, app:, temp:) and the optional suffix '?'.
var mustachePlaceholderRE = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*:(?:[A-Za-z_][A-Za-z0-9_]*)|[A-Za-z_][A-Za-z0-9_]*)(\?)?\s*\}\}`)

var stateVarPattern = regexp.MustCompile(`\{+[^{}]*\}+`)

// MissingVariableError reports a required placeholder with no value.
type MissingVariableError struct {
	Name string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("context variable not found: `%s`", e.Name)
}

// normalizePlaceholders converts {{key}} forms to the native {key} form.
//
//	{{key}}          -> {key}
//	{{temp:value?}}  -> {temp:value?}
func normalizePlaceholders(s string) string {
	return mustachePlaceholderRE.ReplaceAllString(s, `{$1$2}`)
}

// InjectSessionState replaces placeholders in template:
//   - {name}: value of session state key name; an error if absent.
//   - {name?}: same, but absent values become the empty string.
//   - {artifact.file}: text of the latest version of artifact file.
//
// Placeholders whose name is not a valid state key are left untouched, so
// literal braces in instructions survive.
//
//	template: "Tell me about the city stored in {capital_city}."
//	state: {"capital_city": "Paris"}
//	result: "Tell me about the city stored in Paris."
func InjectSessionState(ctx context.Context, template string, inv *agent.Invocation) (string, error) {
	if template == "" {
		return template, nil
	}
	template = normalizePlaceholders(template)

	var firstErr error
	result := stateVarPattern.ReplaceAllStringFunc(template, func(match string) string {
		if firstErr != nil {
			return match
		}
		varName := strings.TrimSpace(strings.Trim(match, "{}"))
		optional := strings.HasSuffix(varName, "?")
		varName = strings.TrimSuffix(varName, "?")

		if strings.HasPrefix(varName, artifactPrefix) {
			text, err := loadArtifactText(ctx, inv, strings.TrimPrefix(varName, artifactPrefix))
			if err != nil {
				if optional {
					return ""
				}
				firstErr = err
				return match
			}
			return text
		}
		if !isValidStateName(varName) {
			return match
		}
		if v, ok := lookup(inv, varName); ok {
			return format(v)
		}
		if optional {
			return ""
		}
		firstErr = &MissingVariableError{Name: varName}
		return match
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

func lookup(inv *agent.Invocation, key string) (any, bool) {
	if inv == nil {
		return nil, false
	}
	if strings.HasPrefix(key, session.StateTempPrefix) {
		if v, ok := inv.Temp(key); ok {
			return v, true
		}
	}
	if inv.Session == nil {
		return nil, false
	}
	return inv.Session.GetState(key)
}

func format(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case nil:
		return ""
	case fmt.Stringer:
		return val.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func loadArtifactText(ctx context.Context, inv *agent.Invocation, filename string) (string, error) {
	if inv == nil || inv.ArtifactService == nil || inv.Session == nil {
		return "", fmt.Errorf("artifact %s: artifact service is not initialized", filename)
	}
	sess := inv.Session
	part, err := inv.ArtifactService.LoadArtifact(ctx, artifact.SessionInfo{
		AppName:   sess.AppName,
		UserID:    sess.UserID,
		SessionID: sess.ID,
	}, filename, nil)
	if err != nil {
		return "", fmt.Errorf("artifact %s: %w", filename, err)
	}
	if part == nil {
		return "", fmt.Errorf("artifact %s not found", filename)
	}
	if part.Text != "" {
		return part.Text, nil
	}
	if part.InlineData != nil {
		return string(part.InlineData.Data), nil
	}
	return "", nil
}

// isValidStateName reports whether varName is an identifier, optionally
// prefixed by one of the app:, user: or temp: scopes.
func isValidStateName(varName string) bool {
	if isIdentifier(varName) {
		return true
	}
	prefix, name, ok := strings.Cut(varName, ":")
	if !ok {
		return false
	}
	switch prefix + ":" {
	case session.StateAppPrefix, session.StateUserPrefix, session.StateTempPrefix:
		return isIdentifier(name)
	}
	return false
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		letter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
		if !letter && (i == 0 || r < '0' || r > '9') {
			return false
		}
	}
	return true
}
