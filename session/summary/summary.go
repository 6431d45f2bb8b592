//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package summary compacts session history. A summarizer asks a model for a
// summary of the events since the last compaction and returns an event whose
// compaction action replaces that range when contents are assembled.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/session"
)

const (
	conversationTextPlaceholder = "{conversation_text}"
	maxSummaryWordsPlaceholder  = "{max_summary_words}"
	authorUnknown               = "unknown"
)

// ErrNothingToCompact is returned when no events follow the last compaction.
var ErrNothingToCompact = errors.New("summary: nothing to compact")

func defaultPrompt(maxWords int) string {
	p := "Analyze the following conversation between a user and an " +
		"assistant, and provide a concise summary focusing on important " +
		"information that would be helpful for future interactions. Keep the " +
		"summary concise and to the point. Only include relevant information. " +
		"Do not make anything up."
	if maxWords > 0 {
		p += " Please keep the summary within " + maxSummaryWordsPlaceholder + " words."
	}
	return p + "\n\n<conversation>\n" + conversationTextPlaceholder + "\n</conversation>\n\nSummary:"
}

// Summarizer turns a stretch of session history into a compaction event.
type Summarizer struct {
	model           model.Model
	prompt          string
	checks          []Checker
	maxSummaryWords int
	author          string
}

// NewSummarizer creates a summarizer that calls m.
func NewSummarizer(m model.Model, opts ...Option) *Summarizer {
	s := &Summarizer{model: m, author: "summarizer"}
	for _, opt := range opts {
		opt(s)
	}
	if s.prompt == "" {
		s.prompt = defaultPrompt(s.maxSummaryWords)
	}
	return s
}

// ShouldCompact reports whether every configured check passes.
func (s *Summarizer) ShouldCompact(sess *session.Session) bool {
	if sess.GetEventCount() == 0 {
		return false
	}
	for _, check := range s.checks {
		if !check(sess) {
			return false
		}
	}
	return true
}

// Compact summarizes the events after the newest compaction and returns the
// compaction event. The caller appends it through the session service.
func (s *Summarizer) Compact(ctx context.Context, sess *session.Session, invocationID string) (*event.Event, error) {
	if s.model == nil {
		return nil, fmt.Errorf("summary: no model configured for session %s", sess.ID)
	}
	pending := uncompacted(sess.GetEvents())
	if len(pending) == 0 {
		return nil, ErrNothingToCompact
	}
	text := conversationText(pending)
	if text == "" {
		return nil, ErrNothingToCompact
	}
	summaryText, err := s.generate(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("summary: session %s: %w", sess.ID, err)
	}
	e := event.New(invocationID, s.author)
	e.Actions.Compaction = &event.Compaction{
		StartTimestamp:   event.UnixSeconds(pending[0].Timestamp),
		EndTimestamp:     event.UnixSeconds(pending[len(pending)-1].Timestamp),
		CompactedContent: genai.NewContentFromText(summaryText, genai.RoleModel),
	}
	return e, nil
}

// uncompacted returns the content events newer than the newest compaction.
func uncompacted(events []*event.Event) []*event.Event {
	var end float64
	for _, e := range events {
		if e.Actions != nil && e.Actions.Compaction != nil && e.Actions.Compaction.EndTimestamp > end {
			end = e.Actions.Compaction.EndTimestamp
		}
	}
	var out []*event.Event
	for _, e := range events {
		if e.Actions != nil && e.Actions.Compaction != nil {
			continue
		}
		if !e.HasContent() || event.UnixSeconds(e.Timestamp) <= end {
			continue
		}
		out = append(out, e)
	}
	return out
}

func conversationText(events []*event.Event) string {
	var lines []string
	for _, e := range events {
		var texts []string
		for _, p := range e.Content.Parts {
			if p != nil && p.Text != "" && !p.Thought {
				texts = append(texts, strings.TrimSpace(p.Text))
			}
		}
		if len(texts) == 0 {
			continue
		}
		author := e.Author
		if author == "" {
			author = authorUnknown
		}
		lines = append(lines, fmt.Sprintf("%s: %s", author, strings.Join(texts, " ")))
	}
	return strings.Join(lines, "\n")
}

func (s *Summarizer) generate(ctx context.Context, text string) (string, error) {
	prompt := strings.Replace(s.prompt, conversationTextPlaceholder, text, 1)
	if s.maxSummaryWords > 0 {
		prompt = strings.Replace(prompt, maxSummaryWordsPlaceholder, fmt.Sprintf("%d", s.maxSummaryWords), 1)
	} else {
		prompt = strings.Replace(prompt, maxSummaryWordsPlaceholder, "", 1)
	}
	req := model.NewRequest()
	req.Model = s.model.Info().Name
	req.Contents = []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	var b strings.Builder
	for rsp, err := range s.model.GenerateContent(ctx, req, false) {
		if err != nil {
			return "", err
		}
		if rsp.IsError() {
			return "", fmt.Errorf("model error: %s", rsp.ErrorMessage)
		}
		if rsp.Content == nil {
			continue
		}
		for _, p := range rsp.Content.Parts {
			if p != nil && !p.Thought {
				b.WriteString(p.Text)
			}
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("generated empty summary (input_chars=%d)", len(text))
	}
	return out, nil
}
