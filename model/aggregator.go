//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"iter"

	"google.golang.org/genai"
)

type partKind int

const (
	kindOther partKind = iota
	kindText
	kindThought
	kindCall
)

func kindOf(p *genai.Part) partKind {
	switch {
	case p.FunctionCall != nil:
		return kindCall
	case p.Text != "" && p.Thought:
		return kindThought
	case p.Text != "":
		return kindText
	default:
		return kindOther
	}
}

// StreamingAggregator folds streamed chunks into one final response.
//
// Each chunk is surfaced as a partial response holding only its own
// fragment. Consecutive text parts and consecutive thought parts are
// concatenated in the final content, other parts (blobs, code) keep their
// position, and function calls are assembled by index: a call fragment
// without a name continues the previous call, and a fragment whose id was
// already seen continues that call.
type StreamingAggregator struct {
	progressive bool
	role        string
	parts       []*genai.Part
	calls       []*genai.FunctionCall
	last        *Response
}

// NewStreamingAggregator creates an aggregator. When progressive is false,
// function-call fragments are left out of partial responses so they only
// become visible in the final response.
func NewStreamingAggregator(progressive bool) *StreamingAggregator {
	return &StreamingAggregator{progressive: progressive, role: genai.RoleModel}
}

// Add folds chunk and returns the partial response to surface, or nil.
func (a *StreamingAggregator) Add(chunk *Response) *Response {
	if chunk == nil {
		return nil
	}
	a.last = chunk
	if chunk.Content == nil {
		return nil
	}
	if chunk.Content.Role != "" {
		a.role = chunk.Content.Role
	}
	var fragment []*genai.Part
	for _, p := range chunk.Content.Parts {
		if p == nil {
			continue
		}
		a.fold(p)
		if p.FunctionCall != nil && !a.progressive {
			continue
		}
		fragment = append(fragment, p)
	}
	if len(fragment) == 0 {
		return nil
	}
	out := chunk.Clone()
	out.Content = &genai.Content{Role: a.role, Parts: fragment}
	out.Partial = true
	out.TurnComplete = false
	return out
}

func (a *StreamingAggregator) fold(p *genai.Part) {
	switch kind := kindOf(p); kind {
	case kindText, kindThought:
		if n := len(a.parts); n > 0 && kindOf(a.parts[n-1]) == kind {
			a.parts[n-1].Text += p.Text
			if len(p.ThoughtSignature) > 0 {
				a.parts[n-1].ThoughtSignature = p.ThoughtSignature
			}
			return
		}
		a.parts = append(a.parts, &genai.Part{
			Text:             p.Text,
			Thought:          p.Thought,
			ThoughtSignature: p.ThoughtSignature,
		})
	case kindCall:
		a.foldCall(p)
	default:
		a.parts = append(a.parts, p)
	}
}

func (a *StreamingAggregator) foldCall(p *genai.Part) {
	fc := p.FunctionCall
	if fc.ID != "" {
		for _, c := range a.calls {
			if c.ID == fc.ID {
				mergeArgs(c, fc.Args)
				return
			}
		}
	}
	// Anonymous fragments continue the call being streamed.
	if fc.ID == "" && fc.Name == "" && len(a.calls) > 0 {
		mergeArgs(a.calls[len(a.calls)-1], fc.Args)
		return
	}
	call := &genai.FunctionCall{ID: fc.ID, Name: fc.Name, Args: map[string]any{}}
	mergeArgs(call, fc.Args)
	a.calls = append(a.calls, call)
	a.parts = append(a.parts, &genai.Part{FunctionCall: call, ThoughtSignature: p.ThoughtSignature})
}

func mergeArgs(dst *genai.FunctionCall, src map[string]any) {
	for k, v := range src {
		prev, ok := dst.Args[k].(string)
		if s, isStr := v.(string); ok && isStr {
			dst.Args[k] = prev + s
			continue
		}
		dst.Args[k] = v
	}
}

// Close returns the final response, or nil if no chunk was added.
func (a *StreamingAggregator) Close() *Response {
	if a.last == nil {
		return nil
	}
	final := a.last.Clone()
	final.Partial = false
	final.Content = nil
	if len(a.parts) > 0 {
		final.Content = &genai.Content{Role: a.role, Parts: a.parts}
	}
	return final
}

// Aggregate wraps a raw chunk stream with a StreamingAggregator. Chunks
// carrying an error code end the stream as they are.
func Aggregate(chunks iter.Seq2[*Response, error], progressive bool) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		agg := NewStreamingAggregator(progressive)
		for chunk, err := range chunks {
			if err != nil {
				yield(nil, err)
				return
			}
			if chunk.IsError() {
				yield(chunk, nil)
				return
			}
			if p := agg.Add(chunk); p != nil {
				if !yield(p, nil) {
					return
				}
			}
		}
		if final := agg.Close(); final != nil {
			yield(final, nil)
		}
	}
}
