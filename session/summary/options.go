//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package summary

import (
	"time"
)

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithPrompt sets the prompt. It must contain {conversation_text}.
func WithPrompt(prompt string) Option {
	return func(s *Summarizer) {
		if prompt != "" {
			s.prompt = prompt
		}
	}
}

// WithMaxSummaryWords asks the model to stay within maxWords.
func WithMaxSummaryWords(maxWords int) Option {
	return func(s *Summarizer) {
		if maxWords > 0 {
			s.maxSummaryWords = maxWords
		}
	}
}

// WithAuthor sets the author of compaction events.
func WithAuthor(author string) Option {
	return func(s *Summarizer) {
		if author != "" {
			s.author = author
		}
	}
}

// WithEventThreshold adds CheckEventThreshold.
func WithEventThreshold(eventCount int) Option {
	return func(s *Summarizer) {
		s.checks = append(s.checks, CheckEventThreshold(eventCount))
	}
}

// WithTokenThreshold adds CheckTokenThreshold.
func WithTokenThreshold(tokenCount int) Option {
	return func(s *Summarizer) {
		s.checks = append(s.checks, CheckTokenThreshold(tokenCount))
	}
}

// WithTimeThreshold adds CheckTimeThreshold.
func WithTimeThreshold(interval time.Duration) Option {
	return func(s *Summarizer) {
		s.checks = append(s.checks, CheckTimeThreshold(interval))
	}
}

// WithChecksAny adds one check that passes when any of checks passes.
func WithChecksAny(checks ...Checker) Option {
	return func(s *Summarizer) {
		if len(checks) > 0 {
			s.checks = append(s.checks, ChecksAny(checks...))
		}
	}
}
