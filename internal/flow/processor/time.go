//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package processor

import (
	"context"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
)

const defaultTimeFormat = "2006-01-02 15:04:05 MST"

// TimeRequestProcessor tells the model the current time.
type TimeRequestProcessor struct {
	// Timezone is an IANA location name; empty means the local zone.
	Timezone string
	// TimeFormat is a time.Format layout.
	TimeFormat string

	now func() time.Time
}

// TimeOption is a function that can be used to configure the time request processor.
type TimeOption func(*TimeRequestProcessor)

// WithTimezone sets the timezone for time display.
func WithTimezone(tz string) TimeOption {
	return func(p *TimeRequestProcessor) {
		p.Timezone = tz
	}
}

// WithTimeFormat sets the format for time display.
func WithTimeFormat(format string) TimeOption {
	return func(p *TimeRequestProcessor) {
		p.TimeFormat = format
	}
}

// WithNow replaces the clock.
func WithNow(now func() time.Time) TimeOption {
	return func(p *TimeRequestProcessor) {
		p.now = now
	}
}

// NewTimeRequestProcessor creates a new time request processor.
func NewTimeRequestProcessor(opts ...TimeOption) *TimeRequestProcessor {
	p := &TimeRequestProcessor{TimeFormat: defaultTimeFormat, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessRequest implements flow.RequestProcessor.
func (p *TimeRequestProcessor) ProcessRequest(_ context.Context, _ *agent.Invocation,
	req *model.Request, _ chan<- *event.Event) error {
	req.AppendInstructions(fmt.Sprintf("The current time is: %s", p.currentTime()))
	return nil
}

func (p *TimeRequestProcessor) currentTime() string {
	loc := time.Local
	if p.Timezone != "" {
		l, err := time.LoadLocation(p.Timezone)
		if err != nil {
			log.Warnf("Invalid timezone '%s', falling back to UTC: %v", p.Timezone, err)
			l = time.UTC
		}
		loc = l
	}
	format := p.TimeFormat
	if format == "" {
		format = defaultTimeFormat
	}
	return p.now().In(loc).Format(format)
}
