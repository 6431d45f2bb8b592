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
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
)

// IncludeContents selects how much history an agent sends to the model.
type IncludeContents string

const (
	// IncludeContentsDefault sends the relevant history of the session.
	IncludeContentsDefault IncludeContents = "default"
	// IncludeContentsNone sends only the current turn.
	IncludeContentsNone IncludeContents = "none"
)

const forContextPrefix = "For context:"

// ContentRequestProcessor assembles the contents of the request from the
// session history.
type ContentRequestProcessor struct {
	IncludeContents IncludeContents
}

// ContentOption configures the ContentRequestProcessor.
type ContentOption func(*ContentRequestProcessor)

// WithIncludeContents sets the history mode.
func WithIncludeContents(mode IncludeContents) ContentOption {
	return func(p *ContentRequestProcessor) {
		p.IncludeContents = mode
	}
}

// NewContentRequestProcessor creates a new content request processor.
func NewContentRequestProcessor(opts ...ContentOption) *ContentRequestProcessor {
	p := &ContentRequestProcessor{IncludeContents: IncludeContentsDefault}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessRequest implements flow.RequestProcessor. Contents already in the
// request were produced by instruction processing and are kept in front of
// the current user turn.
func (p *ContentRequestProcessor) ProcessRequest(_ context.Context, inv *agent.Invocation,
	req *model.Request, _ chan<- *event.Event) error {
	injected := req.Contents
	var events []*event.Event
	if inv.Session != nil {
		events = inv.Session.GetEvents()
	}
	var (
		contents []*genai.Content
		err      error
	)
	if p.IncludeContents == IncludeContentsNone {
		contents, err = BuildCurrentTurnContents(events, inv.Branch, inv.AgentName)
	} else {
		contents, err = BuildContents(events, inv.Branch, inv.AgentName)
	}
	if err != nil {
		return err
	}
	log.Debugf("Content request processor: %d contents for agent %s", len(contents), inv.AgentName)
	req.Contents = injectInstructionContents(contents, injected)
	return nil
}

// BuildContents turns session events into the contents the agent named
// agentName on branch sees. Session events are never modified.
func BuildContents(events []*event.Event, branch, agentName string) ([]*genai.Content, error) {
	b := &contentBuilder{branch: branch, agentName: agentName, synthetic: map[*event.Event]bool{}}
	return b.build(events)
}

// BuildCurrentTurnContents is BuildContents restricted to the latest user
// or foreign-agent event and everything after it. Framework round trips and
// user function responses never start a turn, so the calls they answer stay
// in view.
func BuildCurrentTurnContents(events []*event.Event, branch, agentName string) ([]*genai.Content, error) {
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if !inBranch(branch, e) || isEmptyContent(e) || isFrameworkEvent(e) || onlyFunctionResponses(e) {
			continue
		}
		if e.Author == event.AuthorUser || isForeignAgentReply(agentName, e) {
			return BuildContents(events[i:], branch, agentName)
		}
	}
	return nil, nil
}

type contentBuilder struct {
	branch    string
	agentName string
	// synthetic marks compaction summaries, which are never rewritten.
	synthetic map[*event.Event]bool
}

func (b *contentBuilder) build(events []*event.Event) ([]*genai.Content, error) {
	events = applyRewinds(events)

	filtered := events[:0:0]
	for _, e := range events {
		if inBranch(b.branch, e) {
			filtered = append(filtered, e)
		}
	}
	filtered = b.applyCompactions(filtered)

	kept := filtered[:0:0]
	for _, e := range filtered {
		if b.synthetic[e] {
			kept = append(kept, e)
			continue
		}
		if isEmptyContent(e) || isFrameworkEvent(e) {
			continue
		}
		kept = append(kept, e)
	}
	kept = b.mergeTranscriptions(kept)

	rewritten := kept[:0:0]
	for _, e := range kept {
		if !b.synthetic[e] && isForeignAgentReply(b.agentName, e) {
			e = foreignAgentEvent(e)
			if e == nil {
				continue
			}
		}
		rewritten = append(rewritten, e)
	}

	paired, err := rearrangeLatestFunctionResponse(rewritten)
	if err != nil {
		return nil, err
	}
	paired = rearrangeAsyncFunctionResponses(paired)

	contents := make([]*genai.Content, 0, len(paired))
	for _, e := range paired {
		c := cloneContent(e.Content)
		if c == nil {
			continue
		}
		event.RemoveClientFunctionCallIDs(c)
		contents = append(contents, c)
	}
	return contents, nil
}

// applyRewinds drops every rewind event together with the events of the
// invocation it rewinds to and everything in between.
func applyRewinds(events []*event.Event) []*event.Event {
	var out []*event.Event
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.Actions == nil || e.Actions.RewindBeforeInvocationID == "" {
			out = append(out, e)
			continue
		}
		for j := 0; j <= i; j++ {
			if events[j].InvocationID == e.Actions.RewindBeforeInvocationID {
				i = j
				break
			}
		}
	}
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

// inBranch reports whether an event on e.Branch is visible from branch:
// events on the root, on the same branch or on an ancestor branch are.
func inBranch(branch string, e *event.Event) bool {
	if e.Branch == "" || e.Branch == branch {
		return true
	}
	return strings.HasPrefix(branch, e.Branch+".")
}

type timeRange struct{ start, end float64 }

// applyCompactions replaces the events covered by a compaction with its
// summary. Compactions are applied newest first; an older compaction that
// overlaps a newer one is ignored.
func (b *contentBuilder) applyCompactions(events []*event.Event) []*event.Event {
	hasCompaction := false
	for _, e := range events {
		if e.Actions != nil && e.Actions.Compaction != nil {
			hasCompaction = true
			break
		}
	}
	if !hasCompaction {
		return events
	}

	var applied []timeRange
	overlaps := func(r timeRange) bool {
		for _, a := range applied {
			if r.start <= a.end && a.start <= r.end {
				return true
			}
		}
		return false
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Actions == nil || events[i].Actions.Compaction == nil {
			continue
		}
		c := events[i].Actions.Compaction
		r := timeRange{c.StartTimestamp, c.EndTimestamp}
		if !overlaps(r) {
			applied = append(applied, r)
		}
	}

	var out []*event.Event
	emitted := map[timeRange]bool{}
	for _, e := range events {
		if e.Actions != nil && e.Actions.Compaction != nil {
			c := e.Actions.Compaction
			r := timeRange{c.StartTimestamp, c.EndTimestamp}
			if emitted[r] || !containsRange(applied, r) || c.CompactedContent == nil {
				continue
			}
			emitted[r] = true
			summary := event.New(e.InvocationID, e.Author,
				event.WithBranch(e.Branch), event.WithContent(c.CompactedContent))
			summary.Timestamp = fromUnixSeconds(c.EndTimestamp)
			b.synthetic[summary] = true
			out = append(out, summary)
			continue
		}
		ts := event.UnixSeconds(e.Timestamp)
		covered := false
		for _, a := range applied {
			if ts >= a.start && ts <= a.end {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func containsRange(ranges []timeRange, r timeRange) bool {
	for _, a := range ranges {
		if a == r {
			return true
		}
	}
	return false
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*float64(time.Second)))
}

// isEmptyContent reports whether e has nothing to show the model.
// Transcriptions count as content.
func isEmptyContent(e *event.Event) bool {
	if e.Response == nil {
		return true
	}
	if e.InputTranscription != nil || e.OutputTranscription != nil {
		return false
	}
	if e.Content == nil {
		return true
	}
	for _, p := range e.Content.Parts {
		if !isEmptyPart(p) {
			return false
		}
	}
	return true
}

func isEmptyPart(p *genai.Part) bool {
	return p == nil || (p.Text == "" && p.FunctionCall == nil && p.FunctionResponse == nil &&
		p.InlineData == nil && p.FileData == nil && p.ExecutableCode == nil &&
		p.CodeExecutionResult == nil)
}

// isFrameworkEvent reports events that only concern the runtime and the
// client, such as credential and confirmation round trips.
func isFrameworkEvent(e *event.Event) bool {
	return e.IsAuthEvent() || e.IsConfirmationEvent() ||
		e.HasResponseFor(event.RequestCredentialFunctionName) ||
		e.HasResponseFor(event.RequestConfirmationFunctionName)
}

// mergeTranscriptions coalesces runs of transcription-only events into one
// text content per run.
func (b *contentBuilder) mergeTranscriptions(events []*event.Event) []*event.Event {
	var (
		out    []*event.Event
		run    strings.Builder
		runEv  *event.Event
		input  bool
		active bool
	)
	flush := func() {
		if !active {
			return
		}
		role, author := genai.RoleModel, runEv.Author
		if input {
			role, author = genai.RoleUser, event.AuthorUser
		}
		merged := event.New(runEv.InvocationID, author, event.WithBranch(runEv.Branch),
			event.WithContent(genai.NewContentFromText(run.String(), genai.Role(role))))
		merged.Timestamp = runEv.Timestamp
		out = append(out, merged)
		run.Reset()
		active = false
	}
	for _, e := range events {
		isTranscription := !b.synthetic[e] && e.Content == nil &&
			(e.InputTranscription != nil || e.OutputTranscription != nil)
		if !isTranscription {
			flush()
			out = append(out, e)
			continue
		}
		t, isInput := e.OutputTranscription, false
		if e.InputTranscription != nil {
			t, isInput = e.InputTranscription, true
		}
		if active && (isInput != input || e.Author != runEv.Author) {
			flush()
		}
		if !active {
			runEv, input, active = e, isInput, true
		}
		run.WriteString(t.Text)
	}
	flush()
	return out
}

func onlyFunctionResponses(e *event.Event) bool {
	if e.Content == nil || len(e.FunctionResponses()) == 0 {
		return false
	}
	for _, p := range e.Content.Parts {
		if !isEmptyPart(p) && p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

func isForeignAgentReply(agentName string, e *event.Event) bool {
	return agentName != "" && e.Author != agentName && e.Author != event.AuthorUser
}

// foreignAgentEvent presents another agent's output as user-provided
// context. It returns nil when nothing but the prefix would remain.
func foreignAgentEvent(e *event.Event) *event.Event {
	if e.Content == nil {
		return nil
	}
	parts := []*genai.Part{genai.NewPartFromText(forContextPrefix)}
	for _, p := range e.Content.Parts {
		switch {
		case p == nil || p.Thought:
		case p.Text != "":
			parts = append(parts, genai.NewPartFromText(fmt.Sprintf("[%s] said: %s", e.Author, p.Text)))
		case p.FunctionCall != nil:
			parts = append(parts, genai.NewPartFromText(fmt.Sprintf("[%s] called tool `%s` with parameters: %s",
				e.Author, p.FunctionCall.Name, jsonText(p.FunctionCall.Args))))
		case p.FunctionResponse != nil:
			parts = append(parts, genai.NewPartFromText(fmt.Sprintf("[%s] `%s` tool returned result: %s",
				e.Author, p.FunctionResponse.Name, jsonText(p.FunctionResponse.Response))))
		case isEmptyPart(p):
		default:
			parts = append(parts, p)
		}
	}
	if len(parts) == 1 {
		return nil
	}
	out := e.Clone()
	out.Content = &genai.Content{Role: genai.RoleUser, Parts: parts}
	return out
}

func jsonText(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// rearrangeLatestFunctionResponse moves a final function-response event
// next to the call it answers, merging the responses given in between.
func rearrangeLatestFunctionResponse(events []*event.Event) ([]*event.Event, error) {
	if len(events) < 2 {
		return events, nil
	}
	last := events[len(events)-1]
	rsps := last.FunctionResponses()
	if len(rsps) == 0 {
		return events, nil
	}
	responseIDs := map[string]bool{}
	for _, r := range rsps {
		responseIDs[r.ID] = true
	}
	if prev := events[len(events)-2]; callsAny(prev, responseIDs) {
		return events, nil
	}

	callIdx := -1
	for i := len(events) - 2; i >= 0; i-- {
		if callsAny(events[i], responseIDs) {
			callIdx = i
			break
		}
	}
	if callIdx < 0 {
		return nil, &agent.ResumeError{CallID: rsps[0].ID,
			Reason: "no function call matches the latest function response"}
	}
	callIDs := map[string]bool{}
	for _, fc := range events[callIdx].FunctionCalls() {
		callIDs[fc.ID] = true
	}
	for id := range responseIDs {
		if !callIDs[id] {
			return nil, &agent.ResumeError{CallID: id,
				Reason: "the latest function response answers calls of different events"}
		}
	}

	var batch []*event.Event
	for _, e := range events[callIdx+1:] {
		for _, r := range e.FunctionResponses() {
			if callIDs[r.ID] {
				batch = append(batch, e)
				break
			}
		}
	}
	out := append(events[:callIdx+1:callIdx+1], MergeFunctionResponseEvents(batch))
	return out, nil
}

func callsAny(e *event.Event, ids map[string]bool) bool {
	for _, fc := range e.FunctionCalls() {
		if ids[fc.ID] {
			return true
		}
	}
	return false
}

// rearrangeAsyncFunctionResponses places every function call directly
// before its responses, merging responses that arrived in several events.
func rearrangeAsyncFunctionResponses(events []*event.Event) []*event.Event {
	responseIdx := map[string]int{}
	for i, e := range events {
		for _, r := range e.FunctionResponses() {
			responseIdx[r.ID] = i
		}
	}
	out := make([]*event.Event, 0, len(events))
	for _, e := range events {
		if len(e.FunctionResponses()) > 0 {
			continue
		}
		calls := e.FunctionCalls()
		out = append(out, e)
		if len(calls) == 0 {
			continue
		}
		seen := map[int]bool{}
		var idx []int
		for _, fc := range calls {
			if i, ok := responseIdx[fc.ID]; ok && !seen[i] {
				seen[i] = true
				idx = append(idx, i)
			}
		}
		sort.Ints(idx)
		batch := make([]*event.Event, 0, len(idx))
		for _, i := range idx {
			batch = append(batch, events[i])
		}
		if merged := MergeFunctionResponseEvents(batch); merged != nil {
			out = append(out, merged)
		}
	}
	return out
}

// cloneContent copies c deep enough that stripping call ids does not touch
// the session.
func cloneContent(c *genai.Content) *genai.Content {
	if c == nil {
		return nil
	}
	out := &genai.Content{Role: c.Role, Parts: make([]*genai.Part, 0, len(c.Parts))}
	if out.Role == "" {
		out.Role = genai.RoleModel
	}
	for _, p := range c.Parts {
		if p == nil {
			continue
		}
		cp := *p
		if p.FunctionCall != nil {
			fc := *p.FunctionCall
			cp.FunctionCall = &fc
		}
		if p.FunctionResponse != nil {
			fr := *p.FunctionResponse
			cp.FunctionResponse = &fr
		}
		out.Parts = append(out.Parts, &cp)
	}
	return out
}

// injectInstructionContents inserts extra before the trailing run of user
// contents, skipping past function responses so that each call stays
// directly followed by its response.
func injectInstructionContents(contents, extra []*genai.Content) []*genai.Content {
	if len(extra) == 0 {
		return contents
	}
	at := 0
	for i := len(contents) - 1; i >= 0; i-- {
		if contents[i].Role != genai.RoleUser {
			at = i + 1
			break
		}
	}
	for at < len(contents) && hasFunctionResponse(contents[at]) {
		at++
	}
	out := make([]*genai.Content, 0, len(contents)+len(extra))
	out = append(out, contents[:at]...)
	out = append(out, extra...)
	return append(out, contents[at:]...)
}

func hasFunctionResponse(c *genai.Content) bool {
	for _, p := range c.Parts {
		if p != nil && p.FunctionResponse != nil {
			return true
		}
	}
	return false
}
