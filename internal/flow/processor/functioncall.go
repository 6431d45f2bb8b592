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
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	itelemetry "trpc.group/trpc-go/trpc-agent-runtime/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
	"trpc.group/trpc-go/trpc-agent-runtime/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-runtime/telemetry/trace"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
)

// maxToolParallelism bounds the worker pool running the calls of one turn.
const maxToolParallelism = 16

// resultKey wraps tool results that are not JSON objects.
const resultKey = "result"

// ToolsMap indexes tools by function name. Tools without a name are skipped.
func ToolsMap(tools []tool.Tool) map[string]tool.Tool {
	m := make(map[string]tool.Tool, len(tools))
	for _, t := range tools {
		if name := tool.Name(t); name != "" {
			m[name] = t
		}
	}
	return m
}

// LongRunningCallIDs returns the ids of the calls in content that target
// long-running tools.
func LongRunningCallIDs(content *genai.Content, tools map[string]tool.Tool) map[string]struct{} {
	if content == nil {
		return nil
	}
	var ids map[string]struct{}
	for _, p := range content.Parts {
		if p == nil || p.FunctionCall == nil || p.FunctionCall.ID == "" {
			continue
		}
		t, ok := tools[p.FunctionCall.Name]
		if !ok || !tool.IsLongRunning(t) {
			continue
		}
		if ids == nil {
			ids = make(map[string]struct{})
		}
		ids[p.FunctionCall.ID] = struct{}{}
	}
	return ids
}

// HandleFunctionCalls runs the function calls of callEvent in parallel and
// returns one event holding all their responses. When ids is not nil only
// the calls it names are run. Confirmations carry the user's answers for
// calls that asked for one. The result is nil when every call was a
// long-running tool that deferred its answer.
func HandleFunctionCalls(ctx context.Context, inv *agent.Invocation, callEvent *event.Event,
	tools map[string]tool.Tool, ids map[string]bool,
	confirmations map[string]*event.ToolConfirmation) (*event.Event, error) {
	return HandleFunctionCallList(ctx, inv, selectCalls(callEvent, ids), tools, confirmations)
}

// HandleFunctionCallList is HandleFunctionCalls for calls that are not
// taken from a single event.
func HandleFunctionCallList(ctx context.Context, inv *agent.Invocation, calls []*genai.FunctionCall,
	tools map[string]tool.Tool, confirmations map[string]*event.ToolConfirmation) (*event.Event, error) {
	x := &executor{inv: inv, tools: tools, confirmations: confirmations}
	return x.run(ctx, calls)
}

// HandleFunctionCallsLive runs the calls of callEvent for a live session.
// It understands stop_streaming and launches streaming tools in the
// background, feeding their output to the live request queue.
func HandleFunctionCallsLive(ctx context.Context, inv *agent.Invocation, callEvent *event.Event,
	tools map[string]tool.Tool) (*event.Event, error) {
	x := &executor{inv: inv, tools: tools, live: true}
	return x.run(ctx, selectCalls(callEvent, nil))
}

func selectCalls(callEvent *event.Event, ids map[string]bool) []*genai.FunctionCall {
	if callEvent == nil || callEvent.Response == nil {
		return nil
	}
	var calls []*genai.FunctionCall
	for _, fc := range callEvent.FunctionCalls() {
		if ids != nil && !ids[fc.ID] {
			continue
		}
		calls = append(calls, fc)
	}
	return calls
}

type executor struct {
	inv           *agent.Invocation
	tools         map[string]tool.Tool
	confirmations map[string]*event.ToolConfirmation
	live          bool
}

type callResult struct {
	event *event.Event
	err   error
}

func (x *executor) run(ctx context.Context, calls []*genai.FunctionCall) (*event.Event, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	results := make([]callResult, len(calls))
	if len(calls) == 1 {
		results[0].event, results[0].err = x.call(ctx, calls[0])
	} else if err := x.runParallel(ctx, calls, results); err != nil {
		return nil, err
	}

	var events []*event.Event
	for _, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		if r.event != nil {
			events = append(events, r.event)
		}
	}
	merged := MergeFunctionResponseEvents(events)
	if gm := x.inv.TakeGroundingMetadata(); gm != nil && merged != nil {
		merged.GroundingMetadata = gm
	}
	if merged != nil && len(events) > 1 {
		_, span := trace.Tracer.Start(ctx, itelemetry.SpanNamePrefixExecuteTool+" (merged)")
		itelemetry.TraceMergedToolCalls(span, merged)
		span.End()
	}
	return merged, nil
}

func (x *executor) runParallel(ctx context.Context, calls []*genai.FunctionCall, results []callResult) error {
	pool, err := ants.NewPool(min(len(calls), maxToolParallelism))
	if err != nil {
		return fmt.Errorf("failed to create tool worker pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i, fc := range calls {
		wg.Add(1)
		idx, call := i, fc
		task := func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("tool %s (call %s) panicked: %v", call.Name, call.ID, r)
					results[idx].err = &agent.ToolError{
						Tool: call.Name, CallID: call.ID, Err: fmt.Errorf("panic: %v", r),
					}
				}
			}()
			results[idx].event, results[idx].err = x.call(ctx, call)
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			results[idx].err = fmt.Errorf("submit tool %s: %w", call.Name, err)
		}
	}
	wg.Wait()
	return nil
}

// call runs one function call and builds its response event.
func (x *executor) call(ctx context.Context, fc *genai.FunctionCall) (*event.Event, error) {
	ctx, span := trace.Tracer.Start(ctx, itelemetry.NewExecuteToolSpanName(fc.Name))
	defer span.End()

	args := fc.Args
	if args == nil {
		args = map[string]any{}
	}
	actions := &event.Actions{}
	tc := agent.NewToolContext(ctx, x.inv, fc.ID, x.confirmations[fc.ID], actions)
	ctx = agent.WithToolContext(ctx, tc)

	t, found := x.tools[fc.Name]
	var (
		result   map[string]any
		deferred bool
		err      error
	)
	switch {
	case x.live && fc.Name == StopStreamingToolName:
		result = x.stopStreaming(args)
	case !found:
		result, err = x.recoverNotFound(ctx, fc, args, tc)
	case x.live && isStreamingTool(t):
		result, err = x.startStreaming(ctx, t, fc, args)
	default:
		result, deferred, err = x.execute(ctx, t, fc, args, tc)
	}
	metric.RecordToolCall(ctx, fc.Name, err != nil)
	if err != nil {
		return nil, err
	}
	if deferred {
		log.Debugf("tool %s (call %s) deferred its response", fc.Name, fc.ID)
		return nil, nil
	}

	e := event.New(x.inv.InvocationID, x.inv.AgentName,
		event.WithBranch(x.inv.Branch),
		event.WithObject(model.ObjectTypeToolResponse),
		event.WithActions(actions),
		event.WithContent(&genai.Content{
			Role: genai.RoleUser,
			Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
				ID:       fc.ID,
				Name:     fc.Name,
				Response: result,
			}}},
		}))
	var decl *genai.FunctionDeclaration
	if found {
		decl = t.Declaration()
	}
	itelemetry.TraceToolCall(span, decl, args, e)
	return e, nil
}

// recoverNotFound gives the error callbacks a chance to answer a call to an
// unknown tool.
func (x *executor) recoverNotFound(ctx context.Context, fc *genai.FunctionCall, args map[string]any,
	tc *agent.ToolContext) (map[string]any, error) {
	names := make([]string, 0, len(x.tools))
	for name := range x.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	notFound := &agent.ToolNotFoundError{Tool: fc.Name, Available: names}
	result, err := x.onToolError(ctx, missingTool{name: fc.Name}, args, tc, notFound)
	if err != nil {
		return nil, err
	}
	if result == nil {
		log.Errorf("agent %s called unknown tool %s", x.inv.AgentName, fc.Name)
		return nil, notFound
	}
	return result, nil
}

// execute runs the callback chain around one tool: before-tool plugins and
// callbacks, the tool, error recovery, then after-tool plugins and
// callbacks. deferred reports a long-running tool that returned nothing.
func (x *executor) execute(ctx context.Context, t tool.Tool, fc *genai.FunctionCall, args map[string]any,
	tc *agent.ToolContext) (result map[string]any, deferred bool, err error) {
	if x.inv.Plugins != nil {
		result, err = x.inv.Plugins.RunBeforeTool(ctx, t, args, tc)
	}
	if result == nil && err == nil {
		result, err = x.inv.ToolCallbacks.RunBeforeTool(ctx, t, args)
	}
	if err != nil {
		return nil, false, err
	}

	if result == nil {
		raw, callErr := invoke(ctx, t, args)
		switch {
		case callErr != nil:
			recovered, cbErr := x.onToolError(ctx, t, args, tc, callErr)
			if cbErr != nil {
				return nil, false, cbErr
			}
			if recovered == nil {
				return nil, false, &agent.ToolError{Tool: fc.Name, CallID: fc.ID, Err: callErr}
			}
			result = recovered
		case raw != nil:
			result = toResultMap(raw)
		}
	}

	var altered map[string]any
	if x.inv.Plugins != nil {
		altered, err = x.inv.Plugins.RunAfterTool(ctx, t, args, tc, result)
	}
	if altered == nil && err == nil {
		altered, err = x.inv.ToolCallbacks.RunAfterTool(ctx, t, args, result)
	}
	if err != nil {
		return nil, false, err
	}
	if altered != nil {
		result = altered
	}
	if result == nil {
		if tool.IsLongRunning(t) {
			return nil, true, nil
		}
		result = map[string]any{}
	}
	return result, false, nil
}

func (x *executor) onToolError(ctx context.Context, t tool.Tool, args map[string]any,
	tc *agent.ToolContext, toolErr error) (map[string]any, error) {
	if x.inv.Plugins != nil {
		result, err := x.inv.Plugins.RunOnToolError(ctx, t, args, tc, toolErr)
		if result != nil || err != nil {
			return result, err
		}
	}
	return x.inv.ToolCallbacks.RunOnToolError(ctx, t, args, toolErr)
}

// invoke calls t with JSON encoded args. Streamable tools used outside a
// live session are drained and their chunks joined.
func invoke(ctx context.Context, t tool.Tool, args map[string]any) (any, error) {
	jsonArgs, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	if callable, ok := t.(tool.CallableTool); ok {
		return callable.Call(ctx, jsonArgs)
	}
	if streamable, ok := t.(tool.StreamableTool); ok {
		return drain(ctx, streamable, jsonArgs)
	}
	return nil, fmt.Errorf("tool %s is not callable (%T)", tool.Name(t), t)
}

func drain(ctx context.Context, t tool.StreamableTool, jsonArgs []byte) (any, error) {
	reader, err := t.StreamableCall(ctx, jsonArgs)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	var (
		texts  []string
		values []any
	)
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		values = append(values, chunk.Content)
		if s, ok := chunk.Content.(string); ok {
			texts = append(texts, s)
		}
	}
	if len(texts) == len(values) {
		return strings.Join(texts, ""), nil
	}
	return values, nil
}

// toResultMap turns a tool result into a function response payload. JSON
// objects are used as they are, anything else is wrapped under "result".
func toResultMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	b, err := json.Marshal(v)
	if err == nil {
		var m map[string]any
		if json.Unmarshal(b, &m) == nil && m != nil {
			return m
		}
		var generic any
		if json.Unmarshal(b, &generic) == nil {
			return map[string]any{resultKey: generic}
		}
	}
	return map[string]any{resultKey: v}
}

// MergeFunctionResponseEvents folds the response events of one turn into a
// single event. Parts keep their order, actions are merged and the first
// event provides id, author, branch and timestamp.
func MergeFunctionResponseEvents(events []*event.Event) *event.Event {
	switch len(events) {
	case 0:
		return nil
	case 1:
		return events[0]
	}
	merged := events[0].Clone()
	merged.Content = &genai.Content{Role: genai.RoleUser}
	merged.Actions = &event.Actions{}
	for _, e := range events {
		if e.HasContent() {
			merged.Content.Parts = append(merged.Content.Parts, e.Content.Parts...)
		}
		merged.Actions.Merge(e.Actions)
	}
	return merged
}

// missingTool stands in for a tool the model called but the agent lacks.
type missingTool struct {
	name string
}

func (m missingTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{Name: m.name, Description: "Tool not found"}
}
