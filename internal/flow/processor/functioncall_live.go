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
	"time"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/tool"
)

const (
	// StopStreamingToolName is the live-only function that cancels a
	// running streaming tool.
	StopStreamingToolName = "stop_streaming"
	// StreamingToolGrace is how long a cancelled streaming tool may take to
	// return.
	StreamingToolGrace = time.Second

	fieldFunctionName = "function_name"
	pendingStatus     = "The function is running asynchronously and the results are pending."
)

// StopStreamingTool declares stop_streaming to the model. The executor
// answers it itself.
type StopStreamingTool struct{}

// Declaration implements tool.Tool.
func (StopStreamingTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        StopStreamingToolName,
		Description: "Stop the streaming function with the given name.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				fieldFunctionName: {Type: genai.TypeString, Description: "The name of the streaming function to stop."},
			},
			Required: []string{fieldFunctionName},
		},
	}
}

func isStreamingTool(t tool.Tool) bool {
	if _, callable := t.(tool.CallableTool); callable {
		return false
	}
	_, ok := t.(tool.StreamableTool)
	return ok
}

// HasStreamingTools reports whether any of tools streams in live sessions.
func HasStreamingTools(tools map[string]tool.Tool) bool {
	for _, t := range tools {
		if isStreamingTool(t) {
			return true
		}
	}
	return false
}

// startStreaming launches a streaming tool in the background. Each chunk
// goes back to the model as user content through the live request queue.
func (x *executor) startStreaming(ctx context.Context, t tool.Tool, fc *genai.FunctionCall,
	args map[string]any) (map[string]any, error) {
	if _, running := x.inv.ActiveStreamingTool(fc.Name); running {
		return map[string]any{"status": fmt.Sprintf("Function %s is already running.", fc.Name)}, nil
	}
	jsonArgs, err := json.Marshal(args)
	if err != nil {
		return nil, &agent.ToolError{Tool: fc.Name, CallID: fc.ID, Err: err}
	}
	toolCtx, cancel := context.WithCancel(ctx)
	reader, err := t.(tool.StreamableTool).StreamableCall(toolCtx, jsonArgs)
	if err != nil {
		cancel()
		return nil, &agent.ToolError{Tool: fc.Name, CallID: fc.ID, Err: err}
	}
	done := make(chan struct{})
	active := &agent.ActiveStreamingTool{Cancel: cancel, Done: done}
	x.inv.AddActiveStreamingTool(fc.Name, active)

	go func() {
		defer close(done)
		defer reader.Close()
		defer func() {
			if cur, ok := x.inv.ActiveStreamingTool(fc.Name); ok && cur == active {
				x.inv.RemoveActiveStreamingTool(fc.Name)
			}
		}()
		for {
			chunk, err := reader.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				log.Warnf("streaming tool %s: %v", fc.Name, err)
				return
			}
			if x.inv.LiveRequestQueue == nil {
				continue
			}
			text := fmt.Sprintf("Function %s returned: %s", fc.Name, chunkText(chunk.Content))
			if !x.inv.LiveRequestQueue.SendContent(toolCtx, genai.NewContentFromText(text, genai.RoleUser)) {
				return
			}
		}
	}()
	return map[string]any{"status": pendingStatus}, nil
}

// stopStreaming cancels the named streaming tool and waits up to
// StreamingToolGrace for it to return.
func (x *executor) stopStreaming(args map[string]any) map[string]any {
	name, _ := args[fieldFunctionName].(string)
	active, ok := x.inv.RemoveActiveStreamingTool(name)
	if !ok {
		return map[string]any{"status": fmt.Sprintf("No active streaming function named %s found", name)}
	}
	active.Cancel()
	select {
	case <-active.Done:
	case <-time.After(StreamingToolGrace):
		log.Warnf("streaming tool %s did not stop within %s", name, StreamingToolGrace)
	}
	return map[string]any{"status": fmt.Sprintf("Successfully stopped streaming function %s", name)}
}

func chunkText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// TaskCompletedToolName is the live-only function an LLM agent calls under
// a sequential parent to hand over to the next sub-agent.
const TaskCompletedToolName = "task_completed"

// TaskCompletedTool signals the end of a live sub-agent turn.
type TaskCompletedTool struct{}

// Declaration implements tool.Tool.
func (TaskCompletedTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        TaskCompletedToolName,
		Description: "Signals that the model has successfully completed the user's question or task.",
	}
}

// Call implements tool.CallableTool.
func (TaskCompletedTool) Call(context.Context, []byte) (any, error) {
	return "Task completion signaled.", nil
}
