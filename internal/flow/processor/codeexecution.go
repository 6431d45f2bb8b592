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
	"slices"

	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/agent"
	"trpc.group/trpc-go/trpc-agent-runtime/codeexecutor"
	"trpc.group/trpc-go/trpc-agent-runtime/event"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
	"trpc.group/trpc-go/trpc-agent-runtime/model"
)

const (
	mimeTypeCSV            = "text/csv"
	tempKeyExecutionErrors = "code_executor_error_count"
)

// CodeExecutionRequestProcessor prepares requests of agents that run code:
// provider-side executors configure the model, local executors get inline
// CSV attachments replaced by file references that are loaded up front.
type CodeExecutionRequestProcessor struct {
	Executor codeexecutor.CodeExecutor
}

// NewCodeExecutionRequestProcessor creates a new code execution request processor.
func NewCodeExecutionRequestProcessor(e codeexecutor.CodeExecutor) *CodeExecutionRequestProcessor {
	return &CodeExecutionRequestProcessor{Executor: e}
}

// ProcessRequest implements flow.RequestProcessor.
func (p *CodeExecutionRequestProcessor) ProcessRequest(ctx context.Context, inv *agent.Invocation,
	req *model.Request, ch chan<- *event.Event) error {
	if p.Executor == nil {
		return nil
	}
	if ps, ok := p.Executor.(codeexecutor.ProviderSide); ok {
		if req.Config == nil {
			req.Config = &genai.GenerateContentConfig{}
		}
		ps.ConfigureRequest(req.Config)
		return nil
	}
	opt, ok := p.Executor.(codeexecutor.DataFileOptimizer)
	if !ok || !opt.OptimizeDataFile() {
		return nil
	}

	var (
		inputFiles []codeexecutor.File
		processed  []string
	)
	if inv.Session != nil {
		if v, ok := inv.Session.GetState(codeexecutor.StateKeyInputFiles); ok {
			inputFiles = codeexecutor.DecodeFiles(v)
		}
		if v, ok := inv.Session.GetState(codeexecutor.StateKeyProcessedFiles); ok {
			processed = decodeStrings(v)
		}
	}
	added := extractDataFiles(req.Contents, &processed)
	if len(added) == 0 {
		return nil
	}
	inputFiles = append(inputFiles, added...)
	delta := map[string]any{
		codeexecutor.StateKeyInputFiles:     inputFiles,
		codeexecutor.StateKeyProcessedFiles: processed,
	}
	for i, f := range added {
		code := fmt.Sprintf("import pandas as pd\n\ndf = pd.read_csv('%s')\nprint(df.head())\n", f.Name)
		opts := []event.Option{event.WithBranch(inv.Branch)}
		if i == 0 {
			opts = append(opts, event.WithStateDelta(delta))
		}
		codeEvent := event.New(inv.InvocationID, inv.AgentName, append(opts, event.WithContent(&genai.Content{
			Role:  genai.RoleModel,
			Parts: []*genai.Part{genai.NewPartFromExecutableCode(code, genai.LanguagePython)},
		}))...)
		if err := agent.EmitEvent(ctx, inv, ch, codeEvent); err != nil {
			return err
		}
		block := codeexecutor.CodeBlock{Code: code, Language: "python"}
		resultEvent, err := executeBlock(ctx, inv, p.Executor, block, inputFiles)
		if err != nil {
			return err
		}
		if err := agent.EmitEvent(ctx, inv, ch, resultEvent); err != nil {
			return err
		}
	}
	return nil
}

// extractDataFiles replaces inline CSV parts of user contents with a
// reference to a named data file and returns the new files.
func extractDataFiles(contents []*genai.Content, processed *[]string) []codeexecutor.File {
	var files []codeexecutor.File
	for _, c := range contents {
		if c.Role != genai.RoleUser {
			continue
		}
		for i, part := range c.Parts {
			if part == nil || part.InlineData == nil || part.InlineData.MIMEType != mimeTypeCSV {
				continue
			}
			name := part.InlineData.DisplayName
			if name == "" {
				name = fmt.Sprintf("data_%d.csv", len(*processed)+1)
			}
			c.Parts[i] = genai.NewPartFromText(fmt.Sprintf("\nAvailable file: `%s`\n", name))
			if slices.Contains(*processed, name) {
				continue
			}
			*processed = append(*processed, name)
			files = append(files, codeexecutor.File{
				Name:     name,
				Content:  part.InlineData.Data,
				MIMEType: mimeTypeCSV,
			})
		}
	}
	return files
}

func decodeStrings(v any) []string {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...)
	case []any:
		out := make([]string, 0, len(s))
		for _, x := range s {
			if str, ok := x.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// CodeExecutionResponseProcessor runs the first code block of a model
// response and reports the result as a new event.
type CodeExecutionResponseProcessor struct {
	Executor codeexecutor.CodeExecutor
}

// NewCodeExecutionResponseProcessor creates a new code execution response processor.
func NewCodeExecutionResponseProcessor(e codeexecutor.CodeExecutor) *CodeExecutionResponseProcessor {
	return &CodeExecutionResponseProcessor{Executor: e}
}

// ProcessResponse implements flow.ResponseProcessor. When code runs, the
// response is emitted here truncated after the code and its content is
// cleared so the flow does not emit it again.
func (p *CodeExecutionResponseProcessor) ProcessResponse(ctx context.Context, inv *agent.Invocation,
	_ *model.Request, rsp *model.Response, ch chan<- *event.Event) error {
	if p.Executor == nil || rsp == nil || rsp.Partial || rsp.Content == nil {
		return nil
	}
	if _, ok := p.Executor.(codeexecutor.ProviderSide); ok {
		return nil
	}
	if failures(inv) >= codeexecutor.ErrorRetryAttempts(p.Executor) {
		log.Debugf("Code execution: retry budget of agent %s exhausted", inv.AgentName)
		return nil
	}
	block := codeexecutor.ExtractAndTruncate(rsp.Content, p.Executor.CodeBlockDelimiter())
	if block == nil {
		return nil
	}

	codeEvent := event.NewResponseEvent(inv.InvocationID, inv.AgentName, rsp.Clone(), event.WithBranch(inv.Branch))
	if err := agent.EmitEvent(ctx, inv, ch, codeEvent); err != nil {
		return err
	}
	rsp.Content = nil

	var inputFiles []codeexecutor.File
	if inv.Session != nil {
		if v, ok := inv.Session.GetState(codeexecutor.StateKeyInputFiles); ok {
			inputFiles = codeexecutor.DecodeFiles(v)
		}
	}
	resultEvent, err := executeBlock(ctx, inv, p.Executor, *block, inputFiles)
	if err != nil {
		return err
	}
	return agent.EmitEvent(ctx, inv, ch, resultEvent)
}

// executeBlock runs one block and builds the result event. Execution
// failures are reported to the model and counted against the retry budget.
func executeBlock(ctx context.Context, inv *agent.Invocation, exec codeexecutor.CodeExecutor,
	block codeexecutor.CodeBlock, inputFiles []codeexecutor.File) (*event.Event, error) {
	executionID := inv.InvocationID
	if inv.Session != nil {
		executionID = inv.Session.ID
	}
	result, err := exec.ExecuteCode(ctx, codeexecutor.CodeExecutionInput{
		CodeBlocks:  []codeexecutor.CodeBlock{block},
		InputFiles:  inputFiles,
		ExecutionID: executionID,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result = codeexecutor.CodeExecutionResult{Stderr: err.Error()}
	}
	if result.Stderr != "" {
		inv.SetTemp(tempKeyExecutionErrors, failures(inv)+1)
	} else {
		inv.SetTemp(tempKeyExecutionErrors, 0)
	}

	actions := &event.Actions{}
	cc := agent.NewCallbackContext(ctx, inv, actions)
	for _, f := range result.OutputFiles {
		part := &genai.Part{InlineData: &genai.Blob{Data: f.Content, MIMEType: f.MIMEType}}
		if _, err := cc.SaveArtifact(f.Name, part); err != nil {
			log.Warnf("Code execution: saving output file %s: %v", f.Name, err)
		}
	}
	return event.New(inv.InvocationID, inv.AgentName, event.WithBranch(inv.Branch), event.WithActions(actions),
		event.WithContent(&genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{result.Part()}})), nil
}

func failures(inv *agent.Invocation) int {
	if v, ok := inv.Temp(tempKeyExecutionErrors); ok {
		if n, ok := v.(int); ok {
			return n
		}
	}
	return 0
}
